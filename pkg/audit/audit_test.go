package audit

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrail_AppendAndVerify(t *testing.T) {
	kr := NewKeyring([]byte("test-master-secret"))
	trail, err := NewTrail("txn-1", kr)
	require.NoError(t, err)

	_, err = trail.Append("transaction_initiated", ActorAgent, "agent-1", "spend of 350")
	require.NoError(t, err)
	_, err = trail.Append("payment_completed", ActorPaymentProvider, "card", "ref=abc123")
	require.NoError(t, err)

	assert.Equal(t, 2, trail.Len())

	bad, err := trail.Verify()
	require.NoError(t, err)
	assert.Equal(t, -1, bad, "untampered trail must verify")
}

func TestTrail_TamperDetection(t *testing.T) {
	kr := NewKeyring([]byte("test-master-secret"))
	trail, err := NewTrail("txn-2", kr)
	require.NoError(t, err)

	_, err = trail.Append("transaction_initiated", ActorAgent, "agent-1", "")
	require.NoError(t, err)

	entries := trail.Entries()
	entries[0].Detail = "rewritten history"

	bad, err := VerifyEntries(kr, "txn-2", entries)
	require.NoError(t, err)
	assert.Equal(t, 0, bad, "tampered entry must be flagged")
}

func TestTrail_KeyIsolationPerSubject(t *testing.T) {
	kr := NewKeyring([]byte("test-master-secret"))
	trail, err := NewTrail("txn-3", kr)
	require.NoError(t, err)

	_, err = trail.Append("transaction_initiated", ActorAgent, "agent-1", "")
	require.NoError(t, err)

	// Entries signed under txn-3's key must not verify under txn-4's key.
	bad, err := VerifyEntries(kr, "txn-4", trail.Entries())
	require.NoError(t, err)
	assert.Equal(t, 0, bad)
}

func TestTrail_OrderingPreserved(t *testing.T) {
	trail, err := NewTrail("txn-5", nil)
	require.NoError(t, err)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	i := 0
	trail.WithClock(func() time.Time {
		i++
		return base.Add(time.Duration(i) * time.Second)
	})

	actions := []string{"transaction_initiated", "payment_completed", "payment_refunded"}
	for _, a := range actions {
		_, err := trail.Append(a, ActorSystem, "sys", "")
		require.NoError(t, err)
	}

	got := trail.Entries()
	require.Len(t, got, 3)
	for i, a := range actions {
		assert.Equal(t, a, got[i].Action)
	}
	assert.True(t, got[0].Timestamp.Before(got[2].Timestamp))
}

func TestLogger_Record(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerWithWriter(&buf)

	kr := NewKeyring([]byte("k"))
	trail, err := NewTrail("txn-6", kr)
	require.NoError(t, err)
	e, err := trail.Append("payment_failed", ActorSystem, "sys", "card declined")
	require.NoError(t, err)

	require.NoError(t, l.Record("txn-6", e))

	line := buf.String()
	assert.True(t, strings.HasPrefix(line, "AUDIT: "))
	assert.Contains(t, line, `"payment_failed"`)
	assert.Contains(t, line, `"subject":"txn-6"`)
}
