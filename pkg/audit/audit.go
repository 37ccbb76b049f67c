// Package audit provides the append-only audit trail attached to mandates and
// transactions. Every entry carries an integrity tag so the trail is
// tamper-evident after the fact.
package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"

	"github.com/quorumpay/mandate/pkg/canonical"
)

// ActorRole identifies who performed an audited action.
type ActorRole string

const (
	ActorUser            ActorRole = "user"
	ActorAgent           ActorRole = "agent"
	ActorSystem          ActorRole = "system"
	ActorPaymentProvider ActorRole = "payment_provider"
)

// Entry is one immutable fact in a trail.
type Entry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	ActorRole ActorRole `json:"actor_role"`
	ActorID   string    `json:"actor_id"`
	Detail    string    `json:"detail,omitempty"`
	Integrity string    `json:"integrity,omitempty"`
}

// entryContent is the portion of an Entry covered by the integrity tag.
type entryContent struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	ActorRole ActorRole `json:"actor_role"`
	ActorID   string    `json:"actor_id"`
	Detail    string    `json:"detail,omitempty"`
}

// Keyring derives per-subject integrity keys from a service master secret
// using HKDF-SHA256. Subjects are transaction or mandate ids, so a leaked
// per-subject key cannot forge entries elsewhere.
type Keyring struct {
	master []byte
}

// NewKeyring creates a keyring from the service master secret.
func NewKeyring(master []byte) *Keyring {
	return &Keyring{master: master}
}

// DeriveKey returns the 32-byte integrity key for a subject id.
func (k *Keyring) DeriveKey(subjectID string) ([]byte, error) {
	r := hkdf.New(sha256.New, k.master, nil, []byte("audit-integrity:"+subjectID))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("audit: key derivation failed: %w", err)
	}
	return key, nil
}

// Trail is an ordered, append-only list of entries for one subject.
// Appends are serialized; per-subject ordering is preserved.
type Trail struct {
	mu      sync.Mutex
	subject string
	key     []byte
	entries []Entry
	clock   func() time.Time
}

// NewTrail creates a trail for the given subject id. keyring may be nil, in
// which case entries carry no integrity tag.
func NewTrail(subjectID string, keyring *Keyring) (*Trail, error) {
	t := &Trail{subject: subjectID, clock: time.Now}
	if keyring != nil {
		key, err := keyring.DeriveKey(subjectID)
		if err != nil {
			return nil, err
		}
		t.key = key
	}
	return t, nil
}

// WithClock overrides the clock for testing.
func (t *Trail) WithClock(clock func() time.Time) *Trail {
	t.clock = clock
	return t
}

// Append records a new entry and returns it.
func (t *Trail) Append(action string, role ActorRole, actorID, detail string) (Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := Entry{
		ID:        uuid.New().String(),
		Timestamp: t.clock().UTC(),
		Action:    action,
		ActorRole: role,
		ActorID:   actorID,
		Detail:    detail,
	}
	if t.key != nil {
		tag, err := integrityTag(t.key, e)
		if err != nil {
			return Entry{}, err
		}
		e.Integrity = tag
	}
	t.entries = append(t.entries, e)
	return e, nil
}

// Entries returns a copy of the trail.
func (t *Trail) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Len returns the number of entries.
func (t *Trail) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Verify recomputes every integrity tag. It returns the index of the first
// entry that fails, or -1 if the whole trail checks out.
func (t *Trail) Verify() (int, error) {
	if t.key == nil {
		return -1, nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, e := range t.entries {
		tag, err := integrityTag(t.key, e)
		if err != nil {
			return i, err
		}
		if !hmac.Equal([]byte(tag), []byte(e.Integrity)) {
			return i, nil
		}
	}
	return -1, nil
}

// VerifyEntries checks a stored trail (e.g. loaded from the transaction
// record) against the subject's derived key.
func VerifyEntries(keyring *Keyring, subjectID string, entries []Entry) (int, error) {
	key, err := keyring.DeriveKey(subjectID)
	if err != nil {
		return 0, err
	}
	for i, e := range entries {
		tag, err := integrityTag(key, e)
		if err != nil {
			return i, err
		}
		if !hmac.Equal([]byte(tag), []byte(e.Integrity)) {
			return i, nil
		}
	}
	return -1, nil
}

func integrityTag(key []byte, e Entry) (string, error) {
	content, err := canonical.Bytes(entryContent{
		ID:        e.ID,
		Timestamp: e.Timestamp,
		Action:    e.Action,
		ActorRole: e.ActorRole,
		ActorID:   e.ActorID,
		Detail:    e.Detail,
	})
	if err != nil {
		return "", fmt.Errorf("audit: canonicalize entry: %w", err)
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(content)
	return hex.EncodeToString(mac.Sum(nil)), nil
}
