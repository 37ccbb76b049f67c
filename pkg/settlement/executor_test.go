package settlement

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumpay/mandate/pkg/mandate"
)

type failingBackend struct{ err error }

func (b failingBackend) Settle(ctx context.Context, txnID string, amount int64, currency string, method mandate.PaymentMethod) (Result, error) {
	if b.err != nil {
		return Result{}, b.err
	}
	return Result{Success: false, Err: "declined"}, nil
}

func TestExecutor_Dispatch(t *testing.T) {
	e := DefaultExecutor(map[string]RailConfig{}, nil)
	ctx := context.Background()

	res, err := e.Execute(ctx, "txn-1", 1000, "USD", mandate.PaymentMethod{Type: mandate.MethodCard, ProviderRef: "r"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.NotEmpty(t, res.Reference)

	res, err = e.Execute(ctx, "txn-2", 500, "USD", mandate.PaymentMethod{Type: mandate.MethodWallet, ProviderRef: "w"})
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestExecutor_UnknownType(t *testing.T) {
	e := NewExecutor()

	_, err := e.Execute(context.Background(), "txn-1", 1000, "USD", mandate.PaymentMethod{Type: "carrier-pigeon"})
	assert.ErrorIs(t, err, ErrUnsupportedMethod)
}

func TestExecutor_BackendErrorIsStructured(t *testing.T) {
	e := NewExecutor()
	e.Register(mandate.MethodCard, failingBackend{err: errors.New("network unreachable")})

	res, err := e.Execute(context.Background(), "txn-1", 1000, "USD", mandate.PaymentMethod{Type: mandate.MethodCard})
	require.NoError(t, err, "transport failures fold into the result")
	assert.False(t, res.Success)
	assert.Equal(t, "network unreachable", res.Err)
}

func TestSimRail_Idempotent(t *testing.T) {
	b := NewCardBackend(RailConfig{}, nil)
	ctx := context.Background()
	method := mandate.PaymentMethod{Type: mandate.MethodCard}

	first, err := b.Settle(ctx, "txn-1", 1000, "USD", method)
	require.NoError(t, err)
	second, err := b.Settle(ctx, "txn-1", 1000, "USD", method)
	require.NoError(t, err)

	assert.Equal(t, first.Reference, second.Reference, "same transaction id must not settle twice")

	// Lookup reports the authoritative outcome.
	res, found, err := b.Lookup(ctx, "txn-1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, first, res)

	_, found, err = b.Lookup(ctx, "never-seen")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSimRail_RejectsNonPositiveAmount(t *testing.T) {
	b := NewBankTransferBackend(RailConfig{}, nil)

	res, err := b.Settle(context.Background(), "txn-1", 0, "USD", mandate.PaymentMethod{Type: mandate.MethodBankTransfer})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Err)
}
