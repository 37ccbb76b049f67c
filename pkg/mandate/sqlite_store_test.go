package mandate_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumpay/mandate/pkg/mandate"
)

func openSQLiteStore(t *testing.T) *mandate.SQLiteStore {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	store, err := mandate.NewSQLiteStore(db)
	require.NoError(t, err)
	return store
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	store := openSQLiteStore(t)
	svc := mandate.NewService(store, nil, nil)
	ctx := context.Background()

	m, err := svc.Create(ctx, validParams())
	require.NoError(t, err)

	got, err := store.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, m.ID, got.ID)
	assert.Equal(t, m.Proof.Signature, got.Proof.Signature)
	assert.Equal(t, mandate.StatusActive, got.Status)

	// The loaded record still verifies: persistence must not disturb the
	// signed content.
	assert.True(t, svc.VerifySignature(got))

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, mandate.ErrNotFound)
}

func TestSQLiteStore_CompareAndSetStatus(t *testing.T) {
	store := openSQLiteStore(t)
	svc := mandate.NewService(store, nil, nil)
	ctx := context.Background()

	m, err := svc.Create(ctx, validParams())
	require.NoError(t, err)

	at := time.Now().UTC()
	ok, err := store.CompareAndSetStatus(ctx, m.ID, mandate.StatusActive, mandate.StatusRevoked, at, "user_revoked")
	require.NoError(t, err)
	assert.True(t, ok)

	// Second transition from active fails: CAS saw revoked.
	ok, err = store.CompareAndSetStatus(ctx, m.ID, mandate.StatusActive, mandate.StatusExpired, at, "")
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := store.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, mandate.StatusRevoked, got.Status)
	assert.Equal(t, "user_revoked", got.RevokeReason)
	require.NotNil(t, got.RevokedAt)

	_, err = store.CompareAndSetStatus(ctx, "ghost", mandate.StatusActive, mandate.StatusRevoked, at, "")
	assert.ErrorIs(t, err, mandate.ErrNotFound)
}

func TestSQLiteStore_ListActiveByPrincipal(t *testing.T) {
	store := openSQLiteStore(t)
	svc := mandate.NewService(store, nil, nil)
	ctx := context.Background()

	m1, err := svc.Create(ctx, validParams())
	require.NoError(t, err)
	_, err = svc.Create(ctx, validParams())
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(ctx, m1.ID, ""))

	active, err := store.ListActiveByPrincipal(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.NotEqual(t, m1.ID, active[0].ID)
}
