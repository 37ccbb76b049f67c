package mandate_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumpay/mandate/pkg/mandate"
)

func cardMethod() mandate.PaymentMethod {
	return mandate.PaymentMethod{Type: mandate.MethodCard, Priority: 1, ProviderRef: "card-ref-1", Display: "Visa ···4242"}
}

func newService(t *testing.T) (*mandate.Service, *mandate.MemoryStore) {
	t.Helper()
	store := mandate.NewMemoryStore()
	return mandate.NewService(store, nil, nil), store
}

func validParams() mandate.CreateParams {
	return mandate.CreateParams{
		PrincipalID:    "u1",
		AgentID:        "a1",
		MaxAmountMinor: 50000,
		PaymentMethods: []mandate.PaymentMethod{cardMethod()},
		Consent:        mandate.Consent{ID: "consent-1", CapturedAt: time.Now().UTC()},
	}
}

func TestCreate_Defaults(t *testing.T) {
	svc, _ := newService(t)

	m, err := svc.Create(context.Background(), validParams())
	require.NoError(t, err)

	assert.Equal(t, "USD", m.Authorization.Currency)
	assert.Equal(t, []string{"flight-booking"}, m.Authorization.Scopes)
	assert.Equal(t, mandate.StatusActive, m.Status)
	assert.Equal(t, "1.0.0", m.Version)
	assert.Equal(t, 24*time.Hour, m.Authorization.ValidUntil.Sub(m.Authorization.ValidFrom))
	assert.NotEmpty(t, m.Proof.PublicKey)
	assert.NotEmpty(t, m.Proof.Signature)
	assert.Equal(t, "ed25519", m.Proof.Algorithm)
}

func TestCreate_Validation(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*mandate.CreateParams)
	}{
		{"missing principal", func(p *mandate.CreateParams) { p.PrincipalID = "" }},
		{"missing agent", func(p *mandate.CreateParams) { p.AgentID = "" }},
		{"negative amount", func(p *mandate.CreateParams) { p.MaxAmountMinor = -1 }},
		{"no payment methods", func(p *mandate.CreateParams) { p.PaymentMethods = nil }},
		{"duration too long", func(p *mandate.CreateParams) { p.DurationHours = 169 }},
		{"duration negative", func(p *mandate.CreateParams) { p.DurationHours = -2 }},
		{"bad version", func(p *mandate.CreateParams) { p.Version = "banana" }},
		{"unsupported version", func(p *mandate.CreateParams) { p.Version = "2.0.0" }},
		{"zero transaction limit", func(p *mandate.CreateParams) { lim := 0; p.TransactionLimit = &lim }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := validParams()
			tc.mutate(&p)
			_, err := svc.Create(ctx, p)
			var verr *mandate.ValidationError
			require.ErrorAs(t, err, &verr)
		})
	}
}

func TestVerifySignature_RoundTripAndTamper(t *testing.T) {
	svc, _ := newService(t)

	m, err := svc.Create(context.Background(), validParams())
	require.NoError(t, err)

	assert.True(t, svc.VerifySignature(m), "freshly created mandate must verify")

	tampered := *m
	tampered.Authorization.MaxAmountMinor = 10_000_000
	assert.False(t, svc.VerifySignature(&tampered), "raised limit must break the proof")

	tampered = *m
	tampered.AgentID = "someone-else"
	assert.False(t, svc.VerifySignature(&tampered))

	// Lifecycle fields are outside the signed content.
	mutated := *m
	mutated.Status = mandate.StatusSuspended
	assert.True(t, svc.VerifySignature(&mutated), "status is not covered by the proof")
}

func TestCheckAuthorization_ReasonPrecedence(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	m, err := svc.Create(ctx, validParams())
	require.NoError(t, err)

	t.Run("authorized", func(t *testing.T) {
		d, err := svc.CheckAuthorization(ctx, m.ID, 35000, "flight-booking")
		require.NoError(t, err)
		assert.True(t, d.Authorized)
		require.NotNil(t, d.Mandate)
		assert.Equal(t, m.ID, d.Mandate.ID)
	})

	t.Run("not found", func(t *testing.T) {
		d, err := svc.CheckAuthorization(ctx, "no-such-id", 1, "flight-booking")
		require.NoError(t, err)
		assert.False(t, d.Authorized)
		assert.Equal(t, mandate.ReasonNotFound, d.Reason)
	})

	t.Run("amount exceeded", func(t *testing.T) {
		d, err := svc.CheckAuthorization(ctx, m.ID, 60000, "flight-booking")
		require.NoError(t, err)
		assert.False(t, d.Authorized)
		assert.Equal(t, mandate.ReasonAmountExceeded, d.Reason)
	})

	t.Run("scope not authorized", func(t *testing.T) {
		d, err := svc.CheckAuthorization(ctx, m.ID, 100, "hotel-booking")
		require.NoError(t, err)
		assert.False(t, d.Authorized)
		assert.Equal(t, mandate.ReasonScopeNotAuthorized, d.Reason)
	})

	// Amount is checked before scope: a request failing both reports amount.
	t.Run("amount checked before scope", func(t *testing.T) {
		d, err := svc.CheckAuthorization(ctx, m.ID, 60000, "hotel-booking")
		require.NoError(t, err)
		assert.Equal(t, mandate.ReasonAmountExceeded, d.Reason)
	})

	t.Run("tampered store content fails signature before status", func(t *testing.T) {
		bad := *m
		bad.Authorization.MaxAmountMinor = 999999999
		bad.Status = mandate.StatusSuspended
		require.NoError(t, store.Put(ctx, &bad))

		d, err := svc.CheckAuthorization(ctx, m.ID, 1, "flight-booking")
		require.NoError(t, err)
		assert.Equal(t, mandate.ReasonInvalidSignature, d.Reason)

		require.NoError(t, store.Put(ctx, m))
	})
}

func TestCheckAuthorization_ExpiryTransition(t *testing.T) {
	store := mandate.NewMemoryStore()
	now := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	svc := mandate.NewService(store, nil, nil).WithClock(func() time.Time { return now })

	m, err := svc.Create(context.Background(), validParams())
	require.NoError(t, err)

	// Move past valid_until; the check both denies and persists expiry.
	now = now.Add(25 * time.Hour)
	d, err := svc.CheckAuthorization(context.Background(), m.ID, 100, "flight-booking")
	require.NoError(t, err)
	assert.False(t, d.Authorized)
	assert.Equal(t, mandate.ReasonExpired, d.Reason)

	stored, err := store.Get(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, mandate.StatusExpired, stored.Status)

	// Expired is terminal: revoking afterwards is a no-op success.
	require.NoError(t, svc.Revoke(context.Background(), m.ID, "too late"))
	stored, err = store.Get(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, mandate.StatusExpired, stored.Status)
}

func TestRevoke_IdempotentAndEnforced(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	m, err := svc.Create(ctx, validParams())
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(ctx, m.ID, ""))
	stored, err := store.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, mandate.StatusRevoked, stored.Status)
	assert.Equal(t, "user_revoked", stored.RevokeReason)
	require.NotNil(t, stored.RevokedAt)

	// Double revoke is a no-op, not an error.
	require.NoError(t, svc.Revoke(ctx, m.ID, "again"))
	stored, err = store.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "user_revoked", stored.RevokeReason)

	d, err := svc.CheckAuthorization(ctx, m.ID, 100, "flight-booking")
	require.NoError(t, err)
	assert.False(t, d.Authorized)
	assert.Equal(t, mandate.Reason("status:revoked"), d.Reason)
}

func TestSuspendResume(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	m, err := svc.Create(ctx, validParams())
	require.NoError(t, err)

	require.NoError(t, svc.Suspend(ctx, m.ID))
	d, err := svc.CheckAuthorization(ctx, m.ID, 100, "flight-booking")
	require.NoError(t, err)
	assert.Equal(t, mandate.Reason("status:suspended"), d.Reason)

	require.NoError(t, svc.Resume(ctx, m.ID))
	d, err = svc.CheckAuthorization(ctx, m.ID, 100, "flight-booking")
	require.NoError(t, err)
	assert.True(t, d.Authorized)

	// Suspending a revoked mandate is an error, not a transition.
	require.NoError(t, svc.Revoke(ctx, m.ID, "done"))
	assert.Error(t, svc.Suspend(ctx, m.ID))
}

type fixedCounter int

func (c fixedCounter) CountedAgainstLimit(ctx context.Context, mandateID string) (int, error) {
	return int(c), nil
}

func TestCheckAuthorization_TransactionLimit(t *testing.T) {
	store := mandate.NewMemoryStore()
	ctx := context.Background()

	lim := 2
	p := validParams()
	p.TransactionLimit = &lim

	svc := mandate.NewService(store, fixedCounter(1), nil)
	m, err := svc.Create(ctx, p)
	require.NoError(t, err)

	d, err := svc.CheckAuthorization(ctx, m.ID, 100, "flight-booking")
	require.NoError(t, err)
	assert.True(t, d.Authorized, "one open transaction against a limit of two")

	atLimit := mandate.NewService(store, fixedCounter(2), nil)
	d, err = atLimit.CheckAuthorization(ctx, m.ID, 100, "flight-booking")
	require.NoError(t, err)
	assert.False(t, d.Authorized)
	assert.Equal(t, mandate.ReasonTransactionLimit, d.Reason)
}

func TestListActive(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	m1, err := svc.Create(ctx, validParams())
	require.NoError(t, err)
	m2, err := svc.Create(ctx, validParams())
	require.NoError(t, err)

	other := validParams()
	other.PrincipalID = "u2"
	_, err = svc.Create(ctx, other)
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(ctx, m1.ID, ""))

	active, err := svc.ListActive(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, m2.ID, active[0].ID)
}
