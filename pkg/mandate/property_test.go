//go:build property
// +build property

// Property-based tests for mandate proof and limit semantics.
package mandate_test

import (
	"context"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/quorumpay/mandate/pkg/mandate"
)

// TestSignatureRoundTrip verifies that every created mandate verifies, and
// that raising the amount bound without re-signing never verifies.
func TestSignatureRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	svc := mandate.NewService(mandate.NewMemoryStore(), nil, nil)

	properties.Property("created mandates verify; tampered ones do not", prop.ForAll(
		func(principal, agent string, amount int64, bump int64) bool {
			if principal == "" || agent == "" {
				return true
			}
			if amount < 0 {
				amount = -amount
			}
			if bump <= 0 {
				bump = 1
			}
			m, err := svc.Create(context.Background(), mandate.CreateParams{
				PrincipalID:    principal,
				AgentID:        agent,
				MaxAmountMinor: amount,
				PaymentMethods: []mandate.PaymentMethod{{Type: mandate.MethodCard, Priority: 1, ProviderRef: "r"}},
				Consent:        mandate.Consent{ID: "c", CapturedAt: time.Now().UTC()},
			})
			if err != nil {
				return false
			}
			if !svc.VerifySignature(m) {
				return false
			}
			tampered := *m
			tampered.Authorization.MaxAmountMinor = amount + bump
			return !svc.VerifySignature(&tampered)
		},
		gen.AlphaString(),
		gen.AlphaString(),
		gen.Int64Range(0, 1<<40),
		gen.Int64Range(1, 1<<20),
	))

	properties.TestingRun(t)
}

// TestAmountBound verifies the amount_exceeded reason appears exactly when
// the requested amount is above the mandate's bound.
func TestAmountBound(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	svc := mandate.NewService(mandate.NewMemoryStore(), nil, nil)

	properties.Property("amount_exceeded iff amount > max", prop.ForAll(
		func(max int64, amount int64) bool {
			m, err := svc.Create(context.Background(), mandate.CreateParams{
				PrincipalID:    "u1",
				AgentID:        "a1",
				MaxAmountMinor: max,
				PaymentMethods: []mandate.PaymentMethod{{Type: mandate.MethodCard, Priority: 1, ProviderRef: "r"}},
				Consent:        mandate.Consent{ID: "c", CapturedAt: time.Now().UTC()},
			})
			if err != nil {
				return false
			}
			d, err := svc.CheckAuthorization(context.Background(), m.ID, amount, "flight-booking")
			if err != nil {
				return false
			}
			if amount > max {
				return !d.Authorized && d.Reason == mandate.ReasonAmountExceeded
			}
			return d.Authorized
		},
		gen.Int64Range(0, 1_000_000),
		gen.Int64Range(0, 2_000_000),
	))

	properties.TestingRun(t)
}
