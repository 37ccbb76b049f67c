// Package mandate implements signed spending mandates: bounded grants of
// authority from a principal to an agent, tamper-evident via an embedded
// Ed25519 proof over the mandate's canonical content.
package mandate

import (
	"time"
)

// ProtocolVersion is the mandate protocol version this service produces.
const ProtocolVersion = "1.0.0"

// Status is the lifecycle state of a mandate.
type Status string

const (
	StatusActive    Status = "active"
	StatusRevoked   Status = "revoked"
	StatusExpired   Status = "expired"
	StatusSuspended Status = "suspended"
)

// MethodType tags an abstract payment method with its settlement rail.
type MethodType string

const (
	MethodCard         MethodType = "card"
	MethodBankTransfer MethodType = "bank_transfer"
	MethodWallet       MethodType = "wallet"
	MethodCrypto       MethodType = "crypto"
	MethodOther        MethodType = "other"
)

// PaymentMethod is one abstract payment instrument a mandate allows.
// ProviderRef is an opaque handle into the settlement rail; Display carries
// non-sensitive presentation details only.
type PaymentMethod struct {
	Type        MethodType `json:"type"`
	Priority    int        `json:"priority"` // lower value = tried first
	ProviderRef string     `json:"provider_ref"`
	Display     string     `json:"display,omitempty"`
}

// Authorization is the bounded grant a mandate carries. Amounts are in minor
// units (cents) to avoid floating point errors.
type Authorization struct {
	MaxAmountMinor   int64     `json:"max_amount_minor"`
	Currency         string    `json:"currency"`
	Scopes           []string  `json:"scopes"`
	ValidFrom        time.Time `json:"valid_from"`
	ValidUntil       time.Time `json:"valid_until"`
	TransactionLimit *int      `json:"transaction_limit,omitempty"`
}

// PermitsScope reports whether scope is in the authorized set.
func (a Authorization) PermitsScope(scope string) bool {
	for _, s := range a.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Consent records when and how the principal agreed to the grant.
type Consent struct {
	ID         string    `json:"id"`
	CapturedAt time.Time `json:"captured_at"`
	IPAddress  string    `json:"ip_address,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
}

// Proof is the signature over the mandate's canonical content. The signing
// key is generated per mandate and discarded after use, so the content can
// never be re-signed.
type Proof struct {
	Algorithm string    `json:"algorithm"`
	PublicKey string    `json:"public_key"`
	Signature string    `json:"signature"`
	SignedAt  time.Time `json:"signed_at"`
}

// Mandate is a signed, bounded grant of spending authority. Authorization
// bounds, parties and payment methods are immutable once created; only
// Status and the lifecycle timestamps mutate.
type Mandate struct {
	ID             string          `json:"id"`
	Version        string          `json:"version"`
	PrincipalID    string          `json:"principal_id"`
	AgentID        string          `json:"agent_id"`
	Authorization  Authorization   `json:"authorization"`
	PaymentMethods []PaymentMethod `json:"payment_methods"`
	Proof          Proof           `json:"proof"`
	Consent        Consent         `json:"consent"`
	Status         Status          `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	RevokedAt      *time.Time      `json:"revoked_at,omitempty"`
	RevokeReason   string          `json:"revoke_reason,omitempty"`
}

// signedContent is the exact shape covered by the proof: every content field,
// never the proof or lifecycle fields.
type signedContent struct {
	ID             string          `json:"id"`
	Version        string          `json:"version"`
	PrincipalID    string          `json:"principal_id"`
	AgentID        string          `json:"agent_id"`
	Authorization  Authorization   `json:"authorization"`
	PaymentMethods []PaymentMethod `json:"payment_methods"`
	Consent        Consent         `json:"consent"`
}

// SignedContent assembles the canonicalizable content of m.
func (m *Mandate) SignedContent() interface{} {
	return signedContent{
		ID:             m.ID,
		Version:        m.Version,
		PrincipalID:    m.PrincipalID,
		AgentID:        m.AgentID,
		Authorization:  m.Authorization,
		PaymentMethods: m.PaymentMethods,
		Consent:        m.Consent,
	}
}

// PrimaryMethod returns the highest-priority payment method.
func (m *Mandate) PrimaryMethod() (PaymentMethod, bool) {
	if len(m.PaymentMethods) == 0 {
		return PaymentMethod{}, false
	}
	best := m.PaymentMethods[0]
	for _, pm := range m.PaymentMethods[1:] {
		if pm.Priority < best.Priority {
			best = pm
		}
	}
	return best, true
}

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusRevoked || s == StatusExpired
}
