// Package ledger orchestrates spends end-to-end: authorization, atomic
// capacity reservation, settlement, audit recording and refunds.
package ledger

import (
	"time"

	"github.com/quorumpay/mandate/pkg/audit"
	"github.com/quorumpay/mandate/pkg/mandate"
)

// TxnStatus is the lifecycle state of a transaction.
// Legal transitions: pending→completed, pending→failed, completed→refunded.
type TxnStatus string

const (
	TxnPending   TxnStatus = "pending"
	TxnCompleted TxnStatus = "completed"
	TxnFailed    TxnStatus = "failed"
	TxnRefunded  TxnStatus = "refunded"
)

// VerificationSnapshot freezes what was verified at authorization time. It is
// kept for audit even if the mandate is later revoked.
type VerificationSnapshot struct {
	MandateVerified   bool `json:"mandate_verified"`
	SignatureVerified bool `json:"signature_verified"`
	AmountWithinLimit bool `json:"amount_within_limit"`
	ScopeAuthorized   bool `json:"scope_authorized"`
}

// Transaction is one attempted spend against a mandate. Amount, currency and
// method are frozen at creation; only status and the outcome fields advance.
type Transaction struct {
	ID          string `json:"id"`
	MandateID   string `json:"mandate_id"`
	AgentID     string `json:"agent_id"`
	PrincipalID string `json:"principal_id"`

	AmountMinor int64             `json:"amount_minor"`
	Currency    string            `json:"currency"`
	Description string            `json:"description,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`

	// Method is copied from the mandate at execution time, not a live
	// reference.
	Method mandate.PaymentMethod `json:"method"`

	// Consent is the user consent presented with the spend request, if any.
	Consent *mandate.Consent `json:"consent,omitempty"`

	Status        TxnStatus            `json:"status"`
	Verification  VerificationSnapshot `json:"verification"`
	Audit         []audit.Entry        `json:"audit"`
	SettlementRef string               `json:"settlement_ref,omitempty"`
	FailureDetail string               `json:"failure_detail,omitempty"`

	CreatedAt    time.Time  `json:"created_at"`
	AuthorizedAt *time.Time `json:"authorized_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	RefundedAt   *time.Time `json:"refunded_at,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// CanTransition reports whether the state machine allows status→next.
func (s TxnStatus) CanTransition(next TxnStatus) bool {
	switch s {
	case TxnPending:
		return next == TxnCompleted || next == TxnFailed
	case TxnCompleted:
		return next == TxnRefunded
	default:
		return false
	}
}

// ProcessRequest is one spend request.
type ProcessRequest struct {
	MandateID   string
	AgentID     string
	PrincipalID string
	AmountMinor int64
	Currency    string
	Description string
	Scope       string
	Metadata    map[string]string
	Consent     *mandate.Consent
}

// ProcessResult is the structured outcome of ProcessPayment. A settled-but-
// declined payment is Success=false with a failed Transaction attached; an
// unauthorized spend is Success=false with only a Reason and no Transaction.
type ProcessResult struct {
	Success     bool           `json:"success"`
	Reason      mandate.Reason `json:"reason,omitempty"`
	Transaction *Transaction   `json:"transaction,omitempty"`
}

// Stats is the aggregate reporting view for one principal.
type Stats struct {
	TransactionCount int        `json:"transaction_count"`
	TotalAmountMinor int64      `json:"total_amount_minor"`
	ActiveMandates   int        `json:"active_mandates"`
	LastTransaction  *time.Time `json:"last_transaction,omitempty"`
}
