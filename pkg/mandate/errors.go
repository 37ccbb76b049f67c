package mandate

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by stores when no mandate exists for an id.
var ErrNotFound = errors.New("mandate not found")

// ValidationError rejects a malformed create request before any side effect.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Msg)
}

// Reason is a machine-readable authorization failure code. Callers branch on
// these to decide whether to retry, request a new mandate, or abort.
type Reason string

const (
	ReasonNotFound           Reason = "not_found"
	ReasonInvalidSignature   Reason = "invalid_signature"
	ReasonExpired            Reason = "expired"
	ReasonNotYetValid        Reason = "not_yet_valid"
	ReasonAmountExceeded     Reason = "amount_exceeded"
	ReasonScopeNotAuthorized Reason = "scope_not_authorized"
	ReasonTransactionLimit   Reason = "transaction_limit_reached"
)

// StatusReason encodes a non-active lifecycle status as a failure reason,
// e.g. "status:revoked".
func StatusReason(s Status) Reason {
	return Reason("status:" + string(s))
}
