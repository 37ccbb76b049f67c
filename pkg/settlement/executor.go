// Package settlement dispatches authorized spends to the external payment
// rails. The executor knows nothing about mandates beyond the method type
// tag; each backend is an external collaborator boundary.
package settlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/quorumpay/mandate/pkg/mandate"
)

// ErrUnsupportedMethod is returned when no backend is registered for a
// payment method type.
var ErrUnsupportedMethod = errors.New("unsupported payment method")

// Result is the structured outcome of a settlement attempt. Backend
// rejections land here as Success=false with an error detail; they are not
// surfaced as Go errors, so callers never distinguish "declined" from
// "crashed" by catching anything.
type Result struct {
	Success   bool   `json:"success"`
	Reference string `json:"reference,omitempty"` // settlement network reference
	Err       string `json:"error,omitempty"`
}

// Backend settles one spend on an external rail. The transaction id doubles
// as the idempotency token: a retried Settle for the same id must not move
// money twice.
type Backend interface {
	Settle(ctx context.Context, transactionID string, amountMinor int64, currency string, method mandate.PaymentMethod) (Result, error)
}

// StatusLookup is implemented by backends that can report the authoritative
// outcome of a past settlement attempt. The reconciler uses it to repair
// transactions left pending by a crash.
type StatusLookup interface {
	Lookup(ctx context.Context, transactionID string) (Result, bool, error)
}

// Executor routes settlement calls by method type.
type Executor struct {
	backends map[mandate.MethodType]Backend
}

// NewExecutor creates an executor with no backends registered.
func NewExecutor() *Executor {
	return &Executor{backends: make(map[mandate.MethodType]Backend)}
}

// Register installs a backend for a method type, replacing any previous one.
func (e *Executor) Register(t mandate.MethodType, b Backend) {
	e.backends[t] = b
}

// Execute settles the spend on the backend matching the method's type.
// Backend failures (including transport errors) are folded into the Result;
// the only error returned is ErrUnsupportedMethod.
func (e *Executor) Execute(ctx context.Context, transactionID string, amountMinor int64, currency string, method mandate.PaymentMethod) (Result, error) {
	b, ok := e.backends[method.Type]
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnsupportedMethod, method.Type)
	}
	res, err := b.Settle(ctx, transactionID, amountMinor, currency, method)
	if err != nil {
		return Result{Success: false, Err: err.Error()}, nil
	}
	return res, nil
}

// LookupBackend returns the StatusLookup for a method type, if the registered
// backend supports it.
func (e *Executor) LookupBackend(t mandate.MethodType) (StatusLookup, bool) {
	b, ok := e.backends[t]
	if !ok {
		return nil, false
	}
	l, ok := b.(StatusLookup)
	return l, ok
}
