package mandate

import (
	"context"
	"time"
)

// Store handles persistence of mandates. Implementations must provide
// compare-and-set semantics on the status column so lifecycle transitions
// hold across concurrent service instances.
type Store interface {
	// Get returns the mandate or ErrNotFound.
	Get(ctx context.Context, id string) (*Mandate, error)

	// Put inserts a new mandate record.
	Put(ctx context.Context, m *Mandate) error

	// CompareAndSetStatus transitions id from expect to next atomically.
	// It returns false (and no error) if the stored status was not expect.
	// revokeReason is persisted only when next is StatusRevoked.
	CompareAndSetStatus(ctx context.Context, id string, expect, next Status, at time.Time, revokeReason string) (bool, error)

	// ListActiveByPrincipal returns the principal's active mandates,
	// newest first.
	ListActiveByPrincipal(ctx context.Context, principalID string) ([]*Mandate, error)
}
