package ledger

import (
	"context"
	"time"
)

// TransactionStore handles persistence of transactions. Reserve is the
// linearization point for a mandate's transaction-count limit: check and
// insert must be indivisible so two concurrent spends cannot both pass.
type TransactionStore interface {
	// Reserve inserts txn (status pending) iff the number of pending and
	// completed transactions against txn.MandateID is below limit. A nil
	// limit reserves unconditionally. Returns false when capacity is
	// exhausted.
	Reserve(ctx context.Context, txn *Transaction, limit *int) (bool, error)

	// Get returns the transaction or ErrTxnNotFound.
	Get(ctx context.Context, id string) (*Transaction, error)

	// Update rewrites txn's mutable fields iff the stored status equals
	// expect. Returns false on status mismatch.
	Update(ctx context.Context, txn *Transaction, expect TxnStatus) (bool, error)

	// Unreserve removes a reservation whose spend was aborted before
	// settlement started. It must only be called on pending transactions
	// that never reached the executor.
	Unreserve(ctx context.Context, id string) error

	// CountedAgainstLimit counts pending plus completed transactions for a
	// mandate. Satisfies mandate.TransactionCounter.
	CountedAgainstLimit(ctx context.Context, mandateID string) (int, error)

	// ListByPrincipal returns a principal's transactions newest-first,
	// at most limit.
	ListByPrincipal(ctx context.Context, principalID string, limit int) ([]*Transaction, error)

	// StatsByPrincipal aggregates count, total completed amount and the
	// last transaction time for a principal.
	StatsByPrincipal(ctx context.Context, principalID string) (count int, totalMinor int64, last *time.Time, err error)

	// ListStalePending returns transactions stuck in pending since before
	// cutoff, oldest first, for the reconciliation sweep.
	ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]*Transaction, error)
}
