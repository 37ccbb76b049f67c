package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/quorumpay/mandate/pkg/audit"
	"github.com/quorumpay/mandate/pkg/settlement"
)

// Reconciler resolves transactions left pending by a crash or timeout. It
// re-queries the settlement rail's authoritative status and repairs the
// record so pending never persists indefinitely.
type Reconciler struct {
	store    TransactionStore
	executor *settlement.Executor
	keyring  *audit.Keyring
	log      *slog.Logger
	clock    func() time.Time

	staleAfter time.Duration
	batchSize  int
	limiter    *rate.Limiter // paces rail lookups
}

// NewReconciler creates a reconciler. staleAfter is how long a transaction
// may sit pending before it is swept; lookupsPerSecond paces rail queries.
func NewReconciler(store TransactionStore, executor *settlement.Executor, keyring *audit.Keyring, log *slog.Logger, staleAfter time.Duration, lookupsPerSecond float64) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	if staleAfter <= 0 {
		staleAfter = 5 * time.Minute
	}
	if lookupsPerSecond <= 0 {
		lookupsPerSecond = 10
	}
	return &Reconciler{
		store:      store,
		executor:   executor,
		keyring:    keyring,
		log:        log,
		clock:      time.Now,
		staleAfter: staleAfter,
		batchSize:  100,
		limiter:    rate.NewLimiter(rate.Limit(lookupsPerSecond), 1),
	}
}

// WithClock overrides the clock for testing.
func (r *Reconciler) WithClock(clock func() time.Time) *Reconciler {
	r.clock = clock
	return r
}

// Run sweeps on an interval until ctx is canceled.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := r.Sweep(ctx); err != nil {
				r.log.Error("reconciliation sweep failed", "error", err)
			} else if n > 0 {
				r.log.Info("reconciliation sweep repaired transactions", "count", n)
			}
		}
	}
}

// Sweep resolves one batch of stale pending transactions. It returns the
// number repaired.
func (r *Reconciler) Sweep(ctx context.Context) (int, error) {
	cutoff := r.clock().UTC().Add(-r.staleAfter)
	stale, err := r.store.ListStalePending(ctx, cutoff, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list stale pending: %w", err)
	}

	repaired := 0
	for _, txn := range stale {
		if err := r.limiter.Wait(ctx); err != nil {
			return repaired, err
		}
		if err := r.resolve(ctx, txn); err != nil {
			// Keep sweeping; an unresolved record surfaces again next pass.
			r.log.Error("RECONCILIATION UNRESOLVED: operator attention required",
				"transaction_id", txn.ID,
				"mandate_id", txn.MandateID,
				"error", err)
			continue
		}
		repaired++
	}
	return repaired, nil
}

func (r *Reconciler) resolve(ctx context.Context, txn *Transaction) error {
	lookup, ok := r.executor.LookupBackend(txn.Method.Type)
	if !ok {
		return fmt.Errorf("rail %s does not support status lookup", txn.Method.Type)
	}

	res, found, err := lookup.Lookup(ctx, txn.ID)
	if err != nil {
		return fmt.Errorf("rail lookup: %w", err)
	}

	trail, err := audit.NewTrail(txn.ID, r.keyring)
	if err != nil {
		return err
	}
	trail.WithClock(r.clock)

	now := r.clock().UTC()
	switch {
	case found && res.Success:
		// Money moved; the record just never caught up.
		txn.Status = TxnCompleted
		txn.CompletedAt = &now
		txn.SettlementRef = res.Reference
		e, err := trail.Append(actionCompleted, audit.ActorSystem, "reconciler",
			fmt.Sprintf("repaired from rail status, reference %s", res.Reference))
		if err != nil {
			return err
		}
		txn.Audit = append(txn.Audit, e)
	case found:
		txn.Status = TxnFailed
		txn.FailureDetail = res.Err
		e, err := trail.Append(actionFailed, audit.ActorSystem, "reconciler",
			fmt.Sprintf("rail reported failure: %s", res.Err))
		if err != nil {
			return err
		}
		txn.Audit = append(txn.Audit, e)
	default:
		// The rail never saw this id: no money moved.
		txn.Status = TxnFailed
		txn.FailureDetail = "abandoned before settlement"
		e, err := trail.Append(actionFailed, audit.ActorSystem, "reconciler",
			"no settlement found on rail; marked failed")
		if err != nil {
			return err
		}
		txn.Audit = append(txn.Audit, e)
	}
	txn.UpdatedAt = now

	ok, err = r.store.Update(ctx, txn, TxnPending)
	if err != nil {
		return err
	}
	if !ok {
		// Someone else resolved it first; that is fine.
		return nil
	}
	r.log.Info("transaction reconciled",
		"transaction_id", txn.ID,
		"status", txn.Status)
	return nil
}
