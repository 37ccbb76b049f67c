package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/quorumpay/mandate/pkg/audit"
	"github.com/quorumpay/mandate/pkg/mandate"
	"github.com/quorumpay/mandate/pkg/settlement"
)

const instrumentationName = "github.com/quorumpay/mandate/pkg/ledger"

// Audit trail action names.
const (
	actionInitiated = "transaction_initiated"
	actionCompleted = "payment_completed"
	actionFailed    = "payment_failed"
	actionRefunded  = "payment_refunded"
)

// Ledger coordinates a spend end-to-end. It is safe for concurrent use; the
// per-mandate capacity invariant is enforced by the store's Reserve (and the
// optional Reserver), not by in-process state.
type Ledger struct {
	mandates *mandate.Service
	store    TransactionStore
	executor *settlement.Executor
	keyring  *audit.Keyring
	auditLog audit.Logger
	reserver Reserver // optional cross-instance coordinator
	log      *slog.Logger
	clock    func() time.Time

	tracer        trace.Tracer
	payments      metric.Int64Counter
	paymentTimeMs metric.Float64Histogram
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithReserver installs a cross-instance capacity coordinator.
func WithReserver(r Reserver) Option {
	return func(l *Ledger) { l.reserver = r }
}

// WithAuditLogger mirrors audit entries to an operational sink.
func WithAuditLogger(al audit.Logger) Option {
	return func(l *Ledger) { l.auditLog = al }
}

// WithClock overrides the clock for testing.
func WithClock(clock func() time.Time) Option {
	return func(l *Ledger) { l.clock = clock }
}

// New creates a Ledger.
func New(mandates *mandate.Service, store TransactionStore, executor *settlement.Executor, keyring *audit.Keyring, log *slog.Logger, opts ...Option) *Ledger {
	if log == nil {
		log = slog.Default()
	}
	l := &Ledger{
		mandates: mandates,
		store:    store,
		executor: executor,
		keyring:  keyring,
		log:      log,
		clock:    time.Now,
		tracer:   otel.Tracer(instrumentationName),
	}
	meter := otel.Meter(instrumentationName)
	l.payments, _ = meter.Int64Counter("payments.processed",
		metric.WithDescription("Payment attempts by outcome"))
	l.paymentTimeMs, _ = meter.Float64Histogram("payments.duration_ms",
		metric.WithDescription("End-to-end ProcessPayment duration"))
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ProcessPayment runs one spend: authorization check, atomic capacity
// reservation, settlement, and recording. Unauthorized spends return a
// reason and create no transaction; settlement failures return a fully
// formed failed transaction.
func (l *Ledger) ProcessPayment(ctx context.Context, req ProcessRequest) (ProcessResult, error) {
	start := l.clock()
	ctx, span := l.tracer.Start(ctx, "ledger.ProcessPayment",
		trace.WithAttributes(
			attribute.String("mandate.id", req.MandateID),
			attribute.String("payment.scope", req.Scope),
			attribute.Int64("payment.amount_minor", req.AmountMinor),
		))
	defer span.End()

	res, err := l.processPayment(ctx, req)

	outcome := "error"
	switch {
	case err == nil && res.Success:
		outcome = "completed"
	case err == nil && res.Transaction != nil:
		outcome = "failed"
	case err == nil:
		outcome = "unauthorized"
	}
	span.SetAttributes(attribute.String("payment.outcome", outcome))
	l.payments.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	l.paymentTimeMs.Record(ctx, float64(l.clock().Sub(start).Milliseconds()),
		metric.WithAttributes(attribute.String("outcome", outcome)))
	return res, err
}

func (l *Ledger) processPayment(ctx context.Context, req ProcessRequest) (ProcessResult, error) {
	if req.AmountMinor < 0 {
		return ProcessResult{}, &mandate.ValidationError{Field: "amount", Msg: "must be >= 0"}
	}
	if req.MandateID == "" {
		return ProcessResult{}, &mandate.ValidationError{Field: "mandate_id", Msg: "required"}
	}
	if req.AgentID == "" {
		return ProcessResult{}, &mandate.ValidationError{Field: "agent_id", Msg: "required"}
	}

	decision, err := l.mandates.CheckAuthorization(ctx, req.MandateID, req.AmountMinor, req.Scope)
	if err != nil {
		return ProcessResult{}, err
	}
	if !decision.Authorized {
		return ProcessResult{Success: false, Reason: decision.Reason}, nil
	}
	m := decision.Mandate

	if req.AgentID != m.AgentID {
		return ProcessResult{}, &mandate.ValidationError{Field: "agent_id", Msg: "does not match mandate"}
	}
	if req.PrincipalID != "" && req.PrincipalID != m.PrincipalID {
		return ProcessResult{}, &mandate.ValidationError{Field: "principal_id", Msg: "does not match mandate"}
	}

	method, ok := m.PrimaryMethod()
	if !ok {
		return ProcessResult{}, fmt.Errorf("mandate %s has no payment methods", m.ID)
	}

	now := l.clock().UTC()
	txn := &Transaction{
		ID:          uuid.New().String(),
		MandateID:   m.ID,
		AgentID:     m.AgentID,
		PrincipalID: m.PrincipalID,
		AmountMinor: req.AmountMinor,
		Currency:    currencyOr(req.Currency, m.Authorization.Currency),
		Description: req.Description,
		Metadata:    req.Metadata,
		Method:      method,
		Consent:     req.Consent,
		Status:      TxnPending,
		Verification: VerificationSnapshot{
			MandateVerified:   true,
			SignatureVerified: true,
			AmountWithinLimit: true,
			ScopeAuthorized:   true,
		},
		CreatedAt:    now,
		AuthorizedAt: &now,
		UpdatedAt:    now,
	}

	trail, err := audit.NewTrail(txn.ID, l.keyring)
	if err != nil {
		return ProcessResult{}, err
	}
	trail.WithClock(l.clock)
	detail := fmt.Sprintf("spend %d %s in scope %s", req.AmountMinor, txn.Currency, req.Scope)
	if req.Consent != nil {
		detail += fmt.Sprintf(", consent %s", req.Consent.ID)
	}
	if _, err := trail.Append(actionInitiated, audit.ActorAgent, req.AgentID, detail); err != nil {
		return ProcessResult{}, err
	}
	txn.Audit = trail.Entries()

	limit := m.Authorization.TransactionLimit

	// Capacity reservation. First the cross-instance coordinator if one is
	// configured, then the store's conditional insert — both atomic, either
	// can veto.
	if l.reserver != nil && limit != nil {
		ttl := m.Authorization.ValidUntil.Sub(now)
		ok, err := l.reserver.Reserve(ctx, m.ID, *limit, ttl)
		if err != nil {
			return ProcessResult{}, fmt.Errorf("reserve capacity: %w", err)
		}
		if !ok {
			return ProcessResult{Success: false, Reason: mandate.ReasonTransactionLimit}, nil
		}
	}
	reserved, err := l.store.Reserve(ctx, txn, limit)
	if err != nil {
		l.releaseSlot(ctx, m.ID, limit)
		return ProcessResult{}, fmt.Errorf("reserve transaction: %w", err)
	}
	if !reserved {
		l.releaseSlot(ctx, m.ID, limit)
		return ProcessResult{Success: false, Reason: mandate.ReasonTransactionLimit}, nil
	}

	// Revocation cut-off: a revoke that landed between the authorization
	// check and the reservation still wins. Past this point the spend runs
	// to completion.
	cur, err := l.mandates.Get(ctx, m.ID)
	if err == nil && cur.Status != mandate.StatusActive {
		_ = l.store.Unreserve(ctx, txn.ID)
		l.releaseSlot(ctx, m.ID, limit)
		return ProcessResult{Success: false, Reason: mandate.StatusReason(cur.Status)}, nil
	}

	res, err := l.executor.Execute(ctx, txn.ID, txn.AmountMinor, txn.Currency, method)
	if err != nil {
		// Unknown method type: record the attempt as failed and surface
		// the error to the caller.
		l.markFailed(ctx, txn, trail, err.Error())
		l.releaseSlot(ctx, m.ID, limit)
		return ProcessResult{Success: false, Transaction: txn}, err
	}

	if !res.Success {
		l.markFailed(ctx, txn, trail, res.Err)
		l.releaseSlot(ctx, m.ID, limit)
		return ProcessResult{Success: false, Transaction: txn}, nil
	}

	completedAt := l.clock().UTC()
	txn.Status = TxnCompleted
	txn.CompletedAt = &completedAt
	txn.UpdatedAt = completedAt
	txn.SettlementRef = res.Reference
	l.appendEntry(txn, trail, actionCompleted, audit.ActorPaymentProvider, string(method.Type),
		fmt.Sprintf("settled, reference %s", res.Reference))

	ok, err = l.store.Update(ctx, txn, TxnPending)
	if err != nil || !ok {
		// Money moved but the record did not: this is the one case local
		// recovery cannot fix. The reconciler repairs it from the rail's
		// authoritative status; alert operators.
		l.log.Error("RECONCILIATION REQUIRED: settled transaction not persisted",
			"transaction_id", txn.ID,
			"mandate_id", m.ID,
			"settlement_ref", res.Reference,
			"error", err)
		if err == nil {
			err = fmt.Errorf("transaction %s: concurrent status change after settlement", txn.ID)
		}
		return ProcessResult{Success: true, Transaction: txn}, err
	}

	l.log.Info("payment completed",
		"transaction_id", txn.ID,
		"mandate_id", m.ID,
		"amount_minor", txn.AmountMinor,
		"currency", txn.Currency,
		"settlement_ref", res.Reference)
	return ProcessResult{Success: true, Transaction: txn}, nil
}

// markFailed finalizes a pending transaction as failed. Failed transactions
// do not count against the mandate's limit, so store capacity frees itself.
func (l *Ledger) markFailed(ctx context.Context, txn *Transaction, trail *audit.Trail, detail string) {
	now := l.clock().UTC()
	txn.Status = TxnFailed
	txn.FailureDetail = detail
	txn.UpdatedAt = now
	l.appendEntry(txn, trail, actionFailed, audit.ActorSystem, "ledger", detail)

	ok, err := l.store.Update(ctx, txn, TxnPending)
	if err != nil || !ok {
		if err == nil {
			err = fmt.Errorf("transaction %s: concurrent status change", txn.ID)
		}
		l.log.Error("failed transaction not persisted", "transaction_id", txn.ID, "error", err)
	}
}

func (l *Ledger) appendEntry(txn *Transaction, trail *audit.Trail, action string, role audit.ActorRole, actorID, detail string) {
	e, err := trail.Append(action, role, actorID, detail)
	if err != nil {
		l.log.Error("audit append failed", "transaction_id", txn.ID, "action", action, "error", err)
		return
	}
	txn.Audit = trail.Entries()
	if l.auditLog != nil {
		_ = l.auditLog.Record(txn.ID, e)
	}
}

func (l *Ledger) releaseSlot(ctx context.Context, mandateID string, limit *int) {
	if l.reserver == nil || limit == nil {
		return
	}
	if err := l.reserver.Release(ctx, mandateID); err != nil {
		l.log.Error("capacity release failed", "mandate_id", mandateID, "error", err)
	}
}

// Refund transitions a completed transaction to refunded. Any other starting
// status is ErrInvalidState and leaves the record unchanged.
func (l *Ledger) Refund(ctx context.Context, transactionID, reason string) (*Transaction, error) {
	ctx, span := l.tracer.Start(ctx, "ledger.Refund",
		trace.WithAttributes(attribute.String("transaction.id", transactionID)))
	defer span.End()

	txn, err := l.store.Get(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if txn.Status != TxnCompleted {
		return nil, invalidState(txn.ID, txn.Status, TxnRefunded)
	}

	trail, err := audit.NewTrail(txn.ID, l.keyring)
	if err != nil {
		return nil, err
	}
	trail.WithClock(l.clock)

	now := l.clock().UTC()
	txn.Status = TxnRefunded
	txn.RefundedAt = &now
	txn.UpdatedAt = now
	e, err := trail.Append(actionRefunded, audit.ActorUser, txn.PrincipalID, reason)
	if err != nil {
		return nil, err
	}
	txn.Audit = append(txn.Audit, e)
	if l.auditLog != nil {
		_ = l.auditLog.Record(txn.ID, e)
	}

	ok, err := l.store.Update(ctx, txn, TxnCompleted)
	if err != nil {
		return nil, err
	}
	if !ok {
		cur, gerr := l.store.Get(ctx, transactionID)
		if gerr != nil {
			return nil, gerr
		}
		return nil, invalidState(cur.ID, cur.Status, TxnRefunded)
	}

	// A refunded transaction no longer counts toward the mandate's limit.
	if m, err := l.mandates.Get(ctx, txn.MandateID); err == nil {
		l.releaseSlot(ctx, txn.MandateID, m.Authorization.TransactionLimit)
	}

	l.log.Info("payment refunded", "transaction_id", txn.ID, "reason", reason)
	return txn, nil
}

// History returns the principal's transactions, newest first.
func (l *Ledger) History(ctx context.Context, principalID string, limit int) ([]*Transaction, error) {
	return l.store.ListByPrincipal(ctx, principalID, limit)
}

// GetTransaction loads one transaction.
func (l *Ledger) GetTransaction(ctx context.Context, id string) (*Transaction, error) {
	return l.store.Get(ctx, id)
}

// Stats aggregates the reporting view for one principal.
func (l *Ledger) Stats(ctx context.Context, principalID string) (Stats, error) {
	count, total, last, err := l.store.StatsByPrincipal(ctx, principalID)
	if err != nil {
		return Stats{}, err
	}
	active, err := l.mandates.ListActive(ctx, principalID)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		TransactionCount: count,
		TotalAmountMinor: total,
		ActiveMandates:   len(active),
		LastTransaction:  last,
	}, nil
}

// VerifyAuditTrail checks a stored transaction's audit entries against the
// service keyring. Returns the index of the first bad entry or -1.
func (l *Ledger) VerifyAuditTrail(ctx context.Context, transactionID string) (int, error) {
	if l.keyring == nil {
		return -1, nil
	}
	txn, err := l.store.Get(ctx, transactionID)
	if err != nil {
		return 0, err
	}
	return audit.VerifyEntries(l.keyring, txn.ID, txn.Audit)
}

func currencyOr(requested, fallback string) string {
	if requested != "" {
		return requested
	}
	return fallback
}

// IsNotFound reports whether err is a missing mandate or transaction.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrTxnNotFound) || errors.Is(err, mandate.ErrNotFound)
}
