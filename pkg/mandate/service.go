package mandate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"

	"github.com/quorumpay/mandate/pkg/canonical"
	"github.com/quorumpay/mandate/pkg/crypto"
)

const (
	defaultCurrency      = "USD"
	defaultScope         = "flight-booking"
	defaultDurationHours = 24
	maxDurationHours     = 168
)

// supportedVersions gates which mandate protocol versions this service will
// create and verify.
var supportedVersions = mustConstraint("^1.0.0")

func mustConstraint(c string) *semver.Constraints {
	cons, err := semver.NewConstraint(c)
	if err != nil {
		panic(err)
	}
	return cons
}

// TransactionCounter reports how many transactions currently count against a
// mandate's transaction limit (pending plus completed). The ledger's
// transaction store provides this.
type TransactionCounter interface {
	CountedAgainstLimit(ctx context.Context, mandateID string) (int, error)
}

// Decision is the result of an authorization check.
type Decision struct {
	Authorized bool     `json:"authorized"`
	Reason     Reason   `json:"reason,omitempty"`
	Mandate    *Mandate `json:"mandate,omitempty"`
}

func deny(r Reason) Decision { return Decision{Authorized: false, Reason: r} }

// CreateParams is the input for Service.Create. Zero values take the
// documented defaults.
type CreateParams struct {
	PrincipalID      string
	AgentID          string
	MaxAmountMinor   int64
	Currency         string
	Scopes           []string
	DurationHours    int
	TransactionLimit *int
	PaymentMethods   []PaymentMethod
	Consent          Consent
	Version          string
}

// Service creates, verifies and transitions mandates.
type Service struct {
	store   Store
	counter TransactionCounter
	log     *slog.Logger
	clock   func() time.Time
}

// NewService creates a mandate service. counter may be nil when no
// transaction-count enforcement is wanted (e.g. in isolated tests).
func NewService(store Store, counter TransactionCounter, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, counter: counter, log: log, clock: time.Now}
}

// WithClock overrides the clock for testing.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// Create validates the request, signs the canonical content with a fresh
// single-use key pair, and persists the mandate with status active. The
// private key never leaves this function.
func (s *Service) Create(ctx context.Context, p CreateParams) (*Mandate, error) {
	if p.PrincipalID == "" {
		return nil, &ValidationError{Field: "principal_id", Msg: "required"}
	}
	if p.AgentID == "" {
		return nil, &ValidationError{Field: "agent_id", Msg: "required"}
	}
	if p.MaxAmountMinor < 0 {
		return nil, &ValidationError{Field: "max_amount", Msg: "must be >= 0"}
	}
	if len(p.PaymentMethods) == 0 {
		return nil, &ValidationError{Field: "payment_methods", Msg: "at least one required"}
	}
	if p.TransactionLimit != nil && *p.TransactionLimit < 1 {
		return nil, &ValidationError{Field: "transaction_limit", Msg: "must be >= 1 when set"}
	}

	if p.Currency == "" {
		p.Currency = defaultCurrency
	}
	if len(p.Scopes) == 0 {
		p.Scopes = []string{defaultScope}
	}
	if p.DurationHours == 0 {
		p.DurationHours = defaultDurationHours
	}
	if p.DurationHours < 1 || p.DurationHours > maxDurationHours {
		return nil, &ValidationError{Field: "duration_hours", Msg: fmt.Sprintf("must be 1..%d", maxDurationHours)}
	}
	if p.Version == "" {
		p.Version = ProtocolVersion
	}
	v, err := semver.NewVersion(p.Version)
	if err != nil {
		return nil, &ValidationError{Field: "version", Msg: "not a valid semantic version"}
	}
	if !supportedVersions.Check(v) {
		return nil, &ValidationError{Field: "version", Msg: fmt.Sprintf("%s is outside the supported range", p.Version)}
	}

	now := s.clock().UTC()
	validFrom := now
	validUntil := now.Add(time.Duration(p.DurationHours) * time.Hour)
	if !validUntil.After(validFrom) {
		return nil, &ValidationError{Field: "valid_until", Msg: "must be after valid_from"}
	}

	m := &Mandate{
		ID:          uuid.New().String(),
		Version:     p.Version,
		PrincipalID: p.PrincipalID,
		AgentID:     p.AgentID,
		Authorization: Authorization{
			MaxAmountMinor:   p.MaxAmountMinor,
			Currency:         p.Currency,
			Scopes:           p.Scopes,
			ValidFrom:        validFrom,
			ValidUntil:       validUntil,
			TransactionLimit: p.TransactionLimit,
		},
		PaymentMethods: p.PaymentMethods,
		Consent:        p.Consent,
		Status:         StatusActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	content, err := canonical.Bytes(m.SignedContent())
	if err != nil {
		return nil, fmt.Errorf("canonicalize mandate content: %w", err)
	}
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("generate mandate key: %w", err)
	}
	sig, err := crypto.Sign(kp.Private, content)
	if err != nil {
		return nil, fmt.Errorf("sign mandate content: %w", err)
	}
	m.Proof = Proof{
		Algorithm: crypto.AlgorithmEd25519,
		PublicKey: kp.PublicKeyHex(),
		Signature: sig,
		SignedAt:  now,
	}

	if err := s.store.Put(ctx, m); err != nil {
		return nil, fmt.Errorf("persist mandate: %w", err)
	}

	s.log.Info("mandate created",
		"mandate_id", m.ID,
		"principal_id", m.PrincipalID,
		"agent_id", m.AgentID,
		"max_amount_minor", m.Authorization.MaxAmountMinor,
		"valid_until", m.Authorization.ValidUntil)
	return m, nil
}

// VerifySignature recomputes the canonical content bytes and checks the
// embedded proof. Any canonicalization failure counts as an invalid proof.
func (s *Service) VerifySignature(m *Mandate) bool {
	content, err := canonical.Bytes(m.SignedContent())
	if err != nil {
		return false
	}
	return crypto.Verify(m.Proof.PublicKey, m.Proof.Signature, content)
}

// CheckAuthorization decides whether mandateID currently authorizes a spend
// of amountMinor in scope. Checks run in a fixed order and the first failure
// wins, so the returned reason is deterministic.
func (s *Service) CheckAuthorization(ctx context.Context, mandateID string, amountMinor int64, scope string) (Decision, error) {
	m, err := s.store.Get(ctx, mandateID)
	if err != nil {
		if err == ErrNotFound {
			return deny(ReasonNotFound), nil
		}
		return deny(ReasonNotFound), fmt.Errorf("load mandate: %w", err)
	}

	if !s.VerifySignature(m) {
		s.log.Warn("mandate signature invalid", "mandate_id", m.ID)
		return deny(ReasonInvalidSignature), nil
	}

	if m.Status != StatusActive {
		return deny(StatusReason(m.Status)), nil
	}

	now := s.clock().UTC()
	if now.After(m.Authorization.ValidUntil) {
		// Expiry is observed lazily: the first check past valid_until
		// persists the transition.
		if err := s.expire(ctx, m, now); err != nil {
			s.log.Error("mandate expiry transition failed", "mandate_id", m.ID, "error", err)
		}
		return deny(ReasonExpired), nil
	}
	if now.Before(m.Authorization.ValidFrom) {
		return deny(ReasonNotYetValid), nil
	}

	if amountMinor > m.Authorization.MaxAmountMinor {
		return deny(ReasonAmountExceeded), nil
	}

	if !m.Authorization.PermitsScope(scope) {
		return deny(ReasonScopeNotAuthorized), nil
	}

	if m.Authorization.TransactionLimit != nil && s.counter != nil {
		n, err := s.counter.CountedAgainstLimit(ctx, m.ID)
		if err != nil {
			return deny(ReasonTransactionLimit), fmt.Errorf("count transactions: %w", err)
		}
		if n >= *m.Authorization.TransactionLimit {
			return deny(ReasonTransactionLimit), nil
		}
	}

	return Decision{Authorized: true, Mandate: m}, nil
}

// Revoke sets the mandate status to revoked. Revoking an already revoked or
// expired mandate is a no-op.
func (s *Service) Revoke(ctx context.Context, mandateID, reason string) error {
	if reason == "" {
		reason = "user_revoked"
	}
	m, err := s.store.Get(ctx, mandateID)
	if err != nil {
		return err
	}
	if m.Status.Terminal() {
		return nil
	}
	now := s.clock().UTC()
	ok, err := s.store.CompareAndSetStatus(ctx, mandateID, m.Status, StatusRevoked, now, reason)
	if err != nil {
		return fmt.Errorf("revoke mandate: %w", err)
	}
	if !ok {
		// Lost the race; re-read and treat terminal outcomes as success.
		cur, err := s.store.Get(ctx, mandateID)
		if err != nil {
			return err
		}
		if !cur.Status.Terminal() {
			return fmt.Errorf("revoke mandate: concurrent status change")
		}
		return nil
	}
	s.log.Info("mandate revoked", "mandate_id", mandateID, "reason", reason)
	return nil
}

// Suspend pauses an active mandate without ending it.
func (s *Service) Suspend(ctx context.Context, mandateID string) error {
	return s.transition(ctx, mandateID, StatusActive, StatusSuspended)
}

// Resume reactivates a suspended mandate.
func (s *Service) Resume(ctx context.Context, mandateID string) error {
	return s.transition(ctx, mandateID, StatusSuspended, StatusActive)
}

func (s *Service) transition(ctx context.Context, mandateID string, from, to Status) error {
	ok, err := s.store.CompareAndSetStatus(ctx, mandateID, from, to, s.clock().UTC(), "")
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("mandate %s: not in status %s", mandateID, from)
	}
	return nil
}

// Get loads a mandate without running authorization checks.
func (s *Service) Get(ctx context.Context, mandateID string) (*Mandate, error) {
	return s.store.Get(ctx, mandateID)
}

// ListActive returns the principal's active mandates, newest first.
func (s *Service) ListActive(ctx context.Context, principalID string) ([]*Mandate, error) {
	return s.store.ListActiveByPrincipal(ctx, principalID)
}

func (s *Service) expire(ctx context.Context, m *Mandate, at time.Time) error {
	ok, err := s.store.CompareAndSetStatus(ctx, m.ID, StatusActive, StatusExpired, at, "")
	if err != nil {
		return err
	}
	if ok {
		m.Status = StatusExpired
		m.UpdatedAt = at
	}
	return nil
}
