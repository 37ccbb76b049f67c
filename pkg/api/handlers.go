package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/quorumpay/mandate/pkg/ledger"
	"github.com/quorumpay/mandate/pkg/mandate"
	"github.com/quorumpay/mandate/pkg/observability"
	"github.com/quorumpay/mandate/pkg/settlement"
)

// Server exposes the mandate and payment services over HTTP.
type Server struct {
	mandates *mandate.Service
	payments *ledger.Ledger
	log      *slog.Logger
}

// NewServer creates a server around the given services.
func NewServer(mandates *mandate.Service, payments *ledger.Ledger, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{mandates: mandates, payments: payments, log: log}
}

// Options configures the middleware chain built by Handler.
type Options struct {
	Validator   *JWTValidator
	RateLimiter *RateLimiter
	Idempotency *IdempotencyStore
	Telemetry   *observability.Provider
}

// Handler returns the routed handler wrapped in telemetry, rate limiting,
// auth and idempotency middleware. Any nil option disables that layer,
// except auth: a nil validator rejects all non-public requests.
func (s *Server) Handler(opts Options) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /api/mandates", s.handleCreateMandate)
	mux.HandleFunc("GET /api/mandates", s.handleListMandates)
	mux.HandleFunc("GET /api/mandates/{id}", s.handleGetMandate)
	mux.HandleFunc("POST /api/mandates/{id}/revoke", s.handleRevokeMandate)
	mux.HandleFunc("POST /api/mandates/{id}/suspend", s.handleSuspendMandate)
	mux.HandleFunc("POST /api/mandates/{id}/resume", s.handleResumeMandate)
	mux.HandleFunc("POST /api/payments", s.handleProcessPayment)
	mux.HandleFunc("GET /api/transactions", s.handleListTransactions)
	mux.HandleFunc("GET /api/transactions/{id}", s.handleGetTransaction)
	mux.HandleFunc("POST /api/transactions/{id}/refund", s.handleRefund)
	mux.HandleFunc("GET /api/transactions/{id}/audit", s.handleVerifyAudit)
	mux.HandleFunc("GET /api/stats", s.handleStats)

	var h http.Handler = mux
	if opts.Idempotency != nil {
		h = IdempotencyMiddleware(opts.Idempotency)(h)
	}
	h = AuthMiddleware(opts.Validator)(h)
	if opts.RateLimiter != nil {
		h = opts.RateLimiter.Middleware(h)
	}
	if opts.Telemetry != nil {
		h = TelemetryMiddleware(opts.Telemetry)(h)
	}
	return h
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// CreateMandateRequest is the body of POST /api/mandates.
type CreateMandateRequest struct {
	PrincipalID      string                  `json:"principal_id"`
	AgentID          string                  `json:"agent_id"`
	MaxAmountMinor   int64                   `json:"max_amount_minor"`
	Currency         string                  `json:"currency,omitempty"`
	Scopes           []string                `json:"scopes,omitempty"`
	DurationHours    int                     `json:"duration_hours,omitempty"`
	TransactionLimit *int                    `json:"transaction_limit,omitempty"`
	PaymentMethods   []mandate.PaymentMethod `json:"payment_methods,omitempty"`
	Consent          mandate.Consent         `json:"consent,omitempty"`
	Version          string                  `json:"version,omitempty"`
}

func (s *Server) handleCreateMandate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req CreateMandateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}

	m, err := s.mandates.Create(r.Context(), mandate.CreateParams{
		PrincipalID:      req.PrincipalID,
		AgentID:          req.AgentID,
		MaxAmountMinor:   req.MaxAmountMinor,
		Currency:         req.Currency,
		Scopes:           req.Scopes,
		DurationHours:    req.DurationHours,
		TransactionLimit: req.TransactionLimit,
		PaymentMethods:   req.PaymentMethods,
		Consent:          req.Consent,
		Version:          req.Version,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) handleListMandates(w http.ResponseWriter, r *http.Request) {
	principalID := r.URL.Query().Get("principal_id")
	if principalID == "" {
		WriteBadRequest(w, "Missing required query parameter: principal_id")
		return
	}

	mandates, err := s.mandates.ListActive(r.Context(), principalID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"mandates": mandates})
}

func (s *Server) handleGetMandate(w http.ResponseWriter, r *http.Request) {
	m, err := s.mandates.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// RevokeRequest is the optional body of POST /api/mandates/{id}/revoke.
type RevokeRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (s *Server) handleRevokeMandate(w http.ResponseWriter, r *http.Request) {
	var req RevokeRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
			WriteBadRequest(w, "Invalid request body")
			return
		}
	}

	if err := s.mandates.Revoke(r.Context(), r.PathValue("id"), req.Reason); err != nil {
		s.writeServiceError(w, err)
		return
	}

	m, err := s.mandates.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleSuspendMandate(w http.ResponseWriter, r *http.Request) {
	if err := s.mandates.Suspend(r.Context(), r.PathValue("id")); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(mandate.StatusSuspended)})
}

func (s *Server) handleResumeMandate(w http.ResponseWriter, r *http.Request) {
	if err := s.mandates.Resume(r.Context(), r.PathValue("id")); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(mandate.StatusActive)})
}

// PaymentRequest is the body of POST /api/payments.
type PaymentRequest struct {
	MandateID   string            `json:"mandate_id"`
	AgentID     string            `json:"agent_id"`
	PrincipalID string            `json:"principal_id,omitempty"`
	AmountMinor int64             `json:"amount_minor"`
	Currency    string            `json:"currency,omitempty"`
	Description string            `json:"description,omitempty"`
	Scope       string            `json:"scope,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`

	// UserConsent is the consent record captured for this spend, recorded
	// verbatim on the transaction.
	UserConsent *mandate.Consent `json:"user_consent,omitempty"`
}

func (s *Server) handleProcessPayment(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req PaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}

	result, err := s.payments.ProcessPayment(r.Context(), ledger.ProcessRequest{
		MandateID:   req.MandateID,
		AgentID:     req.AgentID,
		PrincipalID: req.PrincipalID,
		AmountMinor: req.AmountMinor,
		Currency:    req.Currency,
		Description: req.Description,
		Scope:       req.Scope,
		Metadata:    req.Metadata,
		Consent:     req.UserConsent,
	})
	if err != nil {
		if errors.Is(err, settlement.ErrUnsupportedMethod) {
			WriteUnprocessable(w, err.Error())
			return
		}
		s.writeServiceError(w, err)
		return
	}

	if !result.Success && result.Transaction == nil {
		// Authorization denied before any settlement attempt.
		WriteForbidden(w, "Payment not authorized: "+string(result.Reason))
		return
	}

	// Settled payments and settlement declines both return the full result;
	// a decline is a legitimate outcome, not a protocol error.
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	principalID := r.URL.Query().Get("principal_id")
	if principalID == "" {
		WriteBadRequest(w, "Missing required query parameter: principal_id")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			WriteBadRequest(w, "Invalid limit parameter")
			return
		}
		limit = n
	}

	txns, err := s.payments.History(r.Context(), principalID, limit)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"transactions": txns})
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	txn, err := s.payments.GetTransaction(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, txn)
}

// RefundRequest is the optional body of POST /api/transactions/{id}/refund.
type RefundRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (s *Server) handleRefund(w http.ResponseWriter, r *http.Request) {
	var req RefundRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
			WriteBadRequest(w, "Invalid request body")
			return
		}
	}

	txn, err := s.payments.Refund(r.Context(), r.PathValue("id"), req.Reason)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, txn)
}

func (s *Server) handleVerifyAudit(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	badIndex, err := s.payments.VerifyAuditTrail(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if badIndex >= 0 {
		WriteConflict(w, fmt.Sprintf("Audit trail verification failed at entry %d", badIndex))
		return
	}

	txn, err := s.payments.GetTransaction(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"verified": true,
		"entries":  len(txn.Audit),
		"audit":    txn.Audit,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	principalID := r.URL.Query().Get("principal_id")
	if principalID == "" {
		WriteBadRequest(w, "Missing required query parameter: principal_id")
		return
	}

	stats, err := s.payments.Stats(r.Context(), principalID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// writeServiceError maps domain errors onto problem-detail responses.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	var ve *mandate.ValidationError
	switch {
	case errors.As(err, &ve):
		WriteBadRequest(w, ve.Error())
	case ledger.IsNotFound(err):
		WriteNotFound(w, err.Error())
	case errors.Is(err, ledger.ErrInvalidState):
		WriteConflict(w, err.Error())
	case errors.Is(err, settlement.ErrUnsupportedMethod):
		WriteUnprocessable(w, err.Error())
	default:
		WriteInternal(w, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
