package api_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumpay/mandate/pkg/api"
	"github.com/quorumpay/mandate/pkg/audit"
	"github.com/quorumpay/mandate/pkg/ledger"
	"github.com/quorumpay/mandate/pkg/mandate"
	"github.com/quorumpay/mandate/pkg/observability"
	"github.com/quorumpay/mandate/pkg/settlement"
)

func TestTelemetryMiddlewarePassesRequestsThrough(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	obs, err := observability.New(context.Background(), &observability.Config{Enabled: false})
	require.NoError(t, err)

	txnStore := ledger.NewMemoryStore()
	mandates := mandate.NewService(mandate.NewMemoryStore(), txnStore, log)
	payments := ledger.New(mandates, txnStore, settlement.DefaultExecutor(nil, log), audit.NewKeyring([]byte("s")), log)
	handler := api.NewServer(mandates, payments, log).Handler(api.Options{
		Validator: api.NewJWTValidator(testJWTSecret),
		Telemetry: obs,
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	// Error responses pass through the recorder unchanged.
	req = httptest.NewRequest(http.MethodGet, "/api/mandates", nil)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
}

func TestTelemetryMiddlewareRecordsStatus(t *testing.T) {
	obs, err := observability.New(context.Background(), &observability.Config{Enabled: false})
	require.NoError(t, err)

	var sawStatus int
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		sawStatus = http.StatusTeapot
	})
	h := api.TelemetryMiddleware(obs)(inner)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/anything", nil))

	assert.Equal(t, http.StatusTeapot, w.Code)
	assert.Equal(t, http.StatusTeapot, sawStatus)
}
