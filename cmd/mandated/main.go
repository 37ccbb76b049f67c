// Command mandated runs the mandate authorization and payment server.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"  // Postgres driver
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/quorumpay/mandate/pkg/api"
	"github.com/quorumpay/mandate/pkg/audit"
	"github.com/quorumpay/mandate/pkg/config"
	"github.com/quorumpay/mandate/pkg/ledger"
	"github.com/quorumpay/mandate/pkg/mandate"
	"github.com/quorumpay/mandate/pkg/observability"
	"github.com/quorumpay/mandate/pkg/settlement"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()

	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	obs, err := observability.New(ctx, &observability.Config{
		ServiceName:    "mandated",
		ServiceVersion: mandate.ProtocolVersion,
		Environment:    getenvDefault("ENVIRONMENT", "development"),
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Enabled:        cfg.TelemetryEnabled,
		Insecure:       true,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = obs.Shutdown(shutdownCtx)
	}()

	mandateStore, txnStore, cleanup, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	mandates := mandate.NewService(mandateStore, txnStore, log)

	rails, err := config.LoadRailProfile(cfg.RailProfilePath)
	if err != nil {
		return fmt.Errorf("load rail profile: %w", err)
	}
	executor := settlement.DefaultExecutor(rails, log)

	keyring := audit.NewKeyring([]byte(cfg.AuditSecret))

	opts := []ledger.Option{ledger.WithAuditLogger(audit.NewLogger())}
	if cfg.RedisAddr != "" {
		opts = append(opts, ledger.WithReserver(
			ledger.NewRedisReserver(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)))
		log.Info("redis capacity reserver enabled", "addr", cfg.RedisAddr)
	}
	payments := ledger.New(mandates, txnStore, executor, keyring, log, opts...)

	reconciler := ledger.NewReconciler(txnStore, executor, keyring, log, cfg.StaleAfter, 10)
	go reconciler.Run(ctx, cfg.ReconcileInterval)

	if cfg.JWTSecret == "" {
		log.Warn("JWT_SECRET not set, all API requests will be rejected")
	}
	server := api.NewServer(mandates, payments, log)
	handler := server.Handler(api.Options{
		Validator:   api.NewJWTValidator(cfg.JWTSecret),
		RateLimiter: api.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
		Idempotency: api.NewIdempotencyStore(24 * time.Hour),
		Telemetry:   obs,
	})

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", "port", cfg.Port)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// openStores selects the persistence backend: Postgres when DATABASE_URL is
// set, SQLite when SQLITE_PATH is set, otherwise in-memory.
func openStores(ctx context.Context, cfg *config.Config, log *slog.Logger) (mandate.Store, ledger.TransactionStore, func(), error) {
	noop := func() {}

	switch {
	case cfg.DatabaseURL != "":
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, nil, noop, fmt.Errorf("open postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, nil, noop, fmt.Errorf("ping postgres: %w", err)
		}

		ms := mandate.NewPostgresStore(db)
		if err := ms.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, noop, fmt.Errorf("migrate mandates: %w", err)
		}
		ts := ledger.NewPostgresStore(db)
		if err := ts.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, noop, fmt.Errorf("migrate transactions: %w", err)
		}
		log.Info("using postgres stores")
		return ms, ts, func() { db.Close() }, nil

	case cfg.SQLitePath != "":
		db, err := sql.Open("sqlite", cfg.SQLitePath)
		if err != nil {
			return nil, nil, noop, fmt.Errorf("open sqlite: %w", err)
		}
		// The conditional-insert capacity guard needs a single writer.
		db.SetMaxOpenConns(1)

		ms, err := mandate.NewSQLiteStore(db)
		if err != nil {
			db.Close()
			return nil, nil, noop, fmt.Errorf("init sqlite mandate store: %w", err)
		}
		ts, err := ledger.NewSQLiteStore(db)
		if err != nil {
			db.Close()
			return nil, nil, noop, fmt.Errorf("init sqlite transaction store: %w", err)
		}
		log.Info("using sqlite stores", "path", cfg.SQLitePath)
		return ms, ts, func() { db.Close() }, nil

	default:
		log.Warn("using in-memory stores, data will not survive restart")
		return mandate.NewMemoryStore(), ledger.NewMemoryStore(), noop, nil
	}
}

func parseLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getenvDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
