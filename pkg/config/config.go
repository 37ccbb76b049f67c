// Package config loads server configuration from the environment plus an
// optional YAML rail profile.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds server configuration.
type Config struct {
	Port     string
	LogLevel string

	// DatabaseURL selects Postgres when set; SQLitePath selects SQLite
	// otherwise. Empty both means in-memory stores (dev only).
	DatabaseURL string
	SQLitePath  string

	// RedisAddr enables the cross-instance capacity reserver when set.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// AuditSecret is the master secret for audit integrity keys.
	AuditSecret string
	// JWTSecret verifies API bearer tokens. Empty disables auth (dev only).
	JWTSecret string

	RailProfilePath string

	OTLPEndpoint     string
	TelemetryEnabled bool

	ReconcileInterval time.Duration
	StaleAfter        time.Duration

	RateLimitRPS   int
	RateLimitBurst int
}

// Load loads configuration from environment variables.
func Load() *Config {
	cfg := &Config{
		Port:              getenv("PORT", "8080"),
		LogLevel:          getenv("LOG_LEVEL", "INFO"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		SQLitePath:        os.Getenv("SQLITE_PATH"),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		RedisDB:           getenvInt("REDIS_DB", 0),
		AuditSecret:       getenv("AUDIT_SECRET", "dev-audit-secret"),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		RailProfilePath:   os.Getenv("RAIL_PROFILE"),
		OTLPEndpoint:      getenv("OTLP_ENDPOINT", "localhost:4317"),
		TelemetryEnabled:  os.Getenv("TELEMETRY_ENABLED") == "true",
		ReconcileInterval: getenvDuration("RECONCILE_INTERVAL", time.Minute),
		StaleAfter:        getenvDuration("RECONCILE_STALE_AFTER", 5*time.Minute),
		RateLimitRPS:      getenvInt("RATE_LIMIT_RPS", 20),
		RateLimitBurst:    getenvInt("RATE_LIMIT_BURST", 40),
	}
	return cfg
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
