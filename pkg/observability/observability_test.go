package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	require.Equal(t, "mandated", config.ServiceName)
	require.Equal(t, "1.0.0", config.ServiceVersion)
	require.Equal(t, "localhost:4317", config.OTLPEndpoint)
	require.Equal(t, 1.0, config.SampleRate)
	require.True(t, config.Enabled)
}

func TestNewProviderDisabled(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, p)

	require.NotNil(t, p.Tracer())
	require.NotNil(t, p.Meter())

	// Recording on a disabled provider must be a no-op, not a panic.
	ctx := context.Background()
	p.RecordRequest(ctx, attribute.String("endpoint", "/api/payments"))
	p.RecordError(ctx, errors.New("boom"))
	p.RecordDuration(ctx, 5*time.Millisecond)

	require.NoError(t, p.Shutdown(ctx))
}

func TestNewProviderNilConfigUsesDefaults(t *testing.T) {
	// Nil config falls back to DefaultConfig. The exporter does not dial
	// eagerly, so creation succeeds without a collector present.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	p, err := New(ctx, nil)
	require.NoError(t, err)
	require.NotNil(t, p)

	spanCtx, span := p.StartSpan(ctx, "test-operation")
	require.NotNil(t, spanCtx)
	span.End()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second)
	defer shutdownCancel()
	_ = p.Shutdown(shutdownCtx)
}

func TestStartSpanDisabled(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	ctx, span := p.StartSpan(context.Background(), "noop")
	require.NotNil(t, ctx)
	require.NotNil(t, span)
	span.End()
}
