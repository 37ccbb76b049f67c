package api

import (
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/quorumpay/mandate/pkg/observability"
)

// statusWriter records the response status code for after-the-fact metrics.
type statusWriter struct {
	http.ResponseWriter
	statusCode int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.statusCode = code
	sw.ResponseWriter.WriteHeader(code)
}

// TelemetryMiddleware traces each request and records the provider's RED
// metrics: request count, error count for 5xx responses, and duration.
func TelemetryMiddleware(provider *observability.Provider) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, span := provider.StartSpan(r.Context(), r.Method+" "+r.URL.Path,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("http.request.method", r.Method),
					attribute.String("url.path", r.URL.Path),
				),
			)
			defer span.End()

			sw := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(sw, r.WithContext(ctx))
			elapsed := time.Since(start)

			attrs := []attribute.KeyValue{
				attribute.String("http.request.method", r.Method),
				attribute.String("url.path", r.URL.Path),
				attribute.Int("http.response.status_code", sw.statusCode),
			}
			provider.RecordRequest(ctx, attrs...)
			provider.RecordDuration(ctx, elapsed, attrs...)

			span.SetAttributes(attribute.Int("http.response.status_code", sw.statusCode))
			if sw.statusCode >= 500 {
				err := fmt.Errorf("http status %d", sw.statusCode)
				provider.RecordError(ctx, err, attrs...)
				span.SetStatus(codes.Error, err.Error())
			}
		})
	}
}
