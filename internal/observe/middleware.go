package observe

import (
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// responseTap wraps [http.ResponseWriter] to capture the status code and body
// size written by the downstream handler.
type responseTap struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (t *responseTap) WriteHeader(code int) {
	t.status = code
	t.ResponseWriter.WriteHeader(code)
}

func (t *responseTap) Write(p []byte) (int, error) {
	n, err := t.ResponseWriter.Write(p)
	t.bytes += n
	return n, err
}

// routeLabel maps a request path onto the fixed route set earshot serves so
// the duration metric keeps bounded cardinality under path scanning.
func routeLabel(path string) string {
	switch path {
	case "/metrics", "/healthz", "/readyz":
		return path
	default:
		return "other"
	}
}

// Middleware instruments earshot's HTTP surface: it continues any incoming
// W3C trace context, wraps the request in a server span, surfaces the trace
// ID to the client as X-Correlation-ID, records latency to
// [Metrics.HTTPRequestDuration], and logs completion through the
// trace-enriched [Logger].
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	propagator := propagation.TraceContext{}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := StartRequestSpan(ctx, r.Method, r.URL.Path)
			defer span.End()

			if cid := CorrelationID(ctx); cid != "" {
				w.Header().Set("X-Correlation-ID", cid)
			}
			propagator.Inject(ctx, propagation.HeaderCarrier(w.Header()))

			tap := &responseTap{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(tap, r.WithContext(ctx))
			elapsed := time.Since(start)

			m.HTTPRequestDuration.Record(ctx, elapsed.Seconds(),
				metric.WithAttributes(
					attribute.String("method", r.Method),
					attribute.String("route", routeLabel(r.URL.Path)),
				),
			)

			span.SetAttributes(semconv.HTTPResponseStatusCode(tap.status))
			if tap.status >= 500 {
				span.SetStatus(codes.Error, http.StatusText(tap.status))
			}

			Logger(ctx).LogAttrs(ctx, slog.LevelInfo, "request served",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", tap.status),
				slog.Int("bytes", tap.bytes),
				slog.Duration("elapsed", elapsed),
			)
		})
	}
}
