package observe

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for the earshot tracer.
const tracerName = "github.com/auditory-labs/earshot"

// Domain attribute keys shared by spans and metrics.
const (
	attrProvider     = attribute.Key("earshot.provider")
	attrAudioSeconds = attribute.Key("earshot.chunk.audio_seconds")
)

// Tracer returns the earshot tracer from the globally registered
// [trace.TracerProvider].
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartRequestSpan starts a server span for one request against the HTTP
// surface (metrics scrape, health probes). The caller must End the span.
func StartRequestSpan(ctx context.Context, method, path string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "HTTP "+method+" "+path,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			semconv.HTTPRequestMethodKey.String(method),
			semconv.URLPath(path),
		),
	)
}

// StartAnalysisSpan starts a client span covering one chunk's round trip to
// the analysis provider. The audio length rides along as an attribute so slow
// spans can be correlated with long chunks.
func StartAnalysisSpan(ctx context.Context, provider string, audio time.Duration) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "analyze chunk",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attrProvider.String(provider),
			attrAudioSeconds.Float64(audio.Seconds()),
		),
	)
}

// EndSpan records err on the span, sets its status accordingly, and ends it.
// A nil err ends the span with an Ok status.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// CorrelationID extracts the trace ID from the span context in ctx, or the
// empty string when no span with a valid trace ID is active. The trace ID
// doubles as the correlation identifier surfaced to HTTP clients.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns an [slog.Logger] enriched with trace_id and span_id from
// the span context in ctx. When no active span is present, the returned
// logger is the default slog logger without extra attributes.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}
