// Package observe provides application-wide observability primitives for
// earshot: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all earshot metrics.
const meterName = "github.com/auditory-labs/earshot"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// AnalyzeDuration tracks end-to-end analysis request latency, including
	// rotation retries.
	AnalyzeDuration metric.Float64Histogram

	// ChunkDuration tracks the audio length of emitted chunks.
	ChunkDuration metric.Float64Histogram

	// --- Counters ---

	// ChunksEmitted counts chunks judged ready to send.
	ChunksEmitted metric.Int64Counter

	// ChunksDiscarded counts chunks dropped before analysis. Use with
	// attribute: attribute.String("reason", ...) ("too_short", "silence",
	// "no_keys").
	ChunksDiscarded metric.Int64Counter

	// ProviderRequests counts analysis API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts analysis API errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("class", ...)
	ProviderErrors metric.Int64Counter

	// KeyRotations counts key switches. Use with attribute:
	//   attribute.String("reason", ...)
	KeyRotations metric.Int64Counter

	// --- Gauges ---

	// EligibleKeys tracks how many keys are currently selectable.
	EligibleKeys metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("route", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// generative-model round trips.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// chunkBuckets defines histogram bucket boundaries (in seconds) spanning the
// configured chunk length range.
var chunkBuckets = []float64{
	1, 2, 3, 5, 8, 13, 21, 30, 45,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.AnalyzeDuration, err = m.Float64Histogram("earshot.analyze.duration",
		metric.WithDescription("Latency of analysis requests including rotation retries."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ChunkDuration, err = m.Float64Histogram("earshot.chunk.duration",
		metric.WithDescription("Audio length of emitted chunks."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(chunkBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ChunksEmitted, err = m.Int64Counter("earshot.chunks.emitted",
		metric.WithDescription("Total chunks judged ready to send."),
	); err != nil {
		return nil, err
	}
	if met.ChunksDiscarded, err = m.Int64Counter("earshot.chunks.discarded",
		metric.WithDescription("Total chunks dropped before analysis, by reason."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("earshot.provider.requests",
		metric.WithDescription("Total analysis API requests by provider and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("earshot.provider.errors",
		metric.WithDescription("Total analysis API errors by provider and class."),
	); err != nil {
		return nil, err
	}
	if met.KeyRotations, err = m.Int64Counter("earshot.key.rotations",
		metric.WithDescription("Total key switches by reason."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.EligibleKeys, err = m.Int64UpDownCounter("earshot.keys.eligible",
		metric.WithDescription("Number of currently selectable API keys."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("earshot.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordChunk records one emitted chunk together with its audio length.
func (m *Metrics) RecordChunk(ctx context.Context, d time.Duration) {
	m.ChunksEmitted.Add(ctx, 1)
	m.ChunkDuration.Record(ctx, d.Seconds())
}

// RecordDiscard records one dropped chunk with the standard reason attribute.
func (m *Metrics) RecordDiscard(ctx context.Context, reason string) {
	m.ChunksDiscarded.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordProviderRequest records an analysis request counter increment with
// the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records an analysis error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, class string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("class", class),
		),
	)
}

// RecordKeyRotation records one key switch with the standard reason
// attribute.
func (m *Metrics) RecordKeyRotation(ctx context.Context, reason string) {
	m.KeyRotations.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}
