// Package observe provides application-wide observability primitives for
// LingoLoop: OpenTelemetry metrics, distributed tracing, structured logging,
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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all LingoLoop metrics.
const meterName = "github.com/lingoloop/lingoloop"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per provider operation ---

	// TranscribeDuration tracks audio transcription latency.
	TranscribeDuration metric.Float64Histogram

	// SynthesisDuration tracks reference speech synthesis latency.
	SynthesisDuration metric.Float64Histogram

	// ScoreDuration tracks pronunciation scoring latency.
	ScoreDuration metric.Float64Histogram

	// DefinitionDuration tracks word definition lookup latency.
	DefinitionDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("op", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("op", ...)
	ProviderErrors metric.Int64Counter

	// SynthCacheLookups counts reference-audio cache lookups. Use with
	// attribute: attribute.String("result", "hit"|"miss")
	SynthCacheLookups metric.Int64Counter

	// WSMessages counts WebSocket messages by direction and type. Use with
	// attributes: attribute.String("direction", "in"|"out"), attribute.String("type", ...)
	WSMessages metric.Int64Counter

	// Uploads counts audio uploads by status ("accepted", "rejected").
	Uploads metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live learner sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds). Provider
// calls carry whole audio files, so the buckets reach well past typical
// chat-request latencies.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TranscribeDuration, err = m.Float64Histogram("lingoloop.transcribe.duration",
		metric.WithDescription("Latency of audio transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SynthesisDuration, err = m.Float64Histogram("lingoloop.synthesis.duration",
		metric.WithDescription("Latency of reference speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ScoreDuration, err = m.Float64Histogram("lingoloop.score.duration",
		metric.WithDescription("Latency of pronunciation scoring."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.DefinitionDuration, err = m.Float64Histogram("lingoloop.definition.duration",
		metric.WithDescription("Latency of word definition lookups."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("lingoloop.provider.requests",
		metric.WithDescription("Total provider API requests by provider, operation, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("lingoloop.provider.errors",
		metric.WithDescription("Total provider errors by provider and operation."),
	); err != nil {
		return nil, err
	}
	if met.SynthCacheLookups, err = m.Int64Counter("lingoloop.synth_cache.lookups",
		metric.WithDescription("Reference-audio cache lookups by result."),
	); err != nil {
		return nil, err
	}
	if met.WSMessages, err = m.Int64Counter("lingoloop.ws.messages",
		metric.WithDescription("WebSocket messages by direction and type."),
	); err != nil {
		return nil, err
	}
	if met.Uploads, err = m.Int64Counter("lingoloop.uploads",
		metric.WithDescription("Audio uploads by status."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("lingoloop.active_sessions",
		metric.WithDescription("Number of live learner sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("lingoloop.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
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

// RecordProviderRequest records a provider request counter increment with
// the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, op, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("op", op),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, op string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("op", op),
		),
	)
}

// RecordSynthCacheLookup records a cache lookup with result "hit" or "miss".
func (m *Metrics) RecordSynthCacheLookup(ctx context.Context, result string) {
	m.SynthCacheLookups.Add(ctx, 1,
		metric.WithAttributes(attribute.String("result", result)),
	)
}

// RecordWSMessage records a WebSocket message by direction and type.
func (m *Metrics) RecordWSMessage(ctx context.Context, direction, msgType string) {
	m.WSMessages.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("direction", direction),
			attribute.String("type", msgType),
		),
	)
}
