// Package observe provides application-wide observability primitives for
// Earshot: OpenTelemetry metrics, tracing, and HTTP middleware that ties them
// together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
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

// meterName is the instrumentation scope name used for all Earshot metrics.
const meterName = "github.com/MrWong99/earshot"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// STTDuration tracks the latency of a queued audio segment from enqueue
	// to successful delivery.
	STTDuration metric.Float64Histogram

	// LLMDuration tracks attention-classifier inference latency.
	LLMDuration metric.Float64Histogram

	// AudioFrames counts inbound audio frames. Use with attribute:
	//   attribute.String("outcome", "passed"|"filtered"|"dropped")
	AudioFrames metric.Int64Counter

	// Transcripts counts surfaced transcripts. Use with attribute:
	//   attribute.String("kind", "partial"|"final")
	Transcripts metric.Int64Counter

	// VolumeCommands counts emitted volume commands. Use with attribute:
	//   attribute.String("type", "LOWER_VOLUME"|"RESTORE_VOLUME")
	VolumeCommands metric.Int64Counter

	// ProviderErrors counts external-provider failures. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// ActiveSessions tracks the number of connected clients.
	ActiveSessions metric.Int64UpDownCounter

	// RetryQueueDepth reports the current STT retry-queue depth.
	RetryQueueDepth metric.Int64Gauge

	// HTTPRequestDuration tracks control-API request processing time. Use
	// with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// the audio pipeline's external calls.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.STTDuration, err = m.Float64Histogram("earshot.stt.duration",
		metric.WithDescription("Latency of audio segment delivery to the STT stream."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("earshot.llm.duration",
		metric.WithDescription("Latency of attention-classifier inference."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.AudioFrames, err = m.Int64Counter("earshot.audio.frames",
		metric.WithDescription("Inbound audio frames by outcome."),
	); err != nil {
		return nil, err
	}
	if met.Transcripts, err = m.Int64Counter("earshot.transcripts",
		metric.WithDescription("Surfaced transcripts by kind."),
	); err != nil {
		return nil, err
	}
	if met.VolumeCommands, err = m.Int64Counter("earshot.volume.commands",
		metric.WithDescription("Emitted volume commands by type."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("earshot.provider.errors",
		metric.WithDescription("External provider failures by provider and kind."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("earshot.active_sessions",
		metric.WithDescription("Number of connected clients."),
	); err != nil {
		return nil, err
	}
	if met.RetryQueueDepth, err = m.Int64Gauge("earshot.stt.retry_queue.depth",
		metric.WithDescription("Current depth of the STT retry queue."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("earshot.http.request.duration",
		metric.WithDescription("Control-API request latency by method and path."),
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

// RecordFrame records one inbound audio frame with its pipeline outcome.
func (m *Metrics) RecordFrame(ctx context.Context, outcome string) {
	m.AudioFrames.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordTranscript records one surfaced transcript.
func (m *Metrics) RecordTranscript(ctx context.Context, kind string) {
	m.Transcripts.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordCommand records one emitted volume command.
func (m *Metrics) RecordCommand(ctx context.Context, cmdType string) {
	m.VolumeCommands.Add(ctx, 1,
		metric.WithAttributes(attribute.String("type", cmdType)))
}

// RecordProviderError records one external-provider failure.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
