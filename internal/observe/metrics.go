// Package observe provides application-wide observability primitives for
// the interaction broker: OpenTelemetry metrics, distributed tracing,
// structured logging, and HTTP middleware that ties them together.
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

// meterName is the instrumentation scope name used for all broker metrics.
const meterName = "github.com/relaybroker/relaybroker"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per subsystem ---

	// TTSGenerateDuration tracks speech-synthesis (generator call) latency.
	TTSGenerateDuration metric.Float64Histogram

	// TTSPlaybackDuration tracks time spent with an artifact actually
	// occupying the audio device, from subprocess spawn to exit.
	TTSPlaybackDuration metric.Float64Histogram

	// InboxItemLatency tracks the time an [registry.Item] spends between
	// being enqueued and being resolved or cancelled.
	InboxItemLatency metric.Float64Histogram

	// ToolCallDuration tracks agent tool-call handling latency end to end.
	ToolCallDuration metric.Float64Histogram

	// --- Counters ---

	// ToolCalls counts tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// ItemsResolved counts inbox items reaching a terminal state. Use with:
	//   attribute.String("kind", ...), attribute.String("status", ...)
	ItemsResolved metric.Int64Counter

	// SpeechRequests counts TTS Engine speak/speak_async/speak_urgent calls.
	// Use with attribute.String("priority", "normal"|"urgent").
	SpeechRequests metric.Int64Counter

	// --- Error counters ---

	// TTSGenerateErrors counts generator failures. Use with:
	//   attribute.String("generator", ...)
	TTSGenerateErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of currently registered agent sessions.
	ActiveSessions metric.Int64UpDownCounter

	// EventSubscribers tracks the number of connected frontend subscribers
	// on the Event Bus's streaming channel.
	EventSubscribers metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) covering
// everything from a fast item resolution to a slow speech synthesis call.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TTSGenerateDuration, err = m.Float64Histogram("relaybroker.tts.generate.duration",
		metric.WithDescription("Latency of text-to-speech artifact generation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSPlaybackDuration, err = m.Float64Histogram("relaybroker.tts.playback.duration",
		metric.WithDescription("Duration an artifact occupied the audio device."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.InboxItemLatency, err = m.Float64Histogram("relaybroker.inbox.item.latency",
		metric.WithDescription("Time an inbox item spent between enqueue and resolution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ToolCallDuration, err = m.Float64Histogram("relaybroker.tool_call.duration",
		metric.WithDescription("Latency of agent tool-call handling end to end."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ToolCalls, err = m.Int64Counter("relaybroker.tool.calls",
		metric.WithDescription("Total tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.ItemsResolved, err = m.Int64Counter("relaybroker.inbox.items_resolved",
		metric.WithDescription("Total inbox items reaching a terminal state, by kind and status."),
	); err != nil {
		return nil, err
	}
	if met.SpeechRequests, err = m.Int64Counter("relaybroker.tts.speech_requests",
		metric.WithDescription("Total speak/speak_async/speak_urgent calls, by priority."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.TTSGenerateErrors, err = m.Int64Counter("relaybroker.tts.generate_errors",
		metric.WithDescription("Total TTS generator failures by generator name."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("relaybroker.active_sessions",
		metric.WithDescription("Number of currently registered agent sessions."),
	); err != nil {
		return nil, err
	}
	if met.EventSubscribers, err = m.Int64UpDownCounter("relaybroker.event_subscribers",
		metric.WithDescription("Number of connected frontend subscribers on the event bus."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("relaybroker.http.request.duration",
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

// RecordToolCall is a convenience method that records a tool call counter
// increment with the standard attribute set.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}

// RecordItemResolved is a convenience method that records an inbox item
// reaching a terminal state.
func (m *Metrics) RecordItemResolved(ctx context.Context, kind, status string) {
	m.ItemsResolved.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordSpeechRequest is a convenience method that records a TTS speak call.
func (m *Metrics) RecordSpeechRequest(ctx context.Context, priority string) {
	m.SpeechRequests.Add(ctx, 1,
		metric.WithAttributes(attribute.String("priority", priority)),
	)
}

// RecordTTSGenerateError is a convenience method that records a generator
// failure.
func (m *Metrics) RecordTTSGenerateError(ctx context.Context, generator string) {
	m.TTSGenerateErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("generator", generator)),
	)
}
