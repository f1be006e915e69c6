// Package observe provides application-wide observability primitives for
// streamscribe: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all streamscribe metrics.
const meterName = "github.com/MrWong99/streamscribe"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Stream session lifecycle ---

	// Restarts counts duration-limit session restarts.
	Restarts metric.Int64Counter

	// FramesSent counts audio frames taken from the capture queue and sent.
	FramesSent metric.Int64Counter

	// FramesReplayed counts frames re-sent during bridging.
	FramesReplayed metric.Int64Counter

	// Results counts recognition results. Use with attribute:
	//   attribute.String("kind", "interim"|"final")
	Results metric.Int64Counter

	// SessionDuration tracks how long each recognizer session stayed open.
	SessionDuration metric.Float64Histogram

	// SessionOpenDuration tracks the latency of opening a recognizer session,
	// including the configuration handshake.
	SessionOpenDuration metric.Float64Histogram

	// ActiveSessions tracks the number of open recognizer sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- Capture ---

	// CaptureErrors counts transient audio read failures.
	CaptureErrors metric.Int64Counter

	// --- Providers ---

	// ProviderRequests counts session-open attempts. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// request-scale latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// sessionBuckets defines histogram bucket boundaries (in seconds) for session
// lifetimes, which are bounded by the stream duration limit.
var sessionBuckets = []float64{
	1, 10, 30, 60, 120, 180, 240, 270, 290, 300,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Counters.
	if met.Restarts, err = m.Int64Counter("streamscribe.stream.restarts",
		metric.WithDescription("Total session restarts caused by the stream duration limit."),
	); err != nil {
		return nil, err
	}
	if met.FramesSent, err = m.Int64Counter("streamscribe.stream.frames.sent",
		metric.WithDescription("Total captured audio frames sent to the recognizer."),
	); err != nil {
		return nil, err
	}
	if met.FramesReplayed, err = m.Int64Counter("streamscribe.stream.frames.replayed",
		metric.WithDescription("Total audio frames re-sent to bridge a session restart."),
	); err != nil {
		return nil, err
	}
	if met.Results, err = m.Int64Counter("streamscribe.stream.results",
		metric.WithDescription("Total recognition results by kind."),
	); err != nil {
		return nil, err
	}
	if met.CaptureErrors, err = m.Int64Counter("streamscribe.capture.errors",
		metric.WithDescription("Total transient audio capture errors."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("streamscribe.provider.requests",
		metric.WithDescription("Total recognizer session-open attempts by provider and status."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("streamscribe.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.SessionDuration, err = m.Float64Histogram("streamscribe.stream.session.duration",
		metric.WithDescription("Lifetime of a recognizer session."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(sessionBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SessionOpenDuration, err = m.Float64Histogram("streamscribe.stream.session.open.duration",
		metric.WithDescription("Latency of opening a recognizer session."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("streamscribe.stream.active_sessions",
		metric.WithDescription("Number of open recognizer sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("streamscribe.http.request.duration",
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

// RecordResult records a recognition result of the given kind
// ("interim" or "final").
func (m *Metrics) RecordResult(ctx context.Context, kind string) {
	m.Results.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordSession records the lifetime of a closed recognizer session and
// decrements the active session gauge.
func (m *Metrics) RecordSession(ctx context.Context, lifetime time.Duration) {
	m.SessionDuration.Record(ctx, lifetime.Seconds())
	m.ActiveSessions.Add(ctx, -1)
}

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
