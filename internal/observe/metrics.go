// Package observe provides application-wide observability primitives for
// Auralis: OpenTelemetry metrics and the provider wiring behind them.
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
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Auralis metrics.
const meterName = "github.com/auralis-app/auralis"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Capture pipeline ---

	// DroppedSamples counts audio samples discarded by ring-buffer overflow.
	DroppedSamples metric.Int64Counter

	// --- Outbound streaming ---

	// BatchesSent counts audio batches delivered to the transcription service.
	BatchesSent metric.Int64Counter

	// BytesSent counts audio payload bytes delivered to the transcription
	// service.
	BytesSent metric.Int64Counter

	// BatchSendDuration tracks the latency of a single batch send.
	BatchSendDuration metric.Float64Histogram

	// --- Inbound results ---

	// TranscriptsReceived counts transcript results. Use with attribute:
	//   attribute.Bool("final", ...)
	TranscriptsReceived metric.Int64Counter

	// ProtocolErrors counts inbound frames that could not be parsed.
	ProtocolErrors metric.Int64Counter

	// --- Sessions ---

	// ActiveSessions tracks the number of live recording sessions.
	ActiveSessions metric.Int64UpDownCounter

	// SessionDuration tracks completed session length in seconds.
	SessionDuration metric.Float64Histogram
}

// sendLatencyBuckets defines histogram bucket boundaries (in seconds) sized
// for per-batch websocket writes.
var sendLatencyBuckets = []float64{
	0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1,
}

// sessionBuckets defines histogram bucket boundaries (in seconds) sized for
// meeting-length recording sessions.
var sessionBuckets = []float64{
	30, 60, 300, 600, 1200, 1800, 2700, 3600, 5400, 7200,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Counters.
	if met.DroppedSamples, err = m.Int64Counter("auralis.capture.dropped_samples",
		metric.WithDescription("Audio samples discarded by ring-buffer overflow."),
	); err != nil {
		return nil, err
	}
	if met.BatchesSent, err = m.Int64Counter("auralis.stream.batches_sent",
		metric.WithDescription("Audio batches delivered to the transcription service."),
	); err != nil {
		return nil, err
	}
	if met.BytesSent, err = m.Int64Counter("auralis.stream.bytes_sent",
		metric.WithDescription("Audio payload bytes delivered to the transcription service."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.TranscriptsReceived, err = m.Int64Counter("auralis.stream.transcripts_received",
		metric.WithDescription("Transcript results received, by finality."),
	); err != nil {
		return nil, err
	}
	if met.ProtocolErrors, err = m.Int64Counter("auralis.stream.protocol_errors",
		metric.WithDescription("Inbound frames that could not be parsed."),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.BatchSendDuration, err = m.Float64Histogram("auralis.stream.batch_send.duration",
		metric.WithDescription("Latency of a single audio batch send."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(sendLatencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SessionDuration, err = m.Float64Histogram("auralis.session.duration",
		metric.WithDescription("Length of completed recording sessions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(sessionBuckets...),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("auralis.active_sessions",
		metric.WithDescription("Number of live recording sessions."),
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

// RecordBatchSent records one delivered batch: the counter increments, the
// byte total, and the send latency.
func (m *Metrics) RecordBatchSent(ctx context.Context, bytes int, d time.Duration) {
	m.BatchesSent.Add(ctx, 1)
	m.BytesSent.Add(ctx, int64(bytes))
	m.BatchSendDuration.Record(ctx, d.Seconds())
}

// RecordTranscript records one received transcript result with its finality.
func (m *Metrics) RecordTranscript(ctx context.Context, final bool) {
	m.TranscriptsReceived.Add(ctx, 1,
		metric.WithAttributes(attribute.Bool("final", final)),
	)
}

// AddDroppedSamples records n samples lost to ring overflow. No-op for n == 0.
func (m *Metrics) AddDroppedSamples(ctx context.Context, n uint64) {
	if n == 0 {
		return
	}
	m.DroppedSamples.Add(ctx, int64(n))
}

// AddProtocolErrors records n dropped unparseable frames. No-op for n == 0.
func (m *Metrics) AddProtocolErrors(ctx context.Context, n uint64) {
	if n == 0 {
		return
	}
	m.ProtocolErrors.Add(ctx, int64(n))
}
