package observe

import (
	"context"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestRecordBatchSent(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordBatchSent(ctx, 8000, 5*time.Millisecond)
	m.RecordBatchSent(ctx, 8000, 7*time.Millisecond)

	rm := collect(t, reader)

	batches := findMetric(rm, "auralis.stream.batches_sent")
	if batches == nil {
		t.Fatal("batches_sent metric not found")
	}
	if sum := batches.Data.(metricdata.Sum[int64]); sum.DataPoints[0].Value != 2 {
		t.Errorf("batches_sent = %d, want 2", sum.DataPoints[0].Value)
	}

	bytes := findMetric(rm, "auralis.stream.bytes_sent")
	if bytes == nil {
		t.Fatal("bytes_sent metric not found")
	}
	if sum := bytes.Data.(metricdata.Sum[int64]); sum.DataPoints[0].Value != 16000 {
		t.Errorf("bytes_sent = %d, want 16000", sum.DataPoints[0].Value)
	}

	lat := findMetric(rm, "auralis.stream.batch_send.duration")
	if lat == nil {
		t.Fatal("batch_send.duration metric not found")
	}
	hist, ok := lat.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("batch_send.duration is not a histogram")
	}
	if got := hist.DataPoints[0].Count; got != 2 {
		t.Errorf("sample count = %d, want 2", got)
	}
}

func TestRecordTranscript_FinalAttribute(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTranscript(ctx, false)
	m.RecordTranscript(ctx, false)
	m.RecordTranscript(ctx, true)

	rm := collect(t, reader)
	met := findMetric(rm, "auralis.stream.transcripts_received")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("metric is not a sum")
	}

	var partials, finals int64
	for _, dp := range sum.DataPoints {
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) != "final" {
				continue
			}
			if kv.Value.AsBool() {
				finals = dp.Value
			} else {
				partials = dp.Value
			}
		}
	}
	if partials != 2 {
		t.Errorf("partial count = %d, want 2", partials)
	}
	if finals != 1 {
		t.Errorf("final count = %d, want 1", finals)
	}
}

func TestDroppedAndProtocolCounters_SkipZero(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.AddDroppedSamples(ctx, 0)
	m.AddProtocolErrors(ctx, 0)

	rm := collect(t, reader)
	for _, name := range []string{
		"auralis.capture.dropped_samples",
		"auralis.stream.protocol_errors",
	} {
		met := findMetric(rm, name)
		if met == nil {
			continue // no data points recorded at all is fine
		}
		sum := met.Data.(metricdata.Sum[int64])
		if len(sum.DataPoints) != 0 {
			t.Errorf("%s recorded data points for zero delta", name)
		}
	}

	m.AddDroppedSamples(ctx, 480)
	m.AddProtocolErrors(ctx, 3)

	rm = collect(t, reader)
	dropped := findMetric(rm, "auralis.capture.dropped_samples")
	if dropped == nil {
		t.Fatal("dropped_samples metric not found")
	}
	if sum := dropped.Data.(metricdata.Sum[int64]); sum.DataPoints[0].Value != 480 {
		t.Errorf("dropped_samples = %d, want 480", sum.DataPoints[0].Value)
	}
	proto := findMetric(rm, "auralis.stream.protocol_errors")
	if proto == nil {
		t.Fatal("protocol_errors metric not found")
	}
	if sum := proto.Data.(metricdata.Sum[int64]); sum.DataPoints[0].Value != 3 {
		t.Errorf("protocol_errors = %d, want 3", sum.DataPoints[0].Value)
	}
}

func TestActiveSessionsGauge(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, -1)

	rm := collect(t, reader)
	met := findMetric(rm, "auralis.active_sessions")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("metric is not a sum")
	}
	if got := sum.DataPoints[0].Value; got != 1 {
		t.Errorf("gauge value = %d, want 1", got)
	}
}

func TestSessionDurationHistogram(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.SessionDuration.Record(ctx, 1834.2)

	rm := collect(t, reader)
	met := findMetric(rm, "auralis.session.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	if got := hist.DataPoints[0].Count; got != 1 {
		t.Errorf("sample count = %d, want 1", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
