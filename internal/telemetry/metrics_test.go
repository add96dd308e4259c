package telemetry

import (
	"context"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newManualMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics error: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect error: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) (metricdata.Metrics, bool) {
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name == name {
				return m, true
			}
		}
	}
	return metricdata.Metrics{}, false
}

func sumValue(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	m, ok := findMetric(rm, name)
	if !ok {
		t.Fatalf("metric %q not collected", name)
	}
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is %T, want Sum[int64]", name, m.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestSessionLifecycleMetrics(t *testing.T) {
	m, reader := newManualMetrics(t)

	m.SessionStarted("sess-1")
	m.SessionStarted("sess-2")
	m.SessionEnded("sess-1", 90*time.Second, "USER_STOPPED")

	rm := collect(t, reader)

	if got := sumValue(t, rm, "voicecore.sessions.started"); got != 2 {
		t.Errorf("sessions started = %d, want 2", got)
	}
	if got := sumValue(t, rm, "voicecore.sessions.ended"); got != 1 {
		t.Errorf("sessions ended = %d, want 1", got)
	}
	if got := sumValue(t, rm, "voicecore.sessions.active"); got != 1 {
		t.Errorf("active sessions = %d, want 1", got)
	}

	hist, ok := findMetric(rm, "voicecore.session.duration")
	if !ok {
		t.Fatal("duration histogram not collected")
	}
	data, ok := hist.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("duration is %T, want Histogram[float64]", hist.Data)
	}
	if len(data.DataPoints) != 1 || data.DataPoints[0].Sum != 90 {
		t.Errorf("duration datapoints = %+v, want one with sum 90", data.DataPoints)
	}
}

func TestErrorAndTranscriptMetrics(t *testing.T) {
	m, reader := newManualMetrics(t)

	m.SessionError("sess-1", "AZURE_API_ERROR")
	m.SessionError("sess-1", "AZURE_API_ERROR")
	m.TranscriptEvent("sess-1", "user")
	m.AudioFrame()
	m.AudioFrame()
	m.AudioFrame()
	m.Reconnect("protocol")

	rm := collect(t, reader)

	if got := sumValue(t, rm, "voicecore.session.errors"); got != 2 {
		t.Errorf("session errors = %d, want 2", got)
	}
	if got := sumValue(t, rm, "voicecore.transcripts"); got != 1 {
		t.Errorf("transcripts = %d, want 1", got)
	}
	if got := sumValue(t, rm, "voicecore.audio.frames"); got != 3 {
		t.Errorf("audio frames = %d, want 3", got)
	}
	if got := sumValue(t, rm, "voicecore.reconnect.attempts"); got != 1 {
		t.Errorf("reconnect attempts = %d, want 1", got)
	}
}
