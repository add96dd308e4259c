// Package telemetry provides OpenTelemetry metrics for the voice pipeline
// with a Prometheus exporter bridge so metrics are scrapeable via /metrics.
//
// A Metrics instance implements the session Tracker contract: every recording
// call is fire-and-forget and never blocks the audio or protocol hot path.
// Tests should construct Metrics with a custom metric.MeterProvider backed by
// a ManualReader to avoid cross-test pollution.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope for all voicecore metrics.
const meterName = "github.com/prepdeck/voicecore"

// durationBuckets covers interview session lengths in seconds.
var durationBuckets = []float64{
	10, 30, 60, 120, 300, 600, 1200, 1800, 3600,
}

// Metrics holds all metric instruments. The underlying OTel types handle
// their own synchronization.
type Metrics struct {
	// SessionsStarted counts session starts.
	SessionsStarted metric.Int64Counter

	// SessionsEnded counts session ends. Attribute: reason.
	SessionsEnded metric.Int64Counter

	// ActiveSessions tracks live sessions.
	ActiveSessions metric.Int64UpDownCounter

	// SessionDuration tracks session length in seconds. Attribute: reason.
	SessionDuration metric.Float64Histogram

	// SessionErrors counts structured session errors. Attribute: code.
	SessionErrors metric.Int64Counter

	// Transcripts counts transcript events. Attribute: speaker.
	Transcripts metric.Int64Counter

	// AudioFrames counts audio frames relayed upstream.
	AudioFrames metric.Int64Counter

	// ReconnectAttempts counts protocol and relay reconnect attempts.
	// Attribute: layer ("protocol" or "relay").
	ReconnectAttempts metric.Int64Counter
}

// NewMetrics creates a fully initialised Metrics using the given provider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.SessionsStarted, err = m.Int64Counter("voicecore.sessions.started",
		metric.WithDescription("Total voice sessions started."),
	); err != nil {
		return nil, err
	}
	if met.SessionsEnded, err = m.Int64Counter("voicecore.sessions.ended",
		metric.WithDescription("Total voice sessions ended by termination reason."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("voicecore.sessions.active",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}
	if met.SessionDuration, err = m.Float64Histogram("voicecore.session.duration",
		metric.WithDescription("Voice session length."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SessionErrors, err = m.Int64Counter("voicecore.session.errors",
		metric.WithDescription("Structured session errors by code."),
	); err != nil {
		return nil, err
	}
	if met.Transcripts, err = m.Int64Counter("voicecore.transcripts",
		metric.WithDescription("Transcript events by speaker."),
	); err != nil {
		return nil, err
	}
	if met.AudioFrames, err = m.Int64Counter("voicecore.audio.frames",
		metric.WithDescription("Audio frames relayed to the voice backend."),
	); err != nil {
		return nil, err
	}
	if met.ReconnectAttempts, err = m.Int64Counter("voicecore.reconnect.attempts",
		metric.WithDescription("Reconnect attempts by layer."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// SessionStarted implements the session Tracker contract.
func (m *Metrics) SessionStarted(id string) {
	ctx := context.Background()
	m.SessionsStarted.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, 1)
}

// SessionEnded implements the session Tracker contract.
func (m *Metrics) SessionEnded(id string, d time.Duration, reason string) {
	ctx := context.Background()
	attrs := metric.WithAttributes(attribute.String("reason", reason))
	m.SessionsEnded.Add(ctx, 1, attrs)
	m.ActiveSessions.Add(ctx, -1)
	m.SessionDuration.Record(ctx, d.Seconds(), attrs)
}

// SessionError implements the session Tracker contract.
func (m *Metrics) SessionError(id string, code string) {
	m.SessionErrors.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("code", code)))
}

// TranscriptEvent implements the session Tracker contract.
func (m *Metrics) TranscriptEvent(id string, speaker string) {
	m.Transcripts.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("speaker", speaker)))
}

// AudioFrame records one relayed audio frame.
func (m *Metrics) AudioFrame() {
	m.AudioFrames.Add(context.Background(), 1)
}

// Reconnect records one reconnect attempt for the given layer.
func (m *Metrics) Reconnect(layer string) {
	m.ReconnectAttempts.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("layer", layer)))
}

// ReconnectAttempt implements the session Tracker contract for
// protocol-level reconnects.
func (m *Metrics) ReconnectAttempt(id string) {
	m.Reconnect("protocol")
}
