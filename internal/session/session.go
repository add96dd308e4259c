package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"

	apperr "github.com/prepdeck/voicecore/internal/errors"
	"github.com/prepdeck/voicecore/internal/realtime"
)

// EndReason classifies how a session terminated.
type EndReason string

const (
	EndReasonUserStopped    EndReason = "USER_STOPPED"
	EndReasonConnectionLost EndReason = "CONNECTION_LOST"
)

// Events is the single subscriber for session-level notifications. Callbacks
// derived from one protocol message are delivered in the order produced.
type Events interface {
	// SessionReady fires when the server echoes its session descriptor.
	SessionReady(meta realtime.SessionMeta)

	// Transcript fires per completed recognition of user speech.
	Transcript(text string)

	// AudioResponse fires per decoded audio chunk from the assistant.
	AudioResponse(pcm []byte)

	// Error fires for start failures and remote protocol errors. The session
	// stays alive unless the remote closes the connection.
	Error(err *apperr.AppError)

	// Disconnected fires once when the connection is gone for good.
	Disconnected(reason EndReason)

	// Ended fires once per session with the computed duration.
	Ended(duration time.Duration, reason EndReason)
}

// Tracker receives fire-and-forget telemetry. Implementations must never
// block the caller.
type Tracker interface {
	SessionStarted(id string)
	SessionEnded(id string, d time.Duration, reason string)
	SessionError(id string, code string)
	TranscriptEvent(id string, speaker string)
	ReconnectAttempt(id string)
}

// NopTracker discards all telemetry.
type NopTracker struct{}

func (NopTracker) SessionStarted(string)                      {}
func (NopTracker) SessionEnded(string, time.Duration, string) {}
func (NopTracker) SessionError(string, string)                {}
func (NopTracker) TranscriptEvent(string, string)             {}
func (NopTracker) ReconnectAttempt(string)                    {}

// protocolClient is the slice of realtime.Client the session depends on.
type protocolClient interface {
	Connect(ctx context.Context) error
	SendAudio(pcm []byte) error
	CommitAudio() error
	ClearAudio() error
	SendText(text string) error
	UpdateSession(u realtime.SessionUpdate) error
	Disconnect() error
}

// Session wraps one protocol client with identity, validation, and telemetry.
// It owns exactly one underlying connection at a time.
type Session struct {
	opts    Options
	events  Events
	tracker Tracker
	id      string
	client  protocolClient

	mu        sync.Mutex
	active    bool
	starting  bool
	stopping  bool
	startTime time.Time
}

// New validates opts and creates a session. The session id is generated once
// and stays stable for the lifetime of the object.
func New(opts Options, events Events, tracker Tracker) (*Session, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if tracker == nil {
		tracker = NopTracker{}
	}

	s := &Session{
		opts:    opts,
		events:  events,
		tracker: tracker,
		id:      newSessionID(),
	}
	s.client = realtime.NewClient(realtime.ClientConfig{
		Endpoint:       opts.Endpoint,
		APIKey:         opts.APIKey,
		Deployment:     opts.Deployment,
		ConnectTimeout: opts.ConnectTimeout,
		AutoReconnect:  opts.AutoReconnect,
		Backoff:        opts.Backoff,
		OnReconnect:    func(int) { s.tracker.ReconnectAttempt(s.id) },
	}, (*clientHandler)(s))
	return s, nil
}

func newSessionID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// ID returns the stable session id.
func (s *Session) ID() string { return s.id }

// IsActive reports whether the session has been started and not stopped.
func (s *Session) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Start connects the underlying client. A second call while already active is
// a no-op, not an error, and never opens a duplicate connection. On failure a
// SESSION_START_FAILED error event is emitted and the error returned.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.active || s.starting {
		s.mu.Unlock()
		return nil
	}
	s.starting = true
	s.mu.Unlock()

	err := s.client.Connect(ctx)

	s.mu.Lock()
	s.starting = false
	if err == nil {
		s.active = true
		s.stopping = false
		s.startTime = time.Now()
	}
	s.mu.Unlock()

	if err != nil {
		appErr := apperr.Wrap(err, apperr.CodeSessionStartFailed, "session start failed")
		s.events.Error(appErr)
		s.tracker.SessionError(s.id, string(apperr.CodeSessionStartFailed))
		return appErr
	}

	s.tracker.SessionStarted(s.id)
	slog.Info("session started", "session_id", s.id)
	return nil
}

// Stop disconnects and emits the session-end notification with computed
// duration. Idempotent.
func (s *Session) Stop() {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.active = false
	s.stopping = true
	started := s.startTime
	s.mu.Unlock()

	_ = s.client.Disconnect()

	duration := time.Since(started)
	s.events.Disconnected(EndReasonUserStopped)
	s.events.Ended(duration, EndReasonUserStopped)
	s.tracker.SessionEnded(s.id, duration, string(EndReasonUserStopped))
	slog.Info("session stopped", "session_id", s.id, "duration", duration)
}

func (s *Session) requireActive() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return apperr.New(apperr.CodeSessionNotStarted, "session has not been started")
	}
	return nil
}

// SendAudio forwards one PCM16LE frame to the remote side.
func (s *Session) SendAudio(pcm []byte) error {
	if err := s.requireActive(); err != nil {
		return err
	}
	return s.client.SendAudio(pcm)
}

// CommitAudio finalizes the remote input audio buffer.
func (s *Session) CommitAudio() error {
	if err := s.requireActive(); err != nil {
		return err
	}
	return s.client.CommitAudio()
}

// ClearAudio discards the remote input audio buffer.
func (s *Session) ClearAudio() error {
	if err := s.requireActive(); err != nil {
		return err
	}
	return s.client.ClearAudio()
}

// SendText submits a user text message and requests a response.
func (s *Session) SendText(text string) error {
	if err := s.requireActive(); err != nil {
		return err
	}
	return s.client.SendText(text)
}

// UpdateSettings pushes a partial settings change to the server.
func (s *Session) UpdateSettings(u realtime.SessionUpdate) error {
	if err := s.requireActive(); err != nil {
		return err
	}
	return s.client.UpdateSession(u)
}

// pushSettings sends the full configured session profile. Called once the
// server acknowledges the session.
func (s *Session) pushSettings() {
	voice := s.opts.Voice
	instructions := s.opts.Instructions
	temp := s.opts.Temperature
	maxTokens := s.opts.MaxResponseTokens
	td := s.opts.TurnDetection

	update := realtime.SessionUpdate{
		Modalities:              []string{"text", "audio"},
		InputAudioFormat:        "pcm16",
		OutputAudioFormat:       "pcm16",
		Temperature:             &temp,
		MaxResponseOutputTokens: &maxTokens,
	}
	if voice != "" {
		update.Voice = &voice
	}
	if instructions != "" {
		update.Instructions = &instructions
	}
	if td.Type != "" {
		update.TurnDetection = &td
	}

	if err := s.client.UpdateSession(update); err != nil {
		slog.Warn("failed to push session settings", "session_id", s.id, "error", err)
	}
}

// clientHandler adapts realtime events into session events.
type clientHandler Session

func (h *clientHandler) session() *Session { return (*Session)(h) }

func (h *clientHandler) SessionCreated(meta realtime.SessionMeta) {
	s := h.session()
	s.pushSettings()
	s.events.SessionReady(meta)
}

func (h *clientHandler) Transcript(text string) {
	s := h.session()
	s.events.Transcript(text)
	s.tracker.TranscriptEvent(s.id, "user")
}

func (h *clientHandler) AudioDelta(pcm []byte) {
	h.session().events.AudioResponse(pcm)
}

func (h *clientHandler) RemoteError(detail realtime.ErrorDetail) {
	s := h.session()
	appErr := apperr.New(apperr.CodeRemoteAPI, detail.Message).
		WithMetadata("remote_code", detail.Code).
		WithMetadata("remote_type", detail.Type).
		WithMetadata("event_id", detail.EventID)
	s.events.Error(appErr)
	s.tracker.SessionError(s.id, string(apperr.CodeRemoteAPI))
}

func (h *clientHandler) Disconnected(reason realtime.DisconnectReason, cause error) {
	s := h.session()

	s.mu.Lock()
	stopping := s.stopping
	wasActive := s.active
	started := s.startTime
	s.active = false
	s.mu.Unlock()

	// Stop() already emitted the user-stopped notifications.
	if stopping || reason == realtime.ReasonUserClosed {
		return
	}
	if !wasActive {
		return
	}

	duration := time.Since(started)
	slog.Warn("session connection lost", "session_id", s.id, "error", cause)
	s.events.Disconnected(EndReasonConnectionLost)
	s.events.Ended(duration, EndReasonConnectionLost)
	s.tracker.SessionEnded(s.id, duration, string(EndReasonConnectionLost))
}
