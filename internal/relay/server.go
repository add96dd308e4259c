// Package relay bridges browser clients to server-held voice sessions: a
// websocket endpoint scoped to one session id, an HTTP control surface, and a
// client-side proxy with an explicit mock fallback.
package relay

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/prepdeck/voicecore/internal/config"
	apperr "github.com/prepdeck/voicecore/internal/errors"
	"github.com/prepdeck/voicecore/internal/realtime"
	"github.com/prepdeck/voicecore/internal/resilience"
	"github.com/prepdeck/voicecore/internal/session"
	"github.com/prepdeck/voicecore/internal/telemetry"
	"github.com/prepdeck/voicecore/internal/trace"
	"github.com/prepdeck/voicecore/internal/transcript"
)

// Client→server websocket messages. Binary frames carry raw PCM16LE audio;
// text frames carry JSON controls.
type Message struct {
	Type string `json:"type"`
}

type TextMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Server→client websocket messages.
type ReadyMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Model     string `json:"model,omitempty"`
	Voice     string `json:"voice,omitempty"`
}

type TranscriptMessage struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	Speaker string `json:"speaker"`
	Final   bool   `json:"final"`
}

type AudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64 PCM16LE
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type DisconnectedMessage struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// rateLimiter tracks text message timestamps in a sliding window.
type rateLimiter struct {
	mu         sync.Mutex
	timestamps []time.Time
	limit      int
	window     time.Duration
}

func (r *rateLimiter) allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-r.window)

	valid := r.timestamps[:0]
	for _, t := range r.timestamps {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	r.timestamps = valid

	if len(r.timestamps) >= r.limit {
		return false
	}
	r.timestamps = append(r.timestamps, now)
	return true
}

// Session is the slice of session.Session the relay depends on.
type Session interface {
	ID() string
	IsActive() bool
	Start(ctx context.Context) error
	Stop()
	SendAudio(pcm []byte) error
	CommitAudio() error
	ClearAudio() error
	SendText(text string) error
}

// SessionFactory creates a session bound to the given event sink.
type SessionFactory func(opts session.Options, events session.Events) (Session, error)

// Server holds voice sessions and exposes the websocket and control surfaces.
type Server struct {
	cfg        *config.Config
	store      *transcript.Store
	metrics    *telemetry.Metrics
	newSession SessionFactory

	mu sync.RWMutex
	// sessions keeps stopped sessions around so transcript reads keep working
	// after stop. Retention is bounded by relay.max_stopped_sessions; the
	// oldest stopped sessions are evicted first, together with their
	// transcripts.
	sessions map[string]*heldSession
}

// heldSession pairs a session with its attached relay socket.
type heldSession struct {
	sess      Session
	events    *sessionSink
	started   time.Time
	stoppedAt time.Time
}

// New creates a relay server. metrics may be nil.
func New(cfg *config.Config, store *transcript.Store, metrics *telemetry.Metrics) *Server {
	s := &Server{
		cfg:      cfg,
		store:    store,
		metrics:  metrics,
		sessions: make(map[string]*heldSession),
	}
	s.newSession = func(opts session.Options, events session.Events) (Session, error) {
		var tracker session.Tracker
		if metrics != nil {
			tracker = metrics
		}
		return session.New(opts, events, tracker)
	}
	return s
}

// Handler returns the HTTP handler for the relay surface.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /session/{id}", s.handleSessionSocket)

	mux.HandleFunc("POST /api/sessions", s.handleSessionStart)
	mux.HandleFunc("POST /api/sessions/{id}/stop", s.handleSessionStop)
	mux.HandleFunc("GET /api/sessions/{id}/transcript", s.handleTranscript)

	return corsMiddleware(trace.Middleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// sessionOptions maps server config to session options.
func (s *Server) sessionOptions() session.Options {
	az := s.cfg.Azure
	rc := s.cfg.Reconnect
	return session.Options{
		Endpoint:          az.Endpoint,
		APIKey:            az.APIKey,
		Deployment:        az.Deployment,
		Temperature:       az.Temperature,
		MaxResponseTokens: az.MaxResponseTokens,
		Voice:             az.Voice,
		Instructions:      az.Instructions,
		TurnDetection: realtime.TurnDetection{
			Type:              az.TurnDetection.Type,
			Threshold:         az.TurnDetection.Threshold,
			PrefixPaddingMs:   az.TurnDetection.PrefixPaddingMs,
			SilenceDurationMs: az.TurnDetection.SilenceDurationMs,
		},
		AutoReconnect: rc.MaxAttempts > 0,
		Backoff: resilience.Backoff{
			MaxAttempts: rc.MaxAttempts,
			BaseDelay:   rc.BaseDelay(),
			MaxDelay:    rc.MaxDelay(),
		},
	}
}

func (s *Server) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	log := trace.Logger(r.Context())

	sink := &sessionSink{server: s}
	sess, err := s.newSession(s.sessionOptions(), sink)
	if err != nil {
		log.Error("session create failed", "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
			"code":  string(apperr.CodeOf(err)),
		})
		return
	}
	sink.sessionID = sess.ID()

	if err := sess.Start(r.Context()); err != nil {
		log.Error("session start failed", "session_id", sess.ID(), "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"error": err.Error(),
			"code":  string(apperr.CodeOf(err)),
		})
		return
	}

	s.mu.Lock()
	s.sessions[sess.ID()] = &heldSession{sess: sess, events: sink, started: time.Now()}
	s.mu.Unlock()

	log.Info("session started", "session_id", sess.ID())
	writeJSON(w, http.StatusCreated, map[string]string{
		"session_id": sess.ID(),
		"status":     "active",
	})
}

func (s *Server) handleSessionStop(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	log := trace.Logger(r.Context())

	s.mu.RLock()
	held, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown session"})
		return
	}

	var body struct {
		Graceful bool `json:"graceful"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	if body.Graceful && held.sess.IsActive() {
		// Flush any audio the remote side is still holding.
		if err := held.sess.CommitAudio(); err != nil {
			log.Debug("commit on graceful stop failed", "session_id", id, "error", err)
		}
	}
	held.sess.Stop()

	s.mu.Lock()
	if held.stoppedAt.IsZero() {
		held.stoppedAt = time.Now()
	}
	s.evictStopped()
	s.mu.Unlock()

	log.Info("session stopped", "session_id", id, "graceful", body.Graceful)
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":  id,
		"status":      "stopped",
		"duration_ms": time.Since(held.started).Milliseconds(),
	})
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	s.mu.RLock()
	_, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown session"})
		return
	}

	q := transcript.Query{Limit: 100}
	params := r.URL.Query()
	if v := params.Get("speaker"); v != "" {
		q.Speaker = transcript.Speaker(v)
	}
	if v := params.Get("final"); v != "" {
		final := v == "true"
		q.Final = &final
	}
	if v := params.Get("limit"); v != "" {
		n, err := parseQueryInt(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a non-negative integer"})
			return
		}
		q.Limit = n
	}
	if v := params.Get("offset"); v != "" {
		n, err := parseQueryInt(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "offset must be a non-negative integer"})
			return
		}
		q.Offset = n
	}

	entries, total := s.store.List(id, q)
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": id,
		"total":      total,
		"entries":    entries,
	})
}

// parseQueryInt parses a non-negative integer query parameter.
func parseQueryInt(v string) (int, error) {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("negative value %d", n)
	}
	return n, nil
}

// evictStopped drops the oldest stopped sessions, and their transcripts, once
// the retention bound is exceeded. Caller must hold s.mu.
func (s *Server) evictStopped() {
	max := s.cfg.Relay.MaxStoppedSessions
	if max <= 0 {
		return
	}

	stopped := 0
	for _, h := range s.sessions {
		if !h.stoppedAt.IsZero() {
			stopped++
		}
	}
	for stopped > max {
		var oldestID string
		var oldest time.Time
		for id, h := range s.sessions {
			if h.stoppedAt.IsZero() {
				continue
			}
			if oldestID == "" || h.stoppedAt.Before(oldest) {
				oldestID, oldest = id, h.stoppedAt
			}
		}
		delete(s.sessions, oldestID)
		s.store.Remove(oldestID)
		stopped--
		slog.Debug("evicted stopped session", "session_id", oldestID)
	}
}

func (s *Server) handleSessionSocket(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	log := trace.Logger(r.Context())

	s.mu.RLock()
	held, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		log.Error("websocket accept error", "error", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	held.events.attach(conn)
	defer held.events.detach(conn)

	limiter := &rateLimiter{
		limit:  s.cfg.Relay.RateLimitMessages,
		window: time.Duration(s.cfg.Relay.RateLimitWindowMs) * time.Millisecond,
	}

	log.Info("relay socket connected", "session_id", id, "remote", r.RemoteAddr)
	ctx := r.Context()

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			log.Debug("relay socket closed", "session_id", id, "error", err)
			return
		}

		switch typ {
		case websocket.MessageBinary:
			if err := held.sess.SendAudio(data); err != nil {
				s.writeError(ctx, conn, err)
				continue
			}
			if s.metrics != nil {
				s.metrics.AudioFrame()
			}

		case websocket.MessageText:
			s.handleControl(ctx, conn, held, limiter, data, log)
		}
	}
}

func (s *Server) handleControl(ctx context.Context, conn *websocket.Conn, held *heldSession, limiter *rateLimiter, data []byte, log *slog.Logger) {
	var base Message
	if err := json.Unmarshal(data, &base); err != nil {
		return
	}

	switch base.Type {
	case "text":
		if !limiter.allow() {
			log.Warn("rate limit exceeded", "session_id", held.sess.ID())
			_ = wsjson.Write(ctx, conn, ErrorMessage{Type: "error", Code: "RATE_LIMITED", Message: "rate limit exceeded"})
			return
		}
		var msg TextMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		s.store.Append(held.sess.ID(), transcript.Entry{
			Speaker: transcript.SpeakerUser,
			Text:    msg.Text,
			Final:   true,
		})
		if err := held.sess.SendText(msg.Text); err != nil {
			s.writeError(ctx, conn, err)
		}

	case "commit":
		if err := held.sess.CommitAudio(); err != nil {
			s.writeError(ctx, conn, err)
		}

	case "clear":
		if err := held.sess.ClearAudio(); err != nil {
			s.writeError(ctx, conn, err)
		}
	}
}

func (s *Server) writeError(ctx context.Context, conn *websocket.Conn, err error) {
	_ = wsjson.Write(ctx, conn, ErrorMessage{
		Type:    "error",
		Code:    string(apperr.CodeOf(err)),
		Message: err.Error(),
	})
}

// Shutdown stops every held session.
func (s *Server) Shutdown() {
	s.mu.Lock()
	held := make([]*heldSession, 0, len(s.sessions))
	for _, h := range s.sessions {
		held = append(held, h)
	}
	s.mu.Unlock()

	for _, h := range held {
		h.sess.Stop()
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// sessionSink fans session events out to the transcript store and the
// attached relay socket. Implements session.Events.
type sessionSink struct {
	server    *Server
	sessionID string

	mu   sync.Mutex
	conn *websocket.Conn
}

func (k *sessionSink) attach(conn *websocket.Conn) {
	k.mu.Lock()
	k.conn = conn
	k.mu.Unlock()
}

func (k *sessionSink) detach(conn *websocket.Conn) {
	k.mu.Lock()
	if k.conn == conn {
		k.conn = nil
	}
	k.mu.Unlock()
}

// push writes one message to the attached socket, dropping it when no socket
// is attached.
func (k *sessionSink) push(v any) {
	k.mu.Lock()
	conn := k.conn
	k.mu.Unlock()
	if conn == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = wsjson.Write(ctx, conn, v)
}

func (k *sessionSink) SessionReady(meta realtime.SessionMeta) {
	k.push(ReadyMessage{Type: "ready", SessionID: k.sessionID, Model: meta.Model, Voice: meta.Voice})
}

func (k *sessionSink) Transcript(text string) {
	k.server.store.Append(k.sessionID, transcript.Entry{
		Speaker: transcript.SpeakerUser,
		Text:    text,
		Final:   true,
	})
	k.push(TranscriptMessage{Type: "transcript", Text: text, Speaker: string(transcript.SpeakerUser), Final: true})
}

func (k *sessionSink) AudioResponse(pcm []byte) {
	k.push(AudioMessage{Type: "audio", Audio: base64.StdEncoding.EncodeToString(pcm)})
}

func (k *sessionSink) Error(err *apperr.AppError) {
	k.push(ErrorMessage{Type: "error", Code: string(err.Code), Message: err.Message})
}

func (k *sessionSink) Disconnected(reason session.EndReason) {
	k.push(DisconnectedMessage{Type: "disconnected", Reason: string(reason)})
}

func (k *sessionSink) Ended(duration time.Duration, reason session.EndReason) {
	slog.Info("session ended", "session_id", k.sessionID, "duration", duration, "reason", reason)
}
