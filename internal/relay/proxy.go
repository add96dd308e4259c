package relay

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/prepdeck/voicecore/internal/resilience"
)

// ProxyState is the observable connection state of a Proxy. Mock mode is a
// distinct value so a degraded session is never mistaken for a live one.
type ProxyState string

const (
	ProxyIdle   ProxyState = "idle"
	ProxyLive   ProxyState = "live"
	ProxyMock   ProxyState = "mock"
	ProxyClosed ProxyState = "closed"
)

// ProxyEvents is the single subscriber for proxy notifications.
type ProxyEvents interface {
	Ready(sessionID string)
	Transcript(text string, speaker string, final bool)
	Audio(pcm []byte)
	ErrorEvent(code, message string)
	StateChanged(state ProxyState)
}

// Transport moves audio/text between the local UI and a session. Exactly two
// implementations exist: the live relay socket and the mock responder. The
// variant is selected explicitly at start so tests can exercise each
// deterministically.
type Transport interface {
	Start(ctx context.Context) error
	SendAudio(pcm []byte) bool
	SendText(text string) bool
	Close()
}

// ProxyConfig holds proxy settings.
type ProxyConfig struct {
	// BaseURL is the relay server base URL (http:// or https://).
	BaseURL string

	// SessionID scopes the relay socket.
	SessionID string

	// ForceMock skips the live transport entirely (offline/development mode).
	ForceMock bool

	// MockDelay is the simulated reply latency. Default 600ms.
	MockDelay time.Duration

	// ConnectTimeout bounds each dial. Default 10s.
	ConnectTimeout time.Duration

	// Backoff governs the proxy's own reconnect layer, separate from the
	// protocol-level reconnect inside the server-held session.
	Backoff resilience.Backoff

	// Breaker guards dial attempts while the relay is persistently down.
	Breaker resilience.BreakerConfig
}

func (c ProxyConfig) withDefaults() ProxyConfig {
	if c.MockDelay <= 0 {
		c.MockDelay = 600 * time.Millisecond
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	return c
}

// Proxy relays audio/text between a local UI and a server-held voice session
// over a websocket scoped to one session id. When no socket is reachable it
// degrades to a mock session so the UI stays operable — the degradation is
// logged and visible through State, never a silent substitution.
type Proxy struct {
	cfg     ProxyConfig
	events  ProxyEvents
	breaker *resilience.Breaker

	mu        sync.Mutex
	transport Transport
	state     ProxyState
	closed    bool
}

// NewProxy creates a proxy.
func NewProxy(cfg ProxyConfig, events ProxyEvents) *Proxy {
	return &Proxy{
		cfg:     cfg.withDefaults(),
		events:  events,
		breaker: resilience.NewBreaker(cfg.Breaker),
		state:   ProxyIdle,
	}
}

// State returns the observable connection state.
func (p *Proxy) State() ProxyState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Start connects the live transport, or falls back to the mock session when
// forced, when the breaker is open, or when the dial fails.
func (p *Proxy) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.closed || p.transport != nil {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	if p.cfg.ForceMock {
		p.enterMock("mock mode forced")
		return nil
	}
	if err := p.breaker.Allow(); err != nil {
		p.enterMock("relay circuit open")
		return nil
	}

	live := newLiveTransport(p.cfg, p.events, p.onLiveDown)
	if err := live.Start(ctx); err != nil {
		p.breaker.Failure()
		slog.Warn("relay unreachable, falling back to mock session",
			"session_id", p.cfg.SessionID, "error", err)
		p.enterMock("relay dial failed")
		return nil
	}
	p.breaker.Success()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		live.Close()
		return nil
	}
	p.transport = live
	p.state = ProxyLive
	p.mu.Unlock()
	p.events.StateChanged(ProxyLive)
	return nil
}

// onLiveDown runs when the live transport is gone for good (reconnects
// exhausted). The proxy degrades to mock rather than hard-failing the UI.
func (p *Proxy) onLiveDown(err error) {
	p.breaker.Failure()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	if p.transport != nil {
		p.transport.Close()
		p.transport = nil
	}
	p.mu.Unlock()

	slog.Warn("relay connection lost, degrading to mock session",
		"session_id", p.cfg.SessionID, "error", err)
	p.enterMock("relay connection lost")
}

func (p *Proxy) enterMock(reason string) {
	mock := newMockTransport(p.cfg.SessionID, p.cfg.MockDelay, p.events)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.transport = mock
	p.state = ProxyMock
	p.mu.Unlock()

	slog.Info("mock session active", "session_id", p.cfg.SessionID, "reason", reason)
	_ = mock.Start(context.Background())
	p.events.StateChanged(ProxyMock)
}

// SendAudio relays one PCM16LE frame. Returns false when not connected; the
// mock transport accepts and discards audio, returning true.
func (p *Proxy) SendAudio(pcm []byte) bool {
	p.mu.Lock()
	t := p.transport
	p.mu.Unlock()
	if t == nil {
		return false
	}
	return t.SendAudio(pcm)
}

// SendText relays a user text message. Returns false when not connected; in
// mock mode it returns true and schedules a simulated reply.
func (p *Proxy) SendText(text string) bool {
	p.mu.Lock()
	t := p.transport
	p.mu.Unlock()
	if t == nil {
		return false
	}
	return t.SendText(text)
}

// Close tears the proxy down, cancelling any pending reconnect.
func (p *Proxy) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	t := p.transport
	p.transport = nil
	p.state = ProxyClosed
	p.mu.Unlock()

	if t != nil {
		t.Close()
	}
	p.events.StateChanged(ProxyClosed)
}

// liveTransport is the websocket relay connection with its own bounded
// reconnect layer — a second, outer layer around the relay socket, distinct
// from the protocol-to-AI reconnect inside the server-held session.
type liveTransport struct {
	cfg    ProxyConfig
	events ProxyEvents
	onDown func(error)

	mu             sync.Mutex
	conn           *websocket.Conn
	readCancel     context.CancelFunc
	reconnectTimer *time.Timer
	attempts       int
	closed         bool
}

func newLiveTransport(cfg ProxyConfig, events ProxyEvents, onDown func(error)) *liveTransport {
	return &liveTransport{cfg: cfg, events: events, onDown: onDown}
}

func (t *liveTransport) socketURL() (string, error) {
	u, err := url.Parse(t.cfg.BaseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/session/" + t.cfg.SessionID
	return u.String(), nil
}

func (t *liveTransport) Start(ctx context.Context) error {
	target, err := t.socketURL()
	if err != nil {
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, t.cfg.ConnectTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, target, nil)
	if err != nil {
		return err
	}

	t.install(conn)
	return nil
}

// install publishes a freshly dialed conn, announces readiness, and starts
// its read loop. A Close landing while the dial was in flight wins: the conn
// is discarded instead of installed.
func (t *liveTransport) install(conn *websocket.Conn) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "proxy closed")
		return
	}
	readCtx, readCancel := context.WithCancel(context.Background())
	t.conn = conn
	t.attempts = 0
	t.readCancel = readCancel
	t.mu.Unlock()

	t.events.Ready(t.cfg.SessionID)
	go t.readLoop(readCtx, conn)
}

func (t *liveTransport) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.handleClose(err)
			return
		}
		t.dispatch(data)
	}
}

func (t *liveTransport) dispatch(data []byte) {
	var base Message
	if err := json.Unmarshal(data, &base); err != nil {
		return
	}

	switch base.Type {
	case "ready":
		var msg ReadyMessage
		if err := json.Unmarshal(data, &msg); err == nil {
			t.events.Ready(msg.SessionID)
		}
	case "transcript":
		var msg TranscriptMessage
		if err := json.Unmarshal(data, &msg); err == nil {
			t.events.Transcript(msg.Text, msg.Speaker, msg.Final)
		}
	case "audio":
		var msg AudioMessage
		if err := json.Unmarshal(data, &msg); err == nil {
			if pcm, err := base64.StdEncoding.DecodeString(msg.Audio); err == nil {
				t.events.Audio(pcm)
			}
		}
	case "error":
		var msg ErrorMessage
		if err := json.Unmarshal(data, &msg); err == nil {
			t.events.ErrorEvent(msg.Code, msg.Message)
		}
	case "disconnected":
		var msg DisconnectedMessage
		if err := json.Unmarshal(data, &msg); err == nil {
			t.events.ErrorEvent("DISCONNECTED", msg.Reason)
		}
	default:
		slog.Debug("ignoring unknown relay message", "type", base.Type)
	}
}

func (t *liveTransport) handleClose(err error) {
	t.mu.Lock()
	closed := t.closed
	t.conn = nil
	t.mu.Unlock()

	if closed || websocket.CloseStatus(err) == websocket.StatusNormalClosure {
		return
	}
	t.scheduleReconnect(err)
}

func (t *liveTransport) scheduleReconnect(cause error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.attempts++
	attempt := t.attempts
	if t.cfg.Backoff.Exhausted(attempt) {
		t.mu.Unlock()
		t.onDown(cause)
		return
	}
	delay := t.cfg.Backoff.Delay(attempt)
	t.reconnectTimer = time.AfterFunc(delay, func() {
		t.mu.Lock()
		closed := t.closed
		t.mu.Unlock()
		if closed {
			return
		}
		if err := t.redial(); err != nil {
			t.scheduleReconnect(err)
		}
	})
	t.mu.Unlock()

	slog.Info("relay reconnect scheduled", "session_id", t.cfg.SessionID, "attempt", attempt, "delay", delay)
}

// redial reopens the socket without resetting closed-state bookkeeping.
func (t *liveTransport) redial() error {
	target, err := t.socketURL()
	if err != nil {
		return err
	}

	dialCtx, cancel := context.WithTimeout(context.Background(), t.cfg.ConnectTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, target, nil)
	if err != nil {
		return err
	}

	t.install(conn)
	return nil
}

func (t *liveTransport) SendAudio(pcm []byte) bool {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return conn.Write(ctx, websocket.MessageBinary, pcm) == nil
}

func (t *liveTransport) SendText(text string) bool {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return wsjson.Write(ctx, conn, TextMessage{Type: "text", Text: text}) == nil
}

func (t *liveTransport) Close() {
	t.mu.Lock()
	t.closed = true
	if t.reconnectTimer != nil {
		t.reconnectTimer.Stop()
		t.reconnectTimer = nil
	}
	conn := t.conn
	t.conn = nil
	readCancel := t.readCancel
	t.readCancel = nil
	t.mu.Unlock()

	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "proxy closed")
	}
	if readCancel != nil {
		readCancel()
	}
}
