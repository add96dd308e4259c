package realtime

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

	apperr "github.com/prepdeck/voicecore/internal/errors"
	"github.com/prepdeck/voicecore/internal/resilience"
)

// State is the connection state of a Client.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	return [...]string{"disconnected", "connecting", "connected"}[s]
}

// DisconnectReason classifies why the connection ended for good.
type DisconnectReason string

const (
	// ReasonUserClosed means Disconnect was called; never retried.
	ReasonUserClosed DisconnectReason = "USER_STOPPED"

	// ReasonConnectionLost means the remote dropped the connection and
	// reconnection is disabled or exhausted.
	ReasonConnectionLost DisconnectReason = "CONNECTION_LOST"
)

// Handler receives decoded inbound events. The read loop invokes methods
// sequentially, so all events from one underlying message arrive in the order
// produced. A client has exactly one handler, fixed at construction.
type Handler interface {
	SessionCreated(meta SessionMeta)
	Transcript(text string)
	AudioDelta(pcm []byte)
	RemoteError(detail ErrorDetail)
	Disconnected(reason DisconnectReason, cause error)
}

const (
	subprotocol           = "realtime"
	defaultAPIVersion     = "2024-10-01-preview"
	defaultConnectTimeout = 10 * time.Second
	writeTimeout          = 5 * time.Second
	readLimit             = 1 << 24 // audio deltas can be large
)

// ClientConfig holds connection settings for the realtime endpoint.
type ClientConfig struct {
	// Endpoint is the resource base URL (https:// or wss://).
	Endpoint string

	// APIKey is sent as the api-key header.
	APIKey string

	// Deployment is the realtime model deployment id.
	Deployment string

	// APIVersion defaults to defaultAPIVersion.
	APIVersion string

	// ConnectTimeout bounds each connection establishment attempt.
	ConnectTimeout time.Duration

	// AutoReconnect enables reconnection on unexpected close.
	AutoReconnect bool

	// Backoff governs reconnect delays and the attempt limit.
	Backoff resilience.Backoff

	// OnReconnect is notified once per scheduled reconnect attempt. Optional.
	OnReconnect func(attempt int)
}

func (c ClientConfig) withDefaults() ClientConfig {
	if c.APIVersion == "" {
		c.APIVersion = defaultAPIVersion
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	return c
}

// Client is a persistent duplex connection to the realtime endpoint. It owns
// at most one websocket at a time; sends are fire-and-forget against the
// transport with no internal queue, so callers must handle NOT_CONNECTED.
type Client struct {
	cfg     ClientConfig
	handler Handler

	mu             sync.Mutex
	conn           *websocket.Conn
	state          State
	attempts       int
	reconnectTimer *time.Timer
	readCancel     context.CancelFunc
	closed         bool
}

// NewClient creates a client. The handler must be non-nil.
func NewClient(cfg ClientConfig, handler Handler) *Client {
	return &Client{cfg: cfg.withDefaults(), handler: handler}
}

// dialURL builds the websocket URL from the configured endpoint.
func (c *Client) dialURL() (string, error) {
	u, err := url.Parse(c.cfg.Endpoint)
	if err != nil {
		return "", apperr.Wrap(err, apperr.CodeConfigInvalid, "malformed endpoint")
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/openai/realtime"
	}
	q := u.Query()
	q.Set("api-version", c.cfg.APIVersion)
	if c.cfg.Deployment != "" {
		q.Set("deployment", c.cfg.Deployment)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Connect opens the transport and resolves once the websocket handshake
// completes. Establishment is bounded by ConnectTimeout. A call while already
// connected or connecting is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	return c.connect(ctx, false)
}

// connect dials and installs the websocket. The reconnect path must never
// resurrect a client the caller has disconnected, so only a caller-initiated
// connect clears the closed flag, and a Disconnect landing while the dial is
// in flight wins: the freshly opened conn is closed, not installed.
func (c *Client) connect(ctx context.Context, reconnect bool) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	if c.closed {
		if reconnect {
			c.mu.Unlock()
			return nil
		}
		c.closed = false
	}
	c.state = StateConnecting
	c.mu.Unlock()

	target, err := c.dialURL()
	if err != nil {
		c.setDisconnected()
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, target, &websocket.DialOptions{
		Subprotocols: []string{subprotocol},
		HTTPHeader:   map[string][]string{"api-key": {c.cfg.APIKey}},
	})
	if err != nil {
		c.setDisconnected()
		return apperr.Wrap(err, apperr.CodeConnectionFailed, "transport failed to open")
	}
	conn.SetReadLimit(readLimit)

	c.mu.Lock()
	if c.closed {
		c.state = StateDisconnected
		c.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "client disconnect")
		return apperr.New(apperr.CodeConnectionFailed, "client was disconnected while connecting")
	}

	readCtx, readCancel := context.WithCancel(context.Background())
	c.conn = conn
	c.state = StateConnected
	c.attempts = 0
	c.readCancel = readCancel
	c.mu.Unlock()

	go c.readLoop(readCtx, conn)
	return nil
}

func (c *Client) setDisconnected() {
	c.mu.Lock()
	c.state = StateDisconnected
	c.mu.Unlock()
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			c.handleClose(err)
			return
		}
		c.dispatch(data)
	}
}

// dispatch decodes one inbound message and invokes the matching handler
// callback. Unknown event types are logged and dropped, never escalated —
// the receive path favors forward compatibility over strict validation.
func (c *Client) dispatch(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		slog.Debug("dropping unparseable message", "error", err)
		return
	}

	switch env.Type {
	case typeSessionCreated:
		var evt sessionCreatedEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			slog.Debug("bad session.created payload", "error", err)
			return
		}
		c.handler.SessionCreated(evt.Session)

	case typeTranscriptionCompleted:
		var evt transcriptionCompletedEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			slog.Debug("bad transcription payload", "error", err)
			return
		}
		c.handler.Transcript(evt.Transcript)

	case typeResponseAudioDelta:
		var evt audioDeltaEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			slog.Debug("bad audio delta payload", "error", err)
			return
		}
		pcm, err := base64.StdEncoding.DecodeString(evt.Delta)
		if err != nil {
			slog.Debug("bad audio delta encoding", "error", err)
			return
		}
		c.handler.AudioDelta(pcm)

	case typeError:
		var evt errorEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			slog.Debug("bad error payload", "error", err)
			return
		}
		c.handler.RemoteError(evt.Error)

	default:
		slog.Debug("ignoring unknown event", "type", env.Type)
	}
}

// handleClose runs when the read loop exits. Caller-initiated closes and
// normal closures never trigger reconnection.
func (c *Client) handleClose(err error) {
	c.mu.Lock()
	callerClosed := c.closed
	c.conn = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	if callerClosed || websocket.CloseStatus(err) == websocket.StatusNormalClosure {
		c.handler.Disconnected(ReasonUserClosed, nil)
		return
	}

	if !c.cfg.AutoReconnect {
		c.handler.Disconnected(ReasonConnectionLost, err)
		return
	}

	c.scheduleReconnect(err)
}

// scheduleReconnect arms a one-shot timer for the next attempt. Each failed
// attempt increments the counter; a successful Connect resets it to zero so a
// later unrelated drop starts backoff fresh. Exceeding the attempt limit
// surfaces a terminal disconnect.
func (c *Client) scheduleReconnect(cause error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.attempts++
	attempt := c.attempts
	if c.cfg.Backoff.Exhausted(attempt) {
		c.mu.Unlock()
		slog.Warn("reconnect attempts exhausted", "attempts", attempt-1)
		c.handler.Disconnected(ReasonConnectionLost, cause)
		return
	}
	delay := c.cfg.Backoff.Delay(attempt)
	c.reconnectTimer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return
		}
		if err := c.connect(context.Background(), true); err != nil {
			c.scheduleReconnect(err)
		}
	})
	c.mu.Unlock()

	if c.cfg.OnReconnect != nil {
		c.cfg.OnReconnect(attempt)
	}
	slog.Info("reconnect scheduled", "attempt", attempt, "delay", delay)
}

// send writes one JSON event to the transport.
func (c *Client) send(v any) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.state == StateConnected
	c.mu.Unlock()

	if !connected || conn == nil {
		return apperr.New(apperr.CodeNotConnected, "client is not connected")
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, conn, v); err != nil {
		return apperr.Wrap(err, apperr.CodeNotConnected, "transport write failed")
	}
	return nil
}

// SendAudio base64-encodes pcm and emits an append-audio event.
func (c *Client) SendAudio(pcm []byte) error {
	return c.send(audioAppendEvent{
		Type:  typeInputAudioAppend,
		Audio: base64.StdEncoding.EncodeToString(pcm),
	})
}

// CommitAudio emits an input-buffer commit control event.
func (c *Client) CommitAudio() error {
	return c.send(controlEvent{Type: typeInputAudioCommit})
}

// ClearAudio emits an input-buffer clear control event.
func (c *Client) ClearAudio() error {
	return c.send(controlEvent{Type: typeInputAudioClear})
}

// SendText emits a user message item followed by a response request. Both
// messages must go out for the remote side to produce a reply.
func (c *Client) SendText(text string) error {
	if err := c.send(itemCreateEvent{
		Type: typeConversationItemCreate,
		Item: conversationItem{
			Type:    "message",
			Role:    "user",
			Content: []contentPart{{Type: "input_text", Text: text}},
		},
	}); err != nil {
		return err
	}
	return c.send(controlEvent{Type: typeResponseCreate})
}

// UpdateSession emits a partial session-update event carrying only the
// fields set in u.
func (c *Client) UpdateSession(u SessionUpdate) error {
	return c.send(sessionUpdateEvent{Type: typeSessionUpdate, Session: u})
}

// Disconnect closes the transport with the normal closure code so the
// reconnection logic does not trigger, and cancels any pending reconnect
// timer. Safe to call multiple times.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	c.closed = true
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	conn := c.conn
	c.conn = nil
	c.state = StateDisconnected
	readCancel := c.readCancel
	c.readCancel = nil
	c.mu.Unlock()

	if conn != nil {
		err := conn.Close(websocket.StatusNormalClosure, "client disconnect")
		if readCancel != nil {
			readCancel()
		}
		return err
	}
	if readCancel != nil {
		readCancel()
	}
	return nil
}
