package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Canned interviewer lines the mock cycles through.
var mockReplies = []string{
	"Tell me about a challenging project you worked on recently.",
	"How would you approach debugging a production issue under time pressure?",
	"What trade-offs did you consider in that design?",
	"Can you walk me through how you would scale that system?",
}

// Stands in for the speech-to-text result the live backend would produce.
const mockSpokenTranscript = "[simulated] transcribed voice answer"

// mockTransport simulates a session locally: replies arrive after a fixed
// delay so the UI stays operable without a live backend. Audio frames are
// discarded but still trigger a simulated exchange.
type mockTransport struct {
	sessionID string
	delay     time.Duration
	events    ProxyEvents

	mu           sync.Mutex
	timers       []*time.Timer
	replies      int
	audioPending bool
	closed       bool
}

func newMockTransport(sessionID string, delay time.Duration, events ProxyEvents) *mockTransport {
	return &mockTransport{sessionID: sessionID, delay: delay, events: events}
}

// Start announces readiness after the configured delay, mirroring the
// handshake latency of a real relay connection.
func (m *mockTransport) Start(ctx context.Context) error {
	m.after(m.delay, func() {
		m.events.Ready(m.sessionID)
	})
	return nil
}

// SendAudio accepts and discards the frame. The first frame after an idle
// stretch schedules a canned user transcript plus assistant reply, so
// audio-only clients see the same exchange shape as against a live backend.
// Further frames arriving while that exchange is pending are swallowed.
func (m *mockTransport) SendAudio(pcm []byte) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	if m.audioPending {
		m.mu.Unlock()
		return true
	}
	m.audioPending = true
	n := m.replies
	m.replies++
	m.mu.Unlock()

	m.after(m.delay/2, func() {
		m.events.Transcript(mockSpokenTranscript, "user", true)
	})
	reply := mockReplies[n%len(mockReplies)]
	m.after(m.delay, func() {
		m.events.Transcript(fmt.Sprintf("[simulated] %s", reply), "assistant", true)
		m.mu.Lock()
		m.audioPending = false
		m.mu.Unlock()
	})
	return true
}

// SendText echoes the user text back as a final transcript, then schedules a
// simulated assistant reply.
func (m *mockTransport) SendText(text string) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	n := m.replies
	m.replies++
	m.mu.Unlock()

	m.after(m.delay/2, func() {
		m.events.Transcript(text, "user", true)
	})
	reply := mockReplies[n%len(mockReplies)]
	m.after(m.delay, func() {
		m.events.Transcript(fmt.Sprintf("[simulated] %s", reply), "assistant", true)
	})
	return true
}

// after arms a timer that is cancelled on Close.
func (m *mockTransport) after(d time.Duration, fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	timer := time.AfterFunc(d, func() {
		m.mu.Lock()
		closed := m.closed
		m.mu.Unlock()
		if closed {
			return
		}
		fn()
	})
	m.timers = append(m.timers, timer)
}

func (m *mockTransport) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	timers := m.timers
	m.timers = nil
	m.mu.Unlock()

	for _, t := range timers {
		t.Stop()
	}
	slog.Debug("mock transport closed", "session_id", m.sessionID)
}
