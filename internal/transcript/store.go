// Package transcript provides bounded, append-only transcript storage keyed
// by session id.
package transcript

import (
	"sync"
	"time"
)

// DefaultMaxEntries caps stored entries per session.
const DefaultMaxEntries = 1000

// Speaker identifies who produced a transcript entry.
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// Entry is one timestamped piece of recognized or generated speech.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	Final     bool      `json:"final"`
}

// Query filters and paginates a transcript listing. A nil Final matches both
// final and partial entries; an empty Speaker matches all speakers.
type Query struct {
	Speaker Speaker
	Final   *bool
	Offset  int
	Limit   int
}

// Store holds per-session transcripts in memory. Each session is capped at
// maxEntries; when the cap is hit the oldest entries are dropped. That
// drop-oldest eviction is a contract, not incidental behavior — history
// endpoints must not assume a complete record for long sessions.
type Store struct {
	mu         sync.RWMutex
	bySession  map[string][]Entry
	maxEntries int
}

// NewStore creates a store capping each session at maxEntries
// (DefaultMaxEntries when <= 0).
func NewStore(maxEntries int) *Store {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Store{
		bySession:  make(map[string][]Entry),
		maxEntries: maxEntries,
	}
}

// Append stores one entry for the session, evicting the oldest entries when
// over the cap. A zero timestamp is filled with the current time.
func (s *Store) Append(sessionID string, e Entry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries := append(s.bySession[sessionID], e)
	if len(entries) > s.maxEntries {
		entries = entries[len(entries)-s.maxEntries:]
	}
	s.bySession[sessionID] = entries
}

// List returns matching entries in insertion order plus the total match count
// before pagination.
func (s *Store) List(sessionID string, q Query) ([]Entry, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []Entry
	for _, e := range s.bySession[sessionID] {
		if q.Speaker != "" && e.Speaker != q.Speaker {
			continue
		}
		if q.Final != nil && e.Final != *q.Final {
			continue
		}
		matched = append(matched, e)
	}

	total := len(matched)
	if q.Offset > 0 {
		if q.Offset >= total {
			return nil, total
		}
		matched = matched[q.Offset:]
	}
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}

	out := make([]Entry, len(matched))
	copy(out, matched)
	return out, total
}

// Count returns the number of stored entries for the session.
func (s *Store) Count(sessionID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.bySession[sessionID])
}

// Remove deletes all entries for the session.
func (s *Store) Remove(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.bySession, sessionID)
}
