package transcript

import (
	"fmt"
	"testing"
	"time"
)

func TestAppendAndList(t *testing.T) {
	s := NewStore(10)
	s.Append("sess1", Entry{Speaker: SpeakerUser, Text: "hello", Final: true})

	entries, total := s.List("sess1", Query{})
	if total != 1 || len(entries) != 1 {
		t.Fatalf("got %d entries (total %d), want 1", len(entries), total)
	}
	if entries[0].Text != "hello" || entries[0].Speaker != SpeakerUser {
		t.Errorf("unexpected entry: %+v", entries[0])
	}
	if entries[0].Timestamp.IsZero() {
		t.Error("zero timestamp should be filled in")
	}
}

func TestCapEvictsOldest(t *testing.T) {
	s := NewStore(5)
	for i := 0; i < 10; i++ {
		s.Append("sess1", Entry{Speaker: SpeakerUser, Text: fmt.Sprintf("msg-%d", i)})
	}

	entries, total := s.List("sess1", Query{})
	if total != 5 {
		t.Fatalf("total = %d, want 5", total)
	}
	// Drop-oldest: the survivors are the five most recent.
	if entries[0].Text != "msg-5" {
		t.Errorf("oldest surviving entry = %q, want msg-5", entries[0].Text)
	}
	if entries[4].Text != "msg-9" {
		t.Errorf("newest entry = %q, want msg-9", entries[4].Text)
	}
}

func TestListFiltersBySpeaker(t *testing.T) {
	s := NewStore(10)
	s.Append("sess1", Entry{Speaker: SpeakerUser, Text: "question"})
	s.Append("sess1", Entry{Speaker: SpeakerAssistant, Text: "answer"})

	entries, total := s.List("sess1", Query{Speaker: SpeakerAssistant})
	if total != 1 || entries[0].Text != "answer" {
		t.Errorf("assistant filter returned %v (total %d)", entries, total)
	}
}

func TestListFiltersByFinal(t *testing.T) {
	s := NewStore(10)
	s.Append("sess1", Entry{Speaker: SpeakerUser, Text: "partial", Final: false})
	s.Append("sess1", Entry{Speaker: SpeakerUser, Text: "complete", Final: true})

	final := true
	entries, total := s.List("sess1", Query{Final: &final})
	if total != 1 || entries[0].Text != "complete" {
		t.Errorf("final filter returned %v (total %d)", entries, total)
	}

	partial := false
	entries, _ = s.List("sess1", Query{Final: &partial})
	if len(entries) != 1 || entries[0].Text != "partial" {
		t.Errorf("partial filter returned %v", entries)
	}
}

func TestListPaginates(t *testing.T) {
	s := NewStore(100)
	for i := 0; i < 10; i++ {
		s.Append("sess1", Entry{Speaker: SpeakerUser, Text: fmt.Sprintf("msg-%d", i)})
	}

	entries, total := s.List("sess1", Query{Offset: 4, Limit: 3})
	if total != 10 {
		t.Errorf("total = %d, want 10 — total counts matches before pagination", total)
	}
	if len(entries) != 3 {
		t.Fatalf("page size = %d, want 3", len(entries))
	}
	if entries[0].Text != "msg-4" || entries[2].Text != "msg-6" {
		t.Errorf("page = %q..%q, want msg-4..msg-6", entries[0].Text, entries[2].Text)
	}

	entries, total = s.List("sess1", Query{Offset: 20})
	if len(entries) != 0 || total != 10 {
		t.Errorf("out-of-range offset returned %d entries (total %d)", len(entries), total)
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	s := NewStore(10)
	s.Append("sess1", Entry{Speaker: SpeakerUser, Text: "one"})
	s.Append("sess2", Entry{Speaker: SpeakerUser, Text: "two"})

	if got := s.Count("sess1"); got != 1 {
		t.Errorf("sess1 count = %d, want 1", got)
	}
	entries, _ := s.List("sess2", Query{})
	if len(entries) != 1 || entries[0].Text != "two" {
		t.Errorf("sess2 entries = %v", entries)
	}
}

func TestRemove(t *testing.T) {
	s := NewStore(10)
	s.Append("sess1", Entry{Speaker: SpeakerUser, Text: "bye"})
	s.Remove("sess1")

	if got := s.Count("sess1"); got != 0 {
		t.Errorf("count = %d after Remove, want 0", got)
	}
}

func TestListReturnsCopy(t *testing.T) {
	s := NewStore(10)
	s.Append("sess1", Entry{Speaker: SpeakerUser, Text: "original", Timestamp: time.Now()})

	entries, _ := s.List("sess1", Query{})
	entries[0].Text = "mutated"

	again, _ := s.List("sess1", Query{})
	if again[0].Text != "original" {
		t.Error("List should return a copy, not the backing slice")
	}
}
