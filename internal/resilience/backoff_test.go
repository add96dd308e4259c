package resilience

import (
	"testing"
	"time"
)

func TestBackoffExponentialDelays(t *testing.T) {
	b := Backoff{
		MaxAttempts: 10,
		BaseDelay:   1 * time.Second,
		MaxDelay:    30 * time.Second,
	}

	wants := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second, // capped
		30 * time.Second,
	}
	for i, want := range wants {
		if got := b.Delay(i + 1); got != want {
			t.Errorf("Delay(%d) = %v, want %v", i+1, got, want)
		}
	}
}

func TestBackoffClampsAttempt(t *testing.T) {
	b := Backoff{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: 30 * time.Second}
	if got := b.Delay(0); got != time.Second {
		t.Errorf("Delay(0) = %v, want %v", got, time.Second)
	}
	if got := b.Delay(-3); got != time.Second {
		t.Errorf("Delay(-3) = %v, want %v", got, time.Second)
	}
}

func TestBackoffJitterStaysBounded(t *testing.T) {
	b := Backoff{
		MaxAttempts:  5,
		BaseDelay:    1 * time.Second,
		MaxDelay:     30 * time.Second,
		JitterFactor: 0.2,
	}

	for i := 0; i < 100; i++ {
		d := b.Delay(2) // nominal 2s, ±10%
		if d < 1800*time.Millisecond || d > 2200*time.Millisecond {
			t.Fatalf("jittered Delay(2) = %v, outside [1.8s, 2.2s]", d)
		}
	}
}

func TestBackoffExhausted(t *testing.T) {
	b := Backoff{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: time.Minute}

	for attempt := 1; attempt <= 3; attempt++ {
		if b.Exhausted(attempt) {
			t.Errorf("Exhausted(%d) = true, want false", attempt)
		}
	}
	if !b.Exhausted(4) {
		t.Error("Exhausted(4) = false, want true")
	}
}

func TestBackoffDefaults(t *testing.T) {
	var b Backoff
	if got := b.Delay(1); got != DefaultBaseDelay {
		t.Errorf("zero-value Delay(1) = %v, want %v", got, DefaultBaseDelay)
	}
	if !b.Exhausted(DefaultMaxAttempts + 1) {
		t.Errorf("zero-value Exhausted(%d) = false, want true", DefaultMaxAttempts+1)
	}
}
