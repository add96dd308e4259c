// Package resilience provides fault tolerance patterns
package resilience

import (
	"math/rand/v2"
	"time"
)

// Backoff configuration constants
const (
	DefaultMaxAttempts  = 5
	DefaultBaseDelay    = 1 * time.Second
	DefaultMaxDelay     = 30 * time.Second
	DefaultJitterFactor = 0.2 // 20% jitter
)

// Backoff computes exponential reconnect delays: base, 2×base, 4×base, ...
// capped at MaxDelay. Attempt numbering starts at 1.
type Backoff struct {
	MaxAttempts  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64
}

// DefaultBackoff returns settings tuned for flaky realtime connections.
func DefaultBackoff() Backoff {
	return Backoff{
		MaxAttempts:  DefaultMaxAttempts,
		BaseDelay:    DefaultBaseDelay,
		MaxDelay:     DefaultMaxDelay,
		JitterFactor: DefaultJitterFactor,
	}
}

// Delay returns the wait before the given attempt (1-based).
// Attempt 1 waits BaseDelay, attempt 2 waits 2×BaseDelay, and so on.
func (b Backoff) Delay(attempt int) time.Duration {
	b = b.withDefaults()
	if attempt < 1 {
		attempt = 1
	}
	delay := b.BaseDelay << min(attempt-1, 10) // cap shift to prevent overflow
	if delay > b.MaxDelay || delay <= 0 {
		delay = b.MaxDelay
	}
	if b.JitterFactor > 0 {
		jitter := float64(delay) * b.JitterFactor * (rand.Float64() - 0.5)
		delay = time.Duration(float64(delay) + jitter)
	}
	return delay
}

// Exhausted reports whether the given attempt exceeds MaxAttempts.
func (b Backoff) Exhausted(attempt int) bool {
	return attempt > b.withDefaults().MaxAttempts
}

func (b Backoff) withDefaults() Backoff {
	if b.MaxAttempts <= 0 {
		b.MaxAttempts = DefaultMaxAttempts
	}
	if b.BaseDelay <= 0 {
		b.BaseDelay = DefaultBaseDelay
	}
	if b.MaxDelay <= 0 {
		b.MaxDelay = DefaultMaxDelay
	}
	return b
}
