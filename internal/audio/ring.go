// Package audio handles microphone capture, PCM16 framing, and the lock-free
// handoff between the audio callback and the consumer.
package audio

import "sync/atomic"

// Ring is a fixed-capacity single-producer/single-consumer sample buffer.
//
// The producer is the portaudio callback and must never allocate, lock, or
// block; the consumer is the session goroutine draining frames. The only
// synchronization is the pair of monotonically increasing atomic indices:
// the writer commits sample payloads before publishing the new write index,
// and the reader copies a frame out before advancing the read index. Both
// indices count samples since creation and are reduced modulo the capacity
// only when addressing the backing array.
//
// Overrun policy: when the producer laps the consumer, the oldest samples are
// overwritten. This is an accepted lossy contract — the reader detects the lap,
// skips forward to the oldest intact data, and never yields a torn frame.
type Ring struct {
	samples  []int16
	capacity uint64
	writeIdx atomic.Uint64
	readIdx  atomic.Uint64
}

// NewRing creates a ring holding frames×frameSize samples.
func NewRing(frameSize, frames int) *Ring {
	n := frameSize * frames
	return &Ring{
		samples:  make([]int16, n),
		capacity: uint64(n),
	}
}

// Write appends samples, overwriting the oldest data on overrun.
// Producer context only.
func (r *Ring) Write(src []int16) {
	w := r.writeIdx.Load()
	for i, s := range src {
		r.samples[(w+uint64(i))%r.capacity] = s
	}
	// Publish after the payload is fully committed.
	r.writeIdx.Store(w + uint64(len(src)))
}

// TryRead copies exactly len(dst) samples into dst and reports whether a full
// frame was available. An empty buffer yields ok=false, never an error.
// Consumer context only.
func (r *Ring) TryRead(dst []int16) bool {
	n := uint64(len(dst))
	if n == 0 || n > r.capacity {
		return false
	}

	read := r.readIdx.Load()
	write := r.writeIdx.Load()

	// Lapped: skip to the oldest sample that is still intact.
	if write-read > r.capacity {
		read = write - r.capacity
	}
	if write-read < n {
		return false
	}

	for i := uint64(0); i < n; i++ {
		dst[i] = r.samples[(read+i)%r.capacity]
	}

	// The producer may have lapped us mid-copy; if so the frame is torn.
	// Discard it and resync to the newest data.
	if r.writeIdx.Load()-read > r.capacity {
		r.readIdx.Store(r.writeIdx.Load())
		return false
	}

	r.readIdx.Store(read + n)
	return true
}

// Available returns the number of unread samples.
func (r *Ring) Available() int {
	read := r.readIdx.Load()
	write := r.writeIdx.Load()
	if write-read > r.capacity {
		return int(r.capacity)
	}
	return int(write - read)
}

// Reset discards all buffered samples. Consumer context only.
func (r *Ring) Reset() {
	r.readIdx.Store(r.writeIdx.Load())
}
