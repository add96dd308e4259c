package audio

import (
	"context"
	"math"
	"testing"
	"time"

	apperr "github.com/prepdeck/voicecore/internal/errors"
)

func TestFrameInvariants(t *testing.T) {
	if SampleRate != 16000 {
		t.Errorf("SampleRate = %d, want 16000", SampleRate)
	}
	if FrameSize != SampleRate/10 {
		t.Errorf("FrameSize = %d, want %d", FrameSize, SampleRate/10)
	}
	if FrameSize != 1600 {
		t.Errorf("FrameSize = %d, want 1600", FrameSize)
	}
	if FrameBytes != FrameSize*2 {
		t.Errorf("FrameBytes = %d, want %d", FrameBytes, FrameSize*2)
	}
}

func TestNewCaptureRejectsBadHardwareRate(t *testing.T) {
	_, err := NewCapture(CaptureConfig{HardwareRate: 44100})
	if err == nil {
		t.Fatal("expected error for hardware rate not a multiple of 16000")
	}
	if !apperr.IsCode(err, apperr.CodeConfigInvalid) {
		t.Errorf("error code = %q, want %q", apperr.CodeOf(err), apperr.CodeConfigInvalid)
	}
}

func TestStartCaptureBeforeInitialize(t *testing.T) {
	c, err := NewCapture(CaptureConfig{})
	if err != nil {
		t.Fatalf("NewCapture error: %v", err)
	}

	err = c.StartCapture()
	if err == nil {
		t.Fatal("StartCapture before Initialize should fail")
	}
	if !apperr.IsCode(err, apperr.CodeNotInitialized) {
		t.Errorf("error code = %q, want %q", apperr.CodeOf(err), apperr.CodeNotInitialized)
	}
}

func TestReadFrameEmpty(t *testing.T) {
	c, err := NewCapture(CaptureConfig{})
	if err != nil {
		t.Fatalf("NewCapture error: %v", err)
	}

	if frame, ok := c.ReadFrame(); ok || frame != nil {
		t.Errorf("ReadFrame on empty ring = (%v, %v), want (nil, false)", frame, ok)
	}
}

func TestReadFrameReturnsBufferedAudio(t *testing.T) {
	c, err := NewCapture(CaptureConfig{})
	if err != nil {
		t.Fatalf("NewCapture error: %v", err)
	}

	samples := make([]int16, FrameSize)
	for i := range samples {
		samples[i] = int16(i % 100)
	}
	c.ring.Write(samples)

	frame, ok := c.ReadFrame()
	if !ok {
		t.Fatal("ReadFrame should succeed with a buffered frame")
	}
	if len(frame) != FrameBytes {
		t.Fatalf("frame length = %d, want %d", len(frame), FrameBytes)
	}
	decoded := DecodePCM16(frame)
	for i := range samples {
		if decoded[i] != samples[i] {
			t.Fatalf("decoded[%d] = %d, want %d", i, decoded[i], samples[i])
		}
	}
}

func TestBuffered(t *testing.T) {
	c, err := NewCapture(CaptureConfig{})
	if err != nil {
		t.Fatalf("NewCapture error: %v", err)
	}

	if got := c.Buffered(); got != 0 {
		t.Errorf("Buffered = %d, want 0", got)
	}
	c.ring.Write(make([]int16, FrameSize*2))
	if got := c.Buffered(); got != 2 {
		t.Errorf("Buffered = %d, want 2", got)
	}
}

// sineFrame generates one frame of a tone at the session rate.
func sineFrame(freq float64) []int16 {
	samples := make([]int16, FrameSize)
	for i := range samples {
		v := math.Sin(2 * math.Pi * freq * float64(i) / SampleRate)
		samples[i] = int16(v * 16000)
	}
	return samples
}

func TestFramesDeliversSineWave(t *testing.T) {
	c, err := NewCapture(CaptureConfig{})
	if err != nil {
		t.Fatalf("NewCapture error: %v", err)
	}

	source := sineFrame(440)
	c.ring.Write(source)

	c.mu.Lock()
	c.capturing = true
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var frame []byte
	for f := range c.Frames(ctx) {
		frame = f
		break
	}
	if frame == nil {
		t.Fatal("Frames yielded nothing")
	}
	if len(frame) != FrameBytes {
		t.Fatalf("frame length = %d, want %d", len(frame), FrameBytes)
	}

	decoded := DecodePCM16(frame)
	for i := range source {
		if decoded[i] != source[i] {
			t.Fatalf("decoded[%d] = %d, want %d", i, decoded[i], source[i])
		}
	}
}

func TestFramesStopsWhenCaptureStops(t *testing.T) {
	c, err := NewCapture(CaptureConfig{})
	if err != nil {
		t.Fatalf("NewCapture error: %v", err)
	}

	// Not capturing: the sequence must terminate immediately.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	count := 0
	for range c.Frames(ctx) {
		count++
	}
	if count != 0 {
		t.Errorf("Frames yielded %d frames while not capturing, want 0", count)
	}
}

func TestFramesHonorsContext(t *testing.T) {
	c, err := NewCapture(CaptureConfig{})
	if err != nil {
		t.Fatalf("NewCapture error: %v", err)
	}

	c.mu.Lock()
	c.capturing = true
	c.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		for range c.Frames(ctx) {
		}
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Error("Frames did not terminate after context cancellation")
	}
}

func TestDisposeIdempotent(t *testing.T) {
	c, err := NewCapture(CaptureConfig{})
	if err != nil {
		t.Fatalf("NewCapture error: %v", err)
	}

	c.ring.Write(make([]int16, FrameSize))
	c.Dispose()
	c.Dispose()

	if got := c.Buffered(); got != 0 {
		t.Errorf("Buffered = %d after Dispose, want 0", got)
	}
	if c.isCapturing() {
		t.Error("capture should not be active after Dispose")
	}
}
