package audio

import (
	"context"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	apperr "github.com/prepdeck/voicecore/internal/errors"
)

// Session audio invariants. The wire format is fixed for the whole session
// regardless of the hardware device rate.
const (
	// SampleRate is the session sample rate in Hz.
	SampleRate = 16000

	// FrameDuration is the length of one frame.
	FrameDuration = 100 * time.Millisecond

	// FrameSize is samples per frame: SampleRate × 0.1.
	FrameSize = SampleRate / 10

	// FrameBytes is the serialized size of one frame (2 bytes per sample).
	FrameBytes = FrameSize * 2

	// DefaultRingFrames buffers 1 second of audio.
	DefaultRingFrames = 10

	// DefaultHardwareRate is the device rate the capture stream is opened at.
	DefaultHardwareRate = 48000

	// pollInterval is how long the frame sequence waits when the ring is empty.
	pollInterval = 10 * time.Millisecond

	// callbackFrames is samples per portaudio callback at the hardware rate
	// (10 ms at 48 kHz).
	callbackFrames = 480
)

// CaptureConfig holds capture settings.
type CaptureConfig struct {
	// HardwareRate is the device sample rate. Must be a positive integer
	// multiple of SampleRate.
	HardwareRate int

	// RingFrames is the ring capacity in frames.
	RingFrames int
}

func (c CaptureConfig) withDefaults() CaptureConfig {
	if c.HardwareRate <= 0 {
		c.HardwareRate = DefaultHardwareRate
	}
	if c.RingFrames <= 0 {
		c.RingFrames = DefaultRingFrames
	}
	return c
}

// Capture owns a microphone input stream and publishes 100 ms PCM16 frames.
//
// The portaudio callback decimates device-rate samples to 16 kHz and writes
// them into the ring without allocating or locking; the application drains
// frames through Frames or ReadFrame on its own goroutine.
type Capture struct {
	cfg     CaptureConfig
	ring    *Ring
	dec     *Decimator
	scratch []int16

	mu          sync.Mutex
	stream      *portaudio.Stream
	initialized bool
	capturing   bool
}

// NewCapture creates a capture with the given config.
func NewCapture(cfg CaptureConfig) (*Capture, error) {
	cfg = cfg.withDefaults()
	if cfg.HardwareRate%SampleRate != 0 {
		return nil, apperr.Newf(apperr.CodeConfigInvalid,
			"hardware rate %d is not a multiple of %d", cfg.HardwareRate, SampleRate)
	}
	dec := NewDecimator(cfg.HardwareRate)
	return &Capture{
		cfg:     cfg,
		ring:    NewRing(FrameSize, cfg.RingFrames),
		dec:     dec,
		scratch: make([]int16, callbackFrames/dec.Ratio()+1),
	}, nil
}

// Initialize acquires device access. Safe to call again after success.
func (c *Capture) Initialize() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.initialized {
		return nil
	}

	if err := portaudio.Initialize(); err != nil {
		return apperr.Wrap(err, apperr.CodeDeviceAccess, "audio subsystem init failed")
	}

	dev, err := portaudio.DefaultInputDevice()
	if err != nil || dev == nil {
		_ = portaudio.Terminate()
		return apperr.Wrap(err, apperr.CodeDeviceAccess, "no input device available")
	}

	c.initialized = true
	slog.Info("audio input ready", "device", dev.Name, "hardware_rate", c.cfg.HardwareRate)
	return nil
}

// StartCapture activates the audio graph. No-op if already capturing.
func (c *Capture) StartCapture() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.initialized {
		return apperr.New(apperr.CodeNotInitialized, "capture started before initialize")
	}
	if c.capturing {
		return nil
	}

	stream, err := portaudio.OpenDefaultStream(1, 0, float64(c.cfg.HardwareRate), callbackFrames, c.onAudio)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeDeviceAccess, "failed to open input stream")
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return apperr.Wrap(err, apperr.CodeDeviceAccess, "failed to start input stream")
	}

	c.stream = stream
	c.capturing = true
	return nil
}

// onAudio runs on the audio thread. No allocation, no locks, no blocking.
func (c *Capture) onAudio(in []int16) {
	n := c.dec.Decimate(in, c.scratch)
	c.ring.Write(c.scratch[:n])
}

// Frames returns a lazy sequence of serialized PCM16LE frames. The sequence
// is infinite while capturing and terminates when capture stops or ctx is
// done. When the ring is empty it polls every 10 ms rather than blocking, so
// inter-frame delivery latency varies up to the poll interval.
func (c *Capture) Frames(ctx context.Context) iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		buf := make([]int16, FrameSize)
		for {
			if ctx.Err() != nil || !c.isCapturing() {
				return
			}
			if c.ring.TryRead(buf) {
				if !yield(EncodePCM16(buf)) {
					return
				}
				continue
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(pollInterval):
			}
		}
	}
}

// ReadFrame makes a single non-blocking attempt to read one frame.
// It returns ok=false when the ring holds less than a full frame.
func (c *Capture) ReadFrame() ([]byte, bool) {
	buf := make([]int16, FrameSize)
	if !c.ring.TryRead(buf) {
		return nil, false
	}
	return EncodePCM16(buf), true
}

// Buffered returns how many full frames are waiting in the ring.
func (c *Capture) Buffered() int {
	return c.ring.Available() / FrameSize
}

// Dispose stops capture and releases the device. Safe to call multiple times.
func (c *Capture) Dispose() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream != nil {
		_ = c.stream.Stop()
		_ = c.stream.Close()
		c.stream = nil
	}
	if c.initialized {
		_ = portaudio.Terminate()
		c.initialized = false
	}
	c.capturing = false
	c.dec.Reset()
	c.ring.Reset()
}

func (c *Capture) isCapturing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capturing
}
