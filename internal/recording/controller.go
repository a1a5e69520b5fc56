// Package recording orchestrates one microphone capture session at a time:
// buffering, level metering, and final resample/encode to wire-ready PCM16.
package recording

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"parley/internal/audio"
	"parley/internal/domain"
	"parley/internal/ports"
)

var (
	// ErrSessionActive rejects overlapping starts; the prior session is never
	// silently superseded.
	ErrSessionActive = errors.New("recording session already active")

	// ErrNoActiveSession is returned by Stop without a running session.
	ErrNoActiveSession = errors.New("no active recording session")
)

// Callbacks receive live session feedback. Nil funcs are skipped.
type Callbacks struct {
	OnStart func()
	OnLevel func(level float64)
	OnError func(err error)
}

// Config controls capture and encoding.
type Config struct {
	Capture          ports.CaptureConfig
	TargetSampleRate int
}

// Controller owns the single active recording session.
type Controller struct {
	capture ports.AudioCapture
	cfg     Config
	log     *slog.Logger

	mu      sync.Mutex
	state   domain.RecordingState
	current *activeSession
}

type activeSession struct {
	capture   ports.CaptureSession
	cancel    context.CancelFunc
	startedAt time.Time
	callbacks Callbacks

	mu       sync.Mutex
	frames   [][]float32
	level    float64
	stopping bool

	pumpDone chan struct{}
}

// NewController creates a recording controller. A nil logger means
// slog.Default().
func NewController(capture ports.AudioCapture, cfg Config, log *slog.Logger) *Controller {
	if cfg.TargetSampleRate <= 0 {
		cfg.TargetSampleRate = 16000
	}
	if log == nil {
		log = slog.Default()
	}
	return &Controller{capture: capture, cfg: cfg, log: log, state: domain.RecordingIdle}
}

// Start opens the microphone and begins buffering. Capability failures (no
// recording support on this platform) surface here synchronously.
func (c *Controller) Start(ctx context.Context, callbacks Callbacks) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil {
		return ErrSessionActive
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	capture, err := c.capture.Start(sessionCtx, c.cfg.Capture)
	if err != nil {
		cancel()
		return fmt.Errorf("start capture: %w", err)
	}

	active := &activeSession{
		capture:   capture,
		cancel:    cancel,
		startedAt: time.Now(),
		callbacks: callbacks,
		pumpDone:  make(chan struct{}),
	}
	c.current = active
	c.state = domain.RecordingActive

	go c.pumpFrames(active)

	if callbacks.OnStart != nil {
		callbacks.OnStart()
	}
	return nil
}

// pumpFrames copies every hardware frame into the session buffer and meters
// its level. Frames are copied, not referenced: the hardware callback reuses
// its buffers.
func (c *Controller) pumpFrames(active *activeSession) {
	defer close(active.pumpDone)

	for frame := range active.capture.Frames() {
		copied := make([]float32, len(frame))
		copy(copied, frame)
		level := audio.RMS(copied)

		active.mu.Lock()
		active.frames = append(active.frames, copied)
		active.level = level
		active.mu.Unlock()

		if active.callbacks.OnLevel != nil {
			active.callbacks.OnLevel(level)
		}
	}

	// Channel closed. If nobody asked for a stop, the hardware stream died.
	active.mu.Lock()
	stopping := active.stopping
	active.mu.Unlock()
	if stopping {
		return
	}

	err := active.capture.Err()
	if err == nil {
		err = errors.New("capture stream ended unexpectedly")
	}
	c.failSession(active, err)
}

func (c *Controller) failSession(active *activeSession, err error) {
	_ = active.capture.Stop()
	active.cancel()

	c.mu.Lock()
	if c.current == active {
		c.current = nil
		c.state = domain.RecordingError
	}
	c.mu.Unlock()

	active.mu.Lock()
	active.frames = nil
	active.mu.Unlock()

	c.log.Error("recording failed", "error", err)
	if active.callbacks.OnError != nil {
		active.callbacks.OnError(err)
	}
}

// Stop finishes the session and returns the encoded audio: buffered frames
// concatenated, box-filter downsampled to the target rate, and PCM16-encoded.
func (c *Controller) Stop() (domain.EncodedAudio, error) {
	c.mu.Lock()
	active := c.current
	if active == nil {
		c.mu.Unlock()
		return domain.EncodedAudio{}, ErrNoActiveSession
	}
	active.mu.Lock()
	if active.stopping {
		active.mu.Unlock()
		c.mu.Unlock()
		return domain.EncodedAudio{}, ErrNoActiveSession
	}
	active.stopping = true
	active.mu.Unlock()
	c.state = domain.RecordingProcessing
	c.mu.Unlock()

	stopErr := active.capture.Stop()
	<-active.pumpDone
	active.cancel()

	active.mu.Lock()
	frames := active.frames
	active.frames = nil
	active.mu.Unlock()

	var total int
	for _, frame := range frames {
		total += len(frame)
	}
	samples := make([]float32, 0, total)
	for _, frame := range frames {
		samples = append(samples, frame...)
	}

	// A device below the target rate is passed through untouched; the encoded
	// audio must carry the rate the samples actually have.
	nativeRate := active.capture.SampleRate()
	outputRate := c.cfg.TargetSampleRate
	if nativeRate > 0 && nativeRate < outputRate {
		outputRate = nativeRate
	}
	downsampled := audio.Downsample(samples, nativeRate, c.cfg.TargetSampleRate)
	encoded := domain.EncodedAudio{
		PCM:        audio.EncodePCM16(downsampled),
		SampleRate: outputRate,
	}

	c.mu.Lock()
	if c.current == active {
		c.current = nil
	}
	c.state = domain.RecordingIdle
	c.mu.Unlock()

	c.log.Debug("recording encoded", "rate", encoded.SampleRate, "duration", encoded.Duration())

	if stopErr != nil {
		// The stream is released regardless; report and hand over what was
		// captured.
		c.log.Warn("capture did not stop cleanly", "error", stopErr)
		if active.callbacks.OnError != nil {
			active.callbacks.OnError(fmt.Errorf("stop capture: %w", stopErr))
		}
	}
	return encoded, nil
}

// Cancel releases the hardware stream and discards buffered audio. Valid from
// recording or idle; always lands in idle.
func (c *Controller) Cancel() {
	c.mu.Lock()
	active := c.current
	c.current = nil
	c.state = domain.RecordingIdle
	c.mu.Unlock()

	if active == nil {
		return
	}

	active.mu.Lock()
	active.stopping = true
	active.mu.Unlock()

	_ = active.capture.Stop()
	<-active.pumpDone
	active.cancel()

	active.mu.Lock()
	active.frames = nil
	active.mu.Unlock()
}

// Dispose is best-effort cleanup for teardown paths. It never fails.
func (c *Controller) Dispose() {
	c.Cancel()
}

// Info reports a snapshot of the session state for UI consumption.
func (c *Controller) Info() domain.RecordingInfo {
	c.mu.Lock()
	state := c.state
	active := c.current
	c.mu.Unlock()

	info := domain.RecordingInfo{State: state, SampleRate: c.cfg.TargetSampleRate}
	if active != nil {
		info.StartedAt = active.startedAt
		info.SampleRate = active.capture.SampleRate()
		active.mu.Lock()
		info.Level = active.level
		active.mu.Unlock()
	}
	return info
}
