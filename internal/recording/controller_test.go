package recording

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"parley/internal/domain"
	"parley/internal/ports"
)

type fakeCaptureSession struct {
	rate   int
	frames chan []float32

	mu      sync.Mutex
	stopped bool
	err     error
}

func newFakeCaptureSession(rate int) *fakeCaptureSession {
	return &fakeCaptureSession{rate: rate, frames: make(chan []float32, 64)}
}

func (s *fakeCaptureSession) Frames() <-chan []float32 { return s.frames }
func (s *fakeCaptureSession) SampleRate() int          { return s.rate }

func (s *fakeCaptureSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *fakeCaptureSession) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stopped {
		s.stopped = true
		close(s.frames)
	}
	return nil
}

func (s *fakeCaptureSession) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stopped {
		s.stopped = true
		s.err = err
		close(s.frames)
	}
}

func (s *fakeCaptureSession) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

type fakeCapture struct {
	mu       sync.Mutex
	sessions []*fakeCaptureSession
	startErr error
	started  int
}

func (c *fakeCapture) Start(_ context.Context, _ ports.CaptureConfig) (ports.CaptureSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.startErr != nil {
		return nil, c.startErr
	}
	if c.started >= len(c.sessions) {
		return nil, errors.New("no more fake sessions")
	}
	session := c.sessions[c.started]
	c.started++
	return session, nil
}

func newController(sessions ...*fakeCaptureSession) (*Controller, *fakeCapture) {
	capture := &fakeCapture{sessions: sessions}
	controller := NewController(capture, Config{
		Capture:          ports.CaptureConfig{SampleRate: 48000, Channels: 1},
		TargetSampleRate: 16000,
	}, nil)
	return controller, capture
}

func waitForFrames(t *testing.T, c *Controller, min float64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.Info().Level >= min {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("frames never arrived")
}

func TestStartStopProducesEncodedAudio(t *testing.T) {
	t.Parallel()

	session := newFakeCaptureSession(48000)
	controller, _ := newController(session)

	var startedMu sync.Mutex
	started := false
	var levels []float64
	err := controller.Start(context.Background(), Callbacks{
		OnStart: func() {
			startedMu.Lock()
			started = true
			startedMu.Unlock()
		},
		OnLevel: func(level float64) {
			startedMu.Lock()
			levels = append(levels, level)
			startedMu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	startedMu.Lock()
	if !started {
		startedMu.Unlock()
		t.Fatalf("OnStart not invoked")
	}
	startedMu.Unlock()

	// Three 48 kHz frames of constant amplitude; three input samples per
	// output sample at 16 kHz.
	for i := 0; i < 3; i++ {
		frame := make([]float32, 480)
		for j := range frame {
			frame[j] = 0.5
		}
		session.frames <- frame
	}
	waitForFrames(t, controller, 0.4)

	encoded, err := controller.Stop()
	if err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if encoded.SampleRate != 16000 {
		t.Fatalf("unexpected sample rate: %d", encoded.SampleRate)
	}
	wantSamples := 3 * 480 / 3 // 1440 input samples, ratio 3:1
	if len(encoded.PCM) != wantSamples*2 {
		t.Fatalf("expected %d PCM bytes, got %d", wantSamples*2, len(encoded.PCM))
	}

	// Constant 0.5 survives box filtering; 0.5 * 0x7fff = 16383.
	first := int16(binary.LittleEndian.Uint16(encoded.PCM))
	if first < 16380 || first > 16385 {
		t.Fatalf("amplitude not preserved: %d", first)
	}

	startedMu.Lock()
	gotLevels := len(levels)
	startedMu.Unlock()
	if gotLevels != 3 {
		t.Fatalf("expected 3 level callbacks, got %d", gotLevels)
	}
	if !session.isStopped() {
		t.Fatalf("hardware stream not released")
	}
	if got := controller.Info().State; got != domain.RecordingIdle {
		t.Fatalf("expected idle after stop, got %s", got)
	}
}

func TestOverlappingStartIsRejected(t *testing.T) {
	t.Parallel()

	session := newFakeCaptureSession(16000)
	controller, _ := newController(session)

	if err := controller.Start(context.Background(), Callbacks{}); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := controller.Start(context.Background(), Callbacks{}); !errors.Is(err, ErrSessionActive) {
		t.Fatalf("expected ErrSessionActive, got %v", err)
	}
	controller.Cancel()
}

func TestStartCapabilityError(t *testing.T) {
	t.Parallel()

	capture := &fakeCapture{startErr: errors.New("no recording support on this platform")}
	controller := NewController(capture, Config{}, nil)

	err := controller.Start(context.Background(), Callbacks{})
	if err == nil {
		t.Fatalf("expected capability error")
	}
	if got := controller.Info().State; got != domain.RecordingIdle {
		t.Fatalf("failed start must stay idle, got %s", got)
	}
}

func TestCancelReleasesHardwareAndLandsIdle(t *testing.T) {
	t.Parallel()

	session := newFakeCaptureSession(16000)
	controller, _ := newController(session)

	if err := controller.Start(context.Background(), Callbacks{}); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	session.frames <- []float32{0.1, 0.2}

	controller.Cancel()
	if !session.isStopped() {
		t.Fatalf("cancel must release the hardware stream")
	}
	if got := controller.Info().State; got != domain.RecordingIdle {
		t.Fatalf("expected idle, got %s", got)
	}

	if _, err := controller.Stop(); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("expected ErrNoActiveSession after cancel, got %v", err)
	}
}

func TestCancelImmediatelyAfterStart(t *testing.T) {
	t.Parallel()

	session := newFakeCaptureSession(16000)
	controller, _ := newController(session)

	if err := controller.Start(context.Background(), Callbacks{}); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	controller.Cancel()

	if !session.isStopped() {
		t.Fatalf("hardware stream leaked")
	}
	if got := controller.Info().State; got != domain.RecordingIdle {
		t.Fatalf("expected idle, got %s", got)
	}
}

func TestCancelOnIdleIsNoop(t *testing.T) {
	t.Parallel()

	controller, _ := newController()
	controller.Cancel()
	controller.Cancel()
	if got := controller.Info().State; got != domain.RecordingIdle {
		t.Fatalf("expected idle, got %s", got)
	}
}

func TestHardwareFailureTransitionsToError(t *testing.T) {
	t.Parallel()

	session := newFakeCaptureSession(16000)
	controller, _ := newController(session)

	errCh := make(chan error, 1)
	err := controller.Start(context.Background(), Callbacks{
		OnError: func(err error) { errCh <- err },
	})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	session.fail(errors.New("device unplugged"))

	select {
	case got := <-errCh:
		if got == nil {
			t.Fatalf("expected failure reason")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("OnError never invoked")
	}

	deadline := time.Now().Add(2 * time.Second)
	for controller.Info().State != domain.RecordingError {
		if time.Now().After(deadline) {
			t.Fatalf("expected error state, got %s", controller.Info().State)
		}
		time.Sleep(2 * time.Millisecond)
	}

	// A fresh session may start after a hardware failure.
	if _, stopErr := controller.Stop(); !errors.Is(stopErr, ErrNoActiveSession) {
		t.Fatalf("no audio is returned after a hardware failure, got %v", stopErr)
	}
}

func TestDisposeNeverFails(t *testing.T) {
	t.Parallel()

	session := newFakeCaptureSession(16000)
	controller, _ := newController(session)

	if err := controller.Start(context.Background(), Callbacks{}); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	controller.Dispose()
	controller.Dispose()
	if got := controller.Info().State; got != domain.RecordingIdle {
		t.Fatalf("expected idle, got %s", got)
	}
}

func TestFramesAreCopiedNotAliased(t *testing.T) {
	t.Parallel()

	session := newFakeCaptureSession(16000)
	controller, _ := newController(session)

	if err := controller.Start(context.Background(), Callbacks{}); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	frame := []float32{0.5, 0.5}
	session.frames <- frame
	waitForFrames(t, controller, 0.4)

	// Hardware reuses its buffer; the session copy must be unaffected.
	frame[0] = 0
	frame[1] = 0

	encoded, err := controller.Stop()
	if err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	first := int16(binary.LittleEndian.Uint16(encoded.PCM))
	if first < 16380 {
		t.Fatalf("frame was aliased with hardware memory: %d", first)
	}
}

func TestLowRateDeviceKeepsNativeSampleRate(t *testing.T) {
	t.Parallel()

	// An 8 kHz device cannot be decimated up to 16 kHz; the samples pass
	// through and the encoded audio must say so.
	session := newFakeCaptureSession(8000)
	controller, _ := newController(session)

	frame := make([]float32, 800)
	for i := range frame {
		frame[i] = 0.25
	}
	if err := controller.Start(context.Background(), Callbacks{}); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	session.frames <- frame
	waitForFrames(t, controller, 0.2)

	encoded, err := controller.Stop()
	if err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if encoded.SampleRate != 8000 {
		t.Fatalf("expected native rate label, got %d", encoded.SampleRate)
	}
	if samples := len(encoded.PCM) / 2; samples != len(frame) {
		t.Fatalf("expected %d pass-through samples, got %d", len(frame), samples)
	}
	if got, want := encoded.Duration(), 100*time.Millisecond; got != want {
		t.Fatalf("expected %v of audio, got %v", want, got)
	}
}
