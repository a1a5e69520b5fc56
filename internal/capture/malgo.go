package capture

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/gen2brain/malgo"

	"parley/internal/ports"
)

const (
	defaultSampleRate = 48000
	chunkMillis       = 100
	frameQueueDepth   = 16
)

// Malgo captures microphone audio through the miniaudio bindings. It is the
// default backend: no external process, works across platforms.
type Malgo struct{}

func NewMalgo() *Malgo { return &Malgo{} }

func (c *Malgo) Start(ctx context.Context, cfg ports.CaptureConfig) (ports.CaptureSession, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = defaultSampleRate
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio context: %w", err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = uint32(cfg.Channels)
	deviceConfig.SampleRate = uint32(cfg.SampleRate)
	deviceConfig.Alsa.NoMMap = 1

	if cfg.Device != "" {
		if id, ok := findDeviceID(mctx, cfg.Device); ok {
			deviceConfig.Capture.DeviceID = id.Pointer()
		}
	}

	session := &malgoSession{
		mctx:       mctx,
		sampleRate: cfg.SampleRate,
		chunkSize:  cfg.SampleRate * chunkMillis / 1000,
		frames:     make(chan []float32, frameQueueDepth),
	}

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: session.onFrames,
	})
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("failed to open capture device: %w", err)
	}
	session.device = device

	if err := device.Start(); err != nil {
		device.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("failed to start capture device: %w", err)
	}

	go func() {
		select {
		case <-ctx.Done():
			_ = session.Stop()
		case <-session.stoppedCh():
		}
	}()

	return session, nil
}

func findDeviceID(mctx *malgo.AllocatedContext, name string) (malgo.DeviceID, bool) {
	infos, err := mctx.Devices(malgo.Capture)
	if err != nil {
		return malgo.DeviceID{}, false
	}
	for _, info := range infos {
		if info.Name() == name {
			return info.ID, true
		}
	}
	return malgo.DeviceID{}, false
}

type malgoSession struct {
	mctx   *malgo.AllocatedContext
	device *malgo.Device

	sampleRate int
	chunkSize  int
	frames     chan []float32

	mu      sync.Mutex
	pending []float32
	stopped bool
	stopCh  chan struct{}

	stopOnce sync.Once
	stopErr  error
}

// onFrames runs on the audio thread. Samples arrive as little-endian float32
// bytes; they are rechunked to fixed-length frames before delivery.
func (s *malgoSession) onFrames(_, input []byte, frameCount uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}

	for i := 0; i+3 < len(input); i += 4 {
		bits := binary.LittleEndian.Uint32(input[i:])
		s.pending = append(s.pending, math.Float32frombits(bits))
	}

	for len(s.pending) >= s.chunkSize {
		frame := make([]float32, s.chunkSize)
		copy(frame, s.pending[:s.chunkSize])
		s.pending = s.pending[s.chunkSize:]

		select {
		case s.frames <- frame:
		default:
			// Consumer is behind; drop rather than stall the audio thread.
		}
	}
}

func (s *malgoSession) Frames() <-chan []float32 { return s.frames }

func (s *malgoSession) SampleRate() int { return s.sampleRate }

func (s *malgoSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopErr
}

func (s *malgoSession) Stop() error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		if s.stopCh != nil {
			close(s.stopCh)
		}
		s.mu.Unlock()

		if s.device != nil {
			_ = s.device.Stop()
			s.device.Uninit()
		}
		if s.mctx != nil {
			_ = s.mctx.Uninit()
			s.mctx.Free()
		}
		close(s.frames)
	})
	return nil
}

func (s *malgoSession) stoppedCh() chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh == nil {
		s.stopCh = make(chan struct{})
		if s.stopped {
			close(s.stopCh)
		}
	}
	return s.stopCh
}
