package capture

import (
	"context"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"

	"parley/internal/ports"
)

// PortAudio captures microphone audio through PortAudio. Selectable for
// hosts where the miniaudio backend misbehaves.
type PortAudio struct{}

func NewPortAudio() *PortAudio { return &PortAudio{} }

func (c *PortAudio) Start(ctx context.Context, cfg ports.CaptureConfig) (ports.CaptureSession, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = defaultSampleRate
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio init: %w", err)
	}

	chunkSize := cfg.SampleRate * chunkMillis / 1000
	buf := make([]float32, chunkSize)
	stream, err := portaudio.OpenDefaultStream(cfg.Channels, 0, float64(cfg.SampleRate), chunkSize, buf)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("open mic: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("start mic: %w", err)
	}

	session := &portAudioSession{
		stream:     stream,
		buf:        buf,
		sampleRate: cfg.SampleRate,
		frames:     make(chan []float32, frameQueueDepth),
		done:       make(chan struct{}),
		readerDone: make(chan struct{}),
	}
	go session.read()

	go func() {
		select {
		case <-ctx.Done():
			_ = session.Stop()
		case <-session.readerDone:
		}
	}()

	return session, nil
}

type portAudioSession struct {
	stream     *portaudio.Stream
	buf        []float32
	sampleRate int

	frames     chan []float32
	done       chan struct{}
	readerDone chan struct{}

	mu  sync.Mutex
	err error

	stopOnce sync.Once
	stopErr  error
}

func (s *portAudioSession) read() {
	defer close(s.readerDone)
	defer close(s.frames)
	for {
		select {
		case <-s.done:
			return
		default:
		}

		if err := s.stream.Read(); err != nil {
			select {
			case <-s.done:
			default:
				s.mu.Lock()
				s.err = fmt.Errorf("mic read: %w", err)
				s.mu.Unlock()
			}
			return
		}
		frame := make([]float32, len(s.buf))
		copy(frame, s.buf)

		select {
		case s.frames <- frame:
		case <-s.done:
			return
		}
	}
}

func (s *portAudioSession) Frames() <-chan []float32 { return s.frames }

func (s *portAudioSession) SampleRate() int { return s.sampleRate }

func (s *portAudioSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *portAudioSession) Stop() error {
	s.stopOnce.Do(func() {
		close(s.done)
		<-s.readerDone
		_ = s.stream.Stop()
		_ = s.stream.Close()
		s.stopErr = portaudio.Terminate()
	})
	return s.stopErr
}
