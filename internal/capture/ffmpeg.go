package capture

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"parley/internal/ports"
)

// FFMPEG streams microphone audio through an ffmpeg child process. Useful on
// hosts where neither native backend can reach the device, or when capture
// should come from a named pulse/alsa source.
type FFMPEG struct {
	command     string
	inputFormat string
}

func NewFFMPEG(command, inputFormat string) *FFMPEG {
	if command == "" {
		command = "ffmpeg"
	}
	if inputFormat == "" {
		inputFormat = "pulse"
	}
	return &FFMPEG{command: command, inputFormat: inputFormat}
}

func (c *FFMPEG) Start(ctx context.Context, cfg ports.CaptureConfig) (ports.CaptureSession, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = defaultSampleRate
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.Device == "" {
		cfg.Device = "default"
	}

	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", c.inputFormat,
		"-i", cfg.Device,
		"-ac", strconv.Itoa(cfg.Channels),
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-f", "f32le",
		"-",
	}

	cmd := exec.CommandContext(ctx, c.command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	select {
	case err := <-waitErr:
		if err != nil {
			return nil, fmt.Errorf("ffmpeg exited before capture started: %w: %s", err, trimSpaceSafe(stderr.String()))
		}
		return nil, errors.New("ffmpeg exited before capture started")
	case <-time.After(250 * time.Millisecond):
	}

	session := &ffmpegSession{
		stdout:     stdout,
		stderr:     &stderr,
		process:    cmd.Process,
		waitErr:    waitErr,
		sampleRate: cfg.SampleRate,
		chunkSize:  cfg.SampleRate * chunkMillis / 1000,
		frames:     make(chan []float32, frameQueueDepth),
		done:       make(chan struct{}),
	}
	go session.read()

	return session, nil
}

type ffmpegSession struct {
	stdout io.ReadCloser
	stderr *bytes.Buffer

	process *os.Process
	waitErr <-chan error

	sampleRate int
	chunkSize  int
	frames     chan []float32
	done       chan struct{}

	mu  sync.Mutex
	err error

	stopOnce sync.Once
	stopErr  error
}

func (s *ffmpegSession) read() {
	defer close(s.frames)
	raw := make([]byte, s.chunkSize*4)
	for {
		if _, err := io.ReadFull(s.stdout, raw); err != nil {
			select {
			case <-s.done:
			default:
				if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
					s.setErr(fmt.Errorf("ffmpeg read: %w", err))
					return
				}
				// Wait for exit so stderr is fully collected before reading it.
				select {
				case <-s.waitErr:
				case <-time.After(2 * time.Second):
				}
				if s.stderr.Len() > 0 {
					s.setErr(fmt.Errorf("ffmpeg stream ended: %s", trimSpaceSafe(s.stderr.String())))
				}
			}
			return
		}

		frame := make([]float32, s.chunkSize)
		for i := range frame {
			frame[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}

		select {
		case s.frames <- frame:
		case <-s.done:
			return
		}
	}
}

func (s *ffmpegSession) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *ffmpegSession) Frames() <-chan []float32 { return s.frames }

func (s *ffmpegSession) SampleRate() int { return s.sampleRate }

func (s *ffmpegSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *ffmpegSession) Stop() error {
	s.stopOnce.Do(func() {
		close(s.done)
		if s.process != nil {
			_ = s.process.Signal(os.Interrupt)
		}

		select {
		case err, ok := <-s.waitErr:
			if ok {
				s.stopErr = normalizeStopErr(err)
			}
		case <-time.After(1200 * time.Millisecond):
			if s.process != nil {
				_ = s.process.Kill()
			}
			err, ok := <-s.waitErr
			if ok {
				s.stopErr = normalizeStopErr(err)
			}
		}

		if closeErr := s.stdout.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
			if s.stopErr == nil {
				s.stopErr = closeErr
			}
		}

		if s.stopErr != nil && s.stderr.Len() > 0 {
			s.stopErr = fmt.Errorf("%w: %s", s.stopErr, trimSpaceSafe(s.stderr.String()))
		}
	})

	return s.stopErr
}

// normalizeStopErr treats a nonzero exit after an interrupt as a clean stop.
func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

func trimSpaceSafe(input string) string {
	if input == "" {
		return input
	}
	return string(bytes.TrimSpace([]byte(input)))
}
