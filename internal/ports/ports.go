package ports

import (
	"context"

	"parley/internal/domain"
)

// TokenSource provides short-lived anti-forgery tokens for socket upgrades
// and streamed chat requests. Supplied by the surrounding application.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// TokenFunc adapts a plain function to TokenSource.
type TokenFunc func(ctx context.Context) (string, error)

func (f TokenFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

// StaticToken is a TokenSource returning a fixed value. Useful for tests and
// deployments without CSRF rotation.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) { return string(t), nil }

// CaptureConfig describes how the microphone should be captured.
type CaptureConfig struct {
	SampleRate int
	Channels   int
	Device     string
}

// CaptureSession is a live microphone capture. Frames delivers fixed-length
// mono float32 sample chunks in capture order; the channel is closed when the
// hardware stream ends. Err reports the hardware failure that closed the
// channel, if any. Stop releases the hardware stream and is idempotent.
type CaptureSession interface {
	Frames() <-chan []float32
	SampleRate() int
	Err() error
	Stop() error
}

// AudioCapture creates microphone capture sessions. Start reports a
// capability error synchronously when the platform lacks recording support.
type AudioCapture interface {
	Start(ctx context.Context, cfg CaptureConfig) (CaptureSession, error)
}

// ConversationStore is the UI-layer conversation state. The core only calls
// into it; it never reads back.
type ConversationStore interface {
	AddMessage(id string, role string, text string)
	UpdateMessage(id string, text string, streaming bool)
	AddToolEvent(messageID string, event domain.ToolEvent)
	AddLogEntry(messageID string, entry domain.LogEvent)
	SetTranscript(messageID string, transcript string)
	PlayAudio(wav []byte)
}
