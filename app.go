package main

import (
	"context"
	"fmt"
	"log/slog"

	"parley/internal/bootstrap"
	"parley/internal/chatstream"
	"parley/internal/config"
	"parley/internal/domain"
	"parley/internal/ports"
	"parley/internal/recording"
)

// App is the embedding surface for a UI shell. It owns the assembled
// service graph and exposes the operations a frontend binds to.
type App struct {
	ctx context.Context

	socket   socketAPI
	streams  *chatstream.Client
	sink     chatstream.Sink
	recorder *recording.Controller
	cfg      config.Config
	bootErr  error
}

type socketAPI interface {
	Connect(ctx context.Context, sessionID string)
	Send(text string)
	Disconnect()
	State() domain.ConnectionState
	QueuedCount() int
}

func NewApp() *App {
	return &App{}
}

func (a *App) startup(ctx context.Context, tokens ports.TokenSource, store ports.ConversationStore, log *slog.Logger) {
	a.ctx = ctx

	services, err := bootstrap.Build(tokens, store, log)
	if err != nil {
		a.bootErr = err
		return
	}

	a.cfg = services.Config
	a.socket = services.Socket
	a.streams = services.Streams
	a.sink = services.Sink
	a.recorder = services.Recorder
}

// Connect opens the realtime socket for a chat session.
func (a *App) Connect(sessionID string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	a.socket.Connect(a.ctx, sessionID)
	return nil
}

// Disconnect tears down the realtime socket and drops queued sends.
func (a *App) Disconnect() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	a.socket.Disconnect()
	return nil
}

// SendMessage transmits a chat message over the socket, queueing it when
// the connection is down.
func (a *App) SendMessage(text string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	a.socket.Send(text)
	return nil
}

// StreamMessage starts a streamed chat turn and returns the live stream
// handle. Decoded events flow into the conversation store.
func (a *App) StreamMessage(req domain.ChatRequest) (*chatstream.Stream, error) {
	if err := a.requireReady(); err != nil {
		return nil, err
	}
	return a.streams.StartStream(a.ctx, "", req, a.sink)
}

// StartRecording opens the microphone. Capability failures surface here.
func (a *App) StartRecording(callbacks recording.Callbacks) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.recorder.Start(a.ctx, callbacks)
}

// StopRecording finishes the capture and returns encoded audio ready for a
// streamed chat turn.
func (a *App) StopRecording() (domain.EncodedAudio, error) {
	if err := a.requireReady(); err != nil {
		return domain.EncodedAudio{}, err
	}
	return a.recorder.Stop()
}

// CancelRecording discards an in-progress capture.
func (a *App) CancelRecording() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	a.recorder.Cancel()
	return nil
}

// GetStatus reports the connection and recording state for the UI.
func (a *App) GetStatus() domain.ClientStatus {
	if a.bootErr != nil {
		return domain.ClientStatus{
			Connection: domain.ConnectionError,
			Recording:  domain.RecordingIdle,
			Message:    a.bootErr.Error(),
		}
	}
	if a.socket == nil {
		return domain.ClientStatus{
			Connection: domain.ConnectionDisconnected,
			Recording:  domain.RecordingIdle,
		}
	}
	state := a.socket.State()
	info := a.recorder.Info()
	msg := connectionMessage(state)
	if info.State != domain.RecordingIdle {
		msg = recordingMessage(info.State)
	}
	return domain.ClientStatus{
		Connection: state,
		Recording:  info.State,
		Queued:     a.socket.QueuedCount(),
		Message:    msg,
	}
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}

	return map[string]string{
		"serverURL":    a.cfg.Server.BaseURL,
		"audioBackend": a.cfg.Audio.Backend,
		"audioDevice":  a.cfg.Audio.Device,
		"captureRate":  fmt.Sprintf("%d", a.cfg.Audio.CaptureSampleRate),
		"targetRate":   fmt.Sprintf("%d", a.cfg.Audio.TargetSampleRate),
	}
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.socket == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

func connectionMessage(state domain.ConnectionState) string {
	switch state {
	case domain.ConnectionDisconnected:
		return "Disconnected"
	case domain.ConnectionConnecting:
		return "Connecting..."
	case domain.ConnectionConnected:
		return "Connected"
	case domain.ConnectionReconnecting:
		return "Connection lost. Reconnecting..."
	case domain.ConnectionError:
		return "Connection failed"
	default:
		return ""
	}
}

func recordingMessage(state domain.RecordingState) string {
	switch state {
	case domain.RecordingIdle:
		return "Mic idle"
	case domain.RecordingActive:
		return "Recording"
	case domain.RecordingProcessing:
		return "Processing audio..."
	case domain.RecordingError:
		return "Recording failed"
	default:
		return ""
	}
}
