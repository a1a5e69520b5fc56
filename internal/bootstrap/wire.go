package bootstrap

import (
	"fmt"
	"log/slog"

	"parley/internal/capture"
	"parley/internal/chatsocket"
	"parley/internal/chatstream"
	"parley/internal/config"
	"parley/internal/ports"
	"parley/internal/recording"
)

// Services is the assembled runtime graph.
type Services struct {
	Socket   *chatsocket.Manager
	Streams  *chatstream.Client
	Sink     *chatstream.StoreAdapter
	Recorder *recording.Controller
	Config   config.Config
}

// Build wires all backend dependencies for the current runtime.
func Build(tokens ports.TokenSource, store ports.ConversationStore, log *slog.Logger) (Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return Services{}, err
	}

	if log == nil {
		log = slog.Default()
	}

	backend, err := captureBackend(cfg.Audio)
	if err != nil {
		return Services{}, err
	}

	socket := chatsocket.New(chatsocket.Config{
		BaseURL:              cfg.Server.BaseURL,
		HeartbeatInterval:    cfg.Socket.HeartbeatInterval,
		MaxReconnectAttempts: cfg.Socket.MaxReconnectAttempts,
		ReconnectBaseDelay:   cfg.Socket.ReconnectBaseDelay,
	}, tokens, log)

	streams := chatstream.NewClient(chatstream.Config{
		BaseURL: cfg.Server.BaseURL,
	}, tokens, log)

	recorder := recording.NewController(backend, recording.Config{
		Capture: ports.CaptureConfig{
			SampleRate: cfg.Audio.CaptureSampleRate,
			Channels:   1,
			Device:     cfg.Audio.Device,
		},
		TargetSampleRate: cfg.Audio.TargetSampleRate,
	}, log)

	return Services{
		Socket:   socket,
		Streams:  streams,
		Sink:     chatstream.NewStoreAdapter(store, log),
		Recorder: recorder,
		Config:   cfg,
	}, nil
}

func captureBackend(cfg config.AudioConfig) (ports.AudioCapture, error) {
	switch cfg.Backend {
	case "", "malgo":
		return capture.NewMalgo(), nil
	case "portaudio":
		return capture.NewPortAudio(), nil
	case "ffmpeg":
		return capture.NewFFMPEG(cfg.FFMPEGCommand, cfg.FFMPEGInputFormat), nil
	default:
		return nil, fmt.Errorf("unknown audio backend %q", cfg.Backend)
	}
}
