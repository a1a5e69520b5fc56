package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"parley/internal/domain"
	"parley/internal/ports"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	sessionID := flag.String("session", "", "Chat session to connect to")
	message := flag.String("message", "", "Send one streamed chat turn and exit")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	tokens := ports.StaticToken(os.Getenv("PARLEY_CSRF_TOKEN"))

	app := NewApp()
	app.startup(ctx, tokens, consoleStore{}, logger)

	if status := app.GetStatus(); status.Connection == domain.ConnectionError && status.Message != "" {
		slog.Error("Startup failed", "error", status.Message)
		os.Exit(1)
	}

	if *message != "" {
		stream, err := app.StreamMessage(domain.ChatRequest{
			Message:   *message,
			SessionID: *sessionID,
		})
		if err != nil {
			slog.Error("Failed to start stream", "error", err)
			os.Exit(1)
		}
		select {
		case <-stream.Done():
		case <-ctx.Done():
			stream.Cancel()
		}
		return
	}

	if *sessionID == "" {
		flag.Usage()
		os.Exit(2)
	}

	if err := app.Connect(*sessionID); err != nil {
		slog.Error("Failed to connect", "error", err)
		os.Exit(1)
	}
	<-ctx.Done()
	_ = app.Disconnect()
}

// consoleStore renders conversation updates to stdout.
type consoleStore struct{}

func (consoleStore) AddMessage(id string, role string, text string) {
	if text != "" {
		fmt.Printf("[%s] %s\n", role, text)
	}
}

func (consoleStore) UpdateMessage(id string, text string, streaming bool) {
	if !streaming {
		fmt.Printf("[assistant] %s\n", text)
	}
}

func (consoleStore) AddToolEvent(messageID string, event domain.ToolEvent) {
	fmt.Printf("[tool] %s: %s\n", event.Tool, event.Status)
}

func (consoleStore) AddLogEntry(messageID string, entry domain.LogEvent) {
	fmt.Printf("[%s] %s\n", entry.Level, entry.Message)
}

func (consoleStore) SetTranscript(messageID string, transcript string) {
	fmt.Printf("[you] %s\n", transcript)
}

func (consoleStore) PlayAudio(wav []byte) {
	slog.Info("Audio response received", "bytes", len(wav))
}
