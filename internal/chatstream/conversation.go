package chatstream

import (
	"encoding/base64"
	"log/slog"
	"strconv"
	"sync"

	"parley/internal/audio"
	"parley/internal/domain"
	"parley/internal/ports"
)

// Sample rate assumed for backend-produced audio when the done event's
// metadata does not carry one.
const defaultPlaybackRate = 16000

// StoreAdapter is a Sink that projects stream events onto the UI layer's
// conversation store: one assistant message per correlation id, updated while
// streaming and finalized on done.
type StoreAdapter struct {
	store ports.ConversationStore
	log   *slog.Logger

	mu       sync.Mutex
	partials map[string]string
}

// NewStoreAdapter wraps a conversation store. A nil logger means
// slog.Default().
func NewStoreAdapter(store ports.ConversationStore, log *slog.Logger) *StoreAdapter {
	if log == nil {
		log = slog.Default()
	}
	return &StoreAdapter{store: store, log: log, partials: map[string]string{}}
}

func (a *StoreAdapter) Token(correlationID string, text string) {
	a.mu.Lock()
	partial, started := a.partials[correlationID]
	partial += text
	a.partials[correlationID] = partial
	a.mu.Unlock()

	if !started {
		a.store.AddMessage(correlationID, "assistant", "")
	}
	a.store.UpdateMessage(correlationID, partial, true)
}

func (a *StoreAdapter) Tool(correlationID string, event domain.ToolEvent) {
	a.store.AddToolEvent(correlationID, event)
}

func (a *StoreAdapter) Log(correlationID string, entry domain.LogEvent) {
	a.store.AddLogEntry(correlationID, entry)
}

func (a *StoreAdapter) Done(correlationID string, done domain.DoneEvent) {
	a.mu.Lock()
	_, started := a.partials[correlationID]
	delete(a.partials, correlationID)
	a.mu.Unlock()

	if !started {
		a.store.AddMessage(correlationID, "assistant", "")
	}
	// The done event's text is authoritative, even when it differs from the
	// accumulated buffer.
	a.store.UpdateMessage(correlationID, done.Content, false)

	if done.Transcript != "" {
		a.store.SetTranscript(correlationID, done.Transcript)
	}
	if done.Audio != "" {
		a.playAudio(correlationID, done)
	}
}

// Error leaves the in-progress message in its last-known partial state; the
// UI layer decides whether to retry or keep what was received. The stream is
// terminal, so the internal accumulator entry is released.
func (a *StoreAdapter) Error(correlationID string, err error) {
	a.mu.Lock()
	delete(a.partials, correlationID)
	a.mu.Unlock()

	a.log.Warn("chat stream failed", "correlationID", correlationID, "error", err)
}

func (a *StoreAdapter) playAudio(correlationID string, done domain.DoneEvent) {
	pcm, err := base64.StdEncoding.DecodeString(done.Audio)
	if err != nil {
		a.log.Warn("dropping undecodable response audio", "correlationID", correlationID, "error", err)
		return
	}

	rate := defaultPlaybackRate
	if raw, ok := done.Metadata["sampleRate"]; ok {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			rate = parsed
		}
	}

	wavData, err := audio.WAV(domain.EncodedAudio{PCM: pcm, SampleRate: rate})
	if err != nil {
		a.log.Warn("dropping unplayable response audio", "correlationID", correlationID, "error", err)
		return
	}
	a.store.PlayAudio(wavData)
}
