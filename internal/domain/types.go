package domain

import (
	"encoding/json"
	"time"
)

// ConnectionState models the socket connection lifecycle.
type ConnectionState string

const (
	ConnectionDisconnected ConnectionState = "disconnected"
	ConnectionConnecting   ConnectionState = "connecting"
	ConnectionConnected    ConnectionState = "connected"
	ConnectionReconnecting ConnectionState = "reconnecting"
	ConnectionError        ConnectionState = "error"
)

// SocketMessageType identifies an inbound socket frame.
type SocketMessageType string

const (
	SocketMessageText     SocketMessageType = "text"
	SocketMessageAudio    SocketMessageType = "audio"
	SocketMessageToolCall SocketMessageType = "tool_call"
	SocketMessageStatus   SocketMessageType = "status"
	SocketMessageError    SocketMessageType = "error"
)

// SocketMessage is a decoded inbound socket frame.
type SocketMessage struct {
	Type      SocketMessageType `json:"type"`
	Content   string            `json:"content,omitempty"`
	Data      json.RawMessage   `json:"data,omitempty"`
	Timestamp int64             `json:"timestamp,omitempty"`
}

// StreamEventKind tags a streamed chat response event.
type StreamEventKind string

const (
	StreamEventToken StreamEventKind = "token"
	StreamEventTool  StreamEventKind = "tool"
	StreamEventLog   StreamEventKind = "log"
	StreamEventDone  StreamEventKind = "done"
	StreamEventError StreamEventKind = "error"
)

// ToolEvent describes one tool invocation reported by the backend.
type ToolEvent struct {
	Tool          string         `json:"tool"`
	Status        string         `json:"status"`
	Args          map[string]any `json:"args,omitempty"`
	LatencyMs     float64        `json:"latencyMs,omitempty"`
	ResultPreview string         `json:"resultPreview,omitempty"`
	Timestamp     int64          `json:"timestamp,omitempty"`
}

// LogEvent is a backend log line attached to a chat turn.
type LogEvent struct {
	Level             string `json:"level"`
	Message           string `json:"message"`
	AssistantLanguage string `json:"assistantLanguage,omitempty"`
}

// DoneEvent closes a streamed response. Content is the authoritative final
// text; it may differ from the accumulated token buffer.
type DoneEvent struct {
	Content    string            `json:"content"`
	Transcript string            `json:"transcript,omitempty"`
	Audio      string            `json:"audio,omitempty"` // base64 PCM16
	Tools      []ToolEvent       `json:"tools,omitempty"`
	Logs       []LogEvent        `json:"logs,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// StreamEvent is the tagged union emitted by the streamed-response decoder.
// Exactly the variant named by Kind is populated.
type StreamEvent struct {
	Kind  StreamEventKind
	Token string
	Tool  *ToolEvent
	Log   *LogEvent
	Done  *DoneEvent
	Err   error
}

// ChatRequest is the payload for one streamed chat turn. Assembled by the
// caller; the core only transmits it.
type ChatRequest struct {
	Message      string `json:"message,omitempty"`
	Audio        string `json:"audio,omitempty"` // base64 PCM16
	SampleRate   int    `json:"sampleRate,omitempty"`
	Model        string `json:"model,omitempty"`
	EnableTools  bool   `json:"enableTools"`
	ExpectAudio  bool   `json:"expectAudio"`
	SessionID    string `json:"sessionId,omitempty"`
	LanguageHint string `json:"languageHint,omitempty"`
}

// RecordingState models the capture session lifecycle.
type RecordingState string

const (
	RecordingIdle       RecordingState = "idle"
	RecordingActive     RecordingState = "recording"
	RecordingProcessing RecordingState = "processing"
	RecordingError      RecordingState = "error"
)

// ClientStatus is the combined state snapshot exposed to the UI shell.
type ClientStatus struct {
	Connection ConnectionState `json:"connection"`
	Recording  RecordingState  `json:"recording"`
	Queued     int             `json:"queued"`
	Message    string          `json:"message,omitempty"`
}

// RecordingInfo is a snapshot of the active (or last) capture session.
type RecordingInfo struct {
	State      RecordingState `json:"state"`
	StartedAt  time.Time      `json:"startedAt"`
	SampleRate int            `json:"sampleRate"`
	Level      float64        `json:"level"`
}

// EncodedAudio is a finished recording: 16-bit signed little-endian PCM.
// Treated as immutable once produced.
type EncodedAudio struct {
	PCM        []byte
	SampleRate int
}

// Duration reports the playback length of the encoded audio.
func (e EncodedAudio) Duration() time.Duration {
	if e.SampleRate <= 0 || len(e.PCM) == 0 {
		return 0
	}
	samples := len(e.PCM) / 2
	return time.Duration(samples) * time.Second / time.Duration(e.SampleRate)
}
