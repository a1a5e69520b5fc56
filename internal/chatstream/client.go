// Package chatstream issues streamed chat requests and decodes the chunked
// event stream into typed events.
package chatstream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"

	"parley/internal/domain"
	"parley/internal/ports"
)

const (
	streamPath   = "/v1/unified-chat"
	dataPrefix   = "data:"
	doneSentinel = "[DONE]"
)

// Sink receives decoded stream events, strictly in arrival order.
type Sink interface {
	Token(correlationID string, text string)
	Tool(correlationID string, event domain.ToolEvent)
	Log(correlationID string, entry domain.LogEvent)
	Done(correlationID string, done domain.DoneEvent)
	Error(correlationID string, err error)
}

// Config controls the streamed chat client.
type Config struct {
	BaseURL string
}

// Client issues unified-chat requests. Safe for concurrent use; each call
// produces an independent Stream.
type Client struct {
	cfg        Config
	httpClient *http.Client
	tokens     ports.TokenSource
	log        *slog.Logger
}

// NewClient creates a streamed chat client. A nil logger means slog.Default().
func NewClient(cfg Config, tokens ports.TokenSource, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	// No client timeout: stream lifetime is bounded by context cancellation
	// and the [DONE] sentinel.
	return &Client{cfg: cfg, httpClient: &http.Client{}, tokens: tokens, log: log}
}

// StartStream posts the request and decodes the response body in the
// background. An empty correlationID gets a generated one.
func (c *Client) StartStream(ctx context.Context, correlationID string, req domain.ChatRequest, sink Sink) (*Stream, error) {
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch csrf token: %w", err)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	httpReq, err := http.NewRequestWithContext(streamCtx, http.MethodPost,
		strings.TrimRight(c.cfg.BaseURL, "/")+streamPath, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("X-CSRF-Token", token)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("start chat stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("chat stream rejected: %s: %s", resp.Status, strings.TrimSpace(string(payload)))
	}

	s := &Stream{
		id:     correlationID,
		cancel: cancel,
		sink:   sink,
		log:    c.log,
		done:   make(chan struct{}),
	}
	go s.consume(resp.Body)
	return s, nil
}

// Stream is one in-flight chat turn.
type Stream struct {
	id     string
	cancel context.CancelFunc
	sink   Sink
	log    *slog.Logger
	done   chan struct{}

	mu       sync.Mutex
	buf      strings.Builder
	canceled bool
}

// CorrelationID ties this stream's events to the originating request.
func (s *Stream) CorrelationID() string { return s.id }

// Text returns the accumulated token text so far. After a transport error it
// holds the last-known partial state.
func (s *Stream) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

// Done is closed once the stream finishes, errors, or is canceled.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Cancel aborts the underlying read and suppresses any further dispatch.
// Safe to call repeatedly and after natural completion.
func (s *Stream) Cancel() {
	s.mu.Lock()
	s.canceled = true
	s.mu.Unlock()
	s.cancel()
}

func (s *Stream) dispatchable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.canceled
}

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type doneWire struct {
	Content    string            `json:"content"`
	Transcript string            `json:"transcript"`
	Audio      string            `json:"audio"`
	Tools      []json.RawMessage `json:"tools"`
	Logs       []json.RawMessage `json:"logs"`
	Metadata   map[string]string `json:"metadata"`
}

func (s *Stream) consume(body io.ReadCloser) {
	defer close(s.done)
	defer body.Close()
	defer s.cancel()

	reader := bufio.NewReader(body)
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			if stop := s.handleLine(line); stop {
				return
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			if s.dispatchable() {
				s.sink.Error(s.id, fmt.Errorf("read chat stream: %w", err))
			}
			return
		}
	}
}

// handleLine decodes one stream line. Returns true when the terminator
// sentinel ends the stream.
func (s *Stream) handleLine(line string) bool {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, dataPrefix) {
		return false
	}
	payload := strings.TrimSpace(strings.TrimPrefix(line, dataPrefix))
	if payload == "" {
		return false
	}
	if payload == doneSentinel {
		return true
	}

	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		// Garbled chunks must not corrupt the ones that follow.
		s.log.Debug("skipping unparseable stream line", "correlationID", s.id)
		return false
	}
	if !s.dispatchable() {
		return false
	}

	switch env.Event {
	case "", "token":
		data := env.Data
		if len(data) == 0 {
			// Bare payloads without an envelope count as token data.
			data = json.RawMessage(payload)
		}
		text := extractText(data)
		s.mu.Lock()
		s.buf.WriteString(text)
		s.mu.Unlock()
		s.sink.Token(s.id, text)
	case "tool":
		if ev, ok := NormalizeTool(env.Data); ok {
			s.sink.Tool(s.id, ev)
		}
	case "log":
		if entry, ok := NormalizeLog(env.Data); ok {
			s.sink.Log(s.id, entry)
		}
	case "done":
		s.handleDone(env.Data)
	case "error":
		s.sink.Error(s.id, errors.New(extractReason(env.Data)))
	default:
		s.log.Debug("ignoring unknown stream event", "event", env.Event)
	}
	return false
}

func (s *Stream) handleDone(data json.RawMessage) {
	var wire doneWire
	if err := json.Unmarshal(data, &wire); err != nil {
		s.log.Debug("skipping malformed done event", "correlationID", s.id)
		return
	}

	done := domain.DoneEvent{
		Content:    wire.Content,
		Transcript: wire.Transcript,
		Audio:      wire.Audio,
		Tools:      NormalizeTools(wire.Tools),
		Logs:       NormalizeLogs(wire.Logs),
		Metadata:   wire.Metadata,
	}
	if done.Content == "" {
		s.mu.Lock()
		done.Content = s.buf.String()
		s.mu.Unlock()
	}

	// Batched tool/log entries dispatch the same way as streamed ones.
	for _, ev := range done.Tools {
		s.sink.Tool(s.id, ev)
	}
	for _, entry := range done.Logs {
		s.sink.Log(s.id, entry)
	}
	s.sink.Done(s.id, done)
}

// extractText pulls token text from either a raw JSON string or an object's
// text field. Shape mismatches degrade to an empty string, never an error.
func extractText(data json.RawMessage) string {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		return asString
	}
	var asObject struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &asObject); err == nil {
		return asObject.Text
	}
	return ""
}

func extractReason(data json.RawMessage) string {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil && asString != "" {
		return asString
	}
	var asObject struct {
		Reason  string `json:"reason"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &asObject); err == nil {
		if asObject.Reason != "" {
			return asObject.Reason
		}
		if asObject.Message != "" {
			return asObject.Message
		}
	}
	return "stream error"
}
