package chatstream

import "parley/internal/domain"

// EventSink adapts a single tagged-event callback to a Sink. Consumers that
// want one ordered stream of events (an event bus, a session recorder) bind
// here instead of implementing all five Sink methods.
func EventSink(fn func(correlationID string, ev domain.StreamEvent)) Sink {
	return eventFunc(fn)
}

type eventFunc func(correlationID string, ev domain.StreamEvent)

func (f eventFunc) Token(correlationID string, text string) {
	f(correlationID, domain.StreamEvent{Kind: domain.StreamEventToken, Token: text})
}

func (f eventFunc) Tool(correlationID string, event domain.ToolEvent) {
	f(correlationID, domain.StreamEvent{Kind: domain.StreamEventTool, Tool: &event})
}

func (f eventFunc) Log(correlationID string, entry domain.LogEvent) {
	f(correlationID, domain.StreamEvent{Kind: domain.StreamEventLog, Log: &entry})
}

func (f eventFunc) Done(correlationID string, done domain.DoneEvent) {
	f(correlationID, domain.StreamEvent{Kind: domain.StreamEventDone, Done: &done})
}

func (f eventFunc) Error(correlationID string, err error) {
	f(correlationID, domain.StreamEvent{Kind: domain.StreamEventError, Err: err})
}
