package chatstream

import (
	"encoding/json"
	"strings"

	"parley/internal/domain"
)

// NormalizeTool validates a decoded tool event. Tool and status are required;
// anything failing validation is rejected rather than surfaced as partial
// data. This is the defense against backend schema drift.
func NormalizeTool(data json.RawMessage) (domain.ToolEvent, bool) {
	var ev domain.ToolEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return domain.ToolEvent{}, false
	}
	ev.Tool = strings.TrimSpace(ev.Tool)
	ev.Status = strings.TrimSpace(ev.Status)
	if ev.Tool == "" || ev.Status == "" {
		return domain.ToolEvent{}, false
	}
	return ev, true
}

// NormalizeLog validates a decoded log entry. Level and message are required.
func NormalizeLog(data json.RawMessage) (domain.LogEvent, bool) {
	var entry domain.LogEvent
	if err := json.Unmarshal(data, &entry); err != nil {
		return domain.LogEvent{}, false
	}
	entry.Level = strings.TrimSpace(entry.Level)
	if entry.Level == "" || strings.TrimSpace(entry.Message) == "" {
		return domain.LogEvent{}, false
	}
	return entry, true
}

// NormalizeTools filters a batch, keeping the valid elements. One malformed
// item never breaks its siblings.
func NormalizeTools(batch []json.RawMessage) []domain.ToolEvent {
	var out []domain.ToolEvent
	for _, raw := range batch {
		if ev, ok := NormalizeTool(raw); ok {
			out = append(out, ev)
		}
	}
	return out
}

// NormalizeLogs filters a batch of log entries the same way.
func NormalizeLogs(batch []json.RawMessage) []domain.LogEvent {
	var out []domain.LogEvent
	for _, raw := range batch {
		if entry, ok := NormalizeLog(raw); ok {
			out = append(out, entry)
		}
	}
	return out
}
