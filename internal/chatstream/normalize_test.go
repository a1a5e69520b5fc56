package chatstream

import (
	"encoding/json"
	"testing"
)

func TestNormalizeToolAcceptsMinimumShape(t *testing.T) {
	t.Parallel()

	ev, ok := NormalizeTool(json.RawMessage(`{"tool":"search","status":"done","latencyMs":12.5,"resultPreview":"3 hits","args":{"q":"go"}}`))
	if !ok {
		t.Fatalf("expected acceptance")
	}
	if ev.Tool != "search" || ev.Status != "done" || ev.LatencyMs != 12.5 {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.Args["q"] != "go" {
		t.Fatalf("args not preserved: %+v", ev.Args)
	}
}

func TestNormalizeToolRejections(t *testing.T) {
	t.Parallel()

	cases := []string{
		`{"status":"done"}`,
		`{"tool":"search"}`,
		`{"tool":"  ","status":"done"}`,
		`{"tool":123,"status":"done"}`,
		`"just a string"`,
		`42`,
		`{broken`,
	}
	for _, raw := range cases {
		if _, ok := NormalizeTool(json.RawMessage(raw)); ok {
			t.Fatalf("expected rejection of %s", raw)
		}
	}
}

func TestNormalizeLog(t *testing.T) {
	t.Parallel()

	entry, ok := NormalizeLog(json.RawMessage(`{"level":"info","message":"ready","assistantLanguage":"de"}`))
	if !ok {
		t.Fatalf("expected acceptance")
	}
	if entry.Level != "info" || entry.Message != "ready" || entry.AssistantLanguage != "de" {
		t.Fatalf("unexpected entry: %+v", entry)
	}

	for _, raw := range []string{`{"level":"info"}`, `{"message":"x"}`, `[]`} {
		if _, ok := NormalizeLog(json.RawMessage(raw)); ok {
			t.Fatalf("expected rejection of %s", raw)
		}
	}
}

func TestNormalizeBatchesFilterPerElement(t *testing.T) {
	t.Parallel()

	tools := NormalizeTools([]json.RawMessage{
		json.RawMessage(`{"tool":"a","status":"ok"}`),
		json.RawMessage(`{"nope":true}`),
		json.RawMessage(`{"tool":"b","status":"ok"}`),
	})
	if len(tools) != 2 || tools[0].Tool != "a" || tools[1].Tool != "b" {
		t.Fatalf("unexpected filtered tools: %+v", tools)
	}

	logs := NormalizeLogs([]json.RawMessage{
		json.RawMessage(`{"level":"info","message":"keep"}`),
		json.RawMessage(`null`),
	})
	if len(logs) != 1 || logs[0].Message != "keep" {
		t.Fatalf("unexpected filtered logs: %+v", logs)
	}
}
