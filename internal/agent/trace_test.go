package agent

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestTraceFactsAndActions(t *testing.T) {
	trace := NewTurnTrace()
	trace.Record(Observation{
		Action:  ToolCall("web.search", map[string]any{"query": "kettle"}),
		Success: true,
		Output: map[string]any{
			"results": []any{
				map[string]any{"title": "Best kettles 2026", "url": "https://example.com/kettles"},
				map[string]any{"title": "Kettle buying guide", "url": "https://example.com/guide"},
			},
			"count": 2,
		},
	})
	trace.Record(Observation{
		Action:  ToolCall("web.fetch_url", map[string]any{"url": "https://example.com/kettles"}),
		Success: false,
		Error:   "fetch failed: connection refused",
	})

	facts := trace.Facts()
	if len(facts) != 2 {
		t.Fatalf("Facts() returned %d entries, want 2", len(facts))
	}
	if !strings.HasPrefix(facts[0], "web.search:") {
		t.Fatalf("fact does not begin with the tool name: %q", facts[0])
	}
	if !strings.Contains(facts[0], "https://example.com/kettles") {
		t.Fatalf("search fact is missing a result URL: %q", facts[0])
	}
	if !strings.Contains(facts[0], "1. Best kettles 2026") {
		t.Fatalf("search fact is not a numbered list: %q", facts[0])
	}
	if !strings.Contains(facts[1], "web.fetch_url failed") {
		t.Fatalf("failed call fact = %q", facts[1])
	}

	actions := trace.Actions()
	if len(actions) != 2 {
		t.Fatalf("Actions() returned %d, want 2", len(actions))
	}
	if !actions[0].Success || actions[1].Success {
		t.Fatalf("Actions() success flags = %v/%v", actions[0].Success, actions[1].Success)
	}
	if actions[1].Summary != "fetch failed: connection refused" {
		t.Fatalf("failed action summary = %q", actions[1].Summary)
	}
}

func TestTraceShapeSummaries(t *testing.T) {
	trace := NewTurnTrace()
	trace.Record(Observation{
		Action:  ToolCall("codebase.read_file", map[string]any{"path": "main.go"}),
		Success: true,
		Output:  map[string]any{"path": "main.go", "content": "package main", "chars": float64(12)},
	})
	trace.Record(Observation{
		Action:  ToolCall("codebase.list_directory", map[string]any{"path": "."}),
		Success: true,
		Output:  map[string]any{"entries": []any{"a.go", "b.go"}, "count": float64(2)},
	})

	facts := trace.Facts()
	if facts[0] != "codebase.read_file: read 12 chars" {
		t.Fatalf("read_file summary = %q", facts[0])
	}
	if facts[1] != "codebase.list_directory: 2 entries" {
		t.Fatalf("list_directory summary = %q", facts[1])
	}
}

func TestTraceSanitizesArgs(t *testing.T) {
	trace := NewTurnTrace()
	trace.Record(Observation{
		Action: ToolCall("test.tool", map[string]any{
			"query":   "weather",
			"api_key": "sk-verysecret",
		}),
		Success: true,
		Output:  map[string]any{"ok": true},
	})

	serialized := trace.Observation()
	if strings.Contains(serialized, "sk-verysecret") {
		t.Fatalf("Observation() leaks a sensitive argument: %s", serialized)
	}
	if !strings.Contains(serialized, "[REDACTED]") {
		t.Fatalf("Observation() did not redact the sensitive argument: %s", serialized)
	}
	if !strings.Contains(serialized, "weather") {
		t.Fatalf("Observation() dropped a benign argument: %s", serialized)
	}
}

func TestTraceObservationIsJSON(t *testing.T) {
	trace := NewTurnTrace()
	if trace.Len() != 0 {
		t.Fatalf("Len() of empty trace = %d", trace.Len())
	}
	trace.Record(Observation{
		Action:  ToolCall("test.tool", nil),
		Success: true,
		Output:  map[string]any{"value": 7},
	})

	var decoded struct {
		ToolCalls []TraceEntry `json:"tool_calls"`
	}
	if err := json.Unmarshal([]byte(trace.Observation()), &decoded); err != nil {
		t.Fatalf("Observation() is not valid JSON: %v", err)
	}
	if len(decoded.ToolCalls) != 1 || decoded.ToolCalls[0].Tool != "test.tool" {
		t.Fatalf("Observation() decoded = %+v", decoded)
	}
}

func TestTraceLongOutputTruncated(t *testing.T) {
	trace := NewTurnTrace()
	trace.Record(Observation{
		Action:  ToolCall("test.tool", nil),
		Success: true,
		Output:  map[string]any{"blob": strings.Repeat("x", 2000)},
	})
	facts := trace.Facts()
	if len(facts[0]) > 500 {
		t.Fatalf("default summary not truncated: %d bytes", len(facts[0]))
	}
	if !strings.HasSuffix(facts[0], "...") {
		t.Fatalf("truncated summary missing ellipsis: %q", facts[0][len(facts[0])-20:])
	}
}
