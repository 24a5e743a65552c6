package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hearthd/hearth/pkg/models"
)

const (
	maxSummaryLength  = 400
	maxSummaryResults = 5
)

// TraceEntry records one tool call within a turn.
type TraceEntry struct {
	Tool    string         `json:"tool"`
	Args    map[string]any `json:"args"`
	Success bool           `json:"success"`
	Summary string         `json:"summary"`
	Error   string         `json:"error,omitempty"`
}

// TurnTrace is the in-memory log of one turn's tool calls. The reflect step
// consumes it as a serialized observation; the writer consumes it as a facts
// list. Not safe for concurrent use; a turn owns its trace exclusively.
type TurnTrace struct {
	entries []TraceEntry
}

// NewTurnTrace returns an empty trace.
func NewTurnTrace() *TurnTrace {
	return &TurnTrace{}
}

// Record appends one tool observation, sanitizing arguments and compressing
// the output into a short shape-aware summary.
func (t *TurnTrace) Record(obs Observation) {
	entry := TraceEntry{
		Tool:    obs.Action.Tool,
		Args:    sanitizeArgs(obs.Action.Args),
		Success: obs.Success,
		Error:   obs.Error,
	}
	if obs.Success {
		entry.Summary = summarize(obs.Action.Tool, obs.Output)
	}
	t.entries = append(t.entries, entry)
}

// Len reports the number of recorded tool calls.
func (t *TurnTrace) Len() int { return len(t.entries) }

// Facts returns one line per tool result, each beginning with the tool name.
// Failed calls are included so the writer can acknowledge them.
func (t *TurnTrace) Facts() []string {
	facts := make([]string, 0, len(t.entries))
	for _, entry := range t.entries {
		if entry.Success {
			facts = append(facts, fmt.Sprintf("%s: %s", entry.Tool, entry.Summary))
		} else {
			facts = append(facts, fmt.Sprintf("%s failed: %s", entry.Tool, entry.Error))
		}
	}
	return facts
}

// Actions returns the trace as user-facing action records.
func (t *TurnTrace) Actions() []models.ActionRecord {
	actions := make([]models.ActionRecord, 0, len(t.entries))
	for _, entry := range t.entries {
		summary := entry.Summary
		if !entry.Success {
			summary = entry.Error
		}
		actions = append(actions, models.ActionRecord{
			Tool:    entry.Tool,
			Success: entry.Success,
			Summary: summary,
		})
	}
	return actions
}

// Observation serializes the trace as the JSON observation given to the
// reflect step.
func (t *TurnTrace) Observation() string {
	data, err := json.Marshal(map[string]any{"tool_calls": t.entries})
	if err != nil {
		return `{"tool_calls":[]}`
	}
	return string(data)
}

var sensitiveArgKeys = []string{"token", "key", "secret", "password", "credential"}

func sanitizeArgs(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for name, value := range args {
		lowered := strings.ToLower(name)
		redacted := false
		for _, sensitive := range sensitiveArgKeys {
			if strings.Contains(lowered, sensitive) {
				redacted = true
				break
			}
		}
		if redacted {
			out[name] = "[REDACTED]"
		} else {
			out[name] = value
		}
	}
	return out
}

// summarize compresses a tool output map into one short line, shaped by what
// the tool returns rather than by a generic dump.
func summarize(tool string, output map[string]any) string {
	switch {
	case strings.HasSuffix(tool, ".search") || strings.HasSuffix(tool, ".shopping_search"):
		if summary := summarizeResults(output); summary != "" {
			return summary
		}
	case strings.HasSuffix(tool, ".read_file"):
		if chars, found := asInt(output["chars"]); found {
			return fmt.Sprintf("read %d chars", chars)
		}
	case strings.HasSuffix(tool, ".list_directory"):
		if count, found := asInt(output["count"]); found {
			return fmt.Sprintf("%d entries", count)
		}
	}
	return compactJSON(output)
}

// summarizeResults renders search hits as a numbered title-and-URL list.
func summarizeResults(output map[string]any) string {
	var items []any
	for _, field := range []string{"results", "matches"} {
		if list, found := output[field].([]any); found {
			items = list
			break
		}
	}
	if len(items) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, item := range items {
		if i == maxSummaryResults {
			break
		}
		entry, isMap := item.(map[string]any)
		if !isMap {
			continue
		}
		title, _ := entry["title"].(string)
		url, _ := entry["url"].(string)
		if title == "" {
			title, _ = entry["file"].(string)
		}
		if url != "" {
			fmt.Fprintf(&sb, "%d. %s (%s)\n", i+1, title, url)
		} else {
			fmt.Fprintf(&sb, "%d. %s\n", i+1, title)
		}
	}
	return strings.TrimSpace(sb.String())
}

func compactJSON(output map[string]any) string {
	data, err := json.Marshal(output)
	if err != nil {
		return ""
	}
	s := string(data)
	if len(s) > maxSummaryLength {
		s = s[:maxSummaryLength] + "..."
	}
	return s
}

func asInt(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}
