package agent

import (
	"reflect"
	"strings"
	"testing"
)

func newTestParser() *Parser {
	return NewParser(nil, nil)
}

func TestParseDirectObject(t *testing.T) {
	parser := newTestParser()
	tests := []struct {
		name  string
		input string
		want  Decision
	}{
		{
			"tool call",
			`{"type":"tool_call","tool":"schedule.add","args":{"label":"tea"}}`,
			Decision{Kind: DecisionToolCall, Tool: "schedule.add", Args: map[string]any{"label": "tea"}},
		},
		{
			"tool call without args",
			`{"type":"tool_call","tool":"schedule.list"}`,
			Decision{Kind: DecisionToolCall, Tool: "schedule.list", Args: map[string]any{}},
		},
		{
			"need_info with list",
			`{"type":"need_info","questions":["when?","where?"]}`,
			Decision{Kind: DecisionNeedInfo, Questions: []string{"when?", "where?"}},
		},
		{
			"need_info scalar coerced to singleton",
			`{"type":"need_info","questions":"when?"}`,
			Decision{Kind: DecisionNeedInfo, Questions: []string{"when?"}},
		},
		{
			"need_info missing questions",
			`{"type":"need_info"}`,
			Decision{Kind: DecisionNeedInfo, Questions: []string{}},
		},
		{
			"final",
			`{"type":"final","message":"all set"}`,
			Decision{Kind: DecisionFinal, Message: "all set"},
		},
		{
			"final missing message",
			`{"type":"final"}`,
			Decision{Kind: DecisionFinal, Message: ""},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parser.Parse(tt.input, "", nil)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("Parse() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseInvalid(t *testing.T) {
	parser := newTestParser()
	for _, input := range []string{
		"",
		"sure, happy to help!",
		`{"type":"teleport","to":"kitchen"}`,
		`{"tool":"schedule.add"}`,
		`{"type":"tool_call","tool":""}`,
	} {
		if got := parser.Parse(input, "", nil); got.Kind != DecisionInvalid {
			t.Fatalf("Parse(%q).Kind = %s, want invalid", input, got.Kind)
		}
	}
}

// An object embedded anywhere parses the same as the bare object.
func TestParseEmbeddedObject(t *testing.T) {
	parser := newTestParser()
	bare := `{"type":"final","message":"done"}`
	want := parser.Parse(bare, "", nil)

	embeddings := []string{
		"```json\n" + bare + "\n```",
		"```\n" + bare + "\n```",
		"Here is my decision:\n" + bare + "\nLet me know.",
		"Sure! ```json\n" + bare + "\n``` as requested.",
	}
	for _, input := range embeddings {
		if got := parser.Parse(input, "", nil); !reflect.DeepEqual(got, want) {
			t.Fatalf("Parse(embedded) = %+v, want %+v", got, want)
		}
	}
}

func TestParseBalancedBracesSkipStrings(t *testing.T) {
	parser := newTestParser()
	input := `prefix {"type":"final","message":"brace } inside"} suffix`
	got := parser.Parse(input, "", nil)
	if got.Kind != DecisionFinal || got.Message != "brace } inside" {
		t.Fatalf("Parse() = %+v, want final with literal brace", got)
	}
}

func TestParseAllowList(t *testing.T) {
	parser := newTestParser()
	input := `{"type":"tool_call","tool":"web.search","args":{"query":"x"}}`

	if got := parser.Parse(input, "", []string{"web.search"}); got.Kind != DecisionToolCall {
		t.Fatalf("Parse() with permitting allow-list = %+v, want tool_call", got)
	}
	if got := parser.Parse(input, "", []string{"schedule.add"}); got.Kind != DecisionInvalid {
		t.Fatalf("Parse() with excluding allow-list = %+v, want invalid", got)
	}
	if got := parser.Parse(input, "", []string{}); got.Kind != DecisionInvalid {
		t.Fatalf("Parse() with empty allow-list = %+v, want invalid", got)
	}
}

func TestAntiLoop(t *testing.T) {
	parser := newTestParser()
	got := parser.Parse("Let me do that for you.", "I will set that up now.", nil)
	if got.Kind != DecisionNeedInfo {
		t.Fatalf("Parse() anti-loop kind = %s, want need_info", got.Kind)
	}
	if len(got.Questions) != 1 || !strings.Contains(got.Questions[0], "JSON") {
		t.Fatalf("anti-loop question = %v, want a single JSON-only instruction", got.Questions)
	}
}

func TestAntiLoopRequiresBothOutputs(t *testing.T) {
	parser := newTestParser()
	// Only the current output announces intent: plain invalid.
	if got := parser.Parse("Let me do that for you.", "What time works?", nil); got.Kind != DecisionInvalid {
		t.Fatalf("Parse() = %+v, want invalid without matching previous output", got)
	}
	// Oversized outputs are not intent announcements.
	long := "I will " + strings.Repeat("definitely ", 40) + "do it."
	if got := parser.Parse(long, long, nil); got.Kind != DecisionInvalid {
		t.Fatalf("Parse() = %+v, want invalid for oversized intent text", got)
	}
}

func TestAntiLoopSpanish(t *testing.T) {
	parser := newTestParser()
	got := parser.Parse("Voy a configurarlo ahora.", "Un momento, voy a hacerlo.", nil)
	if got.Kind != DecisionNeedInfo {
		t.Fatalf("Parse() Spanish anti-loop kind = %s, want need_info", got.Kind)
	}
}
