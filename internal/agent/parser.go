package agent

import (
	"encoding/json"
	"log/slog"
	"strings"
)

// DecisionKind discriminates parsed model decisions.
type DecisionKind string

const (
	DecisionToolCall DecisionKind = "tool_call"
	DecisionNeedInfo DecisionKind = "need_info"
	DecisionFinal    DecisionKind = "final"
	DecisionInvalid  DecisionKind = "invalid"
)

// Decision is the parser's output: a (kind, payload) pair.
type Decision struct {
	Kind      DecisionKind
	Tool      string
	Args      map[string]any
	Questions []string
	Message   string
}

const maxIntentLength = 200

// jsonOnlyQuestion is the anti-loop prompt injected when the model keeps
// announcing an action without emitting a tool call.
const jsonOnlyQuestion = "Reply with only a JSON object: " +
	`{"type":"tool_call","tool":...,"args":{...}}, {"type":"need_info","questions":[...]}, or {"type":"final","message":...}.`

// defaultIntentPhrases flag output that announces imminent action without a
// tool call. English and Spanish, matched lowercased.
var defaultIntentPhrases = []string{
	"i will ",
	"i'll ",
	"let me ",
	"i am going to ",
	"i'm going to ",
	"one moment",
	"setting that up",
	"voy a ",
	"ahora mismo",
	"un momento",
	"deja que ",
	"dejame ",
	"déjame ",
	"enseguida",
}

// Parser extracts structured decisions from free-form model output. The zero
// value is not usable; construct with NewParser.
type Parser struct {
	phrases []string
	logger  *slog.Logger
}

// NewParser builds a parser. An empty phrase list selects the built-in
// defaults.
func NewParser(intentPhrases []string, logger *slog.Logger) *Parser {
	if len(intentPhrases) == 0 {
		intentPhrases = defaultIntentPhrases
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{phrases: intentPhrases, logger: logger.With("component", "parser")}
}

// Parse extracts a decision from output. lastOutput is the previous assistant
// output for the anti-loop heuristic; allowed, when non-nil, restricts
// tool_call decisions to the listed tool names.
//
// Raw model output is never logged; only lengths and decision kinds are.
func (p *Parser) Parse(output, lastOutput string, allowed []string) Decision {
	decision := p.parseOnce(output, allowed)
	if decision.Kind == DecisionInvalid && p.looksLikeIntent(output) && p.looksLikeIntent(lastOutput) {
		p.logger.Debug("intent loop detected", "output_len", len(output))
		return Decision{Kind: DecisionNeedInfo, Questions: []string{jsonOnlyQuestion}}
	}
	p.logger.Debug("parsed model output", "kind", decision.Kind, "output_len", len(output))
	return decision
}

func (p *Parser) parseOnce(output string, allowed []string) Decision {
	for _, candidate := range candidates(output) {
		var obj map[string]any
		if err := json.Unmarshal([]byte(candidate), &obj); err != nil {
			continue
		}
		return interpret(obj, allowed)
	}
	return Decision{Kind: DecisionInvalid}
}

// candidates returns JSON candidates in order of preference: the whole
// string, the first fenced json block, the first balanced object.
func candidates(output string) []string {
	var out []string
	trimmed := strings.TrimSpace(output)
	if strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}") {
		out = append(out, trimmed)
	}
	if fenced := fencedBlock(output); fenced != "" {
		out = append(out, fenced)
	}
	if balanced := balancedObject(output); balanced != "" {
		out = append(out, balanced)
	}
	return out
}

func fencedBlock(output string) string {
	for _, fence := range []string{"```json", "```JSON", "```"} {
		start := strings.Index(output, fence)
		if start < 0 {
			continue
		}
		rest := output[start+len(fence):]
		end := strings.Index(rest, "```")
		if end < 0 {
			continue
		}
		block := strings.TrimSpace(rest[:end])
		if strings.HasPrefix(block, "{") {
			return block
		}
	}
	return ""
}

// balancedObject returns the first {...} substring with balanced braces,
// skipping braces inside JSON strings.
func balancedObject(output string) string {
	start := strings.IndexByte(output, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(output); i++ {
		c := output[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return output[start : i+1]
			}
		}
	}
	return ""
}

func interpret(obj map[string]any, allowed []string) Decision {
	kind, _ := obj["type"].(string)
	switch kind {
	case "tool_call":
		tool, _ := obj["tool"].(string)
		args, argsOK := obj["args"].(map[string]any)
		if tool == "" || (obj["args"] != nil && !argsOK) {
			return Decision{Kind: DecisionInvalid}
		}
		if allowed != nil && !contains(allowed, tool) {
			return Decision{Kind: DecisionInvalid}
		}
		if args == nil {
			args = map[string]any{}
		}
		return Decision{Kind: DecisionToolCall, Tool: tool, Args: args}
	case "need_info":
		return Decision{Kind: DecisionNeedInfo, Questions: coerceQuestions(obj["questions"])}
	case "final":
		message, _ := obj["message"].(string)
		return Decision{Kind: DecisionFinal, Message: message}
	default:
		return Decision{Kind: DecisionInvalid}
	}
}

// coerceQuestions accepts a list, a scalar (becomes a singleton), or nothing
// (becomes empty).
func coerceQuestions(value any) []string {
	switch v := value.(type) {
	case nil:
		return []string{}
	case string:
		return []string{v}
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, isString := item.(string); isString {
				out = append(out, s)
			}
		}
		return out
	default:
		return []string{}
	}
}

func (p *Parser) looksLikeIntent(output string) bool {
	trimmed := strings.TrimSpace(output)
	if trimmed == "" || len(trimmed) > maxIntentLength {
		return false
	}
	lowered := strings.ToLower(trimmed)
	for _, phrase := range p.phrases {
		if strings.Contains(lowered, phrase) {
			return true
		}
	}
	return false
}

func contains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}
