package agent

import (
	"fmt"
	"regexp"
)

// ValidationResult reports the outcome of the output screen.
type ValidationResult struct {
	Passed bool
	Error  string
}

const blockedMessage = "response blocked: output appears to contain a credential"

// secretPatterns are the high-confidence screens. A match blocks the turn;
// the offending substring is never echoed back.
var secretPatterns = []*regexp.Regexp{
	// key=value assignments with long opaque values
	regexp.MustCompile(`(?i)(api[_-]?key|secret|token|password|passwd|credential)["']?\s*[:=]\s*["']?[A-Za-z0-9+/_\-]{16,}`),
	// bearer tokens
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9\-._~+/]{20,}`),
	// prefixed opaque tokens (sk-, ghp_, xoxb-, AKIA...)
	regexp.MustCompile(`\b(sk-[A-Za-z0-9]{20,}|ghp_[A-Za-z0-9]{30,}|xox[baprs]-[A-Za-z0-9\-]{10,}|AKIA[0-9A-Z]{16})\b`),
}

var piiPatterns = []*regexp.Regexp{
	// US social security numbers
	regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
	// 16-digit card numbers, plain or dash separated
	regexp.MustCompile(`\b(?:\d{4}[- ]){3}\d{4}\b`),
}

// Validator screens observation output before it can reach the user.
type Validator struct {
	checkPII bool
}

// NewValidator builds a validator; checkPII enables the optional PII screen.
func NewValidator(checkPII bool) *Validator {
	return &Validator{checkPII: checkPII}
}

// Check flattens the observation's output and message to text and applies the
// secret screen, plus the PII screen when enabled. The returned error never
// contains the matched text.
func (v *Validator) Check(state *RunState, obs Observation) ValidationResult {
	texts := flatten(obs.Output)
	if obs.Message != "" {
		texts = append(texts, obs.Message)
	}
	for _, text := range texts {
		for _, pattern := range secretPatterns {
			if pattern.MatchString(text) {
				return ValidationResult{Passed: false, Error: blockedMessage}
			}
		}
		if v.checkPII {
			for _, pattern := range piiPatterns {
				if pattern.MatchString(text) {
					return ValidationResult{Passed: false, Error: "response blocked: output appears to contain personal data"}
				}
			}
		}
	}
	return ValidationResult{Passed: true}
}

// flatten collects every string-convertible leaf of a nested JSON-ish value.
func flatten(value any) []string {
	var out []string
	var walk func(any)
	walk = func(v any) {
		switch typed := v.(type) {
		case nil:
		case string:
			out = append(out, typed)
		case map[string]any:
			for _, item := range typed {
				walk(item)
			}
		case []any:
			for _, item := range typed {
				walk(item)
			}
		default:
			out = append(out, fmt.Sprint(typed))
		}
	}
	walk(value)
	return out
}
