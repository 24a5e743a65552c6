// Package agent contains the planning core of an agentic turn: actions,
// observations, the structured-output parser, the executor, and the output
// validator. The gateway package drives these pieces; nothing here performs
// streaming or persistence of its own.
package agent

import (
	"github.com/hearthd/hearth/pkg/models"
)

// ActionKind discriminates the planner's decision variants.
type ActionKind string

const (
	ActionToolCall ActionKind = "tool_call"
	ActionNeedInfo ActionKind = "need_info"
	ActionFinal    ActionKind = "final"
)

// Action is the planner's atomic decision. Exactly one variant is populated,
// selected by Kind. Immutable once produced.
type Action struct {
	Kind ActionKind

	// tool_call
	Tool string
	Args map[string]any

	// need_info
	Questions []string

	// final
	Message string
}

// ToolCall builds a tool_call action.
func ToolCall(tool string, args map[string]any) Action {
	if args == nil {
		args = map[string]any{}
	}
	return Action{Kind: ActionToolCall, Tool: tool, Args: args}
}

// NeedInfo builds a need_info action.
func NeedInfo(questions []string) Action {
	return Action{Kind: ActionNeedInfo, Questions: questions}
}

// Final builds a final action.
func Final(message string) Action {
	return Action{Kind: ActionFinal, Message: message}
}

// Observation is the result of executing an Action. Created by the Executor,
// never mutated afterwards.
type Observation struct {
	Action  Action
	Success bool
	Output  map[string]any
	Error   string
	Message string

	// LatencyMS is set for tool_call actions.
	LatencyMS int64
}

// Mode tags the routing decision for one turn.
type Mode string

const (
	ModeChat       Mode = "chat"
	ModeResearch   Mode = "research"
	ModeTask       Mode = "task"
	ModeCode       Mode = "code"
	ModeReflection Mode = "reflection"
)

// RunState is the input for one planning step. The pending decision slot is
// consumed on first use so a decision parsed upstream is never replayed.
type RunState struct {
	Message             string
	History             []models.Message
	TaskID              string
	LastAssistantOutput string
	Mode                Mode

	pending *Decision
}

// NewRunState builds the state for one turn.
func NewRunState(message string, history []models.Message, mode Mode) *RunState {
	return &RunState{Message: message, History: history, Mode: mode}
}

// SetPending stores a parsed decision to short-circuit the next planning step.
func (s *RunState) SetPending(d Decision) {
	s.pending = &d
}

// TakePending returns and clears the pending decision.
func (s *RunState) TakePending() (Decision, bool) {
	if s.pending == nil {
		return Decision{}, false
	}
	d := *s.pending
	s.pending = nil
	return d, true
}

// RunContext carries the ambient handles for one turn. It lives only for the
// turn's duration.
type RunContext struct {
	HouseholdID string
	UserID      string

	// AllowedTools restricts the callable tool set when non-nil.
	AllowedTools []string
}
