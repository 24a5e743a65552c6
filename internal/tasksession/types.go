// Package tasksession persists per-user task state for multi-turn task mode:
// one JSON file per task, a pointer file per chat mapping to the active task.
package tasksession

import "time"

// State is the task session state machine position.
type State string

const (
	StateIdle           State = "IDLE"
	StateNeedsInfo      State = "NEEDS_INFO"
	StateReadyToExecute State = "READY_TO_EXECUTE"
	StateExecuting      State = "EXECUTING"
	StatePendingConfirm State = "PENDING_CONFIRM"
	StateDone           State = "DONE"
	StateFailed         State = "FAILED"
)

// Terminal reports whether the state is sticky.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// transitions lists the permitted forward edges. Any state may move to
// FAILED; terminal states accept nothing.
var transitions = map[State][]State{
	StateIdle:           {StateNeedsInfo, StateReadyToExecute, StateExecuting, StateDone},
	StateNeedsInfo:      {StateNeedsInfo, StateReadyToExecute, StateExecuting, StateDone},
	StateReadyToExecute: {StateExecuting, StatePendingConfirm, StateDone},
	StateExecuting:      {StatePendingConfirm, StateDone},
	StatePendingConfirm: {StateExecuting, StateDone},
}

func allowed(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Session is the persistent per-chat task state. Callers receive snapshots;
// only the store mutates persisted state.
type Session struct {
	TaskID              string         `json:"task_id"`
	ChatID              string         `json:"chat_id"`
	State               State          `json:"state"`
	TurnCount           int            `json:"turn_count"`
	ToolAttemptCount    int            `json:"tool_attempt_count"`
	CreatedAt           time.Time      `json:"created_at"`
	LastMessageAt       time.Time      `json:"last_message_at"`
	LastAssistantOutput string         `json:"last_assistant_output,omitempty"`
	Meta                map[string]any `json:"meta,omitempty"`
}

// TransitionOpts adjusts counters and metadata alongside a state change.
type TransitionOpts struct {
	IncrementTurn        bool
	IncrementToolAttempt bool

	// LastAssistantOutput replaces the stored output when non-nil.
	LastAssistantOutput *string

	// PendingConfirm records a confirmation prompt in session metadata.
	PendingConfirm bool
}
