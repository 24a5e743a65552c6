package models

// EventType discriminates progress events streamed to a client during a turn.
type EventType string

const (
	// EventStatus carries a short human-readable progress note.
	EventStatus EventType = "status"

	// EventStepOutput carries truncated intermediate output for one phase.
	EventStepOutput EventType = "step_output"

	// EventToolStart announces a tool invocation.
	EventToolStart EventType = "tool_start"

	// EventToolDone announces completion of a tool invocation.
	EventToolDone EventType = "tool_done"

	// EventToken carries an incremental chunk of the final answer.
	EventToken EventType = "token"

	// EventDone terminates the stream. Exactly one per turn, always last.
	EventDone EventType = "done"
)

// Phase identifies which stage of the agentic turn a step_output belongs to.
type Phase string

const (
	PhasePlan       Phase = "plan"
	PhaseToolResult Phase = "tool_result"
	PhaseReflect    Phase = "reflect"
)

// Event is a single progress event. Fields are populated according to Type;
// unused fields are omitted from the wire encoding.
type Event struct {
	Type    EventType      `json:"type"`
	Text    string         `json:"text,omitempty"`    // status, token
	Phase   Phase          `json:"phase,omitempty"`   // step_output
	Content string         `json:"content,omitempty"` // step_output
	Tool    string         `json:"tool,omitempty"`    // step_output, tool_start, tool_done
	Message string         `json:"message,omitempty"` // done
	Actions []ActionRecord `json:"actions,omitempty"` // done
	Error   string         `json:"error,omitempty"`   // done
}

// ProgressFunc receives progress events during a streaming turn. It is always
// invoked from the turn's own goroutine, in emission order.
type ProgressFunc func(Event)
