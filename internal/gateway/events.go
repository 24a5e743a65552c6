package gateway

import (
	"github.com/hearthd/hearth/internal/config"
	"github.com/hearthd/hearth/pkg/models"
)

// emitter wraps a progress callback with the streaming contract: per-phase
// truncation and exactly one done event, emitted last. A nil callback makes
// every method a no-op, which is blocking mode.
type emitter struct {
	progress models.ProgressFunc
	limits   config.AgentConfig
	doneSent bool
}

func newEmitter(progress models.ProgressFunc, limits config.AgentConfig) *emitter {
	return &emitter{progress: progress, limits: limits}
}

func (e *emitter) emit(event models.Event) {
	if e.progress == nil || e.doneSent {
		return
	}
	e.progress(event)
}

func (e *emitter) status(text string) {
	e.emit(models.Event{Type: models.EventStatus, Text: text})
}

func (e *emitter) stepOutput(phase models.Phase, content, tool string) {
	e.emit(models.Event{
		Type:    models.EventStepOutput,
		Phase:   phase,
		Content: truncate(content, e.limitFor(phase)),
		Tool:    tool,
	})
}

func (e *emitter) toolStart(tool string) {
	e.emit(models.Event{Type: models.EventToolStart, Tool: tool})
}

func (e *emitter) toolDone(tool string) {
	e.emit(models.Event{Type: models.EventToolDone, Tool: tool})
}

func (e *emitter) token(text string) {
	e.emit(models.Event{Type: models.EventToken, Text: text})
}

// done is terminal. Later calls, including a second done, are dropped.
func (e *emitter) done(message string, actions []models.ActionRecord, errText string) {
	if e.progress == nil || e.doneSent {
		return
	}
	e.doneSent = true
	e.progress(models.Event{
		Type:    models.EventDone,
		Message: message,
		Actions: actions,
		Error:   errText,
	})
}

func (e *emitter) limitFor(phase models.Phase) int {
	switch phase {
	case models.PhasePlan:
		return e.limits.PlanTruncateBytes
	case models.PhaseToolResult:
		return e.limits.ToolTruncateBytes
	case models.PhaseReflect:
		return e.limits.ReflectTruncateBytes
	default:
		return e.limits.ReflectTruncateBytes
	}
}

func truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	return s[:limit]
}
