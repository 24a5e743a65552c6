package agent

import (
	"context"
	"strings"
	"time"

	"github.com/hearthd/hearth/internal/tools"
)

// Executor runs one Action and produces an Observation. It owns no timeouts;
// individual tools are responsible for bounding their own work.
type Executor struct {
	dispatcher *tools.Dispatcher
	callerID   string
}

// NewExecutor builds an executor dispatching on behalf of callerID.
func NewExecutor(dispatcher *tools.Dispatcher, callerID string) *Executor {
	return &Executor{dispatcher: dispatcher, callerID: callerID}
}

// Run executes action under rc. Tool calls are measured and dispatched;
// need_info and final synthesize successful observations.
func (e *Executor) Run(ctx context.Context, action Action, rc RunContext) Observation {
	switch action.Kind {
	case ActionToolCall:
		start := time.Now()
		result := e.dispatcher.Execute(ctx, action.Tool, action.Args, e.callerID, tools.Context{
			HouseholdID: rc.HouseholdID,
			UserID:      rc.UserID,
			Allowed:     rc.AllowedTools,
		})
		return Observation{
			Action:    action,
			Success:   result.Success,
			Output:    result.Output,
			Error:     result.Error,
			LatencyMS: time.Since(start).Milliseconds(),
		}
	case ActionNeedInfo:
		return Observation{
			Action:  action,
			Success: true,
			Message: strings.Join(action.Questions, "\n"),
		}
	case ActionFinal:
		return Observation{
			Action:  action,
			Success: true,
			Message: action.Message,
		}
	default:
		return Observation{
			Action:  action,
			Success: false,
			Error:   "unsupported action",
		}
	}
}
