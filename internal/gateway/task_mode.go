package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/hearthd/hearth/internal/agent"
	"github.com/hearthd/hearth/internal/tasksession"
	"github.com/hearthd/hearth/internal/tools"
	"github.com/hearthd/hearth/pkg/models"
)

// taskTurn is the task-mode overlay: one planner, executor, validator cycle
// against the user's persistent task session, with budget enforcement.
func (g *Gateway) taskTurn(ctx context.Context, req Request, emit *emitter) (*models.Reply, error) {
	session, err := g.tasks.GetOrCreate(req.UserID, req.Message)
	if err != nil {
		return nil, fmt.Errorf("task session: %w", err)
	}
	if !g.tasks.CanMakeTurn(session) {
		return g.failTask(session, "turns")
	}

	emit.status("Working on your task...")

	state := agent.NewRunState(req.Message, req.History, agent.ModeTask)
	state.TaskID = session.TaskID
	state.LastAssistantOutput = session.LastAssistantOutput
	rc := agent.RunContext{HouseholdID: req.HouseholdID, UserID: req.UserID}

	action := g.planner.Next(ctx, state, rc)
	executor := agent.NewExecutor(g.dispatcher, req.UserID)

	switch action.Kind {
	case agent.ActionToolCall:
		if !g.tasks.CanExecuteTool(session) {
			return g.failTask(session, "tool_attempts")
		}
		session, err = g.tasks.Transition(session, tasksession.StateExecuting, tasksession.TransitionOpts{
			IncrementTurn:        true,
			IncrementToolAttempt: true,
		})
		if err != nil {
			return nil, fmt.Errorf("task transition: %w", err)
		}

		emit.toolStart(action.Tool)
		obs := executor.Run(ctx, action, rc)
		emit.toolDone(action.Tool)
		if !obs.Success {
			if _, err := g.tasks.Transition(session, tasksession.StateFailed, tasksession.TransitionOpts{}); err != nil {
				g.logger.Warn("task transition failed", "error", err)
			}
			if err := g.tasks.ClearActive(req.UserID); err != nil {
				g.logger.Warn("clear active task failed", "error", err)
			}
			runTrace := agent.NewTurnTrace()
			runTrace.Record(obs)
			return &models.Reply{
				Message: fmt.Sprintf("I couldn't finish that: %s", obs.Error),
				Actions: runTrace.Actions(),
			}, nil
		}
		if result := g.validator.Check(state, obs); !result.Passed {
			if g.metrics != nil {
				g.metrics.ValidatorRejections.Inc()
			}
			if _, err := g.tasks.Transition(session, tasksession.StateFailed, tasksession.TransitionOpts{}); err != nil {
				g.logger.Warn("task transition failed", "error", err)
			}
			_ = g.tasks.ClearActive(req.UserID)
			return &models.Reply{Message: result.Error}, nil
		}

		message := confirmMessage(obs)
		if _, err := g.tasks.Transition(session, tasksession.StateDone, tasksession.TransitionOpts{
			LastAssistantOutput: &message,
		}); err != nil {
			return nil, fmt.Errorf("task transition: %w", err)
		}
		if err := g.tasks.ClearActive(req.UserID); err != nil {
			g.logger.Warn("clear active task failed", "error", err)
		}
		runTrace := agent.NewTurnTrace()
		runTrace.Record(obs)
		return &models.Reply{Message: message, Actions: runTrace.Actions()}, nil

	case agent.ActionNeedInfo:
		message := strings.Join(action.Questions, "\n")
		if _, err := g.tasks.Transition(session, tasksession.StateNeedsInfo, tasksession.TransitionOpts{
			IncrementTurn:       true,
			LastAssistantOutput: &message,
		}); err != nil {
			return nil, fmt.Errorf("task transition: %w", err)
		}
		return &models.Reply{Message: message}, nil

	default:
		message := cleanReply(action.Message)
		if message == "" {
			message = apologyMessage
		}
		if _, err := g.tasks.Transition(session, tasksession.StateDone, tasksession.TransitionOpts{
			IncrementTurn:       true,
			LastAssistantOutput: &message,
		}); err != nil {
			return nil, fmt.Errorf("task transition: %w", err)
		}
		if err := g.tasks.ClearActive(req.UserID); err != nil {
			g.logger.Warn("clear active task failed", "error", err)
		}
		return &models.Reply{Message: message}, nil
	}
}

// failTask marks the session FAILED, clears the active pointer, and returns
// the budget-exhaustion reply.
func (g *Gateway) failTask(session *tasksession.Session, budget string) (*models.Reply, error) {
	if g.metrics != nil {
		g.metrics.BudgetExhaustions.WithLabelValues(budget).Inc()
	}
	if _, err := g.tasks.Transition(session, tasksession.StateFailed, tasksession.TransitionOpts{}); err != nil {
		g.logger.Warn("task transition failed", "error", err)
	}
	if err := g.tasks.ClearActive(session.ChatID); err != nil {
		g.logger.Warn("clear active task failed", "error", err)
	}
	return &models.Reply{Message: tooManyStepsMsg}, nil
}

// confirmMessage shapes a successful tool observation into the user-facing
// confirmation. Job-creating tools get their identifier echoed, shortened.
func confirmMessage(obs agent.Observation) string {
	if job, found := obs.Output["job"].(map[string]any); found {
		if id, _ := job["id"].(string); id != "" {
			return fmt.Sprintf("Done. I set that up (job %s).", shortID(id))
		}
	}
	if removed, _ := obs.Output["removed"].(string); removed != "" {
		return fmt.Sprintf("Done. I removed job %s.", shortID(removed))
	}
	if event, found := obs.Output["event"].(map[string]any); found {
		if title, _ := event["title"].(string); title != "" {
			return fmt.Sprintf("Done. %q is on the agenda.", title)
		}
	}
	return fmt.Sprintf("Done. %s finished successfully.", obs.Action.Tool)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func toolsContext(rc agent.RunContext) tools.Context {
	return tools.Context{
		HouseholdID: rc.HouseholdID,
		UserID:      rc.UserID,
		Allowed:     rc.AllowedTools,
	}
}
