package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hearthd/hearth/internal/jobs"
	"github.com/hearthd/hearth/internal/storage"
	"github.com/hearthd/hearth/pkg/models"
)

// JobRunner executes due scheduled jobs. A system-event payload lands in the
// owner's main conversation history; an agent-turn payload runs a detached
// isolated turn and delivers the reply through the connection registry.
type JobRunner struct {
	gateway  *Gateway
	history  storage.HistoryStore
	registry *Registry

	// householdID scopes job execution; jobs carry only their owner.
	householdID string

	logger *slog.Logger
}

// NewJobRunner builds the runner wired into the job engine via SetRunner.
func NewJobRunner(gateway *Gateway, history storage.HistoryStore, registry *Registry, householdID string, logger *slog.Logger) *JobRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobRunner{
		gateway:     gateway,
		history:     history,
		registry:    registry,
		householdID: householdID,
		logger:      logger.With("component", "jobrunner"),
	}
}

// RunJob implements jobs.Runner.
func (r *JobRunner) RunJob(ctx context.Context, job *jobs.Job) error {
	switch job.Payload.Kind {
	case jobs.PayloadSystemEvent:
		return r.runSystemEvent(ctx, job)
	case jobs.PayloadAgentTurn:
		return r.runAgentTurn(ctx, job)
	default:
		return fmt.Errorf("job %s: unknown payload kind %q", job.ID, job.Payload.Kind)
	}
}

func (r *JobRunner) runSystemEvent(ctx context.Context, job *jobs.Job) error {
	message := models.Message{
		Role:      models.RoleSystem,
		Content:   job.Payload.Text,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.history.Append(ctx, r.householdID, job.OwnerID, message); err != nil {
		return fmt.Errorf("job %s: append system event: %w", job.ID, err)
	}
	r.registry.Notify(job.OwnerID, models.Event{Type: models.EventStatus, Text: job.Payload.Text})
	return nil
}

func (r *JobRunner) runAgentTurn(ctx context.Context, job *jobs.Job) error {
	reply, err := r.gateway.Process(ctx, Request{
		HouseholdID: r.householdID,
		UserID:      job.OwnerID,
		Message:     job.Payload.Message,
	}, nil)
	if err != nil {
		return fmt.Errorf("job %s: agent turn: %w", job.ID, err)
	}
	r.logger.Info("scheduled turn completed", "job", job.ID, "owner", job.OwnerID)
	r.registry.Notify(job.OwnerID, models.Event{
		Type:    models.EventDone,
		Message: reply.Message,
		Actions: reply.Actions,
	})
	return nil
}
