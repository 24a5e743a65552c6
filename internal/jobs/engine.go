package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hearthd/hearth/internal/config"
	"github.com/hearthd/hearth/internal/observability"
	"github.com/hearthd/hearth/internal/storage"
)

// ErrDailyCapExceeded rejects job creation past the per-caller daily cap.
var ErrDailyCapExceeded = &ValidationError{
	Field: "owner",
	Msg:   "daily job creation limit reached",
}

// ErrNotOwner rejects operations on a job the caller does not own.
var ErrNotOwner = errors.New("job not owned by caller")

// Engine exposes the job operations and drives the tick loop.
type Engine struct {
	store   Store
	meta    storage.MetadataStore
	cfg     config.SchedulerConfig
	logger  *slog.Logger
	metrics *observability.Metrics
	runner  Runner
	now     func() time.Time

	mu      sync.Mutex
	started bool
	wg      sync.WaitGroup
}

// EngineOption configures the engine.
type EngineOption func(*Engine)

// WithRunner sets the executor for due job payloads.
func WithRunner(runner Runner) EngineOption {
	return func(e *Engine) {
		if runner != nil {
			e.runner = runner
		}
	}
}

// WithMetrics attaches scheduler metrics.
func WithMetrics(m *observability.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithNow overrides the clock for tests.
func WithNow(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine creates the job engine.
func NewEngine(store Store, meta storage.MetadataStore, cfg config.SchedulerConfig, logger *slog.Logger, opts ...EngineOption) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	engine := &Engine{
		store:  store,
		meta:   meta,
		cfg:    cfg,
		logger: logger.With("component", "jobs"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(engine)
	}
	return engine
}

// SetRunner installs the payload runner after construction. The gateway is
// built after the engine (the scheduling tools need the engine), so the
// runner arrives late.
func (e *Engine) SetRunner(runner Runner) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.runner = runner
}

// Add validates and persists a new job for the caller. The returned job
// carries the assigned id and creation time.
func (e *Engine) Add(ctx context.Context, callerID string, job *Job) (*Job, error) {
	job = cloneJob(job)
	job.OwnerID = callerID
	if err := Validate(job, e.cfg.AllowsEveryMinute); err != nil {
		return nil, err
	}
	if err := e.checkDailyCap(ctx, callerID); err != nil {
		return nil, err
	}
	job.ID = uuid.NewString()
	job.CreatedAt = e.now().UTC()
	if err := e.store.Create(ctx, job); err != nil {
		return nil, err
	}
	if err := e.bumpDailyCount(ctx, callerID); err != nil {
		e.logger.Warn("recording daily job count failed", "owner", callerID, "error", err)
	}
	e.logger.Info("job added", "job_id", job.ID, "owner", callerID, "kind", job.Schedule.Kind)
	return job, nil
}

// Update replaces the schedule, payload, wake mode, and label of an existing
// job owned by the caller.
func (e *Engine) Update(ctx context.Context, callerID, id string, updated *Job) (*Job, error) {
	existing, err := e.ownedJob(ctx, callerID, id)
	if err != nil {
		return nil, err
	}
	job := cloneJob(updated)
	job.ID = existing.ID
	job.OwnerID = existing.OwnerID
	job.CreatedAt = existing.CreatedAt
	if err := Validate(job, e.cfg.AllowsEveryMinute); err != nil {
		return nil, err
	}
	if err := e.store.Update(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Remove deletes a job owned by the caller together with its run log.
func (e *Engine) Remove(ctx context.Context, callerID, id string) error {
	if _, err := e.ownedJob(ctx, callerID, id); err != nil {
		return err
	}
	return e.store.Delete(ctx, id)
}

// List returns the caller's jobs, oldest first.
func (e *Engine) List(ctx context.Context, callerID string) ([]*Job, error) {
	return e.store.List(ctx, callerID)
}

// RunNow executes a job synchronously and appends a run record.
func (e *Engine) RunNow(ctx context.Context, callerID, id string) (*Run, error) {
	job, err := e.ownedJob(ctx, callerID, id)
	if err != nil {
		return nil, err
	}
	return e.execute(ctx, job)
}

// Runs returns the newest limit run records for a job owned by the caller.
func (e *Engine) Runs(ctx context.Context, callerID, id string, limit int) ([]*Run, error) {
	if _, err := e.ownedJob(ctx, callerID, id); err != nil {
		return nil, err
	}
	return e.store.Runs(ctx, id, limit)
}

// Start launches the tick loop until the context is cancelled.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return
	}
	e.started = true
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(e.cfg.Tick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.Tick(ctx)
			}
		}
	}()
}

// Stop waits for the tick loop to exit.
func (e *Engine) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Tick runs one scheduler pass: load all jobs, execute the due ones, append a
// run record each. Exported for tests; at most one run per (job, tick).
func (e *Engine) Tick(ctx context.Context) int {
	if e.metrics != nil {
		e.metrics.SchedulerTicks.Inc()
	}
	now := e.now().UTC()
	all, err := e.store.List(ctx, "")
	if err != nil {
		e.logger.Warn("scheduler tick: load jobs", "error", err)
		return 0
	}
	fired := 0
	for _, job := range all {
		due, err := e.isDue(ctx, job, now)
		if err != nil {
			e.logger.Warn("scheduler tick: dueness", "job_id", job.ID, "error", err)
			continue
		}
		if !due {
			continue
		}
		if _, err := e.execute(ctx, job); err != nil {
			e.logger.Warn("job run failed", "job_id", job.ID, "error", err)
		}
		fired++
	}
	return fired
}

// isDue computes whether a job should fire at now, from the schedule rules
// and the job's run history. Restart-safe: at jobs with any recorded run
// never refire; every/cron jobs resume from their last recorded run.
func (e *Engine) isDue(ctx context.Context, job *Job, now time.Time) (bool, error) {
	last, err := e.store.LastRun(ctx, job.ID)
	if err != nil {
		return false, err
	}
	switch job.Schedule.Kind {
	case ScheduleAt:
		if last != nil {
			return false, nil
		}
		at, err := job.Schedule.AtTime()
		if err != nil {
			return false, err
		}
		return !now.Before(at), nil
	case ScheduleEvery:
		base := job.CreatedAt
		if last != nil {
			base = last.At
		}
		// A long pause produces a single catch-up firing; missed
		// intervals are not replayed.
		return !now.Before(base.Add(job.Schedule.Every())), nil
	case ScheduleCron:
		base := job.CreatedAt
		if last != nil {
			base = last.At
		}
		next, err := cronNext(job.Schedule, base)
		if err != nil {
			return false, err
		}
		return !now.Before(next), nil
	default:
		return false, fmt.Errorf("unknown schedule kind %q", job.Schedule.Kind)
	}
}

// cronNext returns the next instant after base at which the expression
// matches in its configured zone, converted to UTC.
func cronNext(s Schedule, base time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(s.Expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression: %w", err)
	}
	loc, err := time.LoadLocation(s.TZ)
	if err != nil {
		return time.Time{}, fmt.Errorf("load zone: %w", err)
	}
	return sched.Next(base.In(loc)).UTC(), nil
}

func (e *Engine) execute(ctx context.Context, job *Job) (*Run, error) {
	run := &Run{JobID: job.ID, At: e.now().UTC(), Status: RunOK}
	var runErr error
	e.mu.Lock()
	runner := e.runner
	e.mu.Unlock()
	if runner == nil {
		runErr = errors.New("no job runner configured")
	} else {
		runErr = runner.RunJob(ctx, job)
	}
	if runErr != nil {
		run.Status = RunError
		run.Error = runErr.Error()
	}
	if e.metrics != nil {
		e.metrics.JobRunCounter.WithLabelValues(string(run.Status)).Inc()
	}
	if err := e.store.AppendRun(ctx, run); err != nil {
		return nil, err
	}
	return run, runErr
}

func (e *Engine) ownedJob(ctx context.Context, callerID, id string) (*Job, error) {
	job, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.OwnerID != callerID {
		return nil, ErrNotOwner
	}
	return job, nil
}

// checkDailyCap enforces the per-caller creation cap for the current UTC day
// with a metadata counter. Read-only: the counter advances in bumpDailyCount
// once the create has succeeded, so a failed insert costs no quota.
func (e *Engine) checkDailyCap(ctx context.Context, callerID string) error {
	cap := e.cfg.JobsPerCallerPerDay
	if cap <= 0 || e.meta == nil {
		return nil
	}
	count, err := e.dailyCount(ctx, callerID)
	if err != nil {
		return err
	}
	if count >= cap {
		return ErrDailyCapExceeded
	}
	return nil
}

func (e *Engine) bumpDailyCount(ctx context.Context, callerID string) error {
	if e.cfg.JobsPerCallerPerDay <= 0 || e.meta == nil {
		return nil
	}
	count, err := e.dailyCount(ctx, callerID)
	if err != nil {
		return err
	}
	return e.meta.Set(ctx, e.dailyCapKey(callerID), strconv.Itoa(count+1))
}

func (e *Engine) dailyCount(ctx context.Context, callerID string) (int, error) {
	value, err := e.meta.Get(ctx, e.dailyCapKey(callerID))
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	count, _ := strconv.Atoi(value)
	return count, nil
}

func (e *Engine) dailyCapKey(callerID string) string {
	return fmt.Sprintf("jobs.created.%s.%s", callerID, e.now().UTC().Format("2006-01-02"))
}
