// Package jobs implements the time-based job engine: one-shot, interval, and
// calendar-expression schedules, their validation, the tick loop, and the
// per-job run log.
package jobs

import (
	"context"
	"time"
)

// Target selects the session a job's payload is delivered into.
type Target string

const (
	// TargetMain injects a system event into the owner's main conversation.
	TargetMain Target = "main"

	// TargetIsolated runs an agent turn in a detached session.
	TargetIsolated Target = "isolated"
)

// WakeMode controls whether delivery may wake the device immediately.
type WakeMode string

const (
	WakeNow           WakeMode = "now"
	WakeNextHeartbeat WakeMode = "next-heartbeat"
)

// ScheduleKind discriminates the Schedule union.
type ScheduleKind string

const (
	ScheduleAt    ScheduleKind = "at"
	ScheduleEvery ScheduleKind = "every"
	ScheduleCron  ScheduleKind = "cron"
)

// Schedule is the timing specification of a job. Exactly one variant is
// populated, selected by Kind. The wire encoding is bit-exact with the
// scheduling tool format: {kind:"at", at}, {kind:"every", everyMs}, or
// {kind:"cron", expr, tz}.
type Schedule struct {
	Kind ScheduleKind `json:"kind"`

	// At is an RFC 3339 instant with an explicit UTC offset. Kept as the
	// caller's string so round-trips preserve the written offset.
	At string `json:"at,omitempty"`

	// EveryMS is the interval period in milliseconds, minimum 60000.
	EveryMS int64 `json:"everyMs,omitempty"`

	// Expr is a five-field cron expression evaluated in the zone TZ.
	Expr string `json:"expr,omitempty"`
	TZ   string `json:"tz,omitempty"`
}

// AtTime parses the At instant. Valid only for ScheduleAt.
func (s Schedule) AtTime() (time.Time, error) {
	return time.Parse(time.RFC3339, s.At)
}

// Every returns the interval period. Valid only for ScheduleEvery.
func (s Schedule) Every() time.Duration {
	return time.Duration(s.EveryMS) * time.Millisecond
}

// PayloadKind discriminates the Payload union.
type PayloadKind string

const (
	// PayloadSystemEvent is delivered into the main session (TargetMain).
	PayloadSystemEvent PayloadKind = "systemEvent"

	// PayloadAgentTurn runs a full agent turn (TargetIsolated).
	PayloadAgentTurn PayloadKind = "agentTurn"
)

// Payload is what a job delivers when it fires.
type Payload struct {
	Kind PayloadKind `json:"kind"`

	// Text is the system event text (systemEvent only).
	Text string `json:"text,omitempty"`

	// Message is the user-style message for the agent turn (agentTurn only).
	Message string `json:"message,omitempty"`

	// Delivery optionally routes the agent turn's answer to a channel.
	// Permitted only for agentTurn.
	Delivery map[string]any `json:"delivery,omitempty"`
}

// Job is a scheduled work item.
type Job struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	Schedule  Schedule  `json:"schedule"`
	Target    Target    `json:"sessionTarget"`
	Payload   Payload   `json:"payload"`
	WakeMode  WakeMode  `json:"wakeMode,omitempty"`
	Label     string    `json:"label,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// RunStatus records the outcome of one job execution.
type RunStatus string

const (
	RunOK    RunStatus = "ok"
	RunError RunStatus = "error"
)

// Run is one execution record, append-only per job.
type Run struct {
	JobID  string    `json:"jobId"`
	At     time.Time `json:"at"`
	Status RunStatus `json:"status"`
	Error  string    `json:"error,omitempty"`
}

// Store persists jobs and their run logs.
type Store interface {
	Create(ctx context.Context, job *Job) error
	Update(ctx context.Context, job *Job) error
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*Job, error)

	// List returns jobs owned by ownerID, or all jobs when ownerID is "".
	List(ctx context.Context, ownerID string) ([]*Job, error)

	AppendRun(ctx context.Context, run *Run) error

	// Runs returns the newest limit run records for a job, newest first.
	Runs(ctx context.Context, jobID string, limit int) ([]*Run, error)

	// LastRun returns the most recent run record, or nil when none exists.
	LastRun(ctx context.Context, jobID string) (*Run, error)
}

// Runner executes a due job's payload. Implemented by the gateway: systemEvent
// payloads append to the main conversation, agentTurn payloads run a detached
// agent turn.
type Runner interface {
	RunJob(ctx context.Context, job *Job) error
}

// RunnerFunc adapts a function to a Runner.
type RunnerFunc func(ctx context.Context, job *Job) error

// RunJob executes the runner function.
func (f RunnerFunc) RunJob(ctx context.Context, job *Job) error {
	return f(ctx, job)
}
