package tools

import (
	"context"

	"github.com/hearthd/hearth/internal/jobs"
)

// scheduleSchema is the wire format shared by schedule.add and
// schedule.update. The shape round-trips exactly: what a caller sends is what
// schedule.list returns.
var scheduleSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"kind": map[string]any{"type": "string", "enum": []any{"at", "every", "cron"}},
		"at":   map[string]any{"type": "string"},
		"everyMs": map[string]any{
			"type":    "integer",
			"minimum": jobs.MinEveryMS,
		},
		"expr": map[string]any{"type": "string"},
		"tz":   map[string]any{"type": "string"},
	},
	"required": []any{"kind"},
}

var payloadSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"kind":     map[string]any{"type": "string", "enum": []any{"systemEvent", "agentTurn"}},
		"text":     map[string]any{"type": "string"},
		"message":  map[string]any{"type": "string"},
		"delivery": map[string]any{"type": "object"},
	},
	"required": []any{"kind"},
}

type jobArgs struct {
	Schedule      jobs.Schedule `json:"schedule"`
	SessionTarget jobs.Target   `json:"sessionTarget"`
	Payload       jobs.Payload  `json:"payload"`
	WakeMode      jobs.WakeMode `json:"wakeMode"`
	Label         string        `json:"label"`
}

func (a jobArgs) job() *jobs.Job {
	return &jobs.Job{
		Schedule: a.Schedule,
		Target:   a.SessionTarget,
		Payload:  a.Payload,
		WakeMode: a.WakeMode,
		Label:    a.Label,
	}
}

func jobProperties() map[string]any {
	return map[string]any{
		"schedule":      scheduleSchema,
		"sessionTarget": map[string]any{"type": "string", "enum": []any{"main", "isolated"}},
		"payload":       payloadSchema,
		"wakeMode":      map[string]any{"type": "string", "enum": []any{"now", "next-heartbeat"}},
		"label":         map[string]any{"type": "string"},
	}
}

// RegisterScheduleTools adds the scheduling surface to the dispatcher.
func RegisterScheduleTools(d *Dispatcher, engine *jobs.Engine) error {
	for _, tool := range []Tool{
		&scheduleAdd{engine: engine},
		&scheduleUpdate{engine: engine},
		&scheduleRemove{engine: engine},
		&scheduleList{engine: engine},
		&scheduleRunNow{engine: engine},
		&scheduleRuns{engine: engine},
	} {
		if err := d.Register(tool); err != nil {
			return err
		}
	}
	return nil
}

type scheduleAdd struct{ engine *jobs.Engine }

func (t *scheduleAdd) Name() string { return "schedule.add" }
func (t *scheduleAdd) Description() string {
	return "Create a scheduled job: one-shot (at), interval (every), or cron calendar expression."
}
func (t *scheduleAdd) Schema() map[string]any {
	return objectSchema(jobProperties(), "schedule", "sessionTarget", "payload")
}

func (t *scheduleAdd) Execute(ctx context.Context, call Call) (map[string]any, error) {
	var args jobArgs
	if err := decodeArgs(call.Args, &args); err != nil {
		return nil, err
	}
	job, err := t.engine.Add(ctx, call.CallerID, args.job())
	if err != nil {
		return nil, err
	}
	return map[string]any{"job": toMap(job)}, nil
}

type scheduleUpdate struct{ engine *jobs.Engine }

func (t *scheduleUpdate) Name() string        { return "schedule.update" }
func (t *scheduleUpdate) Description() string { return "Replace an existing scheduled job." }
func (t *scheduleUpdate) Schema() map[string]any {
	properties := jobProperties()
	properties["id"] = map[string]any{"type": "string"}
	return objectSchema(properties, "id", "schedule", "sessionTarget", "payload")
}

func (t *scheduleUpdate) Execute(ctx context.Context, call Call) (map[string]any, error) {
	var args struct {
		jobArgs
		ID string `json:"id"`
	}
	if err := decodeArgs(call.Args, &args); err != nil {
		return nil, err
	}
	job, err := t.engine.Update(ctx, call.CallerID, args.ID, args.job())
	if err != nil {
		return nil, err
	}
	return map[string]any{"job": toMap(job)}, nil
}

type scheduleRemove struct{ engine *jobs.Engine }

func (t *scheduleRemove) Name() string        { return "schedule.remove" }
func (t *scheduleRemove) Description() string { return "Delete a scheduled job and its run log." }
func (t *scheduleRemove) Schema() map[string]any {
	return objectSchema(map[string]any{"id": map[string]any{"type": "string"}}, "id")
}

func (t *scheduleRemove) Execute(ctx context.Context, call Call) (map[string]any, error) {
	var args struct {
		ID string `json:"id"`
	}
	if err := decodeArgs(call.Args, &args); err != nil {
		return nil, err
	}
	if err := t.engine.Remove(ctx, call.CallerID, args.ID); err != nil {
		return nil, err
	}
	return map[string]any{"removed": args.ID}, nil
}

type scheduleList struct{ engine *jobs.Engine }

func (t *scheduleList) Name() string           { return "schedule.list" }
func (t *scheduleList) Description() string    { return "List the caller's scheduled jobs." }
func (t *scheduleList) Schema() map[string]any { return objectSchema(map[string]any{}) }

func (t *scheduleList) Execute(ctx context.Context, call Call) (map[string]any, error) {
	list, err := t.engine.List(ctx, call.CallerID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"jobs": toList(list), "count": len(list)}, nil
}

type scheduleRunNow struct{ engine *jobs.Engine }

func (t *scheduleRunNow) Name() string { return "schedule.run_now" }
func (t *scheduleRunNow) Description() string {
	return "Execute a scheduled job immediately and record the run."
}
func (t *scheduleRunNow) Schema() map[string]any {
	return objectSchema(map[string]any{"id": map[string]any{"type": "string"}}, "id")
}

func (t *scheduleRunNow) Execute(ctx context.Context, call Call) (map[string]any, error) {
	var args struct {
		ID string `json:"id"`
	}
	if err := decodeArgs(call.Args, &args); err != nil {
		return nil, err
	}
	run, err := t.engine.RunNow(ctx, call.CallerID, args.ID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"run": toMap(run)}, nil
}

type scheduleRuns struct{ engine *jobs.Engine }

func (t *scheduleRuns) Name() string        { return "schedule.runs" }
func (t *scheduleRuns) Description() string { return "Read the run log of a scheduled job." }
func (t *scheduleRuns) Schema() map[string]any {
	return objectSchema(map[string]any{
		"id":    map[string]any{"type": "string"},
		"limit": map[string]any{"type": "integer", "minimum": 1},
	}, "id")
}

func (t *scheduleRuns) Execute(ctx context.Context, call Call) (map[string]any, error) {
	var args struct {
		ID    string `json:"id"`
		Limit int    `json:"limit"`
	}
	if err := decodeArgs(call.Args, &args); err != nil {
		return nil, err
	}
	runs, err := t.engine.Runs(ctx, call.CallerID, args.ID, args.Limit)
	if err != nil {
		return nil, err
	}
	return map[string]any{"runs": toList(runs), "count": len(runs)}, nil
}
