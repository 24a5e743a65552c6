package jobs

import (
	"strings"
	"testing"
)

func validAtJob() *Job {
	return &Job{
		OwnerID:  "user-1",
		Schedule: Schedule{Kind: ScheduleAt, At: "2026-09-01T10:00:00Z"},
		Target:   TargetMain,
		Payload:  Payload{Kind: PayloadSystemEvent, Text: "stand up"},
	}
}

func validCronJob() *Job {
	return &Job{
		OwnerID:  "user-1",
		Schedule: Schedule{Kind: ScheduleCron, Expr: "0 8 * * *", TZ: "Europe/Madrid"},
		Target:   TargetIsolated,
		Payload:  Payload{Kind: PayloadAgentTurn, Message: "summarize the agenda"},
	}
}

func TestValidateAccepts(t *testing.T) {
	tests := []struct {
		name string
		job  *Job
	}{
		{"at with zulu offset", validAtJob()},
		{"cron daily", validCronJob()},
		{
			"at with signed offset",
			&Job{
				Schedule: Schedule{Kind: ScheduleAt, At: "2026-09-01T10:00:00+02:00"},
				Target:   TargetMain,
				Payload:  Payload{Kind: PayloadSystemEvent, Text: "x"},
			},
		},
		{
			"every at the minimum",
			&Job{
				Schedule: Schedule{Kind: ScheduleEvery, EveryMS: MinEveryMS},
				Target:   TargetIsolated,
				Payload:  Payload{Kind: PayloadAgentTurn, Message: "check in"},
			},
		},
		{
			"isolated with delivery",
			&Job{
				Schedule: Schedule{Kind: ScheduleEvery, EveryMS: 120_000},
				Target:   TargetIsolated,
				Payload:  Payload{Kind: PayloadAgentTurn, Message: "m", Delivery: map[string]any{"channel": "telegram"}},
				WakeMode: WakeNextHeartbeat,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := Validate(tt.job, nil); err != nil {
				t.Fatalf("Validate() error = %v, want nil", err)
			}
		})
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Job)
		job     *Job
		wantMsg string
	}{
		{
			name:    "main with agentTurn payload",
			job:     &Job{Schedule: Schedule{Kind: ScheduleEvery, EveryMS: MinEveryMS}, Target: TargetMain, Payload: Payload{Kind: PayloadAgentTurn, Message: "m"}},
			wantMsg: "systemEvent",
		},
		{
			name:    "isolated with systemEvent payload",
			job:     &Job{Schedule: Schedule{Kind: ScheduleEvery, EveryMS: MinEveryMS}, Target: TargetIsolated, Payload: Payload{Kind: PayloadSystemEvent, Text: "t"}},
			wantMsg: "agentTurn",
		},
		{
			name:    "delivery on main",
			job:     &Job{Schedule: Schedule{Kind: ScheduleEvery, EveryMS: MinEveryMS}, Target: TargetMain, Payload: Payload{Kind: PayloadSystemEvent, Text: "t", Delivery: map[string]any{"a": 1}}},
			wantMsg: "delivery",
		},
		{
			name:    "unknown target",
			job:     &Job{Schedule: Schedule{Kind: ScheduleEvery, EveryMS: MinEveryMS}, Target: "background", Payload: Payload{Kind: PayloadSystemEvent, Text: "t"}},
			wantMsg: "unknown target",
		},
		{
			name:    "period below minimum",
			job:     &Job{Schedule: Schedule{Kind: ScheduleEvery, EveryMS: 59_999}, Target: TargetMain, Payload: Payload{Kind: PayloadSystemEvent, Text: "t"}},
			wantMsg: "at least",
		},
		{
			name:    "at without offset",
			job:     &Job{Schedule: Schedule{Kind: ScheduleAt, At: "2026-09-01T10:00:00"}, Target: TargetMain, Payload: Payload{Kind: PayloadSystemEvent, Text: "t"}},
			wantMsg: "explicit UTC offset",
		},
		{
			name:    "cron with six fields",
			job:     &Job{Schedule: Schedule{Kind: ScheduleCron, Expr: "0 0 8 * * *", TZ: "UTC"}, Target: TargetMain, Payload: Payload{Kind: PayloadSystemEvent, Text: "t"}},
			wantMsg: "five fields",
		},
		{
			name:    "cron every minute",
			job:     &Job{Schedule: Schedule{Kind: ScheduleCron, Expr: "* * * * *", TZ: "UTC"}, Target: TargetMain, Payload: Payload{Kind: PayloadSystemEvent, Text: "t"}},
			wantMsg: "every-minute",
		},
		{
			name:    "cron without zone",
			job:     &Job{Schedule: Schedule{Kind: ScheduleCron, Expr: "0 8 * * *"}, Target: TargetMain, Payload: Payload{Kind: PayloadSystemEvent, Text: "t"}},
			wantMsg: "zone is required",
		},
		{
			name:    "cron with bad zone",
			job:     &Job{Schedule: Schedule{Kind: ScheduleCron, Expr: "0 8 * * *", TZ: "Mars/Olympus"}, Target: TargetMain, Payload: Payload{Kind: PayloadSystemEvent, Text: "t"}},
			wantMsg: "unknown zone",
		},
		{
			name:    "unknown wake mode",
			job:     &Job{Schedule: Schedule{Kind: ScheduleEvery, EveryMS: MinEveryMS}, Target: TargetMain, Payload: Payload{Kind: PayloadSystemEvent, Text: "t"}, WakeMode: "sometime"},
			wantMsg: "wake mode",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.job, nil)
			if err == nil {
				t.Fatal("Validate() error = nil, want rejection")
			}
			if !IsValidation(err) {
				t.Fatalf("Validate() error = %v, want ValidationError", err)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Fatalf("Validate() error = %q, want it to contain %q", err, tt.wantMsg)
			}
		})
	}
}

func TestValidateEveryMinuteAllowList(t *testing.T) {
	job := &Job{
		Schedule: Schedule{Kind: ScheduleCron, Expr: "* * * * *", TZ: "UTC"},
		Target:   TargetMain,
		Payload:  Payload{Kind: PayloadSystemEvent, Text: "heartbeat"},
	}
	allowExact := func(expr string) bool { return expr == "* * * * *" }
	if err := Validate(job, allowExact); err != nil {
		t.Fatalf("Validate() with allow-list error = %v, want nil", err)
	}
	allowOther := func(expr string) bool { return expr == "* 9 * * *" }
	if err := Validate(job, allowOther); err == nil {
		t.Fatal("Validate() error = nil, want every-minute rejection")
	}
}

// An input that passes validation still passes after a serialization
// round-trip through the store encoding.
func TestValidateRoundTripStable(t *testing.T) {
	for _, job := range []*Job{validAtJob(), validCronJob()} {
		if err := Validate(job, nil); err != nil {
			t.Fatalf("Validate() error = %v", err)
		}
		copied := cloneJob(job)
		if err := Validate(copied, nil); err != nil {
			t.Fatalf("Validate() after round-trip error = %v", err)
		}
	}
}
