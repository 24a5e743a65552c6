package jobs

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// MinEveryMS is the smallest accepted interval period, one minute.
const MinEveryMS = 60_000

// cronParser accepts exactly the standard five fields, no seconds and no
// descriptors.
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// ValidationError reports a rejected job definition. It is surfaced verbatim
// to the caller and never retried.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// Validate checks every schedule and payload rule. allowEveryMinute reports
// whether a cron expression firing every minute is permitted; nil means never.
func Validate(job *Job, allowEveryMinute func(expr string) bool) error {
	if job == nil {
		return invalid("", "job is required")
	}

	switch job.Target {
	case TargetMain:
		if job.Payload.Kind != PayloadSystemEvent {
			return invalid("payload.kind", "target %q requires a systemEvent payload", TargetMain)
		}
		if strings.TrimSpace(job.Payload.Text) == "" {
			return invalid("payload.text", "systemEvent payload requires text")
		}
		if job.Payload.Delivery != nil {
			return invalid("payload.delivery", "delivery is permitted only for isolated jobs")
		}
	case TargetIsolated:
		if job.Payload.Kind != PayloadAgentTurn {
			return invalid("payload.kind", "target %q requires an agentTurn payload", TargetIsolated)
		}
		if strings.TrimSpace(job.Payload.Message) == "" {
			return invalid("payload.message", "agentTurn payload requires a message")
		}
	default:
		return invalid("sessionTarget", "unknown target %q", job.Target)
	}

	switch job.WakeMode {
	case "", WakeNow, WakeNextHeartbeat:
	default:
		return invalid("wakeMode", "unknown wake mode %q", job.WakeMode)
	}

	return validateSchedule(job.Schedule, allowEveryMinute)
}

func validateSchedule(s Schedule, allowEveryMinute func(expr string) bool) error {
	switch s.Kind {
	case ScheduleAt:
		if strings.TrimSpace(s.At) == "" {
			return invalid("schedule.at", "instant is required")
		}
		// RFC 3339 always carries an explicit offset ("Z" or ±HH:MM);
		// local-time strings without one fail to parse.
		if _, err := time.Parse(time.RFC3339, s.At); err != nil {
			return invalid("schedule.at", "instant must be RFC 3339 with an explicit UTC offset")
		}
	case ScheduleEvery:
		if s.EveryMS < MinEveryMS {
			return invalid("schedule.everyMs", "period must be at least %d ms", MinEveryMS)
		}
	case ScheduleCron:
		fields := strings.Fields(s.Expr)
		if len(fields) != 5 {
			return invalid("schedule.expr", "expression must have exactly five fields")
		}
		if _, err := cronParser.Parse(s.Expr); err != nil {
			return invalid("schedule.expr", "invalid expression: %v", err)
		}
		if fields[0] == "*" && (allowEveryMinute == nil || !allowEveryMinute(s.Expr)) {
			return invalid("schedule.expr", "every-minute expressions are not allowed")
		}
		if s.TZ == "" {
			return invalid("schedule.tz", "IANA zone is required")
		}
		if _, err := time.LoadLocation(s.TZ); err != nil {
			return invalid("schedule.tz", "unknown zone %q", s.TZ)
		}
	default:
		return invalid("schedule.kind", "unknown schedule kind %q", s.Kind)
	}
	return nil
}
