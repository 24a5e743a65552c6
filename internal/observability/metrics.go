package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the central registry of hearthd Prometheus metrics.
type Metrics struct {
	// TurnCounter counts completed agent turns.
	// Labels: mode (chat|research|task|code|reflection), status (ok|failed)
	TurnCounter *prometheus.CounterVec

	// TurnDuration measures full turn latency in seconds.
	// Labels: mode
	TurnDuration *prometheus.HistogramVec

	// ModelRequestDuration measures model API call latency in seconds.
	// Labels: provider, purpose (route|plan|reflect|write|chat|fallback)
	ModelRequestDuration *prometheus.HistogramVec

	// ModelRequestCounter counts model calls.
	// Labels: provider, purpose, status (success|error)
	ModelRequestCounter *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool
	ToolExecutionDuration *prometheus.HistogramVec

	// ValidatorRejections counts turns blocked by the output validator.
	ValidatorRejections prometheus.Counter

	// BudgetExhaustions counts turns terminated by an iteration or task
	// budget. Labels: budget (iterations|turns|tool_attempts)
	BudgetExhaustions *prometheus.CounterVec

	// SchedulerTicks counts job scheduler passes.
	SchedulerTicks prometheus.Counter

	// JobRunCounter counts executed scheduled jobs.
	// Labels: status (ok|error)
	JobRunCounter *prometheus.CounterVec

	// ProactiveMessages counts queued proactive reminders.
	ProactiveMessages prometheus.Counter

	// ActiveConnections tracks open streaming connections.
	ActiveConnections prometheus.Gauge
}

// NewMetrics creates and registers all hearthd metrics with the default
// Prometheus registry. Call once at startup.
func NewMetrics() *Metrics {
	return &Metrics{
		TurnCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hearth_turns_total",
				Help: "Completed agent turns by mode and status.",
			},
			[]string{"mode", "status"},
		),
		TurnDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hearth_turn_duration_seconds",
				Help:    "Full turn latency.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"mode"},
		),
		ModelRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hearth_model_request_duration_seconds",
				Help:    "Model API call latency.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "purpose"},
		),
		ModelRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hearth_model_requests_total",
				Help: "Model API calls by provider, purpose, and status.",
			},
			[]string{"provider", "purpose", "status"},
		),
		ToolExecutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hearth_tool_executions_total",
				Help: "Tool invocations by tool and status.",
			},
			[]string{"tool", "status"},
		),
		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hearth_tool_execution_duration_seconds",
				Help:    "Tool execution time.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
			[]string{"tool"},
		),
		ValidatorRejections: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "hearth_validator_rejections_total",
				Help: "Turns blocked by the output validator.",
			},
		),
		BudgetExhaustions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hearth_budget_exhaustions_total",
				Help: "Turns terminated by a budget.",
			},
			[]string{"budget"},
		),
		SchedulerTicks: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "hearth_scheduler_ticks_total",
				Help: "Job scheduler passes.",
			},
		),
		JobRunCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hearth_job_runs_total",
				Help: "Executed scheduled jobs by status.",
			},
			[]string{"status"},
		),
		ProactiveMessages: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "hearth_proactive_messages_total",
				Help: "Queued proactive reminders.",
			},
		),
		ActiveConnections: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "hearth_active_connections",
				Help: "Open streaming connections.",
			},
		),
	}
}
