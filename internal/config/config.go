// Package config defines the hearthd configuration surface and its loader.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the main configuration structure for hearthd.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Data      DataConfig      `yaml:"data"`
	LLM       LLMConfig       `yaml:"llm"`
	Agent     AgentConfig     `yaml:"agent"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Proactive ProactiveConfig `yaml:"proactive"`
	Parser    ParserConfig    `yaml:"parser"`
	Validator ValidatorConfig `yaml:"validator"`
	Tools     ToolsConfig     `yaml:"tools"`
	Channels  ChannelsConfig  `yaml:"channels"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

type ServerConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	MetricsPort int    `yaml:"metrics_port"`
}

type DataConfig struct {
	// Dir is the root directory for all local state (SQLite database,
	// task session files, legacy job files pending migration).
	Dir string `yaml:"dir"`
}

type LLMConfig struct {
	// Provider selects the model client: "openai" or "anthropic".
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
	// BaseURL overrides the provider endpoint, e.g. a local llama server
	// exposing the OpenAI wire format.
	BaseURL string `yaml:"base_url"`
}

// AgentConfig carries the per-turn and per-task budgets.
type AgentConfig struct {
	// MaxIterations caps reflect/act cycles within one agentic turn.
	MaxIterations int `yaml:"max_iterations"`

	// MaxTurns caps user turns per task session.
	MaxTurns int `yaml:"max_turns"`

	// MaxToolAttempts caps tool executions per task session.
	MaxToolAttempts int `yaml:"max_tool_attempts"`

	// SessionInactivity is the idle threshold after which a new
	// conversation session begins.
	SessionInactivity time.Duration `yaml:"session_inactivity"`

	// Truncation limits, in bytes, for streamed step_output payloads.
	PlanTruncateBytes    int `yaml:"plan_truncate_bytes"`
	ToolTruncateBytes    int `yaml:"tool_truncate_bytes"`
	ReflectTruncateBytes int `yaml:"reflect_truncate_bytes"`
}

type SchedulerConfig struct {
	// Tick is the cadence of the job scheduler loop.
	Tick time.Duration `yaml:"tick"`

	// JobsPerCallerPerDay caps job creation per caller per UTC day.
	JobsPerCallerPerDay int `yaml:"jobs_per_caller_per_day"`

	// AllowEveryMinute permits calendar expressions whose minute field is
	// "*". Either the wildcard entry "*" (allow all) or a list of exact
	// expressions to allow.
	AllowEveryMinute []string `yaml:"allow_every_minute"`
}

type ProactiveConfig struct {
	// Tick is the cadence of the proactive reminder loop.
	Tick time.Duration `yaml:"tick"`

	// WindowMin and WindowMax bound the lookahead window, in minutes
	// ahead of now, for agenda reminders.
	WindowMin int `yaml:"window_min"`
	WindowMax int `yaml:"window_max"`
}

type ParserConfig struct {
	// IntentPhrases are lowercase substrings that mark model output as an
	// intention to act without an actual tool call. Used by the anti-loop
	// heuristic; defaults cover English and Spanish.
	IntentPhrases []string `yaml:"intent_phrases"`
}

type ValidatorConfig struct {
	// CheckPII enables the optional PII screen in addition to the
	// always-on secret screen.
	CheckPII bool `yaml:"check_pii"`
}

// ToolsConfig configures the tool families that reach outside the process.
type ToolsConfig struct {
	Web      WebToolsConfig      `yaml:"web"`
	Codebase CodebaseToolsConfig `yaml:"codebase"`
	Repo     RepoToolsConfig     `yaml:"repo"`
}

type WebToolsConfig struct {
	// SearchURL is a SearXNG-compatible search endpoint. Empty disables
	// the web search tools.
	SearchURL string `yaml:"search_url"`
}

type CodebaseToolsConfig struct {
	// Root confines the codebase tools; paths may not escape it.
	Root string `yaml:"root"`
}

type RepoToolsConfig struct {
	Root string `yaml:"root"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	// HouseholdID scopes bot conversations to one household.
	HouseholdID string `yaml:"household_id"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type TracingConfig struct {
	// Endpoint is the OTLP gRPC collector address. Empty disables export.
	Endpoint string `yaml:"endpoint"`
}

// Default returns a Config populated with every documented default.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "127.0.0.1",
			Port:        8720,
			MetricsPort: 8721,
		},
		Data: DataConfig{Dir: "~/.hearth"},
		LLM: LLMConfig{
			Provider: "openai",
			Model:    "gpt-4o-mini",
		},
		Agent: AgentConfig{
			MaxIterations:        8,
			MaxTurns:             4,
			MaxToolAttempts:      2,
			SessionInactivity:    15 * time.Minute,
			PlanTruncateBytes:    4000,
			ToolTruncateBytes:    3500,
			ReflectTruncateBytes: 2000,
		},
		Scheduler: SchedulerConfig{
			Tick:                30 * time.Second,
			JobsPerCallerPerDay: 20,
		},
		Proactive: ProactiveConfig{
			Tick:      60 * time.Second,
			WindowMin: 12,
			WindowMax: 18,
		},
		Tools: ToolsConfig{
			Codebase: CodebaseToolsConfig{Root: "."},
			Repo:     RepoToolsConfig{Root: "."},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks cross-field constraints that the loader cannot express.
func (c *Config) Validate() error {
	if c.Agent.MaxIterations <= 0 {
		return fmt.Errorf("agent.max_iterations must be positive")
	}
	if c.Agent.MaxTurns <= 0 || c.Agent.MaxToolAttempts <= 0 {
		return fmt.Errorf("agent budgets must be positive")
	}
	if c.Scheduler.Tick <= 0 {
		return fmt.Errorf("scheduler.tick must be positive")
	}
	if c.Proactive.WindowMin < 0 || c.Proactive.WindowMax < c.Proactive.WindowMin {
		return fmt.Errorf("proactive window is inverted")
	}
	switch strings.ToLower(strings.TrimSpace(c.LLM.Provider)) {
	case "", "openai", "anthropic":
	default:
		return fmt.Errorf("unknown llm provider %q", c.LLM.Provider)
	}
	return nil
}

// AllowsEveryMinute reports whether a calendar expression firing every minute
// is permitted, either by the wildcard entry or by exact-match inclusion.
func (c SchedulerConfig) AllowsEveryMinute(expr string) bool {
	expr = strings.TrimSpace(expr)
	for _, allowed := range c.AllowEveryMinute {
		allowed = strings.TrimSpace(allowed)
		if allowed == "*" || allowed == expr {
			return true
		}
	}
	return false
}
