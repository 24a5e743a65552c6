// Package observability bundles logging, metrics, and tracing for hearthd.
package observability

import (
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// LogConfig configures the structured logger.
type LogConfig struct {
	// Level sets the minimum log level: "debug", "info", "warn", "error".
	Level string

	// Format selects "json" or "text" output.
	Format string

	// Output is the writer for log output (defaults to os.Stderr).
	Output io.Writer

	// RedactPatterns are extra regex patterns redacted from log values.
	RedactPatterns []string
}

// defaultRedactPatterns cover the secrets most likely to leak through tool
// output or model replies.
var defaultRedactPatterns = []string{
	`(?i)(api[_-]?key|apikey|secret|token|password)[\s:=]+["']?([A-Za-z0-9_\-./+]{16,})["']?`,
	`(?i)bearer\s+[A-Za-z0-9_\-.]{16,}`,
	`sk-[A-Za-z0-9_\-]{20,}`,
	`eyJ[A-Za-z0-9_-]+\.eyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+`,
}

// NewLogger builds a slog.Logger that redacts secret-shaped strings from
// record values before they are written.
func NewLogger(cfg LogConfig) *slog.Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	redacts := make([]*regexp.Regexp, 0, len(defaultRedactPatterns)+len(cfg.RedactPatterns))
	for _, pattern := range append(append([]string{}, defaultRedactPatterns...), cfg.RedactPatterns...) {
		if re, err := regexp.Compile(pattern); err == nil {
			redacts = append(redacts, re)
		}
	}

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Value.Kind() == slog.KindString {
				a.Value = slog.StringValue(redact(redacts, a.Value.String()))
			}
			return a
		},
	}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(cfg.Output, opts)
	} else {
		handler = slog.NewTextHandler(cfg.Output, opts)
	}
	return slog.New(handler)
}

func redact(patterns []*regexp.Regexp, s string) string {
	for _, re := range patterns {
		s = re.ReplaceAllString(s, "[REDACTED]")
	}
	return s
}
