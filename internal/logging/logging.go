// Package logging provides the process-wide structured logger used by every
// PowerBot component.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance. It is safe for concurrent use.
var Logger zerolog.Logger

func init() {
	Init(Config{Level: "info", Pretty: true, Output: os.Stdout})
}

// Config controls how Init configures the global logger.
type Config struct {
	// Level is one of "debug", "info", "warn", "error".
	Level string
	// Pretty selects a human-readable console writer instead of JSON lines.
	// The supervisor console always runs pretty; workers re-exec'd as
	// detached processes default to JSON so their stdout can be tailed and
	// re-classified by the supervisor's log tailer.
	Pretty bool
	Output io.Writer
}

// Init (re)configures the global Logger. Safe to call more than once; the
// supervisor calls it again after parsing env-derived config.
func Init(cfg Config) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}
	Logger = zerolog.New(out).With().Timestamp().Logger()
}

// For returns a child logger tagged with a component name, the way every
// PowerBot subsystem identifies its log lines.
func For(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// ClassifyLine applies the supervisor's info/warn/error substring
// classification rule to a single line of worker stdout/stderr.
func ClassifyLine(line string) zerolog.Level {
	lower := strings.ToLower(line)
	switch {
	case strings.Contains(lower, "traceback"), strings.Contains(lower, "exception"):
		return zerolog.ErrorLevel
	case strings.Contains(lower, "error"):
		return zerolog.WarnLevel
	default:
		return zerolog.InfoLevel
	}
}
