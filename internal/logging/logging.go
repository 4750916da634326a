// Package logging wraps zerolog with the manager's component-scoped
// child loggers, following the shape of cuemby/warren's pkg/log.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance, configured by Init.
var Logger zerolog.Logger

// Level is a logging verbosity.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config controls Init.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init sets up the global logger. Call once at process startup.
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
		return
	}
	Logger = zerolog.New(zerolog.ConsoleWriter{
		Out:        output,
		TimeFormat: time.RFC3339,
	}).With().Timestamp().Logger()
}

func init() {
	// Sane default so packages that log before cmd/fgnhgorchd calls
	// Init (unit tests, mainly) don't panic on a zero-value Logger.
	Init(Config{Level: InfoLevel})
}

// Component returns a child logger tagged with the owning package.
func Component(name string) zerolog.Logger {
	return Logger.With().Str("component", name).Logger()
}

// WithGroup tags a logger with the owning FG-ECMP group name.
func WithGroup(l zerolog.Logger, group string) zerolog.Logger {
	return l.With().Str("group", group).Logger()
}

// WithRoute tags a logger with the owning (vrf, prefix) pair.
func WithRoute(l zerolog.Logger, vrf, prefix string) zerolog.Logger {
	return l.With().Str("vrf", vrf).Str("prefix", prefix).Logger()
}
