// Package logging provides structured logging for the Bourse server,
// wrapping github.com/charmbracelet/log the way pkg/logging wraps it for
// the Klingon node: a small Config/New surface so call sites log through
// a *Logger rather than the charmbracelet global.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// Level re-exports the underlying log level type.
type Level = log.Level

// Log levels.
const (
	DebugLevel = log.DebugLevel
	InfoLevel  = log.InfoLevel
	WarnLevel  = log.WarnLevel
	ErrorLevel = log.ErrorLevel
)

// Logger wraps charmbracelet/log with the prefix/level conventions used
// throughout the server.
type Logger struct {
	*log.Logger
}

// Config holds logger construction parameters.
type Config struct {
	Level  string
	Prefix string
	Output io.Writer
}

// DefaultConfig returns the configuration used when none is supplied.
func DefaultConfig() *Config {
	return &Config{Level: "info", Output: os.Stderr}
}

// New creates a Logger from cfg, filling in defaults for zero fields.
func New(cfg *Config) *Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	l := log.NewWithOptions(out, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.TimeOnly,
		Prefix:          cfg.Prefix,
	})
	l.SetLevel(ParseLevel(cfg.Level))
	return &Logger{Logger: l}
}

// ParseLevel maps a level name to a Level, defaulting to Info on an
// unrecognized string.
func ParseLevel(level string) Level {
	switch strings.ToLower(level) {
	case "debug":
		return DebugLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// With returns a child logger carrying the given key-value pairs.
func (l *Logger) With(keyvals ...interface{}) *Logger {
	return &Logger{Logger: l.Logger.With(keyvals...)}
}

// WithPrefix returns a child logger with the given prefix, for tagging
// log lines by component (e.g. "ledger", "matching", "server").
func (l *Logger) WithPrefix(prefix string) *Logger {
	return &Logger{Logger: l.Logger.WithPrefix(prefix)}
}
