// Package logging wraps log/slog with the host's console format and
// component-scoped loggers.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// Level is a log severity.
type Level = slog.Level

const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// DefaultProcess names the process in console output.
const DefaultProcess = "tether"

// Logger is a slog.Logger that knows how to scope itself to a host
// component or a client connection.
type Logger struct {
	*slog.Logger
}

// Config selects the logger's output.
type Config struct {
	Level  Level
	Output io.Writer
	// JSON switches from the console line format to slog's JSON handler.
	JSON bool
	// Process names the process in console lines; empty means DefaultProcess.
	Process string
}

// New creates a logger.
func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: cfg.Level}

	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = NewConsoleHandler(out, cfg.Process, opts)
	}
	return &Logger{Logger: slog.New(handler)}
}

// ParseLevel maps a config string onto a Level. Empty means info.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", s)
}

var defaultLogger atomic.Pointer[Logger]

// Default returns the process logger. Until SetDefault is called it
// writes info and above to stderr.
func Default() *Logger {
	if l := defaultLogger.Load(); l != nil {
		return l
	}
	defaultLogger.CompareAndSwap(nil, New(Config{Level: LevelInfo}))
	return defaultLogger.Load()
}

// SetDefault replaces the process logger. A nil logger restores the
// stderr default on next use.
func SetDefault(l *Logger) {
	defaultLogger.Store(l)
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: LevelError + 4}))}
}

// WithComponent tags every record with the owning component.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{Logger: l.Logger.With(componentKey, name)}
}

// WithConn tags every record with a client connection id.
func (l *Logger) WithConn(id string) *Logger {
	return &Logger{Logger: l.Logger.With("conn", id)}
}

// WithComponent scopes the process logger to a component.
func WithComponent(name string) *Logger {
	return Default().WithComponent(name)
}
