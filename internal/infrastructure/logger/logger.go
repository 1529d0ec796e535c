// Package logger wraps log/slog for the notebook engine.
package logger

import (
	"log/slog"
	"os"

	"github.com/cellmesh/cellmesh/internal/config"
)

// Logger is the engine-wide structured logger. It embeds *slog.Logger so
// call sites use the plain slog surface (Info, Warn, Error, With, ...).
type Logger struct {
	*slog.Logger
}

// New builds a logger from the logging configuration. Source locations are
// attached only at debug level; they are noise in production JSON output.
func New(cfg config.LoggingConfig) *Logger {
	level := parseLevel(cfg.Level)
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return &Logger{Logger: slog.New(handler)}
}

// With returns a logger that carries the given attributes on every record.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

var defaultLogger = New(config.LoggingConfig{Level: "info", Format: "json"})

// Default returns the process-wide logger.
func Default() *Logger { return defaultLogger }

// SetDefault replaces the process-wide logger; cmd/server calls this once
// after configuration is loaded.
func SetDefault(l *Logger) { defaultLogger = l }
