// Package logging configures the process-wide slog logger.
package logging

import (
	"context"
	"io"
	"log/slog"
	"strings"
)

type ContextKey string

const (
	RequestIDKey ContextKey = "request_id"
	SourceIDKey  ContextKey = "source_id"
)

type Config struct {
	Level  string // debug, info, warn, error
	Format string // json, text
}

// New builds a logger writing to w. The processor passes stderr so stdout
// stays reserved for the result payload.
func New(cfg Config, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// Init installs New(cfg, w) as the default logger and returns it.
func Init(cfg Config, w io.Writer) *slog.Logger {
	l := New(cfg, w)
	slog.SetDefault(l)
	return l
}

// WithContext decorates base with the request and source ids carried by ctx.
func WithContext(ctx context.Context, base *slog.Logger) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	if id, ok := ctx.Value(RequestIDKey).(string); ok && id != "" {
		base = base.With("request_id", id)
	}
	if id, ok := ctx.Value(SourceIDKey).(int64); ok && id > 0 {
		base = base.With("source_id", id)
	}
	return base
}

// Discard is a logger for tests and for components built without one.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
