package adadisk

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with coordinator-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that writes JSON-formatted logs to w.
// If w is nil, logs go to stderr.
func NewJSONLogger(w io.Writer, level slog.Level) *Logger {
	if w == nil {
		w = os.Stderr
	}
	return NewLogger(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// NewTextLogger creates a Logger that writes human-readable text logs to w.
// If w is nil, logs go to stderr.
func NewTextLogger(w io.Writer, level slog.Level) *Logger {
	if w == nil {
		w = os.Stderr
	}
	return NewLogger(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return NewLogger(slog.DiscardHandler)
}

// WithRole adds a role field to the logger.
func (l *Logger) WithRole(role string) *Logger {
	return &Logger{
		Logger: l.Logger.With("role", role),
	}
}

// WithDataset adds a dataset field to the logger.
func (l *Logger) WithDataset(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("dataset", name),
	}
}

// WithRunID adds a run_id field to the logger.
func (l *Logger) WithRunID(id string) *Logger {
	return &Logger{
		Logger: l.Logger.With("run_id", id),
	}
}

// LogGenerate logs a dataset generation.
func (l *Logger) LogGenerate(ctx context.Context, path string, points, dim int, d time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "dataset generation failed",
			"path", path,
			"points", points,
			"dimension", dim,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "dataset generated",
			"path", path,
			"points", points,
			"dimension", dim,
			"bytes", 8+4*int64(points)*int64(dim),
			"duration", d,
		)
	}
}

// LogBuild logs an index build.
func (l *Logger) LogBuild(ctx context.Context, prefix string, d time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "index build failed",
			"prefix", prefix,
			"duration", d,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "index built",
			"prefix", prefix,
			"duration", d,
		)
	}
}

// LogLoad logs an index load.
func (l *Logger) LogLoad(ctx context.Context, prefix string, dim int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "index load failed",
			"prefix", prefix,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "index loaded",
			"prefix", prefix,
			"dimension", dim,
		)
	}
}

// LogSearch logs a search operation.
func (l *Logger) LogSearch(ctx context.Context, k, resultsFound int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "search failed",
			"k", k,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "search completed",
			"k", k,
			"results", resultsFound,
		)
	}
}

// LogSkip logs a pipeline step skipped by the idempotency gate.
func (l *Logger) LogSkip(ctx context.Context, step, path string) {
	l.InfoContext(ctx, "step skipped, output already present",
		"step", step,
		"path", path,
	)
}
