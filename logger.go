package tasm

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with tasm-specific context.
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

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithVideo adds a video field to the logger.
func (l *Logger) WithVideo(video string) *Logger {
	return &Logger{
		Logger: l.Logger.With("video", video),
	}
}

// WithLabel adds a label field to the logger.
func (l *Logger) WithLabel(label string) *Logger {
	return &Logger{
		Logger: l.Logger.With("label", label),
	}
}

// WithCount adds a count field to the logger.
func (l *Logger) WithCount(count int) *Logger {
	return &Logger{
		Logger: l.Logger.With("count", count),
	}
}

// LogStore logs a store or retile-on-ingest operation.
func (l *Logger) LogStore(ctx context.Context, video string, tiles int, duration time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "store failed",
			"video", video,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "store completed",
			"video", video,
			"tiles", tiles,
			"duration", duration,
		)
	}
}

// LogIngest logs a metadata ingestion.
func (l *Logger) LogIngest(ctx context.Context, count, added int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "metadata ingest failed",
			"count", count,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "metadata ingest completed",
			"count", count,
			"added", added,
		)
	}
}

// LogSelect logs a finished query.
func (l *Logger) LogSelect(ctx context.Context, video, label, mode string, results int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "select failed",
			"video", video,
			"label", label,
			"mode", mode,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "select completed",
			"video", video,
			"label", label,
			"mode", mode,
			"results", results,
		)
	}
}

// LogRetile logs a retile.
func (l *Logger) LogRetile(ctx context.Context, video string, from, to uint64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "retile failed",
			"video", video,
			"version", from,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "retile completed",
			"video", video,
			"from", from,
			"to", to,
		)
	}
}
