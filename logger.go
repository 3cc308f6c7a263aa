package knncache

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/hupe1980/knncache/cache"
)

// Logger wraps slog.Logger with knncache-specific context.
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
	return newLogger(os.Stderr, "json", level)
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return newLogger(os.Stderr, "text", level)
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// NewLoggerFromConfig builds a logger from a format ("text" or "json") and a
// level name. Unknown levels fall back to info.
func NewLoggerFromConfig(w io.Writer, format, level string) *Logger {
	return newLogger(w, format, ParseLevel(level))
}

func newLogger(w io.Writer, format string, level slog.Level) *Logger {
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if strings.EqualFold(format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return &Logger{Logger: slog.New(h)}
}

// ParseLevel maps debug, info, warn and error to slog levels.
func ParseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// WithIndex adds an index field to the logger.
func (l *Logger) WithIndex(index string) *Logger {
	return &Logger{
		Logger: l.Logger.With("index", index),
	}
}

// WithNode adds a node field to the logger.
func (l *Logger) WithNode(id string) *Logger {
	return &Logger{
		Logger: l.Logger.With("node", id),
	}
}

// LogLoad logs a graph load.
func (l *Logger) LogLoad(ctx context.Context, index string, d time.Duration, sizeKB int64, err error) {
	if err != nil {
		l.WarnContext(ctx, "graph load failed",
			"index", index,
			"duration", d,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "graph loaded",
			"index", index,
			"duration", d,
			"size_kb", sizeKB,
		)
	}
}

// LogEviction logs an entry leaving the cache.
func (l *Logger) LogEviction(ctx context.Context, index string, cause cache.RemovalCause, sizeKB int64) {
	if cause == cache.CauseSize {
		l.InfoContext(ctx, "graph evicted over capacity",
			"index", index,
			"size_kb", sizeKB,
		)
		return
	}
	l.DebugContext(ctx, "graph removed",
		"index", index,
		"cause", cause.String(),
		"size_kb", sizeKB,
	)
}

// LogWarmup logs the result of warming one index.
func (l *Logger) LogWarmup(ctx context.Context, index string, graphs int, d time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "index warm-up failed",
			"index", index,
			"graphs", graphs,
			"duration", d,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "index warmed",
			"index", index,
			"graphs", graphs,
			"duration", d,
		)
	}
}

// LogSettings logs applied cache settings.
func (l *Logger) LogSettings(ctx context.Context, s cache.Settings, rebuilt bool) {
	l.InfoContext(ctx, "cache settings applied",
		"limit_kb", s.LimitKB,
		"expire_after", s.ExpireAfter,
		"rebuilt", rebuilt,
	)
}

// logObserver turns cache events into log records.
type logObserver struct {
	cache.NoopMetricsObserver
	l *Logger
}

func (o *logObserver) OnLoad(index string, d time.Duration, sizeKB int64, err error) {
	o.l.LogLoad(context.Background(), index, d, sizeKB, err)
}

func (o *logObserver) OnEviction(index string, cause cache.RemovalCause, sizeKB int64) {
	o.l.LogEviction(context.Background(), index, cause, sizeKB)
}

func (o *logObserver) OnFree(engine string, err error) {
	if err != nil {
		o.l.Error("native free failed", "engine", engine, "error", err)
	}
}
