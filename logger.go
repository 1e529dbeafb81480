package agentdb

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with store-specific helpers so call sites log
// the same fields for the same operations.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a Logger with the given handler. A nil handler falls
// back to a text handler on stderr at info level.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{Logger: slog.New(handler)}
}

// NewJSONLogger creates a Logger emitting JSON records to stderr.
func NewJSONLogger(level slog.Level) *Logger {
	return &Logger{Logger: slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))}
}

// NewTextLogger creates a Logger emitting human-readable text to stderr.
func NewTextLogger(level slog.Level) *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))}
}

// NoopLogger creates a Logger that discards all output.
func NoopLogger() *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{Logger: slog.New(handler)}
}

// WithCollection tags every record with the collection name.
func (l *Logger) WithCollection(name string) *Logger {
	return &Logger{Logger: l.Logger.With("collection", name)}
}

// LogWrite logs a single write operation.
func (l *Logger) LogWrite(ctx context.Context, op, collection, id string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "write failed",
			"op", op,
			"collection", collection,
			"id", id,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "write completed",
			"op", op,
			"collection", collection,
			"id", id,
		)
	}
}

// LogBatch logs a batch flush.
func (l *Logger) LogBatch(ctx context.Context, collection string, count int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "batch rejected",
			"collection", collection,
			"count", count,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "batch applied",
			"collection", collection,
			"count", count,
		)
	}
}

// LogSearch logs a search operation.
func (l *Logger) LogSearch(ctx context.Context, collection string, k, found int, partial bool, err error) {
	if err != nil {
		l.ErrorContext(ctx, "search failed",
			"collection", collection,
			"k", k,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "search completed",
			"collection", collection,
			"k", k,
			"results", found,
			"partial", partial,
		)
	}
}

// LogSnapshot logs a snapshot or restore operation.
func (l *Logger) LogSnapshot(ctx context.Context, op, collection, blob string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "snapshot operation failed",
			"op", op,
			"collection", collection,
			"blob", blob,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "snapshot operation completed",
			"op", op,
			"collection", collection,
			"blob", blob,
		)
	}
}

// LogRebuild logs an index rebuild.
func (l *Logger) LogRebuild(ctx context.Context, collection string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "rebuild failed",
			"collection", collection,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "rebuild completed",
			"collection", collection,
		)
	}
}
