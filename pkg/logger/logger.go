package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"
)

// New returns the JSON logger shared by every binary.
// Dispatch and sync runs attach their own attributes on top of it.
func New(appEnv string) *slog.Logger {
	return NewWithWriter(appEnv, os.Stdout)
}

// NewWithWriter is New with an explicit sink (tests, CLI stderr).
func NewWithWriter(appEnv string, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if appEnv == "local" || appEnv == "dev" {
		level = slog.LevelDebug
	}

	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(h).With("service", "donor-dialer")
}

type ctxKey struct{}

// With stores a logger in context.
func With(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// From gets a logger from context, falling back to slog.Default().
func From(ctx context.Context) *slog.Logger {
	if v := ctx.Value(ctxKey{}); v != nil {
		if l, ok := v.(*slog.Logger); ok && l != nil {
			return l
		}
	}
	return slog.Default()
}

// WithRun scopes the context logger to a single dispatch or sync invocation.
func WithRun(ctx context.Context, kind, runID string) (context.Context, *slog.Logger) {
	l := From(ctx).With("run_kind", kind, "run_id", runID)
	return With(ctx, l), l
}

// ShutdownFlush is a no-op until a buffered handler is introduced.
func ShutdownFlush(_ context.Context, _ time.Duration) error { return nil }
