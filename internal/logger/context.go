package logger

import (
	"context"
	"log/slog"
)

// ctxKey is unexported so no other package can collide with our context
// entry.
type ctxKey struct{}

// WithContext stores a request-scoped logger in the context. HTTP middleware
// calls this once per request; everything below reads it back with
// FromContext.
func WithContext(ctx context.Context, log *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, log)
}

// FromContext returns the logger carried by ctx. A context without one
// (unit tests, background jobs) yields slog.Default(), so callers never
// need a nil check.
func FromContext(ctx context.Context) *slog.Logger {
	if log, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
		return log
	}
	return slog.Default()
}
