package logger

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithContext_RoundTrip(t *testing.T) {
	t.Parallel()

	injected := slog.New(slog.NewTextHandler(io.Discard, nil))

	ctx := WithContext(context.Background(), injected)

	assert.Same(t, injected, FromContext(ctx), "the stored logger instance comes back")
}

func TestFromContext_FallsBackToDefault(t *testing.T) {
	t.Parallel()

	got := FromContext(context.Background())

	assert.NotNil(t, got)
	assert.Same(t, slog.Default(), got, "a bare context yields the process default")
}

func TestWithContext_InnerValueWins(t *testing.T) {
	t.Parallel()

	outer := slog.New(slog.NewTextHandler(io.Discard, nil))
	inner := slog.New(slog.NewJSONHandler(io.Discard, nil))

	ctx := WithContext(context.Background(), outer)
	ctx = WithContext(ctx, inner)

	assert.Same(t, inner, FromContext(ctx), "request middleware may re-scope the logger")
}
