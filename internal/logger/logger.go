// Package logger builds the structured logger shared by the Freyr services.
// Every binary logs through slog with a handler picked from configuration
// (JSON for machines, text for humans) and a fixed identity triple
// (service, version, env) attached to every line.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/rafaeljc/freyr/internal/config"
)

// New builds the process logger from the application config, writing to
// stdout.
func New(cfg *config.AppConfig) *slog.Logger {
	return NewWithWriter(cfg, os.Stdout)
}

// NewWithWriter builds a logger that writes to w. Tests pass a buffer here;
// production code goes through New.
func NewWithWriter(cfg *config.AppConfig, w io.Writer) *slog.Logger {
	if cfg == nil {
		panic("logger: config cannot be nil")
	}

	log := slog.New(newHandler(cfg, w))

	// The identity triple makes lines from different services and versions
	// separable once they are aggregated.
	return log.With(
		slog.String("service", cfg.Name),
		slog.String("version", cfg.Version),
		slog.String("env", cfg.Environment),
	)
}

// newHandler picks the handler implementation and its options.
func newHandler(cfg *config.AppConfig, w io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
		// Source locations are a local-debugging aid; production pays for
		// them on every line, so they stay off there.
		AddSource: cfg.Environment != config.EnvironmentProduction,
	}

	if cfg.LogFormat == "text" {
		return slog.NewTextHandler(w, opts)
	}
	// Anything else, including the unset case, lands on JSON.
	return slog.NewJSONHandler(w, opts)
}

// parseLevel maps the configured level string onto slog. Unknown values
// read as info.
func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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
