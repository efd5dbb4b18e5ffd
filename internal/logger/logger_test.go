package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaeljc/freyr/internal/config"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  slog.Level
	}{
		{input: "debug", want: slog.LevelDebug},
		{input: "INFO", want: slog.LevelInfo},
		{input: "Warn", want: slog.LevelWarn},
		{input: "error", want: slog.LevelError},
		{input: "not-a-level", want: slog.LevelInfo},
		{input: "", want: slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, parseLevel(tt.input))
		})
	}
}

func TestNewWithWriter_JSONFormatCarriesServiceIdentity(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	cfg := &config.AppConfig{
		Name:        "freyr-test",
		Version:     "1.2.3",
		Environment: config.EnvironmentProduction,
		LogLevel:    "info",
		LogFormat:   "json",
	}

	log := NewWithWriter(cfg, &buf)
	log.Info("hello")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "freyr-test", line["service"])
	assert.Equal(t, "1.2.3", line["version"])
	assert.Equal(t, config.EnvironmentProduction, line["env"])
	assert.Equal(t, "hello", line["msg"])
}

func TestNewWithWriter_LevelFiltering(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	cfg := &config.AppConfig{
		Name:        "freyr-test",
		Environment: config.EnvironmentProduction,
		LogLevel:    "warn",
		LogFormat:   "json",
	}

	log := NewWithWriter(cfg, &buf)
	log.Info("suppressed")
	log.Warn("visible")

	assert.NotContains(t, buf.String(), "suppressed")
	assert.Contains(t, buf.String(), "visible")
}

func TestNewWithWriter_NilConfigPanics(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() {
		NewWithWriter(nil, &bytes.Buffer{})
	})
}
