// Package config provides centralized configuration management for Freyr
// services. It uses envconfig for environment variable loading and validator
// for validation.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
)

const (
	// EnvironmentProduction is the production environment identifier.
	EnvironmentProduction = "production"
)

// Config holds the complete application configuration.
type Config struct {
	App           AppConfig           `envconfig:"APP"`
	Server        ServerConfig        `envconfig:"SERVER"`
	Database      DatabaseConfig      `envconfig:"DB"`
	Redis         RedisConfig         `envconfig:"REDIS"`
	Evaluator     EvaluatorConfig     `envconfig:"EVALUATOR"`
	Sweeper       SweeperConfig       `envconfig:"SWEEPER"`
	Segments      SegmentConfig       `envconfig:"SEGMENTS"`
	Grants        GrantConfig         `envconfig:"GRANTS"`
	Observability ObservabilityConfig `envconfig:"OBSERVABILITY"`
}

// AppConfig contains core application settings.
type AppConfig struct {
	Name            string        `envconfig:"NAME" default:"freyr"`
	Version         string        `envconfig:"VERSION" default:"dev"`
	Environment     string        `envconfig:"ENV" default:"development" validate:"oneof=development staging production"`
	LogLevel        string        `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	LogFormat       string        `envconfig:"LOG_FORMAT" default:"text" validate:"oneof=json text"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
}

// ServerConfig holds the HTTP planes.
type ServerConfig struct {
	Authoring AuthoringConfig `envconfig:"AUTHORING"`
	Runtime   RuntimeConfig   `envconfig:"RUNTIME"`
}

// EvaluatorConfig tunes the runtime evaluation path.
type EvaluatorConfig struct {
	// RuleTimeout bounds one rule-engine evaluation; on timeout the rule
	// reads as false.
	RuleTimeout time.Duration `envconfig:"RULE_TIMEOUT" default:"50ms" validate:"gt=0"`

	// WorkflowCacheCapacity caps the in-process compiled-program cache.
	WorkflowCacheCapacity int `envconfig:"WORKFLOW_CACHE_CAPACITY" default:"1024" validate:"min=1"`

	// WorkflowCacheTTL expires cached compiled programs.
	WorkflowCacheTTL time.Duration `envconfig:"WORKFLOW_CACHE_TTL" default:"1h" validate:"gt=0"`
}

// SweeperConfig configures the outbox sweeper worker.
type SweeperConfig struct {
	Enabled   bool          `envconfig:"ENABLED" default:"true"`
	Interval  time.Duration `envconfig:"INTERVAL" default:"5s" validate:"gt=0"`
	BatchSize int           `envconfig:"BATCH_SIZE" default:"100" validate:"min=1"`
	RetryMin  time.Duration `envconfig:"RETRY_MIN" default:"1s" validate:"gt=0"`
	RetryMax  time.Duration `envconfig:"RETRY_MAX" default:"2m" validate:"gt=0"`
}

// SegmentConfig points at the external segment-lookup service. An empty base
// URL disables the lookup (every contact reads as unsegmented).
type SegmentConfig struct {
	BaseURL string        `envconfig:"BASE_URL"`
	Timeout time.Duration `envconfig:"TIMEOUT" default:"2s" validate:"gt=0"`
}

// GrantConfig tunes grant persistence.
type GrantConfig struct {
	// DefaultValueUnit is the unit written on placeholder grant values.
	DefaultValueUnit string `envconfig:"DEFAULT_VALUE_UNIT" default:"EUR"`
}

// Load reads configuration from environment variables with the FREYR prefix.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := envconfig.Process("FREYR", cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate performs validation on the loaded configuration.
func (c *Config) Validate() error {
	validate := validator.New()

	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("validation error: %w", err)
	}

	if err := c.Database.Validate(c.App.Environment); err != nil {
		return err
	}

	if err := c.Redis.Validate(c.App.Environment); err != nil {
		return err
	}

	if err := c.Server.Authoring.Validate(c.App.Environment); err != nil {
		return err
	}

	if err := c.Server.Runtime.Validate(); err != nil {
		return err
	}

	if err := c.Observability.Validate(); err != nil {
		return err
	}

	if c.Sweeper.RetryMax < c.Sweeper.RetryMin {
		return fmt.Errorf("sweeper retry_max (%s) cannot be below retry_min (%s)", c.Sweeper.RetryMax, c.Sweeper.RetryMin)
	}

	return nil
}

// LogConfig logs the current configuration (without sensitive data).
func (c *Config) LogConfig(log *slog.Logger) {
	log.Info("configuration loaded",
		slog.String("app_name", c.App.Name),
		slog.String("version", c.App.Version),
		slog.String("environment", c.App.Environment),
		slog.String("log_level", c.App.LogLevel),
		slog.String("log_format", c.App.LogFormat),
		slog.Duration("shutdown_timeout", c.App.ShutdownTimeout),
		slog.String("authoring_port", c.Server.Authoring.Port),
		slog.String("runtime_port", c.Server.Runtime.Port),
		slog.Duration("rule_timeout", c.Evaluator.RuleTimeout),
		slog.Int("workflow_cache_capacity", c.Evaluator.WorkflowCacheCapacity),
		slog.Bool("sweeper_enabled", c.Sweeper.Enabled),
		slog.Bool("segments_configured", c.Segments.BaseURL != ""),
		slog.Bool("db_configured", c.Database.IsConfigured()),
		slog.Bool("redis_configured", c.Redis.IsConfigured()),
	)
}

// Validation helpers shared by the per-section files.

// validateListenAddr checks a host/port pair. The context string names the
// section in error messages.
func validateListenAddr(host, port, context string) error {
	if err := validateHost(host, context); err != nil {
		return err
	}
	return validatePort(port, context)
}

// validatePort accepts 1-65535.
func validatePort(port, context string) error {
	n, err := strconv.Atoi(port)
	if err != nil || port == "" {
		return fmt.Errorf("%s port must be a number, got %q", context, port)
	}
	if n < 1 || n > 65535 {
		return fmt.Errorf("%s port must be between 1 and 65535, got %d", context, n)
	}
	return nil
}

// validateHost rejects empty or whitespace-padded hosts.
func validateHost(host, context string) error {
	return validateNoWhitespace(host, context+" host")
}

// validateNoWhitespace rejects empty values and values with surrounding or
// embedded whitespace.
func validateNoWhitespace(value, fieldName string) error {
	switch {
	case value == "":
		return fmt.Errorf("%s cannot be empty", fieldName)
	case strings.ContainsAny(value, " \t\n\r"):
		return fmt.Errorf("%s cannot contain whitespace", fieldName)
	}
	return nil
}

// validatePasswordStrength enforces the production password floor.
func validatePasswordStrength(password, context, environment string) error {
	if environment == EnvironmentProduction && len(password) < 12 {
		return fmt.Errorf("%s password must be at least 12 characters in production", context)
	}
	return nil
}

// isSecureSSLMode reports whether the mode verifies the server.
func isSecureSSLMode(mode string) bool {
	switch mode {
	case "require", "verify-ca", "verify-full":
		return true
	}
	return false
}

// parseAndValidateURL parses a URL and checks its scheme and host.
func parseAndValidateURL(rawURL string, allowedSchemes []string) (*url.URL, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	if !slices.Contains(allowedSchemes, parsed.Scheme) {
		return nil, fmt.Errorf("invalid scheme %q, must be one of: %v", parsed.Scheme, allowedSchemes)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("host is required in URL")
	}
	return parsed, nil
}
