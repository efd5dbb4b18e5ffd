package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	// Not parallel: Load reads process environment. Connection targets have
	// no defaults, everything else falls back.
	t.Setenv("FREYR_DB_HOST", "localhost")
	t.Setenv("FREYR_DB_PORT", "5432")
	t.Setenv("FREYR_DB_NAME", "freyr")
	t.Setenv("FREYR_DB_USER", "freyr")
	t.Setenv("FREYR_REDIS_HOST", "localhost")
	t.Setenv("FREYR_REDIS_PORT", "6379")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "freyr", cfg.App.Name)
	assert.Equal(t, "development", cfg.App.Environment)
	assert.Equal(t, "8080", cfg.Server.Authoring.Port)
	assert.Equal(t, "8081", cfg.Server.Runtime.Port)
	assert.Equal(t, 50*time.Millisecond, cfg.Evaluator.RuleTimeout)
	assert.Equal(t, 1024, cfg.Evaluator.WorkflowCacheCapacity)
	assert.True(t, cfg.Sweeper.Enabled)
	assert.Equal(t, 24*time.Hour, cfg.Redis.DefaultKeyExpiry)
	assert.Equal(t, "EUR", cfg.Grants.DefaultValueUnit)
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	valid := func() *Config {
		cfg := &Config{}
		cfg.App = AppConfig{Name: "freyr", Environment: "development", LogLevel: "info", LogFormat: "text"}
		cfg.Server.Authoring = AuthoringConfig{Port: "8080", Host: "0.0.0.0", MaxHeaderBytes: 1 << 20}
		cfg.Server.Runtime = RuntimeConfig{Port: "8081", Host: "0.0.0.0", RequestTimeout: 3 * time.Second}
		cfg.Database = DatabaseConfig{Host: "localhost", Port: "5432", Name: "freyr", User: "freyr", SSLMode: "prefer", MaxConns: 10, MinConns: 1}
		cfg.Redis = RedisConfig{Host: "localhost", Port: "6379", PoolSize: 10, MinIdleConns: 1, PingMaxRetries: 1}
		cfg.Evaluator = EvaluatorConfig{RuleTimeout: 50 * time.Millisecond, WorkflowCacheCapacity: 16, WorkflowCacheTTL: time.Hour}
		cfg.Sweeper = SweeperConfig{Enabled: true, Interval: time.Second, BatchSize: 10, RetryMin: time.Second, RetryMax: time.Minute}
		cfg.Segments = SegmentConfig{Timeout: time.Second}
		cfg.Observability = ObservabilityConfig{Port: "9090", Timeout: 5 * time.Second, LivenessPath: "/healthz", ReadinessPath: "/readyz", MetricsPath: "/metrics"}
		return cfg
	}

	t.Run("valid config passes", func(t *testing.T) {
		t.Parallel()

		assert.NoError(t, valid().Validate())
	})

	t.Run("bad authoring port fails", func(t *testing.T) {
		t.Parallel()

		cfg := valid()
		cfg.Server.Authoring.Port = "not-a-port"

		assert.Error(t, cfg.Validate())
	})

	t.Run("sweeper retry bounds are checked", func(t *testing.T) {
		t.Parallel()

		cfg := valid()
		cfg.Sweeper.RetryMin = time.Minute
		cfg.Sweeper.RetryMax = time.Second

		assert.Error(t, cfg.Validate())
	})

	t.Run("production requires api key and tls on authoring", func(t *testing.T) {
		t.Parallel()

		cfg := valid()
		cfg.App.Environment = EnvironmentProduction
		cfg.Database.Password = "longenoughpassword"
		cfg.Database.SSLMode = "require"
		cfg.Redis.Password = "longenoughpassword"
		cfg.Redis.TLSEnabled = true

		err := cfg.Validate()

		require.Error(t, err)
		assert.Contains(t, err.Error(), "API key hash")
	})
}

func TestDatabaseConfig_ConnectionString(t *testing.T) {
	t.Parallel()

	t.Run("explicit URL wins", func(t *testing.T) {
		t.Parallel()

		cfg := &DatabaseConfig{URL: "postgres://u:p@db:5432/freyr?sslmode=disable"}
		assert.Equal(t, cfg.URL, cfg.ConnectionString())
	})

	t.Run("components are assembled", func(t *testing.T) {
		t.Parallel()

		cfg := &DatabaseConfig{Host: "db", Port: "5432", Name: "freyr", User: "u", Password: "p", SSLMode: "prefer"}
		assert.Equal(t, "postgres://u:p@db:5432/freyr?sslmode=prefer", cfg.ConnectionString())
	})
}
