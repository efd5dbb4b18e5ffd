package cache

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rafaeljc/freyr/internal/config"
	"github.com/rafaeljc/freyr/internal/logger"
)

// NewRedisClient connects to Redis from the cache configuration and verifies
// the connection before handing the client out. Startup waits through a
// bounded ping-retry loop so a service racing its Redis dependency at boot
// does not crash-loop.
func NewRedisClient(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}

	client := redis.NewClient(redisOptions(cfg))

	if err := pingUntilReady(ctx, client, cfg); err != nil {
		_ = client.Close()
		return nil, err
	}

	return client, nil
}

// redisOptions maps the config onto go-redis options.
func redisOptions(cfg *config.RedisConfig) *redis.Options {
	opts := &redis.Options{
		Addr:            cfg.Address(),
		Password:        cfg.Password,
		DB:              cfg.DB,
		DialTimeout:     cfg.DialTimeout,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		PoolSize:        cfg.PoolSize,
		MinIdleConns:    cfg.MinIdleConns,
		PoolTimeout:     cfg.PoolTimeout,
		MaxRetries:      cfg.MaxRetries,
		MinRetryBackoff: cfg.MinRetryBackoff,
		MaxRetryBackoff: cfg.MaxRetryBackoff,
	}

	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	return opts
}

// pingUntilReady pings with doubling backoff until the server answers or
// the attempt budget runs out. The context deadline cuts the loop short.
func pingUntilReady(ctx context.Context, client *redis.Client, cfg *config.RedisConfig) error {
	log := logger.FromContext(ctx)

	wait := cfg.PingBackoff
	pingTimeout := cfg.DialTimeout
	if pingTimeout <= 0 {
		pingTimeout = 5 * time.Second
	}

	var lastErr error

	for attempt := 1; attempt <= cfg.PingMaxRetries; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		lastErr = client.Ping(pingCtx).Err()
		cancel()

		if lastErr == nil {
			log.Info("redis connection established", slog.Int("attempt", attempt))
			return nil
		}

		log.Warn("redis ping failed",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", cfg.PingMaxRetries),
			slog.String("error", lastErr.Error()),
		)

		if attempt == cfg.PingMaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("redis connect aborted: %w", ctx.Err())
		case <-time.After(wait):
		}
		wait *= 2
	}

	return fmt.Errorf("failed to connect to redis after %d attempts: %w", cfg.PingMaxRetries, lastErr)
}
