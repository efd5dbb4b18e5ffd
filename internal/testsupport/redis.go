package testsupport

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/rafaeljc/freyr/internal/cache"
	"github.com/rafaeljc/freyr/internal/config"
)

// RedisContainer bundles a running container with the promotion cache
// connected through the application's own client factory.
type RedisContainer struct {
	Container testcontainers.Container
	Cache     *cache.RedisCache
}

// Terminate closes the cache client and removes the container.
func (c *RedisContainer) Terminate(ctx context.Context) error {
	c.Cache.Close()
	return c.Container.Terminate(ctx)
}

// StartRedisContainer runs a redis:7-alpine container and wraps it in the
// promotion cache with warm-up verification on, so integration tests catch
// partial warms.
func StartRedisContainer(ctx context.Context) (*RedisContainer, error) {
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		return nil, fmt.Errorf("failed to start redis container: %w", err)
	}

	endpoint, err := container.PortEndpoint(ctx, "6379/tcp", "")
	if err != nil {
		return nil, fmt.Errorf("failed to get redis endpoint: %w", err)
	}

	host, port, err := net.SplitHostPort(endpoint)
	if err != nil {
		return nil, fmt.Errorf("unexpected redis endpoint %q: %w", endpoint, err)
	}

	client, err := cache.NewRedisClient(ctx, &config.RedisConfig{
		Host:           host,
		Port:           port,
		DialTimeout:    5 * time.Second,
		PingMaxRetries: 5,
		PingBackoff:    time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create redis client: %w", err)
	}

	return &RedisContainer{
		Container: container,
		Cache:     cache.NewRedisCache(client, time.Hour, true),
	}, nil
}
