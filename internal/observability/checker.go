package observability

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Checker reports the health of one dependency for the readiness probe.
// Implementations must respect the context deadline and be safe for
// concurrent use.
type Checker interface {
	Name() string
	Check(ctx context.Context) error
}

// checkTimeout caps a single dependency probe so one slow backend cannot
// eat the whole readiness budget.
const checkTimeout = 2 * time.Second

// postgresChecker pings the pgx pool.
type postgresChecker struct {
	pool *pgxpool.Pool
}

// NewPostgresChecker wraps a pgx pool as a readiness checker.
func NewPostgresChecker(pool *pgxpool.Pool) Checker {
	return &postgresChecker{pool: pool}
}

func (c *postgresChecker) Name() string { return "postgres" }

func (c *postgresChecker) Check(ctx context.Context) error {
	if c.pool == nil {
		return fmt.Errorf("database pool is nil")
	}
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	return c.pool.Ping(ctx)
}

// redisChecker pings the promotion cache's Redis client.
type redisChecker struct {
	client *redis.Client
}

// NewRedisChecker wraps a go-redis client as a readiness checker.
func NewRedisChecker(client *redis.Client) Checker {
	return &redisChecker{client: client}
}

func (c *redisChecker) Name() string { return "redis" }

func (c *redisChecker) Check(ctx context.Context) error {
	if c.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	return c.client.Ping(ctx).Err()
}
