// Package cache provides the Redis caching layer for the Freyr promotion
// engine. It holds compiled workflows, manifests, the per-country version
// index and active set, and promotion display metadata for the hot
// evaluation path.
//
// The cache is an optimization, never authoritative: on any error the caller
// must fall back to the store.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned when a requested key is absent. Callers treat it the
// same as any other cache error: fall back to the store.
var ErrMiss = errors.New("cache miss")

// Key layout. Countries are always uppercased in keys.
//
//	wf:{COUNTRY}:{promotionId}:v{version}          workflow payload
//	wf:manifest:{COUNTRY}:{promotionId}:v{version} manifest payload
//	wf:index:{COUNTRY}                             zset promotionId -> version
//	wf:active:{COUNTRY}                            set of active promotionIds
//	wf:metadata:{promotionId}                      hash of display metadata
func workflowKey(country, promotionID string, version int) string {
	return fmt.Sprintf("wf:%s:%s:v%d", country, promotionID, version)
}

func manifestKey(country, promotionID string, version int) string {
	return fmt.Sprintf("wf:manifest:%s:%s:v%d", country, promotionID, version)
}

func indexKey(country string) string {
	return "wf:index:" + country
}

func activeKey(country string) string {
	return "wf:active:" + country
}

func metadataKey(promotionID string) string {
	return "wf:metadata:" + promotionID
}

// WarmEntry is everything written by a single warm-up.
type WarmEntry struct {
	PromotionID string
	CountryISO  string
	Version     int
	Workflow    []byte
	Manifest    []byte

	// Metadata holds the promotion's display fields (name, timezone,
	// global cooldown). Stored as a hash under wf:metadata:{promotionId}.
	Metadata map[string]any
}

// Service defines the cache operations used by the publisher, the provider
// and the evaluator. The interface allows in-memory fakes in tests.
type Service interface {
	// Warm writes all keys for a (promotion, version) in one batched
	// round-trip. Idempotent: re-warming the same pair only refreshes
	// timestamps, and the index score only ever advances.
	Warm(ctx context.Context, entry WarmEntry) error

	// ActivePromotions returns the promotion ids currently active in a
	// country.
	ActivePromotions(ctx context.Context, countryISO string) ([]string, error)

	// LatestVersion resolves the newest warmed version of a promotion via
	// the country index.
	LatestVersion(ctx context.Context, countryISO, promotionID string) (int, error)

	// GetWorkflow returns the workflow payload. Pass version 0 to resolve
	// the latest via the index.
	GetWorkflow(ctx context.Context, countryISO, promotionID string, version int) ([]byte, error)

	// GetManifest returns the manifest payload. Pass version 0 to resolve
	// the latest via the index.
	GetManifest(ctx context.Context, countryISO, promotionID string, version int) ([]byte, error)

	// Invalidate removes the promotion's current version keys and drops it
	// from the index and active set.
	Invalidate(ctx context.Context, countryISO, promotionID string) error

	// Close terminates the connection.
	Close() error
}

// Compile-time check.
var _ Service = (*RedisCache)(nil)

// RedisCache implements Service using the go-redis library.
type RedisCache struct {
	client *redis.Client

	// keyTTL is the default expiry applied to workflow/manifest payloads.
	// Zero disables expiry. Index, active-set and metadata keys never
	// expire; retirement goes through Invalidate.
	keyTTL time.Duration

	// verifyWarm enables the post-warm existence check on the payload keys.
	verifyWarm bool
}

// NewRedisCache wraps an initialized Redis client.
func NewRedisCache(client *redis.Client, keyTTL time.Duration, verifyWarm bool) *RedisCache {
	if client == nil {
		panic("cache: redis client cannot be nil")
	}
	return &RedisCache{client: client, keyTTL: keyTTL, verifyWarm: verifyWarm}
}

// Warm writes the five keys of a (promotion, version) in one pipeline so the
// promotion appears atomically for readers.
func (c *RedisCache) Warm(ctx context.Context, entry WarmEntry) error {
	country := strings.ToUpper(entry.CountryISO)
	wfKey := workflowKey(country, entry.PromotionID, entry.Version)
	mfKey := manifestKey(country, entry.PromotionID, entry.Version)

	_, err := c.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, wfKey, entry.Workflow, c.keyTTL)
		pipe.Set(ctx, mfKey, entry.Manifest, c.keyTTL)

		// GT keeps the index monotonic: a concurrent re-warm with an older
		// version cannot move the latest-version pointer backwards.
		pipe.ZAddGT(ctx, indexKey(country), redis.Z{
			Score:  float64(entry.Version),
			Member: entry.PromotionID,
		})
		pipe.SAdd(ctx, activeKey(country), entry.PromotionID)

		if len(entry.Metadata) > 0 {
			pipe.HSet(ctx, metadataKey(entry.PromotionID), entry.Metadata)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to warm promotion %s v%d: %w", entry.PromotionID, entry.Version, err)
	}

	if c.verifyWarm {
		n, err := c.client.Exists(ctx, wfKey, mfKey).Result()
		if err != nil {
			return fmt.Errorf("failed to verify warm-up: %w", err)
		}
		if n != 2 {
			return fmt.Errorf("warm-up verification found %d of 2 keys for %s v%d", n, entry.PromotionID, entry.Version)
		}
	}

	return nil
}

// ActivePromotions returns the members of the country's active set.
func (c *RedisCache) ActivePromotions(ctx context.Context, countryISO string) ([]string, error) {
	country := strings.ToUpper(countryISO)

	ids, err := c.client.SMembers(ctx, activeKey(country)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read active set for %s: %w", country, err)
	}
	return ids, nil
}

// LatestVersion resolves the newest warmed version from the index zset.
func (c *RedisCache) LatestVersion(ctx context.Context, countryISO, promotionID string) (int, error) {
	country := strings.ToUpper(countryISO)

	score, err := c.client.ZScore(ctx, indexKey(country), promotionID).Result()
	if err == redis.Nil {
		return 0, fmt.Errorf("%w: promotion %s not in index for %s", ErrMiss, promotionID, country)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read version index: %w", err)
	}

	return int(score), nil
}

// GetWorkflow returns the workflow payload for a version (0 = latest).
func (c *RedisCache) GetWorkflow(ctx context.Context, countryISO, promotionID string, version int) ([]byte, error) {
	return c.getPayload(ctx, countryISO, promotionID, version, workflowKey)
}

// GetManifest returns the manifest payload for a version (0 = latest).
func (c *RedisCache) GetManifest(ctx context.Context, countryISO, promotionID string, version int) ([]byte, error) {
	return c.getPayload(ctx, countryISO, promotionID, version, manifestKey)
}

func (c *RedisCache) getPayload(ctx context.Context, countryISO, promotionID string, version int, key func(string, string, int) string) ([]byte, error) {
	country := strings.ToUpper(countryISO)

	if version == 0 {
		var err error
		version, err = c.LatestVersion(ctx, country, promotionID)
		if err != nil {
			return nil, err
		}
	}

	payload, err := c.client.Get(ctx, key(country, promotionID, version)).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("%w: %s v%d", ErrMiss, promotionID, version)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read payload for %s v%d: %w", promotionID, version, err)
	}

	return payload, nil
}

// Invalidate removes the current version's payload keys and unlists the
// promotion from the index and active set.
func (c *RedisCache) Invalidate(ctx context.Context, countryISO, promotionID string) error {
	country := strings.ToUpper(countryISO)

	version, err := c.LatestVersion(ctx, country, promotionID)
	if err != nil && !errors.Is(err, ErrMiss) {
		return err
	}

	_, err = c.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		if version > 0 {
			pipe.Del(ctx, workflowKey(country, promotionID, version))
			pipe.Del(ctx, manifestKey(country, promotionID, version))
		}
		pipe.ZRem(ctx, indexKey(country), promotionID)
		pipe.SRem(ctx, activeKey(country), promotionID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to invalidate promotion %s in %s: %w", promotionID, country, err)
	}

	return nil
}

// Close closes the Redis client connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
