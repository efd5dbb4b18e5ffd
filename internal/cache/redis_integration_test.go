//go:build integration

package cache_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaeljc/freyr/internal/cache"
	"github.com/rafaeljc/freyr/internal/testsupport"
)

func warmEntry(promotionID string, version int) cache.WarmEntry {
	return cache.WarmEntry{
		PromotionID: promotionID,
		CountryISO:  "es",
		Version:     version,
		Workflow:    []byte(`{"workflowName":"wf-` + promotionID + `"}`),
		Manifest:    []byte(`{"policies":{"exclusivePerEvent":true}}`),
		Metadata: map[string]any{
			"name":               "Promo " + promotionID,
			"timezone":           "UTC",
			"globalCooldownDays": 7,
		},
	}
}

func TestRedisCache_Integration(t *testing.T) {
	ctx := context.Background()

	redisCtr, err := testsupport.StartRedisContainer(ctx)
	require.NoError(t, err)
	defer redisCtr.Terminate(ctx)

	c := redisCtr.Cache

	t.Run("warm makes the promotion visible atomically", func(t *testing.T) {
		require.NoError(t, c.Warm(ctx, warmEntry("p1", 1)))

		ids, err := c.ActivePromotions(ctx, "ES")
		require.NoError(t, err)
		assert.Contains(t, ids, "p1")

		version, err := c.LatestVersion(ctx, "es", "p1")
		require.NoError(t, err)
		assert.Equal(t, 1, version)

		workflow, err := c.GetWorkflow(ctx, "ES", "p1", 0)
		require.NoError(t, err)
		assert.Contains(t, string(workflow), "wf-p1")

		manifest, err := c.GetManifest(ctx, "ES", "p1", 0)
		require.NoError(t, err)
		assert.Contains(t, string(manifest), "exclusivePerEvent")
	})

	t.Run("re-warming the same version is observably a no-op", func(t *testing.T) {
		require.NoError(t, c.Warm(ctx, warmEntry("p2", 1)))
		require.NoError(t, c.Warm(ctx, warmEntry("p2", 1)))

		ids, err := c.ActivePromotions(ctx, "ES")
		require.NoError(t, err)

		seen := 0
		for _, id := range ids {
			if id == "p2" {
				seen++
			}
		}
		assert.Equal(t, 1, seen, "the active set holds each promotion once")

		version, err := c.LatestVersion(ctx, "ES", "p2")
		require.NoError(t, err)
		assert.Equal(t, 1, version)
	})

	t.Run("a higher version advances the index, a lower one cannot regress it", func(t *testing.T) {
		require.NoError(t, c.Warm(ctx, warmEntry("p3", 2)))
		require.NoError(t, c.Warm(ctx, warmEntry("p3", 5)))

		version, err := c.LatestVersion(ctx, "ES", "p3")
		require.NoError(t, err)
		assert.Equal(t, 5, version)

		// A stale re-warm (older version) must not move the pointer back.
		require.NoError(t, c.Warm(ctx, warmEntry("p3", 3)))

		version, err = c.LatestVersion(ctx, "ES", "p3")
		require.NoError(t, err)
		assert.Equal(t, 5, version)
	})

	t.Run("invalidate removes the promotion from the read path", func(t *testing.T) {
		require.NoError(t, c.Warm(ctx, warmEntry("p4", 1)))
		require.NoError(t, c.Invalidate(ctx, "ES", "p4"))

		ids, err := c.ActivePromotions(ctx, "ES")
		require.NoError(t, err)
		assert.NotContains(t, ids, "p4")

		_, err = c.LatestVersion(ctx, "ES", "p4")
		assert.ErrorIs(t, err, cache.ErrMiss)

		_, err = c.GetWorkflow(ctx, "ES", "p4", 1)
		assert.ErrorIs(t, err, cache.ErrMiss)

		// Warm after invalidate restores the same reachable state.
		require.NoError(t, c.Warm(ctx, warmEntry("p4", 1)))

		version, err := c.LatestVersion(ctx, "ES", "p4")
		require.NoError(t, err)
		assert.Equal(t, 1, version)
	})

	t.Run("missing promotion reads as a miss", func(t *testing.T) {
		_, err := c.GetWorkflow(ctx, "ES", "ghost", 0)
		assert.ErrorIs(t, err, cache.ErrMiss)
	})
}
