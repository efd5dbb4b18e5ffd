package ruleengine

import (
	"fmt"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/maypok86/otter"
	"github.com/spaolacci/murmur3"
)

// programCache holds compiled CEL programs keyed by a content hash of their
// expression text. It is bounded (S3-FIFO eviction via otter) so a stream of
// one-off workflow versions cannot grow the heap without limit.
type programCache struct {
	store otter.Cache[string, cel.Program]
}

func newProgramCache(capacity int, ttl time.Duration) (*programCache, error) {
	cache, err := otter.MustBuilder[string, cel.Program](capacity).
		WithTTL(ttl).
		Build()
	if err != nil {
		return nil, err
	}
	return &programCache{store: cache}, nil
}

// Get retrieves a compiled program. Lock-free on the hot path.
func (c *programCache) Get(key string) (cel.Program, bool) {
	return c.store.Get(key)
}

// Set stores a compiled program. Eviction happens on insert, best-effort.
func (c *programCache) Set(key string, prg cel.Program) {
	c.store.Set(key, prg)
}

// hashExpression computes the cache key for an expression: 128-bit Murmur3
// rendered as hex. Murmur gives us a stable, well-distributed content hash
// without the cost of a cryptographic digest.
func hashExpression(expression string) string {
	h1, h2 := murmur3.Sum128([]byte(expression))
	return fmt.Sprintf("%016x%016x", h1, h2)
}
