package embedding

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"
)

// Cached memoizes embeddings by exact text. Conversation turns re-issue the
// same queries often, and embedding is the slowest step of a query.
type Cached struct {
	inner Embedder
	cache *ristretto.Cache
}

// NewCached wraps inner with a cache holding roughly maxItems vectors.
func NewCached(inner Embedder, maxItems int) (*Cached, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: int64(maxItems) * 10,
		MaxCost:     int64(maxItems),
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &Cached{inner: inner, cache: cache}, nil
}

func (c *Cached) Embed(ctx context.Context, text string) (Vector, error) {
	if v, ok := c.cache.Get(text); ok {
		return v.(Vector), nil
	}
	v, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(text, v, 1)
	return v, nil
}

func (c *Cached) Dims() int { return c.inner.Dims() }

// Close releases the cache's background goroutines.
func (c *Cached) Close() error {
	c.cache.Close()
	return nil
}
