package memory

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"
)

// CachedEmbedder memoizes EncodeOne results of another Embedder.
// Retrieval embeds the same goal text once per episode variation, so the
// cache saves a model call for every repeated goal.
type CachedEmbedder struct {
	inner Embedder
	cache *ristretto.Cache
}

// NewCachedEmbedder wraps inner with a cache holding up to size vectors.
// Call Close to stop the cache's background goroutines.
func NewCachedEmbedder(inner Embedder, size int64) (*CachedEmbedder, error) {
	if size <= 0 {
		size = 1024
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: size * 10,
		MaxCost:     size,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &CachedEmbedder{inner: inner, cache: c}, nil
}

// Encode implements Embedder. Batches bypass the cache.
func (c *CachedEmbedder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	return c.inner.Encode(ctx, texts)
}

// EncodeOne implements Embedder.
func (c *CachedEmbedder) EncodeOne(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.cache.Get(text); ok {
		return v.([]float32), nil
	}
	vec, err := c.inner.EncodeOne(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(text, vec, 1)
	return vec, nil
}

// Dimension implements Embedder.
func (c *CachedEmbedder) Dimension(ctx context.Context) (int, error) {
	return c.inner.Dimension(ctx)
}

// Wait blocks until pending cache writes are visible.
func (c *CachedEmbedder) Wait() { c.cache.Wait() }

// Close releases the cache.
func (c *CachedEmbedder) Close() { c.cache.Close() }
