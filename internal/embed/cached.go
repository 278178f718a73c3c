package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultQueryCacheSize bounds the query-embedding cache (§4.5
// embed_query: "cached by (text, provider, model) with small LRU").
const DefaultQueryCacheSize = 256

// QueryCache memoizes embed_query results by (text, provider, model),
// the way the teacher's CachedEmbedder memoizes by (text, model) for
// its single wrapped embedder. This cache sits above the provider
// registry rather than wrapping one Embedder, since embed_query may be
// called against any configured (provider, model) pair.
type QueryCache struct {
	cache *lru.Cache[string, []float32]
}

// NewQueryCache builds a query-embedding cache of the given capacity,
// or DefaultQueryCacheSize when size <= 0.
func NewQueryCache(size int) *QueryCache {
	if size <= 0 {
		size = DefaultQueryCacheSize
	}
	c, _ := lru.New[string, []float32](size)
	return &QueryCache{cache: c}
}

func (c *QueryCache) key(text, provider, model string) string {
	h := sha256.Sum256([]byte(text + "\x00" + provider + "\x00" + model))
	return hex.EncodeToString(h[:])
}

// Get returns a previously cached embedding for (text, provider, model).
func (c *QueryCache) Get(text, provider, model string) ([]float32, bool) {
	return c.cache.Get(c.key(text, provider, model))
}

// Put stores an embedding for (text, provider, model).
func (c *QueryCache) Put(text, provider, model string, vec []float32) {
	c.cache.Add(c.key(text, provider, model), vec)
}

// embedQueryCached runs embed through cache, computing and storing on
// miss. ctx is only used on a cache miss.
func embedQueryCached(ctx context.Context, cache *QueryCache, embedder Embedder, text, provider, model string) ([]float32, error) {
	if cache != nil {
		if vec, ok := cache.Get(text, provider, model); ok {
			return vec, nil
		}
	}
	vecs, err := embedder.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	vec := vecs[0]
	if cache != nil {
		cache.Put(text, provider, model, vec)
	}
	return vec, nil
}
