package cache

// EmbeddingCache is the L2 layer: normalized text → embedding vector.
// Embeddings are deterministic over their input, so entries never expire
// and are never invalidated, only LRU-evicted.
type EmbeddingCache struct {
	core  *lruCore
	stats *Stats
}

// NewEmbeddingCache creates an L2 cache with the given capacity.
func NewEmbeddingCache(capacity int, stats *Stats) *EmbeddingCache {
	return &EmbeddingCache{core: newLRUCore(capacity), stats: stats}
}

// Get returns the cached vector for the normalized text.
func (c *EmbeddingCache) Get(normalizedText string) ([]float32, bool) {
	ent, ok := c.core.get(normalizedText)
	c.stats.mu.Lock()
	if ok {
		c.stats.EmbeddingHits++
	} else {
		c.stats.EmbeddingMisses++
	}
	c.stats.mu.Unlock()
	if !ok {
		return nil, false
	}
	return ent.value.([]float32), true
}

// Put stores a vector under the normalized text.
func (c *EmbeddingCache) Put(normalizedText string, vec []float32) {
	if c.core.put(normalizedText, vec) {
		c.stats.mu.Lock()
		c.stats.EmbeddingEvictions++
		c.stats.mu.Unlock()
	}
}

// Len returns the number of live entries.
func (c *EmbeddingCache) Len() int {
	return c.core.len()
}
