package cache

import (
	"time"

	"github.com/shingi-ai/shingi/internal/similarity"
)

// DefaultQueryTTL bounds how long an L1 entry may serve hits.
const DefaultQueryTTL = 300 * time.Second

// QueryCache is the L1 layer: (normalized-query, threshold-tag, k-tag) →
// similarity match records, with a TTL. Invalidated wholesale after any
// write to the graph.
type QueryCache struct {
	core  *lruCore
	ttl   time.Duration
	stats *Stats
}

// NewQueryCache creates an L1 cache with the given capacity and TTL.
// A non-positive ttl falls back to DefaultQueryTTL.
func NewQueryCache(capacity int, ttl time.Duration, stats *Stats) *QueryCache {
	if ttl <= 0 {
		ttl = DefaultQueryTTL
	}
	return &QueryCache{core: newLRUCore(capacity), ttl: ttl, stats: stats}
}

// Get returns the cached matches for key, or (nil, false) on a miss or an
// expired entry. Expired entries are dropped eagerly.
func (c *QueryCache) Get(key string) ([]similarity.Match, bool) {
	ent, ok := c.core.get(key)
	if ok && time.Since(ent.storedAt) <= c.ttl {
		c.stats.mu.Lock()
		c.stats.QueryHits++
		c.stats.mu.Unlock()
		return ent.value.([]similarity.Match), true
	}
	if ok {
		c.core.remove(key)
	}
	c.stats.mu.Lock()
	c.stats.QueryMisses++
	c.stats.mu.Unlock()
	return nil, false
}

// Put stores matches under key.
func (c *QueryCache) Put(key string, matches []similarity.Match) {
	if c.core.put(key, matches) {
		c.stats.mu.Lock()
		c.stats.QueryEvictions++
		c.stats.mu.Unlock()
	}
}

// InvalidateAll drops every L1 entry. Called after any write to the graph
// so subsequent queries observe the new decision.
func (c *QueryCache) InvalidateAll() {
	c.core.clear()
}

// Len returns the number of live entries.
func (c *QueryCache) Len() int {
	return c.core.len()
}
