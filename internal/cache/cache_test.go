package cache_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shingi-ai/shingi/internal/cache"
	"github.com/shingi-ai/shingi/internal/similarity"
)

func matches(ids ...string) []similarity.Match {
	out := make([]similarity.Match, len(ids))
	for i, id := range ids {
		out[i] = similarity.Match{ID: id, Score: 0.8}
	}
	return out
}

func TestQueryKey(t *testing.T) {
	assert.Equal(t, "should we shard|t=0.40|k=5", cache.QueryKey("should we shard", 0.4, 5))
	// Distinct parameters must never collide.
	assert.NotEqual(t,
		cache.QueryKey("q", 0.4, 5),
		cache.QueryKey("q", 0.45, 5))
	assert.NotEqual(t,
		cache.QueryKey("q", 0.4, 5),
		cache.QueryKey("q", 0.4, 3))
}

func TestQueryCache_HitAndMiss(t *testing.T) {
	stats := &cache.Stats{}
	c := cache.NewQueryCache(8, time.Minute, stats)

	_, ok := c.Get("k1")
	assert.False(t, ok)

	c.Put("k1", matches("a", "b"))
	got, ok := c.Get("k1")
	require.True(t, ok)
	assert.Len(t, got, 2)

	snap := stats.Snapshot()
	assert.Equal(t, int64(1), snap.QueryHits)
	assert.Equal(t, int64(1), snap.QueryMisses)
	assert.InDelta(t, 0.5, snap.QueryHitRate, 1e-9)
}

func TestQueryCache_TTLExpiry(t *testing.T) {
	stats := &cache.Stats{}
	c := cache.NewQueryCache(8, 10*time.Millisecond, stats)

	c.Put("k1", matches("a"))
	time.Sleep(25 * time.Millisecond)

	_, ok := c.Get("k1")
	assert.False(t, ok, "expired entries count as misses")
	assert.Zero(t, c.Len(), "expired entries are dropped eagerly")
}

func TestQueryCache_LRUEviction(t *testing.T) {
	stats := &cache.Stats{}
	c := cache.NewQueryCache(2, time.Minute, stats)

	c.Put("k1", matches("a"))
	c.Put("k2", matches("b"))
	_, _ = c.Get("k1") // k1 is now most recently used
	c.Put("k3", matches("c"))

	_, ok := c.Get("k2")
	assert.False(t, ok, "least recently used entry evicted")
	_, ok = c.Get("k1")
	assert.True(t, ok)
	_, ok = c.Get("k3")
	assert.True(t, ok)
	assert.Equal(t, int64(1), stats.Snapshot().QueryEvictions)
}

func TestQueryCache_InvalidateAll(t *testing.T) {
	c := cache.NewQueryCache(8, time.Minute, &cache.Stats{})
	c.Put("k1", matches("a"))
	c.Put("k2", matches("b"))

	c.InvalidateAll()
	assert.Zero(t, c.Len())
	_, ok := c.Get("k1")
	assert.False(t, ok)
}

func TestEmbeddingCache_NoExpiry(t *testing.T) {
	stats := &cache.Stats{}
	c := cache.NewEmbeddingCache(4, stats)

	c.Put("some text", []float32{1, 2, 3})
	time.Sleep(5 * time.Millisecond)

	vec, ok := c.Get("some text")
	require.True(t, ok, "embedding entries never expire")
	assert.Equal(t, []float32{1, 2, 3}, vec)
}

func TestEmbeddingCache_EvictionCounted(t *testing.T) {
	stats := &cache.Stats{}
	c := cache.NewEmbeddingCache(2, stats)

	for i := range 3 {
		c.Put(fmt.Sprintf("text-%d", i), []float32{float32(i)})
	}
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, int64(1), stats.Snapshot().EmbeddingEvictions)

	_, ok := c.Get("text-0")
	assert.False(t, ok)
}

func TestCapacityFloor(t *testing.T) {
	// A nonsense capacity degrades to a single-entry cache, not a panic.
	c := cache.NewEmbeddingCache(0, &cache.Stats{})
	c.Put("a", []float32{1})
	c.Put("b", []float32{2})
	assert.Equal(t, 1, c.Len())
}
