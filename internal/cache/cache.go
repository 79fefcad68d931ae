// Package cache provides the two-level cache in front of similarity
// retrieval: an L1 query-result cache with TTL and an L2 embedding cache
// without one.
//
// Both layers are fixed-capacity LRU maps sharing one statistics counter.
// They are mutated by the request path and read by the background worker,
// so every operation is atomic with respect to a single key.
package cache

import (
	"container/list"
	"fmt"
	"sync"
	"time"
)

// Stats counts hits, misses, and evictions per layer. One Stats instance
// is shared by both cache layers.
type Stats struct {
	mu sync.Mutex

	QueryHits          int64
	QueryMisses        int64
	QueryEvictions     int64
	EmbeddingHits      int64
	EmbeddingMisses    int64
	EmbeddingEvictions int64
}

// Snapshot is a point-in-time copy of the counters plus computed rates.
type Snapshot struct {
	QueryHits          int64   `json:"query_hits"`
	QueryMisses        int64   `json:"query_misses"`
	QueryEvictions     int64   `json:"query_evictions"`
	QueryHitRate       float64 `json:"query_hit_rate"`
	EmbeddingHits      int64   `json:"embedding_hits"`
	EmbeddingMisses    int64   `json:"embedding_misses"`
	EmbeddingEvictions int64   `json:"embedding_evictions"`
	EmbeddingHitRate   float64 `json:"embedding_hit_rate"`
}

// Snapshot returns a copy of the current counters.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		QueryHits:          s.QueryHits,
		QueryMisses:        s.QueryMisses,
		QueryEvictions:     s.QueryEvictions,
		QueryHitRate:       hitRate(s.QueryHits, s.QueryMisses),
		EmbeddingHits:      s.EmbeddingHits,
		EmbeddingMisses:    s.EmbeddingMisses,
		EmbeddingEvictions: s.EmbeddingEvictions,
		EmbeddingHitRate:   hitRate(s.EmbeddingHits, s.EmbeddingMisses),
	}
}

func hitRate(hits, misses int64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// QueryKey builds the canonical L1 key from the normalized query and the
// threshold/k tags that parameterized the search.
func QueryKey(normalizedQuery string, threshold float64, k int) string {
	return fmt.Sprintf("%s|t=%.2f|k=%d", normalizedQuery, threshold, k)
}

// lruEntry is one element in an lruCore list.
type lruEntry struct {
	key      string
	value    any
	storedAt time.Time
}

// lruCore is a minimal mutex-guarded LRU used by both layers.
type lruCore struct {
	mu       sync.Mutex
	capacity int
	ll       *list.List
	items    map[string]*list.Element
}

func newLRUCore(capacity int) *lruCore {
	if capacity <= 0 {
		capacity = 1
	}
	return &lruCore{
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[string]*list.Element, capacity),
	}
}

// get returns the entry and moves it to the front. Expiry is the caller's
// concern (the embedding layer has none).
func (c *lruCore) get(key string) (*lruEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*lruEntry), true
}

// put inserts or replaces a key. Returns true when an eviction occurred.
func (c *lruCore) put(key string, value any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.ll.MoveToFront(el)
		ent := el.Value.(*lruEntry)
		ent.value = value
		ent.storedAt = time.Now()
		return false
	}
	el := c.ll.PushFront(&lruEntry{key: key, value: value, storedAt: time.Now()})
	c.items[key] = el
	if c.ll.Len() <= c.capacity {
		return false
	}
	oldest := c.ll.Back()
	if oldest != nil {
		c.ll.Remove(oldest)
		delete(c.items, oldest.Value.(*lruEntry).key)
	}
	return true
}

// remove deletes a single key.
func (c *lruCore) remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.ll.Remove(el)
		delete(c.items, key)
	}
}

// clear drops every entry.
func (c *lruCore) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ll.Init()
	c.items = make(map[string]*list.Element, c.capacity)
}

// len returns the number of live entries.
func (c *lruCore) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}
