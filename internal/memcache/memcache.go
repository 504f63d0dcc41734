// Package memcache is the Tier-1 hot cache: a bounded, TTL-expiring map that
// lives in the API process. It fronts the Redis tier for very recent lookups
// only; Redis and Postgres remain the systems of record.
package memcache

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Stats holds hit/miss counters for the memory cache.
type Stats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

// HitRate returns hits/(hits+misses), or 0 when the cache is untouched.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Cache is a bounded in-process cache with per-entry TTL.
// All operations serialize on a single mutex; GetMany acquires it once.
// TTLs are not refreshed on read.
type Cache struct {
	mu    sync.Mutex
	lru   *expirable.LRU[string, any]
	stats Stats
}

// New creates a Cache holding at most maxEntries values, each expiring
// ttl after insertion.
func New(maxEntries int, ttl time.Duration) *Cache {
	return &Cache{
		lru: expirable.NewLRU[string, any](maxEntries, nil, ttl),
	}
}

// Get returns the cached value for key, or (nil, false) on miss or expiry.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.lru.Get(key)
	if !ok {
		c.stats.Misses++
		return nil, false
	}
	c.stats.Hits++
	return v, true
}

// GetMany returns the subset of keys present in the cache.
// The mutex is acquired once for the whole batch, so the returned map is a
// consistent snapshot.
func (c *Cache) GetMany(keys []string) map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		if v, ok := c.lru.Get(k); ok {
			out[k] = v
			c.stats.Hits++
		} else {
			c.stats.Misses++
		}
	}
	return out
}

// Set stores value under key, evicting the oldest entry when full.
func (c *Cache) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(key, value)
}

// Delete removes key and reports whether it was present.
func (c *Cache) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Remove(key)
}

// Clear drops every entry. Stats are preserved.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}

// Size returns the number of live entries.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Stats returns a copy of the hit/miss counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
