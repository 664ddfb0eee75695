// Package cache provides the bounded least-recently-used cache used by every
// cache site in the engine: geometry lookups, aggregations, viewport queries
// and hotspot sets.
package cache

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/jengzang/hexmap-backend-go/internal/metrics"
)

// LRU is a bounded key/value cache. Get promotes the entry; Add evicts the
// least recently used entry once capacity is exceeded.
//
// A capacity <= 0 yields a disabled cache: every Get misses and Add is a no-op.
type LRU[K comparable, V any] struct {
	name  string
	inner *lru.Cache[K, V]
}

// New creates a named cache holding at most capacity entries.
func New[K comparable, V any](name string, capacity int) *LRU[K, V] {
	c := &LRU[K, V]{name: name}
	if capacity <= 0 {
		return c
	}
	inner, err := lru.NewWithEvict[K, V](capacity, func(K, V) {
		metrics.CacheEvictions.WithLabelValues(name).Inc()
	})
	if err != nil {
		// Only returned for non-positive sizes, handled above.
		return c
	}
	c.inner = inner
	return c
}

// Get returns the value for key and marks it most recently used.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	if c.inner == nil {
		var zero V
		metrics.CacheLookups.WithLabelValues(c.name, "miss").Inc()
		return zero, false
	}
	v, ok := c.inner.Get(key)
	if ok {
		metrics.CacheLookups.WithLabelValues(c.name, "hit").Inc()
	} else {
		metrics.CacheLookups.WithLabelValues(c.name, "miss").Inc()
	}
	return v, ok
}

// Add inserts or replaces key. It reports whether an older entry was evicted.
func (c *LRU[K, V]) Add(key K, value V) bool {
	if c.inner == nil {
		return false
	}
	return c.inner.Add(key, value)
}

// GetOrAdd returns the cached value for key, or computes it with load and
// stores it. Values for which load reports ok == false are not cached.
func (c *LRU[K, V]) GetOrAdd(key K, load func() (V, bool)) (V, bool) {
	if v, ok := c.Get(key); ok {
		return v, true
	}
	v, ok := load()
	if ok {
		c.Add(key, v)
	}
	return v, ok
}

// Peek returns the value for key without touching recency.
func (c *LRU[K, V]) Peek(key K) (V, bool) {
	if c.inner == nil {
		var zero V
		return zero, false
	}
	return c.inner.Peek(key)
}

// Contains reports whether key is cached without touching recency.
func (c *LRU[K, V]) Contains(key K) bool {
	if c.inner == nil {
		return false
	}
	return c.inner.Contains(key)
}

// Remove deletes key.
func (c *LRU[K, V]) Remove(key K) {
	if c.inner != nil {
		c.inner.Remove(key)
	}
}

// Purge drops every entry.
func (c *LRU[K, V]) Purge() {
	if c.inner != nil {
		c.inner.Purge()
	}
}

// Len returns the number of cached entries.
func (c *LRU[K, V]) Len() int {
	if c.inner == nil {
		return 0
	}
	return c.inner.Len()
}

// Keys returns cached keys from oldest to newest.
func (c *LRU[K, V]) Keys() []K {
	if c.inner == nil {
		return nil
	}
	return c.inner.Keys()
}
