// Package cache provides the fingerprint-keyed LRU store backing transform
// and result reuse. Each cache instance belongs to exactly one service or
// orchestrator context; instances are never shared across pipelines.
package cache

import (
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"pisa/pkg/fingerprint"
)

// DefaultCapacity is used when a capacity of zero is requested.
const DefaultCapacity = 64

// Stats is a snapshot of a cache's instrumentation counters.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Puts      uint64
	Evictions uint64
}

// Cache is a capacity-bounded, least-recently-used map from Fingerprint to V.
// Eviction is purely by recency: cached objects are assumed comparably sized
// within one stage. Values are returned by reference; eviction only drops the
// cache's own reference, so an entry handed to a caller stays valid.
type Cache[V any] struct {
	name string
	lru  *lru.Cache[fingerprint.Fingerprint, V]

	hits      atomic.Uint64
	misses    atomic.Uint64
	puts      atomic.Uint64
	evictions atomic.Uint64
}

// New constructs a cache with the given instrumentation name and capacity.
func New[V any](name string, capacity int) (*Cache[V], error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	c := &Cache[V]{name: name}
	inner, err := lru.NewWithEvict[fingerprint.Fingerprint, V](capacity, func(fingerprint.Fingerprint, V) {
		c.evictions.Add(1)
		evictionsTotal.WithLabelValues(c.name).Inc()
	})
	if err != nil {
		return nil, fmt.Errorf("cache %q: %w", name, err)
	}
	c.lru = inner
	return c, nil
}

// Get returns the cached value for key, marking it most recently used.
func (c *Cache[V]) Get(key fingerprint.Fingerprint) (V, bool) {
	v, ok := c.lru.Get(key)
	if ok {
		c.hits.Add(1)
		hitsTotal.WithLabelValues(c.name).Inc()
	} else {
		c.misses.Add(1)
		missesTotal.WithLabelValues(c.name).Inc()
	}
	return v, ok
}

// Put stores a value, evicting the least recently used entry if the cache is
// at capacity. At most one live entry exists per fingerprint.
func (c *Cache[V]) Put(key fingerprint.Fingerprint, value V) {
	c.puts.Add(1)
	putsTotal.WithLabelValues(c.name).Inc()
	c.lru.Add(key, value)
}

// Contains reports presence without affecting recency ordering.
func (c *Cache[V]) Contains(key fingerprint.Fingerprint) bool {
	return c.lru.Contains(key)
}

// Len returns the number of live entries.
func (c *Cache[V]) Len() int { return c.lru.Len() }

// Keys returns cached fingerprints from least to most recently used.
func (c *Cache[V]) Keys() []fingerprint.Fingerprint { return c.lru.Keys() }

// Purge drops all entries.
func (c *Cache[V]) Purge() { c.lru.Purge() }

// Stats returns a snapshot of the counters.
func (c *Cache[V]) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Puts:      c.puts.Load(),
		Evictions: c.evictions.Load(),
	}
}
