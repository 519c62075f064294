// Package cache provides a thread-safe, capacity- and TTL-bounded key/value
// store. Eviction under capacity pressure removes the earliest-inserted
// surviving entry (FIFO by insertion) rather than tracking recency; the
// read-mostly, short-TTL workloads this serves do not justify LRU
// bookkeeping. Expired entries are evicted lazily on Get.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// Clock is the minimal time source the cache needs.
type Clock interface {
	Now() time.Time
}

type entry[V any] struct {
	key        string
	value      V
	insertedAt time.Time
	elem       *list.Element
}

// Stats tracks cache effectiveness counters.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
}

// Cache is a bounded TTL cache. A TTL of zero disables expiry; entries then
// live until capacity eviction. Safe for concurrent use.
type Cache[V any] struct {
	mu       sync.Mutex
	entries  map[string]*entry[V]
	order    *list.List // front = earliest inserted
	capacity int
	ttl      time.Duration
	clock    Clock
	stats    Stats
}

// New creates a Cache with the given capacity and TTL. capacity must be > 0.
func New[V any](capacity int, ttl time.Duration, clock Clock) *Cache[V] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Cache[V]{
		entries:  make(map[string]*entry[V], capacity),
		order:    list.New(),
		capacity: capacity,
		ttl:      ttl,
		clock:    clock,
	}
}

// Get returns the value for key. An entry whose TTL has elapsed is removed
// and reported as a miss.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	ent, ok := c.entries[key]
	if !ok {
		c.stats.Misses++
		return zero, false
	}
	if c.ttl > 0 && c.clock.Now().Sub(ent.insertedAt) >= c.ttl {
		c.remove(ent)
		c.stats.Misses++
		c.stats.Evictions++
		return zero, false
	}
	c.stats.Hits++
	return ent.value, true
}

// Put inserts or replaces the value for key. Replacement refreshes the
// insertion time. If the insert would exceed capacity, the earliest-inserted
// surviving entry is evicted first.
func (c *Cache[V]) Put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	if ent, ok := c.entries[key]; ok {
		ent.value = value
		ent.insertedAt = now
		c.order.MoveToBack(ent.elem)
		return
	}
	if c.order.Len() >= c.capacity {
		if oldest := c.order.Front(); oldest != nil {
			c.remove(oldest.Value.(*entry[V]))
			c.stats.Evictions++
		}
	}
	ent := &entry[V]{key: key, value: value, insertedAt: now}
	ent.elem = c.order.PushBack(ent)
	c.entries[key] = ent
}

// Len returns the current number of entries, including any not yet lazily
// expired.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats returns a copy of the effectiveness counters.
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// caller must hold c.mu
func (c *Cache[V]) remove(ent *entry[V]) {
	c.order.Remove(ent.elem)
	delete(c.entries, ent.key)
}
