// Package cache provides a bounded, usage-aware cache for expensive
// transforms of large payloads.
//
// Eviction at capacity removes the entry with the fewest hits, ties going
// to the oldest insertion. Frequently requested entries therefore survive
// over rarely requested ones even when they are older.
package cache

import (
	"sync"
	"time"

	defaults "github.com/xtxerr/versionstore/config"
)

type entry struct {
	data     []byte
	inserted time.Time
	hits     int64
	seq      uint64
}

// Cache is a bounded key/value cache with TTL and hit-count eviction.
//
// Cache is safe for concurrent use.
type Cache struct {
	mu       sync.Mutex
	entries  map[string]*entry
	capacity int
	ttl      time.Duration
	now      func() time.Time
	seq      uint64

	stats Stats
}

// Stats holds cache statistics.
type Stats struct {
	Entries   int
	Hits      int64
	Misses    int64
	Expired   int64
	Evictions int64
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock sets the time source used for TTL checks.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates a cache. Non-positive arguments select the defaults of
// 50 entries and 5 minutes.
func New(capacity int, ttl time.Duration, opts ...Option) *Cache {
	if capacity <= 0 {
		capacity = defaults.DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = defaults.DefaultCacheTTL
	}

	c := &Cache{
		entries:  make(map[string]*entry, capacity),
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached value for key. An expired entry is evicted and
// reported as a miss. A hit increments the entry's hit counter.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.stats.Misses++
		return nil, false
	}

	if c.now().Sub(e.inserted) > c.ttl {
		delete(c.entries, key)
		c.stats.Expired++
		c.stats.Misses++
		return nil, false
	}

	e.hits++
	c.stats.Hits++
	return e.data, true
}

// Set stores data under key. At capacity, the least-hit entry is evicted
// first. Replacing an existing key keeps no hits.
func (c *Cache) Set(key string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; !ok && len(c.entries) >= c.capacity {
		c.evictUnlocked()
	}

	c.seq++
	c.entries[key] = &entry{
		data:     data,
		inserted: c.now(),
		seq:      c.seq,
	}
}

// evictUnlocked removes the entry with the fewest hits, ties broken by
// insertion order. Must be called with c.mu held.
func (c *Cache) evictUnlocked() {
	var victim string
	var best *entry

	for k, e := range c.entries {
		if best == nil || e.hits < best.hits || (e.hits == best.hits && e.seq < best.seq) {
			victim, best = k, e
		}
	}

	if best != nil {
		delete(c.entries, victim)
		c.stats.Evictions++
	}
}

// Delete removes key.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Clear removes every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry, c.capacity)
}

// Len returns the number of entries, including expired ones not yet
// evicted.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns cache statistics.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.stats
	s.Entries = len(c.entries)
	return s
}
