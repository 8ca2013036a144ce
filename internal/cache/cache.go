// Package cache implements the process-local read cache: per-entry TTL with
// class buckets, LRU eviction, tag-based invalidation and hit/miss stats.
//
// Callers must not cache empty query results; a cold miss has to stay a miss
// so the next read can retry upstream discovery.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// TTL class buckets.
const (
	TTLFast   = 30 * time.Second
	TTLNormal = 60 * time.Second
	TTLSlow   = 300 * time.Second
	TTLStatus = 10 * time.Second
)

// entry is a single cached value with its expiry, tags and LRU position.
type entry struct {
	key       string
	value     interface{}
	expiresAt time.Time
	tags      map[string]struct{}
	elem      *list.Element
}

// Stats holds cache counters.
type Stats struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Sets      int64   `json:"sets"`
	Evictions int64   `json:"evictions"`
	Size      int     `json:"size"`
	MaxSize   int     `json:"max_size"`
	HitRate   float64 `json:"hit_rate"`
}

// Cache is a concurrency-safe key→value store with TTL and LRU eviction.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	lru     *list.List // front = most recently used
	maxSize int

	hits      int64
	misses    int64
	sets      int64
	evictions int64

	now func() time.Time // injectable clock for tests
}

// New creates a cache capped at maxSize entries.
func New(maxSize int) *Cache {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &Cache{
		entries: make(map[string]*entry),
		lru:     list.New(),
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Get returns the cached value for key. Expired entries count as misses and
// are dropped. With bypass=true the entry is dropped and a miss reported,
// honoring the X-No-Cache hint.
func (c *Cache) Get(key string, bypass bool) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}

	if bypass || c.now().After(e.expiresAt) {
		c.removeLocked(e)
		c.misses++
		return nil, false
	}

	c.lru.MoveToFront(e.elem)
	c.hits++
	return e.value, true
}

// Set stores value under key with the given TTL and tags. Storing over an
// existing key replaces it in place.
func (c *Cache) Set(key string, value interface{}, ttl time.Duration, tags ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tagSet := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		tagSet[t] = struct{}{}
	}

	if e, ok := c.entries[key]; ok {
		e.value = value
		e.expiresAt = c.now().Add(ttl)
		e.tags = tagSet
		c.lru.MoveToFront(e.elem)
		c.sets++
		return
	}

	for len(c.entries) >= c.maxSize {
		c.evictOldestLocked()
	}

	e := &entry{
		key:       key,
		value:     value,
		expiresAt: c.now().Add(ttl),
		tags:      tagSet,
	}
	e.elem = c.lru.PushFront(e)
	c.entries[key] = e
	c.sets++
}

// Delete removes a single key.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		c.removeLocked(e)
	}
}

// InvalidateByTag removes every entry carrying the tag. Returns the number
// of entries removed.
func (c *Cache) InvalidateByTag(tag string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for _, e := range c.entries {
		if _, ok := e.tags[tag]; ok {
			c.removeLocked(e)
			removed++
		}
	}
	return removed
}

// Flush removes all entries.
func (c *Cache) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*entry)
	c.lru.Init()
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(c.hits) / float64(total)
	}

	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Sets:      c.sets,
		Evictions: c.evictions,
		Size:      len(c.entries),
		MaxSize:   c.maxSize,
		HitRate:   hitRate,
	}
}

// removeLocked deletes an entry. Caller holds the lock.
func (c *Cache) removeLocked(e *entry) {
	c.lru.Remove(e.elem)
	delete(c.entries, e.key)
}

// evictOldestLocked drops the least recently used entry. Caller holds the lock.
func (c *Cache) evictOldestLocked() {
	oldest := c.lru.Back()
	if oldest == nil {
		return
	}
	e := oldest.Value.(*entry)
	c.removeLocked(e)
	c.evictions++
}
