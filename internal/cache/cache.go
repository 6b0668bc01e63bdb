package cache

import (
	"sync"
	"time"

	"github.com/Lemmeyg/howtobuddy2-sub001/internal/metrics"
)

// Options control how an entry is stored.
type Options struct {
	// TTL bounds the entry's lifetime. Zero means no expiry.
	TTL time.Duration
	// Tags make the entry discoverable for bulk invalidation.
	Tags []string
}

type entry struct {
	value     interface{}
	tags      []string
	expiresAt time.Time // zero value means no expiry
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Cache is an in-process key/value store with per-entry TTL and tag-based
// bulk invalidation. Expiry is lazy: expired entries are dropped on access.
// Safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	tags    map[string]map[string]struct{} // tag -> set of keys
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{
		entries: make(map[string]*entry),
		tags:    make(map[string]map[string]struct{}),
	}
}

// Get returns the value stored under key, or false when the key is absent
// or its entry has expired.
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		metrics.CacheMisses.Inc()
		return nil, false
	}
	if e.expired(time.Now()) {
		c.removeLocked(key, e)
		metrics.CacheMisses.Inc()
		return nil, false
	}
	metrics.CacheHits.Inc()
	return e.value, true
}

// Set stores value under key, replacing any previous entry.
func (c *Cache) Set(key string, value interface{}, opts Options) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, ok := c.entries[key]; ok {
		c.removeLocked(key, prev)
	}

	e := &entry{value: value, tags: opts.Tags}
	if opts.TTL > 0 {
		e.expiresAt = time.Now().Add(opts.TTL)
	}
	c.entries[key] = e

	for _, tag := range opts.Tags {
		keys, ok := c.tags[tag]
		if !ok {
			keys = make(map[string]struct{})
			c.tags[tag] = keys
		}
		keys[key] = struct{}{}
	}
}

// Delete removes the entry stored under key, if any.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		c.removeLocked(key, e)
	}
}

// InvalidateByTag removes every entry currently associated with tag,
// regardless of key.
func (c *Cache) InvalidateByTag(tag string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.tags[tag] {
		if e, ok := c.entries[key]; ok {
			c.removeLocked(key, e)
		}
	}
	delete(c.tags, tag)
}

// Clear removes all entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
	c.tags = make(map[string]map[string]struct{})
}

// WithCache returns the cached value for key if present and unexpired;
// otherwise it calls compute once, stores the result under key, and returns
// it. Concurrent misses on the same key may compute more than once; the
// last store wins.
func (c *Cache) WithCache(key string, compute func() (interface{}, error), opts Options) (interface{}, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err := compute()
	if err != nil {
		return nil, err
	}
	c.Set(key, v, opts)
	return v, nil
}

// removeLocked drops an entry and its tag index references. Caller holds mu.
func (c *Cache) removeLocked(key string, e *entry) {
	delete(c.entries, key)
	for _, tag := range e.tags {
		if keys, ok := c.tags[tag]; ok {
			delete(keys, key)
			if len(keys) == 0 {
				delete(c.tags, tag)
			}
		}
	}
}
