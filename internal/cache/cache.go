// Package cache is a get-or-fetch response cache keyed by endpoint plus
// canonicalized query parameters. Entries expire after a fixed TTL. A
// memory map answers repeat lookups within a session; an optional sqlite
// store keeps responses across restarts.
package cache

import (
	"sync"
	"time"
)

// Cache maps request keys to fetched response bodies with a fixed TTL.
type Cache struct {
	mu    sync.Mutex
	mem   map[string]entry
	store *store
	ttl   time.Duration

	now func() time.Time
}

type entry struct {
	body      []byte
	fetchedAt time.Time
}

// New creates a memory-only cache with the given TTL.
func New(ttl time.Duration) *Cache {
	return &Cache{
		mem: make(map[string]entry),
		ttl: ttl,
		now: time.Now,
	}
}

// Open creates a cache backed by a sqlite store at dbPath.
func Open(dbPath string, ttl time.Duration) (*Cache, error) {
	s, err := openStore(dbPath)
	if err != nil {
		return nil, err
	}
	c := New(ttl)
	c.store = s
	return c, nil
}

// Close closes the backing store, if any.
func (c *Cache) Close() error {
	if c.store == nil {
		return nil
	}
	return c.store.close()
}

// GetOrFetch returns the cached body for key if it is fresher than the TTL.
// Otherwise it invokes fetch, stores the result, and returns it. The second
// return value reports whether the result came from the cache.
func (c *Cache) GetOrFetch(key string, fetch func() ([]byte, error)) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	nowTime := c.now()
	if e, ok := c.mem[key]; ok && nowTime.Sub(e.fetchedAt) < c.ttl {
		return e.body, true, nil
	}

	if c.store != nil {
		body, fetchedAt, err := c.store.get(key)
		if err == nil && body != nil && nowTime.Sub(fetchedAt) < c.ttl {
			c.mem[key] = entry{body: body, fetchedAt: fetchedAt}
			return body, true, nil
		}
	}

	body, err := fetch()
	if err != nil {
		return nil, false, err
	}

	c.mem[key] = entry{body: body, fetchedAt: nowTime}
	if c.store != nil {
		if err := c.store.put(key, body, nowTime); err == nil {
			c.store.purge(nowTime.Add(-c.ttl))
		}
	}
	return body, false, nil
}

// Stats describes the current cache contents.
type Stats struct {
	Entries int
	Oldest  time.Time
}

// Stats reports entry count and oldest fetch time, preferring the
// persistent store when one is open.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.store != nil {
		if s, err := c.store.stats(); err == nil {
			return s
		}
	}

	s := Stats{Entries: len(c.mem)}
	for _, e := range c.mem {
		if s.Oldest.IsZero() || e.fetchedAt.Before(s.Oldest) {
			s.Oldest = e.fetchedAt
		}
	}
	return s
}
