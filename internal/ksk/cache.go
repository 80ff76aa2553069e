package ksk

// History endpoints change at most once per billing period, so their
// responses are kept in a small in-memory LRU with a TTL instead of being
// re-fetched every 30-minute cycle.

import (
	"encoding/json"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

type cacheEntry struct {
	body     json.RawMessage
	storedAt time.Time
}

type responseCache struct {
	lru *lru.Cache
	ttl time.Duration
}

// newResponseCache returns nil when size or ttl disable caching; a nil
// cache is a valid no-op receiver.
func newResponseCache(size int, ttl time.Duration) *responseCache {
	if size <= 0 || ttl <= 0 {
		return nil
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil
	}
	return &responseCache{lru: cache, ttl: ttl}
}

func (c *responseCache) get(key string) (json.RawMessage, bool) {
	if c == nil {
		return nil, false
	}
	value, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	entry := value.(cacheEntry)
	if time.Since(entry.storedAt) > c.ttl {
		c.lru.Remove(key)
		return nil, false
	}
	return entry.body, true
}

func (c *responseCache) put(key string, body json.RawMessage) {
	if c == nil {
		return
	}
	c.lru.Add(key, cacheEntry{body: body, storedAt: time.Now()})
}
