package tools

import (
	"sync"
	"time"
)

// ttlCache is the small response cache both tools sit behind. Entries
// expire after the TTL; when full, the entry closest to expiry is evicted.
type ttlCache[V any] struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry[V]
	maxSize int
	ttl     time.Duration
}

type cacheEntry[V any] struct {
	value     V
	expiresAt time.Time
}

func newTTLCache[V any](maxSize int, ttl time.Duration) *ttlCache[V] {
	return &ttlCache[V]{
		entries: make(map[string]*cacheEntry[V]),
		maxSize: maxSize,
		ttl:     ttl,
	}
}

func (c *ttlCache[V]) get(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[key]
	if !ok || time.Now().After(entry.expiresAt) {
		var zero V
		return zero, false
	}
	return entry.value, true
}

func (c *ttlCache[V]) set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= c.maxSize {
		var oldest string
		var oldestAt time.Time
		for k, e := range c.entries {
			if oldest == "" || e.expiresAt.Before(oldestAt) {
				oldest, oldestAt = k, e.expiresAt
			}
		}
		delete(c.entries, oldest)
	}
	c.entries[key] = &cacheEntry[V]{value: value, expiresAt: time.Now().Add(c.ttl)}
}
