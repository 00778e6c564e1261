package application

import (
	"sync"
	"time"

	"github.com/thirdweb-dev/engine-sub003/internal/domain"
)

const (
	resolutionCacheTTL  = 7 * 24 * time.Hour
	resolutionCacheSize = 4096
)

type cacheEntry struct {
	resolved  domain.ResolvedExecutionAccount
	expiresAt time.Time
}

// resolutionCache is a bounded, process-local TTL cache of resolved execution
// accounts. It is advisory only: a miss re-derives identical data from the
// account directory, so correctness never depends on its contents.
type resolutionCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	max     int
	ttl     time.Duration
	now     func() time.Time
}

func newResolutionCache(max int, ttl time.Duration) *resolutionCache {
	if max <= 0 {
		max = resolutionCacheSize
	}
	if ttl <= 0 {
		ttl = resolutionCacheTTL
	}
	return &resolutionCache{
		entries: make(map[string]cacheEntry),
		max:     max,
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *resolutionCache) Get(key string) (domain.ResolvedExecutionAccount, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || c.now().After(entry.expiresAt) {
		return domain.ResolvedExecutionAccount{}, false
	}
	return entry.resolved, true
}

func (c *resolutionCache) Put(key string, resolved domain.ResolvedExecutionAccount) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= c.max {
		c.evictLocked()
	}
	c.entries[key] = cacheEntry{resolved: resolved, expiresAt: c.now().Add(c.ttl)}
}

func (c *resolutionCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// evictLocked drops expired entries first; if nothing has expired it drops
// an arbitrary entry to stay bounded.
func (c *resolutionCache) evictLocked() {
	now := c.now()
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
		}
	}
	if len(c.entries) < c.max {
		return
	}
	for key := range c.entries {
		delete(c.entries, key)
		return
	}
}
