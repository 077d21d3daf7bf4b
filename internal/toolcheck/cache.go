package toolcheck

import (
	"sync"
	"sync/atomic"
	"time"
)

// Cache is a TTL cache of tool availability with stale-while-revalidate.
// Reads on the hot path go through sync.Map without locking.
type Cache struct {
	store sync.Map // map[string]*cacheEntry
	ttl   time.Duration
}

type cacheEntry struct {
	available  bool
	expiresAt  time.Time
	refreshing atomic.Bool
}

// CacheGetResult holds the result of a cache lookup.
type CacheGetResult struct {
	Available    bool
	Hit          bool // a value was found, fresh or stale
	NeedsRefresh bool // entry expired and this caller won the refresh
}

// NewCache creates a cache with the given TTL.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{ttl: ttl}
}

// Get performs a non-blocking lookup. Stale entries are still returned; the
// first caller to see one gets NeedsRefresh=true.
func (c *Cache) Get(tool string) CacheGetResult {
	val, ok := c.store.Load(tool)
	if !ok {
		return CacheGetResult{}
	}

	entry := val.(*cacheEntry)
	if time.Now().Before(entry.expiresAt) {
		return CacheGetResult{Available: entry.available, Hit: true}
	}

	return CacheGetResult{
		Available:    entry.available,
		Hit:          true,
		NeedsRefresh: entry.refreshing.CompareAndSwap(false, true),
	}
}

// Set records availability for tool with a fresh TTL. Unavailable results
// are cached too.
func (c *Cache) Set(tool string, available bool) {
	c.store.Store(tool, &cacheEntry{
		available: available,
		expiresAt: time.Now().Add(c.ttl),
	})
}

// Delete removes an entry.
func (c *Cache) Delete(tool string) {
	c.store.Delete(tool)
}
