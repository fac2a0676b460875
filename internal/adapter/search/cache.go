package search

import (
	"strings"
	"sync"
	"time"

	"estate-assistant/internal/domain"
)

// cacheEntry holds cached results with their insertion time.
type cacheEntry struct {
	results  []domain.SearchResult
	storedAt time.Time
}

// Cache is a TTL cache of search results keyed by normalized query.
// An entry is served while now-storedAt < ttl; stale entries are ignored
// on lookup and removed by Sweep.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cacheEntry
	now     func() time.Time // for testing
}

// NewCache creates an empty cache.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

// NormalizeQuery lower-cases q and collapses whitespace runs to one space.
func NormalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}

// Get returns a copy of the fresh results stored under the normalized key.
func (c *Cache) Get(query string) ([]domain.SearchResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[NormalizeQuery(query)]
	if !ok || c.now().Sub(e.storedAt) >= c.ttl {
		return nil, false
	}
	return append([]domain.SearchResult(nil), e.results...), true
}

// Put stores results under the normalized key, stamped with the current time.
func (c *Cache) Put(query string, results []domain.SearchResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[NormalizeQuery(query)] = cacheEntry{
		results:  append([]domain.SearchResult(nil), results...),
		storedAt: c.now(),
	}
}

// Sweep removes entries that are stale at now and returns how many.
func (c *Cache) Sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k, e := range c.entries {
		if now.Sub(e.storedAt) >= c.ttl {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, stale ones included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
