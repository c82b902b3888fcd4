package provider

import (
	"sync"
	"time"
)

type cacheEntry struct {
	codes     []string
	fetchedAt time.Time
}

// countryCache caches per-validator country catalogues for a bounded TTL.
type countryCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cacheEntry
}

func newCountryCache(ttl time.Duration) *countryCache {
	return &countryCache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
	}
}

func (c *countryCache) get(host string, now time.Time) ([]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[host]
	if !ok {
		return nil, false
	}
	if now.Sub(e.fetchedAt) > c.ttl {
		delete(c.entries, host)
		return nil, false
	}
	out := make([]string, len(e.codes))
	copy(out, e.codes)
	return out, true
}

func (c *countryCache) put(host string, codes []string, now time.Time) {
	stored := make([]string, len(codes))
	copy(stored, codes)
	c.mu.Lock()
	c.entries[host] = cacheEntry{codes: stored, fetchedAt: now}
	c.mu.Unlock()
}
