// Package cache implements the Result Cache: a fingerprint-keyed, TTL'd
// store of ScrapeResults with single-flight coalescing of concurrent
// identical requests.
package cache

import (
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hawkcrawl/scout/internal/orchestrator"
	"github.com/hawkcrawl/scout/internal/telemetry"
)

type entry struct {
	result    orchestrator.ScrapeResult
	expiresAt time.Time
}

// Cache implements orchestrator.ResultCache.
type Cache struct {
	ttl time.Duration

	mu      sync.RWMutex
	entries map[string]entry

	flight singleflight.Group
}

// New builds a Cache whose entries expire after ttl.
func New(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{ttl: ttl, entries: make(map[string]entry)}
}

// Get implements orchestrator.ResultCache.
func (c *Cache) Get(fingerprint string) (orchestrator.ScrapeResult, bool) {
	c.mu.RLock()
	e, ok := c.entries[fingerprint]
	c.mu.RUnlock()
	if !ok || time.Now().After(e.expiresAt) {
		return orchestrator.ScrapeResult{}, false
	}
	return e.result, true
}

// Put implements orchestrator.ResultCache.
func (c *Cache) Put(fingerprint string, result orchestrator.ScrapeResult) {
	c.mu.Lock()
	c.entries[fingerprint] = entry{result: result, expiresAt: time.Now().Add(c.ttl)}
	c.mu.Unlock()
}

// Do implements orchestrator.ResultCache: concurrent callers sharing a
// fingerprint block on a single underlying fn call and all receive its
// result, marked as cached on every receiver but the one that executed fn.
func (c *Cache) Do(fingerprint string, fn func() (orchestrator.ScrapeResult, error)) (orchestrator.ScrapeResult, error, bool) {
	if result, ok := c.Get(fingerprint); ok {
		telemetry.IncCacheHit()
		result.Cached = true
		return result, nil, true
	}

	ran := false
	v, err, shared := c.flight.Do(fingerprint, func() (interface{}, error) {
		ran = true
		result, err := fn()
		if err != nil {
			return orchestrator.ScrapeResult{}, err
		}
		c.Put(fingerprint, result)
		return result, nil
	})
	if err != nil {
		return orchestrator.ScrapeResult{}, err, false
	}

	result := v.(orchestrator.ScrapeResult)
	// singleflight reports shared to the executing caller too; only waiters
	// that did not run fn count as cache hits.
	coalesced := shared && !ran
	if coalesced {
		telemetry.IncCacheHit()
		result.Cached = true
	}
	return result, nil, coalesced
}

// Purge evicts every expired entry. Intended to be called periodically by
// a maintenance goroutine; Get/Put remain correct without it.
func (c *Cache) Purge() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for fp, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, fp)
		}
	}
}
