package travel

import (
	"context"
	"sync"
	"time"

	"hearingcal/internal/clock"
)

// Cached memoizes successful estimates of an inner provider for a fixed
// TTL. Routes are cached as unordered pairs. Errors are never cached.
type Cached struct {
	inner Provider
	ttl   time.Duration
	clock clock.Clock

	mu      sync.RWMutex
	entries map[routeKey]cacheEntry
}

type cacheEntry struct {
	d         time.Duration
	expiresAt time.Time
}

// NewCached wraps inner. A nil clk uses the real clock.
func NewCached(inner Provider, ttl time.Duration, clk clock.Clock) *Cached {
	if clk == nil {
		clk = clock.Real()
	}
	return &Cached{
		inner:   inner,
		ttl:     ttl,
		clock:   clk,
		entries: make(map[routeKey]cacheEntry),
	}
}

// Estimate implements Provider.
func (c *Cached) Estimate(ctx context.Context, from, to string) (time.Duration, error) {
	if from == to {
		return 0, nil
	}
	k := keyFor(from, to)
	now := c.clock.Now()

	// Fast path: return cached value if it's still fresh.
	c.mu.RLock()
	e, ok := c.entries[k]
	c.mu.RUnlock()
	if ok && now.Before(e.expiresAt) {
		return e.d, nil
	}

	d, err := c.inner.Estimate(ctx, from, to)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	c.entries[k] = cacheEntry{d: d, expiresAt: c.clock.Now().Add(c.ttl)}
	c.mu.Unlock()
	return d, nil
}

// Purge drops expired entries and reports how many were removed.
func (c *Cached) Purge() int {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Len reports the number of cached routes, expired or not.
func (c *Cached) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
