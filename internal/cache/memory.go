// Package cache caches non-streaming completion responses.
//
// ResponseCache keys completions by model plus the canonical JSON of the
// messages and tracks per-entry TTLs. Bodies are held in one of two
// interchangeable backends:
//   - MemoryCache — in-process TTL cache, zero external dependencies.
//   - ExactCache  — Redis-backed, for deployments sharing a cache across
//     replicas.
package cache

import (
	"context"
	"sync"
	"time"
)

// janitorInterval is how often the background sweep removes expired
// bodies that were never read again.
const janitorInterval = 5 * time.Minute

// memItem is one cached completion body with its expiry.
type memItem struct {
	data      []byte
	expiresAt time.Time
}

// MemoryCache is the in-process body store. Entry count is bounded by
// ResponseCache, which evicts through Delete; this layer only enforces
// TTLs — lazily on read and periodically via the janitor goroutine.
//
// Use it for local development, single-instance deployments and tests;
// multi-replica deployments want ExactCache so replicas share hits.
type MemoryCache struct {
	mu    sync.RWMutex
	items map[string]memItem

	done chan struct{}
}

// NewMemoryCache creates a MemoryCache and starts its janitor. The
// janitor stops when ctx is cancelled or Close is called.
func NewMemoryCache(ctx context.Context) *MemoryCache {
	c := &MemoryCache{
		items: make(map[string]memItem),
		done:  make(chan struct{}),
	}
	go c.janitor(ctx)
	return c
}

// Get returns the body cached under key, or (nil, false) on a miss. An
// expired entry reads as a miss and is removed on the spot.
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.RLock()
	item, ok := c.items[key]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}

	if time.Now().After(item.expiresAt) {
		c.mu.Lock()
		delete(c.items, key)
		c.mu.Unlock()
		return nil, false
	}

	return item.data, true
}

// Set stores value under key for the duration of ttl. A zero or negative
// ttl falls back to one hour.
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = time.Hour
	}

	c.mu.Lock()
	c.items[key] = memItem{
		data:      value,
		expiresAt: time.Now().Add(ttl),
	}
	c.mu.Unlock()

	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
	return nil
}

// Len returns the number of entries currently held, including expired
// ones the janitor has not reached yet.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Close stops the janitor goroutine.
func (c *MemoryCache) Close() {
	close(c.done)
}

func (c *MemoryCache) janitor(ctx context.Context) {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweepExpired()
		case <-ctx.Done():
			return
		case <-c.done:
			return
		}
	}
}

func (c *MemoryCache) sweepExpired() {
	now := time.Now()

	c.mu.Lock()
	for k, v := range c.items {
		if now.After(v.expiresAt) {
			delete(c.items, k)
		}
	}
	c.mu.Unlock()
}
