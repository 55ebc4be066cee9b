package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// MaxEntries caps the number of completions the response cache indexes.
const MaxEntries = 10_000

// DefaultResponseTTL applies when no TTL is configured.
const DefaultResponseTTL = time.Hour

// CompletionKey builds the cache key for a completion: the model name plus
// the canonical JSON serialization of the messages. Callers pass the parsed
// message slice so that equivalent requests with different whitespace or
// field order in the raw body still collide.
func CompletionKey(model string, messages any) string {
	b, err := json.Marshal(messages)
	if err != nil {
		// Messages already survived a decode; this cannot realistically fail.
		return model + ":"
	}
	return model + ":" + string(b)
}

// respEntry tracks when a completion was cached and for how long.
type respEntry struct {
	cachedAt time.Time
	ttl      time.Duration
}

// ResponseStats is a point-in-time view of the response cache.
type ResponseStats struct {
	Total   int  `json:"total_entries"`
	Active  int  `json:"active_entries"`
	Expired int  `json:"expired_entries"`
	Enabled bool `json:"enabled"`
}

// ResponseCache caches non-streaming completion bodies. The entry index
// (timestamps, TTLs, eviction order) lives in-process; the bodies live in a
// pluggable Cache backend, MemoryCache by default or ExactCache when the
// deployment shares a Redis.
//
// When disabled, Get always misses and Set is a no-op.
type ResponseCache struct {
	mu      sync.Mutex
	index   map[string]respEntry
	store   Cache
	ttl     time.Duration
	enabled bool
}

// NewResponseCache builds a ResponseCache over store. A zero or negative
// ttl falls back to DefaultResponseTTL.
func NewResponseCache(store Cache, ttl time.Duration, enabled bool) *ResponseCache {
	if ttl <= 0 {
		ttl = DefaultResponseTTL
	}
	return &ResponseCache{
		index:   make(map[string]respEntry),
		store:   store,
		ttl:     ttl,
		enabled: enabled,
	}
}

// Enabled reports whether the cache is active.
func (c *ResponseCache) Enabled() bool { return c != nil && c.enabled }

// Get returns the cached response body for key. An expired entry reads as
// a miss and triggers a best-effort sweep of other expired entries.
func (c *ResponseCache) Get(ctx context.Context, key string) ([]byte, bool) {
	if !c.Enabled() {
		return nil, false
	}

	c.mu.Lock()
	e, ok := c.index[key]
	if ok && time.Since(e.cachedAt) > e.ttl {
		expired := c.removeExpiredLocked()
		c.mu.Unlock()
		for _, k := range expired {
			_ = c.store.Delete(ctx, k)
		}
		return nil, false
	}
	c.mu.Unlock()

	if !ok {
		return nil, false
	}
	return c.store.Get(ctx, key)
}

// Set stores a response body under key, evicting down to MaxEntries:
// expired entries first, then the oldest by cache time.
func (c *ResponseCache) Set(ctx context.Context, key string, body []byte) {
	if !c.Enabled() {
		return
	}

	c.mu.Lock()
	c.index[key] = respEntry{cachedAt: time.Now(), ttl: c.ttl}

	var evicted []string
	if len(c.index) > MaxEntries {
		evicted = c.removeExpiredLocked()
		for len(c.index) > MaxEntries {
			oldest := ""
			for k, e := range c.index {
				if oldest == "" || e.cachedAt.Before(c.index[oldest].cachedAt) {
					oldest = k
				}
			}
			delete(c.index, oldest)
			evicted = append(evicted, oldest)
		}
	}
	c.mu.Unlock()

	_ = c.store.Set(ctx, key, body, c.ttl)
	for _, k := range evicted {
		_ = c.store.Delete(ctx, k)
	}
}

// Stats reports entry counts. Expired entries are counted, not removed.
func (c *ResponseCache) Stats() ResponseStats {
	if !c.Enabled() {
		return ResponseStats{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	s := ResponseStats{Total: len(c.index), Enabled: true}
	now := time.Now()
	for _, e := range c.index {
		if now.Sub(e.cachedAt) > e.ttl {
			s.Expired++
		} else {
			s.Active++
		}
	}
	return s
}

// removeExpiredLocked drops expired index entries and returns their keys so
// the caller can delete the bodies outside the lock.
func (c *ResponseCache) removeExpiredLocked() []string {
	var expired []string
	now := time.Now()
	for k, e := range c.index {
		if now.Sub(e.cachedAt) > e.ttl {
			delete(c.index, k)
			expired = append(expired, k)
		}
	}
	return expired
}
