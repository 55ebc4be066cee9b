// Package ratelimit implements per-key token-bucket rate limiting.
//
// Keys are derived at the HTTP boundary (see keys.go): a hashed
// Authorization header when present, otherwise the client IP. The bucket
// table is bounded; stale buckets are swept periodically and the least
// recently used ones are evicted when the table outgrows its cap.
package ratelimit

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

const (
	// DefaultCapacity is the bucket size when none is configured.
	DefaultCapacity = 100
	// DefaultRefillPerSecond is the refill rate when none is configured.
	DefaultRefillPerSecond = 10

	cleanupInterval = 300 * time.Second
	maxBuckets      = 10_000
)

type bucket struct {
	tokens     int
	lastRefill time.Time
	lastAccess time.Time
}

// Info is a non-consuming view of one bucket, shaped for the
// X-RateLimit-* response headers. Reset is a Unix timestamp.
type Info struct {
	Limit     int
	Remaining int
	Reset     int64
}

// Limiter is a bounded table of token buckets. Safe for concurrent use.
type Limiter struct {
	mu          sync.Mutex
	buckets     map[string]*bucket
	capacity    int
	refillEvery time.Duration
	lastCleanup time.Time

	now func() time.Time
}

// NewLimiter creates a Limiter refilling refillPerSecond tokens up to
// capacity. Non-positive arguments fall back to the defaults.
func NewLimiter(capacity, refillPerSecond int) *Limiter {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if refillPerSecond <= 0 {
		refillPerSecond = DefaultRefillPerSecond
	}
	// Rates above 1e9/s would make the interval zero and break the
	// elapsed/interval division; 1ns is effectively unlimited anyway.
	refillEvery := time.Second / time.Duration(refillPerSecond)
	if refillEvery <= 0 {
		refillEvery = time.Nanosecond
	}
	return &Limiter{
		buckets:     make(map[string]*bucket),
		capacity:    capacity,
		refillEvery: refillEvery,
		lastCleanup: time.Now(),
		now:         time.Now,
	}
}

// Check consumes one token from key's bucket if available. A new key
// starts with a full bucket.
func (l *Limiter) Check(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.cleanupLocked()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: l.capacity, lastRefill: now}
		l.buckets[key] = b
	}
	b.lastAccess = now

	l.refillLocked(b, now)

	if b.tokens > 0 {
		b.tokens--
		return true
	}
	return false
}

// GetInfo reports key's current limit, remaining tokens and the Unix time
// at which the bucket is full again. It never consumes a token or touches
// the LRU ordering.
func (l *Limiter) GetInfo(key string) Info {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	remaining := l.capacity
	if b, ok := l.buckets[key]; ok {
		remaining = b.tokens
		if added := int(now.Sub(b.lastRefill) / l.refillEvery); added > 0 {
			remaining = min(remaining+added, l.capacity)
		}
	}

	var untilFull time.Duration
	if needed := l.capacity - remaining; needed > 0 {
		untilFull = time.Duration(needed) * l.refillEvery
	}

	return Info{
		Limit:     l.capacity,
		Remaining: remaining,
		Reset:     now.Add(untilFull).Unix(),
	}
}

// refillLocked adds floor(elapsed/refillEvery) tokens. lastRefill moves
// only when tokens were added so partial intervals keep accruing.
func (l *Limiter) refillLocked(b *bucket, now time.Time) {
	added := int(now.Sub(b.lastRefill) / l.refillEvery)
	if added <= 0 {
		return
	}
	b.tokens = min(b.tokens+added, l.capacity)
	b.lastRefill = now
}

// cleanupLocked drops buckets idle for two cleanup intervals, then evicts
// the least recently used buckets if the table still exceeds maxBuckets.
// Runs at most once per cleanupInterval.
func (l *Limiter) cleanupLocked() {
	now := l.now()
	if now.Sub(l.lastCleanup) < cleanupInterval {
		return
	}
	l.lastCleanup = now

	before := len(l.buckets)
	for k, b := range l.buckets {
		if now.Sub(b.lastRefill) > 2*cleanupInterval {
			delete(l.buckets, k)
		}
	}

	if over := len(l.buckets) - maxBuckets; over > 0 {
		type entry struct {
			key    string
			access time.Time
		}
		entries := make([]entry, 0, len(l.buckets))
		for k, b := range l.buckets {
			entries = append(entries, entry{k, b.lastAccess})
		}
		sort.Slice(entries, func(i, j int) bool {
			return entries[i].access.Before(entries[j].access)
		})
		for _, e := range entries[:over] {
			delete(l.buckets, e.key)
		}
		slog.Warn("rate_limit_lru_eviction", slog.Int("evicted", over))
	}

	if removed := before - len(l.buckets); removed > 0 {
		slog.Info("rate_limit_cleanup", slog.Int("removed", removed))
	}
}
