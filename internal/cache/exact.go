// Redis-backed Cache implementation for deployments that share completion
// bodies across gateway replicas.
//
// Graceful degradation: when Redis is unavailable, Get reads as a miss
// and Set swallows the error, so a completion is never failed by the
// cache tier. Keys are not truncated or hashed — completion keys embed
// the full message JSON, and Redis handles large keys fine at the volume
// a gateway produces.

package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// cacheOpTimeout bounds each Redis round-trip. Completions take seconds
// upstream; a cache lookup that needs more than half a second is slower
// than useful.
const cacheOpTimeout = 500 * time.Millisecond

// ExactCache stores completion bodies in Redis under their exact
// completion key.
//
//   - Get returns (nil, false) on a miss or any Redis error.
//   - Set returns nil even on error.
//   - Delete returns the underlying error; eviction callers may log it.
type ExactCache struct {
	client       *redis.Client
	queryTimeout time.Duration
}

// NewExactCacheFromClient wraps an existing Redis client. The caller owns
// the client lifecycle; Close on the ExactCache closes it.
func NewExactCacheFromClient(redisCli *redis.Client) *ExactCache {
	return &ExactCache{client: redisCli, queryTimeout: cacheOpTimeout}
}

// NewExactCacheFromURL parses redisURL, creates a client and verifies the
// connection with a PING. A bad URL or failed ping is a startup error —
// degradation only applies once the gateway is serving.
func NewExactCacheFromURL(ctx context.Context, redisURL string) (*ExactCache, error) {
	if ctx == nil {
		return nil, fmt.Errorf("cache: context must not be nil")
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("cache: parse url: %w", err)
	}

	cli := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := cli.Ping(pingCtx).Err(); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("cache: ping: %w", err)
	}

	return &ExactCache{client: cli, queryTimeout: cacheOpTimeout}, nil
}

// Get retrieves the body cached under key. Redis errors other than a
// plain miss are logged at WARN and read as misses.
func (c *ExactCache) Get(ctx context.Context, key string) ([]byte, bool) {
	ctx, cancel := context.WithTimeout(ctx, c.queryTimeout)
	defer cancel()

	val, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.WarnContext(ctx, "cache_get_error",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
		return nil, false
	}

	return val, true
}

// Set stores value under key with the given TTL. Errors are logged, not
// returned: the completion has already been served by the time the body
// is cached.
func (c *ExactCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, c.queryTimeout)
	defer cancel()

	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		slog.WarnContext(ctx, "cache_set_error",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}

	return nil
}

// Delete removes key from Redis.
func (c *ExactCache) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, c.queryTimeout)
	defer cancel()

	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("cache: DEL %s: %w", key, err)
	}

	return nil
}

// Close releases the Redis connection pool.
func (c *ExactCache) Close() error {
	return c.client.Close()
}
