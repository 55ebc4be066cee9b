package cache

import (
	"context"
	"time"
)

// Cache is the body store behind ResponseCache. Get reports a miss as
// (nil, false); backend failures also read as misses so a flaky Redis
// never fails a completion.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
