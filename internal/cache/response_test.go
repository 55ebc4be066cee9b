package cache

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"
)

func newResponseCache(t *testing.T, ttl time.Duration, enabled bool) *ResponseCache {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return NewResponseCache(NewMemoryCache(ctx), ttl, enabled)
}

func TestCompletionKey_Canonical(t *testing.T) {
	type msg struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	a := CompletionKey("gemini-2.0-flash", []msg{{Role: "user", Content: "hi"}})
	b := CompletionKey("gemini-2.0-flash", []msg{{Role: "user", Content: "hi"}})
	c := CompletionKey("gemini-1.5-pro", []msg{{Role: "user", Content: "hi"}})

	if a != b {
		t.Error("identical requests must produce identical keys")
	}
	if a == c {
		t.Error("different models must produce different keys")
	}
	if !strings.HasPrefix(a, "gemini-2.0-flash:") {
		t.Errorf("key should start with the model name, got %q", a)
	}
}

func TestResponseCache_SetAndGet(t *testing.T) {
	c := newResponseCache(t, time.Hour, true)
	ctx := context.Background()

	c.Set(ctx, "k1", []byte(`{"id":"chatcmpl-1"}`))
	got, ok := c.Get(ctx, "k1")
	if !ok {
		t.Fatal("expected hit")
	}
	if string(got) != `{"id":"chatcmpl-1"}` {
		t.Errorf("unexpected body %q", got)
	}
}

func TestResponseCache_ExpiredEntryIsMissAndRemoved(t *testing.T) {
	c := newResponseCache(t, time.Hour, true)
	ctx := context.Background()

	c.Set(ctx, "k1", []byte("body"))

	// Age the entry past its TTL.
	c.mu.Lock()
	e := c.index["k1"]
	e.cachedAt = time.Now().Add(-2 * time.Hour)
	c.index["k1"] = e
	c.mu.Unlock()

	if _, ok := c.Get(ctx, "k1"); ok {
		t.Fatal("expired entry should read as a miss")
	}
	if s := c.Stats(); s.Total != 0 {
		t.Errorf("expired entry should have been swept, stats=%+v", s)
	}
}

func TestResponseCache_Disabled(t *testing.T) {
	c := newResponseCache(t, time.Hour, false)
	ctx := context.Background()

	c.Set(ctx, "k1", []byte("body"))
	if _, ok := c.Get(ctx, "k1"); ok {
		t.Fatal("disabled cache must always miss")
	}
	if s := c.Stats(); s.Enabled || s.Total != 0 {
		t.Errorf("disabled cache stats should be empty, got %+v", s)
	}
}

func TestResponseCache_EvictsExpiredBeforeOldest(t *testing.T) {
	c := newResponseCache(t, time.Hour, true)
	ctx := context.Background()

	for i := 0; i < MaxEntries; i++ {
		c.Set(ctx, fmt.Sprintf("k%d", i), []byte("v"))
	}

	// Mark one entry expired; the next Set should evict it instead of a
	// live one.
	c.mu.Lock()
	e := c.index["k0"]
	e.cachedAt = time.Now().Add(-2 * time.Hour)
	c.index["k0"] = e
	c.mu.Unlock()

	c.Set(ctx, "overflow", []byte("v"))

	c.mu.Lock()
	_, expiredPresent := c.index["k0"]
	_, overflowPresent := c.index["overflow"]
	total := len(c.index)
	c.mu.Unlock()

	if expiredPresent {
		t.Error("expired entry should have been evicted first")
	}
	if !overflowPresent {
		t.Error("new entry should be present")
	}
	if total > MaxEntries {
		t.Errorf("cache exceeded cap: %d", total)
	}
}

func TestResponseCache_EvictsOldestWhenNoneExpired(t *testing.T) {
	c := newResponseCache(t, time.Hour, true)
	ctx := context.Background()

	for i := 0; i < MaxEntries; i++ {
		c.Set(ctx, fmt.Sprintf("k%d", i), []byte("v"))
	}

	// Make k7 the clear oldest.
	c.mu.Lock()
	e := c.index["k7"]
	e.cachedAt = time.Now().Add(-30 * time.Minute)
	c.index["k7"] = e
	c.mu.Unlock()

	c.Set(ctx, "overflow", []byte("v"))

	c.mu.Lock()
	_, oldestPresent := c.index["k7"]
	c.mu.Unlock()

	if oldestPresent {
		t.Error("oldest live entry should have been evicted")
	}
}

func TestResponseCache_Stats(t *testing.T) {
	c := newResponseCache(t, time.Hour, true)
	ctx := context.Background()

	c.Set(ctx, "live", []byte("v"))
	c.Set(ctx, "stale", []byte("v"))

	c.mu.Lock()
	e := c.index["stale"]
	e.cachedAt = time.Now().Add(-2 * time.Hour)
	c.index["stale"] = e
	c.mu.Unlock()

	s := c.Stats()
	if s.Total != 2 || s.Active != 1 || s.Expired != 1 || !s.Enabled {
		t.Errorf("unexpected stats %+v", s)
	}
}
