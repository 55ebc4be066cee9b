package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

// captureLogger returns a slog.Logger writing JSON lines into buf.
func captureLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func TestLogger_SlogFallbackFlushOnClose(t *testing.T) {
	var mu sync.Mutex
	buf := &bytes.Buffer{}
	syncBuf := &lockedWriter{mu: &mu, buf: buf}

	l, err := New(context.Background(), "", slog.New(slog.NewJSONHandler(syncBuf, nil)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	id := uuid.New()
	l.Log(RequestLog{
		RequestID:  id,
		Provider:   "vertex",
		Model:      "gemini-2.0-flash",
		Status:     200,
		DurationMs: 42,
		Stream:     false,
		CacheHit:   true,
	})

	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	mu.Lock()
	out := buf.String()
	mu.Unlock()

	for _, want := range []string{
		"request_audit",
		id.String(),
		`"provider":"vertex"`,
		`"model":"gemini-2.0-flash"`,
		`"status":200`,
		`"duration_ms":42`,
		`"cache_hit":true`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestLogger_PeriodicFlush(t *testing.T) {
	var mu sync.Mutex
	buf := &bytes.Buffer{}
	syncBuf := &lockedWriter{mu: &mu, buf: buf}

	l, err := New(context.Background(), "", slog.New(slog.NewJSONHandler(syncBuf, nil)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer l.Close()

	l.Log(RequestLog{RequestID: uuid.New(), Provider: "openai", Model: "gpt-4o", Status: 200})

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		flushed := strings.Contains(buf.String(), "request_audit")
		mu.Unlock()
		if flushed {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("entry was not flushed by the periodic ticker")
}

func TestLogger_DropsWhenBufferFull(t *testing.T) {
	// A cancelled parent context does not matter here; the channel simply
	// never drains because we stop the worker before logging.
	l, err := New(context.Background(), "", captureLogger(&bytes.Buffer{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// With the worker stopped, fill the channel and overflow it.
	for i := 0; i < channelBuffer+5; i++ {
		l.Log(RequestLog{RequestID: uuid.New()})
	}

	if got := l.DroppedLogs(); got != 5 {
		t.Errorf("DroppedLogs = %d, want 5", got)
	}
}

func TestLogger_CloseIsIdempotent(t *testing.T) {
	l, err := New(context.Background(), "", captureLogger(&bytes.Buffer{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestLogger_BadDSN(t *testing.T) {
	// The driver's ParseDSN accepts arbitrary schemes; the scheme check
	// has to reject them before a connection is even attempted.
	for _, dsn := range []string{
		"ftp://localhost:9000/logs",
		"redis://localhost:6379/0",
		"not a dsn at all\x7f://",
	} {
		if _, err := New(context.Background(), dsn, nil); err == nil {
			t.Errorf("dsn %q: expected an error", dsn)
		}
	}
}

func TestNormalizeTime(t *testing.T) {
	if normalizeTime(time.Time{}).IsZero() {
		t.Error("zero time should be replaced with now")
	}

	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.FixedZone("UTC+3", 3*3600))
	got := normalizeTime(ts)
	if got.Location() != time.UTC {
		t.Errorf("expected UTC, got %v", got.Location())
	}
	if !got.Equal(ts) {
		t.Error("normalization must not change the instant")
	}
}

// lockedWriter serializes writes against test-side reads.
type lockedWriter struct {
	mu  *sync.Mutex
	buf *bytes.Buffer
}

func (w *lockedWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}
