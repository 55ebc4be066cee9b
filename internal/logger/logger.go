// Package logger implements a non-blocking, batched request-audit logger.
//
// Audit entries are written to an internal buffered channel and flushed in
// batches by a background goroutine, so logging never blocks the proxy hot
// path. If the channel fills up (> 10 000 entries), new entries are dropped
// and counted in DroppedLogs.
//
// Entries are persisted to ClickHouse when a DSN is configured; without one
// they are emitted through slog instead.
package logger

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/google/uuid"
)

const (
	channelBuffer = 10_000
	batchSize     = 100
	flushInterval = time.Second

	insertQuery = "INSERT INTO gateway_request_logs (request_id, provider, model, status, duration_ms, stream, cache_hit, created_at)"
)

// RequestLog is one per-request audit record.
type RequestLog struct {
	RequestID  uuid.UUID
	Provider   string
	Model      string
	Status     uint16
	DurationMs uint32
	Stream     bool
	CacheHit   bool
	CreatedAt  time.Time
}

// sink persists one flushed batch.
type sink interface {
	write(ctx context.Context, batch []RequestLog) error
	close() error
}

// Logger fans audit records from the hot path to the configured sink.
type Logger struct {
	ch        chan RequestLog
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	droppedLogs int64

	baseCtx context.Context
	out     sink
	log     *slog.Logger
}

// New creates a Logger. dsn selects the sink: a ClickHouse DSN
// (clickhouse://...) enables batched inserts into gateway_request_logs; an
// empty dsn falls back to structured slog output.
func New(ctx context.Context, dsn string, slogger *slog.Logger) (*Logger, error) {
	if ctx == nil {
		return nil, fmt.Errorf("logger: context must not be nil")
	}
	if slogger == nil {
		slogger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}

	var out sink
	if dsn == "" {
		out = &slogSink{log: slogger}
	} else {
		if err := validateDSN(dsn); err != nil {
			return nil, err
		}
		opts, err := clickhouse.ParseDSN(dsn)
		if err != nil {
			return nil, fmt.Errorf("logger: parse clickhouse dsn: %w", err)
		}
		conn, err := clickhouse.Open(opts)
		if err != nil {
			return nil, fmt.Errorf("logger: open clickhouse: %w", err)
		}
		out = &clickhouseSink{conn: conn}
	}

	l := &Logger{
		ch:      make(chan RequestLog, channelBuffer),
		done:    make(chan struct{}),
		baseCtx: ctx,
		out:     out,
		log:     slogger,
	}

	l.wg.Add(1)
	go l.run()

	return l, nil
}

// validateDSN rejects schemes the ClickHouse driver silently accepts but
// cannot actually speak.
func validateDSN(dsn string) error {
	u, err := url.Parse(dsn)
	if err != nil {
		return fmt.Errorf("logger: parse clickhouse dsn: %w", err)
	}
	switch u.Scheme {
	case "clickhouse", "tcp", "http", "https":
		return nil
	default:
		return fmt.Errorf("logger: unsupported clickhouse dsn scheme %q", u.Scheme)
	}
}

// Log enqueues an audit record. Never blocks; drops when the buffer is full.
func (l *Logger) Log(entry RequestLog) {
	select {
	case l.ch <- entry:
	default:
		atomic.AddInt64(&l.droppedLogs, 1)
	}
}

// DroppedLogs returns how many records were discarded on a full buffer.
func (l *Logger) DroppedLogs() int64 {
	return atomic.LoadInt64(&l.droppedLogs)
}

// Close drains the buffer, flushes the final batch, and releases the sink.
func (l *Logger) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)
	})
	l.wg.Wait()
	return l.out.close()
}

func (l *Logger) run() {
	defer l.wg.Done()

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]RequestLog, 0, batchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := l.out.write(l.baseCtx, batch); err != nil {
			l.log.Error("audit_flush_failed",
				slog.String("error", err.Error()),
				slog.Int("batch_size", len(batch)),
			)
		}
		batch = batch[:0]
	}

	for {
		select {
		case entry := <-l.ch:
			batch = append(batch, entry)
			if len(batch) >= batchSize {
				flush()
			}

		case <-ticker.C:
			flush()

		case <-l.done:
			for {
				select {
				case entry := <-l.ch:
					batch = append(batch, entry)
					if len(batch) >= batchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

// clickhouseSink batches inserts into gateway_request_logs.
type clickhouseSink struct {
	conn driver.Conn
}

func (s *clickhouseSink) write(ctx context.Context, entries []RequestLog) error {
	batch, err := s.conn.PrepareBatch(ctx, insertQuery)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := batch.Append(
			e.RequestID,
			e.Provider,
			e.Model,
			e.Status,
			e.DurationMs,
			e.Stream,
			e.CacheHit,
			normalizeTime(e.CreatedAt),
		); err != nil {
			return err
		}
	}
	return batch.Send()
}

func (s *clickhouseSink) close() error { return s.conn.Close() }

// slogSink emits each record as a structured log line.
type slogSink struct {
	log *slog.Logger
}

func (s *slogSink) write(ctx context.Context, entries []RequestLog) error {
	for _, e := range entries {
		s.log.InfoContext(ctx, "request_audit",
			slog.String("request_id", e.RequestID.String()),
			slog.String("provider", e.Provider),
			slog.String("model", e.Model),
			slog.Uint64("status", uint64(e.Status)),
			slog.Uint64("duration_ms", uint64(e.DurationMs)),
			slog.Bool("stream", e.Stream),
			slog.Bool("cache_hit", e.CacheHit),
			slog.Time("created_at", normalizeTime(e.CreatedAt)),
		)
	}
	return nil
}

func (s *slogSink) close() error { return nil }

func normalizeTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
