// Package metrics tracks gateway-wide counters and latency samples.
//
// A single Collector instance is shared by the handler, the providers and
// the token harvester path. Derived rates and percentiles are computed on
// demand via Snapshot; the same collector also backs the Prometheus
// exposition in prometheus.go.
package metrics

import (
	"math"
	"sort"
	"sync"
	"time"
)

const (
	// maxArkoseSamples bounds the arkose solve-time window.
	maxArkoseSamples = 100
	// maxDurationSamples bounds the request latency window.
	maxDurationSamples = 1000
)

// Collector accumulates counters and bounded FIFO sample windows.
// Safe for concurrent use.
type Collector struct {
	mu sync.Mutex

	cacheHits      uint64
	cacheMisses    uint64
	wafBlocks      uint64
	arkoseSolves   uint64
	totalRequests  uint64
	failedRequests uint64

	arkoseTimesMs  []float64
	requestTimesMs []float64
}

// Snapshot is a point-in-time view of all counters and derived values.
// Rates are percentages in [0, 100].
type Snapshot struct {
	CacheHits      uint64  `json:"cache_hits"`
	CacheMisses    uint64  `json:"cache_misses"`
	CacheHitRate   float64 `json:"cache_hit_rate"`
	WAFBlocks      uint64  `json:"waf_blocks"`
	WAFBlockRate   float64 `json:"waf_block_rate"`
	ArkoseSolves   uint64  `json:"arkose_solves"`
	AvgArkoseMs    float64 `json:"avg_arkose_solve_time_ms"`
	TotalRequests  uint64  `json:"total_requests"`
	FailedRequests uint64  `json:"failed_requests"`
	SuccessRate    float64 `json:"success_rate"`
	AvgLatencyMs   float64 `json:"avg_latency_ms"`
	LatencyP50Ms   float64 `json:"latency_p50_ms"`
	LatencyP95Ms   float64 `json:"latency_p95_ms"`
	LatencyP99Ms   float64 `json:"latency_p99_ms"`
}

// NewCollector creates an empty Collector.
func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) RecordCacheHit() {
	c.mu.Lock()
	c.cacheHits++
	c.mu.Unlock()
}

func (c *Collector) RecordCacheMiss() {
	c.mu.Lock()
	c.cacheMisses++
	c.mu.Unlock()
}

func (c *Collector) RecordWAFBlock() {
	c.mu.Lock()
	c.wafBlocks++
	c.mu.Unlock()
}

// RecordArkoseSolve counts one arkose challenge solve and samples its
// duration. The oldest sample is dropped once the window is full.
func (c *Collector) RecordArkoseSolve(d time.Duration) {
	c.mu.Lock()
	c.arkoseSolves++
	c.arkoseTimesMs = appendBounded(c.arkoseTimesMs, float64(d.Milliseconds()), maxArkoseSamples)
	c.mu.Unlock()
}

// RecordRequest counts one completed request.
func (c *Collector) RecordRequest(success bool) {
	c.mu.Lock()
	c.totalRequests++
	if !success {
		c.failedRequests++
	}
	c.mu.Unlock()
}

// RecordRequestDuration samples one end-to-end request latency.
func (c *Collector) RecordRequestDuration(d time.Duration) {
	c.mu.Lock()
	c.requestTimesMs = appendBounded(c.requestTimesMs, float64(d.Milliseconds()), maxDurationSamples)
	c.mu.Unlock()
}

// Snapshot computes all derived values under one lock acquisition.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{
		CacheHits:      c.cacheHits,
		CacheMisses:    c.cacheMisses,
		WAFBlocks:      c.wafBlocks,
		ArkoseSolves:   c.arkoseSolves,
		TotalRequests:  c.totalRequests,
		FailedRequests: c.failedRequests,
	}

	if lookups := c.cacheHits + c.cacheMisses; lookups > 0 {
		s.CacheHitRate = 100 * float64(c.cacheHits) / float64(lookups)
	}
	if c.totalRequests > 0 {
		s.WAFBlockRate = 100 * float64(c.wafBlocks) / float64(c.totalRequests)
		s.SuccessRate = 100 * float64(c.totalRequests-c.failedRequests) / float64(c.totalRequests)
	} else {
		// No traffic yet reads as fully healthy.
		s.SuccessRate = 100
	}

	s.AvgArkoseMs = mean(c.arkoseTimesMs)
	s.AvgLatencyMs = mean(c.requestTimesMs)
	s.LatencyP50Ms = percentile(c.requestTimesMs, 50)
	s.LatencyP95Ms = percentile(c.requestTimesMs, 95)
	s.LatencyP99Ms = percentile(c.requestTimesMs, 99)
	return s
}

func appendBounded(samples []float64, v float64, max int) []float64 {
	samples = append(samples, v)
	if len(samples) > max {
		samples = samples[1:]
	}
	return samples
}

func mean(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, v := range samples {
		sum += v
	}
	return sum / float64(len(samples))
}

// percentile uses the nearest-rank index ceil((n-1)*p/100) on a sorted
// copy, clamped to the last sample.
func percentile(samples []float64, p float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)

	idx := int(math.Ceil(float64(len(sorted)-1) * p / 100))
	if idx > len(sorted)-1 {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
