package metrics

import (
	"math"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

// Exporter mirrors a Collector onto a private Prometheus registry (not the
// global default) so gateway metrics don't interfere with host-level metrics
// when embedded in other applications. Every metric reads from the Collector
// at scrape time; there is no second set of counters to keep in sync.
type Exporter struct {
	reg     *prometheus.Registry
	handler fasthttp.RequestHandler
}

// NewExporter registers read-through metrics for c.
func NewExporter(c *Collector) *Exporter {
	reg := prometheus.NewRegistry()

	// Baseline runtime metrics even with a private registry.
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	counter := func(name, help string, read func(Snapshot) float64) prometheus.CounterFunc {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{Name: name, Help: help}, func() float64 {
			return read(c.Snapshot())
		})
	}
	gauge := func(name, help string, read func(Snapshot) float64) prometheus.GaugeFunc {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, func() float64 {
			return sanitizeGauge(read(c.Snapshot()))
		})
	}

	reg.MustRegister(
		counter("cache_hits_total", "Total response cache hits", func(s Snapshot) float64 {
			return float64(s.CacheHits)
		}),
		counter("cache_misses_total", "Total response cache misses", func(s Snapshot) float64 {
			return float64(s.CacheMisses)
		}),
		gauge("cache_hit_rate", "Cache hit rate percentage", func(s Snapshot) float64 {
			return s.CacheHitRate
		}),
		counter("waf_blocks_total", "Total requests blocked by the upstream WAF", func(s Snapshot) float64 {
			return float64(s.WAFBlocks)
		}),
		gauge("waf_block_rate", "WAF block rate percentage", func(s Snapshot) float64 {
			return s.WAFBlockRate
		}),
		counter("arkose_solves_total", "Total arkose challenges solved", func(s Snapshot) float64 {
			return float64(s.ArkoseSolves)
		}),
		gauge("arkose_solve_time_ms", "Average arkose solve time in milliseconds", func(s Snapshot) float64 {
			return s.AvgArkoseMs
		}),
		counter("requests_total", "Total requests handled", func(s Snapshot) float64 {
			return float64(s.TotalRequests)
		}),
		counter("requests_failed_total", "Total failed requests", func(s Snapshot) float64 {
			return float64(s.FailedRequests)
		}),
		gauge("request_success_rate", "Request success rate percentage", func(s Snapshot) float64 {
			return s.SuccessRate
		}),
		gauge("request_latency_ms", "Average request latency in milliseconds", func(s Snapshot) float64 {
			return s.AvgLatencyMs
		}),
		gauge("request_latency_p50_ms", "Request latency p50 in milliseconds", func(s Snapshot) float64 {
			return s.LatencyP50Ms
		}),
		gauge("request_latency_p95_ms", "Request latency p95 in milliseconds", func(s Snapshot) float64 {
			return s.LatencyP95Ms
		}),
		gauge("request_latency_p99_ms", "Request latency p99 in milliseconds", func(s Snapshot) float64 {
			return s.LatencyP99Ms
		}),
	)

	h := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	return &Exporter{
		reg:     reg,
		handler: fasthttpadaptor.NewFastHTTPHandler(h),
	}
}

// Handler serves the text exposition format.
func (e *Exporter) Handler() fasthttp.RequestHandler {
	return e.handler
}

// PromRegistry exposes the underlying registry for extra collectors.
func (e *Exporter) PromRegistry() *prometheus.Registry { return e.reg }

// sanitizeGauge clamps values Prometheus clients choke on.
func sanitizeGauge(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}
