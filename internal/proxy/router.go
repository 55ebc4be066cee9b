package proxy

import (
	"encoding/json"
	"time"

	"github.com/fasthttp/router"
	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/ai-gateway/internal/metrics"
	"github.com/nulpointcorp/ai-gateway/internal/providers"
)

// ServerOptions configures the HTTP surface around the Gateway.
type ServerOptions struct {
	// Version is reported in the API-Version header and the health payload.
	Version string

	// MasterKey + RequireAuth enable bearer authentication on everything
	// except /health.
	MasterKey   string
	RequireAuth bool

	// CORSOrigins passed to the CORS middleware. Empty means "*".
	CORSOrigins []string

	// MaxRequestBodySize caps POST bodies. Zero uses the fasthttp default.
	MaxRequestBodySize int

	// Health serves GET /health when set.
	Health *HealthChecker

	// Exporter serves GET /metrics/prometheus when set.
	Exporter *metrics.Exporter
}

// Handler builds the full routed and middleware-wrapped request handler.
// Exposed separately from Start so tests can drive it in-process.
func (g *Gateway) Handler(opts ServerOptions) fasthttp.RequestHandler {
	r := router.New()

	r.POST("/v1/chat/completions", g.handleChatCompletions)
	r.GET("/v1/models", g.handleModels)
	r.GET("/health", handleHealth(opts.Health, opts.Version))
	r.GET("/metrics", g.handleMetrics)
	if opts.Exporter != nil {
		r.GET("/metrics/prometheus", opts.Exporter.Handler())
	}

	version := opts.Version
	if version == "" {
		version = "dev"
	}

	return applyMiddleware(r.Handler,
		recovery,
		requestID,
		timing,
		apiVersion(version),
		bearerAuth(opts.MasterKey, opts.RequireAuth),
		corsHandler(opts.CORSOrigins),
		securityHeaders,
	)
}

// Start serves the gateway on addr until the listener fails.
func (g *Gateway) Start(addr string, opts ServerOptions) error {
	srv := &fasthttp.Server{
		Handler:            g.Handler(opts),
		Name:               "ai-gateway",
		ReadTimeout:        60 * time.Second,
		WriteTimeout:       120 * time.Second,
		MaxRequestBodySize: opts.MaxRequestBodySize,
	}
	return srv.ListenAndServe(addr)
}

// handleHealth serves the component health snapshot. Responses carry
// no-cache headers so load balancers always see fresh state; a degraded
// snapshot is served with 503.
func handleHealth(hc *HealthChecker, version string) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		ctx.Response.Header.Set("Cache-Control", "no-cache, no-store, must-revalidate")
		ctx.Response.Header.Set("Pragma", "no-cache")

		if hc == nil {
			writeJSON(ctx, HealthSnapshot{
				Status:    "ok",
				Version:   version,
				Timestamp: time.Now().UTC().Format(time.RFC3339),
			})
			return
		}

		snap := hc.Snapshot()
		if snap.Status != "ok" {
			ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
		}
		writeJSON(ctx, snap)
	}
}

// handleMetrics serves the JSON counters snapshot.
func (g *Gateway) handleMetrics(ctx *fasthttp.RequestCtx) {
	if g.metrics == nil {
		writeJSON(ctx, metrics.Snapshot{})
		return
	}
	writeJSON(ctx, g.metrics.Snapshot())
}

type modelEntry struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by"`
}

type modelList struct {
	Object string       `json:"object"`
	Data   []modelEntry `json:"data"`
}

// handleModels lists the advertised models for every registered provider.
func (g *Gateway) handleModels(ctx *fasthttp.RequestCtx) {
	list := modelList{Object: "list", Data: []modelEntry{}}
	for _, tag := range g.registry.Tags() {
		for _, id := range providers.DefaultModels[tag] {
			list.Data = append(list.Data, modelEntry{
				ID:      id,
				Object:  "model",
				OwnedBy: tag,
			})
		}
	}
	writeJSON(ctx, list)
}

func writeJSON(ctx *fasthttp.RequestCtx, v any) {
	ctx.SetContentType("application/json")
	data, _ := json.Marshal(v)
	ctx.SetBody(data)
}
