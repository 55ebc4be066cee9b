// Package proxy is the core request dispatcher.
//
// The Gateway receives an incoming OpenAI-compatible request, routes it to a
// provider by model prefix, and applies rate limiting, response caching, and
// per-provider circuit breaking on the way. Streaming responses are relayed
// as Server-Sent Events; they are never cached.
//
// Rate limiter, response cache, metrics, and the audit logger are all
// optional and nil-safe so tests can construct a minimal Gateway.
package proxy

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/ai-gateway/internal/cache"
	"github.com/nulpointcorp/ai-gateway/internal/logger"
	"github.com/nulpointcorp/ai-gateway/internal/metrics"
	"github.com/nulpointcorp/ai-gateway/internal/providers"
	"github.com/nulpointcorp/ai-gateway/internal/ratelimit"
	"github.com/nulpointcorp/ai-gateway/pkg/apierr"
)

const (
	xCacheHIT  = "HIT"
	xCacheMISS = "MISS"

	// defaultKeepAliveInterval is how long a stream may sit idle before a
	// keep-alive comment is written to hold the connection open.
	defaultKeepAliveInterval = 15 * time.Second
)

// GatewayOptions holds optional Gateway dependencies. Every field may be
// left zero; the Gateway degrades to plain routing.
type GatewayOptions struct {
	// Logger is the structured logger for request events. Defaults to
	// slog.Default().
	Logger *slog.Logger

	// CBConfig tunes the per-provider circuit breakers. Zero values use the
	// package defaults.
	CBConfig CBConfig

	// Limiter enforces per-client token-bucket rate limits. Nil disables
	// rate limiting.
	Limiter *ratelimit.Limiter

	// ResponseCache serves repeated non-streaming completions. Nil or
	// disabled caches are bypassed.
	ResponseCache *cache.ResponseCache

	// Exclusions lists models whose responses must never be cached.
	Exclusions *cache.ExclusionList

	// Metrics receives request/cache counters. Nil disables collection.
	Metrics *metrics.Collector

	// Audit receives one RequestLog per finished request. Nil disables
	// audit logging.
	Audit *logger.Logger

	// KeepAliveInterval is the idle gap after which a streaming response
	// gets a keep-alive comment. Zero uses the package default.
	KeepAliveInterval time.Duration
}

// Gateway dispatches /v1/chat/completions to the registered providers.
type Gateway struct {
	registry *providers.Registry
	cb       *CircuitBreaker
	baseCtx  context.Context
	log      *slog.Logger

	limiter    *ratelimit.Limiter
	respCache  *cache.ResponseCache
	exclusions *cache.ExclusionList
	metrics    *metrics.Collector
	audit      *logger.Logger
	keepAlive  time.Duration
}

// NewGateway creates a Gateway over the given provider registry.
func NewGateway(baseCtx context.Context, reg *providers.Registry, opts GatewayOptions) *Gateway {
	if baseCtx == nil {
		panic("gateway: context must not be nil")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	keepAlive := opts.KeepAliveInterval
	if keepAlive <= 0 {
		keepAlive = defaultKeepAliveInterval
	}
	return &Gateway{
		registry:   reg,
		cb:         NewCircuitBreakerWithConfig(opts.CBConfig),
		baseCtx:    baseCtx,
		log:        log,
		limiter:    opts.Limiter,
		respCache:  opts.ResponseCache,
		exclusions: opts.Exclusions,
		metrics:    opts.Metrics,
		audit:      opts.Audit,
		keepAlive:  keepAlive,
	}
}

// CircuitState returns the breaker state label for a provider tag.
func (g *Gateway) CircuitState(tag string) string {
	return g.cb.StateLabel(tag)
}

// handleChatCompletions serves POST /v1/chat/completions.
func (g *Gateway) handleChatCompletions(ctx *fasthttp.RequestCtx) {
	start := time.Now()
	reqID, _ := ctx.UserValue("request_id").(string)

	// 1. Parse and validate the body.
	var req providers.ChatCompletionRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		apierr.WriteStatus(ctx, fasthttp.StatusBadRequest,
			fmt.Sprintf("invalid JSON: %s", err.Error()))
		return
	}
	if err := req.Validate(); err != nil {
		apierr.WriteStatus(ctx, fasthttp.StatusBadRequest, err.Error())
		return
	}

	// 2. Route by model prefix.
	prov, tag := g.registry.RouteByModel(req.Model)
	if prov == nil {
		apierr.WriteStatus(ctx, fasthttp.StatusBadRequest,
			"Unsupported model: "+req.Model)
		return
	}

	g.log.Info("chat_request",
		slog.String("request_id", reqID),
		slog.String("model", req.Model),
		slog.String("provider", tag),
		slog.Bool("stream", req.Stream),
	)

	// 3. Rate limit. The X-RateLimit-* headers go on every proxied
	// response, including 429s and cache hits.
	if g.limiter != nil {
		key := ratelimit.KeyFromRequest(ctx)
		allowed := g.limiter.Check(key)
		setRateLimitHeaders(ctx, g.limiter.GetInfo(key))
		if !allowed {
			g.log.Warn("rate_limit_exceeded",
				slog.String("request_id", reqID),
				slog.String("key", key),
			)
			apierr.WriteRateLimit(ctx)
			g.finish(ctx, reqID, tag, &req, start, false, false)
			return
		}
	}

	// 4. Cache lookup. Streaming responses and excluded models bypass the
	// cache entirely, without touching hit/miss counters.
	cacheKey := ""
	cacheEligible := !req.Stream && g.respCache.Enabled() &&
		(g.exclusions == nil || !g.exclusions.Matches(req.Model))
	if cacheEligible {
		cacheKey = cache.CompletionKey(req.Model, req.Messages)
		if body, ok := g.respCache.Get(ctx, cacheKey); ok {
			if g.metrics != nil {
				g.metrics.RecordCacheHit()
			}
			g.log.Debug("cache_hit",
				slog.String("request_id", reqID),
				slog.String("model", req.Model),
			)
			ctx.Response.Header.Set("X-Cache", xCacheHIT)
			ctx.SetStatusCode(fasthttp.StatusOK)
			ctx.SetContentType("application/json")
			ctx.SetBody(body)
			g.finish(ctx, reqID, tag, &req, start, true, true)
			return
		}
		if g.metrics != nil {
			g.metrics.RecordCacheMiss()
		}
	}

	// 5. Circuit breaker gate.
	if !g.cb.Allow(tag) {
		g.log.Warn("circuit_open",
			slog.String("request_id", reqID),
			slog.String("provider", tag),
		)
		g.writeProviderError(ctx, reqID, tag, providers.ErrCircuitOpen)
		g.finish(ctx, reqID, tag, &req, start, false, false)
		return
	}

	if req.Stream {
		g.streamCompletion(ctx, &req, prov, tag, reqID, start)
		return
	}

	// 6. Unary upstream call.
	provCtx, cancel := context.WithTimeout(g.baseCtx, providers.UnaryTimeout)
	defer cancel()

	resp, err := prov.Execute(provCtx, &req, reqID)
	if err != nil {
		g.cb.RecordFailure(tag)
		g.writeProviderError(ctx, reqID, tag, err)
		g.finish(ctx, reqID, tag, &req, start, false, false)
		return
	}
	g.cb.RecordSuccess(tag)

	// Providers that cannot observe token counts (bridge, backend) leave
	// Usage unset; clients still get a usage object with zeros.
	if resp.Usage == nil {
		resp.Usage = &providers.Usage{}
	}

	body, err := json.Marshal(resp)
	if err != nil {
		apierr.WriteStatus(ctx, fasthttp.StatusInternalServerError,
			"failed to serialize response")
		g.finish(ctx, reqID, tag, &req, start, false, false)
		return
	}

	// 7. Populate the cache for identical future requests.
	if cacheEligible {
		g.respCache.Set(ctx, cacheKey, body)
	}

	g.log.Debug("response_ok",
		slog.String("request_id", reqID),
		slog.String("provider", tag),
		slog.String("model", req.Model),
		slog.Int("output_tokens", resp.Usage.CompletionTokens),
		slog.Duration("elapsed", time.Since(start)),
	)

	if cacheEligible {
		ctx.Response.Header.Set("X-Cache", xCacheMISS)
	}
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
	g.finish(ctx, reqID, tag, &req, start, true, false)
}

// streamCompletion relays provider frames as Server-Sent Events. The
// upstream context outlives the handler (fasthttp runs the body writer after
// the handler returns), so it derives from baseCtx and is cancelled when the
// stream drains.
func (g *Gateway) streamCompletion(
	ctx *fasthttp.RequestCtx,
	req *providers.ChatCompletionRequest,
	prov providers.Provider,
	tag, reqID string,
	start time.Time,
) {
	provCtx, cancel := context.WithTimeout(g.baseCtx, providers.StreamTimeout)

	frames, err := prov.ExecuteStream(provCtx, req, reqID)
	if err != nil {
		cancel()
		g.cb.RecordFailure(tag)
		g.writeProviderError(ctx, reqID, tag, err)
		g.finish(ctx, reqID, tag, req, start, false, false)
		return
	}

	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetContentType("text/event-stream")
	ctx.Response.Header.Set("Cache-Control", "no-cache")
	ctx.Response.Header.Set("Connection", "keep-alive")
	ctx.Response.Header.Set("X-Accel-Buffering", "no")

	ctx.SetBodyStreamWriter(func(w *bufio.Writer) {
		defer cancel()
		defer func() { recover() }() // client disconnects surface as write panics

		// Some upstreams go quiet for long stretches mid-generation;
		// comments keep proxies and clients from timing the stream out.
		ticker := time.NewTicker(g.keepAlive)
		defer ticker.Stop()

		failed := false
	relay:
		for {
			select {
			case frame, ok := <-frames:
				if !ok {
					break relay
				}
				if frame.Err != nil {
					failed = true
					status := fasthttp.StatusBadGateway
					var sc providers.StatusCoder
					if errors.As(frame.Err, &sc) {
						status = sc.HTTPStatus()
					}
					g.log.Error("stream_error",
						slog.String("request_id", reqID),
						slog.String("provider", tag),
						slog.String("error", frame.Err.Error()),
					)
					fmt.Fprintf(w, "data: %s\n\n", apierr.Body(status, frame.Err.Error()))
					w.Flush()
					break relay
				}
				writeFrame(w, frame.Data)
				w.Flush()
				ticker.Reset(g.keepAlive)
			case <-ticker.C:
				fmt.Fprint(w, ": keep-alive\n\n")
				w.Flush()
			}
		}

		if !failed {
			fmt.Fprint(w, "data: [DONE]\n\n")
			w.Flush()
			g.cb.RecordSuccess(tag)
		} else {
			g.cb.RecordFailure(tag)
		}

		status := fasthttp.StatusOK
		if failed {
			status = fasthttp.StatusBadGateway
		}
		g.record(reqID, tag, req, status, time.Since(start), !failed, false)
	})
}

// writeFrame renders one provider frame as an SSE event:
//
//	empty          → keep-alive comment
//	JSON object    → data event (a serialized chunk)
//	"[DONE]"       → skipped; the terminal marker is written once at drain
//	anything else  → comment, so malformed upstream text cannot break the
//	                 client's event parser
func writeFrame(w *bufio.Writer, data string) {
	switch {
	case data == "":
		fmt.Fprint(w, ": keep-alive\n\n")
	case data == "[DONE]":
	case strings.HasPrefix(data, "{"):
		fmt.Fprintf(w, "data: %s\n\n", data)
	default:
		fmt.Fprintf(w, ": %s\n\n", strings.ReplaceAll(data, "\n", " "))
	}
}

// writeProviderError maps a provider failure to an HTTP error response.
func (g *Gateway) writeProviderError(ctx *fasthttp.RequestCtx, reqID, tag string, err error) {
	g.log.Error("provider_error",
		slog.String("request_id", reqID),
		slog.String("provider", tag),
		slog.String("error", err.Error()),
	)

	var sc providers.StatusCoder
	if errors.As(err, &sc) {
		apierr.WriteStatus(ctx, sc.HTTPStatus(), err.Error())
		return
	}
	if errors.Is(err, context.DeadlineExceeded) {
		apierr.WriteStatus(ctx, fasthttp.StatusGatewayTimeout, "upstream timeout")
		return
	}
	apierr.WriteStatus(ctx, fasthttp.StatusBadGateway, err.Error())
}

// finish records metrics and the audit entry using the status already set on
// the response. Call it after the response body is final; for streaming the
// stream writer calls record directly instead.
func (g *Gateway) finish(
	ctx *fasthttp.RequestCtx,
	reqID, tag string,
	req *providers.ChatCompletionRequest,
	start time.Time,
	success, cacheHit bool,
) {
	status := ctx.Response.StatusCode()
	g.record(reqID, tag, req, status, time.Since(start), success, cacheHit)
}

func (g *Gateway) record(
	reqID, tag string,
	req *providers.ChatCompletionRequest,
	status int,
	elapsed time.Duration,
	success, cacheHit bool,
) {
	if g.metrics != nil {
		g.metrics.RecordRequest(success)
		g.metrics.RecordRequestDuration(elapsed)
	}
	if g.audit == nil {
		return
	}
	id, _ := uuid.Parse(reqID)
	ms := elapsed.Milliseconds()
	if ms > int64(^uint32(0)) {
		ms = int64(^uint32(0))
	}
	g.audit.Log(logger.RequestLog{
		RequestID:  id,
		Provider:   tag,
		Model:      req.Model,
		Status:     uint16(status),
		DurationMs: uint32(ms),
		Stream:     req.Stream,
		CacheHit:   cacheHit,
		CreatedAt:  time.Now(),
	})
}

func setRateLimitHeaders(ctx *fasthttp.RequestCtx, info ratelimit.Info) {
	ctx.Response.Header.Set("X-RateLimit-Limit", strconv.Itoa(info.Limit))
	ctx.Response.Header.Set("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
	ctx.Response.Header.Set("X-RateLimit-Reset", strconv.FormatInt(info.Reset, 10))
}
