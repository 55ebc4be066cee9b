package app

import (
	"context"
	"fmt"
	"log/slog"

	gwcache "github.com/nulpointcorp/ai-gateway/internal/cache"
	"github.com/nulpointcorp/ai-gateway/internal/harvester"
	"github.com/nulpointcorp/ai-gateway/internal/logger"
	"github.com/nulpointcorp/ai-gateway/internal/metrics"
	"github.com/nulpointcorp/ai-gateway/internal/openaibackend"
	"github.com/nulpointcorp/ai-gateway/internal/providers"
	anthropicprov "github.com/nulpointcorp/ai-gateway/internal/providers/anthropic"
	"github.com/nulpointcorp/ai-gateway/internal/providers/anthropicbridge"
	openaiprov "github.com/nulpointcorp/ai-gateway/internal/providers/openai"
	"github.com/nulpointcorp/ai-gateway/internal/providers/vertex"
	"github.com/nulpointcorp/ai-gateway/internal/proxy"
	"github.com/nulpointcorp/ai-gateway/internal/ratelimit"
)

// initAudit starts the async request-audit logger. With an empty DSN it
// degrades to slog output.
func (a *App) initAudit(ctx context.Context) error {
	l, err := logger.New(a.baseCtx, a.cfg.Logger.ClickHouseDSN, a.log)
	if err != nil {
		return err
	}
	a.audit = l
	if a.cfg.Logger.ClickHouseDSN != "" {
		a.log.Info("audit_sink", slog.String("backend", "clickhouse"),
			slog.String("dsn", redactURL(a.cfg.Logger.ClickHouseDSN)))
	}
	return nil
}

// initInfra establishes optional external connections. Redis is only
// contacted when the cache is enabled with a redis_url.
func (a *App) initInfra(ctx context.Context) error {
	if a.cfg.Cache.Enabled && a.cfg.Cache.RedisURL != "" {
		a.log.Info("redis_connecting", slog.String("url", redactURL(a.cfg.Cache.RedisURL)))
		rdb, err := connectRedis(ctx, a.cfg.Cache.RedisURL)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		a.rdb = rdb
		a.log.Info("redis_connected")
	}
	return nil
}

// initServices creates the metrics collector, the response cache, and the
// rate limiter.
func (a *App) initServices(ctx context.Context) error {
	a.collector = metrics.NewCollector()
	a.exporter = metrics.NewExporter(a.collector)

	if a.cfg.Cache.Enabled {
		var store gwcache.Cache
		if a.rdb != nil {
			store = gwcache.NewExactCacheFromClient(a.rdb)
			a.log.Info("cache_backend", slog.String("backend", "redis"))
		} else {
			a.memCache = gwcache.NewMemoryCache(a.baseCtx)
			store = a.memCache
			a.log.Info("cache_backend", slog.String("backend", "memory"))
		}
		a.respCache = gwcache.NewResponseCache(store, a.cfg.Cache.DefaultTTL, true)
	}

	if len(a.cfg.Cache.ExcludeModels) > 0 || len(a.cfg.Cache.ExcludePatterns) > 0 {
		el, err := gwcache.NewExclusionList(a.cfg.Cache.ExcludeModels, a.cfg.Cache.ExcludePatterns)
		if err != nil {
			return fmt.Errorf("cache exclusions: %w", err)
		}
		a.exclusions = el
		a.log.Info("cache_exclusions", slog.Int("rules", el.Len()))
	}

	if a.cfg.RateLimit.Capacity > 0 {
		a.limiter = ratelimit.NewLimiter(a.cfg.RateLimit.Capacity, a.cfg.RateLimit.RefillPerSecond)
		a.log.Info("rate_limit",
			slog.Int("capacity", a.cfg.RateLimit.Capacity),
			slog.Int("refill_per_second", a.cfg.RateLimit.RefillPerSecond),
		)
	}

	return nil
}

// initProviders registers the three provider slots. Each slot picks its
// transport from configuration:
//
//	vertex    — REST (default) or the GenAI SDK, API-key or OAuth auth
//	anthropic — bridge sidecar, or the SDK when an API key is set
//	openai    — harvester + reverse backend, or the SDK when a key is set
func (a *App) initProviders(ctx context.Context) error {
	a.registry = providers.NewRegistry()

	if err := a.initVertex(ctx); err != nil {
		return err
	}
	a.initAnthropic()
	a.initOpenAI()

	if len(a.registry.Tags()) == 0 {
		return fmt.Errorf("no providers configured")
	}
	return nil
}

func (a *App) initVertex(ctx context.Context) error {
	vc := a.cfg.Vertex
	if vc.APIKey == "" && vc.CredentialsFile == "" && vc.ProjectID == "" {
		// Register anyway: vertex is also the fallback route for unknown
		// model prefixes, and those must answer 503, not 400.
		a.log.Warn("vertex_credentials_missing",
			slog.String("effect", "gemini requests will fail until credentials are configured"))
	}

	if vc.Transport == "sdk" {
		p, err := vertex.NewSDK(ctx, vertex.SDKConfig{
			APIKey:    vc.APIKey,
			ProjectID: vc.ProjectID,
			Region:    vc.Region,
		})
		if err != nil {
			return fmt.Errorf("vertex sdk: %w", err)
		}
		a.registry.Register(providers.ProviderVertex, p)
		a.log.Info("provider_loaded", slog.String("provider", "vertex"), slog.String("transport", "sdk"))
		return nil
	}

	tm, err := vertex.NewTokenManager(ctx, vc.APIKey, vc.CredentialsFile, vc.ProjectID)
	if err != nil {
		return fmt.Errorf("vertex auth: %w", err)
	}
	p := vertex.New(vertex.Config{
		Region:        vc.Region,
		APIKeyBaseURL: vc.APIKeyBaseURL,
		OAuthBaseURL:  vc.OAuthBaseURL,
	}, tm)
	a.registry.Register(providers.ProviderVertex, p)
	a.log.Info("provider_loaded", slog.String("provider", "vertex"), slog.String("transport", "rest"))
	return nil
}

func (a *App) initAnthropic() {
	if key := a.cfg.Anthropic.APIKey; key != "" {
		a.registry.Register(providers.ProviderAnthropic, anthropicprov.New(key))
		a.log.Info("provider_loaded", slog.String("provider", "anthropic"), slog.String("transport", "sdk"))
		return
	}
	a.bridgeURL = a.cfg.Anthropic.BridgeURL
	a.registry.Register(providers.ProviderAnthropic, anthropicbridge.New(anthropicbridge.Options{
		BridgeURL: a.bridgeURL,
	}))
	a.log.Info("provider_loaded", slog.String("provider", "anthropic"), slog.String("transport", "bridge"))
}

func (a *App) initOpenAI() {
	if key := a.cfg.OpenAI.APIKey; key != "" {
		var opts []openaiprov.Option
		if a.cfg.OpenAI.BaseURL != "" {
			opts = append(opts, openaiprov.WithBaseURL(a.cfg.OpenAI.BaseURL))
		}
		a.registry.Register(providers.ProviderOpenAI, openaiprov.New(key, opts...))
		a.log.Info("provider_loaded", slog.String("provider", "openai"), slog.String("transport", "sdk"))
		return
	}

	a.harv = harvester.NewClient(harvester.Options{
		BaseURL:        a.cfg.OpenAI.HarvesterURL,
		AccessTokenTTL: a.cfg.OpenAI.AccessTokenTTL,
		ArkoseTokenTTL: a.cfg.OpenAI.ArkoseTokenTTL,
		Metrics:        a.collector,
	})
	backend := openaibackend.NewClient(openaibackend.ClientOptions{
		BaseURL:   a.cfg.OpenAI.BaseURL,
		UserAgent: a.cfg.OpenAI.UserAgent,
	})
	a.registry.Register(providers.ProviderOpenAI, openaibackend.NewProvider(backend, a.harv, a.collector))
	a.log.Info("provider_loaded", slog.String("provider", "openai"), slog.String("transport", "harvester"))
}

// initGateway wires the Gateway and the background health checker.
func (a *App) initGateway(_ context.Context) error {
	a.gw = proxy.NewGateway(a.baseCtx, a.registry, proxy.GatewayOptions{
		Logger: a.log,
		CBConfig: proxy.CBConfig{
			FailureThreshold: a.cfg.CircuitBreaker.FailureThreshold,
			OpenTimeout:      a.cfg.CircuitBreaker.Timeout,
			SuccessThreshold: a.cfg.CircuitBreaker.SuccessThreshold,
		},
		Limiter:       a.limiter,
		ResponseCache: a.respCache,
		Exclusions:    a.exclusions,
		Metrics:       a.collector,
		Audit:         a.audit,
	})

	// Probe only the sidecars actually in use.
	if a.harv != nil || a.bridgeURL != "" {
		if a.harv != nil {
			a.health = proxy.NewHealthChecker(a.baseCtx, a.harv, a.bridgeURL, a.version)
		} else {
			a.health = proxy.NewHealthChecker(a.baseCtx, nil, a.bridgeURL, a.version)
		}
	}

	return nil
}
