// Package app wires up all subsystems and owns the application lifecycle.
//
// Startup order:
//  1. initAudit     — request-audit logger (ClickHouse or slog)
//  2. initInfra     — external connections (Redis when configured)
//  3. initServices  — caches, rate limiter, metrics
//  4. initProviders — upstream provider clients
//  5. initGateway   — proxy, health checker, routes
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	gwcache "github.com/nulpointcorp/ai-gateway/internal/cache"
	"github.com/nulpointcorp/ai-gateway/internal/config"
	"github.com/nulpointcorp/ai-gateway/internal/harvester"
	"github.com/nulpointcorp/ai-gateway/internal/logger"
	"github.com/nulpointcorp/ai-gateway/internal/metrics"
	"github.com/nulpointcorp/ai-gateway/internal/providers"
	"github.com/nulpointcorp/ai-gateway/internal/proxy"
	"github.com/nulpointcorp/ai-gateway/internal/ratelimit"
)

// App owns all long-lived resources and exposes Run / Close.
type App struct {
	version string
	cfg     *config.Settings
	baseCtx context.Context
	log     *slog.Logger

	audit    *logger.Logger
	rdb      *redis.Client
	memCache *gwcache.MemoryCache

	respCache  *gwcache.ResponseCache
	exclusions *gwcache.ExclusionList
	limiter    *ratelimit.Limiter
	collector  *metrics.Collector
	exporter   *metrics.Exporter

	harv     *harvester.Client
	registry *providers.Registry

	// bridgeURL is probed by the health checker; empty when the direct
	// Anthropic SDK provider is configured instead of the bridge.
	bridgeURL string

	health *proxy.HealthChecker
	gw     *proxy.Gateway
}

// New initialises all subsystems and returns a ready-to-run App.
// All resources allocated here are released by Close.
func New(ctx context.Context, cfg *config.Settings, log *slog.Logger, version string) (*App, error) {
	if ctx == nil {
		return nil, fmt.Errorf("app: context must not be nil")
	}

	a := &App{cfg: cfg, version: version, baseCtx: ctx, log: log}

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"audit", a.initAudit},
		{"infra", a.initInfra},
		{"services", a.initServices},
		{"providers", a.initProviders},
		{"gateway", a.initGateway},
	}

	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("app: init %s: %w", s.name, err)
		}
	}

	return a, nil
}

// Run starts the HTTP server and blocks until ctx is cancelled or the
// listener fails. It closes the app gracefully when returning.
func (a *App) Run(ctx context.Context) error {
	addr := a.cfg.Server.Addr()

	a.log.Info("gateway_starting",
		slog.String("version", a.version),
		slog.String("addr", addr),
		slog.Bool("auth", a.cfg.Auth.RequireAuth),
		slog.Bool("cache", a.respCache.Enabled()),
		slog.Any("providers", a.registry.Tags()),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.gw.Start(addr, proxy.ServerOptions{
			Version:            a.version,
			MasterKey:          a.cfg.Auth.MasterKey,
			RequireAuth:        a.cfg.Auth.RequireAuth,
			CORSOrigins:        a.cfg.Server.CORSOrigins,
			MaxRequestBodySize: a.cfg.Server.MaxRequestSize,
			Health:             a.health,
			Exporter:           a.exporter,
		})
	})

	g.Go(func() error {
		<-gctx.Done()
		a.Close()
		return nil
	})

	return g.Wait()
}

// Close releases all resources in reverse-init order. Safe to call multiple
// times.
func (a *App) Close() {
	if a.health != nil {
		a.health.Close()
		a.health = nil
	}
	if a.audit != nil {
		if err := a.audit.Close(); err != nil {
			a.log.Error("audit_close_error", slog.String("error", err.Error()))
		}
		a.audit = nil
	}
	if a.memCache != nil {
		a.memCache.Close()
		a.memCache = nil
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.log.Error("redis_close_error", slog.String("error", err.Error()))
		}
		a.rdb = nil
	}
}

// connectRedis parses the URL and verifies connectivity with a PING.
func connectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}

	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return rdb, nil
}

// redactURL replaces the userinfo portion of a URL with "***" for safe logging.
// e.g. "redis://:secret@localhost:6379" → "redis://***@localhost:6379"
func redactURL(raw string) string {
	for i, c := range raw {
		if c == '@' {
			for j := i - 1; j >= 0; j-- {
				if j+2 < len(raw) && raw[j:j+3] == "://" {
					return raw[:j+3] + "***" + raw[i:]
				}
			}
			return "***" + raw[i:]
		}
	}
	return raw
}
