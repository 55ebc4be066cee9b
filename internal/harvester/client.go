// Package harvester talks to the external token-harvester sidecar that
// maintains a browser session against the upstream and hands out
// short-lived access and arkose tokens.
package harvester

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nulpointcorp/ai-gateway/internal/metrics"
	"github.com/nulpointcorp/ai-gateway/internal/providers"
)

const (
	// DefaultBaseURL is the harvester sidecar address when none is configured.
	DefaultBaseURL = "http://localhost:3001"

	// DefaultAccessTokenTTL bounds how long a plain access token is reused.
	DefaultAccessTokenTTL = 3600 * time.Second
	// DefaultArkoseTokenTTL bounds reuse of tokens carrying an arkose
	// solution; these go stale much faster.
	DefaultArkoseTokenTTL = 120 * time.Second

	requestTimeout = 30 * time.Second
	retryAttempts  = 3
	retryBackoff   = 500 * time.Millisecond
)

// TokenResponse is the harvester's token payload.
type TokenResponse struct {
	AccessToken string  `json:"access_token"`
	ArkoseToken *string `json:"arkose_token,omitempty"`
	ExpiresAt   int64   `json:"expires_at"`
}

// Health is the harvester's self-reported status.
type Health struct {
	BrowserAlive     bool  `json:"browser_alive"`
	SessionValid     bool  `json:"session_valid"`
	LastTokenRefresh int64 `json:"last_token_refresh"`
}

type cachedToken struct {
	token    TokenResponse
	cachedAt time.Time
}

// Options configures a Client. Zero values fall back to defaults.
type Options struct {
	BaseURL        string
	AccessTokenTTL time.Duration
	ArkoseTokenTTL time.Duration
	Metrics        *metrics.Collector
	HTTPClient     *http.Client
}

// Client caches the most recent token in a single slot and refetches it
// when the applicable TTL lapses. Concurrent fetches for the same slot are
// coalesced; the last writer wins on the cache.
type Client struct {
	baseURL   string
	httpc     *http.Client
	accessTTL time.Duration
	arkoseTTL time.Duration
	metrics   *metrics.Collector

	mu     sync.Mutex
	cached *cachedToken

	group singleflight.Group
	now   func() time.Time
}

// NewClient creates a harvester Client.
func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.AccessTokenTTL <= 0 {
		opts.AccessTokenTTL = DefaultAccessTokenTTL
	}
	if opts.ArkoseTokenTTL <= 0 {
		opts.ArkoseTokenTTL = DefaultArkoseTokenTTL
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: requestTimeout}
	}
	return &Client{
		baseURL:   opts.BaseURL,
		httpc:     opts.HTTPClient,
		accessTTL: opts.AccessTokenTTL,
		arkoseTTL: opts.ArkoseTokenTTL,
		metrics:   opts.Metrics,
		now:       time.Now,
	}
}

// GetTokens returns a usable token set, serving from the cache when fresh.
// A cached token without an arkose solution is discarded when one is
// required. Fetches retry up to three times with linear backoff; a token
// that still lacks arkose after a fetch triggers a forced refresh.
func (c *Client) GetTokens(ctx context.Context, requireArkose bool) (TokenResponse, error) {
	c.mu.Lock()
	if c.cached != nil {
		if requireArkose && c.cached.token.ArkoseToken == nil {
			slog.Debug("harvester_cache_invalidated", slog.String("reason", "arkose_required"))
			c.cached = nil
		} else {
			ttl := c.accessTTL
			if requireArkose && c.cached.token.ArkoseToken != nil {
				ttl = c.arkoseTTL
			}
			if age := c.now().Sub(c.cached.cachedAt); age < ttl {
				token := c.cached.token
				c.mu.Unlock()
				if c.metrics != nil {
					c.metrics.RecordCacheHit()
				}
				return token, nil
			}
		}
	}
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.RecordCacheMiss()
	}

	key := fmt.Sprintf("tokens:%t", requireArkose)
	v, err, _ := c.group.Do(key, func() (any, error) {
		return c.fetchTokens(ctx, requireArkose)
	})
	if err != nil {
		return TokenResponse{}, err
	}
	return v.(TokenResponse), nil
}

func (c *Client) fetchTokens(ctx context.Context, requireArkose bool) (TokenResponse, error) {
	fetchedAt := c.now()

	var token TokenResponse
	err := c.withRetries(ctx, func() error {
		return c.getJSON(ctx, c.baseURL+"/tokens", &token)
	})
	if err != nil {
		return TokenResponse{}, err
	}

	if requireArkose && token.ArkoseToken == nil {
		slog.Warn("harvester_arkose_missing", slog.String("action", "forcing_refresh"))
		return c.RefreshTokens(ctx, true)
	}

	c.storeCached(token, fetchedAt)
	return token, nil
}

// RefreshTokens asks the harvester to mint fresh tokens. A single POST, no
// retries: refreshes are expensive on the harvester side and the caller
// already sits on a failed fast path.
func (c *Client) RefreshTokens(ctx context.Context, forceArkose bool) (TokenResponse, error) {
	body, _ := json.Marshal(map[string]bool{"force_arkose": forceArkose})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/refresh", bytes.NewReader(body))
	if err != nil {
		return TokenResponse{}, providers.NewInternal("build harvester refresh request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return TokenResponse{}, providers.Unavailablef("Failed to connect to Harvester: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return TokenResponse{}, providers.Unavailablef("Harvester refresh failed: %d - %s", resp.StatusCode, text)
	}

	var token TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return TokenResponse{}, providers.Unavailablef("Failed to parse refresh response: %v", err)
	}

	c.storeCached(token, c.now())
	return token, nil
}

// HealthCheck probes the harvester's /health endpoint.
func (c *Client) HealthCheck(ctx context.Context) (Health, error) {
	var h Health
	if err := c.getJSON(ctx, c.baseURL+"/health", &h); err != nil {
		return Health{}, err
	}
	return h, nil
}

// withRetries runs fn up to retryAttempts times, sleeping attempt×500ms
// between failures.
func (c *Client) withRetries(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == retryAttempts {
			break
		}

		select {
		case <-time.After(time.Duration(attempt) * retryBackoff):
		case <-ctx.Done():
			return providers.Unavailablef("Harvester request cancelled: %v", ctx.Err())
		}
	}
	return providers.Unavailablef("Failed to get tokens after %d attempts: %v", retryAttempts, err)
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return providers.NewInternal("build harvester request", err)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("harvester: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("harvester returned error: %d - %s", resp.StatusCode, text)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("harvester: parse response: %w", err)
	}
	return nil
}

func (c *Client) storeCached(token TokenResponse, at time.Time) {
	c.mu.Lock()
	c.cached = &cachedToken{token: token, cachedAt: at}
	c.mu.Unlock()
}
