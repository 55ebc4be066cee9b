// Package config loads and validates all runtime configuration for the gateway.
//
// Configuration is read from environment variables (preferred for containers)
// or from a config.yaml file in the working directory. Environment variables
// take precedence over the YAML file.
//
// Naming convention: env vars are prefixed with APP_ and use a double
// underscore as the section separator. For example the YAML key
// server.port becomes APP_SERVER__PORT, and vertex.project_id becomes
// APP_VERTEX__PROJECT_ID.
//
// The standard GOOGLE_CLOUD_PROJECT and GOOGLE_APPLICATION_CREDENTIALS
// variables are honored as fallbacks for the vertex section so the gateway
// works unchanged on GCP runtimes.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Settings is the top-level configuration container.
type Settings struct {
	Server         ServerConfig
	Auth           AuthConfig
	Log            LogConfig
	Vertex         VertexConfig
	OpenAI         OpenAIConfig
	Anthropic      AnthropicConfig
	RateLimit      RateLimitConfig
	CircuitBreaker CircuitBreakerConfig
	Cache          CacheConfig
	Logger         LoggerConfig
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	// Host is the bind address. Default: 127.0.0.1.
	Host string
	// Port is the TCP port. Default: 4000.
	Port int
	// MaxRequestSize caps POST bodies in bytes. Default: 10 MiB.
	MaxRequestSize int
	// CORSOrigins lists allowed CORS origins. Empty means "*".
	CORSOrigins []string
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// AuthConfig controls bearer authentication.
type AuthConfig struct {
	// RequireAuth enables the Authorization check on non-public endpoints.
	RequireAuth bool
	// MasterKey is the expected bearer token. Must be at least 16 characters
	// when RequireAuth is set.
	MasterKey string
}

// LogConfig controls structured logging.
type LogConfig struct {
	// Level is one of: debug, info, warn, error. Default: info.
	Level string
	// Format is "json" or "text". Default: json.
	Format string
}

// VertexConfig holds the Google Vertex AI provider settings.
type VertexConfig struct {
	// ProjectID is the Google Cloud project. Falls back to
	// GOOGLE_CLOUD_PROJECT.
	ProjectID string
	// Region is the Vertex region. Default: us-central1.
	Region string
	// APIKey selects API-key mode; when empty, OAuth via the service
	// account credentials file is used.
	APIKey string
	// CredentialsFile is the service-account JSON path. Falls back to
	// GOOGLE_APPLICATION_CREDENTIALS.
	CredentialsFile string
	// APIKeyBaseURL and OAuthBaseURL override the upstream endpoints,
	// mainly for mock servers.
	APIKeyBaseURL string
	OAuthBaseURL  string
	// Transport selects the upstream client: "rest" (default) or "sdk".
	Transport string
}

// OpenAIConfig holds the GPT path settings. When APIKey is set the direct
// SDK provider is used; otherwise requests go through the token harvester
// and the reverse-engineered backend.
type OpenAIConfig struct {
	// HarvesterURL is the token harvester sidecar. Default:
	// http://localhost:3001.
	HarvesterURL string
	// AccessTokenTTL is how long harvested access tokens are reused.
	// Default: 1h.
	AccessTokenTTL time.Duration
	// ArkoseTokenTTL is how long arkose tokens are reused. Default: 2m.
	ArkoseTokenTTL time.Duration
	// BaseURL overrides the backend endpoint.
	BaseURL string
	// UserAgent overrides the backend User-Agent header.
	UserAgent string
	// APIKey enables the direct OpenAI SDK provider instead of the
	// harvester path.
	APIKey string
}

// AnthropicConfig holds the claude-* path settings. When APIKey is set the
// direct SDK provider is used; otherwise requests go through the bridge
// sidecar.
type AnthropicConfig struct {
	// BridgeURL is the bridge sidecar. Default: http://localhost:4001.
	BridgeURL string
	// APIKey enables the direct Anthropic SDK provider.
	APIKey string
}

// RateLimitConfig controls the token-bucket limiter.
type RateLimitConfig struct {
	// Capacity is the bucket size. Default: 100. Zero disables limiting.
	Capacity int
	// RefillPerSecond is the refill rate. Default: 10.
	RefillPerSecond int
}

// CircuitBreakerConfig controls the per-provider breakers.
type CircuitBreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that opens a
	// breaker. Default: 10.
	FailureThreshold int
	// Timeout is how long a breaker stays open. Default: 60s.
	Timeout time.Duration
	// SuccessThreshold is the half-open success count that closes a
	// breaker. Default: 3.
	SuccessThreshold int
}

// CacheConfig controls the response cache.
type CacheConfig struct {
	// Enabled turns the response cache on. Default: false.
	Enabled bool
	// DefaultTTL is the per-entry lifetime. Default: 1h.
	DefaultTTL time.Duration
	// RedisURL selects the Redis tier; empty uses the in-process cache.
	RedisURL string
	// ExcludeModels lists exact model names that are never cached.
	ExcludeModels []string
	// ExcludePatterns lists regular expressions matched against model names.
	ExcludePatterns []string
}

// LoggerConfig controls the request-audit logger.
type LoggerConfig struct {
	// ClickHouseDSN enables the ClickHouse audit sink. Empty disables
	// persistence; records are logged through slog instead.
	ClickHouseDSN string
}

// Load reads configuration from the environment and (optionally) from
// config.yaml in the current working directory.
func Load() (*Settings, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	_ = v.ReadInConfig()

	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "__"))
	v.AutomaticEnv()

	setDefaults(v)

	cfg := &Settings{
		Server: ServerConfig{
			Host:           v.GetString("server.host"),
			Port:           v.GetInt("server.port"),
			MaxRequestSize: v.GetInt("server.max_request_size"),
			CORSOrigins:    v.GetStringSlice("server.cors_origins"),
		},
		Auth: AuthConfig{
			RequireAuth: v.GetBool("auth.require_auth"),
			MasterKey:   v.GetString("auth.master_key"),
		},
		Log: LogConfig{
			Level:  strings.ToLower(v.GetString("log.level")),
			Format: strings.ToLower(v.GetString("log.format")),
		},
		Vertex: VertexConfig{
			ProjectID:       v.GetString("vertex.project_id"),
			Region:          v.GetString("vertex.region"),
			APIKey:          v.GetString("vertex.api_key"),
			CredentialsFile: v.GetString("vertex.credentials_file"),
			APIKeyBaseURL:   v.GetString("vertex.api_key_base_url"),
			OAuthBaseURL:    v.GetString("vertex.oauth_base_url"),
			Transport:       strings.ToLower(v.GetString("vertex.transport")),
		},
		OpenAI: OpenAIConfig{
			HarvesterURL:   v.GetString("openai.harvester_url"),
			AccessTokenTTL: time.Duration(v.GetInt("openai.access_token_ttl_secs")) * time.Second,
			ArkoseTokenTTL: time.Duration(v.GetInt("openai.arkose_token_ttl_secs")) * time.Second,
			BaseURL:        v.GetString("openai.base_url"),
			UserAgent:      v.GetString("openai.user_agent"),
			APIKey:         v.GetString("openai.api_key"),
		},
		Anthropic: AnthropicConfig{
			BridgeURL: v.GetString("anthropic.bridge_url"),
			APIKey:    v.GetString("anthropic.api_key"),
		},
		RateLimit: RateLimitConfig{
			Capacity:        v.GetInt("rate_limit.capacity"),
			RefillPerSecond: v.GetInt("rate_limit.refill_per_second"),
		},
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold: v.GetInt("circuit_breaker.failure_threshold"),
			Timeout:          time.Duration(v.GetInt("circuit_breaker.timeout_secs")) * time.Second,
			SuccessThreshold: v.GetInt("circuit_breaker.success_threshold"),
		},
		Cache: CacheConfig{
			Enabled:         v.GetBool("cache.enabled"),
			DefaultTTL:      time.Duration(v.GetInt("cache.default_ttl_secs")) * time.Second,
			RedisURL:        v.GetString("cache.redis_url"),
			ExcludeModels:   v.GetStringSlice("cache.exclude_models"),
			ExcludePatterns: v.GetStringSlice("cache.exclude_patterns"),
		},
		Logger: LoggerConfig{
			ClickHouseDSN: v.GetString("logger.clickhouse_dsn"),
		},
	}

	// Standard GCP variables serve as fallbacks so the gateway picks up
	// ambient credentials on GCP runtimes.
	if cfg.Vertex.ProjectID == "" {
		cfg.Vertex.ProjectID = os.Getenv("GOOGLE_CLOUD_PROJECT")
	}
	if cfg.Vertex.CredentialsFile == "" {
		cfg.Vertex.CredentialsFile = os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 4000)
	v.SetDefault("server.max_request_size", 10*1024*1024)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("auth.require_auth", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("vertex.region", "us-central1")
	v.SetDefault("vertex.transport", "rest")

	v.SetDefault("openai.harvester_url", "http://localhost:3001")
	v.SetDefault("openai.access_token_ttl_secs", 3600)
	v.SetDefault("openai.arkose_token_ttl_secs", 120)

	v.SetDefault("anthropic.bridge_url", "http://localhost:4001")

	v.SetDefault("rate_limit.capacity", 100)
	v.SetDefault("rate_limit.refill_per_second", 10)

	v.SetDefault("circuit_breaker.failure_threshold", 10)
	v.SetDefault("circuit_breaker.timeout_secs", 60)
	v.SetDefault("circuit_breaker.success_threshold", 3)

	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.default_ttl_secs", 3600)
}

// validate checks the semantic constraints that defaults cannot express.
func (c *Settings) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port must be in [1, 65535], got %d", c.Server.Port)
	}

	if c.Auth.RequireAuth && len(c.Auth.MasterKey) < 16 {
		return fmt.Errorf("config: auth.master_key must be at least 16 characters when auth.require_auth is set")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: invalid log.level %q; must be one of: debug, info, warn, error", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("config: invalid log.format %q; must be json or text", c.Log.Format)
	}

	switch c.Vertex.Transport {
	case "rest", "sdk":
	default:
		return fmt.Errorf("config: invalid vertex.transport %q; must be rest or sdk", c.Vertex.Transport)
	}

	if c.RateLimit.Capacity < 0 || c.RateLimit.RefillPerSecond < 0 {
		return fmt.Errorf("config: rate_limit values must not be negative")
	}

	if c.CircuitBreaker.FailureThreshold < 1 {
		return fmt.Errorf("config: circuit_breaker.failure_threshold must be ≥ 1, got %d", c.CircuitBreaker.FailureThreshold)
	}
	if c.CircuitBreaker.Timeout <= 0 {
		return fmt.Errorf("config: circuit_breaker.timeout_secs must be positive")
	}
	if c.CircuitBreaker.SuccessThreshold < 1 {
		return fmt.Errorf("config: circuit_breaker.success_threshold must be ≥ 1, got %d", c.CircuitBreaker.SuccessThreshold)
	}

	if c.Cache.Enabled && c.Cache.DefaultTTL <= 0 {
		return fmt.Errorf("config: cache.default_ttl_secs must be positive when the cache is enabled")
	}

	return nil
}

// loadDotEnv populates process env vars from a .env file when present.
func loadDotEnv(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config: %s is a directory, expected a file", path)
	}
	if err := gotenv.Load(path); err != nil {
		return fmt.Errorf("config: failed to load %s: %w", path, err)
	}
	return nil
}
