package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support string based YAML decoding.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration values expressed as Go-style strings or numbers interpreted as seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		raw := strings.TrimSpace(value.Value)
		if raw == "" {
			d.Duration = 0
			return nil
		}
		parsed, err := time.ParseDuration(raw)
		if err == nil {
			d.Duration = parsed
			return nil
		}
		secs, convErr := time.ParseDuration(fmt.Sprintf("%ss", raw))
		if convErr == nil {
			d.Duration = secs
			return nil
		}
		return fmt.Errorf("invalid duration value %q: %w", raw, err)
	default:
		return fmt.Errorf("unsupported duration node kind: %v", value.Kind)
	}
}

// MarshalYAML renders the duration as a string to keep config edits human-friendly.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config holds application level configuration aggregated from file and environment variables.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Logging        LoggingConfig        `yaml:"logging"`
	Database       DatabaseConfig       `yaml:"database"`
	Redis          RedisConfig          `yaml:"redis"`
	Auth           AuthConfig           `yaml:"auth"`
	Providers      map[string]ProviderConfig `yaml:"providers"`
	Catalog        CatalogConfig        `yaml:"catalog"`
	Callbacks      CallbacksConfig      `yaml:"callbacks"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address            string   `yaml:"address"`
	ReadTimeout         Duration `yaml:"read_timeout"`
	WriteTimeout        Duration `yaml:"write_timeout"`
	IdleTimeout         Duration `yaml:"idle_timeout"`
	CORSAllowedOrigins  []string `yaml:"cors_allowed_origins"`
	RoutePrefix         string   `yaml:"route_prefix"`
	AdminMetricsAPIKey  string   `yaml:"admin_metrics_api_key"` // optional; leave empty to disable /metrics protection
	FrontendURL         string   `yaml:"frontend_url"`          // dashboard origin; also the default CORS origin and magic-link landing page
	TopupURL            string   `yaml:"topup_url"`             // surfaced in 402 INSUFFICIENT_CREDITS responses
}

// LoggingConfig holds structured logging configuration.
type LoggingConfig struct {
	Level       string `yaml:"level"`       // debug, info, warn, error (default: info)
	Format      string `yaml:"format"`      // json, console (default: json)
	Environment string `yaml:"environment"` // production, staging, development
}

// DatabaseConfig holds the ledger's primary storage configuration.
type DatabaseConfig struct {
	Backend         string             `yaml:"backend"`           // "postgres" (default) or "mongodb" for the audit/debug log collections
	PostgresURL     string             `yaml:"postgres_url"`
	MongoDBURL      string             `yaml:"mongodb_url"`
	MongoDBDatabase string             `yaml:"mongodb_database"`
	Pool            PostgresPoolConfig `yaml:"pool"`
}

// PostgresPoolConfig holds PostgreSQL connection pool settings.
type PostgresPoolConfig struct {
	MaxOpenConns    int      `yaml:"max_open_conns"`    // default: 25
	MaxIdleConns    int      `yaml:"max_idle_conns"`    // default: 5
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"` // default: 5m
}

// RedisConfig holds key/value store configuration backing quota counters,
// refresh tokens, pending invoices, OAuth state, and the balance cache.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// AuthConfig holds the server-side secrets and token lifetimes for API keys,
// JWT access/refresh tokens, magic links, the Telegram login widget, and OAuth.
// The TTL fields are loaded and defaulted here but not passed to the auth
// package, which uses its own fixed lifetimes (access 15m, refresh 7 days,
// magic link 15m).
type AuthConfig struct {
	ServerSecret     string                        `yaml:"-"` // loaded only from env, never YAML
	AccessTokenTTL   Duration                      `yaml:"access_token_ttl"`
	RefreshTokenTTL  Duration                      `yaml:"refresh_token_ttl"`
	MagicLinkTTL     Duration                      `yaml:"magic_link_ttl"`
	TelegramBotToken string                        `yaml:"-"` // loaded only from env
	OAuthProviders   map[string]OAuthProviderConfig `yaml:"oauth_providers"`
}

// OAuthProviderConfig configures a single OAuth identity provider.
type OAuthProviderConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"-"` // loaded only from env
	IssuerURL    string `yaml:"issuer_url"`
	RedirectURL  string `yaml:"redirect_url"`
}

// ProviderConfig configures a single payment provider (e.g. "card", "stars").
type ProviderConfig struct {
	Enabled       bool   `yaml:"enabled"`
	APIKey        string `yaml:"-"` // loaded only from env
	WebhookSecret string `yaml:"-"` // loaded only from env
	Environment   string `yaml:"environment"` // "live" or "test"
}

// CatalogConfig holds the product catalogue and per-product upstream routing.
type CatalogConfig struct {
	Products            map[string]ProductConfig `yaml:"products"`
	UpstreamBaseURLs    map[string]string        `yaml:"upstream_base_urls"`
	LowBalanceThreshold float64                  `yaml:"low_balance_threshold_credits"`
}

// ProductConfig defines a single metered product's pricing.
type ProductConfig struct {
	Name               string `yaml:"name"`
	UnitLabel          string `yaml:"unit_label"`
	CreditsNumerator   int64  `yaml:"credits_numerator"`
	CreditsDenominator int64  `yaml:"credits_denominator"`
	Active             bool   `yaml:"active"`
}

// CallbacksConfig holds webhook notification configuration for payment and
// low-balance events.
type CallbacksConfig struct {
	PaymentEventURL   string            `yaml:"payment_event_url"`
	LowBalanceURL     string            `yaml:"low_balance_url"`
	Headers           map[string]string `yaml:"headers"`
	Timeout           Duration          `yaml:"timeout"`
	Retry             RetryConfig       `yaml:"retry"`
}

// RetryConfig holds webhook retry configuration.
type RetryConfig struct {
	Enabled         bool     `yaml:"enabled"`
	MaxAttempts     int      `yaml:"max_attempts"`
	InitialInterval Duration `yaml:"initial_interval"`
	MaxInterval     Duration `yaml:"max_interval"`
	Multiplier      float64  `yaml:"multiplier"`
}

// RateLimitConfig holds HTTP-level rate limiting configuration, distinct
// from the credits/quota admission the gateway pipeline performs.
type RateLimitConfig struct {
	GlobalEnabled bool     `yaml:"global_enabled"`
	GlobalLimit   int      `yaml:"global_limit"`
	GlobalWindow  Duration `yaml:"global_window"`

	PerAccountEnabled bool     `yaml:"per_account_enabled"`
	PerAccountLimit   int      `yaml:"per_account_limit"`
	PerAccountWindow  Duration `yaml:"per_account_window"`

	PerIPEnabled bool     `yaml:"per_ip_enabled"`
	PerIPLimit   int      `yaml:"per_ip_limit"`
	PerIPWindow  Duration `yaml:"per_ip_window"`
}

// CircuitBreakerConfig holds circuit breaker configuration for external
// dependencies that can degrade. Only PaymentProvider takes effect (outbound
// payment-provider HTTP calls); the Redis-backed balance cache builds its
// breaker from circuitbreaker.DefaultConfig and does not read BalanceCache.
type CircuitBreakerConfig struct {
	Enabled         bool                 `yaml:"enabled"`
	BalanceCache    BreakerServiceConfig `yaml:"balance_cache"`
	PaymentProvider BreakerServiceConfig `yaml:"payment_provider"`
}

// BreakerServiceConfig configures a circuit breaker for a specific external service.
type BreakerServiceConfig struct {
	MaxRequests         uint32   `yaml:"max_requests"`
	Interval            Duration `yaml:"interval"`
	Timeout             Duration `yaml:"timeout"`
	ConsecutiveFailures uint32   `yaml:"consecutive_failures"`
	FailureRatio        float64  `yaml:"failure_ratio"`
	MinRequests         uint32   `yaml:"min_requests"`
}
