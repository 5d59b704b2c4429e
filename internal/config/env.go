package config

import (
	"net/textproto"
	"os"
	"strings"
	"time"
)

// applyEnvOverrides applies environment variable overrides to the config.
// Environment variables take precedence over YAML configuration, and are
// the only source for secrets (server secret, provider API keys/webhook
// secrets, OAuth client secrets, bot token) — those never live in YAML.
// All env vars use the GATEWAY_ prefix for namespace isolation.
func (c *Config) applyEnvOverrides() {
	setIfEnv(&c.Server.Address, "GATEWAY_SERVER_ADDRESS")
	setIfEnv(&c.Server.RoutePrefix, "GATEWAY_ROUTE_PREFIX")
	setIfEnv(&c.Server.AdminMetricsAPIKey, "GATEWAY_ADMIN_METRICS_API_KEY")
	setIfEnv(&c.Server.FrontendURL, "GATEWAY_FRONTEND_URL")
	setIfEnv(&c.Server.TopupURL, "GATEWAY_TOPUP_URL")
	if c.Server.RoutePrefix != "" {
		c.Server.RoutePrefix = normalizeRoutePrefix(c.Server.RoutePrefix)
	}
	if v := os.Getenv("GATEWAY_CORS_ALLOWED_ORIGINS"); v != "" {
		c.Server.CORSAllowedOrigins = strings.Split(v, ",")
	}

	setIfEnv(&c.Logging.Level, "GATEWAY_LOG_LEVEL")
	setIfEnv(&c.Logging.Format, "GATEWAY_LOG_FORMAT")
	setIfEnv(&c.Logging.Environment, "GATEWAY_ENVIRONMENT")

	setIfEnv(&c.Database.Backend, "GATEWAY_DATABASE_BACKEND")
	setIfEnv(&c.Database.PostgresURL, "GATEWAY_DATABASE_URL")
	setIfEnv(&c.Database.MongoDBURL, "GATEWAY_MONGODB_URL")
	setIfEnv(&c.Database.MongoDBDatabase, "GATEWAY_MONGODB_DATABASE")

	setIfEnv(&c.Redis.URL, "GATEWAY_REDIS_URL")

	setIfEnv(&c.Auth.ServerSecret, "GATEWAY_SERVER_SECRET")
	setIfEnv(&c.Auth.TelegramBotToken, "GATEWAY_TELEGRAM_BOT_TOKEN")
	setDurationIfEnv(&c.Auth.AccessTokenTTL, "GATEWAY_ACCESS_TOKEN_TTL")
	setDurationIfEnv(&c.Auth.RefreshTokenTTL, "GATEWAY_REFRESH_TOKEN_TTL")
	setDurationIfEnv(&c.Auth.MagicLinkTTL, "GATEWAY_MAGIC_LINK_TTL")

	// Per-provider OAuth client secret (GATEWAY_OAUTH_<NAME>_CLIENT_SECRET).
	for name, provider := range c.Auth.OAuthProviders {
		key := "GATEWAY_OAUTH_" + strings.ToUpper(name) + "_CLIENT_SECRET"
		if v := os.Getenv(key); v != "" {
			provider.ClientSecret = v
			c.Auth.OAuthProviders[name] = provider
		}
	}

	// Per-provider API key/webhook secret (GATEWAY_PROVIDER_<NAME>_API_KEY, _WEBHOOK_SECRET).
	for name, provider := range c.Providers {
		upper := strings.ToUpper(name)
		if v := os.Getenv("GATEWAY_PROVIDER_" + upper + "_API_KEY"); v != "" {
			provider.APIKey = v
		}
		if v := os.Getenv("GATEWAY_PROVIDER_" + upper + "_WEBHOOK_SECRET"); v != "" {
			provider.WebhookSecret = v
		}
		setBoolIfEnv(&provider.Enabled, "GATEWAY_PROVIDER_"+upper+"_ENABLED")
		c.Providers[name] = provider
	}

	// Per-product upstream base URL override (GATEWAY_UPSTREAM_<PRODUCT>_URL).
	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, "GATEWAY_UPSTREAM_") {
			continue
		}
		parts := strings.SplitN(env, "=", 2)
		if len(parts) != 2 || !strings.HasSuffix(parts[0], "_URL") {
			continue
		}
		name := strings.TrimSuffix(strings.TrimPrefix(parts[0], "GATEWAY_UPSTREAM_"), "_URL")
		if name == "" {
			continue
		}
		if c.Catalog.UpstreamBaseURLs == nil {
			c.Catalog.UpstreamBaseURLs = make(map[string]string)
		}
		c.Catalog.UpstreamBaseURLs[strings.ToLower(name)] = parts[1]
	}

	setIfEnv(&c.Callbacks.PaymentEventURL, "GATEWAY_CALLBACK_PAYMENT_EVENT_URL")
	setIfEnv(&c.Callbacks.LowBalanceURL, "GATEWAY_CALLBACK_LOW_BALANCE_URL")
	setDurationIfEnv(&c.Callbacks.Timeout, "GATEWAY_CALLBACK_TIMEOUT")
	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, "GATEWAY_CALLBACK_HEADER_") {
			continue
		}
		parts := strings.SplitN(env, "=", 2)
		if len(parts) != 2 {
			continue
		}
		name := strings.TrimPrefix(parts[0], "GATEWAY_CALLBACK_HEADER_")
		if name == "" {
			continue
		}
		if c.Callbacks.Headers == nil {
			c.Callbacks.Headers = make(map[string]string)
		}
		headerName := textproto.CanonicalMIMEHeaderKey(strings.ReplaceAll(name, "_", "-"))
		c.Callbacks.Headers[headerName] = parts[1]
	}
}

// setIfEnv sets a string pointer to the environment variable value if it exists.
func setIfEnv(target *string, key string) {
	if val := os.Getenv(key); val != "" {
		*target = val
	}
}

// setBoolIfEnv sets a boolean pointer from an environment variable.
// Accepts "1", "true", "TRUE", "True" as true values.
func setBoolIfEnv(target *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v == "1" || strings.EqualFold(v, "true")
	}
}

// setDurationIfEnv sets a Duration pointer from an environment variable.
// Uses time.ParseDuration to parse values like "5m", "120s", "1h30m".
func setDurationIfEnv(target *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			*target = Duration{Duration: dur}
		}
	}
}

// normalizeRoutePrefix ensures the prefix starts with / and doesn't end with /.
// Examples: "api" -> "/api", "/api/" -> "/api", "gateway" -> "/gateway"
func normalizeRoutePrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return ""
	}
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	prefix = strings.TrimSuffix(prefix, "/")
	return prefix
}
