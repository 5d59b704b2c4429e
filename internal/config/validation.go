package config

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// finalize applies defaults and validates the configuration.
func (c *Config) finalize() error {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Environment == "" {
		c.Logging.Environment = "production"
	}
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Database.Backend == "" {
		c.Database.Backend = "postgres"
	}
	if c.Auth.AccessTokenTTL.Duration == 0 {
		c.Auth.AccessTokenTTL = Duration{Duration: 15 * time.Minute}
	}
	if c.Auth.RefreshTokenTTL.Duration == 0 {
		c.Auth.RefreshTokenTTL = Duration{Duration: 30 * 24 * time.Hour}
	}
	if c.Auth.MagicLinkTTL.Duration == 0 {
		c.Auth.MagicLinkTTL = Duration{Duration: 15 * time.Minute}
	}
	if c.Callbacks.Timeout.Duration == 0 {
		c.Callbacks.Timeout = Duration{Duration: 3 * time.Second}
	}
	if c.Callbacks.Headers == nil {
		c.Callbacks.Headers = make(map[string]string)
	}
	if c.Catalog.LowBalanceThreshold <= 0 {
		c.Catalog.LowBalanceThreshold = 1.0
	}
	if len(c.Server.CORSAllowedOrigins) == 0 && c.Server.FrontendURL != "" {
		c.Server.CORSAllowedOrigins = []string{c.Server.FrontendURL}
	}

	for key, product := range c.Catalog.Products {
		if product.Name == "" {
			product.Name = key
		}
		c.Catalog.Products[key] = product
	}

	return c.validate()
}

// validate checks that required configuration fields are set correctly.
func (c *Config) validate() error {
	var errs []string

	if c.Database.Backend == "postgres" && c.Database.PostgresURL == "" {
		errs = append(errs, "database.postgres_url is required when database.backend is 'postgres'")
	}
	if c.Database.Backend == "mongodb" && c.Database.MongoDBURL == "" {
		errs = append(errs, "database.mongodb_url is required when database.backend is 'mongodb'")
	}
	if c.Redis.URL == "" {
		errs = append(errs, "redis.url is required")
	}
	if c.Auth.ServerSecret == "" {
		errs = append(errs, "GATEWAY_SERVER_SECRET is required")
	}
	for name, provider := range c.Providers {
		if !provider.Enabled {
			continue
		}
		if provider.APIKey == "" {
			errs = append(errs, fmt.Sprintf("providers.%s: API key is required when enabled", name))
		}
	}
	for name, oauth := range c.Auth.OAuthProviders {
		if oauth.ClientID != "" && oauth.ClientSecret == "" {
			errs = append(errs, fmt.Sprintf("oauth_providers.%s: client secret is required when client_id is set", name))
		}
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// ApplyPostgresPoolSettings applies connection pool settings to a database connection.
// If pool config is not specified, applies sensible defaults.
func ApplyPostgresPoolSettings(db *sql.DB, pool PostgresPoolConfig) {
	maxOpen := pool.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 25
	}

	maxIdle := pool.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 5
	}
	if maxIdle > maxOpen {
		maxIdle = maxOpen
	}

	maxLifetime := pool.ConnMaxLifetime.Duration
	if maxLifetime <= 0 {
		maxLifetime = 5 * time.Minute
	}

	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(maxLifetime)
}
