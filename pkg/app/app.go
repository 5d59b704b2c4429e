// Package app wires the gateway's components for a standalone server or
// for embedding: config, storage, the ledger, the quota/catalog/auth
// layers, the payment provider registry, the payment engine, the gateway
// pipeline, and the HTTP server, with a lifecycle manager tracking
// everything that needs an ordered shutdown.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/kiku-jw/kikuai-gateway/internal/auth"
	"github.com/kiku-jw/kikuai-gateway/internal/callbacks"
	"github.com/kiku-jw/kikuai-gateway/internal/catalog"
	"github.com/kiku-jw/kikuai-gateway/internal/circuitbreaker"
	"github.com/kiku-jw/kikuai-gateway/internal/config"
	"github.com/kiku-jw/kikuai-gateway/internal/dbpool"
	"github.com/kiku-jw/kikuai-gateway/internal/gateway"
	"github.com/kiku-jw/kikuai-gateway/internal/httpserver"
	"github.com/kiku-jw/kikuai-gateway/internal/ledger"
	"github.com/kiku-jw/kikuai-gateway/internal/lifecycle"
	"github.com/kiku-jw/kikuai-gateway/internal/logger"
	"github.com/kiku-jw/kikuai-gateway/internal/metrics"
	"github.com/kiku-jw/kikuai-gateway/internal/payment"
	"github.com/kiku-jw/kikuai-gateway/internal/paymentengine"
	"github.com/kiku-jw/kikuai-gateway/internal/quota"
	"github.com/kiku-jw/kikuai-gateway/internal/redisclient"
)

// App wires the gateway components for reuse or standalone serving.
type App struct {
	Config  *config.Config
	Server  *httpserver.Server
	Logger  zerolog.Logger
	Metrics *metrics.Metrics

	resources *lifecycle.Manager
}

// New assembles every gateway component from cfg.
func New(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config required")
	}

	resources := lifecycle.NewManager()

	appLogger := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Service:     "kikuai-gateway",
		Environment: cfg.Logging.Environment,
	})

	metricsCollector := metrics.New(prometheus.DefaultRegisterer)

	pool, err := dbpool.NewSharedPool(cfg.Database.PostgresURL, cfg.Database.Pool)
	if err != nil {
		return nil, fmt.Errorf("app: open postgres: %w", err)
	}
	resources.Register("postgres", pool)

	var auditStore ledger.AuditStore
	if cfg.Database.Backend == "mongodb" {
		mongoStore, err := ledger.NewMongoAuditStore(context.Background(), cfg.Database.MongoDBURL, cfg.Database.MongoDBDatabase)
		if err != nil {
			return nil, fmt.Errorf("app: open mongo audit store: %w", err)
		}
		auditStore = mongoStore
	}

	baseLedger, err := ledger.NewPostgresLedger(context.Background(), pool.DB(), ledgerOpts(auditStore)...)
	if err != nil {
		return nil, fmt.Errorf("app: init ledger: %w", err)
	}

	kv, err := redisclient.New(cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("app: connect redis: %w", err)
	}
	resources.RegisterFunc("redis", kv.Close)

	store := ledger.NewCache(baseLedger, kv)

	quotaEngine := quota.New(kv)

	var catalogue catalog.Catalogue
	if len(cfg.Catalog.Products) > 0 {
		products := make([]catalog.Product, 0, len(cfg.Catalog.Products))
		for id, p := range cfg.Catalog.Products {
			products = append(products, catalog.Product{
				ID: id, Name: p.Name, UnitLabel: p.UnitLabel,
				CreditsNumerator: p.CreditsNumerator, CreditsDenominator: p.CreditsDenominator,
				Active: p.Active,
			})
		}
		catalogue = catalog.NewStaticRepository(products)
	} else {
		catalogue = catalog.NewStaticRepository(catalog.Default())
	}

	apiKeys := auth.NewAPIKeyIssuer(store, []byte(cfg.Auth.ServerSecret))
	tokens := auth.NewTokenIssuer([]byte(cfg.Auth.ServerSecret), kv)
	magicLink := auth.NewMagicLinkAuth(store, auth.NewLogMagicLinkSender())

	oauthProviders := map[string]*auth.OAuthProvider{}
	for name, oc := range cfg.Auth.OAuthProviders {
		provider, err := auth.NewOAuthProvider(context.Background(), name, oc.IssuerURL, oc.ClientID, oc.ClientSecret, oc.RedirectURL, kv)
		if err != nil {
			return nil, fmt.Errorf("app: init oauth provider %s: %w", name, err)
		}
		oauthProviders[name] = provider
	}

	breakerManager := circuitbreaker.NewManager(circuitbreaker.Config{
		Enabled: cfg.CircuitBreaker.Enabled,
		BalanceCache: circuitbreaker.BreakerConfig{
			MaxRequests:         cfg.CircuitBreaker.BalanceCache.MaxRequests,
			Interval:            cfg.CircuitBreaker.BalanceCache.Interval.Duration,
			Timeout:             cfg.CircuitBreaker.BalanceCache.Timeout.Duration,
			ConsecutiveFailures: cfg.CircuitBreaker.BalanceCache.ConsecutiveFailures,
			FailureRatio:        cfg.CircuitBreaker.BalanceCache.FailureRatio,
			MinRequests:         cfg.CircuitBreaker.BalanceCache.MinRequests,
		},
		Provider: circuitbreaker.BreakerConfig{
			MaxRequests:         cfg.CircuitBreaker.PaymentProvider.MaxRequests,
			Interval:            cfg.CircuitBreaker.PaymentProvider.Interval.Duration,
			Timeout:             cfg.CircuitBreaker.PaymentProvider.Timeout.Duration,
			ConsecutiveFailures: cfg.CircuitBreaker.PaymentProvider.ConsecutiveFailures,
			FailureRatio:        cfg.CircuitBreaker.PaymentProvider.FailureRatio,
			MinRequests:         cfg.CircuitBreaker.PaymentProvider.MinRequests,
		},
	})

	registry := payment.NewRegistry()
	if pc, ok := cfg.Providers["card"]; ok && pc.Enabled {
		registry.Register(payment.NewCardProvider(payment.CardConfig{
			SecretKey:     pc.APIKey,
			WebhookSecret: pc.WebhookSecret,
		}, breakerManager))
	}
	if pc, ok := cfg.Providers["stars"]; ok && pc.Enabled {
		registry.Register(payment.NewStarsProvider(payment.StarsConfig{}, kv))
	}

	notifier := callbacks.NewRetryableClient(callbacks.Config{
		URL:     cfg.Callbacks.PaymentEventURL,
		Headers: cfg.Callbacks.Headers,
		Retry: callbacks.RetryConfig{
			Enabled:         cfg.Callbacks.Retry.Enabled,
			MaxAttempts:     cfg.Callbacks.Retry.MaxAttempts,
			InitialInterval: cfg.Callbacks.Retry.InitialInterval.Duration,
			MaxInterval:     cfg.Callbacks.Retry.MaxInterval.Duration,
			Multiplier:      cfg.Callbacks.Retry.Multiplier,
			Timeout:         cfg.Callbacks.Timeout.Duration,
		},
	}, callbacks.WithRetryLogger(appLogger), callbacks.WithRetryMetrics(metricsCollector))

	engine, err := paymentengine.New(registry, store, notifier, paymentengine.Config{
		LowBalanceThresholdUSD: fmt.Sprintf("%.8f", cfg.Catalog.LowBalanceThreshold/1000),
	})
	if err != nil {
		return nil, fmt.Errorf("app: init payment engine: %w", err)
	}

	dispatcher := gateway.NewHTTPDispatcher(cfg.Catalog.UpstreamBaseURLs)
	pipeline := gateway.New(apiKeys, store, quotaEngine, catalogue, dispatcher, cfg.Server.TopupURL)

	server := httpserver.New(cfg, pipeline, engine, store, apiKeys, tokens, magicLink,
		cfg.Auth.TelegramBotToken, oauthProviders, metricsCollector, appLogger)

	return &App{
		Config:    cfg,
		Server:    server,
		Logger:    appLogger,
		Metrics:   metricsCollector,
		resources: resources,
	}, nil
}

func ledgerOpts(store ledger.AuditStore) []ledger.Option {
	if store == nil {
		return nil
	}
	return []ledger.Option{ledger.WithAuditStore(store)}
}

// Close releases every resource registered during New, in reverse order.
func (a *App) Close() error {
	return a.resources.Close()
}
