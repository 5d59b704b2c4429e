// Package httpserver exposes the gateway's HTTP surface: authentication,
// account self-service, the metered product routes, provider webhooks,
// and operational endpoints.
package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/kiku-jw/kikuai-gateway/internal/auth"
	"github.com/kiku-jw/kikuai-gateway/internal/config"
	"github.com/kiku-jw/kikuai-gateway/internal/gateway"
	"github.com/kiku-jw/kikuai-gateway/internal/idempotency"
	"github.com/kiku-jw/kikuai-gateway/internal/ledger"
	"github.com/kiku-jw/kikuai-gateway/internal/metrics"
	"github.com/kiku-jw/kikuai-gateway/internal/paymentengine"
	"github.com/kiku-jw/kikuai-gateway/internal/ratelimit"
)

// Server wires handlers, middleware, and dependencies.
type Server struct {
	handlers
	httpServer *http.Server
}

type handlers struct {
	cfg              *config.Config
	pipeline         *gateway.Pipeline
	engine           *paymentengine.Engine
	store            ledger.Ledger
	apiKeys          *auth.APIKeyIssuer
	tokens           *auth.TokenIssuer
	magicLink        *auth.MagicLinkAuth
	telegram         string // bot token; "" disables the /auth/telegram route
	oauth            map[string]*auth.OAuthProvider
	metrics          *metrics.Metrics
	logger           zerolog.Logger
	idempotentReplay idempotency.Store
}

// New builds the HTTP server with a configured router.
func New(
	cfg *config.Config,
	pipeline *gateway.Pipeline,
	engine *paymentengine.Engine,
	store ledger.Ledger,
	apiKeys *auth.APIKeyIssuer,
	tokens *auth.TokenIssuer,
	magicLink *auth.MagicLinkAuth,
	telegramBotToken string,
	oauthProviders map[string]*auth.OAuthProvider,
	metricsCollector *metrics.Metrics,
	appLogger zerolog.Logger,
) *Server {
	router := chi.NewRouter()

	s := &Server{
		handlers: handlers{
			cfg:       cfg,
			pipeline:  pipeline,
			engine:    engine,
			store:     store,
			apiKeys:   apiKeys,
			tokens:    tokens,
			magicLink: magicLink,
			telegram:  telegramBotToken,
			oauth:     oauthProviders,
			metrics:   metricsCollector,
			logger:    appLogger,
			idempotentReplay: idempotency.NewMemoryStore(),
		},
		httpServer: &http.Server{
			Addr:         cfg.Server.Address,
			ReadTimeout:  cfg.Server.ReadTimeout.Duration,
			WriteTimeout: cfg.Server.WriteTimeout.Duration,
			IdleTimeout:  cfg.Server.IdleTimeout.Duration,
			Handler:      router,
		},
	}

	ConfigureRouter(router, s.handlers)

	return s
}

// ConfigureRouter attaches every gateway route to an existing router.
func ConfigureRouter(router chi.Router, h handlers) {
	if router == nil {
		return
	}

	cfg := h.cfg

	if len(cfg.Server.CORSAllowedOrigins) > 0 {
		router.Use(cors.New(cors.Options{
			AllowedOrigins:   cfg.Server.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			ExposedHeaders:   []string{"X-Request-ID", "X-Credits-Used", "X-Credits-Balance"},
			AllowCredentials: false,
			MaxAge:           300,
		}).Handler)
	}

	router.Use(securityHeadersMiddleware)
	router.Use(gateway.TraceMiddleware(h.logger, h.store, h.apiKeys))
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	rateLimitCfg := ratelimit.Config{
		GlobalEnabled: cfg.RateLimit.GlobalEnabled,
		GlobalLimit:   cfg.RateLimit.GlobalLimit,
		GlobalWindow:  cfg.RateLimit.GlobalWindow.Duration,

		PerAccountEnabled: cfg.RateLimit.PerAccountEnabled,
		PerAccountLimit:   cfg.RateLimit.PerAccountLimit,
		PerAccountWindow:  cfg.RateLimit.PerAccountWindow.Duration,

		PerIPEnabled: cfg.RateLimit.PerIPEnabled,
		PerIPLimit:   cfg.RateLimit.PerIPLimit,
		PerIPWindow:  cfg.RateLimit.PerIPWindow.Duration,

		Metrics: h.metrics,
	}
	router.Use(ratelimit.GlobalLimiter(rateLimitCfg))
	router.Use(ratelimit.AccountLimiter(rateLimitCfg))
	router.Use(ratelimit.IPLimiter(rateLimitCfg))

	prefix := cfg.Server.RoutePrefix

	// Lightweight endpoints: health, metrics.
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(5 * time.Second))
		r.Get(prefix+"/healthz", h.health)
		r.With(adminMetricsAuth(cfg.Server.AdminMetricsAPIKey)).Handle(prefix+"/metrics", promhttp.Handler())
	})

	// Auth endpoints.
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(15 * time.Second))
		r.Post(prefix+"/auth/magic-link", h.authMagicLinkRequest)
		r.Post(prefix+"/auth/verify", h.authMagicLinkVerify)
		r.Post(prefix+"/auth/refresh", h.authRefresh)
		r.Post(prefix+"/auth/logout", h.authLogout)
		r.Get(prefix+"/auth/me", h.authMe)

		if h.telegram != "" {
			r.Post(prefix+"/auth/telegram", h.authTelegram)
		}

		for name := range h.oauth {
			r.Post(prefix+"/auth/"+name, h.authOAuthToken(name))
			r.Get(prefix+"/auth/"+name+"/init", h.authOAuthInit(name))
			r.Get(prefix+"/auth/"+name+"/callback", h.authOAuthCallback(name))
		}
	})

	// Account self-service endpoints.
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(15 * time.Second))
		r.Get(prefix+"/balance", h.getBalance)
		r.Get(prefix+"/usage", h.getUsage)
		r.Get(prefix+"/history", h.getHistory)
	})

	// Payment provider webhooks: stable URLs, never versioned.
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Post(prefix+"/webhooks/{provider}", h.webhook)
	})

	// Metered product routes, dispatched through the gateway pipeline.
	// idempotency.Middleware replays a cached response for a repeated
	// Idempotency-Key without re-entering the pipeline at all; it is a
	// performance fast-path in front of the ledger's own idempotency_key
	// uniqueness constraint (§8 P2/P3), which stays authoritative even if
	// this cache is cold or evicted.
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(120 * time.Second))
		r.Use(idempotency.Middleware(h.idempotentReplay, idempotency.DefaultTTL))
		r.HandleFunc(prefix+"/{product}/*", h.meteredProduct)
	})
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
