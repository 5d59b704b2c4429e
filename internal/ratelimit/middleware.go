package ratelimit

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	"github.com/kiku-jw/kikuai-gateway/internal/metrics"
)

// Config holds rate limiting configuration.
type Config struct {
	// Global rate limiting (across all callers)
	GlobalEnabled bool
	GlobalLimit   int
	GlobalWindow  time.Duration

	// Per-account rate limiting (identified by the raw API key presented,
	// ahead of the admission pipeline verifying it)
	PerAccountEnabled bool
	PerAccountLimit   int
	PerAccountWindow  time.Duration

	// Per-IP rate limiting (fallback when no API key is presented)
	PerIPEnabled bool
	PerIPLimit   int
	PerIPWindow  time.Duration

	// Metrics collector (optional)
	Metrics *metrics.Metrics
}

// rateLimitResponse represents the JSON error response for rate limit exceeded.
type rateLimitResponse struct {
	Error             string `json:"error"`
	Message           string `json:"message"`
	RetryAfterSeconds int    `json:"retry_after_seconds"`
}

// DefaultConfig returns sensible default rate limits, generous enough to
// not restrict legitimate metered traffic.
func DefaultConfig() Config {
	return Config{
		GlobalEnabled: true,
		GlobalLimit:   1000,
		GlobalWindow:  1 * time.Minute,

		PerAccountEnabled: true,
		PerAccountLimit:   120,
		PerAccountWindow:  1 * time.Minute,

		PerIPEnabled: true,
		PerIPLimit:   60,
		PerIPWindow:  1 * time.Minute,
	}
}

// createRateLimitHandler builds a standardized 429 handler, shared across
// the global, per-account, and per-IP limiters.
func createRateLimitHandler(
	limitType string,
	windowSeconds int,
	extractIdentifier func(*http.Request) string,
	metricsCollector *metrics.Metrics,
) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		identifier := "all"
		if extractIdentifier != nil {
			if id := extractIdentifier(r); id != "" {
				identifier = id
			}
		}

		if metricsCollector != nil {
			metricsCollector.ObserveRateLimit(limitType, identifier)
		}

		var message string
		switch limitType {
		case "global":
			message = "Global rate limit exceeded. Please try again later."
		case "per_account":
			message = "Rate limit exceeded for this API key. Please try again later."
		case "per_ip":
			message = "Rate limit exceeded for this IP. Please try again later."
		default:
			message = "Rate limit exceeded. Please try again later."
		}

		response := rateLimitResponse{
			Error:             "rate_limit_exceeded",
			Message:           message,
			RetryAfterSeconds: windowSeconds,
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", fmt.Sprintf("%d", windowSeconds))
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(response)
	}
}

// GlobalLimiter creates a global rate limiter middleware.
func GlobalLimiter(cfg Config) func(http.Handler) http.Handler {
	if !cfg.GlobalEnabled {
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	return httprate.Limit(
		cfg.GlobalLimit,
		cfg.GlobalWindow,
		httprate.WithLimitHandler(
			createRateLimitHandler("global", int(cfg.GlobalWindow.Seconds()), nil, cfg.Metrics),
		),
	)
}

// AccountLimiter creates a per-API-key rate limiter middleware. It keys on
// the raw X-API-Key header value; the key need not be valid yet — this
// runs ahead of admission and only needs a stable per-caller bucket.
func AccountLimiter(cfg Config) func(http.Handler) http.Handler {
	if !cfg.PerAccountEnabled {
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	return httprate.Limit(
		cfg.PerAccountLimit,
		cfg.PerAccountWindow,
		httprate.WithKeyFuncs(apiKeyExtractor),
		httprate.WithLimitHandler(
			createRateLimitHandler("per_account", int(cfg.PerAccountWindow.Seconds()), extractAPIKeyFromRequest, cfg.Metrics),
		),
	)
}

// IPLimiter creates a per-IP rate limiter middleware (fallback).
func IPLimiter(cfg Config) func(http.Handler) http.Handler {
	if !cfg.PerIPEnabled {
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	return httprate.Limit(
		cfg.PerIPLimit,
		cfg.PerIPWindow,
		httprate.WithKeyByIP(),
		httprate.WithLimitHandler(
			createRateLimitHandler("per_ip", int(cfg.PerIPWindow.Seconds()), func(r *http.Request) string { return r.RemoteAddr }, cfg.Metrics),
		),
	)
}

// apiKeyExtractor is an httprate.KeyFunc keying on the X-API-Key header,
// falling back to IP-based limiting for anonymous requests.
func apiKeyExtractor(r *http.Request) (string, error) {
	key := extractAPIKeyFromRequest(r)
	if key == "" {
		return httprate.KeyByIP(r)
	}
	return "apikey:" + key, nil
}

// extractAPIKeyFromRequest reads the caller's API key, if any.
func extractAPIKeyFromRequest(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	if auth := r.Header.Get("Authorization"); len(auth) > 7 && auth[:7] == "Bearer " {
		return auth[7:]
	}
	return ""
}
