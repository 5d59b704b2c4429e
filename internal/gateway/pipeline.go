// Package gateway implements the gateway pipeline (C7): the per-request
// composition of caller identification, credit/quota admission, upstream
// dispatch, and post-success metering that fronts every metered product
// endpoint.
package gateway

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/kiku-jw/kikuai-gateway/internal/auth"
	"github.com/kiku-jw/kikuai-gateway/internal/catalog"
	apierrors "github.com/kiku-jw/kikuai-gateway/internal/errors"
	"github.com/kiku-jw/kikuai-gateway/internal/ledger"
	"github.com/kiku-jw/kikuai-gateway/internal/logger"
	"github.com/kiku-jw/kikuai-gateway/internal/money"
	"github.com/kiku-jw/kikuai-gateway/internal/quota"
)

// Pipeline composes the dependencies every metered request needs: it
// holds no per-request state.
type Pipeline struct {
	apiKeys    *auth.APIKeyIssuer
	ledger     ledger.Ledger
	quota      quotaEngine
	catalogue  catalog.Catalogue
	dispatcher Dispatcher
	topupURL   string
}

// New builds a gateway pipeline.
func New(apiKeys *auth.APIKeyIssuer, store ledger.Ledger, quotaEngine *quota.Engine, catalogue catalog.Catalogue, dispatcher Dispatcher, topupURL string) *Pipeline {
	return &Pipeline{
		apiKeys:    apiKeys,
		ledger:     store,
		quota:      quotaEngine,
		catalogue:  catalogue,
		dispatcher: dispatcher,
		topupURL:   topupURL,
	}
}

// Request describes a single metered call: which product it targets, its
// nominal unit count, and an optional caller-supplied idempotency key.
type Request struct {
	Product        string
	Units          int64
	IdempotencyKey string
}

// Handle runs the full five-step pipeline for a single inbound request and
// writes the terminal HTTP response itself.
func (p *Pipeline) Handle(w http.ResponseWriter, r *http.Request, req Request) {
	ctx := r.Context()
	requestID := logger.GetRequestID(ctx)

	product, err := p.catalogue.Get(ctx, req.Product)
	if err != nil {
		apierrors.WriteError(w, apierrors.ErrCodeProductNotFound, "unknown product", requestID)
		return
	}

	units := req.Units
	if units <= 0 {
		units = 1
	}

	id := identify(ctx, r, p.apiKeys)

	decision, err := p.admit(ctx, id, product, units)
	if err != nil {
		if decision.storeUnavailable {
			apierrors.WriteError(w, apierrors.ErrCodeServiceUnavailable, "quota store unavailable", requestID)
			return
		}
		log.Error().Err(err).Str("product", product.ID).Msg("gateway: admission check failed")
		apierrors.WriteError(w, apierrors.ErrCodeInternalError, "admission check failed", requestID)
		return
	}
	if !decision.allowed {
		if id.Anonymous {
			writeFreeLimitExceeded(w, decision.quotaResult, requestID)
		} else {
			writeInsufficientCredits(w, decision.balance, decision.price, p.topupURL, requestID)
		}
		return
	}

	upstream, err := p.dispatcher.Dispatch(ctx, product.ID, r)
	if err != nil {
		log.Warn().Err(err).Str("product", product.ID).Msg("gateway: upstream dispatch failed")
		apierrors.WriteError(w, apierrors.ErrCodeServiceUnavailable, "upstream unavailable", requestID)
		return
	}
	if upstream.StatusCode >= 500 {
		apierrors.WriteError(w, apierrors.ErrCodeServiceUnavailable, "upstream unavailable", requestID)
		return
	}
	if upstream.StatusCode < 200 || upstream.StatusCode >= 300 {
		writeUpstreamPassthrough(w, upstream)
		return
	}

	cost := decision.price
	metadata := map[string]any{"units": units}
	if id.Anonymous {
		cost = money.Zero()
	} else if upstream.ActualCostUSD != "" {
		if actual, convErr := money.FromMajor(upstream.ActualCostUSD); convErr == nil {
			metadata["reported_cost_usd"] = upstream.ActualCostUSD
			cost = actual
		}
	}

	idempotencyKey := req.IdempotencyKey
	if idempotencyKey == "" {
		idempotencyKey = defaultIdempotencyKey(product.ID, id)
	}

	balance, err := p.recordUsage(ctx, id, product, units, cost, idempotencyKey, metadata)
	if err != nil {
		log.Error().Err(err).Str("product", product.ID).Str("idempotency_key", idempotencyKey).Msg("gateway: metering failed after successful upstream call")
		apierrors.WriteError(w, apierrors.ErrCodeInternalError, "metering failed", requestID)
		return
	}

	writeMeteredResponse(w, upstream, id, cost, balance, decision.quotaResult, requestID)
}

// defaultIdempotencyKey is used when the caller did not supply one: it is
// random per call, so retries must supply their own key to dedupe.
func defaultIdempotencyKey(product string, id Identity) string {
	var b [32]byte
	_, _ = rand.Read(b[:])
	subject := "anon"
	if !id.Anonymous {
		subject = id.AccountID.String()
	}
	return product + "_" + subject + "_" + hex.EncodeToString(b[:])
}

func writeInsufficientCredits(w http.ResponseWriter, balance, price money.Currency, topupURL, requestID string) {
	balanceCredits, _ := balance.ToCredits()
	priceCredits, _ := price.ToCredits()
	writeJSON(w, http.StatusPaymentRequired, map[string]any{
		"code":             "INSUFFICIENT_CREDITS",
		"balance_credits":  balanceCredits,
		"required_credits": priceCredits,
		"topup_url":        topupURL,
		"request_id":       requestID,
	})
}

func writeFreeLimitExceeded(w http.ResponseWriter, result quota.Result, requestID string) {
	writeJSON(w, http.StatusTooManyRequests, map[string]any{
		"code":              "FREE_LIMIT_EXCEEDED",
		"remaining_daily":   result.RemainingDaily,
		"remaining_monthly": result.RemainingMonthly,
		"limit_daily":       result.LimitDaily,
		"limit_monthly":     result.LimitMonthly,
		"resets_at":         result.ResetsDaily,
		"request_id":        requestID,
	})
}

// writeUpstreamPassthrough propagates a non-2xx, non-5xx upstream status
// with its JSON body when present, else its raw body as text.
func writeUpstreamPassthrough(w http.ResponseWriter, upstream *upstreamResponse) {
	contentType := upstream.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/plain; charset=utf-8"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(upstream.StatusCode)
	_, _ = w.Write(upstream.Body)
}

// writeMeteredResponse annotates the upstream's successful response with
// the billing/free_tier headers and body fields required by step 5.
func writeMeteredResponse(w http.ResponseWriter, upstream *upstreamResponse, id Identity, cost, balance money.Currency, quotaResult quota.Result, requestID string) {
	var body map[string]any
	if err := json.Unmarshal(upstream.Body, &body); err != nil || body == nil {
		body = map[string]any{}
	}

	if id.Anonymous {
		body["free_tier"] = map[string]any{
			"used_today":  quotaResult.LimitDaily - quotaResult.RemainingDaily,
			"limit_today": quotaResult.LimitDaily,
			"used_month":  quotaResult.LimitMonthly - quotaResult.RemainingMonthly,
			"limit_month": quotaResult.LimitMonthly,
			"resets_at":   quotaResult.ResetsDaily,
		}
	} else {
		creditsUsed, _ := cost.ToCredits()
		creditsRemaining, _ := balance.ToCredits()
		// §6: these headers carry the bare numeric value, not the
		// human-readable "N credits" string money.FormatCredits renders
		// for body/email text.
		w.Header().Set("X-Credits-Used", strconv.FormatInt(creditsUsed, 10))
		w.Header().Set("X-Credits-Balance", strconv.FormatInt(creditsRemaining, 10))
		body["billing"] = map[string]any{
			"credits_used":      creditsUsed,
			"credits_remaining": creditsRemaining,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-ID", requestID)
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSON(w http.ResponseWriter, status int, payload map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
