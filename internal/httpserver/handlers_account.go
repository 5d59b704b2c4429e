package httpserver

import (
	"net/http"
	"strconv"
	"time"

	apierrors "github.com/kiku-jw/kikuai-gateway/internal/errors"
	"github.com/kiku-jw/kikuai-gateway/internal/logger"
)

// getBalance reports the caller's current balance: GET /balance.
func (h *handlers) getBalance(w http.ResponseWriter, r *http.Request) {
	requestID := logger.GetRequestID(r.Context())
	account, err := h.resolveCaller(r)
	if err != nil {
		apierrors.WriteError(w, apierrors.ErrCodeUnauthenticated, "authentication required", requestID)
		return
	}

	balance, err := h.store.GetBalance(r.Context(), account.ID)
	if err != nil {
		apierrors.WriteError(w, apierrors.ErrCodeInternalError, "failed to load balance", requestID)
		return
	}
	credits, _ := balance.ToCredits()

	writeJSON(w, http.StatusOK, map[string]any{
		"balance_credits": credits,
		"balance_usd":     balance.String(),
	})
}

// getUsage reports the caller's usage by product for ?month=YYYY-MM
// (default: the current UTC month): GET /usage.
func (h *handlers) getUsage(w http.ResponseWriter, r *http.Request) {
	requestID := logger.GetRequestID(r.Context())
	account, err := h.resolveCaller(r)
	if err != nil {
		apierrors.WriteError(w, apierrors.ErrCodeUnauthenticated, "authentication required", requestID)
		return
	}

	yearMonth := r.URL.Query().Get("month")
	if yearMonth == "" {
		yearMonth = time.Now().UTC().Format("2006-01")
	}

	summary, err := h.store.UsageSummary(r.Context(), account.ID, yearMonth)
	if err != nil {
		apierrors.WriteError(w, apierrors.ErrCodeInternalError, "failed to load usage", requestID)
		return
	}

	products := make(map[string]any, len(summary))
	for productID, usage := range summary {
		costCredits, _ := usage.Cost.ToCredits()
		products[productID] = map[string]any{
			"units":          usage.Units,
			"cost_credits":   costCredits,
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"month":    yearMonth,
		"products": products,
	})
}

// getHistory lists the caller's transactions, most recent first: GET /history.
func (h *handlers) getHistory(w http.ResponseWriter, r *http.Request) {
	requestID := logger.GetRequestID(r.Context())
	account, err := h.resolveCaller(r)
	if err != nil {
		apierrors.WriteError(w, apierrors.ErrCodeUnauthenticated, "authentication required", requestID)
		return
	}

	limit := 50
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = v
	}
	transactions, err := h.store.ListTransactions(r.Context(), account.ID, limit)
	if err != nil {
		apierrors.WriteError(w, apierrors.ErrCodeInternalError, "failed to load history", requestID)
		return
	}

	entries := make([]map[string]any, 0, len(transactions))
	for _, txn := range transactions {
		entries = append(entries, map[string]any{
			"id":          txn.ID.String(),
			"type":        txn.Type,
			"amount_usd":  txn.Amount.String(),
			"product_id":  txn.ProductID,
			"description": txn.Description,
			"created_at":  txn.CreatedAt,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"transactions": entries})
}
