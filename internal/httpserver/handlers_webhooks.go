package httpserver

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/kiku-jw/kikuai-gateway/internal/errors"
	"github.com/kiku-jw/kikuai-gateway/internal/logger"
	"github.com/kiku-jw/kikuai-gateway/internal/payment"
)

// webhookSignatureHeaders maps a provider tag to the HTTP header carrying
// its signature, read verbatim and handed to the provider for verification.
var webhookSignatureHeaders = map[string]string{
	"card":  "Stripe-Signature",
	"stars": "X-Telegram-Bot-Api-Secret-Token",
}

// webhook receives an inbound payment-provider callback and delegates to
// the payment engine: POST /webhooks/{provider}.
func (h *handlers) webhook(w http.ResponseWriter, r *http.Request) {
	requestID := logger.GetRequestID(r.Context())
	providerName := chi.URLParam(r, "provider")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		apierrors.WriteError(w, apierrors.ErrCodeInvalidField, "failed to read webhook body", requestID)
		return
	}

	signature := r.Header.Get(webhookSignatureHeaders[providerName])
	headers := make(map[string]string, len(r.Header))
	for k := range r.Header {
		headers[k] = r.Header.Get(k)
	}

	outcome, err := h.engine.ProcessWebhook(r.Context(), providerName, payment.WebhookEvent{
		Body:      body,
		Signature: signature,
		Headers:   headers,
	})
	if err != nil {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Str("provider", providerName).Msg("httpserver: webhook processing failed")
		apierrors.WriteError(w, apierrors.ErrCodeUpstreamError, "webhook processing failed", requestID)
		return
	}

	w.WriteHeader(outcome.StatusCode)
	_, _ = w.Write([]byte(outcome.Message))
}
