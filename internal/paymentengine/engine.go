// Package paymentengine implements the payment engine (C6): resolving a
// provider to start a checkout, and turning verified provider webhooks into
// ledger credits with idempotency and low-balance notification.
package paymentengine

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/kiku-jw/kikuai-gateway/internal/callbacks"
	"github.com/kiku-jw/kikuai-gateway/internal/ledger"
	"github.com/kiku-jw/kikuai-gateway/internal/money"
	"github.com/kiku-jw/kikuai-gateway/internal/payment"
)

const defaultLowBalanceThresholdUSD = "5.00"

// Engine ties a provider registry to the ledger and the notification
// dispatcher.
type Engine struct {
	registry            *payment.Registry
	store               ledger.Ledger
	notifier            callbacks.Notifier
	lowBalanceThreshold money.Currency
}

// Config configures low-balance notification behavior.
type Config struct {
	// LowBalanceThresholdUSD triggers a LowBalance notification when a
	// credit leaves the account's balance at or below this amount. Empty
	// selects defaultLowBalanceThresholdUSD.
	LowBalanceThresholdUSD string
}

// New builds a payment engine. notifier may be callbacks.NoopNotifier{}.
func New(registry *payment.Registry, store ledger.Ledger, notifier callbacks.Notifier, cfg Config) (*Engine, error) {
	thresholdUSD := cfg.LowBalanceThresholdUSD
	if thresholdUSD == "" {
		thresholdUSD = defaultLowBalanceThresholdUSD
	}
	threshold, err := money.FromMajor(thresholdUSD)
	if err != nil {
		return nil, fmt.Errorf("paymentengine: invalid low balance threshold: %w", err)
	}
	return &Engine{registry: registry, store: store, notifier: notifier, lowBalanceThreshold: threshold}, nil
}

// CreatePaymentRequest starts a new checkout for an account.
type CreatePaymentRequest struct {
	Provider       string
	AccountID      uuid.UUID
	AmountUSD      string
	IdempotencyKey string
	Metadata       map[string]string
	SuccessURL     string
	CancelURL      string
}

// CreatePayment short-circuits on a reused idempotency key, otherwise
// resolves the provider and delegates checkout creation verbatim — no
// money moves here; the ledger is only touched by a later webhook.
func (e *Engine) CreatePayment(ctx context.Context, req CreatePaymentRequest) (payment.CheckoutResult, error) {
	if existing, found, err := e.store.TransactionByIdempotencyKey(ctx, req.IdempotencyKey); err != nil {
		return payment.CheckoutResult{}, err
	} else if found {
		return payment.CheckoutResult{
			PaymentID: existing.IdempotencyKey,
			Status:    payment.StatusCompleted,
		}, nil
	}

	provider, err := e.registry.Get(req.Provider)
	if err != nil {
		return payment.CheckoutResult{}, err
	}

	return provider.CreateCheckout(ctx, payment.CheckoutRequest{
		AccountID:      req.AccountID.String(),
		AmountUSD:      req.AmountUSD,
		IdempotencyKey: req.IdempotencyKey,
		Metadata:       req.Metadata,
		SuccessURL:     req.SuccessURL,
		CancelURL:      req.CancelURL,
	})
}

// WebhookOutcome tells the HTTP layer what status code to answer with.
// StatusCode 5xx signals the caller should surface a transient failure so
// the provider retries; 2xx/4xx are terminal for this delivery attempt.
type WebhookOutcome struct {
	StatusCode int
	Message    string
}

func outcome(code int, msg string) WebhookOutcome { return WebhookOutcome{StatusCode: code, Message: msg} }

// invalidSignatureOutcome answers a bad signature with 200 for a
// retry-hostile provider (one that would otherwise redeliver the same
// invalid event forever) and 403 otherwise (§4.6 step 2, §8 scenario 6).
// Either way the caller must not mutate ledger or quota state.
func invalidSignatureOutcome(provider payment.Provider) WebhookOutcome {
	if provider.RetryHostileOnInvalidSignature() {
		return outcome(200, "invalid signature")
	}
	return outcome(403, "invalid signature")
}

// ProcessWebhook resolves providerName to a registered provider, verifies
// and parses the event, and — for a TOPUP or REFUND transaction — credits
// the ledger exactly once per provider-supplied event id.
func (e *Engine) ProcessWebhook(ctx context.Context, providerName string, event payment.WebhookEvent) (WebhookOutcome, error) {
	provider, err := e.registry.Get(providerName)
	if err != nil {
		return outcome(404, "unknown provider"), nil
	}

	valid, err := provider.VerifyWebhook(ctx, event)
	if err != nil {
		return WebhookOutcome{}, fmt.Errorf("paymentengine: verify webhook: %w", err)
	}
	if !valid {
		return invalidSignatureOutcome(provider), nil
	}

	txn, err := provider.ProcessWebhook(ctx, event)
	if err != nil {
		if err == payment.ErrInvalidSignature {
			return invalidSignatureOutcome(provider), nil
		}
		log.Warn().Err(err).Str("provider", providerName).Msg("paymentengine: permanent webhook processing error")
		return outcome(200, "unprocessable"), nil
	}
	if txn == nil {
		return outcome(200, "ignored"), nil
	}

	accountID, err := uuid.Parse(txn.AccountID)
	if err != nil {
		log.Warn().Err(err).Str("provider", providerName).Str("event_id", txn.EventID).Msg("paymentengine: webhook transaction has an invalid account id")
		return outcome(200, "unprocessable"), nil
	}

	idempotencyKey := fmt.Sprintf("%s:%s", providerName, txn.EventID)
	if _, found, err := e.store.TransactionByIdempotencyKey(ctx, idempotencyKey); err != nil {
		return WebhookOutcome{}, fmt.Errorf("paymentengine: idempotency lookup: %w", err)
	} else if found {
		return outcome(200, "already processed"), nil
	}

	amount, err := money.FromMajor(txn.AmountUSD)
	if err != nil {
		log.Warn().Err(err).Str("provider", providerName).Str("event_id", txn.EventID).Msg("paymentengine: webhook transaction has an unparsable amount")
		return outcome(200, "unprocessable"), nil
	}

	ledgerType := ledger.TransactionTopUp
	if txn.Type == payment.TransactionRefund {
		ledgerType = ledger.TransactionRefund
		amount = money.FromAtomic(-amount.Atomic)
	}

	description := fmt.Sprintf("%s payment %s", providerName, txn.EventID)
	balance, err := e.store.Credit(ctx, accountID, amount, idempotencyKey, ledgerType, description)
	if err != nil {
		return WebhookOutcome{}, fmt.Errorf("paymentengine: credit ledger: %w", err)
	}

	e.notifier.PaymentSucceeded(ctx, callbacks.PaymentEvent{
		AccountID:     accountID.String(),
		Provider:      providerName,
		AmountUSD:     txn.AmountUSD,
		NewBalanceUSD: balance.String(),
		Metadata:      txn.Metadata,
	})

	if balance.Cmp(e.lowBalanceThreshold) <= 0 {
		e.notifier.LowBalance(ctx, callbacks.LowBalanceEvent{
			AccountID:    accountID.String(),
			BalanceUSD:   balance.String(),
			ThresholdUSD: e.lowBalanceThreshold.String(),
		})
	}

	return outcome(200, "ok"), nil
}
