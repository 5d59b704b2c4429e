package payment

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kiku-jw/kikuai-gateway/internal/redisclient"
)

const (
	starsProviderName  = "stars"
	pendingInvoiceTTL  = time.Hour
	defaultStarsPerUSD = 50
)

// StarsConfig configures the star-currency invoice adapter.
type StarsConfig struct {
	// StarsPerUSD is the conversion rate; zero selects defaultStarsPerUSD.
	StarsPerUSD int64
}

// pendingInvoice is the Redis-resident record created by CreateCheckout and
// consumed by ProcessWebhook once the bot reports a successful payment.
type pendingInvoice struct {
	AccountID string            `json:"account_id"`
	AmountUSD string            `json:"amount_usd"`
	Stars     int64             `json:"stars"`
	Metadata  map[string]string `json:"metadata"`
}

// StarsProvider implements Provider for a Telegram-Stars-style in-app
// currency: create_checkout never calls an external API, it only reserves
// a PendingInvoice; the actual invoice is sent by a bot process out of
// band, and ProcessWebhook is driven by that bot's successful_payment
// callback rather than an HTTP webhook.
type StarsProvider struct {
	cfg StarsConfig
	kv  *redisclient.Client
}

// NewStarsProvider wires the star-currency adapter against the shared
// key/value store used for pending invoices.
func NewStarsProvider(cfg StarsConfig, kv *redisclient.Client) *StarsProvider {
	return &StarsProvider{cfg: cfg, kv: kv}
}

func (p *StarsProvider) Name() string { return starsProviderName }

func (p *StarsProvider) starsPerUSD() int64 {
	if p.cfg.StarsPerUSD > 0 {
		return p.cfg.StarsPerUSD
	}
	return defaultStarsPerUSD
}

func pendingInvoiceKey(payload string) string { return "pending_invoice:" + payload }

func (p *StarsProvider) CreateCheckout(ctx context.Context, req CheckoutRequest) (CheckoutResult, error) {
	amountFloat, err := strconv.ParseFloat(req.AmountUSD, 64)
	if err != nil {
		return CheckoutResult{}, &ProviderError{Code: "invalid_amount", Message: err.Error()}
	}
	stars := int64(amountFloat * float64(p.starsPerUSD()))
	if stars <= 0 {
		return CheckoutResult{}, &ProviderError{Code: "invalid_amount", Message: "amount too small for star conversion"}
	}

	key, err := randomHex8()
	if err != nil {
		return CheckoutResult{}, err
	}
	payload := fmt.Sprintf("topup:%s:%d:%s", req.AccountID, time.Now().Unix(), key)

	invoice := pendingInvoice{
		AccountID: req.AccountID,
		AmountUSD: req.AmountUSD,
		Stars:     stars,
		Metadata:  req.Metadata,
	}
	body, err := json.Marshal(invoice)
	if err != nil {
		return CheckoutResult{}, err
	}
	if err := p.kv.Set(ctx, pendingInvoiceKey(payload), string(body), pendingInvoiceTTL); err != nil {
		return CheckoutResult{}, &ProviderError{Code: "store_failed", Message: err.Error()}
	}

	return CheckoutResult{
		PaymentID:      payload,
		Status:         StatusPending,
		InvoicePayload: payload,
	}, nil
}

// VerifyWebhook is trivially true: the bot process is a trusted internal
// collaborator, not an untrusted HTTP caller.
func (p *StarsProvider) VerifyWebhook(ctx context.Context, event WebhookEvent) (bool, error) {
	return true, nil
}

// RetryHostileOnInvalidSignature is false: the bot's callback transport is
// trusted end to end and has no external redelivery policy to protect
// against, unlike the card processors' HTTP webhooks.
func (p *StarsProvider) RetryHostileOnInvalidSignature() bool { return false }

var errStarsPayloadMalformed = errors.New("payment: malformed star invoice payload")

func (p *StarsProvider) ProcessWebhook(ctx context.Context, event WebhookEvent) (*Transaction, error) {
	var callback struct {
		Payload string `json:"payload"`
		PayerID string `json:"payer_account_id"`
		EventID string `json:"event_id"`
	}
	if err := json.Unmarshal(event.Body, &callback); err != nil {
		return nil, fmt.Errorf("payment: parse stars callback: %w", err)
	}
	if !strings.HasPrefix(callback.Payload, "topup:") {
		return nil, errStarsPayloadMalformed
	}
	parts := strings.Split(callback.Payload, ":")
	if len(parts) != 4 {
		return nil, errStarsPayloadMalformed
	}
	payloadAccountID := parts[1]
	if payloadAccountID != callback.PayerID {
		return nil, errStarsPayloadMalformed
	}

	raw, found, err := p.kv.GetDel(ctx, pendingInvoiceKey(callback.Payload))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}

	var invoice pendingInvoice
	if err := json.Unmarshal([]byte(raw), &invoice); err != nil {
		return nil, fmt.Errorf("payment: parse pending invoice: %w", err)
	}

	return &Transaction{
		EventID:   callback.EventID,
		AccountID: invoice.AccountID,
		Type:      TransactionTopUp,
		AmountUSD: invoice.AmountUSD,
		Metadata:  invoice.Metadata,
	}, nil
}

func (p *StarsProvider) GetPaymentStatus(ctx context.Context, paymentID string) (Status, error) {
	_, found, err := p.kv.Get(ctx, pendingInvoiceKey(paymentID))
	if err != nil {
		return "", err
	}
	if found {
		return StatusPending, nil
	}
	return StatusCompleted, nil
}

func (p *StarsProvider) Refund(ctx context.Context, paymentID string, partialAmountUSD string) (bool, error) {
	return false, ErrRefundUnsupported
}

func randomHex8() (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
