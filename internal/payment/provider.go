// Package payment implements the payment-provider capability set (C5):
// checkout creation, webhook verification/processing, status lookup, and
// refunds, with a registry keyed on provider tag.
package payment

import (
	"context"
	"errors"
	"time"
)

// Status is the provider-neutral lifecycle of a payment.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusRefunded   Status = "REFUNDED"
	StatusCancelled  Status = "CANCELLED"
)

// ErrInvalidSignature is returned by VerifyWebhook/ProcessWebhook when the
// signature does not match.
var ErrInvalidSignature = errors.New("payment: invalid webhook signature")

// ProviderError wraps a provider-reported failure with a stable code.
type ProviderError struct {
	Code    string
	Message string
}

func (e *ProviderError) Error() string { return e.Code + ": " + e.Message }

// CheckoutRequest is the input to CreateCheckout.
type CheckoutRequest struct {
	AccountID      string
	AmountUSD      string // decimal major-unit string, e.g. "10.00"
	IdempotencyKey string
	Metadata       map[string]string
	SuccessURL     string
	CancelURL      string
}

// CheckoutResult is the output of CreateCheckout.
type CheckoutResult struct {
	PaymentID      string
	Status         Status
	CheckoutURL    string
	InvoicePayload string // set by providers that hand off to a bot/client SDK instead of a URL
	ExpiresAt      *time.Time
}

// WebhookEvent is a raw inbound webhook: the provider reads body/header
// itself to verify and parse.
type WebhookEvent struct {
	Body      []byte
	Signature string
	Headers   map[string]string
}

// Transaction is the provider-neutral result of processing a webhook: a
// credit (TOPUP) or a REFUND to apply to the ledger.
type Transaction struct {
	EventID   string
	AccountID string
	Type      TransactionKind
	AmountUSD string
	Metadata  map[string]string
}

// TransactionKind distinguishes a webhook-driven ledger credit's nature.
type TransactionKind string

const (
	TransactionTopUp  TransactionKind = "TOPUP"
	TransactionRefund TransactionKind = "REFUND"
)

// Provider is the capability set every payment backend implements (§4.5).
type Provider interface {
	// Name returns the provider's stable route tag (e.g. "card", "stars").
	Name() string

	// CreateCheckout begins a payment; it never touches the ledger.
	CreateCheckout(ctx context.Context, req CheckoutRequest) (CheckoutResult, error)

	// VerifyWebhook reports whether the signature on event is valid.
	VerifyWebhook(ctx context.Context, event WebhookEvent) (bool, error)

	// RetryHostileOnInvalidSignature reports whether this provider will
	// silently retry a webhook delivery forever until it sees a 2xx
	// response. The engine answers such providers' invalid-signature
	// deliveries with 200 instead of 403 to avoid a retry storm (§4.6 step 2).
	RetryHostileOnInvalidSignature() bool

	// ProcessWebhook parses a verified event into a Transaction, or nil if
	// the event type is not one this provider credits for.
	ProcessWebhook(ctx context.Context, event WebhookEvent) (*Transaction, error)

	// GetPaymentStatus looks up a payment's current status.
	GetPaymentStatus(ctx context.Context, paymentID string) (Status, error)

	// Refund reverses a payment, optionally partially. Providers that don't
	// support refunds return ErrRefundUnsupported.
	Refund(ctx context.Context, paymentID string, partialAmountUSD string) (bool, error)
}

// ErrRefundUnsupported is returned by providers with no refund capability.
var ErrRefundUnsupported = errors.New("payment: provider does not support refunds")

// Registry maps a provider tag to its instance, used by the payment engine
// to resolve both create_payment requests and inbound webhook routes.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds or replaces a provider under its own Name().
func (r *Registry) Register(p Provider) {
	r.providers[p.Name()] = p
}

// ErrProviderNotFound is returned by Get for an unregistered tag.
var ErrProviderNotFound = errors.New("payment: provider not registered")

// Get resolves a provider by tag.
func (r *Registry) Get(name string) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, ErrProviderNotFound
	}
	return p, nil
}
