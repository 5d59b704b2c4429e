package callbacks

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// Notifier delivers account events to a user-configured callback URL.
type Notifier interface {
	PaymentSucceeded(ctx context.Context, event PaymentEvent)
	LowBalance(ctx context.Context, event LowBalanceEvent)
}

// NoopNotifier ignores all events.
type NoopNotifier struct{}

func (NoopNotifier) PaymentSucceeded(context.Context, PaymentEvent) {}
func (NoopNotifier) LowBalance(context.Context, LowBalanceEvent)    {}

// PaymentEvent reports a webhook-driven ledger credit (top-up or refund).
// EventID is the idempotency key; webhook consumers must use it to avoid
// double-processing on retried deliveries.
type PaymentEvent struct {
	EventID        string            `json:"eventId"`
	EventType      string            `json:"eventType"` // "payment.succeeded" or "payment.refunded"
	EventTimestamp time.Time         `json:"eventTimestamp"`
	AccountID      string            `json:"accountId"`
	Provider       string            `json:"provider"`
	AmountUSD      string            `json:"amountUsd"`
	NewBalanceUSD  string            `json:"newBalanceUsd"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	PaidAt         time.Time         `json:"paidAt"`
}

// LowBalanceEvent fires once a credit leaves the account below the
// low-balance notification threshold.
type LowBalanceEvent struct {
	EventID        string    `json:"eventId"`
	EventType      string    `json:"eventType"` // always "balance.low"
	EventTimestamp time.Time `json:"eventTimestamp"`
	AccountID      string    `json:"accountId"`
	BalanceUSD     string    `json:"balanceUsd"`
	ThresholdUSD   string    `json:"thresholdUsd"`
}

// ErrCallbackDisabled is returned when no callback URL is configured.
var ErrCallbackDisabled = errors.New("callbacks: disabled")

// generateEventID creates a unique event identifier for idempotency.
// Format: "evt_" + 24 hex characters (12 random bytes).
func generateEventID() string {
	randomBytes := make([]byte, 12)
	if _, err := rand.Read(randomBytes); err != nil {
		return fmt.Sprintf("evt_%d", time.Now().UnixNano())
	}
	return "evt_" + hex.EncodeToString(randomBytes)
}

func preparePaymentEvent(event *PaymentEvent, eventType string) {
	if event.EventID == "" {
		event.EventID = generateEventID()
	}
	event.EventType = eventType
	if event.EventTimestamp.IsZero() {
		event.EventTimestamp = time.Now().UTC()
	}
	if event.PaidAt.IsZero() {
		event.PaidAt = time.Now().UTC()
	}
}

func prepareLowBalanceEvent(event *LowBalanceEvent) {
	if event.EventID == "" {
		event.EventID = generateEventID()
	}
	event.EventType = "balance.low"
	if event.EventTimestamp.IsZero() {
		event.EventTimestamp = time.Now().UTC()
	}
}
