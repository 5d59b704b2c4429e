package paymentengine

import (
	"context"
	"testing"

	"github.com/kiku-jw/kikuai-gateway/internal/callbacks"
	"github.com/kiku-jw/kikuai-gateway/internal/ledger"
	"github.com/kiku-jw/kikuai-gateway/internal/money"
	"github.com/kiku-jw/kikuai-gateway/internal/payment"
)

type stubProvider struct {
	name         string
	txn          *payment.Transaction
	txnErr       error
	valid        bool
	retryHostile bool
	checkout     payment.CheckoutResult
}

func (s *stubProvider) Name() string { return s.name }
func (s *stubProvider) CreateCheckout(ctx context.Context, req payment.CheckoutRequest) (payment.CheckoutResult, error) {
	return s.checkout, nil
}
func (s *stubProvider) VerifyWebhook(ctx context.Context, event payment.WebhookEvent) (bool, error) {
	return s.valid, nil
}
func (s *stubProvider) RetryHostileOnInvalidSignature() bool { return s.retryHostile }
func (s *stubProvider) ProcessWebhook(ctx context.Context, event payment.WebhookEvent) (*payment.Transaction, error) {
	return s.txn, s.txnErr
}
func (s *stubProvider) GetPaymentStatus(ctx context.Context, paymentID string) (payment.Status, error) {
	return payment.StatusPending, nil
}
func (s *stubProvider) Refund(ctx context.Context, paymentID string, partialAmountUSD string) (bool, error) {
	return false, payment.ErrRefundUnsupported
}

type recordingNotifier struct {
	payments    []callbacks.PaymentEvent
	lowBalances []callbacks.LowBalanceEvent
}

func (n *recordingNotifier) PaymentSucceeded(ctx context.Context, event callbacks.PaymentEvent) {
	n.payments = append(n.payments, event)
}
func (n *recordingNotifier) LowBalance(ctx context.Context, event callbacks.LowBalanceEvent) {
	n.lowBalances = append(n.lowBalances, event)
}

func setup(t *testing.T, provider payment.Provider) (*Engine, *ledger.MemoryLedger, *recordingNotifier) {
	t.Helper()
	registry := payment.NewRegistry()
	registry.Register(provider)
	store := ledger.NewMemoryLedger()
	notifier := &recordingNotifier{}
	engine, err := New(registry, store, notifier, Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return engine, store, notifier
}

func TestProcessWebhookCreditsTopUp(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryLedger()
	account, _ := store.GetOrCreateAccountByEmail(ctx, "buyer@example.com")

	registry := payment.NewRegistry()
	provider := &stubProvider{name: "card", valid: true, txn: &payment.Transaction{
		EventID: "evt_1", AccountID: account.ID.String(), Type: payment.TransactionTopUp, AmountUSD: "10.00",
	}}
	registry.Register(provider)
	notifier := &recordingNotifier{}
	engine, _ := New(registry, store, notifier, Config{})

	out, err := engine.ProcessWebhook(ctx, "card", payment.WebhookEvent{Body: []byte("{}")})
	if err != nil {
		t.Fatalf("ProcessWebhook: %v", err)
	}
	if out.StatusCode != 200 {
		t.Fatalf("status = %d, want 200", out.StatusCode)
	}

	balance, _ := store.GetBalance(ctx, account.ID)
	if balance.String() != "10.00000000" {
		t.Errorf("balance = %s, want 10.00000000", balance.String())
	}
	if len(notifier.payments) != 1 {
		t.Fatalf("expected 1 payment notification, got %d", len(notifier.payments))
	}
}

func TestProcessWebhookIdempotentOnRepeatedEventID(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryLedger()
	account, _ := store.GetOrCreateAccountByEmail(ctx, "buyer@example.com")

	registry := payment.NewRegistry()
	provider := &stubProvider{name: "card", valid: true, txn: &payment.Transaction{
		EventID: "evt_dup", AccountID: account.ID.String(), Type: payment.TransactionTopUp, AmountUSD: "10.00",
	}}
	registry.Register(provider)
	engine, _ := New(registry, store, callbacks.NoopNotifier{}, Config{})

	if _, err := engine.ProcessWebhook(ctx, "card", payment.WebhookEvent{}); err != nil {
		t.Fatalf("first ProcessWebhook: %v", err)
	}
	out, err := engine.ProcessWebhook(ctx, "card", payment.WebhookEvent{})
	if err != nil {
		t.Fatalf("second ProcessWebhook: %v", err)
	}
	if out.StatusCode != 200 {
		t.Fatalf("status = %d, want 200", out.StatusCode)
	}

	balance, _ := store.GetBalance(ctx, account.ID)
	if balance.String() != "10.00000000" {
		t.Errorf("balance = %s, want 10.00000000 (must not double-credit)", balance.String())
	}
}

func TestProcessWebhookRejectsInvalidSignature(t *testing.T) {
	engine, _, _ := setup(t, &stubProvider{name: "card", valid: false})

	out, err := engine.ProcessWebhook(context.Background(), "card", payment.WebhookEvent{})
	if err != nil {
		t.Fatalf("ProcessWebhook: %v", err)
	}
	if out.StatusCode != 403 {
		t.Fatalf("status = %d, want 403", out.StatusCode)
	}
}

func TestProcessWebhookRetryHostileProviderGetsSilent200(t *testing.T) {
	engine, _, notifier := setup(t, &stubProvider{name: "card", valid: false, retryHostile: true})

	out, err := engine.ProcessWebhook(context.Background(), "card", payment.WebhookEvent{})
	if err != nil {
		t.Fatalf("ProcessWebhook: %v", err)
	}
	if out.StatusCode != 200 {
		t.Fatalf("status = %d, want 200 for a retry-hostile provider's invalid signature", out.StatusCode)
	}
	if len(notifier.payments) != 0 {
		t.Error("invalid signature must not notify")
	}
}

func TestProcessWebhookIgnoresNilTransaction(t *testing.T) {
	engine, _, notifier := setup(t, &stubProvider{name: "card", valid: true, txn: nil})

	out, err := engine.ProcessWebhook(context.Background(), "card", payment.WebhookEvent{})
	if err != nil {
		t.Fatalf("ProcessWebhook: %v", err)
	}
	if out.StatusCode != 200 {
		t.Fatalf("status = %d, want 200", out.StatusCode)
	}
	if len(notifier.payments) != 0 {
		t.Error("expected no notification for an ignored event")
	}
}

func TestProcessWebhookRefundCreditsNegativeAmount(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryLedger()
	account, _ := store.GetOrCreateAccountByEmail(ctx, "buyer@example.com")
	store.Credit(ctx, account.ID, mustUSD(t, "20.00"), "seed", ledger.TransactionTopUp, "seed")

	registry := payment.NewRegistry()
	provider := &stubProvider{name: "card", valid: true, txn: &payment.Transaction{
		EventID: "evt_refund", AccountID: account.ID.String(), Type: payment.TransactionRefund, AmountUSD: "5.00",
	}}
	registry.Register(provider)
	engine, _ := New(registry, store, callbacks.NoopNotifier{}, Config{})

	if _, err := engine.ProcessWebhook(ctx, "card", payment.WebhookEvent{}); err != nil {
		t.Fatalf("ProcessWebhook: %v", err)
	}

	balance, _ := store.GetBalance(ctx, account.ID)
	if balance.String() != "15.00000000" {
		t.Errorf("balance = %s, want 15.00000000 after refund", balance.String())
	}
}

func TestProcessWebhookFiresLowBalanceNotification(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryLedger()
	account, _ := store.GetOrCreateAccountByEmail(ctx, "buyer@example.com")

	registry := payment.NewRegistry()
	provider := &stubProvider{name: "card", valid: true, txn: &payment.Transaction{
		EventID: "evt_small", AccountID: account.ID.String(), Type: payment.TransactionTopUp, AmountUSD: "2.00",
	}}
	registry.Register(provider)
	notifier := &recordingNotifier{}
	engine, err := New(registry, store, notifier, Config{LowBalanceThresholdUSD: "5.00"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := engine.ProcessWebhook(ctx, "card", payment.WebhookEvent{}); err != nil {
		t.Fatalf("ProcessWebhook: %v", err)
	}
	if len(notifier.lowBalances) != 1 {
		t.Fatalf("expected a low-balance notification, got %d", len(notifier.lowBalances))
	}
}

func TestCreatePaymentShortCircuitsOnIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryLedger()
	account, _ := store.GetOrCreateAccountByEmail(ctx, "buyer@example.com")
	store.Credit(ctx, account.ID, mustUSD(t, "1.00"), "idem-key-1", ledger.TransactionTopUp, "seed")

	registry := payment.NewRegistry()
	provider := &stubProvider{name: "card"}
	registry.Register(provider)
	engine, _ := New(registry, store, callbacks.NoopNotifier{}, Config{})

	result, err := engine.CreatePayment(ctx, CreatePaymentRequest{
		Provider: "card", AccountID: account.ID, AmountUSD: "1.00", IdempotencyKey: "idem-key-1",
	})
	if err != nil {
		t.Fatalf("CreatePayment: %v", err)
	}
	if result.Status != payment.StatusCompleted {
		t.Errorf("status = %s, want COMPLETED for an already-applied idempotency key", result.Status)
	}
}

func mustUSD(t *testing.T, s string) money.Currency {
	t.Helper()
	c, err := money.FromMajor(s)
	if err != nil {
		t.Fatalf("money.FromMajor(%q): %v", s, err)
	}
	return c
}
