package payment

import (
	"context"
	"testing"
)

func TestStarsProviderNameAndRefundUnsupported(t *testing.T) {
	p := NewStarsProvider(StarsConfig{}, nil)
	if p.Name() != "stars" {
		t.Errorf("name = %q, want stars", p.Name())
	}
	if _, err := p.Refund(context.Background(), "topup:a:1:deadbeef", ""); err != ErrRefundUnsupported {
		t.Fatalf("want ErrRefundUnsupported, got %v", err)
	}
}

func TestStarsProviderVerifyWebhookAlwaysTrue(t *testing.T) {
	p := NewStarsProvider(StarsConfig{}, nil)
	ok, err := p.VerifyWebhook(context.Background(), WebhookEvent{})
	if err != nil || !ok {
		t.Error("bot-driven transport is trusted end-to-end; verification must always succeed")
	}
}

func TestStarsProviderIsNotRetryHostile(t *testing.T) {
	p := NewStarsProvider(StarsConfig{}, nil)
	if p.RetryHostileOnInvalidSignature() {
		t.Error("bot-driven transport has no external redelivery policy to protect against")
	}
}

func TestStarsProviderProcessWebhookRejectsMalformedPayload(t *testing.T) {
	p := NewStarsProvider(StarsConfig{}, nil)
	body := []byte(`{"payload":"not-a-topup-payload","payer_account_id":"acct_1","event_id":"evt_1"}`)

	if _, err := p.ProcessWebhook(context.Background(), WebhookEvent{Body: body}); err != errStarsPayloadMalformed {
		t.Fatalf("want errStarsPayloadMalformed, got %v", err)
	}
}

func TestStarsProviderProcessWebhookRejectsPayerMismatch(t *testing.T) {
	p := NewStarsProvider(StarsConfig{}, nil)
	body := []byte(`{"payload":"topup:acct_1:1700000000:deadbeef","payer_account_id":"acct_2","event_id":"evt_1"}`)

	if _, err := p.ProcessWebhook(context.Background(), WebhookEvent{Body: body}); err != errStarsPayloadMalformed {
		t.Fatalf("want errStarsPayloadMalformed for payer/account mismatch, got %v", err)
	}
}

func TestStarsProviderCreateCheckoutRejectsTooSmallAmount(t *testing.T) {
	p := NewStarsProvider(StarsConfig{StarsPerUSD: 50}, nil)
	_, err := p.CreateCheckout(context.Background(), CheckoutRequest{AccountID: "acct_1", AmountUSD: "0.00"})
	if err == nil {
		t.Fatal("expected an error for an amount that converts to zero stars")
	}
}
