package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func signCardBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestCardProviderVerifyWebhook(t *testing.T) {
	p := &CardProvider{cfg: CardConfig{WebhookSecret: "whsec_123"}}
	body := []byte(`{"type":"checkout.session.completed"}`)
	event := WebhookEvent{Body: body, Signature: signCardBody("whsec_123", body)}

	ok, err := p.VerifyWebhook(context.Background(), event)
	if err != nil {
		t.Fatalf("VerifyWebhook: %v", err)
	}
	if !ok {
		t.Error("expected valid signature to verify")
	}
}

func TestCardProviderVerifyWebhookRejectsWrongSecret(t *testing.T) {
	p := &CardProvider{cfg: CardConfig{WebhookSecret: "whsec_123"}}
	body := []byte(`{"type":"checkout.session.completed"}`)
	event := WebhookEvent{Body: body, Signature: signCardBody("whsec_wrong", body)}

	ok, _ := p.VerifyWebhook(context.Background(), event)
	if ok {
		t.Error("expected signature signed with a different secret to fail")
	}
}

func TestCardProviderIsRetryHostile(t *testing.T) {
	p := &CardProvider{}
	if !p.RetryHostileOnInvalidSignature() {
		t.Error("card provider should be retry-hostile per §8 scenario 6")
	}
}

func TestCardProviderProcessWebhookCreditsOnCompletedCheckout(t *testing.T) {
	p := &CardProvider{cfg: CardConfig{WebhookSecret: "whsec_123"}}
	body := []byte(`{"id":"evt_1","type":"checkout.session.completed","data":{"object":{"id":"cs_1","amount_total":1999,"metadata":{"account_id":"acct_1","idempotency_key":"idem_1"}}}}`)
	event := WebhookEvent{Body: body, Signature: signCardBody("whsec_123", body)}

	txn, err := p.ProcessWebhook(context.Background(), event)
	if err != nil {
		t.Fatalf("ProcessWebhook: %v", err)
	}
	if txn == nil {
		t.Fatal("expected a transaction")
	}
	if txn.AccountID != "acct_1" {
		t.Errorf("account id = %q, want acct_1", txn.AccountID)
	}
	if txn.AmountUSD != "19.99" {
		t.Errorf("amount = %q, want 19.99", txn.AmountUSD)
	}
	if txn.Type != TransactionTopUp {
		t.Errorf("type = %q, want TOPUP", txn.Type)
	}
}

func TestCardProviderProcessWebhookIgnoresUninterestingEventType(t *testing.T) {
	p := &CardProvider{cfg: CardConfig{WebhookSecret: "whsec_123"}}
	body := []byte(`{"id":"evt_2","type":"invoice.created","data":{"object":{"id":"cs_2","metadata":{"account_id":"acct_1"}}}}`)
	event := WebhookEvent{Body: body, Signature: signCardBody("whsec_123", body)}

	txn, err := p.ProcessWebhook(context.Background(), event)
	if err != nil {
		t.Fatalf("ProcessWebhook: %v", err)
	}
	if txn != nil {
		t.Error("expected nil transaction for a non-payment event type")
	}
}

func TestCardProviderProcessWebhookRejectsBadSignature(t *testing.T) {
	p := &CardProvider{cfg: CardConfig{WebhookSecret: "whsec_123"}}
	body := []byte(`{"id":"evt_3","type":"checkout.session.completed","data":{"object":{}}}`)
	event := WebhookEvent{Body: body, Signature: "sha256=deadbeef"}

	if _, err := p.ProcessWebhook(context.Background(), event); err != ErrInvalidSignature {
		t.Fatalf("want ErrInvalidSignature, got %v", err)
	}
}
