package auth

import (
	"context"
	"testing"

	"github.com/kiku-jw/kikuai-gateway/internal/ledger"
)

type recordingSender struct {
	sentTo  string
	sentURL string
}

func (s *recordingSender) Send(ctx context.Context, email, url string) error {
	s.sentTo = email
	s.sentURL = url
	return nil
}

func TestMagicLinkRequestCreatesAccountIfMissing(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryLedger()
	sender := &recordingSender{}
	auth := NewMagicLinkAuth(store, sender)

	if err := auth.Request(ctx, "New.User@Example.com", "https://app.example.com"); err != nil {
		t.Fatalf("Request: %v", err)
	}
	if sender.sentTo != "new.user@example.com" {
		t.Errorf("email not normalized: %q", sender.sentTo)
	}

	account, err := store.GetOrCreateAccountByEmail(ctx, "new.user@example.com")
	if err != nil {
		t.Fatalf("account lookup: %v", err)
	}
	if account.MagicLinkToken == nil {
		t.Error("expected a magic link token to be stored on the account")
	}
}

func TestMagicLinkVerifyConsumesTokenOnce(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryLedger()
	sender := &recordingSender{}
	auth := NewMagicLinkAuth(store, sender)
	auth.Request(ctx, "user@example.com", "https://app.example.com")

	const prefix = "https://app.example.com/auth/verify?token="
	token := sender.sentURL[len(prefix):]

	account, err := auth.Verify(ctx, token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if account.Email == nil || *account.Email != "user@example.com" {
		t.Errorf("resolved wrong account: %+v", account)
	}

	if _, err := auth.Verify(ctx, token); err != ledger.ErrAccountNotFound {
		t.Fatalf("token should be single-use, got %v", err)
	}
}
