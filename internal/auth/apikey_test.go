package auth

import (
	"context"
	"testing"

	"github.com/kiku-jw/kikuai-gateway/internal/ledger"
)

func TestAPIKeyIssueAndVerify(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryLedger()
	account, _ := store.GetOrCreateAccountByEmail(ctx, "dev@example.com")

	issuer := NewAPIKeyIssuer(store, []byte("server-secret"))
	raw, err := issuer.Issue(ctx, account.ID, "cli key", []string{"gateway"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	key, err := issuer.Verify(ctx, raw)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if key.AccountID != account.ID {
		t.Errorf("verified key belongs to %s, want %s", key.AccountID, account.ID)
	}
}

func TestAPIKeyVerifyRejectsTamperedSecret(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryLedger()
	account, _ := store.GetOrCreateAccountByEmail(ctx, "dev2@example.com")

	issuer := NewAPIKeyIssuer(store, []byte("server-secret"))
	raw, _ := issuer.Issue(ctx, account.ID, "", nil)
	tampered := raw[:len(raw)-1] + "0"

	if _, err := issuer.Verify(ctx, tampered); err != ErrAPIKeyMismatch {
		t.Fatalf("want ErrAPIKeyMismatch, got %v", err)
	}
}

func TestAPIKeyVerifyRejectsMalformed(t *testing.T) {
	store := ledger.NewMemoryLedger()
	issuer := NewAPIKeyIssuer(store, []byte("secret"))
	if _, err := issuer.Verify(context.Background(), "no-underscore-here"); err != ErrInvalidAPIKeyFormat {
		t.Fatalf("want ErrInvalidAPIKeyFormat, got %v", err)
	}
}

func TestAPIKeyVerifyRejectsUnknownPrefix(t *testing.T) {
	store := ledger.NewMemoryLedger()
	issuer := NewAPIKeyIssuer(store, []byte("secret"))
	if _, err := issuer.Verify(context.Background(), "kkdoesnotexist_deadbeef"); err != ErrAPIKeyNotFound {
		t.Fatalf("want ErrAPIKeyNotFound, got %v", err)
	}
}

func TestAPIKeyDeactivatedRejected(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryLedger()
	account, _ := store.GetOrCreateAccountByEmail(ctx, "dev3@example.com")
	issuer := NewAPIKeyIssuer(store, []byte("secret"))
	raw, _ := issuer.Issue(ctx, account.ID, "", nil)

	keys, _ := store.ListAPIKeys(ctx, account.ID)
	if len(keys) != 1 {
		t.Fatalf("expected 1 key, got %d", len(keys))
	}
	if err := store.DeactivateAPIKey(ctx, keys[0].ID); err != nil {
		t.Fatalf("DeactivateAPIKey: %v", err)
	}

	if _, err := issuer.Verify(ctx, raw); err != ErrAPIKeyNotFound {
		t.Fatalf("want ErrAPIKeyNotFound after deactivation, got %v", err)
	}
}
