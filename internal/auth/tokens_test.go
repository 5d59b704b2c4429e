package auth

import (
	"testing"

	"github.com/google/uuid"
)

// This file has no TokenIssuer tests that need a live Redis; only the
// pure-logic paths (claims signing/parsing, digest key derivation) are
// exercised here.

func TestSignAndVerifyAccessToken(t *testing.T) {
	issuer := NewTokenIssuer([]byte("test-secret"), nil)
	id := int64(99)
	token, err := issuer.signAccessToken(uuid.New().String(), &id)
	if err != nil {
		t.Fatalf("signAccessToken: %v", err)
	}

	claims, err := issuer.VerifyAccessToken(token)
	if err != nil {
		t.Fatalf("VerifyAccessToken: %v", err)
	}
	if claims.Type != "access" {
		t.Errorf("type = %q, want access", claims.Type)
	}
	if claims.TelegramID == nil || *claims.TelegramID != 99 {
		t.Errorf("telegram id not preserved: %+v", claims.TelegramID)
	}
}

func TestVerifyAccessTokenRejectsWrongSecret(t *testing.T) {
	issuer := NewTokenIssuer([]byte("secret-a"), nil)
	token, _ := issuer.signAccessToken(uuid.New().String(), nil)

	other := NewTokenIssuer([]byte("secret-b"), nil)
	if _, err := other.VerifyAccessToken(token); err == nil {
		t.Fatal("expected verification failure across different secrets")
	}
}

func TestRefreshKeyIsDigestNotRawToken(t *testing.T) {
	raw := "some-raw-refresh-token-value"
	key := refreshKey(raw)
	if key == "refresh_token:"+raw {
		t.Fatal("refresh key must not embed the raw token, only its digest")
	}
}

