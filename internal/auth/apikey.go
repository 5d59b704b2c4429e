// Package auth implements account authentication (C4): API key issuance
// and verification, session token minting/refresh, magic-link login,
// Telegram login-widget verification, and OAuth (frontend ID-token and
// server-redirect variants).
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/kiku-jw/kikuai-gateway/internal/ledger"
)

// apiKeySecretBytes is 256 bits of entropy for the raw secret half of an API key.
const apiKeySecretBytes = 32

var (
	// ErrInvalidAPIKeyFormat is returned when a presented key isn't
	// "<prefix>_<secret>".
	ErrInvalidAPIKeyFormat = errors.New("auth: malformed api key")

	// ErrAPIKeyNotFound is returned when no active key matches the prefix.
	ErrAPIKeyNotFound = errors.New("auth: api key not found or inactive")

	// ErrAPIKeyMismatch is returned when the MAC comparison fails.
	ErrAPIKeyMismatch = errors.New("auth: api key verification failed")
)

// APIKeyIssuer mints and verifies API keys keyed to a server-wide HMAC
// secret. The raw secret is returned to the caller exactly once at
// creation time; only prefix and MAC are ever persisted.
type APIKeyIssuer struct {
	store        ledger.Ledger
	serverSecret []byte
}

// NewAPIKeyIssuer builds an issuer backed by store, using serverSecret as
// the HMAC key for all prefix/secret pairs.
func NewAPIKeyIssuer(store ledger.Ledger, serverSecret []byte) *APIKeyIssuer {
	return &APIKeyIssuer{store: store, serverSecret: serverSecret}
}

func (i *APIKeyIssuer) mac(secret string) string {
	h := hmac.New(sha256.New, i.serverSecret)
	h.Write([]byte(secret))
	return hex.EncodeToString(h.Sum(nil))
}

// Issue creates a new API key for accountID, persists prefix+MAC, and
// returns the raw "<prefix>_<secret>" string — the only time the secret is
// ever available in plaintext.
func (i *APIKeyIssuer) Issue(ctx context.Context, accountID uuid.UUID, label string, scopes []string) (raw string, err error) {
	prefix := randomPrefix()
	secret, err := randomSecret()
	if err != nil {
		return "", fmt.Errorf("auth: generate api key secret: %w", err)
	}

	key := ledger.APIKey{
		ID:        uuid.New(),
		AccountID: accountID,
		Prefix:    prefix,
		Hash:      i.mac(secret),
		Label:     label,
		Scopes:    scopes,
		Active:    true,
	}
	if err := i.store.CreateAPIKey(ctx, key); err != nil {
		return "", err
	}
	return prefix + "_" + secret, nil
}

// Verify splits raw into prefix/secret, looks the prefix up, and compares
// the MAC in constant time. On success it asynchronously updates
// last_used_at and returns the resolved key.
func (i *APIKeyIssuer) Verify(ctx context.Context, raw string) (ledger.APIKey, error) {
	idx := strings.IndexByte(raw, '_')
	if idx <= 0 || idx == len(raw)-1 {
		return ledger.APIKey{}, ErrInvalidAPIKeyFormat
	}
	prefix, secret := raw[:idx], raw[idx+1:]

	key, found, err := i.store.APIKeyByPrefix(ctx, prefix)
	if err != nil {
		return ledger.APIKey{}, err
	}
	if !found || !key.Active {
		return ledger.APIKey{}, ErrAPIKeyNotFound
	}

	if !hmac.Equal([]byte(i.mac(secret)), []byte(key.Hash)) {
		return ledger.APIKey{}, ErrAPIKeyMismatch
	}

	go func(keyID uuid.UUID) {
		_ = i.store.TouchAPIKeyLastUsed(context.Background(), keyID)
	}(key.ID)

	return key, nil
}

func randomPrefix() string {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return "kk" + hex.EncodeToString(b[:])
}

func randomSecret() (string, error) {
	b := make([]byte, apiKeySecretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
