package auth

import (
	"context"
	"strings"

	"github.com/kiku-jw/kikuai-gateway/internal/ledger"
)

// ResolveTelegram resolves (creating if needed) the account for a verified
// Telegram identity.
func ResolveTelegram(ctx context.Context, store ledger.Ledger, identity TelegramIdentity) (ledger.Account, error) {
	return store.GetOrCreateAccountByTelegram(ctx, identity.ID)
}

// ResolveOAuth resolves (creating if needed) the account for a verified
// OAuth identity, keyed on provider subject.
func ResolveOAuth(ctx context.Context, store ledger.Ledger, identity OAuthIdentity) (ledger.Account, error) {
	return store.GetOrCreateAccountByOAuthSubject(ctx, identity.Subject, strings.ToLower(identity.Email))
}
