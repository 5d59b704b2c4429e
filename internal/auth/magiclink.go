package auth

import (
	"context"
	"strings"
	"time"

	"github.com/kiku-jw/kikuai-gateway/internal/ledger"
)

const magicLinkTTL = 15 * time.Minute

// MagicLinkSender delivers a login URL to an email address. The actual
// delivery mechanism is an external collaborator (e.g. an email provider);
// this interface exists so the magic-link flow can be exercised without one.
type MagicLinkSender interface {
	Send(ctx context.Context, email, url string) error
}

// MagicLinkAuth implements the always-generic-success-create-if-missing
// magic-link flow: whether or not the email is already registered, the
// caller gets the same response, and an account is created for unknown
// addresses before the token is stored.
type MagicLinkAuth struct {
	store  ledger.Ledger
	sender MagicLinkSender
}

// NewMagicLinkAuth builds a MagicLinkAuth persisting tokens via store and
// delivering URLs via sender.
func NewMagicLinkAuth(store ledger.Ledger, sender MagicLinkSender) *MagicLinkAuth {
	return &MagicLinkAuth{store: store, sender: sender}
}

// Request generates a token for email (creating the account if needed),
// stores it with a 15-minute absolute expiry, and asks the sender to
// deliver a login URL built from baseURL. The caller should treat any
// error here as opaque to the end user — never reveal whether the address
// was previously registered.
func (m *MagicLinkAuth) Request(ctx context.Context, email, baseURL string) error {
	normalized := strings.ToLower(strings.TrimSpace(email))
	account, err := m.store.GetOrCreateAccountByEmail(ctx, normalized)
	if err != nil {
		return err
	}

	token, err := randomURLSafeToken(refreshKeyBytes)
	if err != nil {
		return err
	}
	if err := m.store.SetMagicLinkToken(ctx, account.ID, token, time.Now().UTC().Add(magicLinkTTL)); err != nil {
		return err
	}

	url := strings.TrimRight(baseURL, "/") + "/auth/verify?token=" + token
	return m.sender.Send(ctx, normalized, url)
}

// Verify atomically reads and clears the token, returning the account it
// belonged to. An expired or unknown token returns ledger.ErrAccountNotFound.
func (m *MagicLinkAuth) Verify(ctx context.Context, token string) (ledger.Account, error) {
	return m.store.ConsumeMagicLinkToken(ctx, token)
}
