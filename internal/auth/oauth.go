package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/kiku-jw/kikuai-gateway/internal/redisclient"
	"github.com/kiku-jw/kikuai-gateway/internal/rpcutil"
)

const oauthStateTTL = 10 * time.Minute

// ErrOAuthStateInvalid is returned when a callback's state parameter is
// missing, unknown, or already consumed.
var ErrOAuthStateInvalid = errors.New("auth: oauth state invalid or expired")

// OAuthIdentity is what the gateway needs from a verified ID token.
type OAuthIdentity struct {
	Subject string
	Email   string
}

// OAuthProvider wraps one OIDC provider (e.g. Google) for both supported
// flows: frontend-posted ID token verification, and server-side
// authorization-code redirect.
type OAuthProvider struct {
	name     string
	verifier *oidc.IDTokenVerifier
	oauth2   *oauth2.Config
	kv       *redisclient.Client
}

// NewOAuthProvider discovers the provider's OIDC configuration at issuerURL
// and builds both the ID-token verifier and the authorization-code client.
func NewOAuthProvider(ctx context.Context, name, issuerURL, clientID, clientSecret, redirectURL string, kv *redisclient.Client) (*OAuthProvider, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("auth: discover oidc provider %s: %w", name, err)
	}

	return &OAuthProvider{
		name:     name,
		verifier: provider.Verifier(&oidc.Config{ClientID: clientID}),
		oauth2: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       []string{oidc.ScopeOpenID, "email", "profile"},
		},
		kv: kv,
	}, nil
}

// Name returns the provider's route tag (e.g. "google").
func (p *OAuthProvider) Name() string { return p.name }

// VerifyIDToken is the frontend-initiated variant (i): the client already
// holds an ID token and posts it directly.
func (p *OAuthProvider) VerifyIDToken(ctx context.Context, rawIDToken string) (OAuthIdentity, error) {
	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return OAuthIdentity{}, fmt.Errorf("auth: verify id token: %w", err)
	}
	var claims struct {
		Email string `json:"email"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return OAuthIdentity{}, fmt.Errorf("auth: parse id token claims: %w", err)
	}
	return OAuthIdentity{Subject: idToken.Subject, Email: claims.Email}, nil
}

// InitRedirect is step one of variant (ii): mint a CSRF state token, store
// it with a 10-minute TTL, and return the provider authorization URL.
func (p *OAuthProvider) InitRedirect(ctx context.Context) (redirectURL string, err error) {
	state, err := randomURLSafeToken(refreshKeyBytes)
	if err != nil {
		return "", err
	}
	if err := p.kv.Set(ctx, oauthStateKey(p.name, state), "1", oauthStateTTL); err != nil {
		return "", err
	}
	return p.oauth2.AuthCodeURL(state), nil
}

// HandleCallback is step two of variant (ii): validate state, exchange
// code for tokens, and verify the resulting ID token.
func (p *OAuthProvider) HandleCallback(ctx context.Context, state, code string) (OAuthIdentity, error) {
	_, found, err := p.kv.GetDel(ctx, oauthStateKey(p.name, state))
	if err != nil {
		return OAuthIdentity{}, err
	}
	if !found {
		return OAuthIdentity{}, ErrOAuthStateInvalid
	}

	// The provider's token endpoint is a one-shot RPC; transient network
	// blips shouldn't fail the login if a retry would succeed.
	token, err := rpcutil.WithRetry(ctx, func() (*oauth2.Token, error) {
		return p.oauth2.Exchange(ctx, code)
	})
	if err != nil {
		return OAuthIdentity{}, fmt.Errorf("auth: exchange code: %w", err)
	}
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return OAuthIdentity{}, errors.New("auth: token response missing id_token")
	}
	return p.VerifyIDToken(ctx, rawIDToken)
}

func oauthStateKey(provider, state string) string {
	return "oauth_state:" + provider + ":" + state
}
