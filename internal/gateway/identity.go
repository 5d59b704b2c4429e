package gateway

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/kiku-jw/kikuai-gateway/internal/auth"
)

// Identity is the resolved caller of a metered request: either an account
// (API key presented and valid) or an anonymous IP-keyed identity.
type Identity struct {
	Anonymous bool
	AccountID uuid.UUID
	ClientIP  string
}

// identityKey is the free-tier identity string for an anonymous caller:
// the normalized client IP. For an authenticated caller it is unused —
// quota is never consulted once an account is resolved.
func (id Identity) identityKey() string {
	return id.ClientIP
}

// identify resolves the caller per step 1: an API key in X-API-Key takes
// priority; a present-but-invalid key is logged and never falls back to
// treating the key's bearer as anonymous-with-privilege — it simply
// degrades to the same anonymous identity an absent key would produce.
func identify(ctx context.Context, r *http.Request, apiKeys *auth.APIKeyIssuer) Identity {
	clientIP := clientIP(r)

	if raw := r.Header.Get("X-API-Key"); raw != "" {
		key, err := apiKeys.Verify(ctx, raw)
		if err != nil {
			log.Warn().Err(err).Str("client_ip", clientIP).Msg("gateway: rejected api key, continuing anonymous")
			return Identity{Anonymous: true, ClientIP: clientIP}
		}
		return Identity{Anonymous: false, AccountID: key.AccountID, ClientIP: clientIP}
	}

	return Identity{Anonymous: true, ClientIP: clientIP}
}

// clientIP normalizes the caller's address, preferring a trusted proxy
// header (CF-Connecting-IP, then the first hop of X-Forwarded-For) over
// the raw connection address.
func clientIP(r *http.Request) string {
	if ip := r.Header.Get("CF-Connecting-IP"); ip != "" {
		return strings.TrimSpace(ip)
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first := strings.SplitN(fwd, ",", 2)[0]
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}
