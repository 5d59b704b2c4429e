package httpserver

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/kiku-jw/kikuai-gateway/internal/auth"
	apierrors "github.com/kiku-jw/kikuai-gateway/internal/errors"
	"github.com/kiku-jw/kikuai-gateway/internal/ledger"
	"github.com/kiku-jw/kikuai-gateway/internal/logger"
)

// errUnauthenticated is returned by resolveCaller when neither an access
// token nor an API key resolves to an account.
var errUnauthenticated = errors.New("httpserver: unauthenticated")

type magicLinkRequest struct {
	Email string `json:"email"`
}

// authMagicLinkRequest always answers success, whether or not the address
// is registered: POST /auth/magic-link.
func (h *handlers) authMagicLinkRequest(w http.ResponseWriter, r *http.Request) {
	requestID := logger.GetRequestID(r.Context())
	var req magicLinkRequest
	if err := decodeJSON(r.Body, &req); err != nil || strings.TrimSpace(req.Email) == "" {
		apierrors.WriteError(w, apierrors.ErrCodeMissingField, "email is required", requestID)
		return
	}

	if err := h.magicLink.Request(r.Context(), req.Email, h.cfg.Server.FrontendURL); err != nil {
		log := logger.FromContext(r.Context())
		log.Warn().Err(err).Msg("httpserver: magic link request failed")
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "sent"})
}

type magicLinkVerifyRequest struct {
	Token string `json:"token"`
}

// authMagicLinkVerify exchanges a one-time token for a session: POST /auth/verify.
func (h *handlers) authMagicLinkVerify(w http.ResponseWriter, r *http.Request) {
	requestID := logger.GetRequestID(r.Context())
	var req magicLinkVerifyRequest
	if err := decodeJSON(r.Body, &req); err != nil || req.Token == "" {
		apierrors.WriteError(w, apierrors.ErrCodeMissingField, "token is required", requestID)
		return
	}

	account, err := h.magicLink.Verify(r.Context(), req.Token)
	if err != nil {
		apierrors.WriteError(w, apierrors.ErrCodeInvalidToken, "invalid or expired token", requestID)
		return
	}

	h.writeSession(w, r, account)
}

// authTelegram verifies a Telegram login-widget payload: POST /auth/telegram.
func (h *handlers) authTelegram(w http.ResponseWriter, r *http.Request) {
	requestID := logger.GetRequestID(r.Context())
	var payload map[string]string
	if err := decodeJSON(r.Body, &payload); err != nil {
		apierrors.WriteError(w, apierrors.ErrCodeInvalidField, "invalid telegram payload", requestID)
		return
	}

	identity, err := auth.VerifyTelegramWidget(payload, h.telegram)
	if err != nil {
		apierrors.WriteError(w, apierrors.ErrCodeInvalidSignature, err.Error(), requestID)
		return
	}

	account, err := auth.ResolveTelegram(r.Context(), h.store, identity)
	if err != nil {
		apierrors.WriteError(w, apierrors.ErrCodeInternalError, "account resolution failed", requestID)
		return
	}

	h.writeSession(w, r, account)
}

type oauthTokenRequest struct {
	IDToken string `json:"id_token"`
}

// authOAuthToken is variant (i): the frontend already holds an ID token
// and posts it directly. POST /auth/<provider>.
func (h *handlers) authOAuthToken(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := logger.GetRequestID(r.Context())
		provider := h.oauth[name]

		var req oauthTokenRequest
		if err := decodeJSON(r.Body, &req); err != nil || req.IDToken == "" {
			apierrors.WriteError(w, apierrors.ErrCodeMissingField, "id_token is required", requestID)
			return
		}

		identity, err := provider.VerifyIDToken(r.Context(), req.IDToken)
		if err != nil {
			apierrors.WriteError(w, apierrors.ErrCodeInvalidToken, "invalid id token", requestID)
			return
		}

		account, err := auth.ResolveOAuth(r.Context(), h.store, identity)
		if err != nil {
			apierrors.WriteError(w, apierrors.ErrCodeInternalError, "account resolution failed", requestID)
			return
		}

		h.writeSession(w, r, account)
	}
}

// authOAuthInit is step one of variant (ii): redirect to the provider's
// authorization URL. GET /auth/<provider>/init.
func (h *handlers) authOAuthInit(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := logger.GetRequestID(r.Context())
		provider := h.oauth[name]

		redirectURL, err := provider.InitRedirect(r.Context())
		if err != nil {
			apierrors.WriteError(w, apierrors.ErrCodeInternalError, "failed to start oauth flow", requestID)
			return
		}
		http.Redirect(w, r, redirectURL, http.StatusFound)
	}
}

// authOAuthCallback is step two of variant (ii): validate state, mint a
// session, and redirect to the frontend with tokens in the URL fragment.
// GET /auth/<provider>/callback.
func (h *handlers) authOAuthCallback(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := logger.GetRequestID(r.Context())
		provider := h.oauth[name]

		state := r.URL.Query().Get("state")
		code := r.URL.Query().Get("code")

		identity, err := provider.HandleCallback(r.Context(), state, code)
		if err != nil {
			apierrors.WriteError(w, apierrors.ErrCodeInvalidToken, "oauth callback failed", requestID)
			return
		}

		account, err := auth.ResolveOAuth(r.Context(), h.store, identity)
		if err != nil {
			apierrors.WriteError(w, apierrors.ErrCodeInternalError, "account resolution failed", requestID)
			return
		}

		pair, err := h.tokens.Mint(r.Context(), account.ID, account.TelegramID)
		if err != nil {
			apierrors.WriteError(w, apierrors.ErrCodeInternalError, "failed to mint session", requestID)
			return
		}

		redirectURL := strings.TrimRight(h.cfg.Server.FrontendURL, "/") +
			"/auth/callback#access_token=" + pair.AccessToken +
			"&refresh_token=" + pair.RefreshToken
		http.Redirect(w, r, redirectURL, http.StatusFound)
	}
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// authRefresh rotates a refresh token for a new session pair: POST /auth/refresh.
func (h *handlers) authRefresh(w http.ResponseWriter, r *http.Request) {
	requestID := logger.GetRequestID(r.Context())
	var req refreshRequest
	if err := decodeJSON(r.Body, &req); err != nil || req.RefreshToken == "" {
		apierrors.WriteError(w, apierrors.ErrCodeMissingField, "refresh_token is required", requestID)
		return
	}

	accountID, err := h.tokens.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		apierrors.WriteError(w, apierrors.ErrCodeInvalidToken, "invalid or expired refresh token", requestID)
		return
	}

	account, err := h.store.GetAccount(r.Context(), accountID)
	if err != nil {
		apierrors.WriteError(w, apierrors.ErrCodeAccountNotFound, "account not found", requestID)
		return
	}

	pair, err := h.tokens.Mint(r.Context(), account.ID, account.TelegramID)
	if err != nil {
		apierrors.WriteError(w, apierrors.ErrCodeInternalError, "failed to mint session", requestID)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
		"expires_in":    pair.ExpiresIn,
	})
}

// authLogout revokes a refresh token: POST /auth/logout.
func (h *handlers) authLogout(w http.ResponseWriter, r *http.Request) {
	requestID := logger.GetRequestID(r.Context())
	var req refreshRequest
	if err := decodeJSON(r.Body, &req); err != nil || req.RefreshToken == "" {
		apierrors.WriteError(w, apierrors.ErrCodeMissingField, "refresh_token is required", requestID)
		return
	}

	if err := h.tokens.Revoke(r.Context(), req.RefreshToken); err != nil {
		apierrors.WriteError(w, apierrors.ErrCodeInternalError, "logout failed", requestID)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "logged_out"})
}

// authMe reports the caller's own account summary: GET /auth/me.
func (h *handlers) authMe(w http.ResponseWriter, r *http.Request) {
	requestID := logger.GetRequestID(r.Context())
	account, err := h.resolveCaller(r)
	if err != nil {
		apierrors.WriteError(w, apierrors.ErrCodeUnauthenticated, "authentication required", requestID)
		return
	}

	balanceCredits, _ := account.Balance.ToCredits()
	writeJSON(w, http.StatusOK, map[string]any{
		"account_id":     account.ID.String(),
		"email":          account.Email,
		"telegram_id":    account.TelegramID,
		"balance_credits": balanceCredits,
		"debug_opt_in":   account.DebugOptIn,
		"created_at":     account.CreatedAt,
	})
}

// writeSession mints and returns a fresh token pair for account.
func (h *handlers) writeSession(w http.ResponseWriter, r *http.Request, account ledger.Account) {
	requestID := logger.GetRequestID(r.Context())
	pair, err := h.tokens.Mint(r.Context(), account.ID, account.TelegramID)
	if err != nil {
		apierrors.WriteError(w, apierrors.ErrCodeInternalError, "failed to mint session", requestID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
		"expires_in":    pair.ExpiresIn,
		"account_id":    account.ID.String(),
	})
}

// resolveCaller authenticates via "Authorization: Bearer <access token>" or
// the X-API-Key header, in that order, for the account self-service routes.
func (h *handlers) resolveCaller(r *http.Request) (ledger.Account, error) {
	if raw := bearerToken(r); raw != "" {
		claims, err := h.tokens.VerifyAccessToken(raw)
		if err == nil {
			accountID, parseErr := uuid.Parse(claims.Subject)
			if parseErr == nil {
				return h.store.GetAccount(r.Context(), accountID)
			}
		}
	}

	if raw := r.Header.Get("X-API-Key"); raw != "" {
		key, err := h.apiKeys.Verify(r.Context(), raw)
		if err == nil {
			return h.store.GetAccount(r.Context(), key.AccountID)
		}
	}

	return ledger.Account{}, errUnauthenticated
}

// bearerToken extracts the token from an "Authorization: Bearer <token>" header.
func bearerToken(r *http.Request) string {
	v := r.Header.Get("Authorization")
	if len(v) > 7 && strings.EqualFold(v[:7], "Bearer ") {
		return v[7:]
	}
	return ""
}
