package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/kiku-jw/kikuai-gateway/internal/redisclient"
)

const (
	accessTokenTTL  = 15 * time.Minute
	refreshTokenTTL = 7 * 24 * time.Hour
	refreshKeyBytes = 32 // 256 bits
)

// ErrInvalidRefreshToken is returned when a refresh token is unknown,
// expired, or already rotated away.
var ErrInvalidRefreshToken = errors.New("auth: invalid or expired refresh token")

// AccessClaims are the JWT claims minted into every access token.
type AccessClaims struct {
	Subject    string `json:"sub"`
	TelegramID *int64 `json:"tid,omitempty"`
	Type       string `json:"type"`
	jwt.RegisteredClaims
}

// TokenIssuer mints access/refresh token pairs and rotates refresh tokens
// on use. Refresh tokens are opaque 256-bit values; only their SHA-256
// digest is stored in Redis, keyed as refresh_token:<digest>.
type TokenIssuer struct {
	secret []byte
	kv     *redisclient.Client
}

// NewTokenIssuer builds a TokenIssuer signing access tokens with secret
// (HS256) and persisting refresh tokens in kv.
func NewTokenIssuer(secret []byte, kv *redisclient.Client) *TokenIssuer {
	return &TokenIssuer{secret: secret, kv: kv}
}

// TokenPair is the access+refresh pair returned on login or refresh.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64 // seconds until the access token expires
}

// Mint issues a fresh token pair for accountID, optionally attaching a
// legacy Telegram id to the access-token claims.
func (t *TokenIssuer) Mint(ctx context.Context, accountID uuid.UUID, telegramID *int64) (TokenPair, error) {
	access, err := t.signAccessToken(accountID.String(), telegramID)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := t.issueRefreshToken(ctx, accountID)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh, ExpiresIn: int64(accessTokenTTL.Seconds())}, nil
}

func (t *TokenIssuer) signAccessToken(subject string, telegramID *int64) (string, error) {
	now := time.Now().UTC()
	claims := AccessClaims{
		Subject:    subject,
		TelegramID: telegramID,
		Type:       "access",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(accessTokenTTL)),
			Subject:   subject,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}

// VerifyAccessToken parses and validates an access token, returning its claims.
func (t *TokenIssuer) VerifyAccessToken(raw string) (AccessClaims, error) {
	var claims AccessClaims
	token, err := jwt.ParseWithClaims(raw, &claims, func(tok *jwt.Token) (interface{}, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("auth: unexpected signing method")
		}
		return t.secret, nil
	})
	if err != nil || !token.Valid {
		return AccessClaims{}, errors.New("auth: invalid access token")
	}
	if claims.Type != "access" {
		return AccessClaims{}, errors.New("auth: wrong token type")
	}
	return claims, nil
}

func refreshDigest(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func refreshKey(raw string) string {
	return "refresh_token:" + refreshDigest(raw)
}

func (t *TokenIssuer) issueRefreshToken(ctx context.Context, accountID uuid.UUID) (string, error) {
	raw, err := randomURLSafeToken(refreshKeyBytes)
	if err != nil {
		return "", err
	}
	if err := t.kv.Set(ctx, refreshKey(raw), accountID.String(), refreshTokenTTL); err != nil {
		return "", err
	}
	return raw, nil
}

// Refresh consumes a refresh token: it looks the token up, deletes it, and
// returns the account id it was issued for. It mints nothing itself; callers
// re-fetch the account and call Mint for the new pair.
func (t *TokenIssuer) Refresh(ctx context.Context, rawRefreshToken string) (accountID uuid.UUID, err error) {
	value, found, err := t.kv.Get(ctx, refreshKey(rawRefreshToken))
	if err != nil {
		return uuid.UUID{}, err
	}
	if !found {
		return uuid.UUID{}, ErrInvalidRefreshToken
	}
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.UUID{}, ErrInvalidRefreshToken
	}
	_ = t.kv.Delete(ctx, refreshKey(rawRefreshToken))
	return id, nil
}

// Revoke deletes a refresh token without rotation, for logout. It does not
// error on an already-expired or unknown token.
func (t *TokenIssuer) Revoke(ctx context.Context, rawRefreshToken string) error {
	return t.kv.Delete(ctx, refreshKey(rawRefreshToken))
}

func randomURLSafeToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
