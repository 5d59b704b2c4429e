package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"
)

// telegramAuthMaxAge is the widest allowed age of a login widget payload
// before it is rejected as stale.
const telegramAuthMaxAge = 24 * time.Hour

var (
	// ErrTelegramSignatureInvalid is returned when the recomputed MAC does
	// not match the payload's hash field.
	ErrTelegramSignatureInvalid = errors.New("auth: telegram widget signature invalid")

	// ErrTelegramPayloadStale is returned when auth_date is older than 24h.
	ErrTelegramPayloadStale = errors.New("auth: telegram widget payload stale")

	// ErrTelegramPayloadMalformed is returned when required fields are missing.
	ErrTelegramPayloadMalformed = errors.New("auth: telegram widget payload malformed")
)

// TelegramIdentity is the subset of the widget payload the gateway needs
// once verification succeeds.
type TelegramIdentity struct {
	ID        int64
	Username  string
	FirstName string
	LastName  string
}

// VerifyTelegramWidget validates a Telegram login-widget payload: it
// recomputes HMAC-SHA256(sha256(botToken), data_check_string) over the
// alphabetically sorted "k=v\n"-joined fields (excluding "hash" and any
// null values) and compares in constant time, then checks auth_date
// freshness.
func VerifyTelegramWidget(payload map[string]string, botToken string) (TelegramIdentity, error) {
	hash, ok := payload["hash"]
	if !ok || hash == "" {
		return TelegramIdentity{}, ErrTelegramPayloadMalformed
	}

	dataCheckString := buildDataCheckString(payload)

	secretKey := sha256.Sum256([]byte(botToken))
	mac := hmac.New(sha256.New, secretKey[:])
	mac.Write([]byte(dataCheckString))
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(hash))) {
		return TelegramIdentity{}, ErrTelegramSignatureInvalid
	}

	authDateRaw, ok := payload["auth_date"]
	if !ok {
		return TelegramIdentity{}, ErrTelegramPayloadMalformed
	}
	authDateUnix, err := strconv.ParseInt(authDateRaw, 10, 64)
	if err != nil {
		return TelegramIdentity{}, ErrTelegramPayloadMalformed
	}
	if time.Since(time.Unix(authDateUnix, 0)) > telegramAuthMaxAge {
		return TelegramIdentity{}, ErrTelegramPayloadStale
	}

	idRaw, ok := payload["id"]
	if !ok {
		return TelegramIdentity{}, ErrTelegramPayloadMalformed
	}
	id, err := strconv.ParseInt(idRaw, 10, 64)
	if err != nil {
		return TelegramIdentity{}, ErrTelegramPayloadMalformed
	}

	return TelegramIdentity{
		ID:        id,
		Username:  payload["username"],
		FirstName: payload["first_name"],
		LastName:  payload["last_name"],
	}, nil
}

func buildDataCheckString(payload map[string]string) string {
	keys := make([]string, 0, len(payload))
	for k, v := range payload {
		if k == "hash" || v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+payload[k])
	}
	return strings.Join(pairs, "\n")
}
