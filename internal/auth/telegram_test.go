package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"testing"
	"time"
)

func signTelegramPayload(payload map[string]string, botToken string) string {
	dataCheckString := buildDataCheckString(payload)
	secretKey := sha256.Sum256([]byte(botToken))
	mac := hmac.New(sha256.New, secretKey[:])
	mac.Write([]byte(dataCheckString))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyTelegramWidgetAccepted(t *testing.T) {
	botToken := "test-bot-token"
	payload := map[string]string{
		"id":         "12345",
		"first_name": "Ada",
		"username":   "ada",
		"auth_date":  strconv.FormatInt(time.Now().Unix(), 10),
	}
	payload["hash"] = signTelegramPayload(payload, botToken)

	identity, err := VerifyTelegramWidget(payload, botToken)
	if err != nil {
		t.Fatalf("VerifyTelegramWidget: %v", err)
	}
	if identity.ID != 12345 {
		t.Errorf("id = %d, want 12345", identity.ID)
	}
}

func TestVerifyTelegramWidgetRejectsTamperedHash(t *testing.T) {
	botToken := "test-bot-token"
	payload := map[string]string{
		"id":        "12345",
		"auth_date": strconv.FormatInt(time.Now().Unix(), 10),
	}
	payload["hash"] = signTelegramPayload(payload, botToken)
	payload["id"] = "99999" // tamper after signing

	if _, err := VerifyTelegramWidget(payload, botToken); err != ErrTelegramSignatureInvalid {
		t.Fatalf("want ErrTelegramSignatureInvalid, got %v", err)
	}
}

func TestVerifyTelegramWidgetRejectsStale(t *testing.T) {
	botToken := "test-bot-token"
	payload := map[string]string{
		"id":        "12345",
		"auth_date": strconv.FormatInt(time.Now().Add(-48*time.Hour).Unix(), 10),
	}
	payload["hash"] = signTelegramPayload(payload, botToken)

	if _, err := VerifyTelegramWidget(payload, botToken); err != ErrTelegramPayloadStale {
		t.Fatalf("want ErrTelegramPayloadStale, got %v", err)
	}
}

func TestVerifyTelegramWidgetRejectsMissingHash(t *testing.T) {
	payload := map[string]string{"id": "1"}
	if _, err := VerifyTelegramWidget(payload, "token"); err != ErrTelegramPayloadMalformed {
		t.Fatalf("want ErrTelegramPayloadMalformed, got %v", err)
	}
}
