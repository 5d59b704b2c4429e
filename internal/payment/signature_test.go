package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"testing"
	"time"
)

func TestVerifyBareHMACAcceptsPrefixedAndBareSignature(t *testing.T) {
	secret := []byte("whsec_test")
	body := []byte(`{"type":"checkout.completed"}`)
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	digest := hex.EncodeToString(mac.Sum(nil))

	if !verifyBareHMAC(secret, body, digest) {
		t.Error("bare digest should verify")
	}
	if !verifyBareHMAC(secret, body, "sha256="+digest) {
		t.Error("sha256=-prefixed digest should verify")
	}
}

func TestVerifyBareHMACRejectsTamperedBody(t *testing.T) {
	secret := []byte("whsec_test")
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte("original"))
	digest := hex.EncodeToString(mac.Sum(nil))

	if verifyBareHMAC(secret, []byte("tampered"), digest) {
		t.Error("signature over different body should not verify")
	}
}

func TestVerifyTimestampedHMACWithinWindow(t *testing.T) {
	secret := []byte("ts-secret")
	body := []byte("raw-body")
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(fmt.Sprintf("%s:%s", ts, body)))
	digest := hex.EncodeToString(mac.Sum(nil))

	header := fmt.Sprintf("ts=%s;h1=%s", ts, digest)
	if !verifyTimestampedHMAC(secret, body, header) {
		t.Error("fresh timestamped signature should verify")
	}
}

func TestVerifyTimestampedHMACRejectsStale(t *testing.T) {
	secret := []byte("ts-secret")
	body := []byte("raw-body")
	ts := strconv.FormatInt(time.Now().Add(-10*time.Minute).Unix(), 10)
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(fmt.Sprintf("%s:%s", ts, body)))
	digest := hex.EncodeToString(mac.Sum(nil))

	header := fmt.Sprintf("ts=%s;h1=%s", ts, digest)
	if verifyTimestampedHMAC(secret, body, header) {
		t.Error("signature older than the skew window must be rejected")
	}
}

func TestVerifyTimestampedHMACRejectsMalformedHeader(t *testing.T) {
	if verifyTimestampedHMAC([]byte("s"), []byte("b"), "garbage") {
		t.Error("malformed header should never verify")
	}
}
