package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const timestampSkew = 300 * time.Second

// verifyBareHMAC checks a webhook signature given as a raw hex digest,
// optionally prefixed "sha256=", against HMAC-SHA256(secret, body).
func verifyBareHMAC(secret []byte, body []byte, signature string) bool {
	provided := strings.TrimPrefix(signature, "sha256=")
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(provided)))
}

// verifyTimestampedHMAC checks a "ts=<unix>;h1=<hex>" signature header,
// rejecting if the timestamp has drifted more than timestampSkew from now.
// signed_payload is "<ts>:<raw_body>".
func verifyTimestampedHMAC(secret []byte, body []byte, header string) bool {
	ts, sig, ok := parseTimestampedHeader(header)
	if !ok {
		return false
	}
	tsUnix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return false
	}
	age := time.Since(time.Unix(tsUnix, 0))
	if age < 0 {
		age = -age
	}
	if age > timestampSkew {
		return false
	}
	signedPayload := fmt.Sprintf("%s:%s", ts, body)
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(sig)))
}

func parseTimestampedHeader(header string) (ts string, sig string, ok bool) {
	for _, part := range strings.Split(header, ";") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "ts":
			ts = kv[1]
		case "h1":
			sig = kv[1]
		}
	}
	return ts, sig, ts != "" && sig != ""
}
