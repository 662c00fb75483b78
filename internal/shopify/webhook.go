package shopify

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"
)

// HMACHeader carries the base64 HMAC-SHA256 of the raw webhook body
const HMACHeader = "X-Shopify-Hmac-Sha256"

// VerifyWebhook checks the webhook signature against the shared secret
func VerifyWebhook(secret string, body []byte, header string) bool {
	if secret == "" || header == "" {
		return false
	}
	expected := SignWebhook(secret, body)
	// constant-time compare
	return hmac.Equal([]byte(expected), []byte(strings.TrimSpace(header)))
}

// SignWebhook computes the header value for body (used by tests and local replay tools)
func SignWebhook(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
