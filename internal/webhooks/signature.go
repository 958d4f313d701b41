package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Headers set on every job event delivery.
const (
	HeaderSignature = "X-Signature"
	HeaderEventType = "X-Event-Type"
	HeaderJobID     = "X-Job-Id"
)

// VerifyHMAC checks the X-Signature of a job event: HMAC-SHA256 of the raw body under the
// job's callback secret.
func VerifyHMAC(secret string, body []byte, provided string) bool {
	b, err := hex.DecodeString(provided)
	if err != nil {
		return false
	}
	return hmac.Equal(sign(secret, body), b)
}

// SignHMAC returns the lowercase hex X-Signature of a job event body.
func SignHMAC(secret string, body []byte) string {
	return hex.EncodeToString(sign(secret, body))
}

func sign(secret string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}
