package channel

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// signBody computes the hex HMAC-SHA256 of the raw body under the channel's
// shared secret.
func signBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// validSignature compares a presented signature against the expected HMAC.
// A "sha256=" prefix on the presented value is tolerated.
func validSignature(secret string, body []byte, presented string) bool {
	if secret == "" || presented == "" {
		return false
	}
	presented = strings.TrimPrefix(presented, "sha256=")
	expected := signBody(secret, body)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(presented)))
}
