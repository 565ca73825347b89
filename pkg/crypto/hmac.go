// Package crypto implements the envelope signature primitives: a shared-key
// HMAC-SHA-256 primary signature and an optional Ed25519 identity signature.
package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// SignHMAC returns the lowercase-hex HMAC-SHA-256 of msg under key.
func SignHMAC(key, msg []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(msg)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyHMAC reports whether sigHex is a valid HMAC-SHA-256 of msg under key.
// Comparison is constant-time.
func VerifyHMAC(key, msg []byte, sigHex string) bool {
	expected := SignHMAC(key, msg)
	return hmac.Equal([]byte(expected), []byte(sigHex))
}
