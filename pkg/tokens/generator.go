package tokens

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// tokenBytes is the random length of every opaque token (256 bits).
const tokenBytes = 32

// Generate creates a new opaque bearer token: base64url of 32 random
// bytes, no padding. Tokens carry no embedded data; they are only lookup
// keys into a namespaced store.
func Generate() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// DeriveEmailKey returns a deterministic, non-reversible store key for a
// normalized email: hex(HMAC-SHA256(secret, email)). Keyed hashing keeps
// the store contents useless for offline enumeration of addresses.
func DeriveEmailKey(secret []byte, email string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(NormalizeEmail(email)))
	return hex.EncodeToString(mac.Sum(nil))
}

// NormalizeEmail trims and lowercases an email before any comparison or
// key derivation.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
