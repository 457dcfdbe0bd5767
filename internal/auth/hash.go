package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

// HashToken returns the hex sha256 digest stored in place of raw tokens.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// hashOptional hashes non-empty values such as client IPs.
func hashOptional(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	return HashToken(v)
}

func secureCompareHash(expectedHash, raw string) bool {
	actual := HashToken(raw)
	if len(expectedHash) != len(actual) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expectedHash), []byte(actual)) == 1
}

// newResetSecret returns 256 random bits encoded for use in a URL, and its hash.
func newResetSecret() (string, string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	raw := base64.RawURLEncoding.EncodeToString(buf)
	return raw, HashToken(raw), nil
}
