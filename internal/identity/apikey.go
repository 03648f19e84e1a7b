package identity

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
)

// API keys have the shape "avk_<prefix>_<secret>". The prefix is stored in
// plaintext and indexed for lookup; only a SHA-256 hash of the full key is
// persisted. Verification recomputes the hash and compares in constant time.

const (
	apiKeyScheme    = "avk"
	apiKeyPrefixLen = 8
	apiKeySecretLen = 32
)

// GeneratedAPIKey is the result of minting a new key. PlainKey is shown to
// the caller exactly once; only Prefix and Hash are stored.
type GeneratedAPIKey struct {
	PlainKey string
	Prefix   string
	Hash     string
}

// NewAPIKey mints a fresh API key.
func NewAPIKey() (*GeneratedAPIKey, error) {
	prefix, err := randomHex(apiKeyPrefixLen)
	if err != nil {
		return nil, fmt.Errorf("generate api key prefix: %w", err)
	}
	secret, err := randomHex(apiKeySecretLen)
	if err != nil {
		return nil, fmt.Errorf("generate api key secret: %w", err)
	}
	plain := fmt.Sprintf("%s_%s_%s", apiKeyScheme, prefix, secret)
	return &GeneratedAPIKey{
		PlainKey: plain,
		Prefix:   prefix,
		Hash:     HashAPIKey(plain),
	}, nil
}

// ParseAPIKeyPrefix extracts the lookup prefix from a presented key.
func ParseAPIKeyPrefix(plainKey string) (string, error) {
	parts := strings.SplitN(plainKey, "_", 3)
	if len(parts) != 3 || parts[0] != apiKeyScheme || parts[1] == "" || parts[2] == "" {
		return "", fmt.Errorf("%w: malformed api key", ErrInvalidToken)
	}
	return parts[1], nil
}

// HashAPIKey returns the hex SHA-256 digest of the full plaintext key.
func HashAPIKey(plainKey string) string {
	sum := sha256.Sum256([]byte(plainKey))
	return hex.EncodeToString(sum[:])
}

// VerifyAPIKey compares a presented key against a stored hash in constant
// time.
func VerifyAPIKey(plainKey, storedHash string) bool {
	computed := HashAPIKey(plainKey)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(storedHash)) == 1
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf)[:n], nil
}
