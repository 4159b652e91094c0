package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
)

const (
	// TokenPrefix identifies ideahub API keys
	TokenPrefix = "ih_"
	// TokenLength is the number of random bytes (32 bytes = 256 bits)
	TokenLength = 32
	// DisplayPrefixLength is how many characters of the plaintext are kept for display
	DisplayPrefixLength = len(TokenPrefix) + 8
)

// encodedLength is the base64url length of TokenLength bytes without padding
var encodedLength = base64.RawURLEncoding.EncodedLen(TokenLength)

// TokenGenerator generates API key secrets
type TokenGenerator struct {
	random io.Reader
}

// NewTokenGenerator creates a token generator backed by crypto/rand
func NewTokenGenerator() *TokenGenerator {
	return &TokenGenerator{random: rand.Reader}
}

// GenerateToken creates a new API key secret
// Format: ih_<base64url(32 random bytes)>
func (tg *TokenGenerator) GenerateToken() (token string, tokenHash string, tokenPrefix string, err error) {
	randomBytes := make([]byte, TokenLength)
	if _, err := io.ReadFull(tg.random, randomBytes); err != nil {
		return "", "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	token = TokenPrefix + base64.RawURLEncoding.EncodeToString(randomBytes)
	return token, HashToken(token), DisplayPrefix(token), nil
}

// HashToken computes the hex SHA-256 of a token for storage and lookup
func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// DisplayPrefix returns the non-secret leading characters of a token
func DisplayPrefix(token string) string {
	if len(token) <= DisplayPrefixLength {
		return token
	}
	return token[:DisplayPrefixLength]
}

// ValidateTokenFormat checks that a token looks like an API key before any lookup
func ValidateTokenFormat(token string) error {
	if !strings.HasPrefix(token, TokenPrefix) {
		return fmt.Errorf("token must start with %q", TokenPrefix)
	}

	encodedPart := strings.TrimPrefix(token, TokenPrefix)
	if len(encodedPart) != encodedLength {
		return fmt.Errorf("token has invalid length")
	}

	if _, err := base64.RawURLEncoding.DecodeString(encodedPart); err != nil {
		return fmt.Errorf("invalid token encoding: %w", err)
	}

	return nil
}

// IsAPIKeyToken reports whether a bearer value is meant to be an API key
// rather than a session token
func IsAPIKeyToken(token string) bool {
	return strings.HasPrefix(token, TokenPrefix)
}

// CompareHashes compares two hex hashes in constant time
func CompareHashes(a, b string) bool {
	if len(a) != len(b) {
		// Burn a comparison so both branches cost about the same.
		subtle.ConstantTimeCompare([]byte(a), []byte(a))
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
