package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// LinkTokenPrefix identifies login magic-link tokens
	LinkTokenPrefix = "cgl_"
	// ActivationTokenPrefix identifies activation tokens
	ActivationTokenPrefix = "cga_"
	// SessionTokenPrefix identifies session cookie values
	SessionTokenPrefix = "cgs_"
	// TokenLength is the number of random bytes (32 bytes = 256 bits)
	TokenLength = 32
)

// TokenGenerator generates opaque tokens with a fixed prefix.
type TokenGenerator struct {
	prefix string
}

// NewTokenGenerator creates a token generator
func NewTokenGenerator(prefix string) *TokenGenerator {
	return &TokenGenerator{prefix: prefix}
}

// GenerateToken creates a new token and the hash to store for it.
// Format: <prefix><base64url(32 random bytes)>
func (tg *TokenGenerator) GenerateToken() (token string, tokenHash string, err error) {
	randomBytes := make([]byte, TokenLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	token = tg.prefix + base64.RawURLEncoding.EncodeToString(randomBytes)
	return token, HashToken(token), nil
}

// ValidateTokenFormat checks if a token has the correct format
func (tg *TokenGenerator) ValidateTokenFormat(token string) error {
	if !strings.HasPrefix(token, tg.prefix) {
		return fmt.Errorf("token must start with %q", tg.prefix)
	}

	encoded := strings.TrimPrefix(token, tg.prefix)
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("invalid token encoding: %w", err)
	}
	if len(raw) != TokenLength {
		return fmt.Errorf("token has wrong length")
	}

	return nil
}

// HashToken computes the SHA256 hash of a token for storage and lookup
func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}
