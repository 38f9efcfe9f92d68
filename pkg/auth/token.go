package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
)

const (
	// RefreshTokenPrefix identifies refresh tokens
	RefreshTokenPrefix = "tbr_"
	// ResetTokenPrefix identifies password reset tokens
	ResetTokenPrefix = "tbp_"
	// TokenLength is the number of random bytes (32 bytes = 256 bits)
	TokenLength = 32
)

// TokenGenerator generates opaque secrets and their storage digests
type TokenGenerator struct {
	hasher *Hasher
}

// NewTokenGenerator creates a new token generator backed by hasher
func NewTokenGenerator(hasher *Hasher) *TokenGenerator {
	return &TokenGenerator{hasher: hasher}
}

// Generate creates a new token with the given prefix.
// Format: <prefix><base64url(32 random bytes)>
// Only the digest may be persisted; the plaintext is handed to the caller once.
func (tg *TokenGenerator) Generate(prefix string) (token string, digest []byte, err error) {
	randomBytes := make([]byte, TokenLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", nil, fmt.Errorf("failed to generate random bytes: %w", err)
	}

	token = prefix + base64.RawURLEncoding.EncodeToString(randomBytes)
	return token, tg.hasher.Hash(token, ""), nil
}

// Digest computes the storage digest of a token for lookup
func (tg *TokenGenerator) Digest(token string) []byte {
	return tg.hasher.Hash(token, "")
}

// Matches reports whether token hashes to digest
func (tg *TokenGenerator) Matches(token string, digest []byte) bool {
	return tg.hasher.Verify(token, digest, "")
}

// ValidateFormat checks if a token has the expected prefix and encoding
func (tg *TokenGenerator) ValidateFormat(token, prefix string) error {
	if !strings.HasPrefix(token, prefix) {
		return fmt.Errorf("token must start with %q", prefix)
	}

	encodedPart := strings.TrimPrefix(token, prefix)
	if len(encodedPart) == 0 {
		return fmt.Errorf("token is too short")
	}

	if _, err := base64.RawURLEncoding.DecodeString(encodedPart); err != nil {
		return fmt.Errorf("invalid token encoding: %w", err)
	}

	return nil
}
