package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"

	"github.com/zeebo/blake3"
)

// DigestSize is the width of every digest produced by a Hasher.
const DigestSize = 32

// SaltLength is the number of random bytes in a generated salt.
const SaltLength = 16

// HashAlgorithm selects the digest function used by a Hasher
type HashAlgorithm string

const (
	HashSHA256 HashAlgorithm = "sha256"
	HashBLAKE3 HashAlgorithm = "blake3"
)

// Hasher is the deterministic, salted one-way hash used for every stored secret
// (passwords, refresh tokens, reset tokens). Identical (secret, salt) input
// always yields the same digest so digests can be used as lookup keys.
type Hasher struct {
	algorithm HashAlgorithm
}

// NewHasher creates a hasher for the given algorithm.
// An empty algorithm selects SHA-256.
func NewHasher(algorithm HashAlgorithm) (*Hasher, error) {
	switch algorithm {
	case "":
		algorithm = HashSHA256
	case HashSHA256, HashBLAKE3:
	default:
		return nil, fmt.Errorf("unsupported hash algorithm %q", algorithm)
	}
	return &Hasher{algorithm: algorithm}, nil
}

// Algorithm returns the configured digest function
func (h *Hasher) Algorithm() HashAlgorithm {
	return h.algorithm
}

// Hash returns the digest of salt+secret. Salt may be empty.
func (h *Hasher) Hash(secret, salt string) []byte {
	input := []byte(salt + secret)
	switch h.algorithm {
	case HashBLAKE3:
		sum := blake3.Sum256(input)
		return sum[:]
	default:
		sum := sha256.Sum256(input)
		return sum[:]
	}
}

// Verify recomputes the digest and compares it in constant time
func (h *Hasher) Verify(secret string, digest []byte, salt string) bool {
	if len(digest) != DigestSize {
		return false
	}
	return subtle.ConstantTimeCompare(h.Hash(secret, salt), digest) == 1
}

// NewSalt returns a fresh random salt, base64url encoded
func NewSalt() (string, error) {
	b := make([]byte, SaltLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
