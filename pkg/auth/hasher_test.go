package auth

import (
	"bytes"
	"testing"
)

func TestNewHasher(t *testing.T) {
	tests := []struct {
		name      string
		algorithm HashAlgorithm
		want      HashAlgorithm
		wantErr   bool
	}{
		{name: "default", algorithm: "", want: HashSHA256},
		{name: "sha256", algorithm: HashSHA256, want: HashSHA256},
		{name: "blake3", algorithm: HashBLAKE3, want: HashBLAKE3},
		{name: "unknown", algorithm: "md5", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := NewHasher(tt.algorithm)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewHasher() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if h.Algorithm() != tt.want {
				t.Errorf("Algorithm() = %q, want %q", h.Algorithm(), tt.want)
			}
		})
	}
}

func TestHasher_RoundTrip(t *testing.T) {
	secrets := []string{"", "hunter2", "correct horse battery staple", "ünïcødé"}
	salts := []string{"", "salt", "c2FsdHlzYWx0"}

	for _, algorithm := range []HashAlgorithm{HashSHA256, HashBLAKE3} {
		h, err := NewHasher(algorithm)
		if err != nil {
			t.Fatalf("NewHasher(%q) error = %v", algorithm, err)
		}

		for _, secret := range secrets {
			for _, salt := range salts {
				digest := h.Hash(secret, salt)
				if len(digest) != DigestSize {
					t.Errorf("%s: digest length = %d, want %d", algorithm, len(digest), DigestSize)
				}
				if !h.Verify(secret, digest, salt) {
					t.Errorf("%s: Verify(%q, salt %q) = false, want true", algorithm, secret, salt)
				}
				if h.Verify(secret, digest, salt+"x") {
					t.Errorf("%s: Verify with different salt should fail", algorithm)
				}
			}
		}
	}
}

func TestHasher_Deterministic(t *testing.T) {
	h, _ := NewHasher(HashSHA256)

	if !bytes.Equal(h.Hash("secret", "salt"), h.Hash("secret", "salt")) {
		t.Error("Same input should produce same digest")
	}
	if bytes.Equal(h.Hash("secret", "salt"), h.Hash("secret", "pepper")) {
		t.Error("Different salts should produce different digests")
	}

	// salt is prepended to the secret
	if !bytes.Equal(h.Hash("cret", "se"), h.Hash("secret", "")) {
		t.Error("Hash should operate on salt+secret")
	}
}

func TestHasher_AlgorithmsDiffer(t *testing.T) {
	sha, _ := NewHasher(HashSHA256)
	b3, _ := NewHasher(HashBLAKE3)

	digest := sha.Hash("secret", "salt")
	if b3.Verify("secret", digest, "salt") {
		t.Error("BLAKE3 hasher should not verify a SHA-256 digest")
	}
}

func TestHasher_VerifyRejectsMalformedDigest(t *testing.T) {
	h, _ := NewHasher(HashSHA256)

	if h.Verify("secret", nil, "") {
		t.Error("nil digest should not verify")
	}
	if h.Verify("secret", []byte("short"), "") {
		t.Error("short digest should not verify")
	}
}

func TestNewSalt(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		salt, err := NewSalt()
		if err != nil {
			t.Fatalf("NewSalt() error = %v", err)
		}
		if salt == "" {
			t.Fatal("NewSalt() returned empty salt")
		}
		if seen[salt] {
			t.Errorf("Duplicate salt generated: %s", salt)
		}
		seen[salt] = true
	}
}
