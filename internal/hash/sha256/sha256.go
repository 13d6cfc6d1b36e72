// Package sha256 provides SHA-256 content fingerprints.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher implements crawler.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	return h.Sum(data), nil
}

// Sum is Hash without the error return; SHA-256 over an in-memory slice cannot fail.
func (h *Hasher) Sum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// SumString hashes a string, typically normalized page text.
func (h *Hasher) SumString(s string) string {
	return h.Sum([]byte(s))
}
