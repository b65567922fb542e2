// Package sha256 derives stable, filesystem-safe names from arbitrary keys.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher digests store keys.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Sum returns the hex digest of key.
func (Hasher) Sum(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
