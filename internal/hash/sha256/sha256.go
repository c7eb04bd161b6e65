// Package sha256 provides the fingerprinting function used for request
// correlation.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher produces hex-encoded SHA-256 digests.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Fingerprint derives the deterministic correlation fingerprint for a crawl
// request. Identical identity/query/target triples produce the same
// fingerprint, so concurrent duplicate submissions collapse onto one
// correlation record. The separator keeps ("ab","c") and ("a","bc") from
// colliding.
func (h *Hasher) Fingerprint(identity, query, target string) string {
	sum := sha256.New()
	sum.Write([]byte(identity))
	sum.Write([]byte{0})
	sum.Write([]byte(query))
	sum.Write([]byte{0})
	sum.Write([]byte(target))
	return hex.EncodeToString(sum.Sum(nil))
}
