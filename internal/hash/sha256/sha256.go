// Package sha256 fingerprints collected payloads for downstream dedupe.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/JakeFAU/intel-collector/internal/collector"
)

var _ collector.Hasher = (*Hasher)(nil)

// Hasher implements collector.Hasher. Digests are lowercase hex.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the digest of data. A nil payload hashes like an empty one.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
