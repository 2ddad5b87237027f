// Package sha1 provides the SHA-1 digests the archiving platform publishes for capture files.
package sha1

import (
	"crypto/sha1" //nolint:gosec // the platform publishes SHA-1 checksums; this is integrity, not security
	"encoding/hex"
	"fmt"
	"io"
)

// Hasher implements archive.Hasher using SHA-1.
type Hasher struct{}

// New returns a SHA-1 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha1.Sum(data) //nolint:gosec // see import
	return hex.EncodeToString(sum[:]), nil
}

// HashReader streams r through the digest without buffering it whole.
func (h *Hasher) HashReader(r io.Reader) (string, error) {
	digest := sha1.New() //nolint:gosec // see import
	if _, err := io.Copy(digest, r); err != nil {
		return "", fmt.Errorf("hash stream: %w", err)
	}
	return hex.EncodeToString(digest.Sum(nil)), nil
}
