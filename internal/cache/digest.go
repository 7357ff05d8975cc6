// Package cache computes session fingerprints and rerun decisions.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
)

// Digest is a fixed 256-bit hash.
type Digest [32]byte

func (d Digest) IsZero() bool {
	var z Digest
	return d == z
}

func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// HashBytes returns the digest of a byte slice.
func HashBytes(b []byte) Digest {
	return sha256.Sum256(b)
}

// HashFile returns the digest of a file's contents.
func HashFile(path string) (Digest, error) {
	// #nosec G304 -- path is a declared dependency
	f, err := os.Open(path)
	if err != nil {
		return Digest{}, err
	}
	defer func() { _ = f.Close() }()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return Digest{}, err
	}
	var out Digest
	copy(out[:], h.Sum(nil))
	return out, nil
}

// Combine builds an aggregate hash: H(content || part1 || part2 ...).
// Part order must be deterministic.
func Combine(content Digest, parts ...Digest) Digest {
	h := sha256.New()
	_, _ = h.Write(content[:])
	for _, p := range parts {
		_, _ = h.Write(p[:])
	}
	var out Digest
	copy(out[:], h.Sum(nil))
	return out
}
