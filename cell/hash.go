// Package cell implements the canonical binary encoding, content-address
// hashing and lazy reference model shared by every value a peer exchanges
// or persists: Beliefs, Orders, Blocks, States and the persistent vectors
// that hold their children.
package cell

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashSize is the digest length of the identity hash used throughout the
// data model.
const HashSize = 32

// Hash is the content-address identity of a Cell's canonical encoding.
type Hash [HashSize]byte

// HashOf computes the identity hash of an encoded cell.
func HashOf(encoding []byte) Hash {
	return sha256.Sum256(encoding)
}

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Bytes returns a copy of the hash's raw bytes.
func (h Hash) Bytes() []byte {
	b := make([]byte, HashSize)
	copy(b, h[:])
	return b
}

// IsZero reports whether h is the zero hash (used as a sentinel for "no root").
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// HashFromBytes reads a Hash from a slice of exactly HashSize bytes.
func HashFromBytes(b []byte) (Hash, error) {
	var h Hash
	if len(b) != HashSize {
		return h, BadFormatf("expected %d byte hash, got %d", HashSize, len(b))
	}
	copy(h[:], b)
	return h, nil
}

// HashFromHex parses a hex-encoded hash string.
func HashFromHex(s string) (Hash, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Hash{}, BadFormatf("invalid hex hash: %v", err)
	}
	return HashFromBytes(b)
}
