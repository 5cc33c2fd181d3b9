package engine

import (
	"encoding/binary"

	"golang.org/x/crypto/sha3"
)

// Keccak256 hashes the concatenation of parts with legacy Keccak-256, the
// same function a ledger VM exposes as keccak256.
func Keccak256(parts ...[]byte) Seed {
	h := sha3.NewLegacyKeccak256()
	for _, p := range parts {
		h.Write(p)
	}
	var out Seed
	h.Sum(out[:0])
	return out
}

// IndexedHash returns keccak256(seed || uint256(index)) with the index encoded
// as a 32-byte big-endian word, matching abi.encodePacked(bytes32, uint256).
func IndexedHash(seed Seed, index uint64) Seed {
	var word [32]byte
	binary.BigEndian.PutUint64(word[24:], index)
	return Keccak256(seed[:], word[:])
}

// DeriveSeed returns the seed of the index-th race in a series rooted at base.
func DeriveSeed(base Seed, index uint64) Seed {
	return IndexedHash(base, index)
}

// Commitment is the public hash published before a seed is revealed.
func Commitment(seed Seed) Seed {
	return Keccak256(seed[:])
}
