package util

import (
	"encoding/hex"

	"golang.org/x/crypto/sha3"
)

// Hash256 computes the 256-bit keccak-family hash used throughout the
// codec, crypto and vote-tally layers. A single hash function keeps tx
// hashes, block hashes and vote hashes in the same domain.
func Hash256(data []byte) [32]byte {
	return sha3.Sum256(data)
}

// HashToHex renders a hash as lowercase hex, the form logged for block,
// tx and vote hashes throughout the node.
func HashToHex(hash [32]byte) string {
	return hex.EncodeToString(hash[:])
}

// IsZeroHash reports whether h is the all-zero genesis sentinel.
func IsZeroHash(h [32]byte) bool {
	var zero [32]byte
	return h == zero
}

// LessHash reports whether a sorts before b as lexicographic hex — the
// deterministic hash-ascending tie-break the mempool applies between
// transactions of equal fee.
func LessHash(a, b [32]byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
