// Package hashutil provides the Keccak-256 hashing primitives the trie
// package uses to derive content-addressed node hashes.
package hashutil

import (
	"golang.org/x/crypto/sha3"
)

// Hash returns the Keccak-256/SHA3 hash of the data passed in.
func Hash(data []byte) [32]byte {
	var hash [32]byte

	h := sha3.NewLegacyKeccak256()

	// The hash interface never returns an error, for that reason
	// we are not handling the error below. For reference, it is
	// stated here https://golang.org/pkg/hash/#Hash

	// #nosec G104
	h.Write(data)
	h.Sum(hash[:0])

	return hash
}

// NodeHash hashes the concatenation of several parts, used to derive a
// trie node's content hash from its key and value (and, for branch nodes,
// its children's hashes).
func NodeHash(parts ...[]byte) [32]byte {
	h := sha3.NewLegacyKeccak256()
	for _, p := range parts {
		// #nosec G104
		h.Write(p)
	}
	var out [32]byte
	h.Sum(out[:0])
	return out
}
