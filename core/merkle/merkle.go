// Package merkle builds the binary Merkle commitments used for the state and
// transaction roots. Leaves are padded to a power of two by duplicating the
// last leaf, and leaf and interior hashes are domain-separated so a leaf can
// never be reinterpreted as an interior node.
package merkle

import (
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var (
	leafPrefix     = []byte{0x00}
	interiorPrefix = []byte{0x01}
)

// EmptyRoot is the commitment for an empty leaf set.
func EmptyRoot() []byte {
	return ethcrypto.Keccak256(leafPrefix)
}

// Root computes the Keccak-256 Merkle root over the ordered leaves.
func Root(leaves [][]byte) []byte {
	if len(leaves) == 0 {
		return EmptyRoot()
	}

	level := make([][]byte, len(leaves))
	for i, leaf := range leaves {
		level[i] = ethcrypto.Keccak256(leafPrefix, leaf)
	}
	for n := nextPowerOfTwo(len(level)); len(level) < n; {
		level = append(level, level[len(level)-1])
	}

	for len(level) > 1 {
		next := make([][]byte, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next = append(next, ethcrypto.Keccak256(interiorPrefix, level[i], level[i+1]))
		}
		level = next
	}
	return level[0]
}

func nextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
