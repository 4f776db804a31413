// Package testutil provides small helpers shared across the merkle,
// flowstore, txstore, and logmanager test suites: deterministic leaf
// generation and a brute-force reference tree used to cross-check the
// incremental recompute algorithm.
package testutil

import (
	"golang.org/x/crypto/sha3"

	"github.com/zerog-labs/zerog-storage-node/flow"
	"github.com/zerog-labs/zerog-storage-node/merkle"
)

// SeededEntry deterministically fills an EntrySize-byte entry from seed and
// index, without crypto/rand. Byte i is seed+index+i mod 256, so entries
// for one seed repeat every 256 indices.
func SeededEntry(seed byte, index int) []byte {
	out := make([]byte, flow.EntrySize)
	for i := range out {
		out[i] = byte(int(seed) + index + i)
	}
	return out
}

// SeededLeaves builds n leaf hashes, leaf i being algo.Leaf of
// SeededEntry(seed, i).
func SeededLeaves(algo merkle.Algorithm, seed byte, n int) []merkle.Hash {
	leaves := make([]merkle.Hash, n)
	for i := 0; i < n; i++ {
		leaves[i] = algo.Leaf(SeededEntry(seed, i))
	}
	return leaves
}

// SeededEntryRoot derives a deterministic, seed-distinct Hash suitable for
// use as a placeholder data root or subtree root in tests that don't care
// about the value's internal structure, only that distinct seeds produce
// distinct, stable hashes.
func SeededEntryRoot(seed uint64) merkle.Hash {
	var buf [8]byte
	for i := range buf {
		buf[i] = byte(seed >> (8 * uint(i)))
	}
	return merkle.NewSha3Algorithm().Leaf(buf[:])
}

// BruteForceRoot recomputes a binary Merkle root over leaves from scratch,
// independent of AppendMerkleTree's incremental bookkeeping, so tests can
// assert the two agree.
func BruteForceRoot(algo merkle.Algorithm, leaves []merkle.Hash) merkle.Hash {
	if len(leaves) == 0 {
		return merkle.Hash{}
	}
	layer := append([]merkle.Hash(nil), leaves...)
	height := 0
	for len(layer) > 1 {
		next := make([]merkle.Hash, 0, (len(layer)+1)/2)
		for i := 0; i+1 < len(layer); i += 2 {
			next = append(next, algo.Parent(layer[i], layer[i+1]))
		}
		if len(layer)%2 == 1 {
			next = append(next, algo.ParentSingle(layer[len(layer)-1], height))
		}
		layer = next
		height++
	}
	return layer[0]
}

// Sha3Sum256 is a convenience wrapper for tests that need a raw SHA3-256
// digest outside of the Algorithm interface (e.g. checking Transaction.Hash
// independently).
func Sha3Sum256(parts ...[]byte) [32]byte {
	h := sha3.New256()
	for _, p := range parts {
		h.Write(p)
	}
	var out [32]byte
	h.Sum(out[:0])
	return out
}
