// Package merkle implements a generic append-only Merkle tree parameterised
// over a hash element type and a hashing algorithm. It is the core data
// structure behind the flow store's two-level PoRA tree (see package
// logmanager).
package merkle

import (
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/sha3"
)

// HashSize is the fixed width, in bytes, of every hash element handled by
// this package.
const HashSize = 32

// EntrySize is the size, in bytes, of a single flow entry. Leaves of the
// tree are computed over entries of exactly this size.
const EntrySize = 256

// MaxPaddingHeight bounds the precomputed end-pad table. It must be large
// enough to cover the height of any tree this package will ever build; 64
// layers covers 2^64 leaves, far beyond what a single process can hold in
// memory.
const MaxPaddingHeight = 64

// Hash is an opaque 32-byte hash element. It is the concrete HashElement
// used throughout this module; the tree itself is generic so alternate
// widths could be substituted without touching the recompute logic.
type Hash [HashSize]byte

// ZeroHash is the all-zero hash value. It is distinct from Null and is used
// as the genesis sentinel leaf (see the first-segment exception in package
// logmanager).
var ZeroHash = Hash{}

// nullHash is 32 repetitions of 0x01. It must never collide with a real
// leaf/parent hash or with any end-pad value.
var nullHash = Hash{
	1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1,
	1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1,
}

// Null returns the sentinel value for "unknown, to be filled later".
func Null() Hash { return nullHash }

// IsNull reports whether h is the null sentinel.
func (h Hash) IsNull() bool { return h == nullHash }

// IsZero reports whether h is the all-zero hash.
func (h Hash) IsZero() bool { return h == ZeroHash }

// Bytes returns the hash's byte slice representation.
func (h Hash) Bytes() []byte { return h[:] }

// BytesToHash copies b into a Hash, left-padding with zeros if b is
// shorter than HashSize and truncating the leading bytes if it is longer.
func BytesToHash(b []byte) Hash {
	var h Hash
	if len(b) > HashSize {
		b = b[len(b)-HashSize:]
	}
	copy(h[HashSize-len(b):], b)
	return h
}

// String implements fmt.Stringer.
func (h Hash) String() string { return "0x" + hex.EncodeToString(h[:]) }

// Algorithm computes leaf and parent hashes for a HashElement type. It also
// owns the null sentinel and the per-height zero-padding table, so every
// tree operation that needs them already has one in scope.
type Algorithm interface {
	// Leaf hashes a single EntrySize-byte block into a leaf hash.
	Leaf(data []byte) Hash
	// Parent combines two child hashes into their parent hash.
	Parent(left, right Hash) Hash
	// ParentSingle combines a lone right-most child with the zero hash for
	// the given height, used when a layer has an odd number of nodes.
	ParentSingle(right Hash, height int) Hash
	// Null returns the "unknown leaf" sentinel.
	Null() Hash
	// EndPad returns the Merkle root of an all-zero subtree of the given
	// height (height 0 is a single zero leaf).
	EndPad(height int) Hash
}

// Sha3Algorithm implements Algorithm using SHA3-256 with RFC 6962-style
// domain separation: leaves are hashed with a 0x00 prefix, internal nodes
// with a 0x01 prefix, so a leaf hash can never collide with an internal
// node hash.
type Sha3Algorithm struct {
	pad [MaxPaddingHeight]Hash
}

// NewSha3Algorithm builds a Sha3Algorithm with its zero-padding table
// precomputed up to MaxPaddingHeight.
func NewSha3Algorithm() *Sha3Algorithm {
	a := &Sha3Algorithm{}
	a.pad[0] = a.Leaf(make([]byte, EntrySize))
	for h := 1; h < MaxPaddingHeight; h++ {
		a.pad[h] = a.Parent(a.pad[h-1], a.pad[h-1])
	}
	return a
}

// Leaf hashes data (expected to be EntrySize bytes, but not enforced here
// so zero-length padding leaves can also be hashed) with a leaf domain tag.
func (a *Sha3Algorithm) Leaf(data []byte) Hash {
	h := sha3.New256()
	h.Write([]byte{0x00})
	h.Write(data)
	var out Hash
	h.Sum(out[:0])
	return out
}

// Parent combines two children with a node domain tag.
func (a *Sha3Algorithm) Parent(left, right Hash) Hash {
	h := sha3.New256()
	h.Write([]byte{0x01})
	h.Write(left[:])
	h.Write(right[:])
	var out Hash
	h.Sum(out[:0])
	return out
}

// ParentSingle combines a lone right-most node with the end-pad value for
// its height.
func (a *Sha3Algorithm) ParentSingle(right Hash, height int) Hash {
	return a.Parent(right, a.EndPad(height))
}

// Null returns the "unknown leaf" sentinel.
func (a *Sha3Algorithm) Null() Hash { return nullHash }

// EndPad returns the cached zero-subtree root for the given height.
func (a *Sha3Algorithm) EndPad(height int) Hash {
	if height < 0 || height >= MaxPaddingHeight {
		panic(fmt.Sprintf("merkle: end-pad height %d out of range", height))
	}
	return a.pad[height]
}
