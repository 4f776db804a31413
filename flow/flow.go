// Package flow defines the data types shared by the flow store, the
// transaction store, and the log manager: the entry/segment geometry
// constants and the Transaction and ChunkArray shapes ingest and proof
// assembly operate on.
package flow

import (
	"encoding/binary"

	"golang.org/x/crypto/sha3"

	"github.com/zerog-labs/zerog-storage-node/merkle"
)

const (
	// EntrySize is the size, in bytes, of one flow entry.
	EntrySize = merkle.EntrySize
	// PoraChunkSize is the number of entries in one PoRA segment.
	PoraChunkSize = 1024
	// PoraChunkHeight is log2(PoraChunkSize), the leaf-height offset of the
	// top tree.
	PoraChunkHeight = 10
	// SegmentTreeDepth is the layer count of a full, single-segment tree
	// (log2(PoraChunkSize)+1).
	SegmentTreeDepth = PoraChunkHeight + 1
	// SegmentByteSize is PoraChunkSize*EntrySize, the exact byte width of
	// one PoRA segment.
	SegmentByteSize = PoraChunkSize * EntrySize
)

// DataRoot is the Merkle root of a transaction's data, as declared by the
// uploader before any bytes arrive.
type DataRoot = merkle.Hash

// SubtreeSpec names one entry of a subtree list: a perfect binary subtree
// of 2^(Depth-1) leaves known only by its root.
type SubtreeSpec struct {
	Depth int
	Root  merkle.Hash
}

// Transaction is the metadata an uploader submits before entry bytes
// arrive: a declared data root plus its pre-split subtree decomposition.
type Transaction struct {
	Seq             uint64
	StartEntryIndex uint64
	Size            uint64
	DataMerkleRoot  DataRoot
	MerkleNodes     []SubtreeSpec
}

// Hash returns a content hash identifying this transaction's metadata,
// used by the hash-guarded write path (put_chunks_with_tx_hash) to detect
// a caller racing against a reverted-and-replaced transaction at the same
// seq. It hashes the transaction's own fields, independent of the leaf/
// parent Algorithm used by the Merkle trees.
func (t *Transaction) Hash() merkle.Hash {
	h := sha3.New256()
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], t.Seq)
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], t.StartEntryIndex)
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], t.Size)
	h.Write(buf[:])
	h.Write(t.DataMerkleRoot.Bytes())
	for _, n := range t.MerkleNodes {
		binary.BigEndian.PutUint64(buf[:], uint64(n.Depth))
		h.Write(buf[:])
		h.Write(n.Root.Bytes())
	}
	var out merkle.Hash
	h.Sum(out[:0])
	return out
}

// PaddedSize is the number of entries t's subtree list actually spans,
// i.e. the sum of 2^(depth-1) over MerkleNodes. This can exceed Size when
// the uploader's data was padded to a power-of-two boundary before
// splitting into subtrees.
func (t *Transaction) PaddedSize() uint64 {
	var total uint64
	for _, n := range t.MerkleNodes {
		total += 1 << uint(n.Depth-1)
	}
	return total
}

// ChunkArray is a contiguous run of raw entry bytes starting at a flow
// entry index.
type ChunkArray struct {
	StartIndex uint64
	Data       []byte
}

// NumEntries returns the number of whole entries held in Data.
func (c ChunkArray) NumEntries() int { return len(c.Data) / EntrySize }

// Entry returns the i-th entry's bytes (i is relative to StartIndex).
func (c ChunkArray) Entry(i int) []byte {
	return c.Data[i*EntrySize : (i+1)*EntrySize]
}

// FlowProof is an inclusion proof for a single flow entry, stitched
// across the last-segment/segment and top trees.
type FlowProof = merkle.Proof

// FlowRangeProof is a range proof for a contiguous run of flow entries.
type FlowRangeProof = merkle.RangeProof
