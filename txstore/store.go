// Package txstore persists transaction metadata, completion flags, and
// the data-root secondary index over a column-family KV store.
package txstore

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/zerog-labs/zerog-storage-node/errs"
	"github.com/zerog-labs/zerog-storage-node/flow"
	"github.com/zerog-labs/zerog-storage-node/flowstore"
	"github.com/zerog-labs/zerog-storage-node/kv"
	"github.com/zerog-labs/zerog-storage-node/merkle"
)

// Store is the transaction store.
type Store struct {
	db kv.Store
}

// New wraps db as a transaction store.
func New(db kv.Store) *Store {
	return &Store{db: db}
}

func marshalTx(tx *flow.Transaction) []byte {
	out := make([]byte, 8+8+8+32+4+len(tx.MerkleNodes)*(4+32))
	off := 0
	binary.BigEndian.PutUint64(out[off:], tx.Seq)
	off += 8
	binary.BigEndian.PutUint64(out[off:], tx.StartEntryIndex)
	off += 8
	binary.BigEndian.PutUint64(out[off:], tx.Size)
	off += 8
	copy(out[off:], tx.DataMerkleRoot.Bytes())
	off += 32
	binary.BigEndian.PutUint32(out[off:], uint32(len(tx.MerkleNodes)))
	off += 4
	for _, n := range tx.MerkleNodes {
		binary.BigEndian.PutUint32(out[off:], uint32(n.Depth))
		off += 4
		copy(out[off:], n.Root.Bytes())
		off += 32
	}
	return out
}

func unmarshalTx(raw []byte) (*flow.Transaction, error) {
	if len(raw) < 8+8+8+32+4 {
		return nil, fmt.Errorf("%w: tx record too short", errs.CorruptInput)
	}
	tx := &flow.Transaction{}
	off := 0
	tx.Seq = binary.BigEndian.Uint64(raw[off:])
	off += 8
	tx.StartEntryIndex = binary.BigEndian.Uint64(raw[off:])
	off += 8
	tx.Size = binary.BigEndian.Uint64(raw[off:])
	off += 8
	tx.DataMerkleRoot = merkle.BytesToHash(raw[off : off+32])
	off += 32
	count := binary.BigEndian.Uint32(raw[off:])
	off += 4
	if len(raw) != off+int(count)*(4+32) {
		return nil, fmt.Errorf("%w: tx record has inconsistent subtree count", errs.CorruptInput)
	}
	tx.MerkleNodes = make([]flow.SubtreeSpec, count)
	for i := range tx.MerkleNodes {
		depth := binary.BigEndian.Uint32(raw[off:])
		off += 4
		root := merkle.BytesToHash(raw[off : off+32])
		off += 32
		tx.MerkleNodes[i] = flow.SubtreeSpec{Depth: int(depth), Root: root}
	}
	return tx, nil
}

// PutTx stores tx and indexes it by data root, returning every
// previously-stored seq that shares the same data root (the caller uses
// this to copy already-finalized data across duplicate-root txs).
func (s *Store) PutTx(tx *flow.Transaction) ([]uint64, error) {
	existing, err := s.GetTxSeqByDataRoot(tx.DataMerkleRoot)
	if err != nil {
		return nil, err
	}

	batch := s.db.NewBatch()
	batch.Put(kv.TxKey(tx.Seq), marshalTx(tx))
	batch.Put(kv.DataRootIndexKey(tx.DataMerkleRoot, tx.Seq), []byte{})
	if err := batch.Write(); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.Storage, err)
	}
	return existing, nil
}

// GetTxBySeqNumber returns the transaction stored at seq.
func (s *Store) GetTxBySeqNumber(seq uint64) (*flow.Transaction, error) {
	raw, err := s.db.Get(kv.TxKey(seq))
	if err == kv.ErrNotFound {
		return nil, fmt.Errorf("%w: tx seq %d", errs.Missing, seq)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.Storage, err)
	}
	return unmarshalTx(raw)
}

// GetTxSeqByDataRoot returns every seq currently indexed under root, in
// ascending order.
func (s *Store) GetTxSeqByDataRoot(root flow.DataRoot) ([]uint64, error) {
	prefix := kv.DataRootIndexPrefix(root)
	it := s.db.NewIterator(prefix, nil)
	defer it.Release()

	var seqs []uint64
	for it.Next() {
		key := it.Key()
		seqs = append(seqs, kv.DecodeSeq(key[len(prefix):]))
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	return seqs, nil
}

// FinalizeTx marks seq as completed.
func (s *Store) FinalizeTx(seq uint64) error {
	if err := s.db.Put(kv.TxCompletedKey(seq), []byte{0x01}); err != nil {
		return fmt.Errorf("%w: %v", errs.Storage, err)
	}
	return nil
}

// CheckTxCompleted reports whether seq has been finalized.
func (s *Store) CheckTxCompleted(seq uint64) (bool, error) {
	ok, err := s.db.Has(kv.TxCompletedKey(seq))
	if err != nil {
		return false, fmt.Errorf("%w: %v", errs.Storage, err)
	}
	return ok, nil
}

// RemoveTxBySeqNumber deletes tx seq's record, completion flag, and
// data-root index entry. Used by revert.
func (s *Store) RemoveTxBySeqNumber(seq uint64) error {
	tx, err := s.GetTxBySeqNumber(seq)
	if err != nil {
		return err
	}
	batch := s.db.NewBatch()
	batch.Delete(kv.TxKey(seq))
	batch.Delete(kv.TxCompletedKey(seq))
	batch.Delete(kv.DataRootIndexKey(tx.DataMerkleRoot, seq))
	if err := batch.Write(); err != nil {
		return fmt.Errorf("%w: %v", errs.Storage, err)
	}
	return nil
}

// NextTxSeq returns max(seq)+1 over every stored transaction, or 0 if
// none exist.
func (s *Store) NextTxSeq() (uint64, error) {
	it := s.db.NewIterator(kv.ColTx, nil)
	defer it.Release()

	var max uint64
	found := false
	for it.Next() {
		seq := kv.DecodeSeq(it.Key()[len(kv.ColTx):])
		if !found || seq > max {
			max = seq
			found = true
		}
	}
	if !found {
		return 0, nil
	}
	return max + 1, nil
}

// RebuildLastChunkMerkle reconstructs the last-segment tree as it should
// appear once every transaction up to and including txSeq has been
// ingested: it scans transactions whose data crosses into the
// partially-filled final segment (the one starting at topLeaves segments
// in) and replays the zero padding placed ahead of each of them, their
// subtree structure, and any bytes already persisted in fs. The rebuilt
// tree's root is the top-tree leaf for segment topLeaves.
func (s *Store) RebuildLastChunkMerkle(fs *flowstore.Store, algo merkle.Algorithm, topLeaves uint64, txSeq uint64) (*merkle.AppendMerkleTree, error) {
	segmentStart := topLeaves * flow.PoraChunkSize

	var relevant []*flow.Transaction
	for seq := uint64(0); ; seq++ {
		tx, err := s.GetTxBySeqNumber(seq)
		if err != nil {
			break
		}
		if tx.Seq > txSeq {
			break
		}
		if tx.StartEntryIndex+tx.PaddedSize() > segmentStart {
			relevant = append(relevant, tx)
		}
	}

	t := merkle.NewWithDepth(algo, nil, flow.SegmentTreeDepth, nil)
	zeroLeaf := algo.Leaf(make([]byte, flow.EntrySize))
	for _, tx := range relevant {
		if tx.StartEntryIndex > segmentStart {
			for uint64(t.Leaves()) < tx.StartEntryIndex-segmentStart {
				t.Append(zeroLeaf)
			}
		}
		offset := tx.StartEntryIndex
		for _, n := range tx.MerkleNodes {
			span := uint64(1) << uint(n.Depth-1)
			if offset+span > segmentStart {
				if err := t.AppendSubtree(n.Depth, n.Root); err != nil {
					return nil, err
				}
			}
			offset += span
		}
	}

	for i := 0; i < t.Leaves(); i++ {
		entryIdx := segmentStart + uint64(i)
		leaf, err := t.LeafAt(i)
		if err != nil {
			return nil, err
		}
		if leaf != nil {
			continue
		}
		arr, ok, err := fs.GetEntries(entryIdx, entryIdx+1)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if err := t.FillLeaf(i, algo.Leaf(arr.Data)); err != nil {
			return nil, err
		}
	}
	return t, nil
}
