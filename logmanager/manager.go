// Package logmanager composes the append Merkle tree, flow store, and
// transaction store into a two-level flow tree: a top tree of segment
// roots plus a last-segment tree for the entries still filling the
// rightmost segment.
package logmanager

import (
	"fmt"
	"math"
	"sync"

	"github.com/zerog-labs/zerog-storage-node/errs"
	"github.com/zerog-labs/zerog-storage-node/flow"
	"github.com/zerog-labs/zerog-storage-node/flowstore"
	"github.com/zerog-labs/zerog-storage-node/kv"
	"github.com/zerog-labs/zerog-storage-node/log"
	"github.com/zerog-labs/zerog-storage-node/merkle"
	"github.com/zerog-labs/zerog-storage-node/metrics"
	"github.com/zerog-labs/zerog-storage-node/txstore"
)

// RevertToEmpty, passed to RevertTo, resets the flow to its seeded empty
// shape.
const RevertToEmpty = math.MaxUint64

// Context is the snapshot GetContext reports to collaborators.
type Context struct {
	Root         merkle.Hash
	TotalEntries uint64
}

type managerMetrics struct {
	txsIngested      *metrics.Counter
	segmentsComplete *metrics.Counter
	reverts          *metrics.Counter
	proofLatency     *metrics.Histogram
}

// Manager is the log manager: the single owner of the two live trees,
// reached exclusively through mu. Every exported method acquires mu
// itself; none call back into another exported method while holding it.
type Manager struct {
	mu   sync.RWMutex
	algo merkle.Algorithm
	db   kv.Store
	fs   *flowstore.Store
	txs  *txstore.Store

	top         *merkle.AppendMerkleTree
	lastSegment *merkle.AppendMerkleTree

	log *log.Logger
	m   managerMetrics
}

// New opens a Manager over db, rebuilding top and lastSegment from
// persisted state.
func New(db kv.Store) (*Manager, error) {
	algo := merkle.NewSha3Algorithm()
	fs := flowstore.New(db, algo)
	txs := txstore.New(db)

	chunkRoots, err := fs.GetChunkRootList()
	if err != nil {
		return nil, err
	}
	top, err := merkle.NewWithSubtrees(algo, chunkRoots, flow.PoraChunkHeight, nil)
	if err != nil {
		return nil, err
	}

	nextSeq, err := txs.NextTxSeq()
	if err != nil {
		return nil, err
	}
	var lastSegment *merkle.AppendMerkleTree
	if nextSeq == 0 {
		lastSegment = merkle.NewWithDepth(algo, nil, flow.SegmentTreeDepth, nil)
	} else {
		lastSegment, err = txs.RebuildLastChunkMerkle(fs, algo, uint64(top.Leaves()), nextSeq-1)
		if err != nil {
			return nil, err
		}
	}
	if lastSegment.Leaves() > 0 {
		// A partially filled segment has no persisted root; its top leaf
		// is the rebuilt tree's root.
		top.Append(lastSegment.Root())
	}

	mgr := &Manager{
		algo:        algo,
		db:          db,
		fs:          fs,
		txs:         txs,
		top:         top,
		lastSegment: lastSegment,
		log:         log.Default().Module("logmanager"),
		m: managerMetrics{
			txsIngested:      metrics.NewCounter("zgs_txs_ingested_total"),
			segmentsComplete: metrics.NewCounter("zgs_segments_complete_total"),
			reverts:          metrics.NewCounter("zgs_reverts_total"),
			proofLatency:     metrics.NewHistogram("zgs_proof_generation_seconds"),
		},
	}
	mgr.log.Info("log manager recovered", "segments", top.Leaves(), "nextTxSeq", nextSeq, "totalEntries", mgr.totalEntries())
	return mgr, nil
}

// activeSegmentIndex reports the segment index currently being filled by
// lastSegment, if any.
func (m *Manager) activeSegmentIndex() (idx uint64, active bool) {
	if m.lastSegment.Leaves() == 0 {
		return 0, false
	}
	return uint64(m.top.Leaves() - 1), true
}

// totalEntries returns the current flow length in entries.
func (m *Manager) totalEntries() uint64 {
	closed := uint64(m.top.Leaves())
	if m.lastSegment.Leaves() > 0 {
		closed--
	}
	return closed*flow.PoraChunkSize + uint64(m.lastSegment.Leaves())
}

// syncTopWithLastSegment reflects lastSegment's new root into top (push
// if it just went from empty to non-empty, else update-last), finalizing
// and resetting lastSegment if it just became full.
func (m *Manager) syncTopWithLastSegment(wasEmpty bool) error {
	if wasEmpty {
		m.top.Append(m.lastSegment.Root())
	} else {
		m.top.UpdateLast(m.lastSegment.Root())
	}
	if m.lastSegment.Leaves() == flow.PoraChunkSize {
		segIdx := uint64(m.top.Leaves() - 1)
		if err := m.fs.PutBatchRoot(segIdx, m.lastSegment.Root(), 1); err != nil {
			return err
		}
		m.m.segmentsComplete.Inc()
		m.lastSegment = merkle.NewWithDepth(m.algo, nil, flow.SegmentTreeDepth, nil)
	}
	return nil
}

// appendSubtreeList ingests a transaction's subtree list against a
// three-way branching rule (direct top-tree append, last-segment append,
// or multi-segment subtree grafting). The caller must already have
// padded the flow to the first subtree's alignment boundary.
func (m *Manager) appendSubtreeList(list []flow.SubtreeSpec) error {
	for _, s := range list {
		span := uint64(1) << uint(s.Depth-1)
		switch {
		case m.lastSegment.Leaves() == 0 && span == flow.PoraChunkSize:
			segIdx := uint64(m.top.Leaves())
			m.top.Append(s.Root)
			if err := m.fs.PutBatchRoot(segIdx, s.Root, 1); err != nil {
				return err
			}
			m.m.segmentsComplete.Inc()

		case uint64(m.lastSegment.Leaves())+span <= flow.PoraChunkSize:
			wasEmpty := m.lastSegment.Leaves() == 0
			if err := m.lastSegment.AppendSubtree(s.Depth, s.Root); err != nil {
				return err
			}
			if err := m.syncTopWithLastSegment(wasEmpty); err != nil {
				return err
			}

		default:
			if span < flow.PoraChunkSize || m.lastSegment.Leaves() != 0 {
				return fmt.Errorf("%w: subtree depth %d misaligned with segment boundary", errs.InvariantViolation, s.Depth)
			}
			segSpan := span / flow.PoraChunkSize
			segIdx := uint64(m.top.Leaves())
			if err := m.top.AppendSubtree(s.Depth-flow.PoraChunkHeight, s.Root); err != nil {
				return err
			}
			if err := m.fs.PutBatchRoot(segIdx, s.Root, segSpan); err != nil {
				return err
			}
		}
	}
	return nil
}

// appendPaddingEntries appends n zero entries through the two-level
// machinery. A run of whole segments is padded by computing the zero root
// from the end-pad table and appending it directly to the top tree,
// without materializing any bytes. Padding that lands inside the current
// segment instead appends zero leaves to lastSegment and also writes the
// zero bytes through the flow store, so that segment still reaches
// isComplete() once its padding arrives, the same as a segment filled by
// real entry data.
func (m *Manager) appendPaddingEntries(n uint64) error {
	remaining := n
	zeroLeaf := m.algo.Leaf(make([]byte, flow.EntrySize))
	for remaining > 0 {
		if m.lastSegment.Leaves() == 0 {
			fullSegments := remaining / flow.PoraChunkSize
			if fullSegments > 0 {
				root := m.algo.EndPad(flow.SegmentTreeDepth - 1)
				segIdx := uint64(m.top.Leaves())
				for i := uint64(0); i < fullSegments; i++ {
					m.top.Append(root)
					if err := m.fs.PutBatchRoot(segIdx+i, root, 1); err != nil {
						return err
					}
					m.m.segmentsComplete.Inc()
				}
				remaining -= fullSegments * flow.PoraChunkSize
				continue
			}
		}
		wasEmpty := m.lastSegment.Leaves() == 0
		room := uint64(flow.PoraChunkSize - m.lastSegment.Leaves())
		toFill := remaining
		if toFill > room {
			toFill = room
		}
		startIdx := m.totalEntries()
		for i := uint64(0); i < toFill; i++ {
			m.lastSegment.Append(zeroLeaf)
		}
		if err := m.syncTopWithLastSegment(wasEmpty); err != nil {
			return err
		}
		if _, err := m.fs.AppendEntries(flow.ChunkArray{StartIndex: startIdx, Data: make([]byte, toFill*flow.EntrySize)}); err != nil {
			return err
		}
		remaining -= toFill
	}
	return nil
}

// padTx pads the flow, if necessary, so its length is a multiple of
// 2^(firstDepth-1) before the first subtree of a new transaction.
func (m *Manager) padTx(firstDepth int) error {
	span := uint64(1) << uint(firstDepth-1)
	extra := m.totalEntries() % span
	if extra == 0 {
		return nil
	}
	return m.appendPaddingEntries(span - extra)
}

// PutTx pads the flow to tx's alignment, appends its subtree list, sets
// tx.StartEntryIndex to the resulting offset, commits both trees under
// tx.Seq, and persists the transaction. If a previous transaction shares
// the same data root and is already complete, its bytes are copied to
// tx's offset and tx is marked complete too.
func (m *Manager) PutTx(tx *flow.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(tx.MerkleNodes) == 0 {
		return fmt.Errorf("%w: transaction has no subtree list", errs.InvariantViolation)
	}
	if err := m.padTx(tx.MerkleNodes[0].Depth); err != nil {
		return err
	}
	tx.StartEntryIndex = m.totalEntries()
	if err := m.appendSubtreeList(tx.MerkleNodes); err != nil {
		return err
	}

	seq := tx.Seq
	m.top.Commit(&seq)
	m.lastSegment.Commit(&seq)

	existing, err := m.txs.PutTx(tx)
	if err != nil {
		return err
	}
	m.m.txsIngested.Inc()
	m.log.Debug("tx ingested", "seq", tx.Seq, "startEntryIndex", tx.StartEntryIndex, "size", tx.Size, "duplicates", len(existing))

	for _, oldSeq := range existing {
		oldTx, err := m.txs.GetTxBySeqNumber(oldSeq)
		if err != nil {
			continue
		}
		completed, err := m.txs.CheckTxCompleted(oldSeq)
		if err != nil {
			return err
		}
		if !completed {
			continue
		}
		arr, ok, err := m.fs.GetEntries(oldTx.StartEntryIndex, oldTx.StartEntryIndex+oldTx.Size)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := m.putChunksLocked(tx, 0, arr.Data); err != nil {
			return err
		}
		if err := m.txs.FinalizeTx(tx.Seq); err != nil {
			return err
		}
	}
	return nil
}

// putChunksLocked fills the leaves entries[start:] of tx correspond to,
// in both lastSegment (for entries in the currently filling segment) and
// the flow store, promoting newly-completed segments into top.
func (m *Manager) putChunksLocked(tx *flow.Transaction, startIndexInTx uint64, data []byte) error {
	if len(data)%flow.EntrySize != 0 {
		return fmt.Errorf("%w: chunk data length %d is not a multiple of entry size", errs.CorruptInput, len(data))
	}
	flowStart := tx.StartEntryIndex + startIndexInTx
	n := len(data) / flow.EntrySize

	activeIdx, active := m.activeSegmentIndex()
	activeStart := activeIdx * flow.PoraChunkSize
	for i := 0; i < n; i++ {
		entryIdx := flowStart + uint64(i)
		if !active || entryIdx < activeStart || entryIdx >= activeStart+flow.PoraChunkSize {
			continue
		}
		leaf := m.algo.Leaf(data[i*flow.EntrySize : (i+1)*flow.EntrySize])
		pos := int(entryIdx - activeStart)
		if err := m.lastSegment.FillLeaf(pos, leaf); err != nil {
			return err
		}
		m.top.UpdateLast(m.lastSegment.Root())
	}

	completed, err := m.fs.AppendEntries(flow.ChunkArray{StartIndex: flowStart, Data: data})
	if err != nil {
		return err
	}
	for _, c := range completed {
		if active && c.SegmentIndex == activeIdx {
			continue
		}
		if err := m.top.FillLeaf(int(c.SegmentIndex), c.Root); err != nil {
			return err
		}
		m.m.segmentsComplete.Inc()
	}
	return nil
}

// PutChunks fills entries [startIndexInTx, startIndexInTx+len(data)/
// EntrySize) of the transaction at txSeq.
func (m *Manager) PutChunks(txSeq, startIndexInTx uint64, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, err := m.txs.GetTxBySeqNumber(txSeq)
	if err != nil {
		return err
	}
	return m.putChunksLocked(tx, startIndexInTx, data)
}

// PutChunksWithTxHash behaves like PutChunks but first checks tx's
// current hash against expectedHash, returning false (not an error) on
// mismatch so the caller can distinguish "wrong tx" from "failed write".
func (m *Manager) PutChunksWithTxHash(txSeq, startIndexInTx uint64, data []byte, expectedHash merkle.Hash) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, err := m.txs.GetTxBySeqNumber(txSeq)
	if err != nil {
		return false, err
	}
	if tx.Hash() != expectedHash {
		return false, nil
	}
	return true, m.putChunksLocked(tx, startIndexInTx, data)
}

// FinalizeTx marks txSeq as completed.
func (m *Manager) FinalizeTx(txSeq uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.txs.FinalizeTx(txSeq)
}

// FinalizeTxWithHash behaves like FinalizeTx but checks tx's hash first.
func (m *Manager) FinalizeTxWithHash(txSeq uint64, expectedHash merkle.Hash) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, err := m.txs.GetTxBySeqNumber(txSeq)
	if err != nil {
		return false, err
	}
	if tx.Hash() != expectedHash {
		return false, nil
	}
	return true, m.txs.FinalizeTx(txSeq)
}

// CheckTxCompleted reports whether txSeq has been finalized.
func (m *Manager) CheckTxCompleted(txSeq uint64) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.txs.CheckTxCompleted(txSeq)
}

// NextTxSeq returns the next sequence number to assign.
func (m *Manager) NextTxSeq() (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.txs.NextTxSeq()
}

// GetTxBySeqNumber returns the transaction stored at seq.
func (m *Manager) GetTxBySeqNumber(seq uint64) (*flow.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.txs.GetTxBySeqNumber(seq)
}

// GetTxSeqByDataRoot returns every seq currently indexed under root.
func (m *Manager) GetTxSeqByDataRoot(root flow.DataRoot) ([]uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.txs.GetTxSeqByDataRoot(root)
}

// GetContext reports the current top root and total flow length.
func (m *Manager) GetContext() Context {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var root merkle.Hash
	if m.top.Leaves() > 0 {
		root = m.top.Root()
	}
	return Context{Root: root, TotalEntries: m.totalEntries()}
}

// PutSyncProgress records an opaque sync-progress marker.
func (m *Manager) PutSyncProgress(progress []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.db.Put(kv.MiscKey("sync_progress"), progress); err != nil {
		return fmt.Errorf("%w: %v", errs.Storage, err)
	}
	return nil
}

// GetChunkByFlowIndex returns the single entry at the given flow index.
func (m *Manager) GetChunkByFlowIndex(index uint64) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	arr, ok, err := m.fs.GetEntries(index, index+1)
	if err != nil || !ok {
		return nil, ok, err
	}
	return arr.Data, true, nil
}

// GetChunkByTxAndIndex returns the entry at indexInTx within txSeq.
func (m *Manager) GetChunkByTxAndIndex(txSeq, indexInTx uint64) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, err := m.txs.GetTxBySeqNumber(txSeq)
	if err != nil {
		return nil, false, err
	}
	start := tx.StartEntryIndex + indexInTx
	arr, ok, err := m.fs.GetEntries(start, start+1)
	if err != nil || !ok {
		return nil, ok, err
	}
	return arr.Data, true, nil
}

// GetChunksByTxAndIndexRange returns entries [startIndexInTx,
// endIndexInTx) of txSeq, only if every entry in that range is present.
func (m *Manager) GetChunksByTxAndIndexRange(txSeq, startIndexInTx, endIndexInTx uint64) (*flow.ChunkArray, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, err := m.txs.GetTxBySeqNumber(txSeq)
	if err != nil {
		return nil, false, err
	}
	return m.fs.GetEntries(tx.StartEntryIndex+startIndexInTx, tx.StartEntryIndex+endIndexInTx)
}

// GetChunksWithProofByTxAndIndexRange returns entries [startIndexInTx,
// endIndexInTx) of txSeq together with a range proof against the current
// root.
func (m *Manager) GetChunksWithProofByTxAndIndexRange(txSeq, startIndexInTx, endIndexInTx uint64) (*flow.ChunkArray, *flow.FlowRangeProof, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, err := m.txs.GetTxBySeqNumber(txSeq)
	if err != nil {
		return nil, nil, err
	}
	start := tx.StartEntryIndex + startIndexInTx
	end := tx.StartEntryIndex + endIndexInTx
	arr, ok, err := m.fs.GetEntries(start, end)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, fmt.Errorf("%w: tx %d range [%d,%d) not fully available", errs.NotReady, txSeq, startIndexInTx, endIndexInTx)
	}
	left, err := m.genProofLocked(start, nil)
	if err != nil {
		return nil, nil, err
	}
	right, err := m.genProofLocked(end-1, nil)
	if err != nil {
		return nil, nil, err
	}
	return arr, merkle.NewRangeProof(left, right), nil
}

// ValidateRangeProof validates rp against leaves laid out starting at
// startPosition.
func (m *Manager) ValidateRangeProof(rp *flow.FlowRangeProof, leaves []merkle.Hash, startPosition uint64) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return rp.Validate(m.algo, leaves, int(startPosition))
}

// GetProofAtRoot generates a proof for flowIndex; if atRoot is non-nil,
// the proof is generated against that historical top root instead of the
// current one.
func (m *Manager) GetProofAtRoot(flowIndex uint64, atRoot *merkle.Hash) (*flow.FlowProof, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.genProofLocked(flowIndex, atRoot)
}

// loadSegmentLeaves reconstructs leaf hashes for segment seg from the
// flow store. Segment 0 carries a historical-compatibility sentinel: if
// only entries [1, PoraChunkSize) are on disk, leaf 0 is the bare
// zero-hash rather than Leaf(zeros). This exception is never extrapolated
// to other segments.
func (m *Manager) loadSegmentLeaves(seg uint64) ([]merkle.Hash, error) {
	start := seg * flow.PoraChunkSize
	end := start + flow.PoraChunkSize

	if seg == 0 {
		_, has0, err := m.fs.GetEntries(start, start+1)
		if err != nil {
			return nil, err
		}
		if arr, ok, err := m.fs.GetEntries(start+1, end); err == nil && ok && !has0 {
			leaves := make([]merkle.Hash, flow.PoraChunkSize)
			leaves[0] = merkle.ZeroHash
			for i := 0; i < flow.PoraChunkSize-1; i++ {
				leaves[i+1] = m.algo.Leaf(arr.Entry(i))
			}
			return leaves, nil
		}
	}

	arr, ok, err := m.fs.GetEntries(start, end)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: segment %d data unavailable", errs.NotReady, seg)
	}
	leaves := make([]merkle.Hash, flow.PoraChunkSize)
	for i := 0; i < flow.PoraChunkSize; i++ {
		leaves[i] = m.algo.Leaf(arr.Entry(i))
	}
	return leaves, nil
}

func (m *Manager) genProofLocked(flowIndex uint64, atRoot *merkle.Hash) (*flow.FlowProof, error) {
	timer := metrics.NewTimer(m.m.proofLatency)
	defer timer.Stop()

	seg := flowIndex / flow.PoraChunkSize
	off := flowIndex % flow.PoraChunkSize

	var topProof *merkle.Proof
	var err error
	if atRoot != nil {
		hist, herr := m.top.AtRootVersion(*atRoot)
		if herr != nil {
			return nil, herr
		}
		topProof, err = hist.GenProof(int(seg))
	} else {
		topProof, err = m.top.GenProof(int(seg))
	}
	if err != nil {
		return nil, err
	}

	var subProof *merkle.Proof
	activeIdx, active := m.activeSegmentIndex()
	if atRoot == nil && active && seg == activeIdx {
		subProof, err = m.lastSegment.GenProof(int(off))
	} else {
		var leaves []merkle.Hash
		leaves, err = m.loadSegmentLeaves(seg)
		if err == nil {
			subTree := merkle.New(m.algo, leaves, 0, nil)
			subProof, err = subTree.GenProof(int(off))
		}
	}
	if err != nil {
		return nil, err
	}

	if subProof.Root() != topProof.Item() {
		return nil, fmt.Errorf("%w: sub-segment root does not match top leaf for segment %d", errs.InvariantViolation, seg)
	}

	lemma := make([]merkle.Hash, 0, len(subProof.Lemma())+len(topProof.Lemma())-1)
	lemma = append(lemma, subProof.Lemma()[:len(subProof.Lemma())-1]...)
	lemma = append(lemma, topProof.Lemma()[1:]...)
	path := make([]bool, 0, len(subProof.Path())+len(topProof.Path()))
	path = append(path, subProof.Path()...)
	path = append(path, topProof.Path()...)
	return merkle.NewProof(lemma, path), nil
}

// RevertTo truncates the flow back to the shape it had at tx_seq,
// removing every later transaction and returning them in ascending seq
// order. RevertToEmpty resets the flow to its seeded empty shape.
func (m *Manager) RevertTo(txSeq uint64) ([]*flow.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.m.reverts.Inc()

	beforeTopLeaves := m.top.Leaves()
	if txSeq == RevertToEmpty {
		m.top.Reset()
		m.lastSegment.Reset()
	} else {
		if err := m.top.RevertTo(txSeq); err != nil {
			return nil, err
		}
		if m.top.Leaves() == beforeTopLeaves {
			if err := m.lastSegment.RevertTo(txSeq); err != nil {
				return nil, err
			}
		} else {
			rebuilt, err := m.txs.RebuildLastChunkMerkle(m.fs, m.algo, uint64(m.top.Leaves()), txSeq)
			if err != nil {
				return nil, err
			}
			m.lastSegment = rebuilt
		}
	}

	if err := m.fs.Truncate(m.totalEntries()); err != nil {
		return nil, err
	}

	var removed []*flow.Transaction
	for seq := txSeq + 1; ; seq++ {
		tx, err := m.txs.GetTxBySeqNumber(seq)
		if err != nil {
			break
		}
		removed = append(removed, tx)
	}
	for _, tx := range removed {
		if err := m.txs.RemoveTxBySeqNumber(tx.Seq); err != nil {
			return nil, err
		}
	}
	m.log.Warn("reverted", "toTxSeq", txSeq, "removedTxs", len(removed), "totalEntries", m.totalEntries())
	return removed, nil
}

// RemoveAllChunks wipes entries and segment roots at or beyond
// fromSegment, refusing if any non-reverted transaction still references
// data there.
func (m *Manager) RemoveAllChunks(fromSegment uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	boundary := fromSegment * flow.PoraChunkSize
	nextSeq, err := m.txs.NextTxSeq()
	if err != nil {
		return err
	}
	for seq := uint64(0); seq < nextSeq; seq++ {
		tx, err := m.txs.GetTxBySeqNumber(seq)
		if err != nil {
			continue
		}
		if tx.StartEntryIndex+tx.PaddedSize() > boundary {
			return fmt.Errorf("%w: tx %d still references segment %d", errs.InvariantViolation, seq, fromSegment)
		}
	}
	return m.fs.RemoveAllChunks(fromSegment)
}
