// Package flowstore persists raw entry bytes and per-segment roots over a
// column-family KV store. It does not know about the Merkle trees
// built on top of it; it only tracks which bytes have arrived and
// computes segment roots once a segment is complete.
package flowstore

import (
	"fmt"
	"sort"

	"github.com/VictoriaMetrics/fastcache"

	"github.com/zerog-labs/zerog-storage-node/errs"
	"github.com/zerog-labs/zerog-storage-node/flow"
	"github.com/zerog-labs/zerog-storage-node/kv"
	"github.com/zerog-labs/zerog-storage-node/merkle"
)

// batchCacheBytes bounds the in-memory cache of recently touched segment
// batches. Sized for a few thousand hot segments rather than the
// whole flow, since cold segments fall back to the KV store.
const batchCacheBytes = 64 * 1024 * 1024

// CompletedSegment is one segment whose bytes just became fully present.
type CompletedSegment struct {
	SegmentIndex uint64
	Root         merkle.Hash
}

// Store is the flow store: entry bytes and segment roots over a KV.
type Store struct {
	db    kv.Store
	algo  merkle.Algorithm
	cache *fastcache.Cache
}

// New wraps db as a flow store using algo to compute segment roots.
func New(db kv.Store, algo merkle.Algorithm) *Store {
	return &Store{db: db, algo: algo, cache: fastcache.New(batchCacheBytes)}
}

func batchCacheKey(segIdx uint64) []byte {
	return kv.EntryBatchKey(segIdx)
}

func (s *Store) loadBatch(segIdx uint64) (*entryBatch, bool, error) {
	key := batchCacheKey(segIdx)
	if raw, found := s.cache.HasGet(nil, key); found {
		b, err := unmarshalEntryBatch(raw)
		if err != nil {
			return nil, false, err
		}
		return b, true, nil
	}

	raw, err := s.db.Get(key)
	if err == kv.ErrNotFound {
		return newEntryBatch(), false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", errs.Storage, err)
	}
	s.cache.Set(key, raw)
	b, err := unmarshalEntryBatch(raw)
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// AppendEntries writes arr's bytes into the segments they fall in,
// merging into each segment's bitmap. It returns every segment that
// transitioned to fully-present as a result of this call.
func (s *Store) AppendEntries(arr flow.ChunkArray) ([]CompletedSegment, error) {
	if len(arr.Data)%flow.EntrySize != 0 {
		return nil, fmt.Errorf("%w: data length %d is not a multiple of entry size", errs.CorruptInput, len(arr.Data))
	}
	n := arr.NumEntries()
	if n == 0 {
		return nil, nil
	}

	var completed []CompletedSegment
	batch := s.db.NewBatch()

	startEntry := arr.StartIndex
	endEntry := arr.StartIndex + uint64(n)
	for segIdx := startEntry / flow.PoraChunkSize; segIdx*flow.PoraChunkSize < endEntry; segIdx++ {
		segStart := segIdx * flow.PoraChunkSize
		segEnd := segStart + flow.PoraChunkSize

		lo := segStart
		if lo < startEntry {
			lo = startEntry
		}
		hi := segEnd
		if hi > endEntry {
			hi = endEntry
		}

		b, existed, err := s.loadBatch(segIdx)
		if err != nil {
			return nil, err
		}
		wasComplete := existed && b.isComplete()

		srcOff := (lo - startEntry) * flow.EntrySize
		srcEnd := (hi - startEntry) * flow.EntrySize
		if err := b.writeEntries(int(lo-segStart), arr.Data[srcOff:srcEnd]); err != nil {
			return nil, err
		}

		nowComplete := b.isComplete()
		var root merkle.Hash
		if nowComplete && !wasComplete {
			root = s.computeSegmentRoot(b)
			b.complete = true
			rec := batchRootRecord{root: root, span: 1}
			batch.Put(kv.EntryBatchRootKey(segIdx), rec.marshal())
			completed = append(completed, CompletedSegment{SegmentIndex: segIdx, Root: root})
		}
		marshaled := b.marshal()
		batch.Put(kv.EntryBatchKey(segIdx), marshaled)
		s.cache.Set(batchCacheKey(segIdx), marshaled)
	}

	if err := batch.Write(); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.Storage, err)
	}
	return completed, nil
}

// computeSegmentRoot builds an ephemeral depth-(PoraChunkHeight+1) tree
// over a completed batch's entries and returns its root.
func (s *Store) computeSegmentRoot(b *entryBatch) merkle.Hash {
	leaves := make([]merkle.Hash, flow.PoraChunkSize)
	for i := 0; i < flow.PoraChunkSize; i++ {
		leaves[i] = s.algo.Leaf(b.data[i*flow.EntrySize : (i+1)*flow.EntrySize])
	}
	t := merkle.New(s.algo, leaves, 0, nil)
	return t.Root()
}

// GetEntries returns the entry bytes in [start, end) only if every entry
// in that range is present.
func (s *Store) GetEntries(start, end uint64) (*flow.ChunkArray, bool, error) {
	if end <= start {
		return nil, false, fmt.Errorf("%w: invalid range start=%d end=%d", errs.OutOfRange, start, end)
	}
	out := make([]byte, (end-start)*flow.EntrySize)
	for segIdx := start / flow.PoraChunkSize; segIdx*flow.PoraChunkSize < end; segIdx++ {
		b, existed, err := s.loadBatch(segIdx)
		if err != nil {
			return nil, false, err
		}
		segStart := segIdx * flow.PoraChunkSize
		segEnd := segStart + flow.PoraChunkSize
		lo := segStart
		if lo < start {
			lo = start
		}
		hi := segEnd
		if hi > end {
			hi = end
		}
		for i := lo; i < hi; i++ {
			local := int(i - segStart)
			if !existed || !b.isSet(local) {
				return nil, false, nil
			}
			copy(out[(i-start)*flow.EntrySize:(i-start+1)*flow.EntrySize], b.data[local*flow.EntrySize:(local+1)*flow.EntrySize])
		}
	}
	return &flow.ChunkArray{StartIndex: start, Data: out}, true, nil
}

// GetAvailableEntries returns whatever entries in [start, end) are
// present, zero-filling gaps, along with a bitmap of which positions were
// actually present. Used during startup rebuild, where partial data is
// still useful.
func (s *Store) GetAvailableEntries(start, end uint64) (*flow.ChunkArray, []bool, error) {
	if end <= start {
		return nil, nil, fmt.Errorf("%w: invalid range start=%d end=%d", errs.OutOfRange, start, end)
	}
	out := make([]byte, (end-start)*flow.EntrySize)
	present := make([]bool, end-start)
	for segIdx := start / flow.PoraChunkSize; segIdx*flow.PoraChunkSize < end; segIdx++ {
		b, existed, err := s.loadBatch(segIdx)
		if err != nil {
			return nil, nil, err
		}
		if !existed {
			continue
		}
		segStart := segIdx * flow.PoraChunkSize
		segEnd := segStart + flow.PoraChunkSize
		lo := segStart
		if lo < start {
			lo = start
		}
		hi := segEnd
		if hi > end {
			hi = end
		}
		for i := lo; i < hi; i++ {
			local := int(i - segStart)
			if b.isSet(local) {
				present[i-start] = true
				copy(out[(i-start)*flow.EntrySize:(i-start+1)*flow.EntrySize], b.data[local*flow.EntrySize:(local+1)*flow.EntrySize])
			}
		}
	}
	return &flow.ChunkArray{StartIndex: start, Data: out}, present, nil
}

// PutBatchRoot records a root known from an appended subtree before its
// bytes arrive. span covers the number of consecutive PoraChunkSize
// segments this single root spans (span==1 for an ordinary per-segment
// root; span>1 for a subtree larger than one segment).
func (s *Store) PutBatchRoot(segIdx uint64, root merkle.Hash, span uint64) error {
	rec := batchRootRecord{root: root, span: span}
	if err := s.db.Put(kv.EntryBatchRootKey(segIdx), rec.marshal()); err != nil {
		return fmt.Errorf("%w: %v", errs.Storage, err)
	}
	return nil
}

// GetChunkRootList returns every known (depth, root) subtree entry in
// segment order, used to rebuild the top tree on startup via
// merkle.NewWithSubtrees without replaying raw bytes.
func (s *Store) GetChunkRootList() ([]merkle.SubtreeRoot, error) {
	it := s.db.NewIterator(kv.ColEntryBatchRoot, nil)
	defer it.Release()

	type indexed struct {
		segIdx uint64
		rec    batchRootRecord
	}
	var all []indexed
	for it.Next() {
		key := it.Key()
		segIdx := kv.DecodeSeq(key[len(kv.ColEntryBatchRoot):])
		rec, err := unmarshalBatchRootRecord(it.Value())
		if err != nil {
			return nil, err
		}
		all = append(all, indexed{segIdx: segIdx, rec: rec})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].segIdx < all[j].segIdx })

	out := make([]merkle.SubtreeRoot, 0, len(all))
	for _, e := range all {
		// Depth is relative to the top tree, where one segment is one leaf
		// (depth 1) regardless of how many entries that segment spans.
		depth := 1
		for span := e.rec.span; span > 1; span >>= 1 {
			depth++
		}
		out = append(out, merkle.SubtreeRoot{Depth: depth, Root: e.rec.root})
	}
	return out, nil
}

// Truncate drops every entry and segment root at or beyond fromEntry.
func (s *Store) Truncate(fromEntry uint64) error {
	fromSeg := fromEntry / flow.PoraChunkSize
	offset := fromEntry % flow.PoraChunkSize

	batch := s.db.NewBatch()
	if offset != 0 {
		b, existed, err := s.loadBatch(fromSeg)
		if err != nil {
			return err
		}
		if existed {
			for i := int(offset); i < flow.PoraChunkSize; i++ {
				b.bitmap[i/8] &^= 1 << uint(i%8)
				clear := b.data[i*flow.EntrySize : (i+1)*flow.EntrySize]
				for j := range clear {
					clear[j] = 0
				}
			}
			b.complete = false
			marshaled := b.marshal()
			batch.Put(kv.EntryBatchKey(fromSeg), marshaled)
			batch.Delete(kv.EntryBatchRootKey(fromSeg))
			s.cache.Set(batchCacheKey(fromSeg), marshaled)
		}
		fromSeg++
	}

	it := s.db.NewIterator(kv.ColEntryBatch, kv.EntryBatchKey(fromSeg))
	for it.Next() {
		key := append([]byte(nil), it.Key()...)
		batch.Delete(key)
		s.cache.Del(key)
	}
	it.Release()

	it2 := s.db.NewIterator(kv.ColEntryBatchRoot, kv.EntryBatchRootKey(fromSeg))
	for it2.Next() {
		key := append([]byte(nil), it2.Key()...)
		batch.Delete(key)
	}
	it2.Release()

	if err := batch.Write(); err != nil {
		return fmt.Errorf("%w: %v", errs.Storage, err)
	}
	return nil
}

// RemoveAllChunks wipes every entry and segment root at or beyond
// fromSegment. It is the log manager's responsibility to ensure no
// non-reverted transaction still references data in that range before
// calling this.
func (s *Store) RemoveAllChunks(fromSegment uint64) error {
	return s.Truncate(fromSegment * flow.PoraChunkSize)
}

// SealChunk is one segment claimed by a sealer worker.
type SealChunk struct {
	SegmentIndex uint64
	Data         []byte
}

// PullSealChunk claims up to n complete-but-unsealed segments. Claiming
// does not remove the segment from normal reads; it only marks it so a
// second sealer does not duplicate the work, via a marker in the seal
// context column.
func (s *Store) PullSealChunk(n int) ([]SealChunk, error) {
	it := s.db.NewIterator(kv.ColEntryBatchRoot, nil)
	defer it.Release()

	var claimed []SealChunk
	for it.Next() && len(claimed) < n {
		segIdx := kv.DecodeSeq(it.Key()[len(kv.ColEntryBatchRoot):])
		sealed, err := s.db.Has(kv.SealContextKey(segIdx))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errs.Storage, err)
		}
		if sealed {
			continue
		}
		b, existed, err := s.loadBatch(segIdx)
		if err != nil {
			return nil, err
		}
		if !existed || !b.isComplete() {
			continue
		}
		if err := s.db.Put(kv.SealContextKey(segIdx), []byte{0x00}); err != nil {
			return nil, fmt.Errorf("%w: %v", errs.Storage, err)
		}
		claimed = append(claimed, SealChunk{SegmentIndex: segIdx, Data: append([]byte(nil), b.data[:]...)})
	}
	return claimed, nil
}

// SubmitSealResult records sealedData for segmentIndex, clearing its
// claim. sealedData is opaque to this package; no sealing algorithm is
// implemented here.
func (s *Store) SubmitSealResult(segmentIndex uint64, sealedData []byte) error {
	if err := s.db.Put(kv.SealContextKey(segmentIndex), sealedData); err != nil {
		return fmt.Errorf("%w: %v", errs.Storage, err)
	}
	return nil
}
