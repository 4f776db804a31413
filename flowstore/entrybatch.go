package flowstore

import (
	"encoding/binary"
	"fmt"

	"github.com/golang/snappy"

	"github.com/zerog-labs/zerog-storage-node/errs"
	"github.com/zerog-labs/zerog-storage-node/flow"
)

const bitmapBytes = (flow.PoraChunkSize + 7) / 8

// entryBatch is the persistent unit of one PoRA segment: up to
// PoraChunkSize entries plus a completion bitmap. The segment root is not
// held here; it is recorded in the entry-batch-root column.
type entryBatch struct {
	complete bool
	bitmap   [bitmapBytes]byte
	data     [flow.SegmentByteSize]byte
}

func newEntryBatch() *entryBatch {
	return &entryBatch{}
}

func (b *entryBatch) isSet(i int) bool {
	return b.bitmap[i/8]&(1<<uint(i%8)) != 0
}

func (b *entryBatch) set(i int) {
	b.bitmap[i/8] |= 1 << uint(i%8)
}

func (b *entryBatch) fullCount() int {
	n := 0
	for i := 0; i < flow.PoraChunkSize; i++ {
		if b.isSet(i) {
			n++
		}
	}
	return n
}

func (b *entryBatch) isComplete() bool { return b.fullCount() == flow.PoraChunkSize }

// writeEntries copies entries [offset, offset+n) into the batch and marks
// them present. Already-set entries with identical bytes are a no-op; a
// conflicting overwrite is an invariant violation, since entry bytes are
// immutable once written.
func (b *entryBatch) writeEntries(offset int, data []byte) error {
	n := len(data) / flow.EntrySize
	for i := 0; i < n; i++ {
		pos := offset + i
		src := data[i*flow.EntrySize : (i+1)*flow.EntrySize]
		dst := b.data[pos*flow.EntrySize : (pos+1)*flow.EntrySize]
		if b.isSet(pos) {
			if !bytesEqual(dst, src) {
				return fmt.Errorf("%w: entry %d rewritten with different bytes", errs.InvariantViolation, pos)
			}
			continue
		}
		copy(dst, src)
		b.set(pos)
	}
	return nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// marshal serializes the batch as: 1 status byte, then a snappy-compressed
// bitmap+data payload. A partially-filled segment is mostly zero bytes
// (unset entries), which snappy compresses well; a complete segment still
// benefits whenever entry data itself has redundancy.
func (b *entryBatch) marshal() []byte {
	plain := make([]byte, bitmapBytes+flow.SegmentByteSize)
	copy(plain[:bitmapBytes], b.bitmap[:])
	copy(plain[bitmapBytes:], b.data[:])
	compressed := snappy.Encode(nil, plain)

	out := make([]byte, 1+len(compressed))
	if b.complete {
		out[0] = 1
	}
	copy(out[1:], compressed)
	return out
}

func unmarshalEntryBatch(raw []byte) (*entryBatch, error) {
	if len(raw) < 1 {
		return nil, fmt.Errorf("%w: entry batch record too short", errs.CorruptInput)
	}
	plain, err := snappy.Decode(nil, raw[1:])
	if err != nil {
		return nil, fmt.Errorf("%w: entry batch payload failed to decompress: %v", errs.CorruptInput, err)
	}
	if len(plain) != bitmapBytes+flow.SegmentByteSize {
		return nil, fmt.Errorf("%w: entry batch record has wrong decompressed length %d", errs.CorruptInput, len(plain))
	}
	b := &entryBatch{complete: raw[0] == 1}
	copy(b.bitmap[:], plain[:bitmapBytes])
	copy(b.data[:], plain[bitmapBytes:])
	return b, nil
}

// batchRootRecord is the persisted (root, span) pair for a segment known
// by subtree root before its bytes arrive, or computed from a completed
// batch.
type batchRootRecord struct {
	root flow.DataRoot
	span uint64
}

func (r batchRootRecord) marshal() []byte {
	out := make([]byte, 32+8)
	copy(out[:32], r.root.Bytes())
	binary.BigEndian.PutUint64(out[32:], r.span)
	return out
}

func unmarshalBatchRootRecord(raw []byte) (batchRootRecord, error) {
	if len(raw) != 40 {
		return batchRootRecord{}, fmt.Errorf("%w: batch root record has wrong length %d", errs.CorruptInput, len(raw))
	}
	return batchRootRecord{
		root: flow.DataRoot(rootFromBytes(raw[:32])),
		span: binary.BigEndian.Uint64(raw[32:]),
	}, nil
}

func rootFromBytes(b []byte) [32]byte {
	var out [32]byte
	copy(out[:], b)
	return out
}
