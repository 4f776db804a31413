package kv

import "encoding/binary"

// Column family prefixes. Pebble has no native column-family concept,
// so each family is a single-byte key prefix, following this codebase's
// own prefix-based rawdb schema.
var (
	ColTx                = []byte{0x00} // seq (8 bytes BE) -> tx record
	ColEntryBatch        = []byte{0x01} // segment index (8 bytes BE) -> batch bytes + bitmap
	ColTxDataRootIndex   = []byte{0x02} // data root (32 bytes) + seq (8 bytes BE) -> empty
	ColEntryBatchRoot    = []byte{0x03} // segment index (8 bytes BE) -> root (32 bytes) + span (8 bytes BE)
	ColTxCompleted       = []byte{0x04} // seq (8 bytes BE) -> 0x01
	ColMisc              = []byte{0x05} // arbitrary key -> arbitrary value (sync progress, etc.)
	ColSealContext       = []byte{0x06} // segment index (8 bytes BE) -> seal record
)

// EncodeSeq encodes a sequence number (tx_seq, segment index) as an
// 8-byte big-endian value so lexicographic key order matches numeric
// order, matching this codebase's own block-number encoding convention.
func EncodeSeq(seq uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seq)
	return b
}

// DecodeSeq is the inverse of EncodeSeq.
func DecodeSeq(b []byte) uint64 { return binary.BigEndian.Uint64(b) }

// TxKey = ColTx + seq.
func TxKey(seq uint64) []byte { return append(append([]byte{}, ColTx...), EncodeSeq(seq)...) }

// EntryBatchKey = ColEntryBatch + segment index.
func EntryBatchKey(segmentIndex uint64) []byte {
	return append(append([]byte{}, ColEntryBatch...), EncodeSeq(segmentIndex)...)
}

// DataRootIndexKey = ColTxDataRootIndex + data root + seq, so every tx
// sharing a data root sorts together as a scan-able key range.
func DataRootIndexKey(dataRoot [32]byte, seq uint64) []byte {
	out := append(append([]byte{}, ColTxDataRootIndex...), dataRoot[:]...)
	return append(out, EncodeSeq(seq)...)
}

// DataRootIndexPrefix = ColTxDataRootIndex + data root, used to scan every
// seq sharing that root.
func DataRootIndexPrefix(dataRoot [32]byte) []byte {
	return append(append([]byte{}, ColTxDataRootIndex...), dataRoot[:]...)
}

// EntryBatchRootKey = ColEntryBatchRoot + segment index.
func EntryBatchRootKey(segmentIndex uint64) []byte {
	return append(append([]byte{}, ColEntryBatchRoot...), EncodeSeq(segmentIndex)...)
}

// TxCompletedKey = ColTxCompleted + seq.
func TxCompletedKey(seq uint64) []byte {
	return append(append([]byte{}, ColTxCompleted...), EncodeSeq(seq)...)
}

// SealContextKey = ColSealContext + segment index.
func SealContextKey(segmentIndex uint64) []byte {
	return append(append([]byte{}, ColSealContext...), EncodeSeq(segmentIndex)...)
}

// MiscKey = ColMisc + name.
func MiscKey(name string) []byte { return append(append([]byte{}, ColMisc...), []byte(name)...) }
