package flow

import "testing"

func TestTransaction_HashIsStableAndFieldSensitive(t *testing.T) {
	base := &Transaction{
		Seq:             3,
		StartEntryIndex: 1024,
		Size:            2048,
		DataMerkleRoot:  merkleHashFrom(1),
		MerkleNodes: []SubtreeSpec{
			{Depth: 2, Root: merkleHashFrom(2)},
			{Depth: 3, Root: merkleHashFrom(3)},
		},
	}

	h1 := base.Hash()
	h2 := base.Hash()
	if h1 != h2 {
		t.Fatalf("Hash() is not stable across calls: %v != %v", h1, h2)
	}

	variants := []*Transaction{
		{Seq: 4, StartEntryIndex: base.StartEntryIndex, Size: base.Size, DataMerkleRoot: base.DataMerkleRoot, MerkleNodes: base.MerkleNodes},
		{Seq: base.Seq, StartEntryIndex: base.StartEntryIndex + 1, Size: base.Size, DataMerkleRoot: base.DataMerkleRoot, MerkleNodes: base.MerkleNodes},
		{Seq: base.Seq, StartEntryIndex: base.StartEntryIndex, Size: base.Size + 1, DataMerkleRoot: base.DataMerkleRoot, MerkleNodes: base.MerkleNodes},
		{Seq: base.Seq, StartEntryIndex: base.StartEntryIndex, Size: base.Size, DataMerkleRoot: merkleHashFrom(9), MerkleNodes: base.MerkleNodes},
		{Seq: base.Seq, StartEntryIndex: base.StartEntryIndex, Size: base.Size, DataMerkleRoot: base.DataMerkleRoot, MerkleNodes: base.MerkleNodes[:1]},
	}
	for i, v := range variants {
		if v.Hash() == h1 {
			t.Fatalf("variant %d produced the same hash as base, want a distinct hash", i)
		}
	}
}

func TestTransaction_PaddedSize(t *testing.T) {
	tx := &Transaction{
		MerkleNodes: []SubtreeSpec{
			{Depth: 1, Root: merkleHashFrom(1)}, // 2^0 = 1
			{Depth: 3, Root: merkleHashFrom(2)}, // 2^2 = 4
			{Depth: 11, Root: merkleHashFrom(3)}, // 2^10 = 1024
		},
	}
	want := uint64(1 + 4 + 1024)
	if got := tx.PaddedSize(); got != want {
		t.Fatalf("PaddedSize() = %d, want %d", got, want)
	}
}

func TestChunkArray_NumEntriesAndEntry(t *testing.T) {
	data := make([]byte, 3*EntrySize)
	for i := range data {
		data[i] = byte(i)
	}
	c := ChunkArray{StartIndex: 7, Data: data}

	if got := c.NumEntries(); got != 3 {
		t.Fatalf("NumEntries() = %d, want 3", got)
	}

	e1 := c.Entry(1)
	if len(e1) != EntrySize {
		t.Fatalf("Entry(1) length = %d, want %d", len(e1), EntrySize)
	}
	if e1[0] != data[EntrySize] {
		t.Fatalf("Entry(1)[0] = %d, want %d", e1[0], data[EntrySize])
	}
}

func merkleHashFrom(seed byte) DataRoot {
	var h DataRoot
	for i := range h {
		h[i] = seed
	}
	return h
}
