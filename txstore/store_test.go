package txstore

import (
	"testing"

	"github.com/zerog-labs/zerog-storage-node/flow"
	"github.com/zerog-labs/zerog-storage-node/flowstore"
	"github.com/zerog-labs/zerog-storage-node/internal/testutil"
	"github.com/zerog-labs/zerog-storage-node/kv"
	"github.com/zerog-labs/zerog-storage-node/merkle"
)

func newTestStore() (*Store, *flowstore.Store, merkle.Algorithm) {
	db := kv.NewMemoryStore()
	algo := merkle.NewSha3Algorithm()
	return New(db), flowstore.New(db, algo), algo
}

func sampleTx(seq uint64, start, size uint64, depth int) *flow.Transaction {
	return &flow.Transaction{
		Seq:             seq,
		StartEntryIndex: start,
		Size:            size,
		DataMerkleRoot:  testutil.SeededEntryRoot(seq),
		MerkleNodes:     []flow.SubtreeSpec{{Depth: depth, Root: testutil.SeededEntryRoot(seq + 1000)}},
	}
}

func TestStore_PutAndGetTx(t *testing.T) {
	s, _, _ := newTestStore()
	tx := sampleTx(0, 0, 4, 3)

	existing, err := s.PutTx(tx)
	if err != nil {
		t.Fatalf("PutTx: %v", err)
	}
	if len(existing) != 0 {
		t.Fatalf("expected no duplicate data roots, got %v", existing)
	}

	got, err := s.GetTxBySeqNumber(0)
	if err != nil {
		t.Fatalf("GetTxBySeqNumber: %v", err)
	}
	if got.Seq != tx.Seq || got.StartEntryIndex != tx.StartEntryIndex || got.Size != tx.Size {
		t.Fatalf("got = %+v, want %+v", got, tx)
	}
	if len(got.MerkleNodes) != 1 || got.MerkleNodes[0].Depth != 3 {
		t.Fatalf("merkle nodes not round-tripped: %+v", got.MerkleNodes)
	}
}

func TestStore_DuplicateDataRoot(t *testing.T) {
	s, _, _ := newTestStore()
	tx0 := sampleTx(0, 0, 4, 3)
	if _, err := s.PutTx(tx0); err != nil {
		t.Fatalf("PutTx(0): %v", err)
	}

	tx1 := sampleTx(1, 4, 4, 3)
	tx1.DataMerkleRoot = tx0.DataMerkleRoot
	existing, err := s.PutTx(tx1)
	if err != nil {
		t.Fatalf("PutTx(1): %v", err)
	}
	if len(existing) != 1 || existing[0] != 0 {
		t.Fatalf("existing = %v, want [0]", existing)
	}

	seqs, err := s.GetTxSeqByDataRoot(tx0.DataMerkleRoot)
	if err != nil {
		t.Fatalf("GetTxSeqByDataRoot: %v", err)
	}
	if len(seqs) != 2 || seqs[0] != 0 || seqs[1] != 1 {
		t.Fatalf("seqs = %v, want [0 1]", seqs)
	}
}

func TestStore_FinalizeAndRemove(t *testing.T) {
	s, _, _ := newTestStore()
	tx := sampleTx(0, 0, 4, 3)
	if _, err := s.PutTx(tx); err != nil {
		t.Fatalf("PutTx: %v", err)
	}

	completed, err := s.CheckTxCompleted(0)
	if err != nil || completed {
		t.Fatalf("CheckTxCompleted before finalize: completed=%v err=%v", completed, err)
	}
	if err := s.FinalizeTx(0); err != nil {
		t.Fatalf("FinalizeTx: %v", err)
	}
	completed, err = s.CheckTxCompleted(0)
	if err != nil || !completed {
		t.Fatalf("CheckTxCompleted after finalize: completed=%v err=%v", completed, err)
	}

	if err := s.RemoveTxBySeqNumber(0); err != nil {
		t.Fatalf("RemoveTxBySeqNumber: %v", err)
	}
	if _, err := s.GetTxBySeqNumber(0); err == nil {
		t.Fatalf("expected GetTxBySeqNumber to fail after removal")
	}
}

func TestStore_NextTxSeq(t *testing.T) {
	s, _, _ := newTestStore()
	seq, err := s.NextTxSeq()
	if err != nil || seq != 0 {
		t.Fatalf("NextTxSeq on empty store = %d, %v, want 0, nil", seq, err)
	}

	for i := uint64(0); i < 3; i++ {
		if _, err := s.PutTx(sampleTx(i, i*4, 4, 3)); err != nil {
			t.Fatalf("PutTx(%d): %v", i, err)
		}
	}
	seq, err = s.NextTxSeq()
	if err != nil || seq != 3 {
		t.Fatalf("NextTxSeq = %d, %v, want 3, nil", seq, err)
	}
}

func TestStore_RebuildLastChunkMerkle(t *testing.T) {
	s, fs, algo := newTestStore()

	leafAlgo := merkle.NewSha3Algorithm()
	leafHashes := testutil.SeededLeaves(leafAlgo, 9, 4)
	subtreeRoot := testutil.BruteForceRoot(leafAlgo, leafHashes)

	tx := &flow.Transaction{
		Seq:             0,
		StartEntryIndex: 0,
		Size:            4,
		DataMerkleRoot:  testutil.SeededEntryRoot(0),
		MerkleNodes:     []flow.SubtreeSpec{{Depth: 3, Root: subtreeRoot}},
	}
	if _, err := s.PutTx(tx); err != nil {
		t.Fatalf("PutTx: %v", err)
	}

	data := make([]byte, 0, 4*flow.EntrySize)
	for i := 0; i < 4; i++ {
		data = append(data, testutil.SeededEntry(9, i)...)
	}
	if _, err := fs.AppendEntries(flow.ChunkArray{StartIndex: 0, Data: data}); err != nil {
		t.Fatalf("AppendEntries: %v", err)
	}

	rebuilt, err := s.RebuildLastChunkMerkle(fs, algo, 0, 0)
	if err != nil {
		t.Fatalf("RebuildLastChunkMerkle: %v", err)
	}
	if rebuilt.Leaves() != 4 {
		t.Fatalf("rebuilt leaves = %d, want 4", rebuilt.Leaves())
	}
	if rebuilt.Root() != subtreeRoot {
		t.Fatalf("rebuilt root = %s, want %s", rebuilt.Root(), subtreeRoot)
	}
}
