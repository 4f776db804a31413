package merkle

import (
	"errors"
	"testing"

	"github.com/zerog-labs/zerog-storage-node/errs"
	"github.com/zerog-labs/zerog-storage-node/internal/testutil"
)

func leaves(algo Algorithm, seed byte, n int) []Hash {
	return testutil.SeededLeaves(algo, seed, n)
}

func TestAppendMerkleTree_RootMatchesBruteForce(t *testing.T) {
	algo := NewSha3Algorithm()
	for _, n := range []int{1, 2, 3, 4, 5, 7, 8, 17, 31} {
		ls := leaves(algo, 1, n)
		tr := New(algo, nil, 0, nil)
		tr.AppendList(ls)
		want := testutil.BruteForceRoot(algo, ls)
		if got := tr.Root(); got != want {
			t.Fatalf("n=%d: root = %s, want %s", n, got, want)
		}
	}
}

func TestAppendMerkleTree_AppendOneAtATimeMatchesBulk(t *testing.T) {
	algo := NewSha3Algorithm()
	ls := leaves(algo, 2, 13)

	bulk := New(algo, nil, 0, nil)
	bulk.AppendList(ls)

	incremental := New(algo, nil, 0, nil)
	for _, l := range ls {
		incremental.Append(l)
	}

	if bulk.Root() != incremental.Root() {
		t.Fatalf("incremental root %s != bulk root %s", incremental.Root(), bulk.Root())
	}
}

func TestAppendMerkleTree_FillLeaf(t *testing.T) {
	algo := NewSha3Algorithm()
	tr := New(algo, nil, 0, nil)
	if err := tr.AppendSubtree(3, Hash{}.add(1)); err != nil {
		t.Fatalf("AppendSubtree: %v", err)
	}
	if tr.Leaves() != 4 {
		t.Fatalf("leaves = %d, want 4", tr.Leaves())
	}

	ls := leaves(algo, 3, 4)
	want := testutil.BruteForceRoot(algo, ls)

	for i, l := range ls {
		leaf, err := tr.LeafAt(i)
		if err != nil {
			t.Fatalf("LeafAt(%d): %v", i, err)
		}
		if leaf != nil {
			t.Fatalf("LeafAt(%d) = %v, want nil (still null)", i, leaf)
		}
		if err := tr.FillLeaf(i, l); err != nil {
			t.Fatalf("FillLeaf(%d): %v", i, err)
		}
	}
	if got := tr.Root(); got != want {
		t.Fatalf("root after fill = %s, want %s", got, want)
	}

	// Filling an already-set leaf with the same value is a no-op.
	if err := tr.FillLeaf(0, ls[0]); err != nil {
		t.Fatalf("re-fill with same value: %v", err)
	}
	// Filling with a different value is an invariant violation.
	err := tr.FillLeaf(0, algo.Leaf([]byte("different")))
	if !errors.Is(err, errs.InvariantViolation) {
		t.Fatalf("re-fill with different value: err = %v, want InvariantViolation", err)
	}
}

func (h Hash) add(n byte) Hash {
	h[31] += n
	return h
}

func TestAppendMerkleTree_AppendSubtreeMisalignment(t *testing.T) {
	algo := NewSha3Algorithm()
	tr := New(algo, nil, 0, nil)
	tr.Append(algo.Leaf([]byte("a")))
	// 4-leaf subtree does not align with a leaf count of 1.
	if err := tr.AppendSubtree(3, Hash{}.add(1)); !errors.Is(err, errs.InvariantViolation) {
		t.Fatalf("misaligned AppendSubtree: err = %v, want InvariantViolation", err)
	}
}

func TestAppendMerkleTree_CommitAndRevert(t *testing.T) {
	algo := NewSha3Algorithm()
	tr := New(algo, nil, 0, nil)

	tr.AppendList(leaves(algo, 3, 2))
	seq0 := uint64(0)
	tr.Commit(&seq0)
	rootAtSeq0 := tr.Root()

	tr.AppendList(leaves(algo, 4, 4))
	seq1 := uint64(1)
	tr.Commit(&seq1)
	rootAtSeq1 := tr.Root()

	tr.AppendList(leaves(algo, 5, 4))
	seq2 := uint64(2)
	tr.Commit(&seq2)

	if !tr.CheckRoot(rootAtSeq1) {
		t.Fatalf("expected rootAtSeq1 to be a recognized root")
	}

	if err := tr.RevertTo(seq1); err != nil {
		t.Fatalf("RevertTo(seq1): %v", err)
	}
	if got := tr.Root(); got != rootAtSeq1 {
		t.Fatalf("root after revert = %s, want %s", got, rootAtSeq1)
	}
	if tr.CheckRoot(rootAtSeq0) == false {
		t.Fatalf("rootAtSeq0 should still be recognized after reverting past it")
	}
	// seq2's root is no longer reachable.
	if err := tr.RevertTo(seq2); !errors.Is(err, errs.Missing) {
		t.Fatalf("RevertTo(seq2) after forgetting it: err = %v, want Missing", err)
	}
}

func TestAppendMerkleTree_HistoryProof(t *testing.T) {
	algo := NewSha3Algorithm()
	tr := New(algo, nil, 0, nil)

	ls1 := leaves(algo, 6, 4)
	tr.AppendList(ls1)
	seq0 := uint64(0)
	tr.Commit(&seq0)
	rootV0 := tr.Root()

	tr.AppendList(leaves(algo, 7, 4))
	seq1 := uint64(1)
	tr.Commit(&seq1)

	hist, err := tr.AtRootVersion(rootV0)
	if err != nil {
		t.Fatalf("AtRootVersion: %v", err)
	}
	if hist.Leaves() != 4 {
		t.Fatalf("historical leaves = %d, want 4", hist.Leaves())
	}

	proof, err := hist.GenProof(2)
	if err != nil {
		t.Fatalf("GenProof: %v", err)
	}
	ok, err := proof.Validate(algo, ls1[2], 2)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !ok {
		t.Fatalf("historical proof did not validate")
	}
	if proof.Root() != rootV0 {
		t.Fatalf("proof root = %s, want historical root %s", proof.Root(), rootV0)
	}
}

func TestAppendMerkleTree_GenProofAndRangeProof(t *testing.T) {
	algo := NewSha3Algorithm()
	ls := leaves(algo, 8, 10)
	tr := New(algo, nil, 0, nil)
	tr.AppendList(ls)

	for i, l := range ls {
		proof, err := tr.GenProof(i)
		if err != nil {
			t.Fatalf("GenProof(%d): %v", i, err)
		}
		ok, err := proof.Validate(algo, l, i)
		if err != nil {
			t.Fatalf("Validate(%d): %v", i, err)
		}
		if !ok {
			t.Fatalf("proof for leaf %d did not validate", i)
		}
	}

	rp, err := tr.GenRangeProof(3, 8)
	if err != nil {
		t.Fatalf("GenRangeProof: %v", err)
	}
	ok, err := rp.Validate(algo, ls[3:8], 3)
	if err != nil {
		t.Fatalf("RangeProof.Validate: %v", err)
	}
	if !ok {
		t.Fatalf("range proof did not validate")
	}

	// Tampering with a leaf strictly inside the range must be caught.
	tampered := append([]Hash(nil), ls[3:8]...)
	tampered[2] = algo.Leaf([]byte("tampered"))
	ok, err = rp.Validate(algo, tampered, 3)
	if err != nil {
		t.Fatalf("RangeProof.Validate(tampered): %v", err)
	}
	if ok {
		t.Fatalf("range proof validated against a tampered middle leaf")
	}
}

func TestAppendMerkleTree_NewWithSubtrees(t *testing.T) {
	algo := NewSha3Algorithm()
	leafTree := New(algo, nil, 0, nil)
	ls := leaves(algo, 9, 8)
	leafTree.AppendList(ls)

	subtrees := []SubtreeRoot{{Depth: 4, Root: leafTree.Root()}}
	tr, err := NewWithSubtrees(algo, subtrees, 0, nil)
	if err != nil {
		t.Fatalf("NewWithSubtrees: %v", err)
	}
	if tr.Leaves() != 8 {
		t.Fatalf("leaves = %d, want 8", tr.Leaves())
	}
	if tr.Root() != leafTree.Root() {
		t.Fatalf("root = %s, want %s", tr.Root(), leafTree.Root())
	}
}

func TestAppendMerkleTree_ResetPreservesMinDepth(t *testing.T) {
	algo := NewSha3Algorithm()
	tr := NewWithDepth(algo, nil, 11, nil)
	if tr.Height() != 11 {
		t.Fatalf("height = %d, want 11", tr.Height())
	}
	tr.AppendList(leaves(algo, 10, 4))
	tr.Reset()
	if tr.Height() != 11 {
		t.Fatalf("height after reset = %d, want 11 (minDepth preserved)", tr.Height())
	}
	if tr.Leaves() != 0 {
		t.Fatalf("leaves after reset = %d, want 0", tr.Leaves())
	}
}
