package merkle

import (
	"fmt"

	"github.com/zerog-labs/zerog-storage-node/errs"
)

// TreeReader is the read-only view every proof-generation routine needs:
// a live AppendMerkleTree and a historical HistoryTree both implement it,
// so GenProof has a single implementation shared by both.
type TreeReader interface {
	Leaves() int
	Height() int
	LayerLen(layer int) int
	Node(layer, index int) Hash
	Root() Hash
	PaddingNode(height int) Hash
}

// SubtreeRoot is one entry of a subtree list: a perfect binary subtree of
// 2^(Depth-1) leaves, known only by its root hash.
type SubtreeRoot struct {
	Depth int
	Root  Hash
}

// deltaNode is the rightmost node of one layer at commit time, paired with
// its position.
type deltaNode struct {
	lastIndex int
	value     Hash
}

// deltaNodes is the per-commit snapshot that makes a prior version of an
// append-only tree queryable without copying any layer: since nothing to
// the left of the rightmost node can change after the commit, recording
// just the rightmost node per layer is sufficient to reconstruct the
// whole historical shape.
type deltaNodes struct {
	rightMostNodes []deltaNode
}

func (d *deltaNodes) height() int { return len(d.rightMostNodes) }

func (d *deltaNodes) root() Hash { return d.rightMostNodes[len(d.rightMostNodes)-1].value }

func (d *deltaNodes) layerLen(height int) int { return d.rightMostNodes[height].lastIndex + 1 }

// get returns the snapshot's override for (height, position): found=true
// with a value if position is exactly the snapshotted rightmost node,
// found=false (no error) if position is strictly left of it (meaning the
// live tree's value is still correct), or an error if position falls
// outside what the snapshot covers.
func (d *deltaNodes) get(height, position int) (value Hash, found bool, err error) {
	if height >= len(d.rightMostNodes) || position > d.rightMostNodes[height].lastIndex {
		return Hash{}, false, fmt.Errorf("%w: height=%d position=%d", errs.OutOfRange, height, position)
	}
	if position == d.rightMostNodes[height].lastIndex {
		return d.rightMostNodes[height].value, true, nil
	}
	return Hash{}, false, nil
}

// AppendMerkleTree is a versioned, append-only Merkle tree. Leaves may be
// appended one at a time, in bulk, or as pre-hashed subtree roots with
// unknown ("null") interior leaves filled in later. Every committed
// tx_seq can be queried historically via AtRootVersion, and the tree can
// be reverted to the shape it had at any prior commit.
type AppendMerkleTree struct {
	algo Algorithm

	// layers[0] is the leaf layer; layers[len-1] holds the single root
	// once the tree is non-empty.
	layers [][]Hash

	deltaNodesMap map[uint64]*deltaNodes
	rootToTxSeq   map[Hash]uint64

	// minDepth, when set, is the layer count Reset() and an empty
	// NewWithDepth tree must preserve (used by the last-segment tree,
	// which keeps depth = log2(PORA_CHUNK_SIZE)+1 even when empty).
	minDepth *int

	// leafHeight is the height offset of this tree's leaves within the
	// logical whole flow tree; it selects the right row of the end-pad
	// table. 0 for the top tree, log2(PORA_CHUNK_SIZE) for the
	// last-segment tree.
	leafHeight int
}

// New builds a tree from a flat leaf list, bottom-up. If startTxSeq is
// non-nil, version 0 (or whatever startTxSeq names) is committed
// immediately.
func New(algo Algorithm, leaves []Hash, leafHeight int, startTxSeq *uint64) *AppendMerkleTree {
	t := &AppendMerkleTree{
		algo:          algo,
		layers:        [][]Hash{append([]Hash(nil), leaves...)},
		deltaNodesMap: make(map[uint64]*deltaNodes),
		rootToTxSeq:   make(map[Hash]uint64),
		leafHeight:    leafHeight,
	}
	if t.Leaves() == 0 {
		if startTxSeq != nil {
			t.deltaNodesMap[*startTxSeq] = &deltaNodes{}
		}
		return t
	}
	t.mustRecompute(0, nil)
	t.Commit(startTxSeq)
	return t
}

// NewWithSubtrees builds a tree from a subtree list (see AppendSubtreeList)
// instead of flat leaves; used to seed the top tree from persisted segment
// roots on startup.
func NewWithSubtrees(algo Algorithm, subtrees []SubtreeRoot, leafHeight int, startTxSeq *uint64) (*AppendMerkleTree, error) {
	t := &AppendMerkleTree{
		algo:          algo,
		layers:        [][]Hash{{}},
		deltaNodesMap: make(map[uint64]*deltaNodes),
		rootToTxSeq:   make(map[Hash]uint64),
		leafHeight:    leafHeight,
	}
	if len(subtrees) == 0 {
		if startTxSeq != nil {
			t.deltaNodesMap[*startTxSeq] = &deltaNodes{}
		}
		return t, nil
	}
	if err := t.AppendSubtreeList(subtrees); err != nil {
		return nil, err
	}
	t.Commit(startTxSeq)
	return t, nil
}

// NewWithDepth builds a tree that always keeps at least `depth` layers,
// even when emptied by Reset or RevertTo. This is used for the
// last-segment tree, which must keep its fixed shape
// (log2(PORA_CHUNK_SIZE)+1) whether or not any data has arrived yet.
func NewWithDepth(algo Algorithm, leaves []Hash, depth int, startTxSeq *uint64) *AppendMerkleTree {
	minDepth := depth
	layers := make([][]Hash, depth)
	for i := range layers {
		layers[i] = []Hash{}
	}
	t := &AppendMerkleTree{
		algo:          algo,
		layers:        layers,
		deltaNodesMap: make(map[uint64]*deltaNodes),
		rootToTxSeq:   make(map[Hash]uint64),
		minDepth:      &minDepth,
		leafHeight:    0,
	}
	if len(leaves) == 0 {
		if startTxSeq != nil {
			t.deltaNodesMap[*startTxSeq] = &deltaNodes{}
		}
		return t
	}
	t.layers[0] = append([]Hash(nil), leaves...)
	t.mustRecompute(0, nil)
	t.Commit(startTxSeq)
	return t
}

func (t *AppendMerkleTree) mustRecompute(start int, end *int) {
	if err := t.recompute(start, end); err != nil {
		panic(fmt.Sprintf("merkle: building from leaves violated append-only invariants: %v", err))
	}
}

// Leaves returns the number of leaves currently in layer 0.
func (t *AppendMerkleTree) Leaves() int { return len(t.layers[0]) }

// Height returns the number of layers, including the leaf layer and root.
func (t *AppendMerkleTree) Height() int { return len(t.layers) }

// LayerLen returns the width of the given layer.
func (t *AppendMerkleTree) LayerLen(layer int) int { return len(t.layers[layer]) }

// Node returns the node at (layer, index).
func (t *AppendMerkleTree) Node(layer, index int) Hash { return t.layers[layer][index] }

// Root returns the current Merkle root.
func (t *AppendMerkleTree) Root() Hash { return t.layers[len(t.layers)-1][0] }

// PaddingNode returns the zero-subtree root for the given local height,
// adjusted for this tree's leaf height offset.
func (t *AppendMerkleTree) PaddingNode(height int) Hash { return t.algo.EndPad(height + t.leafHeight) }

// Append pushes a single new leaf and recomputes the spine above it.
func (t *AppendMerkleTree) Append(leaf Hash) {
	t.layers[0] = append(t.layers[0], leaf)
	t.mustRecompute(t.Leaves()-1, nil)
}

// AppendList pushes a batch of new leaves and recomputes once.
func (t *AppendMerkleTree) AppendList(leaves []Hash) {
	start := t.Leaves()
	t.layers[0] = append(t.layers[0], leaves...)
	t.mustRecompute(start, nil)
}

// UpdateLast replaces the last leaf (or pushes one into an empty tree) and
// recomputes. Used when only intermediate roots, not raw leaves, are kept
// in memory and the rightmost one changes shape as data arrives.
func (t *AppendMerkleTree) UpdateLast(leaf Hash) {
	if len(t.layers[0]) == 0 {
		t.layers[0] = append(t.layers[0], leaf)
	} else {
		t.layers[0][len(t.layers[0])-1] = leaf
	}
	t.mustRecompute(t.Leaves()-1, nil)
}

// FillLeaf sets a previously-null leaf to its real value. Filling an
// already-set leaf with the same value is a no-op; filling it with a
// different value is an invariant violation.
func (t *AppendMerkleTree) FillLeaf(index int, leaf Hash) error {
	if index < 0 || index >= t.Leaves() {
		return fmt.Errorf("%w: fill_leaf index=%d leaves=%d", errs.OutOfRange, index, t.Leaves())
	}
	if t.layers[0][index].IsNull() {
		t.layers[0][index] = leaf
		return t.recompute(index, intPtr(index+1))
	}
	if t.layers[0][index] != leaf {
		return fmt.Errorf("%w: fill_leaf at index %d with a different value than already set", errs.InvariantViolation, index)
	}
	return nil
}

// AppendSubtree appends 2^(depth-1) null leaves whose root is already
// known, setting the depth-1 layer node directly to root. Fails if the
// current leaf count is not a multiple of 2^(depth-1).
func (t *AppendMerkleTree) AppendSubtree(depth int, root Hash) error {
	start := t.Leaves()
	if err := t.appendSubtreeInner(depth, root); err != nil {
		return err
	}
	return t.recompute(start, nil)
}

// AppendSubtreeList appends a sequence of subtree roots, recomputing once
// at the end.
func (t *AppendMerkleTree) AppendSubtreeList(list []SubtreeRoot) error {
	start := t.Leaves()
	for _, s := range list {
		if err := t.appendSubtreeInner(s.Depth, s.Root); err != nil {
			return err
		}
	}
	return t.recompute(start, nil)
}

func (t *AppendMerkleTree) appendSubtreeInner(depth int, root Hash) error {
	if depth == 0 {
		return fmt.Errorf("%w: subtree depth must not be zero", errs.InvariantViolation)
	}
	subtreeLeaves := 1 << (depth - 1)
	if t.Leaves()%subtreeLeaves != 0 {
		return fmt.Errorf("%w: leaf count %d is not aligned with subtree depth %d", errs.InvariantViolation, t.Leaves(), depth)
	}
	for height := 0; height < depth-1; height++ {
		t.beforeExtendLayer(height)
		size := 1 << (depth - 1 - height)
		for i := 0; i < size; i++ {
			t.layers[height] = append(t.layers[height], t.algo.Null())
		}
	}
	t.beforeExtendLayer(depth - 1)
	t.layers[depth-1] = append(t.layers[depth-1], root)
	return nil
}

func (t *AppendMerkleTree) beforeExtendLayer(height int) {
	if height == len(t.layers) {
		t.layers = append(t.layers, []Hash{})
	}
}

// recompute walks up from the first changed leaf layer, recomputing
// parents until the new root is reached. With maybeEndIndex nil each layer
// is recomputed from startIndex to its current end; with an end index
// (as FillLeaf passes) only that range is recomputed, and each layer
// above covers the parents that changed, or runs to the layer's end when
// none did.
func (t *AppendMerkleTree) recompute(startIndex int, maybeEndIndex *int) error {
	height := 0
	for {
		if height >= len(t.layers) {
			break
		}
		if !(len(t.layers[height]) > 1 || height < len(t.layers)-1) {
			break
		}

		nextLayerStart := startIndex >> 1
		if startIndex%2 == 1 {
			startIndex--
		}

		endIndex := len(t.layers[height])
		if maybeEndIndex != nil {
			endIndex = *maybeEndIndex
		}
		if endIndex%2 == 1 && endIndex != len(t.layers[height]) {
			endIndex++
		}

		type update struct {
			index int
			value Hash
		}
		var updates []update
		layer := t.layers[height]
		i := 0
		j := startIndex
		for ; j+1 < endIndex; j += 2 {
			left, right := layer[j], layer[j+1]
			var parent Hash
			if left.IsNull() || right.IsNull() {
				parent = t.algo.Null()
			} else {
				parent = t.algo.Parent(left, right)
			}
			updates = append(updates, update{nextLayerStart + i, parent})
			i++
		}
		if j < endIndex {
			r := layer[j]
			var parent Hash
			if r.IsNull() {
				parent = t.algo.Null()
			} else {
				parent = t.algo.ParentSingle(r, height+t.leafHeight)
			}
			updates = append(updates, update{nextLayerStart + i, parent})
		}

		if len(updates) > 0 {
			t.beforeExtendLayer(height + 1)
		}

		var lastChanged *int
		for _, u := range updates {
			switch {
			case u.index < len(t.layers[height+1]):
				if u.value.IsNull() {
					continue
				}
				cur := t.layers[height+1][u.index]
				if !cur.IsNull() && cur != u.value && u.index != len(t.layers[height+1])-1 {
					return fmt.Errorf("%w: recompute would overwrite interior node at height %d index %d", errs.InvariantViolation, height+1, u.index)
				}
				t.layers[height+1][u.index] = u.value
				idx := u.index
				lastChanged = &idx
			case u.index == len(t.layers[height+1]):
				t.layers[height+1] = append(t.layers[height+1], u.value)
				idx := u.index
				lastChanged = &idx
			default:
				return fmt.Errorf("%w: recompute parent index %d beyond layer %d length %d", errs.InvariantViolation, u.index, height+1, len(t.layers[height+1]))
			}
		}

		if lastChanged != nil {
			v := *lastChanged + 1
			maybeEndIndex = &v
		} else {
			maybeEndIndex = nil
		}

		height++
		startIndex = nextLayerStart
	}
	return nil
}

func intPtr(v int) *int { return &v }

// Commit snapshots the current rightmost node per layer under tx_seq, so
// the version can later be recovered via AtRootVersion or restored via
// RevertTo. A no-op if tx_seq is nil.
func (t *AppendMerkleTree) Commit(txSeq *uint64) {
	if txSeq == nil {
		return
	}
	if t.Leaves() == 0 {
		t.deltaNodesMap[*txSeq] = &deltaNodes{}
		return
	}
	rightMost := make([]deltaNode, 0, len(t.layers))
	for _, layer := range t.layers {
		rightMost = append(rightMost, deltaNode{lastIndex: len(layer) - 1, value: layer[len(layer)-1]})
	}
	root := t.Root()
	t.deltaNodesMap[*txSeq] = &deltaNodes{rightMostNodes: rightMost}
	t.rootToTxSeq[root] = *txSeq
}

// CheckRoot reports whether root is a recognized, previously committed
// root of this tree.
func (t *AppendMerkleTree) CheckRoot(root Hash) bool {
	_, ok := t.rootToTxSeq[root]
	return ok
}

// LeafAt returns the leaf at position, or nil if its value is not yet
// known (a null leaf reserved by a subtree append).
func (t *AppendMerkleTree) LeafAt(position int) (*Hash, error) {
	if position >= t.Leaves() {
		return nil, fmt.Errorf("%w: position=%d leaves=%d", errs.OutOfRange, position, t.Leaves())
	}
	if t.layers[0][position].IsNull() {
		return nil, nil
	}
	leaf := t.layers[0][position]
	return &leaf, nil
}

// RevertTo truncates the tree back to the shape it had when tx_seq was
// committed, and forgets every later commit.
func (t *AppendMerkleTree) RevertTo(txSeq uint64) error {
	if len(t.layers[0]) == 0 {
		// Any previous state of an empty tree is always empty.
		return nil
	}
	dn, ok := t.deltaNodesMap[txSeq]
	if !ok {
		return fmt.Errorf("%w: tx_seq %d unavailable for revert", errs.Missing, txSeq)
	}
	if dn.height() == 0 {
		// The tree was empty at txSeq.
		t.Reset()
		t.clearAfter(txSeq)
		return nil
	}
	t.layers = t.layers[:len(dn.rightMostNodes)]
	for height, rn := range dn.rightMostNodes {
		t.layers[height] = t.layers[height][:rn.lastIndex+1]
		t.layers[height][rn.lastIndex] = rn.value
	}
	t.clearAfter(txSeq)
	return nil
}

func (t *AppendMerkleTree) clearAfter(txSeq uint64) {
	seq := txSeq + 1
	for {
		dn, ok := t.deltaNodesMap[seq]
		if !ok {
			return
		}
		delete(t.deltaNodesMap, seq)
		if dn.height() != 0 {
			delete(t.rootToTxSeq, dn.root())
		}
		seq++
	}
}

// Reset empties the tree back to its seeded shape (respecting minDepth),
// without touching the commit history.
func (t *AppendMerkleTree) Reset() {
	if t.minDepth == nil {
		t.layers = [][]Hash{{}}
		return
	}
	layers := make([][]Hash, *t.minDepth)
	for i := range layers {
		layers[i] = []Hash{}
	}
	t.layers = layers
}

// AtRootVersion returns a read-only view of the tree as it was when root
// was committed.
func (t *AppendMerkleTree) AtRootVersion(root Hash) (*HistoryTree, error) {
	txSeq, ok := t.rootToTxSeq[root]
	if !ok {
		return nil, fmt.Errorf("%w: root %s unavailable", errs.Missing, root)
	}
	dn, ok := t.deltaNodesMap[txSeq]
	if !ok {
		return nil, fmt.Errorf("%w: tx_seq %d unavailable", errs.Missing, txSeq)
	}
	if dn.height() == 0 {
		return nil, fmt.Errorf("%w: root belongs to an empty tree", errs.NotReady)
	}
	return &HistoryTree{tree: t, delta: dn, leafHeight: t.leafHeight}, nil
}

// GenProof produces an inclusion proof for the leaf at leafIndex against
// the current root.
func (t *AppendMerkleTree) GenProof(leafIndex int) (*Proof, error) {
	return GenProof(t, t.algo, leafIndex)
}

// GenRangeProof produces a RangeProof covering [startIndex, endIndex)
// against the current root.
func (t *AppendMerkleTree) GenRangeProof(startIndex, endIndex int) (*RangeProof, error) {
	if endIndex <= startIndex {
		return nil, fmt.Errorf("%w: invalid proof range start=%d end=%d", errs.OutOfRange, startIndex, endIndex)
	}
	left, err := t.GenProof(startIndex)
	if err != nil {
		return nil, err
	}
	right, err := t.GenProof(endIndex - 1)
	if err != nil {
		return nil, err
	}
	return NewRangeProof(left, right), nil
}

// HistoryTree is a read-only view of an AppendMerkleTree at a previously
// committed version. It borrows the live tree's layers for any node left
// of the commit's rightmost spine (which append-only semantics guarantee
// is unchanged) and the snapshot for the rest.
type HistoryTree struct {
	tree       *AppendMerkleTree
	delta      *deltaNodes
	leafHeight int
}

// Leaves returns the historical leaf count.
func (h *HistoryTree) Leaves() int { return h.LayerLen(0) }

// Height returns the historical layer count.
func (h *HistoryTree) Height() int { return h.delta.height() }

// LayerLen returns the historical width of the given layer.
func (h *HistoryTree) LayerLen(layer int) int { return h.delta.layerLen(layer) }

// Node returns the historical node at (layer, index): the snapshot's
// rightmost node if index is exactly that position, otherwise the live
// tree's node (which append-only semantics guarantee is unchanged there).
func (h *HistoryTree) Node(layer, index int) Hash {
	val, found, err := h.delta.get(layer, index)
	if err != nil {
		panic("merkle: history tree node access out of the snapshot's range: " + err.Error())
	}
	if found {
		return val
	}
	return h.tree.layers[layer][index]
}

// Root returns the historical root.
func (h *HistoryTree) Root() Hash { return h.delta.root() }

// PaddingNode returns the zero-subtree root for the given local height.
func (h *HistoryTree) PaddingNode(height int) Hash {
	return h.tree.algo.EndPad(height + h.leafHeight)
}

// GenProof produces an inclusion proof for leafIndex against this
// historical root.
func (h *HistoryTree) GenProof(leafIndex int) (*Proof, error) {
	return GenProof(h, h.tree.algo, leafIndex)
}

// GenProof implements the shared proof-generation algorithm against
// any TreeReader, live or historical.
func GenProof(r TreeReader, algo Algorithm, leafIndex int) (*Proof, error) {
	if leafIndex < 0 || leafIndex >= r.Leaves() {
		return nil, fmt.Errorf("%w: leaf index %d total leaves %d", errs.OutOfRange, leafIndex, r.Leaves())
	}
	if r.Node(0, leafIndex).IsNull() {
		return nil, fmt.Errorf("%w: leaf index %d is not yet filled", errs.NotReady, leafIndex)
	}
	if r.Height() == 1 {
		root := r.Root()
		return NewProof([]Hash{root, root}, nil), nil
	}

	lemma := make([]Hash, 0, r.Height())
	path := make([]bool, 0, r.Height()-2)
	indexInLayer := leafIndex
	lemma = append(lemma, r.Node(0, leafIndex))
	for height := 0; height < r.Height()-1; height++ {
		if indexInLayer%2 == 0 {
			path = append(path, true)
			if indexInLayer+1 == r.LayerLen(height) {
				lemma = append(lemma, r.PaddingNode(height))
			} else {
				lemma = append(lemma, r.Node(height, indexInLayer+1))
			}
		} else {
			path = append(path, false)
			lemma = append(lemma, r.Node(height, indexInLayer-1))
		}
		indexInLayer >>= 1
	}
	lemma = append(lemma, r.Root())
	return NewProof(lemma, path), nil
}
