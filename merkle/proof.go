package merkle

import (
	"fmt"

	"github.com/zerog-labs/zerog-storage-node/errs"
)

// Proof is a Merkle inclusion proof for a single leaf: the leaf itself, the
// sibling hash at every height from the leaf up to (but excluding) the
// root, and the root. lemma always has path.len()+2 elements (leaf +
// siblings + root), except for the degenerate single-leaf tree where
// lemma = [root, root] and path is empty.
type Proof struct {
	lemma []Hash
	path  []bool
}

// NewProof builds a Proof from a precomputed lemma/path pair. Callers
// normally obtain a Proof via GenProof rather than constructing one
// directly.
func NewProof(lemma []Hash, path []bool) *Proof {
	return &Proof{lemma: lemma, path: path}
}

// Root returns the Merkle root this proof was generated against.
func (p *Proof) Root() Hash { return p.lemma[len(p.lemma)-1] }

// Item returns the leaf value this proof attests to.
func (p *Proof) Item() Hash { return p.lemma[0] }

// Lemma returns the full leaf+siblings+root sequence.
func (p *Proof) Lemma() []Hash { return p.lemma }

// Path returns the left/right bitstring (true = the proven node is the
// left child at that height).
func (p *Proof) Path() []bool { return p.path }

// Validate recomputes the root from leaf and the lemma/path, checking it
// matches both the expected leaf and the proof's recorded root, and that
// position is consistent with the recorded path.
func (p *Proof) Validate(algo Algorithm, leaf Hash, position int) (bool, error) {
	if len(p.lemma) != len(p.path)+2 {
		return false, fmt.Errorf("%w: lemma/path length mismatch: lemma=%d path=%d", errs.InvariantViolation, len(p.lemma), len(p.path))
	}
	if p.lemma[0] != leaf {
		return false, nil
	}
	current := p.lemma[0]
	pos := position
	for i, isLeft := range p.path {
		sibling := p.lemma[i+1]
		if isLeft {
			current = algo.Parent(current, sibling)
		} else {
			current = algo.Parent(sibling, current)
		}
		bitIsLeft := pos&1 == 0
		if bitIsLeft != isLeft {
			return false, fmt.Errorf("%w: position %d inconsistent with path at height %d", errs.InvariantViolation, position, i)
		}
		pos >>= 1
	}
	return current == p.lemma[len(p.lemma)-1], nil
}

// RangeProof bundles the inclusion proofs for the first and last leaf of a
// contiguous range, which together are enough to verify every leaf in
// between without transmitting a sibling per leaf.
type RangeProof struct {
	LeftProof  *Proof
	RightProof *Proof
}

// NewRangeProof builds a RangeProof from its two endpoint proofs.
func NewRangeProof(left, right *Proof) *RangeProof {
	return &RangeProof{LeftProof: left, RightProof: right}
}

// Validate checks that leaves, laid out starting at startPosition, are
// exactly the leaves covered by the range [startPosition, startPosition+
// len(leaves)). It reconstructs every node covered by the range bottom-up
// from the supplied leaves plus the boundary siblings carried by
// LeftProof/RightProof, so tampering with any leaf in the middle of the
// range (not just at the endpoints) is detected.
func (rp *RangeProof) Validate(algo Algorithm, leaves []Hash, startPosition int) (bool, error) {
	if len(leaves) == 0 {
		return false, fmt.Errorf("%w: empty leaf range", errs.OutOfRange)
	}
	endPosition := startPosition + len(leaves) - 1

	leftOK, err := rp.LeftProof.Validate(algo, leaves[0], startPosition)
	if err != nil {
		return false, fmt.Errorf("left endpoint: %w", err)
	}
	if !leftOK {
		return false, nil
	}
	rightOK, err := rp.RightProof.Validate(algo, leaves[len(leaves)-1], endPosition)
	if err != nil {
		return false, fmt.Errorf("right endpoint: %w", err)
	}
	if !rightOK {
		return false, nil
	}
	if rp.LeftProof.Root() != rp.RightProof.Root() {
		return false, fmt.Errorf("%w: left and right proof roots differ", errs.InvariantViolation)
	}
	if len(rp.LeftProof.Path()) != len(rp.RightProof.Path()) {
		return false, fmt.Errorf("%w: left and right proof heights differ", errs.InvariantViolation)
	}

	current := append([]Hash(nil), leaves...)
	li, ri := startPosition, endPosition
	height := 0
	for li != ri || len(current) > 1 {
		leftLemma := rp.LeftProof.Lemma()
		rightLemma := rp.RightProof.Lemma()
		if li%2 == 1 {
			if height+1 >= len(leftLemma) {
				return false, fmt.Errorf("%w: left proof too short at height %d", errs.InvariantViolation, height)
			}
			current = append([]Hash{leftLemma[height+1]}, current...)
			li--
		}
		if ri%2 == 0 {
			if height+1 >= len(rightLemma) {
				return false, fmt.Errorf("%w: right proof too short at height %d", errs.InvariantViolation, height)
			}
			current = append(current, rightLemma[height+1])
			ri++
		}
		if len(current)%2 != 0 {
			return false, fmt.Errorf("%w: range proof layer %d has odd width", errs.InvariantViolation, height)
		}
		next := make([]Hash, 0, len(current)/2)
		for i := 0; i < len(current); i += 2 {
			next = append(next, algo.Parent(current[i], current[i+1]))
		}
		current = next
		li /= 2
		ri /= 2
		height++
	}
	if len(current) != 1 {
		return false, fmt.Errorf("%w: range proof did not converge to a single root", errs.InvariantViolation)
	}
	// Above the node covering the whole range, both endpoints share one
	// path; climb it to the root with the left proof's siblings.
	leftLemma, leftPath := rp.LeftProof.Lemma(), rp.LeftProof.Path()
	for ; height < len(leftPath); height++ {
		if leftPath[height] {
			current[0] = algo.Parent(current[0], leftLemma[height+1])
		} else {
			current[0] = algo.Parent(leftLemma[height+1], current[0])
		}
	}
	return current[0] == rp.LeftProof.Root(), nil
}
