package tree

import (
	"github.com/kindlyrobotics/mlsengine/internal/ciphersuite"
	"github.com/kindlyrobotics/mlsengine/internal/mlserrors"
)

// parentHashInputStruct mirrors ParentHashInput from
// aws-mls/src/tree_kem/parent_hash.rs: the triple a parent's hash
// chain value is computed over.
func parentHashValue(provider ciphersuite.Provider, publicKey, parentParentHash, originalSiblingTreeHash []byte) []byte {
	buf := lengthPrefixed(publicKey)
	buf = append(buf, lengthPrefixed(parentParentHash)...)
	buf = append(buf, lengthPrefixed(originalSiblingTreeHash)...)
	return provider.Hash(buf)
}

// parentHashAt computes ParentHash(node, coPathChild):
// Hash(node.public_key || parent_hash(node's parent) ||
// original_tree_hash(sibling of coPathChild in node)).
func (t *RatchetTree) parentHashAt(provider ciphersuite.Provider, parentParentHash []byte, nodeIndex, coPathChildIndex NodeIndex) ([]byte, error) {
	n := t.Node(nodeIndex)
	if n == nil || n.Parent == nil {
		return nil, mlserrors.New(mlserrors.InvalidRatchetTree, "parent hash requested for blank or non-parent node")
	}
	if int(coPathChildIndex) >= len(t.OriginalHashes) || t.OriginalHashes[coPathChildIndex] == nil {
		return nil, mlserrors.New(mlserrors.ParentHashNotFound, "original tree hash not initialized for co-path child")
	}
	return parentHashValue(provider, n.Parent.PublicKey, parentParentHash, t.OriginalHashes[coPathChildIndex]), nil
}

// ParentHashForLeaf walks the filtered direct-path/co-path of idx
// from root to leaf, computing the chain value at each ancestor.
// onNode, if non-nil, is called with each non-leaf ancestor's
// NodeIndex and the hash value it should store — collected by
// UpdateParentHashes into a side map and applied after this read-only
// traversal, keeping a strict read-then-mutate discipline. Returns
// the value the committing leaf must store as its own parent hash.
func (t *RatchetTree) ParentHashForLeaf(provider ciphersuite.Provider, idx LeafIndex, onNode func(NodeIndex, []byte)) ([]byte, error) {
	if t.NumLeaves() <= 1 {
		return nil, nil
	}
	path, copath, err := t.FilteredDirectPath(idx)
	if err != nil {
		return nil, err
	}

	last := []byte{}
	for i := len(path) - 1; i >= 0; i-- {
		nodeIndex := path[i]
		coPathChild := copath[i]
		if !isLeafIndex(nodeIndex) && onNode != nil {
			onNode(nodeIndex, last)
		}
		calculated, err := t.parentHashAt(provider, last, nodeIndex, coPathChild)
		if err != nil {
			return nil, err
		}
		last = calculated
	}
	return last, nil
}

// UpdateParentHashes recomputes the parent-hash chain for idx's
// filtered direct path top-down, applying the recomputed values to
// the tree, and returns the leaf's own parent-hash value. If
// updateLeaf is non-nil, its stored LeafSourceCommit parent hash must
// match the recomputed value or this returns ParentHashMismatch /
// ParentHashNotFound.
func (t *RatchetTree) UpdateParentHashes(provider ciphersuite.Provider, idx LeafIndex, updateLeaf *LeafNode) ([]byte, error) {
	// Refresh the original tree hashes used for parent-hash
	// computation before recomputing the chain.
	t.RefreshOriginal(provider)

	changes := make(map[NodeIndex][]byte)
	leafHash, err := t.ParentHashForLeaf(provider, idx, func(n NodeIndex, hash []byte) {
		changes[n] = hash
	})
	if err != nil {
		return nil, err
	}

	for nodeIndex, hash := range changes {
		n := t.Node(nodeIndex)
		if n == nil || n.Parent == nil {
			return nil, mlserrors.New(mlserrors.InvalidRatchetTree, "parent hash change targets a blank or non-parent node")
		}
		n.Parent.ParentHash = hash
	}

	if updateLeaf != nil {
		if updateLeaf.Source != LeafSourceCommit {
			return nil, mlserrors.New(mlserrors.ParentHashNotFound, "update path leaf node is not sourced from a commit")
		}
		if !ciphersuite.ConstantTimeEqual(updateLeaf.ParentHash, leafHash) {
			return nil, mlserrors.New(mlserrors.ParentHashMismatch, "leaf parent hash does not match recomputed chain")
		}
	}

	// Tree mutated; hashes depending on it are stale again.
	t.RefreshOriginal(provider)

	return leafHash, nil
}

// ValidateParentHashes implements parent-hash validation on receipt:
// every non-blank parent must be covered by exactly one chain walked
// up from a non-blank leaf.
func (t *RatchetTree) ValidateParentHashes(provider ciphersuite.Provider) error {
	t.RefreshOriginal(provider)

	toValidate := make(map[NodeIndex]bool)
	for _, p := range t.nonBlankParents() {
		toValidate[p] = true
	}

	numLeaves := t.NumLeaves()
	r := t.Root()

	for _, entry := range t.NonBlankLeaves() {
		n := leafToNode(entry.Index)
		for n != r {
			p, s, err := t.firstNonBlankAncestor(n, numLeaves)
			if err != nil {
				// Reached the root without finding a non-blank
				// ancestor; nothing more to validate on this chain.
				break
			}

			pHash, ok := parentHashOf(t.Node(p))
			nHash, nOK := parentHashOf(t.Node(n))
			if !ok || !nOK {
				break
			}

			recomputed, err := t.parentHashAt(provider, pHash, p, s)
			if err != nil {
				return err
			}
			if !ciphersuite.ConstantTimeEqual(nHash, recomputed) {
				// n's parent_hash doesn't match; this chain stops
				// here (it does not cover p).
				break
			}

			c, err := sibling(s, numLeaves)
			if err != nil {
				return mlserrors.New(mlserrors.ParentHashMismatch, "malformed co-path during validation")
			}

			cResolution := map[NodeIndex]bool{}
			for _, r := range t.Resolution(c) {
				cResolution[r] = true
			}
			if !cResolution[n] {
				return mlserrors.New(mlserrors.ParentHashMismatch, "n not in resolution of c")
			}
			delete(cResolution, n)

			unmergedInC := t.unmergedInSubtree(p, c)
			if !sameNodeSet(cResolution, unmergedInC) {
				return mlserrors.New(mlserrors.ParentHashMismatch, "resolution of c does not match p's unmerged leaves under c")
			}

			if !toValidate[p] {
				return mlserrors.New(mlserrors.ParentHashMismatch, "parent node validated more than once")
			}
			delete(toValidate, p)

			n = p
		}
	}

	if len(toValidate) != 0 {
		return mlserrors.New(mlserrors.ParentHashMismatch, "not every non-blank parent was covered by a chain")
	}
	return nil
}

// firstNonBlankAncestor walks up from n to find the first non-blank
// parent p, returning p and the co-path sibling s at the point p was
// reached (the sibling of the last node visited before p).
func (t *RatchetTree) firstNonBlankAncestor(n NodeIndex, numLeaves uint32) (p, s NodeIndex, err error) {
	p, err = parent(n, numLeaves)
	if err != nil {
		return 0, 0, err
	}
	s, err = sibling(n, numLeaves)
	if err != nil {
		return 0, 0, err
	}
	for t.Node(p) == nil {
		next, err := parent(p, numLeaves)
		if err != nil {
			return 0, 0, err
		}
		s, err = sibling(p, numLeaves)
		if err != nil {
			return 0, 0, err
		}
		p = next
	}
	return p, s, nil
}

// unmergedInSubtree returns the NodeIndex set of p's unmerged leaves
// that fall within c's subtree.
func (t *RatchetTree) unmergedInSubtree(p, c NodeIndex) map[NodeIndex]bool {
	out := map[NodeIndex]bool{}
	pn := t.Node(p)
	if pn == nil || pn.Parent == nil {
		return out
	}
	lo, hi := subtreeLeafRange(c, t.NumLeaves())
	for _, l := range pn.Parent.UnmergedLeaves {
		if uint32(l) >= lo && uint32(l) <= hi {
			out[leafToNode(l)] = true
		}
	}
	return out
}

// subtreeLeafRange returns the inclusive [lo, hi] LeafIndex range
// spanned by c's subtree.
func subtreeLeafRange(c NodeIndex, numLeaves uint32) (lo, hi uint32) {
	if isLeafIndex(c) {
		l := uint32(nodeToLeaf(c))
		return l, l
	}
	loNode := c
	for !isLeafIndex(loNode) {
		loNode = left(loNode)
	}
	hiNode := c
	for !isLeafIndex(hiNode) {
		hiNode = right(hiNode, numLeaves)
	}
	return uint32(nodeToLeaf(loNode)), uint32(nodeToLeaf(hiNode))
}

func sameNodeSet(a, b map[NodeIndex]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}
