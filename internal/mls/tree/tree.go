package tree

import (
	"fmt"

	"github.com/kindlyrobotics/mlsengine/internal/mlserrors"
)

// RatchetTree is the flat array representation of the public TreeKEM
// tree, length 2n-1 for n leaves (n >= 1). A nil entry is a blank
// slot. OriginalHashes caches each subtree's pre-commit tree hash for
// the parent-hash chain's "original tree hash" input.
type RatchetTree struct {
	nodes          []*Node
	OriginalHashes [][]byte
}

// NewRatchetTree builds a single-leaf tree from leaf.
func NewRatchetTree(leaf *LeafNode) *RatchetTree {
	return &RatchetTree{
		nodes:          []*Node{{Leaf: leaf}},
		OriginalHashes: [][]byte{nil},
	}
}

// NumLeaves returns the number of leaf slots (blank or not).
func (t *RatchetTree) NumLeaves() uint32 {
	if len(t.nodes) == 0 {
		return 0
	}
	return uint32(len(t.nodes)+1) / 2
}

func (t *RatchetTree) inRange(n NodeIndex) bool { return int(n) < len(t.nodes) }

// Export returns the full flat node array for state transfer: a
// vector of optional Node.
func (t *RatchetTree) Export() []*Node {
	out := make([]*Node, len(t.nodes))
	copy(out, t.nodes)
	return out
}

// ImportRatchetTree rebuilds a RatchetTree from an exported node
// vector. OriginalHashes starts empty (every entry nil); RefreshOriginal
// fills it on the first parent-hash validation or commit.
func ImportRatchetTree(nodes []*Node) *RatchetTree {
	t := &RatchetTree{
		nodes:          append([]*Node(nil), nodes...),
		OriginalHashes: make([][]byte, len(nodes)),
	}
	return t
}

// Node returns the node at index n, or nil if blank.
func (t *RatchetTree) Node(n NodeIndex) *Node {
	if !t.inRange(n) {
		return nil
	}
	return t.nodes[n]
}

func (t *RatchetTree) setNode(n NodeIndex, node *Node) {
	t.nodes[n] = node
	t.invalidateOriginal(n)
}

func (t *RatchetTree) invalidateOriginal(n NodeIndex) {
	path, err := directPath(n, t.NumLeaves())
	if err != nil {
		return
	}
	for _, p := range append([]NodeIndex{n}, path...) {
		if int(p) < len(t.OriginalHashes) {
			t.OriginalHashes[p] = nil
		}
	}
}

// LeafNodeAt returns the leaf node for a LeafIndex, or an error if
// the slot is blank or out of range.
func (t *RatchetTree) LeafNodeAt(idx LeafIndex) (*LeafNode, error) {
	n := t.Node(leafToNode(idx))
	if n == nil || n.Leaf == nil {
		return nil, leafNotFound(idx)
	}
	return n.Leaf, nil
}

// ParentNodeAt returns the parent node at a NodeIndex, or nil if
// blank. Error if the index isn't a parent slot.
func (t *RatchetTree) ParentNodeAt(n NodeIndex) (*ParentNode, error) {
	if isLeafIndex(n) {
		return nil, fmt.Errorf("tree: node %d is a leaf slot", n)
	}
	node := t.Node(n)
	if node == nil {
		return nil, nil
	}
	return node.Parent, nil
}

// Resolution returns resolution(v): the ordered set of non-blank
// descendants (extended by unmerged leaves) that an update path
// node's ciphertexts must cover.
func (t *RatchetTree) Resolution(v NodeIndex) []NodeIndex {
	node := t.Node(v)
	if node != nil {
		res := []NodeIndex{v}
		if node.Parent != nil {
			for _, l := range node.Parent.UnmergedLeaves {
				res = append(res, leafToNode(l))
			}
		}
		return res
	}
	if isLeafIndex(v) {
		return nil
	}
	numLeaves := t.NumLeaves()
	return append(t.Resolution(left(v)), t.Resolution(right(v, numLeaves))...)
}

// FilteredDirectPath returns the direct path from idx to the root,
// omitting any ancestor whose co-path child's resolution is empty —
// nobody is listening there, so updates bypass it. Returned alongside
// is the co-path sibling at each retained level.
func (t *RatchetTree) FilteredDirectPath(idx LeafIndex) (path, copath []NodeIndex, err error) {
	numLeaves := t.NumLeaves()
	leaf := leafToNode(idx)
	dp, err := directPath(leaf, numLeaves)
	if err != nil {
		return nil, nil, err
	}
	cp, err := coPath(leaf, numLeaves)
	if err != nil {
		return nil, nil, err
	}
	for i, sib := range cp {
		if len(t.Resolution(sib)) == 0 {
			continue
		}
		path = append(path, dp[i])
		copath = append(copath, sib)
	}
	return path, copath, nil
}

// AddLeaf places leaf in the first blank leaf slot, extending the
// tree by one level if none exists, and records the new leaf's index
// in every non-blank ancestor's unmerged-leaves set. Returns the new
// member's LeafIndex.
func (t *RatchetTree) AddLeaf(leaf *LeafNode) LeafIndex {
	idx := t.firstBlankLeaf()
	if idx == nil {
		t.extendTree()
		idx = t.firstBlankLeaf()
	}
	li := nodeToLeaf(*idx)
	t.setNode(*idx, &Node{Leaf: leaf})

	path, _ := directPath(*idx, t.NumLeaves())
	for _, p := range path {
		n := t.Node(p)
		if n != nil && n.Parent != nil {
			n.Parent.addUnmerged(li)
			t.invalidateOriginal(p)
		}
	}
	return li
}

func (t *RatchetTree) firstBlankLeaf() *NodeIndex {
	for i := 0; i < len(t.nodes); i += 2 {
		if t.nodes[i] == nil {
			n := NodeIndex(i)
			return &n
		}
	}
	return nil
}

func (t *RatchetTree) extendTree() {
	newWidth := 2*len(t.nodes) + 1
	grown := make([]*Node, newWidth)
	copy(grown, t.nodes)
	t.nodes = grown
	hashes := make([][]byte, newWidth)
	copy(hashes, t.OriginalHashes)
	t.OriginalHashes = hashes
}

// BlankLeaf blanks idx's leaf slot and every node on its direct path
// (used by Remove).
func (t *RatchetTree) BlankLeaf(idx LeafIndex) error {
	leaf := leafToNode(idx)
	if t.Node(leaf) == nil {
		return mlserrors.New(mlserrors.LeafNotFound, "cannot remove an already-blank leaf")
	}
	t.setNode(leaf, nil)
	path, err := directPath(leaf, t.NumLeaves())
	if err != nil {
		return err
	}
	for _, p := range path {
		t.setNode(p, nil)
	}
	return nil
}

// ApplyUpdatePathNode refreshes ancestor p's public key from an
// update path and clears its unmerged-leaves set.
func (t *RatchetTree) ApplyUpdatePathNode(p NodeIndex, publicKey []byte) {
	n := t.Node(p)
	if n == nil || n.Parent == nil {
		n = &Node{Parent: &ParentNode{}}
	}
	n.Parent.PublicKey = publicKey
	n.Parent.clearUnmerged()
	t.setNode(p, n)
}

// SetLeaf replaces the LeafNode at idx (used when applying the
// sender's own updated leaf node from an update path, or an Update
// proposal).
func (t *RatchetTree) SetLeaf(idx LeafIndex, leaf *LeafNode) {
	t.setNode(leafToNode(idx), &Node{Leaf: leaf})
}

// NonBlankLeaves returns every occupied (LeafIndex, *LeafNode) pair
// in increasing order of LeafIndex.
func (t *RatchetTree) NonBlankLeaves() []struct {
	Index LeafIndex
	Leaf  *LeafNode
} {
	var out []struct {
		Index LeafIndex
		Leaf  *LeafNode
	}
	for i := 0; i < len(t.nodes); i += 2 {
		if t.nodes[i] != nil {
			out = append(out, struct {
				Index LeafIndex
				Leaf  *LeafNode
			}{nodeToLeaf(NodeIndex(i)), t.nodes[i].Leaf})
		}
	}
	return out
}

// nonBlankParents returns every occupied parent NodeIndex.
func (t *RatchetTree) nonBlankParents() []NodeIndex {
	var out []NodeIndex
	for i := 1; i < len(t.nodes); i += 2 {
		if t.nodes[i] != nil {
			out = append(out, NodeIndex(i))
		}
	}
	return out
}

// Clone deep-copies the tree so commit construction/validation can
// operate on a provisional copy without mutating group state until
// the whole pipeline succeeds.
func (t *RatchetTree) Clone() *RatchetTree {
	clone := &RatchetTree{
		nodes:          make([]*Node, len(t.nodes)),
		OriginalHashes: make([][]byte, len(t.OriginalHashes)),
	}
	for i, n := range t.nodes {
		if n == nil {
			continue
		}
		cp := *n
		if n.Leaf != nil {
			leaf := *n.Leaf
			cp.Leaf = &leaf
		}
		if n.Parent != nil {
			p := *n.Parent
			p.UnmergedLeaves = append([]LeafIndex(nil), n.Parent.UnmergedLeaves...)
			cp.Parent = &p
		}
		clone.nodes[i] = &cp
	}
	for i, h := range t.OriginalHashes {
		clone.OriginalHashes[i] = append([]byte(nil), h...)
	}
	return clone
}

// Root returns the index of the tree's root node.
func (t *RatchetTree) Root() NodeIndex { return root(t.NumLeaves()) }
