// Package tree implements the TreeKEM ratcheting binary tree: the
// left-balanced array of public keys, the direct-path/co-path/
// resolution math, blanking, unmerged-leaves bookkeeping, the
// parent-hash integrity chain, and the local participant's private
// key fragments (TreeKemPrivate).
package tree

import "github.com/kindlyrobotics/mlsengine/internal/mlserrors"

// LeafIndex is a member's position among active leaves.
type LeafIndex uint32

// NodeIndex is a position in the flat array representation: leaf i
// lives at 2i, its parent/sibling follow the standard left-balanced
// tree math in treemath.go.
type NodeIndex uint32

// LeafNodeSource gates what commit/update operations are valid for a
// leaf.
type LeafNodeSource int

const (
	LeafSourceKeyPackage LeafNodeSource = iota
	LeafSourceUpdate
	LeafSourceCommit
	LeafSourceCommitExternal
)

// LeafNode is the public content of a leaf slot.
type LeafNode struct {
	KeyPackagePublicKey []byte
	SignatureKey        []byte
	Credential          []byte
	Source              LeafNodeSource
	// ParentHash holds the value this leaf is responsible for when
	// Source == LeafSourceCommit.
	ParentHash []byte
	Lifetime   *Lifetime
}

// Lifetime bounds how long a key package/leaf node is valid for Add.
type Lifetime struct {
	NotBefore int64
	NotAfter  int64
}

// Expired reports whether now falls outside [NotBefore, NotAfter].
func (l *Lifetime) Expired(now int64) bool {
	if l == nil {
		return false
	}
	return now < l.NotBefore || now > l.NotAfter
}

// ParentNode is the public content of an interior slot.
type ParentNode struct {
	PublicKey      []byte
	ParentHash     []byte
	UnmergedLeaves []LeafIndex // strictly increasing by LeafIndex
}

// Node is either a Leaf or a Parent; a nil *Node entry in RatchetTree
// means the slot is blank.
type Node struct {
	Leaf   *LeafNode
	Parent *ParentNode
}

// IsLeaf reports whether this node is a leaf node.
func (n *Node) IsLeaf() bool { return n != nil && n.Leaf != nil }

// IsParent reports whether this node is a parent node.
func (n *Node) IsParent() bool { return n != nil && n.Parent != nil }

// addUnmerged inserts leaf into the node's unmerged-leaves set,
// keeping it strictly increasing by LeafIndex.
func (p *ParentNode) addUnmerged(leaf LeafIndex) {
	for _, existing := range p.UnmergedLeaves {
		if existing == leaf {
			return
		}
	}
	i := 0
	for i < len(p.UnmergedLeaves) && p.UnmergedLeaves[i] < leaf {
		i++
	}
	p.UnmergedLeaves = append(p.UnmergedLeaves, 0)
	copy(p.UnmergedLeaves[i+1:], p.UnmergedLeaves[i:])
	p.UnmergedLeaves[i] = leaf
}

func (p *ParentNode) clearUnmerged() { p.UnmergedLeaves = nil }

// parentHashOf returns the value a node contributes to the chain:
// a Parent's own ParentHash field, or a committing Leaf's stored
// value. Returns (nil, false) if the node carries no parent-hash
// contribution (blank, or a leaf not sourced from a Commit).
func parentHashOf(n *Node) ([]byte, bool) {
	if n == nil {
		return nil, false
	}
	if n.Parent != nil {
		return n.Parent.ParentHash, true
	}
	if n.Leaf != nil && n.Leaf.Source == LeafSourceCommit {
		return n.Leaf.ParentHash, true
	}
	return nil, false
}

func leafNotFound(idx LeafIndex) error {
	return mlserrors.New(mlserrors.LeafNotFound, "leaf index out of range or blank")
}
