package tree

import (
	"encoding/binary"

	"github.com/kindlyrobotics/mlsengine/internal/ciphersuite"
)

// leafHashInput/parentHashInput mirror the TLS-presentation-language
// structs the RFC defines for tree-hash computation: a node index
// followed by the optional node content, and for parents the two
// child subtree hashes.
func leafHashInput(index NodeIndex, leaf *LeafNode) []byte {
	buf := u32Bytes(uint32(index))
	buf = append(buf, encodeOptionalLeaf(leaf)...)
	return buf
}

func parentHashInput(index NodeIndex, p *ParentNode, leftHash, rightHash []byte) []byte {
	buf := u32Bytes(uint32(index))
	buf = append(buf, encodeOptionalParent(p)...)
	buf = append(buf, lengthPrefixed(leftHash)...)
	buf = append(buf, lengthPrefixed(rightHash)...)
	return buf
}

func u32Bytes(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func lengthPrefixed(b []byte) []byte {
	out := u32Bytes(uint32(len(b)))
	return append(out, b...)
}

func encodeOptionalLeaf(l *LeafNode) []byte {
	if l == nil {
		return []byte{0}
	}
	buf := []byte{1}
	buf = append(buf, lengthPrefixed(l.KeyPackagePublicKey)...)
	buf = append(buf, lengthPrefixed(l.SignatureKey)...)
	buf = append(buf, lengthPrefixed(l.Credential)...)
	buf = append(buf, byte(l.Source))
	buf = append(buf, lengthPrefixed(l.ParentHash)...)
	return buf
}

func encodeOptionalParent(p *ParentNode) []byte {
	if p == nil {
		return []byte{0}
	}
	buf := []byte{1}
	buf = append(buf, lengthPrefixed(p.PublicKey)...)
	buf = append(buf, lengthPrefixed(p.ParentHash)...)
	buf = append(buf, u32Bytes(uint32(len(p.UnmergedLeaves)))...)
	for _, l := range p.UnmergedLeaves {
		buf = append(buf, u32Bytes(uint32(l))...)
	}
	return buf
}

// TreeHash computes the root tree hash: leaves hash
// their index and optional content; parents hash their index,
// optional content, and the recursively computed hashes of both
// children.
func (t *RatchetTree) TreeHash(provider ciphersuite.Provider) []byte {
	return t.subtreeHash(t.Root(), provider)
}

func (t *RatchetTree) subtreeHash(n NodeIndex, provider ciphersuite.Provider) []byte {
	if isLeafIndex(n) {
		var leaf *LeafNode
		if node := t.Node(n); node != nil {
			leaf = node.Leaf
		}
		return provider.Hash(leafHashInput(n, leaf))
	}
	numLeaves := t.NumLeaves()
	l := left(n)
	r := right(n, numLeaves)
	leftHash := t.subtreeHash(l, provider)
	rightHash := t.subtreeHash(r, provider)

	var p *ParentNode
	if node := t.Node(n); node != nil {
		p = node.Parent
	}
	return provider.Hash(parentHashInput(n, p, leftHash, rightHash))
}

// RefreshOriginal recomputes and caches the "original" (pre-commit)
// tree hash for every node whose cache entry was invalidated. The
// original hash vector must be refreshed before each parent-hash
// recomputation, so call this before beginning a new update-path /
// parent-hash pass over the tree.
func (t *RatchetTree) RefreshOriginal(provider ciphersuite.Provider) {
	if len(t.OriginalHashes) != len(t.nodes) {
		t.OriginalHashes = make([][]byte, len(t.nodes))
	}
	t.refreshOriginalSubtree(t.Root(), provider)
}

func (t *RatchetTree) refreshOriginalSubtree(n NodeIndex, provider ciphersuite.Provider) []byte {
	if int(n) < len(t.OriginalHashes) && t.OriginalHashes[n] != nil {
		return t.OriginalHashes[n]
	}
	var h []byte
	if isLeafIndex(n) {
		var leaf *LeafNode
		if node := t.Node(n); node != nil {
			leaf = node.Leaf
		}
		h = provider.Hash(leafHashInput(n, leaf))
	} else {
		numLeaves := t.NumLeaves()
		leftHash := t.refreshOriginalSubtree(left(n), provider)
		rightHash := t.refreshOriginalSubtree(right(n, numLeaves), provider)
		var p *ParentNode
		if node := t.Node(n); node != nil {
			p = node.Parent
		}
		h = provider.Hash(parentHashInput(n, p, leftHash, rightHash))
	}
	if int(n) < len(t.OriginalHashes) {
		t.OriginalHashes[n] = h
	}
	return h
}
