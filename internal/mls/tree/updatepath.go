package tree

import (
	"github.com/kindlyrobotics/mlsengine/internal/ciphersuite"
	"github.com/kindlyrobotics/mlsengine/internal/mlserrors"
)

// EncryptedPathSecret is one HPKE-sealed path secret targeting a
// single member of a co-path child's resolution.
type EncryptedPathSecret struct {
	KEMOutput  []byte
	Ciphertext []byte
}

// UpdatePathNode is one filtered-direct-path ancestor's refreshed
// public key plus its path secret encrypted to every recipient in
// the co-path child's resolution.
type UpdatePathNode struct {
	PublicKey            []byte
	EncryptedPathSecrets []EncryptedPathSecret
}

// UpdatePath is the sender's full update: { leaf_node, nodes }.
type UpdatePath struct {
	LeafNode *LeafNode
	Nodes    []UpdatePathNode
}

const pathSecretLabel = "mlsengine path secret"

func derivePathSecret(provider ciphersuite.Provider, prev []byte, context []byte) ([]byte, error) {
	prk := provider.KDFExtract(nil, prev)
	info := append([]byte(pathSecretLabel), context...)
	return provider.KDFExpand(prk, info, ciphersuite.HashSize)
}

// GenerateUpdatePath generates a commit's update path around the
// fresh leaf key pair the caller generated (passed as leafPublicKey
// and newLeaf; the caller keeps the private half); each filtered
// direct-path ancestor
// derives a path secret from the previous one, derives a fresh key
// pair from it, and the secret is HPKE-sealed to every member of the
// co-path child's resolution — excluding leaves in addedLeaves, which
// instead receive their path secret via Welcome.
//
// Returns the UpdatePath to broadcast, the sender's own
// TreeKemPrivate installing the new ancestor secrets, and the map of
// NodeIndex -> path secret the caller needs for Welcome construction
// (to seal the tail secret to newly added members).
func (t *RatchetTree) GenerateUpdatePath(
	provider ciphersuite.Provider,
	selfIndex LeafIndex,
	leafPublicKey []byte,
	newLeaf *LeafNode,
	groupContext []byte,
	addedLeaves map[LeafIndex]bool,
) (*UpdatePath, *TreeKemPrivate, map[NodeIndex][]byte, error) {
	path, copath, err := t.FilteredDirectPath(selfIndex)
	if err != nil {
		return nil, nil, nil, err
	}

	priv := NewTreeKemPrivate(selfIndex)
	pathSecrets := make(map[NodeIndex][]byte)

	leafSecretSeed := append(append([]byte{}, leafPublicKey...), groupContext...)
	secret, err := derivePathSecret(provider, leafSecretSeed, []byte("leaf"))
	if err != nil {
		return nil, nil, nil, err
	}

	up := &UpdatePath{LeafNode: newLeaf}

	for i, ancestor := range path {
		secret, err = derivePathSecret(provider, secret, groupContext)
		if err != nil {
			return nil, nil, nil, err
		}
		nodePriv, nodePub, err := provider.KEMDerive(secret)
		if err != nil {
			return nil, nil, nil, err
		}
		priv.SetSecret(ancestor, nodePriv)
		pathSecrets[ancestor] = append([]byte(nil), secret...)

		resolution := t.Resolution(copath[i])
		var encrypted []EncryptedPathSecret
		for _, r := range resolution {
			if leafIdx, isLeaf := resolvedLeaf(r); isLeaf && addedLeaves[leafIdx] {
				continue
			}
			pub, err := t.publicKeyForResolutionMember(r)
			if err != nil {
				return nil, nil, nil, err
			}
			kemOut, ct, err := provider.HPKESeal(pub, u32Bytes(uint32(ancestor)), groupContext, secret)
			if err != nil {
				return nil, nil, nil, mlserrors.Wrap(mlserrors.HpkeOpenFailure, "sealing path secret", err)
			}
			encrypted = append(encrypted, EncryptedPathSecret{KEMOutput: kemOut, Ciphertext: ct})
		}

		up.Nodes = append(up.Nodes, UpdatePathNode{PublicKey: nodePub, EncryptedPathSecrets: encrypted})
	}

	return up, priv, pathSecrets, nil
}

func resolvedLeaf(n NodeIndex) (LeafIndex, bool) {
	if isLeafIndex(n) {
		return nodeToLeaf(n), true
	}
	return 0, false
}

func (t *RatchetTree) publicKeyForResolutionMember(n NodeIndex) ([]byte, error) {
	node := t.Node(n)
	if node == nil {
		return nil, mlserrors.New(mlserrors.InvalidRatchetTree, "resolution member slot is blank")
	}
	if node.Leaf != nil {
		return node.Leaf.KeyPackagePublicKey, nil
	}
	return node.Parent.PublicKey, nil
}

// ApplyUpdatePath installs the sender's new leaf node and refreshes
// every filtered direct-path ancestor's public key.
func (t *RatchetTree) ApplyUpdatePath(senderIndex LeafIndex, up *UpdatePath) error {
	path, _, err := t.FilteredDirectPath(senderIndex)
	if err != nil {
		return err
	}
	if len(path) != len(up.Nodes) {
		return mlserrors.New(mlserrors.InvalidCommit, "update path length does not match filtered direct path")
	}
	t.SetLeaf(senderIndex, up.LeafNode)
	for i, ancestor := range path {
		t.ApplyUpdatePathNode(ancestor, up.Nodes[i].PublicKey)
	}
	return nil
}

// DecryptPathSecret implements the receiver side of processing a
// commit: locate the position of recipientIndex inside the
// co-path child's resolution at the first ancestor this receiver can
// decrypt, HPKE-open the path secret there, then derive every
// higher ancestor's secret from it via the same chain used to build
// the path. Installs the results into priv and returns the commit
// secret contributed by the tail of the chain (the root's ancestor
// secret).
func (t *RatchetTree) DecryptPathSecret(
	provider ciphersuite.Provider,
	recipientIndex LeafIndex,
	priv *TreeKemPrivate,
	senderIndex LeafIndex,
	up *UpdatePath,
	groupContext []byte,
) ([]byte, error) {
	path, copath, err := t.FilteredDirectPath(senderIndex)
	if err != nil {
		return nil, err
	}
	if len(path) != len(up.Nodes) {
		return nil, mlserrors.New(mlserrors.InvalidCommit, "update path length mismatch")
	}

	var secret []byte
	startIdx := -1
	for i, ancestor := range path {
		resolution := t.Resolution(copath[i])
		pos := -1
		var openKey []byte
		for j, r := range resolution {
			if leaf, isLeaf := resolvedLeaf(r); isLeaf {
				if leaf != recipientIndex {
					continue
				}
				if k, ok := priv.Secret(leafToNode(recipientIndex)); ok {
					pos, openKey = j, k
					break
				}
				continue
			}
			// r is a non-blank interior node: once a node is non-blank,
			// Resolution reports it as a single entry standing in for
			// every leaf beneath it, so this is the normal case for any
			// already-merged, previously-rekeyed ancestor covering two
			// or more leaves.
			if k, ok := priv.Secret(r); ok {
				pos, openKey = j, k
				break
			}
		}
		if pos < 0 {
			// Not covered by this ancestor's resolution; but we
			// may already hold a private key for an ancestor lower in
			// the tree (e.g. our own direct path overlaps the
			// sender's). Check that case.
			if s, ok := priv.Secret(ancestor); ok {
				secret = s
				startIdx = i
				break
			}
			continue
		}
		enc := up.Nodes[i].EncryptedPathSecrets
		if pos >= len(enc) {
			return nil, mlserrors.New(mlserrors.InvalidCommit, "missing encrypted path secret for recipient")
		}
		opened, err := provider.HPKEOpen(openKey, u32Bytes(uint32(ancestor)), groupContext, enc[pos].KEMOutput, enc[pos].Ciphertext)
		if err != nil {
			return nil, mlserrors.Wrap(mlserrors.HpkeOpenFailure, "opening path secret", err)
		}
		openedPriv, _, err := provider.KEMDerive(opened)
		if err != nil {
			return nil, err
		}
		priv.SetSecret(ancestor, openedPriv)
		secret = opened
		startIdx = i
		break
	}

	if startIdx < 0 {
		return nil, mlserrors.New(mlserrors.InvalidCommit, "recipient not covered by any update path node")
	}

	for i := startIdx + 1; i < len(path); i++ {
		next, err := derivePathSecret(provider, secret, groupContext)
		if err != nil {
			return nil, err
		}
		nodePriv, _, err := provider.KEMDerive(next)
		if err != nil {
			return nil, err
		}
		priv.SetSecret(path[i], nodePriv)
		secret = next
	}

	return secret, nil
}
