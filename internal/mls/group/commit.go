package group

import (
	"github.com/kindlyrobotics/mlsengine/internal/ciphersuite"
	"github.com/kindlyrobotics/mlsengine/internal/mls/framing"
	"github.com/kindlyrobotics/mlsengine/internal/mls/keyschedule"
	"github.com/kindlyrobotics/mlsengine/internal/mls/proposal"
	"github.com/kindlyrobotics/mlsengine/internal/mls/tree"
	"github.com/kindlyrobotics/mlsengine/internal/mlserrors"
)

// CommitOptions lets the caller force a path (e.g. for a leaf-only
// rekey) or supply additional key packages for members to Add inline
// rather than via the proposal cache.
type CommitOptions struct {
	Inline    []proposal.Proposal
	ForcePath bool
}

// CommitProposals builds a new commit from the accumulated proposal
// state, mirroring original_source/src/group.rs's commit_proposals:
// gathers cached plus inline proposals, applies them in
// Update/Remove/Add order to a provisional tree, builds an update path
// if required, recomputes parent hashes, advances the key schedule,
// and returns a PendingCommit the caller must pass to Apply before
// group state actually changes. A commit aborted mid-construction
// leaves no visible state change, since it only ever mutates a cloned
// provisional tree.
func (g *Group) CommitProposals(opts CommitOptions) (*PendingCommit, error) {
	cached, err := g.Proposals.All()
	if err != nil {
		return nil, err
	}

	var refs []proposal.OrRef
	var sourced []proposal.Sourced
	for _, e := range cached {
		ref := e.Ref
		refs = append(refs, proposal.OrRef{Ref: &ref})
		sourced = append(sourced, proposal.Sourced{Sender: uint32(g.SelfIndex), Proposal: e.Proposal})
	}
	for _, p := range opts.Inline {
		pCopy := p
		refs = append(refs, proposal.OrRef{Inline: &pCopy})
		sourced = append(sourced, proposal.Sourced{Sender: uint32(g.SelfIndex), Proposal: p})
	}

	if err := proposal.CheckConflicts(sourced); err != nil {
		return nil, err
	}

	provisionalTree := g.Tree.Clone()
	ordered := proposal.Ordered(sourced)
	addedLeaves, addedKeyPackages, err := applyOrderedProposals(provisionalTree, ordered)
	if err != nil {
		return nil, err
	}

	pathRequired := opts.ForcePath || proposal.PathRequired(ordered)

	var (
		path *tree.UpdatePath
		newPriv *tree.TreeKemPrivate
		pathSecrets map[tree.NodeIndex][]byte
		commitSecret []byte
		leafParentHash []byte
	)

	provisionalTree.RefreshOriginal(g.Provider)

	if pathRequired {
		leafPriv, leafPub, err := g.Provider.KEMGenerate()
		if err != nil {
			return nil, mlserrors.Wrap(mlserrors.CryptoProviderError, "generating commit leaf key pair", err)
		}

		newLeaf := &tree.LeafNode{
			KeyPackagePublicKey: leafPub,
			SignatureKey:        g.Signature.PublicKey,
			Source:              tree.LeafSourceCommit,
		}

		path, newPriv, pathSecrets, err = provisionalTree.GenerateUpdatePath(
			g.Provider, g.SelfIndex, leafPub, newLeaf, g.Context.Serialize(), addedLeaves,
		)
		if err != nil {
			return nil, err
		}
		newPriv.SetOwnLeafSecret(g.SelfIndex, leafPriv)

		if err := provisionalTree.ApplyUpdatePath(g.SelfIndex, path); err != nil {
			return nil, err
		}

		leafParentHash, err = provisionalTree.UpdateParentHashes(g.Provider, g.SelfIndex, newLeaf)
		if err != nil {
			return nil, err
		}
		newLeaf.ParentHash = leafParentHash
		path.LeafNode.ParentHash = leafParentHash

		commitSecret = pathSecrets[provisionalTree.Root()]
	} else {
		commitSecret = make([]byte, ciphersuite.HashSize)
		// No path means no node on this member's direct path changed,
		// so the secrets already held carry forward unchanged.
		newPriv = g.PrivateKey
	}

	newTreeHash := provisionalTree.TreeHash(g.Provider)

	pt := &framing.MLSPlaintext{
		GroupID:     g.Context.GroupID,
		Epoch:       g.Context.Epoch,
		Sender:      framing.Sender{Type: framing.SenderMember, Leaf: uint32(g.SelfIndex)},
		ContentType: framing.ContentCommit,
	}

	commitContent := encodeCommitContent(refs, path)
	pt.Content = commitContent

	confirmedHash := ConfirmedTranscriptHash(g.Provider, g.interimTranscriptHash, commitContent)

	newContext := &Context{
		ProtocolVersion:         g.Context.ProtocolVersion,
		CipherSuite:             g.Context.CipherSuite,
		GroupID:                 g.Context.GroupID,
		Epoch:                   g.Context.Epoch + 1,
		TreeHash:                newTreeHash,
		ConfirmedTranscriptHash: confirmedHash,
		Extensions:              g.Context.Extensions,
	}

	newEpoch, _, err := keyschedule.Derive(g.Provider, g.Epoch.InitSecret, commitSecret, nil, newContext.Serialize())
	if err != nil {
		return nil, err
	}
	newEpoch.SecretTreeRoot.SetNumLeaves(provisionalTree.NumLeaves())

	confirmationTag := framing.ConfirmationTag(g.Provider, newEpoch.ConfirmationKey, confirmedHash)
	pt.ConfirmationTag = confirmationTag

	if err := pt.Sign(g.Provider, g.Context.Serialize(), g.Signature.PrivateKey); err != nil {
		return nil, err
	}
	pt.ApplyMembershipTag(g.Provider, g.Context.Serialize(), g.Epoch.MembershipKey)

	prov := &provisionalState{
		tree:                    provisionalTree,
		privateKey:              newPriv,
		context:                 newContext,
		epoch:                   newEpoch,
		confirmedTranscriptHash: confirmedHash,
		interimTranscriptHash:   InterimTranscriptHash(g.Provider, confirmedHash, confirmationTag),
		confirmationTag:         confirmationTag,
		addedLeaves:             addedLeaves,
		addedKeyPackages:        addedKeyPackages,
		pathSecrets:             pathSecrets,
		commitSecret:            commitSecret,
	}

	var welcome *Welcome
	if len(addedLeaves) > 0 {
		welcome, err = g.buildWelcome(prov, newEpoch)
		if err != nil {
			return nil, err
		}
	}

	pc := &PendingCommit{
		Plaintext: pt,
		Commit: &Commit{Proposals: refs, Path: path},
		Welcome: welcome,
		provisional: prov,
	}
	g.pending = pc
	return pc, nil
}

// Apply installs a PendingCommit this Group itself authored without
// waiting to receive it back: the sender already holds every secret
// the commit derived, so there is nothing left to decrypt. Process
// implements the equivalent path for a caller whose transport always
// round-trips a sender's own commit back to them before applying it.
func (g *Group) Apply(pc *PendingCommit) error {
	g.swapIn(pc.provisional)
	g.pending = nil
	return nil
}

func (g *Group) swapIn(p *provisionalState) {
	if g.PrivateKey != nil && g.PrivateKey != p.privateKey {
		g.PrivateKey.Zeroize()
	}
	g.Tree = p.tree
	g.PrivateKey = p.privateKey
	g.Context = p.context
	if g.Epoch != nil {
		g.Epoch.Zeroize()
	}
	g.Epoch = p.epoch
	g.interimTranscriptHash = p.interimTranscriptHash
	g.Proposals.Clear()
	g.PendingUpdates.Clear()
}

// applyOrderedProposals mutates t in Update-then-Remove-then-Add order
// (ordered must already be proposal.Ordered's output), returning the
// set of newly added leaves and their key packages so the caller can
// exclude them from update-path encryption targets and address a
// Welcome to them. Shared by CommitProposals and Process so both
// construct an identical provisional tree from the same proposal
// list.
func applyOrderedProposals(t *tree.RatchetTree, ordered []proposal.Sourced) (map[tree.LeafIndex]bool, map[tree.LeafIndex]proposal.KeyPackage, error) {
	addedLeaves := make(map[tree.LeafIndex]bool)
	addedKeyPackages := make(map[tree.LeafIndex]proposal.KeyPackage)

	for _, s := range ordered {
		switch s.Proposal.Type {
		case proposal.TypeUpdate:
			newLeaf := &tree.LeafNode{
				KeyPackagePublicKey: s.Proposal.Update.LeafPublicKey,
				SignatureKey:        s.Proposal.Update.SignatureKey,
				Source:              tree.LeafSourceUpdate,
			}
			t.SetLeaf(tree.LeafIndex(s.Sender), newLeaf)
		case proposal.TypeRemove:
			if err := t.BlankLeaf(tree.LeafIndex(s.Proposal.Remove.Removed)); err != nil {
				return nil, nil, err
			}
		}
	}
	for _, s := range ordered {
		if s.Proposal.Type != proposal.TypeAdd {
			continue
		}
		leaf := &tree.LeafNode{
			KeyPackagePublicKey: s.Proposal.Add.KeyPackage.LeafPublicKey,
			SignatureKey:        s.Proposal.Add.KeyPackage.SignatureKey,
			Credential:          s.Proposal.Add.KeyPackage.Credential,
			Source:              tree.LeafSourceKeyPackage,
		}
		idx := t.AddLeaf(leaf)
		addedLeaves[idx] = true
		addedKeyPackages[idx] = s.Proposal.Add.KeyPackage
	}
	return addedLeaves, addedKeyPackages, nil
}

func encodeCommitContent(refs []proposal.OrRef, path *tree.UpdatePath) []byte {
	buf := u32Bytes(uint32(len(refs)))
	for _, r := range refs {
		if r.Inline != nil {
			buf = append(buf, 0)
			buf = append(buf, lengthPrefixed(proposal.Encode(*r.Inline))...)
		} else {
			buf = append(buf, 1)
			buf = append(buf, r.Ref[:]...)
		}
	}
	if path != nil {
		buf = append(buf, 1)
		buf = append(buf, lengthPrefixed(path.LeafNode.KeyPackagePublicKey)...)
	} else {
		buf = append(buf, 0)
	}
	return buf
}
