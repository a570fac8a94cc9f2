package group

import (
	"github.com/kindlyrobotics/mlsengine/internal/ciphersuite"
	"github.com/kindlyrobotics/mlsengine/internal/mls/framing"
	"github.com/kindlyrobotics/mlsengine/internal/mls/keyschedule"
	"github.com/kindlyrobotics/mlsengine/internal/mls/proposal"
	"github.com/kindlyrobotics/mlsengine/internal/mls/tree"
	"github.com/kindlyrobotics/mlsengine/internal/mlserrors"
)

// Process handles an inbound commit: verify
// the framed commit, recompute the provisional tree from the same
// proposal list a committer would have applied, recover this member's
// ancestor secrets from the update path (or reuse locally held secrets
// if this member is the one who sent it), recompute the transcript
// hash and key schedule, and verify the confirmation tag before ever
// touching live state. A failure at any step — signature, membership
// tag, parent hash, confirmation tag — leaves the group exactly as it
// was; only the final step swaps in the new epoch.
func (g *Group) Process(pt *framing.MLSPlaintext, commit *Commit, senderSignatureKey []byte) error {
	if pt.ContentType != framing.ContentCommit {
		return mlserrors.New(mlserrors.InvalidCommit, "plaintext is not a commit")
	}
	if err := framing.CheckEpoch(pt.Epoch, g.Context.Epoch); err != nil {
		return err
	}
	if err := pt.VerifySignature(g.Provider, g.Context.Serialize(), senderSignatureKey); err != nil {
		return err
	}
	if err := pt.VerifyMembershipTag(g.Provider, g.Context.Serialize(), g.Epoch.MembershipKey); err != nil {
		return err
	}

	senderIndex := tree.LeafIndex(pt.Sender.Leaf)

	// Receiver-is-sender shortcut: this member already built this exact
	// commit via CommitProposals and holds its update path secrets
	// directly; there is nothing to decrypt.
	if g.pending != nil && senderIndex == g.SelfIndex && g.pending.provisional.context.Epoch == g.Context.Epoch+1 {
		g.swapIn(g.pending.provisional)
		g.pending = nil
		return nil
	}

	sourced := make([]proposal.Sourced, 0, len(commit.Proposals))
	for _, ref := range commit.Proposals {
		p, err := proposal.Resolve(g.Proposals, ref)
		if err != nil {
			return err
		}
		sourced = append(sourced, proposal.Sourced{Sender: pt.Sender.Leaf, Proposal: p})
	}
	if err := proposal.CheckConflicts(sourced); err != nil {
		return err
	}

	provisionalTree := g.Tree.Clone()
	ordered := proposal.Ordered(sourced)
	addedLeaves, addedKeyPackages, err := applyOrderedProposals(provisionalTree, ordered)
	if err != nil {
		return err
	}
	provisionalTree.RefreshOriginal(g.Provider)

	var (
		newPriv      *tree.TreeKemPrivate
		commitSecret []byte
	)

	if commit.Path != nil {
		if err := provisionalTree.ApplyUpdatePath(senderIndex, commit.Path); err != nil {
			return err
		}
		if _, err := provisionalTree.UpdateParentHashes(g.Provider, senderIndex, commit.Path.LeafNode); err != nil {
			return err
		}

		newPriv = g.PrivateKey.Clone()
		secret, err := provisionalTree.DecryptPathSecret(g.Provider, g.SelfIndex, newPriv, senderIndex, commit.Path, g.Context.Serialize())
		if err != nil {
			return err
		}
		commitSecret = secret
	} else {
		commitSecret = make([]byte, ciphersuite.HashSize)
		newPriv = g.PrivateKey
	}

	newTreeHash := provisionalTree.TreeHash(g.Provider)
	commitContent := encodeCommitContent(commit.Proposals, commit.Path)
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
		return err
	}
	newEpoch.SecretTreeRoot.SetNumLeaves(provisionalTree.NumLeaves())

	if err := framing.VerifyConfirmationTag(g.Provider, newEpoch.ConfirmationKey, confirmedHash, pt.ConfirmationTag); err != nil {
		return err
	}

	prov := &provisionalState{
		tree:                    provisionalTree,
		privateKey:              newPriv,
		context:                 newContext,
		epoch:                   newEpoch,
		confirmedTranscriptHash: confirmedHash,
		interimTranscriptHash:   InterimTranscriptHash(g.Provider, confirmedHash, pt.ConfirmationTag),
		confirmationTag:         pt.ConfirmationTag,
		addedLeaves:             addedLeaves,
		addedKeyPackages:        addedKeyPackages,
		commitSecret:            commitSecret,
	}

	g.swapIn(prov)
	g.pending = nil
	return nil
}
