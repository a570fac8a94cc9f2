package group

import (
	"time"

	"github.com/kindlyrobotics/mlsengine/internal/mls/framing"
	"github.com/kindlyrobotics/mlsengine/internal/mls/proposal"
	"github.com/kindlyrobotics/mlsengine/internal/mls/tree"
	"github.com/kindlyrobotics/mlsengine/internal/mlserrors"
)

// Propose validates the proposal semantically, signs it as an
// MLSPlaintext, caches it under its hash reference, and returns the
// framed message. For Update proposals, the proposal's leaf public key
// is additionally recorded in pending_updates keyed by the proposal's
// reference. No key pair is generated here and no private key is
// recorded: the PendingUpdate's LeafPrivateKey is left empty.
func (g *Group) Propose(p proposal.Proposal) (*framing.MLSPlaintext, error) {
	if err := g.validateProposal(p); err != nil {
		return nil, err
	}

	pt := &framing.MLSPlaintext{
		GroupID:     g.Context.GroupID,
		Epoch:       g.Context.Epoch,
		Sender:      framing.Sender{Type: framing.SenderMember, Leaf: uint32(g.SelfIndex)},
		ContentType: framing.ContentProposal,
		Content:     proposal.Encode(p),
	}
	if err := pt.Sign(g.Provider, g.Context.Serialize(), g.Signature.PrivateKey); err != nil {
		return nil, err
	}
	pt.ApplyMembershipTag(g.Provider, g.Context.Serialize(), g.Epoch.MembershipKey)

	ref := proposal.ComputeRef(g.Provider, append(pt.Content, pt.Signature...))
	if err := g.Proposals.Put(ref, p); err != nil {
		return nil, err
	}

	if p.Type == proposal.TypeUpdate {
		g.PendingUpdates.Put(ref, proposal.PendingUpdate{
			LeafPublicKey: p.Update.LeafPublicKey,
		})
	}

	return pt, nil
}

func (g *Group) validateProposal(p proposal.Proposal) error {
	switch p.Type {
	case proposal.TypeAdd:
		return proposal.ValidateAdd(g.Provider, g.Context.CipherSuite, *p.Add, time.Now().Unix())
	case proposal.TypeUpdate:
		return proposal.ValidateUpdate(*p.Update)
	case proposal.TypeRemove:
		return proposal.ValidateRemove(*p.Remove, func(leaf uint32) bool {
			_, err := g.Tree.LeafNodeAt(tree.LeafIndex(leaf))
			return err == nil
		})
	case proposal.TypePreSharedKey, proposal.TypeReInit, proposal.TypeExternalInit, proposal.TypeGroupContextExtensions:
		return nil
	default:
		return mlserrors.New(mlserrors.InvalidCommit, "unknown proposal type")
	}
}
