package group

import (
	"bytes"
	"testing"
	"time"

	"github.com/kindlyrobotics/mlsengine/internal/ciphersuite"
	"github.com/kindlyrobotics/mlsengine/internal/mls/proposal"
	"github.com/kindlyrobotics/mlsengine/internal/mls/tree"
)

func testProvider(t *testing.T) ciphersuite.Provider {
	t.Helper()
	p, err := ciphersuite.New(ciphersuite.Curve25519ChaCha)
	if err != nil {
		t.Fatalf("ciphersuite.New: %v", err)
	}
	return p
}

type member struct {
	kemPriv, kemPub []byte
	sigPriv, sigPub []byte
	credential []byte
}

func newMember(t *testing.T, p ciphersuite.Provider, name string) member {
	t.Helper()
	kemPriv, kemPub, err := p.KEMGenerate()
	if err != nil {
		t.Fatalf("KEMGenerate: %v", err)
	}
	sigPriv, sigPub, err := p.SignatureKeyGenerate()
	if err != nil {
		t.Fatalf("SignatureKeyGenerate: %v", err)
	}
	return member{kemPriv: kemPriv, kemPub: kemPub, sigPriv: sigPriv, sigPub: sigPub, credential: []byte(name)}
}

func createFounder(t *testing.T, p ciphersuite.Provider, founder member) *Group {
	t.Helper()
	g, err := Create(p, []byte("group-1"), CreatorKeyPackage{
		KeyPackagePublicKey: founder.kemPub,
		KeyPackagePrivateKey: founder.kemPriv,
		SignaturePublicKey: founder.sigPub,
		SignaturePrivateKey: founder.sigPriv,
		Credential: founder.credential,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return g
}

func addKeyPackage(t *testing.T, p ciphersuite.Provider, m member) proposal.KeyPackage {
	t.Helper()
	kp := proposal.KeyPackage{
		InitKey: m.kemPub,
		LeafPublicKey: m.kemPub,
		SignatureKey: m.sigPub,
		Credential: m.credential,
		CipherSuite: p.Suite(),
		NotBefore: time.Now().Unix() - 60,
		NotAfter: time.Now().Unix() + 60,
	}
	sig, err := p.Sign(m.sigPriv, kp.LeafPublicKey)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	kp.Signature = sig
	return kp
}

// TestTwoMemberCreateProposeCommitWelcomeJoin exercises the full
// lifecycle: a founder creates a group, adds a second member via a
// proposal and a commit that carries no update path (an Add alone does
// not require one), and the joiner processes the resulting Welcome
// into an equivalent view of epoch 1.
func TestTwoMemberCreateProposeCommitWelcomeJoin(t *testing.T) {
	p := testProvider(t)
	founder := newMember(t, p, "alice")
	joiner := newMember(t, p, "bob")

	g := createFounder(t, p, founder)

	kp := addKeyPackage(t, p, joiner)
	if _, err := g.Propose(proposal.Proposal{Type: proposal.TypeAdd, Add: &proposal.Add{KeyPackage: kp}}); err != nil {
		t.Fatalf("Propose: %v", err)
	}

	pc, err := g.CommitProposals(CommitOptions{})
	if err != nil {
		t.Fatalf("CommitProposals: %v", err)
	}
	if pc.Welcome == nil {
		t.Fatal("expected a Welcome for the newly added member")
	}

	founderSigPubBefore := g.Signature.PublicKey
	if err := g.Apply(pc); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if g.Context.Epoch != 1 {
		t.Fatalf("founder epoch = %d, want 1", g.Context.Epoch)
	}
	if g.Tree.NumLeaves() != 2 {
		t.Fatalf("founder tree leaves = %d, want 2", g.Tree.NumLeaves())
	}

	ratchetTree := g.Tree.Clone()
	nm := NewMember{
		InitPrivateKey: joiner.kemPriv,
		InitPublicKey: joiner.kemPub,
		LeafPublicKey: joiner.kemPub,
		LeafPrivateKey: joiner.kemPriv,
		SignaturePrivateKey: joiner.sigPriv,
		SignaturePublicKey: joiner.sigPub,
		Credential: joiner.credential,
	}
	joined, _, err := Join(p, pc.Welcome, nm, ratchetTree, founderSigPubBefore)
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if joined.Context.Epoch != 1 {
		t.Fatalf("joiner epoch = %d, want 1", joined.Context.Epoch)
	}
	if joined.SelfIndex != 1 {
		t.Fatalf("joiner self index = %d, want 1", joined.SelfIndex)
	}
	if !bytes.Equal(joined.Epoch.EpochAuthenticator, g.Epoch.EpochAuthenticator) {
		t.Fatal("expected founder and joiner to derive the same epoch authenticator")
	}
}

// TestProcessAppliesCommitSentByOtherMember exercises the receiver
// side of a commit: the second member processes a commit the founder
// authored and ends up at an identical epoch.
func TestProcessAppliesCommitSentByOtherMember(t *testing.T) {
	p := testProvider(t)
	founder := newMember(t, p, "alice")
	joiner := newMember(t, p, "bob")
	third := newMember(t, p, "carol")

	g := createFounder(t, p, founder)
	kp := addKeyPackage(t, p, joiner)
	if _, err := g.Propose(proposal.Proposal{Type: proposal.TypeAdd, Add: &proposal.Add{KeyPackage: kp}}); err != nil {
		t.Fatalf("Propose: %v", err)
	}
	pc, err := g.CommitProposals(CommitOptions{})
	if err != nil {
		t.Fatalf("CommitProposals: %v", err)
	}
	founderSigPub := g.Signature.PublicKey
	if err := g.Apply(pc); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	joinedTree := g.Tree.Clone()
	joined, _, err := Join(p, pc.Welcome, NewMember{
		InitPrivateKey: joiner.kemPriv,
		InitPublicKey: joiner.kemPub,
		LeafPublicKey: joiner.kemPub,
		LeafPrivateKey: joiner.kemPriv,
		SignaturePrivateKey: joiner.sigPriv,
		SignaturePublicKey: joiner.sigPub,
		Credential: joiner.credential,
	}, joinedTree, founderSigPub)
	if err != nil {
		t.Fatalf("Join: %v", err)
	}

	thirdKP := addKeyPackage(t, p, third)
	addThird := proposal.Proposal{Type: proposal.TypeAdd, Add: &proposal.Add{KeyPackage: thirdKP}}
	pt, err := g.Propose(addThird)
	if err != nil {
		t.Fatalf("founder Propose: %v", err)
	}
	// Every other member caches the proposal under the exact reference
	// the sender computed, derived from the signed plaintext it
	// broadcasts, not a re-signed copy of its own.
	ref := proposal.ComputeRef(p, append(append([]byte{}, pt.Content...), pt.Signature...))
	if err := joined.Proposals.Put(ref, addThird); err != nil {
		t.Fatalf("joiner cache Put: %v", err)
	}

	pc2, err := g.CommitProposals(CommitOptions{ForcePath: true})
	if err != nil {
		t.Fatalf("second CommitProposals: %v", err)
	}
	if pc2.Commit.Path == nil {
		t.Fatal("expected ForcePath to produce an update path")
	}
	if err := g.Apply(pc2); err != nil {
		t.Fatalf("Apply second commit: %v", err)
	}

	if err := joined.Process(pc2.Plaintext, pc2.Commit, founderSigPub); err != nil {
		t.Fatalf("joiner Process: %v", err)
	}
	if joined.Context.Epoch != g.Context.Epoch {
		t.Fatalf("joiner epoch = %d, want %d", joined.Context.Epoch, g.Context.Epoch)
	}
	if !bytes.Equal(joined.Epoch.EpochAuthenticator, g.Epoch.EpochAuthenticator) {
		t.Fatal("expected founder and joiner to converge on the same epoch authenticator")
	}
}

// TestProcessAppliesCommitThroughMergedInteriorNode grows a group to
// four members, then has a non-founder member commit a path-only
// rekey so the other receivers must open their copy of the secret via
// a co-path resolution entry that is an already-merged interior node
// (the parent shared by two earlier members) rather than their own
// leaf. This is the steady-state shape for any group of four or more:
// once a parent has been rekeyed once, Resolution reports it as a
// single entry standing in for every leaf beneath it.
func TestProcessAppliesCommitThroughMergedInteriorNode(t *testing.T) {
	p := testProvider(t)
	founder := newMember(t, p, "alice")
	bob := newMember(t, p, "bob")
	carol := newMember(t, p, "carol")
	dave := newMember(t, p, "dave")

	g := createFounder(t, p, founder)
	founderSigPub := g.Signature.PublicKey

	// Add bob.
	bobKP := addKeyPackage(t, p, bob)
	if _, err := g.Propose(proposal.Proposal{Type: proposal.TypeAdd, Add: &proposal.Add{KeyPackage: bobKP}}); err != nil {
		t.Fatalf("Propose bob: %v", err)
	}
	pc1, err := g.CommitProposals(CommitOptions{ForcePath: true})
	if err != nil {
		t.Fatalf("CommitProposals (add bob): %v", err)
	}
	if err := g.Apply(pc1); err != nil {
		t.Fatalf("Apply (add bob): %v", err)
	}
	joinedBob, _, err := Join(p, pc1.Welcome, NewMember{
		InitPrivateKey: bob.kemPriv, InitPublicKey: bob.kemPub,
		LeafPublicKey: bob.kemPub, LeafPrivateKey: bob.kemPriv,
		SignaturePrivateKey: bob.sigPriv, SignaturePublicKey: bob.sigPub,
		Credential: bob.credential,
	}, g.Tree.Clone(), founderSigPub)
	if err != nil {
		t.Fatalf("Join bob: %v", err)
	}

	// Add carol; bob must process the founder's commit to stay in sync.
	carolKP := addKeyPackage(t, p, carol)
	addCarol := proposal.Proposal{Type: proposal.TypeAdd, Add: &proposal.Add{KeyPackage: carolKP}}
	ptCarol, err := g.Propose(addCarol)
	if err != nil {
		t.Fatalf("Propose carol: %v", err)
	}
	refCarol := proposal.ComputeRef(p, append(append([]byte{}, ptCarol.Content...), ptCarol.Signature...))
	if err := joinedBob.Proposals.Put(refCarol, addCarol); err != nil {
		t.Fatalf("bob cache carol add: %v", err)
	}
	pc2, err := g.CommitProposals(CommitOptions{ForcePath: true})
	if err != nil {
		t.Fatalf("CommitProposals (add carol): %v", err)
	}
	if err := g.Apply(pc2); err != nil {
		t.Fatalf("Apply (add carol): %v", err)
	}
	if err := joinedBob.Process(pc2.Plaintext, pc2.Commit, founderSigPub); err != nil {
		t.Fatalf("bob Process (add carol): %v", err)
	}
	joinedCarol, _, err := Join(p, pc2.Welcome, NewMember{
		InitPrivateKey: carol.kemPriv, InitPublicKey: carol.kemPub,
		LeafPublicKey: carol.kemPub, LeafPrivateKey: carol.kemPriv,
		SignaturePrivateKey: carol.sigPriv, SignaturePublicKey: carol.sigPub,
		Credential: carol.credential,
	}, g.Tree.Clone(), founderSigPub)
	if err != nil {
		t.Fatalf("Join carol: %v", err)
	}

	// Add dave; both bob and carol must process the founder's commit.
	daveKP := addKeyPackage(t, p, dave)
	addDave := proposal.Proposal{Type: proposal.TypeAdd, Add: &proposal.Add{KeyPackage: daveKP}}
	ptDave, err := g.Propose(addDave)
	if err != nil {
		t.Fatalf("Propose dave: %v", err)
	}
	refDave := proposal.ComputeRef(p, append(append([]byte{}, ptDave.Content...), ptDave.Signature...))
	if err := joinedBob.Proposals.Put(refDave, addDave); err != nil {
		t.Fatalf("bob cache dave add: %v", err)
	}
	if err := joinedCarol.Proposals.Put(refDave, addDave); err != nil {
		t.Fatalf("carol cache dave add: %v", err)
	}
	pc3, err := g.CommitProposals(CommitOptions{ForcePath: true})
	if err != nil {
		t.Fatalf("CommitProposals (add dave): %v", err)
	}
	if err := g.Apply(pc3); err != nil {
		t.Fatalf("Apply (add dave): %v", err)
	}
	if err := joinedBob.Process(pc3.Plaintext, pc3.Commit, founderSigPub); err != nil {
		t.Fatalf("bob Process (add dave): %v", err)
	}
	if err := joinedCarol.Process(pc3.Plaintext, pc3.Commit, founderSigPub); err != nil {
		t.Fatalf("carol Process (add dave): %v", err)
	}
	joinedDave, _, err := Join(p, pc3.Welcome, NewMember{
		InitPrivateKey: dave.kemPriv, InitPublicKey: dave.kemPub,
		LeafPublicKey: dave.kemPub, LeafPrivateKey: dave.kemPriv,
		SignaturePrivateKey: dave.sigPriv, SignaturePublicKey: dave.sigPub,
		Credential: dave.credential,
	}, g.Tree.Clone(), founderSigPub)
	if err != nil {
		t.Fatalf("Join dave: %v", err)
	}
	if g.Tree.NumLeaves() != 4 {
		t.Fatalf("tree leaves = %d, want 4", g.Tree.NumLeaves())
	}

	// Now that the group has four members {alice, bob, carol, dave},
	// founder's and bob's direct paths share the node covering
	// {alice, bob} as their co-path when carol commits: that node was
	// already rekeyed by the adds above, so its resolution is the node
	// itself, not bob's individual leaf. Carol commits a bare path-only
	// rekey and everyone else processes it as a receiver.
	carolSigPub := carol.sigPub
	pc4, err := joinedCarol.CommitProposals(CommitOptions{ForcePath: true})
	if err != nil {
		t.Fatalf("carol CommitProposals: %v", err)
	}
	if pc4.Commit.Path == nil {
		t.Fatal("expected ForcePath to produce an update path")
	}
	if err := joinedCarol.Apply(pc4); err != nil {
		t.Fatalf("carol Apply: %v", err)
	}
	if err := g.Process(pc4.Plaintext, pc4.Commit, carolSigPub); err != nil {
		t.Fatalf("founder Process (carol's rekey): %v", err)
	}
	if err := joinedBob.Process(pc4.Plaintext, pc4.Commit, carolSigPub); err != nil {
		t.Fatalf("bob Process (carol's rekey): %v", err)
	}
	if err := joinedDave.Process(pc4.Plaintext, pc4.Commit, carolSigPub); err != nil {
		t.Fatalf("dave Process (carol's rekey): %v", err)
	}

	want := joinedCarol.Epoch.EpochAuthenticator
	for name, m := range map[string]*Group{"founder": g, "bob": joinedBob, "dave": joinedDave} {
		if !bytes.Equal(m.Epoch.EpochAuthenticator, want) {
			t.Fatalf("%s epoch authenticator diverged from carol's", name)
		}
		if m.Context.Epoch != joinedCarol.Context.Epoch {
			t.Fatalf("%s epoch = %d, want %d", name, m.Context.Epoch, joinedCarol.Context.Epoch)
		}
	}
}

func TestProcessRejectsWrongEpoch(t *testing.T) {
	p := testProvider(t)
	founder := newMember(t, p, "alice")
	g := createFounder(t, p, founder)

	joiner := newMember(t, p, "bob")
	kp := addKeyPackage(t, p, joiner)
	if _, err := g.Propose(proposal.Proposal{Type: proposal.TypeAdd, Add: &proposal.Add{KeyPackage: kp}}); err != nil {
		t.Fatalf("Propose: %v", err)
	}
	pc, err := g.CommitProposals(CommitOptions{})
	if err != nil {
		t.Fatalf("CommitProposals: %v", err)
	}

	pc.Plaintext.Epoch = 99
	if err := g.Process(pc.Plaintext, pc.Commit, g.Signature.PublicKey); err == nil {
		t.Fatal("expected a stale/mismatched epoch to be rejected")
	}
}

func TestCommitWithRemoveBlanksPath(t *testing.T) {
	p := testProvider(t)
	founder := newMember(t, p, "alice")
	joiner := newMember(t, p, "bob")
	g := createFounder(t, p, founder)

	kp := addKeyPackage(t, p, joiner)
	if _, err := g.Propose(proposal.Proposal{Type: proposal.TypeAdd, Add: &proposal.Add{KeyPackage: kp}}); err != nil {
		t.Fatalf("Propose add: %v", err)
	}
	pc, err := g.CommitProposals(CommitOptions{})
	if err != nil {
		t.Fatalf("CommitProposals: %v", err)
	}
	if err := g.Apply(pc); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if _, err := g.Propose(proposal.Proposal{Type: proposal.TypeRemove, Remove: &proposal.Remove{Removed: 1}}); err != nil {
		t.Fatalf("Propose remove: %v", err)
	}
	pc2, err := g.CommitProposals(CommitOptions{})
	if err != nil {
		t.Fatalf("CommitProposals (remove): %v", err)
	}
	if pc2.Commit.Path == nil {
		t.Fatal("expected a remove proposal to require an update path")
	}
	if err := g.Apply(pc2); err != nil {
		t.Fatalf("Apply remove commit: %v", err)
	}
	if _, err := g.Tree.LeafNodeAt(tree.LeafIndex(1)); err == nil {
		t.Fatal("expected the removed leaf to be blanked")
	}
}

func TestCommitProposalsRejectsConflictingProposals(t *testing.T) {
	p := testProvider(t)
	founder := newMember(t, p, "alice")
	g := createFounder(t, p, founder)

	joinerA := newMember(t, p, "bob")
	joinerB := newMember(t, p, "carol")
	kp := addKeyPackage(t, p, joinerA)
	if _, err := g.Propose(proposal.Proposal{Type: proposal.TypeAdd, Add: &proposal.Add{KeyPackage: kp}}); err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if _, err := g.CommitProposals(CommitOptions{}); err != nil {
		t.Fatalf("CommitProposals: %v", err)
	}

	dup := addKeyPackage(t, p, joinerB)
	dup.InitKey = kp.InitKey
	if _, err := g.CommitProposals(CommitOptions{Inline: []proposal.Proposal{
		{Type: proposal.TypeAdd, Add: &proposal.Add{KeyPackage: kp}},
		{Type: proposal.TypeAdd, Add: &proposal.Add{KeyPackage: dup}},
	}}); err == nil {
		t.Fatal("expected duplicate add-by-init-key to be rejected")
	}
}
