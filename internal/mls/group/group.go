package group

import (
	"github.com/kindlyrobotics/mlsengine/internal/ciphersuite"
	"github.com/kindlyrobotics/mlsengine/internal/mls/framing"
	"github.com/kindlyrobotics/mlsengine/internal/mls/keyschedule"
	"github.com/kindlyrobotics/mlsengine/internal/mls/proposal"
	"github.com/kindlyrobotics/mlsengine/internal/mls/tree"
	"github.com/kindlyrobotics/mlsengine/internal/mlserrors"
)

// ProtocolVersion is the single version this engine speaks.
const ProtocolVersion uint16 = 1

// Commit is the authenticated bundle of proposals, optionally with an
// update path, that advances the epoch.
type Commit struct {
	Proposals []proposal.OrRef
	Path      *tree.UpdatePath
}

// GroupInfo is the signed snapshot a Welcome encrypts for new joiners
// and an external joiner validates against, mirroring
// original_source/src/group.rs's GroupInfo.
type GroupInfo struct {
	GroupID                 []byte
	Epoch                   uint64
	TreeHash                []byte
	ConfirmedTranscriptHash []byte
	Extensions              []byte
	ConfirmationTag         []byte
	SignerIndex             uint32
	Signature               []byte
	RatchetTree             []*tree.Node
}

func (gi *GroupInfo) signableContent() []byte {
	buf := lengthPrefixed(gi.GroupID)
	buf = append(buf, u64Bytes(gi.Epoch)...)
	buf = append(buf, lengthPrefixed(gi.TreeHash)...)
	buf = append(buf, lengthPrefixed(gi.ConfirmedTranscriptHash)...)
	buf = append(buf, lengthPrefixed(gi.Extensions)...)
	buf = append(buf, lengthPrefixed(gi.ConfirmationTag)...)
	buf = append(buf, u32Bytes(gi.SignerIndex)...)
	return buf
}

// Sign signs the GroupInfo with the committer's signature key.
func (gi *GroupInfo) Sign(provider ciphersuite.Provider, signatureKey []byte) error {
	sig, err := provider.Sign(signatureKey, gi.signableContent())
	if err != nil {
		return mlserrors.Wrap(mlserrors.SignatureInvalid, "signing group info", err)
	}
	gi.Signature = sig
	return nil
}

// Verify checks the GroupInfo's signature against the signer's leaf
// credential, as identified by SignerIndex in the welcomed ratchet
// tree.
func (gi *GroupInfo) Verify(provider ciphersuite.Provider, signaturePublicKey []byte) error {
	if !provider.Verify(signaturePublicKey, gi.signableContent(), gi.Signature) {
		return mlserrors.New(mlserrors.SignatureInvalid, "group info signature verification failed")
	}
	return nil
}

// GroupSecrets is HPKE-sealed to each newly added member's key package
// init key as part of a Welcome.
type GroupSecrets struct {
	JoinerSecret []byte
	PathSecret   []byte // nil if no path was built
}

// Welcome admits new members to the group.
type Welcome struct {
	CipherSuite        ciphersuite.Suite
	Secrets            []EncryptedGroupSecrets
	EncryptedGroupInfo []byte
}

// EncryptedGroupSecrets pairs a new member's key package reference
// with their HPKE-sealed GroupSecrets.
type EncryptedGroupSecrets struct {
	NewMemberKeyPackageRef []byte
	KEMOutput              []byte
	Ciphertext             []byte
}

// PendingCommit holds a locally authored commit's full materialization
// until the caller confirms it should be applied, mirroring
// original_source/src/group.rs's PendingCommit — a two-phase commit so
// a caller can discard a commit it decided not to send without ever
// having mutated group state.
type PendingCommit struct {
	Plaintext   *framing.MLSPlaintext
	Commit      *Commit
	Welcome     *Welcome
	provisional *provisionalState
}

// provisionalState is everything Commit construction/processing
// derives before the atomic swap into Group, preserving the same
// read-then-mutate discipline carried from the tree layer up to the
// whole aggregate.
type provisionalState struct {
	tree                    *tree.RatchetTree
	privateKey              *tree.TreeKemPrivate
	context                 *Context
	epoch                   *keyschedule.Epoch
	confirmedTranscriptHash []byte
	interimTranscriptHash   []byte
	confirmationTag         []byte
	addedLeaves             map[tree.LeafIndex]bool
	addedKeyPackages        map[tree.LeafIndex]proposal.KeyPackage
	pathSecrets             map[tree.NodeIndex][]byte
	commitSecret            []byte
}

// Group is the per-member aggregate state machine: it holds the
// current epoch's context, tree, private key material, key schedule,
// and pending caches.
type Group struct {
	Provider ciphersuite.Provider

	SelfIndex tree.LeafIndex
	Signature struct {
		PrivateKey []byte
		PublicKey  []byte
	}

	Tree       *tree.RatchetTree
	PrivateKey *tree.TreeKemPrivate
	Context    *Context
	Epoch      *keyschedule.Epoch

	interimTranscriptHash []byte

	Proposals      proposal.Cache
	PendingUpdates *proposal.PendingUpdates

	pending *PendingCommit
}

