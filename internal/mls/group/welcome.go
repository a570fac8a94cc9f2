package group

import (
	"encoding/binary"

	"github.com/kindlyrobotics/mlsengine/internal/ciphersuite"
	"github.com/kindlyrobotics/mlsengine/internal/mls/framing"
	"github.com/kindlyrobotics/mlsengine/internal/mls/keyschedule"
	"github.com/kindlyrobotics/mlsengine/internal/mls/proposal"
	"github.com/kindlyrobotics/mlsengine/internal/mls/tree"
	"github.com/kindlyrobotics/mlsengine/internal/mlserrors"
)

// buildWelcome builds and signs GroupInfo, encrypts it under
// welcome_secret, and for each added leaf HPKE-seals a
// GroupSecrets{joiner_secret, path_secret} to its key package's init
// key.
func (g *Group) buildWelcome(prov *provisionalState, epoch *keyschedule.Epoch) (*Welcome, error) {
	gi := &GroupInfo{
		GroupID:                 prov.context.GroupID,
		Epoch:                   prov.context.Epoch,
		TreeHash:                prov.context.TreeHash,
		ConfirmedTranscriptHash: prov.context.ConfirmedTranscriptHash,
		Extensions:              prov.context.Extensions,
		ConfirmationTag:         prov.confirmationTag,
		SignerIndex:             uint32(g.SelfIndex),
	}
	if err := gi.Sign(g.Provider, g.Signature.PrivateKey); err != nil {
		return nil, err
	}

	giKey, giNonce, err := keyschedule.SenderDataParams(g.Provider, epoch.WelcomeSecret, []byte("group info"))
	if err != nil {
		return nil, err
	}
	giPlain := gi.signableContent()
	giPlain = append(giPlain, gi.Signature...)
	encryptedGI, err := g.Provider.AEADSeal(giKey, giNonce, nil, giPlain)
	if err != nil {
		return nil, mlserrors.Wrap(mlserrors.CryptoProviderError, "sealing group info", err)
	}

	w := &Welcome{CipherSuite: g.Provider.Suite(), EncryptedGroupInfo: encryptedGI}

	for leaf := range prov.addedLeaves {
		kp := prov.addedKeyPackages[leaf]
		ref := g.Provider.Hash(kp.InitKey)

		gs := GroupSecrets{JoinerSecret: epoch.JoinerSecret}
		if prov.pathSecrets != nil {
			gs.PathSecret = prov.pathSecrets[prov.tree.Root()]
		}
		plain := append(append([]byte{}, gs.JoinerSecret...), gs.PathSecret...)

		kemOut, ct, err := g.Provider.HPKESeal(kp.InitKey, ref, nil, plain)
		if err != nil {
			return nil, mlserrors.Wrap(mlserrors.HpkeOpenFailure, "sealing group secrets", err)
		}
		w.Secrets = append(w.Secrets, EncryptedGroupSecrets{
			NewMemberKeyPackageRef: ref,
			KEMOutput:              kemOut,
			Ciphertext:             ct,
		})
	}

	return w, nil
}

// NewMember bundles the joining party's own credentials so Join can
// both decrypt the Welcome addressed to them and sign as a member
// going forward.
type NewMember struct {
	InitPrivateKey      []byte
	InitPublicKey       []byte
	LeafPublicKey       []byte
	LeafPrivateKey      []byte
	SignaturePrivateKey []byte
	SignaturePublicKey  []byte
	Credential          []byte
}

// Join processes a Welcome for a newly admitted member: locate the
// secret whose NewMemberKeyPackageRef matches the joining party's init
// key, HPKE-open it to GroupSecrets, derive welcome_secret from
// joiner_secret, decrypt GroupInfo, verify its signature against the
// signer's leaf credential (signerSignatureKey, read from
// ratchetTree[SignerIndex] by the caller), verify the supplied
// ratchetTree's tree_hash and full parent-hash chain, locate the
// joining party's own LeafIndex inside it, and install initial state.
// The path secret (if any) is folded into the new TreeKemPrivate via
// InstallJoinerPathSecret, which only ever reaches the tree root —
// the one ancestor every member's direct path passes through.
func Join(provider ciphersuite.Provider, w *Welcome, nm NewMember, ratchetTree *tree.RatchetTree, signerSignatureKey []byte) (*Group, []byte, error) {
	ref := provider.Hash(nm.InitPublicKey)

	var matched *EncryptedGroupSecrets
	for i := range w.Secrets {
		if ciphersuite.ConstantTimeEqual(w.Secrets[i].NewMemberKeyPackageRef, ref) {
			matched = &w.Secrets[i]
			break
		}
	}
	if matched == nil {
		return nil, nil, mlserrors.New(mlserrors.WelcomeKeyPackageNotFound, "no welcome secret addressed to this key package")
	}

	plain, err := provider.HPKEOpen(nm.InitPrivateKey, ref, nil, matched.KEMOutput, matched.Ciphertext)
	if err != nil {
		return nil, nil, mlserrors.Wrap(mlserrors.HpkeOpenFailure, "opening group secrets", err)
	}
	joinerSecret := plain[:ciphersuite.HashSize]
	var pathSecret []byte
	if len(plain) > ciphersuite.HashSize {
		pathSecret = plain[ciphersuite.HashSize:]
	}

	welcomeSecret, err := keyschedule.ExpandLabel(provider, joinerSecret, "welcome", make([]byte, ciphersuite.HashSize), ciphersuite.HashSize)
	if err != nil {
		return nil, nil, err
	}
	giKey, giNonce, err := keyschedule.SenderDataParams(provider, welcomeSecret, []byte("group info"))
	if err != nil {
		return nil, nil, err
	}
	giPlain, err := provider.AEADOpen(giKey, giNonce, nil, w.EncryptedGroupInfo)
	if err != nil {
		return nil, nil, mlserrors.Wrap(mlserrors.AeadOpenFailure, "opening group info", err)
	}

	gi, err := decodeGroupInfo(giPlain)
	if err != nil {
		return nil, nil, err
	}
	if err := gi.Verify(provider, signerSignatureKey); err != nil {
		return nil, nil, err
	}

	if err := ratchetTree.ValidateParentHashes(provider); err != nil {
		return nil, nil, err
	}
	if !ciphersuite.ConstantTimeEqual(ratchetTree.TreeHash(provider), gi.TreeHash) {
		return nil, nil, mlserrors.New(mlserrors.InvalidRatchetTree, "welcome tree hash does not match group info")
	}

	selfIndex, err := findLeaf(ratchetTree, nm.LeafPublicKey)
	if err != nil {
		return nil, nil, err
	}

	ctx := &Context{
		ProtocolVersion:         ProtocolVersion,
		CipherSuite:             provider.Suite(),
		GroupID:                 gi.GroupID,
		Epoch:                   gi.Epoch,
		TreeHash:                gi.TreeHash,
		ConfirmedTranscriptHash: gi.ConfirmedTranscriptHash,
		Extensions:              gi.Extensions,
	}

	epoch, _, err := keyschedule.Derive(provider, joinerSecret, make([]byte, ciphersuite.HashSize), nil, ctx.Serialize())
	if err != nil {
		return nil, nil, err
	}
	epoch.SecretTreeRoot.SetNumLeaves(ratchetTree.NumLeaves())

	if err := framing.VerifyConfirmationTag(provider, epoch.ConfirmationKey, ctx.ConfirmedTranscriptHash, gi.ConfirmationTag); err != nil {
		return nil, nil, err
	}

	priv := tree.NewTreeKemPrivate(selfIndex)
	priv.SetOwnLeafSecret(selfIndex, nm.LeafPrivateKey)
	priv.InstallJoinerPathSecret(ratchetTree.Root(), pathSecret)

	g := &Group{
		Provider:       provider,
		SelfIndex:      selfIndex,
		Tree:           ratchetTree,
		PrivateKey:     priv,
		Context:        ctx,
		Epoch:          epoch,
		Proposals:      proposal.NewMemoryCache(),
		PendingUpdates: proposal.NewPendingUpdates(),
	}
	g.Signature.PrivateKey = nm.SignaturePrivateKey
	g.Signature.PublicKey = nm.SignaturePublicKey

	return g, pathSecret, nil
}

// decodeGroupInfo reverses GroupInfo.signableContent plus the trailing
// signature buildWelcome appended before sealing, in exactly the field
// order Sign/signableContent write them.
func decodeGroupInfo(b []byte) (*GroupInfo, error) {
	r := &byteReader{b: b}
	gi := &GroupInfo{}
	var err error
	if gi.GroupID, err = r.lengthPrefixed(); err != nil {
		return nil, err
	}
	if gi.Epoch, err = r.u64(); err != nil {
		return nil, err
	}
	if gi.TreeHash, err = r.lengthPrefixed(); err != nil {
		return nil, err
	}
	if gi.ConfirmedTranscriptHash, err = r.lengthPrefixed(); err != nil {
		return nil, err
	}
	if gi.Extensions, err = r.lengthPrefixed(); err != nil {
		return nil, err
	}
	if gi.ConfirmationTag, err = r.lengthPrefixed(); err != nil {
		return nil, err
	}
	signerIndex, err := r.u32()
	if err != nil {
		return nil, err
	}
	gi.SignerIndex = uint32(signerIndex)
	gi.Signature = r.rest()
	return gi, nil
}

type byteReader struct {
	b   []byte
	pos int
}

func (r *byteReader) u32() (uint32, error) {
	if r.pos+4 > len(r.b) {
		return 0, mlserrors.New(mlserrors.CodecError, "truncated group info")
	}
	v := binary.BigEndian.Uint32(r.b[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *byteReader) u64() (uint64, error) {
	if r.pos+8 > len(r.b) {
		return 0, mlserrors.New(mlserrors.CodecError, "truncated group info")
	}
	v := binary.BigEndian.Uint64(r.b[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *byteReader) lengthPrefixed() ([]byte, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	if r.pos+int(n) > len(r.b) {
		return nil, mlserrors.New(mlserrors.CodecError, "truncated group info field")
	}
	v := r.b[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return v, nil
}

func (r *byteReader) rest() []byte {
	return r.b[r.pos:]
}

func findLeaf(t *tree.RatchetTree, leafPublicKey []byte) (tree.LeafIndex, error) {
	for _, entry := range t.NonBlankLeaves() {
		if ciphersuite.ConstantTimeEqual(entry.Leaf.KeyPackagePublicKey, leafPublicKey) {
			return entry.Index, nil
		}
	}
	return 0, mlserrors.New(mlserrors.LeafNotFound, "joining member's leaf not found in welcomed tree")
}
