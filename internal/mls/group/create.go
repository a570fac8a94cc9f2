package group

import (
	"crypto/rand"

	"github.com/kindlyrobotics/mlsengine/internal/ciphersuite"
	"github.com/kindlyrobotics/mlsengine/internal/mls/keyschedule"
	"github.com/kindlyrobotics/mlsengine/internal/mls/proposal"
	"github.com/kindlyrobotics/mlsengine/internal/mls/tree"
	"github.com/kindlyrobotics/mlsengine/internal/mlserrors"
)

// CreatorKeyPackage is what the founding member supplies to Create.
type CreatorKeyPackage struct {
	KeyPackagePublicKey  []byte
	KeyPackagePrivateKey []byte
	SignaturePublicKey   []byte
	SignaturePrivateKey  []byte
	Credential           []byte
}

// Create generates init_secret, constructs a single-leaf tree,
// computes tree_hash, initializes GroupContext at epoch 0 with an
// empty confirmed_transcript_hash, and derives epoch 0's key schedule.
func Create(provider ciphersuite.Provider, groupID []byte, creator CreatorKeyPackage) (*Group, error) {
	leaf := &tree.LeafNode{
		KeyPackagePublicKey: creator.KeyPackagePublicKey,
		SignatureKey:        creator.SignaturePublicKey,
		Credential:          creator.Credential,
		Source:              tree.LeafSourceKeyPackage,
	}
	t := tree.NewRatchetTree(leaf)
	t.RefreshOriginal(provider)

	initSecret := make([]byte, ciphersuite.HashSize)
	if _, err := rand.Read(initSecret); err != nil {
		return nil, mlserrors.Wrap(mlserrors.CryptoProviderError, "generating init secret", err)
	}

	ctx := &Context{
		ProtocolVersion: ProtocolVersion,
		CipherSuite:     provider.Suite(),
		GroupID:         groupID,
		Epoch:           0,
		TreeHash:        t.TreeHash(provider),
	}

	epoch, initNext, err := keyschedule.Derive(provider, initSecret, make([]byte, ciphersuite.HashSize), nil, ctx.Serialize())
	if err != nil {
		return nil, err
	}
	epoch.SecretTreeRoot.SetNumLeaves(t.NumLeaves())
	_ = initNext

	priv := tree.NewTreeKemPrivate(0)
	priv.SetOwnLeafSecret(0, creator.KeyPackagePrivateKey)

	g := &Group{
		Provider:       provider,
		SelfIndex:      0,
		Tree:           t,
		PrivateKey:     priv,
		Context:        ctx,
		Epoch:          epoch,
		Proposals:      proposal.NewMemoryCache(),
		PendingUpdates: proposal.NewPendingUpdates(),
	}
	g.Signature.PrivateKey = creator.SignaturePrivateKey
	g.Signature.PublicKey = creator.SignaturePublicKey

	return g, nil
}
