/*
Package keyschedule derives the per-epoch secrets — init, joiner,
welcome, encryption, sender-data, confirmation, membership,
resumption, and authentication — from the previous epoch's init
secret, a commit secret, and the new group context.

Every Expand call below is HKDF-Expand with a label, following the
RFC 9180/MLS ExpandWithLabel convention. The secret tree built from
the encryption secret uses the same hash-ratchet shape as the
reference go-mls implementations in the retrieval pack (a per-node
chain of Next()/Get(generation) calls caching derived key/nonce
pairs by generation, erased once consumed).
*/
package keyschedule

import (
	"fmt"

	"github.com/kindlyrobotics/mlsengine/internal/ciphersuite"
)

// Epoch holds every secret derived for one epoch of group state.
type Epoch struct {
	InitSecret         []byte
	JoinerSecret       []byte
	WelcomeSecret      []byte
	MemberSecret       []byte
	SenderDataSecret   []byte
	EncryptionSecret   []byte
	ExporterSecret     []byte
	ExternalSecret     []byte
	ConfirmationKey    []byte
	MembershipKey      []byte
	ResumptionSecret   []byte
	EpochAuthenticator []byte
	SecretTreeRoot     *SecretTree
}

// Zeroize overwrites every held secret before the epoch is dropped:
// secret material is zeroized upon epoch rotation.
func (e *Epoch) Zeroize() {
	for _, s := range [][]byte{
		e.InitSecret, e.JoinerSecret, e.WelcomeSecret, e.MemberSecret,
		e.SenderDataSecret, e.EncryptionSecret, e.ExporterSecret,
		e.ExternalSecret, e.ConfirmationKey, e.MembershipKey,
		e.ResumptionSecret, e.EpochAuthenticator,
	} {
		for i := range s {
			s[i] = 0
		}
	}
}

func expandLabel(provider ciphersuite.Provider, secret []byte, label string, context []byte, length int) ([]byte, error) {
	info := append([]byte("mls10 "+label+" "), context...)
	return provider.KDFExpand(secret, info, length)
}

// ExpandLabel is the exported form of the HKDF-Expand-with-label
// primitive, used outside this package wherever a caller must re-derive
// a single secret from an already-known parent secret — welcome_secret
// from joiner_secret during Join, for instance, rather than a whole
// epoch's derivation.
func ExpandLabel(provider ciphersuite.Provider, secret []byte, label string, context []byte, length int) ([]byte, error) {
	return expandLabel(provider, secret, label, context, length)
}

// Derive implements the per-epoch derivation pipeline:
//
//	joiner_secret = Extract(init_secret_prev, commit_secret)
//	welcome_secret = ExpandWithLabel(joiner_secret, "welcome", psk_secret)
//	member_secret = Extract(joiner_secret, psk_secret)
//	epoch_secret = ExpandWithLabel(member_secret, "epoch", context_bytes)
//
// and then expands sender_data, encryption, exporter, external,
// confirmation, membership, resumption, authentication, and
// init_secret_next from epoch_secret.
func Derive(provider ciphersuite.Provider, initSecretPrev, commitSecret, pskSecret, groupContext []byte) (epoch *Epoch, initSecretNext []byte, err error) {
	if pskSecret == nil {
		pskSecret = make([]byte, ciphersuite.HashSize)
	}

	joinerSecret := provider.KDFExtract(initSecretPrev, commitSecret)

	welcomeSecret, err := expandLabel(provider, joinerSecret, "welcome", pskSecret, ciphersuite.HashSize)
	if err != nil {
		return nil, nil, fmt.Errorf("keyschedule: derive welcome secret: %w", err)
	}

	memberSecret := provider.KDFExtract(joinerSecret, pskSecret)

	epochSecret, err := expandLabel(provider, memberSecret, "epoch", groupContext, ciphersuite.HashSize)
	if err != nil {
		return nil, nil, fmt.Errorf("keyschedule: derive epoch secret: %w", err)
	}

	labels := map[string]*[]byte{}
	e := &Epoch{InitSecret: initSecretPrev, JoinerSecret: joinerSecret, WelcomeSecret: welcomeSecret, MemberSecret: memberSecret}
	labels["sender data"] = &e.SenderDataSecret
	labels["encryption"] = &e.EncryptionSecret
	labels["exporter"] = &e.ExporterSecret
	labels["external"] = &e.ExternalSecret
	labels["confirm"] = &e.ConfirmationKey
	labels["membership"] = &e.MembershipKey
	labels["resumption"] = &e.ResumptionSecret
	labels["authentication"] = &e.EpochAuthenticator

	for label, dest := range labels {
		v, err := expandLabel(provider, epochSecret, label, nil, ciphersuite.HashSize)
		if err != nil {
			return nil, nil, fmt.Errorf("keyschedule: derive %s secret: %w", label, err)
		}
		*dest = v
	}

	initNext, err := expandLabel(provider, epochSecret, "init", nil, ciphersuite.HashSize)
	if err != nil {
		return nil, nil, fmt.Errorf("keyschedule: derive init secret next: %w", err)
	}

	tree, err := NewSecretTree(provider, e.EncryptionSecret)
	if err != nil {
		return nil, nil, err
	}
	e.SecretTreeRoot = tree

	return e, initNext, nil
}

// SenderDataParams derives the sender-data AEAD key and nonce from
// sender_data_secret and the first bytes of the ciphertext, allowing
// per-message nonce reuse safety via a 4-byte reuse-guard XORed into
// the ratchet nonce.
func SenderDataParams(provider ciphersuite.Provider, senderDataSecret, ciphertextSample []byte) (key, nonce []byte, err error) {
	key, err = expandLabel(provider, senderDataSecret, "key", ciphertextSample, provider.AEADKeySize())
	if err != nil {
		return nil, nil, fmt.Errorf("keyschedule: sender data key: %w", err)
	}
	nonce, err = expandLabel(provider, senderDataSecret, "nonce", ciphertextSample, provider.AEADNonceSize())
	if err != nil {
		return nil, nil, fmt.Errorf("keyschedule: sender data nonce: %w", err)
	}
	return key, nonce, nil
}

// ReuseGuardNonce XORs a 4-byte reuse guard into the low-order bytes
// of nonce, guaranteeing distinct nonces even if two messages would
// otherwise reuse a ratchet generation.
func ReuseGuardNonce(nonce, reuseGuard []byte) []byte {
	out := append([]byte(nil), nonce...)
	for i := 0; i < len(reuseGuard) && i < len(out); i++ {
		out[i] ^= reuseGuard[i]
	}
	return out
}
