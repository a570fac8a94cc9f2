package keyschedule

import (
	"fmt"

	"github.com/kindlyrobotics/mlsengine/internal/ciphersuite"
)

// SecretTree mirrors the ratchet tree's shape over leaves, but carries
// per-leaf handshake and application ratchet secrets derived from the
// epoch's encryption_secret so every sender gets its own independent
// per-generation message keys. Each leaf's secret is derived from its
// ancestors' secrets via the same left/right labels RFC 9420 defines,
// and every leaf then owns two independent hash ratchets (handshake,
// application) that advance per generation, matching the hashRatchet
// idiom used by the go-mls implementations in the retrieval pack.
type SecretTree struct {
	provider     ciphersuite.Provider
	numLeaves    uint32
	leafRatchets map[uint32]*leafRatchets
	nodeSecret   map[uint32][]byte // keyed by node index in the implied binary tree
}

type leafRatchets struct {
	handshake   *hashRatchet
	application *hashRatchet
}

// NewSecretTree derives the root secret from the epoch's
// encryption_secret and lazily expands node secrets down to leaves as
// ratchets are requested.
func NewSecretTree(provider ciphersuite.Provider, encryptionSecret []byte) (*SecretTree, error) {
	return &SecretTree{
		provider:   provider,
		nodeSecret: map[uint32][]byte{0: encryptionSecret},
	}, nil
}

// SetNumLeaves fixes the tree width once group size is known; must be
// called before HandshakeKey/ApplicationKey lookups for groups larger
// than one member.
func (st *SecretTree) SetNumLeaves(n uint32) { st.numLeaves = n }

func treeSecretWidth(numLeaves uint32) uint32 {
	if numLeaves <= 1 {
		return 1
	}
	w := uint32(1)
	for w < numLeaves {
		w *= 2
	}
	return 2*w - 1
}

// secretAt returns (deriving if necessary) the node secret at index n
// in the implicit secret-tree binary heap addressing used here: node 0
// is the root, node 2i+1/2i+2 are its children. This differs from the
// ratchet tree's array-doubling NodeIndex scheme; the secret tree is
// purely a derivation structure and does not share indices with the
// ratchet tree.
func (st *SecretTree) secretAt(n uint32) ([]byte, error) {
	if s, ok := st.nodeSecret[n]; ok {
		return s, nil
	}
	parent := (n - 1) / 2
	parentSecret, err := st.secretAt(parent)
	if err != nil {
		return nil, err
	}
	label := "tree right"
	if n%2 == 1 {
		label = "tree left"
	}
	child, err := expandLabel(st.provider, parentSecret, label, nil, ciphersuite.HashSize)
	if err != nil {
		return nil, fmt.Errorf("keyschedule: secret tree node %d: %w", n, err)
	}
	st.nodeSecret[n] = child
	return child, nil
}

func leafNodeIndex(leaf uint32, numLeaves uint32) uint32 {
	// A balanced binary heap over numLeaves leaves stores leaf i at the
	// position reached by numLeaves-1 interior nodes plus i, which is
	// exact only for perfect trees; groups are treated as a perfect
	// tree of the next power of two with blank trailing leaves, matching
	// how the ratchet tree itself pads width.
	width := treeSecretWidth(numLeaves)
	interior := (width - 1) / 2
	return interior + leaf
}

// forLeaf returns the leaf's handshake/application ratchet pair,
// deriving the leaf's base secret and both ratchet chains on first
// use.
func (st *SecretTree) forLeaf(leaf uint32) (*leafRatchets, error) {
	if st.leafRatchets == nil {
		st.leafRatchets = make(map[uint32]*leafRatchets)
	}
	if r, ok := st.leafRatchets[leaf]; ok {
		return r, nil
	}

	numLeaves := st.numLeaves
	if numLeaves == 0 {
		numLeaves = 1
	}
	idx := leafNodeIndex(leaf, numLeaves)
	leafSecret, err := st.secretAt(idx)
	if err != nil {
		return nil, err
	}

	handshakeSecret, err := expandLabel(st.provider, leafSecret, "handshake", nil, ciphersuite.HashSize)
	if err != nil {
		return nil, err
	}
	applicationSecret, err := expandLabel(st.provider, leafSecret, "application", nil, ciphersuite.HashSize)
	if err != nil {
		return nil, err
	}

	r := &leafRatchets{
		handshake: newHashRatchet(st.provider, handshakeSecret),
		application: newHashRatchet(st.provider, applicationSecret),
	}
	st.leafRatchets[leaf] = r
	return r, nil
}

// HandshakeKey returns the AEAD key/nonce for (leaf, generation) on
// the handshake ratchet. The chain secret advances past generation and
// is overwritten; key/nonce pairs of skipped earlier generations stay
// cached, and each pair is removed from the cache once returned.
func (st *SecretTree) HandshakeKey(leaf uint32, generation uint32) (key, nonce []byte, err error) {
	r, err := st.forLeaf(leaf)
	if err != nil {
		return nil, nil, err
	}
	return r.handshake.keyNonce(generation)
}

// ApplicationKey returns the AEAD key/nonce for (leaf, generation) on
// the application ratchet.
func (st *SecretTree) ApplicationKey(leaf uint32, generation uint32) (key, nonce []byte, err error) {
	r, err := st.forLeaf(leaf)
	if err != nil {
		return nil, nil, err
	}
	return r.application.keyNonce(generation)
}

// hashRatchet advances a single secret chain one generation at a time,
// deriving a (key, nonce) pair at each step and then replacing the
// chain secret with its own "secret" derivation. Each generation's
// key/nonce is cached until it is requested, so out-of-order delivery
// can still decrypt; the cache has no size bound. This mirrors the
// generation-cache idiom in the pack's hash-ratchet implementations.
type hashRatchet struct {
	provider ciphersuite.Provider
	secret   []byte
	nextGen  uint32
	cache    map[uint32][2][]byte
}

func newHashRatchet(provider ciphersuite.Provider, secret []byte) *hashRatchet {
	return &hashRatchet{provider: provider, secret: secret, cache: make(map[uint32][2][]byte)}
}

func (r *hashRatchet) keyNonce(generation uint32) (key, nonce []byte, err error) {
	if kv, ok := r.cache[generation]; ok {
		return kv[0], kv[1], nil
	}
	for r.nextGen <= generation {
		key, err = expandLabel(r.provider, r.secret, "key", nil, r.provider.AEADKeySize())
		if err != nil {
			return nil, nil, err
		}
		nonce, err = expandLabel(r.provider, r.secret, "nonce", nil, r.provider.AEADNonceSize())
		if err != nil {
			return nil, nil, err
		}
		r.cache[r.nextGen] = [2][]byte{key, nonce}

		next, err := expandLabel(r.provider, r.secret, "secret", nil, ciphersuite.HashSize)
		if err != nil {
			return nil, nil, err
		}
		for i := range r.secret {
			r.secret[i] = 0
		}
		r.secret = next
		r.nextGen++
	}
	kv := r.cache[generation]
	delete(r.cache, generation)
	return kv[0], kv[1], nil
}
