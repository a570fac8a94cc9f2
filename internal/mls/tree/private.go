package tree

// TreeKemPrivate holds the local participant's private-key fragments
// for the nodes on its own direct path: secrets exist precisely for
// non-blank ancestors covered by the most recent update path the
// local participant originated or received.
type TreeKemPrivate struct {
	SelfIndex   LeafIndex
	Secrets     map[NodeIndex][]byte
	PathSecrets map[NodeIndex][]byte
}

// NewTreeKemPrivate constructs an empty private-state holder for
// selfIndex.
func NewTreeKemPrivate(selfIndex LeafIndex) *TreeKemPrivate {
	return &TreeKemPrivate{
		SelfIndex:   selfIndex,
		Secrets:     make(map[NodeIndex][]byte),
		PathSecrets: make(map[NodeIndex][]byte),
	}
}

// SetSecret installs the private key fragment for ancestor node n.
func (p *TreeKemPrivate) SetSecret(n NodeIndex, secret []byte) {
	p.Secrets[n] = secret
}

// Secret returns the private key fragment for ancestor node n, if
// any.
func (p *TreeKemPrivate) Secret(n NodeIndex) ([]byte, bool) {
	s, ok := p.Secrets[n]
	return s, ok
}

// InstallJoinerPathSecret folds the path secret a newly admitted
// member received via Welcome into priv, installing it at the tree
// root. Welcome only ever carries the root's path secret (the one
// ancestor every member's direct path is guaranteed to pass through),
// so this is as far as a joiner can get without a commit of their
// own; any other ancestor's key material is filled in lazily via
// DecryptPathSecret as future commits arrive.
func (p *TreeKemPrivate) InstallJoinerPathSecret(root NodeIndex, pathSecret []byte) {
	if len(pathSecret) == 0 {
		return
	}
	p.SetSecret(root, append([]byte(nil), pathSecret...))
}

// SetOwnLeafSecret installs the private half of selfIndex's own leaf
// encryption key pair. Other members' update paths HPKE-seal path
// secrets directly to this leaf's public key whenever it falls in a
// co-path child's resolution, so without this DecryptPathSecret has no
// key to open the first hop of the chain with.
func (p *TreeKemPrivate) SetOwnLeafSecret(selfIndex LeafIndex, leafPrivateKey []byte) {
	p.SetSecret(leafToNode(selfIndex), leafPrivateKey)
}

// Clone deep-copies p so a receiver can decrypt a commit's path
// secrets into a scratch copy and only adopt them once the whole
// commit validates: a rejected commit must leave the group exactly
// as it was.
func (p *TreeKemPrivate) Clone() *TreeKemPrivate {
	clone := &TreeKemPrivate{
		SelfIndex:   p.SelfIndex,
		Secrets:     make(map[NodeIndex][]byte, len(p.Secrets)),
		PathSecrets: make(map[NodeIndex][]byte, len(p.PathSecrets)),
	}
	for k, v := range p.Secrets {
		clone.Secrets[k] = append([]byte(nil), v...)
	}
	for k, v := range p.PathSecrets {
		clone.PathSecrets[k] = append([]byte(nil), v...)
	}
	return clone
}

// Zeroize overwrites every held secret with zero bytes before
// dropping them: secret material must be explicitly overwritten on
// epoch rotation.
func (p *TreeKemPrivate) Zeroize() {
	for k, v := range p.Secrets {
		zero(v)
		delete(p.Secrets, k)
	}
	for k, v := range p.PathSecrets {
		zero(v)
		delete(p.PathSecrets, k)
	}
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
