package proposal

import (
	"sync"

	"github.com/kindlyrobotics/mlsengine/internal/mlserrors"
)

// Cache holds proposals received (or locally authored) in an epoch,
// indexed by their reference, in arrival order — the ordering a
// commit consumes them in, since proposals received within a given
// epoch are ordered by arrival into the cache.
type Cache interface {
	Put(ref Ref, p Proposal) error
	Get(ref Ref) (Proposal, bool, error)
	All() ([]Entry, error)
	Clear() error
}

// Entry pairs a cached proposal with the reference it was filed under,
// preserving Cache.All()'s arrival order.
type Entry struct {
	Ref      Ref
	Proposal Proposal
}

// MemoryCache is the default in-process Cache, an ordered map guarded
// by a mutex since a single group's mutating operations are strictly
// serialized but callers may read concurrently.
type MemoryCache struct {
	mu      sync.RWMutex
	order   []Ref
	entries map[Ref]Proposal
}

// NewMemoryCache constructs an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[Ref]Proposal)}
}

func (c *MemoryCache) Put(ref Ref, p Proposal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[ref]; !exists {
		c.order = append(c.order, ref)
	}
	c.entries[ref] = p
	return nil
}

func (c *MemoryCache) Get(ref Ref) (Proposal, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.entries[ref]
	return p, ok, nil
}

func (c *MemoryCache) All() ([]Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Entry, 0, len(c.order))
	for _, ref := range c.order {
		out = append(out, Entry{Ref: ref, Proposal: c.entries[ref]})
	}
	return out, nil
}

func (c *MemoryCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order = nil
	c.entries = make(map[Ref]Proposal)
	return nil
}

// Resolve looks a proposal up by OrRef, returning the inline proposal
// directly or resolving a Ref against cache. A missing reference
// during commit processing is surfaced as MissingProposalReference,
// since during reception it indicates a lost proposal.
func Resolve(cache Cache, or OrRef) (Proposal, error) {
	if or.Inline != nil {
		return *or.Inline, nil
	}
	if or.Ref == nil {
		return Proposal{}, mlserrors.New(mlserrors.MissingProposalReference, "proposal-or-ref carries neither inline proposal nor reference")
	}
	p, ok, err := cache.Get(*or.Ref)
	if err != nil {
		return Proposal{}, err
	}
	if !ok {
		return Proposal{}, mlserrors.MissingProposalReferenceErr(refString(*or.Ref))
	}
	return p, nil
}

func refString(r Ref) string {
	const hex = "0123456789abcdef"
	buf := make([]byte, 2*len(r))
	for i, b := range r {
		buf[2*i] = hex[b>>4]
		buf[2*i+1] = hex[b&0xf]
	}
	return string(buf)
}

// PendingUpdate records a self-authored Update proposal's generated
// leaf key pair, keyed by the proposal reference rather than
// hash(serialize(key_package)), to avoid divergence between the two.
type PendingUpdate struct {
	LeafPublicKey  []byte
	LeafPrivateKey []byte
}

// PendingUpdates tracks self-authored Update proposals awaiting commit,
// keyed by proposal reference. It holds whatever PendingUpdate the
// caller puts; Group.Propose stores only the leaf public key.
type PendingUpdates struct {
	mu      sync.Mutex
	entries map[Ref]PendingUpdate
}

// NewPendingUpdates constructs an empty tracker.
func NewPendingUpdates() *PendingUpdates {
	return &PendingUpdates{entries: make(map[Ref]PendingUpdate)}
}

func (p *PendingUpdates) Put(ref Ref, u PendingUpdate) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries[ref] = u
}

func (p *PendingUpdates) Get(ref Ref) (PendingUpdate, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	u, ok := p.entries[ref]
	return u, ok
}

func (p *PendingUpdates) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = make(map[Ref]PendingUpdate)
}
