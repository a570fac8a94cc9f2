/*
Package server holds the demo daemon's in-process group registry: a
mutex-guarded map from group id to live *group.Group, the same shape
the teacher's room/hub models use for their own in-memory client sets.
This is explicitly not a delivery service — there is no fanout,
ordering, or persistence across restarts here, only enough bookkeeping
to let cmd/mlsd's HTTP handlers call into the engine for a given group.
*/
package server

import (
	"sync"

	"github.com/google/uuid"
	"github.com/kindlyrobotics/mlsengine/internal/mls/group"
)

// Registry is a mutex-guarded map from group id to the live Group
// state machine for it.
type Registry struct {
	mu     sync.Mutex
	groups map[uuid.UUID]*group.Group
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{groups: make(map[uuid.UUID]*group.Group)}
}

// Put installs g under id, replacing whatever was there before (a
// caller completing a commit swaps in the post-commit Group the same
// way the engine itself swaps in provisional state).
func (r *Registry) Put(id uuid.UUID, g *group.Group) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.groups[id] = g
}

// Get returns the Group registered under id, or false if none.
func (r *Registry) Get(id uuid.UUID) (*group.Group, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.groups[id]
	return g, ok
}

// Delete removes id from the registry, e.g. after the last member
// leaves.
func (r *Registry) Delete(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.groups, id)
}
