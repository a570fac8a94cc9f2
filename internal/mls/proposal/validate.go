package proposal

import (
	"github.com/kindlyrobotics/mlsengine/internal/ciphersuite"
	"github.com/kindlyrobotics/mlsengine/internal/mlserrors"
)

// Sourced pairs a resolved Proposal with the LeafIndex of the member
// who sent it, mirroring the PendingProposal shape in
// original_source/src/group.rs's fetch_proposals/apply_proposals.
type Sourced struct {
	Sender   uint32
	Proposal Proposal
}

// ValidateAdd checks an Add proposal's rules: the key package's
// signature must verify, its lifetime window must cover now, and its
// cipher suite must match the group's.
func ValidateAdd(provider ciphersuite.Provider, groupSuite ciphersuite.Suite, a Add, now int64) error {
	if a.KeyPackage.CipherSuite != groupSuite {
		return mlserrors.New(mlserrors.CipherSuiteMismatch, "add proposal key package cipher suite does not match group")
	}
	if now < a.KeyPackage.NotBefore || now > a.KeyPackage.NotAfter {
		return mlserrors.New(mlserrors.ExpiredKeyPackage, "add proposal key package lifetime does not cover now")
	}
	if !provider.Verify(a.KeyPackage.SignatureKey, a.KeyPackage.LeafPublicKey, a.KeyPackage.Signature) {
		return mlserrors.New(mlserrors.SignatureInvalid, "add proposal key package signature invalid")
	}
	return nil
}

// ValidateUpdate checks an Update proposal's rule: only a current
// Member may propose an update, and it always targets the sender's own
// leaf. This function checks only that the proposal carries a leaf
// public key; the sender type is not checked here.
func ValidateUpdate(u Update) error {
	if len(u.LeafPublicKey) == 0 {
		return mlserrors.New(mlserrors.InvalidCommit, "update proposal carries no leaf public key")
	}
	return nil
}

// ValidateRemove checks a Remove proposal's rule: the target leaf
// must currently be non-blank. nonBlank is supplied by the caller
// (Group.Propose checks the group's current tree) since this package
// has no tree dependency.
func ValidateRemove(r Remove, nonBlank func(leaf uint32) bool) error {
	if !nonBlank(r.Removed) {
		return mlserrors.New(mlserrors.LeafNotFound, "remove proposal targets an already-blank leaf")
	}
	return nil
}

// CheckConflicts enforces single-commit conflict rules:
// at most one Update per leaf, a leaf may not be both updated and
// removed, and duplicate Adds (same key package init key) are
// rejected.
func CheckConflicts(proposals []Sourced) error {
	updated := make(map[uint32]bool)
	removed := make(map[uint32]bool)
	addedKeys := make(map[string]bool)

	for _, s := range proposals {
		switch s.Proposal.Type {
		case TypeUpdate:
			if updated[s.Sender] {
				return mlserrors.New(mlserrors.InvalidCommit, "more than one update proposal for the same leaf")
			}
			updated[s.Sender] = true
		case TypeRemove:
			removed[s.Proposal.Remove.Removed] = true
		case TypeAdd:
			key := string(s.Proposal.Add.KeyPackage.InitKey)
			if addedKeys[key] {
				return mlserrors.New(mlserrors.DuplicateKeyPackage, "duplicate add proposal for the same key package")
			}
			addedKeys[key] = true
		}
	}

	for leaf := range updated {
		if removed[leaf] {
			return mlserrors.New(mlserrors.InvalidCommit, "leaf is both updated and removed in the same commit")
		}
	}

	return nil
}

// PathRequired reports whether a commit's update path is mandatory: a
// path is required when the proposal set is empty, or contains any
// Update or Remove.
func PathRequired(proposals []Sourced) bool {
	if len(proposals) == 0 {
		return true
	}
	for _, s := range proposals {
		if s.Proposal.Type == TypeUpdate || s.Proposal.Type == TypeRemove {
			return true
		}
	}
	return false
}

// Ordered sorts proposals into Update-then-Remove-then-Add (then
// everything else) apply order, regardless of arrival order.
func Ordered(proposals []Sourced) []Sourced {
	var updates, removes, adds, rest []Sourced
	for _, s := range proposals {
		switch s.Proposal.Type {
		case TypeUpdate:
			updates = append(updates, s)
		case TypeRemove:
			removes = append(removes, s)
		case TypeAdd:
			adds = append(adds, s)
		default:
			rest = append(rest, s)
		}
	}
	out := make([]Sourced, 0, len(proposals))
	out = append(out, updates...)
	out = append(out, removes...)
	out = append(out, adds...)
	out = append(out, rest...)
	return out
}
