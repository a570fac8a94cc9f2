/*
Package proposal implements the tagged-union Proposal types a member
can send (Add, Update, Remove, PreSharedKey, ReInit, ExternalInit,
GroupContextExtensions), the ProposalOrRef choice a Commit references
them by, and the 16-byte truncated hash reference used as both the
wire form and the cache key.
*/
package proposal

import (
	"github.com/kindlyrobotics/mlsengine/internal/ciphersuite"
)

// Type discriminates the Proposal tagged union; the wire form carries
// this as a single byte.
type Type uint8

const (
	TypeAdd                    Type = 1
	TypeUpdate                 Type = 2
	TypeRemove                 Type = 3
	TypePreSharedKey           Type = 4
	TypeReInit                 Type = 5
	TypeExternalInit           Type = 6
	TypeGroupContextExtensions Type = 7
)

// KeyPackage is the minimal fields this engine needs from a member's
// key package: its HPKE init public key, its leaf-level public key and
// credential, the suite it was generated for, and an expiry window.
// Full key-package wire parsing (capabilities, extension list) is the
// caller's concern once past the IdentityProvider boundary.
type KeyPackage struct {
	InitKey       []byte
	LeafPublicKey []byte
	SignatureKey  []byte
	Credential    []byte
	CipherSuite   ciphersuite.Suite
	Signature     []byte
	NotBefore     int64
	NotAfter      int64
}

// Add proposes a new member join using KeyPackage.
type Add struct {
	KeyPackage KeyPackage
}

// Update proposes that the sender (a current member) replace its own
// leaf node with a freshly generated one.
type Update struct {
	LeafPublicKey []byte
	SignatureKey  []byte
}

// Remove proposes that the leaf at Removed be blanked.
type Remove struct {
	Removed uint32
}

// PreSharedKey injects an out-of-band PSK into the key schedule.
type PreSharedKey struct {
	PSKID []byte
}

// ReInit proposes tearing down this group and re-forming one with a
// new group id or cipher suite; it carries no protocol version.
type ReInit struct {
	NewGroupID  []byte
	CipherSuite ciphersuite.Suite
}

// ExternalInit carries a non-member's KEM output against the group's
// external_secret, letting them author a commit that creates their own
// leaf without first being Added.
type ExternalInit struct {
	KEMOutput []byte
}

// GroupContextExtensions proposes a replacement set of group context
// extensions.
type GroupContextExtensions struct {
	Extensions []byte
}

// Proposal is the tagged union over every proposal kind. Exactly one
// of the typed fields is non-nil, selected by Type.
type Proposal struct {
	Type Type

	Add                    *Add
	Update                 *Update
	Remove                 *Remove
	PreSharedKey           *PreSharedKey
	ReInit                 *ReInit
	ExternalInit           *ExternalInit
	GroupContextExtensions *GroupContextExtensions
}

// RefSize is the truncated hash-reference length.
const RefSize = 16

// Ref is a 16-byte truncated hash reference identifying a proposal
// previously received and cached.
type Ref [RefSize]byte

// OrRef is either an inline Proposal or a reference to a previously
// cached one: ProposalOrRef is itself another tagged union.
type OrRef struct {
	Inline *Proposal
	Ref    *Ref
}

// referenceLabel is the domain-separation string MLS defines for
// proposal references.
const referenceLabel = "MLS 1.0 Proposal Reference"

// ComputeRef derives the hash reference for a proposal's framed,
// authenticated serialization (the signed content bytes, supplied by
// the framing layer): Hash(authenticated content ||
// "MLS 1.0 Proposal Reference"), truncated to 16 bytes.
func ComputeRef(provider ciphersuite.Provider, authenticatedContent []byte) Ref {
	full := provider.Hash(append(append([]byte{}, authenticatedContent...), []byte(referenceLabel)...))
	var ref Ref
	copy(ref[:], full[:RefSize])
	return ref
}
