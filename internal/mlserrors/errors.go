// Package mlserrors defines the typed error codes surfaced by the
// ratchet tree, key schedule, framing, and group state machine:
// cryptographic and protocol-state errors are always returned whole,
// never swallowed, and never leave the group in a partially-advanced
// epoch.
package mlserrors

import "fmt"

// Code identifies one of the error kinds this package enumerates.
type Code string

const (
	// Cryptographic
	CryptoProviderError Code = "crypto_provider_error"
	SignatureInvalid    Code = "signature_invalid"
	AeadOpenFailure     Code = "aead_open_failure"
	HpkeOpenFailure     Code = "hpke_open_failure"

	// Protocol state
	InvalidEpoch           Code = "invalid_epoch"
	InvalidCommit          Code = "invalid_commit"
	InvalidConfirmationTag Code = "invalid_confirmation_tag"
	ParentHashMismatch     Code = "parent_hash_mismatch"
	ParentHashNotFound     Code = "parent_hash_not_found"
	InvalidRatchetTree     Code = "invalid_ratchet_tree"
	LeafNotFound           Code = "leaf_not_found"
	MembershipTagMismatch  Code = "membership_tag_mismatch"
	InvalidSenderData      Code = "invalid_sender_data"

	// Proposal semantics
	CipherSuiteMismatch      Code = "cipher_suite_mismatch"
	ProtocolVersionMismatch  Code = "protocol_version_mismatch"
	DuplicateKeyPackage      Code = "duplicate_key_package"
	ExpiredKeyPackage        Code = "expired_key_package"
	MissingProposalReference Code = "missing_proposal_reference"

	// Membership
	WelcomeKeyPackageNotFound Code = "welcome_key_package_not_found"
	ExternalSenderNotAllowed  Code = "external_sender_not_allowed"

	// Storage / serialization
	CodecError   Code = "codec_error"
	StorageError Code = "storage_error"
)

// Error is a typed, wrappable error carrying one of the Code values
// above plus a human-readable message and optional cause.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, mlserrors.New(Code, "")) to match by code
// alone, ignoring message and cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// New constructs an Error with no cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap constructs an Error carrying cause as the wrapped error.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// MissingProposalReferenceErr is a helper for the one code that is
// parameterized by the missing reference id.
func MissingProposalReferenceErr(id string) *Error {
	return New(MissingProposalReference, fmt.Sprintf("proposal reference %s not found in cache", id))
}
