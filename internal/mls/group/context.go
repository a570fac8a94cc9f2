/*
Package group implements the aggregate group state machine: the
current epoch's context, tree, private key material, key schedule, and
pending proposal/update caches, exposing Create, Propose, Commit,
Process, and Join operations.
*/
package group

import (
	"encoding/binary"

	"github.com/kindlyrobotics/mlsengine/internal/ciphersuite"
)

// Context is the signature domain and key-schedule input: {
// protocol_version, cipher_suite, group_id, epoch, tree_hash,
// confirmed_transcript_hash, extensions }.
type Context struct {
	ProtocolVersion         uint16
	CipherSuite             ciphersuite.Suite
	GroupID                 []byte
	Epoch                   uint64
	TreeHash                []byte
	ConfirmedTranscriptHash []byte
	Extensions              []byte
}

// Serialize returns the length-prefixed wire encoding used both as the
// signature domain for proposals/commits and as an input to
// key-schedule derivation.
func (c *Context) Serialize() []byte {
	buf := u16Bytes(c.ProtocolVersion)
	buf = append(buf, u16Bytes(uint16(c.CipherSuite))...)
	buf = append(buf, lengthPrefixed(c.GroupID)...)
	buf = append(buf, u64Bytes(c.Epoch)...)
	buf = append(buf, lengthPrefixed(c.TreeHash)...)
	buf = append(buf, lengthPrefixed(c.ConfirmedTranscriptHash)...)
	buf = append(buf, lengthPrefixed(c.Extensions)...)
	return buf
}

func u16Bytes(v uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return b
}

func u32Bytes(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func u64Bytes(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func lengthPrefixed(b []byte) []byte {
	out := u32Bytes(uint32(len(b)))
	return append(out, b...)
}

// InterimTranscriptHash and ConfirmedTranscriptHash implement the
// group's transcript chain: the confirmed hash folds in the
// committer's signed commit content; the interim hash folds in the
// resulting confirmation tag, becoming the base for the next commit.
func ConfirmedTranscriptHash(provider ciphersuite.Provider, interimPrev, commitContent []byte) []byte {
	return provider.Hash(append(append([]byte{}, interimPrev...), commitContent...))
}

func InterimTranscriptHash(provider ciphersuite.Provider, confirmed, confirmationTag []byte) []byte {
	return provider.Hash(append(append([]byte{}, confirmed...), confirmationTag...))
}
