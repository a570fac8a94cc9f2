/*
Package framing implements the message envelopes members exchange
within an epoch: MLSPlaintext for handshake content (signed and, for
member senders, membership-MAC'd) and MLSCiphertext for
AEAD-protected application and handshake content.
*/
package framing

import (
	"encoding/binary"

	"github.com/kindlyrobotics/mlsengine/internal/ciphersuite"
	"github.com/kindlyrobotics/mlsengine/internal/mls/keyschedule"
	"github.com/kindlyrobotics/mlsengine/internal/mlserrors"
)

// ContentType distinguishes application data from handshake content
// (Proposal or Commit).
type ContentType uint8

const (
	ContentApplication ContentType = 1
	ContentProposal    ContentType = 2
	ContentCommit      ContentType = 3
)

// SenderType identifies who originated a message: a current member
// (addressed by leaf index), a preconfigured external sender, or a
// brand-new joiner proposing themselves via external commit.
type SenderType uint8

const (
	SenderMember    SenderType = 1
	SenderExternal  SenderType = 2
	SenderNewMember SenderType = 3
)

// Sender identifies the originator of framed content.
type Sender struct {
	Type SenderType
	Leaf uint32
}

// MLSPlaintext is handshake content signed by the sender and, for
// member senders, tagged with the epoch's membership key.
type MLSPlaintext struct {
	GroupID     []byte
	Epoch       uint64
	Sender      Sender
	ContentType ContentType
	Content         []byte
	Signature       []byte
	ConfirmationTag []byte
	MembershipTag   []byte
}

// signatureContent returns the bytes a sender signs: group_id, epoch,
// sender, content_type, content, and the wire-format group context
// tying the signature to a specific epoch's state.
func (p *MLSPlaintext) signatureContent(groupContext []byte) []byte {
	buf := lengthPrefixed(groupContext)
	buf = append(buf, lengthPrefixed(p.GroupID)...)
	buf = append(buf, u64Bytes(p.Epoch)...)
	buf = append(buf, byte(p.Sender.Type))
	buf = append(buf, u32Bytes(p.Sender.Leaf)...)
	buf = append(buf, byte(p.ContentType))
	buf = append(buf, lengthPrefixed(p.Content)...)
	return buf
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

// Sign populates Signature over signatureContent using the sender's
// signature private key.
func (p *MLSPlaintext) Sign(provider ciphersuite.Provider, groupContext, signatureKey []byte) error {
	sig, err := provider.Sign(signatureKey, p.signatureContent(groupContext))
	if err != nil {
		return mlserrors.Wrap(mlserrors.SignatureInvalid, "signing plaintext", err)
	}
	p.Signature = sig
	return nil
}

// VerifySignature checks Signature against signatureContent using the
// sender's signature public key. Group.Process calls it after the
// content-type and epoch checks and before the membership tag and any
// other processing.
func (p *MLSPlaintext) VerifySignature(provider ciphersuite.Provider, groupContext, signaturePublicKey []byte) error {
	if !provider.Verify(signaturePublicKey, p.signatureContent(groupContext), p.Signature) {
		return mlserrors.New(mlserrors.SignatureInvalid, "plaintext signature verification failed")
	}
	return nil
}

// membershipTagContent covers the signed content plus the signature
// itself, so the membership MAC also authenticates who signed.
func (p *MLSPlaintext) membershipTagContent(groupContext []byte) []byte {
	return append(p.signatureContent(groupContext), p.Signature...)
}

// ApplyMembershipTag computes and stores the membership MAC for a
// member-sender plaintext using the epoch's membership_key.
func (p *MLSPlaintext) ApplyMembershipTag(provider ciphersuite.Provider, groupContext, membershipKey []byte) {
	p.MembershipTag = provider.MAC(membershipKey, p.membershipTagContent(groupContext))
}

// VerifyMembershipTag checks the stored membership tag: member-sent
// plaintexts without a valid membership tag are rejected.
func (p *MLSPlaintext) VerifyMembershipTag(provider ciphersuite.Provider, groupContext, membershipKey []byte) error {
	if p.Sender.Type != SenderMember {
		return nil
	}
	expected := provider.MAC(membershipKey, p.membershipTagContent(groupContext))
	if !ciphersuite.ConstantTimeEqual(expected, p.MembershipTag) {
		return mlserrors.New(mlserrors.MembershipTagMismatch, "membership tag verification failed")
	}
	return nil
}

// ConfirmationTag computes a Commit's confirmation tag over the
// confirmed_transcript_hash.
func ConfirmationTag(provider ciphersuite.Provider, confirmationKey, confirmedTranscriptHash []byte) []byte {
	return provider.MAC(confirmationKey, confirmedTranscriptHash)
}

// VerifyConfirmationTag checks a Commit's confirmation tag using
// ciphersuite.ConstantTimeEqual, since every authentication tag
// comparison in this package must run in constant time.
func VerifyConfirmationTag(provider ciphersuite.Provider, confirmationKey, confirmedTranscriptHash, tag []byte) error {
	expected := ConfirmationTag(provider, confirmationKey, confirmedTranscriptHash)
	if !ciphersuite.ConstantTimeEqual(expected, tag) {
		return mlserrors.New(mlserrors.InvalidConfirmationTag, "confirmation tag verification failed")
	}
	return nil
}

// CheckEpoch enforces an absolute epoch-equality rule:
// incoming content must target exactly the receiver's current epoch,
// never a future or past one, and no partial state mutation may have
// occurred before this check runs.
func CheckEpoch(messageEpoch, groupEpoch uint64) error {
	if messageEpoch != groupEpoch {
		return mlserrors.New(mlserrors.InvalidEpoch, "message epoch does not match group epoch")
	}
	return nil
}

// MLSCiphertext is AEAD-protected application or handshake content.
type MLSCiphertext struct {
	GroupID             []byte
	Epoch               uint64
	ContentType         ContentType
	AuthenticatedData   []byte
	EncryptedSenderData []byte
	Ciphertext          []byte
}

// senderData is the plaintext sealed inside EncryptedSenderData: which
// leaf sent this message and at what ratchet generation.
type senderData struct {
	LeafIndex  uint32
	Generation uint32
	ReuseGuard [4]byte
}

func encodeSenderData(sd senderData) []byte {
	buf := u32Bytes(sd.LeafIndex)
	buf = append(buf, u32Bytes(sd.Generation)...)
	buf = append(buf, sd.ReuseGuard[:]...)
	return buf
}

func decodeSenderData(b []byte) (senderData, error) {
	if len(b) != 12 {
		return senderData{}, mlserrors.New(mlserrors.InvalidSenderData, "malformed sender data")
	}
	var sd senderData
	sd.LeafIndex = binary.BigEndian.Uint32(b[0:4])
	sd.Generation = binary.BigEndian.Uint32(b[4:8])
	copy(sd.ReuseGuard[:], b[8:12])
	return sd, nil
}

const senderDataSampleLen = 12

// EncryptContent performs member-to-group content
// encryption: the framed plaintext's content is AEAD-sealed under the
// secret tree ratchet key for (senderLeaf, generation), with a 4-byte
// reuse guard XORed into the nonce, and the (leaf, generation,
// reuse_guard) triple is itself sealed under the epoch's
// sender_data_secret so only members can identify the sender.
func EncryptContent(
	provider ciphersuite.Provider,
	tree *keyschedule.SecretTree,
	senderDataSecret []byte,
	contentType ContentType,
	senderLeaf, generation uint32,
	aad, content []byte,
	reuseGuard [4]byte,
) (*MLSCiphertext, error) {
	var key, nonce []byte
	var err error
	if contentType == ContentApplication {
		key, nonce, err = tree.ApplicationKey(senderLeaf, generation)
	} else {
		key, nonce, err = tree.HandshakeKey(senderLeaf, generation)
	}
	if err != nil {
		return nil, err
	}
	nonce = keyschedule.ReuseGuardNonce(nonce, reuseGuard[:])

	ct, err := provider.AEADSeal(key, nonce, aad, content)
	if err != nil {
		return nil, mlserrors.Wrap(mlserrors.AeadOpenFailure, "sealing content", err)
	}

	sd := senderData{LeafIndex: senderLeaf, Generation: generation, ReuseGuard: reuseGuard}
	sample := ct
	if len(sample) > senderDataSampleLen {
		sample = sample[:senderDataSampleLen]
	}
	sdKey, sdNonce, err := keyschedule.SenderDataParams(provider, senderDataSecret, sample)
	if err != nil {
		return nil, err
	}
	encSD, err := provider.AEADSeal(sdKey, sdNonce, aad, encodeSenderData(sd))
	if err != nil {
		return nil, mlserrors.Wrap(mlserrors.AeadOpenFailure, "sealing sender data", err)
	}

	return &MLSCiphertext{
		ContentType:         contentType,
		AuthenticatedData:   aad,
		EncryptedSenderData: encSD,
		Ciphertext:          ct,
	}, nil
}

// DecryptContent reverses EncryptContent: opens the sender data to
// recover (leaf, generation, reuse_guard), then opens the content
// under the matching ratchet key.
func DecryptContent(
	provider ciphersuite.Provider,
	tree *keyschedule.SecretTree,
	senderDataSecret []byte,
	ct *MLSCiphertext,
) (plaintext []byte, senderLeaf uint32, err error) {
	sample := ct.Ciphertext
	if len(sample) > senderDataSampleLen {
		sample = sample[:senderDataSampleLen]
	}
	sdKey, sdNonce, err := keyschedule.SenderDataParams(provider, senderDataSecret, sample)
	if err != nil {
		return nil, 0, err
	}
	sdPlain, err := provider.AEADOpen(sdKey, sdNonce, ct.AuthenticatedData, ct.EncryptedSenderData)
	if err != nil {
		return nil, 0, mlserrors.Wrap(mlserrors.AeadOpenFailure, "opening sender data", err)
	}
	sd, err := decodeSenderData(sdPlain)
	if err != nil {
		return nil, 0, err
	}

	var key, nonce []byte
	if ct.ContentType == ContentApplication {
		key, nonce, err = tree.ApplicationKey(sd.LeafIndex, sd.Generation)
	} else {
		key, nonce, err = tree.HandshakeKey(sd.LeafIndex, sd.Generation)
	}
	if err != nil {
		return nil, 0, err
	}
	nonce = keyschedule.ReuseGuardNonce(nonce, sd.ReuseGuard[:])

	pt, err := provider.AEADOpen(key, nonce, ct.AuthenticatedData, ct.Ciphertext)
	if err != nil {
		return nil, 0, mlserrors.Wrap(mlserrors.AeadOpenFailure, "opening content", err)
	}
	return pt, sd.LeafIndex, nil
}
