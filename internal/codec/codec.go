/*
Package codec implements a length-prefixed binary wire format for
MLSMessage's outer envelope, MLSPlaintext, MLSCiphertext, Welcome, and
a RatchetTree export vector, for handing framed values to a transport
or a GroupStateStorage blob. Every multi-byte integer is big-endian;
every variable-length field is a u32 length prefix followed by its
bytes, the same convention the group and framing packages already use
for their own signable/authenticated byte strings.
*/
package codec

import (
	"encoding/binary"

	"github.com/kindlyrobotics/mlsengine/internal/ciphersuite"
	"github.com/kindlyrobotics/mlsengine/internal/mls/framing"
	"github.com/kindlyrobotics/mlsengine/internal/mls/group"
	"github.com/kindlyrobotics/mlsengine/internal/mls/tree"
	"github.com/kindlyrobotics/mlsengine/internal/mlserrors"
)

// WireFormat discriminates an MLSMessage's payload.
type WireFormat uint16

const (
	WireFormatPlaintext  WireFormat = 1
	WireFormatCiphertext WireFormat = 2
	WireFormatWelcome    WireFormat = 3
	WireFormatGroupInfo  WireFormat = 4
	WireFormatKeyPackage WireFormat = 5
)

// MLSMessage is the outer envelope every wire value travels in:
// `{ version, wire_format, payload }`.
type MLSMessage struct {
	Version    uint16
	WireFormat WireFormat
	Payload    []byte
}

// EncodeMessage serializes an MLSMessage envelope.
func EncodeMessage(m MLSMessage) []byte {
	w := newWriter()
	w.u16(m.Version)
	w.u16(uint16(m.WireFormat))
	w.lengthPrefixed(m.Payload)
	return w.bytes()
}

// DecodeMessage reverses EncodeMessage.
func DecodeMessage(b []byte) (MLSMessage, error) {
	r := &reader{b: b}
	version, err := r.u16()
	if err != nil {
		return MLSMessage{}, err
	}
	wf, err := r.u16()
	if err != nil {
		return MLSMessage{}, err
	}
	payload, err := r.lengthPrefixed()
	if err != nil {
		return MLSMessage{}, err
	}
	return MLSMessage{Version: version, WireFormat: WireFormat(wf), Payload: payload}, nil
}

// EncodePlaintext serializes an MLSPlaintext for transport or storage.
func EncodePlaintext(p *framing.MLSPlaintext) []byte {
	w := newWriter()
	w.lengthPrefixed(p.GroupID)
	w.u64(p.Epoch)
	w.u8(byte(p.Sender.Type))
	w.u32(p.Sender.Leaf)
	w.u8(byte(p.ContentType))
	w.lengthPrefixed(p.Content)
	w.lengthPrefixed(p.Signature)
	w.lengthPrefixed(p.ConfirmationTag)
	w.lengthPrefixed(p.MembershipTag)
	return w.bytes()
}

// DecodePlaintext reverses EncodePlaintext.
func DecodePlaintext(b []byte) (*framing.MLSPlaintext, error) {
	r := &reader{b: b}
	p := &framing.MLSPlaintext{}
	var err error
	if p.GroupID, err = r.lengthPrefixed(); err != nil {
		return nil, err
	}
	if p.Epoch, err = r.u64(); err != nil {
		return nil, err
	}
	senderType, err := r.u8()
	if err != nil {
		return nil, err
	}
	p.Sender.Type = framing.SenderType(senderType)
	if p.Sender.Leaf, err = r.u32(); err != nil {
		return nil, err
	}
	contentType, err := r.u8()
	if err != nil {
		return nil, err
	}
	p.ContentType = framing.ContentType(contentType)
	if p.Content, err = r.lengthPrefixed(); err != nil {
		return nil, err
	}
	if p.Signature, err = r.lengthPrefixed(); err != nil {
		return nil, err
	}
	if p.ConfirmationTag, err = r.lengthPrefixed(); err != nil {
		return nil, err
	}
	if p.MembershipTag, err = r.lengthPrefixed(); err != nil {
		return nil, err
	}
	return p, nil
}

// EncodeCiphertext serializes an MLSCiphertext for transport or storage.
func EncodeCiphertext(c *framing.MLSCiphertext) []byte {
	w := newWriter()
	w.lengthPrefixed(c.GroupID)
	w.u64(c.Epoch)
	w.u8(byte(c.ContentType))
	w.lengthPrefixed(c.AuthenticatedData)
	w.lengthPrefixed(c.EncryptedSenderData)
	w.lengthPrefixed(c.Ciphertext)
	return w.bytes()
}

// DecodeCiphertext reverses EncodeCiphertext.
func DecodeCiphertext(b []byte) (*framing.MLSCiphertext, error) {
	r := &reader{b: b}
	c := &framing.MLSCiphertext{}
	var err error
	if c.GroupID, err = r.lengthPrefixed(); err != nil {
		return nil, err
	}
	if c.Epoch, err = r.u64(); err != nil {
		return nil, err
	}
	contentType, err := r.u8()
	if err != nil {
		return nil, err
	}
	c.ContentType = framing.ContentType(contentType)
	if c.AuthenticatedData, err = r.lengthPrefixed(); err != nil {
		return nil, err
	}
	if c.EncryptedSenderData, err = r.lengthPrefixed(); err != nil {
		return nil, err
	}
	if c.Ciphertext, err = r.lengthPrefixed(); err != nil {
		return nil, err
	}
	return c, nil
}

// EncodeWelcome serializes a Welcome: `{ cipher_suite,
// secrets: vec<{new_member_key_package_ref, hpke_ciphertext}>,
// encrypted_group_info }`.
func EncodeWelcome(w *group.Welcome) []byte {
	out := newWriter()
	out.u16(uint16(w.CipherSuite))
	out.u32(uint32(len(w.Secrets)))
	for _, s := range w.Secrets {
		out.lengthPrefixed(s.NewMemberKeyPackageRef)
		out.lengthPrefixed(s.KEMOutput)
		out.lengthPrefixed(s.Ciphertext)
	}
	out.lengthPrefixed(w.EncryptedGroupInfo)
	return out.bytes()
}

// DecodeWelcome reverses EncodeWelcome.
func DecodeWelcome(b []byte) (*group.Welcome, error) {
	r := &reader{b: b}
	w := &group.Welcome{}
	suite, err := r.u16()
	if err != nil {
		return nil, err
	}
	w.CipherSuite = ciphersuite.Suite(suite)
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	w.Secrets = make([]group.EncryptedGroupSecrets, 0, n)
	for i := uint32(0); i < n; i++ {
		var s group.EncryptedGroupSecrets
		if s.NewMemberKeyPackageRef, err = r.lengthPrefixed(); err != nil {
			return nil, err
		}
		if s.KEMOutput, err = r.lengthPrefixed(); err != nil {
			return nil, err
		}
		if s.Ciphertext, err = r.lengthPrefixed(); err != nil {
			return nil, err
		}
		w.Secrets = append(w.Secrets, s)
	}
	if w.EncryptedGroupInfo, err = r.lengthPrefixed(); err != nil {
		return nil, err
	}
	return w, nil
}

// EncodeRatchetTree serializes a RatchetTree export (a vector of
// optional Node, each prefixed by a one-byte tag: 0 for a blank slot,
// 1 for a leaf, 2 for a parent).
func EncodeRatchetTree(nodes []*tree.Node) []byte {
	w := newWriter()
	w.u32(uint32(len(nodes)))
	for _, n := range nodes {
		if n == nil {
			w.u8(0)
			continue
		}
		if n.Leaf != nil {
			w.u8(1)
			encodeLeafNode(w, n.Leaf)
			continue
		}
		w.u8(2)
		encodeParentNode(w, n.Parent)
	}
	return w.bytes()
}

// DecodeRatchetTree reverses EncodeRatchetTree.
func DecodeRatchetTree(b []byte) ([]*tree.Node, error) {
	r := &reader{b: b}
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	nodes := make([]*tree.Node, n)
	for i := uint32(0); i < n; i++ {
		tag, err := r.u8()
		if err != nil {
			return nil, err
		}
		switch tag {
		case 0:
			nodes[i] = nil
		case 1:
			leaf, err := decodeLeafNode(r)
			if err != nil {
				return nil, err
			}
			nodes[i] = &tree.Node{Leaf: leaf}
		case 2:
			parent, err := decodeParentNode(r)
			if err != nil {
				return nil, err
			}
			nodes[i] = &tree.Node{Parent: parent}
		default:
			return nil, mlserrors.New(mlserrors.CodecError, "unknown ratchet tree node tag")
		}
	}
	return nodes, nil
}

func encodeLeafNode(w *writer, l *tree.LeafNode) {
	w.lengthPrefixed(l.KeyPackagePublicKey)
	w.lengthPrefixed(l.SignatureKey)
	w.lengthPrefixed(l.Credential)
	w.u8(byte(l.Source))
	w.lengthPrefixed(l.ParentHash)
	if l.Lifetime == nil {
		w.u8(0)
	} else {
		w.u8(1)
		w.u64(uint64(l.Lifetime.NotBefore))
		w.u64(uint64(l.Lifetime.NotAfter))
	}
}

func decodeLeafNode(r *reader) (*tree.LeafNode, error) {
	l := &tree.LeafNode{}
	var err error
	if l.KeyPackagePublicKey, err = r.lengthPrefixed(); err != nil {
		return nil, err
	}
	if l.SignatureKey, err = r.lengthPrefixed(); err != nil {
		return nil, err
	}
	if l.Credential, err = r.lengthPrefixed(); err != nil {
		return nil, err
	}
	source, err := r.u8()
	if err != nil {
		return nil, err
	}
	l.Source = tree.LeafNodeSource(source)
	if l.ParentHash, err = r.lengthPrefixed(); err != nil {
		return nil, err
	}
	hasLifetime, err := r.u8()
	if err != nil {
		return nil, err
	}
	if hasLifetime == 1 {
		notBefore, err := r.u64()
		if err != nil {
			return nil, err
		}
		notAfter, err := r.u64()
		if err != nil {
			return nil, err
		}
		l.Lifetime = &tree.Lifetime{NotBefore: int64(notBefore), NotAfter: int64(notAfter)}
	}
	return l, nil
}

func encodeParentNode(w *writer, p *tree.ParentNode) {
	w.lengthPrefixed(p.PublicKey)
	w.lengthPrefixed(p.ParentHash)
	w.u32(uint32(len(p.UnmergedLeaves)))
	for _, leaf := range p.UnmergedLeaves {
		w.u32(uint32(leaf))
	}
}

func decodeParentNode(r *reader) (*tree.ParentNode, error) {
	p := &tree.ParentNode{}
	var err error
	if p.PublicKey, err = r.lengthPrefixed(); err != nil {
		return nil, err
	}
	if p.ParentHash, err = r.lengthPrefixed(); err != nil {
		return nil, err
	}
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	p.UnmergedLeaves = make([]tree.LeafIndex, n)
	for i := uint32(0); i < n; i++ {
		v, err := r.u32()
		if err != nil {
			return nil, err
		}
		p.UnmergedLeaves[i] = tree.LeafIndex(v)
	}
	return p, nil
}

// writer accumulates a length-prefixed binary encoding.
type writer struct {
	buf []byte
}

func newWriter() *writer { return &writer{} }

func (w *writer) u8(v byte) { w.buf = append(w.buf, v) }

func (w *writer) u16(v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *writer) u32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *writer) u64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *writer) lengthPrefixed(b []byte) {
	w.u32(uint32(len(b)))
	w.buf = append(w.buf, b...)
}

func (w *writer) bytes() []byte { return w.buf }

// reader walks a length-prefixed binary encoding, erroring with
// mlserrors.CodecError on any truncation.
type reader struct {
	b []byte
	pos int
}

func (r *reader) u8() (byte, error) {
	if r.pos+1 > len(r.b) {
		return 0, mlserrors.New(mlserrors.CodecError, "truncated message")
	}
	v := r.b[r.pos]
	r.pos++
	return v, nil
}

func (r *reader) u16() (uint16, error) {
	if r.pos+2 > len(r.b) {
		return 0, mlserrors.New(mlserrors.CodecError, "truncated message")
	}
	v := binary.BigEndian.Uint16(r.b[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *reader) u32() (uint32, error) {
	if r.pos+4 > len(r.b) {
		return 0, mlserrors.New(mlserrors.CodecError, "truncated message")
	}
	v := binary.BigEndian.Uint32(r.b[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *reader) u64() (uint64, error) {
	if r.pos+8 > len(r.b) {
		return 0, mlserrors.New(mlserrors.CodecError, "truncated message")
	}
	v := binary.BigEndian.Uint64(r.b[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *reader) lengthPrefixed() ([]byte, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	if r.pos+int(n) > len(r.b) {
		return nil, mlserrors.New(mlserrors.CodecError, "truncated message field")
	}
	v := r.b[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return v, nil
}
