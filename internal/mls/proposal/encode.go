package proposal

import "encoding/binary"

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

// Encode returns a deterministic byte encoding of a Proposal, used as
// the handshake content a sender signs and, for Add/Update, as part of
// the material hashed into a KeyPackageRef-equivalent cache key.
func Encode(p Proposal) []byte {
	buf := []byte{byte(p.Type)}
	switch p.Type {
	case TypeAdd:
		buf = append(buf, lengthPrefixed(p.Add.KeyPackage.InitKey)...)
		buf = append(buf, lengthPrefixed(p.Add.KeyPackage.LeafPublicKey)...)
		buf = append(buf, lengthPrefixed(p.Add.KeyPackage.SignatureKey)...)
		buf = append(buf, lengthPrefixed(p.Add.KeyPackage.Credential)...)
		buf = append(buf, u32Bytes(uint32(p.Add.KeyPackage.CipherSuite))...)
		buf = append(buf, u64Bytes(uint64(p.Add.KeyPackage.NotBefore))...)
		buf = append(buf, u64Bytes(uint64(p.Add.KeyPackage.NotAfter))...)
		buf = append(buf, lengthPrefixed(p.Add.KeyPackage.Signature)...)
	case TypeUpdate:
		buf = append(buf, lengthPrefixed(p.Update.LeafPublicKey)...)
		buf = append(buf, lengthPrefixed(p.Update.SignatureKey)...)
	case TypeRemove:
		buf = append(buf, u32Bytes(p.Remove.Removed)...)
	case TypePreSharedKey:
		buf = append(buf, lengthPrefixed(p.PreSharedKey.PSKID)...)
	case TypeReInit:
		buf = append(buf, lengthPrefixed(p.ReInit.NewGroupID)...)
		buf = append(buf, u32Bytes(uint32(p.ReInit.CipherSuite))...)
	case TypeExternalInit:
		buf = append(buf, lengthPrefixed(p.ExternalInit.KEMOutput)...)
	case TypeGroupContextExtensions:
		buf = append(buf, lengthPrefixed(p.GroupContextExtensions.Extensions)...)
	}
	return buf
}
