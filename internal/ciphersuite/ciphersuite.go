/*
Package ciphersuite provides the CipherSuiteProvider capability set
the ratchet tree, key schedule, and framing layers depend on but never
implement themselves: hashing, MAC, AEAD, HPKE, KDF, signatures, and
KEM key generation, all keyed by a negotiated cipher suite identifier.

ALGORITHMS IMPLEMENTED:
 - X25519Kyber768Draft00: CRYSTALS-Kyber768 encapsulation as the KEM
 (no X25519 share is combined in, despite the suite name), signed with
 CRYSTALS-Dilithium3 (ML-DSA). AEAD is AES-256-GCM.
 - Curve25519ChaCha: X25519 KEM, Ed25519 signatures, XChaCha20-Poly1305
 AEAD. The lighter classical-only suite.

LIBRARY: cloudflare/circl for Kyber/Dilithium, golang.org/x/crypto
for X25519, HKDF, and XChaCha20-Poly1305 (HPKE in both suites is a
local KEM-then-HKDF-then-AEAD construction, not circl's hpke) — the same stack the teacher
repo's crypto package draws on for its own PQC and symmetric layers.

This package never persists key material and never talks to storage;
it is the "read-only, safely shared" capability the group state
machine is built around.
*/
package ciphersuite

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"io"

	"github.com/cloudflare/circl/kem/kyber/kyber768"
	"github.com/cloudflare/circl/sign/dilithium/mode3"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// Suite identifies a negotiated cipher suite, per the GroupContext's
// cipher_suite field.
type Suite uint16

const (
	X25519Kyber768Draft00 Suite = 0x0001
	Curve25519ChaCha Suite = 0x0002
)

// HashSize is the digest size in bytes for every suite in this
// provider (SHA-256 throughout).
const HashSize = sha256.Size

// Provider is the abstract capability set every MLS component depends
// on, corresponding 1:1 to CipherSuiteProvider.
type Provider interface {
	Suite() Suite
	Hash(data []byte) []byte
	MAC(key, data []byte) []byte
	AEADSeal(key, nonce, aad, plaintext []byte) ([]byte, error)
	AEADOpen(key, nonce, aad, ciphertext []byte) ([]byte, error)
	AEADNonceSize() int
	AEADKeySize() int
	HPKESeal(publicKey, info, aad, plaintext []byte) (kemOutput, ciphertext []byte, err error)
	HPKEOpen(privateKey, info, aad, kemOutput, ciphertext []byte) ([]byte, error)
	KDFExtract(salt, ikm []byte) []byte
	KDFExpand(prk, info []byte, length int) ([]byte, error)
	Sign(privateKey, message []byte) ([]byte, error)
	Verify(publicKey, message, signature []byte) bool
	KEMGenerate() (privateKey, publicKey []byte, err error)
	KEMDerive(ikm []byte) (privateKey, publicKey []byte, err error)
	SignatureKeyGenerate() (privateKey, publicKey []byte, err error)
}

// ConstantTimeEqual compares two byte strings in constant time. The
// parent-hash chain and confirmation/membership tag comparisons in
// the framing and tree packages must use this rather than bytes.Equal.
func ConstantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}

// hybridProvider implements Provider for X25519Kyber768Draft00: a
// Kyber768 KEM with Dilithium3 signatures and AES-256-GCM AEAD.
type hybridProvider struct{}

// classicProvider implements Provider for Curve25519ChaCha: pure
// X25519 KEM, Ed25519 signatures, XChaCha20-Poly1305 AEAD.
type classicProvider struct{}

// New returns the Provider implementation for suite.
func New(suite Suite) (Provider, error) {
	switch suite {
	case X25519Kyber768Draft00:
		return hybridProvider{}, nil
	case Curve25519ChaCha:
		return classicProvider{}, nil
	default:
		return nil, fmt.Errorf("ciphersuite: unsupported suite %#04x", uint16(suite))
	}
}

// --- shared helpers -------------------------------------------------

func kdfExtract(salt, ikm []byte) []byte {
	if len(salt) == 0 {
		salt = make([]byte, sha256.Size)
	}
	mac := hmac.New(sha256.New, salt)
	mac.Write(ikm)
	return mac.Sum(nil)
}

func kdfExpand(prk, info []byte, length int) ([]byte, error) {
	r := hkdf.Expand(sha256.New, prk, info)
	out := make([]byte, length)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("ciphersuite: kdf expand: %w", err)
	}
	return out, nil
}

func hashSHA256(data []byte) []byte {
	h := sha256.Sum256(data)
	return h[:]
}

func macHMAC(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

func x25519KeyPair() (priv, pub []byte, err error) {
	priv = make([]byte, curve25519.ScalarSize)
	if _, err = io.ReadFull(rand.Reader, priv); err != nil {
		return nil, nil, fmt.Errorf("ciphersuite: x25519 keygen: %w", err)
	}
	priv[0] &= 248
	priv[31] &= 127
	priv[31] |= 64
	pub, err = curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return nil, nil, fmt.Errorf("ciphersuite: x25519 derive public: %w", err)
	}
	return priv, pub, nil
}

func x25519Derive(ikm []byte) (priv, pub []byte, err error) {
	priv = make([]byte, curve25519.ScalarSize)
	seed := hashSHA256(ikm)
	copy(priv, seed)
	priv[0] &= 248
	priv[31] &= 127
	priv[31] |= 64
	pub, err = curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return nil, nil, fmt.Errorf("ciphersuite: x25519 derive: %w", err)
	}
	return priv, pub, nil
}

// x25519HPKESeal performs a minimal DHKEM(X25519)+HKDF-SHA256 one-shot
// HPKE seal: an ephemeral X25519 key is generated, DH'd against the
// recipient's public key, and the shared secret feeds AEAD key/nonce
// derivation. This is the hand-rolled fallback used by classicProvider
// where circl's HPKE suite registry does not expose a pure-X25519,
// non-Kyber construction.
func x25519HPKESeal(aead cipher.AEAD, nonceSize int, recipientPub, info, aad, plaintext []byte) (kemOutput, ciphertext []byte, err error) {
	ephPriv, ephPub, err := x25519KeyPair()
	if err != nil {
		return nil, nil, err
	}
	shared, err := curve25519.X25519(ephPriv, recipientPub)
	if err != nil {
		return nil, nil, fmt.Errorf("ciphersuite: hpke dh: %w", err)
	}
	key, nonce, err := hpkeKeySchedule(shared, ephPub, recipientPub, info, aead.Overhead(), nonceSize)
	if err != nil {
		return nil, nil, err
	}
	box, err := aeadFromKey(key, aead)
	if err != nil {
		return nil, nil, err
	}
	ct := box.Seal(nil, nonce, plaintext, aad)
	return ephPub, ct, nil
}

func x25519HPKEOpen(aead cipher.AEAD, nonceSize int, recipientPriv, recipientPub, info, aad, kemOutput, ciphertext []byte) ([]byte, error) {
	shared, err := curve25519.X25519(recipientPriv, kemOutput)
	if err != nil {
		return nil, fmt.Errorf("ciphersuite: hpke dh: %w", err)
	}
	key, nonce, err := hpkeKeySchedule(shared, kemOutput, recipientPub, info, aead.Overhead(), nonceSize)
	if err != nil {
		return nil, err
	}
	box, err := aeadFromKey(key, aead)
	if err != nil {
		return nil, err
	}
	pt, err := box.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("ciphersuite: hpke open failed: %w", err)
	}
	return pt, nil
}

// hpkeKeySchedule derives an AEAD key and base nonce from a KEM shared
// secret, following the Extract-then-Expand shape of RFC 9180 §5.1
// without the full context-string ceremony: the cipher suite
// identifier is not mixed in. The extract salt is kemOutput followed
// by recipientPub, and the key and nonce expansions use the
// "hpke-key"/"hpke-nonce" labels followed by the caller's `info`.
func hpkeKeySchedule(shared, kemOutput, recipientPub, info []byte, _ int, nonceSize int) (key, nonce []byte, err error) {
	salt := append(append([]byte{}, kemOutput...), recipientPub...)
	prk := kdfExtract(salt, shared)
	key, err = kdfExpand(prk, append([]byte("hpke-key"), info...), 32)
	if err != nil {
		return nil, nil, err
	}
	nonce, err = kdfExpand(prk, append([]byte("hpke-nonce"), info...), nonceSize)
	if err != nil {
		return nil, nil, err
	}
	return key, nonce, nil
}

func aeadFromKey(key []byte, like cipher.AEAD) (cipher.AEAD, error) {
	switch like.NonceSize() {
	case 12:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("ciphersuite: aes cipher: %w", err)
		}
		return cipher.NewGCM(block)
	default:
		return chacha20poly1305.NewX(key)
	}
}

// --- hybridProvider ---------------------------------------------------

func (hybridProvider) Suite() Suite { return X25519Kyber768Draft00 }

func (hybridProvider) Hash(data []byte) []byte { return hashSHA256(data) }

func (hybridProvider) MAC(key, data []byte) []byte { return macHMAC(key, data) }

func (hybridProvider) AEADKeySize() int { return 32 }
func (hybridProvider) AEADNonceSize() int { return 12 }

func (hybridProvider) AEADSeal(key, nonce, aad, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("ciphersuite: aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("ciphersuite: gcm init: %w", err)
	}
	return gcm.Seal(nil, nonce, plaintext, aad), nil
}

func (hybridProvider) AEADOpen(key, nonce, aad, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("ciphersuite: aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("ciphersuite: gcm init: %w", err)
	}
	pt, err := gcm.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("ciphersuite: aead open failed: %w", err)
	}
	return pt, nil
}

// HPKESeal encapsulates to a Kyber768 KEM public key and seals
// plaintext under the resulting shared secret with AES-256-GCM,
// following the same Encapsulate-then-AEAD shape as the teacher's
// sealed-sender envelope construction in internal/crypto/pqc.go.
func (hybridProvider) HPKESeal(publicKey, info, aad, plaintext []byte) ([]byte, []byte, error) {
	if len(publicKey) != kyber768.PublicKeySize {
		return nil, nil, fmt.Errorf("ciphersuite: invalid kyber768 public key size %d", len(publicKey))
	}
	var pk kyber768.PublicKey
	pk.Unpack(publicKey)

	ct := make([]byte, kyber768.CiphertextSize)
	shared := make([]byte, kyber768.SharedKeySize)
	pk.EncapsulateTo(ct, shared, nil)

	prk := kdfExtract(nil, shared)
	key, err := kdfExpand(prk, append([]byte("hpke-key"), info...), 32)
	if err != nil {
		return nil, nil, err
	}
	nonce, err := kdfExpand(prk, append([]byte("hpke-nonce"), info...), 12)
	if err != nil {
		return nil, nil, err
	}
	sealed, err := hybridProvider{}.AEADSeal(key, nonce, aad, plaintext)
	if err != nil {
		return nil, nil, err
	}
	return ct, sealed, nil
}

func (hybridProvider) HPKEOpen(privateKey, info, aad, kemOutput, ciphertext []byte) ([]byte, error) {
	if len(privateKey) != kyber768.PrivateKeySize {
		return nil, fmt.Errorf("ciphersuite: invalid kyber768 private key size %d", len(privateKey))
	}
	var sk kyber768.PrivateKey
	sk.Unpack(privateKey)

	shared := make([]byte, kyber768.SharedKeySize)
	sk.DecapsulateTo(shared, kemOutput)

	prk := kdfExtract(nil, shared)
	key, err := kdfExpand(prk, append([]byte("hpke-key"), info...), 32)
	if err != nil {
		return nil, err
	}
	nonce, err := kdfExpand(prk, append([]byte("hpke-nonce"), info...), 12)
	if err != nil {
		return nil, err
	}
	return hybridProvider{}.AEADOpen(key, nonce, aad, ciphertext)
}

func (hybridProvider) KDFExtract(salt, ikm []byte) []byte { return kdfExtract(salt, ikm) }

func (hybridProvider) KDFExpand(prk, info []byte, length int) ([]byte, error) {
	return kdfExpand(prk, info, length)
}

func (hybridProvider) Sign(privateKey, message []byte) ([]byte, error) {
	if len(privateKey) != mode3.PrivateKeySize {
		return nil, fmt.Errorf("ciphersuite: invalid dilithium3 private key size %d", len(privateKey))
	}
	var sk mode3.PrivateKey
	var arr [mode3.PrivateKeySize]byte
	copy(arr[:], privateKey)
	sk.Unpack(&arr)

	sig := make([]byte, mode3.SignatureSize)
	mode3.SignTo(&sk, message, sig)
	return sig, nil
}

func (hybridProvider) Verify(publicKey, message, signature []byte) bool {
	if len(publicKey) != mode3.PublicKeySize || len(signature) != mode3.SignatureSize {
		return false
	}
	var pk mode3.PublicKey
	var arr [mode3.PublicKeySize]byte
	copy(arr[:], publicKey)
	pk.Unpack(&arr)
	return mode3.Verify(&pk, message, signature)
}

func (hybridProvider) KEMGenerate() ([]byte, []byte, error) {
	pub, priv, err := kyber768.GenerateKeyPair(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("ciphersuite: kyber768 keygen: %w", err)
	}
	pubBytes := make([]byte, kyber768.PublicKeySize)
	privBytes := make([]byte, kyber768.PrivateKeySize)
	pub.Pack(pubBytes)
	priv.Pack(privBytes)
	return privBytes, pubBytes, nil
}

func (hybridProvider) KEMDerive(ikm []byte) ([]byte, []byte, error) {
	seed := hashSHA256(ikm)
	expanded, err := kdfExpand(kdfExtract(nil, seed), []byte("kyber768-seed"), kyber768.KeySeedSize)
	if err != nil {
		return nil, nil, err
	}
	pub, priv := kyber768.NewKeyFromSeed(expanded)
	pubBytes := make([]byte, kyber768.PublicKeySize)
	privBytes := make([]byte, kyber768.PrivateKeySize)
	pub.Pack(pubBytes)
	priv.Pack(privBytes)
	return privBytes, pubBytes, nil
}

func (hybridProvider) SignatureKeyGenerate() ([]byte, []byte, error) {
	pub, priv, err := mode3.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("ciphersuite: dilithium3 keygen: %w", err)
	}
	return priv.Bytes(), pub.Bytes(), nil
}

// --- classicProvider ---------------------------------------------------

func (classicProvider) Suite() Suite { return Curve25519ChaCha }

func (classicProvider) Hash(data []byte) []byte { return hashSHA256(data) }

func (classicProvider) MAC(key, data []byte) []byte { return macHMAC(key, data) }

func (classicProvider) AEADKeySize() int { return chacha20poly1305.KeySize }
func (classicProvider) AEADNonceSize() int { return chacha20poly1305.NonceSizeX }

func (classicProvider) AEADSeal(key, nonce, aad, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("ciphersuite: xchacha20poly1305 init: %w", err)
	}
	return aead.Seal(nil, nonce, plaintext, aad), nil
}

func (classicProvider) AEADOpen(key, nonce, aad, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("ciphersuite: xchacha20poly1305 init: %w", err)
	}
	pt, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("ciphersuite: aead open failed: %w", err)
	}
	return pt, nil
}

func (classicProvider) HPKESeal(publicKey, info, aad, plaintext []byte) ([]byte, []byte, error) {
	if len(publicKey) != curve25519.PointSize {
		return nil, nil, fmt.Errorf("ciphersuite: invalid x25519 public key size %d", len(publicKey))
	}
	aead, err := chacha20poly1305.NewX(make([]byte, chacha20poly1305.KeySize))
	if err != nil {
		return nil, nil, err
	}
	return x25519HPKESeal(aead, chacha20poly1305.NonceSizeX, publicKey, info, aad, plaintext)
}

func (classicProvider) HPKEOpen(privateKey, info, aad, kemOutput, ciphertext []byte) ([]byte, error) {
	if len(privateKey) != curve25519.ScalarSize {
		return nil, fmt.Errorf("ciphersuite: invalid x25519 private key size %d", len(privateKey))
	}
	pub, err := curve25519.X25519(privateKey, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("ciphersuite: derive public from private: %w", err)
	}
	aead, err := chacha20poly1305.NewX(make([]byte, chacha20poly1305.KeySize))
	if err != nil {
		return nil, err
	}
	return x25519HPKEOpen(aead, chacha20poly1305.NonceSizeX, privateKey, pub, info, aad, kemOutput, ciphertext)
}

func (classicProvider) KDFExtract(salt, ikm []byte) []byte { return kdfExtract(salt, ikm) }

func (classicProvider) KDFExpand(prk, info []byte, length int) ([]byte, error) {
	return kdfExpand(prk, info, length)
}

func (classicProvider) Sign(privateKey, message []byte) ([]byte, error) {
	if len(privateKey) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("ciphersuite: invalid ed25519 private key size %d", len(privateKey))
	}
	return ed25519.Sign(ed25519.PrivateKey(privateKey), message), nil
}

func (classicProvider) Verify(publicKey, message, signature []byte) bool {
	if len(publicKey) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(publicKey), message, signature)
}

func (classicProvider) KEMGenerate() ([]byte, []byte, error) {
	priv, pub, err := x25519KeyPair()
	if err != nil {
		return nil, nil, err
	}
	return priv, pub, nil
}

func (classicProvider) KEMDerive(ikm []byte) ([]byte, []byte, error) {
	priv, pub, err := x25519Derive(ikm)
	if err != nil {
		return nil, nil, err
	}
	return priv, pub, nil
}

func (classicProvider) SignatureKeyGenerate() ([]byte, []byte, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("ciphersuite: ed25519 keygen: %w", err)
	}
	return priv, pub, nil
}
