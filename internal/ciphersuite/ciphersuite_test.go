package ciphersuite

import (
	"bytes"
	"testing"
)

func TestConstantTimeEqual(t *testing.T) {
	if !ConstantTimeEqual([]byte("abc"), []byte("abc")) {
		t.Fatal("expected equal byte strings to compare equal")
	}
	if ConstantTimeEqual([]byte("abc"), []byte("abd")) {
		t.Fatal("expected differing byte strings to compare unequal")
	}
	if ConstantTimeEqual([]byte("abc"), []byte("ab")) {
		t.Fatal("expected differing lengths to compare unequal")
	}
}

func TestClassicProviderAEADRoundTrip(t *testing.T) {
	p, err := New(Curve25519ChaCha)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	key := bytes.Repeat([]byte{0x11}, p.AEADKeySize())
	nonce := bytes.Repeat([]byte{0x22}, p.AEADNonceSize())
	aad := []byte("group context")
	plaintext := []byte("hello group")

	ct, err := p.AEADSeal(key, nonce, aad, plaintext)
	if err != nil {
		t.Fatalf("AEADSeal: %v", err)
	}
	pt, err := p.AEADOpen(key, nonce, aad, ct)
	if err != nil {
		t.Fatalf("AEADOpen: %v", err)
	}
	if !bytes.Equal(pt, plaintext) {
		t.Fatalf("round trip mismatch: got %q want %q", pt, plaintext)
	}

	if _, err := p.AEADOpen(key, nonce, []byte("wrong aad"), ct); err == nil {
		t.Fatal("expected AEADOpen to fail with mismatched aad")
	}
}

func TestClassicProviderHPKERoundTrip(t *testing.T) {
	p, err := New(Curve25519ChaCha)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	priv, pub, err := p.KEMGenerate()
	if err != nil {
		t.Fatalf("KEMGenerate: %v", err)
	}
	info := []byte("info")
	aad := []byte("aad")
	plaintext := []byte("path secret material")

	kemOut, ct, err := p.HPKESeal(pub, info, aad, plaintext)
	if err != nil {
		t.Fatalf("HPKESeal: %v", err)
	}
	pt, err := p.HPKEOpen(priv, info, aad, kemOut, ct)
	if err != nil {
		t.Fatalf("HPKEOpen: %v", err)
	}
	if !bytes.Equal(pt, plaintext) {
		t.Fatalf("hpke round trip mismatch: got %q want %q", pt, plaintext)
	}
}

func TestClassicProviderKEMDeriveDeterministic(t *testing.T) {
	p, err := New(Curve25519ChaCha)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	seed := []byte("some path secret")
	priv1, pub1, err := p.KEMDerive(seed)
	if err != nil {
		t.Fatalf("KEMDerive: %v", err)
	}
	priv2, pub2, err := p.KEMDerive(seed)
	if err != nil {
		t.Fatalf("KEMDerive: %v", err)
	}
	if !bytes.Equal(priv1, priv2) || !bytes.Equal(pub1, pub2) {
		t.Fatal("expected KEMDerive to be deterministic given the same seed")
	}
}

func TestClassicProviderSignVerify(t *testing.T) {
	p, err := New(Curve25519ChaCha)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	priv, pub, err := p.SignatureKeyGenerate()
	if err != nil {
		t.Fatalf("SignatureKeyGenerate: %v", err)
	}
	msg := []byte("sign me")
	sig, err := p.Sign(priv, msg)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !p.Verify(pub, msg, sig) {
		t.Fatal("expected signature to verify")
	}
	if p.Verify(pub, []byte("tampered"), sig) {
		t.Fatal("expected signature over different content to fail verification")
	}
}

func TestKDFExpandDeterministic(t *testing.T) {
	p, err := New(Curve25519ChaCha)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	prk := p.KDFExtract(nil, []byte("ikm"))
	a, err := p.KDFExpand(prk, []byte("info"), 32)
	if err != nil {
		t.Fatalf("KDFExpand: %v", err)
	}
	b, err := p.KDFExpand(prk, []byte("info"), 32)
	if err != nil {
		t.Fatalf("KDFExpand: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatal("expected KDFExpand to be deterministic for identical inputs")
	}
	c, err := p.KDFExpand(prk, []byte("other info"), 32)
	if err != nil {
		t.Fatalf("KDFExpand: %v", err)
	}
	if bytes.Equal(a, c) {
		t.Fatal("expected different info strings to yield different output")
	}
}

func TestNewUnsupportedSuite(t *testing.T) {
	if _, err := New(Suite(0xffff)); err == nil {
		t.Fatal("expected an error for an unsupported cipher suite")
	}
}
