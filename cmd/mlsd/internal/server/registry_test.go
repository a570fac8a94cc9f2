package server

import (
	"testing"

	"github.com/google/uuid"
	"github.com/kindlyrobotics/mlsengine/internal/ciphersuite"
	"github.com/kindlyrobotics/mlsengine/internal/mls/group"
)

func testGroup(t *testing.T) *group.Group {
	t.Helper()
	p, err := ciphersuite.New(ciphersuite.Curve25519ChaCha)
	if err != nil {
		t.Fatalf("ciphersuite.New: %v", err)
	}
	kemPriv, kemPub, err := p.KEMGenerate()
	if err != nil {
		t.Fatalf("KEMGenerate: %v", err)
	}
	sigPriv, sigPub, err := p.SignatureKeyGenerate()
	if err != nil {
		t.Fatalf("SignatureKeyGenerate: %v", err)
	}
	g, err := group.Create(p, []byte("group"), group.CreatorKeyPackage{
		KeyPackagePublicKey: kemPub,
		KeyPackagePrivateKey: kemPriv,
		SignaturePublicKey: sigPub,
		SignaturePrivateKey: sigPriv,
		Credential: []byte("alice"),
	})
	if err != nil {
		t.Fatalf("group.Create: %v", err)
	}
	return g
}

func TestRegistryPutGetDelete(t *testing.T) {
	r := NewRegistry()
	id := uuid.New()

	if _, ok := r.Get(id); ok {
		t.Fatal("expected an empty registry to have nothing registered")
	}

	g := testGroup(t)
	r.Put(id, g)
	got, ok := r.Get(id)
	if !ok || got != g {
		t.Fatal("expected Get to return the group just Put")
	}

	r.Delete(id)
	if _, ok := r.Get(id); ok {
		t.Fatal("expected Get to fail after Delete")
	}
}
