package identity

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryProviderRegisterValidateRoundTrip(t *testing.T) {
	p := NewMemoryProvider()
	ctx := context.Background()
	credential := []byte("alice")
	sigKey := []byte("sig-key-alice")

	if _, err := p.Register(ctx, credential, sigKey); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := p.Validate(ctx, credential, sigKey); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestMemoryProviderValidateUnknownCredential(t *testing.T) {
	p := NewMemoryProvider()
	ctx := context.Background()
	if err := p.Validate(ctx, []byte("nobody"), []byte("key")); !errors.Is(err, ErrCredentialNotFound) {
		t.Fatalf("Validate = %v, want ErrCredentialNotFound", err)
	}
}

func TestMemoryProviderValidateSignatureKeyMismatch(t *testing.T) {
	p := NewMemoryProvider()
	ctx := context.Background()
	credential := []byte("alice")
	if _, err := p.Register(ctx, credential, []byte("real-key")); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := p.Validate(ctx, credential, []byte("wrong-key")); !errors.Is(err, ErrSignatureKeyMismatch) {
		t.Fatalf("Validate = %v, want ErrSignatureKeyMismatch", err)
	}
}

func TestMemoryProviderRevokeThenValidateFails(t *testing.T) {
	p := NewMemoryProvider()
	ctx := context.Background()
	credential := []byte("alice")
	sigKey := []byte("sig-key-alice")
	if _, err := p.Register(ctx, credential, sigKey); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := p.Revoke(ctx, credential); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if err := p.Validate(ctx, credential, sigKey); !errors.Is(err, ErrMemberRevoked) {
		t.Fatalf("Validate = %v, want ErrMemberRevoked", err)
	}
}

func TestMemoryProviderRevokeUnknownCredential(t *testing.T) {
	p := NewMemoryProvider()
	ctx := context.Background()
	if err := p.Revoke(ctx, []byte("nobody")); !errors.Is(err, ErrCredentialNotFound) {
		t.Fatalf("Revoke = %v, want ErrCredentialNotFound", err)
	}
}
