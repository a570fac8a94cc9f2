package mlserrors

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorMessageWithAndWithoutCause(t *testing.T) {
	plain := New(InvalidEpoch, "wrong epoch")
	if plain.Error() == "" {
		t.Fatal("expected a non-empty error message")
	}

	cause := fmt.Errorf("underlying failure")
	wrapped := Wrap(CryptoProviderError, "deriving key", cause)
	if wrapped.Unwrap() != cause {
		t.Fatal("expected Unwrap to return the original cause")
	}
	if !errors.Is(wrapped, cause) {
		t.Fatal("expected errors.Is to find the wrapped cause via Unwrap")
	}
}

func TestErrorIsMatchesByCodeOnly(t *testing.T) {
	a := New(ParentHashMismatch, "first message")
	b := New(ParentHashMismatch, "different message entirely")
	if !errors.Is(a, b) {
		t.Fatal("expected two errors with the same code to match via errors.Is")
	}

	c := New(ParentHashNotFound, "first message")
	if errors.Is(a, c) {
		t.Fatal("expected errors with different codes not to match")
	}
}

func TestMissingProposalReferenceErr(t *testing.T) {
	err := MissingProposalReferenceErr("abcd")
	if err.Code != MissingProposalReference {
		t.Fatalf("Code = %v, want %v", err.Code, MissingProposalReference)
	}
}
