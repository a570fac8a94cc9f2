package framing

import (
	"bytes"
	"testing"

	"github.com/kindlyrobotics/mlsengine/internal/ciphersuite"
	"github.com/kindlyrobotics/mlsengine/internal/mls/keyschedule"
)

func testProvider(t *testing.T) ciphersuite.Provider {
	t.Helper()
	p, err := ciphersuite.New(ciphersuite.Curve25519ChaCha)
	if err != nil {
		t.Fatalf("ciphersuite.New: %v", err)
	}
	return p
}

func TestMLSPlaintextSignVerify(t *testing.T) {
	p := testProvider(t)
	priv, pub, err := p.SignatureKeyGenerate()
	if err != nil {
		t.Fatalf("SignatureKeyGenerate: %v", err)
	}
	groupContext := []byte("ctx")

	pt := &MLSPlaintext{
		GroupID: []byte("group"),
		Epoch: 3,
		Sender: Sender{Type: SenderMember, Leaf: 1},
		ContentType: ContentApplication,
		Content: []byte("hello"),
	}
	if err := pt.Sign(p, groupContext, priv); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := pt.VerifySignature(p, groupContext, pub); err != nil {
		t.Fatalf("VerifySignature: %v", err)
	}

	pt.Content = []byte("tampered")
	if err := pt.VerifySignature(p, groupContext, pub); err == nil {
		t.Fatal("expected signature verification to fail after content is tampered with")
	}
}

func TestMLSPlaintextMembershipTag(t *testing.T) {
	p := testProvider(t)
	membershipKey := bytes.Repeat([]byte{0x07}, ciphersuite.HashSize)
	groupContext := []byte("ctx")

	pt := &MLSPlaintext{
		GroupID: []byte("group"),
		Epoch: 1,
		Sender: Sender{Type: SenderMember, Leaf: 0},
		ContentType: ContentCommit,
		Content: []byte("commit content"),
		Signature: []byte("sig"),
	}
	pt.ApplyMembershipTag(p, groupContext, membershipKey)
	if err := pt.VerifyMembershipTag(p, groupContext, membershipKey); err != nil {
		t.Fatalf("VerifyMembershipTag: %v", err)
	}

	wrongKey := bytes.Repeat([]byte{0x08}, ciphersuite.HashSize)
	if err := pt.VerifyMembershipTag(p, groupContext, wrongKey); err == nil {
		t.Fatal("expected membership tag verification to fail under the wrong key")
	}
}

func TestMembershipTagSkippedForNonMemberSender(t *testing.T) {
	p := testProvider(t)
	pt := &MLSPlaintext{Sender: Sender{Type: SenderExternal}}
	if err := pt.VerifyMembershipTag(p, nil, nil); err != nil {
		t.Fatalf("expected no membership tag check for a non-member sender, got %v", err)
	}
}

func TestConfirmationTagRoundTrip(t *testing.T) {
	p := testProvider(t)
	confirmationKey := bytes.Repeat([]byte{0x09}, ciphersuite.HashSize)
	confirmedHash := []byte("confirmed transcript hash")

	tag := ConfirmationTag(p, confirmationKey, confirmedHash)
	if err := VerifyConfirmationTag(p, confirmationKey, confirmedHash, tag); err != nil {
		t.Fatalf("VerifyConfirmationTag: %v", err)
	}
	if err := VerifyConfirmationTag(p, confirmationKey, []byte("different hash"), tag); err == nil {
		t.Fatal("expected confirmation tag verification to fail against a different transcript hash")
	}
}

func TestCheckEpoch(t *testing.T) {
	if err := CheckEpoch(5, 5); err != nil {
		t.Fatalf("expected matching epochs to pass, got %v", err)
	}
	if err := CheckEpoch(4, 5); err == nil {
		t.Fatal("expected a stale epoch to be rejected")
	}
	if err := CheckEpoch(6, 5); err == nil {
		t.Fatal("expected a future epoch to be rejected")
	}
}

func TestEncryptDecryptContentRoundTrip(t *testing.T) {
	p := testProvider(t)
	encSecret := bytes.Repeat([]byte{0x0a}, ciphersuite.HashSize)
	senderDataSecret := bytes.Repeat([]byte{0x0b}, ciphersuite.HashSize)

	senderTree, err := keyschedule.NewSecretTree(p, encSecret)
	if err != nil {
		t.Fatalf("NewSecretTree: %v", err)
	}
	senderTree.SetNumLeaves(2)
	receiverTree, err := keyschedule.NewSecretTree(p, encSecret)
	if err != nil {
		t.Fatalf("NewSecretTree: %v", err)
	}
	receiverTree.SetNumLeaves(2)

	aad := []byte("group aad")
	content := []byte("application message")
	var reuseGuard [4]byte
	copy(reuseGuard[:], []byte{1, 2, 3, 4})

	ct, err := EncryptContent(p, senderTree, senderDataSecret, ContentApplication, 0, 0, aad, content, reuseGuard)
	if err != nil {
		t.Fatalf("EncryptContent: %v", err)
	}

	pt, leaf, err := DecryptContent(p, receiverTree, senderDataSecret, ct)
	if err != nil {
		t.Fatalf("DecryptContent: %v", err)
	}
	if !bytes.Equal(pt, content) {
		t.Fatalf("decrypted content = %q, want %q", pt, content)
	}
	if leaf != 0 {
		t.Fatalf("sender leaf = %d, want 0", leaf)
	}
}

func TestEncryptContentAdvancesGeneration(t *testing.T) {
	p := testProvider(t)
	encSecret := bytes.Repeat([]byte{0x0c}, ciphersuite.HashSize)
	senderDataSecret := bytes.Repeat([]byte{0x0d}, ciphersuite.HashSize)

	senderTree, err := keyschedule.NewSecretTree(p, encSecret)
	if err != nil {
		t.Fatalf("NewSecretTree: %v", err)
	}
	senderTree.SetNumLeaves(2)
	receiverTree, err := keyschedule.NewSecretTree(p, encSecret)
	if err != nil {
		t.Fatalf("NewSecretTree: %v", err)
	}
	receiverTree.SetNumLeaves(2)

	var guard [4]byte
	ct0, err := EncryptContent(p, senderTree, senderDataSecret, ContentApplication, 0, 0, nil, []byte("first"), guard)
	if err != nil {
		t.Fatalf("EncryptContent gen 0: %v", err)
	}
	ct1, err := EncryptContent(p, senderTree, senderDataSecret, ContentApplication, 0, 1, nil, []byte("second"), guard)
	if err != nil {
		t.Fatalf("EncryptContent gen 1: %v", err)
	}

	pt0, _, err := DecryptContent(p, receiverTree, senderDataSecret, ct0)
	if err != nil {
		t.Fatalf("DecryptContent gen 0: %v", err)
	}
	pt1, _, err := DecryptContent(p, receiverTree, senderDataSecret, ct1)
	if err != nil {
		t.Fatalf("DecryptContent gen 1: %v", err)
	}
	if string(pt0) != "first" || string(pt1) != "second" {
		t.Fatalf("unexpected decrypted contents: %q, %q", pt0, pt1)
	}
}
