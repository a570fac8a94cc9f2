package keyschedule

import (
	"bytes"
	"testing"

	"github.com/kindlyrobotics/mlsengine/internal/ciphersuite"
)

func testProvider(t *testing.T) ciphersuite.Provider {
	t.Helper()
	p, err := ciphersuite.New(ciphersuite.Curve25519ChaCha)
	if err != nil {
		t.Fatalf("ciphersuite.New: %v", err)
	}
	return p
}

func TestDeriveProducesDistinctSecrets(t *testing.T) {
	p := testProvider(t)
	initSecret := bytes.Repeat([]byte{0x01}, ciphersuite.HashSize)
	commitSecret := bytes.Repeat([]byte{0x02}, ciphersuite.HashSize)
	groupContext := []byte("group context bytes")

	epoch, initNext, err := Derive(p, initSecret, commitSecret, nil, groupContext)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}

	secrets := [][]byte{
		epoch.JoinerSecret, epoch.WelcomeSecret, epoch.MemberSecret,
		epoch.SenderDataSecret, epoch.EncryptionSecret, epoch.ExporterSecret,
		epoch.ExternalSecret, epoch.ConfirmationKey, epoch.MembershipKey,
		epoch.ResumptionSecret, epoch.EpochAuthenticator, initNext,
	}
	for i := range secrets {
		for j := i + 1; j < len(secrets); j++ {
			if bytes.Equal(secrets[i], secrets[j]) {
				t.Fatalf("secrets %d and %d unexpectedly equal: %x", i, j, secrets[i])
			}
		}
	}

	if epoch.SecretTreeRoot == nil {
		t.Fatal("expected Derive to build a SecretTree")
	}
}

func TestDeriveDeterministic(t *testing.T) {
	p := testProvider(t)
	initSecret := bytes.Repeat([]byte{0x03}, ciphersuite.HashSize)
	commitSecret := bytes.Repeat([]byte{0x04}, ciphersuite.HashSize)
	groupContext := []byte("context")

	e1, _, err := Derive(p, initSecret, commitSecret, nil, groupContext)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	e2, _, err := Derive(p, initSecret, commitSecret, nil, groupContext)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	if !bytes.Equal(e1.MemberSecret, e2.MemberSecret) {
		t.Fatal("expected identical inputs to derive identical member secrets")
	}
}

func TestSenderDataParamsSizes(t *testing.T) {
	p := testProvider(t)
	senderDataSecret := bytes.Repeat([]byte{0x05}, ciphersuite.HashSize)
	sample := []byte{1, 2, 3, 4}

	key, nonce, err := SenderDataParams(p, senderDataSecret, sample)
	if err != nil {
		t.Fatalf("SenderDataParams: %v", err)
	}
	if len(key) != p.AEADKeySize() {
		t.Fatalf("key length = %d, want %d", len(key), p.AEADKeySize())
	}
	if len(nonce) != p.AEADNonceSize() {
		t.Fatalf("nonce length = %d, want %d", len(nonce), p.AEADNonceSize())
	}

	key2, nonce2, err := SenderDataParams(p, senderDataSecret, []byte{9, 9, 9, 9})
	if err != nil {
		t.Fatalf("SenderDataParams: %v", err)
	}
	if bytes.Equal(key, key2) || bytes.Equal(nonce, nonce2) {
		t.Fatal("expected different ciphertext samples to yield different key/nonce")
	}
}

func TestReuseGuardNonceXorsLowOrderBytes(t *testing.T) {
	nonce := []byte{0, 0, 0, 0, 0xff, 0xff}
	guard := []byte{1, 2, 3, 4}
	out := ReuseGuardNonce(nonce, guard)
	want := []byte{1, 2, 3, 4, 0xff, 0xff}
	if !bytes.Equal(out, want) {
		t.Fatalf("ReuseGuardNonce = %x, want %x", out, want)
	}
	if bytes.Equal(nonce, out) {
		t.Fatal("expected ReuseGuardNonce not to mutate a zero-guard region identically")
	}
}

func TestSecretTreeRatchetsAdvanceAndDiffer(t *testing.T) {
	p := testProvider(t)
	encSecret := bytes.Repeat([]byte{0x06}, ciphersuite.HashSize)
	st, err := NewSecretTree(p, encSecret)
	if err != nil {
		t.Fatalf("NewSecretTree: %v", err)
	}
	st.SetNumLeaves(4)

	k0, n0, err := st.ApplicationKey(0, 0)
	if err != nil {
		t.Fatalf("ApplicationKey(0,0): %v", err)
	}
	k1, n1, err := st.ApplicationKey(0, 1)
	if err != nil {
		t.Fatalf("ApplicationKey(0,1): %v", err)
	}
	if bytes.Equal(k0, k1) || bytes.Equal(n0, n1) {
		t.Fatal("expected successive generations to yield distinct key/nonce pairs")
	}

	otherLeaf, _, err := st.ApplicationKey(1, 0)
	if err != nil {
		t.Fatalf("ApplicationKey(1,0): %v", err)
	}
	if bytes.Equal(k0, otherLeaf) {
		t.Fatal("expected distinct leaves to derive distinct ratchet secrets")
	}

	hk, hn, err := st.HandshakeKey(0, 0)
	if err != nil {
		t.Fatalf("HandshakeKey(0,0): %v", err)
	}
	if bytes.Equal(hk, k0) || bytes.Equal(hn, n0) {
		t.Fatal("expected the handshake ratchet to be independent of the application ratchet")
	}
}
