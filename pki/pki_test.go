package pki

import (
	"os"
	"testing"

	"github.com/mosaicnetworks/consilium/cell"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	h := cell.HashOf([]byte("some order"))
	sig := kp.Sign(h)
	if !Verify(kp.PublicKeyBytes(), h, sig) {
		t.Fatal("signature failed to verify against its own public key")
	}
}

func TestVerifyRejectsTamperedHash(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	h := cell.HashOf([]byte("some order"))
	sig := kp.Sign(h)
	other := cell.HashOf([]byte("different order"))
	if Verify(kp.PublicKeyBytes(), other, sig) {
		t.Fatal("signature verified against a different hash")
	}
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	kp1, _ := GenerateKeyPair()
	kp2, _ := GenerateKeyPair()
	h := cell.HashOf([]byte("some order"))
	sig := kp1.Sign(h)
	if Verify(kp2.PublicKeyBytes(), h, sig) {
		t.Fatal("signature verified against the wrong public key")
	}
}

func TestAccountKeyDeterministic(t *testing.T) {
	kp, _ := GenerateKeyPair()
	a1 := kp.AccountKey()
	a2, err := AccountKeyFromBytes(kp.PublicKeyBytes())
	if err != nil {
		t.Fatalf("from bytes: %v", err)
	}
	if a1 != a2 {
		t.Fatal("AccountKey derivation inconsistent")
	}
}

func TestKeyFileRoundTrip(t *testing.T) {
	dir, err := os.MkdirTemp("", "pki-keyfile")
	if err != nil {
		t.Fatalf("mkdtemp: %v", err)
	}
	defer os.RemoveAll(dir)

	kf := NewKeyFile(dir)
	if kp, err := kf.ReadKeyPair(); err != nil || kp != nil {
		t.Fatalf("expected no keyfile yet: kp=%v err=%v", kp, err)
	}

	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if err := kf.SaveKeyPair(kp); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := kf.ReadKeyPair()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if loaded == nil {
		t.Fatal("expected keypair after save")
	}
	if loaded.AccountKey() != kp.AccountKey() {
		t.Fatal("loaded keypair has different AccountKey")
	}
}
