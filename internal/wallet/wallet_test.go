package wallet

import (
	"path/filepath"
	"testing"

	"github.com/spirachain/validator/internal/crypto"
)

func TestSaveAndLoadPlaintext(t *testing.T) {
	w, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	path := filepath.Join(t.TempDir(), "wallet.json")
	if err := w.Save(path, ""); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Address != w.Address {
		t.Fatal("loaded address does not match the original wallet")
	}
	if loaded.SecretKey != w.SecretKey {
		t.Fatal("loaded secret key does not match the original wallet")
	}
}

func TestSaveAndLoadEncrypted(t *testing.T) {
	w, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	path := filepath.Join(t.TempDir(), "wallet.json")
	if err := w.Save(path, "correct horse battery staple"); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path, "correct horse battery staple")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.SecretKey != w.SecretKey {
		t.Fatal("decrypted secret key does not match the original wallet")
	}
}

func TestLoadEncryptedWithoutPassphraseFails(t *testing.T) {
	w, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	path := filepath.Join(t.TempDir(), "wallet.json")
	if err := w.Save(path, "hunter2"); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if _, err := Load(path, ""); err == nil {
		t.Fatal("expected loading an encrypted wallet without a passphrase to fail")
	}
}

func TestLoadEncryptedWithWrongPassphraseFails(t *testing.T) {
	w, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	path := filepath.Join(t.TempDir(), "wallet.json")
	if err := w.Save(path, "hunter2"); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if _, err := Load(path, "wrong passphrase"); err == nil {
		t.Fatal("expected loading with the wrong passphrase to fail")
	}
}

func TestKeyPairRoundTripsSignatures(t *testing.T) {
	w, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	message := []byte("spirachain wallet signing test")
	sig := w.KeyPair().Sign(message)
	if len(sig) != 64 {
		t.Fatalf("signature length = %d, want 64", len(sig))
	}
	if !crypto.Verify(w.PublicKey, message, sig) {
		t.Fatal("signature from the wallet's keypair does not verify against its public key")
	}
}
