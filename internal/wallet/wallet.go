// Package wallet reads and writes the validator's persistent identity
// file: a JSON document holding the address, the classical public key,
// and the secret key, the latter optionally passphrase-encrypted at
// rest. This is deliberately a thin format, not a full key-management
// service — multi-account wallets and hardware-key support are out of
// scope for a single-identity validator node.
package wallet

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/argon2"

	"github.com/spirachain/validator/internal/crypto"
	"github.com/spirachain/validator/internal/primitives"
)

// Argon2id parameters for passphrase-based key wrapping. These favor a
// validator's one-time unlock cost over throughput; there is no
// high-frequency unlock path in this node.
const (
	argon2Time    = 3
	argon2Memory  = 64 * 1024 // KiB
	argon2Threads = 4
	argon2KeyLen  = 32
)

// saltSize is the random salt length fed to Argon2id.
const saltSize = 16

// file is the on-disk JSON shape. SecretKey holds the raw 32-byte secret
// in hex when Encrypted is false, or the AES-256-GCM sealed form
// (nonce-prefixed, per internal/crypto.Encrypt) when true.
type file struct {
	Address   string `json:"address"`
	PublicKey string `json:"public_key"`
	SecretKey string `json:"secret_key"`

	Encrypted bool   `json:"encrypted,omitempty"`
	KDFSalt   string `json:"kdf_salt,omitempty"`
}

// Wallet holds a validator's classical keypair and its derived address,
// decrypted and ready to sign.
type Wallet struct {
	Address   primitives.Address
	PublicKey [32]byte
	SecretKey [32]byte
}

// New generates a fresh random wallet.
func New() (*Wallet, error) {
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("wallet: generate keypair: %w", err)
	}
	return fromKeyPair(kp), nil
}

func fromKeyPair(kp crypto.KeyPair) *Wallet {
	return &Wallet{
		Address:   kp.ToAddress(),
		PublicKey: kp.PublicKey(),
		SecretKey: kp.SecretKey(),
	}
}

// KeyPair reconstructs the classical signing keypair this wallet wraps.
func (w *Wallet) KeyPair() crypto.KeyPair {
	return crypto.KeyPairFromSeed(w.SecretKey)
}

// Save writes the wallet to path as plaintext JSON. passphrase, if
// non-empty, encrypts the secret key at rest with an Argon2id-derived
// AES-256-GCM key; the public key and address remain in the clear either
// way, since they are not sensitive.
func (w *Wallet) Save(path string, passphrase string) error {
	f := file{
		Address:   w.Address.String(),
		PublicKey: hex.EncodeToString(w.PublicKey[:]),
	}

	if passphrase == "" {
		f.SecretKey = hex.EncodeToString(w.SecretKey[:])
	} else {
		salt := make([]byte, saltSize)
		if _, err := io.ReadFull(rand.Reader, salt); err != nil {
			return fmt.Errorf("wallet: generate salt: %w", err)
		}
		key := deriveKey(passphrase, salt)
		sealed, err := crypto.Encrypt(key, w.SecretKey[:])
		if err != nil {
			return fmt.Errorf("wallet: encrypt secret key: %w", err)
		}
		f.Encrypted = true
		f.KDFSalt = hex.EncodeToString(salt)
		f.SecretKey = hex.EncodeToString(sealed)
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("wallet: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("wallet: write %s: %w", path, err)
	}
	return nil
}

// Load reads a wallet file from path. passphrase must be supplied iff the
// file was saved encrypted; an empty passphrase against an encrypted file
// fails with an error rather than silently returning a zero secret key.
func Load(path string, passphrase string) (*Wallet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("wallet: read %s: %w", path, err)
	}

	var f file
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("wallet: parse %s: %w", path, err)
	}

	address, err := primitives.ParseAddress(f.Address)
	if err != nil {
		return nil, fmt.Errorf("wallet: invalid address: %w", err)
	}
	pubBytes, err := hex.DecodeString(f.PublicKey)
	if err != nil || len(pubBytes) != 32 {
		return nil, fmt.Errorf("wallet: invalid public key")
	}

	var secret [32]byte
	if f.Encrypted {
		if passphrase == "" {
			return nil, fmt.Errorf("wallet: %s is passphrase-encrypted", path)
		}
		salt, err := hex.DecodeString(f.KDFSalt)
		if err != nil {
			return nil, fmt.Errorf("wallet: invalid kdf salt: %w", err)
		}
		sealed, err := hex.DecodeString(f.SecretKey)
		if err != nil {
			return nil, fmt.Errorf("wallet: invalid secret key encoding: %w", err)
		}
		key := deriveKey(passphrase, salt)
		plain, err := crypto.Decrypt(key, sealed)
		if err != nil {
			return nil, fmt.Errorf("wallet: decrypt secret key (wrong passphrase?): %w", err)
		}
		if len(plain) != 32 {
			return nil, fmt.Errorf("wallet: decrypted secret key has wrong length")
		}
		copy(secret[:], plain)
	} else {
		raw, err := hex.DecodeString(f.SecretKey)
		if err != nil || len(raw) != 32 {
			return nil, fmt.Errorf("wallet: invalid secret key")
		}
		copy(secret[:], raw)
	}

	w := &Wallet{SecretKey: secret}
	copy(w.PublicKey[:], pubBytes)
	w.Address = address

	if recomputed := w.KeyPair().ToAddress(); recomputed != address {
		return nil, fmt.Errorf("wallet: address does not match key material")
	}

	return w, nil
}

func deriveKey(passphrase string, salt []byte) [32]byte {
	derived := argon2.IDKey([]byte(passphrase), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)
	var key [32]byte
	copy(key[:], derived)
	return key
}
