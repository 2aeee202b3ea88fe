// Package crypto is the cryptographic suite facade: classical signatures,
// authenticated symmetric encryption and fractal key rotation. Stateful
// hash-based signatures, the lattice KEM and threshold key splitting live
// in the crypto/xmss, crypto/kyber and crypto/dkg subpackages so each
// primitive stays an isolated, swappable module; Merkle hashing lives in
// internal/merkle.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"github.com/spirachain/validator/internal/primitives"
)

// KeyPair is a classical (Ed25519-shaped) signing keypair: a 32-byte
// verifying key and a 32-byte seed acting as the signing key.
type KeyPair struct {
	publicKey [32]byte
	secretKey [32]byte // ed25519 seed, not the expanded 64-byte private key
}

// GenerateKeyPair creates a new random keypair.
func GenerateKeyPair() (KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, fmt.Errorf("crypto: generate keypair: %w", err)
	}
	var kp KeyPair
	copy(kp.publicKey[:], pub)
	copy(kp.secretKey[:], priv.Seed())
	return kp, nil
}

// KeyPairFromSeed reconstructs a keypair from a 32-byte seed.
func KeyPairFromSeed(seed [32]byte) KeyPair {
	priv := ed25519.NewKeyFromSeed(seed[:])
	var kp KeyPair
	copy(kp.publicKey[:], priv.Public().(ed25519.PublicKey))
	kp.secretKey = seed
	return kp
}

func (kp KeyPair) PublicKey() [32]byte { return kp.publicKey }

// SecretKey returns the 32-byte seed backing this keypair, so callers
// that need to persist it (e.g. a wallet file) can do so explicitly
// rather than the type leaking it implicitly.
func (kp KeyPair) SecretKey() [32]byte { return kp.secretKey }

// Sign produces a 64-byte deterministic signature over message.
func (kp KeyPair) Sign(message []byte) []byte {
	priv := ed25519.NewKeyFromSeed(kp.secretKey[:])
	return ed25519.Sign(priv, message)
}

// ToAddress derives the classical-signature-scheme address: digest of the
// verifying key.
func (kp KeyPair) ToAddress() primitives.Address {
	return primitives.AddressFromPublicKey(kp.publicKey[:])
}

// String redacts the secret material, matching the reference
// implementation's behavior of never printing key bytes.
func (kp KeyPair) String() string {
	return fmt.Sprintf("KeyPair{public_key: %x, secret_key: [REDACTED]}", kp.publicKey)
}

// Verify checks a 64-byte signature against a 32-byte verifying key.
func Verify(publicKey [32]byte, message, signature []byte) bool {
	if len(signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(publicKey[:], message, signature)
}
