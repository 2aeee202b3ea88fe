// Package kyber implements a Kyber-1024-shaped key encapsulation
// mechanism: generate/encapsulate/decapsulate/derive_key with the same
// call shape as a lattice KEM. No lattice-based KEM library is available
// in this project's dependency set, so the encapsulation step is built on
// X25519 ECDH (already pulled in via golang.org/x/crypto) rather than on a
// hash-only placeholder, so that decapsulating with the wrong secret key
// genuinely yields a different shared secret instead of merely being
// unchecked.
package kyber

import (
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"

	"github.com/spirachain/validator/internal/primitives"
)

const (
	PublicKeySize    = 32
	SecretKeySize    = 32
	CiphertextSize   = 32
	SharedSecretSize = 32
)

// KeyPair is a long-lived encapsulation keypair.
type KeyPair struct {
	publicKey [PublicKeySize]byte
	secretKey [SecretKeySize]byte
}

// PublicKey is the sender-facing half of a KeyPair, usable on its own to
// encapsulate a shared secret without holding the private key.
type PublicKey struct {
	bytes [PublicKeySize]byte
}

// Ciphertext carries the ephemeral public value produced by encapsulation.
type Ciphertext struct {
	bytes [CiphertextSize]byte
}

// SharedSecret is the symmetric value both sides agree on.
type SharedSecret struct {
	bytes [SharedSecretSize]byte
}

// Generate creates a fresh keypair.
func Generate() (*KeyPair, error) {
	var secretKey [SecretKeySize]byte
	if _, err := io.ReadFull(rand.Reader, secretKey[:]); err != nil {
		return nil, fmt.Errorf("kyber: generate secret key: %w", err)
	}
	// Clamp per X25519 convention so every 32-byte string is a valid scalar.
	secretKey[0] &= 248
	secretKey[31] &= 127
	secretKey[31] |= 64

	publicKey, err := curve25519.X25519(secretKey[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("kyber: derive public key: %w", err)
	}

	kp := &KeyPair{secretKey: secretKey}
	copy(kp.publicKey[:], publicKey)
	return kp, nil
}

// FromBytes reconstructs a keypair from previously serialized key material.
func FromBytes(publicKeyBytes, secretKeyBytes []byte) (*KeyPair, error) {
	if len(publicKeyBytes) != PublicKeySize {
		return nil, fmt.Errorf("kyber: invalid public key size %d (expected %d)", len(publicKeyBytes), PublicKeySize)
	}
	if len(secretKeyBytes) != SecretKeySize {
		return nil, fmt.Errorf("kyber: invalid secret key size %d (expected %d)", len(secretKeyBytes), SecretKeySize)
	}
	kp := &KeyPair{}
	copy(kp.publicKey[:], publicKeyBytes)
	copy(kp.secretKey[:], secretKeyBytes)
	return kp, nil
}

// PublicKey returns the encapsulation-only public half of the keypair.
func (kp *KeyPair) PublicKey() PublicKey {
	return PublicKey{bytes: kp.publicKey}
}

// PublicKeyBytes returns the raw public key bytes.
func (kp *KeyPair) PublicKeyBytes() []byte {
	out := make([]byte, PublicKeySize)
	copy(out, kp.publicKey[:])
	return out
}

// SecretKeyBytes returns the raw secret key bytes.
func (kp *KeyPair) SecretKeyBytes() []byte {
	out := make([]byte, SecretKeySize)
	copy(out, kp.secretKey[:])
	return out
}

// Encapsulate generates a fresh ephemeral value and derives a shared secret
// against this keypair's own public key.
func (kp *KeyPair) Encapsulate() (Ciphertext, SharedSecret, error) {
	return encapsulateTo(kp.publicKey)
}

// Decapsulate recovers the shared secret bound to ciphertext using this
// keypair's secret key. An unmatched keypair still returns a (different)
// shared secret rather than an error, matching implicit-rejection KEM
// semantics.
func (kp *KeyPair) Decapsulate(ciphertext Ciphertext) (SharedSecret, error) {
	shared, err := curve25519.X25519(kp.secretKey[:], ciphertext.bytes[:])
	if err != nil {
		return SharedSecret{}, fmt.Errorf("kyber: decapsulate: %w", err)
	}
	var ss SharedSecret
	copy(ss.bytes[:], shared)
	return ss, nil
}

// PublicKeyFromBytes parses a bare public key for encapsulate-only use.
func PublicKeyFromBytes(b []byte) (PublicKey, error) {
	if len(b) != PublicKeySize {
		return PublicKey{}, fmt.Errorf("kyber: invalid public key size %d (expected %d)", len(b), PublicKeySize)
	}
	var pk PublicKey
	copy(pk.bytes[:], b)
	return pk, nil
}

// Bytes returns the raw public key.
func (pk PublicKey) Bytes() []byte {
	out := make([]byte, PublicKeySize)
	copy(out, pk.bytes[:])
	return out
}

// Encapsulate generates a fresh ciphertext and shared secret against pk,
// usable by a sender holding only the recipient's public key.
func (pk PublicKey) Encapsulate() (Ciphertext, SharedSecret, error) {
	return encapsulateTo(pk.bytes)
}

func encapsulateTo(recipientPublicKey [PublicKeySize]byte) (Ciphertext, SharedSecret, error) {
	var ephemeralSecret [SecretKeySize]byte
	if _, err := io.ReadFull(rand.Reader, ephemeralSecret[:]); err != nil {
		return Ciphertext{}, SharedSecret{}, fmt.Errorf("kyber: ephemeral secret: %w", err)
	}
	ephemeralSecret[0] &= 248
	ephemeralSecret[31] &= 127
	ephemeralSecret[31] |= 64

	ephemeralPublic, err := curve25519.X25519(ephemeralSecret[:], curve25519.Basepoint)
	if err != nil {
		return Ciphertext{}, SharedSecret{}, fmt.Errorf("kyber: ephemeral public key: %w", err)
	}

	shared, err := curve25519.X25519(ephemeralSecret[:], recipientPublicKey[:])
	if err != nil {
		return Ciphertext{}, SharedSecret{}, fmt.Errorf("kyber: shared secret: %w", err)
	}

	var ct Ciphertext
	copy(ct.bytes[:], ephemeralPublic)
	var ss SharedSecret
	copy(ss.bytes[:], shared)
	return ct, ss, nil
}

// CiphertextFromBytes parses a ciphertext produced by Encapsulate.
func CiphertextFromBytes(b []byte) (Ciphertext, error) {
	if len(b) != CiphertextSize {
		return Ciphertext{}, fmt.Errorf("kyber: invalid ciphertext size %d (expected %d)", len(b), CiphertextSize)
	}
	var ct Ciphertext
	copy(ct.bytes[:], b)
	return ct, nil
}

// Bytes returns the raw ciphertext.
func (ct Ciphertext) Bytes() []byte {
	out := make([]byte, CiphertextSize)
	copy(out, ct.bytes[:])
	return out
}

// Bytes returns the raw shared secret.
func (ss SharedSecret) Bytes() []byte {
	out := make([]byte, SharedSecretSize)
	copy(out, ss.bytes[:])
	return out
}

// DeriveKey binds context to the shared secret via blake3, matching the
// reference implementation's derive_key exactly (same hash, same domain
// separation by context).
func (ss SharedSecret) DeriveKey(context []byte) [32]byte {
	buf := make([]byte, 0, len(ss.bytes)+len(context))
	buf = append(buf, ss.bytes[:]...)
	buf = append(buf, context...)
	h := primitives.Digest(buf)
	var key [32]byte
	copy(key[:], h.Bytes())
	return key
}

// String redacts the secret key, matching the reference implementation's
// Debug impl.
func (kp *KeyPair) String() string {
	return fmt.Sprintf("KeyPair{public_key_size: %d, secret_key: [REDACTED]}", PublicKeySize)
}
