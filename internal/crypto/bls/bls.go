// Package bls implements BLS12-381 signatures for aggregate finality
// certificates: each committing validator signs a block hash individually,
// and an aggregate signature plus aggregate public key let any observer
// verify 2/3+ agreement with one pairing check instead of N individual
// signature checks.
package bls

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"sync"

	bls12381 "github.com/consensys/gnark-crypto/ecc/bls12-381"
	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"
)

var (
	initOnce sync.Once

	g1Gen bls12381.G1Affine
	g2Gen bls12381.G2Affine
)

// Domain separation tags, one per consensus message kind that gets signed.
const (
	DomainPrePrepare = "SPIRACHAIN_BFT_PREPREPARE_V1"
	DomainPrepare    = "SPIRACHAIN_BFT_PREPARE_V1"
	DomainCommit     = "SPIRACHAIN_BFT_COMMIT_V1"
	DomainFinality   = "SPIRACHAIN_FINALITY_CERT_V1"
)

const (
	PrivateKeySize = 32
	PublicKeySize  = 96
	SignatureSize  = 48
)

// Initialize loads the BLS12-381 generator points. Safe to call repeatedly.
func Initialize() error {
	initOnce.Do(func() {
		_, _, g1GenPoint, g2GenPoint := bls12381.Generators()
		g1Gen = g1GenPoint
		g2Gen = g2GenPoint
	})
	return nil
}

// PrivateKey is a scalar in the BLS12-381 scalar field.
type PrivateKey struct {
	scalar fr.Element
}

// PublicKey is a point on G2.
type PublicKey struct {
	point bls12381.G2Affine
}

// Signature is a point on G1.
type Signature struct {
	point bls12381.G1Affine
}

// GenerateKeyPair creates a random validator signing key.
func GenerateKeyPair() (*PrivateKey, *PublicKey, error) {
	if err := Initialize(); err != nil {
		return nil, nil, err
	}
	var sk fr.Element
	if _, err := sk.SetRandom(); err != nil {
		return nil, nil, fmt.Errorf("bls: random scalar: %w", err)
	}
	priv := &PrivateKey{scalar: sk}
	return priv, priv.PublicKey(), nil
}

// GenerateKeyPairFromSeed derives a deterministic key from a 32+ byte seed.
func GenerateKeyPairFromSeed(seed []byte) (*PrivateKey, *PublicKey, error) {
	if err := Initialize(); err != nil {
		return nil, nil, err
	}
	if len(seed) < 32 {
		return nil, nil, errors.New("bls: seed must be at least 32 bytes")
	}
	hash := sha256.Sum256(seed)
	var sk fr.Element
	sk.SetBytes(hash[:])
	priv := &PrivateKey{scalar: sk}
	return priv, priv.PublicKey(), nil
}

func PrivateKeyFromBytes(data []byte) (*PrivateKey, error) {
	if err := Initialize(); err != nil {
		return nil, err
	}
	if len(data) != PrivateKeySize {
		return nil, fmt.Errorf("bls: invalid private key size %d (expected %d)", len(data), PrivateKeySize)
	}
	var sk fr.Element
	sk.SetBytes(data)
	return &PrivateKey{scalar: sk}, nil
}

func PublicKeyFromBytes(data []byte) (*PublicKey, error) {
	if err := Initialize(); err != nil {
		return nil, err
	}
	var pk bls12381.G2Affine
	if _, err := pk.SetBytes(data); err != nil {
		return nil, fmt.Errorf("bls: deserialize public key: %w", err)
	}
	return &PublicKey{point: pk}, nil
}

func SignatureFromBytes(data []byte) (*Signature, error) {
	if err := Initialize(); err != nil {
		return nil, err
	}
	var sig bls12381.G1Affine
	if _, err := sig.SetBytes(data); err != nil {
		return nil, fmt.Errorf("bls: deserialize signature: %w", err)
	}
	return &Signature{point: sig}, nil
}

func (sk *PrivateKey) Bytes() []byte {
	b := sk.scalar.Bytes()
	return b[:]
}

func (sk *PrivateKey) Hex() string { return hex.EncodeToString(sk.Bytes()) }

// PublicKey derives pk = sk * G2.
func (sk *PrivateKey) PublicKey() *PublicKey {
	var pk bls12381.G2Affine
	var skBig big.Int
	sk.scalar.BigInt(&skBig)
	pk.ScalarMultiplication(&g2Gen, &skBig)
	return &PublicKey{point: pk}
}

// Sign produces sig = sk * H(message), no domain separation.
func (sk *PrivateKey) Sign(message []byte) *Signature {
	h := hashToG1(message)
	var sig bls12381.G1Affine
	var skBig big.Int
	sk.scalar.BigInt(&skBig)
	sig.ScalarMultiplication(&h, &skBig)
	return &Signature{point: sig}
}

// SignWithDomain signs H(domain || message), keeping PrePrepare/Prepare/
// Commit/finality signatures non-interchangeable.
func (sk *PrivateKey) SignWithDomain(message []byte, domain string) *Signature {
	return sk.Sign(computeDomainMessage(domain, message))
}

func (pk *PublicKey) Bytes() []byte {
	b := pk.point.Bytes()
	return b[:]
}

func (pk *PublicKey) Hex() string { return hex.EncodeToString(pk.Bytes()) }

// Verify checks e(sig, G2) == e(H(message), pk).
func (pk *PublicKey) Verify(sig *Signature, message []byte) bool {
	h := hashToG1(message)

	var negPk bls12381.G2Affine
	negPk.Neg(&pk.point)

	ok, err := bls12381.PairingCheck(
		[]bls12381.G1Affine{sig.point, h},
		[]bls12381.G2Affine{g2Gen, negPk},
	)
	if err != nil {
		return false
	}
	return ok
}

func (pk *PublicKey) VerifyWithDomain(sig *Signature, message []byte, domain string) bool {
	return pk.Verify(sig, computeDomainMessage(domain, message))
}

func (pk *PublicKey) Equal(other *PublicKey) bool {
	return pk.point.Equal(&other.point)
}

func (sig *Signature) Bytes() []byte {
	b := sig.point.Bytes()
	return b[:]
}

func (sig *Signature) Hex() string { return hex.EncodeToString(sig.Bytes()) }

// AggregateSignatures sums commit signatures on G1 into one finality
// certificate signature.
func AggregateSignatures(signatures []*Signature) (*Signature, error) {
	if err := Initialize(); err != nil {
		return nil, err
	}
	if len(signatures) == 0 {
		return nil, errors.New("bls: no signatures to aggregate")
	}

	var agg bls12381.G1Jac
	agg.FromAffine(&signatures[0].point)
	for i := 1; i < len(signatures); i++ {
		var jac bls12381.G1Jac
		jac.FromAffine(&signatures[i].point)
		agg.AddAssign(&jac)
	}

	var result bls12381.G1Affine
	result.FromJacobian(&agg)
	return &Signature{point: result}, nil
}

// AggregatePublicKeys sums the public keys of the committing validator set
// on G2, matching the ordering used by AggregateSignatures.
func AggregatePublicKeys(publicKeys []*PublicKey) (*PublicKey, error) {
	if err := Initialize(); err != nil {
		return nil, err
	}
	if len(publicKeys) == 0 {
		return nil, errors.New("bls: no public keys to aggregate")
	}

	var agg bls12381.G2Jac
	agg.FromAffine(&publicKeys[0].point)
	for i := 1; i < len(publicKeys); i++ {
		var jac bls12381.G2Jac
		jac.FromAffine(&publicKeys[i].point)
		agg.AddAssign(&jac)
	}

	var result bls12381.G2Affine
	result.FromJacobian(&agg)
	return &PublicKey{point: result}, nil
}

// VerifyAggregateSignature verifies a finality certificate against the
// public keys of every validator that contributed a commit vote. All
// signers must have signed the same block hash under the same domain.
func VerifyAggregateSignature(aggSig *Signature, publicKeys []*PublicKey, message []byte) bool {
	if err := Initialize(); err != nil {
		return false
	}
	if len(publicKeys) == 0 {
		return false
	}
	aggPk, err := AggregatePublicKeys(publicKeys)
	if err != nil {
		return false
	}
	return aggPk.Verify(aggSig, message)
}

func VerifyAggregateSignatureWithDomain(aggSig *Signature, publicKeys []*PublicKey, message []byte, domain string) bool {
	return VerifyAggregateSignature(aggSig, publicKeys, computeDomainMessage(domain, message))
}

// hashToG1 maps a message onto a G1 point via hash-and-pray, good enough for
// an internal consensus signature scheme that does not need a published
// hash-to-curve standard.
func hashToG1(message []byte) bls12381.G1Affine {
	h := sha256.New()
	h.Write([]byte("SPIRACHAIN_BLS_SIG_G1_XMD_SHA256_"))
	h.Write(message)

	var counter uint64
	for {
		h2 := sha256.New()
		h2.Write(h.Sum(nil))
		binary.Write(h2, binary.BigEndian, counter)
		hash := h2.Sum(nil)

		var point bls12381.G1Affine
		if _, err := point.SetBytes(hash); err == nil && !point.IsInfinity() {
			return point
		}

		var scalar fr.Element
		scalar.SetBytes(hash)
		var scalarBig big.Int
		scalar.BigInt(&scalarBig)

		var result bls12381.G1Affine
		result.ScalarMultiplication(&g1Gen, &scalarBig)
		if !result.IsInfinity() {
			return result
		}

		counter++
		if counter > 1000 {
			return g1Gen
		}
	}
}

func computeDomainMessage(domain string, message []byte) []byte {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write(message)
	return h.Sum(nil)
}

// ValidatePublicKeySubgroup rejects public keys that decode but are not in
// the correct G2 subgroup, closing the rogue-key-attack gap in aggregate
// verification.
func ValidatePublicKeySubgroup(pubKeyBytes []byte) error {
	if err := Initialize(); err != nil {
		return err
	}
	if len(pubKeyBytes) != PublicKeySize {
		return fmt.Errorf("bls: invalid public key size %d (expected %d)", len(pubKeyBytes), PublicKeySize)
	}
	var pk bls12381.G2Affine
	if _, err := pk.SetBytes(pubKeyBytes); err != nil {
		return fmt.Errorf("bls: invalid public key encoding: %w", err)
	}
	if !pk.IsOnCurve() {
		return errors.New("bls: public key not on G2 curve")
	}
	if pk.IsInfinity() {
		return errors.New("bls: public key is identity point")
	}
	if !pk.IsInSubGroup() {
		return errors.New("bls: public key not in G2 subgroup")
	}
	return nil
}

func (pk *PublicKey) IsValid() bool {
	if pk == nil {
		return false
	}
	return pk.point.IsOnCurve() && !pk.point.IsInfinity() && pk.point.IsInSubGroup()
}

func (sig *Signature) IsValid() bool {
	if sig == nil {
		return false
	}
	return sig.point.IsOnCurve() && !sig.point.IsInfinity() && sig.point.IsInSubGroup()
}
