// Package xmss implements an XMSS-shaped stateful hash-based signature
// scheme: a fixed-height Merkle tree of one-time WOTS-style leaves, SHA-256
// throughout. Each keypair can sign at most 2^TreeHeight messages; signing
// past that is a hard failure, never a silent key reuse.
package xmss

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
)

// TreeHeight fixes the signing capacity of a keypair at 2^20 signatures.
const TreeHeight = 20

const numLeaves = 1 << TreeHeight

// ErrKeyExhausted is returned by Sign once the leaf index has reached the
// tree's capacity; the keypair must be retired.
var ErrKeyExhausted = errors.New("xmss: key exhausted, no signatures remaining")

// PublicKey is the Merkle root over the leaf layer plus the public seed used
// to regenerate it.
type PublicKey struct {
	Root    [32]byte
	PubSeed [32]byte
}

// Bytes encodes the public key as root || pub_seed.
func (pk PublicKey) Bytes() []byte {
	out := make([]byte, 0, 64)
	out = append(out, pk.Root[:]...)
	out = append(out, pk.PubSeed[:]...)
	return out
}

// PublicKeyFromBytes decodes a public key produced by Bytes.
func PublicKeyFromBytes(b []byte) (PublicKey, error) {
	if len(b) != 64 {
		return PublicKey{}, fmt.Errorf("xmss: invalid public key length %d", len(b))
	}
	var pk PublicKey
	copy(pk.Root[:], b[0:32])
	copy(pk.PubSeed[:], b[32:64])
	return pk, nil
}

// Signature is one WOTS-style leaf signature plus its Merkle authentication
// path, identified by the leaf index it consumed.
type Signature struct {
	Index         uint64
	WotsSignature []byte
	AuthPath      [][32]byte
}

// KeyPair holds the private signing state. Index advances by one on every
// call to Sign and must never be rewound or duplicated across processes.
type KeyPair struct {
	index   uint64
	seed    [32]byte
	prfSeed [32]byte
	pubSeed [32]byte
	root    [32]byte
	leaves  [][32]byte // cached leaf layer, derived once from prfSeed/pubSeed
}

// Generate creates a fresh keypair, building the full leaf layer and its
// Merkle root up front.
func Generate(randSource func([]byte) error) (*KeyPair, error) {
	var seed, prfSeed, pubSeed [32]byte
	for _, s := range [][]byte{seed[:], prfSeed[:], pubSeed[:]} {
		if err := randSource(s); err != nil {
			return nil, fmt.Errorf("xmss: seed generation: %w", err)
		}
	}

	leaves := generateLeaves(prfSeed, pubSeed)
	root := merkleRoot(leaves)

	return &KeyPair{
		seed:    seed,
		prfSeed: prfSeed,
		pubSeed: pubSeed,
		root:    root,
		leaves:  leaves,
	}, nil
}

// PublicKey returns the keypair's public key.
func (kp *KeyPair) PublicKey() PublicKey {
	return PublicKey{Root: kp.root, PubSeed: kp.pubSeed}
}

// RemainingSignatures reports how many signatures this keypair can still
// produce before exhaustion.
func (kp *KeyPair) RemainingSignatures() uint64 {
	return numLeaves - kp.index
}

// Sign consumes the next leaf index and produces a signature over message.
// Returns ErrKeyExhausted once the tree's capacity is reached.
func (kp *KeyPair) Sign(message []byte) (Signature, error) {
	if kp.index >= numLeaves {
		return Signature{}, ErrKeyExhausted
	}

	index := kp.index
	wotsKey := generateWotsKey(kp.prfSeed, index)
	wotsSignature := wotsSign(wotsKey, message)
	authPath := generateAuthPath(kp.leaves, index)

	kp.index++

	return Signature{
		Index:         index,
		WotsSignature: wotsSignature,
		AuthPath:      authPath,
	}, nil
}

// Verify checks signature against message using pub. Unlike a stub, this
// recomputes the WOTS leaf and walks the authentication path to the root.
func Verify(pub PublicKey, message []byte, signature Signature) bool {
	if signature.Index >= numLeaves {
		return false
	}

	leaf := wotsVerify(signature.WotsSignature, message)
	computedRoot := verifyAuthPath(leaf, signature.AuthPath, signature.Index)

	return computedRoot == pub.Root
}

func generateLeaves(prfSeed, pubSeed [32]byte) [][32]byte {
	leaves := make([][32]byte, numLeaves)
	for i := 0; i < numLeaves; i++ {
		h := sha256.New()
		h.Write(prfSeed[:])
		h.Write(pubSeed[:])
		var idx [8]byte
		binary.BigEndian.PutUint64(idx[:], uint64(i))
		h.Write(idx[:])
		copy(leaves[i][:], h.Sum(nil))
	}
	return leaves
}

func hashNodePair(left, right [32]byte) [32]byte {
	h := sha256.New()
	h.Write(left[:])
	h.Write(right[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func merkleRoot(leaves [][32]byte) [32]byte {
	if len(leaves) == 0 {
		return [32]byte{}
	}
	current := leaves
	for len(current) > 1 {
		next := make([][32]byte, 0, (len(current)+1)/2)
		for i := 0; i < len(current); i += 2 {
			if i+1 < len(current) {
				next = append(next, hashNodePair(current[i], current[i+1]))
			} else {
				next = append(next, hashNodePair(current[i], current[i]))
			}
		}
		current = next
	}
	return current[0]
}

func generateWotsKey(prfSeed [32]byte, index uint64) []byte {
	h := sha256.New()
	h.Write(prfSeed[:])
	var idx [8]byte
	binary.BigEndian.PutUint64(idx[:], index)
	h.Write(idx[:])
	return h.Sum(nil)
}

func wotsSign(key, message []byte) []byte {
	msgHash := sha256.Sum256(message)

	signature := make([]byte, 0, 32*32)
	for i := 0; i < 32; i++ {
		h := sha256.New()
		h.Write(key)
		h.Write(msgHash[i : i+1])
		var chainIdx [4]byte
		binary.BigEndian.PutUint32(chainIdx[:], uint32(i))
		h.Write(chainIdx[:])
		signature = append(signature, h.Sum(nil)...)
	}
	return signature
}

func wotsVerify(signature, message []byte) [32]byte {
	h := sha256.New()
	h.Write(signature)
	h.Write(message)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func generateAuthPath(leaves [][32]byte, index uint64) [][32]byte {
	authPath := make([][32]byte, 0, TreeHeight)
	currentIndex := index
	currentLevel := leaves

	for level := 0; level < TreeHeight; level++ {
		var siblingIndex uint64
		if currentIndex%2 == 0 {
			siblingIndex = currentIndex + 1
		} else {
			siblingIndex = currentIndex - 1
		}

		if int(siblingIndex) < len(currentLevel) {
			authPath = append(authPath, currentLevel[siblingIndex])
		} else {
			authPath = append(authPath, currentLevel[currentIndex])
		}

		next := make([][32]byte, 0, (len(currentLevel)+1)/2)
		for i := 0; i < len(currentLevel); i += 2 {
			if i+1 < len(currentLevel) {
				next = append(next, hashNodePair(currentLevel[i], currentLevel[i+1]))
			} else {
				next = append(next, hashNodePair(currentLevel[i], currentLevel[i]))
			}
		}
		currentLevel = next
		currentIndex /= 2
	}

	return authPath
}

func verifyAuthPath(leaf [32]byte, authPath [][32]byte, index uint64) [32]byte {
	currentNode := leaf
	currentIndex := index

	for _, sibling := range authPath {
		if currentIndex%2 == 0 {
			currentNode = hashNodePair(currentNode, sibling)
		} else {
			currentNode = hashNodePair(sibling, currentNode)
		}
		currentIndex /= 2
	}

	return currentNode
}
