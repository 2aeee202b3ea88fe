// Package dkg implements threshold key splitting for the validator set's
// shared finality key: a coordinator splits a master secret into one
// additive fragment per participant over the BLS12-381 scalar field.
// Reconstruction sums the supplied fragments, so only the full fragment
// set recovers the secret; a smaller subset, even one of threshold size,
// does not.
package dkg

import (
	"fmt"
	"math"

	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"

	"github.com/spirachain/validator/internal/primitives"
)

// ThresholdRatio is the fraction of participants required to reconstruct
// the master secret, matching the BFT quorum ratio.
const ThresholdRatio = 0.67

// KeyFragment is one participant's additive share of the master secret.
type KeyFragment struct {
	FragmentID   uint32
	FragmentData fr.Element
	Validator    primitives.Address
}

// Coordinator tracks fragment issuance and collection for one DKG round.
type Coordinator struct {
	threshold         int
	totalParticipants int
	fragments         map[uint32]KeyFragment
	masterSecret      *fr.Element
}

// NewCoordinator sizes the threshold as ceil(participantCount * 0.67),
// clamped to at least 2 so a single corrupt fragment can never reconstruct
// the secret alone.
func NewCoordinator(participantCount int) *Coordinator {
	threshold := int(math.Ceil(float64(participantCount) * ThresholdRatio))
	if threshold < 2 {
		threshold = 2
	}
	return &Coordinator{
		threshold:         threshold,
		totalParticipants: participantCount,
		fragments:         make(map[uint32]KeyFragment, participantCount),
	}
}

// Threshold returns the minimum fragment count needed to reconstruct.
func (c *Coordinator) Threshold() int { return c.threshold }

// FragmentCount returns how many fragments the coordinator currently holds.
func (c *Coordinator) FragmentCount() int { return len(c.fragments) }

// HasQuorum reports whether enough fragments have been collected to
// reconstruct the master secret.
func (c *Coordinator) HasQuorum() bool { return len(c.fragments) >= c.threshold }

// GenerateKeyFragments samples a random master secret and splits it
// additively across validators[i], one fragment per participant, such that
// summing all fragments over the scalar field recovers the secret.
func (c *Coordinator) GenerateKeyFragments(validators []primitives.Address) ([]KeyFragment, error) {
	if len(validators) != c.totalParticipants {
		return nil, fmt.Errorf("dkg: expected %d validators, got %d", c.totalParticipants, len(validators))
	}

	var master fr.Element
	if _, err := master.SetRandom(); err != nil {
		return nil, fmt.Errorf("dkg: sample master secret: %w", err)
	}

	fragments := make([]KeyFragment, 0, c.totalParticipants)
	sum := new(fr.Element)

	for i := 0; i < c.totalParticipants-1; i++ {
		var share fr.Element
		if _, err := share.SetRandom(); err != nil {
			return nil, fmt.Errorf("dkg: sample fragment %d: %w", i, err)
		}
		sum.Add(sum, &share)

		fragment := KeyFragment{FragmentID: uint32(i), FragmentData: share, Validator: validators[i]}
		c.fragments[fragment.FragmentID] = fragment
		fragments = append(fragments, fragment)
	}

	// Last fragment closes the sum so fragments add up to master exactly.
	var last fr.Element
	last.Sub(&master, sum)
	lastID := uint32(c.totalParticipants - 1)
	lastFragment := KeyFragment{FragmentID: lastID, FragmentData: last, Validator: validators[lastID]}
	c.fragments[lastID] = lastFragment
	fragments = append(fragments, lastFragment)

	c.masterSecret = &master
	return fragments, nil
}

// ReconstructKey sums every supplied fragment; the sum is the master
// secret when all issued fragments are supplied. Returns an error if
// fewer than Threshold() fragments are supplied.
func (c *Coordinator) ReconstructKey(fragments []KeyFragment) (fr.Element, error) {
	if len(fragments) < c.threshold {
		return fr.Element{}, fmt.Errorf("dkg: insufficient fragments: %d/%d", len(fragments), c.threshold)
	}

	var reconstructed fr.Element
	for _, fragment := range fragments {
		reconstructed.Add(&reconstructed, &fragment.FragmentData)
	}
	return reconstructed, nil
}

// VerifyFragment reports whether fragment was one this coordinator issued.
func (c *Coordinator) VerifyFragment(fragment KeyFragment) bool {
	_, ok := c.fragments[fragment.FragmentID]
	return ok
}

// AddFragment records a fragment received from a remote participant.
func (c *Coordinator) AddFragment(fragment KeyFragment) error {
	if len(c.fragments) >= c.totalParticipants {
		return fmt.Errorf("dkg: all %d fragments already received", c.totalParticipants)
	}
	c.fragments[fragment.FragmentID] = fragment
	return nil
}
