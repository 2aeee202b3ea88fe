// Package consensus implements leader selection, candidate-block generation,
// BFT finalization, fork choice, the validator roster, and attack
// mitigation — each as its own narrow component rather than one monolithic
// consensus type, so they can be composed, tested and replaced independently.
package consensus

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/spirachain/validator/internal/primitives"
)

// SlashingReason tags why a validator was slashed; each carries its own
// percentage-of-stake penalty.
type SlashingReason int

const (
	SlashingReasonInvalidSpiral SlashingReason = iota
	SlashingReasonDoubleSigning
	SlashingReasonSemanticManipulation
	SlashingReasonDowntime
	SlashingReasonCensorship
)

func (r SlashingReason) String() string {
	switch r {
	case SlashingReasonInvalidSpiral:
		return "invalid_spiral"
	case SlashingReasonDoubleSigning:
		return "double_signing"
	case SlashingReasonSemanticManipulation:
		return "semantic_manipulation"
	case SlashingReasonDowntime:
		return "downtime"
	case SlashingReasonCensorship:
		return "censorship"
	default:
		return "unknown"
	}
}

// percent returns the fraction of stake this reason confiscates.
func (r SlashingReason) percent() float64 {
	switch r {
	case SlashingReasonInvalidSpiral:
		return primitives.SlashingInvalidSpiral
	case SlashingReasonDoubleSigning:
		return primitives.SlashingDoubleSigning
	case SlashingReasonSemanticManipulation:
		return primitives.SlashingSemanticManipulation
	case SlashingReasonDowntime:
		return primitives.SlashingDowntime
	case SlashingReasonCensorship:
		return primitives.SlashingCensorship
	default:
		return 0
	}
}

// SlashingEvent records one confiscation against a validator's stake.
type SlashingEvent struct {
	Reason          SlashingReason
	AmountSlashed   primitives.Amount
	BlockHeight     uint64
	TimestampMillis uint64
	Resolved        bool
}

// Validator is one member of the roster: identity, stake, and the
// reputation/uptime bookkeeping that feeds both fork choice and slashing.
type Validator struct {
	Address         primitives.Address
	PublicKey       []byte // BLS12-381 G2 public key bytes
	Stake           primitives.Amount
	LockedUntil     uint64
	RewardsEarned   primitives.Amount
	SlashingEvents  []SlashingEvent
	BlocksProposed  uint64
	ExpectedBlocks  uint64
	ReputationScore float64
	LastBlockHeight uint64
}

// NewValidator enrolls pubkey at the given stake, locked until
// currentBlockHeight+LockPeriodBlocks, with a fresh 1.0 reputation.
func NewValidator(pubkey []byte, stake primitives.Amount, currentBlockHeight uint64) Validator {
	return Validator{
		Address:         primitives.AddressFromPublicKey(pubkey),
		PublicKey:       append([]byte(nil), pubkey...),
		Stake:           stake,
		LockedUntil:     currentBlockHeight + primitives.LockPeriodBlocks,
		RewardsEarned:   primitives.ZeroAmount(),
		ReputationScore: 1.0,
	}
}

// IsActive reports whether this validator may propose or vote: sufficient
// stake, reputation above the floor, and no unresolved slashing event.
func (v *Validator) IsActive() bool {
	if v.Stake.Cmp(primitives.MinValidatorStakeAmount()) < 0 {
		return false
	}
	if v.ReputationScore <= 0.3 {
		return false
	}
	for _, ev := range v.SlashingEvents {
		if !ev.Resolved {
			return false
		}
	}
	return true
}

// Slash confiscates reason's percentage of stake (floored at zero), halves
// reputation, and appends the event. It is the sole authoritative write
// path for a validator's punitive state.
func (v *Validator) Slash(reason SlashingReason, blockHeight uint64, timestampMillis uint64) SlashingEvent {
	scaled := scaleAmount(v.Stake, reason.percent())

	remaining, ok := v.Stake.CheckedSub(scaled)
	if !ok {
		remaining = primitives.ZeroAmount()
		scaled = v.Stake
	}
	v.Stake = remaining

	v.ReputationScore *= 0.5
	if v.ReputationScore < 0 {
		v.ReputationScore = 0
	}

	event := SlashingEvent{
		Reason:          reason,
		AmountSlashed:   scaled,
		BlockHeight:     blockHeight,
		TimestampMillis: timestampMillis,
	}
	v.SlashingEvents = append(v.SlashingEvents, event)
	return event
}

// UpdateReputation folds spiral quality, semantic coherence and timeliness
// into an exponential moving average against the existing reputation.
func (v *Validator) UpdateReputation(spiralQuality, semanticCoherence, timeliness float64) {
	uptime := 1.0
	if v.ExpectedBlocks > 0 {
		uptime = float64(v.BlocksProposed) / float64(v.ExpectedBlocks)
	}

	newScore := 0.3*spiralQuality + 0.3*semanticCoherence + 0.2*timeliness + 0.2*uptime
	v.ReputationScore = 0.9*v.ReputationScore + 0.1*newScore
}

// scaleAmount multiplies amount by factor using float scaling, matching the
// same truncation-toward-zero semantics used by internal/rewards.
func scaleAmount(amount primitives.Amount, factor float64) primitives.Amount {
	if factor <= 0 {
		return primitives.ZeroAmount()
	}
	scaled := new(big.Float).Mul(new(big.Float).SetInt(amount.Big()), big.NewFloat(factor))
	result, _ := scaled.Int(nil)
	if result.Sign() < 0 {
		return primitives.ZeroAmount()
	}
	out, err := primitives.NewAmountFromBig(result)
	if err != nil {
		return primitives.ZeroAmount()
	}
	return out
}

// ValidatorSet is the ordered roster of validators plus its total-stake
// invariant; every mutation keeps total_stake consistent with the roster.
type ValidatorSet struct {
	mu          sync.RWMutex
	validators  []Validator
	totalStake  primitives.Amount
}

// NewValidatorSet returns an empty roster.
func NewValidatorSet() *ValidatorSet {
	return &ValidatorSet{totalStake: primitives.ZeroAmount()}
}

// AddValidator appends v, rejecting it if the roster is at capacity or the
// total-stake addition would overflow.
func (s *ValidatorSet) AddValidator(v Validator) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.validators) >= primitives.MaxValidators {
		return fmt.Errorf("consensus: validator set at capacity (%d)", primitives.MaxValidators)
	}
	sum, ok := s.totalStake.CheckedAdd(v.Stake)
	if !ok {
		return fmt.Errorf("consensus: total stake overflow adding validator %s", v.Address)
	}
	s.validators = append(s.validators, v)
	s.totalStake = sum
	return nil
}

// RemoveValidator drops the validator at address, if present, and
// subtracts its stake from the roster total.
func (s *ValidatorSet) RemoveValidator(address primitives.Address) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.validators {
		if s.validators[i].Address == address {
			sum, ok := s.totalStake.CheckedSub(s.validators[i].Stake)
			if ok {
				s.totalStake = sum
			}
			s.validators = append(s.validators[:i], s.validators[i+1:]...)
			return true
		}
	}
	return false
}

// GetValidator returns a copy of the validator at address.
func (s *ValidatorSet) GetValidator(address primitives.Address) (Validator, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.validators {
		if s.validators[i].Address == address {
			return s.validators[i], true
		}
	}
	return Validator{}, false
}

// MutateValidator applies fn to the validator at address in place, under
// the set's write lock; used for Slash and UpdateReputation calls that must
// be serialized against concurrent roster reads.
func (s *ValidatorSet) MutateValidator(address primitives.Address, fn func(*Validator)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.validators {
		if s.validators[i].Address == address {
			before := s.validators[i].Stake
			fn(&s.validators[i])
			after := s.validators[i].Stake
			if after.Cmp(before) != 0 {
				if after.Cmp(before) < 0 {
					diff, ok := before.CheckedSub(after)
					if ok {
						if sum, ok := s.totalStake.CheckedSub(diff); ok {
							s.totalStake = sum
						}
					}
				} else {
					diff, ok := after.CheckedSub(before)
					if ok {
						if sum, ok := s.totalStake.CheckedAdd(diff); ok {
							s.totalStake = sum
						}
					}
				}
			}
			return true
		}
	}
	return false
}

// ActiveValidators returns the subset of the roster currently eligible to
// propose or vote.
func (s *ValidatorSet) ActiveValidators() []Validator {
	s.mu.RLock()
	defer s.mu.RUnlock()

	active := make([]Validator, 0, len(s.validators))
	for _, v := range s.validators {
		if v.IsActive() {
			active = append(active, v)
		}
	}
	return active
}

// All returns a copy of the full roster, active or not.
func (s *ValidatorSet) All() []Validator {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Validator, len(s.validators))
	copy(out, s.validators)
	return out
}

// Len reports the roster size.
func (s *ValidatorSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.validators)
}

// IsEmpty reports whether the roster has no validators.
func (s *ValidatorSet) IsEmpty() bool {
	return s.Len() == 0
}

// TotalStake returns the sum of every validator's stake.
func (s *ValidatorSet) TotalStake() primitives.Amount {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.totalStake
}
