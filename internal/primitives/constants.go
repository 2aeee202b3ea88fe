// Package primitives implements the canonical value types shared across the
// node: Hash, Address, Amount and the pi-coordinate continuity token.
package primitives

import "math/big"

// Protocol-wide constants, as fixed by the external-interfaces contract.
const (
	ChainID = 7529

	TokenDecimals = 18

	MaxValidators = 1000

	HalvingBlocks = 2_102_400

	MinSpiralComplexity = 50.0

	MinSemanticCoherence = 0.5

	MaxSpiralJump = 3.0

	MaxTxPerBlock = 1000

	CheckpointInterval = 100

	DoubleSpendWindowSeconds = 300

	BFTQuorumThreshold = 0.67

	BFTTimeoutSeconds = 30

	LockPeriodBlocks = 100_000

	SlashingInvalidSpiral        = 0.05
	SlashingDoubleSigning        = 0.50
	SlashingSemanticManipulation = 0.10
	SlashingDowntime             = 0.01
	SlashingCensorship           = 0.15
)

// Unit is 10^18 base units, i.e. one whole token. Amounts beyond this scale
// need big.Int arithmetic, so the remaining token-denominated constants are
// package vars rather than untyped int constants.
var Unit = big.NewInt(1_000_000_000_000_000_000)

// MinValidatorStake is 10,000 tokens expressed in base units.
var MinValidatorStake = new(big.Int).Mul(big.NewInt(10_000), Unit)

// InitialBlockReward is 10 tokens expressed in base units.
var InitialBlockReward = new(big.Int).Mul(big.NewInt(10), Unit)

// MinTxFee is 10^15 base units.
var MinTxFee = big.NewInt(1_000_000_000_000_000)

// InitialSupply is 21,000,000 tokens expressed in base units, the sum
// the genesis allocations must add up to.
var InitialSupply = new(big.Int).Mul(big.NewInt(21_000_000), Unit)

// MinValidatorStakeAmount, InitialBlockRewardAmount and MinTxFeeAmount
// expose the corresponding *big.Int constants as Amount, for call sites
// that compare against balances/fees/stakes directly.
func MinValidatorStakeAmount() Amount {
	a, _ := NewAmountFromBig(MinValidatorStake)
	return a
}

func InitialBlockRewardAmount() Amount {
	a, _ := NewAmountFromBig(InitialBlockReward)
	return a
}

func MinTxFeeAmount() Amount {
	a, _ := NewAmountFromBig(MinTxFee)
	return a
}

func InitialSupplyAmount() Amount {
	a, _ := NewAmountFromBig(InitialSupply)
	return a
}
