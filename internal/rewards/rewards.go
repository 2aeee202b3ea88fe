// Package rewards computes block rewards, transaction fees, and the
// validator/burn/treasury fee split.
package rewards

import (
	"math/big"

	"github.com/spirachain/validator/internal/ledger"
	"github.com/spirachain/validator/internal/primitives"
)

// CalculateBlockReward applies the halving schedule, then the
// complexity/coherence/novelty/full-block multipliers (capped at 2.0
// overall), to derive the block's minted reward.
func CalculateBlockReward(block *ledger.Block, recentSpiralVariants []ledger.SpiralVariant) primitives.Amount {
	base := baseRewardAtHeight(block.Header.BlockHeight)

	complexityMultiplier := block.Header.Spiral.Complexity / 100.0
	if complexityMultiplier > 1.5 {
		complexityMultiplier = 1.5
	}

	coherenceMultiplier := block.AvgSemanticCoherence()

	novelty := 1.0
	if !containsVariant(recentSpiralVariants, block.Header.Spiral.Variant) {
		novelty = 1.2
	}

	fullBlockBonus := 1.0
	if len(block.Transactions) > 80 {
		fullBlockBonus = 1.1
	}

	totalMultiplier := complexityMultiplier * coherenceMultiplier * novelty * fullBlockBonus
	if totalMultiplier > 2.0 {
		totalMultiplier = 2.0
	}

	return scaleAmount(base, totalMultiplier)
}

func containsVariant(variants []ledger.SpiralVariant, v ledger.SpiralVariant) bool {
	for _, existing := range variants {
		if existing == v {
			return true
		}
	}
	return false
}

// baseRewardAtHeight halves InitialBlockReward every HalvingBlocks,
// bottoming out at zero after 64 halvings.
func baseRewardAtHeight(height uint64) primitives.Amount {
	halvings := height / primitives.HalvingBlocks
	if halvings >= 64 {
		return primitives.ZeroAmount()
	}

	reward := new(big.Int).Rsh(primitives.InitialBlockReward, uint(halvings))
	amount, err := primitives.NewAmountFromBig(reward)
	if err != nil {
		return primitives.ZeroAmount()
	}
	return amount
}

// CalculateTxFee prices a transaction by size and semantic-purpose
// length, with a discount for highly coherent transactions, floored at
// MinTxFee.
func CalculateTxFee(txSizeBytes, purposeLength int, semanticCoherence float64) primitives.Amount {
	const gasPerByte = 100
	const semanticGasPerChar = 50

	baseFee := int64(txSizeBytes) * gasPerByte
	semanticFee := int64(purposeLength) * semanticGasPerChar

	discount := 1.0
	switch {
	case semanticCoherence > 0.9:
		discount = 0.9
	case semanticCoherence > 0.8:
		discount = 0.95
	}

	totalFee := big.NewInt(int64(float64(baseFee+semanticFee) * discount))
	if totalFee.Cmp(primitives.MinTxFee) < 0 {
		totalFee = primitives.MinTxFee
	}

	amount, err := primitives.NewAmountFromBig(totalFee)
	if err != nil {
		return primitives.MinTxFeeAmount()
	}
	return amount
}

// DistributeFees splits totalFees 50/30/20 between the proposing
// validator, the burn sink, and the treasury.
func DistributeFees(totalFees primitives.Amount) (validatorShare, burnShare, treasuryShare primitives.Amount) {
	validatorShare = scaleAmount(totalFees, 0.5)
	burnShare = scaleAmount(totalFees, 0.3)
	treasuryShare = scaleAmount(totalFees, 0.2)
	return
}

// scaleAmount multiplies amount by factor using floating-point scaling,
// matching the original implementation's `(value as f64 * factor) as
// u128` truncation-toward-zero semantics.
func scaleAmount(amount primitives.Amount, factor float64) primitives.Amount {
	value, _ := new(big.Float).SetInt(amount.Big()).Float64()
	result, _ := new(big.Float).SetFloat64(value * factor).Int(nil)
	if result.Sign() < 0 {
		return primitives.ZeroAmount()
	}
	out, err := primitives.NewAmountFromBig(result)
	if err != nil {
		return primitives.ZeroAmount()
	}
	return out
}
