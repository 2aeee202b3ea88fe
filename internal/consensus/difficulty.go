package consensus

import (
	"github.com/spirachain/validator/internal/ledger"
	"github.com/spirachain/validator/internal/primitives"
)

// adjustmentWindow is how many trailing blocks are used to measure actual
// block time against target; difficulty never adjusts before this much
// history exists.
const adjustmentWindow = 2016

// minComplexityCeiling is the cap UpdateReputation-style coherence nudges
// never push minimum complexity past.
const minComplexityCeiling = 0.8

// DifficultyAdjuster derives the minimum spiral complexity and
// proof-of-work difficulty from how quickly the chain has actually been
// producing blocks against its target cadence.
type DifficultyAdjuster struct {
	targetBlockTimeSeconds uint64
}

// NewDifficultyAdjuster targets targetBlockTimeSeconds per block.
func NewDifficultyAdjuster(targetBlockTimeSeconds uint64) *DifficultyAdjuster {
	return &DifficultyAdjuster{targetBlockTimeSeconds: targetBlockTimeSeconds}
}

// AdjustDifficulty returns (minComplexity, difficultyTarget) for the next
// block. With fewer than adjustmentWindow blocks of history it returns the
// protocol floor unchanged: there isn't enough signal yet to adjust safely.
func (d *DifficultyAdjuster) AdjustDifficulty(recentBlocks []*ledger.Block) (float64, uint32) {
	if len(recentBlocks) < adjustmentWindow {
		return primitives.MinSpiralComplexity, ^uint32(0) / 1000
	}

	window := recentBlocks[len(recentBlocks)-adjustmentWindow:]

	actualTimeSeconds := calculateTimeSpan(window)
	targetTimeSeconds := d.targetBlockTimeSeconds * uint64(adjustmentWindow)

	complexity := primitives.MinSpiralComplexity
	difficultyTarget := ^uint32(0) / 1000

	switch {
	case float64(actualTimeSeconds) < float64(targetTimeSeconds)*0.9:
		// Blocks are arriving faster than target: raise the bar.
		complexity *= 1.1
		difficultyTarget = scaleDifficultyTarget(difficultyTarget, 1.05)
	case float64(actualTimeSeconds) > float64(targetTimeSeconds)*1.1:
		// Blocks are arriving slower than target: ease off.
		complexity *= 0.95
		difficultyTarget = scaleDifficultyTarget(difficultyTarget, 0.95)
	}

	if calculateAvgCoherence(window) > 0.85 {
		complexity += 0.01
		if complexity > minComplexityCeiling*100 {
			complexity = minComplexityCeiling * 100
		}
	}

	return complexity, difficultyTarget
}

// calculateTimeSpan is the elapsed time, in seconds, between the window's
// first and last block timestamps (stored in milliseconds).
func calculateTimeSpan(window []*ledger.Block) uint64 {
	if len(window) < 2 {
		return 0
	}
	first := window[0].Header.Timestamp
	last := window[len(window)-1].Header.Timestamp
	if last <= first {
		return 0
	}
	return (last - first) / 1000
}

// calculateAvgCoherence is the mean of each block's already-computed
// semantic coherence across the window.
func calculateAvgCoherence(window []*ledger.Block) float64 {
	if len(window) == 0 {
		return 0
	}
	var sum float64
	for _, b := range window {
		sum += b.Header.Spiral.SemanticCoherence
	}
	return sum / float64(len(window))
}

// scaleDifficultyTarget multiplies the target by factor, floored at 1 so it
// never underflows to zero (which would make every nonce pass).
func scaleDifficultyTarget(target uint32, factor float64) uint32 {
	scaled := float64(target) * factor
	if scaled < 1 {
		return 1
	}
	if scaled > float64(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(scaled)
}
