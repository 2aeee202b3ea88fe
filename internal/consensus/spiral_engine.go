package consensus

import (
	"encoding/binary"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/spirachain/validator/internal/crypto/bls"
	"github.com/spirachain/validator/internal/ledger"
	"github.com/spirachain/validator/internal/primitives"
)

// nowUnixMilli is overridden in tests to keep block-candidate generation
// deterministic.
var nowUnixMilli = func() int64 { return time.Now().UnixMilli() }

// blockProposalDomain signs a proposer's candidate block, distinct from
// the BFT PrePrepare/Prepare/Commit domains in package bls.
const blockProposalDomain = "SPIRACHAIN_BLOCK_PROPOSAL_V1"

// maxNonceAttempts bounds the proof-of-work nonce search; a validator that
// exhausts it without finding a valid nonce must rebuild the candidate.
const maxNonceAttempts = 1_000_000

// recentSpiralCacheSize is the rolling window fork choice uses to reward
// spiral-type novelty.
const recentSpiralCacheSize = 100

// ProofOfSpiralEngine builds and validates block candidates from a spiral
// geometry derived from the selected transaction set, and scores competing
// candidates for fork choice. It implements both CandidateBuilder and
// ForkChooser.
type ProofOfSpiralEngine struct {
	mu          sync.Mutex
	recentTypes []ledger.SpiralVariant
}

// NewProofOfSpiralEngine returns an engine with an empty novelty cache.
func NewProofOfSpiralEngine() *ProofOfSpiralEngine {
	return &ProofOfSpiralEngine{}
}

// semanticClustering ranks pending transactions by 0.5*fee_score +
// 0.5*coherence_score, descending, and takes up to MaxTxPerBlock.
func semanticClustering(pending []ledger.Transaction) []ledger.Transaction {
	ranked := make([]ledger.Transaction, len(pending))
	copy(ranked, pending)

	score := func(tx *ledger.Transaction) float64 {
		feeScore := tx.Fee.Big().Int64()
		feeNormalized := float64(feeScore) / 1e18
		return 0.5*feeNormalized + 0.5*tx.SemanticCoherence()
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return score(&ranked[i]) > score(&ranked[j])
	})

	if len(ranked) > primitives.MaxTxPerBlock {
		ranked = ranked[:primitives.MaxTxPerBlock]
	}
	return ranked
}

// chooseSpiralType picks a variant by the selected set's average semantic
// coherence; an empty selection keeps the parent's variant instead of
// manufacturing a geometry from nothing.
func chooseSpiralType(avgCoherence float64, parentVariant ledger.SpiralVariant, hasSelection bool) ledger.SpiralVariant {
	if !hasSelection {
		return parentVariant
	}
	switch {
	case avgCoherence > 0.9:
		return ledger.SpiralFibonacci
	case avgCoherence > 0.8:
		return ledger.SpiralLogarithmic
	case avgCoherence > 0.7:
		return ledger.SpiralArchimedean
	default:
		return ledger.SpiralFermat
	}
}

// buildSpiral constructs the concrete parametric curve for variant, sized
// by how many transactions were selected.
func buildSpiral(variant ledger.SpiralVariant, selectedCount int) ledger.Spiral {
	turns := selectedCount/5 + 3
	if turns > 20 {
		turns = 20
	}

	switch variant {
	case ledger.SpiralFibonacci:
		return ledger.NewFibonacciSpiral(uint64(1000 + selectedCount*10))
	case ledger.SpiralLogarithmic:
		return ledger.NewLogarithmicSpiral(1.0, 0.15, turns)
	case ledger.SpiralFermat:
		return ledger.NewFermatSpiral(1.0, turns)
	case ledger.SpiralArchimedean:
		return ledger.NewArchimedeanSpiral(1.0, 0.5, turns)
	default:
		return ledger.NewArchimedeanSpiral(1.0, 0.5, turns)
	}
}

// generateBlockCoordinates derives the block's pi-coordinate continuity
// token from the previous block hash and this block's spiral root.
func generateBlockCoordinates(previousHash, spiralHash primitives.Hash, timestampMs int64) primitives.PiCoordinate {
	mixed := primitives.Digest(append(append([]byte{}, previousHash.Bytes()...), spiralHash.Bytes()...))
	return primitives.DerivePiCoordinate(mixed, timestampMs, 0)
}

// findNonce performs the linear proof-of-work search: the first four bytes
// of digest(spiralRoot || nonce_be64), read big-endian, must be below
// difficultyTarget.
func findNonce(spiralRoot primitives.Hash, difficultyTarget uint32) (uint64, error) {
	buf := make([]byte, 40)
	copy(buf, spiralRoot.Bytes())

	for nonce := uint64(0); nonce < maxNonceAttempts; nonce++ {
		binary.BigEndian.PutUint64(buf[32:], nonce)
		h := primitives.Digest(buf)
		candidate := binary.BigEndian.Uint32(h[:4])
		if candidate < difficultyTarget {
			return nonce, nil
		}
	}
	return 0, fmt.Errorf("consensus: exhausted %d nonce attempts without meeting difficulty target", maxNonceAttempts)
}

// verifyProofOfWork re-checks findNonce's acceptance condition for an
// already-chosen nonce.
func verifyProofOfWork(spiralRoot primitives.Hash, nonce uint64, difficultyTarget uint32) bool {
	buf := make([]byte, 40)
	copy(buf, spiralRoot.Bytes())
	binary.BigEndian.PutUint64(buf[32:], nonce)
	h := primitives.Digest(buf)
	candidate := binary.BigEndian.Uint32(h[:4])
	return candidate < difficultyTarget
}

// GenerateBlockCandidate assembles, geometrically scores, proves-of-work,
// and signs a new block extending previous, drawing its transactions from
// pending via semantic clustering.
func (e *ProofOfSpiralEngine) GenerateBlockCandidate(proposer *Validator, privateKey []byte, pending []ledger.Transaction, previous *ledger.Block) (*ledger.Block, error) {
	key, err := bls.PrivateKeyFromBytes(privateKey)
	if err != nil {
		return nil, fmt.Errorf("consensus: parse proposer key: %w", err)
	}

	selected := semanticClustering(pending)

	var avgCoherence float64
	for _, tx := range selected {
		avgCoherence += tx.SemanticCoherence()
	}
	if len(selected) > 0 {
		avgCoherence /= float64(len(selected))
	}

	variant := chooseSpiralType(avgCoherence, previous.Header.Spiral.Variant, len(selected) > 0)
	spiral := buildSpiral(variant, len(selected))

	minComplexity := primitives.MinSpiralComplexity
	if spiral.Metadata.Complexity < minComplexity {
		spiral.Metadata.Complexity = minComplexity * 1.1
	}
	spiral.Metadata.SemanticCoherence = avgCoherence

	block := ledger.NewBlock(previous.Hash(), previous.Header.BlockHeight+1)
	block.WithTransactions(selected)
	block.Header.Timestamp = uint64(nowUnixMilli())
	block.Header.Spiral = spiral.Metadata
	block.Header.ValidatorPubkey = append([]byte(nil), proposer.PublicKey...)
	block.ComputeSpiralRoot()
	block.ComputeMerkleRoot()

	coords := generateBlockCoordinates(previous.Hash(), block.Header.SpiralRoot, int64(block.Header.Timestamp))
	block.Header.PiCoordinates = coords

	nonce, err := findNonce(block.Header.SpiralRoot, block.Header.DifficultyTarget)
	if err != nil {
		return nil, err
	}
	block.Header.Nonce = nonce

	hash := block.Hash()
	sig := key.SignWithDomain(hash[:], blockProposalDomain)
	block.Header.Signature = sig.Bytes()

	return block, nil
}

// ValidateBlock checks a candidate's spiral continuity against its parent,
// the proposing validator's standing, and its proof of work, beyond the
// structural checks ledger.Block.Validate already performs.
func (e *ProofOfSpiralEngine) ValidateBlock(block *ledger.Block, previous *ledger.Block, validators *ValidatorSet) error {
	if err := block.Validate(); err != nil {
		return err
	}

	if previous != nil {
		if block.Header.Spiral.Complexity < previous.Header.Spiral.Complexity*0.8 {
			return fmt.Errorf("consensus: spiral complexity regressed beyond tolerance")
		}
		if block.Header.PiCoordinates.Distance(previous.Header.PiCoordinates) > primitives.MaxSpiralJump {
			return fmt.Errorf("consensus: pi-coordinate jump exceeds MaxSpiralJump")
		}
	}

	address := primitives.AddressFromPublicKey(block.Header.ValidatorPubkey)
	validator, ok := validators.GetValidator(address)
	if !ok {
		return fmt.Errorf("consensus: block proposer %s is not in the validator set", address)
	}
	if validator.Stake.Cmp(primitives.MinValidatorStakeAmount()) < 0 {
		return fmt.Errorf("consensus: block proposer %s has insufficient stake", address)
	}

	if !verifyProofOfWork(block.Header.SpiralRoot, block.Header.Nonce, block.Header.DifficultyTarget) {
		return fmt.Errorf("consensus: invalid proof of work")
	}

	return nil
}

// CalculateBlockScore weights a candidate's spiral metrics, then rewards
// variant novelty and tempers a proposer that has produced many blocks.
func (e *ProofOfSpiralEngine) CalculateBlockScore(block *ledger.Block, proposer *Validator, recentVariants []ledger.SpiralVariant) float64 {
	spiral := block.Header.Spiral
	score := 0.3*(spiral.Complexity/100.0) + 0.2*spiral.SelfSimilarity + 0.2*spiral.InformationDensity + 0.3*spiral.SemanticCoherence

	if !containsVariant(recentVariants, spiral.Variant) {
		score *= 1.1
	}
	if proposer != nil && proposer.BlocksProposed > 100 {
		score *= 0.9
	}
	return score
}

// SelectWinningSpiral scores every candidate and returns the highest-scoring
// one.
func (e *ProofOfSpiralEngine) SelectWinningSpiral(candidates []*ledger.Block, validators *ValidatorSet, recentVariants []ledger.SpiralVariant) (*ledger.Block, error) {
	if len(candidates) == 0 {
		return nil, fmt.Errorf("consensus: no candidates to select from")
	}

	var best *ledger.Block
	bestScore := -1.0
	for _, candidate := range candidates {
		address := primitives.AddressFromPublicKey(candidate.Header.ValidatorPubkey)
		validator, ok := validators.GetValidator(address)
		var proposer *Validator
		if ok {
			proposer = &validator
		}

		score := e.CalculateBlockScore(candidate, proposer, recentVariants)
		if best == nil || score > bestScore {
			best = candidate
			bestScore = score
		}
	}
	return best, nil
}

// RecentSpiralTypes returns a copy of the novelty cache.
func (e *ProofOfSpiralEngine) RecentSpiralTypes() []ledger.SpiralVariant {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]ledger.SpiralVariant, len(e.recentTypes))
	copy(out, e.recentTypes)
	return out
}

// UpdateRecentSpiralTypes appends variant to the novelty cache, evicting
// the oldest entry once the cache exceeds recentSpiralCacheSize.
func (e *ProofOfSpiralEngine) UpdateRecentSpiralTypes(variant ledger.SpiralVariant) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recentTypes = append(e.recentTypes, variant)
	if len(e.recentTypes) > recentSpiralCacheSize {
		e.recentTypes = e.recentTypes[len(e.recentTypes)-recentSpiralCacheSize:]
	}
}

func containsVariant(variants []ledger.SpiralVariant, v ledger.SpiralVariant) bool {
	for _, existing := range variants {
		if existing == v {
			return true
		}
	}
	return false
}
