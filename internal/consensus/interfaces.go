package consensus

import (
	"github.com/spirachain/validator/internal/ledger"
	"github.com/spirachain/validator/internal/primitives"
)

// LeaderSelector decides which validator may propose the block for a given
// wall-clock slot. Implemented by SlotConsensus.
type LeaderSelector interface {
	CurrentSlot() uint64
	GetSlotLeader(slot uint64) (primitives.Address, bool)
	IsSlotLeader(address primitives.Address, slot uint64) bool
	TimeUntilNextSlot() int64
}

// CandidateBuilder turns a validator's pending-transaction view into a
// signed block candidate. Implemented by the Proof-of-Spiral engine.
type CandidateBuilder interface {
	GenerateBlockCandidate(proposer *Validator, privateKey []byte, pending []ledger.Transaction, previous *ledger.Block) (*ledger.Block, error)
	ValidateBlock(block *ledger.Block, previous *ledger.Block, validators *ValidatorSet) error
}

// Finalizer runs the three-phase BFT vote over a candidate block.
// Implemented by BFTConsensus.
type Finalizer interface {
	ProposeBlock(block *ledger.Block) (PrePrepareMsg, error)
	HandlePrePrepare(msg PrePrepareMsg) (PrepareMsg, error)
	HandlePrepare(msg PrepareMsg) (*CommitMsg, error)
	HandleCommit(msg CommitMsg) (bool, error)
	HandleViewChange(newView uint64) error
}

// ForkChooser scores competing block candidates at the same height and
// selects the winner. Implemented by the Proof-of-Spiral engine.
type ForkChooser interface {
	CalculateBlockScore(block *ledger.Block, proposer *Validator, recentVariants []ledger.SpiralVariant) float64
	SelectWinningSpiral(candidates []*ledger.Block, validators *ValidatorSet, recentVariants []ledger.SpiralVariant) (*ledger.Block, error)
}

// PrePrepareMsg is phase 1 of BFT: the proposer broadcasts the candidate
// block under the current view/sequence, signed.
type PrePrepareMsg struct {
	View      uint64             `json:"view"`
	Sequence  uint64             `json:"sequence"`
	Block     *ledger.Block      `json:"block"`
	Signature []byte             `json:"signature"`
	Signer    primitives.Address `json:"signer"`
}

// PrepareMsg is phase 2: a validator acknowledges the pre-prepare.
type PrepareMsg struct {
	View      uint64             `json:"view"`
	Sequence  uint64             `json:"sequence"`
	BlockHash primitives.Hash    `json:"block_hash"`
	Signature []byte             `json:"signature"`
	Signer    primitives.Address `json:"signer"`
}

// CommitMsg is phase 3: a validator commits once quorum prepares are seen.
type CommitMsg struct {
	View      uint64             `json:"view"`
	Sequence  uint64             `json:"sequence"`
	BlockHash primitives.Hash    `json:"block_hash"`
	Signature []byte             `json:"signature"`
	Signer    primitives.Address `json:"signer"`
}
