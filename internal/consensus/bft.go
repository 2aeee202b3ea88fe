package consensus

import (
	"fmt"
	"math"
	"sync"

	"github.com/spirachain/validator/internal/crypto/bls"
	"github.com/spirachain/validator/internal/ledger"
	"github.com/spirachain/validator/internal/primitives"
)

type preparedBlock struct {
	block     *ledger.Block
	preprepare PrePrepareMsg
}

// BFTConsensus runs three-phase (PrePrepare/Prepare/Commit) Byzantine
// agreement over one block at a time, requiring BFTQuorumThreshold of the
// whole roster to vote at each phase before advancing.
type BFTConsensus struct {
	mu sync.Mutex

	viewNumber     uint64
	sequenceNumber uint64
	validators     *ValidatorSet

	localValidator primitives.Address
	localKey       *bls.PrivateKey

	prePrepareReceived map[primitives.Hash]preparedBlock
	prepareVotes       map[primitives.Hash][]PrepareMsg
	commitVotes        map[primitives.Hash][]CommitMsg
	committedBlocks    map[primitives.Hash]*ledger.Block
}

// NewBFTConsensus starts a fresh BFT state machine at view 0, sequence 0,
// for the given roster and local signing identity.
func NewBFTConsensus(validators *ValidatorSet, localValidator primitives.Address, localKey *bls.PrivateKey) *BFTConsensus {
	return &BFTConsensus{
		validators:          validators,
		localValidator:      localValidator,
		localKey:            localKey,
		prePrepareReceived:  make(map[primitives.Hash]preparedBlock),
		prepareVotes:        make(map[primitives.Hash][]PrepareMsg),
		commitVotes:         make(map[primitives.Hash][]CommitMsg),
		committedBlocks:     make(map[primitives.Hash]*ledger.Block),
	}
}

// calculateQuorum is ceil(n * BFTQuorumThreshold), never less than 1.
func calculateQuorum(n int) int {
	if n <= 0 {
		return 1
	}
	q := int(math.Ceil(float64(n) * primitives.BFTQuorumThreshold))
	if q < 1 {
		q = 1
	}
	return q
}

// ProposeBlock is phase 1: the local validator signs the candidate block's
// hash and broadcasts a PrePrepare under the current view/sequence.
func (b *BFTConsensus) ProposeBlock(block *ledger.Block) (PrePrepareMsg, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	hash := block.Hash()
	sig := b.localKey.SignWithDomain(hash[:], bls.DomainPrePrepare)

	msg := PrePrepareMsg{
		View:      b.viewNumber,
		Sequence:  b.sequenceNumber,
		Block:     block,
		Signature: sig.Bytes(),
		Signer:    b.localValidator,
	}
	b.sequenceNumber++
	return msg, nil
}

// HandlePrePrepare is phase 1's receive side: record the proposal (if its
// view matches) and respond with our own Prepare vote.
func (b *BFTConsensus) HandlePrePrepare(msg PrePrepareMsg) (PrepareMsg, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if msg.View != b.viewNumber {
		return PrepareMsg{}, fmt.Errorf("consensus: pre-prepare view %d does not match current view %d", msg.View, b.viewNumber)
	}

	hash := msg.Block.Hash()
	b.prePrepareReceived[hash] = preparedBlock{block: msg.Block, preprepare: msg}

	sig := b.localKey.SignWithDomain(hash[:], bls.DomainPrepare)
	return PrepareMsg{
		View:      msg.View,
		Sequence:  msg.Sequence,
		BlockHash: hash,
		Signature: sig.Bytes(),
		Signer:    b.localValidator,
	}, nil
}

// HandlePrepare is phase 2: record the vote, and once quorum prepares have
// been seen for this block, advance to a Commit vote.
func (b *BFTConsensus) HandlePrepare(msg PrepareMsg) (*CommitMsg, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if msg.View != b.viewNumber {
		return nil, fmt.Errorf("consensus: prepare view %d does not match current view %d", msg.View, b.viewNumber)
	}

	b.prepareVotes[msg.BlockHash] = append(b.prepareVotes[msg.BlockHash], msg)

	quorum := calculateQuorum(b.validators.Len())
	if len(b.prepareVotes[msg.BlockHash]) < quorum {
		return nil, nil
	}

	sig := b.localKey.SignWithDomain(msg.BlockHash[:], bls.DomainCommit)
	return &CommitMsg{
		View:      msg.View,
		Sequence:  msg.Sequence,
		BlockHash: msg.BlockHash,
		Signature: sig.Bytes(),
		Signer:    b.localValidator,
	}, nil
}

// HandleCommit is phase 3: record the vote, and once quorum commits have
// been seen, move the block from pending into the committed set and report
// finalization.
func (b *BFTConsensus) HandleCommit(msg CommitMsg) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if msg.View != b.viewNumber {
		return false, fmt.Errorf("consensus: commit view %d does not match current view %d", msg.View, b.viewNumber)
	}

	b.commitVotes[msg.BlockHash] = append(b.commitVotes[msg.BlockHash], msg)

	quorum := calculateQuorum(b.validators.Len())
	if len(b.commitVotes[msg.BlockHash]) < quorum {
		return false, nil
	}

	pending, ok := b.prePrepareReceived[msg.BlockHash]
	if !ok {
		return false, fmt.Errorf("consensus: commit quorum reached for unknown block %s", msg.BlockHash)
	}

	b.committedBlocks[msg.BlockHash] = pending.block
	delete(b.prePrepareReceived, msg.BlockHash)
	delete(b.prepareVotes, msg.BlockHash)
	delete(b.commitVotes, msg.BlockHash)
	return true, nil
}

// HandleViewChange advances to newView, discarding all in-flight vote
// state for the superseded view. View numbers only move forward.
func (b *BFTConsensus) HandleViewChange(newView uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if newView <= b.viewNumber {
		return fmt.Errorf("consensus: view change to %d is not greater than current view %d", newView, b.viewNumber)
	}

	b.viewNumber = newView
	b.prePrepareReceived = make(map[primitives.Hash]preparedBlock)
	b.prepareVotes = make(map[primitives.Hash][]PrepareMsg)
	b.commitVotes = make(map[primitives.Hash][]CommitMsg)
	return nil
}

// CommittedBlock returns a finalized block by hash, if present.
func (b *BFTConsensus) CommittedBlock(hash primitives.Hash) (*ledger.Block, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	block, ok := b.committedBlocks[hash]
	return block, ok
}

// ViewNumber returns the current view.
func (b *BFTConsensus) ViewNumber() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.viewNumber
}
