package consensus

import (
	"testing"
	"time"

	"github.com/spirachain/validator/internal/ledger"
	"github.com/spirachain/validator/internal/primitives"
)

func blockAtHeight(height uint64, proposerPubkey []byte, txs []ledger.Transaction) *ledger.Block {
	b := ledger.NewBlock(primitives.Digest([]byte{byte(height)}), height)
	b.WithTransactions(txs)
	b.Header.ValidatorPubkey = proposerPubkey
	b.Header.Spiral.Complexity = 100
	b.Header.Spiral.SemanticCoherence = 1.0
	b.ComputeSpiralRoot()
	b.ComputeMerkleRoot()
	b.Header.Signature = []byte{0x01}
	return b
}

func TestAttackMitigationInit(t *testing.T) {
	m := NewAttackMitigation()
	if m.IsFinalized(0) == false {
		t.Fatal("height 0 should be finalized before any checkpoint: lastCheckpointHeight starts at 0")
	}
	if _, ok := m.Detect51Attack(); ok {
		t.Fatal("expected no 51% attack with no recorded blocks")
	}
}

func TestCheckpointCreation(t *testing.T) {
	m := NewAttackMitigation()
	proposer := testPubkey(1)

	for h := uint64(1); h <= uint64(checkpointInterval); h++ {
		block := blockAtHeight(h, proposer, nil)
		if err := m.ProcessBlock(block, 1); err != nil {
			t.Fatalf("ProcessBlock(%d): %v", h, err)
		}
	}

	if !m.IsFinalized(uint64(checkpointInterval)) {
		t.Fatalf("expected height %d to be finalized after its checkpoint", checkpointInterval)
	}
	if m.IsFinalized(uint64(checkpointInterval) + 1) {
		t.Fatal("expected a height past the checkpoint to not yet be finalized")
	}

	if _, ok := m.Checkpoint(uint64(checkpointInterval) + 50); !ok {
		t.Fatal("expected Checkpoint to resolve a height to its rounded-down boundary")
	}
}

func TestDoubleSpendDetection(t *testing.T) {
	m := NewAttackMitigation()
	proposer := testPubkey(1)

	tx := testTransaction(0.8, 1_000_000_000_000_000_000)
	first := blockAtHeight(1, proposer, []ledger.Transaction{tx})
	if err := m.ProcessBlock(first, 1); err != nil {
		t.Fatalf("ProcessBlock(first): %v", err)
	}

	second := blockAtHeight(2, proposer, []ledger.Transaction{tx})
	if err := m.ProcessBlock(second, 1); err == nil {
		t.Fatal("expected a repeated transaction hash to be rejected as a double spend")
	}
}

func TestDoubleSpendWindowExpiry(t *testing.T) {
	m := NewAttackMitigation()
	restore := nowTime
	defer func() { nowTime = restore }()

	base := time.Unix(1_700_000_000, 0)
	nowTime = func() time.Time { return base }

	proposer := testPubkey(1)
	tx := testTransaction(0.8, 1_000_000_000_000_000_000)
	first := blockAtHeight(1, proposer, []ledger.Transaction{tx})
	if err := m.ProcessBlock(first, 1); err != nil {
		t.Fatalf("ProcessBlock(first): %v", err)
	}

	// A later, empty block runs cleanup and evicts the now-stale sighting
	// before the duplicate is ever re-checked.
	nowTime = func() time.Time { return base.Add(doubleSpendWindow + time.Second) }
	spacer := blockAtHeight(2, proposer, nil)
	if err := m.ProcessBlock(spacer, 1); err != nil {
		t.Fatalf("ProcessBlock(spacer): %v", err)
	}

	third := blockAtHeight(3, proposer, []ledger.Transaction{tx})
	if err := m.ProcessBlock(third, 1); err != nil {
		t.Fatalf("expected the sighting to have expired out of the window, got: %v", err)
	}
}

func Test51AttackDetection(t *testing.T) {
	m := NewAttackMitigation()
	dominant := testPubkey(1)
	other := testPubkey(2)

	for h := uint64(1); h <= 60; h++ {
		if err := m.ProcessBlock(blockAtHeight(h, dominant, nil), 2); err != nil {
			t.Fatalf("ProcessBlock(%d): %v", h, err)
		}
	}
	for h := uint64(61); h <= 100; h++ {
		if err := m.ProcessBlock(blockAtHeight(h, other, nil), 2); err != nil {
			t.Fatalf("ProcessBlock(%d): %v", h, err)
		}
	}

	addr, ok := m.Detect51Attack()
	if !ok {
		t.Fatal("expected a validator with 60% of recorded blocks to trigger 51% detection")
	}
	if addr != primitives.AddressFromPublicKey(dominant) {
		t.Fatalf("Detect51Attack returned %s, want the dominant proposer", addr)
	}
}

func TestValidatorDominanceTriggersSuspicionAndSlashing(t *testing.T) {
	m := NewAttackMitigation()
	validators := NewValidatorSet()
	dominantPubkey := testPubkey(1)
	dominant := NewValidator(dominantPubkey, primitives.MinValidatorStakeAmount(), 0)
	if err := validators.AddValidator(dominant); err != nil {
		t.Fatalf("AddValidator: %v", err)
	}
	other := testPubkey(2)

	for h := uint64(1); h <= 20; h++ {
		if err := m.ProcessBlock(blockAtHeight(h, dominantPubkey, nil), 4); err != nil {
			t.Fatalf("ProcessBlock(%d): %v", h, err)
		}
	}
	_ = other

	addr := primitives.AddressFromPublicKey(dominantPubkey)
	if _, ok := m.Suspicion(addr); !ok {
		t.Fatal("expected a suspicion record for a validator producing every block in a 4-validator set")
	}

	before := dominant.Stake
	event, err := m.SlashDominantValidator(validators, addr, 20, 0)
	if err != nil {
		t.Fatalf("SlashDominantValidator: %v", err)
	}
	if event.AmountSlashed.IsZero() {
		t.Fatal("expected a nonzero slashing amount")
	}

	updated, _ := validators.GetValidator(addr)
	if updated.Stake.Cmp(before) >= 0 {
		t.Fatal("expected stake to decrease after dominance slashing")
	}

	if _, ok := m.Suspicion(addr); ok {
		t.Fatal("expected the suspicion record to be cleared after slashing")
	}
}
