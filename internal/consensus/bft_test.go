package consensus

import (
	"testing"

	"github.com/spirachain/validator/internal/crypto/bls"
	"github.com/spirachain/validator/internal/ledger"
	"github.com/spirachain/validator/internal/primitives"
)

func newTestBFT(t *testing.T, n int) (*BFTConsensus, primitives.Address) {
	t.Helper()
	set := NewValidatorSet()
	for i := 0; i < n; i++ {
		v := NewValidator(testPubkey(byte(i+1)), primitives.MinValidatorStakeAmount(), 0)
		if err := set.AddValidator(v); err != nil {
			t.Fatalf("AddValidator: %v", err)
		}
	}

	key, _, err := bls.GenerateKeyPairFromSeed([]byte("bft-consensus-test-seed-0000000"))
	if err != nil {
		t.Fatalf("GenerateKeyPairFromSeed: %v", err)
	}

	local := primitives.AddressFromPublicKey(testPubkey(1))
	return NewBFTConsensus(set, local, key), local
}

func TestBFTInitialization(t *testing.T) {
	b, _ := newTestBFT(t, 4)
	if b.ViewNumber() != 0 {
		t.Fatalf("ViewNumber() = %d, want 0", b.ViewNumber())
	}
}

func TestBFTQuorumCalculation(t *testing.T) {
	cases := []struct {
		n    int
		want int
	}{
		{1, 1},
		{3, 3},
		{4, 3},
		{10, 7},
		{0, 1},
	}
	for _, c := range cases {
		if got := calculateQuorum(c.n); got != c.want {
			t.Errorf("calculateQuorum(%d) = %d, want %d", c.n, got, c.want)
		}
	}
}

func TestBFTProposeBlockIncrementsSequence(t *testing.T) {
	b, _ := newTestBFT(t, 4)

	block := ledger.NewBlock(primitives.ZeroHash, 1)
	msg, err := b.ProposeBlock(block)
	if err != nil {
		t.Fatalf("ProposeBlock: %v", err)
	}
	if msg.Sequence != 0 {
		t.Fatalf("Sequence = %d, want 0", msg.Sequence)
	}
	if len(msg.Signature) == 0 {
		t.Fatal("expected a nonempty signature")
	}

	msg2, err := b.ProposeBlock(block)
	if err != nil {
		t.Fatalf("ProposeBlock: %v", err)
	}
	if msg2.Sequence != 1 {
		t.Fatalf("second Sequence = %d, want 1", msg2.Sequence)
	}
}

func TestBFTFullRoundReachesCommit(t *testing.T) {
	b, local := newTestBFT(t, 1)

	block := ledger.NewBlock(primitives.ZeroHash, 1)
	preprepare, err := b.ProposeBlock(block)
	if err != nil {
		t.Fatalf("ProposeBlock: %v", err)
	}

	prepare, err := b.HandlePrePrepare(preprepare)
	if err != nil {
		t.Fatalf("HandlePrePrepare: %v", err)
	}

	commit, err := b.HandlePrepare(prepare)
	if err != nil {
		t.Fatalf("HandlePrepare: %v", err)
	}
	if commit == nil {
		t.Fatal("expected a commit message once quorum (1-of-1) is reached")
	}

	finalized, err := b.HandleCommit(*commit)
	if err != nil {
		t.Fatalf("HandleCommit: %v", err)
	}
	if !finalized {
		t.Fatal("expected the block to be finalized once commit quorum is reached")
	}

	if _, ok := b.CommittedBlock(block.Hash()); !ok {
		t.Fatal("expected the committed block to be retrievable")
	}
	_ = local
}

func TestBFTViewChangeRejectsNonIncreasingView(t *testing.T) {
	b, _ := newTestBFT(t, 4)

	if err := b.HandleViewChange(0); err == nil {
		t.Fatal("expected view change to the same view to be rejected")
	}
	if err := b.HandleViewChange(5); err != nil {
		t.Fatalf("HandleViewChange: %v", err)
	}
	if b.ViewNumber() != 5 {
		t.Fatalf("ViewNumber() = %d, want 5", b.ViewNumber())
	}
	if err := b.HandleViewChange(3); err == nil {
		t.Fatal("expected a downward view change to be rejected")
	}
}

func TestBFTHandlePrePrepareRejectsStaleView(t *testing.T) {
	b, _ := newTestBFT(t, 4)
	if err := b.HandleViewChange(2); err != nil {
		t.Fatalf("HandleViewChange: %v", err)
	}

	block := ledger.NewBlock(primitives.ZeroHash, 1)
	staleMsg := PrePrepareMsg{View: 0, Sequence: 0, Block: block}
	if _, err := b.HandlePrePrepare(staleMsg); err == nil {
		t.Fatal("expected pre-prepare from a stale view to be rejected")
	}
}
