package validatorloop

import (
	"context"
	"testing"

	dbm "github.com/cometbft/cometbft-db"

	"github.com/spirachain/validator/internal/consensus"
	"github.com/spirachain/validator/internal/crypto/bls"
	"github.com/spirachain/validator/internal/genesis"
	"github.com/spirachain/validator/internal/ledger"
	"github.com/spirachain/validator/internal/mempool"
	"github.com/spirachain/validator/internal/primitives"
	"github.com/spirachain/validator/internal/storage"
	"github.com/spirachain/validator/internal/worldstate"
)

func testAddress(b byte) primitives.Address {
	var a primitives.Address
	for i := range a {
		a[i] = b
	}
	return a
}

// newTestLoop wires a single-validator roster, so BFT quorum (1-of-1) is
// reached the moment the lone validator proposes a block, without any
// network relay.
func newTestLoop(t *testing.T) (*Loop, *storage.Store) {
	t.Helper()

	key, pub, err := bls.GenerateKeyPairFromSeed([]byte("validatorloop-test-seed-000000"))
	if err != nil {
		t.Fatalf("GenerateKeyPairFromSeed: %v", err)
	}
	local := primitives.AddressFromPublicKey(pub.Bytes())

	validators := consensus.NewValidatorSet()
	v := consensus.NewValidator(pub.Bytes(), primitives.MinValidatorStakeAmount(), 0)
	if err := validators.AddValidator(v); err != nil {
		t.Fatalf("AddValidator: %v", err)
	}

	store := storage.Open(dbm.NewMemDB())
	state := worldstate.New()

	cfg := Config{
		LocalAddress: local,
		LocalKey:     key,
		Validators:   validators,
		Mempool:      mempool.New(mempool.DefaultMaxSize),
		State:        state,
		Storage:      store,
		Slot:         consensus.NewSlotConsensus(validators, 30),
		Engine:       consensus.NewProofOfSpiralEngine(),
		BFT:          consensus.NewBFTConsensus(validators, local, key),
		Attack:       consensus.NewAttackMitigation(),
	}
	return New(cfg), store
}

func TestProduceBlockCreatesGenesisWhenStoreIsEmpty(t *testing.T) {
	l, store := newTestLoop(t)

	if err := l.produceBlock(context.Background()); err != nil {
		t.Fatalf("produceBlock: %v", err)
	}

	block, ok, err := store.GetLatestBlock()
	if err != nil {
		t.Fatalf("GetLatestBlock: %v", err)
	}
	if !ok {
		t.Fatal("expected a genesis block to be stored")
	}
	if block.Header.BlockHeight != 0 {
		t.Fatalf("genesis height = %d, want 0", block.Header.BlockHeight)
	}

	treasury := l.cfg.State.GetBalance(genesis.TreasuryAddress)
	if treasury.IsZero() {
		t.Fatal("expected the treasury allocation to be seeded at genesis")
	}
}

func TestProduceBlockFinalizesOneValidatorRound(t *testing.T) {
	l, store := newTestLoop(t)
	ctx := context.Background()

	if err := l.produceBlock(ctx); err != nil {
		t.Fatalf("produceBlock (genesis): %v", err)
	}
	if err := l.produceBlock(ctx); err != nil {
		t.Fatalf("produceBlock (block 1): %v", err)
	}

	height, err := store.GetChainHeight()
	if err != nil {
		t.Fatalf("GetChainHeight: %v", err)
	}
	if height != 1 {
		t.Fatalf("chain height = %d, want 1", height)
	}
	if got := l.BlocksProduced(); got != 1 {
		t.Fatalf("BlocksProduced() = %d, want 1", got)
	}

	proposer, ok := l.cfg.Validators.GetValidator(l.cfg.LocalAddress)
	if !ok {
		t.Fatal("expected the local validator to still be enrolled")
	}
	if proposer.BlocksProposed != 1 {
		t.Fatalf("BlocksProposed = %d, want 1", proposer.BlocksProposed)
	}
	if proposer.RewardsEarned.IsZero() {
		t.Fatal("expected the proposer to be credited a block reward")
	}
}

func TestSubmitTransactionRejectsInsufficientBalance(t *testing.T) {
	l, _ := newTestLoop(t)

	from := testAddress(1)
	to := testAddress(2)
	tx := ledger.NewTransaction(from, to, primitives.NewAmount(1_000_000), primitives.MinTxFeeAmount(), 1000)
	tx.Signature = []byte{0x01}
	tx.ComputeHash()

	if err := l.SubmitTransaction(*tx); err == nil {
		t.Fatal("expected SubmitTransaction to reject a sender with no balance")
	}
}

func TestSubmitTransactionAdmitsFundedSender(t *testing.T) {
	l, _ := newTestLoop(t)

	from := testAddress(1)
	to := testAddress(2)
	l.cfg.State.SetBalance(from, primitives.NewAmount(1_000_000))

	tx := ledger.NewTransaction(from, to, primitives.NewAmount(100), primitives.MinTxFeeAmount(), 1000)
	tx.Signature = []byte{0x01}
	tx.ComputeHash()

	if err := l.SubmitTransaction(*tx); err != nil {
		t.Fatalf("SubmitTransaction: %v", err)
	}
	if l.cfg.Mempool.Size() != 1 {
		t.Fatalf("mempool size = %d, want 1", l.cfg.Mempool.Size())
	}
}

func TestStopIsIdempotent(t *testing.T) {
	l, _ := newTestLoop(t)
	l.Stop()
	l.Stop()
}
