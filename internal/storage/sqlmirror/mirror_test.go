package sqlmirror

import (
	"context"
	"os"
	"testing"

	"github.com/spirachain/validator/internal/ledger"
	"github.com/spirachain/validator/internal/primitives"
)

// testMirror opens a Mirror against SPIRACHAIN_TEST_DB if set, skipping
// the test otherwise; these tests exercise real Postgres behavior
// (ON CONFLICT upserts, migrations) that a mock cannot stand in for.
func testMirror(t *testing.T) *Mirror {
	t.Helper()
	dsn := os.Getenv("SPIRACHAIN_TEST_DB")
	if dsn == "" {
		t.Skip("SPIRACHAIN_TEST_DB not set, skipping sqlmirror integration test")
	}

	m, err := Open(dsn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { m.Close() })

	ctx := context.Background()
	if err := m.MigrateUp(ctx); err != nil {
		t.Fatalf("MigrateUp: %v", err)
	}
	return m
}

func testBlock(height uint64) *ledger.Block {
	b := ledger.NewBlock(primitives.Digest([]byte("parent")), height)
	b.Header.Timestamp = 1_700_000_000_000
	b.Header.ValidatorPubkey = []byte("validator-pubkey")
	b.Header.StateRoot = primitives.Digest([]byte("state"))
	b.Header.Spiral.Complexity = 72.5
	b.Header.Spiral.SemanticCoherence = 0.88
	b.Header.Signature = []byte{0x01}

	from := primitives.Digest([]byte("sender"))
	to := primitives.Digest([]byte("recipient"))
	tx := ledger.Transaction{
		Version:   1,
		From:      primitives.Address(from),
		To:        primitives.Address(to),
		Amount:    primitives.NewAmount(1000),
		Fee:       primitives.NewAmount(10),
		Timestamp: b.Header.Timestamp,
	}
	tx.ComputeHash()
	b.WithTransactions([]ledger.Transaction{tx})
	b.ComputeMerkleRoot()
	return b
}

func TestMirrorBlockIsIdempotent(t *testing.T) {
	m := testMirror(t)
	ctx := context.Background()

	block := testBlock(500)
	if err := m.MirrorBlock(ctx, block); err != nil {
		t.Fatalf("MirrorBlock: %v", err)
	}
	if err := m.MirrorBlock(ctx, block); err != nil {
		t.Fatalf("MirrorBlock (replay): %v", err)
	}

	height, err := m.ChainHeight(ctx)
	if err != nil {
		t.Fatalf("ChainHeight: %v", err)
	}
	if height < 500 {
		t.Fatalf("ChainHeight() = %d, want >= 500", height)
	}
}

func TestBlocksByProposer(t *testing.T) {
	m := testMirror(t)
	ctx := context.Background()

	block := testBlock(501)
	if err := m.MirrorBlock(ctx, block); err != nil {
		t.Fatalf("MirrorBlock: %v", err)
	}

	summaries, err := m.BlocksByProposer(ctx, block.Header.ValidatorPubkey, 10)
	if err != nil {
		t.Fatalf("BlocksByProposer: %v", err)
	}
	found := false
	for _, s := range summaries {
		if s.Height == 501 {
			found = true
		}
	}
	if !found {
		t.Fatal("expected the mirrored block to appear in BlocksByProposer")
	}
}

func TestTransactionsByAddress(t *testing.T) {
	m := testMirror(t)
	ctx := context.Background()

	block := testBlock(502)
	if err := m.MirrorBlock(ctx, block); err != nil {
		t.Fatalf("MirrorBlock: %v", err)
	}

	hashes, err := m.TransactionsByAddress(ctx, block.Transactions[0].From.Bytes(), 10)
	if err != nil {
		t.Fatalf("TransactionsByAddress: %v", err)
	}
	if len(hashes) == 0 {
		t.Fatal("expected at least one transaction for the sender address")
	}
}
