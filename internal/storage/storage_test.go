package storage

import (
	"testing"

	dbm "github.com/cometbft/cometbft-db"

	"github.com/spirachain/validator/internal/ledger"
	"github.com/spirachain/validator/internal/primitives"
)

func testAddress(b byte) primitives.Address {
	var a primitives.Address
	for i := range a {
		a[i] = b
	}
	return a
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return Open(dbm.NewMemDB())
}

func testBlock(height uint64, prev primitives.Hash) *ledger.Block {
	block := ledger.NewBlock(prev, height)
	block.Header.Spiral.Complexity = primitives.MinSpiralComplexity
	block.Header.Signature = []byte{0x01}

	tx := ledger.NewTransaction(testAddress(1), testAddress(2), primitives.NewAmount(1), primitives.MinTxFeeAmount(), height)
	tx.SemanticVector = []float32{1, 0, 0}
	tx.Signature = []byte{0x01}
	tx.ComputeHash()
	block.WithTransactions([]ledger.Transaction{*tx})
	block.ComputeMerkleRoot()
	return block
}

func TestStoreAndGetBlockByHeight(t *testing.T) {
	s := newTestStore(t)
	block := testBlock(1, primitives.ZeroHash)

	if err := s.StoreBlock(block); err != nil {
		t.Fatalf("StoreBlock: %v", err)
	}

	got, ok, err := s.GetBlockByHeight(1)
	if err != nil {
		t.Fatalf("GetBlockByHeight: %v", err)
	}
	if !ok {
		t.Fatal("expected block to be found")
	}
	if got.Hash() != block.Hash() {
		t.Fatal("retrieved block hash mismatch")
	}
}

func TestGetBlockByHash(t *testing.T) {
	s := newTestStore(t)
	block := testBlock(1, primitives.ZeroHash)
	_ = s.StoreBlock(block)

	got, ok, err := s.GetBlockByHash(block.Hash())
	if err != nil {
		t.Fatalf("GetBlockByHash: %v", err)
	}
	if !ok {
		t.Fatal("expected block to be found")
	}
	if got.Header.BlockHeight != 1 {
		t.Fatalf("BlockHeight = %d, want 1", got.Header.BlockHeight)
	}
}

func TestGetBlockMissingReturnsNotFound(t *testing.T) {
	s := newTestStore(t)

	_, ok, err := s.GetBlockByHeight(99)
	if err != nil {
		t.Fatalf("GetBlockByHeight: %v", err)
	}
	if ok {
		t.Fatal("expected no block to be found")
	}
}

func TestChainHeightTracksHighestStoredBlock(t *testing.T) {
	s := newTestStore(t)

	if h, err := s.GetChainHeight(); err != nil || h != 0 {
		t.Fatalf("GetChainHeight() = (%d, %v), want (0, nil) for empty store", h, err)
	}

	b1 := testBlock(1, primitives.ZeroHash)
	_ = s.StoreBlock(b1)
	b2 := testBlock(2, b1.Hash())
	_ = s.StoreBlock(b2)

	height, err := s.GetChainHeight()
	if err != nil {
		t.Fatalf("GetChainHeight: %v", err)
	}
	if height != 2 {
		t.Fatalf("GetChainHeight() = %d, want 2", height)
	}
}

func TestGetLatestBlock(t *testing.T) {
	s := newTestStore(t)
	b1 := testBlock(1, primitives.ZeroHash)
	_ = s.StoreBlock(b1)
	b2 := testBlock(2, b1.Hash())
	_ = s.StoreBlock(b2)

	latest, ok, err := s.GetLatestBlock()
	if err != nil {
		t.Fatalf("GetLatestBlock: %v", err)
	}
	if !ok {
		t.Fatal("expected a latest block")
	}
	if latest.Header.BlockHeight != 2 {
		t.Fatalf("latest height = %d, want 2", latest.Header.BlockHeight)
	}
}

func TestGetTransactionIndexedFromStoredBlock(t *testing.T) {
	s := newTestStore(t)
	block := testBlock(1, primitives.ZeroHash)
	_ = s.StoreBlock(block)

	txHash := block.Transactions[0].TxHash
	got, ok, err := s.GetTransaction(txHash)
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if !ok {
		t.Fatal("expected transaction to be indexed")
	}
	if got.TxHash != txHash {
		t.Fatal("retrieved transaction hash mismatch")
	}
}
