package mempool

import (
	"testing"

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

func testTx(feeUnits int64, nonce uint64) ledger.Transaction {
	amount := primitives.NewAmount(1)
	feeAmount := primitives.MinTxFeeAmount()
	if feeUnits > 0 {
		sum, ok := feeAmount.CheckedAdd(primitives.NewAmount(feeUnits))
		if !ok {
			panic("mempool_test: fee overflow")
		}
		feeAmount = sum
	}
	tx := ledger.NewTransaction(testAddress(1), testAddress(2), amount, feeAmount, nonce)
	tx.Signature = []byte{0x01}
	tx.ComputeHash()
	return *tx
}

func TestAddAndGetTransaction(t *testing.T) {
	mp := New(10)
	tx := testTx(0, 1)

	if err := mp.AddTransaction(tx); err != nil {
		t.Fatalf("AddTransaction: %v", err)
	}

	got, ok := mp.GetTransaction(tx.TxHash)
	if !ok {
		t.Fatal("expected transaction to be present")
	}
	if got.TxHash != tx.TxHash {
		t.Fatal("returned transaction hash mismatch")
	}
}

func TestAddTransactionRejectsInvalid(t *testing.T) {
	mp := New(10)
	tx := testTx(0, 1)
	tx.Signature = nil

	if err := mp.AddTransaction(tx); err == nil {
		t.Fatal("expected error for unsigned transaction")
	}
}

func TestRemoveTransaction(t *testing.T) {
	mp := New(10)
	tx := testTx(0, 1)
	_ = mp.AddTransaction(tx)

	if !mp.RemoveTransaction(tx.TxHash) {
		t.Fatal("expected removal to succeed")
	}
	if _, ok := mp.GetTransaction(tx.TxHash); ok {
		t.Fatal("transaction should no longer be present")
	}
	if mp.RemoveTransaction(tx.TxHash) {
		t.Fatal("removing an already-removed transaction should report false")
	}
}

func TestGetPendingTransactionsOrderedByFeeDescending(t *testing.T) {
	mp := New(10)
	low := testTx(0, 1)
	high := testTx(1_000_000, 2)
	mid := testTx(500_000, 3)

	_ = mp.AddTransaction(low)
	_ = mp.AddTransaction(high)
	_ = mp.AddTransaction(mid)

	pending := mp.GetPendingTransactions(10)
	if len(pending) != 3 {
		t.Fatalf("len(pending) = %d, want 3", len(pending))
	}
	if pending[0].TxHash != high.TxHash {
		t.Fatal("expected highest-fee transaction first")
	}
	if pending[2].TxHash != low.TxHash {
		t.Fatal("expected lowest-fee transaction last")
	}
}

func TestGetPendingTransactionsRespectsLimit(t *testing.T) {
	mp := New(10)
	for i := int64(0); i < 5; i++ {
		_ = mp.AddTransaction(testTx(i*1000, uint64(i)+1))
	}

	pending := mp.GetPendingTransactions(2)
	if len(pending) != 2 {
		t.Fatalf("len(pending) = %d, want 2", len(pending))
	}
}

func TestAddTransactionEvictsLowestFeeWhenFull(t *testing.T) {
	mp := New(2)
	low := testTx(0, 1)
	high := testTx(1_000_000, 2)
	higher := testTx(2_000_000, 3)

	_ = mp.AddTransaction(low)
	_ = mp.AddTransaction(high)
	if err := mp.AddTransaction(higher); err != nil {
		t.Fatalf("AddTransaction: %v", err)
	}

	if mp.Size() != 2 {
		t.Fatalf("Size() = %d, want 2", mp.Size())
	}
	if _, ok := mp.GetTransaction(low.TxHash); ok {
		t.Fatal("lowest-fee transaction should have been evicted")
	}
	if _, ok := mp.GetTransaction(higher.TxHash); !ok {
		t.Fatal("newly added transaction should be present")
	}
}

func TestClear(t *testing.T) {
	mp := New(10)
	_ = mp.AddTransaction(testTx(0, 1))
	mp.Clear()

	if mp.Size() != 0 {
		t.Fatalf("Size() = %d after Clear, want 0", mp.Size())
	}
}
