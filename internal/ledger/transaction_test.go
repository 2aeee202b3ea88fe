package ledger

import (
	"testing"

	"github.com/spirachain/validator/internal/primitives"
)

func testAddress(b byte) primitives.Address {
	var a primitives.Address
	for i := range a {
		a[i] = b
	}
	return a
}

func TestTransactionHashDeterministic(t *testing.T) {
	from, to := testAddress(1), testAddress(2)
	amount := primitives.NewAmount(100_000_000_000_000_000)
	fee := primitives.MinTxFeeAmount()

	tx1 := NewTransaction(from, to, amount, fee, 1_700_000_000_000)
	tx1.Purpose = "payment"
	tx1.ComputeHash()

	tx2 := NewTransaction(from, to, amount, fee, 1_700_000_000_000)
	tx2.Purpose = "payment"
	tx2.ComputeHash()

	if tx1.TxHash != tx2.TxHash {
		t.Fatal("identical transactions hashed to different values")
	}
}

func TestTransactionHashExcludesSignature(t *testing.T) {
	from, to := testAddress(1), testAddress(2)
	amount := primitives.NewAmount(1)
	fee := primitives.MinTxFeeAmount()

	tx := NewTransaction(from, to, amount, fee, 1)
	tx.ComputeHash()
	before := tx.TxHash

	tx.Signature = []byte("some signature bytes")
	tx.ComputeHash()

	if tx.TxHash != before {
		t.Fatal("signature must not affect the identity hash")
	}
}

func TestTransactionValidateRejectsZeroAmount(t *testing.T) {
	tx := NewTransaction(testAddress(1), testAddress(2), primitives.ZeroAmount(), primitives.MinTxFeeAmount(), 1)
	tx.Signature = []byte{0x01}
	if err := tx.Validate(); err == nil {
		t.Fatal("expected error for zero amount")
	}
}

func TestTransactionValidateRejectsLowFee(t *testing.T) {
	tx := NewTransaction(testAddress(1), testAddress(2), primitives.NewAmount(1), primitives.NewAmount(1), 1)
	tx.Signature = []byte{0x01}
	if err := tx.Validate(); err == nil {
		t.Fatal("expected error for fee below MIN_TX_FEE")
	}
}

func TestTransactionValidateRejectsMissingSignature(t *testing.T) {
	tx := NewTransaction(testAddress(1), testAddress(2), primitives.NewAmount(1), primitives.MinTxFeeAmount(), 1)
	if err := tx.Validate(); err == nil {
		t.Fatal("expected error for missing signature")
	}
}

func TestTransactionValidateRejectsZeroAddress(t *testing.T) {
	tx := NewTransaction(primitives.ZeroAddress, testAddress(2), primitives.NewAmount(1), primitives.MinTxFeeAmount(), 1)
	tx.Signature = []byte{0x01}
	if err := tx.Validate(); err == nil {
		t.Fatal("expected error for zero sender address")
	}
}

func TestTransactionValidatePasses(t *testing.T) {
	tx := NewTransaction(testAddress(1), testAddress(2), primitives.NewAmount(1), primitives.MinTxFeeAmount(), 1)
	tx.Signature = []byte{0x01}
	if err := tx.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestSemanticCoherenceEmptyVector(t *testing.T) {
	tx := NewTransaction(testAddress(1), testAddress(2), primitives.NewAmount(1), primitives.MinTxFeeAmount(), 1)
	if c := tx.SemanticCoherence(); c != 0 {
		t.Fatalf("SemanticCoherence() = %f, want 0", c)
	}
}

func TestSemanticCoherenceClampedToOne(t *testing.T) {
	tx := NewTransaction(testAddress(1), testAddress(2), primitives.NewAmount(1), primitives.MinTxFeeAmount(), 1)
	tx.SemanticVector = []float32{10, 10, 10}
	if c := tx.SemanticCoherence(); c != 1.0 {
		t.Fatalf("SemanticCoherence() = %f, want 1.0", c)
	}
}
