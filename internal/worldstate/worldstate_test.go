package worldstate

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

func TestGetBalanceDefaultsToZero(t *testing.T) {
	w := New()
	if b := w.GetBalance(testAddress(1)); !b.IsZero() {
		t.Fatalf("GetBalance() = %s, want 0", b)
	}
}

func TestSetAndGetBalance(t *testing.T) {
	w := New()
	addr := testAddress(1)
	amount := primitives.NewAmount(500)

	w.SetBalance(addr, amount)
	if got := w.GetBalance(addr); got.Cmp(amount) != 0 {
		t.Fatalf("GetBalance() = %s, want %s", got, amount)
	}
}

func TestTransferMovesFunds(t *testing.T) {
	w := New()
	from, to := testAddress(1), testAddress(2)
	w.SetBalance(from, primitives.NewAmount(1000))

	if err := w.Transfer(from, to, primitives.NewAmount(400)); err != nil {
		t.Fatalf("Transfer: %v", err)
	}

	if got := w.GetBalance(from); got.Cmp(primitives.NewAmount(600)) != 0 {
		t.Fatalf("sender balance = %s, want 600", got)
	}
	if got := w.GetBalance(to); got.Cmp(primitives.NewAmount(400)) != 0 {
		t.Fatalf("recipient balance = %s, want 400", got)
	}
}

func TestTransferRejectsInsufficientBalance(t *testing.T) {
	w := New()
	from, to := testAddress(1), testAddress(2)
	w.SetBalance(from, primitives.NewAmount(100))

	if err := w.Transfer(from, to, primitives.NewAmount(200)); err == nil {
		t.Fatal("expected error for insufficient balance")
	}
	if got := w.GetBalance(from); got.Cmp(primitives.NewAmount(100)) != 0 {
		t.Fatal("sender balance must be unchanged after a failed transfer")
	}
}

func TestNonceIncrement(t *testing.T) {
	w := New()
	addr := testAddress(1)

	if n := w.GetNonce(addr); n != 0 {
		t.Fatalf("GetNonce() = %d, want 0", n)
	}
	w.IncrementNonce(addr)
	w.IncrementNonce(addr)
	if n := w.GetNonce(addr); n != 2 {
		t.Fatalf("GetNonce() = %d, want 2", n)
	}
}

func TestSetAndGetStake(t *testing.T) {
	w := New()
	addr := testAddress(1)
	stake := primitives.MinValidatorStakeAmount()

	w.SetStake(addr, stake)
	if got := w.GetStake(addr); got.Cmp(stake) != 0 {
		t.Fatalf("GetStake() = %s, want %s", got, stake)
	}
}

func TestHeightRoundTrip(t *testing.T) {
	w := New()
	w.SetHeight(42)
	if h := w.CurrentHeight(); h != 42 {
		t.Fatalf("CurrentHeight() = %d, want 42", h)
	}
}

func TestStateRootDeterministicRegardlessOfInsertOrder(t *testing.T) {
	a, b, c := testAddress(1), testAddress(2), testAddress(3)

	w1 := New()
	w1.SetBalance(a, primitives.NewAmount(100))
	w1.SetBalance(b, primitives.NewAmount(200))
	w1.SetBalance(c, primitives.NewAmount(300))

	w2 := New()
	w2.SetBalance(c, primitives.NewAmount(300))
	w2.SetBalance(a, primitives.NewAmount(100))
	w2.SetBalance(b, primitives.NewAmount(200))

	if w1.StateRoot() != w2.StateRoot() {
		t.Fatal("state root must not depend on account insertion order")
	}
}

func TestStateRootChangesWithBalance(t *testing.T) {
	addr := testAddress(1)

	w := New()
	w.SetBalance(addr, primitives.NewAmount(100))
	root1 := w.StateRoot()

	w.SetBalance(addr, primitives.NewAmount(101))
	root2 := w.StateRoot()

	if root1 == root2 {
		t.Fatal("state root should change when a balance changes")
	}
}

func TestStateRootEmptyState(t *testing.T) {
	w := New()
	if w.StateRoot() != primitives.ZeroHash {
		t.Fatal("empty state should have a zero state root")
	}
}
