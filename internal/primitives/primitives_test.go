package primitives

import "testing"

func TestHashRoundTrip(t *testing.T) {
	h := Digest([]byte("spirachain"))
	s := h.String()
	parsed, err := ParseHash(s)
	if err != nil {
		t.Fatalf("ParseHash: %v", err)
	}
	if parsed != h {
		t.Fatalf("round trip mismatch: got %s want %s", parsed, h)
	}
}

func TestDigestDeterministic(t *testing.T) {
	a := Digest([]byte("test data"))
	b := Digest([]byte("test data"))
	if a != b {
		t.Fatalf("identical input produced different digests")
	}
	c := Digest([]byte("different"))
	if a == c {
		t.Fatalf("different input produced identical digests")
	}
}

func TestDoubleDigestNonZero(t *testing.T) {
	h := DoubleDigest([]byte("test data"))
	if h.IsZero() {
		t.Fatalf("double digest should not be zero")
	}
}

func TestAddressFromPublicKey(t *testing.T) {
	pub := make([]byte, 32)
	for i := range pub {
		pub[i] = 0x01
	}
	addr := AddressFromPublicKey(pub)
	if addr.IsZero() {
		t.Fatalf("address should not be zero")
	}
}

func TestAmountCheckedArithmetic(t *testing.T) {
	a := NewAmount(100)
	b := NewAmount(50)

	sum, ok := a.CheckedAdd(b)
	if !ok || sum.String() != "150" {
		t.Fatalf("CheckedAdd: got %s ok=%v", sum, ok)
	}

	diff, ok := a.CheckedSub(b)
	if !ok || diff.String() != "50" {
		t.Fatalf("CheckedSub: got %s ok=%v", diff, ok)
	}

	_, ok = b.CheckedSub(a)
	if ok {
		t.Fatalf("expected underflow to fail")
	}

	huge, _ := NewAmountFromBig(maxAmount)
	_, ok = huge.CheckedAdd(NewAmount(1))
	if ok {
		t.Fatalf("expected overflow past u128 to fail")
	}
}

func TestAmountJSONRoundTrip(t *testing.T) {
	a := NewAmount(123456789)
	data, err := a.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	var b Amount
	if err := b.UnmarshalJSON(data); err != nil {
		t.Fatalf("UnmarshalJSON: %v", err)
	}
	if a.Cmp(b) != 0 {
		t.Fatalf("round trip mismatch: %s vs %s", a, b)
	}
}

func TestPiCoordinateWithinBounds(t *testing.T) {
	p := DerivePiCoordinate(Digest([]byte("block")), 1700000000000, 42)
	for _, v := range []float64{p.X, p.Y, p.Z, p.T} {
		if v < -1.0 || v > 1.0 {
			t.Fatalf("coordinate component %v out of [-1,1]", v)
		}
	}
}

func TestPiCoordinateDistance(t *testing.T) {
	p1 := PiCoordinate{X: 0, Y: 0, Z: 0, T: 0}
	p2 := PiCoordinate{X: 1, Y: 0, Z: 0, T: 0}
	if d := p1.Distance(p2); d != 1.0 {
		t.Fatalf("expected distance 1.0, got %v", d)
	}
}
