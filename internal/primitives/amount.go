package primitives

import (
	"encoding/json"
	"fmt"
	"math/big"
)

// maxAmount is 2^128 - 1, the ceiling for the unsigned 128-bit base-unit
// integer the spec mandates.
var maxAmount = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

// Amount is an unsigned 128-bit integer of indivisible base units.
// The zero value is zero. All arithmetic is checked: overflow or underflow
// returns ok=false instead of wrapping.
type Amount struct {
	v big.Int
}

// ZeroAmount is the additive identity.
func ZeroAmount() Amount { return Amount{} }

// NewAmount constructs an Amount from a non-negative int64 of base units.
func NewAmount(baseUnits int64) Amount {
	if baseUnits < 0 {
		panic("primitives: negative amount")
	}
	var a Amount
	a.v.SetInt64(baseUnits)
	return a
}

// NewAmountFromBig constructs an Amount from a big.Int, which must be in
// [0, 2^128).
func NewAmountFromBig(v *big.Int) (Amount, error) {
	if v.Sign() < 0 || v.Cmp(maxAmount) > 0 {
		return Amount{}, fmt.Errorf("primitives: amount %s out of u128 range", v)
	}
	var a Amount
	a.v.Set(v)
	return a, nil
}

// ParseAmount parses a base-10 string of base units.
func ParseAmount(s string) (Amount, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Amount{}, fmt.Errorf("primitives: invalid amount %q", s)
	}
	return NewAmountFromBig(v)
}

// Big returns a copy of the underlying big.Int.
func (a Amount) Big() *big.Int {
	return new(big.Int).Set(&a.v)
}

func (a Amount) IsZero() bool {
	return a.v.Sign() == 0
}

func (a Amount) Cmp(other Amount) int {
	return a.v.Cmp(&other.v)
}

func (a Amount) LessThan(other Amount) bool {
	return a.Cmp(other) < 0
}

// CheckedAdd returns a+b, or ok=false if the result would overflow 2^128-1.
func (a Amount) CheckedAdd(b Amount) (Amount, bool) {
	sum := new(big.Int).Add(&a.v, &b.v)
	if sum.Cmp(maxAmount) > 0 {
		return Amount{}, false
	}
	return Amount{v: *sum}, true
}

// CheckedSub returns a-b, or ok=false if b > a.
func (a Amount) CheckedSub(b Amount) (Amount, bool) {
	if a.v.Cmp(&b.v) < 0 {
		return Amount{}, false
	}
	diff := new(big.Int).Sub(&a.v, &b.v)
	return Amount{v: *diff}, true
}

// Bytes16BE renders the amount as the canonical 16-byte big-endian form
// used in transaction/block hashing.
func (a Amount) Bytes16BE() [16]byte {
	var out [16]byte
	b := a.v.Bytes()
	copy(out[16-len(b):], b)
	return out
}

func (a Amount) String() string {
	return a.v.String()
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.v.String())
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseAmount(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
