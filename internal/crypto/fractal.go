package crypto

import (
	"encoding/binary"
	"fmt"
	"strconv"

	"github.com/spirachain/validator/internal/primitives"
)

// piDigits are the decimal digits of pi, cycled through by FractalKeyRotation
// the same way the reference implementation derives its digit cache from
// math.Pi's decimal expansion.
var piDigits = func() []byte {
	const approx = "3.14159265358979323846264338327950288419716939937510582097494459230781640628620899862803482534211706798214808651328230664709384460955058223172535940812848111745028410270193852110555964462294895493038196"
	digits := make([]byte, 0, len(approx))
	for _, r := range approx {
		if r >= '0' && r <= '9' {
			d, _ := strconv.Atoi(string(r))
			digits = append(digits, byte(d))
		}
	}
	return digits
}()

// FractalKeyRotation derives a sequence of mutually-derivable keys keyed on
// the decimal digits of pi: next = digest(previous || (counter*digit) ||
// digit).
type FractalKeyRotation struct {
	counter uint64
}

// NewFractalKeyRotation creates a rotation sequence starting at counter 0.
func NewFractalKeyRotation() *FractalKeyRotation {
	return &FractalKeyRotation{}
}

// DeriveNextKey advances the rotation and returns the next key.
func (f *FractalKeyRotation) DeriveNextKey(previousKey []byte) []byte {
	key := f.deriveAt(previousKey, f.counter)
	f.counter++
	return key
}

// DeriveKeyAtIndex derives the key at a specific index without mutating
// rotation state; two independently constructed rotations agree at the
// same index.
func (f *FractalKeyRotation) DeriveKeyAtIndex(baseKey []byte, index uint64) []byte {
	return f.deriveAt(baseKey, index)
}

func (f *FractalKeyRotation) deriveAt(key []byte, index uint64) []byte {
	digit := piDigits[index%uint64(len(piDigits))]

	var counterBuf [8]byte
	binary.BigEndian.PutUint64(counterBuf[:], index*uint64(digit))

	buf := make([]byte, 0, len(key)+8+1)
	buf = append(buf, key...)
	buf = append(buf, counterBuf[:]...)
	buf = append(buf, digit)

	h := primitives.Digest(buf)
	return h.Bytes()
}

// RotationCount returns how many keys have been derived via DeriveNextKey.
func (f *FractalKeyRotation) RotationCount() uint64 { return f.counter }

// ShouldRotate mirrors the reference implementation's simple elapsed-time
// trigger for scheduled rotation.
func (f *FractalKeyRotation) ShouldRotate(secondsElapsed uint64) bool {
	return secondsElapsed > 10
}

// String avoids leaking counter-derived key material in logs beyond the
// rotation count.
func (f *FractalKeyRotation) String() string {
	return fmt.Sprintf("FractalKeyRotation{rotation_count: %d}", f.counter)
}
