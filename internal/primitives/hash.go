package primitives

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"lukechampine.com/blake3"
)

// Hash is 32 opaque bytes; the zero value is the zero sentinel.
type Hash [32]byte

// ZeroHash is the all-zero sentinel.
var ZeroHash = Hash{}

// Digest returns the blake3 hash of data as a Hash.
func Digest(data []byte) Hash {
	return Hash(blake3.Sum256(data))
}

// KeyedDigest returns the keyed blake3 hash of data under key.
func KeyedDigest(key [32]byte, data []byte) Hash {
	h := blake3.New(32, key[:])
	h.Write(data)
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// DoubleDigest hashes data twice, matching the reference implementation's
// double_hash helper.
func DoubleDigest(data []byte) Hash {
	first := Digest(data)
	return Digest(first[:])
}

// IsZero reports whether h is the zero sentinel.
func (h Hash) IsZero() bool {
	return h == ZeroHash
}

// Bytes returns a copy of the underlying 32 bytes.
func (h Hash) Bytes() []byte {
	out := make([]byte, 32)
	copy(out, h[:])
	return out
}

// Less orders two hashes lexicographically, used to break fork-choice ties.
func (h Hash) Less(other Hash) bool {
	return bytes.Compare(h[:], other[:]) < 0
}

// String renders the hash as 0x + 64 lowercase hex digits.
func (h Hash) String() string {
	return hexutil.Encode(h[:])
}

// ParseHash parses the 0x-prefixed hex form produced by String.
func ParseHash(s string) (Hash, error) {
	b, err := hexutil.Decode(s)
	if err != nil {
		return Hash{}, fmt.Errorf("primitives: invalid hash %q: %w", s, err)
	}
	if len(b) != 32 {
		return Hash{}, fmt.Errorf("primitives: hash %q has %d bytes, want 32", s, len(b))
	}
	var h Hash
	copy(h[:], b)
	return h, nil
}

func (h Hash) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.String())
}

func (h *Hash) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseHash(s)
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}
