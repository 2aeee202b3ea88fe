package primitives

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Address is 32 bytes derived as the digest of a verifying key.
type Address [32]byte

// ZeroAddress is the all-zero sentinel.
var ZeroAddress = Address{}

// AddressFromPublicKey derives the address from a raw verifying key as
// digest(pubkey).
func AddressFromPublicKey(pubkey []byte) Address {
	return Address(Digest(pubkey))
}

func (a Address) IsZero() bool {
	return a == ZeroAddress
}

func (a Address) Bytes() []byte {
	out := make([]byte, 32)
	copy(out, a[:])
	return out
}

// Less orders two addresses lexicographically; used to sort the validator
// roster deterministically for slot assignment and state-root computation.
func (a Address) Less(other Address) bool {
	for i := range a {
		if a[i] != other[i] {
			return a[i] < other[i]
		}
	}
	return false
}

func (a Address) String() string {
	return hexutil.Encode(a[:])
}

func ParseAddress(s string) (Address, error) {
	b, err := hexutil.Decode(s)
	if err != nil {
		return Address{}, fmt.Errorf("primitives: invalid address %q: %w", s, err)
	}
	if len(b) != 32 {
		return Address{}, fmt.Errorf("primitives: address %q has %d bytes, want 32", s, len(b))
	}
	var a Address
	copy(a[:], b)
	return a, nil
}

func (a Address) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

func (a *Address) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseAddress(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
