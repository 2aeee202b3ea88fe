package ledger

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/spirachain/validator/internal/primitives"
)

// Intent tags an inferred purpose for a transaction, supplied by the
// semantic oracle or left empty.
type Intent struct {
	Type       string
	Confidence float64
}

// Transaction is the canonical ledger entry. TxHash and PiID are derived,
// not wire-transmitted verbatim input: callers must call ComputeHash and
// set PiID before signing.
type Transaction struct {
	Version   uint64
	TxHash    primitives.Hash
	PiID      primitives.PiCoordinate
	From      primitives.Address
	To        primitives.Address
	Amount    primitives.Amount
	Fee       primitives.Amount
	Timestamp uint64 // milliseconds since epoch
	Signature []byte

	Purpose        string
	SemanticVector []float32
	Intent         *Intent
	RelatedTxs     []primitives.Hash
	ThreadID       *primitives.Hash
}

// NewTransaction builds an unsigned, unhashed transfer.
func NewTransaction(from, to primitives.Address, amount, fee primitives.Amount, timestampMs uint64) *Transaction {
	return &Transaction{
		Version:   1,
		From:      from,
		To:        to,
		Amount:    amount,
		Fee:       fee,
		Timestamp: timestampMs,
	}
}

// canonicalBytes encodes the identity-hash input exactly per the fixed
// field order: version, both addresses, amount, fee, timestamp, purpose,
// then the four pi-coordinate components. The signature is never part of
// this encoding, so the hash is stable before signing.
func (tx *Transaction) canonicalBytes() []byte {
	amountBytes := tx.Amount.Bytes16BE()
	feeBytes := tx.Fee.Bytes16BE()

	buf := make([]byte, 0, 8+32+32+16+16+8+len(tx.Purpose)+32)

	var versionBuf [8]byte
	binary.BigEndian.PutUint64(versionBuf[:], tx.Version)
	buf = append(buf, versionBuf[:]...)

	fromBytes := tx.From.Bytes()
	toBytes := tx.To.Bytes()
	buf = append(buf, fromBytes[:]...)
	buf = append(buf, toBytes[:]...)
	buf = append(buf, amountBytes[:]...)
	buf = append(buf, feeBytes[:]...)

	var tsBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], tx.Timestamp)
	buf = append(buf, tsBuf[:]...)

	buf = append(buf, []byte(tx.Purpose)...)

	buf = appendFloat64(buf, tx.PiID.X)
	buf = appendFloat64(buf, tx.PiID.Y)
	buf = appendFloat64(buf, tx.PiID.Z)
	buf = appendFloat64(buf, tx.PiID.T)

	return buf
}

// ComputeHash derives TxHash from the canonical byte form.
func (tx *Transaction) ComputeHash() {
	tx.TxHash = primitives.Digest(tx.canonicalBytes())
}

// Validate checks the structural invariants a transaction must satisfy to
// be admitted to the mempool or included in a block: nonzero amount, fee
// floor, nonzero addresses, nonempty signature.
func (tx *Transaction) Validate() error {
	if tx.Amount.IsZero() {
		return fmt.Errorf("ledger: transaction amount cannot be zero")
	}
	if tx.Fee.Cmp(primitives.MinTxFeeAmount()) < 0 {
		return fmt.Errorf("ledger: fee too low: %s < %s", tx.Fee, primitives.MinTxFeeAmount())
	}
	if len(tx.Signature) == 0 {
		return fmt.Errorf("ledger: missing signature")
	}
	if tx.From.IsZero() || tx.To.IsZero() {
		return fmt.Errorf("ledger: invalid address")
	}
	return nil
}

// SemanticCoherence is the L2-normalized magnitude of the semantic vector,
// clamped to [0,1]; an empty vector has zero coherence.
func (tx *Transaction) SemanticCoherence() float64 {
	if len(tx.SemanticVector) == 0 {
		return 0
	}

	var sumSquares float32
	for _, x := range tx.SemanticVector {
		sumSquares += x * x
	}
	magnitude := float64(math.Sqrt(float64(sumSquares)))
	if magnitude < 0.01 {
		return 0
	}
	if magnitude > 1.0 {
		return 1.0
	}
	return magnitude
}
