package ledger

import (
	"encoding/binary"
	"fmt"

	"github.com/spirachain/validator/internal/merkle"
	"github.com/spirachain/validator/internal/primitives"
)

// BlockHeader carries everything needed to identify and verify a block
// without its transaction bodies.
type BlockHeader struct {
	Version           uint64
	PreviousBlockHash primitives.Hash
	MerkleRoot        primitives.Hash
	SpiralRoot        primitives.Hash
	StateRoot         primitives.Hash
	Timestamp         uint64 // milliseconds since epoch
	PiCoordinates     primitives.PiCoordinate
	Spiral            SpiralMetadata
	ValidatorPubkey   []byte
	Signature         []byte
	Nonce             uint64
	DifficultyTarget  uint32
	TxCount           uint32
	BlockHeight       uint64
}

// NewBlockHeader seeds a header extending previousBlockHash at blockHeight;
// roots are zero until the block is assembled.
func NewBlockHeader(previousBlockHash primitives.Hash, blockHeight uint64) BlockHeader {
	return BlockHeader{
		Version:           1,
		PreviousBlockHash: previousBlockHash,
		BlockHeight:       blockHeight,
		DifficultyTarget:  ^uint32(0) / 1000,
	}
}

// canonicalBytes encodes the block-hash input in the fixed order mandated
// for hashing and signing: every header field except the signature,
// validator key, tx count and the spiral metadata itself (which enters
// only through SpiralRoot) — those are not folded into the block
// identity hash.
func (h BlockHeader) canonicalBytes() []byte {
	buf := make([]byte, 0, 8+32*4+8+32+8+4+8)

	buf = appendUint64BE(buf, h.Version)
	prevBytes := h.PreviousBlockHash.Bytes()
	merkleBytes := h.MerkleRoot.Bytes()
	spiralBytes := h.SpiralRoot.Bytes()
	stateBytes := h.StateRoot.Bytes()
	buf = append(buf, prevBytes[:]...)
	buf = append(buf, merkleBytes[:]...)
	buf = append(buf, spiralBytes[:]...)
	buf = append(buf, stateBytes[:]...)
	buf = appendUint64BE(buf, h.Timestamp)
	buf = appendFloat64(buf, h.PiCoordinates.X)
	buf = appendFloat64(buf, h.PiCoordinates.Y)
	buf = appendFloat64(buf, h.PiCoordinates.Z)
	buf = appendFloat64(buf, h.PiCoordinates.T)
	buf = appendUint64BE(buf, h.Nonce)
	buf = appendUint32BE(buf, h.DifficultyTarget)
	buf = appendUint64BE(buf, h.BlockHeight)

	return buf
}

// Hash derives the block identity hash from canonicalBytes.
func (h BlockHeader) Hash() primitives.Hash {
	return primitives.Digest(h.canonicalBytes())
}

func appendUint64BE(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}

func appendUint32BE(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

// Block is a header plus its ordered transactions.
type Block struct {
	Header       BlockHeader
	Transactions []Transaction
}

// NewBlock starts an empty block extending previousBlockHash.
func NewBlock(previousBlockHash primitives.Hash, blockHeight uint64) *Block {
	return &Block{Header: NewBlockHeader(previousBlockHash, blockHeight)}
}

// WithTransactions sets the transaction list and tx count together, so
// they can never drift apart.
func (b *Block) WithTransactions(txs []Transaction) *Block {
	b.Transactions = txs
	b.Header.TxCount = uint32(len(txs))
	return b
}

// ComputeMerkleRoot rebuilds the transaction Merkle tree and stores its
// root in the header.
func (b *Block) ComputeMerkleRoot() {
	if len(b.Transactions) == 0 {
		b.Header.MerkleRoot = primitives.ZeroHash
		return
	}
	leaves := make([]primitives.Hash, len(b.Transactions))
	for i, tx := range b.Transactions {
		leaves[i] = tx.TxHash
	}
	b.Header.MerkleRoot = merkle.New(leaves).Root()
}

// ComputeSpiralRoot hashes the header's spiral metadata blob.
func (b *Block) ComputeSpiralRoot() {
	b.Header.SpiralRoot = b.Header.Spiral.Hash()
}

// Hash returns the block's identity hash (delegates to the header).
func (b *Block) Hash() primitives.Hash {
	return b.Header.Hash()
}

// IsGenesis reports whether this is the height-0 block.
func (b *Block) IsGenesis() bool {
	return b.Header.BlockHeight == 0
}

// AvgSemanticCoherence is the mean per-transaction semantic coherence,
// used by the spiral engine's variant-selection rule.
func (b *Block) AvgSemanticCoherence() float64 {
	if len(b.Transactions) == 0 {
		return 0
	}
	var sum float64
	for _, tx := range b.Transactions {
		sum += tx.SemanticCoherence()
	}
	return sum / float64(len(b.Transactions))
}

// Validate checks the structural rules that do not require parent-block
// context (rules 1-8 of the component design's block validation list).
// Continuity checks against a parent (rule 9) live in the consensus
// package, which has the parent in hand.
func (b *Block) Validate() error {
	if b.Header.Version == 0 {
		return fmt.Errorf("ledger: invalid block version")
	}
	if b.Header.PreviousBlockHash.IsZero() && b.Header.BlockHeight != 0 {
		return fmt.Errorf("ledger: invalid previous block hash")
	}
	if len(b.Transactions) > primitives.MaxTxPerBlock {
		return fmt.Errorf("ledger: too many transactions: %d > %d", len(b.Transactions), primitives.MaxTxPerBlock)
	}
	if b.Header.Spiral.Complexity < primitives.MinSpiralComplexity {
		return fmt.Errorf("ledger: spiral complexity too low: %f < %f", b.Header.Spiral.Complexity, primitives.MinSpiralComplexity)
	}
	if b.AvgSemanticCoherence() < primitives.MinSemanticCoherence && len(b.Transactions) > 0 {
		return fmt.Errorf("ledger: average semantic coherence too low")
	}
	if len(b.Header.Signature) == 0 {
		return fmt.Errorf("ledger: missing block signature")
	}
	for i := range b.Transactions {
		if err := b.Transactions[i].Validate(); err != nil {
			return fmt.Errorf("ledger: transaction %d: %w", i, err)
		}
	}

	recomputed := *b
	recomputed.ComputeMerkleRoot()
	if recomputed.Header.MerkleRoot != b.Header.MerkleRoot {
		return fmt.Errorf("ledger: invalid merkle root")
	}

	return nil
}
