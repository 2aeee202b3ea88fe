// Package network implements peer discovery, block/transaction gossip, and
// chain synchronization over libp2p.
package network

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/spirachain/validator/internal/consensus"
	"github.com/spirachain/validator/internal/ledger"
	"github.com/spirachain/validator/internal/primitives"
)

// ProtocolVersion tags the wire format every stream protocol ID below is
// built from, so a future incompatible change can run alongside this one.
const ProtocolVersion = "1.0.0"

// Stream protocol IDs. Topics are modeled as dedicated stream protocols
// rather than a pubsub mesh, since the gossip surface here is small
// (blocks, transactions, sync) and a direct protocol per concern keeps the
// wire format simple and inspectable.
const (
	BlockProtocolID       = "/spirachain/blocks/" + ProtocolVersion
	TransactionProtocolID = "/spirachain/transactions/" + ProtocolVersion
	SyncProtocolID        = "/spirachain/sync/" + ProtocolVersion
	HeightProtocolID      = "/spirachain/height/" + ProtocolVersion
	BFTProtocolID         = "/spirachain/bft/" + ProtocolVersion
)

// maxBlocksPerResponse and maxHeadersPerResponse bound a single sync
// response so one request can't force an unbounded read.
const (
	maxBlocksPerResponse  = 10
	maxHeadersPerResponse = 500
)

// MessageKind tags which variant of Message is populated.
type MessageKind string

const (
	KindNewBlock       MessageKind = "new_block"
	KindNewTransaction MessageKind = "new_transaction"
	KindBlockRequest   MessageKind = "block_request"
	KindBlockResponse  MessageKind = "block_response"
	KindHeaderRequest  MessageKind = "header_request"
	KindHeaderResponse MessageKind = "header_response"
	KindSyncRequest    MessageKind = "sync_request"
	KindSyncResponse   MessageKind = "sync_response"
	KindPeerInfo       MessageKind = "peer_info"
	KindPing           MessageKind = "ping"
	KindPong           MessageKind = "pong"

	KindPrePrepare MessageKind = "bft_pre_prepare"
	KindPrepare    MessageKind = "bft_prepare"
	KindCommit     MessageKind = "bft_commit"
)

// BlockHeaderSummary is the lightweight header sync exchanges instead of a
// full block: just enough to walk the chain and verify continuity.
type BlockHeaderSummary struct {
	Height       uint64          `json:"height"`
	Hash         primitives.Hash `json:"hash"`
	PreviousHash primitives.Hash `json:"previous_hash"`
	Timestamp    uint64          `json:"timestamp"`
}

// Message is the single envelope carried over every stream protocol; Kind
// selects which of the optional fields is populated. A tagged struct is
// used instead of a Go sum type (which the language doesn't have) while
// keeping a single, inspectable JSON shape on the wire.
type Message struct {
	Kind MessageKind `json:"kind"`

	// RequestID correlates a request/response pair across the async,
	// multiplexed stream traffic a peer with several in-flight
	// exchanges may see; broadcasts (new_block, new_transaction) leave
	// it empty.
	RequestID string `json:"request_id,omitempty"`

	Block       *ledger.Block    `json:"block,omitempty"`
	Transaction *ledger.Transaction `json:"transaction,omitempty"`

	StartHeight uint64 `json:"start_height,omitempty"`
	Count       uint64 `json:"count,omitempty"`

	Blocks  []*ledger.Block       `json:"blocks,omitempty"`
	Headers []BlockHeaderSummary  `json:"headers,omitempty"`

	FromHeight uint64 `json:"from_height,omitempty"`
	HasMore    bool   `json:"has_more,omitempty"`

	PeerCount   int    `json:"peer_count,omitempty"`
	ChainHeight uint64 `json:"chain_height,omitempty"`

	PrePrepare *consensus.PrePrepareMsg `json:"pre_prepare,omitempty"`
	Prepare    *consensus.PrepareMsg    `json:"prepare,omitempty"`
	Commit     *consensus.CommitMsg     `json:"commit,omitempty"`
}

// NewBlockMessage wraps block for broadcast.
func NewBlockMessage(block *ledger.Block) Message {
	return Message{Kind: KindNewBlock, Block: block}
}

// NewTransactionMessage wraps tx for broadcast.
func NewTransactionMessage(tx *ledger.Transaction) Message {
	return Message{Kind: KindNewTransaction, Transaction: tx}
}

// NewBlockRequest asks a peer for up to count blocks starting at startHeight.
func NewBlockRequest(startHeight, count uint64) Message {
	if count > maxBlocksPerResponse {
		count = maxBlocksPerResponse
	}
	return Message{Kind: KindBlockRequest, RequestID: uuid.New().String(), StartHeight: startHeight, Count: count}
}

// NewSyncRequest asks a peer to stream everything it has from fromHeight.
func NewSyncRequest(fromHeight uint64) Message {
	return Message{Kind: KindSyncRequest, RequestID: uuid.New().String(), FromHeight: fromHeight}
}

// NewPeerInfo reports this node's peer count and chain height.
func NewPeerInfo(peerCount int, chainHeight uint64) Message {
	return Message{Kind: KindPeerInfo, PeerCount: peerCount, ChainHeight: chainHeight}
}

// NewPrePrepareMessage wraps a BFT phase-1 proposal for relay to the rest
// of the roster.
func NewPrePrepareMessage(msg consensus.PrePrepareMsg) Message {
	return Message{Kind: KindPrePrepare, PrePrepare: &msg}
}

// NewPrepareMessage wraps a BFT phase-2 vote.
func NewPrepareMessage(msg consensus.PrepareMsg) Message {
	return Message{Kind: KindPrepare, Prepare: &msg}
}

// NewCommitMessage wraps a BFT phase-3 vote.
func NewCommitMessage(msg consensus.CommitMsg) Message {
	return Message{Kind: KindCommit, Commit: &msg}
}

// WriteMessage frames msg as a 4-byte big-endian length prefix followed by
// its JSON encoding, so a reader knows exactly how many bytes to consume
// from a long-lived stream.
func WriteMessage(w io.Writer, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("network: encode message: %w", err)
	}
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(payload)))
	if _, err := w.Write(length[:]); err != nil {
		return fmt.Errorf("network: write length prefix: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("network: write payload: %w", err)
	}
	return nil
}

// maxMessageBytes bounds a single frame so a malformed or hostile peer
// can't force an unbounded allocation.
const maxMessageBytes = 32 * 1024 * 1024

// ReadMessage reads one length-prefixed JSON frame written by WriteMessage.
func ReadMessage(r io.Reader) (Message, error) {
	var length [4]byte
	if _, err := io.ReadFull(r, length[:]); err != nil {
		return Message{}, fmt.Errorf("network: read length prefix: %w", err)
	}
	size := binary.BigEndian.Uint32(length[:])
	if size > maxMessageBytes {
		return Message{}, fmt.Errorf("network: message of %d bytes exceeds the %d byte limit", size, maxMessageBytes)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Message{}, fmt.Errorf("network: read payload: %w", err)
	}

	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, fmt.Errorf("network: decode message: %w", err)
	}
	return msg, nil
}

// HeaderSummaryFromBlock projects a block down to its sync header.
func HeaderSummaryFromBlock(b *ledger.Block) BlockHeaderSummary {
	return BlockHeaderSummary{
		Height:       b.Header.BlockHeight,
		Hash:         b.Hash(),
		PreviousHash: b.Header.PreviousBlockHash,
		Timestamp:    b.Header.Timestamp,
	}
}
