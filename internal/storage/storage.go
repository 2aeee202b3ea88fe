// Package storage persists blocks and their derived indexes behind the
// narrow contract the rest of the node depends on, backed by an embedded
// CometBFT key-value database.
package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"

	dbm "github.com/cometbft/cometbft-db"

	"github.com/spirachain/validator/internal/ledger"
	"github.com/spirachain/validator/internal/primitives"
)

// Key prefixes, mirroring the teacher's ledger store layout: one prefix
// per index, plus a dedicated key for chain-tip metadata.
var (
	blockByHeightPrefix = []byte("block:height:")
	blockByHashPrefix   = []byte("block:hash:")
	txIndexPrefix       = []byte("tx:")
	keyLatestHeight     = []byte("meta:latest_height")
)

func heightKey(height uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], height)
	return append(append([]byte(nil), blockByHeightPrefix...), b[:]...)
}

func hashKey(hash primitives.Hash) []byte {
	h := hash.Bytes()
	return append(append([]byte(nil), blockByHashPrefix...), h[:]...)
}

func txKey(hash primitives.Hash) []byte {
	h := hash.Bytes()
	return append(append([]byte(nil), txIndexPrefix...), h[:]...)
}

// BlockStorage is the ledger's persistence contract: store and retrieve
// blocks by height or hash, track the chain tip, and look up an
// individual transaction by hash. Implementations must provide
// atomic-per-block writes and read-your-writes; multi-block atomicity is
// not required.
type BlockStorage interface {
	StoreBlock(block *ledger.Block) error
	GetBlockByHeight(height uint64) (*ledger.Block, bool, error)
	GetBlockByHash(hash primitives.Hash) (*ledger.Block, bool, error)
	GetLatestBlock() (*ledger.Block, bool, error)
	GetChainHeight() (uint64, error)
	GetTransaction(hash primitives.Hash) (*ledger.Transaction, bool, error)
}

// blockRecord is the on-disk JSON encoding of a stored block.
type blockRecord struct {
	Header       ledger.BlockHeader   `json:"header"`
	Transactions []ledger.Transaction `json:"transactions"`
}

// Store is the embedded-database BlockStorage implementation used on the
// consensus write path. A single mutex serializes writes, matching the
// node's single-writer block-application model; block and transaction
// reads take no lock beyond what the underlying DB itself provides, while
// chain-height reads take the mutex.
type Store struct {
	mu sync.Mutex
	db dbm.DB
}

// Open wraps an already-opened CometBFT DB (typically a GoLevelDB
// instance) as a Store.
func Open(db dbm.DB) *Store {
	return &Store{db: db}
}

// StoreBlock persists block under both its height and hash keys, indexes
// each of its transactions, and advances the chain-tip marker if this
// block extends it. All writes for one block go into a single batch
// committed with WriteSync, so they are persisted together or not at all.
func (s *Store) StoreBlock(block *ledger.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := blockRecord{Header: block.Header, Transactions: block.Transactions}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("storage: marshal block: %w", err)
	}

	height := block.Header.BlockHeight
	hash := block.Hash()

	batch := s.db.NewBatch()
	defer batch.Close()

	if err := batch.Set(heightKey(height), data); err != nil {
		return fmt.Errorf("storage: store block by height: %w", err)
	}
	if err := batch.Set(hashKey(hash), data); err != nil {
		return fmt.Errorf("storage: store block by hash: %w", err)
	}

	for _, tx := range block.Transactions {
		txData, err := json.Marshal(tx)
		if err != nil {
			return fmt.Errorf("storage: marshal transaction: %w", err)
		}
		if err := batch.Set(txKey(tx.TxHash), txData); err != nil {
			return fmt.Errorf("storage: index transaction: %w", err)
		}
	}

	latest, err := s.latestHeightLocked()
	if err != nil {
		return err
	}
	if !latest.known || height >= latest.height {
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], height)
		if err := batch.Set(keyLatestHeight, b[:]); err != nil {
			return fmt.Errorf("storage: update chain tip: %w", err)
		}
	}

	if err := batch.WriteSync(); err != nil {
		return fmt.Errorf("storage: commit block: %w", err)
	}
	return nil
}

// GetBlockByHeight looks up a block by height.
func (s *Store) GetBlockByHeight(height uint64) (*ledger.Block, bool, error) {
	return s.getBlock(heightKey(height))
}

// GetBlockByHash looks up a block by hash.
func (s *Store) GetBlockByHash(hash primitives.Hash) (*ledger.Block, bool, error) {
	return s.getBlock(hashKey(hash))
}

// GetLatestBlock returns the highest-height block stored so far.
func (s *Store) GetLatestBlock() (*ledger.Block, bool, error) {
	height, err := s.GetChainHeight()
	if err != nil {
		return nil, false, err
	}
	return s.GetBlockByHeight(height)
}

// GetChainHeight returns the height of the highest block stored so far.
// An empty store reports height 0, matching a just-created genesis
// chain rather than an error.
func (s *Store) GetChainHeight() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	latest, err := s.latestHeightLocked()
	if err != nil {
		return 0, err
	}
	return latest.height, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// GetTransaction looks up a single transaction by hash from the index
// populated at block-store time.
func (s *Store) GetTransaction(hash primitives.Hash) (*ledger.Transaction, bool, error) {
	data, err := s.db.Get(txKey(hash))
	if err != nil {
		return nil, false, fmt.Errorf("storage: get transaction: %w", err)
	}
	if data == nil {
		return nil, false, nil
	}
	var tx ledger.Transaction
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, false, fmt.Errorf("storage: unmarshal transaction: %w", err)
	}
	return &tx, true, nil
}

func (s *Store) getBlock(key []byte) (*ledger.Block, bool, error) {
	data, err := s.db.Get(key)
	if err != nil {
		return nil, false, fmt.Errorf("storage: get block: %w", err)
	}
	if data == nil {
		return nil, false, nil
	}
	var rec blockRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, false, fmt.Errorf("storage: unmarshal block: %w", err)
	}
	return &ledger.Block{Header: rec.Header, Transactions: rec.Transactions}, true, nil
}

type latestHeight struct {
	height uint64
	known  bool
}

func (s *Store) latestHeightLocked() (latestHeight, error) {
	data, err := s.db.Get(keyLatestHeight)
	if err != nil {
		return latestHeight{}, fmt.Errorf("storage: get chain tip: %w", err)
	}
	if data == nil {
		return latestHeight{}, nil
	}
	return latestHeight{height: binary.BigEndian.Uint64(data), known: true}, nil
}
