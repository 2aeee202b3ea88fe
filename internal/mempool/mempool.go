// Package mempool holds pending, not-yet-included transactions. It is
// consulted concurrently by the network layer (new tx gossip) and the
// validator loop (candidate-block assembly), so access is mutex-guarded.
package mempool

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/spirachain/validator/internal/ledger"
	"github.com/spirachain/validator/internal/primitives"
	"github.com/spirachain/validator/internal/semantic"
)

// DefaultMaxSize matches the original node's default pool bound.
const DefaultMaxSize = 10000

// Mempool is a fee-priority bounded pool of pending transactions. When
// full, the lowest-fee transaction is evicted to make room for the
// incoming one.
type Mempool struct {
	mu      sync.RWMutex
	txs     map[primitives.Hash]ledger.Transaction
	maxSize int
	oracle  semantic.Oracle
}

// New creates an empty pool bounded at maxSize transactions.
func New(maxSize int) *Mempool {
	return &Mempool{
		txs:     make(map[primitives.Hash]ledger.Transaction),
		maxSize: maxSize,
	}
}

// SetOracle installs the semantic oracle used to annotate transactions
// that arrive with no embedding of their own. A nil oracle (the
// default) makes AddTransaction rely solely on semantic.Fallback.
func (m *Mempool) SetOracle(oracle semantic.Oracle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.oracle = oracle
}

// AddTransaction validates and inserts tx, evicting the lowest-fee entry
// first if the pool is at capacity. A transaction with no semantic
// vector is enriched via the configured oracle (or its deterministic
// fallback) before admission, so every transaction considered by
// semantic clustering has one.
func (m *Mempool) AddTransaction(tx ledger.Transaction) error {
	if len(tx.SemanticVector) == 0 {
		m.mu.RLock()
		oracle := m.oracle
		m.mu.RUnlock()
		semantic.Enrich(context.Background(), oracle, &tx)
	}

	if err := tx.Validate(); err != nil {
		return fmt.Errorf("mempool: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.txs) >= m.maxSize {
		m.evictLowestFeeLocked()
	}
	m.txs[tx.TxHash] = tx
	return nil
}

// RemoveTransaction deletes hash from the pool, reporting whether it was
// present. Called once a transaction is included in a committed block.
func (m *Mempool) RemoveTransaction(hash primitives.Hash) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.txs[hash]; !ok {
		return false
	}
	delete(m.txs, hash)
	return true
}

// GetTransaction looks up a pending transaction by hash.
func (m *Mempool) GetTransaction(hash primitives.Hash) (ledger.Transaction, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tx, ok := m.txs[hash]
	return tx, ok
}

// GetPendingTransactions returns up to limit transactions, highest fee
// first, for candidate-block assembly.
func (m *Mempool) GetPendingTransactions(limit int) []ledger.Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()

	txs := make([]ledger.Transaction, 0, len(m.txs))
	for _, tx := range m.txs {
		txs = append(txs, tx)
	}
	sort.Slice(txs, func(i, j int) bool {
		return txs[i].Fee.Cmp(txs[j].Fee) > 0
	})
	if limit >= 0 && limit < len(txs) {
		txs = txs[:limit]
	}
	return txs
}

// Size reports the number of pending transactions.
func (m *Mempool) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.txs)
}

// Clear empties the pool, used after a block is finalized and its
// transactions are removed one by one elsewhere, or on restart.
func (m *Mempool) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txs = make(map[primitives.Hash]ledger.Transaction)
}

// evictLowestFeeLocked removes the single lowest-fee transaction. Callers
// must hold m.mu.
func (m *Mempool) evictLowestFeeLocked() {
	var lowestHash primitives.Hash
	var lowestFee primitives.Amount
	first := true

	for hash, tx := range m.txs {
		if first || tx.Fee.Cmp(lowestFee) < 0 {
			lowestHash = hash
			lowestFee = tx.Fee
			first = false
		}
	}
	if !first {
		delete(m.txs, lowestHash)
	}
}
