// Package worldstate holds the deterministic account ledger: balances,
// nonces and stake, plus the Merkle state root derived from them.
package worldstate

import (
	"encoding/binary"
	"fmt"
	"sort"
	"sync"

	"github.com/spirachain/validator/internal/merkle"
	"github.com/spirachain/validator/internal/primitives"
)

// Account is one address's balance/nonce/stake tuple.
type Account struct {
	Balance primitives.Amount
	Nonce   uint64
	Stake   primitives.Amount
}

// WorldState is the authoritative account map for a given block height.
// It is safe for concurrent use: reads happen from RPC-style query paths
// while writes happen from the block-commit path.
type WorldState struct {
	mu          sync.RWMutex
	accounts    map[primitives.Address]Account
	blockHeight uint64
}

// New creates an empty world state at height 0.
func New() *WorldState {
	return &WorldState{accounts: make(map[primitives.Address]Account)}
}

// GetBalance returns address's balance, or zero if the account has never
// been touched.
func (w *WorldState) GetBalance(address primitives.Address) primitives.Amount {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.accounts[address].Balance
}

// SetBalance overwrites address's balance, creating the account if
// necessary.
func (w *WorldState) SetBalance(address primitives.Address, balance primitives.Amount) {
	w.mu.Lock()
	defer w.mu.Unlock()
	acc := w.accounts[address]
	acc.Balance = balance
	w.accounts[address] = acc
}

// Transfer moves amount from one address to another, checking for
// sufficient balance and for overflow at the recipient. It is atomic:
// either both balances update or neither does.
func (w *WorldState) Transfer(from, to primitives.Address, amount primitives.Amount) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	fromBalance := w.accounts[from].Balance
	toBalance := w.accounts[to].Balance

	newFromBalance, ok := fromBalance.CheckedSub(amount)
	if !ok {
		return fmt.Errorf("worldstate: insufficient balance")
	}
	newToBalance, ok := toBalance.CheckedAdd(amount)
	if !ok {
		return fmt.Errorf("worldstate: recipient balance overflow")
	}

	fromAcc := w.accounts[from]
	fromAcc.Balance = newFromBalance
	w.accounts[from] = fromAcc

	toAcc := w.accounts[to]
	toAcc.Balance = newToBalance
	w.accounts[to] = toAcc

	return nil
}

// GetNonce returns address's current nonce, or 0 if untouched.
func (w *WorldState) GetNonce(address primitives.Address) uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.accounts[address].Nonce
}

// IncrementNonce bumps address's nonce by one, creating the account if
// necessary.
func (w *WorldState) IncrementNonce(address primitives.Address) {
	w.mu.Lock()
	defer w.mu.Unlock()
	acc := w.accounts[address]
	acc.Nonce++
	w.accounts[address] = acc
}

// GetStake returns address's staked amount, or zero if untouched.
func (w *WorldState) GetStake(address primitives.Address) primitives.Amount {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.accounts[address].Stake
}

// SetStake overwrites address's stake, creating the account if necessary.
// Callers outside the validator-set slashing path should not call this
// directly for validator accounts; see internal/consensus.ValidatorSet.
func (w *WorldState) SetStake(address primitives.Address, stake primitives.Amount) {
	w.mu.Lock()
	defer w.mu.Unlock()
	acc := w.accounts[address]
	acc.Stake = stake
	w.accounts[address] = acc
}

// CurrentHeight returns the height this state snapshot corresponds to.
func (w *WorldState) CurrentHeight() uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.blockHeight
}

// SetHeight records the height this state snapshot now corresponds to,
// called once per committed block.
func (w *WorldState) SetHeight(height uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.blockHeight = height
}

// StateRoot Merkle-hashes every touched account, sorted by address bytes
// ascending so that two independently-built states with identical
// contents always agree on the root.
func (w *WorldState) StateRoot() primitives.Hash {
	w.mu.RLock()
	defer w.mu.RUnlock()

	addresses := make([]primitives.Address, 0, len(w.accounts))
	for addr := range w.accounts {
		addresses = append(addresses, addr)
	}
	sort.Slice(addresses, func(i, j int) bool {
		return addresses[i].Less(addresses[j])
	})

	leaves := make([]primitives.Hash, len(addresses))
	for i, addr := range addresses {
		leaves[i] = accountLeafHash(addr, w.accounts[addr])
	}
	return merkle.New(leaves).Root()
}

func accountLeafHash(address primitives.Address, acc Account) primitives.Hash {
	addrBytes := address.Bytes()
	balanceBytes := acc.Balance.Bytes16BE()
	stakeBytes := acc.Stake.Bytes16BE()

	buf := make([]byte, 0, 32+16+8+16)
	buf = append(buf, addrBytes[:]...)
	buf = append(buf, balanceBytes[:]...)

	var nonceBuf [8]byte
	binary.BigEndian.PutUint64(nonceBuf[:], acc.Nonce)
	buf = append(buf, nonceBuf[:]...)

	buf = append(buf, stakeBytes[:]...)

	return primitives.Digest(buf)
}
