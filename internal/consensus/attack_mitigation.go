package consensus

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/spirachain/validator/internal/ledger"
	"github.com/spirachain/validator/internal/primitives"
)

// doubleSpendWindow is how long a transaction hash is tracked for repeat
// submission after it is first seen.
var doubleSpendWindow = time.Duration(primitives.DoubleSpendWindowSeconds) * time.Second

// checkpointInterval is how often a finalized block height becomes
// irreversible, independent of fork-choice score.
const checkpointInterval = primitives.CheckpointInterval

// dominanceBanOffenseCount bans a validator once this many dominance
// offenses have been recorded.
const dominanceBanOffenseCount = 3

// dominanceBanTotalSlashed bans a validator once its cumulative recorded
// dominance slashing (in base units) exceeds this, independent of offense
// count.
var dominanceBanTotalSlashed = new(big.Int).SetUint64(10_000_000_000_000)

// dominanceSlashingScale converts a validator's excess block share into a
// base-unit slashing amount: actual_share * 1e12.
var dominanceSlashingScale = big.NewFloat(1e12)

// nowTime is overridden in tests for deterministic TTL expiry.
var nowTime = time.Now

// transactionSighting records the first time a transaction hash was seen
// and how many times it has recurred since.
type transactionSighting struct {
	blockHeight uint64
	firstSeen   time.Time
	timesSeen   int
}

// isSuspicious reports whether this hash has recurred, which is the
// double-spend signal: a legitimate transaction is admitted exactly once.
func (s transactionSighting) isSuspicious() bool {
	return s.timesSeen > 1
}

// SuspicionRecord accumulates a validator's block-production-dominance
// offenses. It is derived bookkeeping, not an authoritative stake ledger:
// actual confiscation always runs through Validator.Slash via ValidatorSet.
type SuspicionRecord struct {
	Validator    primitives.Address
	OffenseCount int
	LastOffense  uint64
	TotalSlashed *big.Int
}

// shouldBan reports whether a validator has crossed either ban threshold.
func (r *SuspicionRecord) shouldBan() bool {
	if r.OffenseCount >= dominanceBanOffenseCount {
		return true
	}
	return r.TotalSlashed.Cmp(dominanceBanTotalSlashed) > 0
}

// AttackMitigation watches the committed chain for double-spend attempts,
// validator block-production dominance, and 51%-style majority capture, and
// maintains the checkpoint boundary below which history is irreversible.
type AttackMitigation struct {
	mu sync.Mutex

	checkpoints        map[uint64]primitives.Hash
	lastCheckpointHeight uint64

	recentTransactions map[primitives.Hash]*transactionSighting

	blocksPerValidator map[primitives.Address]uint64
	totalBlocksSeen    uint64
	suspicious         map[primitives.Address]*SuspicionRecord
	banned             map[primitives.Address]bool
}

// NewAttackMitigation returns a fresh monitor with no observed history.
func NewAttackMitigation() *AttackMitigation {
	return &AttackMitigation{
		checkpoints:        make(map[uint64]primitives.Hash),
		recentTransactions: make(map[primitives.Hash]*transactionSighting),
		blocksPerValidator: make(map[primitives.Address]uint64),
		suspicious:         make(map[primitives.Address]*SuspicionRecord),
		banned:             make(map[primitives.Address]bool),
	}
}

// ProcessBlock runs every check against a newly committed block: double
// spends among its transactions, the proposer's production share, a
// periodic checkpoint, and eviction of expired transaction sightings.
func (m *AttackMitigation) ProcessBlock(block *ledger.Block, validatorCount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkForDoubleSpends(block); err != nil {
		return err
	}

	m.monitorValidatorBehavior(block, validatorCount)

	if block.Header.BlockHeight > 0 && block.Header.BlockHeight%uint64(checkpointInterval) == 0 {
		m.createCheckpoint(block)
	}

	m.cleanupOldData()
	return nil
}

// checkForDoubleSpends rejects the block if any of its transactions has
// already been seen, and records first sightings of the rest.
func (m *AttackMitigation) checkForDoubleSpends(block *ledger.Block) error {
	for i := range block.Transactions {
		tx := &block.Transactions[i]
		sighting, seen := m.recentTransactions[tx.TxHash]
		if !seen {
			m.recentTransactions[tx.TxHash] = &transactionSighting{
				blockHeight: block.Header.BlockHeight,
				firstSeen:   nowTime(),
				timesSeen:   1,
			}
			continue
		}
		sighting.timesSeen++
		if sighting.isSuspicious() {
			return fmt.Errorf("consensus: transaction %s rejected as a double spend (seen %d times)", tx.TxHash, sighting.timesSeen)
		}
	}
	return nil
}

// monitorValidatorBehavior tracks per-validator block share and flags a
// proposer whose share of all recorded blocks exceeds twice its expected share,
// recording a proportional suspicion offense.
func (m *AttackMitigation) monitorValidatorBehavior(block *ledger.Block, validatorCount int) {
	address := primitives.AddressFromPublicKey(block.Header.ValidatorPubkey)
	m.blocksPerValidator[address]++
	m.totalBlocksSeen++

	if validatorCount <= 0 {
		return
	}

	expectedShare := 1.0 / float64(validatorCount)
	actualShare := float64(m.blocksPerValidator[address]) / float64(m.totalBlocksSeen)

	if actualShare <= expectedShare*2.0 {
		return
	}

	slashed := new(big.Float).Mul(big.NewFloat(actualShare), dominanceSlashingScale)
	slashedInt, _ := slashed.Int(nil)

	record, ok := m.suspicious[address]
	if !ok {
		record = &SuspicionRecord{Validator: address, TotalSlashed: new(big.Int)}
		m.suspicious[address] = record
	}
	record.OffenseCount++
	record.LastOffense = block.Header.BlockHeight
	record.TotalSlashed.Add(record.TotalSlashed, slashedInt)

	if record.shouldBan() {
		m.banned[address] = true
	}
}

// createCheckpoint stores the block's hash as irreversible history.
func (m *AttackMitigation) createCheckpoint(block *ledger.Block) {
	m.checkpoints[block.Header.BlockHeight] = block.Hash()
	m.lastCheckpointHeight = block.Header.BlockHeight
}

// cleanupOldData evicts transaction sightings outside the double-spend
// window; past that window a recurrence is no longer a meaningful signal.
func (m *AttackMitigation) cleanupOldData() {
	cutoff := nowTime().Add(-doubleSpendWindow)
	for hash, sighting := range m.recentTransactions {
		if sighting.firstSeen.Before(cutoff) {
			delete(m.recentTransactions, hash)
		}
	}
}

// IsFinalized reports whether height is at or below the last checkpoint,
// making it irreversible regardless of fork-choice score.
func (m *AttackMitigation) IsFinalized(height uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return height <= m.lastCheckpointHeight
}

// Checkpoint returns the stored hash for the checkpoint boundary at or
// below height, rounding down to the nearest checkpointInterval.
func (m *AttackMitigation) Checkpoint(height uint64) (primitives.Hash, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	boundary := (height / uint64(checkpointInterval)) * uint64(checkpointInterval)
	hash, ok := m.checkpoints[boundary]
	return hash, ok
}

// Detect51Attack reports the address of any validator whose share of all
// recorded blocks exceeds 51%, the majority-capture signal.
func (m *AttackMitigation) Detect51Attack() (primitives.Address, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.totalBlocksSeen == 0 {
		return primitives.ZeroAddress, false
	}
	for address, count := range m.blocksPerValidator {
		if float64(count)/float64(m.totalBlocksSeen) > 0.51 {
			return address, true
		}
	}
	return primitives.ZeroAddress, false
}

// IsBanned reports whether address has crossed a dominance ban threshold.
func (m *AttackMitigation) IsBanned(address primitives.Address) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.banned[address]
}

// Suspicion returns a copy of a validator's dominance suspicion record, if
// any exists.
func (m *AttackMitigation) Suspicion(address primitives.Address) (SuspicionRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.suspicious[address]
	if !ok {
		return SuspicionRecord{}, false
	}
	return SuspicionRecord{
		Validator:    record.Validator,
		OffenseCount: record.OffenseCount,
		LastOffense:  record.LastOffense,
		TotalSlashed: new(big.Int).Set(record.TotalSlashed),
	}, true
}

// SlashDominantValidator applies a suspicious validator's recorded dominance
// offense as an actual stake confiscation through the roster's sole
// authoritative write path, then clears the bookkeeping that led to it.
func (m *AttackMitigation) SlashDominantValidator(validators *ValidatorSet, address primitives.Address, blockHeight, timestampMillis uint64) (SlashingEvent, error) {
	m.mu.Lock()
	_, tracked := m.suspicious[address]
	m.mu.Unlock()
	if !tracked {
		return SlashingEvent{}, fmt.Errorf("consensus: %s has no recorded dominance suspicion", address)
	}

	var event SlashingEvent
	ok := validators.MutateValidator(address, func(v *Validator) {
		event = v.Slash(SlashingReasonCensorship, blockHeight, timestampMillis)
	})
	if !ok {
		return SlashingEvent{}, fmt.Errorf("consensus: %s is not in the validator set", address)
	}

	m.mu.Lock()
	delete(m.suspicious, address)
	m.mu.Unlock()

	return event, nil
}
