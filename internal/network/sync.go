package network

import (
	"fmt"
	"sync"
	"time"

	"github.com/spirachain/validator/internal/ledger"
)

// maxBlocksPerRequest caps how many blocks SyncManager asks for at once.
const maxBlocksPerRequest = 100

// syncRetryInterval is the minimum spacing between outstanding sync
// requests, so a stalled peer doesn't get hammered.
const syncRetryInterval = 5 * time.Second

// nowFn is overridden in tests for deterministic retry-spacing checks.
var nowFn = time.Now

// SyncState is where a node sits relative to the rest of the network.
type SyncState int

const (
	SyncIdle SyncState = iota
	SyncSyncing
	SyncSynced
)

func (s SyncState) String() string {
	switch s {
	case SyncIdle:
		return "idle"
	case SyncSyncing:
		return "syncing"
	case SyncSynced:
		return "synced"
	default:
		return "unknown"
	}
}

// SyncManager tracks this node's chain height against the tallest height
// announced by any peer, and drives the request/apply loop that catches it
// up: out-of-order blocks are buffered until their predecessor arrives.
type SyncManager struct {
	mu sync.Mutex

	currentHeight uint64
	targetHeight  uint64
	state         SyncState

	pendingBlocks    map[uint64]*ledger.Block
	lastSyncAttempt  time.Time
}

// NewSyncManager starts idle at height zero.
func NewSyncManager() *SyncManager {
	return &SyncManager{
		pendingBlocks: make(map[uint64]*ledger.Block),
	}
}

// SetCurrentHeight seeds the manager's notion of local progress, typically
// from the storage layer at startup.
func (m *SyncManager) SetCurrentHeight(height uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentHeight = height
}

// UpdateTargetHeight folds in a peer-announced height. It returns true if
// this raised the target and put the manager into Syncing, which callers
// use to decide whether to kick off a request right away.
func (m *SyncManager) UpdateTargetHeight(peerHeight uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if peerHeight <= m.targetHeight {
		return false
	}

	wasSynced := m.state == SyncSynced
	m.targetHeight = peerHeight

	if peerHeight > m.currentHeight {
		m.state = SyncSyncing
		return true
	}
	if wasSynced {
		m.state = SyncSynced
	}
	return false
}

// NextBlocksToRequest returns the (start, count) range to request next, or
// ok=false if there's nothing to do right now: already synced, not
// syncing, or a request was sent too recently.
func (m *SyncManager) NextBlocksToRequest() (start, count uint64, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != SyncSyncing {
		return 0, 0, false
	}
	if nowFn().Sub(m.lastSyncAttempt) < syncRetryInterval {
		return 0, 0, false
	}
	if m.currentHeight >= m.targetHeight {
		m.state = SyncSynced
		return 0, 0, false
	}

	start = m.currentHeight + 1
	count = m.targetHeight - m.currentHeight
	if count > maxBlocksPerRequest {
		count = maxBlocksPerRequest
	}
	m.lastSyncAttempt = nowFn()
	return start, count, true
}

// AddPendingBlock buffers an out-of-order block until its predecessor
// arrives.
func (m *SyncManager) AddPendingBlock(block *ledger.Block) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pendingBlocks[block.Header.BlockHeight] = block
}

// NextSequentialBlock pops the block immediately following the current
// height out of the pending buffer, if it has already arrived.
func (m *SyncManager) NextSequentialBlock() (*ledger.Block, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := m.currentHeight + 1
	block, ok := m.pendingBlocks[next]
	if ok {
		delete(m.pendingBlocks, next)
	}
	return block, ok
}

// SyncBlock applies a newly received block: if it extends the current
// height, current height advances (and a prior sync completes once target
// is reached); if it arrives early, it's buffered; if it's a duplicate of
// something already applied, it's dropped without error.
func (m *SyncManager) SyncBlock(block *ledger.Block) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	height := block.Header.BlockHeight
	switch {
	case height == m.currentHeight+1:
		m.currentHeight = height
		if m.currentHeight >= m.targetHeight {
			m.state = SyncSynced
		}
		return nil
	case height > m.currentHeight+1:
		m.pendingBlocks[height] = block
		return nil
	default:
		return nil
	}
}

// FastSync jumps straight to Syncing against targetHeight, for a node that
// already knows it is far behind (e.g. fresh from a snapshot) and doesn't
// need to discover the target incrementally.
func (m *SyncManager) FastSync(targetHeight uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if targetHeight < m.currentHeight {
		return fmt.Errorf("network: fast-sync target %d is behind current height %d", targetHeight, m.currentHeight)
	}
	m.targetHeight = targetHeight
	m.state = SyncSyncing
	return nil
}

// IsSynced reports whether the manager believes it has caught up.
func (m *SyncManager) IsSynced() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == SyncSynced || m.currentHeight >= m.targetHeight
}

// IsSyncing reports whether a catch-up is in progress.
func (m *SyncManager) IsSyncing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == SyncSyncing
}

// Progress is current/target height, in [0,1]; an unset target reports
// fully synced.
func (m *SyncManager) Progress() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.targetHeight == 0 {
		return 1.0
	}
	return float64(m.currentHeight) / float64(m.targetHeight)
}

// CurrentHeight returns the manager's local height.
func (m *SyncManager) CurrentHeight() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentHeight
}

// TargetHeight returns the tallest height any peer has announced.
func (m *SyncManager) TargetHeight() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.targetHeight
}

// State returns the current sync state.
func (m *SyncManager) State() SyncState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}
