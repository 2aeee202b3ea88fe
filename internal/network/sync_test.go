package network

import (
	"testing"
	"time"

	"github.com/spirachain/validator/internal/ledger"
	"github.com/spirachain/validator/internal/primitives"
)

func TestUpdateTargetHeightEntersSyncingWhenAhead(t *testing.T) {
	m := NewSyncManager()
	m.SetCurrentHeight(10)

	if !m.UpdateTargetHeight(50) {
		t.Fatal("expected a higher peer height to start syncing")
	}
	if m.State() != SyncSyncing {
		t.Fatalf("State() = %v, want SyncSyncing", m.State())
	}
	if m.TargetHeight() != 50 {
		t.Fatalf("TargetHeight() = %d, want 50", m.TargetHeight())
	}
}

func TestUpdateTargetHeightIgnoresLowerPeerHeight(t *testing.T) {
	m := NewSyncManager()
	m.SetCurrentHeight(10)
	m.UpdateTargetHeight(50)

	if m.UpdateTargetHeight(20) {
		t.Fatal("expected a lower announced height to be ignored")
	}
	if m.TargetHeight() != 50 {
		t.Fatalf("TargetHeight() = %d, want unchanged 50", m.TargetHeight())
	}
}

func TestNextBlocksToRequestThrottlesAndCaps(t *testing.T) {
	restore := nowFn
	defer func() { nowFn = restore }()

	base := time.Unix(1_700_000_000, 0)
	nowFn = func() time.Time { return base }

	m := NewSyncManager()
	m.SetCurrentHeight(0)
	m.UpdateTargetHeight(1000)

	start, count, ok := m.NextBlocksToRequest()
	if !ok {
		t.Fatal("expected a request range while syncing")
	}
	if start != 1 || count != maxBlocksPerRequest {
		t.Fatalf("got (%d, %d), want (1, %d)", start, count, maxBlocksPerRequest)
	}

	if _, _, ok := m.NextBlocksToRequest(); ok {
		t.Fatal("expected a second immediate request to be throttled")
	}

	nowFn = func() time.Time { return base.Add(syncRetryInterval + time.Second) }
	if _, _, ok := m.NextBlocksToRequest(); !ok {
		t.Fatal("expected a request to be allowed again after the retry interval")
	}
}

func TestNextBlocksToRequestCompletesSyncAtTarget(t *testing.T) {
	restore := nowFn
	defer func() { nowFn = restore }()
	nowFn = func() time.Time { return time.Unix(1_700_000_000, 0) }

	m := NewSyncManager()
	m.SetCurrentHeight(100)
	m.UpdateTargetHeight(100)

	if _, _, ok := m.NextBlocksToRequest(); ok {
		t.Fatal("expected no request once already at target height")
	}
	if !m.IsSynced() {
		t.Fatal("expected the manager to report synced")
	}
}

func blockAtTestHeight(height uint64) *ledger.Block {
	return ledger.NewBlock(primitives.Digest([]byte{byte(height)}), height)
}

func TestSyncBlockAdvancesSequentially(t *testing.T) {
	m := NewSyncManager()
	m.SetCurrentHeight(0)
	m.UpdateTargetHeight(2)

	if err := m.SyncBlock(blockAtTestHeight(1)); err != nil {
		t.Fatalf("SyncBlock: %v", err)
	}
	if m.CurrentHeight() != 1 {
		t.Fatalf("CurrentHeight() = %d, want 1", m.CurrentHeight())
	}

	if err := m.SyncBlock(blockAtTestHeight(2)); err != nil {
		t.Fatalf("SyncBlock: %v", err)
	}
	if !m.IsSynced() {
		t.Fatal("expected the manager to be synced once current reaches target")
	}
}

func TestSyncBlockBuffersOutOfOrderBlocks(t *testing.T) {
	m := NewSyncManager()
	m.SetCurrentHeight(0)
	m.UpdateTargetHeight(3)

	if err := m.SyncBlock(blockAtTestHeight(2)); err != nil {
		t.Fatalf("SyncBlock: %v", err)
	}
	if m.CurrentHeight() != 0 {
		t.Fatal("expected an out-of-order block to not advance current height")
	}

	if _, ok := m.NextSequentialBlock(); ok {
		t.Fatal("expected no sequential block yet: height 1 hasn't arrived")
	}

	if err := m.SyncBlock(blockAtTestHeight(1)); err != nil {
		t.Fatalf("SyncBlock: %v", err)
	}
	if m.CurrentHeight() != 1 {
		t.Fatalf("CurrentHeight() = %d, want 1", m.CurrentHeight())
	}

	next, ok := m.NextSequentialBlock()
	if !ok || next.Header.BlockHeight != 2 {
		t.Fatal("expected the buffered height-2 block to now be sequential")
	}
}

func TestSyncBlockDropsAlreadyAppliedHeight(t *testing.T) {
	m := NewSyncManager()
	m.SetCurrentHeight(5)
	if err := m.SyncBlock(blockAtTestHeight(3)); err != nil {
		t.Fatalf("SyncBlock: %v", err)
	}
	if m.CurrentHeight() != 5 {
		t.Fatal("expected a stale block to be dropped without changing current height")
	}
}

func TestProgressReportsFullySyncedWithNoTarget(t *testing.T) {
	m := NewSyncManager()
	if got := m.Progress(); got != 1.0 {
		t.Fatalf("Progress() = %v, want 1.0 with no target set", got)
	}
}
