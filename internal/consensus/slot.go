package consensus

import (
	"sort"
	"time"

	"github.com/spirachain/validator/internal/primitives"
)

// SlotDurationTestnet and SlotDurationMainnet are the two supported slot
// lengths, in seconds; the node is configured with one at startup.
const (
	SlotDurationTestnet = 30
	SlotDurationMainnet = 60
)

// nowUnixSeconds is overridden in tests to avoid depending on wall-clock
// time for deterministic slot arithmetic.
var nowUnixSeconds = func() int64 { return time.Now().Unix() }

// SlotConsensus assigns the block-proposal slot to validators round-robin,
// ordered by address for determinism across the roster.
type SlotConsensus struct {
	validators   *ValidatorSet
	slotDuration int64
}

// NewSlotConsensus builds a slot scheduler over validators with the given
// per-slot duration in seconds.
func NewSlotConsensus(validators *ValidatorSet, slotDurationSeconds int64) *SlotConsensus {
	return &SlotConsensus{validators: validators, slotDuration: slotDurationSeconds}
}

// CurrentSlot is the wall-clock slot index.
func (s *SlotConsensus) CurrentSlot() uint64 {
	return uint64(nowUnixSeconds() / s.slotDuration)
}

// sortedActiveAddresses returns the active roster's addresses in
// lexicographic order, the fixed ordering every validator computes
// identically without any shared state beyond the roster itself.
func (s *SlotConsensus) sortedActiveAddresses() []primitives.Address {
	active := s.validators.ActiveValidators()
	addrs := make([]primitives.Address, len(active))
	for i, v := range active {
		addrs[i] = v.Address
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].Less(addrs[j]) })
	return addrs
}

// GetSlotLeader returns the validator assigned to slot, round-robin over
// the sorted active roster. An empty roster means bootstrap: anyone may
// produce, so this reports (ZeroAddress, false).
func (s *SlotConsensus) GetSlotLeader(slot uint64) (primitives.Address, bool) {
	addrs := s.sortedActiveAddresses()
	if len(addrs) == 0 {
		return primitives.ZeroAddress, false
	}
	return addrs[slot%uint64(len(addrs))], true
}

// IsSlotLeader reports whether address is the assigned leader for slot. In
// the empty-roster bootstrap case, every address is considered a leader.
func (s *SlotConsensus) IsSlotLeader(address primitives.Address, slot uint64) bool {
	leader, ok := s.GetSlotLeader(slot)
	if !ok {
		return true
	}
	return leader == address
}

// GetCurrentLeader is GetSlotLeader for CurrentSlot.
func (s *SlotConsensus) GetCurrentLeader() (primitives.Address, bool) {
	return s.GetSlotLeader(s.CurrentSlot())
}

// TimeUntilNextSlot returns the number of seconds remaining in the current
// slot.
func (s *SlotConsensus) TimeUntilNextSlot() int64 {
	elapsed := nowUnixSeconds() % s.slotDuration
	return s.slotDuration - elapsed
}
