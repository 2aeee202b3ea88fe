package audit

import (
	"context"
	"testing"

	"github.com/spirachain/validator/internal/consensus"
	"github.com/spirachain/validator/internal/primitives"
)

func disabledClient(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient(context.Background(), &ClientConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestRecordCheckpointIsNoOpWhenDisabled(t *testing.T) {
	c := disabledClient(t)
	svc := NewService(c, "validator-1")

	hash := primitives.Digest([]byte("checkpoint-100"))
	if err := svc.RecordCheckpoint(context.Background(), 100, hash); err != nil {
		t.Fatalf("RecordCheckpoint: %v", err)
	}
}

func TestRecordSlashingIsNoOpWhenDisabled(t *testing.T) {
	c := disabledClient(t)
	svc := NewService(c, "validator-1")

	addr := primitives.AddressFromPublicKey([]byte("bad-actor"))
	event := consensus.SlashingEvent{
		Reason:          consensus.SlashingReasonCensorship,
		AmountSlashed:   primitives.NewAmount(500),
		BlockHeight:     42,
		TimestampMillis: 1_700_000_000_000,
	}
	if err := svc.RecordSlashing(context.Background(), addr, event); err != nil {
		t.Fatalf("RecordSlashing: %v", err)
	}
}

func TestVerifyChainDetectsTamperedEntry(t *testing.T) {
	e0 := Entry{Sequence: 1, Kind: EventCheckpoint, ValidatorID: "v1", BlockHeight: 100}
	e0.EntryHash = computeEntryHash(e0)

	e1 := Entry{Sequence: 2, Kind: EventCheckpoint, ValidatorID: "v1", BlockHeight: 200, PreviousHash: e0.EntryHash}
	e1.EntryHash = computeEntryHash(e1)

	chain := []Entry{e0, e1}
	if idx := VerifyChain(chain); idx != -1 {
		t.Fatalf("VerifyChain on an untampered chain = %d, want -1", idx)
	}

	chain[1].BlockHeight = 9999 // tamper without recomputing the hash
	if idx := VerifyChain(chain); idx != 1 {
		t.Fatalf("VerifyChain on a tampered chain = %d, want 1", idx)
	}
}

func TestVerifyChainDetectsBrokenLink(t *testing.T) {
	e0 := Entry{Sequence: 1, Kind: EventCheckpoint, ValidatorID: "v1", BlockHeight: 100}
	e0.EntryHash = computeEntryHash(e0)

	e1 := Entry{Sequence: 2, Kind: EventCheckpoint, ValidatorID: "v1", BlockHeight: 200, PreviousHash: "wrong-hash"}
	e1.EntryHash = computeEntryHash(e1)

	if idx := VerifyChain([]Entry{e0, e1}); idx != 1 {
		t.Fatalf("VerifyChain with a broken previous-hash link = %d, want 1", idx)
	}
}
