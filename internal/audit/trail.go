package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/spirachain/validator/internal/consensus"
	"github.com/spirachain/validator/internal/primitives"
)

// EventKind classifies one audit-trail entry.
type EventKind string

const (
	EventCheckpoint  EventKind = "checkpoint"
	EventSlashing    EventKind = "slashing"
	EventViewChange  EventKind = "view_change"
	EventBanIssued   EventKind = "ban_issued"
)

// Entry is one append-only audit-trail record. EntryHash chains to
// PreviousHash so a gap or alteration in the recorded history is
// detectable by recomputing the chain.
type Entry struct {
	EntryID      string                 `json:"entryId" firestore:"-"`
	Sequence     int64                  `json:"sequence" firestore:"sequence"`
	Kind         EventKind              `json:"kind" firestore:"kind"`
	ValidatorID  string                 `json:"validatorId" firestore:"validatorId"`
	BlockHeight  uint64                 `json:"blockHeight" firestore:"blockHeight"`
	Timestamp    time.Time              `json:"timestamp" firestore:"timestamp"`
	Details      map[string]interface{} `json:"details,omitempty" firestore:"details,omitempty"`
	PreviousHash string                 `json:"previousHash" firestore:"previousHash"`
	EntryHash    string                 `json:"entryHash" firestore:"entryHash"`
}

// Service records consensus-adjacent events (checkpoints, slashing, view
// changes, bans) into a hash-chained Firestore collection scoped to this
// validator.
type Service struct {
	client      *Client
	validatorID string
	sequence    int64
}

// NewService builds a Service that records events under
// validators/{validatorID}/auditTrail.
func NewService(client *Client, validatorID string) *Service {
	return &Service{client: client, validatorID: validatorID}
}

func (s *Service) collectionPath() string {
	return fmt.Sprintf("validators/%s/auditTrail", s.validatorID)
}

// RecordCheckpoint logs that height has become finalized/checkpointed.
func (s *Service) RecordCheckpoint(ctx context.Context, height uint64, checkpointHash primitives.Hash) error {
	return s.record(ctx, EventCheckpoint, height, map[string]interface{}{
		"checkpointHash": checkpointHash.String(),
	})
}

// RecordSlashing logs a confiscation against validator.
func (s *Service) RecordSlashing(ctx context.Context, validator primitives.Address, event consensus.SlashingEvent) error {
	return s.record(ctx, EventSlashing, event.BlockHeight, map[string]interface{}{
		"validator":     validator.String(),
		"reason":        event.Reason.String(),
		"amountSlashed": event.AmountSlashed.String(),
	})
}

// RecordViewChange logs a BFT view change at height.
func (s *Service) RecordViewChange(ctx context.Context, height, newView uint64) error {
	return s.record(ctx, EventViewChange, height, map[string]interface{}{
		"newView": newView,
	})
}

// RecordBan logs that validator has been banned for repeated dominance
// violations.
func (s *Service) RecordBan(ctx context.Context, validator primitives.Address, height uint64) error {
	return s.record(ctx, EventBanIssued, height, map[string]interface{}{
		"validator": validator.String(),
	})
}

func (s *Service) record(ctx context.Context, kind EventKind, height uint64, details map[string]interface{}) error {
	previousHash, err := s.client.latestEntryHash(ctx, s.collectionPath())
	if err != nil {
		return err
	}

	s.sequence++
	entry := Entry{
		EntryID:      uuid.New().String(),
		Sequence:     s.sequence,
		Kind:         kind,
		ValidatorID:  s.validatorID,
		BlockHeight:  height,
		Timestamp:    time.Now(),
		Details:      details,
		PreviousHash: previousHash,
	}
	entry.EntryHash = computeEntryHash(entry)

	docPath := fmt.Sprintf("%s/%s", s.collectionPath(), entry.EntryID)
	return s.client.put(ctx, docPath, map[string]interface{}{
		"sequence":     entry.Sequence,
		"kind":         entry.Kind,
		"validatorId":  entry.ValidatorID,
		"blockHeight":  entry.BlockHeight,
		"timestamp":    entry.Timestamp,
		"details":      entry.Details,
		"previousHash": entry.PreviousHash,
		"entryHash":    entry.EntryHash,
	})
}

// computeEntryHash derives the chain-integrity hash over everything in
// entry except EntryHash itself, so a tampered or reordered entry is
// detectable by recomputing and comparing.
func computeEntryHash(entry Entry) string {
	data := map[string]interface{}{
		"sequence":     entry.Sequence,
		"kind":         entry.Kind,
		"validatorId":  entry.ValidatorID,
		"blockHeight":  entry.BlockHeight,
		"timestamp":    entry.Timestamp.Unix(),
		"previousHash": entry.PreviousHash,
		"details":      entry.Details,
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// VerifyChain recomputes each entry's hash in order and reports the
// index of the first entry whose stored hash doesn't match, or -1 if the
// whole chain is intact.
func VerifyChain(entries []Entry) int {
	for i, e := range entries {
		if computeEntryHash(e) != e.EntryHash {
			return i
		}
		if i > 0 && e.PreviousHash != entries[i-1].EntryHash {
			return i
		}
	}
	return -1
}
