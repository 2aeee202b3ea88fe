// Package semantic provides the transaction semantic-embedding pipeline
// behind an injected Oracle interface. The real embedding service is an
// out-of-process, flaky external collaborator; this package treats it
// as non-critical for liveness and always has a deterministic,
// hash-derived fallback so candidate-block assembly never blocks on it.
package semantic

import (
	"context"
	"math"

	"github.com/spirachain/validator/internal/ledger"
	"github.com/spirachain/validator/internal/primitives"
)

// VectorDimensions is the embedding width the rest of the pipeline
// assumes (spiral_engine's semantic clustering, transaction coherence
// scoring).
const VectorDimensions = 1536

// Oracle annotates a transaction with a semantic embedding and an
// optional inferred intent. Implementations must be safe to call
// concurrently from the mempool's ingest path.
type Oracle interface {
	Embed(ctx context.Context, tx *ledger.Transaction) ([]float32, *ledger.Intent, error)
}

// Enrich calls oracle and writes its result onto tx, falling back to a
// deterministic embedding on any error so a flaky or unreachable oracle
// never blocks transaction admission.
func Enrich(ctx context.Context, oracle Oracle, tx *ledger.Transaction) {
	if oracle == nil {
		oracle = Fallback{}
	}
	vector, intent, err := oracle.Embed(ctx, tx)
	if err != nil || vector == nil {
		vector, intent, _ = Fallback{}.Embed(ctx, tx)
	}
	tx.SemanticVector = vector
	tx.Intent = intent
}

// Fallback derives a pseudo-embedding from the transaction's own
// identity hash, so every transaction gets a stable, reproducible
// vector even when no real embedding service is configured or reachable.
type Fallback struct{}

// Embed hashes tx's canonical fields and expands the digest into a
// VectorDimensions-wide unit vector via repeated re-hashing; never
// returns an error.
func (Fallback) Embed(_ context.Context, tx *ledger.Transaction) ([]float32, *ledger.Intent, error) {
	seed := tx.TxHash
	if seed.IsZero() {
		seed = primitives.Digest(append(append(tx.From.Bytes(), tx.To.Bytes()...), []byte(tx.Purpose)...))
	}

	vector := make([]float32, VectorDimensions)
	block := seed
	var sumSquares float64
	for i := 0; i < VectorDimensions; i++ {
		if i%32 == 0 {
			block = primitives.Digest(block[:])
		}
		b := block[i%32]
		v := (float32(b) / 255.0 * 2) - 1 // map byte to [-1, 1]
		vector[i] = v
		sumSquares += float64(v) * float64(v)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude > 0 {
		for i := range vector {
			vector[i] = float32(float64(vector[i]) / magnitude)
		}
	}

	intent := &ledger.Intent{Type: "unknown", Confidence: 0}
	if tx.Purpose != "" {
		intent = &ledger.Intent{Type: "transfer", Confidence: 0.5}
	}
	return vector, intent, nil
}
