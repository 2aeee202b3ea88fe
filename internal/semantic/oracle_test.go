package semantic

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/spirachain/validator/internal/ledger"
	"github.com/spirachain/validator/internal/primitives"
)

func testTransaction() *ledger.Transaction {
	from := primitives.AddressFromPublicKey([]byte("sender"))
	to := primitives.AddressFromPublicKey([]byte("recipient"))
	tx := ledger.NewTransaction(from, to, primitives.NewAmount(100), primitives.MinTxFeeAmount(), 1700000000000)
	tx.Purpose = "test transfer"
	tx.ComputeHash()
	return tx
}

func TestFallbackEmbedIsDeterministic(t *testing.T) {
	tx := testTransaction()

	v1, intent1, err := (Fallback{}).Embed(context.Background(), tx)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	v2, intent2, err := (Fallback{}).Embed(context.Background(), tx)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}

	if len(v1) != VectorDimensions {
		t.Fatalf("vector length = %d, want %d", len(v1), VectorDimensions)
	}
	for i := range v1 {
		if v1[i] != v2[i] {
			t.Fatalf("fallback embedding is not deterministic at index %d", i)
		}
	}
	if intent1.Type != intent2.Type || intent1.Confidence != intent2.Confidence {
		t.Fatalf("fallback intent is not deterministic")
	}
}

func TestFallbackEmbedDiffersAcrossTransactions(t *testing.T) {
	txA := testTransaction()
	txB := testTransaction()
	txB.Purpose = "a different purpose entirely"
	txB.ComputeHash()

	vA, _, _ := (Fallback{}).Embed(context.Background(), txA)
	vB, _, _ := (Fallback{}).Embed(context.Background(), txB)

	same := true
	for i := range vA {
		if vA[i] != vB[i] {
			same = false
			break
		}
	}
	if same {
		t.Fatalf("distinct transactions produced identical fallback embeddings")
	}
}

type erroringOracle struct{}

func (erroringOracle) Embed(context.Context, *ledger.Transaction) ([]float32, *ledger.Intent, error) {
	return nil, nil, errors.New("oracle down")
}

func TestEnrichFallsBackOnOracleError(t *testing.T) {
	tx := testTransaction()
	Enrich(context.Background(), erroringOracle{}, tx)

	if len(tx.SemanticVector) != VectorDimensions {
		t.Fatalf("SemanticVector length = %d, want %d", len(tx.SemanticVector), VectorDimensions)
	}
	if tx.Intent == nil {
		t.Fatalf("Intent was not set by fallback")
	}
}

func TestEnrichWithNilOracleUsesFallback(t *testing.T) {
	tx := testTransaction()
	Enrich(context.Background(), nil, tx)

	if len(tx.SemanticVector) != VectorDimensions {
		t.Fatalf("SemanticVector length = %d, want %d", len(tx.SemanticVector), VectorDimensions)
	}
}

func TestHTTPOracleEmbedParsesResponse(t *testing.T) {
	vector := make([]float32, VectorDimensions)
	vector[0] = 0.5

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(embedResponse{
			Vector:     vector,
			IntentType: "transfer",
			Confidence: 0.9,
		})
	}))
	defer server.Close()

	oracle := NewHTTPOracle(HTTPOracleConfig{Endpoint: server.URL})
	if oracle == nil {
		t.Fatalf("NewHTTPOracle returned nil with endpoint set")
	}

	tx := testTransaction()
	got, intent, err := oracle.Embed(context.Background(), tx)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(got) != VectorDimensions || got[0] != 0.5 {
		t.Fatalf("unexpected vector: len=%d got[0]=%v", len(got), got[0])
	}
	if intent.Type != "transfer" || intent.Confidence != 0.9 {
		t.Fatalf("unexpected intent: %+v", intent)
	}
}

func TestHTTPOracleEmbedFailsOnWrongDimension(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(embedResponse{Vector: []float32{0.1, 0.2}})
	}))
	defer server.Close()

	oracle := NewHTTPOracle(HTTPOracleConfig{Endpoint: server.URL})
	_, _, err := oracle.Embed(context.Background(), testTransaction())
	if err == nil {
		t.Fatalf("expected an error for a short vector, got nil")
	}
}

func TestNewHTTPOracleWithoutEndpointReturnsNil(t *testing.T) {
	if oracle := NewHTTPOracle(HTTPOracleConfig{}); oracle != nil {
		t.Fatalf("expected nil oracle with no endpoint configured")
	}
}
