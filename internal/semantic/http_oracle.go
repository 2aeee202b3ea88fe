package semantic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/spirachain/validator/internal/ledger"
)

// HTTPOracle calls an out-of-process embedding service over HTTP. It is
// the pluggable "semantic oracle" the external-interfaces contract
// leaves undefined; any service speaking the small JSON protocol below
// can sit behind it.
type HTTPOracle struct {
	endpoint   string
	httpClient *http.Client
	logger     *log.Logger
}

// HTTPOracleConfig configures an HTTPOracle.
type HTTPOracleConfig struct {
	Endpoint string
	Timeout  time.Duration
	Logger   *log.Logger
}

// ConfigFromEnv builds an HTTPOracleConfig from SEMANTIC_ORACLE_*
// environment variables.
func ConfigFromEnv() HTTPOracleConfig {
	return HTTPOracleConfig{
		Endpoint: os.Getenv("SEMANTIC_ORACLE_ENDPOINT"),
		Timeout:  5 * time.Second,
		Logger:   log.New(os.Stdout, "[semantic] ", log.LstdFlags),
	}
}

// NewHTTPOracle builds an HTTPOracle, or nil if cfg.Endpoint is unset,
// so callers can do `if oracle := NewHTTPOracle(cfg); oracle != nil`
// and otherwise fall through to the deterministic Fallback alone.
func NewHTTPOracle(cfg HTTPOracleConfig) *HTTPOracle {
	if cfg.Endpoint == "" {
		return nil
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stdout, "[semantic] ", log.LstdFlags)
	}
	return &HTTPOracle{
		endpoint:   cfg.Endpoint,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     cfg.Logger,
	}
}

type embedRequest struct {
	Purpose   string `json:"purpose"`
	TxHash    string `json:"tx_hash"`
	Dimension int    `json:"dimension"`
}

type embedResponse struct {
	Vector     []float32 `json:"vector"`
	IntentType string    `json:"intent_type"`
	Confidence float64   `json:"confidence"`
}

// Embed POSTs tx's purpose and hash to the configured endpoint and
// parses the returned vector and intent. A non-200 response, a
// malformed body, or a network error is returned to the caller, which
// is expected to fall back to Fallback rather than treat this as fatal.
func (o *HTTPOracle) Embed(ctx context.Context, tx *ledger.Transaction) ([]float32, *ledger.Intent, error) {
	reqBody, err := json.Marshal(embedRequest{
		Purpose:   tx.Purpose,
		TxHash:    tx.TxHash.String(),
		Dimension: VectorDimensions,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("semantic: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, nil, fmt.Errorf("semantic: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		return nil, nil, fmt.Errorf("semantic: oracle unreachable: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("semantic: read oracle response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("semantic: oracle returned status %d", resp.StatusCode)
	}

	var parsed embedResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, nil, fmt.Errorf("semantic: parse oracle response: %w", err)
	}
	if len(parsed.Vector) != VectorDimensions {
		return nil, nil, fmt.Errorf("semantic: oracle returned %d dimensions, want %d", len(parsed.Vector), VectorDimensions)
	}

	intent := &ledger.Intent{Type: parsed.IntentType, Confidence: parsed.Confidence}
	return parsed.Vector, intent, nil
}
