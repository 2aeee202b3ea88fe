package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/spirachain/validator/internal/primitives"
)

func TestBlockHeightGaugeReportsSetValue(t *testing.T) {
	r := New()
	r.BlockHeight.Set(42)

	if got := testutil.ToFloat64(r.BlockHeight); got != 42 {
		t.Fatalf("BlockHeight = %v, want 42", got)
	}
}

func TestSetValidatorReputationLabelsByAddress(t *testing.T) {
	r := New()
	addr := primitives.AddressFromPublicKey([]byte("validator-one"))
	r.SetValidatorReputation(addr, 0.95)

	got := testutil.ToFloat64(r.ValidatorReputation.WithLabelValues(addr.String()))
	if got != 0.95 {
		t.Fatalf("ValidatorReputation = %v, want 0.95", got)
	}
}

func TestRecordSlashingIncrementsReasonCounter(t *testing.T) {
	r := New()
	r.RecordSlashing("censorship")
	r.RecordSlashing("censorship")
	r.RecordSlashing("downtime")

	if got := testutil.ToFloat64(r.SlashingEventsTotal.WithLabelValues("censorship")); got != 2 {
		t.Fatalf("censorship count = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.SlashingEventsTotal.WithLabelValues("downtime")); got != 1 {
		t.Fatalf("downtime count = %v, want 1", got)
	}
}

func TestHandlerServesRegisteredMetrics(t *testing.T) {
	r := New()
	r.BlockHeight.Set(7)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "spirachain_block_height 7") {
		t.Fatalf("expected block height metric in response body, got:\n%s", body)
	}
}
