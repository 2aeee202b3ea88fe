// Package metrics exposes the validator node's operational state as
// Prometheus gauges and counters: chain height, mempool size, validator
// reputation, BFT view/quorum state, and slashing activity. This is
// ambient telemetry, not a consensus input — nothing here is read back
// by any consensus component.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/spirachain/validator/internal/primitives"
)

// namespace prefixes every metric name, so this node's metrics never
// collide with another exporter on a shared scrape target.
const namespace = "spirachain"

// Registry owns one prometheus.Registry and the node's metric
// collectors, built as an instance rather than package-level globals so
// a test can spin up an isolated Registry per case.
type Registry struct {
	reg *prometheus.Registry

	BlockHeight      prometheus.Gauge
	MempoolSize      prometheus.Gauge
	PeerCount        prometheus.Gauge
	BFTView          prometheus.Gauge
	BFTQuorumSize    prometheus.Gauge
	BlocksProposed   prometheus.Counter
	BlocksFinalized  prometheus.Counter
	ViewChangesTotal prometheus.Counter

	ValidatorReputation *prometheus.GaugeVec
	ValidatorStake      *prometheus.GaugeVec
	SlashingEventsTotal *prometheus.CounterVec
}

// New builds a Registry and registers every collector with it.
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,

		BlockHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "block_height",
			Help:      "Height of the highest block this node has applied.",
		}),
		MempoolSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mempool_size",
			Help:      "Number of transactions currently pending in the mempool.",
		}),
		PeerCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "peer_count",
			Help:      "Number of connected network peers.",
		}),
		BFTView: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bft_view",
			Help:      "Current BFT consensus view number.",
		}),
		BFTQuorumSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bft_quorum_size",
			Help:      "Number of validator votes required to reach quorum.",
		}),
		BlocksProposed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_proposed_total",
			Help:      "Total number of block candidates this node has proposed.",
		}),
		BlocksFinalized: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_finalized_total",
			Help:      "Total number of blocks finalized by BFT commit.",
		}),
		ViewChangesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "view_changes_total",
			Help:      "Total number of BFT view changes triggered by liveness failure.",
		}),
		ValidatorReputation: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "validator_reputation",
			Help:      "Per-validator reputation score in [0, 1].",
		}, []string{"validator"}),
		ValidatorStake: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "validator_stake_base_units",
			Help:      "Per-validator staked amount in base units.",
		}, []string{"validator"}),
		SlashingEventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slashing_events_total",
			Help:      "Total slashing events by reason.",
		}, []string{"reason"}),
	}

	reg.MustRegister(
		r.BlockHeight, r.MempoolSize, r.PeerCount, r.BFTView, r.BFTQuorumSize,
		r.BlocksProposed, r.BlocksFinalized, r.ViewChangesTotal,
		r.ValidatorReputation, r.ValidatorStake, r.SlashingEventsTotal,
	)

	return r
}

// Handler returns the HTTP handler to mount at the node's metrics
// listen address.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// SetValidatorReputation records a validator's current reputation score.
func (r *Registry) SetValidatorReputation(addr primitives.Address, reputation float64) {
	r.ValidatorReputation.WithLabelValues(addr.String()).Set(reputation)
}

// SetValidatorStake records a validator's current stake.
func (r *Registry) SetValidatorStake(addr primitives.Address, stakeBaseUnits float64) {
	r.ValidatorStake.WithLabelValues(addr.String()).Set(stakeBaseUnits)
}

// RecordSlashing increments the slashing counter for reason.
func (r *Registry) RecordSlashing(reason string) {
	r.SlashingEventsTotal.WithLabelValues(reason).Inc()
}
