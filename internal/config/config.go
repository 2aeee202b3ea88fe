// Package config loads the validator node's runtime configuration from
// environment variables, with an optional YAML file overlay for
// settings that are more naturally expressed as structured documents
// (peer lists, spiral-variant weights).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds everything the node needs to start: identity, network
// addresses, storage locations, and the tunables the spec leaves to
// deployment (timeouts, ports, peer seeds).
type Config struct {
	// Identity
	ValidatorID      string
	ValidatorRole    string // "validator" or "full_node"
	DataDir          string
	ValidatorKeyPath string // path to the BLS12-381 consensus signing key

	// Network
	ChainID        int64
	ListenAddr     string
	MetricsAddr    string
	HealthAddr     string
	P2PPort        int
	BootstrapSeeds []string
	DNSSeeds       []string
	EnableMDNS     bool

	// Consensus timing
	BlockProductionInterval time.Duration
	StatsInterval           time.Duration
	MempoolPollInterval     time.Duration
	BFTTimeout              time.Duration

	// Storage
	LevelDBPath string
	DatabaseURL string // optional Postgres mirror; empty disables it

	// Logging
	LogLevel string

	// Overlay is populated when ConfigFile points at a readable YAML
	// document; it augments fields above that are awkward as
	// environment variables.
	Overlay Overlay
}

// Overlay is the YAML-sourced structured configuration: per-network
// peer seeds and spiral-variant weighting, neither of which fits
// comfortably as a flat env var.
type Overlay struct {
	Peers  []PeerSeed       `yaml:"peers"`
	Spiral SpiralWeightsCfg `yaml:"spiral"`
}

// PeerSeed is one statically-configured bootstrap peer.
type PeerSeed struct {
	Address string `yaml:"address"`
	Region  string `yaml:"region"`
}

// SpiralWeightsCfg holds optional overall-score weights read from the
// YAML file. Load only stores them; no scoring code reads them, so the
// default weighting always applies.
type SpiralWeightsCfg struct {
	Complexity         *float64 `yaml:"complexity"`
	SelfSimilarity     *float64 `yaml:"self_similarity"`
	InformationDensity *float64 `yaml:"information_density"`
	SemanticCoherence  *float64 `yaml:"semantic_coherence"`
}

// Load builds a Config from environment variables, then applies a YAML
// overlay from CONFIG_FILE if set and present.
func Load() (*Config, error) {
	cfg := &Config{
		ValidatorID:      getEnv("VALIDATOR_ID", "validator-default"),
		ValidatorRole:    getEnv("VALIDATOR_ROLE", "validator"),
		DataDir:          getEnv("DATA_DIR", "./data"),
		ValidatorKeyPath: getEnv("VALIDATOR_KEY_PATH", ""),

		ChainID:        getEnvInt64("CHAIN_ID", 7529),
		ListenAddr:     getEnv("API_HOST", "0.0.0.0") + ":" + getEnv("API_PORT", "8080"),
		MetricsAddr:    getEnv("API_HOST", "0.0.0.0") + ":" + getEnv("METRICS_PORT", "9090"),
		HealthAddr:     getEnv("API_HOST", "0.0.0.0") + ":" + getEnv("HEALTH_PORT", "8081"),
		P2PPort:        getEnvInt("P2P_PORT", 30333),
		BootstrapSeeds: splitCSV(getEnv("BOOTSTRAP_SEEDS", "")),
		DNSSeeds:       splitCSV(getEnv("DNS_SEEDS", "")),
		EnableMDNS:     getEnvBool("ENABLE_MDNS", true),

		BlockProductionInterval: getEnvDuration("BLOCK_PRODUCTION_INTERVAL", 60*time.Second),
		StatsInterval:           getEnvDuration("STATS_INTERVAL", 30*time.Second),
		MempoolPollInterval:     getEnvDuration("MEMPOOL_POLL_INTERVAL", 5*time.Second),
		BFTTimeout:              getEnvDuration("BFT_TIMEOUT", 30*time.Second),

		LevelDBPath: getEnv("LEVELDB_PATH", "./data/ledger"),
		DatabaseURL: getEnv("DATABASE_URL", ""),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	if path := getEnv("CONFIG_FILE", ""); path != "" {
		overlay, err := loadOverlay(path)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		cfg.Overlay = overlay
	}

	return cfg, nil
}

func loadOverlay(path string) (Overlay, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Overlay{}, fmt.Errorf("read overlay %q: %w", path, err)
	}
	var overlay Overlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return Overlay{}, fmt.Errorf("parse overlay %q: %w", path, err)
	}
	return overlay, nil
}

// Validate enforces what a production deployment must set: a reachable
// identity and a non-default validator key path for validator-role
// nodes.
func (c *Config) Validate() error {
	var errs []string

	if c.ValidatorID == "" {
		errs = append(errs, "VALIDATOR_ID is required but not set")
	}
	if c.ValidatorRole == "validator" && c.ValidatorKeyPath == "" {
		errs = append(errs, "VALIDATOR_KEY_PATH is required for validator-role nodes")
	}
	if c.ChainID <= 0 {
		errs = append(errs, "CHAIN_ID must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ValidateForDevelopment applies a looser check suitable for local
// experimentation, where an ephemeral key and default data dir are
// acceptable.
func (c *Config) ValidateForDevelopment() error {
	if c.ValidatorID == "" {
		return fmt.Errorf("development configuration validation failed: VALIDATOR_ID is required")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func splitCSV(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
