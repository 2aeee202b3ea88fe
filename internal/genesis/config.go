// Package genesis builds the height-0 block and its accompanying
// world-state/validator-set seed data from a GenesisConfig, the
// constants-echoing document a network is bootstrapped from.
package genesis

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"

	"github.com/spirachain/validator/internal/primitives"
)

// GenesisValidator is one initial roster member, identified by a raw
// public key rather than a derived address, since the address itself is
// derived from the key at enrollment time.
type GenesisValidator struct {
	Name             string `json:"name"`
	PublicKey        []byte `json:"pubkey"`
	GeographicRegion string `json:"region"`
	Stake            string `json:"stake"` // base units, decimal string
}

func (v GenesisValidator) stakeAmount() (primitives.Amount, error) {
	n, ok := new(big.Int).SetString(v.Stake, 10)
	if !ok {
		return primitives.Amount{}, fmt.Errorf("genesis: invalid stake %q for validator %q", v.Stake, v.Name)
	}
	return primitives.NewAmountFromBig(n)
}

// GenesisAllocation is one height-0 transfer out of the zero address.
type GenesisAllocation struct {
	Recipient primitives.Address `json:"recipient"`
	Amount    string             `json:"amount"` // base units, decimal string
	Purpose   string             `json:"purpose"`
}

func (a GenesisAllocation) amount() (primitives.Amount, error) {
	n, ok := new(big.Int).SetString(a.Amount, 10)
	if !ok {
		return primitives.Amount{}, fmt.Errorf("genesis: invalid allocation amount %q for %q", a.Amount, a.Purpose)
	}
	return primitives.NewAmountFromBig(n)
}

// Constants echoes the protocol parameters a genesis document was
// signed against, so a node loading a foreign genesis file can detect a
// parameter mismatch before syncing a single block.
type Constants struct {
	PiPrecision         int     `json:"pi_precision"`
	EPrecision          int     `json:"e_precision"`
	PhiPrecision        int     `json:"phi_precision"`
	BlockTimeTargetSecs uint64  `json:"block_time_target_secs"`
	MaxBlockSize        int     `json:"max_block_size"`
	SemanticDimensions  int     `json:"semantic_dimensions"`
	MinValidatorStake   string  `json:"min_validator_stake"`
	TokenDecimals       uint8   `json:"token_decimals"`
	MinSpiralComplexity float64 `json:"min_spiral_complexity"`
}

// Config is the full genesis document: version, timestamp, founding
// roster, initial allocations, and the constants echo block.
type Config struct {
	Version             uint64              `json:"version"`
	TimestampMillis     uint64              `json:"timestamp"`
	Manifesto           string              `json:"manifesto"`
	FoundingPrinciples  []string            `json:"founding_principles"`
	InitialValidators   []GenesisValidator  `json:"initial_validators"`
	GenesisTransactions []GenesisAllocation `json:"genesis_transactions"`
	Constants           Constants           `json:"constants"`
}

// Default returns the canonical SpiraChain mainnet genesis: five
// founding validators, six allocations summing to InitialSupply, and
// the fixed per §6 timestamp.
func Default() Config {
	return Config{
		Version:         1,
		TimestampMillis: 1737331200000,
		Manifesto:       "SpiraChain: mathematical beauty as consensus.",
		FoundingPrinciples: []string{
			"Mathematical beauty as consensus",
			"Semantic coherence over computational waste",
			"Post-quantum security from inception",
			"Adaptive intelligence through native AI",
			"Geometric truth over hierarchical control",
		},
		InitialValidators:   defaultValidators(),
		GenesisTransactions: defaultAllocations(),
		Constants: Constants{
			PiPrecision:         1000,
			EPrecision:          1000,
			PhiPrecision:        1000,
			BlockTimeTargetSecs: 30,
			MaxBlockSize:        1_048_576,
			SemanticDimensions:  1536,
			MinValidatorStake:   primitives.MinValidatorStake.String(),
			TokenDecimals:       primitives.TokenDecimals,
			MinSpiralComplexity: primitives.MinSpiralComplexity,
		},
	}
}

func defaultValidators() []GenesisValidator {
	perValidatorStake := new(big.Int).Mul(big.NewInt(50_000), primitives.Unit).String()
	regions := []struct {
		name, region string
		key          byte
	}{
		{"Archimedes Node", "Europe", 0},
		{"Ramanujan Node", "Asia", 1},
		{"Fibonacci Node", "North America", 2},
		{"Euclid Node", "South America", 3},
		{"Pythagoras Node", "Africa", 4},
	}
	out := make([]GenesisValidator, 0, len(regions))
	for _, r := range regions {
		pubkey := make([]byte, 32)
		for i := range pubkey {
			pubkey[i] = r.key
		}
		out = append(out, GenesisValidator{
			Name:             r.name,
			PublicKey:        pubkey,
			GeographicRegion: r.region,
			Stake:            perValidatorStake,
		})
	}
	return out
}

func defaultAllocations() []GenesisAllocation {
	type share struct {
		addressFill byte
		fraction    float64
		purpose     string
	}
	shares := []share{
		{1, 0.30, "Team & development fund, 4 year vesting"},
		{2, 0.20, "Early validator rewards"},
		{3, 0.15, "Research grants"},
		{4, 0.10, "Community treasury, DAO-controlled"},
		{5, 0.10, "Liquidity provisions"},
		{6, 0.15, "Public genesis auction"},
	}

	total := new(big.Float).SetInt(primitives.InitialSupply)
	allocated := new(big.Int)
	out := make([]GenesisAllocation, 0, len(shares))
	for i, s := range shares {
		var fill [32]byte
		for j := range fill {
			fill[j] = s.addressFill
		}

		var amount *big.Int
		if i == len(shares)-1 {
			// Last share absorbs whatever rounding left over, so the
			// allocations always sum exactly to InitialSupply.
			amount = new(big.Int).Sub(primitives.InitialSupply, allocated)
		} else {
			f := new(big.Float).Mul(total, big.NewFloat(s.fraction))
			amount, _ = f.Int(nil)
			allocated.Add(allocated, amount)
		}

		out = append(out, GenesisAllocation{
			Recipient: primitives.Address(fill),
			Amount:    amount.String(),
			Purpose:   s.purpose,
		})
	}
	return out
}

// ToJSON renders the config as indented JSON.
func (c Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// Load reads a genesis document from path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("genesis: read %q: %w", path, err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("genesis: parse %q: %w", path, err)
	}
	return cfg, nil
}

// Save writes the config as JSON to path.
func (c Config) Save(path string) error {
	data, err := c.ToJSON()
	if err != nil {
		return fmt.Errorf("genesis: marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("genesis: write %q: %w", path, err)
	}
	return nil
}

// TreasuryAddress is the DAO-controlled community treasury account
// allocated a genesis share; block-application fee splitting credits its
// treasury portion here.
var TreasuryAddress = primitives.Address(func() [32]byte {
	var fill [32]byte
	for i := range fill {
		fill[i] = 4
	}
	return fill
}())
