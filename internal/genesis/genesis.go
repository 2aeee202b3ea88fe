package genesis

import (
	"fmt"

	"github.com/spirachain/validator/internal/consensus"
	"github.com/spirachain/validator/internal/ledger"
	"github.com/spirachain/validator/internal/primitives"
	"github.com/spirachain/validator/internal/worldstate"
)

// CreateGenesisBlock builds the height-0 block fixed by the external
// interfaces contract: zero previous hash, a Ramanujan spiral pinned at
// complexity 100 and coherence 1.0, the pi-coordinate (pi, e, phi, 0)
// and a 64-byte all-zero signature, since no validator signs a block it did
// not itself propose.
func CreateGenesisBlock(cfg Config) (*ledger.Block, error) {
	block := ledger.NewBlock(primitives.ZeroHash, 0)
	block.Header.Version = cfg.Version
	block.Header.Timestamp = cfg.TimestampMillis

	block.Header.Spiral = ledger.SpiralMetadata{
		Variant:            ledger.SpiralRamanujan,
		Complexity:         100.0,
		SelfSimilarity:     1.618033988749895,
		InformationDensity: 3.14159,
		SemanticCoherence:  1.0,
	}

	block.Header.PiCoordinates = primitives.PiCoordinate{
		X: 3.141592653589793,
		Y: 2.718281828459045,
		Z: 1.618033988749895,
		T: 0.0,
	}

	txs := make([]ledger.Transaction, 0, len(cfg.GenesisTransactions))
	for _, alloc := range cfg.GenesisTransactions {
		amount, err := alloc.amount()
		if err != nil {
			return nil, err
		}

		tx := ledger.NewTransaction(primitives.ZeroAddress, alloc.Recipient, amount, primitives.ZeroAmount(), cfg.TimestampMillis)
		tx.Purpose = alloc.Purpose
		tx.Intent = &ledger.Intent{Type: "transfer", Confidence: 1.0}
		tx.ComputeHash()
		txs = append(txs, *tx)
	}

	block.WithTransactions(txs)
	block.ComputeMerkleRoot()
	block.ComputeSpiralRoot()
	block.Header.Signature = make([]byte, 64)

	return block, nil
}

// SeedWorldState credits every allocation's recipient in ws, as the
// genesis block's own commit would if it ran through the normal
// block-application path. It is called once at chain bootstrap, never
// again.
func SeedWorldState(cfg Config, ws *worldstate.WorldState) error {
	total := primitives.ZeroAmount()
	for _, alloc := range cfg.GenesisTransactions {
		amount, err := alloc.amount()
		if err != nil {
			return err
		}
		ws.SetBalance(alloc.Recipient, amount)

		var ok bool
		total, ok = total.CheckedAdd(amount)
		if !ok {
			return fmt.Errorf("genesis: allocation total overflows u128")
		}
	}
	if total.Cmp(primitives.InitialSupplyAmount()) != 0 {
		return fmt.Errorf("genesis: allocations sum to %s, want %s", total, primitives.InitialSupplyAmount())
	}
	return nil
}

// SeedValidatorSet enrolls every founding validator in vs at its
// configured stake, locked from height 0.
func SeedValidatorSet(cfg Config, vs *consensus.ValidatorSet) error {
	for _, gv := range cfg.InitialValidators {
		stake, err := gv.stakeAmount()
		if err != nil {
			return err
		}
		validator := consensus.NewValidator(gv.PublicKey, stake, 0)
		if err := vs.AddValidator(validator); err != nil {
			return fmt.Errorf("genesis: enroll validator %q: %w", gv.Name, err)
		}
	}
	return nil
}

// Bootstrap builds the genesis block and seeds both the world state and
// validator set from the same config in one call, the path every node
// takes on first start.
func Bootstrap(cfg Config, ws *worldstate.WorldState, vs *consensus.ValidatorSet) (*ledger.Block, error) {
	block, err := CreateGenesisBlock(cfg)
	if err != nil {
		return nil, fmt.Errorf("genesis: build block: %w", err)
	}
	if err := SeedWorldState(cfg, ws); err != nil {
		return nil, fmt.Errorf("genesis: seed world state: %w", err)
	}
	if err := SeedValidatorSet(cfg, vs); err != nil {
		return nil, fmt.Errorf("genesis: seed validator set: %w", err)
	}
	return block, nil
}
