// Package validatorloop drives the node's cooperative task loop: three
// periodic timers (block production, stats, mempool polling) plus an
// event-driven relay of BFT PrePrepare/Prepare/Commit messages arriving
// from the network layer. It is the component that actually calls every
// other package — consensus, storage, world state, mempool, rewards,
// attack mitigation, network, metrics, audit — in the order a committed
// block moves through them.
package validatorloop

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"os"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/spirachain/validator/internal/audit"
	"github.com/spirachain/validator/internal/consensus"
	"github.com/spirachain/validator/internal/crypto/bls"
	"github.com/spirachain/validator/internal/genesis"
	"github.com/spirachain/validator/internal/ledger"
	"github.com/spirachain/validator/internal/mempool"
	"github.com/spirachain/validator/internal/metrics"
	"github.com/spirachain/validator/internal/network"
	"github.com/spirachain/validator/internal/primitives"
	"github.com/spirachain/validator/internal/rewards"
	"github.com/spirachain/validator/internal/storage"
	"github.com/spirachain/validator/internal/worldstate"
)

// nowUnixMilli is overridden in tests for deterministic slashing
// timestamps.
var nowUnixMilli = func() int64 { return time.Now().UnixMilli() }

// Config bundles every subsystem the loop orchestrates. Node, Metrics,
// and Audit are optional: a nil Node runs as an independent single-
// validator producer (no BFT relay leaves the process), a nil Metrics
// or Audit simply skips that ambient reporting.
type Config struct {
	LocalAddress primitives.Address
	LocalKey     *bls.PrivateKey

	Validators *consensus.ValidatorSet
	Mempool    *mempool.Mempool
	State      *worldstate.WorldState
	Storage    storage.BlockStorage
	Slot       *consensus.SlotConsensus
	Engine     *consensus.ProofOfSpiralEngine
	BFT        *consensus.BFTConsensus
	Attack     *consensus.AttackMitigation

	Node    *network.Node
	Metrics *metrics.Registry
	Audit   *audit.Service

	BlockProductionInterval time.Duration
	StatsInterval           time.Duration
	MempoolPollInterval     time.Duration

	Logger *log.Logger
}

// Loop is the running validator: it owns no state of its own beyond
// bookkeeping counters, deferring everything consensus-relevant to the
// components in Config.
type Loop struct {
	cfg    Config
	logger *log.Logger

	mu             sync.Mutex
	blocksProduced uint64

	stopOnce sync.Once
	stop     chan struct{}
}

// New builds a Loop and, if cfg.Node is set, registers it as the BFT
// message handler so PrePrepare/Prepare/Commit traffic from peers flows
// into the local BFTConsensus instance.
func New(cfg Config) *Loop {
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stdout, "[validator] ", log.LstdFlags)
	}
	if cfg.BlockProductionInterval <= 0 {
		cfg.BlockProductionInterval = 60 * time.Second
	}
	if cfg.StatsInterval <= 0 {
		cfg.StatsInterval = 30 * time.Second
	}
	if cfg.MempoolPollInterval <= 0 {
		cfg.MempoolPollInterval = 5 * time.Second
	}

	l := &Loop{
		cfg:    cfg,
		logger: cfg.Logger,
		stop:   make(chan struct{}),
	}
	if cfg.Node != nil {
		cfg.Node.OnBFT(l.handleBFTMessage)
	}
	return l
}

// Run blocks, driving the three timers until ctx is cancelled or Stop is
// called.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Printf("validator loop started (producing blocks every %s)", l.cfg.BlockProductionInterval)

	blockTicker := time.NewTicker(l.cfg.BlockProductionInterval)
	defer blockTicker.Stop()
	statsTicker := time.NewTicker(l.cfg.StatsInterval)
	defer statsTicker.Stop()
	mempoolTicker := time.NewTicker(l.cfg.MempoolPollInterval)
	defer mempoolTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Printf("validator loop stopped: %v", ctx.Err())
			return nil
		case <-l.stop:
			l.logger.Printf("validator loop stopped")
			return nil
		case <-blockTicker.C:
			if err := l.produceBlock(ctx); err != nil {
				l.logger.Printf("block production failed: %v", err)
			}
		case <-statsTicker.C:
			l.printStats(ctx)
		case <-mempoolTicker.C:
			l.checkMempool()
		}
	}
}

// Stop signals Run to return; safe to call more than once or before Run
// starts.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// BlocksProduced reports how many blocks this process has finalized
// since it started.
func (l *Loop) BlocksProduced() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.blocksProduced
}

// SubmitTransaction validates tx against the current world state,
// admits it to the mempool, and gossips it to connected peers.
func (l *Loop) SubmitTransaction(tx ledger.Transaction) error {
	if err := tx.Validate(); err != nil {
		return fmt.Errorf("validatorloop: %w", err)
	}

	required, ok := tx.Amount.CheckedAdd(tx.Fee)
	if !ok {
		return fmt.Errorf("validatorloop: amount+fee overflow")
	}
	if l.cfg.State.GetBalance(tx.From).LessThan(required) {
		return fmt.Errorf("validatorloop: insufficient balance")
	}

	if err := l.cfg.Mempool.AddTransaction(tx); err != nil {
		return err
	}
	if l.cfg.Node != nil {
		l.cfg.Node.BroadcastTransaction(context.Background(), &tx)
	}
	return nil
}

// produceBlock is the 60s timer's handler: bootstrap genesis if the
// store is empty, otherwise build and propose a candidate only when the
// local validator is the current slot's leader.
func (l *Loop) produceBlock(ctx context.Context) error {
	previous, ok, err := l.cfg.Storage.GetLatestBlock()
	if err != nil {
		return fmt.Errorf("validatorloop: read latest block: %w", err)
	}
	if !ok {
		return l.produceGenesis()
	}

	slot := l.cfg.Slot.CurrentSlot()
	if !l.cfg.Slot.IsSlotLeader(l.cfg.LocalAddress, slot) {
		return nil
	}

	proposer, ok := l.cfg.Validators.GetValidator(l.cfg.LocalAddress)
	if !ok {
		return fmt.Errorf("validatorloop: local validator %s is not enrolled", l.cfg.LocalAddress)
	}

	pending := l.cfg.Mempool.GetPendingTransactions(primitives.MaxTxPerBlock)
	l.logger.Printf("producing block %d (%d pending txs)", previous.Header.BlockHeight+1, len(pending))

	block, err := l.cfg.Engine.GenerateBlockCandidate(&proposer, l.cfg.LocalKey.Bytes(), pending, previous)
	if err != nil {
		return fmt.Errorf("validatorloop: generate candidate: %w", err)
	}
	if err := l.cfg.Engine.ValidateBlock(block, previous, l.cfg.Validators); err != nil {
		return fmt.Errorf("validatorloop: self-validate candidate: %w", err)
	}

	prePrepare, err := l.cfg.BFT.ProposeBlock(block)
	if err != nil {
		return fmt.Errorf("validatorloop: propose block: %w", err)
	}
	if l.cfg.Node != nil {
		l.cfg.Node.BroadcastPrePrepare(ctx, prePrepare)
	}
	l.processPrePrepare(ctx, prePrepare)
	return nil
}

// produceGenesis persists the canonical genesis block and seeds world
// state the first time the store is found empty. The validator set
// itself is expected to already be seeded at startup (see
// genesis.Bootstrap), since slot leadership must be resolvable before
// this ever runs.
func (l *Loop) produceGenesis() error {
	l.logger.Printf("no blocks stored yet, creating genesis block")

	cfg := genesis.Default()
	block, err := genesis.CreateGenesisBlock(cfg)
	if err != nil {
		return fmt.Errorf("validatorloop: create genesis block: %w", err)
	}
	if err := l.cfg.Storage.StoreBlock(block); err != nil {
		return fmt.Errorf("validatorloop: store genesis block: %w", err)
	}
	if err := genesis.SeedWorldState(cfg, l.cfg.State); err != nil {
		return fmt.Errorf("validatorloop: seed world state: %w", err)
	}
	l.cfg.State.SetHeight(0)

	l.logger.Printf("genesis block created: %s", block.Hash())
	return nil
}

// processPrePrepare is phase 1's receive side, run both for the local
// proposer's own proposal and for one arriving over the wire. It never
// rebroadcasts the PrePrepare itself — only the original proposer does
// that once, in produceBlock — but it always relays the Prepare vote it
// derives.
func (l *Loop) processPrePrepare(ctx context.Context, msg consensus.PrePrepareMsg) {
	prepare, err := l.cfg.BFT.HandlePrePrepare(msg)
	if err != nil {
		l.logger.Printf("bft: reject pre-prepare: %v", err)
		return
	}
	l.processPrepare(ctx, prepare)
	if l.cfg.Node != nil {
		l.cfg.Node.BroadcastPrepare(ctx, prepare)
	}
}

// processPrepare is phase 2's receive side: record the vote, and once
// quorum is reached, relay the resulting Commit.
func (l *Loop) processPrepare(ctx context.Context, msg consensus.PrepareMsg) {
	commit, err := l.cfg.BFT.HandlePrepare(msg)
	if err != nil {
		l.logger.Printf("bft: reject prepare: %v", err)
		return
	}
	if commit == nil {
		return
	}
	l.processCommit(ctx, *commit)
	if l.cfg.Node != nil {
		l.cfg.Node.BroadcastCommit(ctx, *commit)
	}
}

// processCommit is phase 3's receive side: record the vote, and once
// quorum commits the block, finalize it exactly once.
func (l *Loop) processCommit(ctx context.Context, msg consensus.CommitMsg) {
	finalized, err := l.cfg.BFT.HandleCommit(msg)
	if err != nil {
		l.logger.Printf("bft: reject commit: %v", err)
		return
	}
	if !finalized {
		return
	}
	block, ok := l.cfg.BFT.CommittedBlock(msg.BlockHash)
	if !ok {
		return
	}
	if err := l.finalizeBlock(ctx, block); err != nil {
		l.logger.Printf("finalize block %d failed: %v", block.Header.BlockHeight, err)
	}
}

// handleBFTMessage is wired to the network layer via Node.OnBFT; it is
// fire-and-forget gossip, so it never writes a response.
func (l *Loop) handleBFTMessage(_ peer.ID, msg network.Message) (network.Message, bool) {
	ctx := context.Background()
	switch msg.Kind {
	case network.KindPrePrepare:
		if msg.PrePrepare != nil {
			l.processPrePrepare(ctx, *msg.PrePrepare)
		}
	case network.KindPrepare:
		if msg.Prepare != nil {
			l.processPrepare(ctx, *msg.Prepare)
		}
	case network.KindCommit:
		if msg.Commit != nil {
			l.processCommit(ctx, *msg.Commit)
		}
	}
	return network.Message{}, false
}

// finalizeBlock is the single place a committed block becomes real: it
// persists, applies transfers and fee splitting to world state, mints
// the block reward, removes the included transactions from the
// mempool, runs attack-mitigation ingestion, updates metrics/audit, and
// announces the new height.
func (l *Loop) finalizeBlock(ctx context.Context, block *ledger.Block) error {
	if err := l.cfg.Storage.StoreBlock(block); err != nil {
		return fmt.Errorf("validatorloop: store block: %w", err)
	}

	proposer := primitives.AddressFromPublicKey(block.Header.ValidatorPubkey)
	totalFees := primitives.ZeroAmount()

	for i := range block.Transactions {
		tx := &block.Transactions[i]

		if err := l.cfg.State.Transfer(tx.From, tx.To, tx.Amount); err != nil {
			l.logger.Printf("world state transfer failed for tx %s: %v", tx.TxHash, err)
			continue
		}
		l.cfg.State.IncrementNonce(tx.From)
		l.cfg.Mempool.RemoveTransaction(tx.TxHash)

		senderBalance := l.cfg.State.GetBalance(tx.From)
		if after, ok := senderBalance.CheckedSub(tx.Fee); ok {
			l.cfg.State.SetBalance(tx.From, after)
			if sum, ok := totalFees.CheckedAdd(tx.Fee); ok {
				totalFees = sum
			}
		}
	}

	if !totalFees.IsZero() {
		validatorShare, _, treasuryShare := rewards.DistributeFees(totalFees)
		l.creditBalance(proposer, validatorShare)
		l.creditBalance(genesis.TreasuryAddress, treasuryShare)
		// burnShare is deliberately uncredited: it leaves circulation.
	}

	blockReward := rewards.CalculateBlockReward(block, l.cfg.Engine.RecentSpiralTypes())
	l.creditBalance(proposer, blockReward)
	l.cfg.Engine.UpdateRecentSpiralTypes(block.Header.Spiral.Variant)
	l.cfg.State.SetHeight(block.Header.BlockHeight)

	l.cfg.Validators.MutateValidator(proposer, func(v *consensus.Validator) {
		v.BlocksProposed++
		v.LastBlockHeight = block.Header.BlockHeight
		if sum, ok := v.RewardsEarned.CheckedAdd(blockReward); ok {
			v.RewardsEarned = sum
		}
	})

	if err := l.cfg.Attack.ProcessBlock(block, l.cfg.Validators.Len()); err != nil {
		l.logger.Printf("attack mitigation rejected block %d: %v", block.Header.BlockHeight, err)
	}

	if l.cfg.Metrics != nil {
		l.cfg.Metrics.BlockHeight.Set(float64(block.Header.BlockHeight))
		l.cfg.Metrics.BlocksFinalized.Inc()
		if v, ok := l.cfg.Validators.GetValidator(proposer); ok {
			l.cfg.Metrics.SetValidatorReputation(proposer, v.ReputationScore)
			l.cfg.Metrics.SetValidatorStake(proposer, amountToFloat64(v.Stake))
		}
	}

	if l.cfg.Audit != nil {
		if cp, ok := l.cfg.Attack.Checkpoint(block.Header.BlockHeight); ok {
			if err := l.cfg.Audit.RecordCheckpoint(ctx, block.Header.BlockHeight, cp); err != nil {
				l.logger.Printf("audit: record checkpoint failed: %v", err)
			}
		}
	}

	if l.cfg.Node != nil {
		l.cfg.Node.BroadcastBlock(ctx, block)
	}

	l.mu.Lock()
	l.blocksProduced++
	l.mu.Unlock()

	l.logger.Printf("block %d finalized: %s (%d txs)", block.Header.BlockHeight, block.Hash(), len(block.Transactions))
	return nil
}

// creditBalance adds amount to address's balance; a zero amount is a
// no-op so callers don't need to special-case the burn share.
func (l *Loop) creditBalance(address primitives.Address, amount primitives.Amount) {
	if amount.IsZero() {
		return
	}
	if sum, ok := l.cfg.State.GetBalance(address).CheckedAdd(amount); ok {
		l.cfg.State.SetBalance(address, sum)
	}
}

// checkMempool is the 5s timer's handler.
func (l *Loop) checkMempool() {
	size := l.cfg.Mempool.Size()
	if size > 0 {
		l.logger.Printf("mempool: %d pending transactions", size)
	}
	if l.cfg.Metrics != nil {
		l.cfg.Metrics.MempoolSize.Set(float64(size))
	}
}

// printStats is the 30s timer's handler: logs a summary and, if a ban
// threshold has been crossed since the last tick, applies the resulting
// slash through the roster's sole authoritative write path.
func (l *Loop) printStats(ctx context.Context) {
	height, err := l.cfg.Storage.GetChainHeight()
	if err != nil {
		l.logger.Printf("stats: read chain height: %v", err)
		return
	}
	local, _ := l.cfg.Validators.GetValidator(l.cfg.LocalAddress)

	l.logger.Printf("stats: height=%d blocks_finalized=%d mempool=%d reputation=%.2f",
		height, l.BlocksProduced(), l.cfg.Mempool.Size(), local.ReputationScore)

	if l.cfg.Metrics != nil {
		l.cfg.Metrics.BlockHeight.Set(float64(height))
		l.cfg.Metrics.MempoolSize.Set(float64(l.cfg.Mempool.Size()))
		l.cfg.Metrics.BFTView.Set(float64(l.cfg.BFT.ViewNumber()))
		if l.cfg.Node != nil {
			l.cfg.Metrics.PeerCount.Set(float64(l.cfg.Node.PeerCount()))
		}
	}

	l.checkSecurity(ctx, height)
}

// checkSecurity reports a majority-capture signal and converts any
// validator that has crossed the dominance-ban threshold into an actual
// stake slash.
func (l *Loop) checkSecurity(ctx context.Context, height uint64) {
	if addr, attacked := l.cfg.Attack.Detect51Attack(); attacked {
		l.logger.Printf("security: validator %s exceeds the 51%% block-share threshold", addr)
	}

	for _, v := range l.cfg.Validators.All() {
		if !l.cfg.Attack.IsBanned(v.Address) {
			continue
		}
		event, err := l.cfg.Attack.SlashDominantValidator(l.cfg.Validators, v.Address, height, uint64(nowUnixMilli()))
		if err != nil {
			continue
		}
		l.logger.Printf("security: slashed banned validator %s (%s, %s)", v.Address, event.Reason, event.AmountSlashed)

		if l.cfg.Metrics != nil {
			l.cfg.Metrics.RecordSlashing(event.Reason.String())
		}
		if l.cfg.Audit != nil {
			if err := l.cfg.Audit.RecordSlashing(ctx, v.Address, event); err != nil {
				l.logger.Printf("audit: record slashing failed: %v", err)
			}
		}
	}
}

func amountToFloat64(a primitives.Amount) float64 {
	f := new(big.Float).SetInt(a.Big())
	out, _ := f.Float64()
	return out
}
