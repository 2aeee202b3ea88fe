package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	dbm "github.com/cometbft/cometbft-db"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/spirachain/validator/internal/audit"
	"github.com/spirachain/validator/internal/config"
	"github.com/spirachain/validator/internal/consensus"
	"github.com/spirachain/validator/internal/crypto/bls"
	"github.com/spirachain/validator/internal/genesis"
	"github.com/spirachain/validator/internal/ledger"
	"github.com/spirachain/validator/internal/mempool"
	"github.com/spirachain/validator/internal/metrics"
	"github.com/spirachain/validator/internal/network"
	"github.com/spirachain/validator/internal/primitives"
	"github.com/spirachain/validator/internal/semantic"
	"github.com/spirachain/validator/internal/storage"
	"github.com/spirachain/validator/internal/validatorloop"
	"github.com/spirachain/validator/internal/worldstate"
)

// HealthStatus tracks the health of the node's background subsystems for
// the /health endpoint: storage, the P2P overlay, and the audit mirror
// are each independently optional or degradable without the validator
// loop itself stopping.
type HealthStatus struct {
	Status        string `json:"status"` // "ok", "degraded", "error"
	Storage       string `json:"storage"`
	Network       string `json:"network"`
	Audit         string `json:"audit"`
	BlocksHeight  uint64 `json:"blocks_height"`
	UptimeSeconds int64  `json:"uptime_seconds"`

	startTime time.Time
	mu        sync.RWMutex
}

var healthStatus = &HealthStatus{
	Status:    "starting",
	Storage:   "unknown",
	Network:   "unknown",
	Audit:     "disabled",
	startTime: time.Now(),
}

func (h *HealthStatus) SetStorage(status string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Storage = status
	h.updateOverallStatus()
}

func (h *HealthStatus) SetNetwork(status string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Network = status
	h.updateOverallStatus()
}

func (h *HealthStatus) SetAudit(status string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Audit = status
}

func (h *HealthStatus) updateOverallStatus() {
	switch {
	case h.Storage == "error":
		h.Status = "error"
	case h.Network == "disconnected":
		h.Status = "degraded"
	default:
		h.Status = "ok"
	}
}

func (h *HealthStatus) ToJSON(height uint64) []byte {
	h.mu.Lock()
	h.BlocksHeight = height
	h.UptimeSeconds = int64(time.Since(h.startTime).Seconds())
	h.mu.Unlock()

	h.mu.RLock()
	defer h.mu.RUnlock()
	data, _ := json.Marshal(h)
	return data
}

func main() {
	log.SetOutput(os.Stdout)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.Printf("starting spirachain validator")

	var (
		validatorID = flag.String("validator-id", "", "validator ID (overrides VALIDATOR_ID)")
		showHelp    = flag.Bool("help", false, "show this help message")
	)
	flag.Parse()

	if *showHelp {
		printHelp()
		return
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load configuration: ", err)
	}
	if *validatorID != "" {
		cfg.ValidatorID = *validatorID
	}
	if err := cfg.ValidateForDevelopment(); err != nil {
		log.Fatal("invalid configuration: ", err)
	}
	log.Printf("validator ID: %s, role: %s, chain: %d", cfg.ValidatorID, cfg.ValidatorRole, cfg.ChainID)

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		log.Fatalf("create data directory %s: %v", cfg.DataDir, err)
	}

	localKey, err := loadOrGenerateBLSKey(cfg)
	if err != nil {
		log.Fatal("failed to load/generate validator key: ", err)
	}
	localAddress := primitives.AddressFromPublicKey(localKey.PublicKey().Bytes())
	log.Printf("validator address: %s", localAddress)

	db, err := dbm.NewGoLevelDB("ledger", cfg.DataDir)
	if err != nil {
		healthStatus.SetStorage("error")
		log.Fatal("failed to open ledger store: ", err)
	}
	store := storage.Open(db)
	healthStatus.SetStorage("connected")

	state := worldstate.New()
	validators := consensus.NewValidatorSet()

	gcfg := genesis.Default()
	if _, ok, err := store.GetLatestBlock(); err != nil {
		log.Fatal("failed to read chain state: ", err)
	} else if !ok {
		log.Println("no chain state found, bootstrapping genesis")
		block, err := genesis.Bootstrap(gcfg, state, validators)
		if err != nil {
			log.Fatal("failed to bootstrap genesis: ", err)
		}
		if err := store.StoreBlock(block); err != nil {
			log.Fatal("failed to store genesis block: ", err)
		}
		log.Printf("genesis block stored: %s", block.Hash())
	} else {
		// Blocks are already persisted, but the validator roster lives
		// only in memory, so it is seeded from the same genesis document
		// on every restart.
		if err := genesis.SeedValidatorSet(gcfg, validators); err != nil {
			log.Fatal("failed to seed validator set from genesis: ", err)
		}
		log.Println("resuming from existing chain state")
	}

	if _, present := validators.GetValidator(localAddress); !present {
		v := consensus.NewValidator(localKey.PublicKey().Bytes(), primitives.MinValidatorStakeAmount(), state.CurrentHeight())
		if err := validators.AddValidator(v); err != nil {
			log.Fatal("failed to enroll local validator: ", err)
		}
		log.Printf("enrolled local validator %s with minimum stake", localAddress)
	}

	pool := mempool.New(mempool.DefaultMaxSize)
	if oracle := semantic.NewHTTPOracle(semantic.ConfigFromEnv()); oracle != nil {
		pool.SetOracle(oracle)
		log.Println("semantic oracle configured from SEMANTIC_ORACLE_ENDPOINT")
	}

	slotConsensus := consensus.NewSlotConsensus(validators, 30)
	engine := consensus.NewProofOfSpiralEngine()
	bftConsensus := consensus.NewBFTConsensus(validators, localAddress, localKey)
	attackMitigation := consensus.NewAttackMitigation()

	metricsRegistry := metrics.New()

	var auditService *audit.Service
	auditClient, err := audit.NewClient(context.Background(), audit.ConfigFromEnv())
	if err != nil {
		log.Printf("audit client unavailable, continuing with mirroring disabled: %v", err)
	} else {
		auditService = audit.NewService(auditClient, cfg.ValidatorID)
		if auditClient.IsEnabled() {
			healthStatus.SetAudit("enabled")
		}
	}

	node, err := network.NewNode(cfg.P2PPort, func() uint64 {
		height, _ := store.GetChainHeight()
		return height
	})
	if err != nil {
		log.Printf("P2P networking unavailable, running as an isolated single-validator node: %v", err)
		healthStatus.SetNetwork("disconnected")
		node = nil
	} else {
		healthStatus.SetNetwork("connected")
		if cfg.EnableMDNS {
			if err := node.EnableMDNS(); err != nil {
				log.Printf("mDNS discovery failed to start: %v", err)
			}
		}
		node.ConnectToSeeds(context.Background(), cfg.DNSSeeds, cfg.P2PPort)
		for _, seed := range cfg.Overlay.Peers {
			if err := node.Connect(context.Background(), seed.Address); err != nil {
				log.Printf("failed to connect to configured peer %s (%s): %v", seed.Address, seed.Region, err)
			}
		}
		log.Printf("P2P node listening: %s", node.ID())
	}

	loop := validatorloop.New(validatorloop.Config{
		LocalAddress: localAddress,
		LocalKey:     localKey,

		Validators: validators,
		Mempool:    pool,
		State:      state,
		Storage:    store,
		Slot:       slotConsensus,
		Engine:     engine,
		BFT:        bftConsensus,
		Attack:     attackMitigation,

		Node:    node,
		Metrics: metricsRegistry,
		Audit:   auditService,

		BlockProductionInterval: cfg.BlockProductionInterval,
		StatsInterval:           cfg.StatsInterval,
		MempoolPollInterval:     cfg.MempoolPollInterval,

		Logger: log.New(os.Stdout, "[validator] ", log.LstdFlags),
	})

	if node != nil {
		node.OnTransaction(func(_ peer.ID, msg network.Message) (network.Message, bool) {
			if msg.Transaction != nil {
				if err := loop.SubmitTransaction(*msg.Transaction); err != nil {
					log.Printf("rejected transaction relayed by a peer: %v", err)
				}
			}
			return network.Message{}, false
		})
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		height, _ := store.GetChainHeight()
		w.Header().Set("Content-Type", "application/json")
		if healthStatus.Status != "ok" && healthStatus.Status != "degraded" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		w.Write(healthStatus.ToJSON(height))
	})
	mux.HandleFunc("/api/submit-transaction", func(w http.ResponseWriter, r *http.Request) {
		handleSubmitTransaction(w, r, loop)
	})

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", metricsRegistry.Handler())

	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: mux}
	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux}

	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		if err := loop.Run(ctx); err != nil {
			log.Printf("validator loop exited: %v", err)
		}
	}()

	go func() {
		log.Printf("API listening on %s", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("failed to start HTTP server: ", err)
		}
	}()
	go func() {
		log.Printf("metrics listening on %s", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server stopped: %v", err)
		}
	}()

	log.Printf("validator ready")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down")
	loop.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("metrics server shutdown error: %v", err)
	}
	if node != nil {
		if err := node.Close(); err != nil {
			log.Printf("P2P node close error: %v", err)
		}
	}
	if err := store.Close(); err != nil {
		log.Printf("ledger store close error: %v", err)
	}

	log.Println("validator stopped")
}

// loadOrGenerateBLSKey loads the validator's BLS12-381 consensus signing
// key from cfg.ValidatorKeyPath, generating and persisting a new one if
// none exists yet.
func loadOrGenerateBLSKey(cfg *config.Config) (*bls.PrivateKey, error) {
	keyPath := cfg.ValidatorKeyPath
	if keyPath == "" {
		keyPath = filepath.Join(cfg.DataDir, "bls_key.hex")
	}
	if err := os.MkdirAll(filepath.Dir(keyPath), 0o700); err != nil {
		return nil, fmt.Errorf("create key directory %s: %w", filepath.Dir(keyPath), err)
	}

	if _, err := os.Stat(keyPath); os.IsNotExist(err) {
		log.Println("generating new BLS validator key")
		key, _, err := bls.GenerateKeyPair()
		if err != nil {
			return nil, fmt.Errorf("generate BLS key: %w", err)
		}
		if err := os.WriteFile(keyPath, []byte(key.Hex()), 0o600); err != nil {
			return nil, fmt.Errorf("save BLS key to %s: %w", keyPath, err)
		}
		log.Printf("generated and saved new BLS key: %s", keyPath)
		return key, nil
	}

	data, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read BLS key from %s: %w", keyPath, err)
	}
	raw, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("decode BLS key from %s: %w", keyPath, err)
	}
	key, err := bls.PrivateKeyFromBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("parse BLS key from %s: %w", keyPath, err)
	}
	log.Printf("loaded existing BLS key: %s", keyPath)
	return key, nil
}

func handleSubmitTransaction(w http.ResponseWriter, r *http.Request, loop *validatorloop.Loop) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var tx ledger.Transaction
	if err := json.NewDecoder(r.Body).Decode(&tx); err != nil {
		http.Error(w, fmt.Sprintf("invalid transaction body: %v", err), http.StatusBadRequest)
		return
	}
	if err := loop.SubmitTransaction(tx); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func printHelp() {
	fmt.Println("spirachain validator node")
	fmt.Println()
	fmt.Println("usage: validator [flags]")
	fmt.Println()
	flag.PrintDefaults()
}
