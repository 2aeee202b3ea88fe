// Package sqlmirror replicates finalized chain data into Postgres for
// historical querying (block explorers, analytics, audits) off the
// consensus write path. It is optional: a node with no DATABASE_URL set
// runs without it, using only the embedded key-value store for
// consensus-critical reads and writes.
package sqlmirror

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log"
	"sort"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/spirachain/validator/internal/consensus"
	"github.com/spirachain/validator/internal/ledger"
	"github.com/spirachain/validator/internal/primitives"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Mirror is a Postgres-backed historical index. Every write is best-effort
// from the consensus path's perspective: a mirror outage must never stall
// block production, so callers should log and continue on error rather
// than treat a mirror failure as consensus-fatal.
type Mirror struct {
	db     *sql.DB
	logger *log.Logger
}

// Option configures a Mirror.
type Option func(*Mirror)

// WithLogger overrides the default logger.
func WithLogger(logger *log.Logger) Option {
	return func(m *Mirror) { m.logger = logger }
}

// Open connects to the Postgres instance at databaseURL with a pool sized
// for a single node's mirror traffic.
func Open(databaseURL string, opts ...Option) (*Mirror, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("sqlmirror: database URL cannot be empty")
	}

	m := &Mirror{logger: log.New(log.Writer(), "[sqlmirror] ", log.LstdFlags)}
	for _, opt := range opts {
		opt(m)
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("sqlmirror: open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlmirror: ping: %w", err)
	}

	m.db = db
	return m, nil
}

// Close closes the underlying connection pool.
func (m *Mirror) Close() error {
	return m.db.Close()
}

// DB returns the underlying *sql.DB for callers that need direct access.
func (m *Mirror) DB() *sql.DB {
	return m.db
}

// migration is one embedded SQL file.
type migration struct {
	version string
	sql     string
}

func loadMigrations() ([]migration, error) {
	var out []migration
	err := fs.WalkDir(migrationsFS, "migrations", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".sql") {
			return nil
		}
		content, err := migrationsFS.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		out = append(out, migration{
			version: strings.TrimSuffix(d.Name(), ".sql"),
			sql:     string(content),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

// MigrateUp applies every migration not yet recorded in schema_migrations.
func (m *Mirror) MigrateUp(ctx context.Context) error {
	migrations, err := loadMigrations()
	if err != nil {
		return fmt.Errorf("sqlmirror: load migrations: %w", err)
	}

	applied := make(map[string]bool)
	rows, err := m.db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err == nil {
		defer rows.Close()
		for rows.Next() {
			var v string
			if err := rows.Scan(&v); err != nil {
				return fmt.Errorf("sqlmirror: scan applied migration: %w", err)
			}
			applied[v] = true
		}
	} else if !strings.Contains(err.Error(), "does not exist") {
		return fmt.Errorf("sqlmirror: query applied migrations: %w", err)
	}

	for _, mig := range migrations {
		if applied[mig.version] {
			continue
		}
		tx, err := m.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("sqlmirror: begin migration %s: %w", mig.version, err)
		}
		if _, err := tx.ExecContext(ctx, mig.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlmirror: apply migration %s: %w", mig.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("sqlmirror: commit migration %s: %w", mig.version, err)
		}
		m.logger.Printf("applied migration %s", mig.version)
	}
	return nil
}

// MirrorBlock upserts block and its transactions. It is idempotent: a
// block re-delivered during sync replays cleanly via ON CONFLICT.
func (m *Mirror) MirrorBlock(ctx context.Context, block *ledger.Block) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlmirror: begin: %w", err)
	}
	defer tx.Rollback()

	hash := block.Hash()
	h := block.Header

	_, err = tx.ExecContext(ctx, `
		INSERT INTO blocks (
			height, hash, previous_hash, proposer, timestamp_ms, state_root,
			spiral_variant, spiral_complexity, semantic_coherence,
			transaction_count
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (height) DO UPDATE SET
			hash = EXCLUDED.hash,
			previous_hash = EXCLUDED.previous_hash,
			proposer = EXCLUDED.proposer,
			timestamp_ms = EXCLUDED.timestamp_ms,
			state_root = EXCLUDED.state_root,
			spiral_variant = EXCLUDED.spiral_variant,
			spiral_complexity = EXCLUDED.spiral_complexity,
			semantic_coherence = EXCLUDED.semantic_coherence,
			transaction_count = EXCLUDED.transaction_count`,
		h.BlockHeight, hash.Bytes(), h.PreviousBlockHash.Bytes(), h.ValidatorPubkey,
		int64(h.Timestamp), h.StateRoot.Bytes(), int16(h.Spiral.Variant),
		h.Spiral.Complexity, h.Spiral.SemanticCoherence, len(block.Transactions),
	)
	if err != nil {
		return fmt.Errorf("sqlmirror: upsert block: %w", err)
	}

	for i := range block.Transactions {
		t := &block.Transactions[i]
		_, err := tx.ExecContext(ctx, `
			INSERT INTO transactions (
				tx_hash, block_height, sender, recipient, amount, fee,
				semantic_coherence
			) VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (tx_hash) DO NOTHING`,
			t.TxHash.Bytes(), h.BlockHeight, t.From.Bytes(), t.To.Bytes(),
			t.Amount.Big().String(), t.Fee.Big().String(), t.SemanticCoherence(),
		)
		if err != nil {
			return fmt.Errorf("sqlmirror: insert transaction %s: %w", t.TxHash, err)
		}
	}

	return tx.Commit()
}

// MirrorSlashingEvent records a confiscation against validator for
// historical audit, independent of the authoritative in-memory
// ValidatorSet bookkeeping.
func (m *Mirror) MirrorSlashingEvent(ctx context.Context, validator primitives.Address, event consensus.SlashingEvent) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO slashing_events (validator, reason, amount, block_height, occurred_at)
		VALUES ($1, $2, $3, $4, $5)`,
		validator.Bytes(), event.Reason.String(), event.AmountSlashed.Big().String(),
		event.BlockHeight, time.UnixMilli(int64(event.TimestampMillis)),
	)
	if err != nil {
		return fmt.Errorf("sqlmirror: insert slashing event: %w", err)
	}
	return nil
}

// BlockSummary is the lightweight, query-friendly projection returned by
// historical lookups, avoiding the need to deserialize every transaction
// for a block listing.
type BlockSummary struct {
	Height            uint64
	Hash              primitives.Hash
	Proposer          []byte
	TimestampMillis   uint64
	SpiralVariant     int16
	SpiralComplexity  float64
	SemanticCoherence float64
	TransactionCount  int
}

// BlocksByProposer returns the most recent blocks proposed by proposer,
// newest first, capped at limit.
func (m *Mirror) BlocksByProposer(ctx context.Context, proposer []byte, limit int) ([]BlockSummary, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT height, hash, proposer, timestamp_ms, spiral_variant,
			spiral_complexity, semantic_coherence, transaction_count
		FROM blocks
		WHERE proposer = $1
		ORDER BY height DESC
		LIMIT $2`, proposer, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlmirror: query blocks by proposer: %w", err)
	}
	defer rows.Close()

	var out []BlockSummary
	for rows.Next() {
		var s BlockSummary
		var hashBytes, proposerBytes []byte
		var ts int64
		if err := rows.Scan(&s.Height, &hashBytes, &proposerBytes, &ts,
			&s.SpiralVariant, &s.SpiralComplexity, &s.SemanticCoherence, &s.TransactionCount); err != nil {
			return nil, fmt.Errorf("sqlmirror: scan block summary: %w", err)
		}
		hash, err := hashFromBytes(hashBytes)
		if err != nil {
			return nil, fmt.Errorf("sqlmirror: decode block hash: %w", err)
		}
		s.Hash = hash
		s.Proposer = proposerBytes
		s.TimestampMillis = uint64(ts)
		out = append(out, s)
	}
	return out, rows.Err()
}

// TransactionsByAddress returns every mirrored transaction touching
// address as sender or recipient, newest first, capped at limit.
func (m *Mirror) TransactionsByAddress(ctx context.Context, address []byte, limit int) ([]primitives.Hash, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT tx_hash FROM transactions
		WHERE sender = $1 OR recipient = $1
		ORDER BY block_height DESC
		LIMIT $2`, address, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlmirror: query transactions by address: %w", err)
	}
	defer rows.Close()

	var out []primitives.Hash
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("sqlmirror: scan transaction hash: %w", err)
		}
		hash, err := hashFromBytes(raw)
		if err != nil {
			return nil, fmt.Errorf("sqlmirror: decode transaction hash: %w", err)
		}
		out = append(out, hash)
	}
	return out, rows.Err()
}

func hashFromBytes(b []byte) (primitives.Hash, error) {
	if len(b) != 32 {
		return primitives.Hash{}, fmt.Errorf("sqlmirror: expected 32 hash bytes, got %d", len(b))
	}
	var h primitives.Hash
	copy(h[:], b)
	return h, nil
}

// ChainHeight returns the highest block height mirrored so far.
func (m *Mirror) ChainHeight(ctx context.Context) (uint64, error) {
	var height sql.NullInt64
	err := m.db.QueryRowContext(ctx, "SELECT MAX(height) FROM blocks").Scan(&height)
	if err != nil {
		return 0, fmt.Errorf("sqlmirror: query chain height: %w", err)
	}
	if !height.Valid {
		return 0, nil
	}
	return uint64(height.Int64), nil
}
