// Package persistence implements the decision core's append-only log:
// snapshots, trade outcomes, regime transitions, and universe updates,
// plus the startup read of pool performance history that warms up Pool
// Sharpe Memory. Records are stored as msgpack-encoded blobs behind
// indexed metadata columns.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aristath/dlmm-sentinel/internal/domain"
	"github.com/aristath/dlmm-sentinel/internal/sharpe"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	pool TEXT NOT NULL,
	fetched_at TIMESTAMP NOT NULL,
	payload BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_pool_time ON snapshots(pool, fetched_at);

CREATE TABLE IF NOT EXISTS trade_outcomes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	trade_id TEXT NOT NULL,
	pool TEXT NOT NULL,
	exit_time TIMESTAMP NOT NULL,
	realized_pnl REAL NOT NULL,
	payload BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trade_outcomes_pool ON trade_outcomes(pool, exit_time);

CREATE TABLE IF NOT EXISTS regime_transitions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	occurred_at TIMESTAMP NOT NULL,
	from_regime TEXT NOT NULL,
	to_regime TEXT NOT NULL,
	payload BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS universe_updates (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	pool TEXT NOT NULL,
	occurred_at TIMESTAMP NOT NULL,
	from_status TEXT NOT NULL,
	to_status TEXT NOT NULL,
	payload BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_universe_updates_pool ON universe_updates(pool, occurred_at);
`

// Store is the sole writer of the append-only decision-core log. It never
// mutates or deletes a row; callers append new facts only.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// Open creates (if absent) and connects to the sqlite-backed log at path,
// applying the schema. WAL mode suits this write-heavy single-writer
// workload.
func Open(path string, log zerolog.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("persistence: create db directory: %w", err)
		}
	}

	db, err := sql.Open(sqlDriverName, sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("persistence: open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("persistence: ping database: %w", err)
	}
	db.SetMaxOpenConns(1) // single-writer append-only log; avoid sqlite lock contention

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("persistence: apply schema: %w", err)
	}

	return &Store{db: db, log: log.With().Str("component", "persistence_store").Logger()}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// snapshotRecord is the msgpack-encoded payload for one snapshots row.
type snapshotRecord struct {
	Pool          string
	FetchedAt     time.Time
	ActiveBin     int
	TotalLiquidity float64
	LiquidityUSD  float64
	Velocity      float64
	Distribution  map[int]domain.BinState
}

// AppendSnapshot records one pool's microstructure reading.
func (s *Store) AppendSnapshot(ctx context.Context, pool domain.PoolAddress, snap domain.Snapshot) error {
	rec := snapshotRecord{
		Pool:           string(pool),
		FetchedAt:      snap.FetchedAt,
		ActiveBin:      snap.ActiveBin,
		TotalLiquidity: snap.TotalLiquidity,
		LiquidityUSD:   snap.LiquidityUSD,
		Velocity:       snap.Velocity,
		Distribution:   snap.Distribution,
	}
	payload, err := msgpack.Marshal(&rec)
	if err != nil {
		return fmt.Errorf("persistence: encode snapshot: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO snapshots (pool, fetched_at, payload) VALUES (?, ?, ?)`,
		string(pool), snap.FetchedAt, payload)
	return err
}

// AppendTradeOutcome records one closed trade.
func (s *Store) AppendTradeOutcome(ctx context.Context, trade sharpe.ClosedTrade) error {
	payload, err := msgpack.Marshal(&trade)
	if err != nil {
		return fmt.Errorf("persistence: encode trade outcome: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO trade_outcomes (trade_id, pool, exit_time, realized_pnl, payload) VALUES (?, ?, ?, ?, ?)`,
		trade.TradeID, string(trade.Pool), trade.ExitTime, trade.RealizedPnL, payload)
	return err
}

// RegimeTransitionRecord is one logged macro regime change.
type RegimeTransitionRecord struct {
	OccurredAt time.Time
	From       string
	To         string
}

// AppendRegimeTransition records one confirmed regime switch.
func (s *Store) AppendRegimeTransition(ctx context.Context, rec RegimeTransitionRecord) error {
	payload, err := msgpack.Marshal(&rec)
	if err != nil {
		return fmt.Errorf("persistence: encode regime transition: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO regime_transitions (occurred_at, from_regime, to_regime, payload) VALUES (?, ?, ?, ?)`,
		rec.OccurredAt, rec.From, rec.To, payload)
	return err
}

// UniverseUpdateRecord is one logged pool universe status change.
type UniverseUpdateRecord struct {
	Pool       string
	OccurredAt time.Time
	From       string
	To         string
}

// AppendUniverseUpdate records one universe status transition.
func (s *Store) AppendUniverseUpdate(ctx context.Context, rec UniverseUpdateRecord) error {
	payload, err := msgpack.Marshal(&rec)
	if err != nil {
		return fmt.Errorf("persistence: encode universe update: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO universe_updates (pool, occurred_at, from_status, to_status, payload) VALUES (?, ?, ?, ?, ?)`,
		rec.Pool, rec.OccurredAt, rec.From, rec.To, payload)
	return err
}

// LoadPoolPerformanceHistory returns every persisted closed trade
// ordered by exit time so the caller can replay them into
// sharpe.Memory.Record on startup.
func (s *Store) LoadPoolPerformanceHistory(ctx context.Context) ([]sharpe.ClosedTrade, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM trade_outcomes ORDER BY exit_time ASC`)
	if err != nil {
		return nil, fmt.Errorf("persistence: query trade outcomes: %w", err)
	}
	defer rows.Close()

	var trades []sharpe.ClosedTrade
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("persistence: scan trade outcome: %w", err)
		}
		var trade sharpe.ClosedTrade
		if err := msgpack.Unmarshal(payload, &trade); err != nil {
			return nil, fmt.Errorf("persistence: decode trade outcome: %w", err)
		}
		trades = append(trades, trade)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("persistence: iterate trade outcomes: %w", err)
	}
	return trades, nil
}
