package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq" // postgres driver
)

// PostgresStore is the Store backend for production deployments. It keeps
// two tables: shard_summaries (one row per shard, updated at register and
// finalize time) and tick_snapshots (one row per tick, unique on
// (shard_id, tick)).
//
// Grounded on internal/gvisor/database_state.go's DatabaseStateManager:
// sql.Open("postgres", ...), a Ping on construction, and ExecContext /
// QueryRowContext with $1-style placeholders throughout.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection pool against dbURL and verifies it
// with a Ping before returning.
func NewPostgresStore(dbURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// EnsureSchema creates the two backing tables if they don't already exist.
// Safe to call on every startup.
func (p *PostgresStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS shard_summaries (
			shard_id        TEXT PRIMARY KEY,
			started_at      TIMESTAMPTZ NOT NULL,
			ended_at        TIMESTAMPTZ,
			total_ticks     BIGINT NOT NULL DEFAULT 0,
			total_kills     BIGINT NOT NULL DEFAULT 0,
			total_survivals BIGINT NOT NULL DEFAULT 0,
			total_ghosts    BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS tick_snapshots (
			shard_id    TEXT NOT NULL,
			tick        BIGINT NOT NULL,
			payload     JSONB NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (shard_id, tick)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// RegisterShard inserts a new shard_summaries row.
func (p *PostgresStore) RegisterShard(ctx context.Context, shardID string, startedAt time.Time) error {
	const query = `
		INSERT INTO shard_summaries (shard_id, started_at)
		VALUES ($1, $2)
		ON CONFLICT (shard_id) DO NOTHING`
	if _, err := p.db.ExecContext(ctx, query, shardID, startedAt); err != nil {
		return fmt.Errorf("register shard %s: %w", shardID, err)
	}
	return nil
}

// RecordTick upserts a tick snapshot row, enforcing (shard_id, tick)
// uniqueness via the primary key.
func (p *PostgresStore) RecordTick(ctx context.Context, shardID string, tick int64, payload []byte) error {
	const query = `
		INSERT INTO tick_snapshots (shard_id, tick, payload)
		VALUES ($1, $2, $3)
		ON CONFLICT (shard_id, tick) DO UPDATE SET payload = EXCLUDED.payload`
	if _, err := p.db.ExecContext(ctx, query, shardID, tick, payload); err != nil {
		return fmt.Errorf("record tick %s/%d: %w", shardID, tick, err)
	}
	return nil
}

// FinalizeShard closes out a shard's summary row with its terminal counters.
func (p *PostgresStore) FinalizeShard(ctx context.Context, shardID string, endedAt time.Time, totalTicks, kills, survivals, ghosts int64) error {
	const query = `
		UPDATE shard_summaries
		SET ended_at = $2, total_ticks = $3, total_kills = $4, total_survivals = $5, total_ghosts = $6
		WHERE shard_id = $1`
	res, err := p.db.ExecContext(ctx, query, shardID, endedAt, totalTicks, kills, survivals, ghosts)
	if err != nil {
		return fmt.Errorf("finalize shard %s: %w", shardID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		slog.Warn("persistence: finalize on unknown shard", "shard_id", shardID)
	}
	return nil
}

// ListShards pages through shard_summaries ordered by start time.
func (p *PostgresStore) ListShards(ctx context.Context, offset, limit int) ([]ShardSummary, error) {
	const query = `
		SELECT shard_id, started_at, ended_at, total_ticks, total_kills, total_survivals, total_ghosts
		FROM shard_summaries
		ORDER BY started_at ASC
		OFFSET $1 LIMIT $2`
	rows, err := p.db.QueryContext(ctx, query, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("list shards: %w", err)
	}
	defer rows.Close()

	var out []ShardSummary
	for rows.Next() {
		var s ShardSummary
		var endedAt sql.NullTime
		if err := rows.Scan(&s.ShardID, &s.StartedAt, &endedAt, &s.TotalTicks, &s.TotalKills, &s.TotalSurvivals, &s.TotalGhosts); err != nil {
			return nil, fmt.Errorf("scan shard summary: %w", err)
		}
		if endedAt.Valid {
			s.EndedAt = &endedAt.Time
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// FetchTicks returns up to limit tick rows for shardID, starting at
// startTick inclusive, ordered by tick ascending.
func (p *PostgresStore) FetchTicks(ctx context.Context, shardID string, startTick int64, limit int) ([]TickRow, error) {
	const query = `
		SELECT shard_id, tick, payload, recorded_at
		FROM tick_snapshots
		WHERE shard_id = $1 AND tick >= $2
		ORDER BY tick ASC
		LIMIT $3`
	rows, err := p.db.QueryContext(ctx, query, shardID, startTick, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch ticks for %s: %w", shardID, err)
	}
	defer rows.Close()

	var out []TickRow
	for rows.Next() {
		var t TickRow
		if err := rows.Scan(&t.ShardID, &t.Tick, &t.Payload, &t.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan tick row: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Close releases the underlying connection pool.
func (p *PostgresStore) Close() error {
	return p.db.Close()
}
