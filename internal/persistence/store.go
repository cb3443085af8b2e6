// Package persistence is the durable, shard/tick-keyed replay store. It
// exposes the fixed capability surface the tick pipeline depends on
// (RecordTick, RegisterShard, FinalizeShard) plus the two paged read paths
// spectator tooling needs (ListShards, FetchTicks), so the replay recorder
// and any future alternate backend only ever depend on the Store interface,
// never on database/sql directly.
package persistence

import (
	"context"
	"time"
)

// ShardSummary is the per-shard row: lifecycle bounds and cumulative
// counters, updated at registration and finalized at shutdown.
type ShardSummary struct {
	ShardID        string
	StartedAt      time.Time
	EndedAt        *time.Time // nil while the shard is still running
	TotalTicks     int64
	TotalKills     int64
	TotalSurvivals int64
	TotalGhosts    int64
}

// TickRow is one persisted tick snapshot row.
type TickRow struct {
	ShardID    string
	Tick       int64
	Payload    []byte // the JSON replay snapshot, opaque to this package
	RecordedAt time.Time
}

// Store is the capability surface the engine depends on for durability.
// record_tick_snapshot, register_shard, and finalize_shard correspond
// directly to RecordTick, RegisterShard, and FinalizeShard; multiple
// backends can implement this interface interchangeably.
type Store interface {
	// RegisterShard inserts a shard's summary row at creation time.
	RegisterShard(ctx context.Context, shardID string, startedAt time.Time) error

	// RecordTick upserts a single tick's snapshot payload, enforcing
	// uniqueness of (shard_id, tick).
	RecordTick(ctx context.Context, shardID string, tick int64, payload []byte) error

	// FinalizeShard closes out a shard's summary row with its final
	// cumulative counters.
	FinalizeShard(ctx context.Context, shardID string, endedAt time.Time, totalTicks, kills, survivals, ghosts int64) error

	// ListShards returns shard summaries ordered by start time, paged by
	// offset/limit.
	ListShards(ctx context.Context, offset, limit int) ([]ShardSummary, error)

	// FetchTicks returns up to limit tick rows for shardID starting at
	// startTick (inclusive), ordered by tick ascending.
	FetchTicks(ctx context.Context, shardID string, startTick int64, limit int) ([]TickRow, error)

	// Close releases the store's underlying resources.
	Close() error
}
