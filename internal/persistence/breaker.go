package persistence

import (
	"context"
	"log/slog"
	"time"

	"github.com/segfaultgame/engine/internal/circuitbreaker"
)

// GuardedStore wraps a Store's writes with a circuit breaker so a
// struggling Postgres instance degrades to dropped tick writes instead of
// stalling the tick pipeline. Reads pass straight through: ListShards and
// FetchTicks serve spectator tooling, not the tick loop, and failing them
// open would hide operator-facing data behind a breaker meant for the hot
// write path.
type GuardedStore struct {
	inner   Store
	breaker *circuitbreaker.CircuitBreaker
}

// NewGuardedStore wraps inner with breaker, normally
// circuitbreaker.EngineCircuitBreakers.Persistence.
func NewGuardedStore(inner Store, breaker *circuitbreaker.CircuitBreaker) *GuardedStore {
	return &GuardedStore{inner: inner, breaker: breaker}
}

// RegisterShard is circuit-guarded like RecordTick: a shard that never
// gets its summary row still needs a registration attempt recorded against
// the breaker's failure count.
func (g *GuardedStore) RegisterShard(ctx context.Context, shardID string, startedAt time.Time) error {
	_, err := g.breaker.ExecuteContext(ctx, func(ctx context.Context) (interface{}, error) {
		return nil, g.inner.RegisterShard(ctx, shardID, startedAt)
	})
	return err
}

// RecordTick logs a failed or circuit-open write and returns the error.
// Its caller, the replay recorder's worker goroutine, logs it and drops
// the snapshot, so a persistence failure never stalls a tick.
func (g *GuardedStore) RecordTick(ctx context.Context, shardID string, tick int64, payload []byte) error {
	_, err := g.breaker.ExecuteContext(ctx, func(ctx context.Context) (interface{}, error) {
		return nil, g.inner.RecordTick(ctx, shardID, tick, payload)
	})
	if err != nil {
		slog.Warn("persistence: dropped tick snapshot", "shard_id", shardID, "tick", tick, "error", err)
	}
	return err
}

// FinalizeShard is circuit-guarded; a failure here is logged by the caller
// since a shard shutting down is a one-shot event worth surfacing.
func (g *GuardedStore) FinalizeShard(ctx context.Context, shardID string, endedAt time.Time, totalTicks, kills, survivals, ghosts int64) error {
	_, err := g.breaker.ExecuteContext(ctx, func(ctx context.Context) (interface{}, error) {
		return nil, g.inner.FinalizeShard(ctx, shardID, endedAt, totalTicks, kills, survivals, ghosts)
	})
	return err
}

// ListShards passes straight through to inner, unguarded.
func (g *GuardedStore) ListShards(ctx context.Context, offset, limit int) ([]ShardSummary, error) {
	return g.inner.ListShards(ctx, offset, limit)
}

// FetchTicks passes straight through to inner, unguarded.
func (g *GuardedStore) FetchTicks(ctx context.Context, shardID string, startTick int64, limit int) ([]TickRow, error) {
	return g.inner.FetchTicks(ctx, shardID, startTick, limit)
}

// Close releases the wrapped store's resources.
func (g *GuardedStore) Close() error {
	return g.inner.Close()
}
