package persistence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segfaultgame/engine/internal/circuitbreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_RecordTickRequiresRegisteredShard(t *testing.T) {
	m := NewMemoryStore()
	err := m.RecordTick(context.Background(), "shard-1", 0, []byte(`{}`))
	assert.Error(t, err)
}

func TestMemoryStore_FetchTicksOrderedAscendingFromStartTick(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, m.RegisterShard(ctx, "shard-1", time.Now()))

	for _, tick := range []int64{5, 2, 3, 4} {
		require.NoError(t, m.RecordTick(ctx, "shard-1", tick, []byte(`{"tick":1}`)))
	}

	rows, err := m.FetchTicks(ctx, "shard-1", 3, 10)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []int64{3, 4, 5}, []int64{rows[0].Tick, rows[1].Tick, rows[2].Tick})
}

func TestMemoryStore_ListShardsPagesByOffsetAndLimit(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	base := time.Now()
	require.NoError(t, m.RegisterShard(ctx, "shard-a", base))
	require.NoError(t, m.RegisterShard(ctx, "shard-b", base.Add(time.Second)))
	require.NoError(t, m.RegisterShard(ctx, "shard-c", base.Add(2*time.Second)))

	page, err := m.ListShards(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "shard-b", page[0].ShardID)
}

func TestMemoryStore_FinalizeShardSetsTerminalCounters(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, m.RegisterShard(ctx, "shard-1", time.Now()))
	require.NoError(t, m.FinalizeShard(ctx, "shard-1", time.Now(), 100, 4, 2, 1))

	page, err := m.ListShards(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.NotNil(t, page[0].EndedAt)
	assert.EqualValues(t, 100, page[0].TotalTicks)
	assert.EqualValues(t, 4, page[0].TotalKills)
}

type failingStore struct {
	*MemoryStore
	failRecordTick bool
}

func (f *failingStore) RecordTick(ctx context.Context, shardID string, tick int64, payload []byte) error {
	if f.failRecordTick {
		return errors.New("write failed")
	}
	return f.MemoryStore.RecordTick(ctx, shardID, tick, payload)
}

func TestGuardedStore_RecordTickTripsBreakerAndFailsFast(t *testing.T) {
	inner := &failingStore{MemoryStore: NewMemoryStore(), failRecordTick: true}
	ctx := context.Background()
	require.NoError(t, inner.RegisterShard(ctx, "shard-1", time.Now()))

	cfg := &circuitbreaker.Config{
		Name:        "persistence-test",
		MaxRequests: 1,
		Timeout:     time.Minute,
		ReadyToTrip: func(c circuitbreaker.Counts) bool { return c.ConsecutiveFailures >= 2 },
	}
	cb := circuitbreaker.New(cfg)
	guarded := NewGuardedStore(inner, cb)

	require.Error(t, guarded.RecordTick(ctx, "shard-1", 0, []byte(`{}`)))
	require.Error(t, guarded.RecordTick(ctx, "shard-1", 1, []byte(`{}`)))

	assert.Equal(t, circuitbreaker.StateOpen, cb.State())

	err := guarded.RecordTick(ctx, "shard-1", 2, []byte(`{}`))
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
}

func TestGuardedStore_ReadsPassThroughUnguarded(t *testing.T) {
	inner := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, inner.RegisterShard(ctx, "shard-1", time.Now()))

	cfg := &circuitbreaker.Config{Name: "persistence-test-2"}
	guarded := NewGuardedStore(inner, circuitbreaker.New(cfg))

	shards, err := guarded.ListShards(ctx, 0, 10)
	require.NoError(t, err)
	assert.Len(t, shards, 1)
}
