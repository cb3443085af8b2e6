package persistence

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store, used by tests and by single-instance
// deployments that run without Postgres configured. Grounded on the
// teacher's snapshot_service.go in-memory map-backed store.
type MemoryStore struct {
	mu      sync.Mutex
	shards  map[string]*ShardSummary
	ticks   map[string]map[int64]TickRow
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		shards: make(map[string]*ShardSummary),
		ticks:  make(map[string]map[int64]TickRow),
	}
}

func (m *MemoryStore) RegisterShard(ctx context.Context, shardID string, startedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.shards[shardID]; exists {
		return nil
	}
	m.shards[shardID] = &ShardSummary{ShardID: shardID, StartedAt: startedAt}
	m.ticks[shardID] = make(map[int64]TickRow)
	return nil
}

func (m *MemoryStore) RecordTick(ctx context.Context, shardID string, tick int64, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	byTick, ok := m.ticks[shardID]
	if !ok {
		return fmt.Errorf("record tick: shard %s not registered", shardID)
	}
	byTick[tick] = TickRow{ShardID: shardID, Tick: tick, Payload: payload, RecordedAt: time.Now()}
	return nil
}

func (m *MemoryStore) FinalizeShard(ctx context.Context, shardID string, endedAt time.Time, totalTicks, kills, survivals, ghosts int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.shards[shardID]
	if !ok {
		return fmt.Errorf("finalize shard: %s not registered", shardID)
	}
	ended := endedAt
	s.EndedAt = &ended
	s.TotalTicks = totalTicks
	s.TotalKills = kills
	s.TotalSurvivals = survivals
	s.TotalGhosts = ghosts
	return nil
}

func (m *MemoryStore) ListShards(ctx context.Context, offset, limit int) ([]ShardSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := make([]ShardSummary, 0, len(m.shards))
	for _, s := range m.shards {
		all = append(all, *s)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].StartedAt.Before(all[j].StartedAt) })

	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (m *MemoryStore) FetchTicks(ctx context.Context, shardID string, startTick int64, limit int) ([]TickRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	byTick, ok := m.ticks[shardID]
	if !ok {
		return nil, nil
	}
	ticks := make([]int64, 0, len(byTick))
	for t := range byTick {
		if t >= startTick {
			ticks = append(ticks, t)
		}
	}
	sort.Slice(ticks, func(i, j int) bool { return ticks[i] < ticks[j] })

	if len(ticks) > limit {
		ticks = ticks[:limit]
	}
	out := make([]TickRow, 0, len(ticks))
	for _, t := range ticks {
		out = append(out, byTick[t])
	}
	return out, nil
}

func (m *MemoryStore) Close() error {
	return nil
}
