package replay

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/segfaultgame/engine/internal/geometry"
	"github.com/segfaultgame/engine/internal/orchestrator"
	"github.com/segfaultgame/engine/internal/persistence"
	"github.com/segfaultgame/engine/internal/shardstate"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testShard() *shardstate.Shard {
	walls := geometry.NewWallSet(nil)
	gates := []shardstate.Gate{
		{Pos: geometry.Tile{X: 4, Y: 4}, Type: shardstate.GateStable},
		{Pos: geometry.Tile{X: 0, Y: 0}, Type: shardstate.GateGhost},
	}
	s := shardstate.NewShard("shard-1", 7, geometry.Grid{Size: 5}, walls, gates)
	s.Tick = 3
	s.Processes["p1"] = &shardstate.Process{ID: "p1", CallSign: "cs-1", Alive: true, Pos: geometry.Tile{X: 1, Y: 1}}
	s.Defragger.Pos = geometry.Tile{X: 2, Y: 2}
	return s
}

func TestBuildSnapshot_PopulatesFixedWireKeys(t *testing.T) {
	s := testShard()
	snap := BuildSnapshot(s, []shardstate.BroadcastEntry{{ProcessID: "p1", Timestamp: 10, Message: "help"}}, nil)

	assert.Equal(t, "shard-1", snap.ShardID)
	assert.EqualValues(t, 3, snap.Tick)
	assert.Equal(t, 5, snap.GridSize)
	require.Len(t, snap.Gates, 2)
	require.Len(t, snap.Processes, 1)
	require.Len(t, snap.Broadcasts, 1)
	assert.Equal(t, "help", snap.Broadcasts[0].Message)
}

func TestBuildSnapshot_JSONRoundTripsWithExactKeys(t *testing.T) {
	s := testShard()
	snap := BuildSnapshot(s, nil, nil)
	data, err := json.Marshal(snap)
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	for _, key := range []string{"shard_id", "tick", "grid_size", "walls", "gates", "processes", "defragger", "watchdog", "broadcasts", "say_events", "echo_tiles", "events"} {
		assert.Contains(t, raw, key)
	}
}

func TestHashSnapshot_IsDeterministicForIdenticalInput(t *testing.T) {
	s := testShard()
	snap1 := BuildSnapshot(s, nil, nil)
	snap2 := BuildSnapshot(s, nil, nil)

	h1, err := HashSnapshot(snap1)
	require.NoError(t, err)
	h2, err := HashSnapshot(snap2)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestHashSnapshot_DiffersWhenTickChanges(t *testing.T) {
	s := testShard()
	snap1 := BuildSnapshot(s, nil, nil)
	s.Tick = 4
	snap2 := BuildSnapshot(s, nil, nil)

	h1, _ := HashSnapshot(snap1)
	h2, _ := HashSnapshot(snap2)
	assert.NotEqual(t, h1, h2)
}

func TestRecorder_RecordDeliversToStore(t *testing.T) {
	store := persistence.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.RegisterShard(ctx, "shard-1", time.Now()))

	rec := NewRecorder(store, nil, 10, 1, nil)
	defer rec.Stop()

	s := testShard()
	rec.Record(s, orchestrator.Result{})

	require.Eventually(t, func() bool {
		rows, err := store.FetchTicks(ctx, "shard-1", 0, 10)
		return err == nil && len(rows) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestRecorder_DropsOldestOnQueueOverflow(t *testing.T) {
	store := persistence.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.RegisterShard(ctx, "shard-1", time.Now()))

	rec := &Recorder{store: store, queue: make(chan tickJob, 1), stopCh: make(chan struct{}), logger: discardLogger()}
	// No workers started: queue fills up and the second Record must evict
	// the first rather than block.
	s := testShard()
	rec.Record(s, orchestrator.Result{})
	s.Tick = 4
	rec.Record(s, orchestrator.Result{})

	assert.Equal(t, int64(1), rec.DroppedCount())
}
