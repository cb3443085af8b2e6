package supervisor

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/segfaultgame/engine/internal/config"
	"github.com/segfaultgame/engine/internal/persistence"
	"github.com/segfaultgame/engine/internal/replay"
	"github.com/segfaultgame/engine/internal/security"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testShardConfig() config.ShardConfig {
	return config.ShardConfig{
		GridSize:              10,
		WallCount:             10,
		TickCadenceMinSec:     1,
		TickCadenceMaxSec:     2,
		MinActiveProcesses:    1,
		PopulationCap:         2,
		QuietTerminationTicks: 50,
		DriftMinFraction:      0.10,
		DriftMaxFraction:      0.25,
		DriftMaxAttempts:      25,
	}
}

func newTestSupervisor(t *testing.T) *Supervisor {
	t.Helper()
	store := persistence.NewMemoryStore()
	broker := security.NewBroker(security.BrokerConfig{HMACSecret: "test-secret"})
	rec := replay.NewRecorder(store, nil, 10, 1, discardLogger())
	t.Cleanup(rec.Stop)

	return New(Config{
		Shard:    testShardConfig(),
		Broker:   broker,
		Store:    store,
		Recorder: rec,
		Logger:   discardLogger(),
	})
}

func TestJoin_CreatesShardAndIssuesToken(t *testing.T) {
	sup := newTestSupervisor(t)
	ctx := context.Background()

	result, err := sup.Join(ctx, "cs-alpha")
	require.NoError(t, err)
	assert.NotEmpty(t, result.ShardID)
	assert.NotEmpty(t, result.ProcessID)
	assert.NotEmpty(t, result.Token.Token)
}

func TestJoin_PacksExistingShardBeforeCreatingAnother(t *testing.T) {
	sup := newTestSupervisor(t)
	ctx := context.Background()

	r1, err := sup.Join(ctx, "cs-1")
	require.NoError(t, err)
	r2, err := sup.Join(ctx, "cs-2")
	require.NoError(t, err)

	assert.Equal(t, r1.ShardID, r2.ShardID)

	// Population cap is 2: a third join must land on a new shard.
	r3, err := sup.Join(ctx, "cs-3")
	require.NoError(t, err)
	assert.NotEqual(t, r1.ShardID, r3.ShardID)
}

func TestSubmit_RejectsInvalidToken(t *testing.T) {
	sup := newTestSupervisor(t)
	ctx := context.Background()

	cmd, err := ParseCommand("MOVE", 8, "")
	require.NoError(t, err)

	err = sup.Submit(ctx, "not-a-real-token", cmd)
	assert.Error(t, err)
}

func TestSubmit_MoveBuffersVerbOnProcess(t *testing.T) {
	sup := newTestSupervisor(t)
	ctx := context.Background()

	joined, err := sup.Join(ctx, "cs-1")
	require.NoError(t, err)

	cmd, err := ParseCommand("MOVE", 8, "")
	require.NoError(t, err)
	require.NoError(t, sup.Submit(ctx, joined.Token.Token, cmd))

	sup.mu.RLock()
	shard := sup.shards[joined.ShardID]
	sup.mu.RUnlock()

	p := shard.Processes[joined.ProcessID]
	require.NotNil(t, p)
	assert.Equal(t, 8, p.BufferedArg)
}

func TestSubmit_BroadcastAppendsLedgerAndQueuesEventForEveryone(t *testing.T) {
	sup := newTestSupervisor(t)
	ctx := context.Background()

	a, err := sup.Join(ctx, "cs-a")
	require.NoError(t, err)
	b, err := sup.Join(ctx, "cs-b")
	require.NoError(t, err)
	require.Equal(t, a.ShardID, b.ShardID)

	cmd, err := ParseCommand("BROADCAST", 0, "need backup")
	require.NoError(t, err)
	require.NoError(t, sup.Submit(ctx, a.Token.Token, cmd))

	sup.mu.RLock()
	shard := sup.shards[a.ShardID]
	sup.mu.RUnlock()

	require.Len(t, shard.Broadcasts, 1)
	assert.Equal(t, "need backup", shard.Broadcasts[0].Message)

	events := shard.DrainEvents(b.ProcessID)
	require.Len(t, events, 1)
	assert.Equal(t, "need backup", events[0].Message)
}

func TestPerceive_ReturnsPayloadForJoinedProcess(t *testing.T) {
	sup := newTestSupervisor(t)
	ctx := context.Background()

	joined, err := sup.Join(ctx, "cs-1")
	require.NoError(t, err)

	payload, err := sup.Perceive(ctx, joined.Token.Token)
	require.NoError(t, err)
	assert.Equal(t, joined.ProcessID, payload.ProcessID)
}

func TestTickAll_AdvancesEveryLiveShard(t *testing.T) {
	sup := newTestSupervisor(t)
	ctx := context.Background()

	joined, err := sup.Join(ctx, "cs-1")
	require.NoError(t, err)

	sup.mu.RLock()
	shard := sup.shards[joined.ShardID]
	sup.mu.RUnlock()
	startTick := shard.Tick

	sup.TickAll(ctx)

	assert.Equal(t, startTick+1, shard.Tick)
}

func TestReap_DropsOnlyTerminatedShards(t *testing.T) {
	sup := newTestSupervisor(t)
	ctx := context.Background()

	live, err := sup.Join(ctx, "cs-live")
	require.NoError(t, err)
	_, err = sup.Join(ctx, "cs-live-2") // fills live's shard to its population cap of 2
	require.NoError(t, err)
	dying, err := sup.Join(ctx, "cs-dying") // population cap forces a new shard
	require.NoError(t, err)
	require.NotEqual(t, live.ShardID, dying.ShardID)

	require.NoError(t, sup.Shutdown(ctx, dying.ShardID))

	n := sup.Reap(ctx)
	assert.Equal(t, 1, n)

	sup.mu.RLock()
	_, liveStillPresent := sup.shards[live.ShardID]
	_, dyingStillPresent := sup.shards[dying.ShardID]
	sup.mu.RUnlock()

	assert.True(t, liveStillPresent)
	assert.False(t, dyingStillPresent)
}

func TestShutdown_MarksShardTerminatedAndRejectsDoubleShutdown(t *testing.T) {
	sup := newTestSupervisor(t)
	ctx := context.Background()

	joined, err := sup.Join(ctx, "cs-1")
	require.NoError(t, err)

	require.NoError(t, sup.Shutdown(ctx, joined.ShardID))

	sup.mu.RLock()
	shard := sup.shards[joined.ShardID]
	sup.mu.RUnlock()
	assert.True(t, shard.Terminated)

	err = sup.Shutdown(ctx, joined.ShardID)
	assert.Error(t, err)
}
