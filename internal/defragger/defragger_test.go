package defragger

import (
	"io"
	"log/slog"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/segfaultgame/engine/internal/geometry"
	"github.com/segfaultgame/engine/internal/shardstate"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openShard(size int) *shardstate.Shard {
	walls := geometry.NewWallSet(nil)
	return shardstate.NewShard("shard-1", 1, geometry.Grid{Size: size}, walls, nil)
}

func TestFibonacciLadder_MatchesLadderTerms(t *testing.T) {
	assert.Equal(t, 0, fibonacciLadder(0))
	assert.Equal(t, 1, fibonacciLadder(1))
	assert.Equal(t, 3, fibonacciLadder(2))
	assert.Equal(t, 5, fibonacciLadder(3))
	assert.Equal(t, 8, fibonacciLadder(4))
	assert.Equal(t, 13, fibonacciLadder(5))
	assert.Equal(t, 21, fibonacciLadder(6))
}

func TestRun_BroadcastOverridesLOSAndEscalates(t *testing.T) {
	s := openShard(20)
	s.Defragger.Pos = geometry.Tile{X: 19, Y: 19}
	caller := &shardstate.Process{ID: "caller", Alive: true, Pos: geometry.Tile{X: 0, Y: 0}}
	visible := &shardstate.Process{ID: "visible", Alive: true, Pos: geometry.Tile{X: 19, Y: 17}}
	s.Processes[caller.ID] = caller
	s.Processes[visible.ID] = visible
	s.Broadcasts = []shardstate.BroadcastEntry{
		{ProcessID: "caller", Timestamp: 1},
		{ProcessID: "caller", Timestamp: 2},
		{ProcessID: "caller", Timestamp: 3},
	}

	pol := NewDefaultPolicy()
	pol.Run(s, rand.New(rand.NewSource(1)), discardLogger())

	assert.Equal(t, "caller", s.Defragger.TargetID)
	assert.Equal(t, shardstate.ReasonBroadcast, s.Defragger.Reason)
	// base 1 + fibonacciLadder(3)=5 => 6 steps toward (0,0) along the diagonal.
	assert.Equal(t, geometry.Tile{X: 13, Y: 13}, s.Defragger.Pos)
}

func TestRun_AcquiresLOSTargetAndSetsLock(t *testing.T) {
	s := openShard(10)
	s.Defragger.Pos = geometry.Tile{X: 5, Y: 5}
	p := &shardstate.Process{ID: "p1", Alive: true, Pos: geometry.Tile{X: 5, Y: 3}}
	s.Processes[p.ID] = p

	pol := NewDefaultPolicy()
	pol.Run(s, rand.New(rand.NewSource(1)), discardLogger())

	assert.Equal(t, "p1", s.Defragger.TargetID)
	assert.Equal(t, shardstate.ReasonLOS, s.Defragger.Reason)
	require.True(t, p.LOSLock)
	// (4,4) ties (5,4) at BFS distance 1 from the target and sorts first in
	// keypad tie-break order.
	assert.Equal(t, geometry.Tile{X: 4, Y: 4}, s.Defragger.Pos)
}

func TestRun_StepOntoProcessKillsAndHaltsMowing(t *testing.T) {
	s := openShard(10)
	s.Defragger.Pos = geometry.Tile{X: 5, Y: 5}
	adjacent := &shardstate.Process{ID: "adjacent", Alive: true, Pos: geometry.Tile{X: 5, Y: 4}}
	beyond := &shardstate.Process{ID: "beyond", Alive: true, Pos: geometry.Tile{X: 5, Y: 3}}
	s.Processes[adjacent.ID] = adjacent
	s.Processes[beyond.ID] = beyond
	s.Watchdog.PendingBonus = 2 // grants bonus steps (only a broadcast target suppresses them), but the walk halts on the first kill

	pol := NewDefaultPolicy()
	pol.Run(s, rand.New(rand.NewSource(1)), discardLogger())

	assert.False(t, adjacent.Alive)
	assert.True(t, beyond.Alive)
	assert.Contains(t, s.Events.Killed, "adjacent")
	assert.Equal(t, geometry.Tile{X: 5, Y: 4}, s.Defragger.Pos)
}

func TestRun_WatchdogBonusAppliesAndDischarges(t *testing.T) {
	s := openShard(20)
	s.Defragger.Pos = geometry.Tile{X: 10, Y: 10}
	s.Watchdog.PendingBonus = 2 // fibonacciLadder(2) = 3, total steps = 4

	pol := NewDefaultPolicy()
	pol.Run(s, rand.New(rand.NewSource(7)), discardLogger())

	assert.Equal(t, shardstate.ReasonWatchdog, s.Defragger.Reason)
	assert.Equal(t, 0, s.Watchdog.PendingBonus)
}

func TestRun_PatrolWhenNoTargetAvailable(t *testing.T) {
	s := openShard(10)
	s.Defragger.Pos = geometry.Tile{X: 5, Y: 5}

	pol := NewDefaultPolicy()
	pol.Run(s, rand.New(rand.NewSource(3)), discardLogger())

	assert.Equal(t, "", s.Defragger.TargetID)
	assert.Equal(t, shardstate.ReasonPatrol, s.Defragger.Reason)
	assert.NotEqual(t, geometry.Tile{X: 5, Y: 5}, s.Defragger.Pos)
}

func TestRun_RetainsLockedTargetWhenStillInLOSAndNoOtherVisible(t *testing.T) {
	s := openShard(10)
	s.Defragger.Pos = geometry.Tile{X: 5, Y: 5}
	p := &shardstate.Process{ID: "p1", Alive: true, Pos: geometry.Tile{X: 5, Y: 3}, LOSLock: true}
	s.Processes[p.ID] = p
	s.Defragger.TargetID = "p1"
	s.Defragger.Reason = shardstate.ReasonLOS

	pol := NewDefaultPolicy()
	pol.Run(s, rand.New(rand.NewSource(1)), discardLogger())

	assert.Equal(t, "p1", s.Defragger.TargetID)
	assert.Equal(t, shardstate.ReasonLOS, s.Defragger.Reason)
}
