package orchestrator

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/segfaultgame/engine/internal/geometry"
	"github.com/segfaultgame/engine/internal/shardstate"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func boundaryWalls(size int) []geometry.Edge {
	var edges []geometry.Edge
	for x := 0; x < size; x++ {
		edges = append(edges, geometry.NewEdge(geometry.Vertex{X: x, Y: 0}, geometry.Vertex{X: x + 1, Y: 0}))
		edges = append(edges, geometry.NewEdge(geometry.Vertex{X: x, Y: size}, geometry.Vertex{X: x + 1, Y: size}))
	}
	for y := 0; y < size; y++ {
		edges = append(edges, geometry.NewEdge(geometry.Vertex{X: 0, Y: y}, geometry.Vertex{X: 0, Y: y + 1}))
		edges = append(edges, geometry.NewEdge(geometry.Vertex{X: size, Y: y}, geometry.Vertex{X: size, Y: y + 1}))
	}
	return edges
}

func newTestShard(size int) *shardstate.Shard {
	walls := geometry.NewWallSet(boundaryWalls(size))
	gates := []shardstate.Gate{
		{Pos: geometry.Tile{X: size - 1, Y: size - 1}, Type: shardstate.GateStable},
		{Pos: geometry.Tile{X: 0, Y: 0}, Type: shardstate.GateGhost},
	}
	return shardstate.NewShard("shard-1", 99, geometry.Grid{Size: size}, walls, gates)
}

func TestTick_RunsFullPipelineOver50TicksWithoutPanicking(t *testing.T) {
	s := newTestShard(20)
	s.Defragger.Pos = geometry.Tile{X: 10, Y: 10}
	p := &shardstate.Process{ID: "p1", Alive: true, Pos: geometry.Tile{X: 3, Y: 3}}
	s.Processes[p.ID] = p

	o := New(DefaultConfig())
	logger := discardLogger()
	for i := 0; i < 50; i++ {
		o.Tick(s, logger)
	}

	assert.Equal(t, int64(50), s.Tick)
}

func TestTick_SurvivorOnStableGateLeavesShard(t *testing.T) {
	size := 5
	s := newTestShard(size)
	s.Defragger.Pos = geometry.Tile{X: 0, Y: 0}
	stable, ok := s.StableGate()
	require.True(t, ok)

	// One tile away from the stable gate, moving directly onto it.
	adjacent := geometry.Tile{X: stable.Pos.X - 1, Y: stable.Pos.Y}
	p := &shardstate.Process{ID: "p1", Alive: true, Pos: adjacent, BufferedVerb: shardstate.VerbMove, BufferedArg: 6}
	s.Processes[p.ID] = p

	o := New(DefaultConfig())
	o.Tick(s, discardLogger())

	_, stillPresent := s.Processes["p1"]
	assert.False(t, stillPresent)
	assert.Contains(t, s.Events.Survived, "p1")
	assert.Equal(t, int64(1), s.Counters.Survivals)
}

func TestTick_GhostTransferIsQueuedForSupervisor(t *testing.T) {
	size := 5
	s := newTestShard(size)
	s.Defragger.Pos = geometry.Tile{X: size - 1, Y: size - 1}
	ghost, ok := func() (shardstate.Gate, bool) {
		for _, g := range s.Gates {
			if g.Type == shardstate.GateGhost {
				return g, true
			}
		}
		return shardstate.Gate{}, false
	}()
	require.True(t, ok)

	adjacent := geometry.Tile{X: ghost.Pos.X + 1, Y: ghost.Pos.Y}
	p := &shardstate.Process{ID: "p1", CallSign: "caller-1", Alive: true, Pos: adjacent, BufferedVerb: shardstate.VerbMove, BufferedArg: 4}
	s.Processes[p.ID] = p

	o := New(DefaultConfig())
	result := o.Tick(s, discardLogger())

	require.Len(t, result.GhostTransfers, 1)
	assert.Equal(t, "caller-1", result.GhostTransfers[0].CallSign)
	assert.Contains(t, s.Events.Ghosted, "p1")
}

func TestTick_TerminatesShardAfterSustainedQuietPopulation(t *testing.T) {
	s := newTestShard(10)
	s.Defragger.Pos = geometry.Tile{X: 5, Y: 5}
	cfg := DefaultConfig()
	cfg.MinActiveProcesses = 1
	cfg.QuietTerminationTicks = 3
	o := New(cfg)

	var result Result
	for i := 0; i < 3; i++ {
		result = o.Tick(s, discardLogger())
	}

	assert.True(t, result.ShardTerminated)
	assert.True(t, s.Terminated)
}
