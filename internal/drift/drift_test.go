package drift

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

func newTestShard(t *testing.T, size int) *shardstate.Shard {
	t.Helper()
	walls := geometry.NewWallSet(boundaryWalls(size))
	gates := []shardstate.Gate{
		{Pos: geometry.Tile{X: size - 1, Y: size - 1}, Type: shardstate.GateStable},
		{Pos: geometry.Tile{X: 0, Y: 0}, Type: shardstate.GateGhost},
	}
	s := shardstate.NewShard("shard-1", 42, geometry.Grid{Size: size}, walls, gates)
	s.Defragger.Pos = geometry.Tile{X: size / 2, Y: size / 2}
	p := &shardstate.Process{ID: "p1", Alive: true, Pos: geometry.Tile{X: 1, Y: 1}}
	s.Processes[p.ID] = p
	return s
}

func TestDrift_PreservesWallCountAndInvariantsOver100Ticks(t *testing.T) {
	size := 20
	s := newTestShard(t, size)
	logger := discardLogger()
	cfg := DefaultConfig()

	startingCount := s.Walls.Len()
	for tick := int64(1); tick <= 100; tick++ {
		s.Tick = tick
		rng := shardstate.TickRNG(s.Seed, tick)
		Apply(s, rng, cfg, logger)

		require.Equal(t, startingCount, s.Walls.Len(), "tick %d: wall count drifted", tick)
		assert.True(t, geometry.Connected(s.Grid, s.Walls), "tick %d: graph disconnected", tick)

		stable, ok := s.StableGate()
		require.True(t, ok)
		for _, p := range s.Processes {
			if !p.Alive {
				continue
			}
			assert.NotZero(t, geometry.ExitCount(s.Grid, s.Walls, p.Pos), "tick %d: process in 0-exit cell", tick)
			assert.True(t, geometry.ReachableFrom(s.Grid, s.Walls, p.Pos, stable.Pos), "tick %d: stable gate unreachable", tick)
		}
	}
}

func TestDrift_GatesNeverOverlapProcessOrEachOther(t *testing.T) {
	s := newTestShard(t, 10)
	logger := discardLogger()
	rng := shardstate.TickRNG(s.Seed, 1)
	Apply(s, rng, DefaultConfig(), logger)

	seen := map[geometry.Tile]bool{}
	for _, g := range s.Gates {
		assert.False(t, seen[g.Pos], "gates overlap at %+v", g.Pos)
		seen[g.Pos] = true
		for _, p := range s.Processes {
			if p.Alive {
				assert.NotEqual(t, p.Pos, g.Pos)
			}
		}
	}
}
