package movement

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/segfaultgame/engine/internal/geometry"
	"github.com/segfaultgame/engine/internal/shardstate"
)

func openShard(t *testing.T, size int) *shardstate.Shard {
	t.Helper()
	walls := geometry.NewWallSet(nil)
	s := shardstate.NewShard("shard-1", 7, geometry.Grid{Size: size}, walls, nil)
	s.Defragger.Pos = geometry.Tile{X: size - 1, Y: size - 1}
	return s
}

func addProcess(s *shardstate.Shard, id string, pos geometry.Tile) *shardstate.Process {
	p := &shardstate.Process{ID: id, Alive: true, Pos: pos}
	s.Processes[id] = p
	return p
}

func TestResolve_SimpleMoveCommits(t *testing.T) {
	s := openShard(t, 5)
	p := addProcess(s, "p1", geometry.Tile{X: 2, Y: 2})
	p.BufferedVerb = shardstate.VerbMove
	p.BufferedArg = 6 // east

	res := Resolve(s, rand.New(rand.NewSource(1)))

	assert.Equal(t, geometry.Tile{X: 3, Y: 2}, p.Pos)
	assert.Contains(t, res.Moved, "p1")
	assert.Equal(t, shardstate.VerbIdle, p.BufferedVerb)
}

func TestResolve_IllegalMoveStaysPut(t *testing.T) {
	s := openShard(t, 5)
	// wall immediately east of (2,2)
	s.Walls = geometry.NewWallSet([]geometry.Edge{
		geometry.NewEdge(geometry.Vertex{X: 3, Y: 2}, geometry.Vertex{X: 3, Y: 3}),
	})
	p := addProcess(s, "p1", geometry.Tile{X: 2, Y: 2})
	p.BufferedVerb = shardstate.VerbMove
	p.BufferedArg = 6

	res := Resolve(s, rand.New(rand.NewSource(1)))

	assert.Equal(t, geometry.Tile{X: 2, Y: 2}, p.Pos)
	assert.NotContains(t, res.Moved, "p1")
}

func TestResolve_ContestedDestinationBothIdle(t *testing.T) {
	s := openShard(t, 5)
	a := addProcess(s, "a", geometry.Tile{X: 1, Y: 2})
	b := addProcess(s, "b", geometry.Tile{X: 3, Y: 2})
	a.BufferedVerb, a.BufferedArg = shardstate.VerbMove, 6 // a -> (2,2)
	b.BufferedVerb, b.BufferedArg = shardstate.VerbMove, 4 // b -> (2,2)

	res := Resolve(s, rand.New(rand.NewSource(1)))

	assert.Equal(t, geometry.Tile{X: 1, Y: 2}, a.Pos)
	assert.Equal(t, geometry.Tile{X: 3, Y: 2}, b.Pos)
	assert.ElementsMatch(t, []string{"a", "b"}, res.Collided)
}

func TestResolve_VacatedTileChainAdmitsInOrder(t *testing.T) {
	s := openShard(t, 5)
	follower := addProcess(s, "follower", geometry.Tile{X: 1, Y: 2})
	leader := addProcess(s, "leader", geometry.Tile{X: 2, Y: 2})
	follower.BufferedVerb, follower.BufferedArg = shardstate.VerbMove, 6 // into leader's tile
	leader.BufferedVerb, leader.BufferedArg = shardstate.VerbMove, 6    // leader moves away first

	res := Resolve(s, rand.New(rand.NewSource(1)))

	assert.Equal(t, geometry.Tile{X: 2, Y: 2}, follower.Pos)
	assert.Equal(t, geometry.Tile{X: 3, Y: 2}, leader.Pos)
	assert.ElementsMatch(t, []string{"follower", "leader"}, res.Moved)
}

func TestResolve_BlockedByStationaryOccupantIsIdle(t *testing.T) {
	s := openShard(t, 5)
	mover := addProcess(s, "mover", geometry.Tile{X: 1, Y: 2})
	addProcess(s, "stationary", geometry.Tile{X: 2, Y: 2})
	mover.BufferedVerb, mover.BufferedArg = shardstate.VerbMove, 6

	res := Resolve(s, rand.New(rand.NewSource(1)))

	assert.Equal(t, geometry.Tile{X: 1, Y: 2}, mover.Pos)
	assert.NotContains(t, res.Moved, "mover")
}

func TestResolve_SwapIsAdmitted(t *testing.T) {
	s := openShard(t, 5)
	a := addProcess(s, "a", geometry.Tile{X: 1, Y: 2})
	b := addProcess(s, "b", geometry.Tile{X: 2, Y: 2})
	a.BufferedVerb, a.BufferedArg = shardstate.VerbMove, 6
	b.BufferedVerb, b.BufferedArg = shardstate.VerbMove, 4

	Resolve(s, rand.New(rand.NewSource(1)))

	assert.Equal(t, geometry.Tile{X: 2, Y: 2}, a.Pos)
	assert.Equal(t, geometry.Tile{X: 1, Y: 2}, b.Pos)
}

func TestResolve_DestinationIntoDefraggerIsIdle(t *testing.T) {
	s := openShard(t, 5)
	p := addProcess(s, "p1", geometry.Tile{X: 3, Y: 4})
	s.Defragger.Pos = geometry.Tile{X: 4, Y: 4}
	p.BufferedVerb, p.BufferedArg = shardstate.VerbMove, 6

	res := Resolve(s, rand.New(rand.NewSource(1)))

	assert.Equal(t, geometry.Tile{X: 3, Y: 4}, p.Pos)
	assert.NotContains(t, res.Moved, "p1")
}

func TestResolve_BufferSprintsUpToThreeTilesAndSetsCooldown(t *testing.T) {
	s := openShard(t, 10)
	s.Tick = 5
	p := addProcess(s, "p1", geometry.Tile{X: 2, Y: 2})
	p.BufferedVerb, p.BufferedArg = shardstate.VerbBuffer, 6
	p.LastSprintTick = -100

	res := Resolve(s, rand.New(rand.NewSource(1)))

	assert.Equal(t, geometry.Tile{X: 5, Y: 2}, p.Pos)
	assert.Contains(t, res.Sprinted, "p1")
	assert.Equal(t, int64(5), p.LastSprintTick)
}

func TestResolve_BufferOnCooldownDowngradesToIdle(t *testing.T) {
	s := openShard(t, 10)
	s.Tick = 5
	p := addProcess(s, "p1", geometry.Tile{X: 2, Y: 2})
	p.BufferedVerb, p.BufferedArg = shardstate.VerbBuffer, 6
	p.LastSprintTick = 5 // sprinted this very tick already

	res := Resolve(s, rand.New(rand.NewSource(1)))

	assert.Equal(t, geometry.Tile{X: 2, Y: 2}, p.Pos)
	assert.NotContains(t, res.Sprinted, "p1")
}

func TestResolve_BufferBreaksLOSLock(t *testing.T) {
	s := openShard(t, 10)
	s.Tick = 1
	p := addProcess(s, "p1", geometry.Tile{X: 2, Y: 2})
	p.LOSLock = true
	p.LastSprintTick = -100
	p.BufferedVerb, p.BufferedArg = shardstate.VerbBuffer, 6

	Resolve(s, rand.New(rand.NewSource(1)))

	require.False(t, p.LOSLock)
}

func TestResolve_DrainsBufferedCommandEvenWhenIdle(t *testing.T) {
	s := openShard(t, 5)
	p := addProcess(s, "p1", geometry.Tile{X: 2, Y: 2})
	p.BufferedVerb = shardstate.VerbIdle

	Resolve(s, rand.New(rand.NewSource(1)))

	assert.Equal(t, shardstate.VerbIdle, p.BufferedVerb)
	assert.Equal(t, 0, p.BufferedArg)
}
