package perception

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/segfaultgame/engine/internal/geometry"
	"github.com/segfaultgame/engine/internal/shardstate"
)

func emptyWalls() *geometry.WallSet {
	return geometry.NewWallSet(nil)
}

func newTestShard(size int) *shardstate.Shard {
	return shardstate.NewShard("shard-1", 1, geometry.Grid{Size: size}, emptyWalls(), nil)
}

func TestProject_UnknownProcessReturnsFalse(t *testing.T) {
	s := newTestShard(10)
	_, ok := Project(s, "nobody")
	assert.False(t, ok)
}

func TestProject_SoloProcessSeesOwn3x3(t *testing.T) {
	s := newTestShard(10)
	p := &shardstate.Process{ID: "p1", Alive: true, Pos: geometry.Tile{X: 5, Y: 5}}
	s.Processes[p.ID] = p
	s.Defragger.Pos = geometry.Tile{X: 0, Y: 0}

	payload, ok := Project(s, "p1")
	require.True(t, ok)
	assert.Len(t, payload.Tiles, 9)

	var sawSelf bool
	for _, vt := range payload.Tiles {
		if vt.Tile == p.Pos {
			assert.Equal(t, ContentSelf, vt.Content)
			sawSelf = true
		}
	}
	assert.True(t, sawSelf)
}

func TestProject_AdjacentProcessViewsAreUnioned(t *testing.T) {
	s := newTestShard(10)
	p1 := &shardstate.Process{ID: "p1", Alive: true, Pos: geometry.Tile{X: 5, Y: 5}}
	p2 := &shardstate.Process{ID: "p2", Alive: true, Pos: geometry.Tile{X: 6, Y: 5}}
	s.Processes[p1.ID] = p1
	s.Processes[p2.ID] = p2

	payload, ok := Project(s, "p1")
	require.True(t, ok)

	found := false
	for _, vt := range payload.Tiles {
		if vt.Tile == (geometry.Tile{X: 7, Y: 5}) {
			found = true
		}
	}
	assert.True(t, found, "p1 should see into p2's 3x3 since they are adjacent")
}

func TestProject_NonAdjacentProcessNotInCluster(t *testing.T) {
	s := newTestShard(10)
	p1 := &shardstate.Process{ID: "p1", Alive: true, Pos: geometry.Tile{X: 0, Y: 0}}
	p2 := &shardstate.Process{ID: "p2", Alive: true, Pos: geometry.Tile{X: 9, Y: 9}}
	s.Processes[p1.ID] = p1
	s.Processes[p2.ID] = p2

	payload, ok := Project(s, "p1")
	require.True(t, ok)
	for _, vt := range payload.Tiles {
		assert.NotEqual(t, geometry.Tile{X: 9, Y: 9}, vt.Tile)
	}
}

func TestProject_EchoUnderfootQueuesNoiseEvent(t *testing.T) {
	s := newTestShard(10)
	p := &shardstate.Process{ID: "p1", Alive: true, Pos: geometry.Tile{X: 3, Y: 3}}
	s.Processes[p.ID] = p
	s.Echoes = []shardstate.Echo{{Tile: geometry.Tile{X: 3, Y: 3}, TickDied: 0}}

	payload, ok := Project(s, "p1")
	require.True(t, ok)
	require.Len(t, payload.Events, 1)
	assert.Equal(t, shardstate.EventNoise, payload.Events[0].Kind)
}

func TestGridString_RendersBoundingBoxWithSymbols(t *testing.T) {
	payload := Payload{Tiles: []VisibleTile{
		{Tile: geometry.Tile{X: 0, Y: 0}, Content: ContentSelf},
		{Tile: geometry.Tile{X: 1, Y: 0}, Content: ContentEmpty},
		{Tile: geometry.Tile{X: 0, Y: 1}, Content: ContentDefragger},
		{Tile: geometry.Tile{X: 1, Y: 1}, Content: ContentGate},
	}}
	assert.Equal(t, "@.\nDG", payload.GridString())
}
