package supervisor

import (
	"math/rand"

	"github.com/segfaultgame/engine/internal/config"
	"github.com/segfaultgame/engine/internal/geometry"
	"github.com/segfaultgame/engine/internal/shardstate"
)

// maxLayoutAttempts bounds how many times GenerateShard retries interior
// wall placement before giving up and falling back to a boundary-only
// layout, which is always connected.
const maxLayoutAttempts = 25

// GenerateShard builds a fresh shard: a grid-size x grid-size board
// bounded by a solid perimeter, up to cfg.WallCount interior walls
// (repeated or perimeter picks are skipped) placed so the board stays fully
// connected with no zero-exit tile, or the perimeter alone when no valid
// layout turns up within maxLayoutAttempts, one stable gate, and one ghost
// gate at distinct tiles. Grounded on the connectivity
// acceptance test in internal/drift/drift.go's accept function — the
// same invariants a drift candidate must satisfy, applied once at
// creation time instead of every tick.
func GenerateShard(shardID string, seed int64, cfg config.ShardConfig) *shardstate.Shard {
	rng := rand.New(rand.NewSource(seed))
	grid := geometry.Grid{Size: cfg.GridSize}

	walls := boundaryWalls(grid)
	for attempt := 0; attempt < maxLayoutAttempts; attempt++ {
		candidate := withInteriorWalls(grid, rng, cfg.WallCount)
		if layoutValid(grid, candidate) {
			walls = candidate
			break
		}
	}

	gates := placeGates(grid, walls, rng)
	return shardstate.NewShard(shardID, seed, grid, walls, gates)
}

func boundaryWalls(g geometry.Grid) *geometry.WallSet {
	var edges []geometry.Edge
	for x := 0; x < g.Size; x++ {
		edges = append(edges, geometry.NewEdge(geometry.Vertex{X: x, Y: 0}, geometry.Vertex{X: x + 1, Y: 0}))
		edges = append(edges, geometry.NewEdge(geometry.Vertex{X: x, Y: g.Size}, geometry.Vertex{X: x + 1, Y: g.Size}))
	}
	for y := 0; y < g.Size; y++ {
		edges = append(edges, geometry.NewEdge(geometry.Vertex{X: 0, Y: y}, geometry.Vertex{X: 0, Y: y + 1}))
		edges = append(edges, geometry.NewEdge(geometry.Vertex{X: g.Size, Y: y}, geometry.Vertex{X: g.Size, Y: y + 1}))
	}
	return geometry.NewWallSet(edges)
}

// withInteriorWalls returns a new wall set built from the grid's boundary
// plus up to wallCount randomly chosen interior lattice edges.
func withInteriorWalls(g geometry.Grid, rng *rand.Rand, wallCount int) *geometry.WallSet {
	boundary := boundaryWalls(g)
	edges := boundary.Edges()
	seen := make(map[geometry.Edge]bool, len(edges))
	for _, e := range edges {
		seen[e] = true
	}

	for placed := 0; placed < wallCount; placed++ {
		e := randomInteriorEdge(g, rng)
		if seen[e] {
			continue
		}
		seen[e] = true
		edges = append(edges, e)
	}
	return geometry.NewWallSet(edges)
}

// randomInteriorEdge picks a random edge between two orthogonally
// adjacent lattice vertices within the grid's (Size+1)x(Size+1) lattice.
func randomInteriorEdge(g geometry.Grid, rng *rand.Rand) geometry.Edge {
	x := rng.Intn(g.Size + 1)
	y := rng.Intn(g.Size + 1)
	if rng.Intn(2) == 0 && x < g.Size {
		return geometry.NewEdge(geometry.Vertex{X: x, Y: y}, geometry.Vertex{X: x + 1, Y: y})
	}
	if y < g.Size {
		return geometry.NewEdge(geometry.Vertex{X: x, Y: y}, geometry.Vertex{X: x, Y: y + 1})
	}
	if x < g.Size {
		return geometry.NewEdge(geometry.Vertex{X: x, Y: y}, geometry.Vertex{X: x + 1, Y: y})
	}
	return geometry.NewEdge(geometry.Vertex{X: x, Y: y}, geometry.Vertex{X: x - 1, Y: y})
}

// layoutValid applies the same two structural invariants drift.Apply
// enforces on every candidate: full connectivity and no zero-exit tile.
func layoutValid(g geometry.Grid, walls *geometry.WallSet) bool {
	if !geometry.Connected(g, walls) {
		return false
	}
	for x := 0; x < g.Size; x++ {
		for y := 0; y < g.Size; y++ {
			if geometry.ExitCount(g, walls, geometry.Tile{X: x, Y: y}) == 0 {
				return false
			}
		}
	}
	return true
}

// placeGates chooses one stable gate and one ghost gate at distinct
// tiles. Since the layout is fully connected, any two distinct tiles
// satisfy stable-gate reachability.
func placeGates(g geometry.Grid, walls *geometry.WallSet, rng *rand.Rand) []shardstate.Gate {
	stable := randomTile(g, rng)
	var ghost geometry.Tile
	for {
		ghost = randomTile(g, rng)
		if ghost != stable {
			break
		}
	}
	return []shardstate.Gate{
		{Pos: stable, Type: shardstate.GateStable},
		{Pos: ghost, Type: shardstate.GateGhost},
	}
}

func randomTile(g geometry.Grid, rng *rand.Rand) geometry.Tile {
	return geometry.Tile{X: rng.Intn(g.Size), Y: rng.Intn(g.Size)}
}

// pickSpawnTile finds a random walkable tile not occupied by a live
// process and not adjacent to the defragger, per join's placement rule.
// Returns false if no such tile exists (a badly overcrowded shard).
func pickSpawnTile(s *shardstate.Shard, rng *rand.Rand) (geometry.Tile, bool) {
	const maxAttempts = 200
	for attempt := 0; attempt < maxAttempts; attempt++ {
		t := randomTile(s.Grid, rng)
		if _, occupied := s.OccupantAt(t); occupied {
			continue
		}
		if geometry.Adjacent(s.Grid, s.Walls, t, s.Defragger.Pos) || t == s.Defragger.Pos {
			continue
		}
		return t, true
	}

	// Exhaustive fallback scan for small or nearly-full shards where
	// random sampling is unlikely to land on the few remaining tiles.
	for x := 0; x < s.Grid.Size; x++ {
		for y := 0; y < s.Grid.Size; y++ {
			t := geometry.Tile{X: x, Y: y}
			if _, occupied := s.OccupantAt(t); occupied {
				continue
			}
			if geometry.Adjacent(s.Grid, s.Walls, t, s.Defragger.Pos) || t == s.Defragger.Pos {
				continue
			}
			return t, true
		}
	}
	return geometry.Tile{}, false
}
