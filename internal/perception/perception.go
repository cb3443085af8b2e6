// Package perception builds the per-process perception projection emitted
// at tick commit: a 3x3 keypad view around each live process, expanded by
// union with the views of every process in its adjacency cluster, plus
// drained events and echo-noise flags. Nothing here mutates shard state —
// Project is a pure read over a committed shardstate.Shard.
package perception

import (
	"strings"

	"github.com/segfaultgame/engine/internal/geometry"
	"github.com/segfaultgame/engine/internal/shardstate"
)

// TileContent classifies one visible tile from a process's point of view.
type TileContent string

const (
	ContentSelf      TileContent = "self"
	ContentProcess   TileContent = "process"
	ContentDefragger TileContent = "defragger"
	ContentGate      TileContent = "gate"
	ContentEmpty     TileContent = "empty"
)

// VisibleTile is one tile in a process's perception view.
type VisibleTile struct {
	Tile geometry.Tile
	Content TileContent
	// WallBlocked reports whether a wall blocks the adjacency from the
	// viewing process's own tile to this one. Only meaningful for tiles
	// within the viewer's immediate 3x3; tiles pulled in only via cluster
	// union carry false.
	WallBlocked bool
	// Echo reports whether this tile currently holds an active echo.
	Echo bool
}

// Payload is the outbound perception projection for one process at one
// tick commit.
type Payload struct {
	Tick      int64
	ProcessID string
	Tiles     []VisibleTile
	Events    []shardstate.PerceptionEvent
}

// Project builds the perception payload for processID as of s's current
// (just-committed) tick. Returns false if processID is not a live process
// in s.
func Project(s *shardstate.Shard, processID string) (Payload, bool) {
	self, ok := s.Processes[processID]
	if !ok || !self.Alive {
		return Payload{}, false
	}

	cluster := shardstate.AdjacencyCluster(s, self)

	visible := make(map[geometry.Tile]bool)
	for _, p := range cluster {
		for _, t := range keypadView(s.Grid, p.Pos) {
			visible[t] = true
		}
	}

	echoTiles := make(map[geometry.Tile]bool, len(s.Echoes))
	for _, e := range s.Echoes {
		echoTiles[e.Tile] = true
	}

	tiles := make([]VisibleTile, 0, len(visible))
	for t := range visible {
		tiles = append(tiles, VisibleTile{
			Tile:        t,
			Content:     classify(s, self, t),
			WallBlocked: chebyshevDistance(self.Pos, t) <= 1 && !geometry.Adjacent(s.Grid, s.Walls, self.Pos, t) && t != self.Pos,
			Echo:        echoTiles[t],
		})
	}

	events := s.DrainEvents(processID)
	if echoTiles[self.Pos] {
		events = append(events, shardstate.PerceptionEvent{
			Kind:    shardstate.EventNoise,
			Tick:    s.Tick,
			Message: "echo underfoot",
		})
	}

	return Payload{Tick: s.Tick, ProcessID: processID, Tiles: tiles, Events: events}, true
}

// keypadView returns the 3x3 block of in-bounds tiles centered on center.
func keypadView(g geometry.Grid, center geometry.Tile) []geometry.Tile {
	var out []geometry.Tile
	for dx := -1; dx <= 1; dx++ {
		for dy := -1; dy <= 1; dy++ {
			t := geometry.Tile{X: center.X + dx, Y: center.Y + dy}
			if g.InBounds(t) {
				out = append(out, t)
			}
		}
	}
	return out
}

func chebyshevDistance(a, b geometry.Tile) int {
	dx := a.X - b.X
	if dx < 0 {
		dx = -dx
	}
	dy := a.Y - b.Y
	if dy < 0 {
		dy = -dy
	}
	if dx > dy {
		return dx
	}
	return dy
}

// classify picks the tile's content from self's point of view. Priority
// mirrors the spec's enumeration order: self, process, defragger, gate,
// empty.
func classify(s *shardstate.Shard, self *shardstate.Process, t geometry.Tile) TileContent {
	if t == self.Pos {
		return ContentSelf
	}
	if occ, ok := s.OccupantAt(t); ok && occ.ID != self.ID {
		return ContentProcess
	}
	if t == s.Defragger.Pos {
		return ContentDefragger
	}
	for _, gate := range s.Gates {
		if gate.Pos == t {
			return ContentGate
		}
	}
	return ContentEmpty
}

// symbolFor renders a tile's content as a single ASCII character for
// GridString.
func symbolFor(c TileContent) byte {
	switch c {
	case ContentSelf:
		return '@'
	case ContentProcess:
		return 'o'
	case ContentDefragger:
		return 'D'
	case ContentGate:
		return 'G'
	case ContentEmpty:
		return '.'
	default:
		return '?'
	}
}

// GridString renders the payload's tile set as a bounding-box ASCII grid,
// one row per Y in ascending order (the lowest Y row first). Tiles the payload never saw (holes inside
// the bounding box left by an irregular cluster-union shape) render as '?'.
func (p Payload) GridString() string {
	if len(p.Tiles) == 0 {
		return ""
	}

	minX, minY := p.Tiles[0].Tile.X, p.Tiles[0].Tile.Y
	maxX, maxY := minX, minY
	byTile := make(map[geometry.Tile]TileContent, len(p.Tiles))
	for _, vt := range p.Tiles {
		byTile[vt.Tile] = vt.Content
		if vt.Tile.X < minX {
			minX = vt.Tile.X
		}
		if vt.Tile.X > maxX {
			maxX = vt.Tile.X
		}
		if vt.Tile.Y < minY {
			minY = vt.Tile.Y
		}
		if vt.Tile.Y > maxY {
			maxY = vt.Tile.Y
		}
	}

	var b strings.Builder
	for y := minY; y <= maxY; y++ {
		if y > minY {
			b.WriteByte('\n')
		}
		for x := minX; x <= maxX; x++ {
			content, ok := byTile[geometry.Tile{X: x, Y: y}]
			if !ok {
				b.WriteByte('?')
				continue
			}
			b.WriteByte(symbolFor(content))
		}
	}
	return b.String()
}
