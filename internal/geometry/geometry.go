// Package geometry provides pure, side-effect-free queries over a shard's
// grid and wall set: orthogonal/diagonal legality, line of sight, and
// shortest-path stepping. Nothing in this package mutates its inputs —
// Drift, Movement, and Defragger policy all call back into it on every
// decision rather than caching derived topology, since the wall set changes
// every tick.
package geometry

import "sort"

// Tile is an integer grid coordinate. The zero value (0,0) is a valid tile.
type Tile struct {
	X, Y int
}

// Vertex is a lattice point at a tile corner. A Grid of side G has
// (G+1)x(G+1) vertices.
type Vertex struct {
	X, Y int
}

// Edge is an undirected wall segment between two adjacent vertices,
// normalized so A is always the lexicographically smaller endpoint. Two
// Edge values are equal (and hash equal as map keys) iff they describe the
// same wall, regardless of construction order.
type Edge struct {
	A, B Vertex
}

// NewEdge builds a normalized Edge from two vertices.
func NewEdge(v1, v2 Vertex) Edge {
	if v1.Y > v2.Y || (v1.Y == v2.Y && v1.X > v2.X) {
		v1, v2 = v2, v1
	}
	return Edge{A: v1, B: v2}
}

// Grid is the square lattice side length. Tiles are addressed (x,y) with
// 0 <= x,y < Size.
type Grid struct {
	Size int
}

// InBounds reports whether t is a valid tile on the grid.
func (g Grid) InBounds(t Tile) bool {
	return t.X >= 0 && t.X < g.Size && t.Y >= 0 && t.Y < g.Size
}

// keypadOrder lists the 8 movement digits in ascending keypad order
// (1..9 excluding 5), the deterministic tie-break order for path choices.
// Offsets assume Y increases "up" the keypad, matching 7/8/9 as the top
// row.
var keypadOrder = []struct {
	Digit  int
	Offset Tile
}{
	{1, Tile{-1, -1}},
	{2, Tile{0, -1}},
	{3, Tile{1, -1}},
	{4, Tile{-1, 0}},
	{6, Tile{1, 0}},
	{7, Tile{-1, 1}},
	{8, Tile{0, 1}},
	{9, Tile{1, 1}},
}

// DigitOffset returns the tile offset for a keypad digit 1..9. Digit 5 (or
// any other value) yields the zero offset, i.e. IDLE.
func DigitOffset(digit int) Tile {
	for _, k := range keypadOrder {
		if k.Digit == digit {
			return k.Offset
		}
	}
	return Tile{}
}

// Add returns the tile reached by stepping the given offset from t.
func (t Tile) Add(o Tile) Tile {
	return Tile{t.X + o.X, t.Y + o.Y}
}

// chebyshev returns the Chebyshev distance between two tiles.
func chebyshev(a, b Tile) int {
	dx, dy := abs(a.X-b.X), abs(a.Y-b.Y)
	if dx > dy {
		return dx
	}
	return dy
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// WallSet is the shard's current wall topology: an id-ordered set of edges.
// Wall ids are stable across drift (losers of a drift contention keep their
// id and position); the total edge count never changes.
type WallSet struct {
	byID map[int]Edge
	ids  map[Edge]int
}

// NewWallSet builds a WallSet from an ordered list of edges; index in the
// slice becomes the wall-id, matching how drift's "lowest wall-id wins"
// tie-break is defined.
func NewWallSet(edges []Edge) *WallSet {
	ws := &WallSet{
		byID: make(map[int]Edge, len(edges)),
		ids:  make(map[Edge]int, len(edges)),
	}
	for i, e := range edges {
		ws.byID[i] = e
		ws.ids[e] = i
	}
	return ws
}

// Has reports whether e is currently a wall edge.
func (w *WallSet) Has(e Edge) bool {
	_, ok := w.ids[e]
	return ok
}

// Len returns the invariant total wall-edge count.
func (w *WallSet) Len() int {
	return len(w.byID)
}

// Edges returns all wall edges ordered by ascending wall-id.
func (w *WallSet) Edges() []Edge {
	ids := make([]int, 0, len(w.byID))
	for id := range w.byID {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]Edge, len(ids))
	for i, id := range ids {
		out[i] = w.byID[id]
	}
	return out
}

// IDOf returns the wall-id for edge e, or (-1, false) if e is not a wall.
func (w *WallSet) IDOf(e Edge) (int, bool) {
	id, ok := w.ids[e]
	if !ok {
		return -1, false
	}
	return id, true
}

// EdgeOf returns the current edge for a wall-id.
func (w *WallSet) EdgeOf(id int) Edge {
	return w.byID[id]
}

// IDEdges returns a copy of the id->edge map.
func (w *WallSet) IDEdges() map[int]Edge {
	out := make(map[int]Edge, len(w.byID))
	for id, e := range w.byID {
		out[id] = e
	}
	return out
}

// Move relocates the wall with the given id to a new edge, keeping the id
// stable. Callers are responsible for contention resolution before calling
// Move (see internal/drift).
func (w *WallSet) Move(id int, to Edge) {
	old := w.byID[id]
	delete(w.ids, old)
	w.byID[id] = to
	w.ids[to] = id
}

// Clone returns a deep copy of the wall set, used by drift to build and
// validate a candidate before committing it.
func (w *WallSet) Clone() *WallSet {
	cp := &WallSet{
		byID: make(map[int]Edge, len(w.byID)),
		ids:  make(map[Edge]int, len(w.ids)),
	}
	for id, e := range w.byID {
		cp.byID[id] = e
		cp.ids[e] = id
	}
	return cp
}

// orthogonalEdge returns the wall edge separating two orthogonally adjacent
// tiles. Panics if a and b are not orthogonally adjacent — callers must
// check first.
func orthogonalEdge(a, b Tile) Edge {
	if a.X == b.X {
		// vertical neighbors share a horizontal edge
		y := a.Y
		if b.Y < a.Y {
			y = b.Y
		}
		return NewEdge(Vertex{a.X, y + 1}, Vertex{a.X + 1, y + 1})
	}
	// horizontal neighbors share a vertical edge
	x := a.X
	if b.X < a.X {
		x = b.X
	}
	return NewEdge(Vertex{x + 1, a.Y}, Vertex{x + 1, a.Y + 1})
}

// OrthBlocked reports whether the wall edge between orthogonally-adjacent
// tiles a and b is present. Callers must ensure a,b are orthogonal
// neighbors (Chebyshev distance 1, sharing exactly one axis).
func OrthBlocked(walls *WallSet, a, b Tile) bool {
	return walls.Has(orthogonalEdge(a, b))
}

// flankingEdges returns the two orthogonal edges that "corner-cut" a
// diagonal step between a and b, used by DiagLegal.
func flankingEdges(a, b Tile) (Edge, Edge) {
	corner1 := Tile{a.X, b.Y}
	corner2 := Tile{b.X, a.Y}
	return orthogonalEdge(a, corner1), orthogonalEdge(a, corner2)
}

// DiagLegal reports whether a diagonal step from a to b is legal: the open
// segment between tile centers must not properly intersect any wall edge.
// Colinear overlap is disallowed; touching only at a vertex (endpoint-only
// contact) is allowed. In practice the only edges that can properly cross a
// unit diagonal are the two edges flanking the corner between a and b, so
// the diagonal is legal iff neither flanking edge is a wall.
func DiagLegal(walls *WallSet, a, b Tile) bool {
	e1, e2 := flankingEdges(a, b)
	return !walls.Has(e1) && !walls.Has(e2)
}

// Adjacent reports whether b is one legal step from a: Chebyshev distance 1
// and the step is legal under OrthBlocked/DiagLegal.
func Adjacent(g Grid, walls *WallSet, a, b Tile) bool {
	if !g.InBounds(a) || !g.InBounds(b) {
		return false
	}
	if chebyshev(a, b) != 1 {
		return false
	}
	if a.X == b.X || a.Y == b.Y {
		return !OrthBlocked(walls, a, b)
	}
	return DiagLegal(walls, a, b)
}

// Neighbors returns the legal neighbors of t in ascending keypad digit
// order (the deterministic order used for every tie-break in this
// package).
func Neighbors(g Grid, walls *WallSet, t Tile) []Tile {
	out := make([]Tile, 0, 8)
	for _, k := range keypadOrder {
		n := t.Add(k.Offset)
		if Adjacent(g, walls, t, n) {
			out = append(out, n)
		}
	}
	return out
}

// LOS reports whether there is an unbroken line of sight between a and b:
// a straight line of tiles from a to b where every consecutive step is
// legal under Adjacent. Processes and gates never block LOS — only walls
// do, via Adjacent's legality check.
func LOS(g Grid, walls *WallSet, a, b Tile) bool {
	if a == b {
		return true
	}
	path := bresenhamTiles(a, b)
	for i := 1; i < len(path); i++ {
		if !Adjacent(g, walls, path[i-1], path[i]) {
			return false
		}
	}
	return true
}

// bresenhamTiles returns the sequence of tiles on the line from a to b
// inclusive, one tile per Chebyshev step, using a standard digital
// differential analyzer.
func bresenhamTiles(a, b Tile) []Tile {
	dx, dy := b.X-a.X, b.Y-a.Y
	steps := chebyshev(a, b)
	if steps == 0 {
		return []Tile{a}
	}
	out := make([]Tile, 0, steps+1)
	for i := 0; i <= steps; i++ {
		t := float64(i) / float64(steps)
		out = append(out, Tile{
			X: a.X + roundHalfAwayFromZero(float64(dx)*t),
			Y: a.Y + roundHalfAwayFromZero(float64(dy)*t),
		})
	}
	return out
}

func roundHalfAwayFromZero(f float64) int {
	if f >= 0 {
		return int(f + 0.5)
	}
	return int(f - 0.5)
}

// ShortestStep returns the first tile on a minimum-cost legal path from a
// to b, computed by BFS, with ties broken by lowest neighbor index in
// keypad order. Returns (Tile{}, false) if a == b or b is unreachable from
// a.
func ShortestStep(g Grid, walls *WallSet, a, b Tile) (Tile, bool) {
	if a == b {
		return Tile{}, false
	}
	dist := bfsDistancesFrom(g, walls, b)
	da, ok := dist[a]
	if !ok {
		return Tile{}, false
	}
	for _, k := range keypadOrder {
		n := a.Add(k.Offset)
		if !Adjacent(g, walls, a, n) {
			continue
		}
		if dn, ok := dist[n]; ok && dn == da-1 {
			return n, true
		}
	}
	return Tile{}, false
}

// bfsDistancesFrom computes, for every tile reachable from src under legal
// adjacency, its distance to src. Because Adjacent is symmetric, BFS from
// the destination yields correct "distance to destination" for every
// origin in the same component.
func bfsDistancesFrom(g Grid, walls *WallSet, src Tile) map[Tile]int {
	dist := map[Tile]int{src: 0}
	queue := []Tile{src}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, n := range Neighbors(g, walls, cur) {
			if _, seen := dist[n]; seen {
				continue
			}
			dist[n] = dist[cur] + 1
			queue = append(queue, n)
		}
	}
	return dist
}

// Connected reports whether every in-bounds tile reachable from any tile is
// reachable from every other tile — i.e. the walkable tile graph is a
// single connected component. Used by drift's acceptance test.
func Connected(g Grid, walls *WallSet) bool {
	if g.Size <= 0 {
		return true
	}
	start := Tile{0, 0}
	dist := bfsDistancesFrom(g, walls, start)
	return len(dist) == g.Size*g.Size
}

// ReachableFrom reports whether target is reachable from origin under the
// current wall topology.
func ReachableFrom(g Grid, walls *WallSet, origin, target Tile) bool {
	if origin == target {
		return true
	}
	dist := bfsDistancesFrom(g, walls, target)
	_, ok := dist[origin]
	return ok
}

// ExitCount returns the number of legal neighbors of t — a tile with
// ExitCount 0 is a sealed pocket, forbidden by drift's invariant checks.
func ExitCount(g Grid, walls *WallSet, t Tile) int {
	return len(Neighbors(g, walls, t))
}

// BFSDistance returns the shortest-path distance (in tile steps) between a
// and b, or (-1, false) if unreachable. Used by the defragger's
// nearest-by-LOS tie-break.
func BFSDistance(g Grid, walls *WallSet, a, b Tile) (int, bool) {
	dist := bfsDistancesFrom(g, walls, b)
	d, ok := dist[a]
	return d, ok
}
