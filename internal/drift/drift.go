// Package drift implements the per-tick wall/gate relocation subsystem.
// Drift runs once per tick, after movement and gate resolution, and must
// never leave the shard in a state that breaks connectivity, traps a
// process in a dead end, or strands the stable gate.
package drift

import (
	"log/slog"
	"math/rand"

	"github.com/segfaultgame/engine/internal/geometry"
	"github.com/segfaultgame/engine/internal/shardstate"
)

// Config bounds the drift engine's behavior.
type Config struct {
	MinFraction float64 // p lower bound, default 0.10
	MaxFraction float64 // p upper bound, default 0.25
	MaxAttempts int      // candidate-generation retry budget, default 25
}

// DefaultConfig returns the engine's default bounds.
func DefaultConfig() Config {
	return Config{MinFraction: 0.10, MaxFraction: 0.25, MaxAttempts: 25}
}

// Result reports what the drift engine actually did, for logging/metrics.
type Result struct {
	WallsMoved int
	GatesMoved int
	Degenerate bool // true if the retry budget was exhausted and a no-op wall drift was applied
}

// Apply mutates s.Walls and s.Gates in place. It never changes the total
// wall-edge count and never commits a candidate that violates the four
// acceptance-test invariants (connectivity, no 0-exit cell under a live
// process, stable-gate reachability, no isolated tile).
func Apply(s *shardstate.Shard, rng *rand.Rand, cfg Config, logger *slog.Logger) Result {
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		candidateWalls, movedWalls := driftWalls(s.Grid, s.Walls, rng, cfg)
		candidateGates, movedGates := driftGates(s.Grid, s.Gates, s.Processes, s.Defragger, rng)

		if accept(s, candidateWalls, candidateGates) {
			s.Walls = candidateWalls
			s.Gates = candidateGates
			return Result{WallsMoved: movedWalls, GatesMoved: movedGates}
		}
	}

	// Retry budget exhausted: fall back to a degenerate drift that leaves
	// the walls untouched. Gates still re-evaluate since a gate-only drift
	// can't break the wall-count or connectivity invariants; it's the wall
	// drift that's suspect here.
	logger.Warn("drift retry budget exhausted, applying degenerate drift", "shard", s.ID, "tick", s.Tick)
	candidateGates, movedGates := driftGates(s.Grid, s.Gates, s.Processes, s.Defragger, rng)
	if accept(s, s.Walls, candidateGates) {
		s.Gates = candidateGates
		return Result{Degenerate: true, GatesMoved: movedGates}
	}
	return Result{Degenerate: true}
}

// accept runs the four acceptance-test invariants against a drift
// candidate without mutating shard state.
func accept(s *shardstate.Shard, walls *geometry.WallSet, gates []shardstate.Gate) bool {
	if walls.Len() != s.Walls.Len() {
		return false
	}
	if !geometry.Connected(s.Grid, walls) {
		return false
	}
	for _, p := range s.Processes {
		if !p.Alive {
			continue
		}
		if geometry.ExitCount(s.Grid, walls, p.Pos) == 0 {
			return false
		}
	}
	stable, ok := stableGate(gates)
	if ok {
		for _, p := range s.Processes {
			if !p.Alive {
				continue
			}
			if !geometry.ReachableFrom(s.Grid, walls, p.Pos, stable.Pos) {
				return false
			}
		}
	}
	for x := 0; x < s.Grid.Size; x++ {
		for y := 0; y < s.Grid.Size; y++ {
			if geometry.ExitCount(s.Grid, walls, geometry.Tile{X: x, Y: y}) == 0 {
				return false
			}
		}
	}
	if gateOverlap(gates) {
		return false
	}
	return true
}

func stableGate(gates []shardstate.Gate) (shardstate.Gate, bool) {
	for _, g := range gates {
		if g.Type == shardstate.GateStable {
			return g, true
		}
	}
	return shardstate.Gate{}, false
}

func gateOverlap(gates []shardstate.Gate) bool {
	seen := make(map[geometry.Tile]bool, len(gates))
	for _, g := range gates {
		if seen[g.Pos] {
			return true
		}
		seen[g.Pos] = true
	}
	return false
}

// driftWalls builds one candidate wall layout: select ceil(p*W) walls and
// attempt to relocate each to an adjacent edge slot, lowest wall-id winning
// any contention.
func driftWalls(g geometry.Grid, walls *geometry.WallSet, rng *rand.Rand, cfg Config) (*geometry.WallSet, int) {
	candidate := walls.Clone()
	total := candidate.Len()
	if total == 0 {
		return candidate, 0
	}

	p := cfg.MinFraction + rng.Float64()*(cfg.MaxFraction-cfg.MinFraction)
	count := int(ceil(p * float64(total)))
	if count < 1 {
		count = 1
	}
	if count > total {
		count = total
	}

	allIDs := idsOf(candidate)
	rng.Shuffle(len(allIDs), func(i, j int) { allIDs[i], allIDs[j] = allIDs[j], allIDs[i] })
	selected := allIDs[:count]

	type proposal struct {
		id   int
		from geometry.Edge
		to   geometry.Edge
	}
	proposals := make([]proposal, 0, count)
	for _, id := range selected {
		from := candidate.EdgeOf(id)
		slots := adjacentSlots(g, from)
		if len(slots) == 0 {
			continue
		}
		to := slots[rng.Intn(len(slots))]
		proposals = append(proposals, proposal{id: id, from: from, to: to})
	}

	// Resolve contention: lowest wall-id wins a contested destination slot;
	// a destination already held by a non-moving (or losing) wall is also
	// rejected. A handful of fixed-point passes is enough at this scale
	// (at most MaxFraction*W movers) to settle chained vacate/occupy cases.
	moved := 0
	settled := make(map[int]bool, len(proposals)) // id -> true once resolved
	finalEdge := make(map[int]geometry.Edge, len(proposals))
	for _, pr := range proposals {
		finalEdge[pr.id] = pr.from // default: stays
	}

	for pass := 0; pass < 3; pass++ {
		occupied := make(map[geometry.Edge]int) // edge -> wall id currently holding it
		for id, e := range candidate.IDEdges() {
			occupied[e] = id
		}
		for id, e := range finalEdge {
			occupied[e] = id
		}

		byDest := make(map[geometry.Edge][]proposal)
		for _, pr := range proposals {
			if settled[pr.id] {
				continue
			}
			byDest[pr.to] = append(byDest[pr.to], pr)
		}

		changed := false
		for dest, contenders := range byDest {
			holder, held := occupied[dest]
			vacating := false
			if held {
				if fe, ok := finalEdge[holder]; ok && fe != dest {
					vacating = true
				}
			}
			if held && !vacating {
				// Destination is occupied and its holder isn't moving away
				// this pass; all contenders lose.
				for _, pr := range contenders {
					settled[pr.id] = true
				}
				continue
			}
			best := contenders[0]
			for _, pr := range contenders[1:] {
				if pr.id < best.id {
					best = pr
				}
			}
			if finalEdge[best.id] != best.to {
				finalEdge[best.id] = best.to
				changed = true
			}
			settled[best.id] = true
			for _, pr := range contenders {
				if pr.id != best.id {
					settled[pr.id] = true
				}
			}
		}
		if !changed {
			break
		}
	}

	for id, e := range finalEdge {
		from := candidate.EdgeOf(id)
		if e != from {
			candidate.Move(id, e)
			moved++
		}
	}
	return candidate, moved
}

func ceil(f float64) float64 {
	i := float64(int(f))
	if f > i {
		return i + 1
	}
	return i
}

func idsOf(ws *geometry.WallSet) []int {
	out := make([]int, 0, ws.Len())
	for _, e := range ws.Edges() {
		id, _ := ws.IDOf(e)
		out = append(out, id)
	}
	return out
}

// adjacentSlots returns the candidate destination edges for relocating e:
// every unit edge sharing vertex A or B, excluding e itself, clipped to the
// grid's vertex bounds (sliding and rotation about either endpoint).
func adjacentSlots(g geometry.Grid, e geometry.Edge) []geometry.Edge {
	seen := make(map[geometry.Edge]bool)
	var out []geometry.Edge
	for _, v := range []geometry.Vertex{e.A, e.B} {
		for _, d := range []geometry.Vertex{{X: v.X + 1, Y: v.Y}, {X: v.X - 1, Y: v.Y}, {X: v.X, Y: v.Y + 1}, {X: v.X, Y: v.Y - 1}} {
			if d.X < 0 || d.X > g.Size || d.Y < 0 || d.Y > g.Size {
				continue
			}
			cand := geometry.NewEdge(v, d)
			if cand == e || seen[cand] {
				continue
			}
			seen[cand] = true
			out = append(out, cand)
		}
	}
	return out
}

// driftGates relocates every gate to a random orthogonally-adjacent tile
// that is unoccupied by a process, the defragger, or another gate; gates
// with no legal destination stay put.
func driftGates(g geometry.Grid, gates []shardstate.Gate, processes map[string]*shardstate.Process, defragger shardstate.Defragger, rng *rand.Rand) ([]shardstate.Gate, int) {
	out := make([]shardstate.Gate, len(gates))
	copy(out, gates)

	occupied := make(map[geometry.Tile]bool)
	for _, p := range processes {
		if p.Alive {
			occupied[p.Pos] = true
		}
	}
	occupied[defragger.Pos] = true
	for _, gt := range out {
		occupied[gt.Pos] = true
	}

	moved := 0
	cardinals := []geometry.Tile{{X: 1, Y: 0}, {X: -1, Y: 0}, {X: 0, Y: 1}, {X: 0, Y: -1}}
	for i, gt := range out {
		delete(occupied, gt.Pos) // this gate itself may relocate onto a now-free tile, not its own
		var candidates []geometry.Tile
		for _, d := range cardinals {
			n := gt.Pos.Add(d)
			if !g.InBounds(n) || occupied[n] {
				continue
			}
			candidates = append(candidates, n)
		}
		if len(candidates) == 0 {
			occupied[gt.Pos] = true
			continue
		}
		choice := candidates[rng.Intn(len(candidates))]
		out[i].Pos = choice
		occupied[choice] = true
		moved++
	}
	return out, moved
}
