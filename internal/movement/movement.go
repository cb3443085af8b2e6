// Package movement resolves one tick's worth of simultaneous process
// actions: translating buffered MOVE/BUFFER/IDLE commands into intents,
// then admitting, colliding, or rejecting them against the pre-drift
// topology in a single atomic step.
package movement

import (
	"math/rand"
	"sort"

	"github.com/segfaultgame/engine/internal/geometry"
	"github.com/segfaultgame/engine/internal/shardstate"
)

const sprintMaxSteps = 3

// Result reports what happened during one resolution pass, for the
// orchestrator to fold into tick events and for the defragger policy to
// consume (LOS-lock breaks happen here, not in the defragger).
type Result struct {
	// Moved lists process-ids whose position actually changed.
	Moved []string
	// Collided lists process-ids forced to IDLE by a destination collision.
	Collided []string
	// Sprinted lists process-ids that executed a real BUFFER sprint this
	// tick (cooldown satisfied), which breaks any LOS lock held on them.
	Sprinted []string
}

// Resolve drains every live process's buffered command, computes its
// intent against the shard's pre-drift topology, resolves collisions, and
// commits final positions. It clears each process's buffered command back
// to IDLE: the intake single-slot register is drained exactly once per
// tick.
func Resolve(s *shardstate.Shard, rng *rand.Rand) Result {
	// Process iteration order must be fixed before any rng draw: map
	// iteration order is randomized per run, and intent() below draws from
	// the shared per-tick rng whenever a BUFFER sprint hits a blocked
	// junction. Without a stable order, two runs of the identical
	// seed/state/command-stream could consume rng draws in a different
	// sequence and diverge.
	ids := make([]string, 0, len(s.Processes))
	for id := range s.Processes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	origPos := make(map[string]geometry.Tile, len(ids))
	occupantAt := make(map[geometry.Tile]string, len(ids))
	for _, id := range ids {
		p := s.Processes[id]
		if !p.Alive {
			continue
		}
		origPos[id] = p.Pos
		occupantAt[p.Pos] = id
	}

	dest := make(map[string]geometry.Tile, len(origPos))
	var sprinted []string
	for _, id := range ids {
		p := s.Processes[id]
		if !p.Alive {
			continue
		}
		d, didSprint := intent(s, p, rng)
		dest[id] = d
		if didSprint {
			sprinted = append(sprinted, id)
			p.LastSprintTick = s.Tick
			p.LOSLock = false
		}
		p.BufferedVerb = shardstate.VerbIdle
		p.BufferedArg = 0
	}

	admitted, collided := resolveDestinations(s, origPos, occupantAt, dest)

	var moved []string
	for _, id := range ids {
		if _, ok := origPos[id]; !ok {
			continue
		}
		p := s.Processes[id]
		if admitted[id] {
			p.Pos = dest[id]
			moved = append(moved, id)
		}
	}

	return Result{Moved: moved, Collided: collided, Sprinted: sprinted}
}

// intent translates a process's buffered command into a destination tile
// for this tick, returning also whether it performed a real BUFFER sprint.
func intent(s *shardstate.Shard, p *shardstate.Process, rng *rand.Rand) (geometry.Tile, bool) {
	switch p.BufferedVerb {
	case shardstate.VerbMove:
		if p.BufferedArg == 0 || p.BufferedArg == 5 {
			return p.Pos, false
		}
		n := p.Pos.Add(geometry.DigitOffset(p.BufferedArg))
		if geometry.Adjacent(s.Grid, s.Walls, p.Pos, n) {
			return n, false
		}
		return p.Pos, false

	case shardstate.VerbBuffer:
		if p.BufferedArg == 0 || p.BufferedArg == 5 {
			return p.Pos, false
		}
		if s.Tick-p.LastSprintTick < 1 {
			// Cooldown not satisfied: BUFFER downgrades to IDLE.
			return p.Pos, false
		}
		return sprint(s, p.Pos, p.BufferedArg, rng), true

	default:
		return p.Pos, false
	}
}

// sprint executes up to sprintMaxSteps single-tile steps starting in the
// digit direction, taking a random legal turn at any blocked junction and
// stopping outright if no legal step exists at all.
func sprint(s *shardstate.Shard, start geometry.Tile, digit int, rng *rand.Rand) geometry.Tile {
	cur := start
	dir := geometry.DigitOffset(digit)
	for i := 0; i < sprintMaxSteps; i++ {
		next := cur.Add(dir)
		if !geometry.Adjacent(s.Grid, s.Walls, cur, next) {
			legal := geometry.Neighbors(s.Grid, s.Walls, cur)
			if len(legal) == 0 {
				break // blocked-through: stop the sprint where it stands
			}
			next = legal[rng.Intn(len(legal))]
			dir = geometry.Tile{X: next.X - cur.X, Y: next.Y - cur.Y}
		}
		cur = next
	}
	return cur
}

// resolveDestinations applies the collision rules: absolute destination
// collisions are rejected upfront; the remaining single-target movers are
// admitted via a vacated-tile fixpoint, with 2-cycle swaps admitted
// explicitly and any residual (3+-cycle) deadlock resolved to IDLE, since
// cyclic multi-party swaps are left undefined.
func resolveDestinations(
	s *shardstate.Shard,
	origPos map[string]geometry.Tile,
	occupantAt map[geometry.Tile]string,
	dest map[string]geometry.Tile,
) (admitted map[string]bool, collided []string) {
	admitted = make(map[string]bool, len(dest))
	rejected := make(map[string]bool, len(dest))

	movers := make(map[string]geometry.Tile)
	for id, d := range dest {
		if d != origPos[id] {
			movers[id] = d
		}
	}

	byDest := make(map[geometry.Tile][]string)
	for id, d := range movers {
		byDest[d] = append(byDest[d], id)
	}
	for d, ids := range byDest {
		if len(ids) > 1 || d == s.Defragger.Pos {
			for _, id := range ids {
				rejected[id] = true
				collided = append(collided, id)
			}
			delete(movers, ids[0])
			for _, id := range ids {
				delete(movers, id)
			}
		}
	}

	// 2-cycle swaps: admit both members of a mutual position trade.
	handled := make(map[string]bool)
	for id, d := range movers {
		if handled[id] {
			continue
		}
		occID, ok := occupantAt[d]
		if !ok || occID == id {
			continue
		}
		if otherDest, isMover := movers[occID]; isMover && otherDest == origPos[id] {
			admitted[id] = true
			admitted[occID] = true
			handled[id] = true
			handled[occID] = true
		}
	}
	for id := range handled {
		delete(movers, id)
	}

	// Vacated-tile fixpoint for the remainder.
	pending := make(map[string]geometry.Tile, len(movers))
	for id, d := range movers {
		pending[id] = d
	}
	for {
		changed := false
		for id, d := range pending {
			occID, occupied := occupantAt[d]
			switch {
			case !occupied:
				admitted[id] = true
				delete(pending, id)
				changed = true
			case admitted[occID]:
				admitted[id] = true
				delete(pending, id)
				changed = true
			case rejected[occID] || !isPendingOrMover(occID, pending, movers):
				rejected[id] = true
				delete(pending, id)
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	// Anything still pending is an unresolved cycle; IDLE it.
	for id := range pending {
		rejected[id] = true
	}

	return admitted, collided
}

func isPendingOrMover(id string, pending map[string]geometry.Tile, movers map[string]geometry.Tile) bool {
	if _, ok := pending[id]; ok {
		return true
	}
	_, ok := movers[id]
	return ok
}
