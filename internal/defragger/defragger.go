// Package defragger implements the shard predator's target-selection and
// movement policy: a small capability surface (SelectTarget, Step) so the
// engine can swap in alternate policies per shard without the orchestrator
// caring which one is in play.
package defragger

import (
	"log/slog"
	"math/rand"
	"sort"

	"github.com/segfaultgame/engine/internal/geometry"
	"github.com/segfaultgame/engine/internal/shardstate"
)

// Policy is the fixed capability surface a shard's tick pipeline drives.
// Multiple implementations may coexist; the supervisor picks one per shard
// at creation time.
type Policy interface {
	// Run selects this tick's target and executes the resulting movement,
	// mutating the shard's defragger, its processes, and the tick-event
	// accumulator (on a kill). It never mutates walls or gates.
	Run(s *shardstate.Shard, rng *rand.Rand, logger *slog.Logger)
}

// DefaultPolicy is the standard broadcast > LOS > retained-lock > patrol
// selection chain with Fibonacci-ladder escalation. It keeps a small
// per-tile visit tally to bias its patrol walk toward under-visited
// ground; that tally is policy-local scratch state, not part of any
// persisted shard snapshot.
type DefaultPolicy struct {
	visited map[geometry.Tile]int
}

// NewDefaultPolicy returns a policy with an empty patrol-visit tally.
func NewDefaultPolicy() *DefaultPolicy {
	return &DefaultPolicy{visited: make(map[geometry.Tile]int)}
}

func (pol *DefaultPolicy) Run(s *shardstate.Shard, rng *rand.Rand, logger *slog.Logger) {
	pol.selectTarget(s)
	pol.step(s, rng, logger)
}

// selectTarget applies the priority chain against the current (post-drift)
// map. It only ever changes Defragger.TargetID/Reason and, on a fresh LOS
// acquisition, the target process's LOSLock.
func (pol *DefaultPolicy) selectTarget(s *shardstate.Shard) {
	if len(s.Broadcasts) > 0 {
		best := s.Broadcasts[0]
		for _, b := range s.Broadcasts[1:] {
			if b.Timestamp > best.Timestamp || (b.Timestamp == best.Timestamp && b.ProcessID < best.ProcessID) {
				best = b
			}
		}
		s.Defragger.TargetID = best.ProcessID
		s.Defragger.Reason = shardstate.ReasonBroadcast
		return
	}

	var visible []*shardstate.Process
	for _, p := range s.Processes {
		if p.Alive && geometry.LOS(s.Grid, s.Walls, s.Defragger.Pos, p.Pos) {
			visible = append(visible, p)
		}
	}
	if len(visible) > 0 {
		sort.Slice(visible, func(i, j int) bool {
			di, _ := geometry.BFSDistance(s.Grid, s.Walls, s.Defragger.Pos, visible[i].Pos)
			dj, _ := geometry.BFSDistance(s.Grid, s.Walls, s.Defragger.Pos, visible[j].Pos)
			if di != dj {
				return di < dj
			}
			return visible[i].ID < visible[j].ID
		})
		target := visible[0]
		s.Defragger.TargetID = target.ID
		s.Defragger.Reason = shardstate.ReasonLOS
		target.LOSLock = true
		return
	}

	// Defensive fallback: a process with a retained LOS lock should already
	// be in visible above, so this branch is not expected to trigger. Kept
	// in case a future visible-selection change stops guaranteeing that.
	if s.Defragger.TargetID != "" {
		if prev, ok := s.Processes[s.Defragger.TargetID]; ok && prev.Alive && prev.LOSLock &&
			geometry.LOS(s.Grid, s.Walls, s.Defragger.Pos, prev.Pos) {
			s.Defragger.Reason = shardstate.ReasonLOS
			return
		}
	}

	s.Defragger.TargetID = ""
	s.Defragger.Reason = shardstate.ReasonPatrol
}

// step computes this tick's step budget and walks it, halting immediately
// on a kill (no multi-kill mowing) or on running out of legal steps.
func (pol *DefaultPolicy) step(s *shardstate.Shard, rng *rand.Rand, logger *slog.Logger) {
	reason := s.Defragger.Reason
	bonus := 0

	if reason == shardstate.ReasonBroadcast {
		count := 0
		for _, b := range s.Broadcasts {
			if b.ProcessID == s.Defragger.TargetID {
				count++
			}
		}
		bonus = fibonacciLadder(count)
	}

	if s.Watchdog.PendingBonus > 0 && reason != shardstate.ReasonBroadcast {
		reason = shardstate.ReasonWatchdog
		bonus = fibonacciLadder(s.Watchdog.PendingBonus)
		s.Watchdog.PendingBonus = 0
	}
	s.Defragger.Reason = reason
	s.Defragger.BonusSteps = bonus

	total := 1 + bonus
	for i := 0; i < total; i++ {
		next, ok := pol.nextStep(s, rng)
		if !ok {
			logger.Warn("defragger has no legal step", "shard", s.ID, "tick", s.Tick)
			return
		}
		if victim, found := s.OccupantAt(next); found {
			victim.Alive = false
			s.Events.Killed = append(s.Events.Killed, victim.ID)
			s.Defragger.Pos = next
			return
		}
		s.Defragger.Pos = next
		pol.visited[next]++
	}
}

// nextStep returns the single tile the defragger moves to this step: the
// BFS shortest step toward its live target, or a visit-biased random walk
// under patrol.
func (pol *DefaultPolicy) nextStep(s *shardstate.Shard, rng *rand.Rand) (geometry.Tile, bool) {
	if s.Defragger.TargetID != "" {
		if target, ok := s.Processes[s.Defragger.TargetID]; ok && target.Alive {
			return geometry.ShortestStep(s.Grid, s.Walls, s.Defragger.Pos, target.Pos)
		}
	}
	return pol.patrolStep(s, rng)
}

// patrolStep picks a legal neighbor weighted toward the least-visited
// tiles, favoring exploration without ever excluding a legal move outright.
func (pol *DefaultPolicy) patrolStep(s *shardstate.Shard, rng *rand.Rand) (geometry.Tile, bool) {
	neighbors := geometry.Neighbors(s.Grid, s.Walls, s.Defragger.Pos)
	if len(neighbors) == 0 {
		return geometry.Tile{}, false
	}
	weights := make([]float64, len(neighbors))
	total := 0.0
	for i, n := range neighbors {
		weights[i] = 1.0 / float64(1+pol.visited[n])
		total += weights[i]
	}
	r := rng.Float64() * total
	for i, w := range weights {
		r -= w
		if r <= 0 {
			return neighbors[i], true
		}
	}
	return neighbors[len(neighbors)-1], true
}

// fibonacciLadder implements the {1,3,5,8,13,...} escalation ladder,
// 1-indexed; index <= 0 has no bonus. Terms beyond the fifth continue by
// the standard two-term Fibonacci recurrence.
func fibonacciLadder(index int) int {
	seeds := []int{1, 3, 5, 8, 13}
	if index <= 0 {
		return 0
	}
	if index <= len(seeds) {
		return seeds[index-1]
	}
	a, b := seeds[len(seeds)-2], seeds[len(seeds)-1]
	for i := len(seeds) + 1; i <= index; i++ {
		a, b = b, a+b
	}
	return b
}
