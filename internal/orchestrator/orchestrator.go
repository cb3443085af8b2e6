// Package orchestrator drives one shard's per-tick pipeline: bookkeeping,
// movement, gate resolution, drift, the defragger policy, ledger close,
// echo aging, and counter/termination bookkeeping. Spawning (join and
// ghost-transfer placement) and replay/perception emission are owned by
// the engine supervisor, which calls Tick and then acts on its Result.
package orchestrator

import (
	"log/slog"

	"github.com/segfaultgame/engine/internal/defragger"
	"github.com/segfaultgame/engine/internal/drift"
	"github.com/segfaultgame/engine/internal/geometry"
	"github.com/segfaultgame/engine/internal/movement"
	"github.com/segfaultgame/engine/internal/shardstate"
	"github.com/segfaultgame/engine/internal/watchdog"
)

// Config bounds the pipeline's tunable thresholds.
type Config struct {
	MinActiveProcesses    int
	QuietTerminationTicks int
	Drift                 drift.Config
}

// DefaultConfig returns reasonable defaults for a freshly created shard.
func DefaultConfig() Config {
	return Config{
		MinActiveProcesses:    1,
		QuietTerminationTicks: 50,
		Drift:                 drift.DefaultConfig(),
	}
}

// Result summarizes one Tick call for the supervisor: what it needs to
// drive spawning and emission without re-deriving it from shard state.
type Result struct {
	Drift           drift.Result
	Moved           []string
	Collided        []string
	GhostTransfers  []shardstate.GhostTransfer
	ShardTerminated bool
	// ClosedBroadcasts is the broadcast ledger as it stood at this tick's
	// ledger-close step, before Tick clears s.Broadcasts for the next
	// window. The replay recorder reads it to fill a snapshot's
	// "broadcasts this tick" field, since by the time Tick returns the
	// shard's own ledger is already empty.
	ClosedBroadcasts []shardstate.BroadcastEntry
	// ClosedSayEvents mirrors ClosedBroadcasts for local SAY messages.
	ClosedSayEvents []shardstate.SayEntry
}

// Orchestrator holds the per-shard state that must persist across Tick
// calls but does not belong in the replayed shard snapshot: each shard's
// chosen defragger policy and the watchdog liveness inputs observed
// during its most recently completed tick.
type Orchestrator struct {
	cfg        Config
	policies   map[string]defragger.Policy
	lastInputs map[string]watchdog.Inputs
}

// New builds an Orchestrator. Callers register a shard's policy via
// RegisterShard at shard-creation time; DefaultPolicy is used for any
// shard that was never registered.
func New(cfg Config) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		policies:   make(map[string]defragger.Policy),
		lastInputs: make(map[string]watchdog.Inputs),
	}
}

// RegisterShard assigns a defragger policy to a shard. Multiple policies
// may coexist across shards; the supervisor picks one at creation.
func (o *Orchestrator) RegisterShard(shardID string, policy defragger.Policy) {
	o.policies[shardID] = policy
}

// Forget drops an orchestrator's per-shard bookkeeping, called once a
// shard has been finalized and will never tick again.
func (o *Orchestrator) Forget(shardID string) {
	delete(o.policies, shardID)
	delete(o.lastInputs, shardID)
}

func (o *Orchestrator) policyFor(shardID string) defragger.Policy {
	if p, ok := o.policies[shardID]; ok {
		return p
	}
	p := defragger.NewDefaultPolicy()
	o.policies[shardID] = p
	return p
}

// Tick advances s by exactly one tick, mutating it in place.
func (o *Orchestrator) Tick(s *shardstate.Shard, logger *slog.Logger) Result {
	s.Events.Reset()
	s.Tick++

	watchdog.Update(&s.Watchdog, o.lastInputs[s.ID])

	rng := shardstate.TickRNG(s.Seed, s.Tick)

	adjacentAtStart := anyLiveProcessAdjacentToDefragger(s)
	locksBefore := countLOSLocks(s)

	moveResult := movement.Resolve(s, rng)
	resolveGates(s, moveResult.Moved)

	driftResult := drift.Apply(s, rng, o.cfg.Drift, logger)

	o.policyFor(s.ID).Run(s, rng, logger)

	o.lastInputs[s.ID] = watchdog.Inputs{
		Killed:                            len(s.Events.Killed) > 0,
		BroadcastOccurred:                 len(s.Broadcasts) > 0,
		NewLOSLockAcquired:                countLOSLocks(s) > locksBefore,
		ProcessStartedAdjacentToDefragger: adjacentAtStart,
	}
	closedBroadcasts := s.Broadcasts
	s.Broadcasts = nil
	closedSayEvents := s.SayEvents
	s.SayEvents = nil

	ageEchoes(s)

	s.Counters.Kills += int64(len(s.Events.Killed))

	terminated := o.testTermination(s)

	return Result{
		Drift:            driftResult,
		Moved:            moveResult.Moved,
		Collided:         moveResult.Collided,
		GhostTransfers:   drainGhostTransfers(s),
		ShardTerminated:  terminated,
		ClosedBroadcasts: closedBroadcasts,
		ClosedSayEvents:  closedSayEvents,
	}
}

// resolveGates settles any mover that ended its step on a gate tile:
// stable survives and leaves the shard; ghost destroys the process here
// and queues a respawn request for the supervisor to place elsewhere.
func resolveGates(s *shardstate.Shard, movedIDs []string) {
	for _, id := range movedIDs {
		p, ok := s.Processes[id]
		if !ok || !p.Alive {
			continue
		}
		for _, g := range s.Gates {
			if g.Pos != p.Pos {
				continue
			}
			switch g.Type {
			case shardstate.GateStable:
				s.Events.Survived = append(s.Events.Survived, id)
				s.Counters.Survivals++
				delete(s.Processes, id)
			case shardstate.GateGhost:
				s.Events.Ghosted = append(s.Events.Ghosted, id)
				s.Counters.Ghosts++
				s.PendingGhostTransfers = append(s.PendingGhostTransfers, shardstate.GhostTransfer{
					CallSign: p.CallSign,
					FromTick: s.Tick,
				})
				delete(s.Processes, id)
			}
			break
		}
	}
}

func drainGhostTransfers(s *shardstate.Shard) []shardstate.GhostTransfer {
	out := s.PendingGhostTransfers
	s.PendingGhostTransfers = nil
	return out
}

// ageEchoes trims echoes past their retention window and appends fresh
// ones for this tick's kills, read from each victim's last known position.
func ageEchoes(s *shardstate.Shard) {
	kept := make([]shardstate.Echo, 0, len(s.Echoes))
	for _, e := range s.Echoes {
		if s.Tick-e.TickDied < shardstate.EchoRetentionTicks {
			kept = append(kept, e)
		}
	}
	for _, id := range s.Events.Killed {
		if p, ok := s.Processes[id]; ok {
			kept = append(kept, shardstate.Echo{Tile: p.Pos, TickDied: s.Tick})
		}
	}
	s.Echoes = kept
}

func countLOSLocks(s *shardstate.Shard) int {
	n := 0
	for _, p := range s.Processes {
		if p.Alive && p.LOSLock {
			n++
		}
	}
	return n
}

func anyLiveProcessAdjacentToDefragger(s *shardstate.Shard) bool {
	for _, p := range s.Processes {
		if p.Alive && geometry.Adjacent(s.Grid, s.Walls, p.Pos, s.Defragger.Pos) {
			return true
		}
	}
	return false
}

// testTermination updates the shard's quiet-population streak and flips
// Terminated once it crosses the configured threshold.
func (o *Orchestrator) testTermination(s *shardstate.Shard) bool {
	if len(s.LiveProcesses()) < o.cfg.MinActiveProcesses {
		s.QuietPopulationStreak++
	} else {
		s.QuietPopulationStreak = 0
	}
	if s.QuietPopulationStreak >= o.cfg.QuietTerminationTicks {
		s.Terminated = true
	}
	return s.Terminated
}
