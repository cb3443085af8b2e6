// Package shardstate holds the plain-data model of a single shard: tiles, walls, gates, processes, the
// defragger, echoes, and the per-tick event accumulator. Nothing in this
// package runs the simulation — it is deliberately inert, the way the
// teacher codebase keeps wire-format structs (internal/core, the database
// row types) separate from the services that mutate them. The orchestrator,
// movement resolver, drift engine, and defragger policy packages operate on
// these types but live elsewhere.
package shardstate

import (
	"github.com/segfaultgame/engine/internal/geometry"
)

// Verb is a process's buffered command.
type Verb int

const (
	VerbIdle Verb = iota
	VerbMove
	VerbBuffer
)

// GateType distinguishes a shard's single stable gate from its one-or-more
// ghost gates.
type GateType int

const (
	GateStable GateType = iota
	GateGhost
)

// Gate is a tile-valued exit.
type Gate struct {
	Pos  geometry.Tile
	Type GateType
}

// Process is a single participant in a shard.
type Process struct {
	ID             string // ephemeral, unique within the shard
	CallSign       string // persistent, opaque key into the external identity store
	Pos            geometry.Tile
	Alive          bool
	BufferedVerb   Verb
	BufferedArg    int
	LastSprintTick int64
	LOSLock        bool
}

// TargetReason explains why the defragger is chasing (or not chasing) its
// current target.
type TargetReason int

const (
	ReasonPatrol TargetReason = iota
	ReasonBroadcast
	ReasonLOS
	ReasonWatchdog
)

func (r TargetReason) String() string {
	switch r {
	case ReasonBroadcast:
		return "broadcast"
	case ReasonLOS:
		return "los"
	case ReasonWatchdog:
		return "watchdog"
	default:
		return "patrol"
	}
}

// Defragger is the shard's single predator entity.
type Defragger struct {
	Pos        geometry.Tile
	TargetID   string // empty when reason is patrol
	Reason     TargetReason
	BonusSteps int // movement-bonus-step to apply on the next move
}

// Watchdog tracks shard liveness: quiet-tick counting, arming, and the
// countdown that fires a one-shot defragger bonus.
type Watchdog struct {
	QuietTicks   int
	Countdown    int // 0 when inactive
	Active       bool
	PendingBonus int
}

// BroadcastEntry is one ledger entry: a process-id, a server-monotonic
// timestamp, and the message text.
type BroadcastEntry struct {
	ProcessID string
	Timestamp int64 // monotonic nanoseconds, strictly increasing within a shard
	Message   string
}

// SayEntry is a local, non-broadcast chat message (SAY).
type SayEntry struct {
	ProcessID string
	Timestamp int64
	Message   string
}

// Echo marks a tile where a process was recently terminated.
type Echo struct {
	Tile      geometry.Tile
	TickDied  int64
}

// EchoRetentionTicks is the fixed retention window for echoes.
const EchoRetentionTicks = 3

// TickEvents accumulates this tick's outcomes; reset at the start of every
// tick pipeline run.
type TickEvents struct {
	Killed   []string
	Survived []string
	Ghosted  []string
	Spawned  []string
}

func (e *TickEvents) Reset() {
	e.Killed = nil
	e.Survived = nil
	e.Ghosted = nil
	e.Spawned = nil
}

// Counters are the shard's cumulative, monotonically-increasing totals.
type Counters struct {
	Joined    int64
	Kills     int64
	Survivals int64
	Ghosts    int64
}

// GhostTransfer is a pending cross-shard respawn request produced when a
// process resolves a ghost gate; the supervisor drains these after each
// tick and places the carried call-sign into a (possibly different) shard
// with a freshly minted process-id.
type GhostTransfer struct {
	CallSign string
	FromTick int64
}

// Shard is the full mutable state of one shard. Orchestrator.Tick mutates
// it during a tick; between ticks the supervisor also writes to it under
// the shard's lock (Join and ghost placement add processes, Submit sets
// buffered verbs and appends to the ledgers).
type Shard struct {
	ID   string
	Tick int64
	Seed int64

	Grid  geometry.Grid
	Walls *geometry.WallSet
	Gates []Gate

	Processes map[string]*Process // keyed by process-id
	Defragger Defragger
	Watchdog  Watchdog

	Broadcasts []BroadcastEntry
	SayEvents  []SayEntry
	Echoes     []Echo

	Events TickEvents

	Counters Counters

	// PendingGhostTransfers accumulates ghost-gate resolutions for this tick,
	// drained by the supervisor after the tick pipeline returns.
	PendingGhostTransfers []GhostTransfer

	// QuietPopulationStreak counts consecutive ticks this shard ran with
	// fewer than the configured minimum active processes; the supervisor
	// terminates the shard once it crosses the configured threshold.
	QuietPopulationStreak int

	Terminated bool

	// PerProcessEvents holds queued perception events per process-id,
	// drained into each process's next perception payload.
	PerProcessEvents map[string][]PerceptionEvent
}

// PerceptionEventKind classifies a drained perception event.
type PerceptionEventKind string

const (
	EventSystem       PerceptionEventKind = "system"
	EventBroadcast    PerceptionEventKind = "broadcast"
	EventStaticBurst  PerceptionEventKind = "static-burst"
	EventNoise        PerceptionEventKind = "noise"
	EventLocalChat    PerceptionEventKind = "local-chat"
)

// PerceptionEvent is one drained event delivered to a process.
type PerceptionEvent struct {
	Kind    PerceptionEventKind
	Tick    int64
	Message string
}

// NewShard builds an empty shard ready for spawns. Callers populate Grid,
// Walls, and Gates before admitting processes.
func NewShard(id string, seed int64, grid geometry.Grid, walls *geometry.WallSet, gates []Gate) *Shard {
	return &Shard{
		ID:               id,
		Seed:             seed,
		Grid:             grid,
		Walls:            walls,
		Gates:            gates,
		Processes:        make(map[string]*Process),
		PerProcessEvents: make(map[string][]PerceptionEvent),
	}
}

// LiveProcesses returns all currently-alive processes.
func (s *Shard) LiveProcesses() []*Process {
	out := make([]*Process, 0, len(s.Processes))
	for _, p := range s.Processes {
		if p.Alive {
			out = append(out, p)
		}
	}
	return out
}

// StableGate returns the shard's one stable gate.
func (s *Shard) StableGate() (Gate, bool) {
	for _, g := range s.Gates {
		if g.Type == GateStable {
			return g, true
		}
	}
	return Gate{}, false
}

// OccupantAt returns the live process occupying t, if any.
func (s *Shard) OccupantAt(t geometry.Tile) (*Process, bool) {
	for _, p := range s.Processes {
		if p.Alive && p.Pos == t {
			return p, true
		}
	}
	return nil, false
}

// QueueEvent appends a perception event to a single process's drain queue.
func (s *Shard) QueueEvent(processID string, ev PerceptionEvent) {
	s.PerProcessEvents[processID] = append(s.PerProcessEvents[processID], ev)
}

// QueueEventAll appends a perception event to every live process's drain
// queue (used for global static-burst-on-death and similar broadcasts).
func (s *Shard) QueueEventAll(ev PerceptionEvent) {
	for id, p := range s.Processes {
		if p.Alive {
			s.PerProcessEvents[id] = append(s.PerProcessEvents[id], ev)
		}
	}
}

// DrainEvents removes and returns the queued perception events for a
// process.
func (s *Shard) DrainEvents(processID string) []PerceptionEvent {
	ev := s.PerProcessEvents[processID]
	delete(s.PerProcessEvents, processID)
	return ev
}
