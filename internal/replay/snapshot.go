// Package replay builds and dispatches the per-tick replay snapshot: the
// append-only, bit-exact record of engine output consumed by the
// persistence collaborator and streamed to spectators. Grounded on the
// teacher's internal/state/snapshot_service.go pattern of capturing a
// hashable point-in-time state, generalized from one-shot pre/post capture
// to a continuous per-tick feed.
package replay

import (
	"sort"

	"github.com/segfaultgame/engine/internal/geometry"
	"github.com/segfaultgame/engine/internal/shardstate"
)

// Snapshot is the wire-format replay record for one shard at one tick.
// Field names are a fixed bit-exact contract with the persistence
// collaborator; do not rename without a migration.
type Snapshot struct {
	ShardID   string          `json:"shard_id"`
	Tick      int64           `json:"tick"`
	GridSize  int             `json:"grid_size"`
	Walls     [][4]int        `json:"walls"`
	Gates     []GateRecord    `json:"gates"`
	Processes []ProcessRecord `json:"processes"`
	Defragger DefraggerRecord `json:"defragger"`
	Watchdog  WatchdogRecord  `json:"watchdog"`
	Broadcasts []LedgerEntry  `json:"broadcasts"`
	SayEvents  []SayRecord    `json:"say_events"`
	EchoTiles  [][2]int       `json:"echo_tiles"`
	Events     EventsRecord   `json:"events"`
}

type GateRecord struct {
	Pos  [2]int `json:"pos"`
	Type string `json:"type"`
}

type ProcessRecord struct {
	ID             string `json:"id"`
	CallSign       string `json:"call_sign"`
	Pos            [2]int `json:"pos"`
	Alive          bool   `json:"alive"`
	BufferedVerb   string `json:"buffered_verb"`
	BufferedArg    int    `json:"buffered_arg"`
	LOSLock        bool   `json:"los_lock"`
	LastSprintTick int64  `json:"last_sprint_tick"`
}

type DefraggerRecord struct {
	Pos          [2]int `json:"pos"`
	TargetID     string `json:"target_id"`
	TargetReason string `json:"target_reason"`
}

type WatchdogRecord struct {
	QuietTicks   int  `json:"quiet_ticks"`
	Countdown    int  `json:"countdown"`
	Active       bool `json:"active"`
	PendingBonus int  `json:"pending_bonus"`
}

type LedgerEntry struct {
	ProcessID string `json:"process_id"`
	Timestamp int64  `json:"timestamp"`
	Message   string `json:"message"`
}

type SayRecord struct {
	ProcessID  string   `json:"process_id"`
	Timestamp  int64    `json:"timestamp"`
	Message    string   `json:"message"`
	Recipients []string `json:"recipients"`
}

type EventsRecord struct {
	Killed   []string `json:"killed"`
	Survived []string `json:"survived"`
	Ghosted  []string `json:"ghosted"`
	Spawned  []string `json:"spawned"`
}

func verbString(v shardstate.Verb) string {
	switch v {
	case shardstate.VerbMove:
		return "MOVE"
	case shardstate.VerbBuffer:
		return "BUFFER"
	default:
		return "IDLE"
	}
}

func edgeToWire(e geometry.Edge) [4]int {
	return [4]int{e.A.X, e.A.Y, e.B.X, e.B.Y}
}

func tileToWire(t geometry.Tile) [2]int {
	return [2]int{t.X, t.Y}
}

// BuildSnapshot projects s's current, just-committed state into the wire
// snapshot. closedBroadcasts is the ledger orchestrator.Result carried out
// of Tick — by the time Tick returns, s.Broadcasts itself has already been
// cleared for the next tick window. Recipients on each SayRecord are the
// sender's adjacency cluster at the moment the snapshot is built, matching
// who actually received the local-chat delivery.
func BuildSnapshot(s *shardstate.Shard, closedBroadcasts []shardstate.BroadcastEntry, closedSayEvents []shardstate.SayEntry) Snapshot {
	snap := Snapshot{
		ShardID:  s.ID,
		Tick:     s.Tick,
		GridSize: s.Grid.Size,
		Events: EventsRecord{
			Killed:   s.Events.Killed,
			Survived: s.Events.Survived,
			Ghosted:  s.Events.Ghosted,
			Spawned:  s.Events.Spawned,
		},
	}

	for _, e := range s.Walls.Edges() {
		snap.Walls = append(snap.Walls, edgeToWire(e))
	}

	for _, g := range s.Gates {
		t := "stable"
		if g.Type == shardstate.GateGhost {
			t = "ghost"
		}
		snap.Gates = append(snap.Gates, GateRecord{Pos: tileToWire(g.Pos), Type: t})
	}

	for _, p := range s.Processes {
		snap.Processes = append(snap.Processes, ProcessRecord{
			ID:             p.ID,
			CallSign:       p.CallSign,
			Pos:            tileToWire(p.Pos),
			Alive:          p.Alive,
			BufferedVerb:   verbString(p.BufferedVerb),
			BufferedArg:    p.BufferedArg,
			LOSLock:        p.LOSLock,
			LastSprintTick: p.LastSprintTick,
		})
	}
	// s.Processes is a map; its iteration order is randomized per run. Sort
	// by ID so two snapshots of identical state always produce the same
	// bytes and the same HashSnapshot digest.
	sort.Slice(snap.Processes, func(i, j int) bool {
		return snap.Processes[i].ID < snap.Processes[j].ID
	})

	snap.Defragger = DefraggerRecord{
		Pos:          tileToWire(s.Defragger.Pos),
		TargetID:     s.Defragger.TargetID,
		TargetReason: s.Defragger.Reason.String(),
	}

	snap.Watchdog = WatchdogRecord{
		QuietTicks:   s.Watchdog.QuietTicks,
		Countdown:    s.Watchdog.Countdown,
		Active:       s.Watchdog.Active,
		PendingBonus: s.Watchdog.PendingBonus,
	}

	for _, b := range closedBroadcasts {
		snap.Broadcasts = append(snap.Broadcasts, LedgerEntry{ProcessID: b.ProcessID, Timestamp: b.Timestamp, Message: b.Message})
	}

	for _, say := range closedSayEvents {
		var recipients []string
		if sender, ok := s.Processes[say.ProcessID]; ok {
			for _, p := range shardstate.AdjacencyCluster(s, sender) {
				if p.ID != sender.ID {
					recipients = append(recipients, p.ID)
				}
			}
		}
		snap.SayEvents = append(snap.SayEvents, SayRecord{
			ProcessID:  say.ProcessID,
			Timestamp:  say.Timestamp,
			Message:    say.Message,
			Recipients: recipients,
		})
	}

	for _, e := range s.Echoes {
		snap.EchoTiles = append(snap.EchoTiles, tileToWire(e.Tile))
	}

	return snap
}
