// Package watchdog tracks shard liveness across ticks: a run of quiet
// ticks arms a countdown, and the countdown firing grants the defragger a
// one-shot escalation bonus for the following tick.
package watchdog

import "github.com/segfaultgame/engine/internal/shardstate"

const (
	quietTicksToArm = 6
	countdownTicks  = 3
)

// Inputs summarizes the tick's liveness signals, gathered by the
// orchestrator before this tick's quiet/non-quiet test runs. A tick is
// non-quiet if any of these is true.
type Inputs struct {
	Killed                            bool
	BroadcastOccurred                 bool
	NewLOSLockAcquired                bool
	ProcessStartedAdjacentToDefragger bool
}

// Quiet reports whether in is a quiet tick.
func (in Inputs) Quiet() bool {
	return !in.Killed && !in.BroadcastOccurred && !in.NewLOSLockAcquired && !in.ProcessStartedAdjacentToDefragger
}

// Update advances w's state given the PREVIOUS tick's liveness inputs. The
// orchestrator calls this once per tick, during pre-tick bookkeeping,
// before the defragger policy consumes w.PendingBonus — so a fire granted
// here always lands on the tick after the one that closed the countdown.
func Update(w *shardstate.Watchdog, in Inputs) {
	if !in.Quiet() {
		w.QuietTicks = 0
		w.Countdown = 0
		w.Active = false
		return
	}

	w.QuietTicks++
	if !w.Active && w.QuietTicks >= quietTicksToArm {
		w.Active = true
		w.Countdown = countdownTicks
		return
	}

	if w.Active {
		w.Countdown--
		if w.Countdown <= 0 {
			w.PendingBonus++
			w.QuietTicks = 0
			w.Active = false
			w.Countdown = 0
		}
	}
}
