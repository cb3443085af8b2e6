package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/segfaultgame/engine/internal/fabric"
	"github.com/segfaultgame/engine/internal/shardstate"
)

// finalizeShardLocked writes the shard's terminal counters to persistence
// and drops it from the orchestrator's per-shard bookkeeping. Caller holds
// the shard's lock. Run inline at the end of tickShard rather than on an
// independent ticker, so a shard's own Tick/termination/finalize sequence
// stays inside that shard's single-writer guarantee instead of racing a
// separate reaper goroutine against it. Grounded on the shape of the
// teacher's TrustScoreDecayScheduler sweep, narrowed from a periodic
// ticker loop to a post-tick check since shard termination is itself
// tick-driven (quiet-population streak), unlike trust-score decay.
func (sup *Supervisor) finalizeShardLocked(ctx context.Context, shard *shardstate.Shard) {
	if err := sup.store.FinalizeShard(ctx, shard.ID, time.Now(), shard.Tick, shard.Counters.Kills, shard.Counters.Survivals, shard.Counters.Ghosts); err != nil {
		sup.logger.Warn("supervisor: finalize shard failed", "shard_id", shard.ID, "error", err)
	}
	sup.orch.Forget(shard.ID)
	if sup.registry != nil {
		_ = sup.registry.DeleteShard(ctx, fabric.ShardRecord{ShardID: shard.ID, InstanceID: sup.instanceID})
	}
	sup.logger.Info("supervisor: shard finalized", "shard_id", shard.ID, "ticks", shard.Tick, "kills", shard.Counters.Kills, "survivals", shard.Counters.Survivals, "ghosts", shard.Counters.Ghosts)
}

// Shutdown finalizes shardID's persistence counters and publishes a
// terminal replay marker, regardless of whether the shard crossed its own
// quiet-termination threshold on its own.
func (sup *Supervisor) Shutdown(ctx context.Context, shardID string) error {
	sup.mu.RLock()
	shard, lock := sup.shards[shardID], sup.locks[shardID]
	sup.mu.RUnlock()
	if shard == nil {
		return fmt.Errorf("unknown shard: %s", shardID)
	}

	lock.Lock()
	defer lock.Unlock()

	if shard.Terminated {
		return fmt.Errorf("shard already terminated: %s", shardID)
	}

	shard.Terminated = true
	sup.finalizeShardLocked(ctx, shard)
	return nil
}

// Reap drops every shard that has been Terminated (by quiet-population
// streak or an explicit Shutdown) from the supervisor's live map, freeing
// its memory once its persistence write has landed. Safe to call on a
// slow periodic cadence from cmd/engine, separate from the tick loop:
// finalizeShardLocked has already run by the time Terminated is true, so
// this is pure bookkeeping with no further side effects.
func (sup *Supervisor) Reap(ctx context.Context) int {
	sup.mu.Lock()
	defer sup.mu.Unlock()

	reaped := 0
	for id, s := range sup.shards {
		if s.Terminated {
			delete(sup.shards, id)
			delete(sup.locks, id)
			reaped++
		}
	}
	return reaped
}
