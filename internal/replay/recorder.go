package replay

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segfaultgame/engine/internal/fabric"
	"github.com/segfaultgame/engine/internal/orchestrator"
	"github.com/segfaultgame/engine/internal/persistence"
	"github.com/segfaultgame/engine/internal/shardstate"
)

// tickJob is one queued snapshot write.
type tickJob struct {
	shardID string
	tick    int64
	payload []byte
}

// Recorder dispatches per-tick snapshots to the persistence collaborator
// through a bounded, fire-and-forget work queue: the tick pipeline enqueues
// and moves on, never waiting on the write. On overflow the oldest queued
// job is dropped to make room for the newest, and a counter tracks how
// many writes were lost. Also fans each snapshot out to the spectator hub,
// when one is wired in, for the live spectator stream.
type Recorder struct {
	store   persistence.Store
	hub     *fabric.Hub
	queue   chan tickJob
	dropped atomic.Int64
	logger  *slog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewRecorder builds a Recorder with the given queue capacity and worker
// count. hub may be nil when no spectator fan-out is configured.
func NewRecorder(store persistence.Store, hub *fabric.Hub, capacity, workers int, logger *slog.Logger) *Recorder {
	if capacity <= 0 {
		capacity = 1000
	}
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recorder{
		store:  store,
		hub:    hub,
		queue:  make(chan tickJob, capacity),
		logger: logger,
		stopCh: make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}
	return r
}

func (r *Recorder) worker() {
	defer r.wg.Done()
	for {
		select {
		case job := <-r.queue:
			r.deliver(job)
		case <-r.stopCh:
			return
		}
	}
}

func (r *Recorder) deliver(job tickJob) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.store.RecordTick(ctx, job.shardID, job.tick, job.payload); err != nil {
		r.logger.Warn("replay: persistence write failed", "shard_id", job.shardID, "tick", job.tick, "error", err)
	}

	if r.hub != nil {
		if _, err := r.hub.BroadcastToShard(ctx, job.shardID, job.payload); err != nil {
			r.logger.Warn("replay: spectator broadcast failed", "shard_id", job.shardID, "tick", job.tick, "error", err)
		}
	}
}

// Record serializes shard's committed state into a snapshot and enqueues
// it for delivery. Never blocks the caller: on a full queue it drops the
// oldest pending job to admit the newest.
func (r *Recorder) Record(shard *shardstate.Shard, result orchestrator.Result) {
	snap := BuildSnapshot(shard, result.ClosedBroadcasts, result.ClosedSayEvents)
	payload, err := json.Marshal(snap)
	if err != nil {
		r.logger.Warn("replay: snapshot marshal failed", "shard_id", shard.ID, "tick", shard.Tick, "error", err)
		return
	}

	job := tickJob{shardID: shard.ID, tick: shard.Tick, payload: payload}
	select {
	case r.queue <- job:
		return
	default:
	}

	select {
	case <-r.queue:
		r.dropped.Add(1)
	default:
	}
	select {
	case r.queue <- job:
	default:
		r.dropped.Add(1)
	}
}

// DroppedCount reports how many snapshots have been dropped for queue
// overflow since the Recorder was created.
func (r *Recorder) DroppedCount() int64 {
	return r.dropped.Load()
}

// Stop drains no further jobs and shuts down every worker goroutine.
func (r *Recorder) Stop() {
	close(r.stopCh)
	r.wg.Wait()
}
