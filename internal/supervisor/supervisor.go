// Package supervisor owns shard lifecycle and the external command
// intake: join, submit, perceive, tick-all, and shutdown. It is the only
// caller of orchestrator.Tick, the only issuer of session tokens, and the
// only place shards are created, placed under their population cap, and
// reaped once quiet for too long.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/segfaultgame/engine/internal/config"
	"github.com/segfaultgame/engine/internal/defragger"
	"github.com/segfaultgame/engine/internal/fabric"
	"github.com/segfaultgame/engine/internal/orchestrator"
	"github.com/segfaultgame/engine/internal/perception"
	"github.com/segfaultgame/engine/internal/persistence"
	"github.com/segfaultgame/engine/internal/replay"
	"github.com/segfaultgame/engine/internal/security"
	"github.com/segfaultgame/engine/internal/shardstate"
	"github.com/segfaultgame/engine/internal/telemetry"
)

// JoinResult is what join(call-sign) hands back to the caller.
type JoinResult struct {
	ShardID   string
	ProcessID string
	Token     *security.SessionToken
}

// Supervisor coordinates every live shard's tick pipeline and the
// external join/submit/perceive/shutdown surface. Each shard is a
// single-writer execution context; Supervisor serializes access to a
// given shard with its own per-shard mutex while tick-all fans out across
// shards in parallel.
type Supervisor struct {
	cfg config.ShardConfig

	mu      sync.RWMutex
	shards  map[string]*shardstate.Shard
	locks   map[string]*sync.Mutex
	seedSeq int64

	orch       *orchestrator.Orchestrator
	broker     *security.Broker
	store      persistence.Store
	recorder   *replay.Recorder
	registry   *fabric.RedisShardRegistry // optional, nil in single-instance mode
	instanceID string
	metrics    *telemetry.Metrics // optional, nil disables metrics recording

	logger *slog.Logger
}

// Config bundles the collaborators a Supervisor needs at construction.
type Config struct {
	Shard      config.ShardConfig
	Broker     *security.Broker
	Store      persistence.Store
	Recorder   *replay.Recorder
	Registry   *fabric.RedisShardRegistry
	Metrics    *telemetry.Metrics
	InstanceID string
	Logger     *slog.Logger
}

// New builds a Supervisor with no shards; shards are created lazily by
// Join as population demands them.
func New(cfg Config) *Supervisor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		cfg:        cfg.Shard,
		shards:     make(map[string]*shardstate.Shard),
		locks:      make(map[string]*sync.Mutex),
		orch:       orchestrator.New(orchestrator.Config{MinActiveProcesses: cfg.Shard.MinActiveProcesses, QuietTerminationTicks: cfg.Shard.QuietTerminationTicks}),
		broker:     cfg.Broker,
		store:      cfg.Store,
		recorder:   cfg.Recorder,
		registry:   cfg.Registry,
		instanceID: cfg.InstanceID,
		metrics:    cfg.Metrics,
		logger:     logger,
	}
}

// Join picks or creates a shard under its population cap, places callSign
// on a random walkable tile not occupied and not adjacent to the
// defragger, and issues a session token for the new process.
func (sup *Supervisor) Join(ctx context.Context, callSign string) (JoinResult, error) {
	sup.mu.Lock()
	shard, shardLock, created := sup.shardUnderCapLocked()
	sup.mu.Unlock()

	if created {
		if err := sup.store.RegisterShard(ctx, shard.ID, time.Now()); err != nil {
			sup.logger.Warn("supervisor: register shard failed", "shard_id", shard.ID, "error", err)
		}
		sup.orch.RegisterShard(shard.ID, defragger.NewDefaultPolicy())
	}

	shardLock.Lock()
	defer shardLock.Unlock()

	processID := uuid.NewString()
	rng := rand.New(rand.NewSource(time.Now().UnixNano() ^ int64(len(shard.Processes))))
	tile, ok := pickSpawnTile(shard, rng)
	if !ok {
		return JoinResult{}, fmt.Errorf("shard %s has no open spawn tile", shard.ID)
	}

	shard.Processes[processID] = &shardstate.Process{
		ID:       processID,
		CallSign: callSign,
		Pos:      tile,
		Alive:    true,
	}
	shard.Events.Spawned = append(shard.Events.Spawned, processID)
	shard.Counters.Joined++

	token, err := sup.broker.IssueSession(shard.ID, processID)
	if err != nil {
		return JoinResult{}, fmt.Errorf("issue session: %w", err)
	}

	sup.maybeSaveShardRecord(ctx, shard)

	return JoinResult{ShardID: shard.ID, ProcessID: processID, Token: token}, nil
}

// shardUnderCapLocked returns a shard with room for one more process,
// creating a new one if every existing shard is at its population cap.
// Caller holds sup.mu for the duration only of this lookup/creation; the
// returned shard's own lock must be acquired separately before mutating it.
func (sup *Supervisor) shardUnderCapLocked() (*shardstate.Shard, *sync.Mutex, bool) {
	for id, s := range sup.shards {
		if !s.Terminated && len(s.Processes) < sup.cfg.PopulationCap {
			return s, sup.locks[id], false
		}
	}

	sup.seedSeq++
	id := fmt.Sprintf("shard-%d", sup.seedSeq)
	shard := GenerateShard(id, sup.seedSeq, sup.cfg)
	sup.shards[id] = shard
	sup.locks[id] = &sync.Mutex{}
	return shard, sup.locks[id], true
}

// Submit validates tokenStr, locates the shard and process it names, and
// either writes the command to the process's buffered-command slot
// (MOVE/BUFFER/IDLE) or appends it to the shard's ledger immediately
// (BROADCAST/SAY), per the spec's distinction between buffered movement
// intent and real-time chat.
func (sup *Supervisor) Submit(ctx context.Context, tokenStr string, cmd Command) error {
	claims, err := sup.broker.VerifySession(tokenStr)
	if err != nil {
		return fmt.Errorf("invalid session: %w", err)
	}

	sup.mu.RLock()
	shard, lock := sup.shards[claims.ShardID], sup.locks[claims.ShardID]
	sup.mu.RUnlock()
	if shard == nil {
		return fmt.Errorf("unknown shard: %s", claims.ShardID)
	}

	lock.Lock()
	defer lock.Unlock()

	p, ok := shard.Processes[claims.ProcessID]
	if !ok || !p.Alive {
		return fmt.Errorf("unknown or dead process: %s", claims.ProcessID)
	}

	switch cmd.Verb {
	case VerbBroadcast:
		shard.Broadcasts = append(shard.Broadcasts, shardstate.BroadcastEntry{
			ProcessID: p.ID,
			Timestamp: sup.nextLedgerTimestamp(shard),
			Message:   cmd.Text,
		})
		shard.QueueEventAll(shardstate.PerceptionEvent{Kind: shardstate.EventBroadcast, Tick: shard.Tick, Message: cmd.Text})
	case VerbSay:
		entry := shardstate.SayEntry{
			ProcessID: p.ID,
			Timestamp: sup.nextLedgerTimestamp(shard),
			Message:   cmd.Text,
		}
		shard.SayEvents = append(shard.SayEvents, entry)
		for _, recipient := range shardstate.AdjacencyCluster(shard, p) {
			if recipient.ID == p.ID {
				continue
			}
			shard.QueueEvent(recipient.ID, shardstate.PerceptionEvent{Kind: shardstate.EventLocalChat, Tick: shard.Tick, Message: cmd.Text})
		}
	default:
		verb, arg := cmd.toBufferedVerb()
		p.BufferedVerb = verb
		p.BufferedArg = arg
	}

	return nil
}

// lastLedgerTimestamp, per-shard, enforces the ledger's strictly
// increasing monotonic ordering even when the wall clock doesn't advance
// between two Submit calls in the same nanosecond.
var lastLedgerTimestamps sync.Map // map[string]int64, keyed by shard ID

func (sup *Supervisor) nextLedgerTimestamp(shard *shardstate.Shard) int64 {
	now := time.Now().UnixNano()
	for {
		prevAny, _ := lastLedgerTimestamps.LoadOrStore(shard.ID, int64(0))
		prev := prevAny.(int64)
		next := now
		if next <= prev {
			next = prev + 1
		}
		if lastLedgerTimestamps.CompareAndSwap(shard.ID, prev, next) {
			return next
		}
	}
}

// Perceive returns the perception payload for the process tokenStr names.
func (sup *Supervisor) Perceive(ctx context.Context, tokenStr string) (perception.Payload, error) {
	claims, err := sup.broker.VerifySession(tokenStr)
	if err != nil {
		return perception.Payload{}, fmt.Errorf("invalid session: %w", err)
	}

	sup.mu.RLock()
	shard, lock := sup.shards[claims.ShardID], sup.locks[claims.ShardID]
	sup.mu.RUnlock()
	if shard == nil {
		return perception.Payload{}, fmt.Errorf("unknown shard: %s", claims.ShardID)
	}

	lock.Lock()
	defer lock.Unlock()

	payload, ok := perception.Project(shard, claims.ProcessID)
	if !ok {
		return perception.Payload{}, fmt.Errorf("process not live: %s", claims.ProcessID)
	}
	return payload, nil
}

// TickAll runs one orchestrator step per live shard, fanning out one
// goroutine per shard and awaiting all — parallel across shards, strictly
// serial within a shard since each shard's own lock serializes it against
// concurrent Submit/Join calls.
func (sup *Supervisor) TickAll(ctx context.Context) {
	sup.mu.RLock()
	ids := make([]string, 0, len(sup.shards))
	for id, s := range sup.shards {
		if !s.Terminated {
			ids = append(ids, id)
		}
	}
	sup.mu.RUnlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(shardID string) {
			defer wg.Done()
			sup.tickShard(ctx, shardID)
		}(id)
	}
	wg.Wait()
}

func (sup *Supervisor) tickShard(ctx context.Context, shardID string) {
	sup.mu.RLock()
	shard, lock := sup.shards[shardID], sup.locks[shardID]
	sup.mu.RUnlock()
	if shard == nil {
		return
	}

	// Ghost transfers are placed after this shard's lock is released
	// (deferred calls run last-in, first-out): the destination picked may be
	// this same shard, or another shard whose own tick holds its lock.
	var transfers []shardstate.GhostTransfer
	defer func() {
		for _, transfer := range transfers {
			sup.placeGhostTransferLocked(ctx, transfer)
		}
	}()

	lock.Lock()
	defer lock.Unlock()

	start := time.Now()
	result := sup.orch.Tick(shard, sup.logger)
	elapsed := time.Since(start)

	transfers = result.GhostTransfers

	if sup.recorder != nil {
		sup.recorder.Record(shard, result)
	}

	if sup.metrics != nil {
		sup.metrics.RecordTick(shardID, elapsed.Seconds(), len(shard.Events.Killed), len(shard.Events.Survived), len(shard.Events.Ghosted), len(shard.Events.Spawned))
		sup.metrics.RecordDrift(shardID, result.Drift.WallsMoved, result.Drift.GatesMoved, result.Drift.Degenerate)
		if shard.Watchdog.PendingBonus > 0 {
			sup.metrics.RecordWatchdogFire(shardID)
		}
		sup.metrics.SetShardGauges(shardID, len(sup.shards), len(shard.LiveProcesses()))
	}

	if result.ShardTerminated {
		sup.finalizeShardLocked(ctx, shard)
	}
}

// placeGhostTransferLocked places a ghost-gate transfer's carried
// call-sign into a (possibly different) shard with a freshly minted
// process-id. It takes sup.mu itself, so callers must not already hold a
// per-shard lock on the destination shard it may pick.
func (sup *Supervisor) placeGhostTransferLocked(ctx context.Context, transfer shardstate.GhostTransfer) {
	sup.mu.Lock()
	dest, destLock, created := sup.shardUnderCapLocked()
	sup.mu.Unlock()

	if created {
		if err := sup.store.RegisterShard(ctx, dest.ID, time.Now()); err != nil {
			sup.logger.Warn("supervisor: register shard failed", "shard_id", dest.ID, "error", err)
		}
		sup.orch.RegisterShard(dest.ID, defragger.NewDefaultPolicy())
	}

	destLock.Lock()
	defer destLock.Unlock()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	tile, ok := pickSpawnTile(dest, rng)
	if !ok {
		sup.logger.Warn("supervisor: ghost transfer dropped, destination shard full", "call_sign", transfer.CallSign, "shard_id", dest.ID)
		return
	}

	processID := uuid.NewString()
	dest.Processes[processID] = &shardstate.Process{
		ID:       processID,
		CallSign: transfer.CallSign,
		Pos:      tile,
		Alive:    true,
	}
	dest.Events.Spawned = append(dest.Events.Spawned, processID)
	dest.Counters.Joined++
}

// maybeSaveShardRecord saves shard's ownership record (refreshing its TTL)
// in the multi-instance registry, when one is configured. Join is its only
// caller.
func (sup *Supervisor) maybeSaveShardRecord(ctx context.Context, shard *shardstate.Shard) {
	if sup.registry == nil {
		return
	}
	rec := fabric.ShardRecord{
		ShardID:       shard.ID,
		InstanceID:    sup.instanceID,
		PopulationCap: sup.cfg.PopulationCap,
		ProcessCount:  len(shard.Processes),
		RegisteredAt:  time.Now(),
	}
	if err := sup.registry.SaveShard(ctx, rec); err != nil {
		sup.logger.Warn("supervisor: save shard record failed", "shard_id", shard.ID, "error", err)
	}
}
