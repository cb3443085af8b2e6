// Package fabric implements the spectator broadcast fan-out: every tick a
// shard produces perception/replay events, and this hub delivers them to
// every spectator currently watching that shard.
package fabric

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// SpectatorID uniquely identifies a connected spectator.
type SpectatorID string

// SpectatorInfo describes one spectator connection.
type SpectatorInfo struct {
	ID           SpectatorID
	ShardID      string
	ConnectedAt  time.Time
	LastSeen     atomic.Value // time.Time
	MessageCount atomic.Int64
	BytesSent    atomic.Int64
}

// Touch atomically updates delivery stats from the dispatch goroutine.
func (s *SpectatorInfo) Touch(bytesSent int64) {
	s.LastSeen.Store(time.Now())
	s.MessageCount.Add(1)
	s.BytesSent.Add(bytesSent)
}

// ============================================================================
// HUB IMPLEMENTATION
// ============================================================================

// Hub is the central fan-out point for shard broadcast events.
//
// All spectator registrations and shard indexes are in-memory maps. A
// second Hub instance on another pod has zero awareness of spectators
// connected to pod 1. SetStore and SetEventBus wire in Redis-backed
// cross-pod persistence and distribution for horizontal scaling.
type Hub struct {
	ID        string
	Region    string
	Namespace string

	mu sync.RWMutex

	// Spectator registry: SpectatorID -> SpectatorInfo
	spectators map[SpectatorID]*SpectatorInfo

	// Shard index: ShardID -> []SpectatorID watching that shard
	shardIndex map[string][]SpectatorID

	// Delivery callback, set per-spectator at registration time by the
	// transport layer (writes to the spectator's WebSocket connection).
	deliver map[SpectatorID]func(payload []byte) error

	metrics *HubMetrics

	// Optional Redis-backed store for cross-pod spectator persistence.
	store *RedisShardRegistry

	// Optional Redis-backed event bus for cross-pod event distribution.
	eventBus *RedisEventBus

	logger *log.Logger
}

// HubMetrics tracks hub performance. All fields are atomic so they can be
// incremented inside RLock-protected Broadcast calls.
type HubMetrics struct {
	EventsBroadcast     atomic.Int64
	EventsFailed        atomic.Int64
	SpectatorsConnected atomic.Int32
}

// NewHub creates a new spectator fan-out hub.
func NewHub(id, region, namespace string) *Hub {
	return &Hub{
		ID:         id,
		Region:     region,
		Namespace:  namespace,
		spectators: make(map[SpectatorID]*SpectatorInfo),
		shardIndex: make(map[string][]SpectatorID),
		deliver:    make(map[SpectatorID]func(payload []byte) error),
		metrics:    &HubMetrics{},
		logger:     log.New(log.Writer(), fmt.Sprintf("[Hub:%s] ", id), log.LstdFlags),
	}
}

// SetStore injects a Redis-backed store for cross-pod shard/spectator
// bookkeeping.
func (h *Hub) SetStore(s *RedisShardRegistry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.store = s
}

// SetEventBus injects a Redis-backed event bus for cross-pod broadcast
// distribution.
func (h *Hub) SetEventBus(bus *RedisEventBus) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.eventBus = bus
}

// ============================================================================
// SPECTATOR MANAGEMENT
// ============================================================================

// RegisterSpectator registers a spectator watching shardID. deliver is
// called with each broadcast payload addressed to this spectator.
func (h *Hub) RegisterSpectator(shardID string, deliver func(payload []byte) error) (*SpectatorInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.generateSpectatorID(shardID)

	spectator := &SpectatorInfo{
		ID:          id,
		ShardID:     shardID,
		ConnectedAt: time.Now(),
	}
	spectator.LastSeen.Store(time.Now())

	h.spectators[id] = spectator
	h.shardIndex[shardID] = append(h.shardIndex[shardID], id)
	h.deliver[id] = deliver

	h.metrics.SpectatorsConnected.Add(1)
	h.logger.Printf("registered spectator: %s (shard=%s)", id, shardID)

	return spectator, nil
}

// UnregisterSpectator removes a spectator from the hub.
func (h *Hub) UnregisterSpectator(id SpectatorID) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	spectator, exists := h.spectators[id]
	if !exists {
		return fmt.Errorf("spectator %s not found", id)
	}

	delete(h.spectators, id)
	delete(h.deliver, id)
	h.shardIndex[spectator.ShardID] = removeFromSlice(h.shardIndex[spectator.ShardID], id)

	h.metrics.SpectatorsConnected.Add(-1)
	h.logger.Printf("unregistered spectator: %s", id)

	return nil
}

func removeFromSlice(slice []SpectatorID, id SpectatorID) []SpectatorID {
	for i, v := range slice {
		if v == id {
			return append(slice[:i], slice[i+1:]...)
		}
	}
	return slice
}

// ============================================================================
// BROADCAST
// ============================================================================

// BroadcastResult summarizes the outcome of a BroadcastToShard call.
type BroadcastResult struct {
	Delivered   int
	Failed      int
	RoutingTime time.Duration
}

// BroadcastToShard delivers payload to every spectator currently watching
// shardID, and publishes it as an EventShardBroadcast on the cross-pod
// event bus if one is wired in. Nothing in the engine subscribes to that
// event, so spectators connected to other instances do not receive it.
func (h *Hub) BroadcastToShard(ctx context.Context, shardID string, payload []byte) (*BroadcastResult, error) {
	start := time.Now()

	h.mu.RLock()
	ids := h.shardIndex[shardID]
	deliverFns := make([]func([]byte) error, 0, len(ids))
	infos := make([]*SpectatorInfo, 0, len(ids))
	for _, id := range ids {
		if fn, ok := h.deliver[id]; ok {
			deliverFns = append(deliverFns, fn)
			infos = append(infos, h.spectators[id])
		}
	}
	bus := h.eventBus
	h.mu.RUnlock()

	delivered, failed := 0, 0
	for i, fn := range deliverFns {
		if err := fn(payload); err != nil {
			h.logger.Printf("delivery to spectator failed: %v", err)
			failed++
			continue
		}
		infos[i].Touch(int64(len(payload)))
		delivered++
	}

	if bus != nil {
		_ = bus.Publish(ctx, &Event{
			Type:      EventShardBroadcast,
			Source:    h.ID,
			ShardID:   shardID,
			Payload:   map[string]interface{}{"raw": payload},
			Timestamp: time.Now(),
		})
	}

	h.metrics.EventsBroadcast.Add(1)
	if failed > 0 {
		h.metrics.EventsFailed.Add(int64(failed))
	}

	return &BroadcastResult{
		Delivered:   delivered,
		Failed:      failed,
		RoutingTime: time.Since(start),
	}, nil
}

// ============================================================================
// HELPER METHODS
// ============================================================================

func (h *Hub) generateSpectatorID(shardID string) SpectatorID {
	hash := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", shardID, time.Now().UnixNano())))
	return SpectatorID(hex.EncodeToString(hash[:8]))
}

// ============================================================================
// METRICS & STATUS
// ============================================================================

// GetMetrics returns hub metrics.
func (h *Hub) GetMetrics() *HubMetrics {
	return h.metrics
}

// GetSpectators returns all registered spectators.
func (h *Hub) GetSpectators() []*SpectatorInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()

	spectators := make([]*SpectatorInfo, 0, len(h.spectators))
	for _, s := range h.spectators {
		spectators = append(spectators, s)
	}
	return spectators
}

// GetSpectatorsByShard returns spectators currently watching shardID.
func (h *Hub) GetSpectatorsByShard(shardID string) []*SpectatorInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := h.shardIndex[shardID]
	spectators := make([]*SpectatorInfo, 0, len(ids))
	for _, id := range ids {
		if s := h.spectators[id]; s != nil {
			spectators = append(spectators, s)
		}
	}
	return spectators
}
