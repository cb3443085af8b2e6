// Package fabric — Redis-backed shard registry for multi-instance
// deployments.
//
// In a multi-instance deployment, each instance simulates its own subset
// of shards. Without a shared registry, the supervisor on instance A has
// no way to know instance B is already at its population cap for a given
// shard, or which instance to route a spectator-stream request to. This
// RedisShardRegistry backs that directory.
package fabric

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// RedisClient is a minimal interface that any Redis library (go-redis,
// redigo) can satisfy. The hub doesn't import a specific driver — code in
// cmd/engine/main creates the concrete client and injects it.
type RedisClient interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Del(ctx context.Context, keys ...string) error
	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
	Publish(ctx context.Context, channel string, message []byte) error
}

// ShardRecord describes one shard's ownership for registry purposes.
type ShardRecord struct {
	ShardID       string
	InstanceID    string
	PopulationCap int
	ProcessCount  int
	RegisteredAt  time.Time
}

// RedisShardRegistry persists shard ownership in Redis so every instance
// in a multi-instance deployment shares the same directory.
type RedisShardRegistry struct {
	client    RedisClient
	keyPrefix string // e.g. "engine:shards:" to namespace keys
	shardTTL  time.Duration
}

// NewRedisShardRegistry creates a new Redis-backed shard registry.
func NewRedisShardRegistry(client RedisClient, keyPrefix string, shardTTL time.Duration) *RedisShardRegistry {
	if keyPrefix == "" {
		keyPrefix = "engine:shards:"
	}
	if shardTTL == 0 {
		shardTTL = 10 * time.Minute // refreshed only when SaveShard runs again
	}
	return &RedisShardRegistry{
		client:    client,
		keyPrefix: keyPrefix,
		shardTTL:  shardTTL,
	}
}

// shardJSON is the serializable form of ShardRecord for Redis storage.
type shardJSON struct {
	ShardID       string `json:"shard_id"`
	InstanceID    string `json:"instance_id"`
	PopulationCap int    `json:"population_cap"`
	ProcessCount  int    `json:"process_count"`
	RegisteredAt  string `json:"registered_at"`
}

func recordToJSON(r ShardRecord) *shardJSON {
	return &shardJSON{
		ShardID:       r.ShardID,
		InstanceID:    r.InstanceID,
		PopulationCap: r.PopulationCap,
		ProcessCount:  r.ProcessCount,
		RegisteredAt:  r.RegisteredAt.Format(time.RFC3339),
	}
}

// SaveShard persists a shard's ownership record to Redis and indexes it
// under its owning instance, refreshing the TTL on each call. The
// supervisor calls this on every Join into the shard; nothing refreshes it
// on a timer.
func (rs *RedisShardRegistry) SaveShard(ctx context.Context, rec ShardRecord) error {
	data, err := json.Marshal(recordToJSON(rec))
	if err != nil {
		return fmt.Errorf("marshal shard record: %w", err)
	}

	shardKey := rs.keyPrefix + "shard:" + rec.ShardID
	if err := rs.client.Set(ctx, shardKey, data, rs.shardTTL); err != nil {
		return fmt.Errorf("redis SET shard: %w", err)
	}

	instanceKey := rs.keyPrefix + "instance:" + rec.InstanceID
	if err := rs.client.SAdd(ctx, instanceKey, rec.ShardID); err != nil {
		return fmt.Errorf("redis SADD instance index: %w", err)
	}

	slog.Info("shard registry: saved shard", "shard_id", rec.ShardID, "instance_id", rec.InstanceID)
	return nil
}

// LoadShard retrieves a shard's ownership record from Redis.
func (rs *RedisShardRegistry) LoadShard(ctx context.Context, shardID string) (*ShardRecord, error) {
	shardKey := rs.keyPrefix + "shard:" + shardID
	data, err := rs.client.Get(ctx, shardKey)
	if err != nil {
		return nil, fmt.Errorf("redis GET shard: %w", err)
	}

	var sj shardJSON
	if err := json.Unmarshal(data, &sj); err != nil {
		return nil, fmt.Errorf("unmarshal shard record: %w", err)
	}

	registeredAt, _ := time.Parse(time.RFC3339, sj.RegisteredAt)
	return &ShardRecord{
		ShardID:       sj.ShardID,
		InstanceID:    sj.InstanceID,
		PopulationCap: sj.PopulationCap,
		ProcessCount:  sj.ProcessCount,
		RegisteredAt:  registeredAt,
	}, nil
}

// DeleteShard removes a shard and its instance index entry from Redis,
// called once a shard has terminated.
func (rs *RedisShardRegistry) DeleteShard(ctx context.Context, rec ShardRecord) error {
	shardKey := rs.keyPrefix + "shard:" + rec.ShardID
	instanceKey := rs.keyPrefix + "instance:" + rec.InstanceID

	_ = rs.client.SRem(ctx, instanceKey, rec.ShardID)
	return rs.client.Del(ctx, shardKey)
}

// ShardsByInstance returns all shard IDs currently owned by instanceID.
func (rs *RedisShardRegistry) ShardsByInstance(ctx context.Context, instanceID string) ([]string, error) {
	instanceKey := rs.keyPrefix + "instance:" + instanceID
	return rs.client.SMembers(ctx, instanceKey)
}
