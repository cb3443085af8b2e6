package shardstate

import (
	"encoding/binary"
	"hash/fnv"
	"math/rand"
)

// TickRNG derives a deterministic, shard-private random source from
// (shard-seed, tick-number). No process-global RNG is ever shared, so
// parallel tick execution across shards stays reproducible.
// One instance is threaded through every phase of a single tick (movement's
// sprint turns, drift's candidate selection, the defragger's patrol walk) so
// that the pipeline's total draw order is itself deterministic.
func TickRNG(shardSeed, tick int64) *rand.Rand {
	h := fnv.New64a()
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[0:8], uint64(shardSeed))
	binary.BigEndian.PutUint64(buf[8:16], uint64(tick))
	_, _ = h.Write(buf[:])
	return rand.New(rand.NewSource(int64(h.Sum64())))
}
