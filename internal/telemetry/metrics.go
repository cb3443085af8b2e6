// Package telemetry holds the Prometheus metrics exported by the engine.
// Grounded on the teacher's internal/escrow/metrics.go pattern: a Metrics
// struct of promauto-registered vectors plus a handful of Record* methods
// that hide label-ordering from call sites.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus metric the engine exports.
type Metrics struct {
	TickDuration *prometheus.HistogramVec
	TicksTotal   *prometheus.CounterVec

	ProcessesKilled    *prometheus.CounterVec
	ProcessesSurvived  *prometheus.CounterVec
	ProcessesGhosted   *prometheus.CounterVec
	ProcessesJoined    *prometheus.CounterVec

	DriftMoves      *prometheus.CounterVec
	DriftDegenerate *prometheus.CounterVec

	WatchdogFires *prometheus.CounterVec

	ActiveShards    prometheus.Gauge
	ActiveProcesses *prometheus.GaugeVec

	ReplayQueueDropped *prometheus.CounterVec

	RateLimitRejections *prometheus.CounterVec
}

// NewMetrics creates and registers every metric the engine exports.
func NewMetrics() *Metrics {
	return &Metrics{
		TickDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "engine_tick_duration_seconds",
				Help:    "Duration of one orchestrator Tick call per shard",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"shard_id"},
		),
		TicksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_ticks_total",
				Help: "Total number of ticks run per shard",
			},
			[]string{"shard_id"},
		),
		ProcessesKilled: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_processes_killed_total",
				Help: "Total number of processes killed by the defragger",
			},
			[]string{"shard_id"},
		),
		ProcessesSurvived: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_processes_survived_total",
				Help: "Total number of processes that reached the stable gate",
			},
			[]string{"shard_id"},
		),
		ProcessesGhosted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_processes_ghosted_total",
				Help: "Total number of processes that transferred through the ghost gate",
			},
			[]string{"shard_id"},
		),
		ProcessesJoined: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_processes_joined_total",
				Help: "Total number of processes that joined a shard",
			},
			[]string{"shard_id"},
		),
		DriftMoves: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_drift_moves_total",
				Help: "Total number of walls and gates relocated by the per-tick drift pass",
			},
			[]string{"shard_id"},
		),
		DriftDegenerate: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_drift_degenerate_total",
				Help: "Total number of drift passes that exhausted their attempt budget and left the layout unchanged",
			},
			[]string{"shard_id"},
		),
		WatchdogFires: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_watchdog_fires_total",
				Help: "Total number of watchdog countdown completions",
			},
			[]string{"shard_id"},
		),
		ActiveShards: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "engine_active_shards",
				Help: "Current number of non-terminated shards",
			},
		),
		ActiveProcesses: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "engine_active_processes",
				Help: "Current number of live processes per shard",
			},
			[]string{"shard_id"},
		),
		ReplayQueueDropped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_replay_queue_dropped_total",
				Help: "Total number of replay snapshots dropped for queue overflow",
			},
			[]string{"shard_id"},
		),
		RateLimitRejections: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_rate_limit_rejections_total",
				Help: "Total number of requests rejected by the intake rate limiter",
			},
			[]string{"route"},
		),
	}
}

// RecordTick records one completed tick's duration and bookkeeping
// deltas for a shard.
func (m *Metrics) RecordTick(shardID string, seconds float64, killed, survived, ghosted, joined int) {
	m.TickDuration.WithLabelValues(shardID).Observe(seconds)
	m.TicksTotal.WithLabelValues(shardID).Inc()
	if killed > 0 {
		m.ProcessesKilled.WithLabelValues(shardID).Add(float64(killed))
	}
	if survived > 0 {
		m.ProcessesSurvived.WithLabelValues(shardID).Add(float64(survived))
	}
	if ghosted > 0 {
		m.ProcessesGhosted.WithLabelValues(shardID).Add(float64(ghosted))
	}
	if joined > 0 {
		m.ProcessesJoined.WithLabelValues(shardID).Add(float64(joined))
	}
}

// RecordDrift records one tick's drift pass outcome. wallsMoved/gatesMoved
// of zero alongside degenerate true means the retry budget was exhausted
// and the layout was left unchanged this tick.
func (m *Metrics) RecordDrift(shardID string, wallsMoved, gatesMoved int, degenerate bool) {
	if degenerate {
		m.DriftDegenerate.WithLabelValues(shardID).Inc()
		return
	}
	if wallsMoved > 0 || gatesMoved > 0 {
		m.DriftMoves.WithLabelValues(shardID).Add(float64(wallsMoved + gatesMoved))
	}
}

// RecordWatchdogFire records a completed watchdog countdown.
func (m *Metrics) RecordWatchdogFire(shardID string) {
	m.WatchdogFires.WithLabelValues(shardID).Inc()
}

// SetShardGauges updates the point-in-time shard/process gauges.
func (m *Metrics) SetShardGauges(shardID string, activeShards int, activeProcesses int) {
	m.ActiveShards.Set(float64(activeShards))
	m.ActiveProcesses.WithLabelValues(shardID).Set(float64(activeProcesses))
}

// RecordReplayDrop records one replay snapshot dropped for queue overflow.
func (m *Metrics) RecordReplayDrop(shardID string) {
	m.ReplayQueueDropped.WithLabelValues(shardID).Inc()
}

// RecordRateLimitRejection records one request rejected by the rate
// limiter for the given route.
func (m *Metrics) RecordRateLimitRejection(route string) {
	m.RateLimitRejections.WithLabelValues(route).Inc()
}
