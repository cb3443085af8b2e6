package main

import (
	"context"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	_ "github.com/lib/pq" // Postgres driver

	"github.com/segfaultgame/engine/internal/circuitbreaker"
	"github.com/segfaultgame/engine/internal/config"
	"github.com/segfaultgame/engine/internal/fabric"
	"github.com/segfaultgame/engine/internal/infra"
	"github.com/segfaultgame/engine/internal/middleware"
	"github.com/segfaultgame/engine/internal/persistence"
	"github.com/segfaultgame/engine/internal/replay"
	"github.com/segfaultgame/engine/internal/security"
	"github.com/segfaultgame/engine/internal/supervisor"
	"github.com/segfaultgame/engine/internal/telemetry"
	"github.com/segfaultgame/engine/internal/transport"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("engine: no .env file found, continuing with process environment")
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := config.Get()
	logger.Info("engine: starting", "env", cfg.Server.Env, "port", cfg.Server.Port)

	store := buildStore(cfg, logger)
	defer store.Close()

	hub, registry := buildFabric(cfg, logger)

	broker := security.NewBroker(security.BrokerConfig{
		HMACSecret: cfg.Security.HMACSecret,
		DefaultTTL: time.Duration(cfg.Security.TokenTTLSec) * time.Second,
		Issuer:     "segfault-engine",
	})

	metrics := telemetry.NewMetrics()

	recorder := replay.NewRecorder(store, hub, cfg.Replay.QueueCapacity, 4, logger)
	defer recorder.Stop()

	sup := supervisor.New(supervisor.Config{
		Shard:      cfg.Shard,
		Broker:     broker,
		Store:      store,
		Recorder:   recorder,
		Registry:   registry,
		Metrics:    metrics,
		InstanceID: instanceID(),
		Logger:     logger,
	})

	rateLimiter := middleware.NewRateLimiter(middleware.RateLimitConfig{
		MaxCallsPerWindow: cfg.Security.SubmitRateMax,
		BurstSize:         cfg.Security.SubmitRateMax * 2,
	}, cfg.Shard.TickCadenceMinSec, metrics)

	server := transport.NewServer(sup, hub, rateLimiter, cfg.Server, logger)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(":9090", metricsMux); err != nil {
			logger.Warn("engine: metrics listener stopped", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go runTickLoop(ctx, sup, cfg.Shard, logger)

	if err := server.Start(ctx); err != nil {
		logger.Error("engine: server exited with error", "error", err)
		os.Exit(1)
	}
}

// runTickLoop drives every shard's tick pipeline at a randomized cadence
// between the configured min and max, so shards across a fleet don't all
// tick in lockstep. Grounded on the teacher's decay scheduler: a
// ticker-driven loop selecting on ctx.Done alongside the ticker channel.
func runTickLoop(ctx context.Context, sup *supervisor.Supervisor, cfg config.ShardConfig, logger *slog.Logger) {
	minSec, maxSec := cfg.TickCadenceMinSec, cfg.TickCadenceMaxSec
	if maxSec <= minSec {
		maxSec = minSec + 1
	}

	for {
		cadence := minSec + rand.Float64()*(maxSec-minSec)
		timer := time.NewTimer(time.Duration(cadence * float64(time.Second)))

		select {
		case <-timer.C:
			sup.TickAll(ctx)
			if n := sup.Reap(ctx); n > 0 {
				logger.Info("engine: reaped terminated shards", "count", n)
			}
		case <-ctx.Done():
			timer.Stop()
			logger.Info("engine: tick loop stopping")
			return
		}
	}
}

func buildStore(cfg *config.Config, logger *slog.Logger) persistence.Store {
	if cfg.Postgres.DSN == "" {
		logger.Warn("engine: no postgres DSN configured, using in-memory replay store")
		return persistence.NewMemoryStore()
	}

	pg, err := persistence.NewPostgresStore(cfg.Postgres.DSN)
	if err != nil {
		logger.Warn("engine: postgres connection failed, falling back to in-memory store", "error", err)
		return persistence.NewMemoryStore()
	}

	if err := pg.EnsureSchema(context.Background()); err != nil {
		logger.Warn("engine: postgres schema setup failed", "error", err)
	}

	breakers := circuitbreaker.NewEngineCircuitBreakers()
	return persistence.NewGuardedStore(pg, breakers.Persistence)
}

func buildFabric(cfg *config.Config, logger *slog.Logger) (*fabric.Hub, *fabric.RedisShardRegistry) {
	hub := fabric.NewHub(instanceID(), "default", "engine")

	if cfg.Redis.Addr == "" {
		logger.Info("engine: no redis address configured, running single-instance")
		return hub, nil
	}

	adapter, err := infra.NewGoRedisAdapter(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Warn("engine: redis connection failed, running single-instance", "error", err)
		return hub, nil
	}

	registry := fabric.NewRedisShardRegistry(adapter, "engine:shards:", 10*time.Minute)
	eventBus := fabric.NewRedisEventBus(adapter, "engine:events:")
	hub.SetStore(registry)
	hub.SetEventBus(eventBus)

	return hub, registry
}

func instanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "engine-instance"
	}
	return host
}
