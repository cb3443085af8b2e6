package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v2"
)

// =============================================================================
// Engine Configuration with Environment Overrides
// =============================================================================

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Shard    ShardConfig    `yaml:"shard"`
	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
	Security SecurityConfig `yaml:"security"`
	Replay   ReplayConfig   `yaml:"replay"`
}

type ServerConfig struct {
	Port             string   `yaml:"port"`
	Env              string   `yaml:"env"`
	Interface        string   `yaml:"interface"`
	ReadTimeoutSec   int      `yaml:"read_timeout_sec"`
	WriteTimeoutSec  int      `yaml:"write_timeout_sec"`
	IdleTimeoutSec   int      `yaml:"idle_timeout_sec"`
	ShutdownTimeout  int      `yaml:"shutdown_timeout_sec"`
	CORSAllowOrigins []string `yaml:"cors_allow_origins"`
}

// ShardConfig bounds a shard's topology and lifecycle.
type ShardConfig struct {
	GridSize              int     `yaml:"grid_size"`
	WallCount             int     `yaml:"wall_count"`
	TickCadenceMinSec     float64 `yaml:"tick_cadence_min_sec"`
	TickCadenceMaxSec     float64 `yaml:"tick_cadence_max_sec"`
	MinActiveProcesses    int     `yaml:"min_active_processes"`
	PopulationCap         int     `yaml:"population_cap"`
	QuietTerminationTicks int     `yaml:"shard_quiet_termination_ticks"`
	DriftMinFraction      float64 `yaml:"drift_min_fraction"`
	DriftMaxFraction      float64 `yaml:"drift_max_fraction"`
	DriftMaxAttempts      int     `yaml:"drift_max_attempts"`
}

// PostgresConfig for the durable replay store.
type PostgresConfig struct {
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig for the spectator fan-out fabric.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// SecurityConfig for session-token issuance.
type SecurityConfig struct {
	HMACSecret    string `yaml:"hmac_secret"`
	TokenTTLSec   int    `yaml:"token_ttl_sec"`
	SubmitRateMax int    `yaml:"submit_rate_max_per_sec"`
}

// ReplayConfig toggles and bounds the replay recorder.
type ReplayConfig struct {
	LoggingEnabled bool `yaml:"replay_logging_enabled"`
	QueueCapacity  int  `yaml:"queue_capacity"`
}

// =============================================================================
// Singleton Pattern with Environment Overrides
// =============================================================================

var (
	instance *Config
	once     sync.Once
)

// Get returns the singleton config instance.
func Get() *Config {
	once.Do(func() {
		cfg, err := LoadConfig(getEnv("CONFIG_PATH", "config.yaml"))
		if err != nil {
			slog.Warn("config: failed to load config file, using defaults", "error", err)
		}
		if cfg == nil {
			cfg = &Config{}
		}
		cfg.applyEnvOverrides()
		instance = cfg
	})
	return instance
}

// LoadConfig loads config from a YAML file.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.Server.Env = getEnv("ENGINE_ENV", c.Server.Env)
	c.Server.Interface = getEnv("ENGINE_INTERFACE", c.Server.Interface)
	if v := getEnvInt("SERVER_READ_TIMEOUT_SEC", 0); v > 0 {
		c.Server.ReadTimeoutSec = v
	}
	if v := getEnvInt("SERVER_WRITE_TIMEOUT_SEC", 0); v > 0 {
		c.Server.WriteTimeoutSec = v
	}
	if v := getEnvInt("SERVER_IDLE_TIMEOUT_SEC", 0); v > 0 {
		c.Server.IdleTimeoutSec = v
	}
	if v := getEnvInt("SERVER_SHUTDOWN_TIMEOUT_SEC", 0); v > 0 {
		c.Server.ShutdownTimeout = v
	}
	if origins := getEnv("CORS_ALLOW_ORIGINS", ""); origins != "" {
		c.Server.CORSAllowOrigins = splitCSV(origins)
	}

	if v := getEnvInt("SHARD_GRID_SIZE", 0); v > 0 {
		c.Shard.GridSize = v
	}
	if v := getEnvInt("SHARD_WALL_COUNT", 0); v > 0 {
		c.Shard.WallCount = v
	}
	if v := getEnvFloat("SHARD_TICK_CADENCE_MIN_SEC", 0); v > 0 {
		c.Shard.TickCadenceMinSec = v
	}
	if v := getEnvFloat("SHARD_TICK_CADENCE_MAX_SEC", 0); v > 0 {
		c.Shard.TickCadenceMaxSec = v
	}
	if v := getEnvInt("SHARD_MIN_ACTIVE_PROCESSES", 0); v > 0 {
		c.Shard.MinActiveProcesses = v
	}
	if v := getEnvInt("SHARD_POPULATION_CAP", 0); v > 0 {
		c.Shard.PopulationCap = v
	}
	if v := getEnvInt("SHARD_QUIET_TERMINATION_TICKS", 0); v > 0 {
		c.Shard.QuietTerminationTicks = v
	}
	if v := getEnvFloat("SHARD_DRIFT_MIN_FRACTION", 0); v > 0 {
		c.Shard.DriftMinFraction = v
	}
	if v := getEnvFloat("SHARD_DRIFT_MAX_FRACTION", 0); v > 0 {
		c.Shard.DriftMaxFraction = v
	}
	if v := getEnvInt("SHARD_DRIFT_MAX_ATTEMPTS", 0); v > 0 {
		c.Shard.DriftMaxAttempts = v
	}

	c.Postgres.DSN = getEnv("POSTGRES_DSN", c.Postgres.DSN)
	if v := getEnvInt("POSTGRES_MAX_OPEN_CONNS", 0); v > 0 {
		c.Postgres.MaxOpenConns = v
	}
	if v := getEnvInt("POSTGRES_MAX_IDLE_CONNS", 0); v > 0 {
		c.Postgres.MaxIdleConns = v
	}

	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	if v := getEnvInt("REDIS_DB", 0); v > 0 {
		c.Redis.DB = v
	}

	c.Security.HMACSecret = getEnv("ENGINE_HMAC_SECRET", c.Security.HMACSecret)
	if v := getEnvInt("ENGINE_TOKEN_TTL_SEC", 0); v > 0 {
		c.Security.TokenTTLSec = v
	}
	if v := getEnvInt("ENGINE_SUBMIT_RATE_MAX", 0); v > 0 {
		c.Security.SubmitRateMax = v
	}

	c.Replay.LoggingEnabled = getEnvBool("REPLAY_LOGGING_ENABLED", c.Replay.LoggingEnabled)
	if v := getEnvInt("REPLAY_QUEUE_CAPACITY", 0); v > 0 {
		c.Replay.QueueCapacity = v
	}

	c.applyDefaults()
}

// applyDefaults sets sensible defaults for zero-valued config fields.
func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.ReadTimeoutSec == 0 {
		c.Server.ReadTimeoutSec = 15
	}
	if c.Server.WriteTimeoutSec == 0 {
		c.Server.WriteTimeoutSec = 15
	}
	if c.Server.IdleTimeoutSec == 0 {
		c.Server.IdleTimeoutSec = 60
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30
	}
	if len(c.Server.CORSAllowOrigins) == 0 {
		c.Server.CORSAllowOrigins = []string{"*"}
	}

	if c.Shard.GridSize == 0 {
		c.Shard.GridSize = 20
	}
	if c.Shard.WallCount == 0 {
		c.Shard.WallCount = 80
	}
	if c.Shard.TickCadenceMinSec == 0 {
		c.Shard.TickCadenceMinSec = 1.0
	}
	if c.Shard.TickCadenceMaxSec == 0 {
		c.Shard.TickCadenceMaxSec = 2.0
	}
	if c.Shard.MinActiveProcesses == 0 {
		c.Shard.MinActiveProcesses = 1
	}
	if c.Shard.PopulationCap == 0 {
		c.Shard.PopulationCap = 12
	}
	if c.Shard.QuietTerminationTicks == 0 {
		c.Shard.QuietTerminationTicks = 50
	}
	if c.Shard.DriftMinFraction == 0 {
		c.Shard.DriftMinFraction = 0.10
	}
	if c.Shard.DriftMaxFraction == 0 {
		c.Shard.DriftMaxFraction = 0.25
	}
	if c.Shard.DriftMaxAttempts == 0 {
		c.Shard.DriftMaxAttempts = 25
	}

	if c.Postgres.MaxOpenConns == 0 {
		c.Postgres.MaxOpenConns = 20
	}
	if c.Postgres.MaxIdleConns == 0 {
		c.Postgres.MaxIdleConns = 5
	}

	if c.Security.TokenTTLSec == 0 {
		c.Security.TokenTTLSec = 3600
	}
	if c.Security.SubmitRateMax == 0 {
		c.Security.SubmitRateMax = 10
	}

	if c.Replay.QueueCapacity == 0 {
		c.Replay.QueueCapacity = 1000
	}
}

// =============================================================================
// Helper Functions
// =============================================================================

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return val == "true" || val == "1"
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func splitCSV(s string) []string {
	parts := make([]string, 0)
	for _, p := range strings.Split(s, ",") {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}

// =============================================================================
// Convenience Methods
// =============================================================================

func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

func (c *Config) GetPort() string {
	if c.Server.Port == "" {
		return "8080"
	}
	return c.Server.Port
}
