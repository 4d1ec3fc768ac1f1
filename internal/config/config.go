// Package config holds the daemon configuration: a central Config struct
// embedding per-component sections, loadable from a YAML file with
// environment variable overrides on top.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that YAML-decodes from strings like "45s".
type Duration time.Duration

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr string `yaml:"addr"`
	// WorkerToken authorizes the drain trigger endpoint.
	WorkerToken string `yaml:"worker_token"`
	// AdminToken authorizes DLQ administration and operator seeding.
	AdminToken string `yaml:"admin_token"`
}

// DatabaseConfig holds Postgres connection settings. The ledger lives in a
// separate datastore and therefore has its own DSN.
type DatabaseConfig struct {
	DSN       string `yaml:"dsn"`
	LedgerDSN string `yaml:"ledger_dsn"`
}

// RedisConfig holds Redis connection settings for the confirmation push.
// An empty Addr disables the notifier.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// WorkerConfig holds bridge worker settings. The visibility timeout and
// batch size here are bootstrap fallbacks; per-message behavior follows the
// per-pool config resolved during the drain.
type WorkerConfig struct {
	FallbackVisibilityTimeout Duration `yaml:"fallback_visibility_timeout"`
	FallbackBatchSize         int      `yaml:"fallback_batch_size"`
	Deadline                  Duration `yaml:"deadline"`
	RequestTimeout            Duration `yaml:"request_timeout"`
}

// ReaperConfig holds orphan reaper settings. Threshold should comfortably
// exceed visibility_timeout * max_retries of every configured pool.
type ReaperConfig struct {
	Cadence   string   `yaml:"cadence"`
	Threshold Duration `yaml:"threshold"`
}

// SnapshotConfig holds metrics snapshot job settings.
type SnapshotConfig struct {
	Cadence string `yaml:"cadence"`
}

// ObservabilityConfig holds tracing settings. An empty OTLPEndpoint
// disables tracing.
type ObservabilityConfig struct {
	ServiceName  string `yaml:"service_name"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// Config is the central configuration struct embedding all component configs.
type Config struct {
	LogLevel      string              `yaml:"log_level"`
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	Worker        WorkerConfig        `yaml:"worker"`
	Reaper        ReaperConfig        `yaml:"reaper"`
	Snapshot      SnapshotConfig      `yaml:"snapshot"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Server: ServerConfig{
			Addr: ":8080",
		},
		Database: DatabaseConfig{
			DSN:       "postgres://localhost:5432/burstq",
			LedgerDSN: "postgres://localhost:5432/burstq_ledger",
		},
		Worker: WorkerConfig{
			FallbackVisibilityTimeout: Duration(45 * time.Second),
			FallbackBatchSize:         100,
			Deadline:                  Duration(50 * time.Second),
			RequestTimeout:            Duration(10 * time.Second),
		},
		Reaper: ReaperConfig{
			Cadence:   "@every 2m",
			Threshold: Duration(30 * time.Minute),
		},
		Snapshot: SnapshotConfig{
			Cadence: "@every 1m",
		},
		Observability: ObservabilityConfig{
			ServiceName: "burstq",
		},
	}
}

// LoadFromFile loads configuration from a YAML file on top of defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadFromEnv applies environment variable overrides to the config.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("BURSTQ_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("BURSTQ_HTTP_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("BURSTQ_WORKER_TOKEN"); v != "" {
		cfg.Server.WorkerToken = v
	}
	if v := os.Getenv("BURSTQ_ADMIN_TOKEN"); v != "" {
		cfg.Server.AdminToken = v
	}
	if v := os.Getenv("BURSTQ_DB_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("BURSTQ_LEDGER_DSN"); v != "" {
		cfg.Database.LedgerDSN = v
	}
	if v := os.Getenv("BURSTQ_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("BURSTQ_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("BURSTQ_REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = db
		}
	}
	if v := os.Getenv("BURSTQ_OTLP_ENDPOINT"); v != "" {
		cfg.Observability.OTLPEndpoint = v
	}
	if v := os.Getenv("BURSTQ_REAP_THRESHOLD"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Reaper.Threshold = Duration(d)
		}
	}
	if v := os.Getenv("BURSTQ_WORKER_DEADLINE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Worker.Deadline = Duration(d)
		}
	}
}
