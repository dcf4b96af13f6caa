// Package config loads the CRM automation core's configuration from a YAML
// file with environment variable overrides, generalizing a
// single-service config layer to the queue/worker/callback/automation
// subsystems.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"sync"

	"gopkg.in/yaml.v2"
)

// Config is the root configuration object.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Central    CentralConfig    `yaml:"central"`
	Crypto     CryptoConfig     `yaml:"crypto"`
	TenantConn TenantConnConfig `yaml:"tenant_conn"`
	Queue      QueueConfig      `yaml:"queue"`
	Worker     WorkerConfig     `yaml:"worker"`
	Callback   CallbackConfig   `yaml:"callback"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Redis      RedisConfig      `yaml:"redis"`
	PubSub     PubSubConfig     `yaml:"pubsub"`
	CloudTasks CloudTasksConfig `yaml:"cloud_tasks"`
}

type ServerConfig struct {
	Port            string `yaml:"port"`
	Env             string `yaml:"env"`
	ReadTimeoutSec  int    `yaml:"read_timeout_sec"`
	WriteTimeoutSec int    `yaml:"write_timeout_sec"`
	IdleTimeoutSec  int    `yaml:"idle_timeout_sec"`
	ShutdownTimeout int    `yaml:"shutdown_timeout_sec"`
}

// CentralConfig configures the Supabase-backed central store.
type CentralConfig struct {
	SupabaseURL        string `yaml:"supabase_url"`
	SupabaseServiceKey string `yaml:"supabase_service_key"`
	// JobsDSN is the raw Postgres DSN for the shared jobs table, reached
	// directly over database/sql for the atomic claim update.
	JobsDSN string `yaml:"jobs_dsn"`
}

type CryptoConfig struct {
	Secret string `yaml:"secret"`
}

// TenantConnConfig configures the lazy per-tenant connection registry.
type TenantConnConfig struct {
	ServerSelectionTimeoutSec int `yaml:"server_selection_timeout_sec"`
	SocketTimeoutSec          int `yaml:"socket_timeout_sec"`
	PoolSize                  int `yaml:"pool_size"`
	EvictAfterFailures        int `yaml:"evict_after_failures"`
}

type QueueConfig struct {
	DefaultMaxAttempts int `yaml:"default_max_attempts"`
	DefaultPriority    int `yaml:"default_priority"`
}

type WorkerConfig struct {
	Concurrency    int `yaml:"concurrency"`
	PollIntervalMs int `yaml:"poll_interval_ms"`
	BaseBackoffMs  int `yaml:"base_backoff_ms"`
}

type CallbackConfig struct {
	MaxAttempts    int `yaml:"max_attempts"`
	BaseBackoffSec int `yaml:"base_backoff_sec"`
	TimeoutSec     int `yaml:"timeout_sec"`
	Workers        int `yaml:"workers"`
}

type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	BurstSize         int `yaml:"burst_size"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Enabled  bool   `yaml:"enabled"`
}

type PubSubConfig struct {
	ProjectID string `yaml:"project_id"`
	TopicID   string `yaml:"topic_id"`
	Enabled   bool   `yaml:"enabled"`
}

type CloudTasksConfig struct {
	ProjectID  string `yaml:"project_id"`
	LocationID string `yaml:"location_id"`
	QueueID    string `yaml:"queue_id"`
	Enabled    bool   `yaml:"enabled"`
}

var (
	instance *Config
	once     sync.Once
)

// Get returns the process-wide singleton Config, loaded once from
// CONFIG_PATH (default "config.yaml") and overridden from the environment.
func Get() *Config {
	once.Do(func() {
		cfg, err := LoadConfig(getEnv("CONFIG_PATH", "config.yaml"))
		if err != nil {
			slog.Warn("config: failed to load config file, using defaults", "error", err)
			cfg = &Config{}
		}
		cfg.applyDefaults()
		cfg.applyEnvOverrides()
		instance = cfg
	})
	return instance
}

// LoadConfig reads and parses a YAML config file.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.TenantConn.ServerSelectionTimeoutSec == 0 {
		c.TenantConn.ServerSelectionTimeoutSec = 30
	}
	if c.TenantConn.SocketTimeoutSec == 0 {
		c.TenantConn.SocketTimeoutSec = 45
	}
	if c.TenantConn.PoolSize == 0 {
		c.TenantConn.PoolSize = 5
	}
	if c.TenantConn.EvictAfterFailures == 0 {
		c.TenantConn.EvictAfterFailures = 3
	}
	if c.Queue.DefaultMaxAttempts == 0 {
		c.Queue.DefaultMaxAttempts = 3
	}
	if c.Queue.DefaultPriority == 0 {
		c.Queue.DefaultPriority = 5
	}
	if c.Worker.Concurrency == 0 {
		c.Worker.Concurrency = 4
	}
	if c.Worker.PollIntervalMs == 0 {
		c.Worker.PollIntervalMs = 1000
	}
	if c.Worker.BaseBackoffMs == 0 {
		c.Worker.BaseBackoffMs = 1000
	}
	if c.Callback.MaxAttempts == 0 {
		c.Callback.MaxAttempts = 5
	}
	if c.Callback.BaseBackoffSec == 0 {
		c.Callback.BaseBackoffSec = 1
	}
	if c.Callback.TimeoutSec == 0 {
		c.Callback.TimeoutSec = 10
	}
	if c.Callback.Workers == 0 {
		c.Callback.Workers = 4
	}
	if c.RateLimit.RequestsPerMinute == 0 {
		c.RateLimit.RequestsPerMinute = 60
	}
	if c.RateLimit.BurstSize == 0 {
		c.RateLimit.BurstSize = c.RateLimit.RequestsPerMinute * 2
	}
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
}

func (c *Config) applyEnvOverrides() {
	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.Server.Env = getEnv("OCX_CRM_ENV", c.Server.Env)

	c.Central.SupabaseURL = getEnv("SUPABASE_URL", c.Central.SupabaseURL)
	c.Central.SupabaseServiceKey = getEnv("SUPABASE_SERVICE_KEY", c.Central.SupabaseServiceKey)
	c.Central.JobsDSN = getEnv("JOBS_DSN", c.Central.JobsDSN)

	c.Crypto.Secret = getEnv("CRM_ENCRYPTION_SECRET", c.Crypto.Secret)

	c.Worker.Concurrency = getEnvInt("WORKER_CONCURRENCY", c.Worker.Concurrency)
	c.Worker.PollIntervalMs = getEnvInt("WORKER_POLL_INTERVAL_MS", c.Worker.PollIntervalMs)

	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	if c.Redis.Addr != "" {
		c.Redis.Enabled = true
	}

	c.PubSub.ProjectID = getEnv("PUBSUB_PROJECT_ID", c.PubSub.ProjectID)
	c.PubSub.TopicID = getEnv("PUBSUB_TOPIC_ID", c.PubSub.TopicID)
	if c.PubSub.ProjectID != "" && c.PubSub.TopicID != "" {
		c.PubSub.Enabled = true
	}

	c.CloudTasks.ProjectID = getEnv("CLOUD_TASKS_PROJECT_ID", c.CloudTasks.ProjectID)
	c.CloudTasks.LocationID = getEnv("CLOUD_TASKS_LOCATION_ID", c.CloudTasks.LocationID)
	c.CloudTasks.QueueID = getEnv("CLOUD_TASKS_QUEUE_ID", c.CloudTasks.QueueID)
	if c.CloudTasks.ProjectID != "" && c.CloudTasks.QueueID != "" {
		c.CloudTasks.Enabled = true
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
