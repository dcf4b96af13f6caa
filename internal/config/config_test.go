package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyDefaults(t *testing.T) {
	var cfg Config
	cfg.applyDefaults()

	assert.Equal(t, 30, cfg.TenantConn.ServerSelectionTimeoutSec)
	assert.Equal(t, 45, cfg.TenantConn.SocketTimeoutSec)
	assert.Equal(t, 5, cfg.TenantConn.PoolSize)
	assert.Equal(t, 3, cfg.Queue.DefaultMaxAttempts)
	assert.Equal(t, 5, cfg.Queue.DefaultPriority)
	assert.Equal(t, 60, cfg.RateLimit.RequestsPerMinute)
	assert.Equal(t, 5, cfg.Callback.MaxAttempts)
	assert.Equal(t, "8080", cfg.Server.Port)
}

func TestDefaultsDoNotOverrideExplicitValues(t *testing.T) {
	cfg := Config{Worker: WorkerConfig{Concurrency: 16}}
	cfg.applyDefaults()
	assert.Equal(t, 16, cfg.Worker.Concurrency)
}

func TestLoadConfigFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: "9090"
worker:
  concurrency: 8
  poll_interval_ms: 250
rate_limit:
  requests_per_minute: 120
`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 8, cfg.Worker.Concurrency)
	assert.Equal(t, 250, cfg.Worker.PollIntervalMs)
	assert.Equal(t, 120, cfg.RateLimit.RequestsPerMinute)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "7070")
	t.Setenv("WORKER_CONCURRENCY", "12")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	var cfg Config
	cfg.applyDefaults()
	cfg.applyEnvOverrides()

	assert.Equal(t, "7070", cfg.Server.Port)
	assert.Equal(t, 12, cfg.Worker.Concurrency)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
}

func TestManagerMergesTenantOverrides(t *testing.T) {
	dir := t.TempDir()
	globalPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(globalPath, []byte("server:\n  port: \"8080\"\n"), 0o600))
	overridesPath := filepath.Join(dir, "tenants.yaml")
	require.NoError(t, os.WriteFile(overridesPath, []byte(`
tenants:
  ACME:
    rate_limit:
      requests_per_minute: 600
`), 0o600))

	m, err := NewManager(globalPath, overridesPath)
	require.NoError(t, err)

	acme := m.Get("ACME")
	assert.Equal(t, 600, acme.RateLimit.RequestsPerMinute)

	other := m.Get("GLOBEX")
	assert.Equal(t, 60, other.RateLimit.RequestsPerMinute)
}

func TestManagerMissingOverridesFileIsFine(t *testing.T) {
	dir := t.TempDir()
	globalPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(globalPath, []byte("{}\n"), 0o600))

	m, err := NewManager(globalPath, filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	assert.NotNil(t, m.Get("ANY"))
}
