package config

import (
	"os"
	"sync"

	"gopkg.in/yaml.v2"
)

// TenantOverride holds the subset of Config a tenant may override.
type TenantOverride struct {
	RateLimit  RateLimitConfig `yaml:"rate_limit"`
	Worker     WorkerConfig    `yaml:"worker"`
	Crypto     CryptoConfig    `yaml:"crypto"`
}

// TenantOverridesFile is the on-disk shape of the tenant overrides file.
type TenantOverridesFile struct {
	Tenants map[string]TenantOverride `yaml:"tenants"`
}

// Manager resolves the effective configuration for a given tenant by
// merging that tenant's overrides on top of the global Config.
type Manager struct {
	mu       sync.RWMutex
	global   *Config
	tenants  map[string]TenantOverride
}

// NewManager loads the global config and an optional tenant overrides file.
// A missing overrides file is not an error — tenants simply run on the
// global defaults.
func NewManager(globalPath, overridesPath string) (*Manager, error) {
	global, err := LoadConfig(globalPath)
	if err != nil {
		return nil, err
	}
	global.applyDefaults()

	m := &Manager{global: global, tenants: make(map[string]TenantOverride)}

	f, err := os.Open(overridesPath)
	if err != nil {
		if os.IsNotExist(err) {
			return m, nil
		}
		return nil, err
	}
	defer f.Close()

	var tf TenantOverridesFile
	if err := yaml.NewDecoder(f).Decode(&tf); err != nil {
		return nil, err
	}
	m.tenants = tf.Tenants
	return m, nil
}

// Get returns the effective Config for tenantCode: a copy of the global
// config with any nonzero override fields applied on top.
func (m *Manager) Get(tenantCode string) *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	effective := *m.global

	override, ok := m.tenants[tenantCode]
	if !ok {
		return &effective
	}

	if override.RateLimit.RequestsPerMinute != 0 {
		effective.RateLimit.RequestsPerMinute = override.RateLimit.RequestsPerMinute
	}
	if override.RateLimit.BurstSize != 0 {
		effective.RateLimit.BurstSize = override.RateLimit.BurstSize
	}
	if override.Worker.Concurrency != 0 {
		effective.Worker.Concurrency = override.Worker.Concurrency
	}
	if override.Worker.PollIntervalMs != 0 {
		effective.Worker.PollIntervalMs = override.Worker.PollIntervalMs
	}
	if override.Worker.BaseBackoffMs != 0 {
		effective.Worker.BaseBackoffMs = override.Worker.BaseBackoffMs
	}
	if override.Crypto.Secret != "" {
		effective.Crypto = override.Crypto
	}

	return &effective
}

// SetOverride installs or replaces a tenant's override set at runtime.
func (m *Manager) SetOverride(tenantCode string, override TenantOverride) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tenants[tenantCode] = override
}
