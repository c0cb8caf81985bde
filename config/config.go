// Package config handles configuration persistence for s7link.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigListenerID is a unique identifier for a config change listener.
type ConfigListenerID string

// Config holds the complete application configuration.
type Config struct {
	Namespace string       `yaml:"namespace"` // instance namespace for topic isolation
	PLCs      []PLCConfig  `yaml:"plcs"`
	REST      RESTConfig   `yaml:"rest"`
	MQTT      []MQTTConfig `yaml:"mqtt"`
	PollRate  time.Duration `yaml:"poll_rate"`

	dataMu sync.Mutex `yaml:"-"`

	changeListeners map[ConfigListenerID]func() `yaml:"-"`
	listenersMu     sync.RWMutex                `yaml:"-"`
	listenerCounter uint64                      `yaml:"-"`
}

// PLCConfig stores the connection parameters for a single S7 PLC.
type PLCConfig struct {
	Name               string         `yaml:"name"`
	Address            string         `yaml:"address"` // host or host:port, default port 102
	Rack               int            `yaml:"rack"`
	Slot               int            `yaml:"slot"`
	Enabled            bool           `yaml:"enabled"`
	HealthCheckEnabled *bool          `yaml:"health_check_enabled,omitempty"`
	PollRate           time.Duration  `yaml:"poll_rate,omitempty"` // 0 = use global PollRate
	Timeout            time.Duration  `yaml:"timeout,omitempty"`  // 0 = driver default
	Tags               []TagSelection `yaml:"tags,omitempty"`
}

// IsHealthCheckEnabled returns whether health-check publishing is enabled (default true).
func (p *PLCConfig) IsHealthCheckEnabled() bool {
	if p.HealthCheckEnabled == nil {
		return true
	}
	return *p.HealthCheckEnabled
}

// TagSelection represents one S7 address selected for polling/publishing.
type TagSelection struct {
	Name     string `yaml:"name"`     // S7 address, e.g. "DB1.DBD0" or "MW2"
	Alias    string `yaml:"alias,omitempty"`
	DataType string `yaml:"data_type,omitempty"` // manual type hint: BOOL, INT, DINT, REAL, ...
	Enabled  bool   `yaml:"enabled"`
	Writable bool   `yaml:"writable,omitempty"`
	NoMQTT   bool   `yaml:"no_mqtt,omitempty"`
	NoREST   bool   `yaml:"no_rest,omitempty"`
}

// RESTConfig holds the REST API listener configuration.
type RESTConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// MQTTConfig holds MQTT publisher configuration.
type MQTTConfig struct {
	Name     string `yaml:"name"`
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	ClientID string `yaml:"client_id"`
	Selector string `yaml:"selector,omitempty"`
	UseTLS   bool   `yaml:"use_tls,omitempty"`
}

// DefaultConfig returns a Config with sane defaults for a fresh install.
func DefaultConfig() *Config {
	return &Config{
		PollRate: time.Second,
		REST: RESTConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
		},
		PLCs: []PLCConfig{},
		MQTT: []MQTTConfig{},
	}
}

// DefaultPath returns the default configuration file path.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".s7link", "config.yaml")
}

// Load reads configuration from a YAML file, falling back to defaults if the
// file does not exist.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		return cfg, nil
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}

// AddOnChangeListener registers a callback invoked (in its own goroutine)
// every time the config is saved. The returned ID can be passed to
// RemoveOnChangeListener.
func (c *Config) AddOnChangeListener(cb func()) ConfigListenerID {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()

	if c.changeListeners == nil {
		c.changeListeners = make(map[ConfigListenerID]func())
	}

	id := ConfigListenerID(fmt.Sprintf("listener-%d", atomic.AddUint64(&c.listenerCounter, 1)))
	c.changeListeners[id] = cb
	return id
}

// RemoveOnChangeListener removes a previously registered listener.
func (c *Config) RemoveOnChangeListener(id ConfigListenerID) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	delete(c.changeListeners, id)
}

func (c *Config) notifyChangeListeners() {
	c.listenersMu.RLock()
	listeners := make([]func(), 0, len(c.changeListeners))
	for _, cb := range c.changeListeners {
		listeners = append(listeners, cb)
	}
	c.listenersMu.RUnlock()

	for _, cb := range listeners {
		go cb()
	}
}

// Lock acquires the config data mutex for exclusive access. Pair with
// UnlockAndSave.
func (c *Config) Lock() { c.dataMu.Lock() }

// Unlock releases the config data mutex without saving.
func (c *Config) Unlock() { c.dataMu.Unlock() }

// Save acquires the lock, marshals, writes, and notifies listeners.
func (c *Config) Save(path string) error {
	c.dataMu.Lock()
	return c.saveLocked(path)
}

// UnlockAndSave marshals, releases the lock, writes, and notifies listeners.
// The caller must already hold the lock via Lock().
func (c *Config) UnlockAndSave(path string) error {
	return c.saveLocked(path)
}

func (c *Config) saveLocked(path string) error {
	data, err := yaml.Marshal(c)
	c.dataMu.Unlock()
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return err
	}

	c.notifyChangeListeners()
	return nil
}

// FindPLC returns the PLC config with the given name, or nil if not found.
func (c *Config) FindPLC(name string) *PLCConfig {
	for i := range c.PLCs {
		if c.PLCs[i].Name == name {
			return &c.PLCs[i]
		}
	}
	return nil
}

// AddPLC adds a new PLC configuration.
func (c *Config) AddPLC(plc PLCConfig) {
	c.PLCs = append(c.PLCs, plc)
}

// RemovePLC removes a PLC by name.
func (c *Config) RemovePLC(name string) bool {
	for i, plc := range c.PLCs {
		if plc.Name == name {
			c.PLCs = append(c.PLCs[:i], c.PLCs[i+1:]...)
			return true
		}
	}
	return false
}

// UpdatePLC replaces an existing PLC configuration by name.
func (c *Config) UpdatePLC(name string, updated PLCConfig) bool {
	for i, plc := range c.PLCs {
		if plc.Name == name {
			c.PLCs[i] = updated
			return true
		}
	}
	return false
}

// FindMQTT returns the MQTT config with the given name, or nil if not found.
func (c *Config) FindMQTT(name string) *MQTTConfig {
	for i := range c.MQTT {
		if c.MQTT[i].Name == name {
			return &c.MQTT[i]
		}
	}
	return nil
}

// AddMQTT adds a new MQTT configuration.
func (c *Config) AddMQTT(mqtt MQTTConfig) {
	c.MQTT = append(c.MQTT, mqtt)
}

// Validate checks required fields across the configuration.
func (c *Config) Validate() error {
	if c.Namespace == "" {
		return fmt.Errorf("namespace is required")
	}
	seen := make(map[string]bool, len(c.PLCs))
	for _, p := range c.PLCs {
		if p.Name == "" {
			return fmt.Errorf("plc with empty name")
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate plc name %q", p.Name)
		}
		seen[p.Name] = true
		if p.Address == "" {
			return fmt.Errorf("plc %q: address is required", p.Name)
		}
	}
	return nil
}
