// Package config loads graftd configuration from environment variables.
//
// Every setting has a default, so an empty environment yields a runnable
// single-process server backed by an in-memory store.
//
// Environment Variables:
//   - GRAFT_LOG_LEVEL
//   - GRAFT_TEMPLATES_DIR, GRAFT_TEMPLATES_WATCH
//   - GRAFT_STORE_PATH, GRAFT_FLUSH_INTERVAL
//   - GRAFT_TICK_RATE
//   - GRAFT_LISTEN_ADDR, GRAFT_TRANSPORT, GRAFT_METRICS_ADDR
//   - GRAFT_SYNC_ACK_TIMEOUT, GRAFT_SYNC_FLUSH_BUDGET
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all graftd configuration.
type Config struct {
	Logging   LogConfig
	Templates TemplateConfig
	Store     StoreConfig
	Runtime   RuntimeConfig
	Network   NetworkConfig
	Sync      SyncConfig
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string `envconfig:"GRAFT_LOG_LEVEL" default:"info"`
}

// TemplateConfig points at the template definition directory.
type TemplateConfig struct {
	Dir   string `envconfig:"GRAFT_TEMPLATES_DIR" default:"templates"`
	Watch bool   `envconfig:"GRAFT_TEMPLATES_WATCH" default:"true"`
}

// StoreConfig selects the document store. An empty Path keeps records in memory.
type StoreConfig struct {
	Path          string        `envconfig:"GRAFT_STORE_PATH" default:""`
	FlushInterval time.Duration `envconfig:"GRAFT_FLUSH_INTERVAL" default:"5s"`
}

// RuntimeConfig holds game-logic loop settings.
type RuntimeConfig struct {
	TickRate int `envconfig:"GRAFT_TICK_RATE" default:"20"`
}

// NetworkConfig holds listener settings.
type NetworkConfig struct {
	ListenAddr  string `envconfig:"GRAFT_LISTEN_ADDR" default:"127.0.0.1:7420"`
	Transport   string `envconfig:"GRAFT_TRANSPORT" default:"websocket"`
	MetricsAddr string `envconfig:"GRAFT_METRICS_ADDR" default:"127.0.0.1:9420"`
}

// SyncConfig tunes the sync protocol authority.
type SyncConfig struct {
	AckTimeout  time.Duration `envconfig:"GRAFT_SYNC_ACK_TIMEOUT" default:"3s"`
	FlushBudget int           `envconfig:"GRAFT_SYNC_FLUSH_BUDGET" default:"32"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Logging: LogConfig{Level: "info"},
		Templates: TemplateConfig{
			Dir:   "templates",
			Watch: true,
		},
		Store: StoreConfig{
			FlushInterval: 5 * time.Second,
		},
		Runtime: RuntimeConfig{TickRate: 20},
		Network: NetworkConfig{
			ListenAddr:  "127.0.0.1:7420",
			Transport:   "websocket",
			MetricsAddr: "127.0.0.1:9420",
		},
		Sync: SyncConfig{
			AckTimeout:  3 * time.Second,
			FlushBudget: 32,
		},
	}
}

// Validate rejects settings the runtime cannot work with.
func (c *Config) Validate() error {
	if c.Runtime.TickRate <= 0 || c.Runtime.TickRate > 1000 {
		return fmt.Errorf("tick rate %d out of range (1..1000)", c.Runtime.TickRate)
	}
	switch c.Network.Transport {
	case "websocket", "quic":
	default:
		return fmt.Errorf("unknown transport %q", c.Network.Transport)
	}
	if c.Sync.FlushBudget <= 0 {
		return fmt.Errorf("sync flush budget must be positive")
	}
	if c.Store.FlushInterval <= 0 {
		return fmt.Errorf("store flush interval must be positive")
	}
	return nil
}

// TickInterval is the duration of one game-logic tick.
func (c *Config) TickInterval() time.Duration {
	return time.Second / time.Duration(c.Runtime.TickRate)
}
