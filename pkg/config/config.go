// Package config decodes DotVM's on-disk YAML configuration into a
// typed Config, mirroring the teacher's flag-driven Config structs
// (pkg/worker.Config, pkg/manager.Config) but file-based since this
// core ships a thin demo binary rather than a cluster-joining agent.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dotlanth/dotvm/pkg/types"
)

// WALSyncPolicy selects how aggressively the write-ahead log forces
// to durable storage.
type WALSyncPolicy string

const (
	// SyncAlways forces after every commit record.
	SyncAlways WALSyncPolicy = "always"
	// SyncInterval forces on a fixed timer, batching commits between
	// ticks.
	SyncInterval WALSyncPolicy = "interval"
	// SyncNever never forces explicitly, relying on the OS page cache
	// and an eventual checkpoint. Durability is lost on crash; useful
	// only for throwaway/test databases.
	SyncNever WALSyncPolicy = "never"
)

// Config is DotVM's full runtime configuration.
type Config struct {
	DataDir              string              `yaml:"data_dir"`
	PageSize             int                 `yaml:"page_size"`
	BufferPoolFrames     int                 `yaml:"buffer_pool_frames"`
	EvictionPolicy       string              `yaml:"eviction_policy"`
	WALSync              WALSyncPolicy       `yaml:"wal_sync"`
	WALSyncIntervalMS    int                 `yaml:"wal_sync_interval_ms"`
	DefaultIsolation     types.IsolationLevel `yaml:"default_isolation"`
	MaxModuleBytes       int                 `yaml:"max_module_bytes"`
	SandboxPolicyPath    string              `yaml:"sandbox_policy_path"`
	Log                  LogConfig           `yaml:"log"`
}

// LogConfig is the logging subset of Config, kept separate so
// pkg/log.Config's own shape (Level, JSONOutput, Output) can be built
// from it without pkg/log importing pkg/config.
type LogConfig struct {
	Level      string `yaml:"level"`
	JSONOutput bool   `yaml:"json_output"`
}

// Default returns the configuration DotVM runs with when no config
// file is supplied.
func Default() Config {
	return Config{
		DataDir:           "./data",
		PageSize:          4096,
		BufferPoolFrames:  1024,
		EvictionPolicy:    "lru",
		WALSync:           SyncAlways,
		WALSyncIntervalMS: 100,
		DefaultIsolation:  types.ReadCommitted,
		MaxModuleBytes:    16 * 1024 * 1024,
		SandboxPolicyPath: "",
		Log: LogConfig{
			Level:      "info",
			JSONOutput: true,
		},
	}
}

// Load reads and decodes a YAML config file at path, filling in any
// field the file omits from Default.
func Load(path string) (Config, error) {
	cfg := Default()

	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Validate checks the fields Load cannot safely default around.
func (c Config) Validate() error {
	if c.PageSize <= 0 {
		return fmt.Errorf("page_size must be positive, got %d", c.PageSize)
	}
	if c.BufferPoolFrames <= 0 {
		return fmt.Errorf("buffer_pool_frames must be positive, got %d", c.BufferPoolFrames)
	}
	switch c.WALSync {
	case SyncAlways, SyncInterval, SyncNever:
	default:
		return fmt.Errorf("unknown wal_sync policy %q", c.WALSync)
	}
	switch c.DefaultIsolation {
	case types.ReadUncommitted, types.ReadCommitted, types.RepeatableRead, types.Serializable:
	default:
		return fmt.Errorf("unknown default_isolation %q", c.DefaultIsolation)
	}
	if c.MaxModuleBytes <= 0 {
		return fmt.Errorf("max_module_bytes must be positive, got %d", c.MaxModuleBytes)
	}
	return nil
}
