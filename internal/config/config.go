// Package config loads EpilogLite's engine-level configuration: page size,
// cache bounds, journal mode, and checkpoint cadence. None of this is part
// of the storage core's contract — it is the ambient configuration surface
// a deployable engine wraps the core with.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// JournalMode selects how the pager durably records mutations.
type JournalMode string

const (
	JournalModeRollback JournalMode = "rollback"
	JournalModeWAL      JournalMode = "wal"
)

// EngineConfig is the YAML-serializable configuration for one database.
type EngineConfig struct {
	// PageSizeExponent is p such that page size = 1 << p. Zero means "let
	// the engine run its page-size-selection benchmark on create."
	PageSizeExponent uint8 `yaml:"page_size_exponent"`

	// MaxCachePages bounds the pager's buffer cache. Zero means "derive
	// from 20% of available RAM", per spec.md §4.5.
	MaxCachePages int `yaml:"max_cache_pages"`

	// JournalMode selects Rollback or WAL durability.
	JournalMode JournalMode `yaml:"journal_mode"`

	// CheckpointInterval, if non-empty, is a cron expression driving the
	// background passive-checkpoint scheduler (see checkpointer.go). An
	// empty string disables the scheduler; callers must checkpoint
	// manually.
	CheckpointInterval string `yaml:"checkpoint_interval"`

	// WALPath overrides the default "<dbpath>-wal" sidecar location.
	WALPath string `yaml:"wal_path,omitempty"`
}

// DefaultConfig returns the configuration used when no YAML file is
// supplied: WAL mode with a five-minute passive checkpoint cadence.
func DefaultConfig() EngineConfig {
	return EngineConfig{
		JournalMode:        JournalModeWAL,
		CheckpointInterval: "@every 5m",
	}
}

// Load reads and validates an EngineConfig from a YAML file at path.
func Load(path string) (EngineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return EngineConfig{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return EngineConfig{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return EngineConfig{}, err
	}
	return cfg, nil
}

// Validate checks the fields that have a meaningful valid range.
func (c EngineConfig) Validate() error {
	if c.PageSizeExponent != 0 && (c.PageSizeExponent < 9 || c.PageSizeExponent > 63) {
		return fmt.Errorf("config: page_size_exponent %d out of range [9,63]", c.PageSizeExponent)
	}
	switch c.JournalMode {
	case "", JournalModeRollback, JournalModeWAL:
	default:
		return fmt.Errorf("config: unknown journal_mode %q", c.JournalMode)
	}
	return nil
}

// Save writes cfg to path as YAML, creating or truncating the file.
func Save(path string, cfg EngineConfig) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}
