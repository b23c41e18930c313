package config

import (
	"path/filepath"
	"testing"
)

func TestLoadSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.yaml")
	cfg := EngineConfig{
		PageSizeExponent:   12,
		MaxCachePages:      256,
		JournalMode:        JournalModeWAL,
		CheckpointInterval: "@every 1m",
		WALPath:            "/tmp/db-wal",
	}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != cfg {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, cfg)
	}
}

func TestLoad_MissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}

func TestValidate_RejectsOutOfRangePageSizeExponent(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PageSizeExponent = 3
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error for an out-of-range page_size_exponent")
	}
}

func TestValidate_RejectsUnknownJournalMode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.JournalMode = "turbo"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error for an unknown journal_mode")
	}
}

func TestDefaultConfig_IsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("DefaultConfig() should validate cleanly: %v", err)
	}
}
