package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dotvm.yaml")
	contents := "data_dir: /var/lib/dotvm\nbuffer_pool_frames: 64\nwal_sync: interval\n"
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DataDir != "/var/lib/dotvm" {
		t.Fatalf("expected overridden data_dir, got %q", cfg.DataDir)
	}
	if cfg.BufferPoolFrames != 64 {
		t.Fatalf("expected overridden buffer_pool_frames, got %d", cfg.BufferPoolFrames)
	}
	if cfg.WALSync != SyncInterval {
		t.Fatalf("expected overridden wal_sync, got %q", cfg.WALSync)
	}
	if cfg.PageSize != Default().PageSize {
		t.Fatalf("expected default page_size to survive, got %d", cfg.PageSize)
	}
}

func TestLoadRejectsUnknownIsolation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dotvm.yaml")
	if err := os.WriteFile(path, []byte("default_isolation: bogus\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for unknown isolation level")
	}
}

func TestLoadMissingFileErrors(t *testing.T) {
	if _, err := Load("/nonexistent/path.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}
