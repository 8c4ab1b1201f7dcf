package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/marmos91/stowfs/internal/bytesize"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "INFO" {
		t.Errorf("default log level = %q, want INFO", cfg.Logging.Level)
	}
	if cfg.Storage.ChunkSize != 8*bytesize.MiB {
		t.Errorf("default chunk size = %d, want 8MiB", cfg.Storage.ChunkSize)
	}
	if cfg.Worker.PartsConcurrency != 3 {
		t.Errorf("default parts concurrency = %d, want 3", cfg.Worker.PartsConcurrency)
	}
	if cfg.Worker.TrashRetention != 30*24*time.Hour {
		t.Errorf("default trash retention = %v", cfg.Worker.TrashRetention)
	}
	if cfg.Storage.CacheDeleteAfterUpload == nil || !*cfg.Storage.CacheDeleteAfterUpload {
		t.Error("cache_delete_after_upload should default to true")
	}
}

func TestLoadParsesSizesAndDurations(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: debug
storage:
  chunk_size: 4Mi
  bundle_single_file: 10Mi
  bundle_max: 40Mi
worker:
  poll_interval: 5s
  processing_stale: 1h
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("level = %q, want DEBUG (normalized)", cfg.Logging.Level)
	}
	if cfg.Storage.ChunkSize != 4*bytesize.MiB {
		t.Errorf("chunk size = %d, want 4MiB", cfg.Storage.ChunkSize)
	}
	if cfg.Storage.BundleMax != 40*bytesize.MiB {
		t.Errorf("bundle max = %d, want 40MiB", cfg.Storage.BundleMax)
	}
	if cfg.Worker.PollInterval != 5*time.Second {
		t.Errorf("poll interval = %v, want 5s", cfg.Worker.PollInterval)
	}
	if cfg.Worker.ProcessingStale != time.Hour {
		t.Errorf("processing stale = %v, want 1h", cfg.Worker.ProcessingStale)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: INFO
`)
	t.Setenv("STOWFS_LOGGING_LEVEL", "ERROR")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "ERROR" {
		t.Errorf("level = %q, want ERROR from environment", cfg.Logging.Level)
	}
}

func TestValidateRejectsInvertedDiskLimits(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Storage.DiskSoftLimitGb = 1
	cfg.Storage.DiskHardLimitGb = 5
	if err := Validate(cfg); err == nil {
		t.Error("expected error when hard limit exceeds soft limit")
	}
}

func TestValidateRejectsBadLevel(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Level = "LOUD"
	if err := Validate(cfg); err == nil {
		t.Error("expected error for unknown log level")
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.yaml")
	cfg := GetDefaultConfig()
	cfg.Server.Port = 9999
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("config file mode = %v, want 0600", info.Mode().Perm())
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Server.Port != 9999 {
		t.Errorf("port = %d, want 9999", loaded.Server.Port)
	}
}
