package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/marmos91/stowfs/internal/bytesize"
)

// ApplyDefaults sets default values for any unspecified configuration
// fields.
//
// Default Strategy:
//   - Zero values (0, "", nil) are replaced with defaults
//   - Explicit values are preserved
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyStorageDefaults(&cfg.Storage)
	applyWorkerDefaults(&cfg.Worker)
	applyAuthDefaults(&cfg.Auth)
	applyAdminDefaults(&cfg.Admin)
	cfg.Database.ApplyDefaults()
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
}

func applyStorageDefaults(cfg *StorageConfig) {
	if cfg.CacheRoot == "" {
		cfg.CacheRoot = defaultCacheRoot()
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = 8 * bytesize.MiB
	}
	if cfg.BundleSingleFile == 0 {
		cfg.BundleSingleFile = 50 * bytesize.MiB
	}
	if cfg.BundleMax == 0 {
		cfg.BundleMax = 200 * bytesize.MiB
	}
	if cfg.DiskSoftLimitGb == 0 {
		cfg.DiskSoftLimitGb = 5
	}
	if cfg.DiskHardLimitGb == 0 {
		cfg.DiskHardLimitGb = 1
	}
	if cfg.CacheDeleteAfterUpload == nil {
		v := true
		cfg.CacheDeleteAfterUpload = &v
	}
}

func applyWorkerDefaults(cfg *WorkerConfig) {
	if cfg.Concurrency == 0 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.PartsConcurrency == 0 {
		cfg.PartsConcurrency = 3
	}
	if cfg.RetryMax == 0 {
		cfg.RetryMax = 5
	}
	if cfg.ProcessingStale == 0 {
		cfg.ProcessingStale = 30 * time.Minute
	}
	if cfg.TrashRetention == 0 {
		cfg.TrashRetention = 30 * 24 * time.Hour
	}
}

func applyAuthDefaults(cfg *AuthConfig) {
	if cfg.TokenTTL == 0 {
		cfg.TokenTTL = 24 * time.Hour
	}
}

func applyAdminDefaults(cfg *AdminConfig) {
	if cfg.Username == "" {
		cfg.Username = "admin"
	}
}

// GetDefaultConfig returns a fully defaulted configuration.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// defaultCacheRoot returns the scratch directory, honoring XDG_CACHE_HOME.
func defaultCacheRoot() string {
	if xdgCache := os.Getenv("XDG_CACHE_HOME"); xdgCache != "" {
		return filepath.Join(xdgCache, "stowfs")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "stowfs")
	}
	return filepath.Join(home, ".cache", "stowfs")
}
