// Package config loads the stowfs configuration from file, environment,
// and defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/marmos91/stowfs/internal/bytesize"
	"github.com/marmos91/stowfs/pkg/store"
)

// Config is the stowfs server configuration.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (STOWFS_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Server configures the HTTP API listener.
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Database configures the metadata store (SQLite or PostgreSQL).
	Database store.Config `mapstructure:"database" yaml:"database"`

	// Storage configures encryption, staging, and bundling.
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`

	// Worker configures the background upload/mirror/reap pipeline.
	Worker WorkerConfig `mapstructure:"worker" yaml:"worker"`

	// Auth configures API authentication.
	Auth AuthConfig `mapstructure:"auth" yaml:"auth"`

	// Admin holds the bootstrap admin credentials used by 'stowfs init'.
	Admin AdminConfig `mapstructure:"admin" yaml:"admin"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level: DEBUG, INFO, WARN, ERROR.
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format is the log output format: text or json.
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output is where logs are written: stdout, stderr, or a file path.
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// ServerConfig configures the HTTP API listener.
type ServerConfig struct {
	// Host is the bind address.
	Host string `mapstructure:"host" yaml:"host"`

	// Port is the listen port.
	Port int `mapstructure:"port" validate:"required,min=1,max=65535" yaml:"port"`

	// MetricsEnabled exposes Prometheus metrics on /metrics.
	MetricsEnabled bool `mapstructure:"metrics_enabled" yaml:"metrics_enabled"`
}

// StorageConfig configures encryption, staging, and bundling.
type StorageConfig struct {
	// MasterSecret seeds the encryption key. When empty, a random secret
	// is generated on first boot and persisted in the settings table.
	// Override: STOWFS_STORAGE_MASTER_SECRET
	MasterSecret string `mapstructure:"master_secret" yaml:"master_secret,omitempty"`

	// CacheRoot is the scratch tree for staging and restore work.
	CacheRoot string `mapstructure:"cache_root" validate:"required" yaml:"cache_root"`

	// ChunkSize is the plaintext chunk size per part.
	// Supports human-readable sizes: "8Mi", "4MB".
	ChunkSize bytesize.ByteSize `mapstructure:"chunk_size" yaml:"chunk_size,omitempty"`

	// BundleSingleFile is the size at or above which an uploaded file
	// always becomes its own archive.
	BundleSingleFile bytesize.ByteSize `mapstructure:"bundle_single_file" yaml:"bundle_single_file,omitempty"`

	// BundleMax caps the total plaintext size of one bundle.
	BundleMax bytesize.ByteSize `mapstructure:"bundle_max" yaml:"bundle_max,omitempty"`

	// DiskSoftLimitGb and DiskHardLimitGb gate background work on free
	// staging space: below soft, work is throttled; below hard, no new
	// work is leased and uploads are rejected.
	DiskSoftLimitGb int `mapstructure:"disk_soft_limit_gb" validate:"min=0" yaml:"disk_soft_limit_gb"`
	DiskHardLimitGb int `mapstructure:"disk_hard_limit_gb" validate:"min=0" yaml:"disk_hard_limit_gb"`

	// CacheDeleteAfterUpload removes staging bytes once an archive is
	// ready. Disable to keep a local plaintext cache.
	CacheDeleteAfterUpload *bool `mapstructure:"cache_delete_after_upload" yaml:"cache_delete_after_upload,omitempty"`
}

// WorkerConfig configures the background pipeline.
type WorkerConfig struct {
	// Concurrency bounds parallel archive workers per process.
	Concurrency int `mapstructure:"concurrency" validate:"min=0" yaml:"concurrency"`

	// PollInterval is the scheduler tick period.
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`

	// PartsConcurrency bounds parallel part uploads within one archive.
	PartsConcurrency int `mapstructure:"parts_concurrency" validate:"min=0" yaml:"parts_concurrency"`

	// RetryMax is the archive-level retry budget for transient failures.
	RetryMax int `mapstructure:"retry_max" validate:"min=0" yaml:"retry_max"`

	// ProcessingStale is the age at which a processing lease is assumed
	// dead and requeued.
	ProcessingStale time.Duration `mapstructure:"processing_stale" yaml:"processing_stale"`

	// TrashRetention is how long trashed archives survive before the
	// reaper deletes them.
	TrashRetention time.Duration `mapstructure:"trash_retention" yaml:"trash_retention"`
}

// AuthConfig configures API authentication.
type AuthConfig struct {
	// JWTSecret signs bearer tokens. Generated and persisted on first
	// boot when empty.
	// Override: STOWFS_AUTH_JWT_SECRET
	JWTSecret string `mapstructure:"jwt_secret" yaml:"jwt_secret,omitempty"`

	// TokenTTL is the bearer token lifetime.
	TokenTTL time.Duration `mapstructure:"token_ttl" yaml:"token_ttl"`
}

// AdminConfig holds the bootstrap admin user for 'stowfs init'.
type AdminConfig struct {
	// Username is the admin username.
	Username string `mapstructure:"username" yaml:"username"`

	// PasswordHash is the bcrypt hash of the admin password.
	PasswordHash string `mapstructure:"password_hash" yaml:"password_hash,omitempty"`
}

// Load loads configuration from file, environment, and defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}
	if !configFileFound {
		cfg := GetDefaultConfig()
		return cfg, nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// MustLoad loads configuration with a helpful error when the file is
// missing.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  stowfs init\n\n"+
				"Or specify a custom config file:\n"+
				"  stowfs <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s\n\n"+
			"Please create the configuration file:\n"+
			"  stowfs init --config %s",
			configPath, configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes the configuration to path as YAML. File permissions
// are restricted because the file may hold secrets.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// setupViper configures environment variable support and the config file
// search path. Environment variables use the STOWFS_ prefix with
// underscores, e.g. STOWFS_LOGGING_LEVEL=DEBUG.
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("STOWFS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

// byteSizeDecodeHook converts strings and numbers to bytesize.ByteSize so
// config files can say "8Mi" or "100MB".
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook converts strings to time.Duration so config files can
// say "30s" or "5m".
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory, honoring
// XDG_CONFIG_HOME.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "stowfs")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "stowfs")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks for a config file at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory (for the init command).
func GetConfigDir() string {
	return getConfigDir()
}
