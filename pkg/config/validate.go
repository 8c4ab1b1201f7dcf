package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validate checks the configuration for structural and semantic errors.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return err
	}
	if err := cfg.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if cfg.Storage.DiskHardLimitGb > cfg.Storage.DiskSoftLimitGb {
		return fmt.Errorf("storage: disk_hard_limit_gb (%d) must not exceed disk_soft_limit_gb (%d)",
			cfg.Storage.DiskHardLimitGb, cfg.Storage.DiskSoftLimitGb)
	}
	if cfg.Storage.BundleSingleFile > cfg.Storage.BundleMax {
		return fmt.Errorf("storage: bundle_single_file must not exceed bundle_max")
	}
	return nil
}
