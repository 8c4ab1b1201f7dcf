package commands

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marmos91/stowfs/internal/logger"
	"github.com/marmos91/stowfs/pkg/api"
	"github.com/marmos91/stowfs/pkg/api/auth"
	"github.com/marmos91/stowfs/pkg/config"
	"github.com/marmos91/stowfs/pkg/crypt"
	"github.com/marmos91/stowfs/pkg/mirror"
	"github.com/marmos91/stowfs/pkg/models"
	"github.com/marmos91/stowfs/pkg/provider"
	"github.com/marmos91/stowfs/pkg/reaper"
	"github.com/marmos91/stowfs/pkg/restore"
	"github.com/marmos91/stowfs/pkg/scheduler"
	"github.com/marmos91/stowfs/pkg/store"
	"github.com/marmos91/stowfs/pkg/uploader"
	"github.com/marmos91/stowfs/pkg/vault"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the stowfs server",
	Long: `Start the stowfs server with the specified configuration.

The server exposes the HTTP API and runs the background pipeline that
encrypts, uploads, mirrors, and reaps archives.

Examples:
  # Start with the default config location
  stowfs serve

  # Start with a custom config file
  stowfs serve --config /etc/stowfs/config.yaml

  # Start with environment variable overrides
  STOWFS_LOGGING_LEVEL=DEBUG stowfs serve`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(cfgFile)
	if err != nil {
		return err
	}
	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.New(&cfg.Database)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	if err := os.MkdirAll(cfg.Storage.CacheRoot, 0o755); err != nil {
		return fmt.Errorf("creating cache root: %w", err)
	}

	masterSecret, err := st.EnsureMasterSecret(ctx, cfg.Storage.MasterSecret)
	if err != nil {
		return fmt.Errorf("resolving master secret: %w", err)
	}
	cipher, err := crypt.New(crypt.DeriveKey(masterSecret))
	if err != nil {
		return fmt.Errorf("initializing cipher: %w", err)
	}

	jwtSecret, err := ensureJWTSecret(ctx, st, cfg.Auth.JWTSecret)
	if err != nil {
		return fmt.Errorf("resolving JWT secret: %w", err)
	}
	jwtService, err := auth.NewService(auth.Config{
		Secret:   jwtSecret,
		TokenTTL: cfg.Auth.TokenTTL,
	})
	if err != nil {
		return fmt.Errorf("initializing JWT service: %w", err)
	}

	pool := provider.NewRegistry(st, provider.NewHTTPClient(cfg.Worker.RetryMax))
	vaultSvc := vault.New(st, vault.Config{
		CacheRoot:             cfg.Storage.CacheRoot,
		ChunkSize:             int64(cfg.Storage.ChunkSize),
		BundleSingleFileBytes: int64(cfg.Storage.BundleSingleFile),
		BundleMaxBytes:        int64(cfg.Storage.BundleMax),
		DiskSoftLimitGb:       cfg.Storage.DiskSoftLimitGb,
		DiskHardLimitGb:       cfg.Storage.DiskHardLimitGb,
	})
	engine := restore.New(st, pool, cipher)
	worker := uploader.New(st, pool, cipher, uploader.Config{
		PartsConcurrency:         cfg.Worker.PartsConcurrency,
		RetryMax:                 cfg.Worker.RetryMax,
		DeleteStagingAfterUpload: *cfg.Storage.CacheDeleteAfterUpload,
	})
	sync := mirror.New(st, pool, engine, cfg.Worker.PartsConcurrency)
	reap := reaper.New(st, pool, cfg.Worker.TrashRetention)
	sched := scheduler.New(worker, sync, reap, scheduler.Config{
		PollInterval:    cfg.Worker.PollInterval,
		Concurrency:     cfg.Worker.Concurrency,
		StaleAfter:      cfg.Worker.ProcessingStale,
		CacheRoot:       cfg.Storage.CacheRoot,
		DiskSoftLimitGb: cfg.Storage.DiskSoftLimitGb,
		DiskHardLimitGb: cfg.Storage.DiskHardLimitGb,
	})

	router := api.NewRouter(api.RouterConfig{
		Store:          st,
		Vault:          vaultSvc,
		Engine:         engine,
		JWT:            jwtService,
		TempDir:        cfg.Storage.CacheRoot,
		MetricsEnabled: cfg.Server.MetricsEnabled,
	})
	server := api.NewServer(api.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, router)

	schedDone := make(chan error, 1)
	go func() {
		schedDone <- sched.Run(ctx)
	}()

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- server.Start()
	}()

	logger.Info("stowfs started", "version", Version)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverDone:
		if err != nil {
			cancel()
			<-schedDone
			return err
		}
	}

	cancel()
	if err := server.Shutdown(context.Background()); err != nil {
		logger.Error("API server shutdown error", logger.Err(err))
	}
	if err := <-schedDone; err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("scheduler stopped with error", logger.Err(err))
	}
	logger.Info("stowfs stopped")
	return nil
}

// ensureJWTSecret returns the override when set, otherwise loads the
// persisted secret, generating one on first boot.
func ensureJWTSecret(ctx context.Context, st *store.GORMStore, override string) (string, error) {
	if override != "" {
		return override, nil
	}
	const key = "jwt_secret"
	if secret, err := st.GetSetting(ctx, key); err == nil {
		return secret, nil
	} else if !errors.Is(err, models.ErrSettingNotFound) {
		return "", err
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	secret := hex.EncodeToString(buf)
	if err := st.SetSetting(ctx, key, secret); err != nil {
		return "", err
	}
	return secret, nil
}
