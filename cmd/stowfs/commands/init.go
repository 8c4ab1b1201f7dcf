package commands

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/marmos91/stowfs/pkg/config"
	"github.com/marmos91/stowfs/pkg/models"
	"github.com/marmos91/stowfs/pkg/store"
)

var (
	initForce         bool
	initAdminPassword string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the configuration file and admin account",
	Long: `Initialize a stowfs configuration file and bootstrap the admin user.

By default, the configuration file is created at
$XDG_CONFIG_HOME/stowfs/config.yaml. Use --config to specify a custom path.

Examples:
  # Initialize with default location
  stowfs init --admin-password <password>

  # Initialize with custom path
  stowfs init --config /etc/stowfs/config.yaml --admin-password <password>

  # Force overwrite an existing config file
  stowfs init --force --admin-password <password>`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
	initCmd.Flags().StringVar(&initAdminPassword, "admin-password", "", "Password for the bootstrap admin user")
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath := cfgFile
	if configPath == "" {
		configPath = config.GetDefaultConfigPath()
	}
	if _, err := os.Stat(configPath); err == nil && !initForce {
		return fmt.Errorf("config file already exists at %s (use --force to overwrite)", configPath)
	}

	cfg := config.GetDefaultConfig()
	if err := config.SaveConfig(cfg, configPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	fmt.Printf("Configuration file created at: %s\n", configPath)

	if initAdminPassword != "" {
		if err := bootstrapAdmin(cfg, initAdminPassword); err != nil {
			return err
		}
		fmt.Printf("Admin user %q created\n", cfg.Admin.Username)
	} else {
		fmt.Println("\nNo --admin-password given; create the admin account by re-running:")
		fmt.Printf("  stowfs init --config %s --admin-password <password>\n", configPath)
	}

	fmt.Println("\nNext steps:")
	fmt.Println("  1. Edit the configuration file to customize your setup")
	fmt.Println("  2. Register provider handles through the admin API")
	fmt.Println("  3. Start the server with: stowfs serve")
	fmt.Println("\nSecurity note:")
	fmt.Println("  Encryption and JWT secrets are generated on first boot and persisted")
	fmt.Println("  in the database. To pin them explicitly, use environment variables:")
	fmt.Println("    export STOWFS_STORAGE_MASTER_SECRET=$(openssl rand -hex 32)")
	fmt.Println("    export STOWFS_AUTH_JWT_SECRET=$(openssl rand -hex 32)")
	return nil
}

// bootstrapAdmin creates or resets the admin user in the configured store.
func bootstrapAdmin(cfg *config.Config, password string) error {
	if len(password) < 8 {
		return errors.New("admin password must be at least 8 characters")
	}
	st, err := store.New(&cfg.Database)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	ctx := context.Background()
	existing, err := st.GetUser(ctx, cfg.Admin.Username)
	switch {
	case err == nil:
		if err := st.SetPasswordHash(ctx, existing.ID, string(hash)); err != nil {
			return fmt.Errorf("resetting admin password: %w", err)
		}
	case errors.Is(err, models.ErrUserNotFound):
		user := &models.User{
			Username:     cfg.Admin.Username,
			PasswordHash: string(hash),
			Role:         string(models.RoleAdmin),
			Enabled:      true,
		}
		if _, err := st.CreateUser(ctx, user); err != nil {
			return fmt.Errorf("creating admin user: %w", err)
		}
	default:
		return fmt.Errorf("looking up admin user: %w", err)
	}
	return nil
}
