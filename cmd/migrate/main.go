package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"gasexchange-platform/internal/config"
	"gasexchange-platform/migrations"
	"gasexchange-platform/pkg/database"
	"gasexchange-platform/pkg/logging"
	"gasexchange-platform/pkg/metrics"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "gasx-migrate",
	Short: "Apply or roll back the run store schema",
	Long: `Applies the embedded schema for the configured driver (postgres or sqlite).

Examples:
  gasx-migrate up
  GASX_DB_DRIVER=sqlite GASX_DB_PATH=runs.db gasx-migrate up
  gasx-migrate down`,
	SilenceUsage: true,
}

func directionCmd(direction, short string) *cobra.Command {
	return &cobra.Command{
		Use:   direction,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return migrate(cmd.Context(), direction)
		},
	}
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv(config.EnvConfigPath), "path to a YAML config file")
	rootCmd.AddCommand(
		directionCmd(migrations.Up, "Create the schema"),
		directionCmd(migrations.Down, "Drop the schema"),
	)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func migrate(ctx context.Context, direction string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := logging.NewStructuredLogger("gasx-migrate", "1.0.0", cfg.Logging.LogLevel())
	defer logger.Sync()

	db, err := database.Open(cfg.Database.Connection(), logger, metrics.NewNopCollector())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	fmt.Printf("Connected to %s database successfully\n", db.Driver())

	applied, err := db.Migrate(ctx, direction)
	for _, name := range applied {
		fmt.Printf("Applied migration: %s\n", name)
	}
	if err != nil {
		return err
	}

	fmt.Println("Migration completed successfully")
	return nil
}
