package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nestegg-fi/nestegg/internal/config"
	"github.com/nestegg-fi/nestegg/internal/storage"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long: `Initialize or update the database schema to the latest version.

This command ensures your local database has all the required
tables and indexes for the application to function properly.`,
		RunE: runMigrate,
	}

	cmd.Flags().Bool("status", false, "Show current migration status without applying changes")

	return cmd
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	status, _ := cmd.Flags().GetBool("status")

	// Get database path from config
	dbPath := viper.GetString("database.path")
	if dbPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		dbPath = filepath.Join(home, ".local", "share", "nestegg", "nestegg.db")
	}
	dbPath = config.ExpandPath(dbPath)

	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = store.Close() }()

	if status {
		version, err := store.SchemaVersion(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Database: %s\n", dbPath)
		fmt.Printf("Current version: %d\n", version)
		fmt.Printf("Latest version:  %d\n", storage.ExpectedSchemaVersion)
		if version < storage.ExpectedSchemaVersion {
			fmt.Println("Run 'nestegg migrate' to apply pending migrations.")
		}
		return nil
	}

	slog.Info("Running database migrations", "database", dbPath)

	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("Database migrations completed successfully")

	return nil
}
