package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/viper"

	"github.com/nestegg-fi/nestegg/internal/brokerage"
	"github.com/nestegg-fi/nestegg/internal/config"
	"github.com/nestegg-fi/nestegg/internal/plaid"
	"github.com/nestegg-fi/nestegg/internal/service"
	"github.com/nestegg-fi/nestegg/internal/storage"
	"github.com/nestegg-fi/nestegg/internal/wallet"
)

// initStorage initializes the storage service with proper path expansion.
func initStorage(ctx context.Context) (*storage.SQLiteStorage, error) {
	// Get database path from config
	dbPath := viper.GetString("database.path")
	if dbPath == "" {
		dbPath = "$HOME/.local/share/nestegg/nestegg.db"
	}

	// Expand tilde and environment variables
	dbPath = config.ExpandPath(dbPath)

	// Initialize storage
	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return nil, err
	}

	// Run migrations
	if err := store.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// loadPlaidConfig assembles Plaid credentials from config and environment.
func loadPlaidConfig() (plaid.Config, error) {
	cfg := plaid.Config{
		ClientID:    viper.GetString("plaid.client_id"),
		Secret:      viper.GetString("plaid.secret"),
		Environment: viper.GetString("plaid.environment"),
		AccessToken: viper.GetString("plaid.access_token"),
	}

	if cfg.ClientID == "" {
		cfg.ClientID = os.Getenv("PLAID_CLIENT_ID")
	}
	if cfg.Secret == "" {
		cfg.Secret = os.Getenv("PLAID_SECRET")
	}
	if cfg.Environment == "" {
		cfg.Environment = os.Getenv("PLAID_ENV")
		if cfg.Environment == "" {
			cfg.Environment = "production" // default - for real bank data
		}
	}

	if cfg.ClientID == "" || cfg.Secret == "" {
		return cfg, fmt.Errorf("plaid credentials missing. Please add your Client ID and Secret to the config file or set PLAID_CLIENT_ID and PLAID_SECRET environment variables")
	}

	return cfg, nil
}

// buildSources constructs every configured provider client. Providers
// without credentials are skipped with a log line, never an error: a user
// with only a bank connection still syncs.
func buildSources(ctx context.Context) ([]service.AccountSource, error) {
	var sources []service.AccountSource

	if plaidCfg, err := loadPlaidConfig(); err == nil && plaidCfg.AccessToken != "" {
		client, err := plaid.NewClient(plaidCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create Plaid client: %w", err)
		}
		sources = append(sources, client)
	} else {
		slog.Debug("Plaid source not configured, skipping")
	}

	if feedURL := viper.GetString("brokerage.feed_url"); feedURL != "" {
		client, err := brokerage.NewClient(brokerage.Config{
			FeedURL:     feedURL,
			AccessToken: viper.GetString("brokerage.access_token"),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create brokerage client: %w", err)
		}
		sources = append(sources, client)
	} else {
		slog.Debug("Brokerage source not configured, skipping")
	}

	if walletClient := buildWalletClient(ctx); walletClient != nil {
		sources = append(sources, walletClient)
	}

	if len(sources) == 0 {
		return nil, fmt.Errorf("no providers configured; connect at least one with 'nestegg link' or the config file")
	}

	return sources, nil
}

// buildWalletClient returns the wallet client, or nil when unconfigured.
func buildWalletClient(ctx context.Context) *wallet.Client {
	cfg := wallet.Config{
		Token:       viper.GetString("wallet.setup_token"),
		AccessURL:   viper.GetString("wallet.access_url"),
		AccessToken: viper.GetString("wallet.access_token"),
	}
	if cfg.Token == "" && cfg.AccessURL == "" {
		slog.Debug("Wallet source not configured, skipping")
		return nil
	}

	client, err := wallet.NewClient(ctx, cfg)
	if err != nil {
		slog.Warn("Failed to create wallet client, skipping", "error", err)
		return nil
	}
	return client
}

// snapshotLocation resolves the configured snapshot time zone.
func snapshotLocation() *time.Location {
	name := viper.GetString("snapshot.timezone")
	if name == "" {
		return time.UTC
	}
	location, err := time.LoadLocation(name)
	if err != nil {
		slog.Warn("Invalid snapshot timezone, using UTC", "timezone", name, "error", err)
		return time.UTC
	}
	return location
}

func saveConfig() error {
	configFile := viper.ConfigFileUsed()
	if configFile == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}
		configFile = filepath.Join(home, ".config", "nestegg", "config.yaml")
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(configFile), 0750); err != nil {
		return err
	}

	return viper.WriteConfigAs(configFile)
}

// openBrowser tries to open the URL in the default browser.
func openBrowser(url string) {
	var err error
	switch os := runtime.GOOS; os {
	case "linux":
		err = exec.Command("xdg-open", url).Start() //nolint:gosec,forbidigo
	case "windows":
		err = exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start() //nolint:gosec,forbidigo
	case "darwin":
		err = exec.Command("open", url).Start() //nolint:gosec,forbidigo
	}
	if err != nil {
		slog.Debug("Failed to open browser", "error", err)
	}
}
