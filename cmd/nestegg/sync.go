package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/nestegg-fi/nestegg/internal/engine"
	"github.com/nestegg-fi/nestegg/internal/model"
)

func syncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Fetch balances from all connected providers",
		Long: `Fetch current account balances from every connected provider and
store the normalized results locally.

Providers that fail transiently are retried; providers whose credentials
have been revoked are marked disconnected and skipped until relinked.`,
		RunE: runSync,
	}

	cmd.Flags().String("user", "default", "user ID to sync accounts for")

	return cmd
}

func runSync(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	userID, _ := cmd.Flags().GetString("user")

	store, err := initStorage(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = store.Close()
	}()

	sources, err := buildSources(ctx)
	if err != nil {
		return err
	}

	if err := store.EnsureUser(ctx, userID); err != nil {
		return err
	}

	eng := engine.New(store, sources...)

	slog.Info("Syncing accounts", "user_id", userID, "sources", len(sources))

	accounts, err := eng.SyncUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	if len(accounts) == 0 {
		fmt.Println("No accounts found. Run 'nestegg link' to connect one.")
		return nil
	}

	var net model.NetWorth
	for _, acct := range accounts {
		net = net.Add(acct.DisplayBalance)
		fmt.Println(accountLine(acct))
	}
	fmt.Printf("\nNet worth: %s\n", net)

	slog.Info("Sync complete", "user_id", userID, "accounts", len(accounts))

	return nil
}

// accountLine formats one synced account for the terminal summary. Accounts
// carry no display name of their own; the institution is the label.
func accountLine(acct model.Account) string {
	return fmt.Sprintf("%-30s %-20s %12s %s",
		acct.Institution, acct.ID, acct.DisplayBalance, acct.Status)
}
