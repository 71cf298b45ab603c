package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/nestegg-fi/nestegg/internal/config"
	"github.com/nestegg-fi/nestegg/internal/service"
	"github.com/nestegg-fi/nestegg/internal/sheets"
)

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export account data to external destinations",
	}

	cmd.AddCommand(exportSheetsCmd())

	return cmd
}

func exportSheetsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sheets",
		Short: "Export accounts and net worth history to Google Sheets",
		Long: `Export the current account list and daily net worth history to a
Google Sheets spreadsheet.

Requires Google credentials; run 'nestegg auth sheets' first or
configure a service account.`,
		RunE: runExportSheets,
	}

	cmd.Flags().String("user", "default", "user ID to export")
	cmd.Flags().Int("days", 90, "days of snapshot history to include")

	return cmd
}

func runExportSheets(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	userID, _ := cmd.Flags().GetString("user")
	days, _ := cmd.Flags().GetInt("days")
	if days <= 0 {
		return fmt.Errorf("--days must be positive, got %d", days)
	}

	store, err := initStorage(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = store.Close()
	}()

	sheetsCfg, err := config.LoadSheetsConfig()
	if err != nil {
		return fmt.Errorf("failed to load sheets config: %w", err)
	}

	writer, err := sheets.NewWriter(ctx, *sheetsCfg, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to create sheets writer: %w", err)
	}

	accountCount, snapshotCount, err := runExport(ctx, store, writer, userID, days)
	if err != nil {
		return err
	}

	if accountCount == 0 && snapshotCount == 0 {
		fmt.Println("Nothing to export. Run 'nestegg sync' first.")
		return nil
	}

	fmt.Printf("Exported %d accounts and %d snapshots to %q\n",
		accountCount, snapshotCount, sheetsCfg.SpreadsheetName)

	return nil
}

// runExport loads the user's accounts and snapshot history and hands them to
// the exporter. Returns the counts it exported; both zero means there was
// nothing to send and the exporter was never called.
func runExport(ctx context.Context, repo service.Repository, exporter service.SnapshotExporter, userID string, days int) (int, int, error) {
	accounts, err := repo.GetAccountsForUser(ctx, userID)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to load accounts: %w", err)
	}

	end := time.Now()
	start := end.AddDate(0, 0, -days)
	snapshots, err := repo.GetSnapshots(ctx, userID, start, end)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to load snapshots: %w", err)
	}

	if len(accounts) == 0 && len(snapshots) == 0 {
		return 0, 0, nil
	}

	slog.Info("Exporting snapshot history",
		"user_id", userID,
		"accounts", len(accounts),
		"snapshots", len(snapshots))

	if err := exporter.Export(ctx, userID, accounts, snapshots); err != nil {
		return 0, 0, fmt.Errorf("export failed: %w", err)
	}

	return len(accounts), len(snapshots), nil
}
