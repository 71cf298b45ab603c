package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nestegg-fi/nestegg/internal/model"
	"github.com/nestegg-fi/nestegg/internal/sheets"
	"github.com/nestegg-fi/nestegg/internal/storage"
	"github.com/nestegg-fi/nestegg/internal/testutil"
)

func seedExportData(t *testing.T, ctx context.Context, store *storage.SQLiteStorage) {
	t.Helper()

	account := &model.Account{
		ID:             "chk-1",
		UserID:         "user-1",
		Provider:       model.ProviderBank,
		Institution:    "First National",
		Type:           model.AccountTypeDepository,
		Subtype:        "checking",
		Currency:       "USD",
		Status:         model.StatusConnected,
		DisplayBalance: model.NetWorthFromDecimal(decimal.RequireFromString("2400.00")),
		Ledger:         decimal.RequireFromString("2500.00"),
		Available:      decimal.RequireFromString("2400.00"),
		LastCheckedAt:  time.Now().UTC(),
	}
	require.NoError(t, store.UpsertAccount(ctx, account))

	snapshot := &model.NetWorthSnapshot{
		UserID:       "user-1",
		Date:         time.Now().UTC().AddDate(0, 0, -1),
		TotalBalance: model.NetWorthFromDecimal(decimal.RequireFromString("2400.00")),
		BankBalance:  decimal.RequireFromString("2400.00"),
	}
	require.NoError(t, store.UpsertSnapshot(ctx, snapshot))
}

func TestRunExportDeliversAccountsAndSnapshots(t *testing.T) {
	store := testutil.SetupTestDB(t)
	ctx := context.Background()
	seedExportData(t, ctx, store)

	exporter := sheets.NewMockExporter()

	accountCount, snapshotCount, err := runExport(ctx, store, exporter, "user-1", 30)
	require.NoError(t, err)
	assert.Equal(t, 1, accountCount)
	assert.Equal(t, 1, snapshotCount)

	require.Equal(t, 1, exporter.ExportCallCount)
	call := exporter.ExportCalls[0]
	assert.Equal(t, "user-1", call.UserID)
	require.Len(t, call.Accounts, 1)
	assert.Equal(t, "chk-1", call.Accounts[0].ID)
	require.Len(t, call.Snapshots, 1)
	assert.True(t, call.Snapshots[0].TotalBalance.Decimal().Equal(decimal.RequireFromString("2400.00")))
}

func TestRunExportSkipsExporterWhenEmpty(t *testing.T) {
	store := testutil.SetupTestDB(t)
	ctx := context.Background()

	exporter := sheets.NewMockExporter()

	accountCount, snapshotCount, err := runExport(ctx, store, exporter, "user-1", 30)
	require.NoError(t, err)
	assert.Zero(t, accountCount)
	assert.Zero(t, snapshotCount)
	assert.Zero(t, exporter.ExportCallCount)
}

func TestRunExportPropagatesExporterFailure(t *testing.T) {
	store := testutil.SetupTestDB(t)
	ctx := context.Background()
	seedExportData(t, ctx, store)

	exporter := sheets.NewMockExporter()
	exporter.ExportFunc = func(context.Context, string, []model.Account, []model.NetWorthSnapshot) error {
		return errors.New("spreadsheet unavailable")
	}

	_, _, err := runExport(ctx, store, exporter, "user-1", 30)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "spreadsheet unavailable")
}
