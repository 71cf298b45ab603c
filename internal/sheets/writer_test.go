package sheets

import (
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nestegg-fi/nestegg/internal/model"
)

func TestPrepareExportData(t *testing.T) {
	w := &Writer{
		config: DefaultConfig(),
		logger: slog.Default(),
	}

	accounts := []model.Account{
		{
			ID:             "acc-2",
			Institution:    "Zenith Brokerage",
			Type:           model.AccountTypeInvestment,
			Subtype:        "brokerage",
			Status:         model.StatusConnected,
			DisplayBalance: model.NetWorthFromDecimal(decimal.RequireFromString("3700.25")),
			LastCheckedAt:  time.Date(2026, 1, 10, 6, 0, 0, 0, time.UTC),
		},
		{
			ID:             "acc-1",
			Institution:    "First National",
			Type:           model.AccountTypeDepository,
			Subtype:        "checking",
			Status:         model.StatusConnected,
			DisplayBalance: model.NetWorthFromDecimal(decimal.RequireFromString("1250.50")),
			LastCheckedAt:  time.Date(2026, 1, 10, 6, 0, 0, 0, time.UTC),
		},
	}

	snapshots := []model.NetWorthSnapshot{
		{
			UserID:       "user-1",
			Date:         time.Date(2026, 1, 9, 0, 0, 0, 0, time.UTC),
			TotalBalance: model.NetWorthFromDecimal(decimal.RequireFromString("4900.00")),
			BankBalance:  decimal.RequireFromString("1200.00"),
		},
		{
			UserID:       "user-1",
			Date:         time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC),
			TotalBalance: model.NetWorthFromDecimal(decimal.RequireFromString("4950.75")),
			BankBalance:  decimal.RequireFromString("1250.50"),
		},
	}

	values := w.prepareExportData("user-1", accounts, snapshots)

	require.NotEmpty(t, values)
	assert.Equal(t, []any{"Net Worth Report", "user-1"}, values[0])

	// Accounts sorted by institution.
	assert.Equal(t, "First National", values[5][0])
	assert.Equal(t, "Zenith Brokerage", values[6][0])
	assert.Equal(t, "1250.50", values[5][4])

	// History is newest first.
	historyStart := len(values) - 2
	assert.Equal(t, "2026-01-10", values[historyStart][0])
	assert.Equal(t, "2026-01-09", values[historyStart+1][0])
	assert.Equal(t, "4950.75", values[historyStart][1])
	assert.Equal(t, "1250.50", values[historyStart][2])
}

func TestPrepareExportDataEmpty(t *testing.T) {
	w := &Writer{
		config: DefaultConfig(),
		logger: slog.Default(),
	}

	values := w.prepareExportData("user-1", nil, nil)

	// Headers still present with no rows.
	require.Len(t, values, 8)
	assert.Equal(t, []any{"Accounts"}, values[3])
	assert.Equal(t, []any{"Daily History"}, values[6])
}
