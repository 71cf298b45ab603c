package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// NetWorthSnapshot is one user's aggregated position for one calendar day.
// Rows are upserted on (UserID, Date) and only ever overwritten by a
// same-day re-run.
type NetWorthSnapshot struct {
	Date              time.Time
	UserID            string
	TotalBalance      NetWorth
	BankBalance       decimal.Decimal
	InvestmentBalance decimal.Decimal
	CryptoBalance     decimal.Decimal
	DebtBalance       decimal.Decimal
}

// ComputeSnapshot aggregates a user's active accounts into a daily snapshot.
// Disconnected accounts are excluded so a broken link never distorts the
// totals. TotalBalance is the sum of display balances, which already carry
// the debt sign convention; the per-bucket figures are unsigned magnitudes.
func ComputeSnapshot(userID string, date time.Time, accounts []Account) NetWorthSnapshot {
	snapshot := NetWorthSnapshot{
		UserID:            userID,
		Date:              date,
		BankBalance:       decimal.Zero,
		InvestmentBalance: decimal.Zero,
		CryptoBalance:     decimal.Zero,
		DebtBalance:       decimal.Zero,
	}

	for i := range accounts {
		account := &accounts[i]
		if !account.IsActive() {
			continue
		}

		snapshot.TotalBalance = snapshot.TotalBalance.Add(account.DisplayBalance)

		switch account.Type {
		case AccountTypeCredit:
			snapshot.DebtBalance = snapshot.DebtBalance.Add(account.Owed)
		case AccountTypeInvestment:
			snapshot.InvestmentBalance = snapshot.InvestmentBalance.Add(account.DisplayBalance.Decimal())
		case AccountTypeCrypto:
			snapshot.CryptoBalance = snapshot.CryptoBalance.Add(account.DisplayBalance.Decimal())
		case AccountTypeDepository:
			snapshot.BankBalance = snapshot.BankBalance.Add(account.DisplayBalance.Decimal())
		}
	}

	return snapshot
}
