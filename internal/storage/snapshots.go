package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/nestegg-fi/nestegg/internal/model"
)

// snapshotDateLayout is how snapshot dates are keyed. One row per user per
// calendar day; a same-day re-run overwrites.
const snapshotDateLayout = "2006-01-02"

// UpsertSnapshot writes a daily net worth snapshot, replacing any existing
// row for the same user and date.
func (s *SQLiteStorage) UpsertSnapshot(ctx context.Context, snapshot *model.NetWorthSnapshot) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateSnapshot(snapshot); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO net_worth_snapshots (
			user_id, date, total_balance, bank_balance,
			investment_balance, crypto_balance, debt_balance
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, date) DO UPDATE SET
			total_balance = excluded.total_balance,
			bank_balance = excluded.bank_balance,
			investment_balance = excluded.investment_balance,
			crypto_balance = excluded.crypto_balance,
			debt_balance = excluded.debt_balance
	`,
		snapshot.UserID,
		snapshot.Date.Format(snapshotDateLayout),
		snapshot.TotalBalance.Decimal().String(),
		snapshot.BankBalance.String(),
		snapshot.InvestmentBalance.String(),
		snapshot.CryptoBalance.String(),
		snapshot.DebtBalance.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert snapshot: %w", err)
	}
	return nil
}

// GetSnapshots retrieves a user's snapshots within [start, end], ordered by
// date ascending.
func (s *SQLiteStorage) GetSnapshots(ctx context.Context, userID string, start, end time.Time) ([]model.NetWorthSnapshot, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(userID, "userID"); err != nil {
		return nil, err
	}
	if start.After(end) {
		return nil, ErrInvalidDateRange
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, date, total_balance, bank_balance,
			investment_balance, crypto_balance, debt_balance
		FROM net_worth_snapshots
		WHERE user_id = ? AND date >= ? AND date <= ?
		ORDER BY date
	`, userID, start.Format(snapshotDateLayout), end.Format(snapshotDateLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var snapshots []model.NetWorthSnapshot
	for rows.Next() {
		var snapshot model.NetWorthSnapshot
		var date, total, bank, investment, crypto, debt string

		if err := rows.Scan(&snapshot.UserID, &date, &total, &bank, &investment, &crypto, &debt); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}

		if snapshot.Date, err = time.Parse(snapshotDateLayout, date); err != nil {
			return nil, fmt.Errorf("corrupt snapshot date %q: %w", date, err)
		}

		totalValue, err := parseDecimal(total)
		if err != nil {
			return nil, err
		}
		snapshot.TotalBalance = model.NetWorthFromDecimal(totalValue)

		if snapshot.BankBalance, err = parseDecimal(bank); err != nil {
			return nil, err
		}
		if snapshot.InvestmentBalance, err = parseDecimal(investment); err != nil {
			return nil, err
		}
		if snapshot.CryptoBalance, err = parseDecimal(crypto); err != nil {
			return nil, err
		}
		if snapshot.DebtBalance, err = parseDecimal(debt); err != nil {
			return nil, err
		}

		snapshots = append(snapshots, snapshot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate snapshots: %w", err)
	}
	return snapshots, nil
}
