package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nestegg-fi/nestegg/internal/common"
	"github.com/nestegg-fi/nestegg/internal/model"
)

// UpsertAccount writes an account, fully replacing any existing row with the
// same ID. Sync never merges partial account state.
func (s *SQLiteStorage) UpsertAccount(ctx context.Context, account *model.Account) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateAccount(account); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (
			id, user_id, provider, institution, type, subtype, currency,
			status, display_balance, ledger, available, owed,
			available_credit, last_checked_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			provider = excluded.provider,
			institution = excluded.institution,
			type = excluded.type,
			subtype = excluded.subtype,
			currency = excluded.currency,
			status = excluded.status,
			display_balance = excluded.display_balance,
			ledger = excluded.ledger,
			available = excluded.available,
			owed = excluded.owed,
			available_credit = excluded.available_credit,
			last_checked_at = excluded.last_checked_at
	`,
		account.ID,
		account.UserID,
		string(account.Provider),
		account.Institution,
		string(account.Type),
		account.Subtype,
		account.Currency,
		string(account.Status),
		account.DisplayBalance.Decimal().String(),
		account.Ledger.String(),
		account.Available.String(),
		account.Owed.String(),
		account.AvailableCredit.String(),
		account.LastCheckedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert account: %w", err)
	}
	return nil
}

// GetAccount retrieves a single account by ID.
func (s *SQLiteStorage) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, accountColumns+` WHERE id = ?`, id)
	account, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return account, nil
}

// GetAccountsForUser retrieves all of a user's accounts, including
// disconnected ones. Callers filter on status when they only want the
// active view.
func (s *SQLiteStorage) GetAccountsForUser(ctx context.Context, userID string) ([]model.Account, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(userID, "userID"); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, accountColumns+` WHERE user_id = ? ORDER BY institution, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var accounts []model.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, *account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate accounts: %w", err)
	}
	return accounts, nil
}

// UpdateAccountStatus changes only the connection status of an account,
// leaving its last known balances intact.
func (s *SQLiteStorage) UpdateAccountStatus(ctx context.Context, id string, status model.ConnectionStatus) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET status = ? WHERE id = ?`,
		string(status), id)
	if err != nil {
		return fmt.Errorf("failed to update account status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("account %s: %w", id, common.ErrNotFound)
	}
	return nil
}

// DeleteAccount removes an account permanently.
func (s *SQLiteStorage) DeleteAccount(ctx context.Context, id string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("account %s: %w", id, common.ErrNotFound)
	}
	return nil
}

const accountColumns = `
	SELECT id, user_id, provider, institution, type, subtype, currency,
		status, display_balance, ledger, available, owed,
		available_credit, last_checked_at
	FROM accounts`

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(row scanner) (*model.Account, error) {
	var account model.Account
	var provider, accountType, status string
	var display, ledger, available, owed, availableCredit string

	err := row.Scan(
		&account.ID,
		&account.UserID,
		&provider,
		&account.Institution,
		&accountType,
		&account.Subtype,
		&account.Currency,
		&status,
		&display,
		&ledger,
		&available,
		&owed,
		&availableCredit,
		&account.LastCheckedAt,
	)
	if err != nil {
		return nil, err
	}

	account.Provider = model.Provider(provider)
	account.Type = model.AccountType(accountType)
	account.Status = model.ConnectionStatus(status)

	displayValue, err := parseDecimal(display)
	if err != nil {
		return nil, err
	}
	account.DisplayBalance = model.NetWorthFromDecimal(displayValue)

	if account.Ledger, err = parseDecimal(ledger); err != nil {
		return nil, err
	}
	if account.Available, err = parseDecimal(available); err != nil {
		return nil, err
	}
	if account.Owed, err = parseDecimal(owed); err != nil {
		return nil, err
	}
	if account.AvailableCredit, err = parseDecimal(availableCredit); err != nil {
		return nil, err
	}

	return &account, nil
}
