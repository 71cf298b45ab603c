package storage

import (
	"context"
	"fmt"
)

// EnsureUser registers a user ID for batch iteration. Inserting an existing
// user is a no-op.
func (s *SQLiteStorage) EnsureUser(ctx context.Context, userID string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(userID, "userID"); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO users (id) VALUES (?)`, userID)
	if err != nil {
		return fmt.Errorf("failed to ensure user: %w", err)
	}
	return nil
}

// ListUserIDs returns every registered user, ordered by ID so batch runs
// are deterministic.
func (s *SQLiteStorage) ListUserIDs(ctx context.Context) ([]string, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var userIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		userIDs = append(userIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}
	return userIDs, nil
}
