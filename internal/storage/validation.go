// Package storage provides the data persistence layer for the nestegg
// application.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nestegg-fi/nestegg/internal/model"
)

// Validation errors.
var (
	ErrNilContext       = errors.New("context cannot be nil")
	ErrEmptyString      = errors.New("string parameter cannot be empty")
	ErrNilParameter     = errors.New("parameter cannot be nil")
	ErrInvalidDateRange = errors.New("start date must be before end date")
	ErrInvalidAccount   = errors.New("invalid account")
	ErrInvalidSnapshot  = errors.New("invalid snapshot")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

// validateAccount validates an account before it is written.
func validateAccount(account *model.Account) error {
	if account == nil {
		return fmt.Errorf("%w: account", ErrNilParameter)
	}
	if account.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidAccount)
	}
	if account.UserID == "" {
		return fmt.Errorf("%w: missing user ID", ErrInvalidAccount)
	}
	if account.Provider == "" {
		return fmt.Errorf("%w: missing provider", ErrInvalidAccount)
	}
	switch account.Status {
	case model.StatusConnected, model.StatusDisconnected, model.StatusAuthExpired:
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidAccount, account.Status)
	}
	return nil
}

// validateSnapshot validates a snapshot before it is written.
func validateSnapshot(snapshot *model.NetWorthSnapshot) error {
	if snapshot == nil {
		return fmt.Errorf("%w: snapshot", ErrNilParameter)
	}
	if snapshot.UserID == "" {
		return fmt.Errorf("%w: missing user ID", ErrInvalidSnapshot)
	}
	if snapshot.Date.IsZero() {
		return fmt.Errorf("%w: missing date", ErrInvalidSnapshot)
	}
	return nil
}
