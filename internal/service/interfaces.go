// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/nestegg-fi/nestegg/internal/model"
)

// Repository defines the contract for the persistence layer. The sync engine
// writes accounts and snapshots through this interface and never owns the
// underlying tables.
type Repository interface {
	// Account operations
	UpsertAccount(ctx context.Context, account *model.Account) error
	GetAccount(ctx context.Context, id string) (*model.Account, error)
	GetAccountsForUser(ctx context.Context, userID string) ([]model.Account, error)
	UpdateAccountStatus(ctx context.Context, id string, status model.ConnectionStatus) error
	DeleteAccount(ctx context.Context, id string) error

	// Snapshot operations
	UpsertSnapshot(ctx context.Context, snapshot *model.NetWorthSnapshot) error
	GetSnapshots(ctx context.Context, userID string, start, end time.Time) ([]model.NetWorthSnapshot, error)

	// User operations
	ListUserIDs(ctx context.Context) ([]string, error)

	// Database management
	Migrate(ctx context.Context) error
	Close() error
}

// AccountSource is the narrow contract every provider client satisfies.
// Implementations must bound each call with their own timeout; the snapshot
// scheduler depends on provider calls never stalling a batch indefinitely.
type AccountSource interface {
	Provider() model.Provider
	ListAccounts(ctx context.Context, userID string) ([]model.RawAccount, error)
	GetBalance(ctx context.Context, accountID string) (model.RawBalance, error)
}

// QuoteSource is one upstream quote endpoint consulted by the price
// aggregator. Sources are tried in registration order; an error from any
// single source is soft.
type QuoteSource interface {
	Name() string
	GetQuote(ctx context.Context, symbol string) (model.PriceQuote, error)
}

// SnapshotExporter writes a user's accounts and net worth history to an
// external report.
type SnapshotExporter interface {
	Export(ctx context.Context, userID string, accounts []model.Account, snapshots []model.NetWorthSnapshot) error
}

// RetryOptions configures retry behavior for operations.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}
