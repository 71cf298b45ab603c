package plaid

import (
	"context"

	"github.com/nestegg-fi/nestegg/internal/model"
)

// AccountFetcher defines the contract for fetching account data from Plaid.
// This interface allows for easy mocking in tests and swapping data sources.
type AccountFetcher interface {
	Provider() model.Provider
	ListAccounts(ctx context.Context, userID string) ([]model.RawAccount, error)
	GetBalance(ctx context.Context, accountID string) (model.RawBalance, error)
}

// Linker defines the contract for the Plaid Link token handshake used by
// the account-linking flow.
type Linker interface {
	CreateLinkToken(ctx context.Context, userID string) (string, error)
	ExchangePublicToken(ctx context.Context, publicToken string) (string, string, error)
}
