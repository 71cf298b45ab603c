package plaid

import (
	"context"

	"github.com/nestegg-fi/nestegg/internal/model"
)

// MockClient is a mock implementation of AccountFetcher and Linker for
// testing.
type MockClient struct {
	// Functions that can be set by tests to control behavior
	ListAccountsFn        func(ctx context.Context, userID string) ([]model.RawAccount, error)
	GetBalanceFn          func(ctx context.Context, accountID string) (model.RawBalance, error)
	CreateLinkTokenFn     func(ctx context.Context, userID string) (string, error)
	ExchangePublicTokenFn func(ctx context.Context, publicToken string) (string, string, error)

	// Call tracking
	GetBalanceCalls     []string
	ExchangedTokens     []string
	ListAccountsCalls   int
	CreateLinkTokenCall int
}

// NewMockClient creates a new mock Plaid client.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// Provider implements AccountFetcher.Provider.
func (m *MockClient) Provider() model.Provider {
	return model.ProviderBank
}

// ListAccounts implements AccountFetcher.ListAccounts.
func (m *MockClient) ListAccounts(ctx context.Context, userID string) ([]model.RawAccount, error) {
	m.ListAccountsCalls++

	if m.ListAccountsFn != nil {
		return m.ListAccountsFn(ctx, userID)
	}
	return []model.RawAccount{}, nil
}

// GetBalance implements AccountFetcher.GetBalance.
func (m *MockClient) GetBalance(ctx context.Context, accountID string) (model.RawBalance, error) {
	m.GetBalanceCalls = append(m.GetBalanceCalls, accountID)

	if m.GetBalanceFn != nil {
		return m.GetBalanceFn(ctx, accountID)
	}
	return model.RawBalance{}, nil
}

// CreateLinkToken implements Linker.CreateLinkToken.
func (m *MockClient) CreateLinkToken(ctx context.Context, userID string) (string, error) {
	m.CreateLinkTokenCall++

	if m.CreateLinkTokenFn != nil {
		return m.CreateLinkTokenFn(ctx, userID)
	}
	return "link-token-mock", nil
}

// ExchangePublicToken implements Linker.ExchangePublicToken.
func (m *MockClient) ExchangePublicToken(ctx context.Context, publicToken string) (string, string, error) {
	m.ExchangedTokens = append(m.ExchangedTokens, publicToken)

	if m.ExchangePublicTokenFn != nil {
		return m.ExchangePublicTokenFn(ctx, publicToken)
	}
	return "access-token-mock", "item-mock", nil
}

// Reset clears all call tracking.
func (m *MockClient) Reset() {
	m.ListAccountsCalls = 0
	m.GetBalanceCalls = nil
	m.CreateLinkTokenCall = 0
	m.ExchangedTokens = nil
}

// Ensure MockClient implements the provider contracts.
var (
	_ AccountFetcher = (*MockClient)(nil)
	_ Linker         = (*MockClient)(nil)
)
