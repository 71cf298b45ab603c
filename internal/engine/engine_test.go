package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nestegg-fi/nestegg/internal/connection"
	"github.com/nestegg-fi/nestegg/internal/model"
	"github.com/nestegg-fi/nestegg/internal/service"
)

// fakeSource scripts one provider's behavior.
type fakeSource struct {
	listErr     error
	balances    map[string]model.RawBalance
	balanceErrs map[string]error
	provider    model.Provider
	accounts    []model.RawAccount
	listCalls   int
}

func (s *fakeSource) Provider() model.Provider { return s.provider }

func (s *fakeSource) ListAccounts(_ context.Context, _ string) ([]model.RawAccount, error) {
	s.listCalls++
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.accounts, nil
}

func (s *fakeSource) GetBalance(_ context.Context, accountID string) (model.RawBalance, error) {
	if err, ok := s.balanceErrs[accountID]; ok {
		return model.RawBalance{}, err
	}
	return s.balances[accountID], nil
}

// memoryRepo is an in-memory service.Repository for engine tests.
type memoryRepo struct {
	accounts map[string]model.Account
	statuses map[string]model.ConnectionStatus
	users    []string
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		accounts: make(map[string]model.Account),
		statuses: make(map[string]model.ConnectionStatus),
	}
}

func (r *memoryRepo) UpsertAccount(_ context.Context, account *model.Account) error {
	r.accounts[account.ID] = *account
	return nil
}

func (r *memoryRepo) GetAccount(_ context.Context, id string) (*model.Account, error) {
	account, ok := r.accounts[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return &account, nil
}

func (r *memoryRepo) GetAccountsForUser(_ context.Context, userID string) ([]model.Account, error) {
	var accounts []model.Account
	for _, account := range r.accounts {
		if account.UserID == userID {
			accounts = append(accounts, account)
		}
	}
	return accounts, nil
}

func (r *memoryRepo) UpdateAccountStatus(_ context.Context, id string, status model.ConnectionStatus) error {
	r.statuses[id] = status
	if account, ok := r.accounts[id]; ok {
		account.Status = status
		r.accounts[id] = account
	}
	return nil
}

func (r *memoryRepo) DeleteAccount(_ context.Context, id string) error {
	delete(r.accounts, id)
	return nil
}

func (r *memoryRepo) UpsertSnapshot(_ context.Context, _ *model.NetWorthSnapshot) error { return nil }

func (r *memoryRepo) GetSnapshots(_ context.Context, _ string, _, _ time.Time) ([]model.NetWorthSnapshot, error) {
	return nil, nil
}

func (r *memoryRepo) ListUserIDs(_ context.Context) ([]string, error) { return r.users, nil }
func (r *memoryRepo) Migrate(_ context.Context) error                 { return nil }
func (r *memoryRepo) Close() error                                    { return nil }

func fastRetry() Config {
	return Config{RetryOpts: service.RetryOptions{
		MaxAttempts:  2,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		Multiplier:   2.0,
	}}
}

func TestSyncUser_PersistsNormalizedAccounts(t *testing.T) {
	repo := newMemoryRepo()
	bank := &fakeSource{
		provider: model.ProviderBank,
		accounts: []model.RawAccount{
			{ID: "chk-1", Name: "Everyday Checking", Type: "depository", Subtype: "checking"},
			{ID: "cc-1", Name: "Rewards Card", Type: "credit", Subtype: "credit_card"},
		},
		balances: map[string]model.RawBalance{
			"chk-1": {Ledger: "1200.00", Available: "1150.00"},
			"cc-1":  {Ledger: "2711.01", Available: "5288.99"},
		},
	}

	syncEngine := NewWithConfig(fastRetry(), repo, bank)
	accounts, err := syncEngine.SyncUser(context.Background(), "user-1")

	require.NoError(t, err)
	require.Len(t, accounts, 2)

	checking, getErr := repo.GetAccount(context.Background(), "chk-1")
	require.NoError(t, getErr)
	assert.Equal(t, "user-1", checking.UserID)
	assert.Equal(t, "1150.00", checking.DisplayBalance.String())
	assert.False(t, checking.LastCheckedAt.IsZero())

	card, getErr := repo.GetAccount(context.Background(), "cc-1")
	require.NoError(t, getErr)
	assert.Equal(t, "-2711.01", card.DisplayBalance.String())
	assert.Equal(t, "2711.01", card.Owed.StringFixed(2))
}

func TestSyncUser_OneBadAccountDoesNotCorruptTheRest(t *testing.T) {
	repo := newMemoryRepo()
	bank := &fakeSource{
		provider: model.ProviderBank,
		accounts: []model.RawAccount{
			{ID: "good-1", Type: "depository"},
			{ID: "bad-1", Type: "depository"},
		},
		balances: map[string]model.RawBalance{
			"good-1": {Ledger: "500.00"},
		},
		balanceErrs: map[string]error{
			"bad-1": &connection.ProviderError{StatusCode: 500},
		},
	}

	syncEngine := NewWithConfig(fastRetry(), repo, bank)
	accounts, err := syncEngine.SyncUser(context.Background(), "user-1")

	require.NoError(t, err, "a per-account failure is isolated, not escalated")
	require.Len(t, accounts, 1)
	assert.Equal(t, "good-1", accounts[0].ID)

	// The failed account's status must not have been touched.
	_, touched := repo.statuses["bad-1"]
	assert.False(t, touched, "unknown errors never mutate stored status")
}

func TestSyncUser_AuthFailureMarksProviderDisconnected(t *testing.T) {
	repo := newMemoryRepo()
	repo.accounts["chk-1"] = model.Account{
		ID: "chk-1", UserID: "user-1", Provider: model.ProviderBank, Status: model.StatusConnected,
	}
	repo.accounts["brk-1"] = model.Account{
		ID: "brk-1", UserID: "user-1", Provider: model.ProviderBrokerage, Status: model.StatusConnected,
	}

	bank := &fakeSource{
		provider: model.ProviderBank,
		listErr:  &connection.ProviderError{StatusCode: 400, Code: "AUTHORIZATION_EXPIRED"},
	}

	syncEngine := NewWithConfig(fastRetry(), repo, bank)
	_, err := syncEngine.SyncUser(context.Background(), "user-1")

	require.Error(t, err)
	assert.Equal(t, model.StatusAuthExpired, repo.statuses["chk-1"], "bank account flips to auth_expired")
	_, brokerageTouched := repo.statuses["brk-1"]
	assert.False(t, brokerageTouched, "other providers' accounts are untouched")
	assert.Equal(t, 1, bank.listCalls, "auth failures are not retried")
}

func TestSyncUser_TransientFailureRetriesWithoutDisconnect(t *testing.T) {
	repo := newMemoryRepo()
	repo.accounts["chk-1"] = model.Account{
		ID: "chk-1", UserID: "user-1", Provider: model.ProviderBank, Status: model.StatusConnected,
	}

	bank := &fakeSource{
		provider: model.ProviderBank,
		listErr:  &connection.ProviderError{StatusCode: 429},
	}

	syncEngine := NewWithConfig(fastRetry(), repo, bank)
	_, err := syncEngine.SyncUser(context.Background(), "user-1")

	require.Error(t, err)
	assert.Equal(t, 2, bank.listCalls, "transient failures retry up to the bounded budget")
	_, touched := repo.statuses["chk-1"]
	assert.False(t, touched, "transient failures leave stored status untouched")
}

func TestSyncUser_HealthyProviderSurvivesBrokenSibling(t *testing.T) {
	repo := newMemoryRepo()
	broken := &fakeSource{
		provider: model.ProviderBank,
		listErr:  &connection.ProviderError{StatusCode: 503},
	}
	healthy := &fakeSource{
		provider: model.ProviderWallet,
		accounts: []model.RawAccount{{ID: "wal-1", Type: "crypto"}},
		balances: map[string]model.RawBalance{"wal-1": {Ledger: "0.42"}},
	}

	syncEngine := NewWithConfig(fastRetry(), repo, broken, healthy)
	accounts, err := syncEngine.SyncUser(context.Background(), "user-1")

	require.Error(t, err, "the provider failure is still reported")
	require.Len(t, accounts, 1, "the healthy provider's accounts made it through")
	assert.Equal(t, "wal-1", accounts[0].ID)
}
