// Package engine implements the account re-aggregation core: it pulls raw
// payloads from every configured provider, normalizes them, and persists the
// canonical accounts.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nestegg-fi/nestegg/internal/common"
	"github.com/nestegg-fi/nestegg/internal/connection"
	"github.com/nestegg-fi/nestegg/internal/model"
	"github.com/nestegg-fi/nestegg/internal/normalize"
	"github.com/nestegg-fi/nestegg/internal/service"
)

// SyncEngine orchestrates one user's account synchronization across all
// providers. One failing provider or account never blocks the rest.
type SyncEngine struct {
	repo      service.Repository
	logger    *slog.Logger
	sources   []service.AccountSource
	retryOpts service.RetryOptions
}

// Config holds configuration options for the sync engine.
type Config struct {
	RetryOpts service.RetryOptions
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		RetryOpts: service.RetryOptions{
			MaxAttempts:  3,
			InitialDelay: 1 * time.Second,
			MaxDelay:     30 * time.Second,
			Multiplier:   2.0,
		},
	}
}

// New creates a sync engine with the given repository and provider sources.
func New(repo service.Repository, sources ...service.AccountSource) *SyncEngine {
	return NewWithConfig(DefaultConfig(), repo, sources...)
}

// NewWithConfig creates a sync engine with custom configuration.
func NewWithConfig(cfg Config, repo service.Repository, sources ...service.AccountSource) *SyncEngine {
	return &SyncEngine{
		repo:      repo,
		sources:   sources,
		retryOpts: cfg.RetryOpts,
		logger:    slog.Default().With("component", "engine"),
	}
}

// SyncUser re-aggregates one user's accounts from every provider. Accounts
// from healthy providers are fully replaced in the repository even when
// another provider fails; the returned error reports the first provider-level
// failure so batch callers can count the user as failed.
func (e *SyncEngine) SyncUser(ctx context.Context, userID string) ([]model.Account, error) {
	var accounts []model.Account
	var firstErr error

	for _, source := range e.sources {
		synced, err := e.syncSource(ctx, userID, source)
		if err != nil {
			e.logger.Error("Provider sync failed",
				"user_id", userID,
				"provider", source.Provider(),
				"error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		accounts = append(accounts, synced...)
	}

	return accounts, firstErr
}

// syncSource fetches, normalizes, and persists one provider's accounts.
// Retry and connection-status mutation are driven entirely by the
// classifier's verdict: only an explicit auth failure may flip a stored
// status; every other failure leaves it untouched.
func (e *SyncEngine) syncSource(ctx context.Context, userID string, source service.AccountSource) ([]model.Account, error) {
	raws, err := e.listAccounts(ctx, userID, source)
	if err != nil {
		e.applyVerdict(ctx, userID, source.Provider(), connection.Classify(err))
		return nil, fmt.Errorf("listing %s accounts: %w", source.Provider(), err)
	}

	now := time.Now()
	accounts := make([]model.Account, 0, len(raws))
	for _, raw := range raws {
		balance, balErr := e.getBalance(ctx, source, raw.ID)
		if balErr != nil {
			verdict := connection.Classify(balErr)
			e.logger.Warn("Balance fetch failed, skipping account",
				"account_id", raw.ID,
				"verdict", verdict.Kind.String(),
				"error", balErr)
			if verdict.ShouldMarkDisconnected {
				if statusErr := e.repo.UpdateAccountStatus(ctx, raw.ID, verdict.NextStatus); statusErr != nil {
					e.logger.Error("Failed to update account status", "account_id", raw.ID, "error", statusErr)
				}
			}
			// Leave the prior stored record alone; one bad account must
			// not corrupt the rest of the aggregate.
			continue
		}

		account := normalize.Account(source.Provider(), raw, balance)
		account.UserID = userID
		account.Institution = firstNonEmpty(account.Institution, raw.Name)
		account.LastCheckedAt = now

		if upsertErr := e.repo.UpsertAccount(ctx, &account); upsertErr != nil {
			e.logger.Error("Failed to persist account", "account_id", account.ID, "error", upsertErr)
			continue
		}
		accounts = append(accounts, account)
	}

	return accounts, nil
}

// listAccounts wraps the provider call with verdict-aware bounded retry.
func (e *SyncEngine) listAccounts(ctx context.Context, userID string, source service.AccountSource) ([]model.RawAccount, error) {
	var raws []model.RawAccount
	err := common.WithRetry(ctx, func() error {
		rs, err := source.ListAccounts(ctx, userID)
		if err != nil {
			return retryable(err)
		}
		raws = rs
		return nil
	}, e.retryOpts)
	return raws, err
}

func (e *SyncEngine) getBalance(ctx context.Context, source service.AccountSource, accountID string) (model.RawBalance, error) {
	var balance model.RawBalance
	err := common.WithRetry(ctx, func() error {
		b, err := source.GetBalance(ctx, accountID)
		if err != nil {
			return retryable(err)
		}
		balance = b
		return nil
	}, e.retryOpts)
	return balance, err
}

// applyVerdict flips stored statuses for a provider's accounts when, and
// only when, the classifier demands a disconnect.
func (e *SyncEngine) applyVerdict(ctx context.Context, userID string, provider model.Provider, verdict connection.Verdict) {
	if !verdict.ShouldMarkDisconnected {
		return
	}

	accounts, err := e.repo.GetAccountsForUser(ctx, userID)
	if err != nil {
		e.logger.Error("Failed to load accounts for disconnect", "user_id", userID, "error", err)
		return
	}

	for i := range accounts {
		if accounts[i].Provider != provider {
			continue
		}
		if err := e.repo.UpdateAccountStatus(ctx, accounts[i].ID, verdict.NextStatus); err != nil {
			e.logger.Error("Failed to mark account disconnected",
				"account_id", accounts[i].ID,
				"error", err)
		}
	}

	e.logger.Info("Provider marked disconnected",
		"user_id", userID,
		"provider", provider,
		"status", verdict.NextStatus)
}

// retryable translates a classifier verdict into retry metadata so
// WithRetry stops immediately on permanent failures.
func retryable(err error) error {
	verdict := connection.Classify(err)
	return &common.RetryableError{Err: err, Retryable: verdict.ShouldRetry}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
