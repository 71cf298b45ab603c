package wallet

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nestegg-fi/nestegg/internal/connection"
	"github.com/nestegg-fi/nestegg/internal/model"
	"github.com/nestegg-fi/nestegg/internal/normalize"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(context.Background(), Config{
		AccessURL:   server.URL,
		AccessToken: "wallet-token",
	})
	require.NoError(t, err)

	return client
}

func TestNewClientRequiresCredentials(t *testing.T) {
	_, err := NewClient(context.Background(), Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "setup token or access URL")

	_, err = NewClient(context.Background(), Config{AccessURL: "https://api.example.com"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access token")
}

func TestListAccounts(t *testing.T) {
	var gotAuth, gotUser string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotUser = r.URL.Query().Get("user")
		_, _ = w.Write([]byte(`{
			"wallets": [
				{"id": "wal-1", "label": "Cold storage", "chain": "bitcoin", "currency": "usd"},
				{"id": "wal-2", "label": "Exchange", "chain": "ethereum", "currency": "USD"}
			]
		}`))
	})

	accounts, err := client.ListAccounts(context.Background(), "user-1")
	require.NoError(t, err)

	assert.Equal(t, "Bearer wallet-token", gotAuth)
	assert.Equal(t, "user-1", gotUser)

	require.Len(t, accounts, 2)
	assert.Equal(t, "wal-1", accounts[0].ID)
	assert.Equal(t, "Cold storage", accounts[0].Name)
	assert.Equal(t, "bitcoin", accounts[0].Institution)
	assert.Equal(t, "wallet", accounts[0].Subtype)
	assert.Equal(t, "USD", accounts[0].Currency)
}

func TestListAccountsNormalizesToCrypto(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"wallets": [{"id": "wal-1", "label": "Cold storage", "chain": "bitcoin", "currency": "USD"}]}`))
	})

	accounts, err := client.ListAccounts(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, accounts, 1)

	// Wallet accounts carry no explicit type; normalization falls back to
	// the provider's native account type.
	assert.Empty(t, accounts[0].Type)
	normalized := normalize.Account(model.ProviderWallet, accounts[0], model.RawBalance{Available: "1523.75"})
	assert.Equal(t, model.AccountTypeCrypto, normalized.Type)
	assert.Equal(t, "1523.75", normalized.DisplayBalance.String())
}

func TestGetBalance(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/wallets/wal-1/balance", r.URL.Path)
		_, _ = w.Write([]byte(`{"available": "1523.75", "ledger": "1530.00"}`))
	})

	balance, err := client.GetBalance(context.Background(), "wal-1")
	require.NoError(t, err)
	assert.Equal(t, "1523.75", balance.Available)
	assert.Equal(t, "1530.00", balance.Ledger)
}

func TestGetBalanceRevokedWallet(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"code": "ACCESS_REVOKED", "message": "wallet access was revoked"}`))
	})

	_, err := client.GetBalance(context.Background(), "wal-1")
	require.Error(t, err)

	var provErr *connection.ProviderError
	require.True(t, errors.As(err, &provErr))
	assert.Equal(t, http.StatusForbidden, provErr.StatusCode)
	assert.Equal(t, "ACCESS_REVOKED", provErr.Code)

	verdict := connection.Classify(err)
	assert.True(t, verdict.ShouldMarkDisconnected)
	assert.False(t, verdict.ShouldRetry)
}

func TestGetBalanceRateLimited(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`slow down`))
	})

	_, err := client.GetBalance(context.Background(), "wal-1")
	require.Error(t, err)

	var provErr *connection.ProviderError
	require.True(t, errors.As(err, &provErr))
	assert.Equal(t, http.StatusTooManyRequests, provErr.StatusCode)
	assert.Equal(t, "slow down", provErr.Message)

	verdict := connection.Classify(err)
	assert.True(t, verdict.IsTransient)
	assert.True(t, verdict.ShouldRetry)
}

func TestGetQuote(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rates/BTC", r.URL.Path)
		_, _ = w.Write([]byte(`{"symbol": "BTC", "price": "64123.50", "currency": "USD", "as_of": 1767009600}`))
	})

	quote, err := client.GetQuote(context.Background(), "btc")
	require.NoError(t, err)

	assert.Equal(t, "BTC", quote.Symbol)
	assert.Equal(t, "64123.50", quote.Price.StringFixed(2))
	assert.Equal(t, "wallet", quote.Source)
	assert.True(t, quote.LastUpdated.Equal(time.Unix(1767009600, 0)))
}

func TestGetQuoteMalformedPrice(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"symbol": "BTC", "price": "not-a-number", "as_of": 1767009600}`))
	})

	quote, err := client.GetQuote(context.Background(), "BTC")
	require.NoError(t, err)
	assert.True(t, quote.Price.IsZero())
}

func TestClaimToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		_, _ = w.Write([]byte(`{"access_url": "https://api.example.com/v1/", "access_token": "tok-abc"}`))
	}))
	defer server.Close()

	token := base64.URLEncoding.EncodeToString([]byte(server.URL))
	auth, err := claimToken(token)
	require.NoError(t, err)

	assert.Equal(t, "https://api.example.com/v1", auth.AccessURL)
	assert.Equal(t, "tok-abc", auth.AccessToken)
}

func TestClaimTokenRejectsBadToken(t *testing.T) {
	_, err := claimToken("!!!not-base64!!!")
	require.Error(t, err)

	_, err = claimToken(base64.URLEncoding.EncodeToString([]byte("ftp://bad.example.com")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a valid URL")
}
