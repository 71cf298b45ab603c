// Package wallet provides the crypto wallet aggregator client. The
// aggregator tracks self-custody and exchange wallets and serves their
// balances and spot rates over a JSON API.
package wallet

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/oauth2"

	"github.com/nestegg-fi/nestegg/internal/connection"
	"github.com/nestegg-fi/nestegg/internal/model"
)

// Config holds wallet aggregator configuration. Either Token (a one-time
// setup token to claim) or AccessURL plus AccessToken must be set.
type Config struct {
	Token       string
	AccessURL   string
	AccessToken string
	CallTimeout time.Duration
}

// Client implements the AccountSource interface for the wallet aggregator
// and serves crypto spot rates as a quote source.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	accessURL  string
}

// Wallet aggregator API response types.
type walletSet struct {
	Wallets []walletEntry `json:"wallets"`
}

type walletEntry struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	Chain    string `json:"chain"`
	Currency string `json:"currency"`
}

type walletBalance struct {
	Available string `json:"available"`
	Ledger    string `json:"ledger"`
}

type spotRate struct {
	Symbol   string `json:"symbol"`
	Price    string `json:"price"`
	Currency string `json:"currency"`
	AsOf     int64  `json:"as_of"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewClient creates a new wallet client, claiming the setup token if no
// access URL is configured.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	accessURL := strings.TrimRight(cfg.AccessURL, "/")
	accessToken := cfg.AccessToken

	if accessURL == "" {
		if cfg.Token == "" {
			return nil, fmt.Errorf("wallet setup token or access URL is required")
		}
		auth, err := LoadOrClaimAuth(cfg.Token)
		if err != nil {
			return nil, err
		}
		accessURL = auth.AccessURL
		accessToken = auth.AccessToken
	}
	if accessToken == "" {
		return nil, fmt.Errorf("wallet access token is required")
	}

	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	source := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})
	httpClient := oauth2.NewClient(ctx, source)
	httpClient.Timeout = timeout

	return &Client{
		accessURL:  accessURL,
		httpClient: httpClient,
		logger:     slog.Default().With("component", "wallet"),
	}, nil
}

// Provider identifies this source as the wallet aggregator.
func (c *Client) Provider() model.Provider {
	return model.ProviderWallet
}

// ListAccounts fetches the user's wallets.
func (c *Client) ListAccounts(ctx context.Context, userID string) ([]model.RawAccount, error) {
	endpoint := fmt.Sprintf("%s/wallets?user=%s", c.accessURL, url.QueryEscape(userID))

	var set walletSet
	if err := c.getJSON(ctx, endpoint, &set); err != nil {
		return nil, err
	}

	raws := make([]model.RawAccount, 0, len(set.Wallets))
	for _, w := range set.Wallets {
		raws = append(raws, model.RawAccount{
			ID:          w.ID,
			Name:        w.Label,
			Institution: w.Chain,
			Subtype:     "wallet",
			Currency:    strings.ToUpper(w.Currency),
		})
	}

	c.logger.Debug("Fetched wallets", "user_id", userID, "count", len(raws))
	return raws, nil
}

// GetBalance fetches the current balance for a single wallet.
func (c *Client) GetBalance(ctx context.Context, accountID string) (model.RawBalance, error) {
	endpoint := fmt.Sprintf("%s/wallets/%s/balance", c.accessURL, url.PathEscape(accountID))

	var balance walletBalance
	if err := c.getJSON(ctx, endpoint, &balance); err != nil {
		return model.RawBalance{}, err
	}

	return model.RawBalance{
		Available: balance.Available,
		Ledger:    balance.Ledger,
	}, nil
}

// Name identifies this client as a quote source.
func (c *Client) Name() string {
	return "wallet"
}

// GetQuote fetches the current spot rate for a crypto symbol.
func (c *Client) GetQuote(ctx context.Context, symbol string) (model.PriceQuote, error) {
	endpoint := fmt.Sprintf("%s/rates/%s", c.accessURL, url.PathEscape(strings.ToUpper(symbol)))

	var rate spotRate
	if err := c.getJSON(ctx, endpoint, &rate); err != nil {
		return model.PriceQuote{}, err
	}

	quote := model.PriceQuote{
		Symbol:      strings.ToUpper(rate.Symbol),
		Source:      c.Name(),
		LastUpdated: time.Unix(rate.AsOf, 0),
	}
	quote.Price = decimalOrZero(rate.Price)
	return quote, nil
}

// decimalOrZero parses an aggregator amount string, treating malformed
// values as zero rather than failing the whole quote.
func decimalOrZero(s string) decimal.Decimal {
	value, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return value
}

// getJSON performs an authorized GET and decodes the JSON body. Non-200
// responses map to provider errors so the connection classifier sees the
// aggregator's status code and error code.
func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &connection.ProviderError{Code: "TIMEOUT", Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

		provErr := &connection.ProviderError{StatusCode: resp.StatusCode}
		var apiErr apiError
		if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Code != "" {
			provErr.Code = apiErr.Code
			provErr.Message = apiErr.Message
		} else {
			provErr.Message = strings.TrimSpace(string(body))
		}
		return provErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
