// Package plaid provides the bank-aggregator client backed by the Plaid API.
package plaid

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/plaid/plaid-go/v20/plaid"

	"github.com/nestegg-fi/nestegg/internal/connection"
	"github.com/nestegg-fi/nestegg/internal/model"
)

// Config holds Plaid API configuration.
type Config struct {
	ClientID    string
	Secret      string
	Environment string // sandbox or production
	AccessToken string
	CallTimeout time.Duration
}

// Validate ensures all required fields are present.
func (c *Config) Validate() error {
	if c.ClientID == "" {
		return fmt.Errorf("plaid client ID is required")
	}
	if c.Secret == "" {
		return fmt.Errorf("plaid secret is required")
	}
	if c.AccessToken == "" {
		return fmt.Errorf("plaid access token is required")
	}
	if c.Environment == "" {
		return fmt.Errorf("plaid environment is required")
	}

	validEnvs := map[string]bool{
		"sandbox":    true,
		"production": true,
	}
	if !validEnvs[c.Environment] {
		return fmt.Errorf("invalid Plaid environment: must be sandbox or production")
	}

	return nil
}

// Client implements the AccountSource interface for Plaid-linked banks.
// Every call is bounded by CallTimeout; the snapshot scheduler depends on
// provider calls never stalling a batch.
type Client struct {
	client      *plaid.APIClient
	logger      *slog.Logger
	accessToken string
	environment string
	callTimeout time.Duration
}

// NewClient creates a new Plaid client with the given configuration.
func NewClient(cfg Config) (*Client, error) {
	// Don't validate access token for Link flow
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("plaid client ID is required")
	}
	if cfg.Secret == "" {
		return nil, fmt.Errorf("plaid secret is required")
	}
	if cfg.Environment == "" {
		return nil, fmt.Errorf("plaid environment is required")
	}

	validEnvs := map[string]bool{
		"sandbox":    true,
		"production": true,
	}
	if !validEnvs[cfg.Environment] {
		return nil, fmt.Errorf("invalid Plaid environment: must be sandbox or production")
	}

	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}

	configuration := plaid.NewConfiguration()
	configuration.AddDefaultHeader("PLAID-CLIENT-ID", cfg.ClientID)
	configuration.AddDefaultHeader("PLAID-SECRET", cfg.Secret)

	switch cfg.Environment {
	case "sandbox":
		configuration.UseEnvironment(plaid.Sandbox)
	case "production":
		configuration.UseEnvironment(plaid.Production)
	}

	return &Client{
		client:      plaid.NewAPIClient(configuration),
		accessToken: cfg.AccessToken,
		environment: cfg.Environment,
		callTimeout: cfg.CallTimeout,
		logger:      slog.Default().With("component", "plaid"),
	}, nil
}

// Provider identifies this source as the bank aggregator.
func (c *Client) Provider() model.Provider {
	return model.ProviderBank
}

// ListAccounts fetches the linked item's accounts as raw payloads for the
// normalizer. The access token already scopes the call to one user's item,
// so userID is used only for logging.
func (c *Client) ListAccounts(ctx context.Context, userID string) ([]model.RawAccount, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	c.logger.Debug("Fetching accounts from Plaid", "user_id", userID)

	request := plaid.NewAccountsGetRequest(c.accessToken)
	resp, httpResp, err := c.client.PlaidApi.AccountsGet(ctx).AccountsGetRequest(*request).Execute()
	if err != nil {
		return nil, c.providerError(httpResp, err)
	}

	accounts := resp.GetAccounts()
	raws := make([]model.RawAccount, 0, len(accounts))
	for _, account := range accounts {
		raws = append(raws, rawAccount(account))
	}

	c.logger.Info("Fetched Plaid accounts", "count", len(raws))
	return raws, nil
}

// rawAccount flattens one Plaid account into the normalizer's raw payload.
// The balances sub-struct is hoisted into an addressable local because its
// accessors are pointer methods.
func rawAccount(account plaid.AccountBase) model.RawAccount {
	balances := account.GetBalances()
	return model.RawAccount{
		ID:       account.GetAccountId(),
		Name:     account.GetName(),
		Type:     string(account.GetType()),
		Subtype:  string(account.GetSubtype()),
		Currency: balances.GetIsoCurrencyCode(),
	}
}

// GetBalance fetches one account's current balances. Plaid reports a credit
// card's amount owed as a positive current value; the normalizer owns the
// sign flip.
func (c *Client) GetBalance(ctx context.Context, accountID string) (model.RawBalance, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	request := plaid.NewAccountsBalanceGetRequest(c.accessToken)
	accountIDs := []string{accountID}
	options := plaid.AccountsBalanceGetRequestOptions{
		AccountIds: &accountIDs,
	}
	request.SetOptions(options)

	resp, httpResp, err := c.client.PlaidApi.AccountsBalanceGet(ctx).AccountsBalanceGetRequest(*request).Execute()
	if err != nil {
		return model.RawBalance{}, c.providerError(httpResp, err)
	}

	for _, account := range resp.GetAccounts() {
		if account.GetAccountId() != accountID {
			continue
		}
		balances := account.GetBalances()
		raw := model.RawBalance{}
		if balances.Current.IsSet() && balances.Current.Get() != nil {
			raw.Ledger = fmt.Sprintf("%.2f", *balances.Current.Get())
		}
		if balances.Available.IsSet() && balances.Available.Get() != nil {
			raw.Available = fmt.Sprintf("%.2f", *balances.Available.Get())
		}
		return raw, nil
	}

	// The account is known from ListAccounts but its balance sub-resource
	// is not there yet; the classifier treats this as transient.
	return model.RawBalance{}, &connection.ProviderError{
		StatusCode: http.StatusNotFound,
		Message:    fmt.Sprintf("account %s not in balance response", accountID),
	}
}

// providerError maps a Plaid SDK failure onto the classifier's error shape.
func (c *Client) providerError(httpResp *http.Response, err error) error {
	statusCode := 0
	if httpResp != nil {
		statusCode = httpResp.StatusCode
	}

	plaidErr, convErr := plaid.ToPlaidError(err)
	if convErr != nil {
		return &connection.ProviderError{
			StatusCode: statusCode,
			Err:        err,
		}
	}

	return &connection.ProviderError{
		StatusCode: statusCode,
		Code:       normalizeCode(plaidErr.ErrorCode),
		Message:    plaidErr.ErrorMessage,
		Err:        err,
	}
}

// normalizeCode maps Plaid's error codes onto the classifier's vocabulary.
// Unmapped codes pass through untouched and classify as unknown.
func normalizeCode(code string) string {
	switch code {
	case "RATE_LIMIT_EXCEEDED", "ADDITION_LIMIT", "RATE_LIMIT":
		return "RATE_LIMIT"
	case "ITEM_LOGIN_REQUIRED", "ACCESS_NOT_GRANTED":
		return "AUTHORIZATION_EXPIRED"
	case "INVALID_ACCESS_TOKEN", "INVALID_CREDENTIALS":
		return "INVALID_CREDENTIALS"
	case "INSTITUTION_DOWN", "INSTITUTION_NOT_RESPONDING", "INTERNAL_SERVER_ERROR":
		return "TEMPORARY"
	case "PRODUCT_NOT_READY":
		return "TIMEOUT"
	default:
		return code
	}
}

// CreateLinkToken creates a Link token for Plaid Link initialization.
func (c *Client) CreateLinkToken(ctx context.Context, userID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	user := plaid.LinkTokenCreateRequestUser{
		ClientUserId: userID,
	}

	request := plaid.NewLinkTokenCreateRequest(
		"Nestegg",
		"en",
		[]plaid.CountryCode{plaid.COUNTRYCODE_US},
		user,
	)
	request.SetProducts([]plaid.Products{plaid.PRODUCTS_TRANSACTIONS})

	// OAuth banks require the redirect URI registered in the dashboard.
	if c.environment == "production" {
		request.SetRedirectUri("https://localhost:8080/")
	}

	resp, httpResp, err := c.client.PlaidApi.LinkTokenCreate(ctx).LinkTokenCreateRequest(*request).Execute()
	if err != nil {
		return "", fmt.Errorf("failed to create link token: %w", c.providerError(httpResp, err))
	}

	return resp.GetLinkToken(), nil
}

// ExchangePublicToken exchanges a public token from Link for an access token.
func (c *Client) ExchangePublicToken(ctx context.Context, publicToken string) (string, string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	request := plaid.NewItemPublicTokenExchangeRequest(publicToken)
	resp, httpResp, err := c.client.PlaidApi.ItemPublicTokenExchange(ctx).ItemPublicTokenExchangeRequest(*request).Execute()
	if err != nil {
		return "", "", fmt.Errorf("failed to exchange public token: %w", c.providerError(httpResp, err))
	}

	return resp.GetAccessToken(), resp.GetItemId(), nil
}

// Ensure Client satisfies the provider contracts.
var (
	_ AccountFetcher = (*Client)(nil)
	_ Linker         = (*Client)(nil)
)
