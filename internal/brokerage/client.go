// Package brokerage provides the brokerage-aggregator client. The upstream
// aggregator serves OFX investment statements, which decompose into cash
// plus per-position market values.
package brokerage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/aclindsa/ofxgo"

	"github.com/nestegg-fi/nestegg/internal/connection"
	"github.com/nestegg-fi/nestegg/internal/model"
)

// Config holds brokerage aggregator configuration.
type Config struct {
	FeedURL     string
	AccessToken string
	CallTimeout time.Duration
}

// Validate ensures all required fields are present.
func (c *Config) Validate() error {
	if c.FeedURL == "" {
		return fmt.Errorf("brokerage feed URL is required")
	}
	if c.AccessToken == "" {
		return fmt.Errorf("brokerage access token is required")
	}
	return nil
}

// Client implements the AccountSource interface for the brokerage
// aggregator, and doubles as the primary equity quote source: security
// prices ride along in every statement refresh.
type Client struct {
	httpClient  *http.Client
	logger      *slog.Logger
	feedURL     string
	accessToken string

	mu       sync.Mutex
	balances map[string]model.RawBalance
	quotes   map[string]model.PriceQuote
}

// NewClient creates a new brokerage client.
func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		feedURL:     strings.TrimRight(cfg.FeedURL, "/"),
		accessToken: cfg.AccessToken,
		httpClient:  &http.Client{Timeout: timeout},
		balances:    make(map[string]model.RawBalance),
		quotes:      make(map[string]model.PriceQuote),
		logger:      slog.Default().With("component", "brokerage"),
	}, nil
}

// Provider identifies this source as the brokerage aggregator.
func (c *Client) Provider() model.Provider {
	return model.ProviderBrokerage
}

// ListAccounts downloads the user's investment statements and returns the
// accounts they cover. Balance decompositions and security prices from the
// same download are cached for GetBalance and GetQuote.
func (c *Client) ListAccounts(ctx context.Context, userID string) ([]model.RawAccount, error) {
	resp, err := c.fetchStatements(ctx, userID)
	if err != nil {
		return nil, err
	}

	tickers := tickersBySecurityID(resp)
	org := string(resp.Signon.Org)

	var raws []model.RawAccount
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, msg := range resp.InvStmt {
		stmt, ok := msg.(*ofxgo.InvStatementResponse)
		if !ok {
			continue
		}

		accountID := string(stmt.InvAcctFrom.AcctID)
		raws = append(raws, model.RawAccount{
			ID:          accountID,
			Institution: org,
			Type:        "investment",
			Subtype:     "brokerage",
			Currency:    strings.ToUpper(stmt.CurDef.String()),
		})

		c.balances[accountID] = decomposeStatement(stmt, tickers)
		c.cacheQuotesLocked(resp, stmt.DtAsOf.Time)
	}

	c.logger.Info("Fetched brokerage statements", "user_id", userID, "accounts", len(raws))
	return raws, nil
}

// GetBalance returns the decomposition cached by the last ListAccounts.
// An unknown account maps to the classifier's ambiguous 404: the statement
// feed may simply not cover it yet.
func (c *Client) GetBalance(_ context.Context, accountID string) (model.RawBalance, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	balance, ok := c.balances[accountID]
	if !ok {
		return model.RawBalance{}, &connection.ProviderError{
			StatusCode: http.StatusNotFound,
			Message:    fmt.Sprintf("no statement for account %s", accountID),
		}
	}
	return balance, nil
}

// Name identifies this client as a quote source.
func (c *Client) Name() string {
	return "brokerage"
}

// GetQuote serves the security price seen in the most recent statement
// refresh. Quotes are as-of the statement date, which is what the upstream
// aggregator computed, not a live tick.
func (c *Client) GetQuote(_ context.Context, symbol string) (model.PriceQuote, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	quote, ok := c.quotes[strings.ToUpper(symbol)]
	if !ok {
		return model.PriceQuote{}, &connection.ProviderError{
			StatusCode: http.StatusNotFound,
			Message:    fmt.Sprintf("no price for symbol %s", symbol),
		}
	}
	return quote, nil
}

// fetchStatements downloads and parses the user's OFX feed.
func (c *Client) fetchStatements(ctx context.Context, userID string) (*ofxgo.Response, error) {
	url := fmt.Sprintf("%s/statements?user=%s", c.feedURL, userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create statement request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &connection.ProviderError{Code: "TIMEOUT", Err: err}
	}
	defer func() {
		_ = httpResp.Body.Close()
	}()

	if httpResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, 512))
		return nil, &connection.ProviderError{
			StatusCode: httpResp.StatusCode,
			Message:    strings.TrimSpace(string(body)),
		}
	}

	content, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read statement body: %w", err)
	}

	resp, err := ofxgo.ParseResponse(strings.NewReader(preprocessOFX(string(content))))
	if err != nil {
		return nil, fmt.Errorf("failed to parse OFX feed: %w", err)
	}
	return resp, nil
}

// cacheQuotesLocked refreshes the per-symbol price table from the
// statement's security list. Caller holds c.mu.
func (c *Client) cacheQuotesLocked(resp *ofxgo.Response, asOf time.Time) {
	for _, msg := range resp.SecList {
		list, ok := msg.(*ofxgo.SecurityList)
		if !ok {
			continue
		}
		for _, security := range list.Securities {
			info, ok := securityDetail(security)
			if !ok {
				continue
			}
			ticker := strings.ToUpper(string(info.Ticker))
			if ticker == "" {
				continue
			}
			c.quotes[ticker] = model.PriceQuote{
				Symbol:      ticker,
				Price:       amountDecimal(info.UnitPrice),
				Source:      c.Name(),
				LastUpdated: asOf,
			}
		}
	}
}
