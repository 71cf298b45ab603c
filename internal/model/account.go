// Package model defines the canonical domain types shared across the sync engine.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Provider identifies which external aggregator an account came from.
type Provider string

// Supported providers.
const (
	ProviderBank      Provider = "bank"
	ProviderBrokerage Provider = "brokerage"
	ProviderWallet    Provider = "wallet"
)

// AccountType is the canonical account classification.
type AccountType string

// Canonical account types.
const (
	AccountTypeDepository AccountType = "depository"
	AccountTypeCredit     AccountType = "credit"
	AccountTypeInvestment AccountType = "investment"
	AccountTypeCrypto     AccountType = "crypto"
)

// ConnectionStatus tracks the health of the link between an account and its provider.
type ConnectionStatus string

// Connection states.
const (
	StatusConnected    ConnectionStatus = "connected"
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusAuthExpired  ConnectionStatus = "auth_expired"
)

// NetWorth is a signed monetary amount that is safe to sum across
// heterogeneous account types. Raw ledger and available balances are plain
// decimals and deliberately cannot be added to a NetWorth: sign conventions
// (debt vs. assets) are applied exactly once, by the normalizer.
type NetWorth struct {
	amount decimal.Decimal
}

// NetWorthFromDecimal wraps an already sign-corrected amount.
func NetWorthFromDecimal(d decimal.Decimal) NetWorth {
	return NetWorth{amount: d}
}

// Add returns the sum of two net-worth amounts.
func (n NetWorth) Add(other NetWorth) NetWorth {
	return NetWorth{amount: n.amount.Add(other.amount)}
}

// Neg returns the negated amount.
func (n NetWorth) Neg() NetWorth {
	return NetWorth{amount: n.amount.Neg()}
}

// Decimal unwraps the amount for display and persistence.
func (n NetWorth) Decimal() decimal.Decimal {
	return n.amount
}

// IsNegative reports whether the amount is below zero.
func (n NetWorth) IsNegative() bool {
	return n.amount.IsNegative()
}

// IsZero reports whether the amount is exactly zero.
func (n NetWorth) IsZero() bool {
	return n.amount.IsZero()
}

func (n NetWorth) String() string {
	return n.amount.StringFixed(2)
}

// Account is the canonical shape every provider payload is normalized into.
// Records are fully replaced on each successful re-fetch, never merged.
type Account struct {
	LastCheckedAt   time.Time
	ID              string
	UserID          string
	Provider        Provider
	Institution     string
	Type            AccountType
	Subtype         string
	Currency        string
	Status          ConnectionStatus
	DisplayBalance  NetWorth
	Ledger          decimal.Decimal
	Available       decimal.Decimal
	Owed            decimal.Decimal
	AvailableCredit decimal.Decimal
}

// IsActive reports whether the account should appear in the aggregate view.
// Disconnected accounts are retained only for reconnection prompts.
func (a *Account) IsActive() bool {
	return a.Status == StatusConnected
}

// IsCredit reports whether the account carries debt rather than assets.
func (a *Account) IsCredit() bool {
	return a.Type == AccountTypeCredit
}
