// Package normalize maps heterogeneous provider account payloads into the
// canonical account model. Everything here is pure: no I/O, no errors for
// malformed optional fields, and sign conventions applied exactly once.
package normalize

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/nestegg-fi/nestegg/internal/model"
)

// Account normalizes one provider account+balance payload.
//
// Credit accounts invert sign: the upstream aggregator reports the amount
// owed as a positive ledger value, so the display balance becomes -ledger
// and the raw figures are preserved as Owed/AvailableCredit. Investment
// accounts decompose into cash plus accumulated position market value
// because provider top-level balances may exclude either. Everything else
// shows available when present, otherwise ledger, never negative.
//
// The caller owns LastCheckedAt and persistence; any malformed numeric field
// silently becomes zero and should be logged by the caller.
func Account(provider model.Provider, raw model.RawAccount, balance model.RawBalance) model.Account {
	account := model.Account{
		ID:          raw.ID,
		Provider:    provider,
		Institution: raw.Institution,
		Type:        accountType(provider, raw),
		Subtype:     strings.ToLower(raw.Subtype),
		Currency:    currency(raw.Currency),
		Status:      model.StatusConnected,
		Ledger:      amount(balance.Ledger),
		Available:   amount(balance.Available),
	}

	switch {
	case isCredit(raw):
		account.Type = model.AccountTypeCredit
		account.Owed = account.Ledger
		account.AvailableCredit = account.Available
		account.DisplayBalance = model.NetWorthFromDecimal(account.Ledger.Neg())
	case account.Type == model.AccountTypeInvestment:
		account.DisplayBalance = model.NetWorthFromDecimal(investmentValue(balance))
	default:
		account.DisplayBalance = model.NetWorthFromDecimal(assetValue(balance))
	}

	return account
}

// isCredit detects debt-carrying accounts from either the type or subtype.
func isCredit(raw model.RawAccount) bool {
	if strings.EqualFold(raw.Type, "credit") {
		return true
	}
	subtype := strings.ToLower(raw.Subtype)
	return subtype == "credit_card" || subtype == "credit card"
}

// accountType maps a provider's type string onto the canonical enum.
func accountType(provider model.Provider, raw model.RawAccount) model.AccountType {
	switch strings.ToLower(raw.Type) {
	case "credit":
		return model.AccountTypeCredit
	case "investment", "brokerage":
		return model.AccountTypeInvestment
	case "crypto", "wallet":
		return model.AccountTypeCrypto
	case "depository", "checking", "savings":
		return model.AccountTypeDepository
	}

	// Fall back on the provider itself when the payload is unhelpful.
	switch provider {
	case model.ProviderWallet:
		return model.AccountTypeCrypto
	case model.ProviderBrokerage:
		return model.AccountTypeInvestment
	default:
		return model.AccountTypeDepository
	}
}

// assetValue picks the display balance for depository and crypto accounts:
// available when the provider sent one, otherwise ledger, floored at zero.
func assetValue(balance model.RawBalance) decimal.Decimal {
	value := amount(balance.Ledger)
	if strings.TrimSpace(balance.Available) != "" {
		value = amount(balance.Available)
	}
	if value.IsNegative() {
		return decimal.Zero
	}
	return value
}

// investmentValue sums cash and position market values. The provider's
// top-level balance field is deliberately ignored.
func investmentValue(balance model.RawBalance) decimal.Decimal {
	value := amount(balance.Cash)
	for _, position := range balance.Positions {
		value = value.Add(amount(position.MarketValue))
	}
	if value.IsNegative() {
		return decimal.Zero
	}
	return value
}

// amount parses a provider numeric string, treating anything unparsable as zero.
func amount(s string) decimal.Decimal {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero
	}
	value, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return value
}

func currency(s string) string {
	if s == "" {
		return "USD"
	}
	return strings.ToUpper(s)
}
