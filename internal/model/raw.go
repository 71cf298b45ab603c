package model

// RawAccount is the provider-agnostic envelope of an account payload before
// normalization. Provider clients map their SDK types into this shape; the
// normalizer owns everything after that.
type RawAccount struct {
	ID          string
	Name        string
	Institution string
	Type        string
	Subtype     string
	Currency    string
}

// RawBalance carries a provider's balance figures as strings. Providers
// disagree on numeric representations, and a missing or malformed field must
// normalize to zero rather than fail the whole account.
type RawBalance struct {
	Ledger    string
	Available string
	Cash      string
	Positions []RawPosition
}

// RawPosition is one holding inside a brokerage balance payload.
type RawPosition struct {
	Symbol      string
	Quantity    string
	MarketValue string
}
