package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceQuote is a near-real-time quote for one symbol, owned by the price
// aggregator's cache and overwritten on every successful fetch.
type PriceQuote struct {
	LastUpdated   time.Time
	Symbol        string
	Source        string
	Price         decimal.Decimal
	Change        decimal.Decimal
	ChangePercent decimal.Decimal
	Volume        decimal.Decimal
	MarketCap     decimal.Decimal
}

// HasData distinguishes "no data yet" from a zero-valued quote produced when
// every source failed: the latter keeps its original LastUpdated timestamp.
func (q *PriceQuote) HasData() bool {
	return !q.LastUpdated.IsZero()
}

// ZeroQuote returns the degraded quote used when all sources fail, preserving
// the timestamp of whatever data was last seen for the symbol.
func ZeroQuote(symbol string, lastUpdated time.Time) PriceQuote {
	return PriceQuote{
		Symbol:      symbol,
		LastUpdated: lastUpdated,
	}
}
