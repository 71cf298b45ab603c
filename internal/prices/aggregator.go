// Package prices aggregates near-real-time quotes from an ordered list of
// upstream sources with short-TTL caching and subscription polling.
package prices

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nestegg-fi/nestegg/internal/model"
	"github.com/nestegg-fi/nestegg/internal/service"
)

// Config holds configuration options for the aggregator.
type Config struct {
	// TTL is how long a cached quote satisfies reads. The domain is
	// "near real time", not tick-accurate.
	TTL time.Duration
	// PollInterval drives the subscription refresh loops.
	PollInterval time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		TTL:          time.Second,
		PollInterval: time.Second,
	}
}

type cacheEntry struct {
	fetchedAt time.Time
	quote     model.PriceQuote
}

// Aggregator fetches quotes from ordered sources and owns the quote cache.
// Construct one per process and pass it by reference; there is no package
// singleton, so tests can build isolated instances.
type Aggregator struct {
	logger       *slog.Logger
	cache        map[string]cacheEntry
	loops        map[string]*pollLoop
	sources      []service.QuoteSource
	ttl          time.Duration
	pollInterval time.Duration
	nextSubID    int64
	mu           sync.Mutex
}

// New creates an aggregator with default settings. Sources are consulted in
// the order given: the first is preferred, the rest are fallbacks.
func New(sources ...service.QuoteSource) *Aggregator {
	return NewWithConfig(DefaultConfig(), sources...)
}

// NewWithConfig creates an aggregator with custom configuration.
func NewWithConfig(cfg Config, sources ...service.QuoteSource) *Aggregator {
	if cfg.TTL <= 0 {
		cfg.TTL = time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}

	return &Aggregator{
		cache:        make(map[string]cacheEntry),
		loops:        make(map[string]*pollLoop),
		sources:      sources,
		ttl:          cfg.TTL,
		pollInterval: cfg.PollInterval,
		logger:       slog.Default().With("component", "prices"),
	}
}

// GetPrice returns a quote for one symbol, from cache when fresh enough.
// It never fails: if every source errors, the result is a zero-valued quote
// carrying the last known timestamp so callers can tell "no data yet" from
// "stale but shaped".
func (a *Aggregator) GetPrice(ctx context.Context, symbol string) model.PriceQuote {
	if quote, ok := a.cached(symbol); ok {
		return quote
	}
	return a.refresh(ctx, symbol)
}

// GetPrices fetches quotes for many symbols concurrently.
func (a *Aggregator) GetPrices(ctx context.Context, symbols []string) map[string]model.PriceQuote {
	quotes := make(map[string]model.PriceQuote, len(symbols))

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, symbol := range symbols {
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			quote := a.GetPrice(ctx, symbol)
			mu.Lock()
			quotes[symbol] = quote
			mu.Unlock()
		}(symbol)
	}
	wg.Wait()

	return quotes
}

// cached returns the symbol's quote if it is younger than the TTL.
func (a *Aggregator) cached(symbol string) (model.PriceQuote, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	entry, ok := a.cache[symbol]
	if !ok || time.Since(entry.fetchedAt) >= a.ttl {
		return model.PriceQuote{}, false
	}
	return entry.quote, true
}

// refresh fans out to every source concurrently, waits for all of them to
// settle, and picks the winner by source priority rather than speed. Source
// failures are soft: logged, never surfaced to the caller.
func (a *Aggregator) refresh(ctx context.Context, symbol string) model.PriceQuote {
	results := make([]*model.PriceQuote, len(a.sources))

	var wg sync.WaitGroup
	for i, source := range a.sources {
		wg.Add(1)
		go func(i int, source service.QuoteSource) {
			defer wg.Done()

			quote, err := source.GetQuote(ctx, symbol)
			if err != nil {
				a.logger.Debug("Quote source did not answer",
					"source", source.Name(),
					"symbol", symbol,
					"error", err)
				return
			}

			quote.Symbol = symbol
			quote.Source = source.Name()
			if quote.LastUpdated.IsZero() {
				quote.LastUpdated = time.Now()
			}
			results[i] = &quote
		}(i, source)
	}
	wg.Wait()

	for _, result := range results {
		if result != nil {
			a.store(symbol, *result)
			return *result
		}
	}

	a.logger.Warn("All quote sources failed", "symbol", symbol, "sources", len(a.sources))
	return model.ZeroQuote(symbol, a.lastUpdated(symbol))
}

// store caches a successful fetch. Entries are only ever superseded by a
// fresher fetch, never invalidated early; overlapping fetches resolve
// last-writer-wins.
func (a *Aggregator) store(symbol string, quote model.PriceQuote) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.cache[symbol] = cacheEntry{quote: quote, fetchedAt: time.Now()}
}

// lastUpdated reports the timestamp of whatever data was last cached for the
// symbol, zero if none.
func (a *Aggregator) lastUpdated(symbol string) time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()

	if entry, ok := a.cache[symbol]; ok {
		return entry.quote.LastUpdated
	}
	return time.Time{}
}

// Close stops every polling loop. The aggregator must not be used afterward.
func (a *Aggregator) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for symbol, loop := range a.loops {
		loop.cancel()
		delete(a.loops, symbol)
	}
}
