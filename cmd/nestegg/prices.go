package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nestegg-fi/nestegg/internal/brokerage"
	"github.com/nestegg-fi/nestegg/internal/model"
	"github.com/nestegg-fi/nestegg/internal/prices"
	"github.com/nestegg-fi/nestegg/internal/service"
)

func pricesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prices",
		Short: "Look up and watch security and crypto prices",
	}

	cmd.AddCommand(pricesGetCmd())
	cmd.AddCommand(pricesWatchCmd())

	return cmd
}

func pricesGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get SYMBOL [SYMBOL...]",
		Short: "Fetch the current price for one or more symbols",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runPricesGet,
	}
}

func pricesWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch SYMBOL [SYMBOL...]",
		Short: "Stream price updates until interrupted",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runPricesWatch,
	}
}

func runPricesGet(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	sources, err := buildQuoteSources(ctx)
	if err != nil {
		return err
	}

	agg := prices.New(sources...)
	defer agg.Close()

	symbols := upperSymbols(args)
	quotes := agg.GetPrices(ctx, symbols)

	for _, symbol := range symbols {
		printQuote(quotes[symbol])
	}

	return nil
}

func runPricesWatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	sources, err := buildQuoteSources(ctx)
	if err != nil {
		return err
	}

	agg := prices.New(sources...)
	defer agg.Close()

	symbols := upperSymbols(args)

	fmt.Printf("Watching %s (Ctrl-C to stop)\n", strings.Join(symbols, ", "))

	cancel := agg.Subscribe(symbols, printQuote)
	defer cancel()

	<-ctx.Done()
	return nil
}

// buildQuoteSources assembles the configured price sources in priority
// order: brokerage quotes win over wallet spot rates for the same symbol.
func buildQuoteSources(ctx context.Context) ([]service.QuoteSource, error) {
	var sources []service.QuoteSource

	if feedURL := viper.GetString("brokerage.feed_url"); feedURL != "" {
		client, err := brokerage.NewClient(brokerage.Config{
			FeedURL:     feedURL,
			AccessToken: viper.GetString("brokerage.access_token"),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create brokerage client: %w", err)
		}
		sources = append(sources, client)
	}

	if wc := buildWalletClient(ctx); wc != nil {
		sources = append(sources, wc)
	}

	if len(sources) == 0 {
		return nil, fmt.Errorf("no price sources configured; set brokerage.feed_url or wallet credentials")
	}

	return sources, nil
}

func upperSymbols(args []string) []string {
	symbols := make([]string, len(args))
	for i, arg := range args {
		symbols[i] = strings.ToUpper(arg)
	}
	return symbols
}

func printQuote(quote model.PriceQuote) {
	if quote.Source == "" {
		fmt.Printf("%-8s no price available\n", quote.Symbol)
		return
	}
	fmt.Printf("%-8s %12s  (%s, %s)\n",
		quote.Symbol,
		quote.Price.StringFixed(2),
		quote.Source,
		quote.LastUpdated.Format("15:04:05"))
}
