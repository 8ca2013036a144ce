// Package upstream defines the capability set the collector needs from a
// market-data source. The concrete scraper lives in clients/naver; tests
// drive the pipeline with fixture implementations of this interface.
package upstream

import (
	"context"

	"github.com/krxwatch/krxwatch/internal/domain"
)

// ValidationResult is the outcome of a lightweight ticker lookup.
type ValidationResult struct {
	Valid bool              `json:"valid"`
	Name  string            `json:"name,omitempty"`
	Type  domain.TickerType `json:"type,omitempty"`
}

// Client fetches market data from an upstream source. Implementations own
// retry, rate limiting and timeouts; callers never retry.
type Client interface {
	// FetchDailyBars returns up to days of daily OHLCV rows.
	// Most-recent-first ordering is acceptable.
	FetchDailyBars(ctx context.Context, ticker string, days int) ([]domain.DailyBar, error)

	// FetchTradingFlows returns up to days of investor flow rows.
	FetchTradingFlows(ctx context.Context, ticker string, days int) ([]domain.TradingFlow, error)

	// FetchIntradayTicks returns current-session ticks, paging through up to
	// pages of upstream results.
	FetchIntradayTicks(ctx context.Context, ticker string, pages int) ([]domain.IntradayTick, error)

	// FetchNews returns recent articles with relevance scored by keyword
	// overlap against the given keywords.
	FetchNews(ctx context.Context, ticker string, days int, keywords []string) ([]domain.NewsItem, error)

	FetchStockFundamentals(ctx context.Context, ticker string) (*domain.StockFundamentals, error)
	FetchEtfFundamentals(ctx context.Context, ticker string) (*domain.EtfFundamentals, error)
	FetchEtfHoldings(ctx context.Context, ticker string) ([]domain.EtfHolding, error)

	// FetchCatalog returns the full discoverable universe across the
	// KOSPI/KOSDAQ/ETF markets.
	FetchCatalog(ctx context.Context) ([]domain.CatalogEntry, error)

	// ValidateTicker checks a ticker by a lightweight lookup.
	ValidateTicker(ctx context.Context, ticker string) (*ValidationResult, error)
}
