// Package collector orchestrates upstream fetches into store writes. It
// implements gap-only "smart collection", the batch collect-all job with
// progress and cooperative cancellation, bounded backfill, and intraday
// collection.
package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/krxwatch/krxwatch/internal/cache"
	"github.com/krxwatch/krxwatch/internal/clients/upstream"
	"github.com/krxwatch/krxwatch/internal/domain"
	"github.com/krxwatch/krxwatch/internal/modules/market"
	"github.com/krxwatch/krxwatch/internal/modules/news"
	"github.com/krxwatch/krxwatch/internal/modules/watchlist"
	"github.com/krxwatch/krxwatch/internal/progress"
)

// MaxBackfillDays bounds on-demand historical backfills.
const MaxBackfillDays = 365

// Service orchestrates collection.
type Service struct {
	client       upstream.Client
	watchlist    *watchlist.Repository
	bars         *market.BarRepository
	flows        *market.FlowRepository
	intraday     *market.IntradayRepository
	fundamentals *market.FundamentalsRepository
	state        *market.StateRepository
	newsRepo     *news.Repository
	cache        *cache.Cache
	registry     *progress.Registry
	log          zerolog.Logger

	// now is injectable for gap-math tests.
	now func() time.Time
}

// Deps carries the service dependencies.
type Deps struct {
	Client       upstream.Client
	Watchlist    *watchlist.Repository
	Bars         *market.BarRepository
	Flows        *market.FlowRepository
	Intraday     *market.IntradayRepository
	Fundamentals *market.FundamentalsRepository
	State        *market.StateRepository
	News         *news.Repository
	Cache        *cache.Cache
	Registry     *progress.Registry
}

// NewService creates the collector service.
func NewService(d Deps, log zerolog.Logger) *Service {
	return &Service{
		client:       d.Client,
		watchlist:    d.Watchlist,
		bars:         d.Bars,
		flows:        d.Flows,
		intraday:     d.Intraday,
		fundamentals: d.Fundamentals,
		state:        d.State,
		newsRepo:     d.News,
		cache:        d.Cache,
		registry:     d.Registry,
		log:          log.With().Str("service", "collector").Logger(),
		now:          time.Now,
	}
}

// TickerResult is the per-ticker outcome inside a batch.
type TickerResult struct {
	Ticker       string `json:"ticker"`
	Success      bool   `json:"success"`
	PriceRecords int    `json:"price_records"`
	FlowRecords  int    `json:"flow_records"`
	NewsRecords  int    `json:"news_records"`
	Error        string `json:"error,omitempty"`
}

// BatchResult aggregates a collect-all run.
type BatchResult struct {
	Success   int            `json:"success"`
	Failed    int            `json:"failed"`
	Cancelled bool           `json:"cancelled"`
	Details   []TickerResult `json:"details"`
}

// actualDays computes the smart-collection window: full window for a
// never-collected ticker, the gap when one exists, zero (skip) when the
// watermark is current.
func (s *Service) actualDays(lastDate *string, days int) (int, error) {
	if lastDate == nil || *lastDate == "" {
		return days, nil
	}
	last, err := domain.ParseDate(*lastDate)
	if err != nil {
		return 0, err
	}
	today, _ := domain.ParseDate(domain.FormatDate(s.now()))
	gap := int(today.Sub(last).Hours() / 24)
	if gap <= 0 {
		return 0, nil
	}
	if gap < days {
		return gap, nil
	}
	return days, nil
}

// CollectTicker collects prices and trading flows for one ticker using smart
// collection, then advances its collection state.
func (s *Service) CollectTicker(ctx context.Context, ticker string, days int) (*TickerResult, error) {
	if days <= 0 {
		return nil, domain.Validationf("days must be > 0")
	}
	if _, err := s.watchlist.Get(ctx, ticker); err != nil {
		return nil, err
	}

	res := &TickerResult{Ticker: ticker}
	if err := s.collectPricesAndFlows(ctx, ticker, days, res); err != nil {
		_ = s.state.MarkFailure(ctx, ticker, s.now())
		return nil, err
	}
	res.Success = true
	return res, nil
}

func (s *Service) collectPricesAndFlows(ctx context.Context, ticker string, days int, res *TickerResult) error {
	st, err := s.state.Get(ctx, ticker)
	if err != nil {
		return err
	}
	if err := s.state.MarkAttempt(ctx, ticker, s.now()); err != nil {
		return err
	}

	var lastPrice, lastFlow *string
	if st != nil {
		lastPrice = st.LastPriceDate
		lastFlow = st.LastTradingFlowDate
	}

	priceDays, err := s.actualDays(lastPrice, days)
	if err != nil {
		return err
	}
	flowDays, err := s.actualDays(lastFlow, days)
	if err != nil {
		return err
	}

	outcome := market.Outcome{}

	if priceDays > 0 {
		bars, err := s.client.FetchDailyBars(ctx, ticker, priceDays)
		if err != nil {
			return fmt.Errorf("collect prices for %s: %w", ticker, err)
		}
		if err := s.bars.UpsertBars(ctx, bars); err != nil {
			return err
		}
		res.PriceRecords = len(bars)
		outcome.LastPriceDate = maxDate(bars, func(b domain.DailyBar) string { return b.Date })
		s.cache.InvalidateByTag("ticker:" + ticker)
	}

	if flowDays > 0 {
		flows, err := s.client.FetchTradingFlows(ctx, ticker, flowDays)
		if err != nil {
			return fmt.Errorf("collect flows for %s: %w", ticker, err)
		}
		if err := s.flows.UpsertFlows(ctx, flows); err != nil {
			return err
		}
		res.FlowRecords = len(flows)
		for _, f := range flows {
			if f.Date > outcome.LastTradingFlowDate {
				outcome.LastTradingFlowDate = f.Date
			}
		}
	}

	if outcome.PriceCount, err = s.bars.Count(ctx, ticker); err != nil {
		return err
	}
	if outcome.FlowCount, err = s.flows.Count(ctx, ticker); err != nil {
		return err
	}
	if outcome.NewsCount, err = s.newsRepo.Count(ctx, ticker); err != nil {
		return err
	}

	return s.state.MarkSuccess(ctx, ticker, s.now(), outcome)
}

func maxDate[T any](rows []T, date func(T) string) string {
	max := ""
	for _, row := range rows {
		if d := date(row); d > max {
			max = d
		}
	}
	return max
}

// CollectFlows collects trading flows only, honoring the flow watermark.
func (s *Service) CollectFlows(ctx context.Context, ticker string, days int) (*TickerResult, error) {
	if days <= 0 {
		return nil, domain.Validationf("days must be > 0")
	}
	if _, err := s.watchlist.Get(ctx, ticker); err != nil {
		return nil, err
	}

	st, err := s.state.Get(ctx, ticker)
	if err != nil {
		return nil, err
	}
	var lastFlow *string
	if st != nil {
		lastFlow = st.LastTradingFlowDate
	}
	flowDays, err := s.actualDays(lastFlow, days)
	if err != nil {
		return nil, err
	}

	res := &TickerResult{Ticker: ticker, Success: true}
	if flowDays == 0 {
		return res, nil
	}

	flows, err := s.client.FetchTradingFlows(ctx, ticker, flowDays)
	if err != nil {
		_ = s.state.MarkFailure(ctx, ticker, s.now())
		return nil, fmt.Errorf("collect flows for %s: %w", ticker, err)
	}
	if err := s.flows.UpsertFlows(ctx, flows); err != nil {
		return nil, err
	}
	res.FlowRecords = len(flows)

	outcome := market.Outcome{
		LastTradingFlowDate: maxDate(flows, func(f domain.TradingFlow) string { return f.Date }),
	}
	if outcome.PriceCount, err = s.bars.Count(ctx, ticker); err != nil {
		return nil, err
	}
	if outcome.FlowCount, err = s.flows.Count(ctx, ticker); err != nil {
		return nil, err
	}
	if outcome.NewsCount, err = s.newsRepo.Count(ctx, ticker); err != nil {
		return nil, err
	}
	if err := s.state.MarkSuccess(ctx, ticker, s.now(), outcome); err != nil {
		return nil, err
	}
	return res, nil
}

// CollectNews fetches recent articles using the ticker's registered keywords.
func (s *Service) CollectNews(ctx context.Context, ticker string, days int) (int, error) {
	if days <= 0 {
		return 0, domain.Validationf("days must be > 0")
	}
	t, err := s.watchlist.Get(ctx, ticker)
	if err != nil {
		return 0, err
	}

	keywords := t.RelevanceKeywords
	if t.SearchKeyword != "" {
		keywords = append([]string{t.SearchKeyword}, keywords...)
	}

	items, err := s.client.FetchNews(ctx, ticker, days, keywords)
	if err != nil {
		return 0, fmt.Errorf("collect news for %s: %w", ticker, err)
	}
	if err := s.newsRepo.UpsertItems(ctx, items); err != nil {
		return 0, err
	}
	s.cache.InvalidateByTag("ticker:" + ticker)
	if err := s.advanceNewsState(ctx, ticker); err != nil {
		return 0, err
	}
	return len(items), nil
}

// advanceNewsState stamps the news watermark and refreshes the stored record
// counts after a successful news fetch.
func (s *Service) advanceNewsState(ctx context.Context, ticker string) error {
	outcome := market.Outcome{NewsCollected: true}
	var err error
	if outcome.PriceCount, err = s.bars.Count(ctx, ticker); err != nil {
		return err
	}
	if outcome.FlowCount, err = s.flows.Count(ctx, ticker); err != nil {
		return err
	}
	if outcome.NewsCount, err = s.newsRepo.Count(ctx, ticker); err != nil {
		return err
	}
	return s.state.MarkSuccess(ctx, ticker, s.now(), outcome)
}

// CollectFundamentals fetches the fundamentals matching the ticker's type:
// valuation ratios for stocks, NAV and holdings for ETFs.
func (s *Service) CollectFundamentals(ctx context.Context, ticker string) error {
	t, err := s.watchlist.Get(ctx, ticker)
	if err != nil {
		return err
	}

	if t.Type == domain.TickerTypeETF {
		f, err := s.client.FetchEtfFundamentals(ctx, ticker)
		if err != nil {
			return fmt.Errorf("collect etf fundamentals for %s: %w", ticker, err)
		}
		if err := s.fundamentals.UpsertEtfFundamentals(ctx, f); err != nil {
			return err
		}
		holdings, err := s.client.FetchEtfHoldings(ctx, ticker)
		if err != nil {
			return fmt.Errorf("collect etf holdings for %s: %w", ticker, err)
		}
		if len(holdings) > 0 {
			if err := s.fundamentals.ReplaceEtfHoldings(ctx, ticker, holdings[0].Date, holdings); err != nil {
				return err
			}
		}
	} else {
		f, err := s.client.FetchStockFundamentals(ctx, ticker)
		if err != nil {
			return fmt.Errorf("collect stock fundamentals for %s: %w", ticker, err)
		}
		if err := s.fundamentals.UpsertStockFundamentals(ctx, f); err != nil {
			return err
		}
	}

	s.cache.InvalidateByTag("ticker:" + ticker)
	return nil
}

// CollectAll runs a smart-collection pass over the whole watchlist: prices,
// trading flows, news, then fundamentals per ticker. At most one collect-all
// runs process-wide; a second call fails with AlreadyRunning. Per-ticker
// failures are recorded in the details and do not abort the batch.
func (s *Service) CollectAll(ctx context.Context, days int) (*BatchResult, error) {
	if days <= 0 {
		return nil, domain.Validationf("days must be > 0")
	}

	tickers, err := s.watchlist.List(ctx)
	if err != nil {
		return nil, err
	}

	tracker, err := s.registry.Start(progress.JobCollectAll, len(tickers), "collection starting")
	if err != nil {
		return nil, err
	}

	result := &BatchResult{Details: make([]TickerResult, 0, len(tickers))}
	for i, t := range tickers {
		if tracker.CancelRequested() || ctx.Err() != nil {
			result.Cancelled = true
			tracker.Finish(progress.StatusCancelled, "cancelled")
			return result, nil
		}

		tracker.Update(i, fmt.Sprintf("collecting %s (%d/%d)", t.Ticker, i+1, len(tickers)), "prices")

		res := TickerResult{Ticker: t.Ticker}
		if err := s.collectPricesAndFlows(ctx, t.Ticker, days, &res); err != nil {
			s.recordBatchFailure(ctx, t.Ticker, err, &res, result)
			result.Details = append(result.Details, res)
			continue
		}

		if tracker.CancelRequested() {
			result.Details = append(result.Details, res)
			result.Cancelled = true
			tracker.Finish(progress.StatusCancelled, "cancelled")
			return result, nil
		}

		tracker.Update(i, fmt.Sprintf("collecting %s (%d/%d)", t.Ticker, i+1, len(tickers)), "news")
		if n, err := s.CollectNews(ctx, t.Ticker, days); err != nil {
			s.log.Warn().Err(err).Str("ticker", t.Ticker).Msg("News collection failed")
		} else {
			res.NewsRecords = n
		}

		tracker.Update(i, fmt.Sprintf("collecting %s (%d/%d)", t.Ticker, i+1, len(tickers)), "fundamentals")
		if err := s.CollectFundamentals(ctx, t.Ticker); err != nil {
			s.log.Warn().Err(err).Str("ticker", t.Ticker).Msg("Fundamentals collection failed")
		}

		res.Success = true
		result.Success++
		result.Details = append(result.Details, res)
		tracker.Update(i+1, fmt.Sprintf("collected %s", t.Ticker), "done")
	}

	tracker.Finish(progress.StatusCompleted,
		fmt.Sprintf("collected %d tickers (%d failed)", result.Success, result.Failed))
	return result, nil
}

func (s *Service) recordBatchFailure(ctx context.Context, ticker string, err error, res *TickerResult, batch *BatchResult) {
	s.log.Warn().Err(err).Str("ticker", ticker).Msg("Ticker collection failed")
	_ = s.state.MarkFailure(ctx, ticker, s.now())
	res.Error = err.Error()
	batch.Failed++
}

// CollectAllFundamentals runs fundamentals for the whole watchlist under its
// own single-flight slot.
func (s *Service) CollectAllFundamentals(ctx context.Context) (*BatchResult, error) {
	tickers, err := s.watchlist.List(ctx)
	if err != nil {
		return nil, err
	}

	tracker, err := s.registry.Start(progress.JobCollectFundamentals, len(tickers), "fundamentals starting")
	if err != nil {
		return nil, err
	}

	result := &BatchResult{Details: make([]TickerResult, 0, len(tickers))}
	for i, t := range tickers {
		if tracker.CancelRequested() || ctx.Err() != nil {
			result.Cancelled = true
			tracker.Finish(progress.StatusCancelled, "cancelled")
			return result, nil
		}

		tracker.Update(i, fmt.Sprintf("fundamentals %s (%d/%d)", t.Ticker, i+1, len(tickers)), "fundamentals")

		res := TickerResult{Ticker: t.Ticker}
		if err := s.CollectFundamentals(ctx, t.Ticker); err != nil {
			s.log.Warn().Err(err).Str("ticker", t.Ticker).Msg("Fundamentals collection failed")
			res.Error = err.Error()
			result.Failed++
		} else {
			res.Success = true
			result.Success++
		}
		result.Details = append(result.Details, res)
	}

	tracker.Finish(progress.StatusCompleted,
		fmt.Sprintf("fundamentals for %d tickers (%d failed)", result.Success, result.Failed))
	return result, nil
}

// Backfill collects a deep historical window, bounded to MaxBackfillDays.
// It ignores the smart-collection watermark on purpose.
func (s *Service) Backfill(ctx context.Context, days int) (*BatchResult, error) {
	if days <= 0 {
		return nil, domain.Validationf("days must be > 0")
	}
	if days > MaxBackfillDays {
		return nil, domain.Validationf("days must be <= %d", MaxBackfillDays)
	}

	tickers, err := s.watchlist.List(ctx)
	if err != nil {
		return nil, err
	}

	tracker, err := s.registry.Start(progress.JobCollectAll, len(tickers), "backfill starting")
	if err != nil {
		return nil, err
	}

	result := &BatchResult{Details: make([]TickerResult, 0, len(tickers))}
	for i, t := range tickers {
		if tracker.CancelRequested() || ctx.Err() != nil {
			result.Cancelled = true
			tracker.Finish(progress.StatusCancelled, "cancelled")
			return result, nil
		}
		tracker.Update(i, fmt.Sprintf("backfilling %s (%d/%d)", t.Ticker, i+1, len(tickers)), "backfill")

		res := TickerResult{Ticker: t.Ticker}
		bars, err := s.client.FetchDailyBars(ctx, t.Ticker, days)
		if err == nil {
			err = s.bars.UpsertBars(ctx, bars)
		}
		if err != nil {
			s.recordBatchFailure(ctx, t.Ticker, err, &res, result)
			result.Details = append(result.Details, res)
			continue
		}
		res.PriceRecords = len(bars)
		res.Success = true
		result.Success++
		result.Details = append(result.Details, res)
		s.cache.InvalidateByTag("ticker:" + t.Ticker)

		outcome := market.Outcome{
			LastPriceDate: maxDate(bars, func(b domain.DailyBar) string { return b.Date }),
		}
		if outcome.PriceCount, err = s.bars.Count(ctx, t.Ticker); err == nil {
			outcome.FlowCount, _ = s.flows.Count(ctx, t.Ticker)
			outcome.NewsCount, _ = s.newsRepo.Count(ctx, t.Ticker)
			_ = s.state.MarkSuccess(ctx, t.Ticker, s.now(), outcome)
		}
	}

	tracker.Finish(progress.StatusCompleted,
		fmt.Sprintf("backfilled %d tickers (%d failed)", result.Success, result.Failed))
	return result, nil
}

// CollectIntraday fetches current-session ticks. Results are written straight
// to the store; an empty fetch leaves no trace so later calls can retry.
func (s *Service) CollectIntraday(ctx context.Context, ticker string, pages int) (int, error) {
	if _, err := s.watchlist.Get(ctx, ticker); err != nil {
		return 0, err
	}

	ticks, err := s.client.FetchIntradayTicks(ctx, ticker, pages)
	if err != nil {
		return 0, fmt.Errorf("collect intraday for %s: %w", ticker, err)
	}
	if len(ticks) == 0 {
		return 0, nil
	}
	if err := s.intraday.UpsertTicks(ctx, ticks); err != nil {
		return 0, err
	}
	s.cache.InvalidateByTag("ticker:" + ticker)
	return len(ticks), nil
}
