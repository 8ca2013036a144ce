// Package analytics derives metrics, insights, comparisons and simulations
// from stored price series. Every computation is a pure function of store
// reads; nothing here talks to the upstream.
package analytics

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/krxwatch/krxwatch/internal/domain"
	"github.com/krxwatch/krxwatch/internal/modules/market"
	"github.com/krxwatch/krxwatch/internal/modules/news"
	"github.com/krxwatch/krxwatch/pkg/formulas"
)

// Service computes analytics over stored market data.
type Service struct {
	bars         *market.BarRepository
	flows        *market.FlowRepository
	newsRepo     *news.Repository
	riskFreeRate float64
	log          zerolog.Logger

	now func() time.Time
}

// NewService creates the analytics service. riskFreeRate is annual, as a
// decimal (0.02 for 2%).
func NewService(bars *market.BarRepository, flows *market.FlowRepository, newsRepo *news.Repository, riskFreeRate float64, log zerolog.Logger) *Service {
	return &Service{
		bars:         bars,
		flows:        flows,
		newsRepo:     newsRepo,
		riskFreeRate: riskFreeRate,
		log:          log.With().Str("service", "analytics").Logger(),
		now:          time.Now,
	}
}

// Metrics is the derived statistics payload for one ticker.
type Metrics struct {
	Ticker               string   `json:"ticker"`
	StartDate            string   `json:"start_date"`
	EndDate              string   `json:"end_date"`
	TradingDays          int      `json:"trading_days"`
	PeriodReturn         *float64 `json:"period_return"`
	AnnualizedReturn     *float64 `json:"annualized_return"`
	DailyVolatility      float64  `json:"daily_volatility"`
	AnnualizedVolatility float64  `json:"annualized_volatility"`
	LogDailyVolatility   float64  `json:"log_daily_volatility"`
	LogAnnualizedVol     float64  `json:"log_annualized_volatility"`
	MaxDrawdown          *float64 `json:"max_drawdown"`
	SharpeRatio          *float64 `json:"sharpe_ratio"`
}

// closesInWindow loads the close series for the trailing window of a period.
func (s *Service) closesInWindow(ctx context.Context, ticker string, days int) ([]domain.DailyBar, error) {
	from := domain.FormatDate(s.now().AddDate(0, 0, -days))
	bars, err := s.bars.GetBars(ctx, ticker, from, "")
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, domain.NotFoundf("no price data for %s", ticker)
	}
	return bars, nil
}

// ComputeMetrics derives the full metrics set over the given period.
// annualized_return stays nil below the 90-trading-day floor.
func (s *Service) ComputeMetrics(ctx context.Context, ticker string, period domain.Period) (*Metrics, error) {
	days, err := period.Days()
	if err != nil {
		return nil, err
	}
	bars, err := s.closesInWindow(ctx, ticker, days)
	if err != nil {
		return nil, err
	}
	return MetricsFromBars(ticker, bars, s.riskFreeRate), nil
}

// MetricsFromBars computes the metrics set over an already-loaded series.
func MetricsFromBars(ticker string, bars []domain.DailyBar, riskFreeRate float64) *Metrics {
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}

	m := &Metrics{
		Ticker:      ticker,
		StartDate:   bars[0].Date,
		EndDate:     bars[len(bars)-1].Date,
		TradingDays: len(bars),
	}

	m.PeriodReturn = formulas.PeriodReturn(closes)
	if m.PeriodReturn != nil {
		m.AnnualizedReturn = formulas.AnnualizedReturn(*m.PeriodReturn, len(bars))
	}

	simple := formulas.SimpleReturns(closes)
	logs := formulas.LogReturns(closes)
	m.DailyVolatility = formulas.StdDev(simple)
	m.AnnualizedVolatility = formulas.AnnualizedVolatility(simple)
	m.LogDailyVolatility = formulas.StdDev(logs)
	m.LogAnnualizedVol = formulas.AnnualizedVolatility(logs)

	m.MaxDrawdown = formulas.MaxDrawdown(closes)
	m.SharpeRatio = formulas.SharpeFromPrices(closes, riskFreeRate)

	return m
}
