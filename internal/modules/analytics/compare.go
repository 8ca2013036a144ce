package analytics

import (
	"context"
	"math"
	"sort"

	"github.com/krxwatch/krxwatch/internal/domain"
	"github.com/krxwatch/krxwatch/pkg/formulas"
)

const (
	minCompareTickers = 2
	maxCompareTickers = 20
)

// Comparison is the multi-ticker comparison payload.
type Comparison struct {
	Dates            []string                 `json:"dates"`
	NormalizedPrices map[string][]float64     `json:"normalized_prices"`
	Stats            map[string]*Metrics      `json:"stats"`
	Correlation      map[string]map[string]float64 `json:"correlation"`
}

// Compare aligns the tickers on their intersecting trading days, rebases each
// series to 100, and computes per-ticker stats plus the Pearson correlation
// matrix of daily returns.
func (s *Service) Compare(ctx context.Context, tickers []string, from, to string) (*Comparison, error) {
	if len(tickers) < minCompareTickers || len(tickers) > maxCompareTickers {
		return nil, domain.Validationf("compare requires between %d and %d tickers", minCompareTickers, maxCompareTickers)
	}
	seen := make(map[string]struct{}, len(tickers))
	for _, t := range tickers {
		if _, dup := seen[t]; dup {
			return nil, domain.Validationf("duplicate ticker %s", t)
		}
		seen[t] = struct{}{}
	}
	if from != "" && to != "" && from > to {
		return nil, domain.Validationf("end_date must not precede start_date")
	}

	// Load each series keyed by date, then intersect.
	series := make(map[string]map[string]float64, len(tickers))
	for _, t := range tickers {
		bars, err := s.bars.GetBars(ctx, t, from, to)
		if err != nil {
			return nil, err
		}
		if len(bars) == 0 {
			return nil, domain.NotFoundf("no price data for %s", t)
		}
		byDate := make(map[string]float64, len(bars))
		for _, b := range bars {
			byDate[b.Date] = b.Close
		}
		series[t] = byDate
	}

	var dates []string
	for date := range series[tickers[0]] {
		inAll := true
		for _, t := range tickers[1:] {
			if _, ok := series[t][date]; !ok {
				inAll = false
				break
			}
		}
		if inAll {
			dates = append(dates, date)
		}
	}
	if len(dates) < 2 {
		return nil, domain.Validationf("fewer than 2 overlapping trading days across tickers")
	}
	sort.Strings(dates)

	out := &Comparison{
		Dates:            dates,
		NormalizedPrices: make(map[string][]float64, len(tickers)),
		Stats:            make(map[string]*Metrics, len(tickers)),
		Correlation:      make(map[string]map[string]float64, len(tickers)),
	}

	returns := make(map[string][]float64, len(tickers))
	for _, t := range tickers {
		closes := make([]float64, len(dates))
		bars := make([]domain.DailyBar, len(dates))
		for i, date := range dates {
			closes[i] = series[t][date]
			bars[i] = domain.DailyBar{Ticker: t, Date: date, Close: closes[i]}
		}
		out.NormalizedPrices[t] = formulas.NormalizeTo100(closes)
		out.Stats[t] = MetricsFromBars(t, bars, s.riskFreeRate)
		returns[t] = formulas.SimpleReturns(closes)
	}

	for _, a := range tickers {
		out.Correlation[a] = make(map[string]float64, len(tickers))
		for _, b := range tickers {
			if a == b {
				out.Correlation[a][b] = 1.0
				continue
			}
			corr := formulas.Correlation(returns[a], returns[b])
			if math.IsNaN(corr) {
				// Zero-variance series; correlation is undefined.
				corr = 0
			}
			out.Correlation[a][b] = corr
		}
	}

	return out, nil
}
