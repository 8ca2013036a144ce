package analytics

import (
	"context"

	"github.com/krxwatch/krxwatch/internal/domain"
	"github.com/krxwatch/krxwatch/pkg/formulas"
)

// BatchSummaryRequest is the dashboard-card request for a ticker list.
type BatchSummaryRequest struct {
	Tickers   []string `json:"tickers"`
	PriceDays int      `json:"price_days"`
	NewsLimit int      `json:"news_limit"`
}

// SummaryCard is one dashboard card.
type SummaryCard struct {
	Ticker       string              `json:"ticker"`
	LatestBar    *domain.DailyBar    `json:"latest_bar,omitempty"`
	PeriodReturn *float64            `json:"period_return,omitempty"`
	LatestFlow   *domain.TradingFlow `json:"latest_flow,omitempty"`
	RecentNews   []domain.NewsItem   `json:"recent_news"`
	Error        string              `json:"error,omitempty"`
}

// BatchSummary builds one card per ticker. Per-ticker failures surface on
// the card, never fail the batch.
func (s *Service) BatchSummary(ctx context.Context, req BatchSummaryRequest) ([]SummaryCard, error) {
	if len(req.Tickers) == 0 {
		return nil, domain.Validationf("tickers must not be empty")
	}
	if req.PriceDays <= 0 {
		req.PriceDays = 30
	}
	if req.NewsLimit <= 0 {
		req.NewsLimit = 3
	}

	cards := make([]SummaryCard, 0, len(req.Tickers))
	for _, ticker := range req.Tickers {
		card := SummaryCard{Ticker: ticker, RecentNews: []domain.NewsItem{}}

		bars, err := s.closesInWindow(ctx, ticker, req.PriceDays)
		if err != nil {
			card.Error = err.Error()
			cards = append(cards, card)
			continue
		}
		card.LatestBar = &bars[len(bars)-1]

		closes := make([]float64, len(bars))
		for i, b := range bars {
			closes[i] = b.Close
		}
		card.PeriodReturn = formulas.PeriodReturn(closes)

		if flows, err := s.flows.GetFlows(ctx, ticker, bars[0].Date, ""); err == nil && len(flows) > 0 {
			card.LatestFlow = &flows[len(flows)-1]
		}
		if items, err := s.newsRepo.GetItems(ctx, ticker, "", "", req.NewsLimit); err == nil && items != nil {
			card.RecentNews = items
		}

		cards = append(cards, card)
	}
	return cards, nil
}
