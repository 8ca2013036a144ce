package analytics

import (
	"context"
	"fmt"
	"strings"

	"github.com/krxwatch/krxwatch/internal/domain"
)

const (
	promptRecentBars = 20
	promptRecentNews = 10
)

// BuildPrompt assembles a single-ticker analysis prompt from stored metrics,
// recent bars, flows and news, suitable as RAG context for an LLM.
func (s *Service) BuildPrompt(ctx context.Context, ticker string, period domain.Period) (string, error) {
	metrics, err := s.ComputeMetrics(ctx, ticker, period)
	if err != nil {
		return "", err
	}

	days, _ := period.Days()
	bars, err := s.closesInWindow(ctx, ticker, days)
	if err != nil {
		return "", err
	}
	flows, err := s.flows.GetFlows(ctx, ticker, bars[0].Date, "")
	if err != nil {
		return "", err
	}
	newsItems, err := s.newsRepo.GetItems(ctx, ticker, bars[0].Date, "", promptRecentNews)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## 종목 분석 데이터: %s (%s ~ %s)\n\n", ticker, metrics.StartDate, metrics.EndDate)

	b.WriteString("### 핵심 지표\n")
	if metrics.PeriodReturn != nil {
		fmt.Fprintf(&b, "- 기간 수익률: %.2f%%\n", *metrics.PeriodReturn)
	}
	if metrics.AnnualizedReturn != nil {
		fmt.Fprintf(&b, "- 연환산 수익률: %.2f%%\n", *metrics.AnnualizedReturn)
	}
	fmt.Fprintf(&b, "- 연환산 변동성: %.2f%%\n", metrics.AnnualizedVolatility*100)
	if metrics.MaxDrawdown != nil {
		fmt.Fprintf(&b, "- 최대 낙폭: %.2f%%\n", *metrics.MaxDrawdown*100)
	}
	if metrics.SharpeRatio != nil {
		fmt.Fprintf(&b, "- 샤프 지수: %.2f\n", *metrics.SharpeRatio)
	}

	b.WriteString("\n### 최근 종가\n")
	recent := bars
	if len(recent) > promptRecentBars {
		recent = recent[len(recent)-promptRecentBars:]
	}
	for _, bar := range recent {
		fmt.Fprintf(&b, "- %s: %.0f (거래량 %d)\n", bar.Date, bar.Close, bar.Volume)
	}

	if len(flows) > 0 {
		b.WriteString("\n### 최근 수급 (순매수)\n")
		recentFlows := flows
		if len(recentFlows) > 10 {
			recentFlows = recentFlows[len(recentFlows)-10:]
		}
		for _, f := range recentFlows {
			fmt.Fprintf(&b, "- %s: 외국인 %d, 기관 %d, 개인 %d\n",
				f.Date, f.ForeignNet, f.InstitutionalNet, f.IndividualNet)
		}
	}

	if len(newsItems) > 0 {
		b.WriteString("\n### 최근 뉴스\n")
		for _, item := range newsItems {
			fmt.Fprintf(&b, "- [%s] %s (%s)\n", item.Date, item.Title, item.Source)
		}
	}

	b.WriteString("\n위 데이터를 근거로 이 종목의 현재 상황과 전망을 분석해 주세요.\n")
	return b.String(), nil
}

// BuildMultiPrompt assembles a comparison prompt across tickers.
func (s *Service) BuildMultiPrompt(ctx context.Context, tickers []string, period domain.Period) (string, error) {
	if len(tickers) < minCompareTickers || len(tickers) > maxCompareTickers {
		return "", domain.Validationf("multi prompt requires between %d and %d tickers", minCompareTickers, maxCompareTickers)
	}

	var b strings.Builder
	b.WriteString("## 복수 종목 비교 데이터\n")

	for _, t := range tickers {
		metrics, err := s.ComputeMetrics(ctx, t, period)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "\n### %s (%s ~ %s)\n", t, metrics.StartDate, metrics.EndDate)
		if metrics.PeriodReturn != nil {
			fmt.Fprintf(&b, "- 기간 수익률: %.2f%%\n", *metrics.PeriodReturn)
		}
		fmt.Fprintf(&b, "- 연환산 변동성: %.2f%%\n", metrics.AnnualizedVolatility*100)
		if metrics.MaxDrawdown != nil {
			fmt.Fprintf(&b, "- 최대 낙폭: %.2f%%\n", *metrics.MaxDrawdown*100)
		}
	}

	b.WriteString("\n위 종목들을 수익률, 변동성, 낙폭 관점에서 비교 분석해 주세요.\n")
	return b.String(), nil
}
