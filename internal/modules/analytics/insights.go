package analytics

import (
	"context"
	"fmt"
	"strings"

	"github.com/krxwatch/krxwatch/internal/domain"
	"github.com/krxwatch/krxwatch/pkg/formulas"
)

// Strategy labels, per horizon.
const (
	StrategyIncrease = "비중확대"
	StrategyHold     = "보유"
	StrategyWait     = "관망"
	StrategyReduce   = "비중축소"
)

// Insights is the rule-based advisory payload for one ticker.
type Insights struct {
	Ticker    string            `json:"ticker"`
	Period    domain.Period     `json:"period"`
	Strategy  map[string]string `json:"strategy"` // horizon → label
	KeyPoints []string          `json:"key_points"`
	RiskFlags []string          `json:"risk_flags"`
	Metrics   *Metrics          `json:"metrics"`
}

// insightHorizons maps the advisory horizons to their lookback periods.
var insightHorizons = []struct {
	name   string
	period domain.Period
}{
	{"short", domain.Period1M},
	{"medium", domain.Period3M},
	{"long", domain.Period1Y},
}

// strategyFor buckets a period return into an advisory label.
func strategyFor(periodReturn *float64) string {
	if periodReturn == nil {
		return StrategyWait
	}
	switch r := *periodReturn; {
	case r > 10:
		return StrategyIncrease
	case r >= 5:
		return StrategyHold
	case r >= -5:
		return StrategyWait
	default:
		return StrategyReduce
	}
}

// riskyNewsMarkers flag headlines worth a risk callout.
var riskyNewsMarkers = []string{"소송", "규제", "리콜", "횡령", "상장폐지", "감리"}

const (
	maxKeyPoints = 3
	maxRiskFlags = 3

	highVolatilityThreshold = 0.40 // annualized
	deepDrawdownThreshold   = 0.20
)

// ComputeInsights derives strategy labels, key points and risk flags for a
// ticker over the requested period.
func (s *Service) ComputeInsights(ctx context.Context, ticker string, period domain.Period) (*Insights, error) {
	metrics, err := s.ComputeMetrics(ctx, ticker, period)
	if err != nil {
		return nil, err
	}

	out := &Insights{
		Ticker:   ticker,
		Period:   period,
		Strategy: make(map[string]string, len(insightHorizons)),
		Metrics:  metrics,
	}

	for _, h := range insightHorizons {
		m, err := s.ComputeMetrics(ctx, ticker, h.period)
		if err != nil {
			out.Strategy[h.name] = StrategyWait
			continue
		}
		out.Strategy[h.name] = strategyFor(m.PeriodReturn)
	}

	days, _ := period.Days()
	bars, err := s.closesInWindow(ctx, ticker, days)
	if err != nil {
		return nil, err
	}
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}

	from := bars[0].Date
	flows, err := s.flows.GetFlows(ctx, ticker, from, "")
	if err != nil {
		return nil, err
	}
	newsItems, err := s.newsRepo.GetItems(ctx, ticker, from, "", 50)
	if err != nil {
		return nil, err
	}

	out.KeyPoints = keyPoints(metrics, closes, flows, len(newsItems))
	out.RiskFlags = riskFlags(metrics, newsItems)
	return out, nil
}

func keyPoints(m *Metrics, closes []float64, flows []domain.TradingFlow, newsCount int) []string {
	var points []string

	if m.PeriodReturn != nil {
		switch r := *m.PeriodReturn; {
		case r > 15:
			points = append(points, fmt.Sprintf("기간 수익률 %.1f%%로 강한 상승 추세", r))
		case r < -15:
			points = append(points, fmt.Sprintf("기간 수익률 %.1f%%로 큰 폭 하락", r))
		}
	}

	if m.AnnualizedVolatility > highVolatilityThreshold {
		points = append(points, fmt.Sprintf("연환산 변동성 %.0f%%의 고변동 구간", m.AnnualizedVolatility*100))
	} else if m.AnnualizedVolatility > 0 && m.AnnualizedVolatility < 0.15 {
		points = append(points, "변동성이 낮은 안정적 흐름")
	}

	if dom := flowDominance(flows); dom != "" {
		points = append(points, dom)
	}

	if rsi := formulas.RSI(closes, 14); rsi != nil {
		if *rsi >= 70 {
			points = append(points, fmt.Sprintf("RSI %.0f 과매수 구간", *rsi))
		} else if *rsi <= 30 {
			points = append(points, fmt.Sprintf("RSI %.0f 과매도 구간", *rsi))
		}
	}
	if sma := formulas.SMA(closes, 20); sma != nil && len(closes) > 0 {
		last := closes[len(closes)-1]
		if last > *sma*1.05 {
			points = append(points, "주가가 20일 이동평균을 5% 이상 상회")
		} else if last < *sma*0.95 {
			points = append(points, "주가가 20일 이동평균을 5% 이상 하회")
		}
	}

	if newsCount >= 20 {
		points = append(points, fmt.Sprintf("최근 뉴스 %d건으로 시장 관심 집중", newsCount))
	}

	if len(points) > maxKeyPoints {
		points = points[:maxKeyPoints]
	}
	return points
}

// flowDominance summarizes which investor category dominates recent flows.
func flowDominance(flows []domain.TradingFlow) string {
	if len(flows) == 0 {
		return ""
	}
	recent := flows
	if len(recent) > 10 {
		recent = recent[len(recent)-10:]
	}

	var foreign, institutional int64
	for _, f := range recent {
		foreign += f.ForeignNet
		institutional += f.InstitutionalNet
	}

	switch {
	case foreign > 0 && institutional > 0:
		return "외국인·기관 동반 순매수 지속"
	case foreign > 0:
		return "외국인 순매수 우위"
	case institutional > 0:
		return "기관 순매수 우위"
	case foreign < 0 && institutional < 0:
		return "외국인·기관 동반 순매도"
	default:
		return ""
	}
}

func riskFlags(m *Metrics, items []domain.NewsItem) []string {
	var flags []string

	if m.AnnualizedVolatility > highVolatilityThreshold {
		flags = append(flags, fmt.Sprintf("높은 변동성 (연환산 %.0f%%)", m.AnnualizedVolatility*100))
	}
	if m.MaxDrawdown != nil && *m.MaxDrawdown > deepDrawdownThreshold {
		flags = append(flags, fmt.Sprintf("최대 낙폭 %.0f%%", *m.MaxDrawdown*100))
	}

	for _, item := range items {
		for _, marker := range riskyNewsMarkers {
			if strings.Contains(item.Title, marker) {
				flags = append(flags, fmt.Sprintf("뉴스 리스크: %s 관련 보도", marker))
				break
			}
		}
		if len(flags) >= maxRiskFlags {
			break
		}
	}

	if len(flags) > maxRiskFlags {
		flags = flags[:maxRiskFlags]
	}
	return flags
}
