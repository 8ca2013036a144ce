package formulas

import "math"

// MinTradingDaysForAnnualization is the minimum series length required before
// an annualized return is reported. Shorter windows compound noise into
// absurd annual figures, so they are suppressed entirely.
const MinTradingDaysForAnnualization = 90

// PeriodReturn calculates the total return over a price series as a percent.
// Formula: (close_end / close_start − 1) × 100
func PeriodReturn(prices []float64) *float64 {
	if len(prices) < 2 || prices[0] == 0 {
		return nil
	}

	r := (prices[len(prices)-1]/prices[0] - 1) * 100
	return &r
}

// AnnualizedReturn compounds a period return over n trading days to an annual
// figure. Returns nil when n < MinTradingDaysForAnnualization.
// Formula: ((1 + period/100)^(365/n) − 1) × 100
func AnnualizedReturn(periodReturnPct float64, tradingDays int) *float64 {
	if tradingDays < MinTradingDaysForAnnualization {
		return nil
	}

	base := 1 + periodReturnPct/100
	if base <= 0 {
		// Total loss; compounding is meaningless.
		r := -100.0
		return &r
	}

	r := (math.Pow(base, 365/float64(tradingDays)) - 1) * 100
	return &r
}

// DailyChangePct calculates the day-over-day change of close against the
// prior close, as a percent. Returns nil when there is no prior close.
func DailyChangePct(close float64, prevClose *float64) *float64 {
	if prevClose == nil || *prevClose == 0 {
		return nil
	}

	pct := (close - *prevClose) / *prevClose * 100
	return &pct
}

// NormalizeTo100 rebases a price series to 100 at its first element.
func NormalizeTo100(prices []float64) []float64 {
	if len(prices) == 0 || prices[0] == 0 {
		return []float64{}
	}

	normalized := make([]float64, len(prices))
	for i, p := range prices {
		normalized[i] = p / prices[0] * 100
	}

	return normalized
}
