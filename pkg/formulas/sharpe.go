package formulas

import "math"

// SharpeRatio calculates the annualized Sharpe Ratio from periodic returns.
//
// Sharpe Ratio Formula:
//
//	Sharpe = (Mean Return - Risk-free Rate) / Standard Deviation of Returns
//	Annualized: Sharpe × sqrt(periodsPerYear)
//
// riskFreeRate is annual, as decimal (0.02 for 2%). periodsPerYear is 252
// for daily returns. Returns nil when there is insufficient data or zero
// variance.
func SharpeRatio(returns []float64, riskFreeRate float64, periodsPerYear int) *float64 {
	if len(returns) < 2 {
		return nil
	}

	meanReturn := Mean(returns)
	stdDev := StdDev(returns)
	if stdDev == 0 {
		return nil
	}

	periodicRiskFree := riskFreeRate / float64(periodsPerYear)
	sharpe := (meanReturn - periodicRiskFree) / stdDev
	annualized := sharpe * math.Sqrt(float64(periodsPerYear))

	return &annualized
}

// SharpeFromPrices calculates the Sharpe ratio directly from daily prices.
func SharpeFromPrices(prices []float64, riskFreeRate float64) *float64 {
	if len(prices) < 2 {
		return nil
	}
	return SharpeRatio(SimpleReturns(prices), riskFreeRate, 252)
}
