package formulas

// DrawdownMetrics represents drawdown analysis results
type DrawdownMetrics struct {
	MaxDrawdown     float64 `json:"max_drawdown"`     // Maximum drawdown (positive fraction, 0.25 = 25% loss from peak)
	CurrentDrawdown float64 `json:"current_drawdown"` // Current drawdown from peak
	DaysInDrawdown  int     `json:"days_in_drawdown"` // Days since peak
	PeakValue       float64 `json:"peak_value"`       // Value at peak
	CurrentValue    float64 `json:"current_value"`    // Current value
}

// MaxDrawdown calculates the maximum drawdown from a price series.
//
// Drawdown Formula:
//
//	Drawdown = (Peak Value - Current Value) / Peak Value
//	Max Drawdown = Maximum of all drawdowns
func MaxDrawdown(prices []float64) *float64 {
	if len(prices) < 2 {
		return nil
	}

	maxDrawdown := 0.0
	peak := prices[0]

	for _, price := range prices {
		if price > peak {
			peak = price
		}
		if peak > 0 {
			drawdown := (peak - price) / peak
			if drawdown > maxDrawdown {
				maxDrawdown = drawdown
			}
		}
	}

	return &maxDrawdown
}

// DrawdownAnalysis calculates comprehensive drawdown metrics including
// current drawdown, days in drawdown, and peak values.
func DrawdownAnalysis(prices []float64) *DrawdownMetrics {
	if len(prices) < 2 {
		return nil
	}

	maxDrawdown := 0.0
	peak := prices[0]
	peakIndex := 0
	currentValue := prices[len(prices)-1]

	for i, price := range prices {
		if price > peak {
			peak = price
			peakIndex = i
		}
		if peak > 0 {
			drawdown := (peak - price) / peak
			if drawdown > maxDrawdown {
				maxDrawdown = drawdown
			}
		}
	}

	currentDrawdown := 0.0
	if peak > 0 {
		currentDrawdown = (peak - currentValue) / peak
	}

	return &DrawdownMetrics{
		MaxDrawdown:     maxDrawdown,
		CurrentDrawdown: currentDrawdown,
		DaysInDrawdown:  len(prices) - 1 - peakIndex,
		PeakValue:       peak,
		CurrentValue:    currentValue,
	}
}
