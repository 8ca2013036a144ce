package formulas

import (
	"github.com/markcheno/go-talib"
)

// RSI calculates the current Relative Strength Index over the given period
// (typically 14). Returns nil if the series is too short.
//
// RSI Formula:
//
//	RSI = 100 - (100 / (1 + RS))
//	where RS = Average Gain / Average Loss over N periods
func RSI(closes []float64, length int) *float64 {
	if len(closes) < length+1 {
		return nil
	}

	rsi := talib.Rsi(closes, length)
	if len(rsi) > 0 && !isNaN(rsi[len(rsi)-1]) {
		result := rsi[len(rsi)-1]
		return &result
	}

	return nil
}

// SMA calculates the current simple moving average over the given period.
// Returns nil if the series is too short.
func SMA(closes []float64, length int) *float64 {
	if len(closes) < length {
		return nil
	}

	sma := talib.Sma(closes, length)
	if len(sma) > 0 && !isNaN(sma[len(sma)-1]) {
		result := sma[len(sma)-1]
		return &result
	}

	return nil
}

// isNaN checks if a float64 is NaN
func isNaN(f float64) bool {
	return f != f
}
