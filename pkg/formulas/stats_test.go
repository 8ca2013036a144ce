package formulas

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMeanAndStdDev(t *testing.T) {
	assert.Equal(t, 2.0, Mean([]float64{1, 2, 3}))
	assert.Equal(t, 0.0, Mean(nil))

	// Sample standard deviation.
	got := StdDev([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	assert.InDelta(t, math.Sqrt(32.0/7.0), got, 1e-9)

	assert.Equal(t, 0.0, StdDev([]float64{5}))
}

func TestSimpleReturns(t *testing.T) {
	got := SimpleReturns([]float64{100, 110, 99})
	assert.Len(t, got, 2)
	assert.InDelta(t, 0.1, got[0], 1e-9)
	assert.InDelta(t, -0.1, got[1], 1e-9)

	assert.Empty(t, SimpleReturns([]float64{100}))
}

func TestLogReturns(t *testing.T) {
	got := LogReturns([]float64{100, 100 * math.E})
	assert.Len(t, got, 1)
	assert.InDelta(t, 1.0, got[0], 1e-9)

	// Non-positive prices contribute a zero return, not a NaN.
	got = LogReturns([]float64{100, 0, 100})
	assert.Equal(t, []float64{0, 0}, got)
}

func TestAnnualizedVolatility(t *testing.T) {
	daily := []float64{0.01, -0.01, 0.02, -0.02}
	want := StdDev(daily) * math.Sqrt(252)
	assert.InDelta(t, want, AnnualizedVolatility(daily), 1e-9)

	assert.Equal(t, 0.0, AnnualizedVolatility(nil))
	assert.Equal(t, 0.0, AnnualizedVolatility([]float64{0.01, 0.01, 0.01}))
}

func TestCorrelation(t *testing.T) {
	assert.InDelta(t, 1.0, Correlation([]float64{1, 2, 3}, []float64{2, 4, 6}), 1e-9)
	assert.InDelta(t, -1.0, Correlation([]float64{1, 2, 3}, []float64{6, 4, 2}), 1e-9)

	// Length mismatch and empty input collapse to zero.
	assert.Equal(t, 0.0, Correlation([]float64{1, 2}, []float64{1}))
	assert.Equal(t, 0.0, Correlation(nil, nil))
}

func TestCovarianceSign(t *testing.T) {
	assert.Greater(t, Covariance([]float64{1, 2, 3}, []float64{10, 20, 30}), 0.0)
	assert.Less(t, Covariance([]float64{1, 2, 3}, []float64{30, 20, 10}), 0.0)
	assert.Equal(t, 0.0, Covariance([]float64{1, 2}, []float64{1}))
}
