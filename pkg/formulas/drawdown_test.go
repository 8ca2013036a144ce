package formulas

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaxDrawdown(t *testing.T) {
	got := MaxDrawdown([]float64{100, 120, 90, 100})
	require.NotNil(t, got)
	assert.InDelta(t, 0.25, *got, 1e-9)

	// Monotonic rise never draws down.
	got = MaxDrawdown([]float64{100, 110, 120})
	require.NotNil(t, got)
	assert.Equal(t, 0.0, *got)

	assert.Nil(t, MaxDrawdown([]float64{100}))
}

func TestDrawdownAnalysis(t *testing.T) {
	m := DrawdownAnalysis([]float64{100, 120, 90, 100})
	require.NotNil(t, m)

	assert.InDelta(t, 0.25, m.MaxDrawdown, 1e-9)
	assert.InDelta(t, 20.0/120.0, m.CurrentDrawdown, 1e-9)
	assert.Equal(t, 2, m.DaysInDrawdown)
	assert.Equal(t, 120.0, m.PeakValue)
	assert.Equal(t, 100.0, m.CurrentValue)
}

func TestDrawdownAnalysisAtPeak(t *testing.T) {
	m := DrawdownAnalysis([]float64{90, 100, 110})
	require.NotNil(t, m)

	assert.Equal(t, 0.0, m.CurrentDrawdown)
	assert.Equal(t, 0, m.DaysInDrawdown)

	assert.Nil(t, DrawdownAnalysis(nil))
}
