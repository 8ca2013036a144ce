package formulas

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSMA(t *testing.T) {
	got := SMA([]float64{1, 2, 3, 4, 5}, 3)
	require.NotNil(t, got)
	assert.InDelta(t, 4.0, *got, 1e-9)

	assert.Nil(t, SMA([]float64{1, 2}, 3))
}

func TestRSI(t *testing.T) {
	// Steady gains push RSI toward 100; steady losses toward 0.
	up := make([]float64, 30)
	down := make([]float64, 30)
	for i := range up {
		up[i] = 100 + float64(i)
		down[i] = 100 - float64(i)
	}

	rsiUp := RSI(up, 14)
	require.NotNil(t, rsiUp)
	assert.Greater(t, *rsiUp, 70.0)

	rsiDown := RSI(down, 14)
	require.NotNil(t, rsiDown)
	assert.Less(t, *rsiDown, 30.0)

	assert.Nil(t, RSI(up[:14], 14))
}
