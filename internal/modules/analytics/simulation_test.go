package analytics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krxwatch/krxwatch/internal/domain"
)

func TestLumpSumWholeSharesAndRemainder(t *testing.T) {
	f := newFixture(t, "069500")
	f.seedCloses(t, "069500",
		[]string{"2025-01-02", "2025-02-03", "2025-03-04"},
		[]float64{10000, 11000, 9000})

	out, err := f.service.LumpSum(context.Background(), LumpSumRequest{
		Ticker:  "069500",
		BuyDate: "2025-01-01",
		Amount:  105000,
	})
	require.NoError(t, err)

	// Buy rolls forward to the first trading day.
	assert.Equal(t, "2025-01-02", out.BuyDate)
	assert.Equal(t, int64(10), out.Shares)
	assert.InDelta(t, 5000, out.Remainder, 1e-9)
	assert.InDelta(t, 10*9000+5000, out.FinalValue, 1e-9)
	assert.Equal(t, "2025-02-03", out.MaxGainDate)
	assert.Equal(t, "2025-03-04", out.MaxLossDate)
	require.Len(t, out.Series, 3)
}

func TestLumpSumValidation(t *testing.T) {
	f := newFixture(t, "069500")

	_, err := f.service.LumpSum(context.Background(), LumpSumRequest{Ticker: "069500", BuyDate: "2025-01-01", Amount: 0})
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	_, err = f.service.LumpSum(context.Background(), LumpSumRequest{Ticker: "069500", BuyDate: "01/01/2025", Amount: 1000})
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	_, err = f.service.LumpSum(context.Background(), LumpSumRequest{Ticker: "069500", BuyDate: "2025-01-01", Amount: 1000})
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
}

func TestDCACarriesRemainderForward(t *testing.T) {
	f := newFixture(t, "069500")
	f.seedCloses(t, "069500",
		[]string{"2025-01-02", "2025-02-03", "2025-03-04"},
		[]float64{10000, 11000, 9000})

	out, err := f.service.DCA(context.Background(), DCARequest{
		Ticker:        "069500",
		MonthlyAmount: 100000,
		StartDate:     "2025-01-01",
		EndDate:       "2025-03-31",
		BuyDay:        1,
	})
	require.NoError(t, err)

	require.Len(t, out.Purchases, 3)
	assert.Equal(t, int64(10), out.Purchases[0].Shares)
	assert.InDelta(t, 0, out.Purchases[0].Carry, 1e-9)
	assert.Equal(t, int64(9), out.Purchases[1].Shares)
	assert.InDelta(t, 1000, out.Purchases[1].Carry, 1e-9)
	assert.Equal(t, int64(11), out.Purchases[2].Shares)
	assert.InDelta(t, 2000, out.Purchases[2].Carry, 1e-9)

	assert.Equal(t, int64(30), out.TotalShares)
	assert.InDelta(t, 300000, out.TotalInvested, 1e-9)
	assert.InDelta(t, 10000, out.AvgBuyPrice, 1e-9)
	assert.InDelta(t, 30*9000+2000, out.FinalValue, 1e-9)
}

func TestDCABuyDayBounds(t *testing.T) {
	f := newFixture(t, "069500")
	f.seedCloses(t, "069500", []string{"2025-01-28"}, []float64{10000})

	req := DCARequest{
		Ticker:        "069500",
		MonthlyAmount: 100000,
		StartDate:     "2025-01-01",
		EndDate:       "2025-01-31",
		BuyDay:        29,
	}
	_, err := f.service.DCA(context.Background(), req)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	req.BuyDay = 0
	_, err = f.service.DCA(context.Background(), req)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	req.BuyDay = 28
	out, err := f.service.DCA(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, out.Purchases, 1)
	assert.Equal(t, "2025-01-28", out.Purchases[0].Date)
}

func TestDCAWindowValidation(t *testing.T) {
	f := newFixture(t, "069500")

	req := DCARequest{Ticker: "069500", MonthlyAmount: 100000, BuyDay: 1}

	req.StartDate, req.EndDate = "2025-03-01", "2025-01-01"
	_, err := f.service.DCA(context.Background(), req)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	req.StartDate, req.EndDate = "2020-01-01", "2025-06-30"
	_, err = f.service.DCA(context.Background(), req)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestPortfolioAggregatesWithForwardFill(t *testing.T) {
	f := newFixture(t, "069500", "229200")
	f.seedCloses(t, "069500",
		[]string{"2025-01-02", "2025-01-03", "2025-01-06"},
		[]float64{10000, 10500, 11000})
	// 229200 misses 2025-01-03; its value forward-fills that day.
	f.seedCloses(t, "229200",
		[]string{"2025-01-02", "2025-01-06"},
		[]float64{5000, 4500})

	out, err := f.service.Portfolio(context.Background(), PortfolioRequest{
		Amount:    200000,
		StartDate: "2025-01-01",
		EndDate:   "2025-01-31",
		Holdings: []PortfolioHolding{
			{Ticker: "069500", Weight: 0.5},
			{Ticker: "229200", Weight: 0.5},
		},
	})
	require.NoError(t, err)

	// Each leg buys with 100000: 10 shares at 10000, 20 shares at 5000.
	require.Len(t, out.Series, 3)
	assert.InDelta(t, 200000, out.Series[0].Value, 1e-9)
	assert.InDelta(t, 10*10500+20*5000, out.Series[1].Value, 1e-9)
	assert.InDelta(t, 10*11000+20*4500, out.Series[2].Value, 1e-9)
	assert.InDelta(t, out.Series[2].Value, out.FinalValue, 1e-9)
}

func TestPortfolioValidation(t *testing.T) {
	f := newFixture(t, "069500")

	base := PortfolioRequest{
		Amount:    100000,
		StartDate: "2025-01-01",
		EndDate:   "2025-01-31",
	}

	req := base
	req.Holdings = nil
	_, err := f.service.Portfolio(context.Background(), req)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	req = base
	for i := 0; i < 21; i++ {
		req.Holdings = append(req.Holdings, PortfolioHolding{Ticker: "069500", Weight: 1.0 / 21})
	}
	_, err = f.service.Portfolio(context.Background(), req)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	req = base
	req.Holdings = []PortfolioHolding{
		{Ticker: "069500", Weight: 0.5},
		{Ticker: "069500", Weight: 0.5},
	}
	_, err = f.service.Portfolio(context.Background(), req)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	req = base
	req.Holdings = []PortfolioHolding{
		{Ticker: "069500", Weight: 0.6},
		{Ticker: "229200", Weight: 0.3},
	}
	_, err = f.service.Portfolio(context.Background(), req)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}
