package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krxwatch/krxwatch/internal/database"
	"github.com/krxwatch/krxwatch/internal/domain"
	"github.com/krxwatch/krxwatch/internal/modules/market"
	"github.com/krxwatch/krxwatch/internal/modules/news"
	testutil "github.com/krxwatch/krxwatch/internal/testing"
)

type fixture struct {
	service *Service
	bars    *market.BarRepository
	db      *database.DB
	today   time.Time
}

func newFixture(t *testing.T, tickers ...string) *fixture {
	t.Helper()
	db := testutil.NewTestDB(t)
	log := zerolog.Nop()
	for _, tk := range tickers {
		testutil.SeedTicker(t, db, tk, tk, "ETF")
	}

	f := &fixture{
		bars:  market.NewBarRepository(db.Conn(), log),
		db:    db,
		today: time.Date(2025, 6, 30, 12, 0, 0, 0, time.UTC),
	}
	f.service = NewService(
		f.bars,
		market.NewFlowRepository(db.Conn(), log),
		news.NewRepository(db.Conn(), log),
		0,
		log,
	)
	f.service.now = func() time.Time { return f.today }
	return f
}

// seedLinear writes n weekday-agnostic consecutive daily bars ending today,
// with closes linearly interpolated from first to last.
func (f *fixture) seedLinear(t *testing.T, ticker string, n int, first, last float64) {
	t.Helper()
	bars := make([]domain.DailyBar, n)
	for i := 0; i < n; i++ {
		close := first + (last-first)*float64(i)/float64(n-1)
		bars[i] = domain.DailyBar{
			Ticker: ticker,
			Date:   domain.FormatDate(f.today.AddDate(0, 0, -(n - 1 - i))),
			Open:   close, High: close, Low: close, Close: close,
			Volume: 1000,
		}
	}
	require.NoError(t, f.bars.UpsertBars(context.Background(), bars))
}

func TestAnnualizedReturnSuppressedBelow90Days(t *testing.T) {
	f := newFixture(t, "069500")
	f.seedLinear(t, "069500", 60, 10000, 10709)

	m, err := f.service.ComputeMetrics(context.Background(), "069500", domain.Period3M)
	require.NoError(t, err)

	require.NotNil(t, m.PeriodReturn)
	assert.InDelta(t, 7.09, *m.PeriodReturn, 0.01)
	assert.Nil(t, m.AnnualizedReturn, "60 trading days is below the floor")
	assert.Equal(t, 60, m.TradingDays)
}

func TestAnnualizedReturnAbove90Days(t *testing.T) {
	f := newFixture(t, "069500")
	f.seedLinear(t, "069500", 100, 10000, 10709)

	m, err := f.service.ComputeMetrics(context.Background(), "069500", domain.Period6M)
	require.NoError(t, err)

	require.NotNil(t, m.PeriodReturn)
	require.NotNil(t, m.AnnualizedReturn)
	// ((1 + 0.0709)^(365/100) − 1) × 100
	assert.InDelta(t, 28.4, *m.AnnualizedReturn, 0.5)
}

func TestMetricsUnknownTicker(t *testing.T) {
	f := newFixture(t, "069500")
	_, err := f.service.ComputeMetrics(context.Background(), "999999", domain.Period1Y)
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
}

func TestMetricsInvalidPeriod(t *testing.T) {
	f := newFixture(t, "069500")
	_, err := f.service.ComputeMetrics(context.Background(), "069500", domain.Period("2w"))
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestMaxDrawdownAndVolatility(t *testing.T) {
	f := newFixture(t, "069500")
	// Peak 120 then trough 90: MDD = 25%.
	closes := []float64{100, 120, 90, 100}
	bars := make([]domain.DailyBar, len(closes))
	for i, c := range closes {
		bars[i] = domain.DailyBar{
			Ticker: "069500",
			Date:   domain.FormatDate(f.today.AddDate(0, 0, -(len(closes) - 1 - i))),
			Open:   c, High: c, Low: c, Close: c, Volume: 1,
		}
	}
	require.NoError(t, f.bars.UpsertBars(context.Background(), bars))

	m, err := f.service.ComputeMetrics(context.Background(), "069500", domain.Period1W)
	require.NoError(t, err)
	require.NotNil(t, m.MaxDrawdown)
	assert.InDelta(t, 0.25, *m.MaxDrawdown, 1e-9)
	assert.Greater(t, m.AnnualizedVolatility, 0.0)
}
