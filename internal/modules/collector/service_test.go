package collector

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krxwatch/krxwatch/internal/cache"
	"github.com/krxwatch/krxwatch/internal/clients/upstream"
	"github.com/krxwatch/krxwatch/internal/database"
	"github.com/krxwatch/krxwatch/internal/domain"
	"github.com/krxwatch/krxwatch/internal/modules/market"
	"github.com/krxwatch/krxwatch/internal/modules/news"
	"github.com/krxwatch/krxwatch/internal/modules/watchlist"
	"github.com/krxwatch/krxwatch/internal/progress"
	testutil "github.com/krxwatch/krxwatch/internal/testing"
)

// fixtureClient drives the pipeline without network. It synthesizes one bar
// and one flow row per requested day, ending at `today`.
type fixtureClient struct {
	today         time.Time
	priceRequests []int
	flowRequests  []int
	ticks         []domain.IntradayTick
	failPrices    error
}

var _ upstream.Client = (*fixtureClient)(nil)

func (f *fixtureClient) FetchDailyBars(_ context.Context, ticker string, days int) ([]domain.DailyBar, error) {
	f.priceRequests = append(f.priceRequests, days)
	if f.failPrices != nil {
		return nil, f.failPrices
	}
	var bars []domain.DailyBar
	for i := days - 1; i >= 0; i-- {
		date := domain.FormatDate(f.today.AddDate(0, 0, -i))
		bars = append(bars, domain.DailyBar{
			Ticker: ticker, Date: date,
			Open: 100, High: 101, Low: 99, Close: 100, Volume: 1000,
		})
	}
	return bars, nil
}

func (f *fixtureClient) FetchTradingFlows(_ context.Context, ticker string, days int) ([]domain.TradingFlow, error) {
	f.flowRequests = append(f.flowRequests, days)
	var flows []domain.TradingFlow
	for i := days - 1; i >= 0; i-- {
		flows = append(flows, domain.TradingFlow{
			Ticker: ticker, Date: domain.FormatDate(f.today.AddDate(0, 0, -i)),
			ForeignNet: 100, InstitutionalNet: 50, IndividualNet: -150,
		})
	}
	return flows, nil
}

func (f *fixtureClient) FetchIntradayTicks(context.Context, string, int) ([]domain.IntradayTick, error) {
	return f.ticks, nil
}

func (f *fixtureClient) FetchNews(_ context.Context, ticker string, _ int, _ []string) ([]domain.NewsItem, error) {
	return []domain.NewsItem{
		{Ticker: ticker, Date: domain.FormatDate(f.today), Title: "기사",
			URL: "https://n.example/" + ticker, RelevanceScore: 0.5},
	}, nil
}

func (f *fixtureClient) FetchStockFundamentals(_ context.Context, ticker string) (*domain.StockFundamentals, error) {
	per := 10.0
	return &domain.StockFundamentals{Ticker: ticker, Date: domain.FormatDate(f.today), PER: &per}, nil
}

func (f *fixtureClient) FetchEtfFundamentals(_ context.Context, ticker string) (*domain.EtfFundamentals, error) {
	nav := 10500.0
	return &domain.EtfFundamentals{Ticker: ticker, Date: domain.FormatDate(f.today), NAV: &nav}, nil
}

func (f *fixtureClient) FetchEtfHoldings(_ context.Context, ticker string) ([]domain.EtfHolding, error) {
	return []domain.EtfHolding{
		{Ticker: ticker, Date: domain.FormatDate(f.today), ConstituentTicker: "005930", Name: "삼성전자", Weight: 28.4},
	}, nil
}

func (f *fixtureClient) FetchCatalog(context.Context) ([]domain.CatalogEntry, error) {
	return nil, nil
}

func (f *fixtureClient) ValidateTicker(context.Context, string) (*upstream.ValidationResult, error) {
	return &upstream.ValidationResult{Valid: true}, nil
}

type fixture struct {
	service  *Service
	client   *fixtureClient
	state    *market.StateRepository
	bars     *market.BarRepository
	intraday *market.IntradayRepository
	registry *progress.Registry
	db       *database.DB
	today    time.Time
}

func newFixture(t *testing.T, tickers ...string) *fixture {
	t.Helper()
	db := testutil.NewTestDB(t)
	log := zerolog.Nop()

	wl := watchlist.NewRepository(db.Conn(), log)
	for _, tk := range tickers {
		require.NoError(t, wl.Create(context.Background(), &domain.Ticker{
			Ticker: tk, Name: tk, Type: domain.TickerTypeETF,
		}))
	}

	today := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
	client := &fixtureClient{today: today}
	registry := progress.NewRegistry()

	f := &fixture{
		client:   client,
		state:    market.NewStateRepository(db.Conn(), log),
		bars:     market.NewBarRepository(db.Conn(), log),
		intraday: market.NewIntradayRepository(db.Conn(), log),
		registry: registry,
		db:       db,
		today:    today,
	}
	f.service = NewService(Deps{
		Client:       client,
		Watchlist:    wl,
		Bars:         f.bars,
		Flows:        market.NewFlowRepository(db.Conn(), log),
		Intraday:     f.intraday,
		Fundamentals: market.NewFundamentalsRepository(db.Conn(), log),
		State:        f.state,
		News:         news.NewRepository(db.Conn(), log),
		Cache:        cache.New(100),
		Registry:     registry,
	}, log)
	f.service.now = func() time.Time { return today }
	return f
}

func TestCollectAllThenSkip(t *testing.T) {
	f := newFixture(t, "487240")
	ctx := context.Background()

	res, err := f.service.CollectAll(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Success)
	require.Len(t, res.Details, 1)
	assert.Equal(t, 30, res.Details[0].PriceRecords)

	st, err := f.state.Get(ctx, "487240")
	require.NoError(t, err)
	require.NotNil(t, st.LastPriceDate)
	assert.Equal(t, domain.FormatDate(f.today), *st.LastPriceDate)
	assert.Equal(t, 30, st.PriceRecordsCount)

	// Second run on the same day skips entirely.
	res, err = f.service.CollectAll(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Success)
	assert.Zero(t, res.Details[0].PriceRecords)
	assert.Len(t, f.client.priceRequests, 1, "no upstream fetch when up to date")
}

func TestCollectAllRefreshesFundamentals(t *testing.T) {
	f := newFixture(t, "069500")
	ctx := context.Background()

	res, err := f.service.CollectAll(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Success)

	repo := market.NewFundamentalsRepository(f.db.Conn(), zerolog.Nop())
	etf, err := repo.GetLatestEtfFundamentals(ctx, "069500")
	require.NoError(t, err)
	assert.Equal(t, 10500.0, *etf.NAV)

	holdings, err := repo.GetLatestEtfHoldings(ctx, "069500")
	require.NoError(t, err)
	assert.NotEmpty(t, holdings)
}

func TestCollectAllAdvancesNewsState(t *testing.T) {
	f := newFixture(t, "487240")
	ctx := context.Background()

	res, err := f.service.CollectAll(ctx, 5)
	require.NoError(t, err)
	require.Len(t, res.Details, 1)
	assert.Equal(t, 1, res.Details[0].NewsRecords)

	st, err := f.state.Get(ctx, "487240")
	require.NoError(t, err)
	require.NotNil(t, st.LastNewsCollectedAt, "news watermark advances with the batch")
	assert.True(t, st.LastNewsCollectedAt.Equal(f.today))
	assert.Equal(t, 1, st.NewsRecordsCount, "stored count reflects this cycle's articles")
}

func TestCollectNewsAdvancesState(t *testing.T) {
	f := newFixture(t, "487240")
	ctx := context.Background()

	n, err := f.service.CollectNews(ctx, "487240", 7)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	st, err := f.state.Get(ctx, "487240")
	require.NoError(t, err)
	require.NotNil(t, st)
	require.NotNil(t, st.LastNewsCollectedAt)
	assert.Equal(t, 1, st.NewsRecordsCount)
}

func TestGapHeal(t *testing.T) {
	f := newFixture(t, "487240")
	ctx := context.Background()

	// Watermark three days back.
	require.NoError(t, f.state.MarkSuccess(ctx, "487240", f.today, market.Outcome{
		LastPriceDate:       domain.FormatDate(f.today.AddDate(0, 0, -3)),
		LastTradingFlowDate: domain.FormatDate(f.today.AddDate(0, 0, -3)),
		PriceCount:          27,
	}))

	res, err := f.service.CollectAll(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Success)
	assert.Equal(t, 3, res.Details[0].PriceRecords, "only the gap is fetched")
	require.Len(t, f.client.priceRequests, 1)
	assert.Equal(t, 3, f.client.priceRequests[0], "never fetches more than the gap")

	st, err := f.state.Get(ctx, "487240")
	require.NoError(t, err)
	assert.Equal(t, domain.FormatDate(f.today), *st.LastPriceDate)
}

func TestCollectAllSingleFlight(t *testing.T) {
	f := newFixture(t, "487240")
	ctx := context.Background()

	// Simulate an in-flight collect-all by claiming the slot.
	_, err := f.registry.Start(progress.JobCollectAll, 1, "running")
	require.NoError(t, err)

	_, err = f.service.CollectAll(ctx, 30)
	require.Error(t, err)
	assert.Equal(t, domain.KindAlreadyRunning, domain.KindOf(err))
	assert.Empty(t, f.client.priceRequests, "no side effects")
}

func TestCollectDaysValidation(t *testing.T) {
	f := newFixture(t, "487240")
	ctx := context.Background()

	_, err := f.service.CollectAll(ctx, 0)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	_, err = f.service.CollectTicker(ctx, "487240", -1)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	_, err = f.service.Backfill(ctx, MaxBackfillDays+1)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestCollectUnknownTicker(t *testing.T) {
	f := newFixture(t, "487240")
	_, err := f.service.CollectTicker(context.Background(), "999999", 10)
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
}

func TestBatchContinuesPastFailures(t *testing.T) {
	f := newFixture(t, "487240", "069500")
	ctx := context.Background()

	f.client.failPrices = domain.UpstreamUnavailable("http_500", nil)
	res, err := f.service.CollectAll(ctx, 10)
	require.NoError(t, err, "per-ticker failures never abort the batch")
	assert.Equal(t, 0, res.Success)
	assert.Equal(t, 2, res.Failed)

	st, err := f.state.Get(ctx, "487240")
	require.NoError(t, err)
	assert.Equal(t, 1, st.ConsecutiveFailures)
}

func TestCooperativeCancellation(t *testing.T) {
	f := newFixture(t, "487240", "069500", "005930")
	ctx := context.Background()

	// Request cancellation as soon as the job appears by flagging between
	// Start and the first loop iteration: flag after Start via the registry
	// from a goroutine is racy, so instead run once, then cancel mid-flight
	// using a client hook.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for !f.registry.Running(progress.JobCollectAll) {
			time.Sleep(time.Millisecond)
		}
		f.registry.RequestCancel(progress.JobCollectAll)
	}()

	res, err := f.service.CollectAll(ctx, 5)
	require.NoError(t, err)
	<-done

	if res.Cancelled {
		assert.Equal(t, progress.StatusCancelled, f.registry.Get(progress.JobCollectAll).Status)
	} else {
		// The cancel can land after the last ticker; completion is then valid.
		assert.Equal(t, progress.StatusCompleted, f.registry.Get(progress.JobCollectAll).Status)
	}
}

func TestCollectIntradayEmptyLeavesNoTrace(t *testing.T) {
	f := newFixture(t, "487240")
	ctx := context.Background()

	n, err := f.service.CollectIntraday(ctx, "487240", 1)
	require.NoError(t, err)
	assert.Zero(t, n)

	ticks, err := f.intraday.GetTicks(ctx, "487240", domain.FormatDate(f.today))
	require.NoError(t, err)
	assert.Empty(t, ticks)

	// With data present, ticks are stored.
	f.client.ticks = []domain.IntradayTick{
		{Ticker: "487240", Datetime: f.today, Price: 100, Volume: 10},
	}
	n, err = f.service.CollectIntraday(ctx, "487240", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCollectFundamentalsByType(t *testing.T) {
	f := newFixture(t, "069500")
	ctx := context.Background()

	require.NoError(t, f.service.CollectFundamentals(ctx, "069500"))

	repo := market.NewFundamentalsRepository(f.db.Conn(), zerolog.Nop())
	etf, err := repo.GetLatestEtfFundamentals(ctx, "069500")
	require.NoError(t, err)
	assert.Equal(t, 10500.0, *etf.NAV)

	holdings, err := repo.GetLatestEtfHoldings(ctx, "069500")
	require.NoError(t, err)
	require.Len(t, holdings, 1)
	assert.Equal(t, "005930", holdings[0].ConstituentTicker)
}
