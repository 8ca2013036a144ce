package screener

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krxwatch/krxwatch/internal/clients/upstream"
	"github.com/krxwatch/krxwatch/internal/domain"
	"github.com/krxwatch/krxwatch/internal/progress"
	testutil "github.com/krxwatch/krxwatch/internal/testing"
)

// fixtureClient serves canned bars and flows per ticker.
type fixtureClient struct {
	upstream.Client

	bars  map[string][]domain.DailyBar
	flows map[string][]domain.TradingFlow
}

func (f *fixtureClient) FetchDailyBars(_ context.Context, ticker string, _ int) ([]domain.DailyBar, error) {
	if len(f.bars[ticker]) == 0 {
		return nil, domain.UpstreamUnavailable("no_data", nil)
	}
	return f.bars[ticker], nil
}

func (f *fixtureClient) FetchTradingFlows(_ context.Context, ticker string, _ int) ([]domain.TradingFlow, error) {
	return f.flows[ticker], nil
}

func newTestService(t *testing.T, client upstream.Client) (*Service, *Repository) {
	t.Helper()
	db := testutil.NewTestDB(t)
	repo := NewRepository(db.Conn(), zerolog.Nop())
	return NewService(repo, client, progress.NewRegistry(), zerolog.Nop()), repo
}

func TestCollectSnapshotComputesColumns(t *testing.T) {
	client := &fixtureClient{
		bars: map[string][]domain.DailyBar{
			// Most-recent-first, as the upstream may return.
			"005930": {
				{Ticker: "005930", Date: "2025-03-14", Close: 71500, Volume: 9_000_000},
				{Ticker: "005930", Date: "2025-03-13", Close: 71000, Volume: 8_000_000},
				{Ticker: "005930", Date: "2025-03-10", Close: 70000, Volume: 7_000_000},
			},
		},
		flows: map[string][]domain.TradingFlow{
			"005930": {
				{Ticker: "005930", Date: "2025-03-14", ForeignNet: 120_000, InstitutionalNet: -20_000},
				{Ticker: "005930", Date: "2025-03-13", ForeignNet: -5_000, InstitutionalNet: 1_000},
			},
		},
	}
	service, repo := newTestService(t, client)
	ctx := context.Background()

	require.NoError(t, repo.UpsertEntries(ctx, []domain.CatalogEntry{{
		Ticker: "005930", Name: "삼성전자", Type: domain.TickerTypeStock, IsActive: true,
	}}))

	require.NoError(t, service.collectSnapshot(ctx, "005930"))

	out, err := repo.Query(ctx, QueryRequest{Query: "005930"})
	require.NoError(t, err)
	require.Len(t, out.Entries, 1)
	e := out.Entries[0]

	require.NotNil(t, e.ClosePrice)
	assert.Equal(t, 71500.0, *e.ClosePrice)
	require.NotNil(t, e.Volume)
	assert.Equal(t, int64(9_000_000), *e.Volume)
	require.NotNil(t, e.DailyChangePct)
	assert.InDelta(t, (71500.0/71000.0-1)*100, *e.DailyChangePct, 1e-9)
	require.NotNil(t, e.WeeklyReturn)
	assert.InDelta(t, (71500.0/70000.0-1)*100, *e.WeeklyReturn, 1e-9)
	require.NotNil(t, e.ForeignNet)
	assert.Equal(t, int64(120_000), *e.ForeignNet)
	require.NotNil(t, e.InstitutionalNet)
	assert.Equal(t, int64(-20_000), *e.InstitutionalNet)
	assert.NotNil(t, e.CatalogUpdatedAt)
}

func TestSnapshotRunContinuesPastFailures(t *testing.T) {
	client := &fixtureClient{
		bars: map[string][]domain.DailyBar{
			"005930": {
				{Ticker: "005930", Date: "2025-03-13", Close: 71000, Volume: 1},
				{Ticker: "005930", Date: "2025-03-14", Close: 71500, Volume: 1},
			},
		},
	}
	service, repo := newTestService(t, client)
	ctx := context.Background()

	require.NoError(t, repo.UpsertEntries(ctx, []domain.CatalogEntry{
		{Ticker: "000660", Name: "SK하이닉스", Type: domain.TickerTypeStock, IsActive: true},
		{Ticker: "005930", Name: "삼성전자", Type: domain.TickerTypeStock, IsActive: true},
	}))

	tracker, err := service.registry.Start(progress.JobScreeningCollect, 2, "")
	require.NoError(t, err)
	service.runSnapshotCollection(ctx, tracker, []string{"000660", "005930"})

	snap := service.SnapshotProgress()
	assert.Equal(t, progress.StatusCompleted, snap.Status)
	assert.Equal(t, "1 collected, 1 failed", snap.Message)

	out, err := repo.Query(ctx, QueryRequest{Query: "005930"})
	require.NoError(t, err)
	require.NotNil(t, out.Entries[0].ClosePrice)
}

func TestSnapshotCollectionSingleFlight(t *testing.T) {
	service, repo := newTestService(t, &fixtureClient{})
	ctx := context.Background()

	require.NoError(t, repo.UpsertEntries(ctx, []domain.CatalogEntry{{
		Ticker: "005930", Name: "삼성전자", Type: domain.TickerTypeStock, IsActive: true,
	}}))

	_, err := service.registry.Start(progress.JobScreeningCollect, 1, "")
	require.NoError(t, err)

	err = service.StartSnapshotCollection()
	assert.Equal(t, domain.KindAlreadyRunning, domain.KindOf(err))
}

func TestSnapshotCollectionRequiresCatalog(t *testing.T) {
	service, _ := newTestService(t, &fixtureClient{})
	err := service.StartSnapshotCollection()
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestRecommendationsPresets(t *testing.T) {
	service, repo := newTestService(t, &fixtureClient{})
	seedUniverse(t, repo)

	out, err := service.Recommendations(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, out, 5)

	byPreset := make(map[string]Recommendation, len(out))
	for _, rec := range out {
		byPreset[rec.Preset] = rec
		assert.LessOrEqual(t, len(rec.Entries), 2)
	}

	require.Len(t, byPreset["weekly-top"].Entries, 2)
	assert.Equal(t, "035420", byPreset["weekly-top"].Entries[0].Ticker)
	assert.Equal(t, "000660", byPreset["weekly-drop"].Entries[0].Ticker)
	assert.Equal(t, "005930", byPreset["foreign-buy-surge"].Entries[0].Ticker)
	assert.Equal(t, "000660", byPreset["institutional-buy-surge"].Entries[0].Ticker)
	assert.Equal(t, "005930", byPreset["volume-top"].Entries[0].Ticker)
}

func TestCancelWithoutRunningJob(t *testing.T) {
	service, _ := newTestService(t, &fixtureClient{})
	assert.False(t, service.CancelSnapshotCollection())
}
