package market

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krxwatch/krxwatch/internal/domain"
	testutil "github.com/krxwatch/krxwatch/internal/testing"
)

func fptr(v float64) *float64 { return &v }

func TestStockFundamentalsUpsert(t *testing.T) {
	db := testutil.NewTestDB(t)
	testutil.SeedTicker(t, db, "005930", "삼성전자", "STOCK")
	repo := NewFundamentalsRepository(db.Conn(), zerolog.Nop())
	ctx := context.Background()

	_, err := repo.GetLatestStockFundamentals(ctx, "005930")
	require.Error(t, err)
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))

	f := &domain.StockFundamentals{
		Ticker: "005930", Date: "2025-01-03",
		PER: fptr(12.5), PBR: fptr(1.1), EPS: fptr(4521),
	}
	require.NoError(t, repo.UpsertStockFundamentals(ctx, f))

	// Same date overwrites in place.
	f.PER = fptr(13.0)
	require.NoError(t, repo.UpsertStockFundamentals(ctx, f))

	got, err := repo.GetLatestStockFundamentals(ctx, "005930")
	require.NoError(t, err)
	assert.Equal(t, 13.0, *got.PER)
	assert.Nil(t, got.ROE, "missing ratios stay NULL")
}

func TestEtfFundamentalsLatestWins(t *testing.T) {
	db := testutil.NewTestDB(t)
	testutil.SeedTicker(t, db, "069500", "KODEX 200", "ETF")
	repo := NewFundamentalsRepository(db.Conn(), zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, repo.UpsertEtfFundamentals(ctx, &domain.EtfFundamentals{
		Ticker: "069500", Date: "2025-01-02", NAV: fptr(10400),
	}))
	require.NoError(t, repo.UpsertEtfFundamentals(ctx, &domain.EtfFundamentals{
		Ticker: "069500", Date: "2025-01-03", NAV: fptr(10500),
	}))

	got, err := repo.GetLatestEtfFundamentals(ctx, "069500")
	require.NoError(t, err)
	assert.Equal(t, "2025-01-03", got.Date)
	assert.Equal(t, 10500.0, *got.NAV)
}

func TestReplaceEtfHoldings(t *testing.T) {
	db := testutil.NewTestDB(t)
	testutil.SeedTicker(t, db, "069500", "KODEX 200", "ETF")
	repo := NewFundamentalsRepository(db.Conn(), zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, repo.ReplaceEtfHoldings(ctx, "069500", "2025-01-03", []domain.EtfHolding{
		{ConstituentTicker: "005930", Name: "삼성전자", Weight: 28.4},
		{ConstituentTicker: "000660", Name: "SK하이닉스", Weight: 12.1},
	}))

	// A re-collect with a dropped constituent replaces the snapshot.
	require.NoError(t, repo.ReplaceEtfHoldings(ctx, "069500", "2025-01-03", []domain.EtfHolding{
		{ConstituentTicker: "005930", Name: "삼성전자", Weight: 30.0},
	}))

	got, err := repo.GetLatestEtfHoldings(ctx, "069500")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "005930", got[0].ConstituentTicker)
	assert.Equal(t, 30.0, got[0].Weight)
}

func TestLatestEtfHoldingsOrderedByWeight(t *testing.T) {
	db := testutil.NewTestDB(t)
	testutil.SeedTicker(t, db, "069500", "KODEX 200", "ETF")
	repo := NewFundamentalsRepository(db.Conn(), zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, repo.ReplaceEtfHoldings(ctx, "069500", "2025-01-02", []domain.EtfHolding{
		{ConstituentTicker: "035420", Name: "NAVER", Weight: 3.0},
	}))
	require.NoError(t, repo.ReplaceEtfHoldings(ctx, "069500", "2025-01-03", []domain.EtfHolding{
		{ConstituentTicker: "000660", Name: "SK하이닉스", Weight: 12.1},
		{ConstituentTicker: "005930", Name: "삼성전자", Weight: 28.4},
	}))

	got, err := repo.GetLatestEtfHoldings(ctx, "069500")
	require.NoError(t, err)
	require.Len(t, got, 2, "only the newest snapshot is returned")
	assert.Equal(t, "005930", got[0].ConstituentTicker, "descending by weight")
}
