package naver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krxwatch/krxwatch/internal/domain"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient(zerolog.Nop(),
		WithBaseURL(srv.URL),
		WithRateLimit(1000), // no throttling in tests
	)
	return c, srv
}

func TestFetchDailyBars(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/stock/005930/price", r.URL.Path)
		assert.Equal(t, "30", r.URL.Query().Get("days"))
		w.Write([]byte(`[
			{"date":"2025-01-03","open":"55,100","high":56000,"low":54900,"close":"55,800","volume":"12,345,678"},
			{"date":"2025-01-02","open":54000,"high":55200,"low":53900,"close":55100,"volume":9876543},
			{"date":"","open":0,"high":0,"low":0,"close":0,"volume":0}
		]`))
	}))

	bars, err := c.FetchDailyBars(context.Background(), "005930", 30)
	require.NoError(t, err)
	require.Len(t, bars, 2) // empty row dropped

	assert.Equal(t, "005930", bars[0].Ticker)
	assert.Equal(t, "2025-01-03", bars[0].Date)
	assert.Equal(t, 55100.0, bars[0].Open)
	assert.Equal(t, 55800.0, bars[0].Close)
	assert.Equal(t, int64(12345678), bars[0].Volume)
}

func TestRetryOnServerError(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`[{"date":"2025-01-02","open":1,"high":1,"low":1,"close":1,"volume":1}]`))
	}))

	bars, err := c.FetchDailyBars(context.Background(), "005930", 5)
	require.NoError(t, err)
	assert.Len(t, bars, 1)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRetryOnTooManyRequests(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`[]`))
	}))

	_, err := c.FetchDailyBars(context.Background(), "005930", 5)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestRetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))

	_, err := c.FetchDailyBars(context.Background(), "005930", 5)
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())

	var de *domain.Error
	require.True(t, errors.As(err, &de))
	assert.Equal(t, domain.KindUpstreamUnavailable, de.Kind)
	assert.Equal(t, "retries_exhausted", de.Reason)
}

func TestNotFoundIsPermanent(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))

	_, err := c.FetchDailyBars(context.Background(), "999999", 5)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load(), "4xx must not retry")

	var de *domain.Error
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "http_404", de.Reason)
}

func TestParseFailureIsPermanent(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`<html>maintenance</html>`))
	}))

	_, err := c.FetchDailyBars(context.Background(), "005930", 5)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())

	var de *domain.Error
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "parse_failed", de.Reason)
}

func TestFetchTradingFlows(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/stock/069500/trend", r.URL.Path)
		w.Write([]byte(`[
			{"date":"2025-01-03","individual":"-1,200","institutional":800,"foreign":400}
		]`))
	}))

	flows, err := c.FetchTradingFlows(context.Background(), "069500", 10)
	require.NoError(t, err)
	require.Len(t, flows, 1)
	assert.Equal(t, int64(-1200), flows[0].IndividualNet)
	assert.Equal(t, int64(800), flows[0].InstitutionalNet)
	assert.Equal(t, int64(400), flows[0].ForeignNet)
}

func TestFetchIntradayTicksStopsOnEmptyPage(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("page") {
		case "1":
			w.Write([]byte(`{"items":[
				{"datetime":"2025-01-03T09:30:00+09:00","price":55000,"change":100,"volume":500,"bid_volume":300,"ask_volume":200}
			]}`))
		default:
			w.Write([]byte(`{"items":[]}`))
		}
	}))

	ticks, err := c.FetchIntradayTicks(context.Background(), "005930", 5)
	require.NoError(t, err)
	require.Len(t, ticks, 1)
	assert.Equal(t, 55000.0, ticks[0].Price)
	assert.Equal(t, int64(300), ticks[0].BidVolume)
}

func TestFetchNewsRelevanceScoring(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"items":[
			{"title":"삼성전자 반도체 급등","link":"https://n.example/1","source":"연합","date":"2025-01-03"},
			{"title":"시장 전반 하락 마감","link":"https://n.example/2","source":"한경","date":"2025-01-03"},
			{"title":"제목만 있고 링크 없음","link":"","source":"x","date":"2025-01-03"}
		]}`))
	}))

	items, err := c.FetchNews(context.Background(), "005930", 7, []string{"삼성전자", "반도체"})
	require.NoError(t, err)
	require.Len(t, items, 2) // URL-less row dropped

	assert.InDelta(t, 1.0, items[0].RelevanceScore, 1e-9)
	assert.ElementsMatch(t, []string{"삼성전자", "반도체"}, items[0].Tags)
	assert.Equal(t, domain.SentimentPositive, items[0].Sentiment)

	assert.InDelta(t, 0.0, items[1].RelevanceScore, 1e-9)
	assert.Equal(t, domain.SentimentNegative, items[1].Sentiment)
}

func TestFetchNewsWithoutKeywordsScoresNeutral(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"items":[{"title":"실적 발표","link":"https://n.example/3","source":"x","date":"2025-01-03"}]}`))
	}))

	items, err := c.FetchNews(context.Background(), "005930", 7, nil)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.InDelta(t, 0.5, items[0].RelevanceScore, 1e-9)
}

func TestFetchStockFundamentals(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"stock":{"per":"12.5","pbr":1.1,"roe":8.4,"eps":"4,521","bps":51000}}`))
	}))

	f, err := c.FetchStockFundamentals(context.Background(), "005930")
	require.NoError(t, err)
	require.NotNil(t, f.PER)
	assert.Equal(t, 12.5, *f.PER)
	require.NotNil(t, f.EPS)
	assert.Equal(t, 4521.0, *f.EPS)
}

func TestFetchStockFundamentalsMissingSection(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"etf":{"nav":10500,"expense_ratio":0.15}}`))
	}))

	_, err := c.FetchStockFundamentals(context.Background(), "069500")
	require.Error(t, err)

	var de *domain.Error
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "no_stock_section", de.Reason)
}

func TestFetchEtfHoldings(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"date":"2025-01-03","holdings":[
			{"ticker":"005930","name":"삼성전자","weight":"28.4"},
			{"ticker":"000660","name":"SK하이닉스","weight":12.1}
		]}`))
	}))

	holdings, err := c.FetchEtfHoldings(context.Background(), "069500")
	require.NoError(t, err)
	require.Len(t, holdings, 2)
	assert.Equal(t, "069500", holdings[0].Ticker)
	assert.Equal(t, "2025-01-03", holdings[0].Date)
	assert.Equal(t, 28.4, holdings[0].Weight)
}

func TestFetchCatalogSweepsAllMarkets(t *testing.T) {
	var markets []string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		markets = append(markets, r.URL.Query().Get("market"))
		w.Write([]byte(`[{"ticker":"005930","name":"삼성전자","sector":"전기전자","listed_date":"1975-06-11"}]`))
	}))

	entries, err := c.FetchCatalog(context.Background())
	require.NoError(t, err)
	assert.Len(t, entries, 3)
	assert.ElementsMatch(t, []string{"KOSPI", "KOSDAQ", "ETF"}, markets)
	assert.True(t, entries[0].IsActive)
	require.NotNil(t, entries[0].ListedDate)
	assert.Equal(t, "1975-06-11", *entries[0].ListedDate)
}

func TestValidateTicker(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"items":[
			{"ticker":"069500","name":"KODEX 200","type":"etf"},
			{"ticker":"069501","name":"다른 것","type":"stock"}
		]}`))
	}))

	res, err := c.ValidateTicker(context.Background(), "069500")
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, "KODEX 200", res.Name)
	assert.Equal(t, domain.TickerTypeETF, res.Type)

	res, err = c.ValidateTicker(context.Background(), "000000")
	require.NoError(t, err)
	assert.False(t, res.Valid)
}

func TestContextCancellationStopsRetry(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.FetchDailyBars(ctx, "005930", 5)
	require.Error(t, err)
}
