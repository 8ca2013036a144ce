// Package naver implements the upstream market-data client against the
// Naver Finance mobile API. Every request goes through a shared token-bucket
// rate limiter and a bounded retry loop; callers never retry.
package naver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/krxwatch/krxwatch/internal/clients/upstream"
	"github.com/krxwatch/krxwatch/internal/domain"
)

const (
	DefaultBaseURL   = "https://m.stock.naver.com"
	DefaultTimeout   = 30 * time.Second
	DefaultRateLimit = 5 // requests per second

	maxAttempts = 3
	baseDelay   = 500 * time.Millisecond
)

// userAgents is rotated across requests to look like ordinary browsers.
var userAgents = []string{
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) Version/17.1 Safari/605.1.15",
}

// Client is the Naver Finance upstream client.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	log        zerolog.Logger
	uaCounter  atomic.Uint64
}

// Option configures the client.
type Option func(*Client)

// WithBaseURL overrides the upstream base URL (fixture servers in tests).
func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(baseURL, "/") }
}

// WithRateLimit sets the requests-per-second budget.
func WithRateLimit(rps float64) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(rps), int(rps)+1) }
}

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

// NewClient creates a new Naver Finance client.
func NewClient(log zerolog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		limiter:    rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit+1),
		log:        log.With().Str("client", "naver").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ upstream.Client = (*Client)(nil)

// getJSON performs a rate-limited GET with retry and decodes the body.
// Transient failures (network errors, 5xx, 429) retry with exponential
// backoff and ±25% jitter; other statuses fail permanently.
func (c *Client) getJSON(ctx context.Context, path string, params url.Values, result interface{}) error {
	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := jitter(baseDelay << uint(attempt-1))
			c.log.Warn().
				Err(lastErr).
				Str("path", path).
				Int("attempt", attempt+1).
				Dur("wait", delay).
				Msg("Retrying upstream request")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}

		body, retryable, err := c.doOnce(ctx, reqURL)
		if err != nil {
			if !retryable {
				return err
			}
			lastErr = err
			continue
		}

		if err := json.Unmarshal(body, result); err != nil {
			// A fresh snapshot that fails to parse means the upstream layout
			// changed; retrying the same bytes will not help.
			return domain.UpstreamUnavailable("parse_failed", err)
		}
		return nil
	}

	return domain.UpstreamUnavailable("retries_exhausted", lastErr)
}

// doOnce executes a single HTTP round trip. The bool reports retryability.
func (c *Client) doOnce(ctx context.Context, reqURL string) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.nextUserAgent())
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, false, err
		}
		return nil, true, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, true, fmt.Errorf("failed to read response body: %w", err)
		}
		return body, false, nil

	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("upstream returned status %d", resp.StatusCode)

	default:
		return nil, false, domain.UpstreamUnavailable(
			fmt.Sprintf("http_%d", resp.StatusCode),
			fmt.Errorf("upstream returned status %d for %s", resp.StatusCode, reqURL),
		)
	}
}

// nextUserAgent rotates through the UA pool.
func (c *Client) nextUserAgent() string {
	n := c.uaCounter.Add(1)
	return userAgents[int(n)%len(userAgents)]
}

// jitter spreads a delay by ±25%.
func jitter(d time.Duration) time.Duration {
	spread := float64(d) * 0.25
	return d + time.Duration((rand.Float64()*2-1)*spread)
}

// FetchDailyBars returns up to days of daily OHLCV rows, most recent first.
func (c *Client) FetchDailyBars(ctx context.Context, ticker string, days int) ([]domain.DailyBar, error) {
	params := url.Values{}
	params.Set("days", fmt.Sprint(days))

	var rows []dailyBarRow
	if err := c.getJSON(ctx, "/api/stock/"+url.PathEscape(ticker)+"/price", params, &rows); err != nil {
		return nil, err
	}

	bars := make([]domain.DailyBar, 0, len(rows))
	for _, r := range rows {
		if r.Date == "" || r.Close == 0 {
			continue
		}
		bars = append(bars, domain.DailyBar{
			Ticker: ticker,
			Date:   r.Date,
			Open:   float64(r.Open),
			High:   float64(r.High),
			Low:    float64(r.Low),
			Close:  float64(r.Close),
			Volume: int64(r.Volume),
		})
	}

	c.log.Debug().Str("ticker", ticker).Int("count", len(bars)).Msg("Fetched daily bars")
	return bars, nil
}

// FetchTradingFlows returns up to days of investor flow rows.
func (c *Client) FetchTradingFlows(ctx context.Context, ticker string, days int) ([]domain.TradingFlow, error) {
	params := url.Values{}
	params.Set("days", fmt.Sprint(days))

	var rows []flowRow
	if err := c.getJSON(ctx, "/api/stock/"+url.PathEscape(ticker)+"/trend", params, &rows); err != nil {
		return nil, err
	}

	flows := make([]domain.TradingFlow, 0, len(rows))
	for _, r := range rows {
		if r.Date == "" {
			continue
		}
		flows = append(flows, domain.TradingFlow{
			Ticker:           ticker,
			Date:             r.Date,
			IndividualNet:    int64(r.Individual),
			InstitutionalNet: int64(r.Institutional),
			ForeignNet:       int64(r.Foreign),
		})
	}

	return flows, nil
}

// FetchIntradayTicks pages through the current session's tick data.
func (c *Client) FetchIntradayTicks(ctx context.Context, ticker string, pages int) ([]domain.IntradayTick, error) {
	if pages <= 0 {
		pages = 1
	}

	var ticks []domain.IntradayTick
	for page := 1; page <= pages; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		params := url.Values{}
		params.Set("page", fmt.Sprint(page))

		var resp tickPage
		if err := c.getJSON(ctx, "/api/stock/"+url.PathEscape(ticker)+"/tick", params, &resp); err != nil {
			return nil, err
		}
		if len(resp.Items) == 0 {
			break
		}

		for _, r := range resp.Items {
			dt, err := time.Parse(time.RFC3339, r.Datetime)
			if err != nil {
				continue
			}
			ticks = append(ticks, domain.IntradayTick{
				Ticker:       ticker,
				Datetime:     dt,
				Price:        float64(r.Price),
				ChangeAmount: float64(r.Change),
				Volume:       int64(r.Volume),
				BidVolume:    int64(r.BidVolume),
				AskVolume:    int64(r.AskVolume),
			})
		}
	}

	return ticks, nil
}

// FetchNews returns recent articles with relevance scored by keyword overlap.
func (c *Client) FetchNews(ctx context.Context, ticker string, days int, keywords []string) ([]domain.NewsItem, error) {
	params := url.Values{}
	params.Set("days", fmt.Sprint(days))

	var resp newsPage
	if err := c.getJSON(ctx, "/api/news/"+url.PathEscape(ticker), params, &resp); err != nil {
		return nil, err
	}

	items := make([]domain.NewsItem, 0, len(resp.Items))
	for _, r := range resp.Items {
		if r.URL == "" || r.Title == "" {
			continue
		}
		score, tags := scoreRelevance(r.Title, keywords)
		items = append(items, domain.NewsItem{
			Ticker:         ticker,
			Date:           r.Date,
			Title:          r.Title,
			URL:            r.URL,
			Source:         r.Source,
			RelevanceScore: score,
			Sentiment:      classifySentiment(r.Title),
			Tags:           tags,
		})
	}

	return items, nil
}

// scoreRelevance computes the keyword-overlap score in [0,1] and returns the
// matched keywords as tags. Without keywords every article scores neutral.
func scoreRelevance(title string, keywords []string) (float64, []string) {
	if len(keywords) == 0 {
		return 0.5, nil
	}

	lower := strings.ToLower(title)
	var matched []string
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(kw)) {
			matched = append(matched, kw)
		}
	}

	score := float64(len(matched)) / float64(len(keywords))
	if score > 1 {
		score = 1
	}
	return score, matched
}

// Korean headline sentiment markers. Crude, but stable across sources.
var (
	positiveMarkers = []string{"급등", "상승", "호재", "신고가", "순매수", "반등"}
	negativeMarkers = []string{"급락", "하락", "악재", "신저가", "순매도", "폭락"}
)

func classifySentiment(title string) domain.NewsSentiment {
	for _, m := range negativeMarkers {
		if strings.Contains(title, m) {
			return domain.SentimentNegative
		}
	}
	for _, m := range positiveMarkers {
		if strings.Contains(title, m) {
			return domain.SentimentPositive
		}
	}
	return domain.SentimentNeutral
}

// FetchStockFundamentals returns the latest valuation ratios for a stock.
func (c *Client) FetchStockFundamentals(ctx context.Context, ticker string) (*domain.StockFundamentals, error) {
	var resp integrationResponse
	if err := c.getJSON(ctx, "/api/stock/"+url.PathEscape(ticker)+"/integration", nil, &resp); err != nil {
		return nil, err
	}
	if resp.Stock == nil {
		return nil, domain.UpstreamUnavailable("no_stock_section", fmt.Errorf("no stock fundamentals for %s", ticker))
	}

	return &domain.StockFundamentals{
		Ticker: ticker,
		Date:   domain.FormatDate(time.Now()),
		PER:    nonZeroPtr(float64(resp.Stock.PER)),
		PBR:    nonZeroPtr(float64(resp.Stock.PBR)),
		ROE:    nonZeroPtr(float64(resp.Stock.ROE)),
		EPS:    nonZeroPtr(float64(resp.Stock.EPS)),
		BPS:    nonZeroPtr(float64(resp.Stock.BPS)),
	}, nil
}

// FetchEtfFundamentals returns the latest NAV data for an ETF.
func (c *Client) FetchEtfFundamentals(ctx context.Context, ticker string) (*domain.EtfFundamentals, error) {
	var resp integrationResponse
	if err := c.getJSON(ctx, "/api/stock/"+url.PathEscape(ticker)+"/integration", nil, &resp); err != nil {
		return nil, err
	}
	if resp.Etf == nil {
		return nil, domain.UpstreamUnavailable("no_etf_section", fmt.Errorf("no ETF fundamentals for %s", ticker))
	}

	return &domain.EtfFundamentals{
		Ticker:       ticker,
		Date:         domain.FormatDate(time.Now()),
		NAV:          nonZeroPtr(float64(resp.Etf.NAV)),
		ExpenseRatio: nonZeroPtr(float64(resp.Etf.ExpenseRatio)),
	}, nil
}

// FetchEtfHoldings returns the current constituents of an ETF.
func (c *Client) FetchEtfHoldings(ctx context.Context, ticker string) ([]domain.EtfHolding, error) {
	var resp holdingsResponse
	if err := c.getJSON(ctx, "/api/etf/"+url.PathEscape(ticker)+"/holdings", nil, &resp); err != nil {
		return nil, err
	}

	date := resp.Date
	if date == "" {
		date = domain.FormatDate(time.Now())
	}

	holdings := make([]domain.EtfHolding, 0, len(resp.Holdings))
	for _, h := range resp.Holdings {
		holdings = append(holdings, domain.EtfHolding{
			Ticker:            ticker,
			Date:              date,
			ConstituentTicker: h.Ticker,
			Name:              h.Name,
			Weight:            float64(h.Weight),
		})
	}

	return holdings, nil
}

// catalogMarkets are the universes swept by FetchCatalog.
var catalogMarkets = []struct {
	name       string
	tickerType domain.TickerType
}{
	{"KOSPI", domain.TickerTypeStock},
	{"KOSDAQ", domain.TickerTypeStock},
	{"ETF", domain.TickerTypeETF},
}

// FetchCatalog sweeps the KOSPI/KOSDAQ/ETF universes.
func (c *Client) FetchCatalog(ctx context.Context) ([]domain.CatalogEntry, error) {
	var entries []domain.CatalogEntry
	now := time.Now()

	for _, market := range catalogMarkets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		params := url.Values{}
		params.Set("market", market.name)

		var rows []catalogRow
		if err := c.getJSON(ctx, "/api/catalog", params, &rows); err != nil {
			return nil, fmt.Errorf("catalog sweep %s: %w", market.name, err)
		}

		for _, r := range rows {
			if r.Ticker == "" {
				continue
			}
			entry := domain.CatalogEntry{
				Ticker:      r.Ticker,
				Name:        r.Name,
				Type:        market.tickerType,
				Market:      market.name,
				Sector:      r.Sector,
				IsActive:    true,
				LastUpdated: &now,
			}
			if r.ListedDate != "" {
				listed := r.ListedDate
				entry.ListedDate = &listed
			}
			entries = append(entries, entry)
		}
	}

	c.log.Info().Int("count", len(entries)).Msg("Fetched ticker catalog")
	return entries, nil
}

// ValidateTicker checks a ticker by a lightweight search lookup.
func (c *Client) ValidateTicker(ctx context.Context, ticker string) (*upstream.ValidationResult, error) {
	params := url.Values{}
	params.Set("q", ticker)

	var resp searchResponse
	if err := c.getJSON(ctx, "/api/search", params, &resp); err != nil {
		return nil, err
	}

	for _, item := range resp.Items {
		if item.Ticker == ticker {
			t := domain.TickerTypeStock
			if strings.EqualFold(item.Type, "ETF") {
				t = domain.TickerTypeETF
			}
			return &upstream.ValidationResult{Valid: true, Name: item.Name, Type: t}, nil
		}
	}

	return &upstream.ValidationResult{Valid: false}, nil
}

// nonZeroPtr returns a pointer to v, or nil when v is zero (upstream encodes
// missing ratios as zero).
func nonZeroPtr(v float64) *float64 {
	if v == 0 {
		return nil
	}
	return &v
}
