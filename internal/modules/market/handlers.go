package market

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/krxwatch/krxwatch/internal/cache"
	"github.com/krxwatch/krxwatch/internal/domain"
	"github.com/krxwatch/krxwatch/internal/modules/watchlist"
	"github.com/krxwatch/krxwatch/internal/server/respond"
)

// IntradayCollector triggers a focused intraday collection when a read
// detects missing data and auto_collect is requested.
type IntradayCollector interface {
	CollectIntraday(ctx context.Context, ticker string, pages int) (int, error)
}

// Handler serves the market-data read endpoints.
type Handler struct {
	watchlist    *watchlist.Repository
	bars         *BarRepository
	flows        *FlowRepository
	intraday     *IntradayRepository
	fundamentals *FundamentalsRepository
	collector    IntradayCollector
	cache        *cache.Cache
	log          zerolog.Logger
}

// NewHandler creates the market read handler.
func NewHandler(wl *watchlist.Repository, bars *BarRepository, flows *FlowRepository,
	intraday *IntradayRepository, fundamentals *FundamentalsRepository,
	collector IntradayCollector, c *cache.Cache, log zerolog.Logger) *Handler {
	return &Handler{
		watchlist:    wl,
		bars:         bars,
		flows:        flows,
		intraday:     intraday,
		fundamentals: fundamentals,
		collector:    collector,
		cache:        c,
		log:          log.With().Str("handler", "market").Logger(),
	}
}

// RegisterRoutes mounts the market read routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/etfs", h.listTickers)
	r.Get("/etfs/{ticker}", h.getTicker)
	r.Get("/etfs/{ticker}/prices", h.getPrices)
	r.Get("/etfs/{ticker}/trading-flow", h.getFlows)
	r.Get("/etfs/{ticker}/intraday", h.getIntraday)
	r.Get("/etfs/{ticker}/fundamentals", h.getFundamentals)
}

// bypassCache reports whether the request opted out via X-No-Cache.
func bypassCache(r *http.Request) bool {
	return r.Header.Get("X-No-Cache") == "true"
}

func (h *Handler) listTickers(w http.ResponseWriter, r *http.Request) {
	tickers, err := h.watchlist.List(r.Context())
	if err != nil {
		respond.Error(w, h.log, err)
		return
	}
	if tickers == nil {
		tickers = []domain.Ticker{}
	}
	respond.JSON(w, http.StatusOK, tickers)
}

func (h *Handler) getTicker(w http.ResponseWriter, r *http.Request) {
	t, err := h.watchlist.Get(r.Context(), chi.URLParam(r, "ticker"))
	if err != nil {
		respond.Error(w, h.log, err)
		return
	}
	respond.JSON(w, http.StatusOK, t)
}

// dateWindow resolves the prices/flows query window: explicit start/end
// dates win over a trailing days count.
func dateWindow(r *http.Request) (from, to string, err error) {
	q := r.URL.Query()
	from, to = q.Get("start_date"), q.Get("end_date")
	if from != "" || to != "" {
		if from != "" && to != "" && from > to {
			return "", "", domain.Validationf("end_date must not precede start_date")
		}
		return from, to, nil
	}
	if raw := q.Get("days"); raw != "" {
		n, convErr := strconv.Atoi(raw)
		if convErr != nil || n <= 0 {
			return "", "", domain.Validationf("days must be a positive integer")
		}
		from = domain.FormatDate(time.Now().AddDate(0, 0, -n))
	}
	return from, "", nil
}

func (h *Handler) getPrices(w http.ResponseWriter, r *http.Request) {
	ticker := chi.URLParam(r, "ticker")
	from, to, err := dateWindow(r)
	if err != nil {
		respond.Error(w, h.log, err)
		return
	}

	key := fmt.Sprintf("prices:%s:%s:%s", ticker, from, to)
	if cached, ok := h.cache.Get(key, bypassCache(r)); ok {
		respond.JSON(w, http.StatusOK, cached)
		return
	}

	bars, err := h.bars.GetBars(r.Context(), ticker, from, to)
	if err != nil {
		respond.Error(w, h.log, err)
		return
	}
	if bars == nil {
		bars = []domain.DailyBar{}
	}
	if len(bars) > 0 {
		h.cache.Set(key, bars, cache.TTLNormal, "ticker:"+ticker, "kind:prices")
	}
	respond.JSON(w, http.StatusOK, bars)
}

func (h *Handler) getFlows(w http.ResponseWriter, r *http.Request) {
	ticker := chi.URLParam(r, "ticker")
	from, to, err := dateWindow(r)
	if err != nil {
		respond.Error(w, h.log, err)
		return
	}

	key := fmt.Sprintf("flows:%s:%s:%s", ticker, from, to)
	if cached, ok := h.cache.Get(key, bypassCache(r)); ok {
		respond.JSON(w, http.StatusOK, cached)
		return
	}

	flows, err := h.flows.GetFlows(r.Context(), ticker, from, to)
	if err != nil {
		respond.Error(w, h.log, err)
		return
	}
	if flows == nil {
		flows = []domain.TradingFlow{}
	}
	if len(flows) > 0 {
		h.cache.Set(key, flows, cache.TTLNormal, "ticker:"+ticker, "kind:flows")
	}
	respond.JSON(w, http.StatusOK, flows)
}

func (h *Handler) getIntraday(w http.ResponseWriter, r *http.Request) {
	ticker := chi.URLParam(r, "ticker")
	q := r.URL.Query()

	date := q.Get("target_date")
	if date == "" {
		date = domain.FormatDate(time.Now())
	} else if _, err := domain.ParseDate(date); err != nil {
		respond.Detail(w, http.StatusBadRequest, "target_date must be YYYY-MM-DD")
		return
	}

	bypass := bypassCache(r) || q.Get("force_refresh") == "true"
	key := fmt.Sprintf("intraday:%s:%s", ticker, date)
	if cached, ok := h.cache.Get(key, bypass); ok {
		respond.JSON(w, http.StatusOK, cached)
		return
	}

	ticks, err := h.intraday.GetTicks(r.Context(), ticker, date)
	if err != nil {
		respond.Error(w, h.log, err)
		return
	}

	if len(ticks) == 0 && q.Get("auto_collect") == "true" {
		if _, err := h.collector.CollectIntraday(r.Context(), ticker, 1); err != nil {
			respond.Error(w, h.log, err)
			return
		}
		if ticks, err = h.intraday.GetTicks(r.Context(), ticker, date); err != nil {
			respond.Error(w, h.log, err)
			return
		}
	}

	if ticks == nil {
		ticks = []domain.IntradayTick{}
	}
	// Empty results stay uncached so the next read can retry discovery.
	if len(ticks) > 0 {
		h.cache.Set(key, ticks, cache.TTLFast, "ticker:"+ticker, "kind:intraday")
	}
	respond.JSON(w, http.StatusOK, ticks)
}

func (h *Handler) getFundamentals(w http.ResponseWriter, r *http.Request) {
	ticker := chi.URLParam(r, "ticker")

	t, err := h.watchlist.Get(r.Context(), ticker)
	if err != nil {
		respond.Error(w, h.log, err)
		return
	}

	if t.Type == domain.TickerTypeETF {
		f, err := h.fundamentals.GetLatestEtfFundamentals(r.Context(), ticker)
		if err != nil {
			respond.Error(w, h.log, err)
			return
		}
		holdings, err := h.fundamentals.GetLatestEtfHoldings(r.Context(), ticker)
		if err != nil {
			respond.Error(w, h.log, err)
			return
		}
		if holdings == nil {
			holdings = []domain.EtfHolding{}
		}
		respond.JSON(w, http.StatusOK, map[string]interface{}{
			"etf":      f,
			"holdings": holdings,
		})
		return
	}

	f, err := h.fundamentals.GetLatestStockFundamentals(r.Context(), ticker)
	if err != nil {
		respond.Error(w, h.log, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]interface{}{"stock": f})
}
