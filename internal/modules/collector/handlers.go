package collector

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/krxwatch/krxwatch/internal/modules/market"
	"github.com/krxwatch/krxwatch/internal/progress"
	"github.com/krxwatch/krxwatch/internal/server/respond"
)

// Handler serves the ingestion trigger endpoints and the collection status
// surface.
type Handler struct {
	service     *Service
	state       *market.StateRepository
	registry    *progress.Registry
	defaultDays int
	log         zerolog.Logger
}

// NewHandler creates the collector handler. defaultDays is the window used
// when a collect request carries no days parameter.
func NewHandler(service *Service, state *market.StateRepository, registry *progress.Registry, defaultDays int, log zerolog.Logger) *Handler {
	return &Handler{
		service:     service,
		state:       state,
		registry:    registry,
		defaultDays: defaultDays,
		log:         log.With().Str("handler", "collector").Logger(),
	}
}

// RegisterRoutes mounts the collection routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/etfs/{ticker}/collect", h.collectTicker)
	r.Post("/etfs/{ticker}/collect-trading-flow", h.collectFlows)
	r.Post("/etfs/{ticker}/collect-intraday", h.collectIntraday)
	r.Post("/etfs/{ticker}/collect-fundamentals", h.collectFundamentals)
	r.Post("/news/{ticker}/collect", h.collectNews)

	r.Route("/data", func(r chi.Router) {
		r.Post("/collect-all", h.collectAll)
		r.Post("/backfill", h.backfill)
		r.Post("/collect-fundamentals", h.collectAllFundamentals)
		r.Get("/status", h.status)
		r.Get("/collect-progress", h.collectProgress)
	})
}

// daysParam parses ?days with a default; zero and negatives reject downstream.
func (h *Handler) daysParam(r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("days")
	if raw == "" {
		return h.defaultDays, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}

func (h *Handler) collectTicker(w http.ResponseWriter, r *http.Request) {
	days, ok := h.daysParam(r)
	if !ok {
		respond.Detail(w, http.StatusBadRequest, "days must be an integer")
		return
	}
	res, err := h.service.CollectTicker(r.Context(), chi.URLParam(r, "ticker"), days)
	if err != nil {
		respond.Error(w, h.log, err)
		return
	}
	respond.JSON(w, http.StatusOK, res)
}

func (h *Handler) collectFlows(w http.ResponseWriter, r *http.Request) {
	days, ok := h.daysParam(r)
	if !ok {
		respond.Detail(w, http.StatusBadRequest, "days must be an integer")
		return
	}
	res, err := h.service.CollectFlows(r.Context(), chi.URLParam(r, "ticker"), days)
	if err != nil {
		respond.Error(w, h.log, err)
		return
	}
	respond.JSON(w, http.StatusOK, res)
}

func (h *Handler) collectIntraday(w http.ResponseWriter, r *http.Request) {
	pages := 1
	if raw := r.URL.Query().Get("pages"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respond.Detail(w, http.StatusBadRequest, "pages must be a positive integer")
			return
		}
		pages = n
	}
	n, err := h.service.CollectIntraday(r.Context(), chi.URLParam(r, "ticker"), pages)
	if err != nil {
		respond.Error(w, h.log, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]int{"tick_records": n})
}

func (h *Handler) collectFundamentals(w http.ResponseWriter, r *http.Request) {
	ticker := chi.URLParam(r, "ticker")
	if err := h.service.CollectFundamentals(r.Context(), ticker); err != nil {
		respond.Error(w, h.log, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]string{"ticker": ticker, "status": "collected"})
}

func (h *Handler) collectNews(w http.ResponseWriter, r *http.Request) {
	days, ok := h.daysParam(r)
	if !ok {
		respond.Detail(w, http.StatusBadRequest, "days must be an integer")
		return
	}
	n, err := h.service.CollectNews(r.Context(), chi.URLParam(r, "ticker"), days)
	if err != nil {
		respond.Error(w, h.log, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]int{"news_records": n})
}

func (h *Handler) collectAll(w http.ResponseWriter, r *http.Request) {
	days, ok := h.daysParam(r)
	if !ok {
		respond.Detail(w, http.StatusBadRequest, "days must be an integer")
		return
	}
	res, err := h.service.CollectAll(r.Context(), days)
	if err != nil {
		respond.Error(w, h.log, err)
		return
	}
	respond.JSON(w, http.StatusOK, res)
}

func (h *Handler) backfill(w http.ResponseWriter, r *http.Request) {
	days, ok := h.daysParam(r)
	if !ok {
		respond.Detail(w, http.StatusBadRequest, "days must be an integer")
		return
	}
	res, err := h.service.Backfill(r.Context(), days)
	if err != nil {
		respond.Error(w, h.log, err)
		return
	}
	respond.JSON(w, http.StatusOK, res)
}

func (h *Handler) collectAllFundamentals(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.CollectAllFundamentals(r.Context())
	if err != nil {
		respond.Error(w, h.log, err)
		return
	}
	respond.JSON(w, http.StatusOK, res)
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	states, err := h.state.All(r.Context())
	if err != nil {
		respond.Error(w, h.log, err)
		return
	}
	respond.JSON(w, http.StatusOK, states)
}

func (h *Handler) collectProgress(w http.ResponseWriter, r *http.Request) {
	respond.JSON(w, http.StatusOK, h.registry.Get(progress.JobCollectAll))
}
