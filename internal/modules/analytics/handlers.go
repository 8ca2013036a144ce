package analytics

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/krxwatch/krxwatch/internal/domain"
	"github.com/krxwatch/krxwatch/internal/server/respond"
)

// Handler serves the analytics endpoints: metrics, insights, comparison,
// prompts, batch summary and simulations.
type Handler struct {
	service *Service
	log     zerolog.Logger
}

// NewHandler creates the analytics handler.
func NewHandler(service *Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "analytics").Logger(),
	}
}

// RegisterRoutes mounts the analytics routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/etfs/compare", h.compare)
	r.Get("/etfs/{ticker}/metrics", h.metrics)
	r.Get("/etfs/{ticker}/insights", h.insights)
	r.Get("/etfs/{ticker}/ai-prompt", h.prompt)
	r.Post("/etfs/ai-prompt-multi", h.promptMulti)
	r.Post("/etfs/batch-summary", h.batchSummary)

	r.Route("/simulation", func(r chi.Router) {
		r.Post("/lump-sum", h.lumpSum)
		r.Post("/dca", h.dca)
		r.Post("/portfolio", h.portfolio)
	})
}

// periodParam parses ?period with a 1y default.
func periodParam(r *http.Request) domain.Period {
	if raw := r.URL.Query().Get("period"); raw != "" {
		return domain.Period(raw)
	}
	return domain.Period1Y
}

func (h *Handler) metrics(w http.ResponseWriter, r *http.Request) {
	m, err := h.service.ComputeMetrics(r.Context(), chi.URLParam(r, "ticker"), periodParam(r))
	if err != nil {
		respond.Error(w, h.log, err)
		return
	}
	respond.JSON(w, http.StatusOK, m)
}

func (h *Handler) insights(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.ComputeInsights(r.Context(), chi.URLParam(r, "ticker"), periodParam(r))
	if err != nil {
		respond.Error(w, h.log, err)
		return
	}
	respond.JSON(w, http.StatusOK, out)
}

func (h *Handler) compare(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("tickers")
	if raw == "" {
		respond.Detail(w, http.StatusBadRequest, "tickers query parameter required")
		return
	}
	tickers := strings.Split(raw, ",")
	for i := range tickers {
		tickers[i] = strings.TrimSpace(tickers[i])
	}

	out, err := h.service.Compare(r.Context(), tickers,
		r.URL.Query().Get("start_date"), r.URL.Query().Get("end_date"))
	if err != nil {
		respond.Error(w, h.log, err)
		return
	}
	respond.JSON(w, http.StatusOK, out)
}

func (h *Handler) prompt(w http.ResponseWriter, r *http.Request) {
	text, err := h.service.BuildPrompt(r.Context(), chi.URLParam(r, "ticker"), periodParam(r))
	if err != nil {
		respond.Error(w, h.log, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]string{"prompt": text})
}

func (h *Handler) promptMulti(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Tickers []string      `json:"tickers"`
		Period  domain.Period `json:"period"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respond.Detail(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.Period == "" {
		body.Period = domain.Period1Y
	}
	text, err := h.service.BuildMultiPrompt(r.Context(), body.Tickers, body.Period)
	if err != nil {
		respond.Error(w, h.log, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]string{"prompt": text})
}

func (h *Handler) batchSummary(w http.ResponseWriter, r *http.Request) {
	var req BatchSummaryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.Detail(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	cards, err := h.service.BatchSummary(r.Context(), req)
	if err != nil {
		respond.Error(w, h.log, err)
		return
	}
	respond.JSON(w, http.StatusOK, cards)
}

func (h *Handler) lumpSum(w http.ResponseWriter, r *http.Request) {
	var req LumpSumRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.Detail(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	out, err := h.service.LumpSum(r.Context(), req)
	if err != nil {
		respond.Error(w, h.log, err)
		return
	}
	respond.JSON(w, http.StatusOK, out)
}

func (h *Handler) dca(w http.ResponseWriter, r *http.Request) {
	var req DCARequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.Detail(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	out, err := h.service.DCA(r.Context(), req)
	if err != nil {
		respond.Error(w, h.log, err)
		return
	}
	respond.JSON(w, http.StatusOK, out)
}

func (h *Handler) portfolio(w http.ResponseWriter, r *http.Request) {
	var req PortfolioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.Detail(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	out, err := h.service.Portfolio(r.Context(), req)
	if err != nil {
		respond.Error(w, h.log, err)
		return
	}
	respond.JSON(w, http.StatusOK, out)
}
