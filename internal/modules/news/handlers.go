package news

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/krxwatch/krxwatch/internal/server/respond"
)

// Handler serves the news read endpoints. Collection lives on the collector
// handlers with the other ingestion triggers.
type Handler struct {
	repo *Repository
	log  zerolog.Logger
}

// NewHandler creates the news handler.
func NewHandler(repo *Repository, log zerolog.Logger) *Handler {
	return &Handler{
		repo: repo,
		log:  log.With().Str("handler", "news").Logger(),
	}
}

// RegisterRoutes mounts the news routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/news/{ticker}", h.getNews)
}

// getNews handles GET /api/news/{ticker}?start_date&end_date&analyze.
func (h *Handler) getNews(w http.ResponseWriter, r *http.Request) {
	ticker := chi.URLParam(r, "ticker")
	from := r.URL.Query().Get("start_date")
	to := r.URL.Query().Get("end_date")

	items, err := h.repo.GetItems(r.Context(), ticker, from, to, 0)
	if err != nil {
		respond.Error(w, h.log, err)
		return
	}

	if r.URL.Query().Get("analyze") != "true" {
		respond.JSON(w, http.StatusOK, items)
		return
	}

	respond.JSON(w, http.StatusOK, map[string]interface{}{
		"items":    items,
		"analysis": Analyze(items),
	})
}
