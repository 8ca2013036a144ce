package screener

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/krxwatch/krxwatch/internal/domain"
	"github.com/krxwatch/krxwatch/internal/server/respond"
)

// Handler serves the scanner endpoints and the catalog refresh routes.
type Handler struct {
	service *Service
	log     zerolog.Logger
}

// NewHandler creates the screener handler.
func NewHandler(service *Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "screener").Logger(),
	}
}

// RegisterRoutes mounts the scanner and catalog routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/scanner", func(r chi.Router) {
		r.Get("/", h.query)
		r.Get("/themes", h.themes)
		r.Get("/recommendations", h.recommendations)
		r.Get("/collect-progress", h.snapshotProgress)
		r.Post("/collect-data", h.collectSnapshots)
		r.Post("/cancel-collect", h.cancelSnapshots)
	})

	r.Route("/settings/ticker-catalog", func(r chi.Router) {
		r.Post("/collect", h.collectCatalog)
		r.Get("/collect-progress", h.catalogProgress)
	})
}

func floatParam(r *http.Request, name string) (*float64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, domain.Validationf("%s must be a number", name)
	}
	return &v, nil
}

func intParam(r *http.Request, name string, fallback int) int {
	if raw := r.URL.Query().Get(name); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			return v
		}
	}
	return fallback
}

func boolParam(r *http.Request, name string) bool {
	return r.URL.Query().Get(name) == "true"
}

func (h *Handler) query(w http.ResponseWriter, r *http.Request) {
	req := QueryRequest{
		Query:                 r.URL.Query().Get("query"),
		Type:                  domain.TickerType(r.URL.Query().Get("type")),
		Sector:                r.URL.Query().Get("sector"),
		ForeignNetPositive:    boolParam(r, "foreign_net_positive"),
		InstitutionalPositive: boolParam(r, "institutional_net_positive"),
		SortBy:                r.URL.Query().Get("sort_by"),
		SortOrder:             r.URL.Query().Get("sort_order"),
		Page:                  intParam(r, "page", 1),
		PageSize:              intParam(r, "page_size", 0),
	}

	var err error
	if req.MinWeeklyReturn, err = floatParam(r, "min_weekly_return"); err != nil {
		respond.Error(w, h.log, err)
		return
	}
	if req.MaxWeeklyReturn, err = floatParam(r, "max_weekly_return"); err != nil {
		respond.Error(w, h.log, err)
		return
	}

	out, err := h.service.Query(r.Context(), req)
	if err != nil {
		respond.Error(w, h.log, err)
		return
	}
	if out.Entries == nil {
		out.Entries = []domain.CatalogEntry{}
	}
	respond.JSON(w, http.StatusOK, out)
}

func (h *Handler) themes(w http.ResponseWriter, r *http.Request) {
	themes, err := h.service.Themes(r.Context())
	if err != nil {
		respond.Error(w, h.log, err)
		return
	}
	if themes == nil {
		themes = []SectorTheme{}
	}
	respond.JSON(w, http.StatusOK, themes)
}

func (h *Handler) recommendations(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.Recommendations(r.Context(), intParam(r, "limit", 5))
	if err != nil {
		respond.Error(w, h.log, err)
		return
	}
	respond.JSON(w, http.StatusOK, out)
}

func (h *Handler) collectSnapshots(w http.ResponseWriter, r *http.Request) {
	if err := h.service.StartSnapshotCollection(); err != nil {
		respond.Error(w, h.log, err)
		return
	}
	respond.JSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (h *Handler) cancelSnapshots(w http.ResponseWriter, r *http.Request) {
	if !h.service.CancelSnapshotCollection() {
		respond.Detail(w, http.StatusBadRequest, "no snapshot collection in progress")
		return
	}
	respond.JSON(w, http.StatusOK, map[string]string{"status": "cancel_requested"})
}

func (h *Handler) snapshotProgress(w http.ResponseWriter, r *http.Request) {
	respond.JSON(w, http.StatusOK, h.service.SnapshotProgress())
}

func (h *Handler) collectCatalog(w http.ResponseWriter, r *http.Request) {
	if err := h.service.StartCatalogCollection(); err != nil {
		respond.Error(w, h.log, err)
		return
	}
	respond.JSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (h *Handler) catalogProgress(w http.ResponseWriter, r *http.Request) {
	respond.JSON(w, http.StatusOK, h.service.CatalogProgress())
}
