package watchlist

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/krxwatch/krxwatch/internal/clients/upstream"
	"github.com/krxwatch/krxwatch/internal/domain"
	"github.com/krxwatch/krxwatch/internal/server/respond"
)

// TickerValidator is the slice of the upstream client the settings surface
// needs for registration lookups.
type TickerValidator interface {
	ValidateTicker(ctx context.Context, ticker string) (*upstream.ValidationResult, error)
}

// CatalogSearcher provides autocomplete over the ticker catalog.
type CatalogSearcher interface {
	Search(ctx context.Context, query string, tickerType domain.TickerType, limit int) ([]domain.CatalogEntry, error)
}

// Handler serves the /settings surface: watchlist CRUD, validation, search
// and stored API keys.
type Handler struct {
	repo      *Repository
	settings  *SettingsRepository
	validator TickerValidator
	search    CatalogSearcher
	log       zerolog.Logger
}

// NewHandler creates the settings handler.
func NewHandler(repo *Repository, settings *SettingsRepository, validator TickerValidator, search CatalogSearcher, log zerolog.Logger) *Handler {
	return &Handler{
		repo:      repo,
		settings:  settings,
		validator: validator,
		search:    search,
		log:       log.With().Str("handler", "settings").Logger(),
	}
}

// RegisterRoutes mounts the settings routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/settings", func(r chi.Router) {
		r.Get("/stocks", h.listStocks)
		r.Post("/stocks", h.createStock)
		r.Get("/stocks/search", h.searchCatalog)
		r.Post("/stocks/reorder", h.reorderStocks)
		r.Get("/stocks/{ticker}/validate", h.validateTicker)
		r.Put("/stocks/{ticker}", h.updateStock)
		r.Delete("/stocks/{ticker}", h.deleteStock)
		r.Get("/api-keys", h.getAPIKeys)
		r.Put("/api-keys", h.putAPIKeys)
	})
}

func (h *Handler) listStocks(w http.ResponseWriter, r *http.Request) {
	tickers, err := h.repo.List(r.Context())
	if err != nil {
		respond.Error(w, h.log, err)
		return
	}
	if tickers == nil {
		tickers = []domain.Ticker{}
	}
	respond.JSON(w, http.StatusOK, tickers)
}

func validateTickerPayload(t *domain.Ticker) error {
	if t.Ticker == "" || len(t.Ticker) > 10 {
		return domain.Validationf("ticker must be 1-10 characters")
	}
	if t.Name == "" {
		return domain.Validationf("name is required")
	}
	if t.Type != domain.TickerTypeETF && t.Type != domain.TickerTypeStock {
		return domain.Validationf("type must be ETF or STOCK")
	}
	return nil
}

func (h *Handler) createStock(w http.ResponseWriter, r *http.Request) {
	var t domain.Ticker
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		respond.Detail(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := validateTickerPayload(&t); err != nil {
		respond.Error(w, h.log, err)
		return
	}
	if err := h.repo.Create(r.Context(), &t); err != nil {
		respond.Error(w, h.log, err)
		return
	}
	respond.JSON(w, http.StatusCreated, t)
}

func (h *Handler) updateStock(w http.ResponseWriter, r *http.Request) {
	var t domain.Ticker
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		respond.Detail(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	t.Ticker = chi.URLParam(r, "ticker")
	if err := validateTickerPayload(&t); err != nil {
		respond.Error(w, h.log, err)
		return
	}
	if err := h.repo.Update(r.Context(), &t); err != nil {
		respond.Error(w, h.log, err)
		return
	}
	respond.JSON(w, http.StatusOK, t)
}

func (h *Handler) deleteStock(w http.ResponseWriter, r *http.Request) {
	ticker := chi.URLParam(r, "ticker")
	if err := h.repo.Delete(r.Context(), ticker); err != nil {
		respond.Error(w, h.log, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]string{"deleted": ticker})
}

func (h *Handler) validateTicker(w http.ResponseWriter, r *http.Request) {
	result, err := h.validator.ValidateTicker(r.Context(), chi.URLParam(r, "ticker"))
	if err != nil {
		respond.Error(w, h.log, err)
		return
	}
	respond.JSON(w, http.StatusOK, result)
}

func (h *Handler) searchCatalog(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		respond.Detail(w, http.StatusBadRequest, "q query parameter required")
		return
	}
	tickerType := domain.TickerType(r.URL.Query().Get("type"))

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 100 {
			respond.Detail(w, http.StatusBadRequest, "limit must be in [1,100]")
			return
		}
		limit = n
	}

	entries, err := h.search.Search(r.Context(), q, tickerType, limit)
	if err != nil {
		respond.Error(w, h.log, err)
		return
	}
	if entries == nil {
		entries = []domain.CatalogEntry{}
	}
	respond.JSON(w, http.StatusOK, entries)
}

func (h *Handler) reorderStocks(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Tickers []string `json:"tickers"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respond.Detail(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := h.repo.Reorder(r.Context(), body.Tickers); err != nil {
		respond.Error(w, h.log, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]string{"status": "reordered"})
}

func (h *Handler) getAPIKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.settings.GetAPIKeys(r.Context())
	if err != nil {
		respond.Error(w, h.log, err)
		return
	}
	respond.JSON(w, http.StatusOK, keys)
}

func (h *Handler) putAPIKeys(w http.ResponseWriter, r *http.Request) {
	var keys map[string]string
	if err := json.NewDecoder(r.Body).Decode(&keys); err != nil {
		respond.Detail(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := h.settings.SetAPIKeys(r.Context(), keys); err != nil {
		respond.Error(w, h.log, err)
		return
	}
	keys, err := h.settings.GetAPIKeys(r.Context())
	if err != nil {
		respond.Error(w, h.log, err)
		return
	}
	respond.JSON(w, http.StatusOK, keys)
}
