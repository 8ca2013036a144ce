package alerts

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/krxwatch/krxwatch/internal/domain"
	"github.com/krxwatch/krxwatch/internal/server/respond"
)

// Handler serves the alert rule and history endpoints.
type Handler struct {
	repo    *Repository
	service *Service
	log     zerolog.Logger
}

// NewHandler creates the alerts handler.
func NewHandler(repo *Repository, service *Service, log zerolog.Logger) *Handler {
	return &Handler{
		repo:    repo,
		service: service,
		log:     log.With().Str("handler", "alerts").Logger(),
	}
}

// RegisterRoutes mounts the alert routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/alerts", func(r chi.Router) {
		r.Post("/", h.createRule)
		r.Post("/trigger", h.trigger)
		r.Get("/history/{ticker}", h.history)
		r.Get("/{ticker}", h.listRules)
		r.Put("/{rule_id}", h.updateRule)
		r.Delete("/{rule_id}", h.deleteRule)
	})
}

type rulePayload struct {
	Ticker      string  `json:"ticker"`
	AlertType   string  `json:"alert_type"`
	Direction   string  `json:"direction"`
	TargetPrice float64 `json:"target_price"`
	Memo        string  `json:"memo"`
	IsActive    *bool   `json:"is_active"`
}

func (p *rulePayload) toRule() *domain.AlertRule {
	active := true
	if p.IsActive != nil {
		active = *p.IsActive
	}
	return &domain.AlertRule{
		Ticker:      p.Ticker,
		AlertType:   domain.AlertType(p.AlertType),
		Direction:   domain.AlertDirection(p.Direction),
		TargetPrice: p.TargetPrice,
		Memo:        p.Memo,
		IsActive:    active,
	}
}

func (h *Handler) listRules(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active_only") == "true"
	rules, err := h.repo.ListRules(r.Context(), chi.URLParam(r, "ticker"), activeOnly)
	if err != nil {
		respond.Error(w, h.log, err)
		return
	}
	if rules == nil {
		rules = []domain.AlertRule{}
	}
	respond.JSON(w, http.StatusOK, rules)
}

func (h *Handler) createRule(w http.ResponseWriter, r *http.Request) {
	var payload rulePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respond.Detail(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	rule := payload.toRule()
	if err := h.repo.CreateRule(r.Context(), rule); err != nil {
		respond.Error(w, h.log, err)
		return
	}
	respond.JSON(w, http.StatusCreated, rule)
}

func (h *Handler) updateRule(w http.ResponseWriter, r *http.Request) {
	var payload rulePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respond.Detail(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	existing, err := h.repo.GetRule(r.Context(), chi.URLParam(r, "rule_id"))
	if err != nil {
		respond.Error(w, h.log, err)
		return
	}

	rule := payload.toRule()
	rule.ID = existing.ID
	if rule.Ticker == "" {
		rule.Ticker = existing.Ticker
	}
	if err := h.repo.UpdateRule(r.Context(), rule); err != nil {
		respond.Error(w, h.log, err)
		return
	}

	updated, err := h.repo.GetRule(r.Context(), rule.ID)
	if err != nil {
		respond.Error(w, h.log, err)
		return
	}
	respond.JSON(w, http.StatusOK, updated)
}

func (h *Handler) deleteRule(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.DeleteRule(r.Context(), chi.URLParam(r, "rule_id")); err != nil {
		respond.Error(w, h.log, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *Handler) trigger(w http.ResponseWriter, r *http.Request) {
	var req TriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.Detail(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	out, err := h.service.Trigger(r.Context(), req)
	if err != nil {
		respond.Error(w, h.log, err)
		return
	}
	respond.JSON(w, http.StatusOK, out)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			limit = v
		}
	}
	items, err := h.repo.History(r.Context(), chi.URLParam(r, "ticker"), limit)
	if err != nil {
		respond.Error(w, h.log, err)
		return
	}
	if items == nil {
		items = []domain.AlertHistory{}
	}
	respond.JSON(w, http.StatusOK, items)
}
