package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/krxwatch/krxwatch/internal/cache"
	"github.com/krxwatch/krxwatch/internal/database"
	"github.com/krxwatch/krxwatch/internal/modules/market"
	"github.com/krxwatch/krxwatch/internal/scheduler"
	"github.com/krxwatch/krxwatch/internal/server/respond"
)

// SchedulerStatus exposes the scheduler state to the API.
type SchedulerStatus interface {
	Status() scheduler.Status
}

// SystemHandlers serves health, store stats, cache admin and scheduler
// status.
type SystemHandlers struct {
	db        *database.DB
	cache     *cache.Cache
	admin     *market.AdminService
	scheduler SchedulerStatus
	log       zerolog.Logger
}

// NewSystemHandlers creates the system handler set.
func NewSystemHandlers(db *database.DB, c *cache.Cache, admin *market.AdminService, sched SchedulerStatus, log zerolog.Logger) *SystemHandlers {
	return &SystemHandlers{
		db:        db,
		cache:     c,
		admin:     admin,
		scheduler: sched,
		log:       log.With().Str("handler", "system").Logger(),
	}
}

// RegisterRoutes mounts the system routes under /data.
func (h *SystemHandlers) RegisterRoutes(r chi.Router) {
	r.Route("/data", func(r chi.Router) {
		r.Get("/stats", h.stats)
		r.Get("/scheduler-status", h.schedulerStatus)
		r.Get("/cache/stats", h.cacheStats)
		r.Delete("/cache/clear", h.cacheClear)
		r.Delete("/reset", h.reset)
	})
}

// Health answers liveness plus a store reachability probe.
func (h *SystemHandlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	status := "ok"
	storeStatus := "ok"
	code := http.StatusOK
	if err := h.db.QuickCheck(ctx); err != nil {
		h.log.Error().Err(err).Msg("Health check store probe failed")
		status, storeStatus = "degraded", "unavailable"
		code = http.StatusServiceUnavailable
	}

	respond.JSON(w, code, map[string]string{
		"status": status,
		"store":  storeStatus,
	})
}

func (h *SystemHandlers) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.admin.Stats(r.Context())
	if err != nil {
		respond.Error(w, h.log, err)
		return
	}
	respond.JSON(w, http.StatusOK, stats)
}

func (h *SystemHandlers) schedulerStatus(w http.ResponseWriter, r *http.Request) {
	respond.JSON(w, http.StatusOK, h.scheduler.Status())
}

func (h *SystemHandlers) cacheStats(w http.ResponseWriter, r *http.Request) {
	respond.JSON(w, http.StatusOK, h.cache.Stats())
}

func (h *SystemHandlers) cacheClear(w http.ResponseWriter, r *http.Request) {
	h.cache.Flush()
	respond.JSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (h *SystemHandlers) reset(w http.ResponseWriter, r *http.Request) {
	if err := h.admin.ResetMarketData(r.Context()); err != nil {
		respond.Error(w, h.log, err)
		return
	}
	h.cache.Flush()
	respond.JSON(w, http.StatusOK, map[string]string{"status": "reset"})
}
