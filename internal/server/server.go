// Package server assembles the HTTP API: routing, middleware, auth, the
// system endpoints and the progress stream.
package server

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/krxwatch/krxwatch/internal/config"
	"github.com/krxwatch/krxwatch/internal/domain"
	"github.com/krxwatch/krxwatch/internal/modules/alerts"
	"github.com/krxwatch/krxwatch/internal/modules/analytics"
	"github.com/krxwatch/krxwatch/internal/modules/collector"
	"github.com/krxwatch/krxwatch/internal/modules/market"
	"github.com/krxwatch/krxwatch/internal/modules/news"
	"github.com/krxwatch/krxwatch/internal/modules/screener"
	"github.com/krxwatch/krxwatch/internal/modules/watchlist"
	"github.com/krxwatch/krxwatch/internal/progress"
	"github.com/krxwatch/krxwatch/internal/server/respond"
)

const healthTimeout = 5 * time.Second

// Handlers carries the per-module handlers the server mounts.
type Handlers struct {
	Market    *market.Handler
	Collector *collector.Handler
	News      *news.Handler
	Watchlist *watchlist.Handler
	Analytics *analytics.Handler
	Screener  *screener.Handler
	Alerts    *alerts.Handler
	System    *SystemHandlers
}

// Server is the HTTP API front.
type Server struct {
	router *chi.Mux
	server *http.Server
	cfg    *config.Config
	stream *ProgressStream
	log    zerolog.Logger
}

// New assembles the router and returns the server.
func New(cfg *config.Config, h Handlers, registry *progress.Registry, log zerolog.Logger) *Server {
	s := &Server{
		router: chi.NewRouter(),
		cfg:    cfg,
		stream: NewProgressStream(registry, log),
		log:    log.With().Str("component", "server").Logger(),
	}

	s.setupMiddleware()
	s.setupRoutes(h)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-No-Cache"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !s.cfg.DevMode {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) setupRoutes(h Handlers) {
	s.router.Get("/health", h.System.Health)

	s.router.Route("/api", func(r chi.Router) {
		// The stream holds its connection open; keep it outside the
		// request timeout.
		r.Get("/data/collect-progress/stream", s.stream.ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))
			r.Use(s.authMiddleware)

			h.Market.RegisterRoutes(r)
			h.Collector.RegisterRoutes(r)
			h.News.RegisterRoutes(r)
			h.Watchlist.RegisterRoutes(r)
			h.Analytics.RegisterRoutes(r)
			h.Screener.RegisterRoutes(r)
			h.Alerts.RegisterRoutes(r)
			h.System.RegisterRoutes(r)
		})
	})
}

// authMiddleware enforces X-API-Key on write and admin requests. Reads stay
// open; dev mode accepts everything.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.requiresAuth(r) {
			next.ServeHTTP(w, r)
			return
		}

		key := r.Header.Get("X-API-Key")
		if subtle.ConstantTimeCompare([]byte(key), []byte(s.cfg.APIKey)) != 1 {
			respond.Error(w, s.log, domain.AuthRequired("missing or invalid X-API-Key"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requiresAuth(r *http.Request) bool {
	if s.cfg.DevMode {
		return false
	}
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodDelete:
		return true
	}
	return false
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}

// Router exposes the assembled router, for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start blocks serving HTTP until shutdown.
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}
