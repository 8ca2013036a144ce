// Package main is the entry point for the krxwatch market data server. It
// wires the store, the upstream client, the module services and the HTTP
// server, starts the cron scheduler and handles graceful shutdown.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/krxwatch/krxwatch/internal/backup"
	"github.com/krxwatch/krxwatch/internal/cache"
	"github.com/krxwatch/krxwatch/internal/clients/naver"
	"github.com/krxwatch/krxwatch/internal/config"
	"github.com/krxwatch/krxwatch/internal/database"
	"github.com/krxwatch/krxwatch/internal/modules/alerts"
	"github.com/krxwatch/krxwatch/internal/modules/analytics"
	"github.com/krxwatch/krxwatch/internal/modules/collector"
	"github.com/krxwatch/krxwatch/internal/modules/market"
	"github.com/krxwatch/krxwatch/internal/modules/news"
	"github.com/krxwatch/krxwatch/internal/modules/screener"
	"github.com/krxwatch/krxwatch/internal/modules/watchlist"
	"github.com/krxwatch/krxwatch/internal/progress"
	"github.com/krxwatch/krxwatch/internal/scheduler"
	"github.com/krxwatch/krxwatch/internal/server"
	"github.com/krxwatch/krxwatch/pkg/logger"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := logger.New(logger.Config{Level: "info", Pretty: true})
		fallback.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	log.Info().
		Int("port", cfg.Port).
		Bool("dev_mode", cfg.DevMode).
		Str("database", cfg.DatabasePath).
		Msg("Starting krxwatch")

	db, err := database.New(database.Config{Path: cfg.DatabasePath})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate database")
	}

	conn := db.Conn()
	registry := progress.NewRegistry()
	dataCache := cache.New(cfg.CacheMaxSize)
	client := naver.NewClient(log,
		naver.WithRateLimit(cfg.UpstreamRateLimit),
		naver.WithTimeout(time.Duration(cfg.UpstreamTimeout)*time.Second),
	)

	// Repositories.
	wlRepo := watchlist.NewRepository(conn, log)
	settingsRepo := watchlist.NewSettingsRepository(conn, log)
	bars := market.NewBarRepository(conn, log)
	flows := market.NewFlowRepository(conn, log)
	intraday := market.NewIntradayRepository(conn, log)
	fundamentals := market.NewFundamentalsRepository(conn, log)
	state := market.NewStateRepository(conn, log)
	newsRepo := news.NewRepository(conn, log)
	alertsRepo := alerts.NewRepository(conn, log)

	// Services.
	collectorSvc := collector.NewService(collector.Deps{
		Client:       client,
		Watchlist:    wlRepo,
		Bars:         bars,
		Flows:        flows,
		Intraday:     intraday,
		Fundamentals: fundamentals,
		State:        state,
		News:         newsRepo,
		Cache:        dataCache,
		Registry:     registry,
	}, log)
	screenerSvc := screener.NewService(screener.NewRepository(conn, log), client, registry, log)
	analyticsSvc := analytics.NewService(bars, flows, newsRepo, cfg.RiskFreeRate, log)
	alertsSvc := alerts.NewService(alertsRepo, log)

	var backupSvc scheduler.Backupper
	if cfg.BackupEnabled() {
		svc, err := backup.New(context.Background(), cfg, db, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize backup service")
		}
		backupSvc = svc
		log.Info().Str("bucket", cfg.BackupBucket).Msg("Store backups enabled")
	}

	sched, err := scheduler.New(collectorSvc, screenerSvc, registry, db, backupSvc, scheduler.Options{
		CollectDays:         cfg.DefaultCollectDays,
		PollIntervalMinutes: cfg.ScheduleIntervalMinutes,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create scheduler")
	}

	handlers := server.Handlers{
		Market:    market.NewHandler(wlRepo, bars, flows, intraday, fundamentals, collectorSvc, dataCache, log),
		Collector: collector.NewHandler(collectorSvc, state, registry, cfg.DefaultCollectDays, log),
		News:      news.NewHandler(newsRepo, log),
		Watchlist: watchlist.NewHandler(wlRepo, settingsRepo, client, screenerSvc, log),
		Analytics: analytics.NewHandler(analyticsSvc, log),
		Screener:  screener.NewHandler(screenerSvc, log),
		Alerts:    alerts.NewHandler(alertsRepo, alertsSvc, log),
		System:    server.NewSystemHandlers(db, dataCache, market.NewAdminService(db, log), sched, log),
	}

	srv := server.New(cfg, handlers, registry, log)

	sched.Start()
	defer sched.Stop()

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Error().Err(err).Msg("HTTP server failed")
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}

	log.Info().Msg("krxwatch stopped")
}
