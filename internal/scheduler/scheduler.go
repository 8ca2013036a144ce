// Package scheduler drives periodic collection: the daily batch, the
// fundamentals window, the weekly catalog refresh, store backups, WAL
// checkpoint maintenance and intraday tick pruning. All wall-clock times
// are KST.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/krxwatch/krxwatch/internal/database"
	"github.com/krxwatch/krxwatch/internal/domain"
	"github.com/krxwatch/krxwatch/internal/modules/collector"
	"github.com/krxwatch/krxwatch/internal/modules/market"
	"github.com/krxwatch/krxwatch/internal/modules/screener"
	"github.com/krxwatch/krxwatch/internal/progress"
)

const (
	specDailyCollection = "0 9 * * 1-5"
	specFundamentals    = "30 16 * * 1-5"
	specCatalogRefresh  = "0 3 * * 0"
	specBackup          = "0 4 * * 0"
	specWALCheckpoint   = "0 2 * * *"
	specIntradayPrune   = "30 2 * * *"
)

// collectTimeout bounds a scheduled batch run.
const collectTimeout = 30 * time.Minute

// intradayRetentionDays is how long tick samples are kept before the nightly
// prune removes them.
const intradayRetentionDays = 7

// Backupper uploads a store snapshot.
type Backupper interface {
	Backup(ctx context.Context) error
}

// Options configures the scheduler.
type Options struct {
	// CollectDays is the smart-collection window for the daily batch.
	CollectDays int
	// PollIntervalMinutes > 0 replaces the daily cron with an @every
	// trigger, for development.
	PollIntervalMinutes int
}

// Scheduler owns the cron runner and its job bookkeeping.
type Scheduler struct {
	collector *collector.Service
	screener  *screener.Service
	registry  *progress.Registry
	db        *database.DB
	intraday  *market.IntradayRepository
	backup    Backupper
	opts      Options
	log       zerolog.Logger

	cron *cron.Cron

	mu             sync.Mutex
	running        bool
	lastCollection *time.Time
	entries        map[string]cron.EntryID
}

// New creates the scheduler. backup may be nil when backups are not
// configured.
func New(c *collector.Service, scr *screener.Service, reg *progress.Registry, db *database.DB, backup Backupper, opts Options, log zerolog.Logger) (*Scheduler, error) {
	kst, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		return nil, fmt.Errorf("load KST location: %w", err)
	}
	if opts.CollectDays <= 0 {
		opts.CollectDays = 30
	}

	s := &Scheduler{
		collector: c,
		screener:  scr,
		registry:  reg,
		db:        db,
		intraday:  market.NewIntradayRepository(db.Conn(), log),
		backup:    backup,
		opts:      opts,
		log:       log.With().Str("component", "scheduler").Logger(),
		cron:      cron.New(cron.WithLocation(kst)),
		entries:   make(map[string]cron.EntryID),
	}
	if err := s.register(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Scheduler) register() error {
	collectionSpec := specDailyCollection
	if s.opts.PollIntervalMinutes > 0 {
		collectionSpec = fmt.Sprintf("@every %dm", s.opts.PollIntervalMinutes)
	}

	jobs := []struct {
		name string
		spec string
		run  func()
	}{
		{"daily-collection", collectionSpec, s.runDailyCollection},
		{"fundamentals-collection", specFundamentals, s.runFundamentals},
		{"catalog-refresh", specCatalogRefresh, s.runCatalogRefresh},
		{"wal-checkpoint", specWALCheckpoint, s.runWALCheckpoint},
		{"intraday-prune", specIntradayPrune, s.runIntradayPrune},
	}
	for _, j := range jobs {
		id, err := s.cron.AddFunc(j.spec, j.run)
		if err != nil {
			return fmt.Errorf("schedule %s: %w", j.name, err)
		}
		s.entries[j.name] = id
	}

	if s.backup != nil {
		id, err := s.cron.AddFunc(specBackup, s.runBackup)
		if err != nil {
			return fmt.Errorf("schedule backup: %w", err)
		}
		s.entries["store-backup"] = id
	}
	return nil
}

// Start launches the cron runner.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.cron.Start()
	s.running = true
	s.log.Info().Int("jobs", len(s.entries)).Msg("Scheduler started")
}

// Stop halts the cron runner and waits for running jobs.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	s.log.Info().Msg("Scheduler stopped")
}

func (s *Scheduler) runDailyCollection() {
	ctx, cancel := context.WithTimeout(context.Background(), collectTimeout)
	defer cancel()

	result, err := s.collector.CollectAll(ctx, s.opts.CollectDays)
	if err != nil {
		// An overlapping fire is skipped, not queued.
		if domain.KindOf(err) == domain.KindAlreadyRunning {
			s.log.Warn().Msg("Daily collection skipped, batch already running")
			return
		}
		s.log.Error().Err(err).Msg("Daily collection failed")
		return
	}

	now := time.Now()
	s.mu.Lock()
	s.lastCollection = &now
	s.mu.Unlock()

	s.log.Info().
		Int("success", result.Success).
		Int("failed", result.Failed).
		Bool("cancelled", result.Cancelled).
		Msg("Daily collection finished")
}

func (s *Scheduler) runFundamentals() {
	ctx, cancel := context.WithTimeout(context.Background(), collectTimeout)
	defer cancel()

	result, err := s.collector.CollectAllFundamentals(ctx)
	if err != nil {
		if domain.KindOf(err) == domain.KindAlreadyRunning {
			s.log.Warn().Msg("Fundamentals collection skipped, already running")
			return
		}
		s.log.Error().Err(err).Msg("Fundamentals collection failed")
		return
	}
	s.log.Info().Int("success", result.Success).Int("failed", result.Failed).Msg("Fundamentals collection finished")
}

func (s *Scheduler) runCatalogRefresh() {
	if err := s.screener.StartCatalogCollection(); err != nil {
		if domain.KindOf(err) == domain.KindAlreadyRunning {
			s.log.Warn().Msg("Catalog refresh skipped, already running")
			return
		}
		s.log.Error().Err(err).Msg("Catalog refresh failed to start")
	}
}

func (s *Scheduler) runWALCheckpoint() {
	if err := s.db.WALCheckpoint("TRUNCATE"); err != nil {
		s.log.Error().Err(err).Msg("WAL checkpoint failed")
		return
	}
	s.log.Debug().Msg("WAL checkpoint completed")
}

func (s *Scheduler) runIntradayPrune() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cutoff := domain.FormatDate(time.Now().AddDate(0, 0, -intradayRetentionDays))
	n, err := s.intraday.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		s.log.Error().Err(err).Msg("Intraday prune failed")
		return
	}
	s.log.Debug().Int64("deleted", n).Str("before", cutoff).Msg("Intraday prune completed")
}

func (s *Scheduler) runBackup() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
	defer cancel()

	if err := s.backup.Backup(ctx); err != nil {
		s.log.Error().Err(err).Msg("Store backup failed")
		return
	}
	s.log.Info().Msg("Store backup completed")
}

// JobStatus describes one scheduled job.
type JobStatus struct {
	Name    string     `json:"name"`
	Prev    *time.Time `json:"prev,omitempty"`
	Next    *time.Time `json:"next,omitempty"`
	Running bool       `json:"running"`
}

// Status is the queryable scheduler state.
type Status struct {
	Running        bool        `json:"running"`
	IsCollecting   bool        `json:"is_collecting"`
	LastCollection *time.Time  `json:"last_collection,omitempty"`
	NextCollection *time.Time  `json:"next_collection,omitempty"`
	Jobs           []JobStatus `json:"jobs"`
}

// runningKinds maps job names to the registry slot they occupy.
var runningKinds = map[string]progress.JobKind{
	"daily-collection":        progress.JobCollectAll,
	"fundamentals-collection": progress.JobCollectFundamentals,
	"catalog-refresh":         progress.JobCatalogCollect,
}

// Status reports the scheduler state and per-job prev/next fire times.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Running:        s.running,
		IsCollecting:   s.registry.Running(progress.JobCollectAll),
		LastCollection: s.lastCollection,
	}

	for name, id := range s.entries {
		entry := s.cron.Entry(id)
		job := JobStatus{Name: name}
		if !entry.Prev.IsZero() {
			prev := entry.Prev
			job.Prev = &prev
		}
		if !entry.Next.IsZero() {
			next := entry.Next
			job.Next = &next
		}
		if kind, ok := runningKinds[name]; ok {
			job.Running = s.registry.Running(kind)
		}
		st.Jobs = append(st.Jobs, job)

		if name == "daily-collection" && job.Next != nil {
			st.NextCollection = job.Next
		}
	}
	return st
}
