package screener

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/krxwatch/krxwatch/internal/clients/upstream"
	"github.com/krxwatch/krxwatch/internal/domain"
	"github.com/krxwatch/krxwatch/internal/progress"
)

// snapshotWindowDays is the bar window fetched per ticker when building
// screener snapshots; enough for a weekly return.
const snapshotWindowDays = 10

// Service runs screener queries and the catalog/snapshot collection jobs.
type Service struct {
	repo     *Repository
	client   upstream.Client
	registry *progress.Registry
	log      zerolog.Logger
}

// NewService creates the screener service.
func NewService(repo *Repository, client upstream.Client, registry *progress.Registry, log zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		client:   client,
		registry: registry,
		log:      log.With().Str("service", "screener").Logger(),
	}
}

// Query runs a screener scan.
func (s *Service) Query(ctx context.Context, req QueryRequest) (*QueryResult, error) {
	return s.repo.Query(ctx, req)
}

// Themes returns the sector groupings.
func (s *Service) Themes(ctx context.Context) ([]SectorTheme, error) {
	return s.repo.Themes(ctx)
}

// Search exposes catalog autocomplete for the watchlist handlers.
func (s *Service) Search(ctx context.Context, query string, tickerType domain.TickerType, limit int) ([]domain.CatalogEntry, error) {
	return s.repo.Search(ctx, query, tickerType, limit)
}

// recommendationPresets are the named screener presets, in display order.
var recommendationPresets = []struct {
	name string
	req  QueryRequest
}{
	{"weekly-top", QueryRequest{SortBy: "weekly_return", SortOrder: "desc"}},
	{"foreign-buy-surge", QueryRequest{ForeignNetPositive: true, SortBy: "foreign_net", SortOrder: "desc"}},
	{"institutional-buy-surge", QueryRequest{InstitutionalPositive: true, SortBy: "institutional_net", SortOrder: "desc"}},
	{"volume-top", QueryRequest{SortBy: "volume", SortOrder: "desc"}},
	{"weekly-drop", QueryRequest{SortBy: "weekly_return", SortOrder: "asc"}},
}

// Recommendation is one preset's result list.
type Recommendation struct {
	Preset  string                `json:"preset"`
	Entries []domain.CatalogEntry `json:"entries"`
}

// Recommendations runs every preset with the given per-preset limit.
func (s *Service) Recommendations(ctx context.Context, limit int) ([]Recommendation, error) {
	if limit <= 0 {
		limit = 5
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	out := make([]Recommendation, 0, len(recommendationPresets))
	for _, preset := range recommendationPresets {
		req := preset.req
		req.Page = 1
		req.PageSize = limit
		result, err := s.repo.Query(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("preset %s: %w", preset.name, err)
		}
		entries := result.Entries
		if entries == nil {
			entries = []domain.CatalogEntry{}
		}
		out = append(out, Recommendation{Preset: preset.name, Entries: entries})
	}
	return out, nil
}

// StartCatalogCollection launches the catalog refresh in the background.
// Fails fast with AlreadyRunning when a refresh is in flight.
func (s *Service) StartCatalogCollection() error {
	tracker, err := s.registry.Start(progress.JobCatalogCollect, 1, "fetching catalog")
	if err != nil {
		return err
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		s.runCatalogCollection(ctx, tracker)
	}()
	return nil
}

func (s *Service) runCatalogCollection(ctx context.Context, tracker *progress.Tracker) {
	entries, err := s.client.FetchCatalog(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("Catalog fetch failed")
		tracker.Finish(progress.StatusError, err.Error())
		return
	}
	if err := s.repo.UpsertEntries(ctx, entries); err != nil {
		s.log.Error().Err(err).Msg("Catalog upsert failed")
		tracker.Finish(progress.StatusError, err.Error())
		return
	}

	s.log.Info().Int("entries", len(entries)).Msg("Catalog refreshed")
	tracker.Update(1, fmt.Sprintf("%d entries", len(entries)), "done")
	tracker.Finish(progress.StatusCompleted, fmt.Sprintf("refreshed %d entries", len(entries)))
}

// CatalogProgress returns the catalog refresh job snapshot.
func (s *Service) CatalogProgress() progress.Snapshot {
	return s.registry.Get(progress.JobCatalogCollect)
}

// StartSnapshotCollection launches the screener snapshot job over every
// active catalog ticker. Fails fast with AlreadyRunning.
func (s *Service) StartSnapshotCollection() error {
	tickers, err := s.repo.ActiveTickers(context.Background())
	if err != nil {
		return err
	}
	if len(tickers) == 0 {
		return domain.Validationf("catalog is empty; refresh it first")
	}

	tracker, err := s.registry.Start(progress.JobScreeningCollect, len(tickers), "collecting snapshots")
	if err != nil {
		return err
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Hour)
		defer cancel()
		s.runSnapshotCollection(ctx, tracker, tickers)
	}()
	return nil
}

func (s *Service) runSnapshotCollection(ctx context.Context, tracker *progress.Tracker, tickers []string) {
	var collected, failed int
	for i, ticker := range tickers {
		if tracker.CancelRequested() {
			s.log.Info().Int("collected", collected).Msg("Snapshot collection cancelled")
			tracker.Finish(progress.StatusCancelled, fmt.Sprintf("cancelled after %d tickers", collected))
			return
		}
		tracker.Update(i, ticker, "snapshot")

		if err := s.collectSnapshot(ctx, ticker); err != nil {
			failed++
			s.log.Warn().Err(err).Str("ticker", ticker).Msg("Snapshot failed")
			continue
		}
		collected++
	}

	s.log.Info().Int("collected", collected).Int("failed", failed).Msg("Snapshot collection finished")
	tracker.Update(len(tickers), "", "done")
	tracker.Finish(progress.StatusCompleted, fmt.Sprintf("%d collected, %d failed", collected, failed))
}

// collectSnapshot fetches a short bar window plus the latest flow for one
// ticker and writes the snapshot columns.
func (s *Service) collectSnapshot(ctx context.Context, ticker string) error {
	bars, err := s.client.FetchDailyBars(ctx, ticker, snapshotWindowDays)
	if err != nil {
		return fmt.Errorf("fetch bars: %w", err)
	}
	if len(bars) == 0 {
		return fmt.Errorf("no bars for %s", ticker)
	}
	sortBarsAsc(bars)

	last := bars[len(bars)-1]
	snap := Snapshot{
		ClosePrice: &last.Close,
		Volume:     &last.Volume,
	}
	if len(bars) >= 2 {
		prev := bars[len(bars)-2].Close
		if prev > 0 {
			pct := (last.Close/prev - 1) * 100
			snap.DailyChangePct = &pct
		}
		first := bars[0].Close
		if first > 0 {
			weekly := (last.Close/first - 1) * 100
			snap.WeeklyReturn = &weekly
		}
	}

	if flows, err := s.client.FetchTradingFlows(ctx, ticker, 2); err == nil && len(flows) > 0 {
		latest := flows[0]
		for _, f := range flows[1:] {
			if f.Date > latest.Date {
				latest = f
			}
		}
		snap.ForeignNet = &latest.ForeignNet
		snap.InstitutionalNet = &latest.InstitutionalNet
	}

	return s.repo.UpdateSnapshot(ctx, ticker, snap)
}

// sortBarsAsc orders bars by date ascending; upstream may return either order.
func sortBarsAsc(bars []domain.DailyBar) {
	sort.Slice(bars, func(i, j int) bool { return bars[i].Date < bars[j].Date })
}

// CancelSnapshotCollection requests cooperative cancellation. Returns false
// when no snapshot job is running.
func (s *Service) CancelSnapshotCollection() bool {
	return s.registry.RequestCancel(progress.JobScreeningCollect)
}

// SnapshotProgress returns the snapshot job snapshot.
func (s *Service) SnapshotProgress() progress.Snapshot {
	return s.registry.Get(progress.JobScreeningCollect)
}
