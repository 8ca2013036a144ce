package market

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/krxwatch/krxwatch/internal/domain"
)

// StateRepository tracks per-ticker collection bookkeeping. The collector
// reads it to decide whether a ticker needs fetching at all (gap-only
// ingestion) and writes back outcomes.
type StateRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewStateRepository creates a new collection-state repository.
func NewStateRepository(db *sql.DB, log zerolog.Logger) *StateRepository {
	return &StateRepository{
		db:  db,
		log: log.With().Str("repository", "collection_state").Logger(),
	}
}

// Get returns the state row for a ticker, or nil when the ticker has never
// been collected.
func (r *StateRepository) Get(ctx context.Context, ticker string) (*domain.CollectionState, error) {
	var (
		s              domain.CollectionState
		lastNews       sql.NullString
		lastAttempt    sql.NullString
		lastSuccessful sql.NullString
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT ticker, last_price_date, last_trading_flow_date, last_news_collected_at,
		       price_records_count, trading_flow_records_count, news_records_count,
		       last_collection_attempt, last_successful_collection, consecutive_failures
		FROM collection_state WHERE ticker = ?`, ticker).
		Scan(&s.Ticker, &s.LastPriceDate, &s.LastTradingFlowDate, &lastNews,
			&s.PriceRecordsCount, &s.TradingFlowRecordsCount, &s.NewsRecordsCount,
			&lastAttempt, &lastSuccessful, &s.ConsecutiveFailures)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query collection state for %s: %w", ticker, err)
	}

	if s.LastNewsCollectedAt, err = parseNullTime(lastNews); err != nil {
		return nil, err
	}
	if s.LastCollectionAttempt, err = parseNullTime(lastAttempt); err != nil {
		return nil, err
	}
	if s.LastSuccessfulCollect, err = parseNullTime(lastSuccessful); err != nil {
		return nil, err
	}
	return &s, nil
}

// All returns the state rows for every tracked ticker.
func (r *StateRepository) All(ctx context.Context) ([]domain.CollectionState, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT ticker, last_price_date, last_trading_flow_date, last_news_collected_at,
		       price_records_count, trading_flow_records_count, news_records_count,
		       last_collection_attempt, last_successful_collection, consecutive_failures
		FROM collection_state ORDER BY ticker`)
	if err != nil {
		return nil, fmt.Errorf("query collection states: %w", err)
	}
	defer rows.Close()

	var states []domain.CollectionState
	for rows.Next() {
		var (
			s              domain.CollectionState
			lastNews       sql.NullString
			lastAttempt    sql.NullString
			lastSuccessful sql.NullString
		)
		if err := rows.Scan(&s.Ticker, &s.LastPriceDate, &s.LastTradingFlowDate, &lastNews,
			&s.PriceRecordsCount, &s.TradingFlowRecordsCount, &s.NewsRecordsCount,
			&lastAttempt, &lastSuccessful, &s.ConsecutiveFailures); err != nil {
			return nil, fmt.Errorf("scan collection state: %w", err)
		}
		if s.LastNewsCollectedAt, err = parseNullTime(lastNews); err != nil {
			return nil, err
		}
		if s.LastCollectionAttempt, err = parseNullTime(lastAttempt); err != nil {
			return nil, err
		}
		if s.LastSuccessfulCollect, err = parseNullTime(lastSuccessful); err != nil {
			return nil, err
		}
		states = append(states, s)
	}
	return states, rows.Err()
}

// MarkAttempt records that a collection run touched the ticker, before the
// outcome is known.
func (r *StateRepository) MarkAttempt(ctx context.Context, ticker string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO collection_state (ticker, last_collection_attempt)
		VALUES (?, ?)
		ON CONFLICT (ticker) DO UPDATE SET last_collection_attempt = excluded.last_collection_attempt`,
		ticker, at.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("mark collection attempt for %s: %w", ticker, err)
	}
	return nil
}

// Outcome carries the deltas a successful collection applies to the state row.
type Outcome struct {
	LastPriceDate       string // "" keeps the current value
	LastTradingFlowDate string
	NewsCollected       bool
	PriceCount          int // absolute counts, re-read after the write
	FlowCount           int
	NewsCount           int
}

// MarkSuccess advances the watermarks and resets the failure streak.
func (r *StateRepository) MarkSuccess(ctx context.Context, ticker string, at time.Time, o Outcome) error {
	newsAt := sql.NullString{}
	if o.NewsCollected {
		newsAt = sql.NullString{String: at.UTC().Format(time.RFC3339), Valid: true}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO collection_state (
			ticker, last_price_date, last_trading_flow_date, last_news_collected_at,
			price_records_count, trading_flow_records_count, news_records_count,
			last_collection_attempt, last_successful_collection, consecutive_failures)
		VALUES (?, NULLIF(?, ''), NULLIF(?, ''), ?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT (ticker) DO UPDATE SET
			last_price_date = COALESCE(NULLIF(excluded.last_price_date, ''), collection_state.last_price_date),
			last_trading_flow_date = COALESCE(NULLIF(excluded.last_trading_flow_date, ''), collection_state.last_trading_flow_date),
			last_news_collected_at = COALESCE(excluded.last_news_collected_at, collection_state.last_news_collected_at),
			price_records_count = excluded.price_records_count,
			trading_flow_records_count = excluded.trading_flow_records_count,
			news_records_count = excluded.news_records_count,
			last_collection_attempt = excluded.last_collection_attempt,
			last_successful_collection = excluded.last_successful_collection,
			consecutive_failures = 0`,
		ticker, o.LastPriceDate, o.LastTradingFlowDate, newsAt,
		o.PriceCount, o.FlowCount, o.NewsCount,
		at.UTC().Format(time.RFC3339), at.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("mark collection success for %s: %w", ticker, err)
	}
	return nil
}

// MarkFailure bumps the consecutive-failure counter without touching the
// watermarks, so the next run retries the same gap.
func (r *StateRepository) MarkFailure(ctx context.Context, ticker string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO collection_state (ticker, last_collection_attempt, consecutive_failures)
		VALUES (?, ?, 1)
		ON CONFLICT (ticker) DO UPDATE SET
			last_collection_attempt = excluded.last_collection_attempt,
			consecutive_failures = collection_state.consecutive_failures + 1`,
		ticker, at.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("mark collection failure for %s: %w", ticker, err)
	}
	return nil
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return nil, fmt.Errorf("parse stored timestamp %q: %w", ns.String, err)
	}
	return &t, nil
}
