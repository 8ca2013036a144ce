// Package market owns persistence for the per-ticker market data: daily
// bars, investor flows, intraday ticks, fundamentals and the collection
// bookkeeping that drives gap-only ingestion.
package market

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/krxwatch/krxwatch/internal/database"
	"github.com/krxwatch/krxwatch/internal/domain"
)

// BarRepository persists daily OHLCV bars.
type BarRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewBarRepository creates a new bar repository.
func NewBarRepository(db *sql.DB, log zerolog.Logger) *BarRepository {
	return &BarRepository{
		db:  db,
		log: log.With().Str("repository", "bars").Logger(),
	}
}

// UpsertBars writes a batch of bars in one transaction and recomputes
// daily_change_pct against the prior persisted close, so re-collection of an
// overlapping window is idempotent and change percentages stay consistent
// with the full stored history rather than the request window.
func (r *BarRepository) UpsertBars(ctx context.Context, bars []domain.DailyBar) error {
	if len(bars) == 0 {
		return nil
	}

	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO daily_bars (ticker, date, open, high, low, close, volume)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (ticker, date) DO UPDATE SET
				open = excluded.open,
				high = excluded.high,
				low = excluded.low,
				close = excluded.close,
				volume = excluded.volume`)
		if err != nil {
			return fmt.Errorf("prepare bar upsert: %w", err)
		}
		defer stmt.Close()

		minDate := bars[0].Date
		ticker := bars[0].Ticker
		for _, b := range bars {
			if b.Ticker != ticker {
				return fmt.Errorf("mixed tickers in bar batch: %s and %s", ticker, b.Ticker)
			}
			if _, err := stmt.ExecContext(ctx, b.Ticker, b.Date, b.Open, b.High, b.Low, b.Close, b.Volume); err != nil {
				return fmt.Errorf("upsert bar %s %s: %w", b.Ticker, b.Date, err)
			}
			if b.Date < minDate {
				minDate = b.Date
			}
		}

		// Recompute change pct for every row from the earliest touched date
		// onward. The earliest persisted row has no predecessor and stays NULL.
		_, err = tx.ExecContext(ctx, `
			UPDATE daily_bars SET daily_change_pct = (
				SELECT CASE WHEN prev.close > 0
					THEN (daily_bars.close / prev.close - 1.0) * 100.0
					ELSE NULL END
				FROM daily_bars AS prev
				WHERE prev.ticker = daily_bars.ticker
				  AND prev.date < daily_bars.date
				ORDER BY prev.date DESC
				LIMIT 1
			)
			WHERE ticker = ? AND date >= ?`, ticker, minDate)
		if err != nil {
			return fmt.Errorf("recompute change pct: %w", err)
		}

		return nil
	})
}

const barColumns = `ticker, date, open, high, low, close, volume, daily_change_pct`

// GetBars returns bars for a ticker within [from, to], ascending by date.
// Empty bounds are open-ended.
func (r *BarRepository) GetBars(ctx context.Context, ticker, from, to string) ([]domain.DailyBar, error) {
	query := `SELECT ` + barColumns + ` FROM daily_bars WHERE ticker = ?`
	args := []interface{}{ticker}
	if from != "" {
		query += ` AND date >= ?`
		args = append(args, from)
	}
	if to != "" {
		query += ` AND date <= ?`
		args = append(args, to)
	}
	query += ` ORDER BY date ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query bars for %s: %w", ticker, err)
	}
	defer rows.Close()

	var bars []domain.DailyBar
	for rows.Next() {
		var b domain.DailyBar
		if err := rows.Scan(&b.Ticker, &b.Date, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &b.DailyChangePct); err != nil {
			return nil, fmt.Errorf("scan bar: %w", err)
		}
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// GetLatestBar returns the most recent bar for a ticker, or NotFound.
func (r *BarRepository) GetLatestBar(ctx context.Context, ticker string) (*domain.DailyBar, error) {
	var b domain.DailyBar
	err := r.db.QueryRowContext(ctx, `
		SELECT `+barColumns+` FROM daily_bars
		WHERE ticker = ? ORDER BY date DESC LIMIT 1`, ticker).
		Scan(&b.Ticker, &b.Date, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &b.DailyChangePct)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFoundf("no price data for %s", ticker)
	}
	if err != nil {
		return nil, fmt.Errorf("query latest bar for %s: %w", ticker, err)
	}
	return &b, nil
}

// LatestDate returns the most recent bar date for a ticker, or "" when the
// ticker has no bars.
func (r *BarRepository) LatestDate(ctx context.Context, ticker string) (string, error) {
	var date sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT MAX(date) FROM daily_bars WHERE ticker = ?`, ticker).Scan(&date)
	if err != nil {
		return "", fmt.Errorf("query latest bar date for %s: %w", ticker, err)
	}
	return date.String, nil
}

// Count returns the number of persisted bars for a ticker.
func (r *BarRepository) Count(ctx context.Context, ticker string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM daily_bars WHERE ticker = ?`, ticker).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count bars for %s: %w", ticker, err)
	}
	return n, nil
}
