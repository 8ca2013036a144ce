package market

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/krxwatch/krxwatch/internal/database"
	"github.com/krxwatch/krxwatch/internal/domain"
)

// IntradayRepository persists within-session tick samples.
type IntradayRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewIntradayRepository creates a new intraday repository.
func NewIntradayRepository(db *sql.DB, log zerolog.Logger) *IntradayRepository {
	return &IntradayRepository{
		db:  db,
		log: log.With().Str("repository", "intraday").Logger(),
	}
}

// UpsertTicks writes a batch of ticks in one transaction. Duplicate
// (ticker, datetime) samples overwrite in place.
func (r *IntradayRepository) UpsertTicks(ctx context.Context, ticks []domain.IntradayTick) error {
	if len(ticks) == 0 {
		return nil
	}

	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO intraday_ticks (ticker, datetime, price, change_amount, volume, bid_volume, ask_volume)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (ticker, datetime) DO UPDATE SET
				price = excluded.price,
				change_amount = excluded.change_amount,
				volume = excluded.volume,
				bid_volume = excluded.bid_volume,
				ask_volume = excluded.ask_volume`)
		if err != nil {
			return fmt.Errorf("prepare tick upsert: %w", err)
		}
		defer stmt.Close()

		for _, tk := range ticks {
			if _, err := stmt.ExecContext(ctx,
				tk.Ticker, tk.Datetime.Format(time.RFC3339),
				tk.Price, tk.ChangeAmount, tk.Volume, tk.BidVolume, tk.AskVolume); err != nil {
				return fmt.Errorf("upsert tick %s %s: %w", tk.Ticker, tk.Datetime, err)
			}
		}
		return nil
	})
}

// GetTicks returns ticks for a ticker on a given date (YYYY-MM-DD),
// ascending by datetime.
func (r *IntradayRepository) GetTicks(ctx context.Context, ticker, date string) ([]domain.IntradayTick, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT ticker, datetime, price, change_amount, volume, bid_volume, ask_volume
		FROM intraday_ticks
		WHERE ticker = ? AND datetime LIKE ? || '%'
		ORDER BY datetime ASC`, ticker, date)
	if err != nil {
		return nil, fmt.Errorf("query ticks for %s: %w", ticker, err)
	}
	defer rows.Close()

	var ticks []domain.IntradayTick
	for rows.Next() {
		var tk domain.IntradayTick
		var dt string
		if err := rows.Scan(&tk.Ticker, &dt, &tk.Price, &tk.ChangeAmount, &tk.Volume, &tk.BidVolume, &tk.AskVolume); err != nil {
			return nil, fmt.Errorf("scan tick: %w", err)
		}
		parsed, err := time.Parse(time.RFC3339, dt)
		if err != nil {
			return nil, fmt.Errorf("parse tick datetime %q: %w", dt, err)
		}
		tk.Datetime = parsed
		ticks = append(ticks, tk)
	}
	return ticks, rows.Err()
}

// DeleteOlderThan removes ticks before the given date, returning the number
// of deleted rows. The scheduler calls this to keep the tick table bounded.
func (r *IntradayRepository) DeleteOlderThan(ctx context.Context, date string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM intraday_ticks WHERE datetime < ?`, date)
	if err != nil {
		return 0, fmt.Errorf("delete old ticks: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		r.log.Info().Int64("deleted", n).Str("before", date).Msg("Pruned intraday ticks")
	}
	return n, nil
}
