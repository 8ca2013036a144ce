package market

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/krxwatch/krxwatch/internal/database"
	"github.com/krxwatch/krxwatch/internal/domain"
)

// FlowRepository persists daily investor trading flows.
type FlowRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewFlowRepository creates a new flow repository.
func NewFlowRepository(db *sql.DB, log zerolog.Logger) *FlowRepository {
	return &FlowRepository{
		db:  db,
		log: log.With().Str("repository", "flows").Logger(),
	}
}

// UpsertFlows writes a batch of flow rows in one transaction.
func (r *FlowRepository) UpsertFlows(ctx context.Context, flows []domain.TradingFlow) error {
	if len(flows) == 0 {
		return nil
	}

	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO trading_flows (ticker, date, individual_net, institutional_net, foreign_net)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (ticker, date) DO UPDATE SET
				individual_net = excluded.individual_net,
				institutional_net = excluded.institutional_net,
				foreign_net = excluded.foreign_net`)
		if err != nil {
			return fmt.Errorf("prepare flow upsert: %w", err)
		}
		defer stmt.Close()

		for _, f := range flows {
			if _, err := stmt.ExecContext(ctx, f.Ticker, f.Date, f.IndividualNet, f.InstitutionalNet, f.ForeignNet); err != nil {
				return fmt.Errorf("upsert flow %s %s: %w", f.Ticker, f.Date, err)
			}
		}
		return nil
	})
}

// GetFlows returns flows for a ticker within [from, to], ascending by date.
func (r *FlowRepository) GetFlows(ctx context.Context, ticker, from, to string) ([]domain.TradingFlow, error) {
	query := `SELECT ticker, date, individual_net, institutional_net, foreign_net
		FROM trading_flows WHERE ticker = ?`
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
		return nil, fmt.Errorf("query flows for %s: %w", ticker, err)
	}
	defer rows.Close()

	var flows []domain.TradingFlow
	for rows.Next() {
		var f domain.TradingFlow
		if err := rows.Scan(&f.Ticker, &f.Date, &f.IndividualNet, &f.InstitutionalNet, &f.ForeignNet); err != nil {
			return nil, fmt.Errorf("scan flow: %w", err)
		}
		flows = append(flows, f)
	}
	return flows, rows.Err()
}

// LatestDate returns the most recent flow date for a ticker, or "".
func (r *FlowRepository) LatestDate(ctx context.Context, ticker string) (string, error) {
	var date sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT MAX(date) FROM trading_flows WHERE ticker = ?`, ticker).Scan(&date)
	if err != nil {
		return "", fmt.Errorf("query latest flow date for %s: %w", ticker, err)
	}
	return date.String, nil
}

// Count returns the number of persisted flow rows for a ticker.
func (r *FlowRepository) Count(ctx context.Context, ticker string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM trading_flows WHERE ticker = ?`, ticker).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count flows for %s: %w", ticker, err)
	}
	return n, nil
}
