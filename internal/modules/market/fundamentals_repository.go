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

// FundamentalsRepository persists stock/ETF fundamentals and ETF holdings.
type FundamentalsRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewFundamentalsRepository creates a new fundamentals repository.
func NewFundamentalsRepository(db *sql.DB, log zerolog.Logger) *FundamentalsRepository {
	return &FundamentalsRepository{
		db:  db,
		log: log.With().Str("repository", "fundamentals").Logger(),
	}
}

// UpsertStockFundamentals writes one per-date snapshot of valuation ratios.
func (r *FundamentalsRepository) UpsertStockFundamentals(ctx context.Context, f *domain.StockFundamentals) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO stock_fundamentals (ticker, date, per, pbr, roe, eps, bps)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (ticker, date) DO UPDATE SET
			per = excluded.per, pbr = excluded.pbr, roe = excluded.roe,
			eps = excluded.eps, bps = excluded.bps`,
		f.Ticker, f.Date, f.PER, f.PBR, f.ROE, f.EPS, f.BPS)
	if err != nil {
		return fmt.Errorf("upsert stock fundamentals %s %s: %w", f.Ticker, f.Date, err)
	}
	return nil
}

// GetLatestStockFundamentals returns the most recent snapshot, or NotFound.
func (r *FundamentalsRepository) GetLatestStockFundamentals(ctx context.Context, ticker string) (*domain.StockFundamentals, error) {
	var f domain.StockFundamentals
	err := r.db.QueryRowContext(ctx, `
		SELECT ticker, date, per, pbr, roe, eps, bps FROM stock_fundamentals
		WHERE ticker = ? ORDER BY date DESC LIMIT 1`, ticker).
		Scan(&f.Ticker, &f.Date, &f.PER, &f.PBR, &f.ROE, &f.EPS, &f.BPS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFoundf("no fundamentals for %s", ticker)
	}
	if err != nil {
		return nil, fmt.Errorf("query stock fundamentals for %s: %w", ticker, err)
	}
	return &f, nil
}

// UpsertEtfFundamentals writes one per-date NAV snapshot.
func (r *FundamentalsRepository) UpsertEtfFundamentals(ctx context.Context, f *domain.EtfFundamentals) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO etf_fundamentals (ticker, date, nav, expense_ratio)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (ticker, date) DO UPDATE SET
			nav = excluded.nav, expense_ratio = excluded.expense_ratio`,
		f.Ticker, f.Date, f.NAV, f.ExpenseRatio)
	if err != nil {
		return fmt.Errorf("upsert etf fundamentals %s %s: %w", f.Ticker, f.Date, err)
	}
	return nil
}

// GetLatestEtfFundamentals returns the most recent NAV snapshot, or NotFound.
func (r *FundamentalsRepository) GetLatestEtfFundamentals(ctx context.Context, ticker string) (*domain.EtfFundamentals, error) {
	var f domain.EtfFundamentals
	err := r.db.QueryRowContext(ctx, `
		SELECT ticker, date, nav, expense_ratio FROM etf_fundamentals
		WHERE ticker = ? ORDER BY date DESC LIMIT 1`, ticker).
		Scan(&f.Ticker, &f.Date, &f.NAV, &f.ExpenseRatio)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFoundf("no fundamentals for %s", ticker)
	}
	if err != nil {
		return nil, fmt.Errorf("query etf fundamentals for %s: %w", ticker, err)
	}
	return &f, nil
}

// ReplaceEtfHoldings replaces the holdings snapshot for (ticker, date) in one
// transaction. Constituents dropped by the fund disappear with the old rows.
func (r *FundamentalsRepository) ReplaceEtfHoldings(ctx context.Context, ticker, date string, holdings []domain.EtfHolding) error {
	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM etf_holdings WHERE ticker = ? AND date = ?`, ticker, date); err != nil {
			return fmt.Errorf("clear holdings %s %s: %w", ticker, date, err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO etf_holdings (ticker, date, constituent_ticker, name, weight)
			VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare holdings insert: %w", err)
		}
		defer stmt.Close()

		for _, h := range holdings {
			if _, err := stmt.ExecContext(ctx, ticker, date, h.ConstituentTicker, h.Name, h.Weight); err != nil {
				return fmt.Errorf("insert holding %s/%s: %w", ticker, h.ConstituentTicker, err)
			}
		}
		return nil
	})
}

// GetLatestEtfHoldings returns the most recent holdings snapshot, descending
// by weight. An ETF with no snapshots returns an empty slice.
func (r *FundamentalsRepository) GetLatestEtfHoldings(ctx context.Context, ticker string) ([]domain.EtfHolding, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT ticker, date, constituent_ticker, name, weight FROM etf_holdings
		WHERE ticker = ? AND date = (SELECT MAX(date) FROM etf_holdings WHERE ticker = ?)
		ORDER BY weight DESC`, ticker, ticker)
	if err != nil {
		return nil, fmt.Errorf("query holdings for %s: %w", ticker, err)
	}
	defer rows.Close()

	var holdings []domain.EtfHolding
	for rows.Next() {
		var h domain.EtfHolding
		if err := rows.Scan(&h.Ticker, &h.Date, &h.ConstituentTicker, &h.Name, &h.Weight); err != nil {
			return nil, fmt.Errorf("scan holding: %w", err)
		}
		holdings = append(holdings, h)
	}
	return holdings, rows.Err()
}
