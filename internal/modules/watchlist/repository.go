// Package watchlist manages the curated set of registered tickers and the
// stored integration settings.
package watchlist

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/krxwatch/krxwatch/internal/database"
	"github.com/krxwatch/krxwatch/internal/domain"
)

// Repository persists registered tickers. Deleting a ticker cascades to all
// of its market data through foreign keys.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new watchlist repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "watchlist").Logger(),
	}
}

const tickerColumns = `ticker, name, type, theme, launch_date, expense_ratio,
	purchase_date, purchase_price, quantity, search_keyword, relevance_keywords, sort_order`

// List returns all registered tickers ordered by sort_order.
func (r *Repository) List(ctx context.Context) ([]domain.Ticker, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+tickerColumns+` FROM tickers ORDER BY sort_order, ticker`)
	if err != nil {
		return nil, fmt.Errorf("query watchlist: %w", err)
	}
	defer rows.Close()

	var tickers []domain.Ticker
	for rows.Next() {
		t, err := scanTicker(rows.Scan)
		if err != nil {
			return nil, err
		}
		tickers = append(tickers, *t)
	}
	return tickers, rows.Err()
}

// Get returns one registered ticker, or NotFound.
func (r *Repository) Get(ctx context.Context, ticker string) (*domain.Ticker, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+tickerColumns+` FROM tickers WHERE ticker = ?`, ticker)
	t, err := scanTicker(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFoundf("ticker %s is not registered", ticker)
	}
	return t, err
}

func scanTicker(scan func(...interface{}) error) (*domain.Ticker, error) {
	var (
		t        domain.Ticker
		keywords string
	)
	err := scan(&t.Ticker, &t.Name, &t.Type, &t.Theme, &t.LaunchDate, &t.ExpenseRatio,
		&t.PurchaseDate, &t.PurchasePrice, &t.Quantity, &t.SearchKeyword, &keywords, &t.SortOrder)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(keywords), &t.RelevanceKeywords); err != nil {
		return nil, fmt.Errorf("decode relevance keywords: %w", err)
	}
	return &t, nil
}

// Create registers a new ticker at the end of the sort order.
func (r *Repository) Create(ctx context.Context, t *domain.Ticker) error {
	keywords, err := json.Marshal(t.RelevanceKeywords)
	if err != nil {
		return fmt.Errorf("encode relevance keywords: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO tickers (ticker, name, type, theme, launch_date, expense_ratio,
			purchase_date, purchase_price, quantity, search_keyword, relevance_keywords, sort_order)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?,
			(SELECT COALESCE(MAX(sort_order), -1) + 1 FROM tickers))`,
		t.Ticker, t.Name, t.Type, t.Theme, t.LaunchDate, t.ExpenseRatio,
		t.PurchaseDate, t.PurchasePrice, t.Quantity, t.SearchKeyword, string(keywords))
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Validationf("ticker %s is already registered", t.Ticker)
		}
		return fmt.Errorf("insert ticker %s: %w", t.Ticker, err)
	}
	return nil
}

// Update rewrites a registered ticker's metadata. The key itself is immutable.
func (r *Repository) Update(ctx context.Context, t *domain.Ticker) error {
	keywords, err := json.Marshal(t.RelevanceKeywords)
	if err != nil {
		return fmt.Errorf("encode relevance keywords: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE tickers SET name = ?, type = ?, theme = ?, launch_date = ?, expense_ratio = ?,
			purchase_date = ?, purchase_price = ?, quantity = ?, search_keyword = ?, relevance_keywords = ?
		WHERE ticker = ?`,
		t.Name, t.Type, t.Theme, t.LaunchDate, t.ExpenseRatio,
		t.PurchaseDate, t.PurchasePrice, t.Quantity, t.SearchKeyword, string(keywords), t.Ticker)
	if err != nil {
		return fmt.Errorf("update ticker %s: %w", t.Ticker, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NotFoundf("ticker %s is not registered", t.Ticker)
	}
	return nil
}

// Delete removes a ticker; its market data goes with it via FK cascade.
func (r *Repository) Delete(ctx context.Context, ticker string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM tickers WHERE ticker = ?`, ticker)
	if err != nil {
		return fmt.Errorf("delete ticker %s: %w", ticker, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NotFoundf("ticker %s is not registered", ticker)
	}
	r.log.Info().Str("ticker", ticker).Msg("Ticker removed from watchlist")
	return nil
}

// Reorder rewrites sort_order to match the given ticker sequence. Every
// registered ticker must appear exactly once.
func (r *Repository) Reorder(ctx context.Context, order []string) error {
	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		var total int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM tickers`).Scan(&total); err != nil {
			return fmt.Errorf("count tickers: %w", err)
		}
		if total != len(order) {
			return domain.Validationf("reorder list must contain all %d registered tickers", total)
		}

		stmt, err := tx.PrepareContext(ctx, `UPDATE tickers SET sort_order = ? WHERE ticker = ?`)
		if err != nil {
			return fmt.Errorf("prepare reorder: %w", err)
		}
		defer stmt.Close()

		for i, ticker := range order {
			res, err := stmt.ExecContext(ctx, i, ticker)
			if err != nil {
				return fmt.Errorf("reorder %s: %w", ticker, err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return domain.Validationf("unknown ticker %s in reorder list", ticker)
			}
		}
		return nil
	})
}

// isUniqueViolation detects a primary-key conflict without tying the
// repository to driver-specific error types.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "constraint")
}
