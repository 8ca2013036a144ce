// Package screener queries the full ticker catalog: filtered, sorted and
// paginated scans over snapshot columns, sector themes, and the named
// recommendation presets. It also owns the catalog refresh and snapshot
// collection jobs.
package screener

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/krxwatch/krxwatch/internal/database"
	"github.com/krxwatch/krxwatch/internal/domain"
)

// Repository persists the ticker catalog and its screener snapshot columns.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new catalog repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "catalog").Logger(),
	}
}

// UpsertEntries writes catalog identity rows in one transaction. Snapshot
// columns of existing rows are preserved; the snapshot job owns those.
func (r *Repository) UpsertEntries(ctx context.Context, entries []domain.CatalogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO ticker_catalog (ticker, name, type, market, sector, listed_date, last_updated, is_active)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (ticker) DO UPDATE SET
				name = excluded.name,
				type = excluded.type,
				market = excluded.market,
				sector = excluded.sector,
				listed_date = COALESCE(excluded.listed_date, ticker_catalog.listed_date),
				last_updated = excluded.last_updated,
				is_active = excluded.is_active`)
		if err != nil {
			return fmt.Errorf("prepare catalog upsert: %w", err)
		}
		defer stmt.Close()

		now := time.Now().UTC().Format(time.RFC3339)
		for _, e := range entries {
			active := 0
			if e.IsActive {
				active = 1
			}
			if _, err := stmt.ExecContext(ctx, e.Ticker, e.Name, string(e.Type), e.Market, e.Sector, e.ListedDate, now, active); err != nil {
				return fmt.Errorf("upsert catalog entry %s: %w", e.Ticker, err)
			}
		}
		return nil
	})
}

// Snapshot carries the screener snapshot columns for one catalog row.
type Snapshot struct {
	ClosePrice       *float64
	DailyChangePct   *float64
	Volume           *int64
	WeeklyReturn     *float64
	ForeignNet       *int64
	InstitutionalNet *int64
}

// UpdateSnapshot writes the snapshot columns for one ticker and stamps
// catalog_updated_at. A ticker missing from the catalog is NotFound.
func (r *Repository) UpdateSnapshot(ctx context.Context, ticker string, snap Snapshot) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE ticker_catalog SET
			close_price = ?,
			daily_change_pct = ?,
			volume = ?,
			weekly_return = ?,
			foreign_net = ?,
			institutional_net = ?,
			catalog_updated_at = ?
		WHERE ticker = ?`,
		snap.ClosePrice, snap.DailyChangePct, snap.Volume, snap.WeeklyReturn,
		snap.ForeignNet, snap.InstitutionalNet,
		time.Now().UTC().Format(time.RFC3339), ticker)
	if err != nil {
		return fmt.Errorf("update snapshot for %s: %w", ticker, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NotFoundf("ticker %s not in catalog", ticker)
	}
	return nil
}

const catalogColumns = `ticker, name, type, market, sector, listed_date, last_updated, is_active,
	close_price, daily_change_pct, volume, weekly_return, foreign_net, institutional_net, catalog_updated_at`

func scanEntry(scan func(dest ...interface{}) error) (domain.CatalogEntry, error) {
	var (
		e          domain.CatalogEntry
		tickerType string
		listed     sql.NullString
		updated    sql.NullString
		snapAt     sql.NullString
		active     int
	)
	err := scan(&e.Ticker, &e.Name, &tickerType, &e.Market, &e.Sector, &listed, &updated, &active,
		&e.ClosePrice, &e.DailyChangePct, &e.Volume, &e.WeeklyReturn, &e.ForeignNet, &e.InstitutionalNet, &snapAt)
	if err != nil {
		return e, err
	}
	e.Type = domain.TickerType(tickerType)
	e.IsActive = active != 0
	if listed.Valid {
		e.ListedDate = &listed.String
	}
	if updated.Valid {
		if t, err := time.Parse(time.RFC3339, updated.String); err == nil {
			e.LastUpdated = &t
		}
	}
	if snapAt.Valid {
		if t, err := time.Parse(time.RFC3339, snapAt.String); err == nil {
			e.CatalogUpdatedAt = &t
		}
	}
	return e, nil
}

// Search matches active entries whose name or ticker contains the query,
// for autocomplete. An empty type matches both.
func (r *Repository) Search(ctx context.Context, query string, tickerType domain.TickerType, limit int) ([]domain.CatalogEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	sqlQuery := `SELECT ` + catalogColumns + ` FROM ticker_catalog
		WHERE is_active = 1 AND (name LIKE '%' || ? || '%' OR ticker LIKE '%' || ? || '%')`
	args := []interface{}{query, query}
	if tickerType != "" {
		sqlQuery += ` AND type = ?`
		args = append(args, string(tickerType))
	}
	sqlQuery += ` ORDER BY name ASC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("search catalog: %w", err)
	}
	defer rows.Close()
	return collectEntries(rows)
}

// QueryRequest is a screener scan over the snapshot columns.
type QueryRequest struct {
	Query                 string
	Type                  domain.TickerType
	Sector                string
	MinWeeklyReturn       *float64
	MaxWeeklyReturn       *float64
	ForeignNetPositive    bool
	InstitutionalPositive bool
	SortBy                string
	SortOrder             string
	Page                  int
	PageSize              int
}

// QueryResult is one page of screener results.
type QueryResult struct {
	Entries  []domain.CatalogEntry `json:"entries"`
	Total    int                   `json:"total"`
	Page     int                   `json:"page"`
	PageSize int                   `json:"page_size"`
}

const (
	defaultPageSize = 20
	maxPageSize     = 50
)

// sortColumns whitelists the screener sort keys.
var sortColumns = map[string]string{
	"weekly_return":     "weekly_return",
	"daily_change_pct":  "daily_change_pct",
	"volume":            "volume",
	"close_price":       "close_price",
	"foreign_net":       "foreign_net",
	"institutional_net": "institutional_net",
	"name":              "name",
}

// Query runs a filtered, sorted, paginated catalog scan.
func (r *Repository) Query(ctx context.Context, req QueryRequest) (*QueryResult, error) {
	if req.Page <= 0 {
		req.Page = 1
	}
	if req.PageSize == 0 {
		req.PageSize = defaultPageSize
	}
	if req.PageSize < 1 || req.PageSize > maxPageSize {
		return nil, domain.Validationf("page_size must be in [1,%d]", maxPageSize)
	}

	column := "weekly_return"
	if req.SortBy != "" {
		c, ok := sortColumns[req.SortBy]
		if !ok {
			return nil, domain.Validationf("invalid sort_by %q", req.SortBy)
		}
		column = c
	}
	direction := "DESC"
	switch strings.ToLower(req.SortOrder) {
	case "", "desc":
	case "asc":
		direction = "ASC"
	default:
		return nil, domain.Validationf("sort_order must be asc or desc")
	}

	where := []string{"is_active = 1"}
	var args []interface{}
	if req.Query != "" {
		where = append(where, "(name LIKE '%' || ? || '%' OR ticker LIKE '%' || ? || '%')")
		args = append(args, req.Query, req.Query)
	}
	if req.Type != "" {
		where = append(where, "type = ?")
		args = append(args, string(req.Type))
	}
	if req.Sector != "" {
		where = append(where, "sector = ?")
		args = append(args, req.Sector)
	}
	if req.MinWeeklyReturn != nil {
		where = append(where, "weekly_return >= ?")
		args = append(args, *req.MinWeeklyReturn)
	}
	if req.MaxWeeklyReturn != nil {
		where = append(where, "weekly_return <= ?")
		args = append(args, *req.MaxWeeklyReturn)
	}
	if req.ForeignNetPositive {
		where = append(where, "foreign_net > 0")
	}
	if req.InstitutionalPositive {
		where = append(where, "institutional_net > 0")
	}
	clause := strings.Join(where, " AND ")

	var total int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ticker_catalog WHERE `+clause, args...).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count catalog query: %w", err)
	}

	// NULLs last regardless of direction so unsnapshotted rows sink.
	query := fmt.Sprintf(`SELECT %s FROM ticker_catalog WHERE %s
		ORDER BY %s IS NULL, %s %s, ticker ASC LIMIT ? OFFSET ?`,
		catalogColumns, clause, column, column, direction)
	args = append(args, req.PageSize, (req.Page-1)*req.PageSize)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query catalog: %w", err)
	}
	defer rows.Close()

	entries, err := collectEntries(rows)
	if err != nil {
		return nil, err
	}
	return &QueryResult{
		Entries:  entries,
		Total:    total,
		Page:     req.Page,
		PageSize: req.PageSize,
	}, nil
}

// ActiveTickers lists active catalog tickers, the snapshot job's work list.
func (r *Repository) ActiveTickers(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT ticker FROM ticker_catalog WHERE is_active = 1 ORDER BY ticker ASC`)
	if err != nil {
		return nil, fmt.Errorf("query active tickers: %w", err)
	}
	defer rows.Close()

	var tickers []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scan ticker: %w", err)
		}
		tickers = append(tickers, t)
	}
	return tickers, rows.Err()
}

// SectorTheme aggregates one sector's snapshot rows.
type SectorTheme struct {
	Sector          string                `json:"sector"`
	Count           int                   `json:"count"`
	AvgWeeklyReturn *float64              `json:"avg_weekly_return"`
	Top             []domain.CatalogEntry `json:"top"`
}

// Themes groups active entries by sector with count, average weekly return
// and the top 3 performers per sector, best sectors first.
func (r *Repository) Themes(ctx context.Context) ([]SectorTheme, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT sector, COUNT(*), AVG(weekly_return)
		FROM ticker_catalog
		WHERE is_active = 1 AND sector != ''
		GROUP BY sector
		ORDER BY AVG(weekly_return) DESC`)
	if err != nil {
		return nil, fmt.Errorf("query sector themes: %w", err)
	}
	defer rows.Close()

	var themes []SectorTheme
	for rows.Next() {
		var (
			t   SectorTheme
			avg sql.NullFloat64
		)
		if err := rows.Scan(&t.Sector, &t.Count, &avg); err != nil {
			return nil, fmt.Errorf("scan sector theme: %w", err)
		}
		if avg.Valid {
			t.AvgWeeklyReturn = &avg.Float64
		}
		themes = append(themes, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range themes {
		top, err := r.topInSector(ctx, themes[i].Sector, 3)
		if err != nil {
			return nil, err
		}
		themes[i].Top = top
	}
	return themes, nil
}

func (r *Repository) topInSector(ctx context.Context, sector string, limit int) ([]domain.CatalogEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+catalogColumns+` FROM ticker_catalog
		WHERE is_active = 1 AND sector = ? AND weekly_return IS NOT NULL
		ORDER BY weekly_return DESC LIMIT ?`, sector, limit)
	if err != nil {
		return nil, fmt.Errorf("query top in sector %s: %w", sector, err)
	}
	defer rows.Close()
	return collectEntries(rows)
}

// Count returns the number of catalog rows.
func (r *Repository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ticker_catalog`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count catalog: %w", err)
	}
	return n, nil
}

func collectEntries(rows *sql.Rows) ([]domain.CatalogEntry, error) {
	var entries []domain.CatalogEntry
	for rows.Next() {
		e, err := scanEntry(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan catalog entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
