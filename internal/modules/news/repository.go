// Package news persists per-ticker articles and derives aggregated
// sentiment/keyword analysis over a date window.
package news

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/krxwatch/krxwatch/internal/database"
	"github.com/krxwatch/krxwatch/internal/domain"
)

// Repository persists news items, deduplicated by (ticker, url).
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new news repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "news").Logger(),
	}
}

// UpsertItems writes a batch of articles in one transaction. A re-collected
// URL refreshes its score and tags instead of duplicating the row.
func (r *Repository) UpsertItems(ctx context.Context, items []domain.NewsItem) error {
	if len(items) == 0 {
		return nil
	}

	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO news_items (ticker, date, title, url, source, relevance_score, sentiment, tags)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (ticker, url) DO UPDATE SET
				date = excluded.date,
				title = excluded.title,
				source = excluded.source,
				relevance_score = excluded.relevance_score,
				sentiment = excluded.sentiment,
				tags = excluded.tags`)
		if err != nil {
			return fmt.Errorf("prepare news upsert: %w", err)
		}
		defer stmt.Close()

		for _, item := range items {
			tags, err := json.Marshal(item.Tags)
			if err != nil {
				return fmt.Errorf("encode tags: %w", err)
			}
			sentiment := sql.NullString{String: string(item.Sentiment), Valid: item.Sentiment != ""}
			if _, err := stmt.ExecContext(ctx,
				item.Ticker, item.Date, item.Title, item.URL, item.Source,
				item.RelevanceScore, sentiment, string(tags)); err != nil {
				return fmt.Errorf("upsert news %s %s: %w", item.Ticker, item.URL, err)
			}
		}
		return nil
	})
}

// GetItems returns articles for a ticker within [from, to], newest first.
func (r *Repository) GetItems(ctx context.Context, ticker, from, to string, limit int) ([]domain.NewsItem, error) {
	query := `SELECT ticker, date, title, url, source, relevance_score, sentiment, tags
		FROM news_items WHERE ticker = ?`
	args := []interface{}{ticker}
	if from != "" {
		query += ` AND date >= ?`
		args = append(args, from)
	}
	if to != "" {
		query += ` AND date <= ?`
		args = append(args, to)
	}
	query += ` ORDER BY date DESC, relevance_score DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query news for %s: %w", ticker, err)
	}
	defer rows.Close()

	var items []domain.NewsItem
	for rows.Next() {
		var (
			item      domain.NewsItem
			sentiment sql.NullString
			tags      string
		)
		if err := rows.Scan(&item.Ticker, &item.Date, &item.Title, &item.URL,
			&item.Source, &item.RelevanceScore, &sentiment, &tags); err != nil {
			return nil, fmt.Errorf("scan news item: %w", err)
		}
		item.Sentiment = domain.NewsSentiment(sentiment.String)
		if err := json.Unmarshal([]byte(tags), &item.Tags); err != nil {
			return nil, fmt.Errorf("decode tags: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Count returns the number of stored articles for a ticker.
func (r *Repository) Count(ctx context.Context, ticker string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM news_items WHERE ticker = ?`, ticker).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count news for %s: %w", ticker, err)
	}
	return n, nil
}
