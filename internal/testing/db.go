// Package testutil provides shared test fixtures.
package testutil

import (
	"path/filepath"
	"testing"

	"github.com/krxwatch/krxwatch/internal/database"
)

// NewTestDB opens a temp-file SQLite database with the full schema applied.
// The file lives under t.TempDir() and is removed with it.
func NewTestDB(t *testing.T) *database.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	db, err := database.New(database.Config{Path: path})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to apply schema: %v", err)
	}

	return db
}

// SeedTicker inserts a minimal watchlist row so FK-constrained tables accept data.
func SeedTicker(t *testing.T, db *database.DB, ticker, name, tickerType string) {
	t.Helper()

	_, err := db.Conn().Exec(
		`INSERT INTO tickers (ticker, name, type) VALUES (?, ?, ?)`,
		ticker, name, tickerType,
	)
	if err != nil {
		t.Fatalf("failed to seed ticker %s: %v", ticker, err)
	}
}
