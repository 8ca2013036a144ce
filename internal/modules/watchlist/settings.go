package watchlist

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"
)

// SettingsRepository is a small key/value store for integration secrets and
// other persisted settings.
type SettingsRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewSettingsRepository creates a new settings repository.
func NewSettingsRepository(db *sql.DB, log zerolog.Logger) *SettingsRepository {
	return &SettingsRepository{
		db:  db,
		log: log.With().Str("repository", "settings").Logger(),
	}
}

// apiKeyNames are the integration secrets exposed on the settings surface.
var apiKeyNames = []string{"openai_api_key", "telegram_bot_token", "telegram_chat_id"}

// GetAPIKeys returns the stored integration secrets. Unset keys read as "".
func (r *SettingsRepository) GetAPIKeys(ctx context.Context) (map[string]string, error) {
	out := make(map[string]string, len(apiKeyNames))
	for _, name := range apiKeyNames {
		out[name] = ""
	}

	rows, err := r.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, fmt.Errorf("query settings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		if _, known := out[key]; known {
			out[key] = value
		}
	}
	return out, rows.Err()
}

// SetAPIKeys upserts the provided secrets; unknown keys are ignored.
func (r *SettingsRepository) SetAPIKeys(ctx context.Context, keys map[string]string) error {
	for _, name := range apiKeyNames {
		value, ok := keys[name]
		if !ok {
			continue
		}
		if _, err := r.db.ExecContext(ctx, `
			INSERT INTO settings (key, value) VALUES (?, ?)
			ON CONFLICT (key) DO UPDATE SET value = excluded.value`, name, value); err != nil {
			return fmt.Errorf("store setting %s: %w", name, err)
		}
		r.log.Debug().Str("key", name).Msg("Setting stored")
	}
	return nil
}
