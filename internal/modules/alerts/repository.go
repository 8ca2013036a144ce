// Package alerts owns user alert rules and their trigger history. Rules are
// CRUD-managed; evaluation is recorded on trigger by the caller rather than
// run continuously server-side.
package alerts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/krxwatch/krxwatch/internal/domain"
)

// Repository persists alert rules and history.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new alert repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "alerts").Logger(),
	}
}

const ruleColumns = `id, ticker, alert_type, direction, target_price, memo, is_active, created_at, last_triggered_at`

func scanRule(scan func(dest ...interface{}) error) (domain.AlertRule, error) {
	var (
		r         domain.AlertRule
		alertType string
		direction string
		active    int
		created   string
		triggered sql.NullString
	)
	err := scan(&r.ID, &r.Ticker, &alertType, &direction, &r.TargetPrice, &r.Memo, &active, &created, &triggered)
	if err != nil {
		return r, err
	}
	r.AlertType = domain.AlertType(alertType)
	r.Direction = domain.AlertDirection(direction)
	r.IsActive = active != 0
	if t, err := time.Parse(time.RFC3339, created); err == nil {
		r.CreatedAt = t
	}
	if triggered.Valid {
		if t, err := time.Parse(time.RFC3339, triggered.String); err == nil {
			r.LastTriggeredAt = &t
		}
	}
	return r, nil
}

// ListRules returns a ticker's rules, newest first. activeOnly filters to
// enabled rules.
func (r *Repository) ListRules(ctx context.Context, ticker string, activeOnly bool) ([]domain.AlertRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM alert_rules WHERE ticker = ?`
	if activeOnly {
		query += ` AND is_active = 1`
	}
	query += ` ORDER BY created_at DESC, id`

	rows, err := r.db.QueryContext(ctx, query, ticker)
	if err != nil {
		return nil, fmt.Errorf("query rules for %s: %w", ticker, err)
	}
	defer rows.Close()

	var rules []domain.AlertRule
	for rows.Next() {
		rule, err := scanRule(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// GetRule returns one rule by id, or NotFound.
func (r *Repository) GetRule(ctx context.Context, id string) (*domain.AlertRule, error) {
	rule, err := scanRule(r.db.QueryRowContext(ctx,
		`SELECT `+ruleColumns+` FROM alert_rules WHERE id = ?`, id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFoundf("alert rule %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("query rule %s: %w", id, err)
	}
	return &rule, nil
}

// CreateRule validates and inserts a rule, assigning id and created_at.
func (r *Repository) CreateRule(ctx context.Context, rule *domain.AlertRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}

	rule.ID = uuid.NewString()
	rule.CreatedAt = time.Now().UTC()
	active := 0
	if rule.IsActive {
		active = 1
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO alert_rules (id, ticker, alert_type, direction, target_price, memo, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rule.ID, rule.Ticker, string(rule.AlertType), string(rule.Direction),
		rule.TargetPrice, rule.Memo, active, rule.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("insert rule: %w", err)
	}

	r.log.Info().Str("rule_id", rule.ID).Str("ticker", rule.Ticker).Msg("Alert rule created")
	return nil
}

// UpdateRule validates and overwrites a rule's mutable fields.
func (r *Repository) UpdateRule(ctx context.Context, rule *domain.AlertRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}

	active := 0
	if rule.IsActive {
		active = 1
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE alert_rules SET
			alert_type = ?, direction = ?, target_price = ?, memo = ?, is_active = ?
		WHERE id = ?`,
		string(rule.AlertType), string(rule.Direction), rule.TargetPrice, rule.Memo, active, rule.ID)
	if err != nil {
		return fmt.Errorf("update rule %s: %w", rule.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NotFoundf("alert rule %s not found", rule.ID)
	}
	return nil
}

// DeleteRule removes a rule; its history rows cascade away.
func (r *Repository) DeleteRule(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM alert_rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete rule %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NotFoundf("alert rule %s not found", id)
	}
	return nil
}

// TouchTriggered advances a rule's last_triggered_at.
func (r *Repository) TouchTriggered(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE alert_rules SET last_triggered_at = ? WHERE id = ?`,
		at.UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("touch rule %s: %w", id, err)
	}
	return nil
}

// AppendHistory records one trigger.
func (r *Repository) AppendHistory(ctx context.Context, h *domain.AlertHistory) error {
	h.ID = uuid.NewString()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO alert_history (id, rule_id, ticker, alert_type, message, triggered_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		h.ID, h.RuleID, h.Ticker, string(h.AlertType), h.Message,
		h.TriggeredAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// History returns a ticker's trigger history, newest first.
func (r *Repository) History(ctx context.Context, ticker string, limit int) ([]domain.AlertHistory, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, rule_id, ticker, alert_type, message, triggered_at
		FROM alert_history WHERE ticker = ?
		ORDER BY triggered_at DESC, id LIMIT ?`, ticker, limit)
	if err != nil {
		return nil, fmt.Errorf("query history for %s: %w", ticker, err)
	}
	defer rows.Close()

	var items []domain.AlertHistory
	for rows.Next() {
		var (
			h         domain.AlertHistory
			alertType string
			triggered string
		)
		if err := rows.Scan(&h.ID, &h.RuleID, &h.Ticker, &alertType, &h.Message, &triggered); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		h.AlertType = domain.AlertType(alertType)
		if t, err := time.Parse(time.RFC3339, triggered); err == nil {
			h.TriggeredAt = t
		}
		items = append(items, h)
	}
	return items, rows.Err()
}

// RecentDuplicate reports whether the same (rule_id, message) was recorded
// within the window ending at now.
func (r *Repository) RecentDuplicate(ctx context.Context, ruleID, message string, now time.Time, window time.Duration) (bool, error) {
	since := now.Add(-window).UTC().Format(time.RFC3339)
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM alert_history
		WHERE rule_id = ? AND message = ? AND triggered_at >= ?`,
		ruleID, message, since).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check duplicate trigger: %w", err)
	}
	return n > 0, nil
}
