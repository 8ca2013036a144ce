package alerts

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/krxwatch/krxwatch/internal/domain"
)

// duplicateWindow is the at-least-once delivery window: a repeated
// (rule_id, message) inside it is still recorded but flagged.
const duplicateWindow = 60 * time.Second

// Service records alert triggers and evaluates rule conditions.
type Service struct {
	repo *Repository
	log  zerolog.Logger

	now func() time.Time
}

// NewService creates the alerts service.
func NewService(repo *Repository, log zerolog.Logger) *Service {
	return &Service{
		repo: repo,
		log:  log.With().Str("service", "alerts").Logger(),
		now:  time.Now,
	}
}

// TriggerRequest is one client-reported alert firing.
type TriggerRequest struct {
	RuleID  string `json:"rule_id"`
	Message string `json:"message"`
}

// TriggerResult reports the recorded trigger; Duplicate marks a repeat of
// the same (rule_id, message) within the last 60 seconds.
type TriggerResult struct {
	History   *domain.AlertHistory `json:"history"`
	Duplicate bool                 `json:"duplicate"`
}

// Trigger appends a history row and advances the rule's last_triggered_at.
// Duplicates within the window are recorded as-is and flagged.
func (s *Service) Trigger(ctx context.Context, req TriggerRequest) (*TriggerResult, error) {
	if req.Message == "" {
		return nil, domain.Validationf("message is required")
	}
	rule, err := s.repo.GetRule(ctx, req.RuleID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	duplicate, err := s.repo.RecentDuplicate(ctx, rule.ID, req.Message, now, duplicateWindow)
	if err != nil {
		return nil, err
	}

	h := &domain.AlertHistory{
		RuleID:      rule.ID,
		Ticker:      rule.Ticker,
		AlertType:   rule.AlertType,
		Message:     req.Message,
		TriggeredAt: now,
	}
	if err := s.repo.AppendHistory(ctx, h); err != nil {
		return nil, err
	}
	if err := s.repo.TouchTriggered(ctx, rule.ID, now); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("rule_id", rule.ID).
		Str("ticker", rule.Ticker).
		Bool("duplicate", duplicate).
		Msg("Alert triggered")

	return &TriggerResult{History: h, Duplicate: duplicate}, nil
}

// Evaluate reports whether a rule's condition holds against the latest close,
// intraday change percent, and investor flow. Clients and a future
// server-side evaluator share these semantics:
//
//	buy + below:        close <= target_price
//	sell + above:       close >= target_price
//	price_change:       |change| crossing target percent by direction
//	trading_signal:     flow sign agreement per direction
func Evaluate(rule *domain.AlertRule, close, changePct float64, foreignNet, institutionalNet int64) bool {
	switch rule.AlertType {
	case domain.AlertBuy:
		return rule.Direction == domain.DirectionBelow && close <= rule.TargetPrice
	case domain.AlertSell:
		return rule.Direction == domain.DirectionAbove && close >= rule.TargetPrice
	case domain.AlertPriceChange:
		switch rule.Direction {
		case domain.DirectionAbove:
			return changePct >= rule.TargetPrice
		case domain.DirectionBelow:
			return changePct <= -rule.TargetPrice
		case domain.DirectionBoth:
			return math.Abs(changePct) >= rule.TargetPrice
		}
	case domain.AlertTradingSignal:
		switch rule.Direction {
		case domain.DirectionAbove:
			return foreignNet > 0 && institutionalNet > 0
		case domain.DirectionBelow:
			return foreignNet < 0 && institutionalNet < 0
		case domain.DirectionBoth:
			return (foreignNet > 0 && institutionalNet > 0) || (foreignNet < 0 && institutionalNet < 0)
		}
	}
	return false
}
