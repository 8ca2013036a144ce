package alerts

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krxwatch/krxwatch/internal/domain"
	testutil "github.com/krxwatch/krxwatch/internal/testing"
)

func newTestService(t *testing.T) (*Service, *Repository) {
	t.Helper()
	db := testutil.NewTestDB(t)
	repo := NewRepository(db.Conn(), zerolog.Nop())
	return NewService(repo, zerolog.Nop()), repo
}

func buyRule(ticker string, target float64) *domain.AlertRule {
	return &domain.AlertRule{
		Ticker:      ticker,
		AlertType:   domain.AlertBuy,
		Direction:   domain.DirectionBelow,
		TargetPrice: target,
		IsActive:    true,
	}
}

func TestRuleLifecycle(t *testing.T) {
	_, repo := newTestService(t)
	ctx := context.Background()

	rule := buyRule("069500", 35000)
	require.NoError(t, repo.CreateRule(ctx, rule))
	require.NotEmpty(t, rule.ID)

	got, err := repo.GetRule(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, "069500", got.Ticker)
	assert.Equal(t, domain.AlertBuy, got.AlertType)
	assert.True(t, got.IsActive)

	got.TargetPrice = 34000
	got.IsActive = false
	require.NoError(t, repo.UpdateRule(ctx, got))

	got, err = repo.GetRule(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, 34000.0, got.TargetPrice)
	assert.False(t, got.IsActive)

	require.NoError(t, repo.DeleteRule(ctx, rule.ID))
	_, err = repo.GetRule(ctx, rule.ID)
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
}

func TestRuleValidation(t *testing.T) {
	_, repo := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name string
		rule *domain.AlertRule
	}{
		{"buy with zero target", &domain.AlertRule{Ticker: "069500", AlertType: domain.AlertBuy, Direction: domain.DirectionBelow}},
		{"price_change over 100", &domain.AlertRule{Ticker: "069500", AlertType: domain.AlertPriceChange, Direction: domain.DirectionBoth, TargetPrice: 150}},
		{"trading_signal with target", &domain.AlertRule{Ticker: "069500", AlertType: domain.AlertTradingSignal, Direction: domain.DirectionAbove, TargetPrice: 5}},
		{"unknown type", &domain.AlertRule{Ticker: "069500", AlertType: "moon_phase", Direction: domain.DirectionAbove, TargetPrice: 1}},
		{"missing ticker", &domain.AlertRule{AlertType: domain.AlertBuy, Direction: domain.DirectionBelow, TargetPrice: 100}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := repo.CreateRule(ctx, tt.rule)
			assert.Equal(t, domain.KindValidation, domain.KindOf(err))
		})
	}
}

func TestListRulesActiveOnly(t *testing.T) {
	_, repo := newTestService(t)
	ctx := context.Background()

	active := buyRule("069500", 35000)
	require.NoError(t, repo.CreateRule(ctx, active))
	inactive := buyRule("069500", 30000)
	inactive.IsActive = false
	require.NoError(t, repo.CreateRule(ctx, inactive))

	rules, err := repo.ListRules(ctx, "069500", false)
	require.NoError(t, err)
	assert.Len(t, rules, 2)

	rules, err = repo.ListRules(ctx, "069500", true)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, active.ID, rules[0].ID)
}

func TestTriggerAppendsHistoryAndTouchesRule(t *testing.T) {
	service, repo := newTestService(t)
	ctx := context.Background()

	rule := buyRule("069500", 35000)
	require.NoError(t, repo.CreateRule(ctx, rule))

	out, err := service.Trigger(ctx, TriggerRequest{RuleID: rule.ID, Message: "35,000원 도달"})
	require.NoError(t, err)
	assert.False(t, out.Duplicate)
	assert.Equal(t, "069500", out.History.Ticker)

	got, err := repo.GetRule(ctx, rule.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.LastTriggeredAt)

	items, err := repo.History(ctx, "069500", 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "35,000원 도달", items[0].Message)
}

func TestTriggerDuplicateWithin60Seconds(t *testing.T) {
	service, repo := newTestService(t)
	ctx := context.Background()

	rule := buyRule("069500", 35000)
	require.NoError(t, repo.CreateRule(ctx, rule))

	base := time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)
	service.now = func() time.Time { return base }

	first, err := service.Trigger(ctx, TriggerRequest{RuleID: rule.ID, Message: "동일 메시지"})
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	service.now = func() time.Time { return base.Add(30 * time.Second) }
	second, err := service.Trigger(ctx, TriggerRequest{RuleID: rule.ID, Message: "동일 메시지"})
	require.NoError(t, err)
	assert.True(t, second.Duplicate, "same message within 60s is flagged")

	// Still appended.
	items, err := repo.History(ctx, "069500", 10)
	require.NoError(t, err)
	assert.Len(t, items, 2)

	// Different message inside the window is not a duplicate.
	third, err := service.Trigger(ctx, TriggerRequest{RuleID: rule.ID, Message: "다른 메시지"})
	require.NoError(t, err)
	assert.False(t, third.Duplicate)

	// Same message after the window is not a duplicate.
	service.now = func() time.Time { return base.Add(2 * time.Minute) }
	fourth, err := service.Trigger(ctx, TriggerRequest{RuleID: rule.ID, Message: "동일 메시지"})
	require.NoError(t, err)
	assert.False(t, fourth.Duplicate)
}

func TestTriggerUnknownRule(t *testing.T) {
	service, _ := newTestService(t)
	_, err := service.Trigger(context.Background(), TriggerRequest{RuleID: "nope", Message: "x"})
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
}

func TestDeleteRuleCascadesHistory(t *testing.T) {
	service, repo := newTestService(t)
	ctx := context.Background()

	rule := buyRule("069500", 35000)
	require.NoError(t, repo.CreateRule(ctx, rule))
	_, err := service.Trigger(ctx, TriggerRequest{RuleID: rule.ID, Message: "도달"})
	require.NoError(t, err)

	require.NoError(t, repo.DeleteRule(ctx, rule.ID))

	items, err := repo.History(ctx, "069500", 10)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestEvaluateSemantics(t *testing.T) {
	buy := &domain.AlertRule{AlertType: domain.AlertBuy, Direction: domain.DirectionBelow, TargetPrice: 35000}
	assert.True(t, Evaluate(buy, 34900, 0, 0, 0))
	assert.True(t, Evaluate(buy, 35000, 0, 0, 0))
	assert.False(t, Evaluate(buy, 35100, 0, 0, 0))

	sell := &domain.AlertRule{AlertType: domain.AlertSell, Direction: domain.DirectionAbove, TargetPrice: 40000}
	assert.True(t, Evaluate(sell, 40000, 0, 0, 0))
	assert.False(t, Evaluate(sell, 39999, 0, 0, 0))

	change := &domain.AlertRule{AlertType: domain.AlertPriceChange, Direction: domain.DirectionBoth, TargetPrice: 3}
	assert.True(t, Evaluate(change, 0, 3.5, 0, 0))
	assert.True(t, Evaluate(change, 0, -3.5, 0, 0))
	assert.False(t, Evaluate(change, 0, 2.9, 0, 0))

	up := &domain.AlertRule{AlertType: domain.AlertPriceChange, Direction: domain.DirectionAbove, TargetPrice: 3}
	assert.True(t, Evaluate(up, 0, 3.1, 0, 0))
	assert.False(t, Evaluate(up, 0, -3.1, 0, 0))

	signal := &domain.AlertRule{AlertType: domain.AlertTradingSignal, Direction: domain.DirectionAbove}
	assert.True(t, Evaluate(signal, 0, 0, 1000, 500))
	assert.False(t, Evaluate(signal, 0, 0, 1000, -500))

	signalDown := &domain.AlertRule{AlertType: domain.AlertTradingSignal, Direction: domain.DirectionBelow}
	assert.True(t, Evaluate(signalDown, 0, 0, -1000, -500))

	signalBoth := &domain.AlertRule{AlertType: domain.AlertTradingSignal, Direction: domain.DirectionBoth}
	assert.True(t, Evaluate(signalBoth, 0, 0, 1000, 500))
	assert.True(t, Evaluate(signalBoth, 0, 0, -1000, -500))
	assert.False(t, Evaluate(signalBoth, 0, 0, 1000, -500))
}
