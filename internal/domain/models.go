// Package domain defines the core entities shared across krxwatch modules.
//
// Date-only fields are carried as "YYYY-MM-DD" strings (the storage format),
// timestamps as time.Time. Helpers at the bottom convert between the two.
package domain

import (
	"fmt"
	"time"
)

// DateLayout is the canonical format for date-only fields.
const DateLayout = "2006-01-02"

// TickerType discriminates ETFs from ordinary stocks.
type TickerType string

const (
	TickerTypeETF   TickerType = "ETF"
	TickerTypeStock TickerType = "STOCK"
)

// Ticker is a registered watchlist entry.
type Ticker struct {
	Ticker            string     `json:"ticker"`
	Name              string     `json:"name"`
	Type              TickerType `json:"type"`
	Theme             string     `json:"theme,omitempty"`
	LaunchDate        *string    `json:"launch_date,omitempty"`
	ExpenseRatio      *float64   `json:"expense_ratio,omitempty"`
	PurchaseDate      *string    `json:"purchase_date,omitempty"`
	PurchasePrice     *float64   `json:"purchase_price,omitempty"`
	Quantity          *float64   `json:"quantity,omitempty"`
	SearchKeyword     string     `json:"search_keyword,omitempty"`
	RelevanceKeywords []string   `json:"relevance_keywords,omitempty"`
	SortOrder         int        `json:"sort_order"`
}

// DailyBar is one day of OHLCV data for a ticker.
// DailyChangePct is nil for the earliest persisted row.
type DailyBar struct {
	Ticker         string   `json:"ticker"`
	Date           string   `json:"date"`
	Open           float64  `json:"open"`
	High           float64  `json:"high"`
	Low            float64  `json:"low"`
	Close          float64  `json:"close"`
	Volume         int64    `json:"volume"`
	DailyChangePct *float64 `json:"daily_change_pct"`
}

// TradingFlow is the daily net buy/sell per investor category.
// Units are whatever the upstream delivers (KRW millions on Naver).
type TradingFlow struct {
	Ticker           string `json:"ticker"`
	Date             string `json:"date"`
	IndividualNet    int64  `json:"individual_net"`
	InstitutionalNet int64  `json:"institutional_net"`
	ForeignNet       int64  `json:"foreign_net"`
}

// IntradayTick is a within-session price sample.
type IntradayTick struct {
	Ticker       string    `json:"ticker"`
	Datetime     time.Time `json:"datetime"`
	Price        float64   `json:"price"`
	ChangeAmount float64   `json:"change_amount"`
	Volume       int64     `json:"volume"`
	BidVolume    int64     `json:"bid_volume"`
	AskVolume    int64     `json:"ask_volume"`
}

// NewsSentiment classifies a news item.
type NewsSentiment string

const (
	SentimentPositive NewsSentiment = "positive"
	SentimentNeutral  NewsSentiment = "neutral"
	SentimentNegative NewsSentiment = "negative"
)

// NewsItem is one article attributed to a ticker, deduplicated by (ticker, url).
type NewsItem struct {
	Ticker         string        `json:"ticker"`
	Date           string        `json:"date"`
	Title          string        `json:"title"`
	URL            string        `json:"url"`
	Source         string        `json:"source"`
	RelevanceScore float64       `json:"relevance_score"`
	Sentiment      NewsSentiment `json:"sentiment,omitempty"`
	Tags           []string      `json:"tags,omitempty"`
}

// StockFundamentals holds per-date valuation ratios for a stock.
type StockFundamentals struct {
	Ticker string   `json:"ticker"`
	Date   string   `json:"date"`
	PER    *float64 `json:"per"`
	PBR    *float64 `json:"pbr"`
	ROE    *float64 `json:"roe"`
	EPS    *float64 `json:"eps"`
	BPS    *float64 `json:"bps"`
}

// EtfFundamentals holds per-date NAV data for an ETF.
type EtfFundamentals struct {
	Ticker       string   `json:"ticker"`
	Date         string   `json:"date"`
	NAV          *float64 `json:"nav"`
	ExpenseRatio *float64 `json:"expense_ratio"`
}

// EtfHolding is one constituent of an ETF on a given date.
type EtfHolding struct {
	Ticker            string  `json:"ticker"`
	Date              string  `json:"date"`
	ConstituentTicker string  `json:"constituent_ticker"`
	Name              string  `json:"name"`
	Weight            float64 `json:"weight"`
}

// CollectionState tracks ingestion bookkeeping per ticker, enabling
// gap-only "smart collection".
type CollectionState struct {
	Ticker                  string     `json:"ticker"`
	LastPriceDate           *string    `json:"last_price_date"`
	LastTradingFlowDate     *string    `json:"last_trading_flow_date"`
	LastNewsCollectedAt     *time.Time `json:"last_news_collected_at"`
	PriceRecordsCount       int        `json:"price_records_count"`
	TradingFlowRecordsCount int        `json:"trading_flow_records_count"`
	NewsRecordsCount        int        `json:"news_records_count"`
	LastCollectionAttempt   *time.Time `json:"last_collection_attempt"`
	LastSuccessfulCollect   *time.Time `json:"last_successful_collection"`
	ConsecutiveFailures     int        `json:"consecutive_failures"`
}

// AlertType enumerates the supported alert rule kinds.
type AlertType string

const (
	AlertBuy           AlertType = "buy"
	AlertSell          AlertType = "sell"
	AlertPriceChange   AlertType = "price_change"
	AlertTradingSignal AlertType = "trading_signal"
)

// AlertDirection enumerates trigger directions.
type AlertDirection string

const (
	DirectionAbove AlertDirection = "above"
	DirectionBelow AlertDirection = "below"
	DirectionBoth  AlertDirection = "both"
)

// AlertRule is a user-defined alerting rule.
// TargetPrice semantics depend on Type: an absolute price for buy/sell,
// a percent in (0,100] for price_change, exactly 0 for trading_signal.
type AlertRule struct {
	ID              string         `json:"id"`
	Ticker          string         `json:"ticker"`
	AlertType       AlertType      `json:"alert_type"`
	Direction       AlertDirection `json:"direction"`
	TargetPrice     float64        `json:"target_price"`
	Memo            string         `json:"memo,omitempty"`
	IsActive        bool           `json:"is_active"`
	CreatedAt       time.Time      `json:"created_at"`
	LastTriggeredAt *time.Time     `json:"last_triggered_at,omitempty"`
}

// AlertHistory records a single rule trigger.
type AlertHistory struct {
	ID          string    `json:"id"`
	RuleID      string    `json:"rule_id"`
	Ticker      string    `json:"ticker"`
	AlertType   AlertType `json:"alert_type"`
	Message     string    `json:"message"`
	TriggeredAt time.Time `json:"triggered_at"`
}

// CatalogEntry is one row of the discoverable ticker universe, with
// denormalized snapshot columns consumed by the screener.
type CatalogEntry struct {
	Ticker      string     `json:"ticker"`
	Name        string     `json:"name"`
	Type        TickerType `json:"type"`
	Market      string     `json:"market"`
	Sector      string     `json:"sector,omitempty"`
	ListedDate  *string    `json:"listed_date,omitempty"`
	LastUpdated *time.Time `json:"last_updated,omitempty"`
	IsActive    bool       `json:"is_active"`

	// Snapshot columns (screener inputs)
	ClosePrice       *float64   `json:"close_price,omitempty"`
	DailyChangePct   *float64   `json:"daily_change_pct,omitempty"`
	Volume           *int64     `json:"volume,omitempty"`
	WeeklyReturn     *float64   `json:"weekly_return,omitempty"`
	ForeignNet       *int64     `json:"foreign_net,omitempty"`
	InstitutionalNet *int64     `json:"institutional_net,omitempty"`
	CatalogUpdatedAt *time.Time `json:"catalog_updated_at,omitempty"`
}

// Period enumerates analysis horizons.
type Period string

const (
	Period1W Period = "1w"
	Period1M Period = "1m"
	Period3M Period = "3m"
	Period6M Period = "6m"
	Period1Y Period = "1y"
)

// Days returns the approximate calendar-day window for a period.
func (p Period) Days() (int, error) {
	switch p {
	case Period1W:
		return 7, nil
	case Period1M:
		return 30, nil
	case Period3M:
		return 90, nil
	case Period6M:
		return 180, nil
	case Period1Y:
		return 365, nil
	default:
		return 0, Validationf("invalid period %q (want one of 1w, 1m, 3m, 6m, 1y)", string(p))
	}
}

// ParseDate parses a canonical YYYY-MM-DD date string.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}

// FormatDate renders a time as a canonical YYYY-MM-DD date string.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// Validate checks an alert rule against the target-price constraints for its type.
func (r *AlertRule) Validate() error {
	switch r.AlertType {
	case AlertBuy, AlertSell:
		if r.TargetPrice <= 0 {
			return Validationf("target_price must be > 0 for %s alerts", r.AlertType)
		}
	case AlertPriceChange:
		if r.TargetPrice <= 0 || r.TargetPrice > 100 {
			return Validationf("target_price must be in (0, 100] percent for price_change alerts")
		}
	case AlertTradingSignal:
		if r.TargetPrice != 0 {
			return Validationf("target_price must be 0 for trading_signal alerts")
		}
	default:
		return Validationf("invalid alert_type %q", string(r.AlertType))
	}

	switch r.Direction {
	case DirectionAbove, DirectionBelow, DirectionBoth:
	default:
		return Validationf("invalid direction %q", string(r.Direction))
	}

	if r.Ticker == "" {
		return Validationf("ticker is required")
	}

	return nil
}
