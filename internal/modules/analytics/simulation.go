package analytics

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/krxwatch/krxwatch/internal/domain"
)

const (
	maxSimulationYears   = 5
	maxPortfolioHoldings = 20
	weightSumTolerance   = 1e-6

	minBuyDay = 1
	maxBuyDay = 28
)

// LumpSumRequest is the input to a lump-sum simulation.
type LumpSumRequest struct {
	Ticker  string  `json:"ticker"`
	BuyDate string  `json:"buy_date"`
	Amount  float64 `json:"amount"`
}

// ValuationPoint is one day of a simulated valuation series.
type ValuationPoint struct {
	Date      string  `json:"date"`
	Value     float64 `json:"value"`
	ReturnPct float64 `json:"return_pct"`
}

// LumpSumResult is the lump-sum simulation output.
type LumpSumResult struct {
	Ticker      string           `json:"ticker"`
	BuyDate     string           `json:"buy_date"`
	BuyPrice    float64          `json:"buy_price"`
	Shares      int64            `json:"shares"`
	Remainder   float64          `json:"remainder"`
	Invested    float64          `json:"invested"`
	FinalValue  float64          `json:"final_value"`
	ReturnPct   float64          `json:"return_pct"`
	MaxGainDate string           `json:"max_gain_date"`
	MaxLossDate string           `json:"max_loss_date"`
	Series      []ValuationPoint `json:"series"`
}

// LumpSum simulates a single buy held to the latest stored close. Shares are
// whole; the cash remainder rides along unvalued.
func (s *Service) LumpSum(ctx context.Context, req LumpSumRequest) (*LumpSumResult, error) {
	if req.Amount <= 0 {
		return nil, domain.Validationf("amount must be > 0")
	}
	if _, err := domain.ParseDate(req.BuyDate); err != nil {
		return nil, domain.Validationf("buy_date must be YYYY-MM-DD")
	}

	bars, err := s.bars.GetBars(ctx, req.Ticker, req.BuyDate, "")
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, domain.NotFoundf("no price data for %s on or after %s", req.Ticker, req.BuyDate)
	}

	buyPrice := bars[0].Close
	if buyPrice <= 0 {
		return nil, domain.Validationf("buy price for %s is not positive", req.Ticker)
	}

	shares := int64(math.Floor(req.Amount / buyPrice))
	remainder := req.Amount - float64(shares)*buyPrice

	result := &LumpSumResult{
		Ticker:    req.Ticker,
		BuyDate:   bars[0].Date,
		BuyPrice:  buyPrice,
		Shares:    shares,
		Remainder: remainder,
		Invested:  req.Amount,
		Series:    make([]ValuationPoint, 0, len(bars)),
	}

	maxGain, maxLoss := math.Inf(-1), math.Inf(1)
	for _, b := range bars {
		value := float64(shares)*b.Close + remainder
		pct := 0.0
		if req.Amount > 0 {
			pct = (value/req.Amount - 1) * 100
		}
		result.Series = append(result.Series, ValuationPoint{Date: b.Date, Value: value, ReturnPct: pct})

		if pct > maxGain {
			maxGain, result.MaxGainDate = pct, b.Date
		}
		if pct < maxLoss {
			maxLoss, result.MaxLossDate = pct, b.Date
		}
	}

	last := result.Series[len(result.Series)-1]
	result.FinalValue = last.Value
	result.ReturnPct = last.ReturnPct
	return result, nil
}

// DCARequest is the input to a dollar-cost-averaging simulation.
type DCARequest struct {
	Ticker        string  `json:"ticker"`
	MonthlyAmount float64 `json:"monthly_amount"`
	StartDate     string  `json:"start_date"`
	EndDate       string  `json:"end_date"`
	BuyDay        int     `json:"buy_day"`
}

// DCAPurchase is one month of a DCA simulation.
type DCAPurchase struct {
	Date        string  `json:"date"`
	Price       float64 `json:"price"`
	Shares      int64   `json:"shares"`
	Carry       float64 `json:"carry"`
	TotalShares int64   `json:"total_shares"`
	Invested    float64 `json:"invested"`
}

// DCAResult is the DCA simulation output.
type DCAResult struct {
	Ticker        string        `json:"ticker"`
	TotalInvested float64       `json:"total_invested"`
	TotalShares   int64         `json:"total_shares"`
	AvgBuyPrice   float64       `json:"avg_buy_price"`
	FinalValue    float64       `json:"final_value"`
	ReturnPct     float64       `json:"return_pct"`
	Purchases     []DCAPurchase `json:"purchases"`
}

func validateWindow(start, end string) (time.Time, time.Time, error) {
	startT, err := domain.ParseDate(start)
	if err != nil {
		return time.Time{}, time.Time{}, domain.Validationf("start_date must be YYYY-MM-DD")
	}
	endT, err := domain.ParseDate(end)
	if err != nil {
		return time.Time{}, time.Time{}, domain.Validationf("end_date must be YYYY-MM-DD")
	}
	if endT.Before(startT) {
		return time.Time{}, time.Time{}, domain.Validationf("end_date must not precede start_date")
	}
	if endT.After(startT.AddDate(maxSimulationYears, 0, 0)) {
		return time.Time{}, time.Time{}, domain.Validationf("simulation window must be at most %d years", maxSimulationYears)
	}
	return startT, endT, nil
}

// DCA simulates a monthly purchase on the first trading day on or after
// buy_day of each month. The cash left after flooring to whole shares
// carries into the next month.
func (s *Service) DCA(ctx context.Context, req DCARequest) (*DCAResult, error) {
	if req.MonthlyAmount <= 0 {
		return nil, domain.Validationf("monthly_amount must be > 0")
	}
	if req.BuyDay < minBuyDay || req.BuyDay > maxBuyDay {
		return nil, domain.Validationf("buy_day must be in [%d,%d]", minBuyDay, maxBuyDay)
	}
	startT, endT, err := validateWindow(req.StartDate, req.EndDate)
	if err != nil {
		return nil, err
	}

	bars, err := s.bars.GetBars(ctx, req.Ticker, req.StartDate, req.EndDate)
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, domain.NotFoundf("no price data for %s in window", req.Ticker)
	}

	result := &DCAResult{Ticker: req.Ticker}
	carry := 0.0
	barIdx := 0

	month := time.Date(startT.Year(), startT.Month(), 1, 0, 0, 0, 0, time.UTC)
	for !month.After(endT) {
		target := domain.FormatDate(time.Date(month.Year(), month.Month(), req.BuyDay, 0, 0, 0, 0, time.UTC))

		// First trading day on or after the target, not yet consumed by an
		// earlier month.
		for barIdx < len(bars) && bars[barIdx].Date < target {
			barIdx++
		}
		if barIdx >= len(bars) {
			break
		}

		buy := bars[barIdx]
		barIdx++

		budget := carry + req.MonthlyAmount
		shares := int64(math.Floor(budget / buy.Close))
		carry = budget - float64(shares)*buy.Close

		result.TotalInvested += req.MonthlyAmount
		result.TotalShares += shares
		result.Purchases = append(result.Purchases, DCAPurchase{
			Date:        buy.Date,
			Price:       buy.Close,
			Shares:      shares,
			Carry:       carry,
			TotalShares: result.TotalShares,
			Invested:    result.TotalInvested,
		})

		month = month.AddDate(0, 1, 0)
	}

	if result.TotalShares > 0 {
		result.AvgBuyPrice = result.TotalInvested / float64(result.TotalShares)
	}
	lastClose := bars[len(bars)-1].Close
	result.FinalValue = float64(result.TotalShares)*lastClose + carry
	if result.TotalInvested > 0 {
		result.ReturnPct = (result.FinalValue/result.TotalInvested - 1) * 100
	}
	return result, nil
}

// PortfolioHolding is one weighted position in a portfolio simulation.
type PortfolioHolding struct {
	Ticker string  `json:"ticker"`
	Weight float64 `json:"weight"`
}

// PortfolioRequest is the input to a portfolio simulation.
type PortfolioRequest struct {
	Holdings  []PortfolioHolding `json:"holdings"`
	Amount    float64            `json:"amount"`
	StartDate string             `json:"start_date"`
	EndDate   string             `json:"end_date"`
}

// PortfolioResult is the portfolio simulation output.
type PortfolioResult struct {
	Invested   float64                   `json:"invested"`
	FinalValue float64                   `json:"final_value"`
	ReturnPct  float64                   `json:"return_pct"`
	PerTicker  map[string]*LumpSumResult `json:"per_ticker"`
	Series     []ValuationPoint          `json:"series"`
}

// Portfolio simulates weighted lump-sum buys across holdings and aggregates
// daily valuations on the union of trading dates with forward-filled closes.
func (s *Service) Portfolio(ctx context.Context, req PortfolioRequest) (*PortfolioResult, error) {
	if req.Amount <= 0 {
		return nil, domain.Validationf("amount must be > 0")
	}
	if len(req.Holdings) == 0 || len(req.Holdings) > maxPortfolioHoldings {
		return nil, domain.Validationf("holdings must contain between 1 and %d tickers", maxPortfolioHoldings)
	}
	if _, _, err := validateWindow(req.StartDate, req.EndDate); err != nil {
		return nil, err
	}

	sum := 0.0
	seen := make(map[string]struct{}, len(req.Holdings))
	for _, h := range req.Holdings {
		if _, dup := seen[h.Ticker]; dup {
			return nil, domain.Validationf("duplicate ticker %s in holdings", h.Ticker)
		}
		seen[h.Ticker] = struct{}{}
		if h.Weight <= 0 {
			return nil, domain.Validationf("weight for %s must be > 0", h.Ticker)
		}
		sum += h.Weight
	}
	if math.Abs(sum-1.0) > weightSumTolerance {
		return nil, domain.Validationf("weights must sum to 1.0 (got %.8f)", sum)
	}

	result := &PortfolioResult{
		Invested:  req.Amount,
		PerTicker: make(map[string]*LumpSumResult, len(req.Holdings)),
	}

	// Per-ticker lump sums, then aggregate on the union of dates.
	valueByDate := make(map[string]map[string]float64) // ticker → date → value
	dateSet := make(map[string]struct{})
	for _, h := range req.Holdings {
		ls, err := s.LumpSum(ctx, LumpSumRequest{
			Ticker:  h.Ticker,
			BuyDate: req.StartDate,
			Amount:  h.Weight * req.Amount,
		})
		if err != nil {
			return nil, err
		}
		// Clip to the requested window.
		clipped := ls.Series[:0]
		for _, p := range ls.Series {
			if p.Date <= req.EndDate {
				clipped = append(clipped, p)
			}
		}
		ls.Series = clipped
		result.PerTicker[h.Ticker] = ls

		byDate := make(map[string]float64, len(ls.Series))
		for _, p := range ls.Series {
			byDate[p.Date] = p.Value
			dateSet[p.Date] = struct{}{}
		}
		valueByDate[h.Ticker] = byDate
	}

	dates := make([]string, 0, len(dateSet))
	for d := range dateSet {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	lastValue := make(map[string]float64, len(req.Holdings))
	for _, h := range req.Holdings {
		// Until a ticker's first trading day, its stake is carried at cost.
		lastValue[h.Ticker] = h.Weight * req.Amount
	}

	result.Series = make([]ValuationPoint, 0, len(dates))
	for _, date := range dates {
		total := 0.0
		for _, h := range req.Holdings {
			if v, ok := valueByDate[h.Ticker][date]; ok {
				lastValue[h.Ticker] = v
			}
			total += lastValue[h.Ticker]
		}
		result.Series = append(result.Series, ValuationPoint{
			Date:      date,
			Value:     total,
			ReturnPct: (total/req.Amount - 1) * 100,
		})
	}

	if len(result.Series) > 0 {
		last := result.Series[len(result.Series)-1]
		result.FinalValue = last.Value
		result.ReturnPct = last.ReturnPct
	}
	return result, nil
}
