package naver

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// flexFloat64 handles JSON values that may be either a number or a string
// (the upstream mixes "1,234.56" strings and raw numbers across endpoints).
type flexFloat64 float64

func (f *flexFloat64) UnmarshalJSON(data []byte) error {
	var num float64
	if err := json.Unmarshal(data, &num); err == nil {
		*f = flexFloat64(num)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
		if s == "" || s == "N/A" || s == "-" {
			*f = 0
			return nil
		}
		num, err := strconv.ParseFloat(s, 64)
		if err != nil {
			*f = 0
			return nil
		}
		*f = flexFloat64(num)
		return nil
	}
	return fmt.Errorf("cannot unmarshal %s into float64", string(data))
}

// flexInt64 is the integer counterpart of flexFloat64.
type flexInt64 int64

func (f *flexInt64) UnmarshalJSON(data []byte) error {
	var ff flexFloat64
	if err := ff.UnmarshalJSON(data); err != nil {
		return err
	}
	*f = flexInt64(ff)
	return nil
}

// dailyBarRow is one row of the daily price endpoint.
type dailyBarRow struct {
	Date   string      `json:"date"`
	Open   flexFloat64 `json:"open"`
	High   flexFloat64 `json:"high"`
	Low    flexFloat64 `json:"low"`
	Close  flexFloat64 `json:"close"`
	Volume flexInt64   `json:"volume"`
}

// flowRow is one row of the investor trend endpoint.
type flowRow struct {
	Date          string    `json:"date"`
	Individual    flexInt64 `json:"individual"`
	Institutional flexInt64 `json:"institutional"`
	Foreign       flexInt64 `json:"foreign"`
}

// tickPage is one page of the intraday tick endpoint.
type tickPage struct {
	Items []tickRow `json:"items"`
}

type tickRow struct {
	Datetime  string      `json:"datetime"`
	Price     flexFloat64 `json:"price"`
	Change    flexFloat64 `json:"change"`
	Volume    flexInt64   `json:"volume"`
	BidVolume flexInt64   `json:"bid_volume"`
	AskVolume flexInt64   `json:"ask_volume"`
}

// newsPage is the news search endpoint response.
type newsPage struct {
	Items []newsRow `json:"items"`
}

type newsRow struct {
	Title  string `json:"title"`
	URL    string `json:"link"`
	Source string `json:"source"`
	Date   string `json:"date"`
}

// integrationResponse carries both stock and ETF fundamentals; absent
// sections decode as nil.
type integrationResponse struct {
	Stock *struct {
		PER flexFloat64 `json:"per"`
		PBR flexFloat64 `json:"pbr"`
		ROE flexFloat64 `json:"roe"`
		EPS flexFloat64 `json:"eps"`
		BPS flexFloat64 `json:"bps"`
	} `json:"stock"`
	Etf *struct {
		NAV          flexFloat64 `json:"nav"`
		ExpenseRatio flexFloat64 `json:"expense_ratio"`
	} `json:"etf"`
}

// holdingsResponse is the ETF constituents endpoint response.
type holdingsResponse struct {
	Date     string `json:"date"`
	Holdings []struct {
		Ticker string      `json:"ticker"`
		Name   string      `json:"name"`
		Weight flexFloat64 `json:"weight"`
	} `json:"holdings"`
}

// catalogRow is one row of the market listing endpoint.
type catalogRow struct {
	Ticker     string `json:"ticker"`
	Name       string `json:"name"`
	Sector     string `json:"sector"`
	ListedDate string `json:"listed_date"`
}

// searchResponse is the autocomplete/validation endpoint response.
type searchResponse struct {
	Items []struct {
		Ticker string `json:"ticker"`
		Name   string `json:"name"`
		Type   string `json:"type"`
	} `json:"items"`
}
