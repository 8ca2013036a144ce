package market

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/krxwatch/krxwatch/internal/database"
)

// AdminService exposes the data-administration operations: store statistics
// and the destructive market-data reset.
type AdminService struct {
	db  *database.DB
	log zerolog.Logger
}

// NewAdminService creates the admin service.
func NewAdminService(db *database.DB, log zerolog.Logger) *AdminService {
	return &AdminService{
		db:  db,
		log: log.With().Str("service", "admin").Logger(),
	}
}

// TableCounts holds per-table row counts.
type TableCounts struct {
	Tickers           int64 `json:"tickers"`
	DailyBars         int64 `json:"daily_bars"`
	TradingFlows      int64 `json:"trading_flows"`
	IntradayTicks     int64 `json:"intraday_ticks"`
	NewsItems         int64 `json:"news_items"`
	StockFundamentals int64 `json:"stock_fundamentals"`
	EtfFundamentals   int64 `json:"etf_fundamentals"`
	EtfHoldings       int64 `json:"etf_holdings"`
	AlertRules        int64 `json:"alert_rules"`
	AlertHistory      int64 `json:"alert_history"`
	Catalog           int64 `json:"ticker_catalog"`
}

// SystemStats reports host resource usage alongside store statistics.
type SystemStats struct {
	CPUPercent     float64 `json:"cpu_percent"`
	MemUsedPercent float64 `json:"mem_used_percent"`
	MemUsedBytes   uint64  `json:"mem_used_bytes"`
	DiskFreeBytes  uint64  `json:"disk_free_bytes"`
}

// StoreStats is the full /api/data/stats payload.
type StoreStats struct {
	Database *database.Stats `json:"database"`
	Tables   TableCounts     `json:"tables"`
	System   *SystemStats    `json:"system,omitempty"`
}

// countedTables maps JSON-facing names to real table names; both sides are
// fixed strings so the query below is not injectable.
var countedTables = []struct {
	table string
	dest  func(*TableCounts) *int64
}{
	{"tickers", func(c *TableCounts) *int64 { return &c.Tickers }},
	{"daily_bars", func(c *TableCounts) *int64 { return &c.DailyBars }},
	{"trading_flows", func(c *TableCounts) *int64 { return &c.TradingFlows }},
	{"intraday_ticks", func(c *TableCounts) *int64 { return &c.IntradayTicks }},
	{"news_items", func(c *TableCounts) *int64 { return &c.NewsItems }},
	{"stock_fundamentals", func(c *TableCounts) *int64 { return &c.StockFundamentals }},
	{"etf_fundamentals", func(c *TableCounts) *int64 { return &c.EtfFundamentals }},
	{"etf_holdings", func(c *TableCounts) *int64 { return &c.EtfHoldings }},
	{"alert_rules", func(c *TableCounts) *int64 { return &c.AlertRules }},
	{"alert_history", func(c *TableCounts) *int64 { return &c.AlertHistory }},
	{"ticker_catalog", func(c *TableCounts) *int64 { return &c.Catalog }},
}

// Stats gathers store and host statistics. Host metrics are best-effort; a
// probe failure drops the system section rather than failing the request.
func (s *AdminService) Stats(ctx context.Context) (*StoreStats, error) {
	dbStats, err := s.db.GetStats()
	if err != nil {
		return nil, fmt.Errorf("database stats: %w", err)
	}

	out := &StoreStats{Database: dbStats}
	for _, t := range countedTables {
		var n int64
		if err := s.db.Conn().QueryRowContext(ctx, "SELECT COUNT(*) FROM "+t.table).Scan(&n); err != nil {
			return nil, fmt.Errorf("count %s: %w", t.table, err)
		}
		*t.dest(&out.Tables) = n
	}

	out.System = s.systemStats(ctx)
	return out, nil
}

func (s *AdminService) systemStats(ctx context.Context) *SystemStats {
	sys := &SystemStats{}

	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		sys.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		sys.MemUsedPercent = vm.UsedPercent
		sys.MemUsedBytes = vm.Used
	}
	if du, err := disk.UsageWithContext(ctx, "/"); err == nil {
		sys.DiskFreeBytes = du.Free
	} else {
		s.log.Debug().Err(err).Msg("Disk usage probe failed")
	}

	return sys
}

// resetTables are cleared by ResetMarketData. The watchlist, catalog, alert
// rules and alert history survive a reset.
var resetTables = []string{
	"daily_bars",
	"trading_flows",
	"intraday_ticks",
	"news_items",
	"stock_fundamentals",
	"etf_fundamentals",
	"etf_holdings",
	"collection_state",
}

// ResetMarketData deletes all collected market data in one transaction and
// checkpoints the WAL so the file shrinks. Re-collection starts from scratch.
func (s *AdminService) ResetMarketData(ctx context.Context) error {
	err := database.WithTransaction(s.db.Conn(), func(tx *sql.Tx) error {
		for _, table := range resetTables {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("clear %s: %w", table, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := s.db.WALCheckpoint("TRUNCATE"); err != nil {
		s.log.Warn().Err(err).Msg("WAL checkpoint after reset failed")
	}

	s.log.Info().Msg("Market data reset completed")
	return nil
}
