package database

// Schema is the full market store schema. Every statement is idempotent so
// startup can apply it unconditionally. Deleting a ticker cascades to its
// market data via foreign keys; the catalog and alert history survive.
const Schema = `
CREATE TABLE IF NOT EXISTS tickers (
    ticker             TEXT PRIMARY KEY CHECK (length(ticker) <= 10),
    name               TEXT NOT NULL,
    type               TEXT NOT NULL CHECK (type IN ('ETF', 'STOCK')),
    theme              TEXT NOT NULL DEFAULT '',
    launch_date        TEXT,
    expense_ratio      REAL,
    purchase_date      TEXT,
    purchase_price     REAL,
    quantity           REAL,
    search_keyword     TEXT NOT NULL DEFAULT '',
    relevance_keywords TEXT NOT NULL DEFAULT '[]',
    sort_order         INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS daily_bars (
    ticker           TEXT NOT NULL REFERENCES tickers(ticker) ON DELETE CASCADE,
    date             TEXT NOT NULL,
    open             REAL NOT NULL,
    high             REAL NOT NULL,
    low              REAL NOT NULL,
    close            REAL NOT NULL,
    volume           INTEGER NOT NULL,
    daily_change_pct REAL,
    PRIMARY KEY (ticker, date)
);
CREATE INDEX IF NOT EXISTS idx_daily_bars_date ON daily_bars(date);

CREATE TABLE IF NOT EXISTS trading_flows (
    ticker            TEXT NOT NULL REFERENCES tickers(ticker) ON DELETE CASCADE,
    date              TEXT NOT NULL,
    individual_net    INTEGER NOT NULL DEFAULT 0,
    institutional_net INTEGER NOT NULL DEFAULT 0,
    foreign_net       INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (ticker, date)
);

CREATE TABLE IF NOT EXISTS intraday_ticks (
    ticker        TEXT NOT NULL REFERENCES tickers(ticker) ON DELETE CASCADE,
    datetime      TEXT NOT NULL,
    price         REAL NOT NULL,
    change_amount REAL NOT NULL DEFAULT 0,
    volume        INTEGER NOT NULL DEFAULT 0,
    bid_volume    INTEGER NOT NULL DEFAULT 0,
    ask_volume    INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (ticker, datetime)
);

CREATE TABLE IF NOT EXISTS news_items (
    ticker          TEXT NOT NULL REFERENCES tickers(ticker) ON DELETE CASCADE,
    date            TEXT NOT NULL,
    title           TEXT NOT NULL,
    url             TEXT NOT NULL,
    source          TEXT NOT NULL DEFAULT '',
    relevance_score REAL NOT NULL DEFAULT 0 CHECK (relevance_score >= 0 AND relevance_score <= 1),
    sentiment       TEXT CHECK (sentiment IN ('positive', 'neutral', 'negative')),
    tags            TEXT NOT NULL DEFAULT '[]',
    PRIMARY KEY (ticker, url)
);
CREATE INDEX IF NOT EXISTS idx_news_items_date ON news_items(ticker, date);

CREATE TABLE IF NOT EXISTS stock_fundamentals (
    ticker TEXT NOT NULL REFERENCES tickers(ticker) ON DELETE CASCADE,
    date   TEXT NOT NULL,
    per    REAL,
    pbr    REAL,
    roe    REAL,
    eps    REAL,
    bps    REAL,
    PRIMARY KEY (ticker, date)
);

CREATE TABLE IF NOT EXISTS etf_fundamentals (
    ticker        TEXT NOT NULL REFERENCES tickers(ticker) ON DELETE CASCADE,
    date          TEXT NOT NULL,
    nav           REAL,
    expense_ratio REAL,
    PRIMARY KEY (ticker, date)
);

CREATE TABLE IF NOT EXISTS etf_holdings (
    ticker             TEXT NOT NULL REFERENCES tickers(ticker) ON DELETE CASCADE,
    date               TEXT NOT NULL,
    constituent_ticker TEXT NOT NULL,
    name               TEXT NOT NULL DEFAULT '',
    weight             REAL NOT NULL DEFAULT 0,
    PRIMARY KEY (ticker, date, constituent_ticker)
);

CREATE TABLE IF NOT EXISTS collection_state (
    ticker                     TEXT PRIMARY KEY REFERENCES tickers(ticker) ON DELETE CASCADE,
    last_price_date            TEXT,
    last_trading_flow_date     TEXT,
    last_news_collected_at     TEXT,
    price_records_count        INTEGER NOT NULL DEFAULT 0,
    trading_flow_records_count INTEGER NOT NULL DEFAULT 0,
    news_records_count         INTEGER NOT NULL DEFAULT 0,
    last_collection_attempt    TEXT,
    last_successful_collection TEXT,
    consecutive_failures       INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS alert_rules (
    id                TEXT PRIMARY KEY,
    ticker            TEXT NOT NULL,
    alert_type        TEXT NOT NULL CHECK (alert_type IN ('buy', 'sell', 'price_change', 'trading_signal')),
    direction         TEXT NOT NULL CHECK (direction IN ('above', 'below', 'both')),
    target_price      REAL NOT NULL,
    memo              TEXT NOT NULL DEFAULT '',
    is_active         INTEGER NOT NULL DEFAULT 1,
    created_at        TEXT NOT NULL,
    last_triggered_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_alert_rules_ticker ON alert_rules(ticker);

CREATE TABLE IF NOT EXISTS alert_history (
    id           TEXT PRIMARY KEY,
    rule_id      TEXT NOT NULL REFERENCES alert_rules(id) ON DELETE CASCADE,
    ticker       TEXT NOT NULL,
    alert_type   TEXT NOT NULL,
    message      TEXT NOT NULL,
    triggered_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_alert_history_ticker ON alert_history(ticker, triggered_at);

CREATE TABLE IF NOT EXISTS ticker_catalog (
    ticker             TEXT PRIMARY KEY,
    name               TEXT NOT NULL,
    type               TEXT NOT NULL CHECK (type IN ('ETF', 'STOCK')),
    market             TEXT NOT NULL DEFAULT '',
    sector             TEXT NOT NULL DEFAULT '',
    listed_date        TEXT,
    last_updated       TEXT,
    is_active          INTEGER NOT NULL DEFAULT 1,
    close_price        REAL,
    daily_change_pct   REAL,
    volume             INTEGER,
    weekly_return      REAL,
    foreign_net        INTEGER,
    institutional_net  INTEGER,
    catalog_updated_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_catalog_sector ON ticker_catalog(sector);
CREATE INDEX IF NOT EXISTS idx_catalog_weekly_return ON ticker_catalog(weekly_return);

CREATE TABLE IF NOT EXISTS settings (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`
