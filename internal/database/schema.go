package database

// schemas maps database names to their embedded DDL. The market database
// holds the instrument universe and bar history; the cache database holds
// reusable scan results.
var schemas = map[string]string{
	"market": marketSchema,
	"cache":  cacheSchema,
}

const marketSchema = `
CREATE TABLE IF NOT EXISTS instruments (
    code         TEXT PRIMARY KEY,
    display_name TEXT NOT NULL DEFAULT '',
    industry     TEXT NOT NULL DEFAULT '',
    is_active    INTEGER NOT NULL DEFAULT 1,
    updated_at   INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS bars (
    code          TEXT NOT NULL,
    date          TEXT NOT NULL,
    open          REAL NOT NULL DEFAULT 0,
    high          REAL NOT NULL DEFAULT 0,
    low           REAL NOT NULL DEFAULT 0,
    close         REAL NOT NULL DEFAULT 0,
    volume        INTEGER NOT NULL DEFAULT 0,
    turnover_rate REAL NOT NULL DEFAULT 0,
    prev_close    REAL NOT NULL DEFAULT 0,
    pct_change    REAL NOT NULL DEFAULT 0,
    pe_ttm        REAL NOT NULL DEFAULT 0,
    pb_mrq        REAL NOT NULL DEFAULT 0,
    fetched_at    INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (code, date)
);

CREATE INDEX IF NOT EXISTS idx_bars_code_date ON bars(code, date);
`

const cacheSchema = `
CREATE TABLE IF NOT EXISTS scan_cache (
    key              TEXT PRIMARY KEY,
    canonical_config TEXT NOT NULL,
    as_of_date       TEXT NOT NULL,
    matches          BLOB NOT NULL,
    total_scanned    INTEGER NOT NULL DEFAULT 0,
    success_count    INTEGER NOT NULL DEFAULT 0,
    created_at       INTEGER NOT NULL DEFAULT 0,
    updated_at       INTEGER NOT NULL DEFAULT 0
);
`
