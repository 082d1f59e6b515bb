// Package domain provides core domain models and collaborator interfaces
// for the platform-consolidation scan engine.
package domain

import "time"

// DateLayout is the canonical calendar-date format used throughout the engine.
// Bar dates, fetch ranges and cache keys all use this layout.
const DateLayout = "2006-01-02"

// Provenance records where fetched bar data came from.
type Provenance string

const (
	// ProvenanceStore means every row was already present locally.
	ProvenanceStore Provenance = "store"
	// ProvenanceProvider means every row came from the external provider.
	ProvenanceProvider Provenance = "provider"
	// ProvenanceMixed means the result merges stored and freshly fetched rows.
	ProvenanceMixed Provenance = "mixed"
)

// Instrument is one member of the scan universe. Loaded once per scan and
// immutable for the duration of the run.
type Instrument struct {
	Code        string `json:"code"` // Unique exchange code (e.g. "sh.600000")
	DisplayName string `json:"display_name"`
	Industry    string `json:"industry"`
	IsActive    bool   `json:"is_active"`
}

// Bar is one day's OHLCV + valuation record for an instrument.
// At most one bar exists per (code, date); newer writes replace older ones.
type Bar struct {
	Code         string    `json:"code"`
	Date         time.Time `json:"date"`
	Open         float64   `json:"open"`
	High         float64   `json:"high"`
	Low          float64   `json:"low"`
	Close        float64   `json:"close"`
	Volume       int64     `json:"volume"`
	TurnoverRate float64   `json:"turnover_rate"`
	PrevClose    float64   `json:"prev_close"`
	PctChange    float64   `json:"pct_change"`
	PETTM        float64   `json:"pe_ttm"`
	PBMRQ        float64   `json:"pb_mrq"`
}

// DateKey returns the bar's date in the canonical layout, the uniqueness key
// within a single instrument's series.
func (b Bar) DateKey() string {
	return b.Date.Format(DateLayout)
}

// FetchRange is a calendar-date interval requested from the provider.
// Ranges are trading-day-adjusted before any provider call; a range that
// collapses to zero trading days is a no-op, not an error.
type FetchRange struct {
	Start time.Time
	End   time.Time
}

// IsZero reports whether the range is empty (unset or inverted).
func (r FetchRange) IsZero() bool {
	return r.Start.IsZero() || r.End.IsZero() || r.End.Before(r.Start)
}

// MatchWindow is one consolidation window identified by the classifier,
// expressed as inclusive bar dates.
type MatchWindow struct {
	Start time.Time `json:"start" msgpack:"start"`
	End   time.Time `json:"end" msgpack:"end"`
	Days  int       `json:"days" msgpack:"days"`
}

// MarkLine is a chart annotation attached to a match (box ceiling/floor,
// breakthrough day and similar).
type MarkLine struct {
	Label string    `json:"label" msgpack:"label"`
	Date  time.Time `json:"date" msgpack:"date"`
	Price float64   `json:"price" msgpack:"price"`
}

// RankingFields carries the values the final presentation order is built from.
type RankingFields struct {
	BreakthroughConfirmed bool    `json:"breakthrough_confirmed" msgpack:"breakthrough_confirmed"`
	BreakthroughCount     int     `json:"breakthrough_count" msgpack:"breakthrough_count"`
	QualityScore          float64 `json:"quality_score" msgpack:"quality_score"`
}

// Classification is the classifier's decision for one instrument.
type Classification struct {
	IsMatch  bool              `json:"is_match" msgpack:"is_match"`
	Windows  []MatchWindow     `json:"windows" msgpack:"windows"`
	Reasons  map[string]string `json:"reasons" msgpack:"reasons"`
	Marks    []MarkLine        `json:"marks" msgpack:"marks"`
	Ranking  RankingFields     `json:"ranking" msgpack:"ranking"`
	BarCount int               `json:"bar_count" msgpack:"bar_count"`
}

// ScanResult is one matched instrument with its classification payload.
type ScanResult struct {
	Instrument Instrument     `json:"instrument" msgpack:"instrument"`
	Windows    []MatchWindow  `json:"windows" msgpack:"windows"`
	Reasons    map[string]string `json:"reasons" msgpack:"reasons"`
	Marks      []MarkLine     `json:"marks" msgpack:"marks"`
	Ranking    RankingFields  `json:"ranking" msgpack:"ranking"`
	Provenance Provenance     `json:"provenance" msgpack:"provenance"`
}

// ScanStats is the fully-accounted tally of one scan run.
// SuccessCount + EmptyCount + ErrorCount always equals TotalScanned.
type ScanStats struct {
	TotalScanned int `json:"total_scanned" msgpack:"total_scanned"`
	SuccessCount int `json:"success_count" msgpack:"success_count"`
	EmptyCount   int `json:"empty_count" msgpack:"empty_count"`
	ErrorCount   int `json:"error_count" msgpack:"error_count"`
	MatchCount   int `json:"match_count" msgpack:"match_count"`
}

// ScanConfig is the immutable per-run configuration.
// AsOfDate and CacheEnabled are deliberately excluded from the cache key
// derivation (see scancache.Key): toggling caching or restating the date field
// must never change which cached entries are reused.
type ScanConfig struct {
	// Pattern parameters (consumed by the classifier).
	LookbackDays     int     `json:"lookback_days"`
	MinWindowDays    int     `json:"min_window_days"`
	MaxBoxRangePct   float64 `json:"max_box_range_pct"`
	MinDeclinePct    float64 `json:"min_decline_pct"`
	VolumeShrinkPct  float64 `json:"volume_shrink_pct"`
	BreakthroughPct  float64 `json:"breakthrough_pct"`

	// Engine parameters.
	MaxWorkers       int           `json:"max_workers"`
	QueryTimeout     time.Duration `json:"query_timeout"`
	RetryAttempts    int           `json:"retry_attempts"`
	RetryDelay       time.Duration `json:"retry_delay"`
	TaskTimeout      time.Duration `json:"task_timeout"`
	ScanDeadline     time.Duration `json:"scan_deadline"`

	// Excluded from the cache key.
	AsOfDate     time.Time `json:"as_of_date"`
	CacheEnabled bool      `json:"cache_enabled"`
}

// DefaultScanConfig returns the documented defaults. Callers override fields
// and treat the value as immutable afterwards.
func DefaultScanConfig() ScanConfig {
	return ScanConfig{
		LookbackDays:    120,
		MinWindowDays:   20,
		MaxBoxRangePct:  0.12,
		MinDeclinePct:   0.20,
		VolumeShrinkPct: 0.60,
		BreakthroughPct: 0.03,
		MaxWorkers:      8,
		QueryTimeout:    30 * time.Second,
		RetryAttempts:   3,
		RetryDelay:      2 * time.Second,
		TaskTimeout:     2 * time.Minute,
		ScanDeadline:    15 * time.Minute,
		CacheEnabled:    true,
	}
}
