// Package bars provides storage for per-instrument daily bar history.
package bars

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantlab/platformscan/internal/database"
	"github.com/quantlab/platformscan/internal/domain"
)

// Span summarizes what is stored locally for one instrument within a range.
type Span struct {
	Min   time.Time // Earliest stored date in the range
	Max   time.Time // Latest stored date in the range
	Count int       // Stored row count in the range
}

// Empty reports whether nothing is stored in the inspected range.
func (s Span) Empty() bool {
	return s.Count == 0
}

// Repository provides access to the bars table.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new bar repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("component", "bar_repo").Logger(),
	}
}

// Range returns stored bars for code within [start, end], ordered by date.
func (r *Repository) Range(code string, start, end time.Time) ([]domain.Bar, error) {
	rows, err := r.db.Query(`
		SELECT code, date, open, high, low, close, volume,
		       turnover_rate, prev_close, pct_change, pe_ttm, pb_mrq
		FROM bars
		WHERE code = ? AND date >= ? AND date <= ?
		ORDER BY date
	`, code, start.Format(domain.DateLayout), end.Format(domain.DateLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to query bars for %s: %w", code, err)
	}
	defer rows.Close()

	var bars []domain.Bar
	for rows.Next() {
		bar, err := scanBar(rows)
		if err != nil {
			return nil, err
		}
		bars = append(bars, bar)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bars for %s: %w", code, err)
	}
	return bars, nil
}

// SpanWithin reports the stored min/max date and row count for code within
// [start, end]. The fetch layer uses this to decide which sub-ranges are
// missing and whether the stored density looks plausible.
func (r *Repository) SpanWithin(code string, start, end time.Time) (Span, error) {
	var minDate, maxDate sql.NullString
	var count int
	err := r.db.QueryRow(`
		SELECT MIN(date), MAX(date), COUNT(*)
		FROM bars
		WHERE code = ? AND date >= ? AND date <= ?
	`, code, start.Format(domain.DateLayout), end.Format(domain.DateLayout)).
		Scan(&minDate, &maxDate, &count)
	if err != nil {
		return Span{}, fmt.Errorf("failed to query bar span for %s: %w", code, err)
	}

	span := Span{Count: count}
	if minDate.Valid {
		if span.Min, err = time.Parse(domain.DateLayout, minDate.String); err != nil {
			return Span{}, fmt.Errorf("corrupt min date for %s: %w", code, err)
		}
	}
	if maxDate.Valid {
		if span.Max, err = time.Parse(domain.DateLayout, maxDate.String); err != nil {
			return Span{}, fmt.Errorf("corrupt max date for %s: %w", code, err)
		}
	}
	return span, nil
}

// UpsertBatch persists bars inside a single transaction. The upsert is
// idempotent on (code, date); re-fetched rows replace whatever was stored.
func (r *Repository) UpsertBatch(bars []domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO bars (code, date, open, high, low, close, volume,
			                  turnover_rate, prev_close, pct_change, pe_ttm, pb_mrq, fetched_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(code, date) DO UPDATE SET
				open = excluded.open,
				high = excluded.high,
				low = excluded.low,
				close = excluded.close,
				volume = excluded.volume,
				turnover_rate = excluded.turnover_rate,
				prev_close = excluded.prev_close,
				pct_change = excluded.pct_change,
				pe_ttm = excluded.pe_ttm,
				pb_mrq = excluded.pb_mrq,
				fetched_at = excluded.fetched_at
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		now := time.Now().Unix()
		for _, b := range bars {
			_, err := stmt.Exec(
				b.Code, b.DateKey(), b.Open, b.High, b.Low, b.Close, b.Volume,
				b.TurnoverRate, b.PrevClose, b.PctChange, b.PETTM, b.PBMRQ, now,
			)
			if err != nil {
				return fmt.Errorf("failed to upsert bar %s/%s: %w", b.Code, b.DateKey(), err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.log.Debug().Int("count", len(bars)).Str("code", bars[0].Code).Msg("Upserted bars")
	return nil
}

func scanBar(rows *sql.Rows) (domain.Bar, error) {
	var b domain.Bar
	var date string
	err := rows.Scan(&b.Code, &date, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume,
		&b.TurnoverRate, &b.PrevClose, &b.PctChange, &b.PETTM, &b.PBMRQ)
	if err != nil {
		return domain.Bar{}, fmt.Errorf("failed to scan bar: %w", err)
	}
	if b.Date, err = time.Parse(domain.DateLayout, date); err != nil {
		return domain.Bar{}, fmt.Errorf("corrupt bar date %q: %w", date, err)
	}
	return b, nil
}
