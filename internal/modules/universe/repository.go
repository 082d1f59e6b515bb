// Package universe provides storage for the instrument universe.
package universe

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantlab/platformscan/internal/database"
	"github.com/quantlab/platformscan/internal/domain"
)

// Repository provides access to the instruments table.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new universe repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("component", "universe_repo").Logger(),
	}
}

// Active returns all active instruments ordered by code. The scan engine
// loads this once per run and treats the slice as immutable.
func (r *Repository) Active() ([]domain.Instrument, error) {
	rows, err := r.db.Query(`
		SELECT code, display_name, industry, is_active
		FROM instruments
		WHERE is_active = 1
		ORDER BY code
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query active instruments: %w", err)
	}
	defer rows.Close()

	return scanInstruments(rows)
}

// Get returns a single instrument by code, or nil when not found.
func (r *Repository) Get(code string) (*domain.Instrument, error) {
	var inst domain.Instrument
	var active int
	err := r.db.QueryRow(`
		SELECT code, display_name, industry, is_active
		FROM instruments WHERE code = ?
	`, code).Scan(&inst.Code, &inst.DisplayName, &inst.Industry, &active)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get instrument %s: %w", code, err)
	}
	inst.IsActive = active != 0
	return &inst, nil
}

// UpsertBatch inserts or replaces instruments in a single transaction.
func (r *Repository) UpsertBatch(instruments []domain.Instrument) error {
	if len(instruments) == 0 {
		return nil
	}

	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO instruments (code, display_name, industry, is_active, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(code) DO UPDATE SET
				display_name = excluded.display_name,
				industry = excluded.industry,
				is_active = excluded.is_active,
				updated_at = excluded.updated_at
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		now := time.Now().Unix()
		for _, inst := range instruments {
			active := 0
			if inst.IsActive {
				active = 1
			}
			if _, err := stmt.Exec(inst.Code, inst.DisplayName, inst.Industry, active, now); err != nil {
				return fmt.Errorf("failed to upsert instrument %s: %w", inst.Code, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.log.Debug().Int("count", len(instruments)).Msg("Upserted instruments")
	return nil
}

// Count returns the total number of instruments.
func (r *Repository) Count() (int, error) {
	var n int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM instruments`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count instruments: %w", err)
	}
	return n, nil
}

func scanInstruments(rows *sql.Rows) ([]domain.Instrument, error) {
	var instruments []domain.Instrument
	for rows.Next() {
		var inst domain.Instrument
		var active int
		if err := rows.Scan(&inst.Code, &inst.DisplayName, &inst.Industry, &active); err != nil {
			return nil, fmt.Errorf("failed to scan instrument: %w", err)
		}
		inst.IsActive = active != 0
		instruments = append(instruments, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating instruments: %w", err)
	}
	return instruments, nil
}
