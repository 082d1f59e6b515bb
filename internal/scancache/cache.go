// Package scancache stores completed scan results keyed by configuration and
// effective date, letting a repeated scan skip execution entirely.
package scancache

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/quantlab/platformscan/internal/domain"
)

// ErrMiss is returned when no valid cache entry exists for a key.
var ErrMiss = errors.New("scan cache miss")

// Entry is a persisted scan result.
type Entry struct {
	Key       string
	AsOfDate  time.Time
	Matches   []domain.ScanResult
	Stats     domain.ScanStats
	CreatedAt time.Time
	UpdatedAt time.Time
}

// payload is the msgpack-encoded blob stored in the matches column. Stats
// ride along so a hit restores the full run summary, not just the matches.
type payload struct {
	Matches []domain.ScanResult `msgpack:"matches"`
	Stats   domain.ScanStats    `msgpack:"stats"`
}

// Cache wraps the scan_cache table.
type Cache struct {
	db  *sql.DB
	log zerolog.Logger
	now func() time.Time // Injectable clock for validity tests
}

// New creates a result cache over the given cache database connection.
func New(db *sql.DB, log zerolog.Logger) *Cache {
	return &Cache{
		db:  db,
		log: log.With().Str("component", "scan_cache").Logger(),
		now: time.Now,
	}
}

// Get returns the cached entry for (cfg, asOfDate), or ErrMiss. An entry is
// valid only on its creation calendar day: the provider's data is "as of
// yesterday", so finer expiry buys nothing. Stale entries are reported as
// misses, not deleted; the next successful scan overwrites them. An
// unreadable payload is likewise a miss.
func (c *Cache) Get(cfg domain.ScanConfig, asOfDate time.Time) (*Entry, error) {
	key := Key(cfg, asOfDate)

	var blob []byte
	var asOf string
	var createdAt, updatedAt int64
	err := c.db.QueryRow(`
		SELECT as_of_date, matches, created_at, updated_at
		FROM scan_cache WHERE key = ?
	`, key).Scan(&asOf, &blob, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read scan cache: %w", err)
	}

	created := time.Unix(createdAt, 0)
	if !sameDay(created, c.now()) {
		c.log.Debug().Str("key", key[:8]).Msg("Cache entry from a prior day, treating as miss")
		return nil, ErrMiss
	}

	var p payload
	if err := msgpack.Unmarshal(blob, &p); err != nil {
		// Corrupt payload: treat as a miss and let the next scan overwrite it.
		c.log.Warn().Err(err).Str("key", key[:8]).Msg("Unreadable cache payload, treating as miss")
		return nil, ErrMiss
	}

	entry := &Entry{
		Key:       key,
		Matches:   p.Matches,
		Stats:     p.Stats,
		CreatedAt: created,
		UpdatedAt: time.Unix(updatedAt, 0),
	}
	if entry.AsOfDate, err = time.Parse(domain.DateLayout, asOf); err != nil {
		c.log.Warn().Err(err).Str("key", key[:8]).Msg("Unreadable cache as-of date, treating as miss")
		return nil, ErrMiss
	}
	return entry, nil
}

// Set stores (or overwrites) the entry for (cfg, asOfDate).
func (c *Cache) Set(cfg domain.ScanConfig, asOfDate time.Time, matches []domain.ScanResult, stats domain.ScanStats) error {
	key := Key(cfg, asOfDate)

	blob, err := msgpack.Marshal(payload{Matches: matches, Stats: stats})
	if err != nil {
		return fmt.Errorf("failed to encode scan cache payload: %w", err)
	}

	now := c.now().Unix()
	_, err = c.db.Exec(`
		INSERT INTO scan_cache (key, canonical_config, as_of_date, matches,
		                        total_scanned, success_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			canonical_config = excluded.canonical_config,
			as_of_date = excluded.as_of_date,
			matches = excluded.matches,
			total_scanned = excluded.total_scanned,
			success_count = excluded.success_count,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at
	`, key, CanonicalConfig(cfg), asOfDate.Format(domain.DateLayout), blob,
		stats.TotalScanned, stats.SuccessCount, now, now)
	if err != nil {
		return fmt.Errorf("failed to write scan cache: %w", err)
	}

	c.log.Debug().
		Str("key", key[:8]).
		Int("matches", len(matches)).
		Msg("Stored scan result in cache")
	return nil
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
