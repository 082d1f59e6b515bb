package scan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/quantlab/platformscan/internal/domain"
	"github.com/quantlab/platformscan/internal/scancache"
)

// ResultCache is the result-cache dependency. Satisfied by scancache.Cache.
type ResultCache interface {
	Get(cfg domain.ScanConfig, asOfDate time.Time) (*scancache.Entry, error)
	Set(cfg domain.ScanConfig, asOfDate time.Time, matches []domain.ScanResult, stats domain.ScanStats) error
}

// Scanner is the engine's entry point: cache check, orchestrated scan,
// post-filter pipeline, deterministic ordering, cache population.
type Scanner struct {
	orchestrator *Orchestrator
	cache        ResultCache
	filters      []domain.PostFilter
	log          zerolog.Logger
}

// NewScanner creates a scanner. The filter pipeline may be empty; filters
// run in the given order on code-sorted input.
func NewScanner(orchestrator *Orchestrator, cache ResultCache, filters []domain.PostFilter, log zerolog.Logger) *Scanner {
	return &Scanner{
		orchestrator: orchestrator,
		cache:        cache,
		filters:      filters,
		log:          log.With().Str("component", "scanner").Logger(),
	}
}

// Run executes a scan over the given universe. On a cache hit the stored
// result is returned without executing anything; progress still ends at 100%.
func (s *Scanner) Run(ctx context.Context, instruments []domain.Instrument, cfg domain.ScanConfig, progress domain.ProgressFunc) ([]domain.ScanResult, domain.ScanStats, error) {
	asOf := cfg.AsOfDate
	if asOf.IsZero() {
		asOf = time.Now()
	}
	runID := uuid.New().String()[:8]
	log := s.log.With().Str("run", runID).Logger()

	if cfg.CacheEnabled && s.cache != nil {
		entry, err := s.cache.Get(cfg, asOf)
		switch {
		case err == nil:
			log.Info().
				Int("matches", len(entry.Matches)).
				Str("as_of", asOf.Format(domain.DateLayout)).
				Msg("Scan served from result cache")
			if progress != nil {
				progress(100, fmt.Sprintf("scan served from cache: %d matches", len(entry.Matches)))
			}
			return entry.Matches, entry.Stats, nil
		case errors.Is(err, scancache.ErrMiss):
			// Fall through to a real scan.
		default:
			return nil, domain.ScanStats{}, err
		}
	}

	log.Info().
		Int("universe", len(instruments)).
		Str("as_of", asOf.Format(domain.DateLayout)).
		Msg("Starting scan")
	started := time.Now()

	matches, stats := s.orchestrator.Run(ctx, instruments, cfg, progress)

	// Orchestrator output is already code-sorted; keep that invariant
	// explicit before handing order-sensitive filters their input.
	SortByCode(matches)
	for _, f := range s.filters {
		before := len(matches)
		matches = f.Apply(matches)
		if len(matches) != before {
			log.Debug().
				Str("filter", f.Name()).
				Int("before", before).
				Int("after", len(matches)).
				Msg("Post filter pruned matches")
		}
	}
	PresentationOrder(matches)
	stats.MatchCount = len(matches)

	if cfg.CacheEnabled && s.cache != nil {
		if err := s.cache.Set(cfg, asOf, matches, stats); err != nil {
			return nil, domain.ScanStats{}, err
		}
	}

	log.Info().
		Dur("elapsed", time.Since(started)).
		Int("scanned", stats.TotalScanned).
		Int("ok", stats.SuccessCount).
		Int("empty", stats.EmptyCount).
		Int("errors", stats.ErrorCount).
		Int("matches", stats.MatchCount).
		Msg("Scan finished")

	return matches, stats, nil
}
