// Package fetch implements the cache-aware data-acquisition layer. It merges
// locally stored bar ranges with provider queries, fetching only the missing
// sub-ranges and persisting everything new, so that data already known
// locally is never fetched twice.
package fetch

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantlab/platformscan/internal/domain"
	"github.com/quantlab/platformscan/internal/market"
	"github.com/quantlab/platformscan/internal/modules/bars"
)

// minPlausibleDensity is the fraction of calendar days that must be present
// locally for a fully-covered range to be trusted. Trading days are roughly
// 5/7 ≈ 71% of calendar days, so anything under ~30% means an earlier write
// was incomplete. The threshold is a tunable heuristic, not a verified
// invariant; it errs toward re-fetching.
const minPlausibleDensity = 0.30

// thinSpanDays and thinSpanRows flag a second corruption shape: a stored
// min/max spanning months but holding almost no rows.
const (
	thinSpanDays = 30
	thinSpanRows = 10
)

// BarQuerier is the provider-side dependency. Satisfied by provider.Client.
type BarQuerier interface {
	QueryBars(ctx context.Context, code string, start, end time.Time) ([]domain.Bar, error)
}

// BarStore is the storage-side dependency. Satisfied by bars.Repository.
type BarStore interface {
	Range(code string, start, end time.Time) ([]domain.Bar, error)
	SpanWithin(code string, start, end time.Time) (bars.Span, error)
	UpsertBatch(rows []domain.Bar) error
}

// Fetcher implements domain.BarSource over a store and a provider client.
type Fetcher struct {
	store  BarStore
	client BarQuerier
	log    zerolog.Logger
}

// New creates a data-acquisition layer.
func New(store BarStore, client BarQuerier, log zerolog.Logger) *Fetcher {
	return &Fetcher{
		store:  store,
		client: client,
		log:    log.With().Str("component", "fetch").Logger(),
	}
}

// Fetch returns the full bar series for code over rng and a provenance tag.
// Store errors are fatal; provider errors degrade to empty sub-ranges so the
// caller sees partial data instead of a failed instrument.
func (f *Fetcher) Fetch(ctx context.Context, code string, rng domain.FetchRange) ([]domain.Bar, domain.Provenance, error) {
	if rng.IsZero() {
		return nil, domain.ProvenanceStore, fmt.Errorf("invalid fetch range for %s: start after end", code)
	}

	span, err := f.store.SpanWithin(code, rng.Start, rng.End)
	if err != nil {
		return nil, "", err
	}
	stored, err := f.store.Range(code, rng.Start, rng.End)
	if err != nil {
		return nil, "", err
	}

	var missing []domain.FetchRange
	switch {
	case covered(span, rng) && plausible(span, rng):
		return stored, domain.ProvenanceStore, nil
	case covered(span, rng):
		// Fully covered but implausibly sparse: an earlier incomplete write
		// would otherwise poison every later read. Re-fetch the whole range;
		// fetched rows win over stored ones in the merge, and nothing stored
		// is deleted in case the provider is down.
		f.log.Warn().
			Str("code", code).
			Int("rows", span.Count).
			Str("start", rng.Start.Format(domain.DateLayout)).
			Str("end", rng.End.Format(domain.DateLayout)).
			Msg("Stored density implausible, re-fetching full range")
		missing = []domain.FetchRange{rng}
	default:
		missing = gaps(span, rng)
	}

	var fetched []domain.Bar
	for _, gap := range missing {
		trimmed, ok := market.ClampRange(gap)
		if !ok {
			continue // No trading days in the gap, nothing to query.
		}

		rows, err := f.client.QueryBars(ctx, code, trimmed.Start, trimmed.End)
		if err != nil {
			f.log.Warn().
				Err(err).
				Str("code", code).
				Str("start", trimmed.Start.Format(domain.DateLayout)).
				Str("end", trimmed.End.Format(domain.DateLayout)).
				Msg("Provider query exhausted retries, degrading to empty sub-range")
			continue
		}
		fetched = append(fetched, rows...)
	}

	if len(fetched) > 0 {
		if err := f.store.UpsertBatch(fetched); err != nil {
			return nil, "", err
		}
	}

	merged := merge(stored, fetched)

	prov := domain.ProvenanceMixed
	if len(fetched) == 0 {
		prov = domain.ProvenanceStore
	} else if len(stored) == 0 {
		prov = domain.ProvenanceProvider
	}
	return merged, prov, nil
}

// covered reports whether the stored span reaches both edges of the request,
// measured in trading days: bars can only exist on trading days, so coverage
// up to the first/last trading day inside the range is full coverage.
func covered(span bars.Span, rng domain.FetchRange) bool {
	if span.Empty() {
		return false
	}
	trimmed, ok := market.ClampRange(rng)
	if !ok {
		// No trading days requested; whatever is stored covers it.
		return true
	}
	return !span.Min.After(trimmed.Start) && !span.Max.Before(trimmed.End)
}

// plausible applies the density heuristic to a fully-covered range.
func plausible(span bars.Span, rng domain.FetchRange) bool {
	calDays := market.CalendarDays(rng.Start, rng.End)
	if calDays <= 7 {
		return true // Too short for density to mean anything.
	}
	if float64(span.Count) < minPlausibleDensity*float64(calDays) {
		return false
	}
	if market.CalendarDays(span.Min, span.Max) > thinSpanDays && span.Count < thinSpanRows {
		return false
	}
	return true
}

// gaps computes up to two missing sub-ranges: before the stored minimum and
// after the stored maximum, or the whole range when nothing is stored.
func gaps(span bars.Span, rng domain.FetchRange) []domain.FetchRange {
	if span.Empty() {
		return []domain.FetchRange{rng}
	}

	var out []domain.FetchRange
	if rng.Start.Before(span.Min) {
		out = append(out, domain.FetchRange{Start: rng.Start, End: span.Min.AddDate(0, 0, -1)})
	}
	if rng.End.After(span.Max) {
		out = append(out, domain.FetchRange{Start: span.Max.AddDate(0, 0, 1), End: rng.End})
	}
	return out
}

// merge combines stored and freshly fetched rows, dropping duplicate dates
// with the freshly fetched value winning, ordered by date.
func merge(stored, fetched []domain.Bar) []domain.Bar {
	if len(fetched) == 0 && len(stored) == 0 {
		return nil
	}

	byDate := make(map[string]domain.Bar, len(stored)+len(fetched))
	for _, b := range stored {
		byDate[b.DateKey()] = b
	}
	for _, b := range fetched {
		byDate[b.DateKey()] = b
	}

	out := make([]domain.Bar, 0, len(byDate))
	for _, b := range byDate {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}
