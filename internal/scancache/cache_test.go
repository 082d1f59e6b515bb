package scancache

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantlab/platformscan/internal/domain"
	testdb "github.com/quantlab/platformscan/internal/testing"
)

func newTestCache(t *testing.T) (*Cache, func()) {
	db, cleanup := testdb.NewTestDB(t, "cache")
	return New(db.Conn(), zerolog.Nop()), cleanup
}

func sampleMatches() []domain.ScanResult {
	return []domain.ScanResult{
		{
			Instrument: domain.Instrument{Code: "sh.600000", DisplayName: "SPDB", Industry: "Banking"},
			Windows:    []domain.MatchWindow{{Start: day("2024-02-01"), End: day("2024-03-01"), Days: 21}},
			Reasons:    map[string]string{"valuation": "pe=5.2 pb=0.6"},
			Marks:      []domain.MarkLine{{Label: "box_top", Date: day("2024-03-01"), Price: 7.2}},
			Ranking:    domain.RankingFields{BreakthroughConfirmed: true, BreakthroughCount: 2, QualityScore: 81.5},
			Provenance: domain.ProvenanceMixed,
		},
	}
}

func TestCache_RoundTrip(t *testing.T) {
	cache, cleanup := newTestCache(t)
	defer cleanup()

	cfg := domain.DefaultScanConfig()
	asOf := day("2024-03-08")
	matches := sampleMatches()
	stats := domain.ScanStats{TotalScanned: 100, SuccessCount: 95, EmptyCount: 3, ErrorCount: 2, MatchCount: 1}

	require.NoError(t, cache.Set(cfg, asOf, matches, stats))

	entry, err := cache.Get(cfg, asOf)
	require.NoError(t, err)
	assert.Equal(t, asOf, entry.AsOfDate)
	assert.Equal(t, stats, entry.Stats)
	require.Len(t, entry.Matches, 1)
	got := entry.Matches[0]
	want := matches[0]
	assert.Equal(t, want.Instrument, got.Instrument)
	assert.Equal(t, want.Reasons, got.Reasons)
	assert.Equal(t, want.Ranking, got.Ranking)
	assert.Equal(t, want.Provenance, got.Provenance)
	require.Len(t, got.Windows, 1)
	assert.True(t, want.Windows[0].Start.Equal(got.Windows[0].Start))
	assert.Equal(t, want.Windows[0].Days, got.Windows[0].Days)
}

func TestCache_MissOnUnknownKey(t *testing.T) {
	cache, cleanup := newTestCache(t)
	defer cleanup()

	_, err := cache.Get(domain.DefaultScanConfig(), day("2024-03-08"))
	assert.ErrorIs(t, err, ErrMiss)
}

func TestCache_MissWhenConfigDiffers(t *testing.T) {
	cache, cleanup := newTestCache(t)
	defer cleanup()

	cfg := domain.DefaultScanConfig()
	asOf := day("2024-03-08")
	require.NoError(t, cache.Set(cfg, asOf, nil, domain.ScanStats{}))

	other := cfg
	other.MinDeclinePct = 0.30
	_, err := cache.Get(other, asOf)
	assert.ErrorIs(t, err, ErrMiss)
}

func TestCache_EntryExpiresNextCalendarDay(t *testing.T) {
	cache, cleanup := newTestCache(t)
	defer cleanup()

	cfg := domain.DefaultScanConfig()
	asOf := day("2024-03-08")

	writtenAt := time.Date(2024, 3, 8, 18, 0, 0, 0, time.Local)
	cache.now = func() time.Time { return writtenAt }
	require.NoError(t, cache.Set(cfg, asOf, sampleMatches(), domain.ScanStats{MatchCount: 1}))

	// Still the same calendar day: valid.
	cache.now = func() time.Time { return writtenAt.Add(5 * time.Hour) }
	_, err := cache.Get(cfg, asOf)
	require.NoError(t, err)

	// Next morning: the provider has newer data, the entry is stale.
	cache.now = func() time.Time { return writtenAt.Add(16 * time.Hour) }
	_, err = cache.Get(cfg, asOf)
	assert.ErrorIs(t, err, ErrMiss)
}

func TestCache_OverwriteReplacesEntry(t *testing.T) {
	cache, cleanup := newTestCache(t)
	defer cleanup()

	cfg := domain.DefaultScanConfig()
	asOf := day("2024-03-08")

	require.NoError(t, cache.Set(cfg, asOf, nil, domain.ScanStats{TotalScanned: 10}))
	require.NoError(t, cache.Set(cfg, asOf, sampleMatches(), domain.ScanStats{TotalScanned: 20, MatchCount: 1}))

	entry, err := cache.Get(cfg, asOf)
	require.NoError(t, err)
	assert.Equal(t, 20, entry.Stats.TotalScanned)
	assert.Len(t, entry.Matches, 1)
}

func TestCache_CorruptPayloadIsAMiss(t *testing.T) {
	db, cleanup := testdb.NewTestDB(t, "cache")
	defer cleanup()
	cache := New(db.Conn(), zerolog.Nop())

	cfg := domain.DefaultScanConfig()
	asOf := day("2024-03-08")
	require.NoError(t, cache.Set(cfg, asOf, sampleMatches(), domain.ScanStats{}))

	_, err := db.Conn().Exec(`UPDATE scan_cache SET matches = ? WHERE key = ?`,
		[]byte("not msgpack"), Key(cfg, asOf))
	require.NoError(t, err)

	_, err = cache.Get(cfg, asOf)
	assert.ErrorIs(t, err, ErrMiss, "corruption degrades to a miss, never an error")
}

func TestCache_NilMatchesRoundTrip(t *testing.T) {
	cache, cleanup := newTestCache(t)
	defer cleanup()

	cfg := domain.DefaultScanConfig()
	asOf := day("2024-03-08")
	require.NoError(t, cache.Set(cfg, asOf, nil, domain.ScanStats{TotalScanned: 5, SuccessCount: 5}))

	entry, err := cache.Get(cfg, asOf)
	require.NoError(t, err)
	assert.Empty(t, entry.Matches)
	assert.Equal(t, 5, entry.Stats.TotalScanned)
}
