package scan

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantlab/platformscan/internal/domain"
)

// scriptedSource maps instrument codes to canned fetch behavior.
type scriptedSource struct {
	mu    sync.Mutex
	bars  map[string][]domain.Bar
	errs  map[string]error
	block map[string]bool // Fetch blocks until the context is cancelled
	delay time.Duration
}

func (s *scriptedSource) Fetch(ctx context.Context, code string, _ domain.FetchRange) ([]domain.Bar, domain.Provenance, error) {
	s.mu.Lock()
	blocked := s.block[code]
	err := s.errs[code]
	rows := s.bars[code]
	delay := s.delay
	s.mu.Unlock()

	if blocked {
		<-ctx.Done()
		return nil, "", ctx.Err()
	}
	if delay > 0 {
		time.Sleep(time.Duration(rand.Int63n(int64(delay))))
	}
	if err != nil {
		return nil, "", err
	}
	return rows, domain.ProvenanceStore, nil
}

// matchByCode matches every instrument whose code is in the set.
type matchByCode struct {
	match map[string]bool
}

func (c *matchByCode) Classify(bars []domain.Bar, _ domain.ScanConfig) (domain.Classification, error) {
	code := bars[0].Code
	if !c.match[code] {
		return domain.Classification{BarCount: len(bars)}, nil
	}
	return domain.Classification{
		IsMatch:  true,
		BarCount: len(bars),
		Ranking:  domain.RankingFields{QualityScore: 50},
	}, nil
}

func oneBar(code string) []domain.Bar {
	return []domain.Bar{{Code: code, Date: time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC), Close: 10, Volume: 1000}}
}

func fastConfig() domain.ScanConfig {
	cfg := domain.DefaultScanConfig()
	cfg.TaskTimeout = 100 * time.Millisecond
	cfg.ScanDeadline = 5 * time.Second
	cfg.MaxWorkers = 4
	return cfg
}

func TestOrchestrator_MixedOutcomes(t *testing.T) {
	source := &scriptedSource{
		bars:  map[string][]domain.Bar{"sh.600001": nil, "sh.600003": oneBar("sh.600003")},
		block: map[string]bool{"sh.600002": true},
	}
	classifier := &matchByCode{match: map[string]bool{"sh.600003": true}}
	o := NewOrchestrator(source, classifier, zerolog.Nop())

	var finalPercent int
	matches, stats := o.Run(context.Background(),
		universe("sh.600001", "sh.600002", "sh.600003"), fastConfig(),
		func(percent int, _ string) { finalPercent = percent })

	assert.Equal(t, 3, stats.TotalScanned)
	assert.Equal(t, 1, stats.SuccessCount, "the matching instrument")
	assert.Equal(t, 1, stats.EmptyCount, "the zero-row instrument")
	assert.Equal(t, 1, stats.ErrorCount, "the timed-out instrument")
	assert.Equal(t, stats.TotalScanned, stats.SuccessCount+stats.EmptyCount+stats.ErrorCount)

	require.Len(t, matches, 1)
	assert.Equal(t, "sh.600003", matches[0].Instrument.Code)
	assert.Equal(t, 100, finalPercent, "progress always ends at 100")
}

func TestOrchestrator_EmptyUniverse(t *testing.T) {
	o := NewOrchestrator(&scriptedSource{}, &matchByCode{}, zerolog.Nop())

	var finalPercent int
	matches, stats := o.Run(context.Background(), nil, fastConfig(),
		func(percent int, _ string) { finalPercent = percent })

	assert.Empty(t, matches)
	assert.Equal(t, domain.ScanStats{}, stats)
	assert.Equal(t, 100, finalPercent)
}

func TestOrchestrator_AllAccountedFor(t *testing.T) {
	const n = 50
	codes := make([]string, n)
	source := &scriptedSource{bars: map[string][]domain.Bar{}, delay: 2 * time.Millisecond}
	match := map[string]bool{}
	for i := range codes {
		codes[i] = string(rune('a'+i/26)) + string(rune('a'+i%26))
		source.bars[codes[i]] = oneBar(codes[i])
		if i%5 == 0 {
			match[codes[i]] = true
		}
	}
	o := NewOrchestrator(source, &matchByCode{match: match}, zerolog.Nop())

	matches, stats := o.Run(context.Background(), universe(codes...), fastConfig(), nil)

	assert.Equal(t, n, stats.TotalScanned)
	assert.Equal(t, n, stats.SuccessCount)
	assert.Zero(t, stats.EmptyCount)
	assert.Zero(t, stats.ErrorCount)
	assert.Len(t, matches, 10)
}

func TestOrchestrator_DeterministicAcrossRuns(t *testing.T) {
	codes := []string{"sh.600005", "sh.600001", "sh.600004", "sh.600002", "sh.600003"}
	match := map[string]bool{"sh.600001": true, "sh.600003": true, "sh.600005": true}

	run := func() []domain.ScanResult {
		source := &scriptedSource{bars: map[string][]domain.Bar{}, delay: 5 * time.Millisecond}
		for _, c := range codes {
			source.bars[c] = oneBar(c)
		}
		o := NewOrchestrator(source, &matchByCode{match: match}, zerolog.Nop())
		matches, _ := o.Run(context.Background(), universe(codes...), fastConfig(), nil)
		return matches
	}

	first := run()
	for i := 0; i < 3; i++ {
		assert.Equal(t, first, run(), "randomized completion order must not change the output")
	}
	require.Len(t, first, 3)
	assert.Equal(t, "sh.600001", first[0].Instrument.Code)
	assert.Equal(t, "sh.600003", first[1].Instrument.Code)
	assert.Equal(t, "sh.600005", first[2].Instrument.Code)
}

func TestOrchestrator_FetchErrorCountsAsError(t *testing.T) {
	source := &scriptedSource{
		bars: map[string][]domain.Bar{"sh.600001": oneBar("sh.600001")},
		errs: map[string]error{"sh.600002": errors.New("store corrupt")},
	}
	o := NewOrchestrator(source, &matchByCode{}, zerolog.Nop())

	_, stats := o.Run(context.Background(), universe("sh.600001", "sh.600002"), fastConfig(), nil)

	assert.Equal(t, 1, stats.SuccessCount)
	assert.Equal(t, 1, stats.ErrorCount)
	assert.Equal(t, stats.TotalScanned, stats.SuccessCount+stats.EmptyCount+stats.ErrorCount)
}

func TestOrchestrator_CancelledContextStillReconciles(t *testing.T) {
	source := &scriptedSource{block: map[string]bool{"sh.600001": true, "sh.600002": true, "sh.600003": true}}
	o := NewOrchestrator(source, &matchByCode{}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	matches, stats := o.Run(ctx, universe("sh.600001", "sh.600002", "sh.600003"), fastConfig(), nil)

	assert.Empty(t, matches)
	assert.Equal(t, 3, stats.TotalScanned)
	assert.Equal(t, 3, stats.ErrorCount, "abandoned tasks become errors, never silent drops")
	assert.Equal(t, stats.TotalScanned, stats.SuccessCount+stats.EmptyCount+stats.ErrorCount)
}

func TestOrchestrator_PanicInClassifierIsContained(t *testing.T) {
	source := &scriptedSource{bars: map[string][]domain.Bar{
		"sh.600001": oneBar("sh.600001"),
		"sh.600002": oneBar("sh.600002"),
	}}
	o := NewOrchestrator(source, panicClassifier{on: "sh.600002"}, zerolog.Nop())

	matches, stats := o.Run(context.Background(), universe("sh.600001", "sh.600002"), fastConfig(), nil)

	assert.Empty(t, matches)
	assert.Equal(t, 1, stats.SuccessCount)
	assert.Equal(t, 1, stats.ErrorCount, "a panicking task is recovered and counted as an error")
}

type panicClassifier struct {
	on string
}

func (p panicClassifier) Classify(bars []domain.Bar, _ domain.ScanConfig) (domain.Classification, error) {
	if bars[0].Code == p.on {
		panic("index out of range")
	}
	return domain.Classification{}, nil
}
