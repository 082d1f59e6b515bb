package scan

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantlab/platformscan/internal/domain"
	"github.com/quantlab/platformscan/internal/market"
)

// Orchestrator owns the worker pool for one scan run. It submits one task
// per instrument, supervises progress through a watchdog, and guarantees
// every submitted task is accounted for exactly once in the final tally.
type Orchestrator struct {
	source     domain.BarSource
	classifier domain.Classifier
	log        zerolog.Logger
}

// NewOrchestrator creates a scan orchestrator.
func NewOrchestrator(source domain.BarSource, classifier domain.Classifier, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		source:     source,
		classifier: classifier,
		log:        log.With().Str("component", "orchestrator").Logger(),
	}
}

// taskOutcome is what a worker's inner goroutine resolves to.
type taskOutcome struct {
	state  TaskState
	result *domain.ScanResult
}

// Run scans the given universe and returns the matches in code-sorted order
// plus the fully-accounted run statistics. The returned counts always
// reconcile: Success+Empty+Error == len(instruments), even when the watchdog
// or the scan deadline forces early termination.
func (o *Orchestrator) Run(ctx context.Context, instruments []domain.Instrument, cfg domain.ScanConfig, progress domain.ProgressFunc) ([]domain.ScanResult, domain.ScanStats) {
	reporter := NewReporter(progress)
	registry := NewRegistry(instruments)

	total := len(instruments)
	if total == 0 {
		reporter.Finish("scan complete: empty universe")
		return nil, domain.ScanStats{}
	}

	deadline := cfg.ScanDeadline
	if deadline <= 0 {
		deadline = 15 * time.Minute
	}
	runCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	workers := cfg.MaxWorkers
	if workers <= 0 {
		workers = 8
	}
	if workers > total {
		workers = total
	}

	var mu sync.Mutex
	var matches []domain.ScanResult

	jobs := make(chan domain.Instrument)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for inst := range jobs {
				if runCtx.Err() != nil {
					continue // Leave the task for the reconciliation sweep.
				}
				o.runTask(runCtx, registry, inst, cfg, &mu, &matches)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, inst := range instruments {
			select {
			case jobs <- inst:
			case <-runCtx.Done():
				return
			}
		}
	}()

	workersDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(workersDone)
	}()

	watchdog := NewWatchdog(registry, o.log)
	watchdog.Start()
	defer watchdog.Stop()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

wait:
	for {
		select {
		case <-workersDone:
			break wait
		case <-watchdog.Stalled():
			o.log.Warn().Msg("Watchdog ended the run, abandoning remaining workers")
			break wait
		case <-runCtx.Done():
			o.log.Warn().Dur("deadline", deadline).Msg("Scan deadline reached, abandoning remaining workers")
			break wait
		case <-ticker.C:
			counts := registry.Counts()
			reporter.Report(counts.Processed, counts.Total,
				fmt.Sprintf("scanned %d/%d instruments", counts.Processed, counts.Total))
		}
	}
	cancel()

	// Final reconciliation sweep: whatever a completion path missed becomes a
	// forced error, so the accounting invariant holds unconditionally.
	registry.CancelPending()
	if forced := registry.ForceRemaining(); forced > 0 {
		o.log.Warn().Int("forced", forced).Msg("Reconciled unfinished tasks as forced errors")
	}

	mu.Lock()
	out := make([]domain.ScanResult, len(matches))
	copy(out, matches)
	mu.Unlock()

	// Determinism anchor: concurrent completion order is not reproducible,
	// so the collected matches are re-sorted by instrument code.
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Instrument.Code < out[j].Instrument.Code
	})

	counts := registry.Counts()
	stats := domain.ScanStats{
		TotalScanned: counts.Total,
		SuccessCount: counts.Success,
		EmptyCount:   counts.Empty,
		ErrorCount:   counts.Error,
		MatchCount:   len(out),
	}

	reporter.Finish(fmt.Sprintf("scan complete: %d scanned, %d ok, %d empty, %d errors, %d matches",
		stats.TotalScanned, stats.SuccessCount, stats.EmptyCount, stats.ErrorCount, stats.MatchCount))

	return out, stats
}

// runTask executes one instrument's fetch + classify under the per-task
// timeout. The inner goroutine cannot always be interrupted (a blocking
// provider call may resolve late); the registry's compare-and-set transition
// guarantees a late result is dropped rather than double-counted.
func (o *Orchestrator) runTask(ctx context.Context, registry *Registry, inst domain.Instrument, cfg domain.ScanConfig, mu *sync.Mutex, matches *[]domain.ScanResult) {
	if !registry.Start(inst.Code) {
		return // Cancelled before a worker reached it.
	}

	taskTimeout := cfg.TaskTimeout
	if taskTimeout <= 0 {
		taskTimeout = 2 * time.Minute
	}

	outcome := make(chan taskOutcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				o.log.Error().Str("code", inst.Code).Interface("panic", p).Msg("Task panicked")
				outcome <- taskOutcome{state: TaskErrored}
			}
		}()
		outcome <- o.execute(ctx, inst, cfg)
	}()

	timer := time.NewTimer(taskTimeout)
	defer timer.Stop()

	select {
	case out := <-outcome:
		if registry.Complete(inst.Code, out.state) && out.result != nil {
			mu.Lock()
			*matches = append(*matches, *out.result)
			mu.Unlock()
		}
	case <-timer.C:
		o.log.Warn().Str("code", inst.Code).Dur("timeout", taskTimeout).Msg("Task timed out")
		registry.Complete(inst.Code, TaskErrored)
	case <-ctx.Done():
		registry.Complete(inst.Code, TaskErrored)
	}
}

// execute performs the fetch and classification for one instrument.
func (o *Orchestrator) execute(ctx context.Context, inst domain.Instrument, cfg domain.ScanConfig) taskOutcome {
	rng := lookbackRange(cfg)

	bars, prov, err := o.source.Fetch(ctx, inst.Code, rng)
	if err != nil {
		o.log.Warn().Err(err).Str("code", inst.Code).Msg("Fetch failed")
		return taskOutcome{state: TaskErrored}
	}
	if len(bars) == 0 {
		return taskOutcome{state: TaskEmpty}
	}

	decision, err := o.classifier.Classify(bars, cfg)
	if err != nil {
		o.log.Warn().Err(err).Str("code", inst.Code).Msg("Classification failed")
		return taskOutcome{state: TaskErrored}
	}

	if !decision.IsMatch {
		return taskOutcome{state: TaskSuccess}
	}
	return taskOutcome{
		state: TaskSuccess,
		result: &domain.ScanResult{
			Instrument: inst,
			Windows:    decision.Windows,
			Reasons:    decision.Reasons,
			Marks:      decision.Marks,
			Ranking:    decision.Ranking,
			Provenance: prov,
		},
	}
}

// lookbackRange derives the fetch range for a run: the lookback window of
// trading days ending on the last trading day before or on the as-of date.
// Trading days are ~5/7 of calendar days, so the start is padded accordingly.
func lookbackRange(cfg domain.ScanConfig) domain.FetchRange {
	asOf := cfg.AsOfDate
	if asOf.IsZero() {
		asOf = time.Now()
	}
	end := market.PrevTradingDay(asOf)
	calendarSpan := cfg.LookbackDays*7/5 + 7
	return domain.FetchRange{Start: end.AddDate(0, 0, -calendarSpan), End: end}
}
