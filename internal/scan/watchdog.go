package scan

import (
	"time"

	"github.com/rs/zerolog"
)

// Watchdog defaults. The sampling interval and stall threshold are tuned for
// runs of hundreds to thousands of instruments: a stall with most of the
// universe already processed is almost always one stuck network call.
const (
	defaultWatchdogInterval = 10 * time.Second
	defaultStallThreshold   = 0.95
	defaultStallGrace       = 5 * time.Second
)

// Watchdog supervises a running scan by sampling the registry's processed
// count on a timer. If no progress occurs between samples while at least
// stallThreshold of the tasks are already terminal, it declares a hang:
// pending tasks are cancelled and, after a grace period, everything still
// non-terminal is forced to an error so the run can end. A single stuck
// provider call must never prevent the run from terminating.
type Watchdog struct {
	registry  *Registry
	interval  time.Duration
	threshold float64
	grace     time.Duration
	log       zerolog.Logger

	stalled chan struct{}
	stop    chan struct{}
	done    chan struct{}
}

// NewWatchdog creates a watchdog over the given registry.
func NewWatchdog(registry *Registry, log zerolog.Logger) *Watchdog {
	return &Watchdog{
		registry:  registry,
		interval:  defaultWatchdogInterval,
		threshold: defaultStallThreshold,
		grace:     defaultStallGrace,
		log:       log.With().Str("component", "watchdog").Logger(),
		stalled:   make(chan struct{}),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Stalled is closed when the watchdog has declared a hang and finished
// forcing the remaining tasks. The orchestrator selects on it to stop
// waiting for workers.
func (w *Watchdog) Stalled() <-chan struct{} {
	return w.stalled
}

// Start launches the supervision loop.
func (w *Watchdog) Start() {
	go w.run()
}

// Stop terminates the supervision loop and waits for it to exit.
func (w *Watchdog) Stop() {
	select {
	case <-w.done:
		return
	default:
	}
	close(w.stop)
	<-w.done
}

func (w *Watchdog) run() {
	defer close(w.done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	lastProcessed := -1
	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			counts := w.registry.Counts()
			if counts.Processed == counts.Total {
				return // Run is complete; nothing left to supervise.
			}

			noProgress := counts.Processed == lastProcessed
			nearlyDone := float64(counts.Processed) >= w.threshold*float64(counts.Total)
			lastProcessed = counts.Processed

			if noProgress && nearlyDone {
				w.declareHang(counts)
				return
			}
		}
	}
}

// declareHang cancels pending tasks, waits out the grace period for
// in-flight workers to resolve on their own, then forces everything still
// non-terminal into forced-error and signals the orchestrator.
func (w *Watchdog) declareHang(counts Counts) {
	w.log.Warn().
		Int("processed", counts.Processed).
		Int("total", counts.Total).
		Msg("No progress near completion, declaring hang")

	cancelled := w.registry.CancelPending()

	select {
	case <-w.stop:
	case <-time.After(w.grace):
	}

	forced := w.registry.ForceRemaining()
	w.log.Warn().
		Int("cancelled", cancelled).
		Int("forced", forced).
		Msg("Watchdog forced run completion")

	close(w.stalled)
}
