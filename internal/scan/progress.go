package scan

import (
	"sync"
	"time"

	"github.com/quantlab/platformscan/internal/domain"
)

// Reporter emits scan progress through a caller-supplied callback at bounded
// frequency. Percent is monotonically non-decreasing and the final emission
// is always 100, regardless of how the run ended.
type Reporter struct {
	fn          domain.ProgressFunc
	minInterval time.Duration

	mu          sync.Mutex
	lastReport  time.Time
	lastPercent int
	finished    bool
}

// NewReporter creates a progress reporter. A nil callback yields a reporter
// that swallows everything. Throttled to at most one report per 500ms so a
// fast-completing universe cannot flood the sink; 100% always goes through.
func NewReporter(fn domain.ProgressFunc) *Reporter {
	return &Reporter{
		fn:          fn,
		minInterval: 500 * time.Millisecond,
		lastPercent: -1,
	}
}

// Report emits progress for processed-of-total. Percentages lower than an
// earlier report are clamped so a late-arriving sample can never move the
// bar backwards.
func (r *Reporter) Report(processed, total int, message string) {
	if r.fn == nil {
		return
	}

	percent := 100
	if total > 0 {
		percent = processed * 100 / total
	}

	r.mu.Lock()
	if r.finished {
		r.mu.Unlock()
		return
	}
	if percent < r.lastPercent {
		percent = r.lastPercent
	}

	now := time.Now()
	if percent < 100 && now.Sub(r.lastReport) < r.minInterval {
		r.mu.Unlock()
		return
	}
	r.lastReport = now
	r.lastPercent = percent
	if percent == 100 {
		r.finished = true
	}
	r.mu.Unlock()

	r.fn(percent, message)
}

// Finish emits the terminal 100% report with a run summary. Idempotent.
func (r *Reporter) Finish(message string) {
	if r.fn == nil {
		return
	}
	r.mu.Lock()
	if r.finished {
		r.mu.Unlock()
		return
	}
	r.finished = true
	r.lastPercent = 100
	r.mu.Unlock()

	r.fn(100, message)
}
