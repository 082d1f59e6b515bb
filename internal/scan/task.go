// Package scan implements the concurrent scan orchestrator: a bounded worker
// pool supervised by a watchdog, with exactly-once accounting for every
// submitted instrument and deterministic ordering of the output.
package scan

import (
	"sort"
	"sync"

	"github.com/quantlab/platformscan/internal/domain"
)

// TaskState is the lifecycle state of one per-instrument scan task.
type TaskState int

const (
	// TaskSubmitted - queued, no worker has picked it up yet.
	TaskSubmitted TaskState = iota
	// TaskStarted - a worker is fetching and classifying.
	TaskStarted
	// TaskSuccess - classification ran (match or not).
	TaskSuccess
	// TaskEmpty - fetch returned zero bars.
	TaskEmpty
	// TaskErrored - fetch or classification failed, or the task timed out.
	TaskErrored
	// TaskCancelled - cancelled by the watchdog before starting.
	TaskCancelled
	// TaskForcedError - forced terminal by the watchdog or the final sweep.
	TaskForcedError
)

// String returns a human-readable name for the task state.
func (s TaskState) String() string {
	switch s {
	case TaskSubmitted:
		return "submitted"
	case TaskStarted:
		return "started"
	case TaskSuccess:
		return "success"
	case TaskEmpty:
		return "empty"
	case TaskErrored:
		return "error"
	case TaskCancelled:
		return "cancelled"
	case TaskForcedError:
		return "forced-error"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state is final.
func (s TaskState) Terminal() bool {
	switch s {
	case TaskSuccess, TaskEmpty, TaskErrored, TaskCancelled, TaskForcedError:
		return true
	}
	return false
}

// Counts is a snapshot of the registry's terminal tallies. Cancelled and
// forced tasks count as errors: every submitted task lands in exactly one of
// the three buckets, so Success+Empty+Error always equals the universe size
// once the run ends.
type Counts struct {
	Total     int
	Processed int // Tasks in any terminal state
	Success   int
	Empty     int
	Error     int
}

// Registry tracks the lifecycle state of every task in a run. All
// transitions are compare-and-set under one lock, which is what makes the
// exactly-once accounting guarantee hold even when a timed-out task's result
// arrives after the run has logically ended.
type Registry struct {
	mu     sync.Mutex
	states map[string]TaskState
	codes  []string
}

// NewRegistry creates a registry with every instrument in state submitted.
func NewRegistry(instruments []domain.Instrument) *Registry {
	r := &Registry{
		states: make(map[string]TaskState, len(instruments)),
		codes:  make([]string, 0, len(instruments)),
	}
	for _, inst := range instruments {
		if _, dup := r.states[inst.Code]; dup {
			continue
		}
		r.states[inst.Code] = TaskSubmitted
		r.codes = append(r.codes, inst.Code)
	}
	return r
}

// Start transitions a task from submitted to started. Returns false when the
// task was already picked up, cancelled or completed.
func (r *Registry) Start(code string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.states[code] != TaskSubmitted {
		return false
	}
	r.states[code] = TaskStarted
	return true
}

// Complete transitions a task into a terminal state. Returns false when the
// task is already terminal, in which case the caller must discard its result:
// the task has been reconciled once and must never be reconciled twice.
func (r *Registry) Complete(code string, state TaskState) bool {
	if !state.Terminal() {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, known := r.states[code]
	if !known || cur.Terminal() {
		return false
	}
	r.states[code] = state
	return true
}

// CancelPending moves every not-yet-started task to cancelled. Returns how
// many tasks were cancelled.
func (r *Registry) CancelPending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for code, state := range r.states {
		if state == TaskSubmitted {
			r.states[code] = TaskCancelled
			n++
		}
	}
	return n
}

// ForceRemaining moves every non-terminal task to forced-error. This is the
// final reconciliation sweep; after it returns, every task is terminal.
func (r *Registry) ForceRemaining() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for code, state := range r.states {
		if !state.Terminal() {
			r.states[code] = TaskForcedError
			n++
		}
	}
	return n
}

// Counts returns the current terminal tallies.
func (r *Registry) Counts() Counts {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := Counts{Total: len(r.codes)}
	for _, state := range r.states {
		switch state {
		case TaskSuccess:
			c.Success++
		case TaskEmpty:
			c.Empty++
		case TaskErrored, TaskCancelled, TaskForcedError:
			c.Error++
		default:
			continue
		}
		c.Processed++
	}
	return c
}

// Pending returns the codes still in state submitted, sorted for
// deterministic dispatch order.
func (r *Registry) Pending() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for code, state := range r.states {
		if state == TaskSubmitted {
			out = append(out, code)
		}
	}
	sort.Strings(out)
	return out
}

// State returns the current state of one task.
func (r *Registry) State(code string) (TaskState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.states[code]
	return s, ok
}
