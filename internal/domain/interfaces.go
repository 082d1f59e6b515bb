package domain

import "context"

// Classifier decides whether a bar series forms a platform consolidation.
// Implementations must be pure given their inputs; they may be slow, which is
// why classification runs inside a scan worker rather than the orchestrator's
// coordination loop.
type Classifier interface {
	Classify(bars []Bar, cfg ScanConfig) (Classification, error)
}

// BarSource returns the full bar series for an instrument over a date range,
// together with a provenance tag describing where the rows came from.
// Implemented by the fetch layer; consumed by scan workers.
type BarSource interface {
	Fetch(ctx context.Context, code string, rng FetchRange) ([]Bar, Provenance, error)
}

// PostFilter prunes orchestrator output before the final deterministic sort.
// Filters run in pipeline order; each receives the previous filter's output.
// Input order is the code-sorted order established by the orchestrator, which
// order-sensitive filters (industry diversity) rely on.
type PostFilter interface {
	Name() string
	Apply(results []ScanResult) []ScanResult
}

// ProgressFunc receives scan progress. Percent is monotonically non-decreasing
// and the final invocation always carries 100, regardless of error counts.
type ProgressFunc func(percent int, message string)
