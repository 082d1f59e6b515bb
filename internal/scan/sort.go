package scan

import (
	"sort"

	"github.com/quantlab/platformscan/internal/domain"
)

// SortByCode stable-sorts results by instrument code. This is the
// determinism anchor applied before any order-sensitive post filter runs.
func SortByCode(results []domain.ScanResult) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Instrument.Code < results[j].Instrument.Code
	})
}

// PresentationOrder applies the final ranking: breakthrough-confirmed
// matches first, then by descending breakthrough-signal count, then by
// descending pattern-quality score. The sort is stable, so ties keep the
// code-sorted order established earlier.
func PresentationOrder(results []domain.ScanResult) {
	sort.SliceStable(results, func(i, j int) bool {
		ri, rj := results[i].Ranking, results[j].Ranking
		if ri.BreakthroughConfirmed != rj.BreakthroughConfirmed {
			return ri.BreakthroughConfirmed
		}
		if ri.BreakthroughCount != rj.BreakthroughCount {
			return ri.BreakthroughCount > rj.BreakthroughCount
		}
		if ri.QualityScore != rj.QualityScore {
			return ri.QualityScore > rj.QualityScore
		}
		return false
	})
}
