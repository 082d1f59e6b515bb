// Package filters provides the built-in post-filter pipeline applied to
// orchestrator output before the final presentation ordering.
package filters

import (
	"fmt"

	"github.com/quantlab/platformscan/internal/domain"
)

// Fundamental prunes matches whose valuation sits outside configured bounds.
// A zero bound disables that check. Valuations are taken from the most
// recent bar's trailing metrics carried in the match's reasons payload at
// classification time; instruments with no valuation data pass through. A
// zero metric means the provider did not supply it, so each bound applies
// only when its metric is present.
type Fundamental struct {
	MaxPETTM float64 // Reject PE (TTM) above this; 0 disables
	MinPETTM float64 // Reject PE (TTM) at or below this (negative earnings)
	MaxPBMRQ float64 // Reject PB (MRQ) above this; 0 disables
}

// Name implements domain.PostFilter.
func (f Fundamental) Name() string { return "fundamental" }

// Apply implements domain.PostFilter.
func (f Fundamental) Apply(results []domain.ScanResult) []domain.ScanResult {
	out := results[:0]
	for _, r := range results {
		pe, pb, ok := valuation(r)
		if !ok {
			out = append(out, r)
			continue
		}
		if pe != 0 {
			if f.MaxPETTM > 0 && pe > f.MaxPETTM {
				continue
			}
			if pe <= f.MinPETTM {
				continue
			}
		}
		if pb != 0 && f.MaxPBMRQ > 0 && pb > f.MaxPBMRQ {
			continue
		}
		out = append(out, r)
	}
	return out
}

// IndustryDiversity caps how many matches a single industry may contribute.
// Order-sensitive: with the input code-sorted, the kept subset is
// deterministic across runs.
type IndustryDiversity struct {
	MaxPerIndustry int // 0 disables the cap
}

// Name implements domain.PostFilter.
func (f IndustryDiversity) Name() string { return "industry_diversity" }

// Apply implements domain.PostFilter.
func (f IndustryDiversity) Apply(results []domain.ScanResult) []domain.ScanResult {
	if f.MaxPerIndustry <= 0 {
		return results
	}
	seen := make(map[string]int)
	out := results[:0]
	for _, r := range results {
		industry := r.Instrument.Industry
		if industry == "" {
			out = append(out, r)
			continue
		}
		if seen[industry] >= f.MaxPerIndustry {
			continue
		}
		seen[industry]++
		out = append(out, r)
	}
	return out
}

// valuation extracts PE/PB from a match's ranking payload via its reasons
// map. Classifiers that want fundamental filtering record the latest bar's
// metrics under the "valuation" key as "pe=<v> pb=<v>".
func valuation(r domain.ScanResult) (pe, pb float64, ok bool) {
	raw, exists := r.Reasons["valuation"]
	if !exists {
		return 0, 0, false
	}
	if _, err := fmt.Sscanf(raw, "pe=%f pb=%f", &pe, &pb); err != nil {
		return 0, 0, false
	}
	return pe, pb, true
}
