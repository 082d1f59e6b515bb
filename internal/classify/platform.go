// Package classify provides the built-in platform-consolidation classifier.
// It is a reference implementation of domain.Classifier: a tight price box
// preceded by a decline, with contracting volume, optionally confirmed by an
// upside breakthrough. Alternative classifiers plug in behind the same
// interface.
package classify

import (
	"fmt"

	"github.com/markcheno/go-talib"
	"gonum.org/v1/gonum/stat"

	"github.com/quantlab/platformscan/internal/domain"
)

// breakthroughVolumeRatio is the volume expansion required on a breakthrough
// day relative to the box's average volume.
const breakthroughVolumeRatio = 1.5

// Platform is the default platform-consolidation classifier. Stateless and
// pure: identical bars and config always produce identical output.
type Platform struct{}

// NewPlatform creates the default classifier.
func NewPlatform() *Platform {
	return &Platform{}
}

// Classify implements domain.Classifier.
func (p *Platform) Classify(bars []domain.Bar, cfg domain.ScanConfig) (domain.Classification, error) {
	out := domain.Classification{BarCount: len(bars), Reasons: map[string]string{}}

	w := cfg.MinWindowDays
	if w <= 0 {
		return out, fmt.Errorf("min window days must be positive, got %d", w)
	}
	if len(bars) < 2*w {
		out.Reasons["history"] = fmt.Sprintf("only %d bars, need at least %d", len(bars), 2*w)
		return out, nil
	}

	n := len(bars)
	highs := make([]float64, n)
	lows := make([]float64, n)
	closes := make([]float64, n)
	volumes := make([]float64, n)
	for i, b := range bars {
		highs[i] = b.High
		lows[i] = b.Low
		closes[i] = b.Close
		volumes[i] = float64(b.Volume)
	}

	rollingMax := talib.Max(highs, w)
	rollingMin := talib.Min(lows, w)
	volSMA := talib.Sma(volumes, w)

	windows := tightWindows(bars, rollingMax, rollingMin, w, cfg.MaxBoxRangePct)
	if len(windows) == 0 {
		out.Reasons["box"] = "no consolidation window within range limit"
		return out, nil
	}
	out.Windows = windows

	// The most recent window is the candidate setup.
	win := windows[len(windows)-1]
	startIdx, endIdx := indexRange(bars, win)

	boxHigh, boxLow := rangeExtremes(highs, lows, startIdx, endIdx)

	// Prior decline: the box must sit below an earlier peak.
	peak := peakClose(closes, startIdx)
	decline := 0.0
	if peak > 0 {
		decline = (peak - closes[startIdx]) / peak
	}
	if decline < cfg.MinDeclinePct {
		out.Reasons["decline"] = fmt.Sprintf("prior decline %.1f%% below required %.1f%%",
			decline*100, cfg.MinDeclinePct*100)
		return out, nil
	}

	// Volume contraction: box volume must shrink versus the preceding period.
	if startIdx >= w && volSMA[startIdx-1] > 0 {
		ratio := stat.Mean(volumes[startIdx:endIdx+1], nil) / volSMA[startIdx-1]
		if ratio > cfg.VolumeShrinkPct {
			out.Reasons["volume"] = fmt.Sprintf("box volume at %.0f%% of prior, above %.0f%% limit",
				ratio*100, cfg.VolumeShrinkPct*100)
			return out, nil
		}
		out.Reasons["volume"] = fmt.Sprintf("box volume contracted to %.0f%% of prior", ratio*100)
	}

	out.IsMatch = true
	if last := bars[n-1]; last.PETTM != 0 || last.PBMRQ != 0 {
		// Carried for the fundamental post filter.
		out.Reasons["valuation"] = fmt.Sprintf("pe=%g pb=%g", last.PETTM, last.PBMRQ)
	}
	out.Reasons["box"] = fmt.Sprintf("%d-day box %.2f-%.2f (range %.1f%%)",
		win.Days, boxLow, boxHigh, (boxHigh-boxLow)/boxLow*100)
	out.Reasons["decline"] = fmt.Sprintf("prior decline %.1f%% from peak %.2f", decline*100, peak)

	out.Marks = []domain.MarkLine{
		{Label: "box_top", Date: win.End, Price: boxHigh},
		{Label: "box_bottom", Date: win.End, Price: boxLow},
	}

	// Breakthrough confirmation on bars after the window.
	boxAvgVol := stat.Mean(volumes[startIdx:endIdx+1], nil)
	breakLevel := boxHigh * (1 + cfg.BreakthroughPct)
	count := 0
	confirmed := false
	for i := endIdx + 1; i < n; i++ {
		if closes[i] >= breakLevel && volumes[i] >= breakthroughVolumeRatio*boxAvgVol {
			count++
			confirmed = i == n-1
			out.Marks = append(out.Marks, domain.MarkLine{
				Label: "breakthrough", Date: bars[i].Date, Price: closes[i],
			})
		}
	}
	if count > 0 {
		out.Reasons["breakthrough"] = fmt.Sprintf("%d breakthrough day(s) above %.2f", count, breakLevel)
	}

	out.Ranking = domain.RankingFields{
		BreakthroughConfirmed: confirmed,
		BreakthroughCount:     count,
		QualityScore:          qualityScore(closes[startIdx : endIdx+1]),
	}
	return out, nil
}

// tightWindows finds consolidation windows: runs of window-end positions
// whose trailing w-bar high/low range stays within maxRange. Consecutive
// qualifying ends merge into one window.
func tightWindows(bars []domain.Bar, rollingMax, rollingMin []float64, w int, maxRange float64) []domain.MatchWindow {
	var windows []domain.MatchWindow
	runStart := -1

	flush := func(endExclusive int) {
		if runStart < 0 {
			return
		}
		startIdx := runStart - w + 1
		endIdx := endExclusive - 1
		windows = append(windows, domain.MatchWindow{
			Start: bars[startIdx].Date,
			End:   bars[endIdx].Date,
			Days:  endIdx - startIdx + 1,
		})
		runStart = -1
	}

	for i := w - 1; i < len(bars); i++ {
		tight := rollingMin[i] > 0 && (rollingMax[i]-rollingMin[i])/rollingMin[i] <= maxRange
		if tight && runStart < 0 {
			runStart = i
		} else if !tight {
			flush(i)
		}
	}
	flush(len(bars))
	return windows
}

// indexRange maps a window's dates back to slice indices.
func indexRange(bars []domain.Bar, win domain.MatchWindow) (int, int) {
	start, end := 0, len(bars)-1
	for i, b := range bars {
		if b.Date.Equal(win.Start) {
			start = i
		}
		if b.Date.Equal(win.End) {
			end = i
		}
	}
	return start, end
}

func rangeExtremes(highs, lows []float64, start, end int) (float64, float64) {
	hi, lo := highs[start], lows[start]
	for i := start + 1; i <= end; i++ {
		if highs[i] > hi {
			hi = highs[i]
		}
		if lows[i] < lo {
			lo = lows[i]
		}
	}
	return hi, lo
}

func peakClose(closes []float64, before int) float64 {
	peak := 0.0
	for i := 0; i < before; i++ {
		if closes[i] > peak {
			peak = closes[i]
		}
	}
	return peak
}

// qualityScore rates how clean the box is: flat slope and low dispersion
// score high. Range 0-100.
func qualityScore(windowCloses []float64) float64 {
	if len(windowCloses) < 2 {
		return 0
	}
	mean := stat.Mean(windowCloses, nil)
	if mean <= 0 {
		return 0
	}
	cv := stat.StdDev(windowCloses, nil) / mean

	xs := make([]float64, len(windowCloses))
	for i := range xs {
		xs[i] = float64(i)
	}
	_, slope := stat.LinearRegression(xs, windowCloses, nil, false)
	relSlope := slope / mean

	score := 100 / (1 + 20*cv + 200*abs(relSlope))
	return score
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
