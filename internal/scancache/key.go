package scancache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/quantlab/platformscan/internal/domain"
)

// CanonicalConfig serializes a scan configuration deterministically for cache
// keying. Fields are emitted in a fixed order; the as-of-date field and the
// cache-enable toggle are excluded, so toggling caching never changes which
// entries are reused and the effective date is never double-counted.
func CanonicalConfig(cfg domain.ScanConfig) string {
	pairs := []string{
		fmt.Sprintf("lookback_days=%d", cfg.LookbackDays),
		fmt.Sprintf("min_window_days=%d", cfg.MinWindowDays),
		fmt.Sprintf("max_box_range_pct=%g", cfg.MaxBoxRangePct),
		fmt.Sprintf("min_decline_pct=%g", cfg.MinDeclinePct),
		fmt.Sprintf("volume_shrink_pct=%g", cfg.VolumeShrinkPct),
		fmt.Sprintf("breakthrough_pct=%g", cfg.BreakthroughPct),
	}
	return strings.Join(pairs, "&")
}

// Key derives the deterministic cache key for (config, effective date).
// Identical scans on the same date always collide on the same key.
func Key(cfg domain.ScanConfig, asOfDate time.Time) string {
	data := CanonicalConfig(cfg) + "|" + asOfDate.Format(domain.DateLayout)
	h := sha256.Sum256([]byte(data))
	return hex.EncodeToString(h[:])
}
