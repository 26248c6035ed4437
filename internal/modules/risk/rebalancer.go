package risk

import (
	"math"

	"github.com/aristath/microcap/internal/config"
)

// Rebalance adjusts the virtual budget ceiling based on realized performance
// drift between base and current equity. The hysteresis band between
// -down_pct and +up_pct leaves the ceiling untouched on small moves,
// preventing oscillation. Any change is quantized to the configured rounding
// step, capped at max_virtual and floored at min_virtual.
//
// This is what decouples sizing decisions from live account equity: exposure
// growth is throttled independently of realized P&L.
func Rebalance(virtualEquity, baseEquity, currentEquity float64, cfg config.RebalanceConfig) (float64, bool) {
	if !cfg.Enabled {
		return virtualEquity, false
	}
	if baseEquity <= 0 {
		return virtualEquity, false
	}

	change := (currentEquity - baseEquity) / baseEquity

	target := virtualEquity
	changed := false

	switch {
	case change >= cfg.UpPct:
		target = math.Min(cfg.MaxVirtual, virtualEquity*(1.0+cfg.UpPct))
		changed = true
	case change <= -cfg.DownPct:
		target = math.Max(cfg.MinVirtual, virtualEquity*(1.0-cfg.DownPct))
		changed = true
	}

	if changed {
		target = roundToStep(target, cfg.RoundTo)
	}

	return target, changed
}

// roundToStep quantizes x to the nearest multiple of step.
func roundToStep(x, step float64) float64 {
	if step <= 0 {
		return x
	}
	return step * math.Round(x/step)
}
