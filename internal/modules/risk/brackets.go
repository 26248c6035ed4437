// Package risk holds the session-level risk controls: bracket composition,
// the daily drawdown guard and the virtual equity rebalancer.
package risk

import (
	"math"

	"github.com/aristath/microcap/internal/config"
	"github.com/aristath/microcap/internal/domain"
)

// ComposeBracket derives protective exit parameters for a given fill price.
// Returns nil when bracket protection is disabled. A nonzero trailing
// percentage wins over fixed stop/take-profit prices - trailing stops
// recompute dynamically at the venue, so no fixed prices are attached.
func ComposeBracket(fillPrice float64, cfg config.BracketConfig) *domain.BracketSpec {
	if !cfg.UseBracket {
		return nil
	}

	if cfg.TrailingStopPct > 0 {
		return &domain.BracketSpec{
			Trailing: true,
			TrailPct: cfg.TrailingStopPct,
		}
	}

	return &domain.BracketSpec{
		StopPrice:       roundCents(fillPrice * (1 - cfg.StopLossPct)),
		TakeProfitPrice: roundCents(fillPrice * (1 + cfg.TakeProfitPct)),
	}
}

func roundCents(x float64) float64 {
	return math.Round(x*100) / 100
}
