// Package universe handles the tradable symbol universe: per-symbol
// validation against risk rules, catalog scanning with liquidity ranking,
// and the persisted last-known universe cache.
package universe

import (
	"github.com/aristath/microcap/internal/config"
	"github.com/aristath/microcap/internal/domain"
)

// Validator checks a single symbol's tradability against the configured
// universe rules. It is a pure check - no side effects, no failure modes
// beyond malformed input, which is treated as reject.
type Validator struct {
	risk      config.RiskConfig
	exchanges map[string]bool
}

// NewValidator creates a validator for the given risk rules and allowed
// exchange set.
func NewValidator(risk config.RiskConfig, exchanges []string) *Validator {
	allowed := make(map[string]bool, len(exchanges))
	for _, ex := range exchanges {
		allowed[ex] = true
	}
	return &Validator{risk: risk, exchanges: allowed}
}

// Validate returns true iff the symbol passes every rule: allowed exchange,
// minimum price, minimum average volume, market cap within the ceiling when
// reported, and tradable.
func (v *Validator) Validate(meta domain.SymbolMeta) bool {
	if !v.exchanges[meta.Exchange] {
		return false
	}
	if meta.LastPrice < v.risk.MinPrice {
		return false
	}
	if meta.AvgVolume < v.risk.MinAvgVolume {
		return false
	}
	if meta.MarketCap != nil && *meta.MarketCap > v.risk.MaxMarketCap {
		return false
	}
	return meta.Tradable
}
