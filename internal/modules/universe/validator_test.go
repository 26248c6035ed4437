package universe

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aristath/microcap/internal/config"
	"github.com/aristath/microcap/internal/domain"
)

func floatPtr(v float64) *float64 { return &v }

func TestValidate(t *testing.T) {
	risk := config.RiskConfig{
		MinPrice:     1.0,
		MinAvgVolume: 100000,
		MaxMarketCap: 300_000_000,
	}
	v := NewValidator(risk, []string{"NASDAQ", "NYSE"})

	base := domain.SymbolMeta{
		Symbol:    "AAA",
		LastPrice: 5.0,
		AvgVolume: 250000,
		Exchange:  "NASDAQ",
		Tradable:  true,
	}

	tests := []struct {
		name     string
		mutate   func(m *domain.SymbolMeta)
		expected bool
	}{
		{"all rules pass", func(m *domain.SymbolMeta) {}, true},
		{"disallowed exchange", func(m *domain.SymbolMeta) { m.Exchange = "OTC" }, false},
		{"price below minimum", func(m *domain.SymbolMeta) { m.LastPrice = 0.99 }, false},
		{"price exactly at minimum", func(m *domain.SymbolMeta) { m.LastPrice = 1.0 }, true},
		{"volume below minimum", func(m *domain.SymbolMeta) { m.AvgVolume = 99999 }, false},
		{"not tradable", func(m *domain.SymbolMeta) { m.Tradable = false }, false},
		{"market cap above ceiling", func(m *domain.SymbolMeta) { m.MarketCap = floatPtr(301_000_000) }, false},
		{"market cap at ceiling", func(m *domain.SymbolMeta) { m.MarketCap = floatPtr(300_000_000) }, true},
		{"unknown market cap passes", func(m *domain.SymbolMeta) { m.MarketCap = nil }, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			meta := base
			tc.mutate(&meta)
			assert.Equal(t, tc.expected, v.Validate(meta))
		})
	}
}
