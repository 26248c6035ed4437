package health

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/aristath/microcap/internal/config"
	"github.com/aristath/microcap/internal/domain"
)

// healthBroker serves canned bar series per symbol.
type healthBroker struct {
	domain.BrokerClient
	bars map[string][]domain.Bar
}

func (b *healthBroker) GetRecentBars(symbol string, lookbackDays int) ([]domain.Bar, error) {
	bars, ok := b.bars[symbol]
	if !ok {
		return nil, errors.New("no data")
	}
	return bars, nil
}

func flatBars(n int, price float64) []domain.Bar {
	bars := make([]domain.Bar, n)
	for i := range bars {
		bars[i] = domain.Bar{Close: price, Volume: 1000}
	}
	return bars
}

func risingBars(n int, start, step float64) []domain.Bar {
	bars := make([]domain.Bar, n)
	for i := range bars {
		bars[i] = domain.Bar{Close: start + float64(i)*step, Volume: 1000}
	}
	return bars
}

func healthConfig() config.HealthConfig {
	return config.HealthConfig{
		Enabled:       true,
		IndexSymbol:   "SPY",
		SecondSymbol:  "QQQ",
		FearSymbol:    "VIXY",
		FearThreshold: 25.0,
		RSIPeriod:     14,
		RSIOverbought: 80.0,
	}
}

func TestAssess_DisabledIsAlwaysHealthy(t *testing.T) {
	cfg := healthConfig()
	cfg.Enabled = false

	result := NewService(&healthBroker{}, cfg, zerolog.Nop()).Assess()
	assert.True(t, result.Healthy)
}

func TestAssess_CalmMarketIsHealthy(t *testing.T) {
	broker := &healthBroker{bars: map[string][]domain.Bar{
		"SPY":  flatBars(42, 500),
		"QQQ":  flatBars(42, 400),
		"VIXY": {{Close: 20}, {Close: 20.5}},
	}}

	result := NewService(broker, healthConfig(), zerolog.Nop()).Assess()
	assert.True(t, result.Healthy)
}

func TestAssess_OverboughtIndexIsUnhealthy(t *testing.T) {
	broker := &healthBroker{bars: map[string][]domain.Bar{
		// Monotonic rise drives RSI to 100
		"SPY":  risingBars(42, 100, 2),
		"QQQ":  flatBars(42, 400),
		"VIXY": {{Close: 20}, {Close: 20.5}},
	}}

	result := NewService(broker, healthConfig(), zerolog.Nop()).Assess()
	assert.False(t, result.Healthy)
	assert.Contains(t, result.Reason(), "SPY")
}

func TestAssess_ElevatedFearLevelIsUnhealthy(t *testing.T) {
	broker := &healthBroker{bars: map[string][]domain.Bar{
		"SPY":  flatBars(42, 500),
		"QQQ":  flatBars(42, 400),
		"VIXY": {{Close: 20}, {Close: 26}}, // above the 25 threshold
	}}

	result := NewService(broker, healthConfig(), zerolog.Nop()).Assess()
	assert.False(t, result.Healthy)
	assert.Contains(t, result.Reason(), "volatility")
	assert.Equal(t, 26.0, result.FearLevel)
}

func TestAssess_FearGateUsesAbsoluteLevelNotChange(t *testing.T) {
	// A big relative jump that stays below the threshold must not trip the
	// gate; a flat series sitting above it must.
	broker := &healthBroker{bars: map[string][]domain.Bar{
		"SPY":  flatBars(42, 500),
		"QQQ":  flatBars(42, 400),
		"VIXY": {{Close: 12}, {Close: 18}}, // +50% day over day, level still calm
	}}
	result := NewService(broker, healthConfig(), zerolog.Nop()).Assess()
	assert.True(t, result.Healthy)

	broker.bars["VIXY"] = []domain.Bar{{Close: 30}, {Close: 30}} // no move, stressed level
	result = NewService(broker, healthConfig(), zerolog.Nop()).Assess()
	assert.False(t, result.Healthy)
}

func TestAssess_MissingFeedDegradesToHealthy(t *testing.T) {
	result := NewService(&healthBroker{}, healthConfig(), zerolog.Nop()).Assess()
	assert.True(t, result.Healthy)
}
