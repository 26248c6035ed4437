package universe

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/microcap/internal/config"
	"github.com/aristath/microcap/internal/domain"
)

// scanBroker is a canned broker for universe scan tests.
type scanBroker struct {
	domain.BrokerClient
	assets    []domain.AssetDescriptor
	assetsErr error
	prices    map[string]float64
	volumes   map[string]float64
}

func (b *scanBroker) ListActiveAssets() ([]domain.AssetDescriptor, error) {
	return b.assets, b.assetsErr
}

func (b *scanBroker) GetLatestTradePrices(symbols []string) (map[string]float64, error) {
	out := make(map[string]float64, len(symbols))
	for _, s := range symbols {
		if p, ok := b.prices[s]; ok {
			out[s] = p
		}
	}
	return out, nil
}

func (b *scanBroker) GetRecentBars(symbol string, lookbackDays int) ([]domain.Bar, error) {
	vol, ok := b.volumes[symbol]
	if !ok {
		return nil, errors.New("no bars")
	}
	return []domain.Bar{{Close: 1, Volume: vol}, {Close: 1, Volume: vol}}, nil
}

func scanConfig() config.UniverseConfig {
	return config.UniverseConfig{
		Exchanges:    []string{"NASDAQ"},
		MinPrice:     1.0,
		MaxPrice:     25.0,
		MinAvgVolume: 100000,
		MaxSize:      2,
		MaxScan:      100,
		LookbackDays: 5,
		BatchSize:    10,
		ScanTimeout:  30,
	}
}

func asset(symbol, exchange string, tradable bool) domain.AssetDescriptor {
	return domain.AssetDescriptor{Symbol: symbol, Exchange: exchange, Tradable: tradable}
}

func TestBuild_RanksByLiquidityDescending(t *testing.T) {
	broker := &scanBroker{
		assets: []domain.AssetDescriptor{
			asset("LOW", "NASDAQ", true),
			asset("HIGH", "NASDAQ", true),
			asset("MID", "NASDAQ", true),
		},
		prices:  map[string]float64{"LOW": 5, "HIGH": 5, "MID": 5},
		volumes: map[string]float64{"LOW": 150000, "HIGH": 900000, "MID": 400000},
	}

	symbols := NewBuilder(broker, scanConfig(), zerolog.Nop()).Build(context.Background())

	// Capped at max_size, highest liquidity first
	require.Equal(t, []string{"HIGH", "MID"}, symbols)
}

func TestBuild_FiltersPriceBandAndLiquidity(t *testing.T) {
	broker := &scanBroker{
		assets: []domain.AssetDescriptor{
			asset("CHEAP", "NASDAQ", true),
			asset("RICH", "NASDAQ", true),
			asset("THIN", "NASDAQ", true),
			asset("OK", "NASDAQ", true),
		},
		prices:  map[string]float64{"CHEAP": 0.50, "RICH": 30, "THIN": 5, "OK": 5},
		volumes: map[string]float64{"CHEAP": 500000, "RICH": 500000, "THIN": 50000, "OK": 500000},
	}

	symbols := NewBuilder(broker, scanConfig(), zerolog.Nop()).Build(context.Background())

	require.Equal(t, []string{"OK"}, symbols)
}

func TestBuild_PrefilterExchangeAndTradable(t *testing.T) {
	broker := &scanBroker{
		assets: []domain.AssetDescriptor{
			asset("OTC1", "OTC", true),
			asset("HALT", "NASDAQ", false),
			asset("GOOD", "NASDAQ", true),
		},
		prices:  map[string]float64{"OTC1": 5, "HALT": 5, "GOOD": 5},
		volumes: map[string]float64{"OTC1": 500000, "HALT": 500000, "GOOD": 500000},
	}

	symbols := NewBuilder(broker, scanConfig(), zerolog.Nop()).Build(context.Background())

	require.Equal(t, []string{"GOOD"}, symbols)
}

func TestBuild_MaxScanCountsExaminedEntries(t *testing.T) {
	// The scan cap bounds catalog entries looked at, so entries rejected by
	// the prefilter still consume the budget
	cfg := scanConfig()
	cfg.MaxScan = 2

	broker := &scanBroker{
		assets: []domain.AssetDescriptor{
			asset("OTC1", "OTC", true), // examined, rejected
			asset("AAA", "NASDAQ", true),
			asset("BBB", "NASDAQ", true), // beyond the scan budget
		},
		prices:  map[string]float64{"OTC1": 5, "AAA": 5, "BBB": 5},
		volumes: map[string]float64{"OTC1": 500000, "AAA": 500000, "BBB": 500000},
	}

	symbols := NewBuilder(broker, cfg, zerolog.Nop()).Build(context.Background())

	require.Equal(t, []string{"AAA"}, symbols)
}

func TestBuild_CatalogUnavailableYieldsEmpty(t *testing.T) {
	broker := &scanBroker{assetsErr: errors.New("api down")}

	symbols := NewBuilder(broker, scanConfig(), zerolog.Nop()).Build(context.Background())

	assert.Empty(t, symbols)
}

func TestBuild_MissingBarsSkipsSymbol(t *testing.T) {
	broker := &scanBroker{
		assets:  []domain.AssetDescriptor{asset("NOBARS", "NASDAQ", true), asset("OK", "NASDAQ", true)},
		prices:  map[string]float64{"NOBARS": 5, "OK": 5},
		volumes: map[string]float64{"OK": 500000},
	}

	symbols := NewBuilder(broker, scanConfig(), zerolog.Nop()).Build(context.Background())

	require.Equal(t, []string{"OK"}, symbols)
}

func TestBuild_TieBreaksOnSymbol(t *testing.T) {
	broker := &scanBroker{
		assets:  []domain.AssetDescriptor{asset("ZZZ", "NASDAQ", true), asset("AAA", "NASDAQ", true)},
		prices:  map[string]float64{"ZZZ": 5, "AAA": 5},
		volumes: map[string]float64{"ZZZ": 500000, "AAA": 500000},
	}

	symbols := NewBuilder(broker, scanConfig(), zerolog.Nop()).Build(context.Background())

	require.Equal(t, []string{"AAA", "ZZZ"}, symbols)
}
