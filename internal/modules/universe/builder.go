package universe

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/aristath/microcap/internal/config"
	"github.com/aristath/microcap/internal/domain"
)

// scored pairs a symbol with its liquidity score during ranking.
type scored struct {
	symbol string
	score  float64
}

// Builder scans the broker's asset catalog and narrows it to a ranked
// candidate list by liquidity and price band.
//
// Cost bounds: the scan examines at most MaxScan catalog entries, fetches
// quotes in batches, stops early once 2x max_size qualifying candidates have
// accumulated, and gives up at a soft wall-clock timeout. Per-symbol data
// failures skip that symbol; a wholly unavailable catalog yields an empty
// result so the caller can fall back to the cached universe.
type Builder struct {
	broker domain.BrokerClient
	cfg    config.UniverseConfig
	log    zerolog.Logger
}

// NewBuilder creates a universe builder.
func NewBuilder(broker domain.BrokerClient, cfg config.UniverseConfig, log zerolog.Logger) *Builder {
	return &Builder{
		broker: broker,
		cfg:    cfg,
		log:    log.With().Str("service", "universe_builder").Logger(),
	}
}

// Build returns up to max_size symbols ranked by descending liquidity score.
// An empty slice (never an error state) means the data source was unavailable.
func (b *Builder) Build(ctx context.Context) []string {
	assets, err := b.broker.ListActiveAssets()
	if err != nil {
		b.log.Warn().Err(err).Msg("Asset catalog unavailable, universe scan aborted")
		return nil
	}

	symbols := b.prefilter(assets)
	if len(symbols) == 0 {
		b.log.Warn().Msg("No catalog entries passed exchange/tradable prefilter")
		return nil
	}

	deadline := time.Now().Add(time.Duration(b.cfg.ScanTimeout) * time.Second)
	enough := 2 * b.cfg.MaxSize

	batchSize := b.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 50
	}

	var candidates []scored

scan:
	for start := 0; start < len(symbols); start += batchSize {
		select {
		case <-ctx.Done():
			b.log.Warn().Msg("Universe scan cancelled")
			break scan
		default:
		}
		if time.Now().After(deadline) {
			b.log.Warn().
				Int("scanned", start).
				Int("qualified", len(candidates)).
				Msg("Universe scan timeout reached, ranking what we have")
			break scan
		}

		end := start + batchSize
		if end > len(symbols) {
			end = len(symbols)
		}
		batch := symbols[start:end]

		prices, err := b.broker.GetLatestTradePrices(batch)
		if err != nil {
			// Whole batch unavailable - skip it, keep scanning
			b.log.Debug().Err(err).Int("batch_size", len(batch)).Msg("Quote batch failed, skipping")
			continue
		}

		for _, sym := range batch {
			price, ok := prices[sym]
			if !ok || price < b.cfg.MinPrice || price > b.cfg.MaxPrice {
				continue
			}

			score := b.liquidityScore(sym)
			if score < b.cfg.MinAvgVolume {
				continue
			}

			candidates = append(candidates, scored{symbol: sym, score: score})
			if enough > 0 && len(candidates) >= enough {
				b.log.Debug().
					Int("qualified", len(candidates)).
					Msg("Accumulated enough qualifying candidates, ending scan early")
				break scan
			}
		}
	}

	// Rank by descending liquidity, symbol as deterministic tie-break
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].symbol < candidates[j].symbol
	})

	if len(candidates) > b.cfg.MaxSize {
		candidates = candidates[:b.cfg.MaxSize]
	}

	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.symbol
	}

	b.log.Info().Int("size", len(out)).Msg("Universe built")
	return out
}

// prefilter restricts the catalog to allowed exchanges and tradable assets.
// MaxScan bounds the number of catalog entries examined, not the number that
// qualify, so the cost of this pass stays fixed however sparse the catalog is.
func (b *Builder) prefilter(assets []domain.AssetDescriptor) []string {
	allowed := make(map[string]bool, len(b.cfg.Exchanges))
	for _, ex := range b.cfg.Exchanges {
		allowed[ex] = true
	}

	if b.cfg.MaxScan > 0 && len(assets) > b.cfg.MaxScan {
		assets = assets[:b.cfg.MaxScan]
	}

	var symbols []string
	for _, a := range assets {
		if !a.Tradable || !allowed[a.Exchange] {
			continue
		}
		symbols = append(symbols, a.Symbol)
	}
	return symbols
}

// liquidityScore computes the trailing average volume over the lookback
// window. Returns 0 when bars are unavailable, which fails the minimum
// liquidity check and skips the symbol.
func (b *Builder) liquidityScore(symbol string) float64 {
	bars, err := b.broker.GetRecentBars(symbol, b.cfg.LookbackDays)
	if err != nil || len(bars) == 0 {
		return 0
	}

	vols := make([]float64, len(bars))
	for i, bar := range bars {
		vols[i] = bar.Volume
	}
	return stat.Mean(vols, nil)
}
