// Package allocation turns agreed buy/sell intents into share quantities
// respecting the daily budget, per-position caps and the virtual-equity
// ceiling. Sizing authority lives here and nowhere else: advisory share
// counts are treated as signal markers only.
package allocation

import (
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/microcap/internal/config"
	"github.com/aristath/microcap/internal/domain"
)

// Limit price offsets for marketable-limit orders: buys cross the spread
// slightly above the last trade, sells slightly below.
const (
	buyLimitOffset  = 1.01
	sellLimitOffset = 0.99
)

// Allocator implements the two-pass sizing algorithm: an equal-split pass
// that favors earlier-ranked candidates under scarcity, then a hard-cap clip
// pass that authoritatively enforces the absolute daily ceiling. The second
// pass exists because per-name allocation and position-room capping can each
// independently produce a sum that still exceeds the ceiling through
// floor-rounding slack.
type Allocator struct {
	spreadFill bool
	log        zerolog.Logger
	rng        *rand.Rand
}

// New creates an allocator. When spreadFill is enabled, sparse advisory
// signals are padded with random draws from the validated universe so the
// daily budget is not concentrated into one or two names.
func New(spreadFill bool, log zerolog.Logger) *Allocator {
	return &Allocator{
		spreadFill: spreadFill,
		log:        log.With().Str("service", "allocator").Logger(),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Allocate produces the final order set from validated candidates.
//
// Buys are truncated to max(targetCount, risk.MaxSymbols) preserving
// advisory ranking, optionally spread-filled from fillerPool, sized by equal
// per-name split bounded by position room and remaining budget, then clipped
// against the hard daily cap. Sells always liquidate the full owned quantity
// and do not consume buy budget. Zero qualifying candidates yields an empty
// order list, not an error.
func (a *Allocator) Allocate(
	buys []domain.Candidate,
	sells []domain.Candidate,
	positions map[string]domain.Position,
	budget config.BudgetConfig,
	risk config.RiskConfig,
	targetCount int,
	fillerPool []domain.Candidate,
) []domain.ValidatedOrder {
	if targetCount < 1 {
		targetCount = 1
	}

	maxCandidates := targetCount
	if risk.MaxSymbols > maxCandidates {
		maxCandidates = risk.MaxSymbols
	}
	if len(buys) > maxCandidates {
		a.log.Debug().
			Int("candidates", len(buys)).
			Int("kept", maxCandidates).
			Msg("Truncating buy candidates, advisory ranking preserved")
		buys = buys[:maxCandidates]
	}

	if a.spreadFill && len(buys) < targetCount {
		buys = a.fill(buys, positions, targetCount, fillerPool)
	}

	var orders []domain.ValidatedOrder

	// Sells first: full liquidation of the sell signal, never partial, and
	// never counted against the daily buy budget
	for _, c := range sells {
		qty := c.MaxOwnedQty
		if qty <= 0 {
			qty = int(positions[c.Ticker].Shares)
		}
		if qty <= 0 {
			a.log.Warn().Str("ticker", c.Ticker).Msg("Sell signal for unowned symbol, skipping")
			continue
		}
		if c.Price <= 0 {
			a.log.Warn().Str("ticker", c.Ticker).Float64("price", c.Price).Msg("Invalid price, skipping sell")
			continue
		}

		orders = append(orders, domain.ValidatedOrder{
			Ticker:     c.Ticker,
			Side:       domain.SideSell,
			Shares:     qty,
			Reason:     c.Reason,
			LimitPrice: roundCents(c.Price * sellLimitOffset),
		})
	}

	orders = append(orders, a.allocateBuys(buys, positions, budget, risk, targetCount)...)
	return orders
}

// allocateBuys runs the equal-split pass followed by the hard-cap clip pass.
func (a *Allocator) allocateBuys(
	buys []domain.Candidate,
	positions map[string]domain.Position,
	budget config.BudgetConfig,
	risk config.RiskConfig,
	targetCount int,
) []domain.ValidatedOrder {
	if len(buys) == 0 {
		return nil
	}

	remaining := budget.MaxDailyAllocationAbs
	names := len(buys)
	if targetCount < names {
		names = targetCount
	}
	perName := remaining / float64(names)

	// Distinct post-trade symbol tracking starts from the held portfolio
	symbolsAfter := make(map[string]bool, len(positions))
	for sym, pos := range positions {
		if pos.Shares > 0 {
			symbolsAfter[sym] = true
		}
	}

	var sized []domain.ValidatedOrder

	// Pass 1: equal split, sequential and order-sensitive - earlier-ranked
	// candidates are favored when budget is tight
	for _, c := range buys {
		if c.Price <= 0 {
			a.log.Warn().Str("ticker", c.Ticker).Float64("price", c.Price).Msg("Invalid price, skipping buy")
			continue
		}

		positionRoom := budget.MaxPosAbs - positions[c.Ticker].TotalValue
		if positionRoom < 0 {
			positionRoom = 0
		}

		alloc := math.Min(perName, math.Min(positionRoom, remaining))
		qty := int(math.Floor(alloc / c.Price))
		if qty <= 0 {
			a.log.Debug().
				Str("ticker", c.Ticker).
				Float64("allocation", alloc).
				Msg("Allocation too small for one share, skipping")
			continue
		}

		if !symbolsAfter[c.Ticker] && len(symbolsAfter) >= risk.MaxSymbols {
			a.log.Warn().
				Str("ticker", c.Ticker).
				Int("max_symbols", risk.MaxSymbols).
				Msg("Would exceed max symbol count, skipping")
			continue
		}

		remaining -= float64(qty) * c.Price
		symbolsAfter[c.Ticker] = true

		sized = append(sized, domain.ValidatedOrder{
			Ticker:     c.Ticker,
			Side:       domain.SideBuy,
			Shares:     qty,
			Reason:     c.Reason,
			LimitPrice: roundCents(c.Price * buyLimitOffset),
		})
	}

	// Pass 2: authoritative hard-cap enforcement. Orders are clipped down to
	// the remaining room at their limit price rather than dropped, unless the
	// clipped quantity reaches zero.
	var final []domain.ValidatedOrder
	spent := 0.0
	for _, o := range sized {
		cost := o.Cost()
		if spent+cost > budget.MaxDailyAllocationAbs {
			room := budget.MaxDailyAllocationAbs - spent
			clipped := int(math.Floor(room / o.LimitPrice))
			if clipped <= 0 {
				a.log.Warn().
					Str("ticker", o.Ticker).
					Float64("room", room).
					Msg("Daily cap exhausted, dropping order")
				continue
			}
			a.log.Info().
				Str("ticker", o.Ticker).
				Int("from", o.Shares).
				Int("to", clipped).
				Msg("Clipping order to daily allocation cap")
			o.Shares = clipped
			cost = o.Cost()
		}
		spent += cost
		final = append(final, o)
	}

	return final
}

// fill draws additional candidates at random from the validated universe
// pool, excluding tickers that are already candidates or already held.
// Filler candidates are validated against position room during sizing, not
// before candidacy.
func (a *Allocator) fill(
	buys []domain.Candidate,
	positions map[string]domain.Position,
	targetCount int,
	fillerPool []domain.Candidate,
) []domain.Candidate {
	exclude := make(map[string]bool, len(buys)+len(positions))
	for _, c := range buys {
		exclude[c.Ticker] = true
	}
	for sym, pos := range positions {
		if pos.Shares > 0 {
			exclude[sym] = true
		}
	}

	pool := make([]domain.Candidate, 0, len(fillerPool))
	for _, c := range fillerPool {
		if !exclude[c.Ticker] {
			pool = append(pool, c)
		}
	}

	a.rng.Shuffle(len(pool), func(i, j int) {
		pool[i], pool[j] = pool[j], pool[i]
	})

	added := 0
	for _, c := range pool {
		if len(buys) >= targetCount {
			break
		}
		buys = append(buys, c)
		added++
	}

	if added > 0 {
		a.log.Info().Int("added", added).Msg("Spread-filled sparse advisory signal from universe")
	}
	return buys
}

// roundCents rounds a price to cent precision.
func roundCents(x float64) float64 {
	return math.Round(x*100) / 100
}
