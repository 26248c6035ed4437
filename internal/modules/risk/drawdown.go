package risk

import (
	"math"

	"github.com/rs/zerolog"

	"github.com/aristath/microcap/internal/domain"
	"github.com/aristath/microcap/internal/modules/trading"
)

// epsilon guards the drawdown division when start equity is non-positive.
// That is a degenerate account state and is treated as non-breaching.
const epsilon = 1e-9

// Breached reports whether the same-session equity loss meets or exceeds
// the configured fraction of session-start equity. A non-positive limit
// disables the guard.
func Breached(startEquity, currentEquity, maxDailyLossPct float64) bool {
	if maxDailyLossPct <= 0 {
		return false
	}
	if startEquity <= 0 {
		return false
	}
	loss := (startEquity - currentEquity) / math.Max(startEquity, epsilon)
	return loss >= maxDailyLossPct
}

// FlattenResult records the outcome of one liquidation order.
type FlattenResult struct {
	Symbol string
	Qty    int
	Side   domain.Side
	Status domain.OrderStatus
	Err    error
}

// LiquidationJournal records the liquidation sweep's orders as one atomic
// batch.
type LiquidationJournal interface {
	CreateBatch(trades []trading.Trade) error
}

// Guard watches for daily drawdown breaches and can force-liquidate the
// whole portfolio when one occurs.
type Guard struct {
	broker  domain.BrokerClient
	journal LiquidationJournal
	log     zerolog.Logger
}

// NewGuard creates a drawdown guard. A nil journal disables liquidation
// journaling.
func NewGuard(broker domain.BrokerClient, journal LiquidationJournal, log zerolog.Logger) *Guard {
	return &Guard{
		broker:  broker,
		journal: journal,
		log:     log.With().Str("service", "drawdown_guard").Logger(),
	}
}

// FlattenAll submits an opposing market order for the full absolute quantity
// of every held position. Best effort: a per-symbol failure is recorded and
// does not halt liquidation of the remaining symbols.
func (g *Guard) FlattenAll() []FlattenResult {
	positions, err := g.broker.GetPositions()
	if err != nil {
		g.log.Error().Err(err).Msg("Cannot list positions for liquidation")
		return nil
	}

	var results []FlattenResult
	var journaled []trading.Trade
	for _, p := range positions {
		side := domain.SideSell
		if p.Shares < 0 {
			side = domain.SideBuy
		}
		qty := int(math.Abs(p.Shares))
		if qty <= 0 {
			continue
		}

		handle, err := g.broker.SubmitOrder(domain.OrderRequest{
			Symbol:      p.Symbol,
			Side:        side,
			Qty:         qty,
			Type:        "market",
			TimeInForce: "day",
		})
		if err != nil {
			g.log.Error().
				Err(err).
				Str("symbol", p.Symbol).
				Msg("Liquidation order failed, continuing with remaining symbols")
			results = append(results, FlattenResult{Symbol: p.Symbol, Qty: qty, Side: side, Err: err})
			continue
		}

		g.log.Warn().
			Str("symbol", p.Symbol).
			Str("order_id", handle.OrderID).
			Int("qty", qty).
			Str("side", string(side)).
			Msg("Liquidation order submitted")

		results = append(results, FlattenResult{
			Symbol: p.Symbol,
			Qty:    qty,
			Side:   side,
			Status: domain.OrderStatusNew,
		})
		journaled = append(journaled, trading.Trade{
			Ticker:  p.Symbol,
			Side:    side,
			Qty:     qty,
			Status:  string(domain.OrderStatusNew),
			OrderID: handle.OrderID,
			Reason:  "drawdown liquidation",
		})
	}

	if g.journal != nil && len(journaled) > 0 {
		if err := g.journal.CreateBatch(journaled); err != nil {
			g.log.Error().Err(err).Msg("Failed to journal liquidation orders")
		}
	}

	return results
}
