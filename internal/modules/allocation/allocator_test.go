package allocation

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/microcap/internal/config"
	"github.com/aristath/microcap/internal/domain"
)

func testAllocator(spreadFill bool) *Allocator {
	return New(spreadFill, zerolog.Nop())
}

func buyCandidate(ticker string, price float64) domain.Candidate {
	return domain.Candidate{
		Intent: domain.Intent{Ticker: ticker, Side: domain.SideBuy, Shares: 100, Reason: "test"},
		Price:  price,
	}
}

func TestAllocate_EqualSplitTwoBuys(t *testing.T) {
	budget := config.BudgetConfig{MaxDailyAllocationAbs: 100, MaxPosAbs: 100}
	risk := config.RiskConfig{MaxSymbols: 10}

	orders := testAllocator(false).Allocate(
		[]domain.Candidate{buyCandidate("AAA", 10), buyCandidate("BBB", 20)},
		nil, map[string]domain.Position{}, budget, risk, 2, nil,
	)

	require.Len(t, orders, 2)

	assert.Equal(t, "AAA", orders[0].Ticker)
	assert.Equal(t, 5, orders[0].Shares)
	assert.InDelta(t, 10.10, orders[0].LimitPrice, 1e-9)

	assert.Equal(t, "BBB", orders[1].Ticker)
	assert.Equal(t, 2, orders[1].Shares)
	assert.InDelta(t, 20.20, orders[1].LimitPrice, 1e-9)

	total := orders[0].Cost() + orders[1].Cost()
	assert.LessOrEqual(t, total, budget.MaxDailyAllocationAbs)
}

func TestAllocate_EarlierRankFavoredUnderScarcity(t *testing.T) {
	budget := config.BudgetConfig{MaxDailyAllocationAbs: 30, MaxPosAbs: 100}
	risk := config.RiskConfig{MaxSymbols: 10}

	// perName = 15 each; AAA takes 1 share at 12, BBB at 25 cannot afford one
	orders := testAllocator(false).Allocate(
		[]domain.Candidate{buyCandidate("AAA", 12), buyCandidate("BBB", 25)},
		nil, map[string]domain.Position{}, budget, risk, 2, nil,
	)

	require.Len(t, orders, 1)
	assert.Equal(t, "AAA", orders[0].Ticker)
	assert.Equal(t, 1, orders[0].Shares)
}

func TestAllocate_HardCapClipsSecondOrder(t *testing.T) {
	budget := config.BudgetConfig{MaxDailyAllocationAbs: 1000, MaxPosAbs: 1000}
	risk := config.RiskConfig{MaxSymbols: 10}

	orders := testAllocator(false).Allocate(
		[]domain.Candidate{buyCandidate("AAA", 100), buyCandidate("BBB", 100)},
		nil, map[string]domain.Position{}, budget, risk, 2, nil,
	)

	require.Len(t, orders, 2)
	assert.Equal(t, 5, orders[0].Shares)
	// 505 + 505 at limit 101 would breach the cap, so the second is clipped
	assert.Equal(t, 4, orders[1].Shares)

	total := orders[0].Cost() + orders[1].Cost()
	assert.LessOrEqual(t, total, budget.MaxDailyAllocationAbs)
}

func TestAllocate_HardCapDropsUnaffordableOrder(t *testing.T) {
	budget := config.BudgetConfig{MaxDailyAllocationAbs: 100, MaxPosAbs: 100}
	risk := config.RiskConfig{MaxSymbols: 10}

	// Each sized to 1 share at limit 50.50; second would breach and clips to 0
	orders := testAllocator(false).Allocate(
		[]domain.Candidate{buyCandidate("AAA", 50), buyCandidate("BBB", 50)},
		nil, map[string]domain.Position{}, budget, risk, 2, nil,
	)

	require.Len(t, orders, 1)
	assert.Equal(t, "AAA", orders[0].Ticker)
}

func TestAllocate_PositionRoomBoundsBuy(t *testing.T) {
	budget := config.BudgetConfig{MaxDailyAllocationAbs: 100, MaxPosAbs: 250}
	risk := config.RiskConfig{MaxSymbols: 10}
	positions := map[string]domain.Position{
		"AAA": {Symbol: "AAA", Shares: 80, TotalValue: 240},
	}

	orders := testAllocator(false).Allocate(
		[]domain.Candidate{buyCandidate("AAA", 3)},
		nil, positions, budget, risk, 1, nil,
	)

	require.Len(t, orders, 1)
	// Only $10 of position room remains
	assert.Equal(t, 3, orders[0].Shares)
}

func TestAllocate_FullPositionSkipped(t *testing.T) {
	budget := config.BudgetConfig{MaxDailyAllocationAbs: 100, MaxPosAbs: 200}
	risk := config.RiskConfig{MaxSymbols: 10}
	positions := map[string]domain.Position{
		"AAA": {Symbol: "AAA", Shares: 50, TotalValue: 220},
	}

	orders := testAllocator(false).Allocate(
		[]domain.Candidate{buyCandidate("AAA", 5)},
		nil, positions, budget, risk, 1, nil,
	)

	assert.Empty(t, orders)
}

func TestAllocate_MaxSymbolsBlocksNewName(t *testing.T) {
	budget := config.BudgetConfig{MaxDailyAllocationAbs: 100, MaxPosAbs: 100}
	risk := config.RiskConfig{MaxSymbols: 2}
	positions := map[string]domain.Position{
		"HLD1": {Symbol: "HLD1", Shares: 10, TotalValue: 50},
		"HLD2": {Symbol: "HLD2", Shares: 10, TotalValue: 50},
	}

	orders := testAllocator(false).Allocate(
		[]domain.Candidate{buyCandidate("NEW", 5), buyCandidate("HLD1", 5)},
		nil, positions, budget, risk, 2, nil,
	)

	require.Len(t, orders, 1)
	// Adding to an existing name never increases the symbol count
	assert.Equal(t, "HLD1", orders[0].Ticker)
}

func TestAllocate_SellLiquidatesFullPosition(t *testing.T) {
	budget := config.BudgetConfig{MaxDailyAllocationAbs: 0, MaxPosAbs: 0}
	risk := config.RiskConfig{MaxSymbols: 10}
	positions := map[string]domain.Position{
		"AAA": {Symbol: "AAA", Shares: 7},
	}
	sell := domain.Candidate{
		Intent:      domain.Intent{Ticker: "AAA", Side: domain.SideSell, Shares: 2, Reason: "exit"},
		Price:       10,
		MaxOwnedQty: 7,
	}

	orders := testAllocator(false).Allocate(nil, []domain.Candidate{sell}, positions, budget, risk, 1, nil)

	require.Len(t, orders, 1)
	assert.Equal(t, domain.SideSell, orders[0].Side)
	// Full owned quantity, not the advisory share count
	assert.Equal(t, 7, orders[0].Shares)
	assert.InDelta(t, 9.90, orders[0].LimitPrice, 1e-9)
}

func TestAllocate_SellForUnownedSymbolSkipped(t *testing.T) {
	sell := domain.Candidate{
		Intent: domain.Intent{Ticker: "GHOST", Side: domain.SideSell, Shares: 5},
		Price:  10,
	}

	orders := testAllocator(false).Allocate(nil, []domain.Candidate{sell},
		map[string]domain.Position{}, config.BudgetConfig{}, config.RiskConfig{MaxSymbols: 10}, 1, nil)

	assert.Empty(t, orders)
}

func TestAllocate_InvalidPriceSkipped(t *testing.T) {
	budget := config.BudgetConfig{MaxDailyAllocationAbs: 100, MaxPosAbs: 100}
	risk := config.RiskConfig{MaxSymbols: 10}

	orders := testAllocator(false).Allocate(
		[]domain.Candidate{buyCandidate("BAD", 0), buyCandidate("GOOD", 10)},
		nil, map[string]domain.Position{}, budget, risk, 2, nil,
	)

	require.Len(t, orders, 1)
	assert.Equal(t, "GOOD", orders[0].Ticker)
}

func TestAllocate_SellsDoNotConsumeBuyBudget(t *testing.T) {
	budget := config.BudgetConfig{MaxDailyAllocationAbs: 100, MaxPosAbs: 100}
	risk := config.RiskConfig{MaxSymbols: 10}
	positions := map[string]domain.Position{
		"OLD": {Symbol: "OLD", Shares: 50},
	}
	sell := domain.Candidate{
		Intent:      domain.Intent{Ticker: "OLD", Side: domain.SideSell},
		Price:       100,
		MaxOwnedQty: 50,
	}

	orders := testAllocator(false).Allocate(
		[]domain.Candidate{buyCandidate("NEW", 10)},
		[]domain.Candidate{sell}, positions, budget, risk, 1, nil,
	)

	require.Len(t, orders, 2)
	// The buy still gets the full daily budget: 10 shares sized at the raw
	// price, clipped to 9 by the limit-price cost against the cap
	assert.Equal(t, 9, orders[1].Shares)
}

func TestAllocate_SpreadFillPadsFromPool(t *testing.T) {
	budget := config.BudgetConfig{MaxDailyAllocationAbs: 100, MaxPosAbs: 100}
	risk := config.RiskConfig{MaxSymbols: 10}
	positions := map[string]domain.Position{
		"HELD": {Symbol: "HELD", Shares: 3, TotalValue: 30},
	}
	pool := []domain.Candidate{
		buyCandidate("AAA", 10),   // already a candidate, must be excluded
		buyCandidate("HELD", 10),  // already held, must be excluded
		buyCandidate("FILL1", 10), // eligible
	}

	orders := testAllocator(true).Allocate(
		[]domain.Candidate{buyCandidate("AAA", 10)},
		nil, positions, budget, risk, 2, pool,
	)

	require.Len(t, orders, 2)
	tickers := []string{orders[0].Ticker, orders[1].Ticker}
	assert.Contains(t, tickers, "AAA")
	assert.Contains(t, tickers, "FILL1")
}

func TestAllocate_TruncatesToMaxCandidates(t *testing.T) {
	budget := config.BudgetConfig{MaxDailyAllocationAbs: 1000, MaxPosAbs: 1000}
	risk := config.RiskConfig{MaxSymbols: 2}

	orders := testAllocator(false).Allocate(
		[]domain.Candidate{buyCandidate("AAA", 10), buyCandidate("BBB", 10), buyCandidate("CCC", 10)},
		nil, map[string]domain.Position{}, budget, risk, 2, nil,
	)

	require.Len(t, orders, 2)
	assert.Equal(t, "AAA", orders[0].Ticker)
	assert.Equal(t, "BBB", orders[1].Ticker)
}

func TestAllocate_NoCandidatesYieldsEmpty(t *testing.T) {
	orders := testAllocator(false).Allocate(nil, nil, map[string]domain.Position{},
		config.BudgetConfig{MaxDailyAllocationAbs: 100}, config.RiskConfig{MaxSymbols: 5}, 3, nil)
	assert.Empty(t, orders)
}
