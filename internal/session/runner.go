// Package session orchestrates one full trading session: portfolio snapshot,
// drawdown guard, virtual-equity rebalance, universe refresh, advisory
// voting, allocation, bracket composition and execution.
package session

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/microcap/internal/config"
	"github.com/aristath/microcap/internal/domain"
	"github.com/aristath/microcap/internal/modules/health"
	"github.com/aristath/microcap/internal/modules/news"
	"github.com/aristath/microcap/internal/modules/portfolio"
	"github.com/aristath/microcap/internal/modules/risk"
	"github.com/aristath/microcap/internal/modules/trading"
	"github.com/aristath/microcap/internal/modules/universe"
)

// UniverseSource produces a ranked candidate symbol list.
type UniverseSource interface {
	Build(ctx context.Context) []string
}

// UniverseCache persists the last-known universe across sessions.
type UniverseCache interface {
	Save(symbols []string) error
	Load() ([]string, time.Time)
}

// ConsensusVoter runs one advisory voting round. The ballot count reports
// how many advisors actually answered; zero means no advisory signal exists.
type ConsensusVoter interface {
	Vote(ctx context.Context, prompt string) ([]domain.Intent, string, int)
}

// OrderAllocator sizes agreed intents into executable orders.
type OrderAllocator interface {
	Allocate(buys, sells []domain.Candidate, positions map[string]domain.Position,
		budget config.BudgetConfig, riskCfg config.RiskConfig,
		targetCount int, fillerPool []domain.Candidate) []domain.ValidatedOrder
}

// OrderExecutor submits one order and reports its terminal state.
type OrderExecutor interface {
	Execute(order domain.ValidatedOrder) trading.ExecutionResult
}

// HealthAssessor judges broad-market conditions.
type HealthAssessor interface {
	Assess() health.Assessment
}

// NewsProvider fetches headlines for prompt context.
type NewsProvider interface {
	ForSymbols(symbols []string) map[string][]domain.NewsItem
}

// ThesisKeeper persists the strategy narrative across sessions.
type ThesisKeeper interface {
	Load() (string, error)
	Update(narrative string) (bool, error)
}

// VirtualEquityStore persists the virtual budget ceiling.
type VirtualEquityStore interface {
	GetFloat(key string, fallback float64) (float64, error)
	SetFloat(key string, value float64) error
}

// EquityJournal persists the total-equity series.
type EquityJournal interface {
	Append(cashBalance, totalEquity float64) error
	LatestTotalEquity() (float64, error)
}

// Flattener force-liquidates the whole portfolio.
type Flattener interface {
	FlattenAll() []risk.FlattenResult
}

// Deps collects the session runner's collaborators.
type Deps struct {
	Broker    domain.BrokerClient
	Universe  UniverseSource
	Cache     UniverseCache
	Validator *universe.Validator
	Voter     ConsensusVoter
	Allocator OrderAllocator
	Executor  OrderExecutor
	Guard     Flattener
	Health    HealthAssessor
	News      NewsProvider
	Thesis    ThesisKeeper
	Equity    EquityJournal
	Store     VirtualEquityStore
	Portfolio *portfolio.Service
}

// Result summarizes one completed session.
type Result struct {
	Halted        bool   // drawdown guard tripped, no new allocations
	HaltReason    string
	Orders        []domain.ValidatedOrder
	Executions    []trading.ExecutionResult
	Flattened     []risk.FlattenResult
	Narrative     string
	ThesisChanged bool
	VirtualEquity float64
	DailyChange   float64 // fraction vs the previous session's equity
	Universe      []string
}

// Runner drives the session pipeline.
type Runner struct {
	deps     Deps
	settings config.Settings
	log      zerolog.Logger
}

// NewRunner creates a session runner.
func NewRunner(deps Deps, settings config.Settings, log zerolog.Logger) *Runner {
	return &Runner{
		deps:     deps,
		settings: settings,
		log:      log.With().Str("service", "session").Logger(),
	}
}

// Run executes one full session. The pipeline degrades rather than aborts:
// stale universe, missing news and advisor abstentions narrow the session,
// only broker snapshot failures end it with an error.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	started := time.Now()
	r.log.Info().Bool("dry_run", r.settings.DryRun).Msg("Session starting")

	if open, err := r.deps.Broker.IsMarketOpen(); err != nil {
		r.log.Warn().Err(err).Msg("Market clock unavailable, continuing")
	} else if !open {
		r.log.Warn().Msg("Market is closed, continuing (orders rest until open)")
	}

	snapshot, err := r.deps.Portfolio.LoadSnapshot()
	if err != nil {
		return nil, fmt.Errorf("failed to load portfolio snapshot: %w", err)
	}

	baseline, err := r.deps.Equity.LatestTotalEquity()
	if err != nil {
		r.log.Warn().Err(err).Msg("Equity baseline unavailable, using live equity")
		baseline = 0
	}
	if baseline <= 0 {
		// First run: no persisted series yet, the guard has no baseline
		baseline = snapshot.Equity
	}

	result := &Result{}
	if baseline > 0 {
		result.DailyChange = (snapshot.Equity - baseline) / baseline
	}

	// Drawdown guard runs before any new capital is deployed
	if risk.Breached(baseline, snapshot.Equity, r.settings.Drawdown.MaxDailyLossPct) {
		result.Halted = true
		result.HaltReason = fmt.Sprintf("drawdown %.2f%% exceeds limit %.2f%%",
			-result.DailyChange*100, r.settings.Drawdown.MaxDailyLossPct*100)

		r.log.Error().
			Float64("baseline", baseline).
			Float64("equity", snapshot.Equity).
			Str("reason", result.HaltReason).
			Msg("Drawdown limit breached, halting new allocations")

		if r.settings.Drawdown.AutoFlatten && !r.settings.DryRun {
			result.Flattened = r.deps.Guard.FlattenAll()
		}

		r.recordEquity(snapshot.Cash, snapshot.Equity)
		return result, nil
	}

	virtualEquity := r.loadVirtualEquity()
	result.VirtualEquity = virtualEquity

	budget := r.deriveBudget(virtualEquity, snapshot.Cash)

	symbols := r.refreshUniverse(ctx)
	result.Universe = symbols

	prompt := r.buildPrompt(snapshot, symbols, virtualEquity, budget)

	intents, narrative, ballots := r.deps.Voter.Vote(ctx, prompt)
	result.Narrative = narrative

	// Every advisor failing is not the same as advisors proposing nothing.
	// Without a single ballot there is no signal to trade on, so the session
	// skips allocation (including spread fill) and goes straight to bookkeeping.
	if ballots == 0 {
		r.log.Error().Msg("No advisory ballots received, skipping trading for this session")
		r.recordEquity(snapshot.Cash, snapshot.Equity)
		result.VirtualEquity = r.rebalanceVirtualEquity(virtualEquity, baseline, snapshot.Equity)
		return result, nil
	}

	assessment := r.deps.Health.Assess()
	if !assessment.Healthy {
		intents = dropBuys(intents)
		r.log.Warn().Str("reason", assessment.Reason()).Msg("Market unhealthy, buy intents dropped")
	}

	buys, sells := r.classify(intents, snapshot)
	fillerPool := r.fillerPool(symbols, buys, snapshot)

	orders := r.deps.Allocator.Allocate(buys, sells, snapshot.ByTicker(),
		budget, r.settings.Risk, r.settings.TargetPositions, fillerPool)

	for i := range orders {
		if orders[i].Side == domain.SideBuy {
			orders[i].Bracket = risk.ComposeBracket(orders[i].LimitPrice, r.settings.Brackets)
		}
	}
	result.Orders = orders

	for _, order := range orders {
		result.Executions = append(result.Executions, r.deps.Executor.Execute(order))
	}

	// Fills move cash and equity, so the persisted TOTAL row and the drawdown
	// re-check both need a fresh account, not the start-of-session snapshot.
	// The re-check exists because a breach caused by this session's own orders
	// must still trigger the flatten path.
	finalCash, finalEquity := snapshot.Cash, snapshot.Equity
	if len(result.Executions) > 0 && !r.settings.DryRun {
		if account, err := r.deps.Broker.GetAccount(); err != nil {
			r.log.Warn().Err(err).Msg("Post-trade account refresh failed, recording pre-trade figures")
		} else {
			finalCash, finalEquity = account.Cash, account.Equity
			if risk.Breached(baseline, account.Equity, r.settings.Drawdown.MaxDailyLossPct) {
				r.log.Error().
					Float64("baseline", baseline).
					Float64("equity", account.Equity).
					Msg("Drawdown limit breached after execution")
				if r.settings.Drawdown.AutoFlatten {
					result.Flattened = r.deps.Guard.FlattenAll()
				}
			}
		}
	}

	r.recordEquity(finalCash, finalEquity)

	if narrative != "" {
		changed, err := r.deps.Thesis.Update(narrative)
		if err != nil {
			r.log.Warn().Err(err).Msg("Failed to persist thesis")
		}
		result.ThesisChanged = changed
	}

	// Rebalancing is the last state write of the session: the grown or shrunk
	// ceiling applies to the next session's sizing, never this one's
	result.VirtualEquity = r.rebalanceVirtualEquity(virtualEquity, baseline, finalEquity)

	r.log.Info().
		Int("orders", len(orders)).
		Float64("virtual_equity", virtualEquity).
		Dur("elapsed", time.Since(started)).
		Msg("Session complete")

	return result, nil
}

// loadVirtualEquity loads the persisted ceiling. The configured value seeds
// the very first run only.
func (r *Runner) loadVirtualEquity() float64 {
	virtual, err := r.deps.Store.GetFloat("virtual_equity", r.settings.Budget.VirtualEquity)
	if err != nil {
		r.log.Warn().Err(err).Msg("Virtual equity unavailable, using configured seed")
		virtual = r.settings.Budget.VirtualEquity
	}
	if virtual <= 0 {
		virtual = r.settings.Budget.VirtualEquity
	}
	return virtual
}

// rebalanceVirtualEquity adjusts the ceiling against realized performance and
// persists any change for the next session.
func (r *Runner) rebalanceVirtualEquity(virtual, baseline, currentEquity float64) float64 {
	rebalanced, changed := risk.Rebalance(virtual, baseline, currentEquity, r.settings.Rebalance)
	if !changed {
		return virtual
	}

	r.log.Info().
		Float64("from", virtual).
		Float64("to", rebalanced).
		Msg("Virtual equity rebalanced")
	if err := r.deps.Store.SetFloat("virtual_equity", rebalanced); err != nil {
		r.log.Warn().Err(err).Msg("Failed to persist rebalanced virtual equity")
	}
	return rebalanced
}

// deriveBudget resolves the absolute spend caps for this session. Explicit
// absolute caps win; otherwise they derive from the risk percentages applied
// to the virtual ceiling. The daily cap never exceeds available cash.
func (r *Runner) deriveBudget(virtualEquity, cash float64) config.BudgetConfig {
	budget := r.settings.Budget
	budget.VirtualEquity = virtualEquity

	if budget.MaxDailyAllocationAbs <= 0 {
		budget.MaxDailyAllocationAbs = r.settings.Risk.MaxDailyAllocationPct * virtualEquity
	}
	budget.MaxDailyAllocationAbs = math.Min(budget.MaxDailyAllocationAbs, cash)
	if budget.MaxDailyAllocationAbs < 0 {
		budget.MaxDailyAllocationAbs = 0
	}

	if budget.MaxPosAbs <= 0 {
		budget.MaxPosAbs = r.settings.Risk.MaxPosPct * virtualEquity
	}

	return budget
}

// refreshUniverse builds a fresh universe, falling back to the cached one
// when the scan yields nothing.
func (r *Runner) refreshUniverse(ctx context.Context) []string {
	symbols := r.deps.Universe.Build(ctx)
	if len(symbols) > 0 {
		if err := r.deps.Cache.Save(symbols); err != nil {
			r.log.Warn().Err(err).Msg("Failed to save universe cache")
		}
		return symbols
	}

	cached, savedAt := r.deps.Cache.Load()
	if len(cached) > 0 {
		r.log.Warn().
			Time("saved_at", savedAt).
			Int("size", len(cached)).
			Msg("Universe scan empty, using cached universe")
		return cached
	}

	r.log.Warn().Msg("No universe available, advisory round proceeds without one")
	return nil
}

// classify splits agreed intents into validated buy candidates and sell
// candidates. Buys are validated against the risk rules with fresh metadata;
// sells only need an owned position and a live price.
func (r *Runner) classify(intents []domain.Intent, snapshot *portfolio.Snapshot) (buys, sells []domain.Candidate) {
	held := snapshot.ByTicker()

	for _, intent := range intents {
		price, err := r.deps.Broker.GetLastTradePrice(intent.Ticker)
		if err != nil {
			r.log.Warn().Err(err).Str("ticker", intent.Ticker).Msg("No live price, skipping intent")
			continue
		}

		if intent.Side == domain.SideSell {
			sells = append(sells, domain.Candidate{
				Intent:      intent,
				Price:       price,
				MaxOwnedQty: int(held[intent.Ticker].Shares),
			})
			continue
		}

		meta, ok := r.symbolMeta(intent.Ticker, price)
		if !ok || !r.deps.Validator.Validate(meta) {
			r.log.Info().Str("ticker", intent.Ticker).Msg("Buy intent failed validation, skipping")
			continue
		}

		buys = append(buys, domain.Candidate{Intent: intent, Price: price})
	}

	return buys, sells
}

// symbolMeta assembles fresh per-symbol metadata for validation.
func (r *Runner) symbolMeta(ticker string, price float64) (domain.SymbolMeta, bool) {
	asset, err := r.deps.Broker.GetAsset(ticker)
	if err != nil {
		r.log.Warn().Err(err).Str("ticker", ticker).Msg("Asset lookup failed")
		return domain.SymbolMeta{}, false
	}

	avgVolume := 0.0
	if bars, err := r.deps.Broker.GetRecentBars(ticker, r.settings.Universe.LookbackDays); err == nil && len(bars) > 0 {
		total := 0.0
		for _, b := range bars {
			total += b.Volume
		}
		avgVolume = total / float64(len(bars))
	}

	return domain.SymbolMeta{
		Symbol:    ticker,
		LastPrice: price,
		AvgVolume: avgVolume,
		Exchange:  asset.Exchange,
		Tradable:  asset.Tradable,
	}, true
}

// fillerPool prices universe symbols for spread-fill padding. Skipped
// entirely unless spread fill is enabled.
func (r *Runner) fillerPool(symbols []string, buys []domain.Candidate, snapshot *portfolio.Snapshot) []domain.Candidate {
	if !r.settings.SpreadFill || len(symbols) == 0 {
		return nil
	}

	exclude := make(map[string]bool, len(buys))
	for _, c := range buys {
		exclude[c.Ticker] = true
	}
	for _, p := range snapshot.Positions {
		exclude[p.Symbol] = true
	}

	var want []string
	for _, sym := range symbols {
		if !exclude[sym] {
			want = append(want, sym)
		}
	}
	if len(want) == 0 {
		return nil
	}

	prices, err := r.deps.Broker.GetLatestTradePrices(want)
	if err != nil {
		r.log.Warn().Err(err).Msg("Filler pool pricing failed, skipping spread fill")
		return nil
	}

	pool := make([]domain.Candidate, 0, len(want))
	for _, sym := range want {
		price, ok := prices[sym]
		if !ok || price <= 0 {
			continue
		}
		pool = append(pool, domain.Candidate{
			Intent: domain.Intent{
				Ticker: sym,
				Side:   domain.SideBuy,
				Reason: "spread fill from liquidity-ranked universe",
			},
			Price: price,
		})
	}
	return pool
}

// buildPrompt assembles the shared advisory prompt: budget state, holdings,
// candidate universe, recent headlines and the previous session's thesis.
func (r *Runner) buildPrompt(snapshot *portfolio.Snapshot, symbols []string, virtualEquity float64, budget config.BudgetConfig) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You manage a micro-cap equity portfolio with a virtual budget of $%.2f.\n", virtualEquity)
	fmt.Fprintf(&b, "Cash available: $%.2f. Total account equity: $%.2f.\n", snapshot.Cash, snapshot.Equity)
	fmt.Fprintf(&b, "Daily deployment cap: $%.2f. Per-position cap: $%.2f.\n\n",
		budget.MaxDailyAllocationAbs, budget.MaxPosAbs)

	fmt.Fprintf(&b, "Current holdings (JSON):\n%s\n\n", portfolio.SummarizeForPrompt(snapshot.Positions))

	if len(symbols) > 0 {
		fmt.Fprintf(&b, "Candidate universe, ranked by liquidity:\n%s\n\n", strings.Join(symbols, ", "))
	}

	if r.deps.News != nil {
		watch := append(append([]string{}, snapshot.Tickers()...), topN(symbols, 10)...)
		if headlines := news.SummarizeForPrompt(r.deps.News.ForSymbols(watch)); headlines != "" {
			fmt.Fprintf(&b, "Recent headlines:\n%s\n\n", headlines)
		}
	}

	if previous, err := r.deps.Thesis.Load(); err == nil && previous != "" {
		fmt.Fprintf(&b, "Your previous thesis:\n%s\n\n", previous)
	}

	b.WriteString("Propose orders for today. Only use tickers from the universe or current holdings. " +
		"Share counts are advisory; sizing is decided by the risk engine.")

	return b.String()
}

// recordEquity appends today's figures to the equity series.
func (r *Runner) recordEquity(cash, equity float64) {
	if err := r.deps.Equity.Append(cash, equity); err != nil {
		r.log.Warn().Err(err).Msg("Failed to record equity series")
	}
}

// dropBuys strips buy intents, keeping sells.
func dropBuys(intents []domain.Intent) []domain.Intent {
	out := make([]domain.Intent, 0, len(intents))
	for _, intent := range intents {
		if intent.Side == domain.SideSell {
			out = append(out, intent)
		}
	}
	return out
}

func topN(symbols []string, n int) []string {
	if len(symbols) <= n {
		return symbols
	}
	return symbols[:n]
}
