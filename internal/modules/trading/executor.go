package trading

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/microcap/internal/config"
	"github.com/aristath/microcap/internal/domain"
)

// TradeRecorder is the journal surface the executor needs.
type TradeRecorder interface {
	Create(t Trade) error
}

// Compile-time check that TradeRepository implements TradeRecorder
var _ TradeRecorder = (*TradeRepository)(nil)

// ExecutionResult is the terminal report for one submitted order. A still
// pending order after the poll budget carries its last observed status.
type ExecutionResult struct {
	Order          domain.ValidatedOrder
	OrderID        string
	ClientOrderID  string
	Status         domain.OrderStatus
	FilledQty      float64
	FilledAvgPrice float64
	Err            error
}

// Executor submits validated orders sequentially and waits for a terminal
// fill status with a bounded poll loop (fixed attempts, fixed interval).
type Executor struct {
	broker domain.BrokerClient
	repo   TradeRecorder
	cfg    config.ExecutionConfig
	dryRun bool
	log    zerolog.Logger
	sleep  func(time.Duration)
}

// NewExecutor creates an order executor.
func NewExecutor(broker domain.BrokerClient, repo TradeRecorder, cfg config.ExecutionConfig, dryRun bool, log zerolog.Logger) *Executor {
	if cfg.PollAttempts <= 0 {
		cfg.PollAttempts = 30
	}
	if cfg.PollIntervalSec <= 0 {
		cfg.PollIntervalSec = 1
	}
	return &Executor{
		broker: broker,
		repo:   repo,
		cfg:    cfg,
		dryRun: dryRun,
		log:    log.With().Str("service", "executor").Logger(),
		sleep:  time.Sleep,
	}
}

// ClientOrderID builds a unique broker-visible order tag.
func ClientOrderID(prefix, symbol string) string {
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return fmt.Sprintf("%s_%s_%s", prefix, symbol, suffix)
}

// Execute submits one order and polls until a terminal status or the poll
// budget is exhausted. Rejections and expirations are recorded in the
// result, never retried within the session.
func (e *Executor) Execute(order domain.ValidatedOrder) ExecutionResult {
	clientID := ClientOrderID(e.cfg.OrderIDPrefix, order.Ticker)

	result := ExecutionResult{
		Order:         order,
		ClientOrderID: clientID,
	}

	e.log.Info().
		Str("ticker", order.Ticker).
		Str("side", string(order.Side)).
		Int("qty", order.Shares).
		Float64("limit_price", order.LimitPrice).
		Bool("dry_run", e.dryRun).
		Msg("Executing order")

	if e.dryRun {
		result.Status = domain.OrderStatusDryRun
		e.record(result)
		return result
	}

	handle, err := e.broker.SubmitOrder(domain.OrderRequest{
		Symbol:        order.Ticker,
		Side:          order.Side,
		Qty:           order.Shares,
		Type:          "limit",
		TimeInForce:   "day",
		LimitPrice:    order.LimitPrice,
		ClientOrderID: clientID,
		Bracket:       order.Bracket,
	})
	if err != nil {
		e.log.Error().Err(err).Str("ticker", order.Ticker).Msg("Order submission failed")
		result.Status = domain.OrderStatusRejected
		result.Err = err
		e.record(result)
		return result
	}

	result.OrderID = handle.OrderID
	result.Status = domain.OrderStatusNew

	// Bounded poll: report the last observed status rather than blocking
	// further orders behind a slow fill
	for attempt := 0; attempt < e.cfg.PollAttempts; attempt++ {
		e.sleep(time.Duration(e.cfg.PollIntervalSec) * time.Second)

		info, err := e.broker.GetOrderStatus(handle.OrderID)
		if err != nil {
			e.log.Debug().Err(err).Str("order_id", handle.OrderID).Msg("Status poll failed, retrying")
			continue
		}

		result.Status = info.Status
		result.FilledQty = info.FilledQty
		result.FilledAvgPrice = info.FilledAvgPrice

		if info.Status.Terminal() {
			break
		}
	}

	if !result.Status.Terminal() {
		e.log.Warn().
			Str("order_id", handle.OrderID).
			Str("status", string(result.Status)).
			Msg("Order still pending after poll budget, reporting last observed status")
	}

	e.log.Info().
		Str("order_id", result.OrderID).
		Str("ticker", order.Ticker).
		Str("status", string(result.Status)).
		Float64("filled_qty", result.FilledQty).
		Msg("Order execution finished")

	e.record(result)
	return result
}

// record journals the execution outcome. Journal failures are logged, not
// propagated - the order was already placed.
func (e *Executor) record(res ExecutionResult) {
	if e.repo == nil {
		return
	}

	err := e.repo.Create(Trade{
		Timestamp:      time.Now().UTC(),
		Ticker:         res.Order.Ticker,
		Side:           res.Order.Side,
		Qty:            res.Order.Shares,
		LimitPrice:     res.Order.LimitPrice,
		FilledQty:      res.FilledQty,
		FilledAvgPrice: res.FilledAvgPrice,
		Status:         string(res.Status),
		OrderID:        res.OrderID,
		ClientOrderID:  res.ClientOrderID,
		Reason:         res.Order.Reason,
	})
	if err != nil {
		e.log.Error().Err(err).Str("ticker", res.Order.Ticker).Msg("Failed to journal trade")
	}
}
