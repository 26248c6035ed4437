package trading

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/microcap/internal/config"
	"github.com/aristath/microcap/internal/domain"
)

// execBroker is a canned broker for executor tests.
type execBroker struct {
	domain.BrokerClient
	submitErr error
	submitted []domain.OrderRequest
	statuses  []domain.OrderStatusInfo // returned in sequence across polls
	polls     int
}

func (b *execBroker) SubmitOrder(req domain.OrderRequest) (*domain.OrderHandle, error) {
	if b.submitErr != nil {
		return nil, b.submitErr
	}
	b.submitted = append(b.submitted, req)
	return &domain.OrderHandle{OrderID: "oid-1"}, nil
}

func (b *execBroker) GetOrderStatus(orderID string) (*domain.OrderStatusInfo, error) {
	idx := b.polls
	if idx >= len(b.statuses) {
		idx = len(b.statuses) - 1
	}
	b.polls++
	s := b.statuses[idx]
	return &s, nil
}

// memRecorder captures journaled trades.
type memRecorder struct {
	trades []Trade
	err    error
}

func (r *memRecorder) Create(t Trade) error {
	r.trades = append(r.trades, t)
	return r.err
}

func testOrder() domain.ValidatedOrder {
	return domain.ValidatedOrder{
		Ticker:     "AAA",
		Side:       domain.SideBuy,
		Shares:     5,
		LimitPrice: 10.10,
		Reason:     "test",
	}
}

func newTestExecutor(broker domain.BrokerClient, rec TradeRecorder, dryRun bool, attempts int) *Executor {
	e := NewExecutor(broker, rec, config.ExecutionConfig{
		PollAttempts:    attempts,
		PollIntervalSec: 1,
		OrderIDPrefix:   "test",
	}, dryRun, zerolog.Nop())
	e.sleep = func(time.Duration) {}
	return e
}

func TestExecute_DryRunJournalsWithoutSubmitting(t *testing.T) {
	broker := &execBroker{}
	rec := &memRecorder{}

	result := newTestExecutor(broker, rec, true, 3).Execute(testOrder())

	assert.Equal(t, domain.OrderStatusDryRun, result.Status)
	assert.Empty(t, broker.submitted)
	require.Len(t, rec.trades, 1)
	assert.Equal(t, string(domain.OrderStatusDryRun), rec.trades[0].Status)
}

func TestExecute_PollsUntilTerminal(t *testing.T) {
	broker := &execBroker{
		statuses: []domain.OrderStatusInfo{
			{OrderID: "oid-1", Status: domain.OrderStatusNew},
			{OrderID: "oid-1", Status: domain.OrderStatusAccepted},
			{OrderID: "oid-1", Status: domain.OrderStatusFilled, FilledQty: 5, FilledAvgPrice: 10.05},
		},
	}
	rec := &memRecorder{}

	result := newTestExecutor(broker, rec, false, 10).Execute(testOrder())

	assert.Equal(t, domain.OrderStatusFilled, result.Status)
	assert.Equal(t, 5.0, result.FilledQty)
	assert.Equal(t, 10.05, result.FilledAvgPrice)
	assert.Equal(t, 3, broker.polls)

	require.Len(t, broker.submitted, 1)
	assert.Equal(t, "limit", broker.submitted[0].Type)
	assert.Equal(t, "day", broker.submitted[0].TimeInForce)
	assert.Contains(t, broker.submitted[0].ClientOrderID, "test_AAA_")

	require.Len(t, rec.trades, 1)
	assert.Equal(t, "oid-1", rec.trades[0].OrderID)
}

func TestExecute_PendingAfterPollBudget(t *testing.T) {
	broker := &execBroker{
		statuses: []domain.OrderStatusInfo{
			{OrderID: "oid-1", Status: domain.OrderStatusAccepted},
		},
	}
	rec := &memRecorder{}

	result := newTestExecutor(broker, rec, false, 3).Execute(testOrder())

	// Last observed status is reported, never a fabricated terminal one
	assert.Equal(t, domain.OrderStatusAccepted, result.Status)
	assert.Equal(t, 3, broker.polls)
	require.Len(t, rec.trades, 1)
}

func TestExecute_SubmitFailureIsRejected(t *testing.T) {
	broker := &execBroker{submitErr: errors.New("insufficient buying power")}
	rec := &memRecorder{}

	result := newTestExecutor(broker, rec, false, 3).Execute(testOrder())

	assert.Equal(t, domain.OrderStatusRejected, result.Status)
	assert.Error(t, result.Err)
	require.Len(t, rec.trades, 1)
	assert.Equal(t, string(domain.OrderStatusRejected), rec.trades[0].Status)
}

func TestExecute_PartialFillIsTerminal(t *testing.T) {
	broker := &execBroker{
		statuses: []domain.OrderStatusInfo{
			{OrderID: "oid-1", Status: domain.OrderStatusPartiallyFilled, FilledQty: 2, FilledAvgPrice: 10.0},
		},
	}

	result := newTestExecutor(broker, &memRecorder{}, false, 10).Execute(testOrder())

	assert.Equal(t, domain.OrderStatusPartiallyFilled, result.Status)
	assert.Equal(t, 2.0, result.FilledQty)
	assert.Equal(t, 1, broker.polls)
}

func TestClientOrderID_Unique(t *testing.T) {
	a := ClientOrderID("test", "AAA")
	b := ClientOrderID("test", "AAA")

	assert.NotEqual(t, a, b)
	assert.Contains(t, a, "test_AAA_")
}
