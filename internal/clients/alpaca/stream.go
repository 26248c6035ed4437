package alpaca

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/aristath/microcap/internal/domain"
)

// TradeUpdater receives trade-status patches from the stream.
type TradeUpdater interface {
	UpdateStatus(orderID string, status domain.OrderStatus, filledQty, filledAvgPrice float64) error
}

// Stream listens on the broker's trade-updates websocket and patches the
// trade journal when fills arrive after the executor's poll budget. It is
// best-effort: the session pipeline never depends on it.
type Stream struct {
	cfg     Config
	updater TradeUpdater
	log     zerolog.Logger
}

// NewStream creates an order-update stream.
func NewStream(cfg Config, updater TradeUpdater, log zerolog.Logger) *Stream {
	return &Stream{
		cfg:     cfg,
		updater: updater,
		log:     log.With().Str("client", "alpaca_stream").Logger(),
	}
}

// Run connects and listens until ctx is canceled, reconnecting with a
// fixed backoff on any connection failure.
func (s *Stream) Run(ctx context.Context) {
	const backoff = 10 * time.Second

	for {
		if err := s.listen(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Warn().Err(err).Dur("backoff", backoff).Msg("Stream disconnected, reconnecting")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}

func (s *Stream) streamURL() string {
	base := strings.Replace(s.cfg.BaseURL, "https://", "wss://", 1)
	return base + "/stream"
}

type streamMessage struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type tradeUpdateData struct {
	Event string `json:"event"`
	Order struct {
		ID             string    `json:"id"`
		Status         string    `json:"status"`
		FilledQty      apiNumber `json:"filled_qty"`
		FilledAvgPrice apiNumber `json:"filled_avg_price"`
	} `json:"order"`
}

func (s *Stream) listen(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, s.streamURL(), nil)
	if err != nil {
		return fmt.Errorf("failed to dial stream: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "shutting down")

	auth := map[string]any{
		"action": "auth",
		"key":    s.cfg.APIKey,
		"secret": s.cfg.APISecret,
	}
	if err := wsjson.Write(ctx, conn, auth); err != nil {
		return fmt.Errorf("failed to authenticate stream: %w", err)
	}

	subscribe := map[string]any{
		"action": "listen",
		"data":   map[string]any{"streams": []string{"trade_updates"}},
	}
	if err := wsjson.Write(ctx, conn, subscribe); err != nil {
		return fmt.Errorf("failed to subscribe to trade updates: %w", err)
	}

	s.log.Info().Msg("Order-update stream connected")

	for {
		var msg streamMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			return fmt.Errorf("stream read failed: %w", err)
		}
		if msg.Stream != "trade_updates" {
			continue
		}

		var update tradeUpdateData
		if err := json.Unmarshal(msg.Data, &update); err != nil {
			s.log.Debug().Err(err).Msg("Unparseable trade update, skipping")
			continue
		}
		s.apply(update)
	}
}

func (s *Stream) apply(update tradeUpdateData) {
	if update.Order.ID == "" || update.Order.Status == "" {
		return
	}

	err := s.updater.UpdateStatus(
		update.Order.ID,
		domain.OrderStatus(update.Order.Status),
		float64(update.Order.FilledQty),
		float64(update.Order.FilledAvgPrice),
	)
	if err != nil {
		s.log.Warn().Err(err).Str("order_id", update.Order.ID).Msg("Failed to patch trade status")
		return
	}

	s.log.Debug().
		Str("order_id", update.Order.ID).
		Str("event", update.Event).
		Str("status", update.Order.Status).
		Msg("Trade status patched from stream")
}
