// Package alpaca implements the broker client against an Alpaca-compatible
// REST API (trading plus market data).
package alpaca

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/microcap/internal/domain"
)

// Config holds the broker endpoints and credentials.
type Config struct {
	APIKey    string
	APISecret string
	BaseURL   string // trading API
	DataURL   string // market data API
}

// Client is an Alpaca-compatible REST broker client.
type Client struct {
	cfg        Config
	httpClient *http.Client
	log        zerolog.Logger
}

// Compile-time check that Client satisfies the broker interface
var _ domain.BrokerClient = (*Client)(nil)

// NewClient creates a broker client.
func NewClient(cfg Config, log zerolog.Logger) *Client {
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: log.With().Str("client", "alpaca").Logger(),
	}
}

// apiNumber is a JSON number that Alpaca may serialize as a quoted string.
type apiNumber float64

func (n *apiNumber) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid numeric value %q: %w", s, err)
	}
	*n = apiNumber(v)
	return nil
}

func (c *Client) do(method, rawURL string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, rawURL, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("APCA-API-KEY-ID", c.cfg.APIKey)
	req.Header.Set("APCA-API-SECRET-KEY", c.cfg.APISecret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("broker returned %d: %s", resp.StatusCode, truncate(string(data), 200))
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

// GetAccount returns live equity and cash figures.
func (c *Client) GetAccount() (*domain.AccountState, error) {
	var dto struct {
		Equity apiNumber `json:"equity"`
		Cash   apiNumber `json:"cash"`
	}
	if err := c.do(http.MethodGet, c.cfg.BaseURL+"/v2/account", nil, &dto); err != nil {
		return nil, err
	}
	return &domain.AccountState{
		Equity: float64(dto.Equity),
		Cash:   float64(dto.Cash),
	}, nil
}

// GetPositions returns the currently held portfolio.
func (c *Client) GetPositions() ([]domain.Position, error) {
	var dtos []struct {
		Symbol       string    `json:"symbol"`
		Qty          apiNumber `json:"qty"`
		AvgEntry     apiNumber `json:"avg_entry_price"`
		CurrentPrice apiNumber `json:"current_price"`
		MarketValue  apiNumber `json:"market_value"`
	}
	if err := c.do(http.MethodGet, c.cfg.BaseURL+"/v2/positions", nil, &dtos); err != nil {
		return nil, err
	}

	positions := make([]domain.Position, 0, len(dtos))
	for _, dto := range dtos {
		positions = append(positions, domain.Position{
			Symbol:       dto.Symbol,
			Shares:       float64(dto.Qty),
			CostBasis:    float64(dto.AvgEntry),
			CurrentPrice: float64(dto.CurrentPrice),
			TotalValue:   float64(dto.MarketValue),
		})
	}
	return positions, nil
}

// GetAsset returns the catalog descriptor for one symbol.
func (c *Client) GetAsset(symbol string) (*domain.AssetDescriptor, error) {
	var dto struct {
		Symbol   string `json:"symbol"`
		Exchange string `json:"exchange"`
		Tradable bool   `json:"tradable"`
		Status   string `json:"status"`
	}
	err := c.do(http.MethodGet, c.cfg.BaseURL+"/v2/assets/"+url.PathEscape(symbol), nil, &dto)
	if err != nil {
		return nil, err
	}
	return &domain.AssetDescriptor{
		Symbol:   dto.Symbol,
		Exchange: dto.Exchange,
		Tradable: dto.Tradable && dto.Status == "active",
	}, nil
}

// ListActiveAssets returns the active tradable-equity catalog.
func (c *Client) ListActiveAssets() ([]domain.AssetDescriptor, error) {
	var dtos []struct {
		Symbol   string `json:"symbol"`
		Exchange string `json:"exchange"`
		Tradable bool   `json:"tradable"`
	}
	err := c.do(http.MethodGet, c.cfg.BaseURL+"/v2/assets?status=active&asset_class=us_equity", nil, &dtos)
	if err != nil {
		return nil, err
	}

	assets := make([]domain.AssetDescriptor, 0, len(dtos))
	for _, dto := range dtos {
		assets = append(assets, domain.AssetDescriptor{
			Symbol:   dto.Symbol,
			Exchange: dto.Exchange,
			Tradable: dto.Tradable,
		})
	}
	return assets, nil
}

// GetLastTradePrice returns the latest trade price for one symbol.
func (c *Client) GetLastTradePrice(symbol string) (float64, error) {
	var dto struct {
		Trade struct {
			Price apiNumber `json:"p"`
		} `json:"trade"`
	}
	endpoint := fmt.Sprintf("%s/v2/stocks/%s/trades/latest", c.cfg.DataURL, url.PathEscape(symbol))
	if err := c.do(http.MethodGet, endpoint, nil, &dto); err != nil {
		return 0, err
	}
	if dto.Trade.Price <= 0 {
		return 0, fmt.Errorf("no trade price available for %s", symbol)
	}
	return float64(dto.Trade.Price), nil
}

// GetLatestTradePrices returns latest trade prices for a batch of symbols.
func (c *Client) GetLatestTradePrices(symbols []string) (map[string]float64, error) {
	if len(symbols) == 0 {
		return map[string]float64{}, nil
	}

	var dto struct {
		Trades map[string]struct {
			Price apiNumber `json:"p"`
		} `json:"trades"`
	}
	endpoint := fmt.Sprintf("%s/v2/stocks/trades/latest?symbols=%s",
		c.cfg.DataURL, url.QueryEscape(strings.Join(symbols, ",")))
	if err := c.do(http.MethodGet, endpoint, nil, &dto); err != nil {
		return nil, err
	}

	prices := make(map[string]float64, len(dto.Trades))
	for symbol, trade := range dto.Trades {
		if trade.Price > 0 {
			prices[symbol] = float64(trade.Price)
		}
	}
	return prices, nil
}

// GetRecentBars returns up to lookbackDays daily bars, oldest first.
func (c *Client) GetRecentBars(symbol string, lookbackDays int) ([]domain.Bar, error) {
	if lookbackDays <= 0 {
		lookbackDays = 20
	}

	// Calendar window is padded: weekends and holidays thin out trading days
	start := time.Now().UTC().AddDate(0, 0, -lookbackDays*2-5)
	endpoint := fmt.Sprintf("%s/v2/stocks/%s/bars?timeframe=1Day&start=%s&limit=%d&adjustment=raw&feed=iex",
		c.cfg.DataURL, url.PathEscape(symbol), start.Format("2006-01-02"), lookbackDays)

	var dto struct {
		Bars []struct {
			Close  apiNumber `json:"c"`
			Volume apiNumber `json:"v"`
		} `json:"bars"`
	}
	if err := c.do(http.MethodGet, endpoint, nil, &dto); err != nil {
		return nil, err
	}

	bars := make([]domain.Bar, 0, len(dto.Bars))
	for _, b := range dto.Bars {
		bars = append(bars, domain.Bar{
			Close:  float64(b.Close),
			Volume: float64(b.Volume),
		})
	}
	return bars, nil
}

// orderPayload is the trading API order submission body.
type orderPayload struct {
	Symbol        string         `json:"symbol"`
	Qty           string         `json:"qty"`
	Side          string         `json:"side"`
	Type          string         `json:"type"`
	TimeInForce   string         `json:"time_in_force"`
	LimitPrice    string         `json:"limit_price,omitempty"`
	ClientOrderID string         `json:"client_order_id,omitempty"`
	OrderClass    string         `json:"order_class,omitempty"`
	StopLoss      *stopLossLeg   `json:"stop_loss,omitempty"`
	TakeProfit    *takeProfitLeg `json:"take_profit,omitempty"`
	TrailPercent  string         `json:"trail_percent,omitempty"`
}

type stopLossLeg struct {
	StopPrice string `json:"stop_price"`
}

type takeProfitLeg struct {
	LimitPrice string `json:"limit_price"`
}

// SubmitOrder places an order and returns its handle. Fixed brackets become
// a bracket order class on the entry order; trailing stops are sent as a
// trail percent.
func (c *Client) SubmitOrder(req domain.OrderRequest) (*domain.OrderHandle, error) {
	payload := orderPayload{
		Symbol:        req.Symbol,
		Qty:           strconv.Itoa(req.Qty),
		Side:          string(req.Side),
		Type:          req.Type,
		TimeInForce:   req.TimeInForce,
		ClientOrderID: req.ClientOrderID,
	}
	if req.Type == "limit" {
		payload.LimitPrice = formatPrice(req.LimitPrice)
	}

	if req.Bracket != nil && req.Side == domain.SideBuy {
		if req.Bracket.Trailing {
			payload.TrailPercent = formatPrice(req.Bracket.TrailPct * 100)
		} else {
			payload.OrderClass = "bracket"
			payload.StopLoss = &stopLossLeg{StopPrice: formatPrice(req.Bracket.StopPrice)}
			payload.TakeProfit = &takeProfitLeg{LimitPrice: formatPrice(req.Bracket.TakeProfitPrice)}
		}
	}

	var dto struct {
		ID string `json:"id"`
	}
	if err := c.do(http.MethodPost, c.cfg.BaseURL+"/v2/orders", payload, &dto); err != nil {
		return nil, err
	}
	return &domain.OrderHandle{OrderID: dto.ID}, nil
}

// GetOrderStatus returns the current status of a submitted order.
func (c *Client) GetOrderStatus(orderID string) (*domain.OrderStatusInfo, error) {
	var dto struct {
		ID             string    `json:"id"`
		Status         string    `json:"status"`
		FilledQty      apiNumber `json:"filled_qty"`
		FilledAvgPrice apiNumber `json:"filled_avg_price"`
	}
	err := c.do(http.MethodGet, c.cfg.BaseURL+"/v2/orders/"+url.PathEscape(orderID), nil, &dto)
	if err != nil {
		return nil, err
	}
	return &domain.OrderStatusInfo{
		OrderID:        dto.ID,
		Status:         domain.OrderStatus(dto.Status),
		FilledQty:      float64(dto.FilledQty),
		FilledAvgPrice: float64(dto.FilledAvgPrice),
	}, nil
}

// IsMarketOpen reports whether the market is currently open.
func (c *Client) IsMarketOpen() (bool, error) {
	var dto struct {
		IsOpen bool `json:"is_open"`
	}
	if err := c.do(http.MethodGet, c.cfg.BaseURL+"/v2/clock", nil, &dto); err != nil {
		return false, err
	}
	return dto.IsOpen, nil
}

// GetNews returns up to limit recent headlines for a symbol.
func (c *Client) GetNews(symbol string, limit int) ([]domain.NewsItem, error) {
	if limit <= 0 {
		limit = 3
	}

	endpoint := fmt.Sprintf("%s/v1beta1/news?symbols=%s&limit=%d",
		c.cfg.DataURL, url.QueryEscape(symbol), limit)

	var dto struct {
		News []struct {
			Headline  string `json:"headline"`
			URL       string `json:"url"`
			Source    string `json:"source"`
			CreatedAt string `json:"created_at"`
		} `json:"news"`
	}
	if err := c.do(http.MethodGet, endpoint, nil, &dto); err != nil {
		return nil, err
	}

	items := make([]domain.NewsItem, 0, len(dto.News))
	for _, n := range dto.News {
		items = append(items, domain.NewsItem{
			Headline:  n.Headline,
			URL:       n.URL,
			Source:    n.Source,
			CreatedAt: n.CreatedAt,
		})
	}
	return items, nil
}

func formatPrice(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
