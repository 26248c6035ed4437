package domain

import "context"

// BrokerClient is the synchronous broker collaborator. Implementations wrap
// the broker's transport; callers treat every method as a blocking call that
// either returns fresh data or an error.
type BrokerClient interface {
	// GetAccount returns live equity and cash figures.
	GetAccount() (*AccountState, error)

	// GetPositions returns the currently held portfolio.
	GetPositions() ([]Position, error)

	// GetAsset returns the catalog descriptor for one symbol.
	GetAsset(symbol string) (*AssetDescriptor, error)

	// GetLastTradePrice returns the latest trade price for one symbol.
	GetLastTradePrice(symbol string) (float64, error)

	// GetLatestTradePrices returns latest trade prices for a batch of symbols.
	// Symbols missing from the result had no quote available.
	GetLatestTradePrices(symbols []string) (map[string]float64, error)

	// GetRecentBars returns up to lookbackDays daily bars, oldest first.
	GetRecentBars(symbol string, lookbackDays int) ([]Bar, error)

	// ListActiveAssets returns the active tradable-equity catalog.
	ListActiveAssets() ([]AssetDescriptor, error)

	// SubmitOrder places an order and returns its handle.
	SubmitOrder(req OrderRequest) (*OrderHandle, error)

	// GetOrderStatus returns the current status of a submitted order.
	GetOrderStatus(orderID string) (*OrderStatusInfo, error)

	// IsMarketOpen reports whether the market is currently open.
	IsMarketOpen() (bool, error)

	// GetNews returns up to limit recent headlines for a symbol.
	GetNews(symbol string, limit int) ([]NewsItem, error)
}

// Advisor is one independent advisory instance. A failed or malformed
// response is returned as an error; the voter treats that as an abstention.
type Advisor interface {
	// Name identifies the advisor (model identity) for logging and tie-breaks.
	Name() string

	// Ask sends the shared prompt context and returns the structured response.
	Ask(ctx context.Context, prompt string) (*AdvisorResponse, error)
}
