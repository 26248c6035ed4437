// Package domain contains the core data types shared across modules.
// This package is pure - it has no infrastructure dependencies.
package domain

import (
	"fmt"
	"strings"
)

// Side is the direction of a trade intent or order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// SideFromString parses a side string (case-insensitive).
// Returns an error for anything other than buy/sell.
func SideFromString(s string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy":
		return SideBuy, nil
	case "sell":
		return SideSell, nil
	default:
		return "", fmt.Errorf("invalid side: %q (must be buy or sell)", s)
	}
}

// Opposite returns the opposing side (used when flattening positions).
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Intent is a proposed buy/sell signal from an advisory source, unsized by budget.
// Immutable once created. The Shares value carried by a voting round is a
// placeholder signal only - the allocator derives actual quantities.
type Intent struct {
	Ticker string
	Side   Side
	Shares float64
	Reason string
}

// SymbolMeta is the freshest available metadata for a single symbol,
// fetched per validation call and never cached across a pipeline run.
type SymbolMeta struct {
	Symbol    string
	LastPrice float64
	AvgVolume float64
	Exchange  string
	Tradable  bool
	MarketCap *float64 // nil when the data source does not report it
}

// AssetDescriptor is a catalog entry from the broker's tradable asset list.
type AssetDescriptor struct {
	Symbol   string
	Exchange string
	Tradable bool
}

// Candidate is an Intent enriched with live price data, pending allocation.
// For sells, MaxOwnedQty is the currently owned quantity at run start.
type Candidate struct {
	Intent
	Price       float64
	MaxOwnedQty int
}

// BracketSpec describes protective exit instructions attached to an order.
// Trailing and fixed brackets are mutually exclusive: when Trailing is true
// only TrailPct is meaningful, otherwise StopPrice and TakeProfitPrice are.
type BracketSpec struct {
	Trailing        bool
	TrailPct        float64 // fraction, e.g. 0.05 for a 5% trailing stop
	StopPrice       float64
	TakeProfitPrice float64
}

// ValidatedOrder is the terminal artifact handed to the execution layer.
type ValidatedOrder struct {
	Ticker     string
	Side       Side
	Shares     int
	Reason     string
	LimitPrice float64
	Bracket    *BracketSpec
}

// Cost returns the order's worst-case notional at its limit price.
func (o ValidatedOrder) Cost() float64 {
	return float64(o.Shares) * o.LimitPrice
}

// AccountState holds live broker-reported account figures.
type AccountState struct {
	Equity float64
	Cash   float64
}

// Position is one held position at run start. Snapshots are read-only
// within a pipeline run.
type Position struct {
	Symbol       string
	Shares       float64
	CostBasis    float64
	CurrentPrice float64
	TotalValue   float64
}

// Bar is a single aggregated bar (daily unless stated otherwise).
type Bar struct {
	Close  float64
	Volume float64
}

// NewsItem is one headline attached to a symbol for prompt context.
type NewsItem struct {
	Headline  string
	URL       string
	Source    string
	CreatedAt string
}

// OrderStatus is the broker-reported lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "new"
	OrderStatusAccepted        OrderStatus = "accepted"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusCanceled        OrderStatus = "canceled"
	OrderStatusRejected        OrderStatus = "rejected"
	OrderStatusExpired         OrderStatus = "expired"
	OrderStatusDryRun          OrderStatus = "dry_run"
)

// Terminal reports whether the status ends the poll loop.
// partially_filled is terminal for a day order at poll time: the broker will
// not fill more within the poll budget and the filled quantity is recorded.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusPartiallyFilled, OrderStatusCanceled,
		OrderStatusRejected, OrderStatusExpired, OrderStatusDryRun:
		return true
	}
	return false
}

// OrderRequest is the broker submission payload built from a ValidatedOrder.
type OrderRequest struct {
	Symbol        string
	Side          Side
	Qty           int
	Type          string // "limit" or "market"
	TimeInForce   string
	LimitPrice    float64 // required for limit orders
	ClientOrderID string
	Bracket       *BracketSpec
}

// OrderHandle identifies a submitted order.
type OrderHandle struct {
	OrderID string
}

// OrderStatusInfo is a point-in-time view of a submitted order.
type OrderStatusInfo struct {
	OrderID        string
	Status         OrderStatus
	FilledQty      float64
	FilledAvgPrice float64
}

// AdvisorResponse is one advisor's full answer: proposed intents plus a
// free-text thesis narrative.
type AdvisorResponse struct {
	Orders []Intent
	Thesis string
}
