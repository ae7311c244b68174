// Package domain contains core business entities and value objects.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide represents the direction of an order (buy or sell).
type OrderSide string

const (
	// OrderSideBuy indicates a buy order.
	OrderSideBuy OrderSide = "BUY"
	// OrderSideSell indicates a sell order.
	OrderSideSell OrderSide = "SELL"
)

// OrderType represents the type of order execution.
type OrderType string

const (
	// OrderTypeMarket executes immediately at the best available price.
	OrderTypeMarket OrderType = "MARKET"
	// OrderTypeLimit executes at the specified price or better.
	OrderTypeLimit OrderType = "LIMIT"
	// OrderTypeLimitMaker is the take-profit leg of a spot OCO group.
	OrderTypeLimitMaker OrderType = "LIMIT_MAKER"
	// OrderTypeStopLossLimit is the stop-loss leg of a spot OCO group.
	OrderTypeStopLossLimit OrderType = "STOP_LOSS_LIMIT"
	// OrderTypeStopMarket is the futures stop order closing the whole position.
	OrderTypeStopMarket OrderType = "STOP_MARKET"
)

// OrderStatus represents the current state of an order as reported by the exchange.
type OrderStatus string

const (
	// OrderStatusNew indicates the order is accepted and waiting to be filled.
	OrderStatusNew OrderStatus = "NEW"
	// OrderStatusPartiallyFilled indicates a part of the order has been filled.
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	// OrderStatusFilled indicates the order has been completely filled.
	OrderStatusFilled OrderStatus = "FILLED"
	// OrderStatusCanceled indicates the order was cancelled before being filled.
	OrderStatusCanceled OrderStatus = "CANCELED"
	// OrderStatusRejected indicates the exchange refused the order.
	OrderStatusRejected OrderStatus = "REJECTED"
	// OrderStatusExpired indicates the order expired by its time in force.
	OrderStatusExpired OrderStatus = "EXPIRED"
)

// Order represents a trading order on the exchange.
type Order struct {
	// Symbol is the exchange symbol (e.g., "BTCUSDT").
	Symbol string `json:"symbol"`
	// Side indicates whether this is a buy or sell order.
	Side OrderSide `json:"side"`
	// Type is the exchange order type.
	Type OrderType `json:"type"`
	// Status is the state reported by the exchange.
	Status OrderStatus `json:"status"`
	// OrderID is the identifier assigned by the exchange.
	OrderID int64 `json:"orderId"`
	// GroupID links the two legs of an OCO group. Nil when the order is not part of a list.
	GroupID *int64 `json:"groupId,omitempty"`
	// Quantity is the requested amount of base asset.
	Quantity decimal.Decimal `json:"quantity"`
	// ExecutedQuantity is the amount of base asset filled so far.
	ExecutedQuantity decimal.Decimal `json:"executedQuantity"`
	// Price is the limit price, or the average fill price for market orders.
	Price decimal.Decimal `json:"price"`
	// QuoteQuantity is the cumulative quote asset spent or received.
	QuoteQuantity decimal.Decimal `json:"quoteQuantity"`
	// ReduceOnly is set for futures orders that may only shrink a position.
	ReduceOnly bool `json:"reduceOnly,omitempty"`
	// UpdatedAt is when the exchange last changed the order.
	UpdatedAt time.Time `json:"updatedAt"`
	// Plan is the originating trade plan. Only set on limit buys awaiting fill.
	Plan *TradePlan `json:"plan,omitempty"`
}

// Key returns the ledger key of the order.
func (o *Order) Key() OrderKey {
	return OrderKey{Symbol: o.Symbol, OrderID: o.OrderID}
}

// AveragePrice returns the fill price of the order.
// Binance reports a zero price for market orders, so the price is derived from
// the cumulative quote quantity in that case.
func (o *Order) AveragePrice() decimal.Decimal {
	if !o.Price.IsZero() || o.ExecutedQuantity.IsZero() {
		return o.Price
	}
	return o.QuoteQuantity.Div(o.ExecutedQuantity)
}

// FilledQuantity returns the executed quantity, falling back to the requested
// quantity for responses that omit it.
func (o *Order) FilledQuantity() decimal.Decimal {
	if o.ExecutedQuantity.IsPositive() {
		return o.ExecutedQuantity
	}
	return o.Quantity
}

// OrderKey uniquely identifies an exchange order.
type OrderKey struct {
	Symbol  string
	OrderID int64
}

// OcoGroup is a linked set of exit orders covering one quantity slice.
type OcoGroup struct {
	// GroupID is the shared order list id. Nil for futures exits.
	GroupID *int64 `json:"groupId,omitempty"`
	// Orders are the legs of the group.
	Orders []Order `json:"orders"`
}

// Quantity returns the base quantity covered by the group.
// Both spot legs cover the same slice, so only the first one counts.
func (g OcoGroup) Quantity() decimal.Decimal {
	if len(g.Orders) == 0 {
		return decimal.Zero
	}
	return g.Orders[0].Quantity
}

// MarketType selects between spot and derivative trading.
type MarketType string

const (
	// MarketSpot trades the spot market with OCO exits.
	MarketSpot MarketType = "spot"
	// MarketFutures trades USD-M futures with a position-closing stop.
	MarketFutures MarketType = "futures"
)
