package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderEvent is an order status change pushed by the exchange.
type OrderEvent struct {
	Market MarketType
	Symbol string
	Side   OrderSide
	Type   OrderType
	Status OrderStatus

	OrderID int64
	// GroupID is the OCO list id, nil when the order is not part of a list.
	GroupID *int64

	// Quantity is the original order quantity.
	Quantity decimal.Decimal
	// FilledQuantity is the cumulative filled quantity.
	FilledQuantity decimal.Decimal
	// LastFilled is the quantity of the trade that produced the event.
	LastFilled decimal.Decimal
	// Price is the order price.
	Price decimal.Decimal
	// AveragePrice is the average fill price when the exchange reports it.
	AveragePrice decimal.Decimal
	// QuoteQuantity is the cumulative quote quantity when the exchange reports it.
	QuoteQuantity decimal.Decimal
	// RealizedPnL is reported by futures trade updates and covers the last
	// trade only.
	RealizedPnL decimal.NullDecimal
	// ReduceOnly is reported by futures order updates.
	ReduceOnly bool

	EventTime time.Time
}

// Key returns the ledger key the event refers to.
func (e OrderEvent) Key() OrderKey {
	return OrderKey{Symbol: e.Symbol, OrderID: e.OrderID}
}

// FillPrice returns the best known execution price of the event.
func (e OrderEvent) FillPrice() decimal.Decimal {
	switch {
	case e.AveragePrice.IsPositive():
		return e.AveragePrice
	case e.QuoteQuantity.IsPositive() && e.FilledQuantity.IsPositive():
		return e.QuoteQuantity.Div(e.FilledQuantity)
	default:
		return e.Price
	}
}
