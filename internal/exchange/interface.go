// Package exchange defines the capabilities the trading core consumes from an
// exchange. Adapters live in sub-packages.
package exchange

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"signaltrader/internal/domain"
)

// Sentinel errors for exchange operations.
var (
	// ErrPairNotSupported is returned when a symbol is not available on the exchange.
	ErrPairNotSupported = errors.New("trading pair not supported")
	// ErrInsufficientFunds is returned when there's not enough balance to place an order.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrOrderNotFound is returned when an order ID doesn't exist on the exchange.
	ErrOrderNotFound = errors.New("order not found")
	// ErrRateLimitExceeded is returned when the API rate limit has been exceeded.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
)

// OCO list status types reported by the exchange.
const (
	// ListStatusExecStarted acknowledges a new OCO list.
	ListStatusExecStarted = "EXEC_STARTED"
	// ListStatusAllDone acknowledges a cancelled or completed OCO list.
	ListStatusAllDone = "ALL_DONE"
)

// OcoRequest describes one take-profit/stop-loss sell pair.
type OcoRequest struct {
	Symbol         string
	Quantity       decimal.Decimal
	LimitPrice     decimal.Decimal
	StopPrice      decimal.Decimal
	StopLimitPrice decimal.Decimal
}

// OcoResult is the exchange acknowledgement of an OCO submission.
type OcoResult struct {
	OrderListID     int64
	ListStatusType  string
	ListOrderStatus string
	Orders          []domain.Order
}

// CancelResult is the exchange acknowledgement of a cancellation.
type CancelResult struct {
	OrderID int64
	Status  domain.OrderStatus
	// OrderListID is -1 when the order was not part of a list.
	OrderListID int64
	// ListStatusType is set when cancelling a leg of an OCO list.
	ListStatusType string
}

// Spot is the spot market capability of an exchange.
// Implementations must be safe for concurrent use.
type Spot interface {
	// PlaceMarketBuy spends quoteAmount of quote asset at market.
	PlaceMarketBuy(ctx context.Context, symbol string, quoteAmount decimal.Decimal) (*domain.Order, error)
	// PlaceLimitBuy places a GTC limit buy.
	PlaceLimitBuy(ctx context.Context, symbol string, price, quantity decimal.Decimal) (*domain.Order, error)
	// PlaceMarketSell sells quantity of base asset at market.
	PlaceMarketSell(ctx context.Context, symbol string, quantity decimal.Decimal) (*domain.Order, error)
	// PlaceOcoSell places a linked take-profit and stop-limit sell.
	PlaceOcoSell(ctx context.Context, req OcoRequest) (*OcoResult, error)
	// CancelOrder cancels an order. Cancelling one OCO leg cancels the list.
	CancelOrder(ctx context.Context, symbol string, orderID int64) (*CancelResult, error)
	// GetOrder returns the current state of an order.
	// Returns ErrOrderNotFound if the order doesn't exist.
	GetOrder(ctx context.Context, symbol string, orderID int64) (*domain.Order, error)
	// GetSymbolRules returns the raw trading filters of symbol.
	GetSymbolRules(ctx context.Context, symbol string) (*domain.SymbolRules, error)
	// GetOpenOrders returns the open orders of symbol.
	GetOpenOrders(ctx context.Context, symbol string) ([]domain.Order, error)
	// GetOrderHistory returns all orders of symbol, in any order.
	GetOrderHistory(ctx context.Context, symbol string) ([]domain.Order, error)
	// GetPrice returns the last traded price of symbol.
	GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// Futures is the USD-M futures capability of an exchange.
// Implementations must be safe for concurrent use.
type Futures interface {
	// SetMarginType switches symbol to ISOLATED or CROSS margin.
	// Succeeds when the symbol already uses marginType.
	SetMarginType(ctx context.Context, symbol, marginType string) error
	// SetLeverage sets the initial leverage of symbol.
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	// GetPositionAmount returns the signed position size of symbol.
	GetPositionAmount(ctx context.Context, symbol string) (decimal.Decimal, error)
	// PlaceMarketOrder places a market order.
	PlaceMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity decimal.Decimal, reduceOnly bool) (*domain.Order, error)
	// PlaceLimitOrder places a GTC limit order.
	PlaceLimitOrder(ctx context.Context, symbol string, side domain.OrderSide, price, quantity decimal.Decimal, reduceOnly bool) (*domain.Order, error)
	// PlaceClosePositionStop places a stop-market order closing the whole position.
	PlaceClosePositionStop(ctx context.Context, symbol string, side domain.OrderSide, stopPrice decimal.Decimal) (*domain.Order, error)
	// CancelOrder cancels one order.
	CancelOrder(ctx context.Context, symbol string, orderID int64) error
	// CancelAllOrders cancels every open order of symbol.
	CancelAllOrders(ctx context.Context, symbol string) error
	// GetOrder returns the current state of an order.
	GetOrder(ctx context.Context, symbol string, orderID int64) (*domain.Order, error)
	// GetOpenOrders returns the open orders of symbol.
	GetOpenOrders(ctx context.Context, symbol string) ([]domain.Order, error)
	// GetSymbolRules returns the precisions and filters of symbol.
	GetSymbolRules(ctx context.Context, symbol string) (*domain.SymbolRules, error)
	// GetPrice returns the last traded price of symbol.
	GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	// GetRealizedPnL returns the realized profit of the trades of an order.
	// ok is false when the exchange reports no trades for it.
	GetRealizedPnL(ctx context.Context, symbol string, orderID int64) (pnl decimal.Decimal, ok bool, err error)
}

// UserStream delivers order status changes of the account.
type UserStream interface {
	// Subscribe opens the stream. The channel is closed when ctx is cancelled
	// or the stream is closed.
	Subscribe(ctx context.Context) (<-chan domain.OrderEvent, error)
	// Close stops the stream. Safe to call multiple times.
	Close()
}
