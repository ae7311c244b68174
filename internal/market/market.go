// Package market adapts an exchange to one market type. Each adapter owns the
// precision cache and exit strategy of its market and checks every exchange
// acknowledgement before reporting success.
package market

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/shopspring/decimal"

	"signaltrader/internal/domain"
	"signaltrader/internal/exits"
)

// DefaultFillPollDelay is the wait before a market order is polled again.
const DefaultFillPollDelay = time.Second

// Market is the trading surface of one market type.
type Market interface {
	// Type returns the market type served by the adapter.
	Type() domain.MarketType
	// Precision returns the cached rounding rules of symbol.
	Precision(ctx context.Context, symbol string) (domain.SymbolPrecision, error)
	// CurrentPrice returns the last traded price of symbol.
	CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	// MarketBuy buys for amount of quote asset and returns the filled order.
	MarketBuy(ctx context.Context, symbol string, amount decimal.Decimal) (*domain.Order, error)
	// LimitBuy places a limit buy for amount of quote asset at price.
	LimitBuy(ctx context.Context, symbol string, price, amount decimal.Decimal) (*domain.Order, error)
	// CancelOrder cancels a resting order.
	CancelOrder(ctx context.Context, symbol string, orderID int64) error
	// PlaceExits submits the take-profit and stop-loss orders for a filled quantity.
	PlaceExits(ctx context.Context, symbol string, quantity decimal.Decimal, targets []decimal.Decimal, stopLoss decimal.Decimal) (*exits.Plan, error)
	// OpenExits returns the exit groups currently resting on the book.
	OpenExits(ctx context.Context, symbol string) ([]domain.OcoGroup, error)
	// Close cancels the open exits of symbol and sells the position at market.
	// Returns domain.ErrNoPosition when there is nothing to sell.
	Close(ctx context.Context, symbol string) (*domain.Order, error)
	// SellPnL returns the profit of a filled sell. ok is false when it cannot
	// be attributed to a known buy.
	SellPnL(ctx context.Context, event domain.OrderEvent) (pnl decimal.Decimal, ok bool, err error)
}

type orderFetcher func(ctx context.Context, symbol string, orderID int64) (*domain.Order, error)

// awaitFill checks that order is FILLED, polling the exchange once more after
// delay when the acknowledgement reports otherwise.
func awaitFill(ctx context.Context, order *domain.Order, delay time.Duration, fetch orderFetcher) (*domain.Order, error) {
	current := order
	attempt := 0

	op := func() error {
		if attempt > 0 {
			o, err := fetch(ctx, order.Symbol, order.OrderID)
			if err != nil {
				return err
			}
			current = o
		}
		attempt++

		if current.Status != domain.OrderStatusFilled {
			return fmt.Errorf("%w: %s order %d is %s",
				domain.ErrUnexpectedOrderStatus, order.Symbol, order.OrderID, current.Status)
		}
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(delay), 1), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, err
	}
	return current, nil
}

// expectStatus returns ErrUnexpectedOrderStatus unless order has one of want.
func expectStatus(order *domain.Order, want ...domain.OrderStatus) error {
	for _, status := range want {
		if order.Status == status {
			return nil
		}
	}
	return fmt.Errorf("%w: %s %s %s order %d is %s", domain.ErrUnexpectedOrderStatus,
		order.Symbol, order.Side, order.Type, order.OrderID, order.Status)
}

func quantityFor(p domain.SymbolPrecision, amount, price decimal.Decimal) (decimal.Decimal, error) {
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: price %s", domain.ErrInvalidPlan, price)
	}
	return p.RoundQuantity(amount.Div(price)), nil
}
