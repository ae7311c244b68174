package market

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"signaltrader/internal/domain"
	"signaltrader/internal/exchange"
	"signaltrader/internal/exits"
	"signaltrader/internal/precision"
)

// Futures margin types.
const (
	MarginIsolated = "ISOLATED"
	MarginCross    = "CROSS"
)

// FuturesConfig holds configuration for the futures market adapter.
type FuturesConfig struct {
	// Exchange is the futures exchange collaborator.
	Exchange exchange.Futures
	// Leverage is applied to a symbol before every entry.
	Leverage int
	// MarginType is ISOLATED or CROSS.
	MarginType string
	// FillPollDelay is the wait before re-polling an unfilled market order.
	FillPollDelay time.Duration
	// Logger is the logger instance.
	Logger *zap.Logger
}

// Futures trades USD-M futures with reduce-only take-profits and one stop
// closing the position.
type Futures struct {
	ex         exchange.Futures
	precision  *precision.Resolver
	builder    *exits.FuturesBuilder
	leverage   int
	marginType string
	pollDelay  time.Duration
	logger     *zap.Logger
}

var _ Market = (*Futures)(nil)

// NewFutures creates a futures market adapter.
func NewFutures(cfg FuturesConfig) (*Futures, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.FillPollDelay <= 0 {
		cfg.FillPollDelay = DefaultFillPollDelay
	}
	if cfg.MarginType == "" {
		cfg.MarginType = MarginIsolated
	}
	if cfg.MarginType != MarginIsolated && cfg.MarginType != MarginCross {
		return nil, fmt.Errorf("unsupported margin type %q", cfg.MarginType)
	}
	if cfg.Leverage < 1 {
		return nil, fmt.Errorf("leverage must be at least 1, got %d", cfg.Leverage)
	}

	resolver := precision.NewResolver(cfg.Exchange, logger)

	return &Futures{
		ex:         cfg.Exchange,
		precision:  resolver,
		builder:    exits.NewFuturesBuilder(resolver),
		leverage:   cfg.Leverage,
		marginType: cfg.MarginType,
		pollDelay:  cfg.FillPollDelay,
		logger:     logger.With(zap.String("market", string(domain.MarketFutures))),
	}, nil
}

// Type implements Market.
func (m *Futures) Type() domain.MarketType {
	return domain.MarketFutures
}

// Precision implements Market.
func (m *Futures) Precision(ctx context.Context, symbol string) (domain.SymbolPrecision, error) {
	return m.precision.Resolve(ctx, symbol)
}

// CurrentPrice implements Market.
func (m *Futures) CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return m.ex.GetPrice(ctx, symbol)
}

// MarketBuy implements Market.
func (m *Futures) MarketBuy(ctx context.Context, symbol string, amount decimal.Decimal) (*domain.Order, error) {
	if err := m.prepareEntry(ctx, symbol); err != nil {
		return nil, err
	}

	p, err := m.precision.Resolve(ctx, symbol)
	if err != nil {
		return nil, err
	}
	price, err := m.ex.GetPrice(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("price %s: %w", symbol, err)
	}
	quantity, err := quantityFor(p, amount, price)
	if err != nil {
		return nil, err
	}

	order, err := m.ex.PlaceMarketOrder(ctx, symbol, domain.OrderSideBuy, quantity, false)
	if err != nil {
		return nil, fmt.Errorf("market buy %s: %w", symbol, err)
	}
	return awaitFill(ctx, order, m.pollDelay, m.ex.GetOrder)
}

// LimitBuy implements Market.
func (m *Futures) LimitBuy(ctx context.Context, symbol string, price, amount decimal.Decimal) (*domain.Order, error) {
	if err := m.prepareEntry(ctx, symbol); err != nil {
		return nil, err
	}

	p, err := m.precision.Resolve(ctx, symbol)
	if err != nil {
		return nil, err
	}
	quantity, err := quantityFor(p, amount, price)
	if err != nil {
		return nil, err
	}

	order, err := m.ex.PlaceLimitOrder(ctx, symbol, domain.OrderSideBuy, p.RoundPrice(price), quantity, false)
	if err != nil {
		return nil, fmt.Errorf("limit buy %s: %w", symbol, err)
	}
	if err := expectStatus(order, domain.OrderStatusNew, domain.OrderStatusFilled); err != nil {
		return nil, err
	}
	return order, nil
}

// prepareEntry requires a flat symbol and applies the margin settings.
func (m *Futures) prepareEntry(ctx context.Context, symbol string) error {
	position, err := m.ex.GetPositionAmount(ctx, symbol)
	if err != nil {
		return fmt.Errorf("position %s: %w", symbol, err)
	}
	if !position.IsZero() {
		return fmt.Errorf("%w: %s position %s", domain.ErrPositionOpen, symbol, position)
	}

	open, err := m.ex.GetOpenOrders(ctx, symbol)
	if err != nil {
		return fmt.Errorf("open orders %s: %w", symbol, err)
	}
	if len(open) > 0 {
		return fmt.Errorf("%w: %s has %d open orders", domain.ErrPositionOpen, symbol, len(open))
	}

	if err := m.ex.SetMarginType(ctx, symbol, m.marginType); err != nil {
		return fmt.Errorf("margin type %s: %w", symbol, err)
	}
	if err := m.ex.SetLeverage(ctx, symbol, m.leverage); err != nil {
		return fmt.Errorf("leverage %s: %w", symbol, err)
	}
	return nil
}

// CancelOrder implements Market.
func (m *Futures) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	if err := m.ex.CancelOrder(ctx, symbol, orderID); err != nil {
		return fmt.Errorf("cancel %s order %d: %w", symbol, orderID, err)
	}
	return nil
}

// PlaceExits implements Market. The position stop is placed before the
// take-profits.
func (m *Futures) PlaceExits(ctx context.Context, symbol string, quantity decimal.Decimal, targets []decimal.Decimal, stopLoss decimal.Decimal) (*exits.Plan, error) {
	plan, err := m.builder.Build(ctx, symbol, quantity, targets, stopLoss)
	if err != nil {
		return nil, err
	}

	stop, err := m.ex.PlaceClosePositionStop(ctx, symbol, domain.OrderSideSell, plan.PositionStop.StopPrice)
	if err != nil {
		return nil, fmt.Errorf("stop market %s: %w", symbol, err)
	}
	if err := expectStatus(stop, domain.OrderStatusNew); err != nil {
		return nil, err
	}

	for i, leg := range plan.Legs {
		order, err := m.ex.PlaceLimitOrder(ctx, symbol, domain.OrderSideSell, leg.TargetPrice, leg.Quantity, true)
		if err != nil {
			return nil, fmt.Errorf("take profit %s leg %d: %w", symbol, i+1, err)
		}
		if err := expectStatus(order, domain.OrderStatusNew); err != nil {
			return nil, err
		}
	}

	m.logger.Info("exits placed",
		zap.String("symbol", symbol),
		zap.Int("targets", len(plan.Legs)),
		zap.String("quantity", quantity.String()),
		zap.String("stop", plan.PositionStop.StopPrice.String()))

	return plan, nil
}

// OpenExits implements Market. Futures exits are independent orders, so each
// one is reported as its own group.
func (m *Futures) OpenExits(ctx context.Context, symbol string) ([]domain.OcoGroup, error) {
	orders, err := m.ex.GetOpenOrders(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("open orders %s: %w", symbol, err)
	}

	groups := make([]domain.OcoGroup, 0, len(orders))
	for _, o := range orders {
		if o.Side != domain.OrderSideSell {
			continue
		}
		if !o.ReduceOnly && o.Type != domain.OrderTypeStopMarket {
			continue
		}
		groups = append(groups, domain.OcoGroup{Orders: []domain.Order{o}})
	}
	return groups, nil
}

// Close implements Market.
func (m *Futures) Close(ctx context.Context, symbol string) (*domain.Order, error) {
	if err := m.ex.CancelAllOrders(ctx, symbol); err != nil {
		return nil, fmt.Errorf("cancel orders %s: %w", symbol, err)
	}

	position, err := m.ex.GetPositionAmount(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("position %s: %w", symbol, err)
	}
	if !position.IsPositive() {
		return nil, fmt.Errorf("%w: %s position %s", domain.ErrNoPosition, symbol, position)
	}

	order, err := m.ex.PlaceMarketOrder(ctx, symbol, domain.OrderSideSell, position, true)
	if err != nil {
		return nil, fmt.Errorf("market sell %s: %w", symbol, err)
	}
	return awaitFill(ctx, order, m.pollDelay, m.ex.GetOrder)
}

// SellPnL implements Market. The realized profit reported with the event is
// used when the order filled in that single trade; otherwise it is summed
// from the account trades.
func (m *Futures) SellPnL(ctx context.Context, event domain.OrderEvent) (decimal.Decimal, bool, error) {
	if event.RealizedPnL.Valid && event.LastFilled.Equal(event.FilledQuantity) {
		return event.RealizedPnL.Decimal, true, nil
	}

	pnl, ok, err := m.ex.GetRealizedPnL(ctx, event.Symbol, event.OrderID)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("realized pnl %s: %w", event.Symbol, err)
	}
	return pnl, ok, nil
}
