package market

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"signaltrader/internal/domain"
	"signaltrader/internal/exchange"
	"signaltrader/internal/exits"
	"signaltrader/internal/precision"
)

// SpotConfig holds configuration for the spot market adapter.
type SpotConfig struct {
	// Exchange is the spot exchange collaborator.
	Exchange exchange.Spot
	// StopCorrection lifts the stop trigger above the stop-limit price.
	StopCorrection decimal.Decimal
	// FillPollDelay is the wait before re-polling an unfilled market order.
	FillPollDelay time.Duration
	// Logger is the logger instance.
	Logger *zap.Logger
}

// Spot trades the spot market with one OCO pair per target.
type Spot struct {
	ex        exchange.Spot
	precision *precision.Resolver
	builder   *exits.SpotBuilder
	pollDelay time.Duration
	logger    *zap.Logger
}

var _ Market = (*Spot)(nil)

// NewSpot creates a spot market adapter.
func NewSpot(cfg SpotConfig) *Spot {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.FillPollDelay <= 0 {
		cfg.FillPollDelay = DefaultFillPollDelay
	}

	resolver := precision.NewResolver(cfg.Exchange, logger)

	return &Spot{
		ex:        cfg.Exchange,
		precision: resolver,
		builder:   exits.NewSpotBuilder(resolver, cfg.StopCorrection),
		pollDelay: cfg.FillPollDelay,
		logger:    logger.With(zap.String("market", string(domain.MarketSpot))),
	}
}

// Type implements Market.
func (m *Spot) Type() domain.MarketType {
	return domain.MarketSpot
}

// Precision implements Market.
func (m *Spot) Precision(ctx context.Context, symbol string) (domain.SymbolPrecision, error) {
	return m.precision.Resolve(ctx, symbol)
}

// CurrentPrice implements Market.
func (m *Spot) CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return m.ex.GetPrice(ctx, symbol)
}

// MarketBuy implements Market.
func (m *Spot) MarketBuy(ctx context.Context, symbol string, amount decimal.Decimal) (*domain.Order, error) {
	order, err := m.ex.PlaceMarketBuy(ctx, symbol, amount)
	if err != nil {
		return nil, fmt.Errorf("market buy %s: %w", symbol, err)
	}
	return awaitFill(ctx, order, m.pollDelay, m.ex.GetOrder)
}

// LimitBuy implements Market.
func (m *Spot) LimitBuy(ctx context.Context, symbol string, price, amount decimal.Decimal) (*domain.Order, error) {
	p, err := m.precision.Resolve(ctx, symbol)
	if err != nil {
		return nil, err
	}

	quantity, err := quantityFor(p, amount, price)
	if err != nil {
		return nil, err
	}

	order, err := m.ex.PlaceLimitBuy(ctx, symbol, p.RoundPrice(price), quantity)
	if err != nil {
		return nil, fmt.Errorf("limit buy %s: %w", symbol, err)
	}
	if err := expectStatus(order, domain.OrderStatusNew, domain.OrderStatusFilled); err != nil {
		return nil, err
	}
	return order, nil
}

// CancelOrder implements Market.
func (m *Spot) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	if _, err := m.ex.CancelOrder(ctx, symbol, orderID); err != nil {
		return fmt.Errorf("cancel %s order %d: %w", symbol, orderID, err)
	}
	return nil
}

// PlaceExits implements Market. Each target slice gets its own OCO list; the
// first rejected list aborts the remaining ones.
func (m *Spot) PlaceExits(ctx context.Context, symbol string, quantity decimal.Decimal, targets []decimal.Decimal, stopLoss decimal.Decimal) (*exits.Plan, error) {
	plan, err := m.builder.Build(ctx, symbol, quantity, targets, stopLoss)
	if err != nil {
		return nil, err
	}

	for i, leg := range plan.Legs {
		result, err := m.ex.PlaceOcoSell(ctx, exchange.OcoRequest{
			Symbol:         symbol,
			Quantity:       leg.Quantity,
			LimitPrice:     leg.TargetPrice,
			StopPrice:      leg.StopPrice,
			StopLimitPrice: leg.StopLimitPrice,
		})
		if err != nil {
			return nil, fmt.Errorf("oco sell %s leg %d: %w", symbol, i+1, err)
		}
		if result.ListStatusType != exchange.ListStatusExecStarted {
			return nil, fmt.Errorf("%w: %s leg %d list status %s",
				domain.ErrOcoSubmissionRejected, symbol, i+1, result.ListStatusType)
		}

		m.logger.Info("exit placed",
			zap.String("symbol", symbol),
			zap.Int64("group_id", result.OrderListID),
			zap.String("quantity", leg.Quantity.String()),
			zap.String("target", leg.TargetPrice.String()),
			zap.String("stop", leg.StopPrice.String()))
	}

	return plan, nil
}

// OpenExits implements Market. Only complete pairs are reported, with the
// LIMIT_MAKER leg first.
func (m *Spot) OpenExits(ctx context.Context, symbol string) ([]domain.OcoGroup, error) {
	orders, err := m.ex.GetOpenOrders(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("open orders %s: %w", symbol, err)
	}

	grouped := make(map[int64][]domain.Order)
	for _, o := range orders {
		if o.Side != domain.OrderSideSell || o.Status != domain.OrderStatusNew || o.GroupID == nil {
			continue
		}
		if o.Type != domain.OrderTypeLimitMaker && o.Type != domain.OrderTypeStopLossLimit {
			continue
		}
		grouped[*o.GroupID] = append(grouped[*o.GroupID], o)
	}

	ids := make([]int64, 0, len(grouped))
	for id := range grouped {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	groups := make([]domain.OcoGroup, 0, len(ids))
	for _, id := range ids {
		legs := grouped[id]
		if len(legs) != 2 || legs[0].Type == legs[1].Type {
			m.logger.Warn("skipping incomplete exit group",
				zap.String("symbol", symbol),
				zap.Int64("group_id", id),
				zap.Int("legs", len(legs)))
			continue
		}
		if legs[0].Type != domain.OrderTypeLimitMaker {
			legs[0], legs[1] = legs[1], legs[0]
		}

		groupID := id
		groups = append(groups, domain.OcoGroup{GroupID: &groupID, Orders: legs})
	}

	return groups, nil
}

// Close implements Market.
func (m *Spot) Close(ctx context.Context, symbol string) (*domain.Order, error) {
	groups, err := m.OpenExits(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if len(groups) == 0 {
		return nil, fmt.Errorf("%w: %s has no open exits", domain.ErrNoPosition, symbol)
	}

	total := decimal.Zero
	for _, g := range groups {
		maker := g.Orders[0]
		result, err := m.ex.CancelOrder(ctx, symbol, maker.OrderID)
		if err != nil {
			return nil, fmt.Errorf("cancel %s group %d: %w", symbol, *g.GroupID, err)
		}
		if result.ListStatusType != exchange.ListStatusAllDone {
			return nil, fmt.Errorf("%w: %s group %d list status %s",
				domain.ErrUnexpectedOrderStatus, symbol, *g.GroupID, result.ListStatusType)
		}
		total = total.Add(g.Quantity())
	}

	order, err := m.ex.PlaceMarketSell(ctx, symbol, total)
	if err != nil {
		return nil, fmt.Errorf("market sell %s: %w", symbol, err)
	}
	return awaitFill(ctx, order, m.pollDelay, m.ex.GetOrder)
}

// SellPnL implements Market. The sell is attributed to the most recently
// filled buy of the symbol when that buy covers the sold quantity.
func (m *Spot) SellPnL(ctx context.Context, event domain.OrderEvent) (decimal.Decimal, bool, error) {
	history, err := m.ex.GetOrderHistory(ctx, event.Symbol)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("order history %s: %w", event.Symbol, err)
	}

	sort.SliceStable(history, func(i, j int) bool {
		return history[i].UpdatedAt.After(history[j].UpdatedAt)
	})

	for i := range history {
		buy := &history[i]
		if buy.Side != domain.OrderSideBuy || buy.Status != domain.OrderStatusFilled {
			continue
		}

		sold := event.FilledQuantity
		if sold.GreaterThan(buy.FilledQuantity()) {
			return decimal.Zero, false, nil
		}

		buyPrice := buy.Price
		if buy.ExecutedQuantity.IsPositive() && buy.QuoteQuantity.IsPositive() {
			buyPrice = buy.QuoteQuantity.Div(buy.ExecutedQuantity)
		}
		return event.FillPrice().Sub(buyPrice).Mul(sold), true, nil
	}

	return decimal.Zero, false, nil
}
