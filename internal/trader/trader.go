// Package trader turns trade intents into exchange orders and keeps the
// pending limit buys in step with the order events pushed by the exchange.
package trader

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"signaltrader/internal/domain"
	"signaltrader/internal/exchange"
	"signaltrader/internal/exits"
	"signaltrader/internal/ledger"
	"signaltrader/internal/market"
	"signaltrader/internal/notify"
	"signaltrader/internal/sizing"
)

// Config holds the collaborators of a Trader.
type Config struct {
	// Market is the market orders are placed on.
	Market market.Market
	// Ledger tracks limit buys awaiting fill.
	Ledger *ledger.Ledger
	// Amounts selects the amount spent per buy.
	Amounts Amounts
	// Notifier receives one message per completed action.
	Notifier notify.Notifier
	// Logger is the logger instance.
	Logger *zap.Logger
}

// Trader executes buy and sell intents.
type Trader struct {
	market    market.Market
	ledger    *ledger.Ledger
	validator *sizing.Validator
	amounts   Amounts
	notifier  notify.Notifier
	logger    *zap.Logger
}

// New creates a trader.
func New(cfg Config) *Trader {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = notify.Multi{}
	}
	return &Trader{
		market:    cfg.Market,
		ledger:    cfg.Ledger,
		validator: sizing.NewValidator(precisionOf{cfg.Market}),
		amounts:   cfg.Amounts,
		notifier:  notifier,
		logger:    logger.Named("trader"),
	}
}

// precisionOf exposes the precision cache of a market to the validator.
type precisionOf struct {
	m market.Market
}

func (p precisionOf) Resolve(ctx context.Context, symbol string) (domain.SymbolPrecision, error) {
	return p.m.Precision(ctx, symbol)
}

// HandleIntent executes intent. Unknown intents only produce a notification.
func (t *Trader) HandleIntent(ctx context.Context, intent domain.Intent) error {
	switch intent.Kind {
	case domain.IntentBuy:
		if intent.Plan == nil {
			return fmt.Errorf("%w: buy intent without plan", domain.ErrInvalidPlan)
		}
		return t.buy(ctx, intent.Plan)
	case domain.IntentSell:
		return t.sell(ctx, intent.Symbol)
	default:
		t.notifier.Notify(ctx, notify.Info("Unknown message skipped", describeIntent(intent)))
		return nil
	}
}

func (t *Trader) buy(ctx context.Context, plan *domain.TradePlan) error {
	symbol := plan.Symbol

	release := t.ledger.Acquire(symbol)
	defer release()

	amount, err := t.amounts.For(symbol)
	if err != nil {
		return err
	}

	buyPrice := plan.BuyPrice.Decimal
	if !plan.IsLimit() {
		buyPrice, err = t.market.CurrentPrice(ctx, symbol)
		if err != nil {
			return fmt.Errorf("price %s: %w", symbol, err)
		}
	}

	if err := t.validator.ValidateLegs(ctx, t.market.Type(), symbol, buyPrice, amount, plan.Targets, plan.StopLoss); err != nil {
		return err
	}

	var order *domain.Order
	if plan.IsLimit() {
		order, err = t.market.LimitBuy(ctx, symbol, buyPrice, amount)
	} else {
		order, err = t.market.MarketBuy(ctx, symbol, amount)
	}
	if err != nil {
		return err
	}

	switch order.Status {
	case domain.OrderStatusFilled:
		quantity := order.FilledQuantity()
		exitPlan, err := t.market.PlaceExits(ctx, symbol, quantity, plan.Targets, plan.StopLoss)
		if err != nil {
			return fmt.Errorf("bought %s %s but placing exits failed: %w", quantity, symbol, err)
		}
		t.notifier.Notify(ctx, notify.Info(
			fmt.Sprintf("Bought %s", symbol),
			fmt.Sprintf("quantity %s at %s\n%s", quantity, order.AveragePrice(), describeExits(exitPlan))))

	case domain.OrderStatusNew:
		order.Plan = plan
		if err := t.ledger.Add(ctx, order); err != nil {
			return fmt.Errorf("track limit buy %s %d: %w", symbol, order.OrderID, err)
		}
		t.notifier.Notify(ctx, notify.Info(
			fmt.Sprintf("Limit buy placed %s", symbol),
			fmt.Sprintf("order %d: quantity %s at %s", order.OrderID, order.Quantity, order.Price)))

	default:
		return fmt.Errorf("%w: %s buy order %d is %s", domain.ErrUnexpectedOrderStatus, symbol, order.OrderID, order.Status)
	}

	t.logger.Info("buy executed",
		zap.String("symbol", symbol),
		zap.Int64("order_id", order.OrderID),
		zap.String("status", string(order.Status)),
		zap.String("amount", amount.String()))
	return nil
}

func (t *Trader) sell(ctx context.Context, symbol string) error {
	release := t.ledger.Acquire(symbol)
	defer release()

	var lines []string

	order, err := t.market.Close(ctx, symbol)
	switch {
	case errors.Is(err, domain.ErrNoPosition):
		order = nil
	case err != nil:
		return err
	default:
		lines = append(lines, fmt.Sprintf("sold %s at %s", order.FilledQuantity(), order.AveragePrice()))
	}

	for _, pending := range t.ledger.BySymbol(symbol) {
		err := t.market.CancelOrder(ctx, symbol, pending.OrderID)
		if err != nil && !errors.Is(err, exchange.ErrOrderNotFound) {
			return err
		}
		lines = append(lines, fmt.Sprintf("cancelled limit buy %d", pending.OrderID))
	}

	if len(lines) == 0 {
		return fmt.Errorf("%w: %s", domain.ErrNoPosition, symbol)
	}

	t.notifier.Notify(ctx, notify.Info(fmt.Sprintf("Closed %s", symbol), strings.Join(lines, "\n")))
	t.logger.Info("position closed", zap.String("symbol", symbol), zap.Bool("sold", order != nil))
	return nil
}

func describeExits(plan *exits.Plan) string {
	var b strings.Builder
	for i, leg := range plan.Legs {
		fmt.Fprintf(&b, "target %d: %s at %s", i+1, leg.Quantity, leg.TargetPrice)
		if !leg.StopPrice.IsZero() {
			fmt.Fprintf(&b, ", stop %s/%s", leg.StopPrice, leg.StopLimitPrice)
		}
		b.WriteByte('\n')
	}
	if plan.PositionStop != nil {
		fmt.Fprintf(&b, "position stop: %s\n", plan.PositionStop.StopPrice)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func describeIntent(intent domain.Intent) string {
	body := intent.Content
	if intent.Channel != "" {
		body = intent.Channel + ": " + body
	}
	if intent.ParentContent != "" {
		body += "\n> " + intent.ParentContent
	}
	return body
}

func pnlText(pnl decimal.Decimal, ok bool) string {
	if !ok {
		return "pnl unknown"
	}
	return "pnl " + pnl.StringFixed(4)
}
