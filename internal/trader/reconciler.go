package trader

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"signaltrader/internal/domain"
	"signaltrader/internal/ledger"
	"signaltrader/internal/market"
	"signaltrader/internal/notify"
)

// ReconcilerConfig holds the collaborators of a Reconciler.
type ReconcilerConfig struct {
	Market   market.Market
	Ledger   *ledger.Ledger
	Notifier notify.Notifier
	Logger   *zap.Logger
}

// Reconciler applies exchange order events to the pending limit buys.
//
// A tracked buy moves from NEW to FILLED or CANCELED. A fill places the exits
// for the filled quantity and only then drops the buy from the ledger, so a
// failure leaves it tracked for replay. Other statuses are ignored.
type Reconciler struct {
	market   market.Market
	ledger   *ledger.Ledger
	notifier notify.Notifier
	logger   *zap.Logger
}

// NewReconciler creates a reconciler.
func NewReconciler(cfg ReconcilerConfig) *Reconciler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = notify.Multi{}
	}
	return &Reconciler{
		market:   cfg.Market,
		ledger:   cfg.Ledger,
		notifier: notifier,
		logger:   logger.Named("reconciler"),
	}
}

// HandleEvent applies one order event.
func (r *Reconciler) HandleEvent(ctx context.Context, event domain.OrderEvent) error {
	switch event.Side {
	case domain.OrderSideBuy:
		return r.handleBuy(ctx, event)
	case domain.OrderSideSell:
		return r.handleSell(ctx, event)
	default:
		return nil
	}
}

func (r *Reconciler) handleBuy(ctx context.Context, event domain.OrderEvent) error {
	if event.Status != domain.OrderStatusFilled && event.Status != domain.OrderStatusCanceled {
		return nil
	}

	release := r.ledger.Acquire(event.Symbol)
	defer release()

	pending, ok := r.ledger.Lookup(event.Symbol, event.OrderID)
	if !ok {
		r.logger.Debug("untracked buy event",
			zap.String("symbol", event.Symbol),
			zap.Int64("order_id", event.OrderID),
			zap.String("status", string(event.Status)))
		return nil
	}

	if event.Status == domain.OrderStatusCanceled {
		if err := r.ledger.Remove(ctx, pending); err != nil {
			return err
		}
		r.notifier.Notify(ctx, notify.Info(
			fmt.Sprintf("Limit buy cancelled %s", event.Symbol),
			fmt.Sprintf("order %d", event.OrderID)))
		return nil
	}

	quantity := event.FilledQuantity
	if !quantity.IsPositive() {
		quantity = pending.Quantity
	}

	plan, err := r.market.PlaceExits(ctx, event.Symbol, quantity, pending.Plan.Targets, pending.Plan.StopLoss)
	if err != nil {
		return fmt.Errorf("exits for filled buy %s %d: %w", event.Symbol, event.OrderID, err)
	}

	if err := r.ledger.Remove(ctx, pending); err != nil {
		return err
	}

	r.notifier.Notify(ctx, notify.Info(
		fmt.Sprintf("Limit buy filled %s", event.Symbol),
		fmt.Sprintf("order %d: quantity %s at %s\n%s", event.OrderID, quantity, event.FillPrice(), describeExits(plan))))
	return nil
}

func (r *Reconciler) handleSell(ctx context.Context, event domain.OrderEvent) error {
	// Market sells come from closing a position and are reported there.
	if event.Status != domain.OrderStatusFilled || event.Type == domain.OrderTypeMarket {
		return nil
	}
	if !isExitLeg(event) {
		r.logger.Debug("ignoring sell outside exit orders",
			zap.String("symbol", event.Symbol),
			zap.Int64("order_id", event.OrderID))
		return nil
	}

	pnl, ok, err := r.market.SellPnL(ctx, event)
	if err != nil {
		return err
	}

	r.notifier.Notify(ctx, notify.Info(
		fmt.Sprintf("%s %s", exitKind(event.Type), event.Symbol),
		fmt.Sprintf("sold %s at %s, %s", event.FilledQuantity, event.FillPrice(), pnlText(pnl, ok))))
	return nil
}

// isExitLeg reports whether a sell belongs to the exits placed for a buy:
// an OCO list leg on spot, a reduce-only or stop-market order on futures.
func isExitLeg(event domain.OrderEvent) bool {
	if event.Market == domain.MarketFutures {
		return event.ReduceOnly || event.Type == domain.OrderTypeStopMarket
	}
	return event.GroupID != nil
}

func exitKind(typ domain.OrderType) string {
	switch typ {
	case domain.OrderTypeStopLossLimit, domain.OrderTypeStopMarket:
		return "Stop loss filled"
	default:
		return "Target filled"
	}
}
