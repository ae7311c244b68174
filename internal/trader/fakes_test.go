package trader_test

import (
	"context"
	"errors"
	"sync"

	"github.com/shopspring/decimal"

	"signaltrader/internal/domain"
	"signaltrader/internal/exits"
	"signaltrader/internal/market"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decs(values ...string) []decimal.Decimal {
	out := make([]decimal.Decimal, len(values))
	for i, v := range values {
		out[i] = dec(v)
	}
	return out
}

type exitsCall struct {
	symbol   string
	quantity decimal.Decimal
	targets  []decimal.Decimal
	stopLoss decimal.Decimal
}

type fakeMarket struct {
	mu sync.Mutex

	typ       domain.MarketType
	precision domain.SymbolPrecision
	price     decimal.Decimal
	buyOrder  *domain.Order
	exitsErr  error
	closed    *domain.Order
	closeErr  error
	cancelErr error
	pnl       decimal.Decimal
	pnlOK     bool

	buys      []string
	exits     []exitsCall
	cancelled []int64
	pnlEvents []domain.OrderEvent
}

var _ market.Market = (*fakeMarket)(nil)

func newFakeMarket() *fakeMarket {
	return &fakeMarket{
		typ:       domain.MarketSpot,
		precision: domain.SymbolPrecision{Quantity: 3, Price: 2, MinNotional: dec("10")},
		price:     dec("100"),
	}
}

func (f *fakeMarket) Type() domain.MarketType {
	return f.typ
}

func (f *fakeMarket) Precision(context.Context, string) (domain.SymbolPrecision, error) {
	return f.precision, nil
}

func (f *fakeMarket) CurrentPrice(context.Context, string) (decimal.Decimal, error) {
	return f.price, nil
}

func (f *fakeMarket) buy(kind, symbol string) (*domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.buys = append(f.buys, kind)
	if f.buyOrder == nil {
		return nil, errors.New("buy rejected")
	}
	o := *f.buyOrder
	o.Symbol = symbol
	return &o, nil
}

func (f *fakeMarket) MarketBuy(_ context.Context, symbol string, _ decimal.Decimal) (*domain.Order, error) {
	return f.buy("market", symbol)
}

func (f *fakeMarket) LimitBuy(_ context.Context, symbol string, _, _ decimal.Decimal) (*domain.Order, error) {
	return f.buy("limit", symbol)
}

func (f *fakeMarket) CancelOrder(_ context.Context, _ string, orderID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.cancelled = append(f.cancelled, orderID)
	return f.cancelErr
}

func (f *fakeMarket) PlaceExits(_ context.Context, symbol string, quantity decimal.Decimal, targets []decimal.Decimal, stopLoss decimal.Decimal) (*exits.Plan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.exits = append(f.exits, exitsCall{symbol: symbol, quantity: quantity, targets: targets, stopLoss: stopLoss})
	if f.exitsErr != nil {
		return nil, f.exitsErr
	}

	legs := make([]exits.Leg, len(targets))
	for i, target := range targets {
		legs[i] = exits.Leg{Quantity: quantity, TargetPrice: target, StopPrice: stopLoss, StopLimitPrice: stopLoss}
	}
	return &exits.Plan{Market: f.typ, Symbol: symbol, Legs: legs}, nil
}

func (f *fakeMarket) OpenExits(context.Context, string) ([]domain.OcoGroup, error) {
	return nil, nil
}

func (f *fakeMarket) Close(context.Context, string) (*domain.Order, error) {
	if f.closeErr != nil {
		return nil, f.closeErr
	}
	return f.closed, nil
}

func (f *fakeMarket) SellPnL(_ context.Context, event domain.OrderEvent) (decimal.Decimal, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.pnlEvents = append(f.pnlEvents, event)
	return f.pnl, f.pnlOK, nil
}

func (f *fakeMarket) exitCalls() []exitsCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]exitsCall(nil), f.exits...)
}
