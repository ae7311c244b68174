package market_test

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"signaltrader/internal/domain"
	"signaltrader/internal/exchange"
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

func rules(symbol, step, tick, minNotional string) *domain.SymbolRules {
	return &domain.SymbolRules{
		Symbol: symbol,
		Filters: []domain.SymbolFilter{
			{FilterType: domain.FilterLotSize, StepSize: step},
			{FilterType: domain.FilterPrice, TickSize: tick},
			{FilterType: domain.FilterMinNotional, MinNotional: minNotional},
		},
	}
}

type fakeSpot struct {
	mu sync.Mutex

	rules      *domain.SymbolRules
	price      decimal.Decimal
	placed     *domain.Order
	polled     []*domain.Order
	limitOrder *domain.Order
	ocoStatus  string
	open       []domain.Order
	history    []domain.Order
	cancelList string

	ocoRequests []exchange.OcoRequest
	cancelled   []int64
	sold        []decimal.Decimal
	pollCount   int
}

var _ exchange.Spot = (*fakeSpot)(nil)

func (f *fakeSpot) PlaceMarketBuy(_ context.Context, symbol string, quote decimal.Decimal) (*domain.Order, error) {
	o := *f.placed
	o.Symbol = symbol
	return &o, nil
}

func (f *fakeSpot) PlaceLimitBuy(_ context.Context, symbol string, price, quantity decimal.Decimal) (*domain.Order, error) {
	o := *f.limitOrder
	o.Symbol, o.Price, o.Quantity = symbol, price, quantity
	return &o, nil
}

func (f *fakeSpot) PlaceMarketSell(_ context.Context, symbol string, quantity decimal.Decimal) (*domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.sold = append(f.sold, quantity)
	return &domain.Order{
		Symbol: symbol, Side: domain.OrderSideSell, Type: domain.OrderTypeMarket,
		Status: domain.OrderStatusFilled, OrderID: 900, Quantity: quantity, ExecutedQuantity: quantity,
	}, nil
}

func (f *fakeSpot) PlaceOcoSell(_ context.Context, req exchange.OcoRequest) (*exchange.OcoResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.ocoRequests = append(f.ocoRequests, req)
	status := f.ocoStatus
	if status == "" {
		status = exchange.ListStatusExecStarted
	}
	return &exchange.OcoResult{OrderListID: int64(len(f.ocoRequests)), ListStatusType: status}, nil
}

func (f *fakeSpot) CancelOrder(_ context.Context, _ string, orderID int64) (*exchange.CancelResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.cancelled = append(f.cancelled, orderID)
	status := f.cancelList
	if status == "" {
		status = exchange.ListStatusAllDone
	}
	return &exchange.CancelResult{OrderID: orderID, Status: domain.OrderStatusCanceled, ListStatusType: status}, nil
}

func (f *fakeSpot) GetOrder(context.Context, string, int64) (*domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.pollCount++
	if len(f.polled) == 0 {
		return nil, exchange.ErrOrderNotFound
	}
	o := f.polled[0]
	if len(f.polled) > 1 {
		f.polled = f.polled[1:]
	}
	return o, nil
}

func (f *fakeSpot) GetSymbolRules(context.Context, string) (*domain.SymbolRules, error) {
	return f.rules, nil
}

func (f *fakeSpot) GetOpenOrders(context.Context, string) ([]domain.Order, error) {
	return append([]domain.Order(nil), f.open...), nil
}

func (f *fakeSpot) GetOrderHistory(context.Context, string) ([]domain.Order, error) {
	return append([]domain.Order(nil), f.history...), nil
}

func (f *fakeSpot) GetPrice(context.Context, string) (decimal.Decimal, error) {
	return f.price, nil
}

type placedFutures struct {
	kind       string
	side       domain.OrderSide
	price      decimal.Decimal
	quantity   decimal.Decimal
	reduceOnly bool
}

type fakeFutures struct {
	mu sync.Mutex

	rules      *domain.SymbolRules
	price      decimal.Decimal
	position   decimal.Decimal
	open       []domain.Order
	ackStatus  domain.OrderStatus
	pnl        decimal.Decimal
	pnlFound   bool
	marginType string
	leverage   int

	placed         []placedFutures
	cancelledAll   int
	pnlLookups     int
	marginSettings int
}

var _ exchange.Futures = (*fakeFutures)(nil)

func (f *fakeFutures) SetMarginType(_ context.Context, _ string, marginType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marginType = marginType
	f.marginSettings++
	return nil
}

func (f *fakeFutures) SetLeverage(_ context.Context, _ string, leverage int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leverage = leverage
	return nil
}

func (f *fakeFutures) GetPositionAmount(context.Context, string) (decimal.Decimal, error) {
	return f.position, nil
}

func (f *fakeFutures) record(p placedFutures, typ domain.OrderType, symbol string) *domain.Order {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.placed = append(f.placed, p)
	status := f.ackStatus
	if status == "" {
		status = domain.OrderStatusNew
	}
	if typ == domain.OrderTypeMarket {
		status = domain.OrderStatusFilled
	}
	return &domain.Order{
		Symbol: symbol, Side: p.side, Type: typ, Status: status, OrderID: int64(len(f.placed)),
		Quantity: p.quantity, ExecutedQuantity: p.quantity, Price: p.price, ReduceOnly: p.reduceOnly,
	}
}

func (f *fakeFutures) PlaceMarketOrder(_ context.Context, symbol string, side domain.OrderSide, quantity decimal.Decimal, reduceOnly bool) (*domain.Order, error) {
	return f.record(placedFutures{kind: "market", side: side, quantity: quantity, reduceOnly: reduceOnly}, domain.OrderTypeMarket, symbol), nil
}

func (f *fakeFutures) PlaceLimitOrder(_ context.Context, symbol string, side domain.OrderSide, price, quantity decimal.Decimal, reduceOnly bool) (*domain.Order, error) {
	return f.record(placedFutures{kind: "limit", side: side, price: price, quantity: quantity, reduceOnly: reduceOnly}, domain.OrderTypeLimit, symbol), nil
}

func (f *fakeFutures) PlaceClosePositionStop(_ context.Context, symbol string, side domain.OrderSide, stopPrice decimal.Decimal) (*domain.Order, error) {
	return f.record(placedFutures{kind: "stop", side: side, price: stopPrice, reduceOnly: true}, domain.OrderTypeStopMarket, symbol), nil
}

func (f *fakeFutures) CancelOrder(context.Context, string, int64) error {
	return nil
}

func (f *fakeFutures) CancelAllOrders(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelledAll++
	return nil
}

func (f *fakeFutures) GetOrder(context.Context, string, int64) (*domain.Order, error) {
	return nil, exchange.ErrOrderNotFound
}

func (f *fakeFutures) GetOpenOrders(context.Context, string) ([]domain.Order, error) {
	return append([]domain.Order(nil), f.open...), nil
}

func (f *fakeFutures) GetSymbolRules(context.Context, string) (*domain.SymbolRules, error) {
	return f.rules, nil
}

func (f *fakeFutures) GetPrice(context.Context, string) (decimal.Decimal, error) {
	return f.price, nil
}

func (f *fakeFutures) GetRealizedPnL(context.Context, string, int64) (decimal.Decimal, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pnlLookups++
	return f.pnl, f.pnlFound, nil
}
