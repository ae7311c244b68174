package binance

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"signaltrader/internal/domain"
	"signaltrader/internal/exchange"
)

// FuturesAdapter implements exchange.Futures for Binance USD-M Futures.
type FuturesAdapter struct {
	client *Client
	logger *zap.Logger
}

var _ exchange.Futures = (*FuturesAdapter)(nil)

// NewFuturesAdapter creates a new Binance Futures adapter.
func NewFuturesAdapter(cfg Config) *FuturesAdapter {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &FuturesAdapter{
		client: NewClient(ClientConfig{
			APIKey:     cfg.APIKey,
			APISecret:  cfg.APISecret,
			Futures:    true,
			Testnet:    cfg.Testnet,
			BaseURL:    cfg.BaseURL,
			RateLimit:  cfg.RateLimit,
			RecvWindow: cfg.RecvWindow,
			Logger:     logger,
		}),
		logger: logger.With(zap.String("market", "futures")),
	}
}

// Client returns the underlying REST client.
func (a *FuturesAdapter) Client() *Client {
	return a.client
}

// CheckConnectivity verifies the API is reachable and logs the clock drift.
func (a *FuturesAdapter) CheckConnectivity(ctx context.Context) error {
	return checkConnectivity(ctx, a.client, "/fapi/v1/time", a.logger)
}

// SetMarginType implements exchange.Futures.
func (a *FuturesAdapter) SetMarginType(ctx context.Context, symbol, marginType string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("marginType", marginType)

	err := a.client.do(ctx, http.MethodPost, "/fapi/v1/marginType", params, true, nil)
	if isCode(err, codeMarginUnchanged) {
		return nil
	}
	if err != nil {
		return mapError(err, symbol)
	}
	return nil
}

// SetLeverage implements exchange.Futures.
func (a *FuturesAdapter) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("leverage", strconv.Itoa(leverage))

	err := a.client.do(ctx, http.MethodPost, "/fapi/v1/leverage", params, true, nil)
	if isCode(err, codeLeverageUnchanged) {
		return nil
	}
	if err != nil {
		return mapError(err, symbol)
	}
	return nil
}

// GetPositionAmount implements exchange.Futures.
func (a *FuturesAdapter) GetPositionAmount(ctx context.Context, symbol string) (decimal.Decimal, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	var resp []struct {
		Symbol       string `json:"symbol"`
		PositionAmt  string `json:"positionAmt"`
		PositionSide string `json:"positionSide"`
	}
	if err := a.client.do(ctx, http.MethodGet, "/fapi/v2/positionRisk", params, true, &resp); err != nil {
		return decimal.Zero, mapError(err, symbol)
	}

	total := decimal.Zero
	for _, p := range resp {
		if p.Symbol == symbol {
			total = total.Add(parseDecimal(p.PositionAmt))
		}
	}
	return total, nil
}

// PlaceMarketOrder implements exchange.Futures.
func (a *FuturesAdapter) PlaceMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity decimal.Decimal, reduceOnly bool) (*domain.Order, error) {
	params := newOrderParams(symbol, side, domain.OrderTypeMarket)
	params.Set("quantity", quantity.String())
	params.Set("newOrderRespType", "RESULT")
	if reduceOnly {
		params.Set("reduceOnly", "true")
	}
	return a.placeOrder(ctx, symbol, params)
}

// PlaceLimitOrder implements exchange.Futures.
func (a *FuturesAdapter) PlaceLimitOrder(ctx context.Context, symbol string, side domain.OrderSide, price, quantity decimal.Decimal, reduceOnly bool) (*domain.Order, error) {
	params := newOrderParams(symbol, side, domain.OrderTypeLimit)
	params.Set("timeInForce", "GTC")
	params.Set("price", price.String())
	params.Set("quantity", quantity.String())
	if reduceOnly {
		params.Set("reduceOnly", "true")
	}
	return a.placeOrder(ctx, symbol, params)
}

// PlaceClosePositionStop implements exchange.Futures.
func (a *FuturesAdapter) PlaceClosePositionStop(ctx context.Context, symbol string, side domain.OrderSide, stopPrice decimal.Decimal) (*domain.Order, error) {
	params := newOrderParams(symbol, side, domain.OrderTypeStopMarket)
	params.Set("stopPrice", stopPrice.String())
	params.Set("closePosition", "true")
	params.Set("timeInForce", "GTE_GTC")
	return a.placeOrder(ctx, symbol, params)
}

func (a *FuturesAdapter) placeOrder(ctx context.Context, symbol string, params url.Values) (*domain.Order, error) {
	var resp orderResponse
	if err := a.client.do(ctx, http.MethodPost, "/fapi/v1/order", params, true, &resp); err != nil {
		return nil, mapError(err, symbol)
	}

	order := resp.toOrder()
	a.logger.Info("order placed",
		zap.String("symbol", symbol),
		zap.Int64("order_id", order.OrderID),
		zap.String("side", string(order.Side)),
		zap.String("type", string(order.Type)),
		zap.String("status", string(order.Status)),
		zap.Bool("reduce_only", order.ReduceOnly))
	return order, nil
}

// CancelAllOrders implements exchange.Futures.
func (a *FuturesAdapter) CancelAllOrders(ctx context.Context, symbol string) error {
	params := url.Values{}
	params.Set("symbol", symbol)

	if err := a.client.do(ctx, http.MethodDelete, "/fapi/v1/allOpenOrders", params, true, nil); err != nil {
		return mapError(err, symbol)
	}
	a.logger.Info("open orders cancelled", zap.String("symbol", symbol))
	return nil
}

// CancelOrder implements exchange.Futures.
func (a *FuturesAdapter) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", strconv.FormatInt(orderID, 10))

	if err := a.client.do(ctx, http.MethodDelete, "/fapi/v1/order", params, true, nil); err != nil {
		return mapError(err, symbol)
	}
	return nil
}

// GetOrder implements exchange.Futures.
func (a *FuturesAdapter) GetOrder(ctx context.Context, symbol string, orderID int64) (*domain.Order, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", strconv.FormatInt(orderID, 10))

	var resp orderResponse
	if err := a.client.do(ctx, http.MethodGet, "/fapi/v1/order", params, true, &resp); err != nil {
		return nil, mapError(err, symbol)
	}
	return resp.toOrder(), nil
}

// GetOpenOrders implements exchange.Futures.
func (a *FuturesAdapter) GetOpenOrders(ctx context.Context, symbol string) ([]domain.Order, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	var resp []orderResponse
	if err := a.client.do(ctx, http.MethodGet, "/fapi/v1/openOrders", params, true, &resp); err != nil {
		return nil, mapError(err, symbol)
	}
	return toOrders(resp), nil
}

// GetSymbolRules implements exchange.Futures.
// The futures exchange info carries explicit precisions which take
// precedence over the step filters.
func (a *FuturesAdapter) GetSymbolRules(ctx context.Context, symbol string) (*domain.SymbolRules, error) {
	var resp exchangeInfoResponse
	if err := a.client.do(ctx, http.MethodGet, "/fapi/v1/exchangeInfo", nil, false, &resp); err != nil {
		return nil, mapError(err, symbol)
	}

	rules, ok := resp.rules(symbol, true)
	if !ok {
		return nil, fmt.Errorf("%s: %w", symbol, exchange.ErrPairNotSupported)
	}
	return rules, nil
}

// GetPrice implements exchange.Futures.
func (a *FuturesAdapter) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return getPrice(ctx, a.client, "/fapi/v1/ticker/price", symbol)
}

// GetRealizedPnL implements exchange.Futures.
func (a *FuturesAdapter) GetRealizedPnL(ctx context.Context, symbol string, orderID int64) (decimal.Decimal, bool, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", strconv.FormatInt(orderID, 10))

	var resp []struct {
		OrderID     int64  `json:"orderId"`
		RealizedPnl string `json:"realizedPnl"`
	}
	if err := a.client.do(ctx, http.MethodGet, "/fapi/v1/userTrades", params, true, &resp); err != nil {
		return decimal.Zero, false, mapError(err, symbol)
	}

	pnl := decimal.Zero
	found := false
	for _, trade := range resp {
		if trade.OrderID != orderID {
			continue
		}
		pnl = pnl.Add(parseDecimal(trade.RealizedPnl))
		found = true
	}
	return pnl, found, nil
}
