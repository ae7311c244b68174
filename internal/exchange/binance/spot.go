package binance

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"signaltrader/internal/domain"
	"signaltrader/internal/exchange"
)

// clientIDPrefix marks orders placed by this service.
const clientIDPrefix = "st-"

// Config holds configuration for the Binance adapters.
type Config struct {
	// APIKey is the Binance API key.
	APIKey string
	// APISecret is the Binance API secret.
	APISecret string
	// Testnet enables testnet mode.
	Testnet bool
	// BaseURL overrides the REST endpoint. Used with mock servers.
	BaseURL string
	// RateLimit is the maximum request weight per minute.
	RateLimit int
	// RecvWindow is the validity window of signed requests in milliseconds.
	RecvWindow int64
	// Logger is the logger instance.
	Logger *zap.Logger
}

// SpotAdapter implements exchange.Spot for Binance Spot.
type SpotAdapter struct {
	client *Client
	logger *zap.Logger
}

var _ exchange.Spot = (*SpotAdapter)(nil)

// NewSpotAdapter creates a new Binance Spot adapter.
func NewSpotAdapter(cfg Config) *SpotAdapter {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &SpotAdapter{
		client: NewClient(ClientConfig{
			APIKey:     cfg.APIKey,
			APISecret:  cfg.APISecret,
			Testnet:    cfg.Testnet,
			BaseURL:    cfg.BaseURL,
			RateLimit:  cfg.RateLimit,
			RecvWindow: cfg.RecvWindow,
			Logger:     logger,
		}),
		logger: logger.With(zap.String("market", "spot")),
	}
}

// Client returns the underlying REST client.
func (a *SpotAdapter) Client() *Client {
	return a.client
}

// CheckConnectivity verifies the API is reachable and logs the clock drift.
func (a *SpotAdapter) CheckConnectivity(ctx context.Context) error {
	return checkConnectivity(ctx, a.client, "/api/v3/time", a.logger)
}

// PlaceMarketBuy implements exchange.Spot.
func (a *SpotAdapter) PlaceMarketBuy(ctx context.Context, symbol string, quoteAmount decimal.Decimal) (*domain.Order, error) {
	params := newOrderParams(symbol, domain.OrderSideBuy, domain.OrderTypeMarket)
	params.Set("quoteOrderQty", quoteAmount.String())
	return a.placeOrder(ctx, symbol, params)
}

// PlaceLimitBuy implements exchange.Spot.
func (a *SpotAdapter) PlaceLimitBuy(ctx context.Context, symbol string, price, quantity decimal.Decimal) (*domain.Order, error) {
	params := newOrderParams(symbol, domain.OrderSideBuy, domain.OrderTypeLimit)
	params.Set("timeInForce", "GTC")
	params.Set("price", price.String())
	params.Set("quantity", quantity.String())
	return a.placeOrder(ctx, symbol, params)
}

// PlaceMarketSell implements exchange.Spot.
func (a *SpotAdapter) PlaceMarketSell(ctx context.Context, symbol string, quantity decimal.Decimal) (*domain.Order, error) {
	params := newOrderParams(symbol, domain.OrderSideSell, domain.OrderTypeMarket)
	params.Set("quantity", quantity.String())
	return a.placeOrder(ctx, symbol, params)
}

func (a *SpotAdapter) placeOrder(ctx context.Context, symbol string, params url.Values) (*domain.Order, error) {
	var resp orderResponse
	if err := a.client.do(ctx, http.MethodPost, "/api/v3/order", params, true, &resp); err != nil {
		return nil, mapError(err, symbol)
	}

	order := resp.toOrder()
	a.logger.Info("order placed",
		zap.String("symbol", symbol),
		zap.Int64("order_id", order.OrderID),
		zap.String("side", string(order.Side)),
		zap.String("type", string(order.Type)),
		zap.String("status", string(order.Status)))
	return order, nil
}

// PlaceOcoSell implements exchange.Spot.
func (a *SpotAdapter) PlaceOcoSell(ctx context.Context, req exchange.OcoRequest) (*exchange.OcoResult, error) {
	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", string(domain.OrderSideSell))
	params.Set("quantity", req.Quantity.String())
	params.Set("price", req.LimitPrice.String())
	params.Set("stopPrice", req.StopPrice.String())
	params.Set("stopLimitPrice", req.StopLimitPrice.String())
	params.Set("stopLimitTimeInForce", "FOK")
	params.Set("listClientOrderId", clientIDPrefix+uuid.NewString())
	params.Set("newOrderRespType", "RESULT")

	var resp ocoResponse
	if err := a.client.do(ctx, http.MethodPost, "/api/v3/order/oco", params, true, &resp); err != nil {
		return nil, mapError(err, req.Symbol)
	}

	result := &exchange.OcoResult{
		OrderListID:     resp.OrderListID,
		ListStatusType:  resp.ListStatusType,
		ListOrderStatus: resp.ListOrderStatus,
		Orders:          toOrders(resp.OrderReports),
	}

	a.logger.Info("oco placed",
		zap.String("symbol", req.Symbol),
		zap.Int64("group_id", resp.OrderListID),
		zap.String("list_status", resp.ListStatusType),
		zap.String("quantity", req.Quantity.String()))
	return result, nil
}

// CancelOrder implements exchange.Spot.
func (a *SpotAdapter) CancelOrder(ctx context.Context, symbol string, orderID int64) (*exchange.CancelResult, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", fmt.Sprint(orderID))

	var resp cancelResponse
	if err := a.client.do(ctx, http.MethodDelete, "/api/v3/order", params, true, &resp); err != nil {
		return nil, mapError(err, symbol)
	}

	listID := int64(-1)
	if resp.OrderListID != nil {
		listID = *resp.OrderListID
	}

	return &exchange.CancelResult{
		OrderID:        resp.OrderID,
		Status:         domain.OrderStatus(resp.Status),
		OrderListID:    listID,
		ListStatusType: resp.ListStatusType,
	}, nil
}

// GetOrder implements exchange.Spot.
func (a *SpotAdapter) GetOrder(ctx context.Context, symbol string, orderID int64) (*domain.Order, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", fmt.Sprint(orderID))

	var resp orderResponse
	if err := a.client.do(ctx, http.MethodGet, "/api/v3/order", params, true, &resp); err != nil {
		return nil, mapError(err, symbol)
	}
	return resp.toOrder(), nil
}

// GetSymbolRules implements exchange.Spot.
func (a *SpotAdapter) GetSymbolRules(ctx context.Context, symbol string) (*domain.SymbolRules, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	var resp exchangeInfoResponse
	if err := a.client.do(ctx, http.MethodGet, "/api/v3/exchangeInfo", params, false, &resp); err != nil {
		return nil, mapError(err, symbol)
	}

	rules, ok := resp.rules(symbol, false)
	if !ok {
		return nil, fmt.Errorf("%s: %w", symbol, exchange.ErrPairNotSupported)
	}
	return rules, nil
}

// GetOpenOrders implements exchange.Spot.
func (a *SpotAdapter) GetOpenOrders(ctx context.Context, symbol string) ([]domain.Order, error) {
	return a.listOrders(ctx, "/api/v3/openOrders", symbol)
}

// GetOrderHistory implements exchange.Spot.
func (a *SpotAdapter) GetOrderHistory(ctx context.Context, symbol string) ([]domain.Order, error) {
	return a.listOrders(ctx, "/api/v3/allOrders", symbol)
}

func (a *SpotAdapter) listOrders(ctx context.Context, endpoint, symbol string) ([]domain.Order, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	var resp []orderResponse
	if err := a.client.do(ctx, http.MethodGet, endpoint, params, true, &resp); err != nil {
		return nil, mapError(err, symbol)
	}
	return toOrders(resp), nil
}

// GetPrice implements exchange.Spot.
func (a *SpotAdapter) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return getPrice(ctx, a.client, "/api/v3/ticker/price", symbol)
}

func newOrderParams(symbol string, side domain.OrderSide, typ domain.OrderType) url.Values {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", string(side))
	params.Set("type", string(typ))
	params.Set("newClientOrderId", clientIDPrefix+uuid.NewString())
	return params
}

func getPrice(ctx context.Context, client *Client, endpoint, symbol string) (decimal.Decimal, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	var resp priceResponse
	if err := client.do(ctx, http.MethodGet, endpoint, params, false, &resp); err != nil {
		return decimal.Zero, mapError(err, symbol)
	}

	price, err := decimal.NewFromString(resp.Price)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse price %q: %w", resp.Price, err)
	}
	return price, nil
}

func checkConnectivity(ctx context.Context, client *Client, endpoint string, logger *zap.Logger) error {
	serverTime, err := client.GetServerTime(ctx, endpoint)
	if err != nil {
		return fmt.Errorf("connect to binance: %w", err)
	}

	drift := time.Since(serverTime)
	if drift < 0 {
		drift = -drift
	}

	logger.Info("connected to binance",
		zap.Time("server_time", serverTime),
		zap.Duration("clock_drift", drift))

	if drift > 5*time.Second {
		logger.Warn("significant clock drift detected", zap.Duration("drift", drift))
	}
	return nil
}
