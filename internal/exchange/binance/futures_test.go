package binance_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signaltrader/internal/domain"
	"signaltrader/internal/exchange/binance"
)

func newTestFutures(t *testing.T, handler http.Handler) *binance.FuturesAdapter {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return binance.NewFuturesAdapter(binance.Config{
		APIKey:    "test-key",
		APISecret: "test-secret",
		BaseURL:   server.URL,
	})
}

func TestFutures_SetMarginType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		body    string
		wantErr bool
	}{
		{"changed", http.StatusOK, `{"code":200,"msg":"success"}`, false},
		{"already isolated", http.StatusBadRequest, `{"code":-4046,"msg":"No need to change margin type."}`, false},
		{"rejected", http.StatusBadRequest, `{"code":-4047,"msg":"Margin type cannot be changed if there exists open orders."}`, true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			adapter := newTestFutures(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/fapi/v1/marginType", r.URL.Path)
				assert.Equal(t, "ISOLATED", r.URL.Query().Get("marginType"))
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))

			err := adapter.SetMarginType(context.Background(), "BTCUSDT", "ISOLATED")
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestFutures_SetLeverage(t *testing.T) {
	t.Parallel()

	adapter := newTestFutures(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fapi/v1/leverage", r.URL.Path)
		assert.Equal(t, "5", r.URL.Query().Get("leverage"))
		_, _ = w.Write([]byte(`{"leverage":5,"maxNotionalValue":"1000000","symbol":"BTCUSDT"}`))
	}))

	require.NoError(t, adapter.SetLeverage(context.Background(), "BTCUSDT", 5))
}

func TestFutures_GetPositionAmount(t *testing.T) {
	t.Parallel()

	adapter := newTestFutures(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fapi/v2/positionRisk", r.URL.Path)
		_, _ = w.Write([]byte(`[{"symbol":"BTCUSDT","positionAmt":"0.250","positionSide":"BOTH"}]`))
	}))

	amount, err := adapter.GetPositionAmount(context.Background(), "BTCUSDT")

	require.NoError(t, err)
	assert.True(t, amount.Equal(decimal.RequireFromString("0.25")))
}

func TestFutures_PlaceOrders(t *testing.T) {
	t.Parallel()

	var (
		mu   sync.Mutex
		seen []string
	)
	adapter := newTestFutures(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fapi/v1/order", r.URL.Path)

		q := r.URL.Query()
		mu.Lock()
		seen = append(seen, q.Get("type"))
		mu.Unlock()
		switch q.Get("type") {
		case "STOP_MARKET":
			assert.Equal(t, "true", q.Get("closePosition"))
			assert.Equal(t, "90", q.Get("stopPrice"))
			assert.Empty(t, q.Get("quantity"))
		case "LIMIT":
			assert.Equal(t, "true", q.Get("reduceOnly"))
			assert.Equal(t, "GTC", q.Get("timeInForce"))
		case "MARKET":
			assert.Empty(t, q.Get("reduceOnly"))
		}

		_, _ = w.Write([]byte(`{"symbol":"BTCUSDT","orderId":11,"status":"NEW","type":"` + q.Get("type") +
			`","side":"` + q.Get("side") + `","price":"0","avgPrice":"0.00000","origQty":"1","executedQty":"0","cumQuote":"0",
			"reduceOnly":` + strconv.FormatBool(q.Get("reduceOnly") == "true") + `,"updateTime":1}`))
	}))

	ctx := context.Background()

	stop, err := adapter.PlaceClosePositionStop(ctx, "BTCUSDT", domain.OrderSideSell, decimal.NewFromInt(90))
	require.NoError(t, err)
	assert.Equal(t, domain.OrderTypeStopMarket, stop.Type)

	limit, err := adapter.PlaceLimitOrder(ctx, "BTCUSDT", domain.OrderSideSell, decimal.NewFromInt(110), decimal.NewFromInt(1), true)
	require.NoError(t, err)
	assert.True(t, limit.ReduceOnly)

	_, err = adapter.PlaceMarketOrder(ctx, "BTCUSDT", domain.OrderSideBuy, decimal.NewFromInt(1), false)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"STOP_MARKET", "LIMIT", "MARKET"}, seen)
}

func TestFutures_MarketOrderAveragePrice(t *testing.T) {
	t.Parallel()

	adapter := newTestFutures(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"symbol":"BTCUSDT","orderId":12,"status":"FILLED","type":"MARKET","side":"BUY",
			"price":"0","avgPrice":"25000.10","origQty":"0.002","executedQty":"0.002","cumQuote":"50.0002"}`))
	}))

	order, err := adapter.PlaceMarketOrder(context.Background(), "BTCUSDT", domain.OrderSideBuy, decimal.RequireFromString("0.002"), false)

	require.NoError(t, err)
	assert.True(t, order.Price.Equal(decimal.RequireFromString("25000.1")))
	assert.True(t, order.QuoteQuantity.Equal(decimal.RequireFromString("50.0002")))
}

func TestFutures_GetSymbolRules(t *testing.T) {
	t.Parallel()

	adapter := newTestFutures(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fapi/v1/exchangeInfo", r.URL.Path)
		_, _ = w.Write([]byte(`{"symbols":[
			{"symbol":"ETHUSDT","pricePrecision":2,"quantityPrecision":3,"filters":[]},
			{"symbol":"BTCUSDT","pricePrecision":1,"quantityPrecision":3,"filters":[
				{"filterType":"MIN_NOTIONAL","notional":"100"}
			]}
		]}`))
	}))

	rules, err := adapter.GetSymbolRules(context.Background(), "BTCUSDT")

	require.NoError(t, err)
	require.NotNil(t, rules.PricePrecision)
	require.NotNil(t, rules.QuantityPrecision)
	assert.Equal(t, int32(1), *rules.PricePrecision)
	assert.Equal(t, int32(3), *rules.QuantityPrecision)
	assert.Equal(t, "100", rules.Filters[0].Notional)
}

func TestFutures_CancelAllOrders(t *testing.T) {
	t.Parallel()

	adapter := newTestFutures(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/fapi/v1/allOpenOrders", r.URL.Path)
		_, _ = w.Write([]byte(`{"code":200,"msg":"The operation of cancel all open order is done."}`))
	}))

	require.NoError(t, adapter.CancelAllOrders(context.Background(), "BTCUSDT"))
}

func TestFutures_GetRealizedPnL(t *testing.T) {
	t.Parallel()

	adapter := newTestFutures(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fapi/v1/userTrades", r.URL.Path)
		if r.URL.Query().Get("orderId") == "99" {
			_, _ = w.Write([]byte(`[]`))
			return
		}
		_, _ = w.Write([]byte(`[
			{"orderId":12,"realizedPnl":"1.50"},
			{"orderId":12,"realizedPnl":"-0.25"}
		]`))
	}))

	pnl, ok, err := adapter.GetRealizedPnL(context.Background(), "BTCUSDT", 12)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, pnl.Equal(decimal.RequireFromString("1.25")))

	_, ok, err = adapter.GetRealizedPnL(context.Background(), "BTCUSDT", 99)
	require.NoError(t, err)
	assert.False(t, ok)
}
