package binance_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signaltrader/internal/domain"
	"signaltrader/internal/exchange/binance"
)

const spotFill = `{"e":"executionReport","E":1499405658658,"s":"ETHBTC","c":"mUvoqJxFIILMdfAW5iGSOW","S":"BUY",
"o":"LIMIT","f":"GTC","q":"1.00000000","p":"0.10264410","P":"0.00000000","F":"0.00000000","g":-1,"C":"",
"x":"TRADE","X":"FILLED","r":"NONE","i":4293153,"l":"1.00000000","z":"1.00000000","L":"0.10264410",
"n":"0","N":null,"T":1499405658657,"t":-1,"I":8641984,"w":true,"m":false,"M":false,"O":1499405658657,
"Z":"0.10264410","Y":"0.00000000","Q":"0.00000000"}`

const futuresFill = `{"e":"ORDER_TRADE_UPDATE","E":1568879465651,"T":1568879465650,"o":{"s":"BTCUSDT",
"c":"TEST","S":"SELL","o":"LIMIT","f":"GTC","q":"0.001","p":"9910","ap":"9910.5","sp":"0","x":"TRADE",
"X":"FILLED","i":8886774,"l":"0.001","z":"0.001","L":"9910.5","N":"USDT","n":"0.01","T":1568879465650,
"t":0,"b":"0","a":"9.91","m":false,"R":true,"wt":"CONTRACT_PRICE","ot":"LIMIT","ps":"BOTH","cp":false,
"AP":"7476.89","cr":"5.0","rp":"1.25"}}`

type streamServer struct {
	keys      atomic.Int32
	keepAlive atomic.Int32
	// frames returns the payloads sent on the n-th connection, starting at 1.
	frames func(n int32) []string
}

func (s *streamServer) handler(t *testing.T) http.Handler {
	upgrader := websocket.Upgrader{}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost:
			n := s.keys.Add(1)
			_, _ = fmt.Fprintf(w, `{"listenKey":"key-%d"}`, n)
		case r.Method == http.MethodPut:
			s.keepAlive.Add(1)
			_, _ = w.Write([]byte(`{}`))
		case strings.HasPrefix(r.URL.Path, "/ws/"):
			var n int32
			_, err := fmt.Sscanf(strings.TrimPrefix(r.URL.Path, "/ws/"), "key-%d", &n)
			assert.NoError(t, err)

			conn, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			defer conn.Close()

			for _, frame := range s.frames(n) {
				if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
					return
				}
			}
			// hold the connection until the client goes away
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func newTestStream(t *testing.T, srv *streamServer, futures bool) *binance.UserStream {
	t.Helper()

	server := httptest.NewServer(srv.handler(t))
	t.Cleanup(server.Close)

	client := binance.NewClient(binance.ClientConfig{APIKey: "test-key", BaseURL: server.URL, Futures: futures})
	stream := binance.NewUserStream(client, binance.UserStreamConfig{
		Futures:        futures,
		URL:            "ws" + strings.TrimPrefix(server.URL, "http") + "/ws",
		ReconnectDelay: 10 * time.Millisecond,
		KeepAlive:      20 * time.Millisecond,
	})
	t.Cleanup(stream.Close)
	return stream
}

func receive(t *testing.T, events <-chan domain.OrderEvent) domain.OrderEvent {
	t.Helper()

	select {
	case event, ok := <-events:
		require.True(t, ok, "stream closed")
		return event
	case <-time.After(5 * time.Second):
		t.Fatal("no event received")
		return domain.OrderEvent{}
	}
}

func TestUserStream_SpotExecutionReport(t *testing.T) {
	t.Parallel()

	srv := &streamServer{frames: func(int32) []string {
		return []string{
			`{"e":"outboundAccountPosition","E":1564034571105,"u":1564034571073,"B":[]}`,
			`not json`,
			spotFill,
		}
	}}
	stream := newTestStream(t, srv, false)

	events, err := stream.Subscribe(context.Background())
	require.NoError(t, err)

	event := receive(t, events)
	assert.Equal(t, domain.MarketSpot, event.Market)
	assert.Equal(t, "ETHBTC", event.Symbol)
	assert.Equal(t, domain.OrderSideBuy, event.Side)
	assert.Equal(t, domain.OrderTypeLimit, event.Type)
	assert.Equal(t, domain.OrderStatusFilled, event.Status)
	assert.Equal(t, int64(4293153), event.OrderID)
	assert.Nil(t, event.GroupID)
	assert.True(t, event.Quantity.Equal(decimal.NewFromInt(1)))
	assert.True(t, event.Price.Equal(decimal.RequireFromString("0.1026441")))
	assert.True(t, event.FillPrice().Equal(decimal.RequireFromString("0.1026441")))
	assert.False(t, event.RealizedPnL.Valid)
	assert.True(t, event.LastFilled.Equal(decimal.NewFromInt(1)))
	assert.False(t, event.ReduceOnly)
	assert.Equal(t, int64(1499405658658), event.EventTime.UnixMilli())
}

func TestUserStream_FuturesOrderTradeUpdate(t *testing.T) {
	t.Parallel()

	srv := &streamServer{frames: func(int32) []string { return []string{futuresFill} }}
	stream := newTestStream(t, srv, true)

	events, err := stream.Subscribe(context.Background())
	require.NoError(t, err)

	event := receive(t, events)
	assert.Equal(t, domain.MarketFutures, event.Market)
	assert.Equal(t, "BTCUSDT", event.Symbol)
	assert.Equal(t, domain.OrderSideSell, event.Side)
	assert.Equal(t, domain.OrderStatusFilled, event.Status)
	assert.Equal(t, int64(8886774), event.OrderID)
	assert.True(t, event.AveragePrice.Equal(decimal.RequireFromString("9910.5")))
	assert.True(t, event.LastFilled.Equal(decimal.RequireFromString("0.001")))
	assert.True(t, event.ReduceOnly)
	require.True(t, event.RealizedPnL.Valid)
	assert.True(t, event.RealizedPnL.Decimal.Equal(decimal.RequireFromString("1.25")))
}

func TestUserStream_ReconnectsOnListenKeyExpired(t *testing.T) {
	t.Parallel()

	srv := &streamServer{frames: func(n int32) []string {
		if n == 1 {
			return []string{`{"e":"listenKeyExpired","E":1576653824250,"listenKey":"key-1"}`}
		}
		return []string{spotFill}
	}}
	stream := newTestStream(t, srv, false)

	events, err := stream.Subscribe(context.Background())
	require.NoError(t, err)

	event := receive(t, events)
	assert.Equal(t, int64(4293153), event.OrderID)
	assert.GreaterOrEqual(t, srv.keys.Load(), int32(2))
}

func TestUserStream_KeepAliveAndClose(t *testing.T) {
	t.Parallel()

	srv := &streamServer{frames: func(int32) []string { return nil }}
	stream := newTestStream(t, srv, false)

	events, err := stream.Subscribe(context.Background())
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return srv.keepAlive.Load() > 0 }, 5*time.Second, 10*time.Millisecond)

	stream.Close()
	stream.Close()

	select {
	case _, ok := <-events:
		assert.False(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("events channel not closed")
	}
}

func TestUserStream_SubscribeFailsWithoutListenKey(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"code":-2015,"msg":"Invalid API-key, IP, or permissions for action."}`))
	}))
	t.Cleanup(server.Close)

	stream := binance.NewUserStream(binance.NewClient(binance.ClientConfig{BaseURL: server.URL}), binance.UserStreamConfig{
		URL: "ws" + strings.TrimPrefix(server.URL, "http") + "/ws",
	})

	_, err := stream.Subscribe(context.Background())
	require.Error(t, err)
}
