package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"signaltrader/internal/domain"
	"signaltrader/internal/exchange"
)

const (
	// SpotStreamURL is the production Binance Spot user data stream endpoint.
	SpotStreamURL = "wss://stream.binance.com:9443/ws"
	// SpotTestnetStreamURL is the Binance Spot testnet stream endpoint.
	SpotTestnetStreamURL = "wss://stream.testnet.binance.vision/ws"
	// FuturesStreamURL is the production Binance USD-M Futures stream endpoint.
	FuturesStreamURL = "wss://fstream.binance.com/ws"
	// FuturesTestnetStreamURL is the Binance USD-M Futures testnet stream endpoint.
	FuturesTestnetStreamURL = "wss://fstream.binancefuture.com/ws"

	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// defaultPingInterval is the default interval to send ping messages.
	defaultPingInterval = 20 * time.Second
	// defaultReconnectDelay is the first delay before reconnecting.
	defaultReconnectDelay = time.Second
	// defaultMaxReconnectDelay caps the reconnect backoff.
	defaultMaxReconnectDelay = time.Minute
	// defaultKeepAlive is how often the listen key is extended. Keys expire after 60 minutes.
	defaultKeepAlive = 30 * time.Minute
)

const (
	eventExecutionReport  = "executionReport"
	eventOrderTradeUpdate = "ORDER_TRADE_UPDATE"
	eventListenKeyExpired = "listenKeyExpired"
)

var errListenKeyExpired = errors.New("listen key expired")

// UserStreamConfig holds configuration for the user data stream.
type UserStreamConfig struct {
	// Futures selects the USD-M Futures stream instead of Spot.
	Futures bool
	// Testnet enables testnet mode.
	Testnet bool
	// URL overrides the WebSocket endpoint chosen by Futures and Testnet.
	URL string
	// PingInterval is the interval between ping messages.
	PingInterval time.Duration
	// KeepAlive is the interval between listen key extensions.
	KeepAlive time.Duration
	// ReconnectDelay is the initial delay of the reconnect backoff.
	ReconnectDelay time.Duration
	// MaxReconnectDelay caps the reconnect backoff.
	MaxReconnectDelay time.Duration
	// Logger is the logger instance.
	Logger *zap.Logger
}

// UserStream delivers order updates from the Binance user data stream.
// Events are delivered in arrival order and never dropped: a slow consumer
// blocks the reader.
type UserStream struct {
	client *Client
	config UserStreamConfig
	market domain.MarketType
	keyURL string

	mu        sync.Mutex
	conn      *websocket.Conn
	listenKey string
	cancel    context.CancelFunc
	closeOnce sync.Once

	logger *zap.Logger
}

var _ exchange.UserStream = (*UserStream)(nil)

// NewUserStream creates a user data stream that manages its listen key
// through client.
func NewUserStream(client *Client, cfg UserStreamConfig) *UserStream {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = defaultKeepAlive
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	if cfg.MaxReconnectDelay <= 0 {
		cfg.MaxReconnectDelay = defaultMaxReconnectDelay
	}
	if cfg.URL == "" {
		switch {
		case cfg.Futures && cfg.Testnet:
			cfg.URL = FuturesTestnetStreamURL
		case cfg.Futures:
			cfg.URL = FuturesStreamURL
		case cfg.Testnet:
			cfg.URL = SpotTestnetStreamURL
		default:
			cfg.URL = SpotStreamURL
		}
	}

	s := &UserStream{
		client: client,
		config: cfg,
		market: domain.MarketSpot,
		keyURL: "/api/v3/userDataStream",
		logger: logger.With(zap.String("component", "user_stream")),
	}
	if cfg.Futures {
		s.market = domain.MarketFutures
		s.keyURL = "/fapi/v1/listenKey"
	}
	return s
}

// Subscribe implements exchange.UserStream.
func (s *UserStream) Subscribe(ctx context.Context) (<-chan domain.OrderEvent, error) {
	ctx, cancel := context.WithCancel(ctx)

	if err := s.connect(ctx); err != nil {
		cancel()
		return nil, err
	}

	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	events := make(chan domain.OrderEvent)

	go s.readLoop(ctx, events)
	go s.pingLoop(ctx)
	go s.keepAliveLoop(ctx)
	go func() {
		<-ctx.Done()
		s.closeConn()
	}()

	return events, nil
}

// Close implements exchange.UserStream.
func (s *UserStream) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		cancel := s.cancel
		s.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		s.closeConn()
	})
}

// connect creates a fresh listen key and dials the stream with it.
func (s *UserStream) connect(ctx context.Context) error {
	key, err := s.createListenKey(ctx)
	if err != nil {
		return err
	}

	streamURL := s.config.URL + "/" + key
	s.logger.Info("connecting to user stream", zap.String("market", string(s.market)))

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, streamURL, nil)
	if err != nil {
		return fmt.Errorf("dial user stream: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.listenKey = key
	s.mu.Unlock()

	s.logger.Info("user stream connected")
	return nil
}

func (s *UserStream) createListenKey(ctx context.Context) (string, error) {
	var resp struct {
		ListenKey string `json:"listenKey"`
	}
	if err := s.client.do(ctx, http.MethodPost, s.keyURL, nil, false, &resp); err != nil {
		return "", fmt.Errorf("create listen key: %w", err)
	}
	if resp.ListenKey == "" {
		return "", errors.New("create listen key: empty key")
	}
	return resp.ListenKey, nil
}

func (s *UserStream) keepAlive(ctx context.Context) error {
	s.mu.Lock()
	key := s.listenKey
	s.mu.Unlock()

	params := url.Values{}
	params.Set("listenKey", key)
	if err := s.client.do(ctx, http.MethodPut, s.keyURL, params, false, nil); err != nil {
		return fmt.Errorf("extend listen key: %w", err)
	}
	return nil
}

func (s *UserStream) closeConn() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

// readLoop reads messages until ctx is cancelled, reconnecting on read
// errors and listen key expiry.
func (s *UserStream) readLoop(ctx context.Context, events chan<- domain.OrderEvent) {
	defer close(events)

	for {
		if ctx.Err() != nil {
			return
		}

		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()

		var readErr error
		if conn == nil {
			readErr = errors.New("connection closed")
		} else {
			var message []byte
			_, message, readErr = conn.ReadMessage()
			if readErr == nil {
				event, err := parseUserEvent(message)
				switch {
				case errors.Is(err, errListenKeyExpired):
					readErr = err
				case err != nil:
					s.logger.Warn("parse message error", zap.Error(err))
					continue
				case event == nil:
					continue
				default:
					select {
					case events <- *event:
					case <-ctx.Done():
						return
					}
					continue
				}
			}
		}

		if ctx.Err() != nil {
			return
		}
		if websocket.IsUnexpectedCloseError(readErr, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
			s.logger.Error("user stream read error", zap.Error(readErr))
		} else {
			s.logger.Warn("user stream interrupted", zap.Error(readErr))
		}

		if err := s.reconnect(ctx); err != nil {
			s.logger.Error("reconnect failed", zap.Error(err))
			return
		}
	}
}

// reconnect retries connect with exponential backoff until it succeeds or ctx
// is cancelled.
func (s *UserStream) reconnect(ctx context.Context) error {
	s.closeConn()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.config.ReconnectDelay
	policy.MaxInterval = s.config.MaxReconnectDelay
	policy.MaxElapsedTime = 0

	b := backoff.WithContext(policy, ctx)
	b.Reset()

	return backoff.RetryNotify(func() error {
		return s.connect(ctx)
	}, b, func(err error, next time.Duration) {
		s.logger.Warn("user stream reconnect failed",
			zap.Error(err),
			zap.Duration("retry_in", next))
	})
}

// pingLoop sends periodic ping messages.
func (s *UserStream) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			conn := s.conn
			s.mu.Unlock()

			if conn == nil {
				continue
			}

			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				s.logger.Warn("ping error", zap.Error(err))
			}
		}
	}
}

func (s *UserStream) keepAliveLoop(ctx context.Context) {
	ticker := time.NewTicker(s.config.KeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.keepAlive(ctx); err != nil {
				s.logger.Warn("listen key keepalive failed", zap.Error(err))
			}
		}
	}
}

// rawEvent keeps exact payload keys. Binance uses keys that differ only by
// case ("i"/"I", "p"/"P", "x"/"X") and encoding/json matches struct tags
// case-insensitively.
type rawEvent map[string]json.RawMessage

func (r rawEvent) str(key string) string {
	raw, ok := r[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func (r rawEvent) int(key string) (int64, error) {
	raw, ok := r[key]
	if !ok {
		return 0, fmt.Errorf("missing field %q", key)
	}
	v, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("field %q: %w", key, err)
	}
	return v, nil
}

func (r rawEvent) bool(key string) bool {
	var b bool
	if raw, ok := r[key]; ok {
		_ = json.Unmarshal(raw, &b)
	}
	return b
}

func (r rawEvent) dec(key string) decimal.Decimal {
	return parseDecimal(r.str(key))
}

// parseUserEvent converts a stream payload into an order event. It returns a
// nil event for payloads that carry no order update.
func parseUserEvent(data []byte) (*domain.OrderEvent, error) {
	var top rawEvent
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}

	eventTime, _ := top.int("E")

	switch top.str("e") {
	case eventListenKeyExpired:
		return nil, errListenKeyExpired
	case eventExecutionReport:
		return parseExecutionReport(top, eventTime)
	case eventOrderTradeUpdate:
		var order rawEvent
		if err := json.Unmarshal(top["o"], &order); err != nil {
			return nil, fmt.Errorf("decode order update: %w", err)
		}
		return parseOrderTradeUpdate(order, eventTime)
	default:
		return nil, nil
	}
}

func parseExecutionReport(r rawEvent, eventTime int64) (*domain.OrderEvent, error) {
	orderID, err := r.int("i")
	if err != nil {
		return nil, err
	}

	var group *int64
	if g, err := r.int("g"); err == nil {
		group = listID(&g)
	}

	return &domain.OrderEvent{
		Market:         domain.MarketSpot,
		Symbol:         r.str("s"),
		Side:           domain.OrderSide(r.str("S")),
		Type:           domain.OrderType(r.str("o")),
		Status:         domain.OrderStatus(r.str("X")),
		OrderID:        orderID,
		GroupID:        group,
		Quantity:       r.dec("q"),
		FilledQuantity: r.dec("z"),
		LastFilled:     r.dec("l"),
		Price:          r.dec("p"),
		QuoteQuantity:  r.dec("Z"),
		EventTime:      time.UnixMilli(eventTime),
	}, nil
}

func parseOrderTradeUpdate(r rawEvent, eventTime int64) (*domain.OrderEvent, error) {
	orderID, err := r.int("i")
	if err != nil {
		return nil, err
	}

	// A triggered stop reports MARKET as its type and keeps STOP_MARKET as
	// the original type.
	typ := r.str("ot")
	if typ == "" {
		typ = r.str("o")
	}

	event := &domain.OrderEvent{
		Market:         domain.MarketFutures,
		Symbol:         r.str("s"),
		Side:           domain.OrderSide(r.str("S")),
		Type:           domain.OrderType(typ),
		Status:         domain.OrderStatus(r.str("X")),
		OrderID:        orderID,
		Quantity:       r.dec("q"),
		FilledQuantity: r.dec("z"),
		LastFilled:     r.dec("l"),
		Price:          r.dec("p"),
		AveragePrice:   r.dec("ap"),
		ReduceOnly:     r.bool("R"),
		EventTime:      time.UnixMilli(eventTime),
	}
	if rp := r.str("rp"); rp != "" {
		if pnl, err := decimal.NewFromString(rp); err == nil {
			event.RealizedPnL = decimal.NewNullDecimal(pnl)
		}
	}
	return event, nil
}
