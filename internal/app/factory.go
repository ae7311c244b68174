package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"signaltrader/internal/exchange"
	"signaltrader/internal/exchange/binance"
	"signaltrader/internal/ledger"
	"signaltrader/internal/market"
	"signaltrader/internal/notify"
	"signaltrader/internal/trader"
	"signaltrader/pkg/config"
	"signaltrader/pkg/infra/postgres"
	"signaltrader/pkg/infra/redis"
)

// exchangeSet is the market adapter together with the user stream of the
// same Binance account.
type exchangeSet struct {
	market market.Market
	stream exchange.UserStream
	check  func(ctx context.Context) error
}

// newExchange creates the Binance adapters selected by trading.market_type.
// Credentials come from cfg.Secrets.
func newExchange(cfg *config.Config, logger *zap.Logger) (*exchangeSet, error) {
	binanceCfg := binance.Config{
		APIKey:     cfg.Secrets.BinanceAPIKey,
		APISecret:  cfg.Secrets.BinanceAPISecret,
		Testnet:    cfg.Exchange.Testnet,
		RateLimit:  cfg.Exchange.RateLimit,
		RecvWindow: cfg.Exchange.RecvWindow,
		Logger:     logger,
	}
	streamCfg := binance.UserStreamConfig{
		Futures:        cfg.IsFutures(),
		Testnet:        cfg.Exchange.Testnet,
		PingInterval:   cfg.Exchange.WebSocket.PingInterval,
		KeepAlive:      cfg.Exchange.WebSocket.KeepAliveInterval,
		ReconnectDelay: cfg.Exchange.WebSocket.ReconnectDelay,
		Logger:         logger,
	}

	if cfg.IsFutures() {
		adapter := binance.NewFuturesAdapter(binanceCfg)
		m, err := market.NewFutures(market.FuturesConfig{
			Exchange:      adapter,
			Leverage:      cfg.Trading.Futures.Leverage,
			MarginType:    cfg.Trading.Futures.MarginType,
			FillPollDelay: cfg.Trading.FillPollDelay,
			Logger:        logger,
		})
		if err != nil {
			return nil, fmt.Errorf("futures market: %w", err)
		}
		return &exchangeSet{
			market: m,
			stream: binance.NewUserStream(adapter.Client(), streamCfg),
			check:  adapter.CheckConnectivity,
		}, nil
	}

	correction, err := cfg.Trading.StopCorrection()
	if err != nil {
		return nil, err
	}
	adapter := binance.NewSpotAdapter(binanceCfg)
	return &exchangeSet{
		market: market.NewSpot(market.SpotConfig{
			Exchange:       adapter,
			StopCorrection: correction,
			FillPollDelay:  cfg.Trading.FillPollDelay,
			Logger:         logger,
		}),
		stream: binance.NewUserStream(adapter.Client(), streamCfg),
		check:  adapter.CheckConnectivity,
	}, nil
}

// newAmounts returns the trade amounts of the configured market.
func newAmounts(cfg *config.Config) (trader.Amounts, error) {
	if cfg.IsFutures() {
		amount, err := cfg.Trading.FuturesAmount()
		if err != nil {
			return trader.Amounts{}, err
		}
		return trader.Amounts{Default: amount}, nil
	}

	byQuote, err := cfg.Trading.SpotAmounts()
	if err != nil {
		return trader.Amounts{}, err
	}
	return trader.Amounts{ByQuote: byQuote}, nil
}

// newStore opens the ledger backend. The returned closer releases its
// connections.
func newStore(ctx context.Context, cfg config.LedgerConfig, logger *zap.Logger) (ledger.Store, func() error, error) {
	switch cfg.Backend {
	case config.BackendFile:
		return ledger.NewFileStore(cfg.File.Path), noopClose, nil

	case config.BackendRedis:
		client, err := redis.Connect(ctx, cfg.Redis, logger)
		if err != nil {
			return nil, nil, err
		}
		return ledger.NewRedisStore(client, cfg.Redis.Key), client.Close, nil

	case config.BackendPostgres:
		db, err := postgres.Open(ctx, cfg.Postgres, logger)
		if err != nil {
			return nil, nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, nil, fmt.Errorf("postgres handle: %w", err)
		}
		store, err := ledger.NewGormStore(db, cfg.Postgres.Handle)
		if err != nil {
			_ = sqlDB.Close()
			return nil, nil, err
		}
		return store, sqlDB.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown ledger backend: %s", cfg.Backend)
	}
}

// newNotifier fans out to the log and every configured sink.
func newNotifier(cfg *config.Config, logger *zap.Logger) notify.Notifier {
	sinks := notify.Multi{notify.NewLog(logger)}
	if cfg.Notification.LogFile != "" {
		sinks = append(sinks, notify.NewFile(cfg.Notification.LogFile, logger))
	}
	if cfg.Notification.Telegram.Enabled {
		sinks = append(sinks, notify.NewTelegram(notify.TelegramConfig{
			Token:  cfg.Secrets.TelegramToken,
			ChatID: cfg.Notification.Telegram.ChatID,
			Logger: logger,
		}))
	}
	return sinks
}

func noopClose() error { return nil }
