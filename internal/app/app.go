// Package app wires the trading components together and runs their loops.
package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"signaltrader/internal/domain"
	"signaltrader/internal/exchange"
	"signaltrader/internal/intake"
	"signaltrader/internal/ledger"
	"signaltrader/internal/market"
	"signaltrader/internal/notify"
	"signaltrader/internal/parser"
	"signaltrader/internal/server"
	"signaltrader/internal/trader"
	"signaltrader/pkg/config"
)

// IntentSource delivers parsed chat messages.
type IntentSource interface {
	Run(ctx context.Context, handle intake.Handler) error
	Close() error
}

// Components are the collaborators of an App.
type Components struct {
	Market   market.Market
	Ledger   *ledger.Ledger
	Stream   exchange.UserStream
	Intake   IntentSource
	Notifier notify.Notifier
	Amounts  trader.Amounts
	// Server is optional.
	Server *server.Server
	// Closers run on Close after the loops have stopped.
	Closers []func() error
}

// App processes chat intents and exchange order events.
//
// Intents and events are each handled one at a time in arrival order. The two
// loops run concurrently and serialize work on a symbol through the ledger.
type App struct {
	trader     *trader.Trader
	reconciler *trader.Reconciler
	stream     exchange.UserStream
	intake     IntentSource
	server     *server.Server
	notifier   notify.Notifier
	closers    []func() error
	logger     *zap.Logger
}

// New builds every component from cfg and checks that the exchange is
// reachable.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	ex, err := newExchange(cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := ex.check(ctx); err != nil {
		return nil, fmt.Errorf("binance connectivity: %w", err)
	}

	amounts, err := newAmounts(cfg)
	if err != nil {
		return nil, err
	}

	store, closeStore, err := newStore(ctx, cfg.Ledger, logger)
	if err != nil {
		return nil, fmt.Errorf("ledger store: %w", err)
	}
	pending, err := ledger.Open(ctx, store, logger)
	if err != nil {
		_ = closeStore()
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	consumer, err := intake.NewConsumer(intake.Config{
		Brokers:  cfg.Intake.Kafka.Brokers,
		Topic:    cfg.Intake.Kafka.Topic,
		GroupID:  cfg.Intake.Kafka.GroupID,
		Channels: cfg.Intake.Channels,
		Logger:   logger,
	})
	if err != nil {
		_ = closeStore()
		return nil, err
	}

	srv := server.New(server.Config{
		Port:         cfg.Server.HTTP.Port,
		ReadTimeout:  cfg.Server.HTTP.ReadTimeout,
		WriteTimeout: cfg.Server.HTTP.WriteTimeout,
		Pending:      pending,
		Exits:        ex.market,
		Logger:       logger,
	})

	logger.Info("app initialized",
		zap.String("market", string(ex.market.Type())),
		zap.String("ledger", cfg.Ledger.Backend),
		zap.Int("pending", pending.Len()),
		zap.Bool("testnet", cfg.Exchange.Testnet))

	return Assemble(Components{
		Market:   ex.market,
		Ledger:   pending,
		Stream:   ex.stream,
		Intake:   consumer,
		Notifier: newNotifier(cfg, logger),
		Amounts:  amounts,
		Server:   srv,
		Closers:  []func() error{consumer.Close, closeStore},
	}, logger), nil
}

// Assemble creates an App from ready components.
func Assemble(c Components, logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{
		trader: trader.New(trader.Config{
			Market:   c.Market,
			Ledger:   c.Ledger,
			Amounts:  c.Amounts,
			Notifier: c.Notifier,
			Logger:   logger,
		}),
		reconciler: trader.NewReconciler(trader.ReconcilerConfig{
			Market:   c.Market,
			Ledger:   c.Ledger,
			Notifier: c.Notifier,
			Logger:   logger,
		}),
		stream:   c.Stream,
		intake:   c.Intake,
		server:   c.Server,
		notifier: c.Notifier,
		closers:  c.Closers,
		logger:   logger.Named("app"),
	}
}

// Run blocks until ctx is cancelled or one of the loops fails.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	events, err := a.stream.Subscribe(gctx)
	if err != nil {
		return fmt.Errorf("subscribe user stream: %w", err)
	}

	g.Go(func() error {
		if err := a.intake.Run(gctx, a.handleIntent); err != nil {
			return fmt.Errorf("intake: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return a.consumeEvents(gctx, events)
	})

	if a.server != nil {
		g.Go(func() error {
			return a.server.Run(gctx)
		})
	}

	a.logger.Info("app started")
	err = g.Wait()
	if err != nil {
		a.report(context.WithoutCancel(ctx), "Terminated", err)
		return err
	}
	a.logger.Info("app stopped")
	return nil
}

// Close stops the user stream and releases the remaining resources.
func (a *App) Close() error {
	a.stream.Close()

	var errs []error
	for _, c := range a.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (a *App) consumeEvents(ctx context.Context, events <-chan domain.OrderEvent) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("user stream closed")
			}
			if err := a.reconciler.HandleEvent(ctx, event); err != nil {
				a.report(ctx, "Order update failed", err,
					zap.String("symbol", event.Symbol),
					zap.Int64("order_id", event.OrderID),
					zap.String("status", string(event.Status)))
			}
		}
	}
}

// handleIntent is the intake.Handler of the intent loop.
func (a *App) handleIntent(ctx context.Context, intent domain.Intent, parseErr error) {
	if parseErr != nil && !errors.Is(parseErr, parser.ErrUnknownMessage) {
		a.report(ctx, "Message not understood", parseErr,
			zap.String("channel", intent.Channel))
		return
	}

	if err := a.trader.HandleIntent(ctx, intent); err != nil {
		a.report(ctx, "Signal failed", err,
			zap.String("channel", intent.Channel),
			zap.String("kind", string(intent.Kind)),
			zap.String("symbol", intent.Symbol))
	}
}

func (a *App) report(ctx context.Context, subject string, err error, fields ...zap.Field) {
	a.logger.Error(subject, append(fields, zap.Error(err))...)
	a.notifier.Notify(ctx, notify.Error(subject, err.Error()))
}
