// Package ledger keeps the durable record of limit buys awaiting fill.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"signaltrader/internal/domain"
)

const snapshotVersion = 1

// Store persists full ledger snapshots.
// Load returns nil data when nothing has been saved yet.
type Store interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, data []byte) error
}

type snapshot struct {
	Version int            `json:"version"`
	Orders  []domain.Order `json:"orders"`
}

// Ledger tracks pending limit buys keyed by symbol and exchange order id.
// Every mutation is flushed to the store before it returns; a failed flush
// leaves the in-memory state unchanged.
type Ledger struct {
	mu     sync.RWMutex
	orders map[domain.OrderKey]domain.Order
	store  Store
	logger *zap.Logger

	symbolsMu sync.Mutex
	symbols   map[string]*symbolLock
}

type symbolLock struct {
	mu   sync.Mutex
	refs int
}

// Open loads the ledger from store.
func Open(ctx context.Context, store Store, logger *zap.Logger) (*Ledger, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	l := &Ledger{
		orders:  make(map[domain.OrderKey]domain.Order),
		store:   store,
		logger:  logger,
		symbols: make(map[string]*symbolLock),
	}

	data, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}

	if len(data) > 0 {
		var snap snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return nil, fmt.Errorf("decode ledger snapshot: %w", err)
		}
		if snap.Version != snapshotVersion {
			return nil, fmt.Errorf("unsupported ledger snapshot version %d", snap.Version)
		}
		for _, o := range snap.Orders {
			l.orders[o.Key()] = o
		}
	}

	logger.Info("ledger opened", zap.Int("pending_orders", len(l.orders)))
	return l, nil
}

// Add records a NEW limit buy with its originating plan.
func (l *Ledger) Add(ctx context.Context, order *domain.Order) error {
	if order == nil || order.Side != domain.OrderSideBuy || order.Type != domain.OrderTypeLimit ||
		order.Status != domain.OrderStatusNew || order.Plan == nil {
		return domain.ErrInvalidOrderState
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := order.Key()
	if _, ok := l.orders[key]; ok {
		return fmt.Errorf("%w: %s %d", domain.ErrDuplicateOrder, key.Symbol, key.OrderID)
	}

	l.orders[key] = *order
	if err := l.flushLocked(ctx); err != nil {
		delete(l.orders, key)
		return err
	}

	l.logger.Info("pending order added",
		zap.String("symbol", order.Symbol),
		zap.Int64("order_id", order.OrderID),
		zap.String("price", order.Price.String()),
		zap.String("quantity", order.Quantity.String()))
	return nil
}

// Lookup returns a copy of the tracked order.
func (l *Ledger) Lookup(symbol string, orderID int64) (*domain.Order, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	o, ok := l.orders[domain.OrderKey{Symbol: symbol, OrderID: orderID}]
	if !ok {
		return nil, false
	}
	return &o, true
}

// Remove stops tracking order.
func (l *Ledger) Remove(ctx context.Context, order *domain.Order) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := order.Key()
	prev, ok := l.orders[key]
	if !ok {
		return fmt.Errorf("%w: %s %d", domain.ErrNotFound, key.Symbol, key.OrderID)
	}

	delete(l.orders, key)
	if err := l.flushLocked(ctx); err != nil {
		l.orders[key] = prev
		return err
	}

	l.logger.Info("pending order removed",
		zap.String("symbol", key.Symbol),
		zap.Int64("order_id", key.OrderID))
	return nil
}

// Orders returns the tracked orders sorted by symbol and order id.
func (l *Ledger) Orders() []domain.Order {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.sortedLocked()
}

// BySymbol returns the tracked orders of symbol.
func (l *Ledger) BySymbol(symbol string) []domain.Order {
	var out []domain.Order
	for _, o := range l.Orders() {
		if o.Symbol == symbol {
			out = append(out, o)
		}
	}
	return out
}

// Len returns the number of tracked orders.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return len(l.orders)
}

// Acquire serialises work on symbol between the intent and event loops.
// The returned function releases the lock.
func (l *Ledger) Acquire(symbol string) (release func()) {
	l.symbolsMu.Lock()
	sl, ok := l.symbols[symbol]
	if !ok {
		sl = &symbolLock{}
		l.symbols[symbol] = sl
	}
	sl.refs++
	l.symbolsMu.Unlock()

	sl.mu.Lock()

	return func() {
		sl.mu.Unlock()

		l.symbolsMu.Lock()
		sl.refs--
		if sl.refs == 0 {
			delete(l.symbols, symbol)
		}
		l.symbolsMu.Unlock()
	}
}

func (l *Ledger) sortedLocked() []domain.Order {
	out := make([]domain.Order, 0, len(l.orders))
	for _, o := range l.orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].OrderID < out[j].OrderID
	})
	return out
}

func (l *Ledger) flushLocked(ctx context.Context) error {
	data, err := json.Marshal(snapshot{Version: snapshotVersion, Orders: l.sortedLocked()})
	if err != nil {
		return fmt.Errorf("encode ledger snapshot: %w", err)
	}
	if err := l.store.Save(ctx, data); err != nil {
		l.logger.Error("ledger flush failed", zap.Error(err))
		return fmt.Errorf("flush ledger: %w", err)
	}
	return nil
}
