// Package precision resolves and caches the rounding rules of exchange symbols.
package precision

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"signaltrader/internal/domain"
)

// RulesSource fetches raw symbol metadata from the exchange.
type RulesSource interface {
	GetSymbolRules(ctx context.Context, symbol string) (*domain.SymbolRules, error)
}

// Resolver is a read-through cache of symbol precisions.
// Concurrent misses for the same symbol may both hit the source; the last
// store wins and every store carries the same data.
type Resolver struct {
	source RulesSource
	cache  sync.Map // symbol -> domain.SymbolPrecision
	logger *zap.Logger
}

// NewResolver creates a resolver backed by source.
func NewResolver(source RulesSource, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{source: source, logger: logger}
}

// Resolve returns the precision of symbol, fetching it on first use.
func (r *Resolver) Resolve(ctx context.Context, symbol string) (domain.SymbolPrecision, error) {
	if cached, ok := r.cache.Load(symbol); ok {
		return cached.(domain.SymbolPrecision), nil
	}

	rules, err := r.source.GetSymbolRules(ctx, symbol)
	if err != nil {
		return domain.SymbolPrecision{}, fmt.Errorf("get symbol rules for %s: %w", symbol, err)
	}

	p, err := Parse(rules)
	if err != nil {
		return domain.SymbolPrecision{}, fmt.Errorf("%s: %w", symbol, err)
	}

	r.cache.Store(symbol, p)
	r.logger.Debug("symbol precision resolved",
		zap.String("symbol", symbol),
		zap.Int32("quantity", p.Quantity),
		zap.Int32("price", p.Price),
		zap.String("min_notional", p.MinNotional.String()))

	return p, nil
}

// Parse derives a precision from raw symbol rules.
// Explicit precisions win over the LOT_SIZE step and PRICE_FILTER tick.
// A missing minimum notional means no floor.
func Parse(rules *domain.SymbolRules) (domain.SymbolPrecision, error) {
	if rules == nil {
		return domain.SymbolPrecision{}, domain.ErrPrecisionUnavailable
	}

	var (
		quantity, price *int32
		minNotional     = decimal.Zero
	)

	for _, f := range rules.Filters {
		switch f.FilterType {
		case domain.FilterLotSize:
			if p, ok := StepPrecision(f.StepSize); ok {
				quantity = &p
			}
		case domain.FilterPrice:
			if p, ok := StepPrecision(f.TickSize); ok {
				price = &p
			}
		case domain.FilterMinNotional, domain.FilterNotional:
			raw := f.MinNotional
			if raw == "" {
				raw = f.Notional
			}
			if v, err := decimal.NewFromString(raw); err == nil {
				minNotional = v
			}
		}
	}

	if rules.QuantityPrecision != nil {
		quantity = rules.QuantityPrecision
	}
	if rules.PricePrecision != nil {
		price = rules.PricePrecision
	}

	if quantity == nil {
		return domain.SymbolPrecision{}, fmt.Errorf("%w: missing quantity step", domain.ErrPrecisionUnavailable)
	}
	if price == nil {
		return domain.SymbolPrecision{}, fmt.Errorf("%w: missing price tick", domain.ErrPrecisionUnavailable)
	}

	return domain.SymbolPrecision{
		Quantity:    *quantity,
		Price:       *price,
		MinNotional: minNotional,
	}, nil
}

// StepPrecision converts a step such as "0.00100000" into a number of decimal
// places by rounding -log10(step).
func StepPrecision(step string) (int32, bool) {
	d, err := decimal.NewFromString(step)
	if err != nil || !d.IsPositive() {
		return 0, false
	}
	return int32(math.Round(-math.Log10(d.InexactFloat64()))), true
}
