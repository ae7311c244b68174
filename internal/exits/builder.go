// Package exits builds the take-profit and stop-loss orders that close a
// filled buy. Spot positions get one OCO pair per target slice; futures
// positions get per-target take-profits and a single stop closing the whole
// position.
package exits

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"signaltrader/internal/domain"
	"signaltrader/internal/sizing"
)

// DefaultStopCorrection lifts the stop trigger 0.5% above the stop-limit price.
var DefaultStopCorrection = decimal.New(5, -3)

// PrecisionSource resolves symbol precisions.
type PrecisionSource interface {
	Resolve(ctx context.Context, symbol string) (domain.SymbolPrecision, error)
}

// Leg is one target slice of an exit plan.
type Leg struct {
	// Quantity is the slice sold at TargetPrice.
	Quantity decimal.Decimal `json:"quantity"`
	// TargetPrice is the take-profit limit price.
	TargetPrice decimal.Decimal `json:"targetPrice"`
	// StopPrice is the stop trigger of the paired spot stop-limit order.
	StopPrice decimal.Decimal `json:"stopPrice,omitempty"`
	// StopLimitPrice is the limit price of the paired spot stop-limit order.
	StopLimitPrice decimal.Decimal `json:"stopLimitPrice,omitempty"`
}

// PositionStop is a stop-market order closing the entire futures position.
type PositionStop struct {
	StopPrice decimal.Decimal `json:"stopPrice"`
}

// Plan is the set of exit orders for one filled buy.
type Plan struct {
	Market       domain.MarketType `json:"market"`
	Symbol       string            `json:"symbol"`
	Legs         []Leg             `json:"legs"`
	PositionStop *PositionStop     `json:"positionStop,omitempty"`
}

// TotalQuantity returns the quantity covered by the take-profit legs.
func (p *Plan) TotalQuantity() decimal.Decimal {
	total := decimal.Zero
	for _, leg := range p.Legs {
		total = total.Add(leg.Quantity)
	}
	return total
}

// Builder turns a filled quantity and a target ladder into an exit plan.
type Builder interface {
	Market() domain.MarketType
	Build(ctx context.Context, symbol string, quantity decimal.Decimal, targets []decimal.Decimal, stopLoss decimal.Decimal) (*Plan, error)
}

// SpotBuilder pairs each target slice with its own stop-limit leg.
type SpotBuilder struct {
	precision  PrecisionSource
	correction decimal.Decimal
}

// NewSpotBuilder creates a spot builder. A non-positive correction falls back
// to DefaultStopCorrection.
func NewSpotBuilder(source PrecisionSource, correction decimal.Decimal) *SpotBuilder {
	if !correction.IsPositive() {
		correction = DefaultStopCorrection
	}
	return &SpotBuilder{precision: source, correction: correction}
}

// Market implements Builder.
func (b *SpotBuilder) Market() domain.MarketType {
	return domain.MarketSpot
}

// Build implements Builder.
func (b *SpotBuilder) Build(ctx context.Context, symbol string, quantity decimal.Decimal, targets []decimal.Decimal, stopLoss decimal.Decimal) (*Plan, error) {
	p, quantities, err := prepare(ctx, b.precision, symbol, quantity, targets)
	if err != nil {
		return nil, err
	}

	stopLimit, stop := StopPrices(stopLoss, b.correction, p.Price)

	legs := make([]Leg, len(targets))
	for i, target := range targets {
		legs[i] = Leg{
			Quantity:       quantities[i],
			TargetPrice:    p.RoundPrice(target),
			StopPrice:      stop,
			StopLimitPrice: stopLimit,
		}
	}

	return &Plan{Market: domain.MarketSpot, Symbol: symbol, Legs: legs}, nil
}

// FuturesBuilder places per-target take-profits and one position-closing stop.
type FuturesBuilder struct {
	precision PrecisionSource
}

// NewFuturesBuilder creates a futures builder.
func NewFuturesBuilder(source PrecisionSource) *FuturesBuilder {
	return &FuturesBuilder{precision: source}
}

// Market implements Builder.
func (b *FuturesBuilder) Market() domain.MarketType {
	return domain.MarketFutures
}

// Build implements Builder. The stop-market executes at market once
// triggered, so it is placed at the stop-loss price itself.
func (b *FuturesBuilder) Build(ctx context.Context, symbol string, quantity decimal.Decimal, targets []decimal.Decimal, stopLoss decimal.Decimal) (*Plan, error) {
	p, quantities, err := prepare(ctx, b.precision, symbol, quantity, targets)
	if err != nil {
		return nil, err
	}

	legs := make([]Leg, len(targets))
	for i, target := range targets {
		legs[i] = Leg{Quantity: quantities[i], TargetPrice: p.RoundPrice(target)}
	}

	return &Plan{
		Market:       domain.MarketFutures,
		Symbol:       symbol,
		Legs:         legs,
		PositionStop: &PositionStop{StopPrice: p.RoundPrice(stopLoss)},
	}, nil
}

// StopPrices returns the stop-limit price and the stop trigger for stopLoss.
// The trigger is stopLoss*(1+correction) rounded to pricePrecision, and is
// bumped by one tick when rounding collapses it onto the limit price.
func StopPrices(stopLoss, correction decimal.Decimal, pricePrecision int32) (stopLimit, stop decimal.Decimal) {
	stopLimit = stopLoss.Round(pricePrecision)
	stop = stopLoss.Mul(decimal.NewFromInt(1).Add(correction)).Round(pricePrecision)
	if !stop.GreaterThan(stopLimit) {
		stop = stopLimit.Add(decimal.New(1, -pricePrecision))
	}
	return stopLimit, stop
}

func prepare(ctx context.Context, source PrecisionSource, symbol string, quantity decimal.Decimal, targets []decimal.Decimal) (domain.SymbolPrecision, []decimal.Decimal, error) {
	p, err := source.Resolve(ctx, symbol)
	if err != nil {
		return domain.SymbolPrecision{}, nil, err
	}

	quantities, err := sizing.Split(quantity, len(targets), p.Quantity)
	if err != nil {
		return domain.SymbolPrecision{}, nil, err
	}

	for i, q := range quantities {
		if !q.IsPositive() {
			return domain.SymbolPrecision{}, nil, fmt.Errorf("%w: %s slice %d of %s is %s",
				domain.ErrSliceTooSmall, symbol, i+1, quantity, q)
		}
	}

	return p, quantities, nil
}
