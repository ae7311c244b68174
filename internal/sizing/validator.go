package sizing

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"signaltrader/internal/domain"
)

// PrecisionSource resolves symbol precisions.
type PrecisionSource interface {
	Resolve(ctx context.Context, symbol string) (domain.SymbolPrecision, error)
}

// Validator rejects plans whose legs would fall at or below the minimum notional.
type Validator struct {
	precision PrecisionSource
}

// NewValidator creates a validator that reads minimum notionals from source.
func NewValidator(source PrecisionSource) *Validator {
	return &Validator{precision: source}
}

// Validate checks the stop-loss leg of one slice, the smallest leg of a plan.
// The slice is approximated as amount / buyPrice / count before any split.
func (v *Validator) Validate(ctx context.Context, symbol string, buyPrice, amount decimal.Decimal, count int, stopLoss decimal.Decimal) error {
	p, err := v.precision.Resolve(ctx, symbol)
	if err != nil {
		return err
	}

	slice, err := sliceQuantity(buyPrice, amount, count)
	if err != nil {
		return err
	}

	return checkLeg(symbol, "stop loss", slice.Mul(stopLoss), p.MinNotional)
}

// ValidateLegs checks every leg the exit strategy of market will place.
// Spot places a take-profit and a stop-limit leg per slice. Futures places a
// take-profit per slice and a single stop closing the whole position.
func (v *Validator) ValidateLegs(ctx context.Context, market domain.MarketType, symbol string, buyPrice, amount decimal.Decimal, targets []decimal.Decimal, stopLoss decimal.Decimal) error {
	p, err := v.precision.Resolve(ctx, symbol)
	if err != nil {
		return err
	}

	slice, err := sliceQuantity(buyPrice, amount, len(targets))
	if err != nil {
		return err
	}

	for _, target := range targets {
		if err := checkLeg(symbol, "target "+target.String(), slice.Mul(target), p.MinNotional); err != nil {
			return err
		}
	}

	stopQuantity := slice
	if market == domain.MarketFutures {
		stopQuantity = amount.Div(buyPrice)
	}

	return checkLeg(symbol, "stop loss", stopQuantity.Mul(stopLoss), p.MinNotional)
}

func sliceQuantity(buyPrice, amount decimal.Decimal, count int) (decimal.Decimal, error) {
	if count < 1 {
		return decimal.Zero, fmt.Errorf("%w: %d", domain.ErrInvalidTargetCount, count)
	}
	if !buyPrice.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: buy price %s", domain.ErrInvalidPlan, buyPrice)
	}
	return amount.Div(buyPrice).Div(decimal.NewFromInt(int64(count))), nil
}

func checkLeg(symbol, leg string, value, minNotional decimal.Decimal) error {
	if value.LessThanOrEqual(minNotional) {
		return fmt.Errorf("%w: %s %s leg value %s, minimum %s",
			domain.ErrNotionalTooSmall, symbol, leg, value.StringFixed(8), minNotional)
	}
	return nil
}
