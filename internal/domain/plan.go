package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// TradePlan describes a long entry with its take-profit ladder and stop-loss.
type TradePlan struct {
	// Symbol is the exchange symbol (e.g., "BTCUSDT").
	Symbol string `json:"symbol"`
	// BuyType is either OrderTypeMarket or OrderTypeLimit.
	BuyType OrderType `json:"buyType"`
	// BuyPrice is the limit price. Only valid for limit entries.
	BuyPrice decimal.NullDecimal `json:"buyPrice"`
	// Targets are the take-profit prices in source order.
	Targets []decimal.Decimal `json:"targets"`
	// StopLoss is the price at which the whole position is abandoned.
	StopLoss decimal.Decimal `json:"stopLoss"`
}

// NewTradePlan validates and builds a trade plan.
// Every target must be strictly above the stop-loss; a plan violating this is
// rejected as a whole.
func NewTradePlan(symbol string, buyType OrderType, buyPrice decimal.NullDecimal, targets []decimal.Decimal, stopLoss decimal.Decimal) (*TradePlan, error) {
	plan := &TradePlan{
		Symbol:   symbol,
		BuyType:  buyType,
		BuyPrice: buyPrice,
		Targets:  append([]decimal.Decimal(nil), targets...),
		StopLoss: stopLoss,
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return plan, nil
}

// Validate checks the plan invariants.
func (p *TradePlan) Validate() error {
	if p.Symbol == "" {
		return fmt.Errorf("%w: symbol is required", ErrInvalidPlan)
	}

	switch p.BuyType {
	case OrderTypeMarket:
		if p.BuyPrice.Valid {
			return fmt.Errorf("%w: market entry must not carry a price", ErrInvalidPlan)
		}
	case OrderTypeLimit:
		if !p.BuyPrice.Valid || !p.BuyPrice.Decimal.IsPositive() {
			return fmt.Errorf("%w: limit entry requires a positive price", ErrInvalidPlan)
		}
	default:
		return fmt.Errorf("%w: unsupported buy type %q", ErrInvalidPlan, p.BuyType)
	}

	if len(p.Targets) == 0 {
		return fmt.Errorf("%w: at least one target is required", ErrInvalidPlan)
	}

	if !p.StopLoss.IsPositive() {
		return fmt.Errorf("%w: stop loss must be positive", ErrInvalidPlan)
	}

	for _, target := range p.Targets {
		if !target.GreaterThan(p.StopLoss) {
			return fmt.Errorf("%w: target %s is not above stop loss %s", ErrInvalidPlan, target, p.StopLoss)
		}
	}

	return nil
}

// IsLimit reports whether the plan enters with a limit order.
func (p *TradePlan) IsLimit() bool {
	return p.BuyType == OrderTypeLimit
}
