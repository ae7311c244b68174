package domain

import "github.com/shopspring/decimal"

// SymbolPrecision holds the rounding rules of a symbol.
type SymbolPrecision struct {
	// Quantity is the number of decimal places allowed for order quantities.
	Quantity int32
	// Price is the number of decimal places allowed for order prices.
	Price int32
	// MinNotional is the minimum accepted order value in quote asset.
	MinNotional decimal.Decimal
}

// RoundQuantity rounds q to the quantity precision.
func (p SymbolPrecision) RoundQuantity(q decimal.Decimal) decimal.Decimal {
	return q.Round(p.Quantity)
}

// RoundPrice rounds price to the price precision.
func (p SymbolPrecision) RoundPrice(price decimal.Decimal) decimal.Decimal {
	return price.Round(p.Price)
}

// Filter types reported in exchange metadata.
const (
	FilterLotSize     = "LOT_SIZE"
	FilterPrice       = "PRICE_FILTER"
	FilterMinNotional = "MIN_NOTIONAL"
	FilterNotional    = "NOTIONAL"
)

// SymbolFilter is one raw filter entry of exchange symbol metadata.
type SymbolFilter struct {
	FilterType  string `json:"filterType"`
	StepSize    string `json:"stepSize,omitempty"`
	TickSize    string `json:"tickSize,omitempty"`
	MinNotional string `json:"minNotional,omitempty"`
	// Notional is the futures spelling of the minimum notional.
	Notional string `json:"notional,omitempty"`
}

// SymbolRules is the raw metadata of a symbol.
// Futures metadata carries explicit precisions that take priority over the
// step and tick filters.
type SymbolRules struct {
	Symbol            string
	Filters           []SymbolFilter
	QuantityPrecision *int32
	PricePrecision    *int32
}
