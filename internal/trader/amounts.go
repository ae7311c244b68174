package trader

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrNoTradeAmount is returned when no amount is configured for a symbol.
var ErrNoTradeAmount = errors.New("no trade amount configured")

// Amounts selects how much quote asset a buy spends.
type Amounts struct {
	// ByQuote maps a quote asset such as "USDT" to the amount spent on symbols
	// quoted in it.
	ByQuote map[string]decimal.Decimal
	// Default is used when no quote asset matches.
	Default decimal.Decimal
}

// For returns the amount for symbol. The longest matching quote asset suffix
// wins.
func (a Amounts) For(symbol string) (decimal.Decimal, error) {
	best := ""
	for quote := range a.ByQuote {
		if strings.HasSuffix(symbol, quote) && len(quote) > len(best) {
			best = quote
		}
	}
	if best != "" && a.ByQuote[best].IsPositive() {
		return a.ByQuote[best], nil
	}
	if a.Default.IsPositive() {
		return a.Default, nil
	}
	return decimal.Zero, fmt.Errorf("%w: %s", ErrNoTradeAmount, symbol)
}
