// Package sizing splits filled quantities across take-profit targets and
// checks that every resulting order clears the exchange minimum notional.
package sizing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"signaltrader/internal/domain"
)

// Split divides total into count slices.
// The first count-1 slices are total/count rounded to precision places; the
// last slice takes the remainder unrounded, so the slices always sum to total.
func Split(total decimal.Decimal, count int, precision int32) ([]decimal.Decimal, error) {
	if count < 1 {
		return nil, fmt.Errorf("%w: %d", domain.ErrInvalidTargetCount, count)
	}

	slice := total.Div(decimal.NewFromInt(int64(count))).Round(precision)

	slices := make([]decimal.Decimal, count)
	allocated := decimal.Zero
	for i := 0; i < count-1; i++ {
		slices[i] = slice
		allocated = allocated.Add(slice)
	}
	slices[count-1] = total.Sub(allocated)

	return slices, nil
}
