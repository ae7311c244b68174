package exits_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signaltrader/internal/domain"
	"signaltrader/internal/exits"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type fixedPrecision domain.SymbolPrecision

func (f fixedPrecision) Resolve(context.Context, string) (domain.SymbolPrecision, error) {
	return domain.SymbolPrecision(f), nil
}

var twoDecimals = fixedPrecision{Quantity: 3, Price: 2, MinNotional: dec("10")}

func TestSpotBuilder_MarketBuyThenSell(t *testing.T) {
	t.Parallel()

	b := exits.NewSpotBuilder(twoDecimals, decimal.Zero)
	plan, err := b.Build(context.Background(), "BTCUSDT", dec("10"), []decimal.Decimal{dec("110"), dec("120")}, dec("90"))
	require.NoError(t, err)

	assert.Equal(t, domain.MarketSpot, plan.Market)
	assert.Nil(t, plan.PositionStop)
	require.Len(t, plan.Legs, 2)

	for i, target := range []string{"110", "120"} {
		leg := plan.Legs[i]
		assert.True(t, leg.Quantity.Equal(dec("5")), "leg %d quantity %s", i, leg.Quantity)
		assert.True(t, leg.TargetPrice.Equal(dec(target)))
		assert.True(t, leg.StopPrice.Equal(dec("90.45")), "stop %s", leg.StopPrice)
		assert.True(t, leg.StopLimitPrice.Equal(dec("90")))
	}
	assert.True(t, plan.TotalQuantity().Equal(dec("10")))
}

func TestSpotBuilder_RoundsPricesToTick(t *testing.T) {
	t.Parallel()

	b := exits.NewSpotBuilder(twoDecimals, exits.DefaultStopCorrection)
	plan, err := b.Build(context.Background(), "BTCUSDT", dec("1"), []decimal.Decimal{dec("1.23456")}, dec("1.00123"))
	require.NoError(t, err)

	leg := plan.Legs[0]
	assert.True(t, leg.TargetPrice.Equal(dec("1.23")))
	assert.True(t, leg.StopLimitPrice.Equal(dec("1")))
	assert.True(t, leg.StopPrice.Equal(dec("1.01")))
}

func TestStopPrices_Ordering(t *testing.T) {
	t.Parallel()

	stops := []string{"0.00001", "0.1", "1", "1.5", "9.99", "90", "12345.678"}
	for _, s := range stops {
		for p := int32(0); p <= 8; p++ {
			limit, stop := exits.StopPrices(dec(s), exits.DefaultStopCorrection, p)
			assert.True(t, stop.GreaterThan(limit), "stop loss %s precision %d: stop %s limit %s", s, p, stop, limit)
		}
	}
}

func TestStopPrices_CoarseTickBumps(t *testing.T) {
	t.Parallel()

	limit, stop := exits.StopPrices(dec("1"), exits.DefaultStopCorrection, 0)
	assert.True(t, limit.Equal(dec("1")))
	assert.True(t, stop.Equal(dec("2")))
}

func TestFuturesBuilder(t *testing.T) {
	t.Parallel()

	b := exits.NewFuturesBuilder(twoDecimals)
	plan, err := b.Build(context.Background(), "BTCUSDT", dec("1"), []decimal.Decimal{dec("110"), dec("120"), dec("130")}, dec("90.456"))
	require.NoError(t, err)

	assert.Equal(t, domain.MarketFutures, plan.Market)
	require.NotNil(t, plan.PositionStop)
	assert.True(t, plan.PositionStop.StopPrice.Equal(dec("90.46")))

	require.Len(t, plan.Legs, 3)
	assert.True(t, plan.Legs[0].Quantity.Equal(dec("0.333")))
	assert.True(t, plan.Legs[1].Quantity.Equal(dec("0.333")))
	assert.True(t, plan.Legs[2].Quantity.Equal(dec("0.334")))
	for _, leg := range plan.Legs {
		assert.True(t, leg.StopPrice.IsZero())
		assert.True(t, leg.StopLimitPrice.IsZero())
	}
	assert.True(t, plan.TotalQuantity().Equal(dec("1")))
}

func TestBuilder_Errors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	builders := []exits.Builder{
		exits.NewSpotBuilder(twoDecimals, decimal.Zero),
		exits.NewFuturesBuilder(twoDecimals),
	}

	for _, b := range builders {
		_, err := b.Build(ctx, "BTCUSDT", dec("1"), nil, dec("90"))
		require.ErrorIs(t, err, domain.ErrInvalidTargetCount, string(b.Market()))

		// 0.001 over 2 targets rounds the first slice up to 0.001, leaving nothing for the last
		_, err = b.Build(ctx, "BTCUSDT", dec("0.001"), []decimal.Decimal{dec("110"), dec("120")}, dec("90"))
		require.ErrorIs(t, err, domain.ErrSliceTooSmall, string(b.Market()))
	}
}
