package domain_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signaltrader/internal/domain"
)

func decs(values ...string) []decimal.Decimal {
	out := make([]decimal.Decimal, 0, len(values))
	for _, v := range values {
		out = append(out, decimal.RequireFromString(v))
	}
	return out
}

func TestNewTradePlan(t *testing.T) {
	t.Parallel()

	limit := decimal.NewNullDecimal(decimal.RequireFromString("100"))

	tests := []struct {
		name     string
		buyType  domain.OrderType
		buyPrice decimal.NullDecimal
		targets  []decimal.Decimal
		stopLoss string
		wantErr  bool
	}{
		{name: "market", buyType: domain.OrderTypeMarket, targets: decs("110", "120"), stopLoss: "90"},
		{name: "limit", buyType: domain.OrderTypeLimit, buyPrice: limit, targets: decs("110"), stopLoss: "90"},
		{name: "no targets", buyType: domain.OrderTypeMarket, stopLoss: "90", wantErr: true},
		{name: "target below stop", buyType: domain.OrderTypeMarket, targets: decs("110", "80"), stopLoss: "90", wantErr: true},
		{name: "target equals stop", buyType: domain.OrderTypeMarket, targets: decs("90"), stopLoss: "90", wantErr: true},
		{name: "limit without price", buyType: domain.OrderTypeLimit, targets: decs("110"), stopLoss: "90", wantErr: true},
		{name: "market with price", buyType: domain.OrderTypeMarket, buyPrice: limit, targets: decs("110"), stopLoss: "90", wantErr: true},
		{name: "unknown type", buyType: domain.OrderTypeStopMarket, targets: decs("110"), stopLoss: "90", wantErr: true},
		{name: "zero stop", buyType: domain.OrderTypeMarket, targets: decs("110"), stopLoss: "0", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			plan, err := domain.NewTradePlan("BTCUSDT", tt.buyType, tt.buyPrice, tt.targets, decimal.RequireFromString(tt.stopLoss))
			if tt.wantErr {
				require.ErrorIs(t, err, domain.ErrInvalidPlan)
				assert.Nil(t, plan)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, len(tt.targets), len(plan.Targets))
		})
	}
}

func TestNewTradePlan_CopiesTargets(t *testing.T) {
	t.Parallel()

	targets := decs("110", "120")
	plan, err := domain.NewTradePlan("BTCUSDT", domain.OrderTypeMarket, decimal.NullDecimal{}, targets, decimal.NewFromInt(90))
	require.NoError(t, err)

	targets[0] = decimal.NewFromInt(1)
	assert.True(t, plan.Targets[0].Equal(decimal.NewFromInt(110)))
}

func TestOrder_AveragePrice(t *testing.T) {
	t.Parallel()

	order := domain.Order{
		ExecutedQuantity: decimal.RequireFromString("2"),
		QuoteQuantity:    decimal.RequireFromString("201"),
	}
	assert.True(t, order.AveragePrice().Equal(decimal.RequireFromString("100.5")))

	order.Price = decimal.RequireFromString("99")
	assert.True(t, order.AveragePrice().Equal(decimal.RequireFromString("99")))
}

func TestOrderEvent_FillPrice(t *testing.T) {
	t.Parallel()

	ev := domain.OrderEvent{
		Price:          decimal.RequireFromString("10"),
		FilledQuantity: decimal.RequireFromString("4"),
		QuoteQuantity:  decimal.RequireFromString("42"),
	}
	assert.True(t, ev.FillPrice().Equal(decimal.RequireFromString("10.5")))

	ev.AveragePrice = decimal.RequireFromString("10.4")
	assert.True(t, ev.FillPrice().Equal(decimal.RequireFromString("10.4")))
}
