package risk

import (
	"testing"

	"papertrade/internal/model"
	"papertrade/internal/types"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestMarginRequirement(t *testing.T) {
	require.True(t, MarginRequirement(dec("10000"), 10).Equal(dec("1000")))
	require.True(t, MarginRequirement(dec("500"), 1).Equal(dec("500")))
}

func TestLiquidationThresholdPercent(t *testing.T) {
	for _, tc := range []struct {
		leverage int64
		want     string
	}{
		{2, "45"},
		{3, "30"},
		{5, "18"},
		{10, "9"},
		{20, "4.5"},
	} {
		got, ok := LiquidationThresholdPercent(tc.leverage)
		require.True(t, ok, "leverage %d", tc.leverage)
		assert.True(t, got.Equal(dec(tc.want)), "leverage %d: got %s", tc.leverage, got)
	}

	_, ok := LiquidationThresholdPercent(1)
	assert.False(t, ok, "1x carries no liquidation threshold")
}

func TestLiquidationPrice(t *testing.T) {
	// Long AAPL at $100 with 10x: 9% adverse distance.
	p := LiquidationPrice(dec("100"), 10, types.PositionSideLong)
	require.NotNil(t, p)
	assert.True(t, p.Equal(dec("91")), "got %s", p)

	// Shorts liquidate above entry.
	p = LiquidationPrice(dec("100"), 5, types.PositionSideShort)
	require.NotNil(t, p)
	assert.True(t, p.Equal(dec("118")), "got %s", p)

	assert.Nil(t, LiquidationPrice(dec("100"), 1, types.PositionSideLong))
}

func TestLiquidationDistanceExact(t *testing.T) {
	entry := dec("250")
	for _, leverage := range []int64{2, 3, 5, 7, 10, 20} {
		for _, side := range []types.PositionSide{types.PositionSideLong, types.PositionSideShort} {
			p := LiquidationPrice(entry, leverage, side)
			require.NotNil(t, p)
			distance := p.Sub(entry).Abs().Div(entry)
			// Same single-division rounding as the production fraction.
			want := dec("90").Div(decimal.NewFromInt(100 * leverage))
			assert.True(t, distance.Equal(want), "leverage %d %s: distance %s want %s", leverage, side, distance, want)
			if side == types.PositionSideLong {
				assert.True(t, p.LessThan(entry))
			} else {
				assert.True(t, p.GreaterThan(entry))
			}
		}
	}
}

func TestQuantity(t *testing.T) {
	// $1,000 margin at 10x and entry $100 buys 100 units.
	assert.True(t, Quantity(dec("1000"), 10, dec("100")).Equal(dec("100")))
}

func TestUnrealizedPnL(t *testing.T) {
	long := model.Position{
		Side:       types.PositionSideLong,
		EntryPrice: dec("100"),
		Quantity:   dec("100"),
	}
	assert.True(t, UnrealizedPnL(long, dec("110")).Equal(dec("1000")))
	assert.True(t, UnrealizedPnL(long, dec("91")).Equal(dec("-900")))

	short := model.Position{
		Side:       types.PositionSideShort,
		EntryPrice: dec("50"),
		Quantity:   dec("500"),
	}
	assert.True(t, UnrealizedPnL(short, dec("55")).Equal(dec("-2500")))
	assert.True(t, UnrealizedPnL(short, dec("45")).Equal(dec("2500")))
}

func TestPositionValue(t *testing.T) {
	pos := model.Position{
		Side:       types.PositionSideLong,
		EntryPrice: dec("100"),
		Quantity:   dec("100"),
		Margin:     dec("1000"),
	}
	assert.True(t, PositionValue(pos, dec("100")).Equal(dec("1000")))
	// At the static liquidation price 90% of the margin is gone.
	assert.True(t, PositionValue(pos, dec("91")).Equal(dec("100")))
	assert.True(t, PositionValue(pos, dec("90")).LessThanOrEqual(decimal.Zero))
}

func TestLeverageTiers(t *testing.T) {
	for _, v := range []int64{1, 2, 3, 5, 7, 10, 20} {
		assert.True(t, IsAllowedLeverage(v), "leverage %d", v)
	}
	for _, v := range []int64{0, -1, 4, 15, 50, 100} {
		assert.False(t, IsAllowedLeverage(v), "leverage %d", v)
	}

	opts := LeverageOptions()
	require.Len(t, opts, 7)
	assert.Equal(t, int64(1), opts[0].Leverage)
	assert.Equal(t, "none", opts[0].RiskTier)
	assert.Nil(t, opts[0].ThresholdPercent)
	for _, o := range opts[1:] {
		assert.NotEmpty(t, o.Description)
		require.NotNil(t, o.ThresholdPercent, "leverage %d", o.Leverage)
		want, _ := LiquidationThresholdPercent(o.Leverage)
		assert.True(t, o.ThresholdPercent.Equal(want))
	}
}
