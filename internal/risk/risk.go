// Package risk holds the pure margin and liquidation math. No I/O, no state:
// every function is deterministic given its inputs, and all arithmetic stays
// in decimal so that money comparisons never touch binary floats.
package risk

import (
	"papertrade/internal/model"
	"papertrade/internal/types"

	"github.com/shopspring/decimal"
)

var (
	hundred = decimal.NewFromInt(100)
	// An adverse move of 90/leverage percent exhausts the posted margin.
	liquidationBase = decimal.NewFromInt(90)
)

// MarginRequirement is the collateral needed to carry a notional at the given
// leverage.
func MarginRequirement(notional decimal.Decimal, leverage int64) decimal.Decimal {
	return notional.Div(decimal.NewFromInt(leverage))
}

// LiquidationThresholdPercent returns the adverse percentage move from entry
// that forces liquidation, and false for 1x positions, which carry no
// liquidation risk.
func LiquidationThresholdPercent(leverage int64) (decimal.Decimal, bool) {
	if leverage <= 1 {
		return decimal.Decimal{}, false
	}
	return liquidationBase.Div(decimal.NewFromInt(leverage)), true
}

// LiquidationPrice computes the price at which the adverse move has consumed
// the posted margin. Returns nil for 1x leverage. The fraction 90/(100*L) is
// computed in a single division: chaining two divisions rounds twice and
// drifts the realized distance off 90/L for non-terminating tiers like 7x.
func LiquidationPrice(entryPrice decimal.Decimal, leverage int64, side types.PositionSide) *decimal.Decimal {
	if leverage <= 1 {
		return nil
	}
	frac := liquidationBase.Div(hundred.Mul(decimal.NewFromInt(leverage)))
	var p decimal.Decimal
	if side == types.PositionSideLong {
		p = entryPrice.Mul(decimal.NewFromInt(1).Sub(frac))
	} else {
		p = entryPrice.Mul(decimal.NewFromInt(1).Add(frac))
	}
	return &p
}

// Quantity derives position size from margin, leverage and entry price.
func Quantity(margin decimal.Decimal, leverage int64, entryPrice decimal.Decimal) decimal.Decimal {
	return margin.Mul(decimal.NewFromInt(leverage)).Div(entryPrice)
}

// UnrealizedPnL marks the position to the given price.
func UnrealizedPnL(p model.Position, currentPrice decimal.Decimal) decimal.Decimal {
	diff := currentPrice.Sub(p.EntryPrice)
	if p.Side == types.PositionSideShort {
		diff = diff.Neg()
	}
	return diff.Mul(p.Quantity)
}

// PositionValue is posted collateral plus mark-to-market gain or loss. A value
// at or below zero means the margin is gone, independently of the static
// liquidation price, so it stays correct if margin or leverage are ever
// edited.
func PositionValue(p model.Position, currentPrice decimal.Decimal) decimal.Decimal {
	return p.Margin.Add(UnrealizedPnL(p, currentPrice))
}
