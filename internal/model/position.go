package model

import (
	"time"

	"papertrade/internal/types"

	"github.com/shopspring/decimal"
)

// TrailingStop follows the best price seen since it was set. Watermark is the
// high-water mark for longs and the low-water mark for shorts.
type TrailingStop struct {
	DistancePercent decimal.Decimal `json:"distance_percent"`
	Watermark       decimal.Decimal `json:"watermark"`
}

type Position struct {
	ID               string               `json:"id"`
	UserID           string               `json:"user_id"`
	Symbol           string               `json:"symbol"`
	AssetType        types.AssetType      `json:"asset_type"`
	Side             types.PositionSide   `json:"side"`
	Leverage         int64                `json:"leverage"`
	EntryPrice       decimal.Decimal      `json:"entry_price"`
	Quantity         decimal.Decimal      `json:"quantity"`
	Margin           decimal.Decimal      `json:"margin"`
	LiquidationPrice *decimal.Decimal     `json:"liquidation_price,omitempty"`
	TakeProfitPrice  *decimal.Decimal     `json:"take_profit_price,omitempty"`
	StopLossPrice    *decimal.Decimal     `json:"stop_loss_price,omitempty"`
	Trailing         *TrailingStop        `json:"trailing,omitempty"`
	Status           types.PositionStatus `json:"status"`
	CloseReason      types.CloseReason    `json:"close_reason,omitempty"`
	ClosePrice       *decimal.Decimal     `json:"close_price,omitempty"`
	RealizedPnL      *decimal.Decimal     `json:"realized_pnl,omitempty"`
	StalePricing     bool                 `json:"stale_pricing,omitempty"`
	OpenedAt         time.Time            `json:"opened_at"`
	ClosedAt         *time.Time           `json:"closed_at,omitempty"`
}

// Notional is the economic size of the position: margin x leverage.
func (p Position) Notional() decimal.Decimal {
	return p.Margin.Mul(decimal.NewFromInt(p.Leverage))
}

// Clone returns a copy safe to hand outside the ledger's lock.
func (p Position) Clone() Position {
	out := p
	out.LiquidationPrice = cloneDecimal(p.LiquidationPrice)
	out.TakeProfitPrice = cloneDecimal(p.TakeProfitPrice)
	out.StopLossPrice = cloneDecimal(p.StopLossPrice)
	out.ClosePrice = cloneDecimal(p.ClosePrice)
	out.RealizedPnL = cloneDecimal(p.RealizedPnL)
	if p.Trailing != nil {
		ts := *p.Trailing
		out.Trailing = &ts
	}
	if p.ClosedAt != nil {
		t := *p.ClosedAt
		out.ClosedAt = &t
	}
	return out
}

func cloneDecimal(d *decimal.Decimal) *decimal.Decimal {
	if d == nil {
		return nil
	}
	v := *d
	return &v
}
