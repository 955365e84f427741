package risk

import "github.com/shopspring/decimal"

// LeverageOption is one entry of the leverage tier table consumed by open
// validation. Descriptions are surfaced to API clients as-is.
type LeverageOption struct {
	Leverage         int64            `json:"leverage"`
	RiskTier         string           `json:"risk_tier"`
	Description      string           `json:"description"`
	ThresholdPercent *decimal.Decimal `json:"liquidation_threshold_percent,omitempty"`
}

var leverageOptions = []LeverageOption{
	{Leverage: 1, RiskTier: "none", Description: "No leverage. Position cannot be liquidated."},
	{Leverage: 2, RiskTier: "low", Description: "2x exposure. Liquidated after a 45% adverse move."},
	{Leverage: 3, RiskTier: "low", Description: "3x exposure. Liquidated after a 30% adverse move."},
	{Leverage: 5, RiskTier: "medium", Description: "5x exposure. Liquidated after an 18% adverse move."},
	{Leverage: 7, RiskTier: "medium", Description: "7x exposure. Liquidated after a ~12.9% adverse move."},
	{Leverage: 10, RiskTier: "high", Description: "10x exposure. Liquidated after a 9% adverse move."},
	{Leverage: 20, RiskTier: "extreme", Description: "20x exposure. Liquidated after a 4.5% adverse move."},
}

var allowedLeverage = func() map[int64]struct{} {
	m := make(map[int64]struct{}, len(leverageOptions))
	for _, o := range leverageOptions {
		m[o.Leverage] = struct{}{}
	}
	return m
}()

func IsAllowedLeverage(v int64) bool {
	_, ok := allowedLeverage[v]
	return ok
}

// LeverageOptions returns the tier table in display order, each entry carrying
// its adverse liquidation distance (absent for 1x).
func LeverageOptions() []LeverageOption {
	out := make([]LeverageOption, len(leverageOptions))
	copy(out, leverageOptions)
	for i := range out {
		if threshold, ok := LiquidationThresholdPercent(out[i].Leverage); ok {
			out[i].ThresholdPercent = &threshold
		}
	}
	return out
}
