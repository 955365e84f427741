package types

type AssetType string

type PositionSide string

type PositionStatus string

type CloseReason string

type LedgerEntryType string

const (
	AssetTypeStock  AssetType = "stock"
	AssetTypeCrypto AssetType = "crypto"
)

const (
	PositionSideLong  PositionSide = "long"
	PositionSideShort PositionSide = "short"
)

const (
	PositionStatusOpen       PositionStatus = "open"
	PositionStatusClosed     PositionStatus = "closed"
	PositionStatusLiquidated PositionStatus = "liquidated"
)

const (
	CloseReasonManual       CloseReason = "manual"
	CloseReasonTakeProfit   CloseReason = "take_profit"
	CloseReasonStopLoss     CloseReason = "stop_loss"
	CloseReasonTrailingStop CloseReason = "trailing_stop"
	CloseReasonLiquidation  CloseReason = "liquidation"
)

const (
	LedgerEntryTypeReserve     LedgerEntryType = "reserve"
	LedgerEntryTypeRelease     LedgerEntryType = "release"
	LedgerEntryTypeRealizedPnL LedgerEntryType = "realized_pnl"
	LedgerEntryTypeRefill      LedgerEntryType = "refill"
)

// Terminal reports whether a position in this status can no longer change.
func (s PositionStatus) Terminal() bool {
	return s == PositionStatusClosed || s == PositionStatusLiquidated
}
