// Package execution is the only component that mutates the balance manager
// and the position ledger together. Opens, closes and level edits run as
// transactions: validation first, then the in-memory mutation, then the
// durable journal write, with compensation when the journal rejects an open.
package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"papertrade/internal/balance"
	"papertrade/internal/events"
	"papertrade/internal/model"
	"papertrade/internal/position"
	"papertrade/internal/risk"
	"papertrade/internal/types"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrInvalidLeverage   = errors.New("leverage is not an allowed tier")
	ErrInvalidMargin     = errors.New("margin amount must be positive")
	ErrInvalidOrderLevel = errors.New("order level is on the wrong side of entry")
	ErrInvalidRequest    = errors.New("invalid request")
	ErrNoPrice           = errors.New("no price available for symbol")
	ErrStalePrice        = errors.New("pricing for symbol is stale")
	ErrNotOwner          = errors.New("position does not belong to user")
)

// Recorder is the durable journal behind the engine. The postgres
// implementation lives in the journal package.
type Recorder interface {
	RecordOpen(ctx context.Context, pos model.Position, snap balance.Snapshot) error
	RecordClose(ctx context.Context, pos model.Position, snap balance.Snapshot) error
	RecordLevels(ctx context.Context, pos model.Position) error
}

// Prices is the monitor's view the service needs: latest accepted price,
// staleness, and symbol registration.
type Prices interface {
	Subscribe(symbol string)
	LastPrice(symbol string) (decimal.Decimal, bool)
	IsStale(symbol string) bool
}

type Service struct {
	balance *balance.Service
	ledger  *position.Ledger
	journal Recorder
	bus     *events.Bus
	prices  Prices
	log     *zap.Logger
}

func NewService(bal *balance.Service, ledger *position.Ledger, journal Recorder, bus *events.Bus, log *zap.Logger) *Service {
	return &Service{balance: bal, ledger: ledger, journal: journal, bus: bus, log: log}
}

// SetPrices breaks the construction cycle with the monitor, which needs this
// service as its trigger executor.
func (s *Service) SetPrices(p Prices) {
	s.prices = p
}

type OpenRequest struct {
	UserID           string
	Symbol           string
	AssetType        types.AssetType
	Side             types.PositionSide
	Leverage         int64
	MarginAmount     decimal.Decimal
	TakeProfitPrice  *decimal.Decimal
	StopLossPrice    *decimal.Decimal
	TrailingDistance *decimal.Decimal
}

// OpenPosition validates the request, reserves margin, records the position
// and subscribes it for triggering. Nothing is partially applied: a journal
// failure releases the reservation again.
func (s *Service) OpenPosition(ctx context.Context, req OpenRequest) (model.Position, error) {
	if req.UserID == "" || req.Symbol == "" {
		return model.Position{}, fmt.Errorf("%w: user and symbol are required", ErrInvalidRequest)
	}
	if req.AssetType != types.AssetTypeStock && req.AssetType != types.AssetTypeCrypto {
		return model.Position{}, fmt.Errorf("%w: asset_type must be stock or crypto", ErrInvalidRequest)
	}
	if req.Side != types.PositionSideLong && req.Side != types.PositionSideShort {
		return model.Position{}, fmt.Errorf("%w: side must be long or short", ErrInvalidRequest)
	}
	if !risk.IsAllowedLeverage(req.Leverage) {
		return model.Position{}, ErrInvalidLeverage
	}
	if req.MarginAmount.LessThanOrEqual(decimal.Zero) {
		return model.Position{}, ErrInvalidMargin
	}

	entryPrice, err := s.entryPrice(req.Symbol)
	if err != nil {
		return model.Position{}, err
	}
	if err := validateLevels(req.Side, entryPrice, req.TakeProfitPrice, req.StopLossPrice, req.TrailingDistance); err != nil {
		return model.Position{}, err
	}

	now := time.Now().UTC()
	pos := model.Position{
		ID:               uuid.NewString(),
		UserID:           req.UserID,
		Symbol:           req.Symbol,
		AssetType:        req.AssetType,
		Side:             req.Side,
		Leverage:         req.Leverage,
		EntryPrice:       entryPrice,
		Quantity:         risk.Quantity(req.MarginAmount, req.Leverage, entryPrice),
		Margin:           req.MarginAmount,
		LiquidationPrice: risk.LiquidationPrice(entryPrice, req.Leverage, req.Side),
		TakeProfitPrice:  req.TakeProfitPrice,
		StopLossPrice:    req.StopLossPrice,
		Trailing:         newTrailing(req.TrailingDistance, entryPrice),
		Status:           types.PositionStatusOpen,
		OpenedAt:         now,
	}

	snap, err := s.balance.ReserveMargin(req.UserID, req.MarginAmount)
	if err != nil {
		return model.Position{}, err
	}
	if err := s.journal.RecordOpen(ctx, pos, snap); err != nil {
		s.balance.ReleaseMargin(req.UserID, req.MarginAmount)
		return model.Position{}, fmt.Errorf("persist open: %w", err)
	}
	s.ledger.Insert(pos)
	s.prices.Subscribe(req.Symbol)
	s.bus.Publish(events.Event{Type: events.TypePositionOpened, Data: pos})
	s.log.Info("position opened",
		zap.String("position_id", pos.ID),
		zap.String("user_id", pos.UserID),
		zap.String("symbol", pos.Symbol),
		zap.String("side", string(pos.Side)),
		zap.Int64("leverage", pos.Leverage),
		zap.String("margin", pos.Margin.String()),
		zap.String("entry_price", pos.EntryPrice.String()))
	return pos, nil
}

// ClosePosition is the manual close: it executes at the latest accepted
// price and races automatic triggers through the same compare-and-set.
// Closing an already-terminal position is a no-op returning its final state.
func (s *Service) ClosePosition(ctx context.Context, userID, positionID string) (model.Position, error) {
	pos, ok := s.ledger.Get(positionID)
	if !ok {
		return model.Position{}, position.ErrNotFound
	}
	if pos.UserID != userID {
		return model.Position{}, ErrNotOwner
	}
	if pos.Status.Terminal() {
		return pos, nil
	}
	exitPrice, err := s.entryPrice(pos.Symbol)
	if err != nil {
		return model.Position{}, err
	}
	return s.close(ctx, positionID, exitPrice, types.CloseReasonManual)
}

// TriggerClose is the monitor's handoff for a fired exit condition.
func (s *Service) TriggerClose(ctx context.Context, positionID string, triggerPrice decimal.Decimal, reason types.CloseReason) error {
	_, err := s.close(ctx, positionID, triggerPrice, reason)
	return err
}

func (s *Service) close(ctx context.Context, positionID string, exitPrice decimal.Decimal, reason types.CloseReason) (model.Position, error) {
	pos, ok := s.ledger.Get(positionID)
	if !ok {
		return model.Position{}, position.ErrNotFound
	}
	pnl := risk.UnrealizedPnL(pos, exitPrice)
	// Liquidation bounds the loss at the posted margin; a gapping tick past
	// the liquidation price must not take the account below that.
	if pnl.LessThan(pos.Margin.Neg()) {
		pnl = pos.Margin.Neg()
	}

	closed, won, err := s.ledger.TryClose(positionID, exitPrice, pnl, reason, time.Now().UTC())
	if err != nil {
		return model.Position{}, err
	}
	if !won {
		// A concurrent trigger or manual close got there first; its outcome
		// is final and nothing is settled twice.
		return closed, nil
	}

	snap := s.balance.Settle(closed.UserID, closed.Margin, *closed.RealizedPnL)
	if err := s.journal.RecordClose(ctx, closed, snap); err != nil {
		// The in-memory close is final; the journal is catch-up state.
		s.log.Error("persist close failed",
			zap.String("position_id", closed.ID),
			zap.Error(err))
	}
	s.bus.Publish(events.Event{Type: events.TypePositionClosed, Data: closed})
	s.log.Info("position closed",
		zap.String("position_id", closed.ID),
		zap.String("user_id", closed.UserID),
		zap.String("symbol", closed.Symbol),
		zap.String("reason", string(reason)),
		zap.String("close_price", exitPrice.String()),
		zap.String("realized_pnl", closed.RealizedPnL.String()))
	return closed, nil
}

// UpdateOrderLevels replaces take-profit, stop-loss and trailing settings.
// A rejected edit leaves the previous levels untouched.
func (s *Service) UpdateOrderLevels(ctx context.Context, userID, positionID string, tp, sl, trailingDistance *decimal.Decimal) (model.Position, error) {
	pos, ok := s.ledger.Get(positionID)
	if !ok {
		return model.Position{}, position.ErrNotFound
	}
	if pos.UserID != userID {
		return model.Position{}, ErrNotOwner
	}
	if err := validateLevels(pos.Side, pos.EntryPrice, tp, sl, trailingDistance); err != nil {
		return model.Position{}, err
	}

	trailing := newTrailing(trailingDistance, pos.EntryPrice)
	if trailing != nil {
		// Restarting the watermark from the latest price keeps an edited
		// trailing stop from triggering off history it never tracked.
		if last, ok := s.prices.LastPrice(pos.Symbol); ok {
			trailing.Watermark = last
		}
	}
	updated, err := s.ledger.UpdateLevels(positionID, tp, sl, trailing)
	if err != nil {
		return model.Position{}, err
	}
	if err := s.journal.RecordLevels(ctx, updated); err != nil {
		s.log.Error("persist levels failed",
			zap.String("position_id", updated.ID),
			zap.Error(err))
	}
	return updated, nil
}

// Positions lists a user's positions, flagging open ones whose symbol is
// currently stale-priced.
func (s *Service) Positions(userID string, status types.PositionStatus) []model.Position {
	out := s.ledger.ListByUser(userID, status)
	for i := range out {
		if out[i].Status == types.PositionStatusOpen {
			out[i].StalePricing = s.prices.IsStale(out[i].Symbol)
		}
	}
	return out
}

func (s *Service) entryPrice(symbol string) (decimal.Decimal, error) {
	price, ok := s.prices.LastPrice(symbol)
	if !ok {
		return decimal.Decimal{}, ErrNoPrice
	}
	if s.prices.IsStale(symbol) {
		return decimal.Decimal{}, ErrStalePrice
	}
	return price, nil
}

func newTrailing(distance *decimal.Decimal, entryPrice decimal.Decimal) *model.TrailingStop {
	if distance == nil {
		return nil
	}
	return &model.TrailingStop{DistancePercent: *distance, Watermark: entryPrice}
}

// validateLevels enforces that take-profit sits on the profitable side of
// entry and stop-loss on the adverse side, and that a trailing distance is a
// sane percentage.
func validateLevels(side types.PositionSide, entry decimal.Decimal, tp, sl, trailingDistance *decimal.Decimal) error {
	long := side == types.PositionSideLong
	if tp != nil {
		if tp.LessThanOrEqual(decimal.Zero) {
			return fmt.Errorf("%w: take-profit must be positive", ErrInvalidOrderLevel)
		}
		if long && tp.LessThanOrEqual(entry) {
			return fmt.Errorf("%w: take-profit for a long must be above entry", ErrInvalidOrderLevel)
		}
		if !long && tp.GreaterThanOrEqual(entry) {
			return fmt.Errorf("%w: take-profit for a short must be below entry", ErrInvalidOrderLevel)
		}
	}
	if sl != nil {
		if sl.LessThanOrEqual(decimal.Zero) {
			return fmt.Errorf("%w: stop-loss must be positive", ErrInvalidOrderLevel)
		}
		if long && sl.GreaterThanOrEqual(entry) {
			return fmt.Errorf("%w: stop-loss for a long must be below entry", ErrInvalidOrderLevel)
		}
		if !long && sl.LessThanOrEqual(entry) {
			return fmt.Errorf("%w: stop-loss for a short must be above entry", ErrInvalidOrderLevel)
		}
	}
	if trailingDistance != nil {
		if trailingDistance.LessThanOrEqual(decimal.Zero) || trailingDistance.GreaterThanOrEqual(decimal.NewFromInt(100)) {
			return fmt.Errorf("%w: trailing distance must be between 0 and 100 percent", ErrInvalidOrderLevel)
		}
	}
	return nil
}
