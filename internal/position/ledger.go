// Package position is the single source of truth for position state. The
// Open -> Closed/Liquidated transition is a compare-and-set under the ledger
// lock: of two racing closers exactly one wins, the other observes the
// already-terminal record.
package position

import (
	"errors"
	"sort"
	"sync"
	"time"

	"papertrade/internal/model"
	"papertrade/internal/types"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound = errors.New("position not found")
	ErrClosed   = errors.New("position is no longer open")
)

type Ledger struct {
	mu       sync.RWMutex
	byID     map[string]*model.Position
	bySymbol map[string]map[string]struct{} // open positions only
}

func NewLedger() *Ledger {
	return &Ledger{
		byID:     make(map[string]*model.Position),
		bySymbol: make(map[string]map[string]struct{}),
	}
}

func (l *Ledger) Insert(p model.Position) {
	l.mu.Lock()
	defer l.mu.Unlock()
	stored := p.Clone()
	l.byID[p.ID] = &stored
	if p.Status == types.PositionStatusOpen {
		l.indexSymbol(p.Symbol, p.ID)
	}
}

func (l *Ledger) indexSymbol(symbol, id string) {
	ids, ok := l.bySymbol[symbol]
	if !ok {
		ids = make(map[string]struct{})
		l.bySymbol[symbol] = ids
	}
	ids[id] = struct{}{}
}

func (l *Ledger) dropSymbol(symbol, id string) {
	if ids, ok := l.bySymbol[symbol]; ok {
		delete(ids, id)
		if len(ids) == 0 {
			delete(l.bySymbol, symbol)
		}
	}
}

func (l *Ledger) Get(id string) (model.Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.byID[id]
	if !ok {
		return model.Position{}, false
	}
	return p.Clone(), true
}

// OpenBySymbol returns copies of every open position subscribed to the symbol.
func (l *Ledger) OpenBySymbol(symbol string) []model.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := l.bySymbol[symbol]
	out := make([]model.Position, 0, len(ids))
	for id := range ids {
		if p, ok := l.byID[id]; ok && p.Status == types.PositionStatusOpen {
			out = append(out, p.Clone())
		}
	}
	return out
}

// ListByUser returns the user's positions, newest first. An empty status
// matches everything.
func (l *Ledger) ListByUser(userID string, status types.PositionStatus) []model.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []model.Position
	for _, p := range l.byID {
		if p.UserID != userID {
			continue
		}
		if status != "" && p.Status != status {
			continue
		}
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.After(out[j].OpenedAt) })
	return out
}

// TryClose atomically moves an open position to its terminal state. The
// second return is false when the position was already terminal; the caller
// gets the existing terminal record and must not settle again.
func (l *Ledger) TryClose(id string, closePrice, realizedPnL decimal.Decimal, reason types.CloseReason, at time.Time) (model.Position, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.byID[id]
	if !ok {
		return model.Position{}, false, ErrNotFound
	}
	if p.Status != types.PositionStatusOpen {
		return p.Clone(), false, nil
	}
	status := types.PositionStatusClosed
	if reason == types.CloseReasonLiquidation {
		status = types.PositionStatusLiquidated
	}
	p.Status = status
	p.CloseReason = reason
	p.ClosePrice = &closePrice
	p.RealizedPnL = &realizedPnL
	p.ClosedAt = &at
	l.dropSymbol(p.Symbol, p.ID)
	return p.Clone(), true, nil
}

// UpdateLevels replaces the exit levels of an open position. Validation of
// the levels against entry and side belongs to the execution service.
func (l *Ledger) UpdateLevels(id string, tp, sl *decimal.Decimal, trailing *model.TrailingStop) (model.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.byID[id]
	if !ok {
		return model.Position{}, ErrNotFound
	}
	if p.Status != types.PositionStatusOpen {
		return p.Clone(), ErrClosed
	}
	p.TakeProfitPrice = tp
	p.StopLossPrice = sl
	if trailing != nil {
		ts := *trailing
		p.Trailing = &ts
	} else {
		p.Trailing = nil
	}
	return p.Clone(), nil
}

// AdvanceWatermark ratchets the trailing watermark toward the favorable
// direction and returns the updated trailing state. It never moves the mark
// adversely, so the trailing trigger only ever tightens.
func (l *Ledger) AdvanceWatermark(id string, price decimal.Decimal) (model.TrailingStop, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.byID[id]
	if !ok || p.Status != types.PositionStatusOpen || p.Trailing == nil {
		return model.TrailingStop{}, false
	}
	if p.Side == types.PositionSideLong {
		if price.GreaterThan(p.Trailing.Watermark) {
			p.Trailing.Watermark = price
		}
	} else {
		if price.LessThan(p.Trailing.Watermark) {
			p.Trailing.Watermark = price
		}
	}
	return *p.Trailing, true
}

// OpenSymbols lists symbols with at least one open position.
func (l *Ledger) OpenSymbols() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.bySymbol))
	for s := range l.bySymbol {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
