// Package monitor evaluates every accepted price tick against the open
// positions subscribed to that symbol and asks the execution service to close
// whichever ones trigger. Ticks for one symbol are processed strictly in
// order on a dedicated worker; symbols run in parallel.
package monitor

import (
	"context"
	"sync"
	"time"

	"papertrade/internal/feed"
	"papertrade/internal/model"
	"papertrade/internal/position"
	"papertrade/internal/risk"
	"papertrade/internal/types"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DefaultStaleAfter is how long a symbol may go without a tick before its
// positions are excluded from triggering.
const DefaultStaleAfter = 30 * time.Second

// Executor receives fired triggers. Implemented by the execution service;
// a close that lost the race to another trigger is not an error.
type Executor interface {
	TriggerClose(ctx context.Context, positionID string, triggerPrice decimal.Decimal, reason types.CloseReason) error
}

type symbolState struct {
	ch      chan feed.Tick
	started bool // worker running; guarded by Monitor.mu

	mu        sync.Mutex
	lastTS    time.Time
	lastSeen  time.Time
	lastPrice decimal.Decimal
	hasPrice  bool
	stale     bool
}

type Monitor struct {
	ledger     *position.Ledger
	exec       Executor
	staleAfter time.Duration
	log        *zap.Logger

	mu      sync.Mutex
	symbols map[string]*symbolState
	ctx     context.Context
	wg      sync.WaitGroup
}

func New(ledger *position.Ledger, exec Executor, staleAfter time.Duration, log *zap.Logger) *Monitor {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &Monitor{
		ledger:     ledger,
		exec:       exec,
		staleAfter: staleAfter,
		log:        log,
		symbols:    make(map[string]*symbolState),
	}
}

// Run consumes the tick stream until ctx is done. It must be called before
// ticks start flowing; Subscribe may be called at any point, including before
// Run, so workers for already-registered symbols start here.
func (m *Monitor) Run(ctx context.Context, ticks <-chan feed.Tick) {
	m.mu.Lock()
	m.ctx = ctx
	for sym, st := range m.symbols {
		m.startWorker(sym, st)
	}
	m.mu.Unlock()

	staleTicker := time.NewTicker(m.staleAfter / 3)
	defer staleTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.wg.Wait()
			return
		case <-staleTicker.C:
			m.sweepStale()
		case t, ok := <-ticks:
			if !ok {
				m.wg.Wait()
				return
			}
			st := m.state(t.Symbol)
			select {
			case st.ch <- t:
			default:
				// Worker is behind; shed the oldest queued tick rather
				// than stalling every other symbol.
				select {
				case <-st.ch:
				default:
				}
				select {
				case st.ch <- t:
				default:
				}
				m.log.Warn("tick queue overflow", zap.String("symbol", t.Symbol))
			}
		}
	}
}

// Subscribe makes the monitor track a symbol's staleness even before its
// first tick. Position subscription itself lives in the ledger's symbol
// index.
func (m *Monitor) Subscribe(symbol string) {
	m.state(symbol)
}

func (m *Monitor) state(symbol string) *symbolState {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.symbols[symbol]
	if !ok {
		st = &symbolState{ch: make(chan feed.Tick, 256)}
		m.symbols[symbol] = st
		if m.ctx != nil {
			m.startWorker(symbol, st)
		}
	}
	return st
}

// startWorker is called under m.mu and spawns each symbol's worker once.
func (m *Monitor) startWorker(symbol string, st *symbolState) {
	if st.started {
		return
	}
	st.started = true
	m.wg.Add(1)
	go m.worker(m.ctx, symbol, st)
}

func (m *Monitor) worker(ctx context.Context, symbol string, st *symbolState) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-st.ch:
			m.process(ctx, symbol, st, t)
		}
	}
}

func (m *Monitor) process(ctx context.Context, symbol string, st *symbolState, t feed.Tick) {
	st.mu.Lock()
	if st.hasPrice && t.Timestamp.Before(st.lastTS) {
		st.mu.Unlock()
		m.log.Debug("dropping out-of-order tick",
			zap.String("symbol", symbol),
			zap.Time("tick_ts", t.Timestamp),
			zap.Time("last_ts", st.lastTS))
		return
	}
	st.lastTS = t.Timestamp
	st.lastSeen = time.Now()
	st.lastPrice = t.Price
	st.hasPrice = true
	if st.stale {
		st.stale = false
		m.log.Info("fresh pricing resumed", zap.String("symbol", symbol))
	}
	st.mu.Unlock()

	for _, pos := range m.ledger.OpenBySymbol(symbol) {
		if reason, ok := m.evaluate(pos, t.Price); ok {
			if err := m.exec.TriggerClose(ctx, pos.ID, t.Price, reason); err != nil {
				m.log.Error("trigger close failed",
					zap.String("position_id", pos.ID),
					zap.String("reason", string(reason)),
					zap.Error(err))
			}
		}
	}
}

// evaluate applies the exit conditions in fixed priority order: liquidation,
// stop-loss, trailing-stop, take-profit. Capital protection first; the first
// satisfied condition wins and a position closes for exactly one reason.
func (m *Monitor) evaluate(pos model.Position, price decimal.Decimal) (types.CloseReason, bool) {
	long := pos.Side == types.PositionSideLong

	var trailTrigger *decimal.Decimal
	if pos.Trailing != nil {
		if ts, ok := m.ledger.AdvanceWatermark(pos.ID, price); ok {
			tt := trailingTriggerPrice(ts, long)
			trailTrigger = &tt
		}
	}

	if m.liquidates(pos, price, long) {
		return types.CloseReasonLiquidation, true
	}
	if pos.StopLossPrice != nil && crossedAdverse(price, *pos.StopLossPrice, long) {
		return types.CloseReasonStopLoss, true
	}
	if trailTrigger != nil && crossedAdverse(price, *trailTrigger, long) {
		return types.CloseReasonTrailingStop, true
	}
	if pos.TakeProfitPrice != nil && crossedFavorable(price, *pos.TakeProfitPrice, long) {
		return types.CloseReasonTakeProfit, true
	}
	return "", false
}

// liquidates checks the static liquidation price and, independently, whether
// the mark-to-market value has consumed the posted margin. 1x positions have
// neither and never liquidate.
func (m *Monitor) liquidates(pos model.Position, price decimal.Decimal, long bool) bool {
	if pos.Leverage <= 1 {
		return false
	}
	if pos.LiquidationPrice != nil && crossedAdverse(price, *pos.LiquidationPrice, long) {
		return true
	}
	return risk.PositionValue(pos, price).LessThanOrEqual(decimal.Zero)
}

func trailingTriggerPrice(ts model.TrailingStop, long bool) decimal.Decimal {
	frac := ts.DistancePercent.Div(decimal.NewFromInt(100))
	if long {
		return ts.Watermark.Mul(decimal.NewFromInt(1).Sub(frac))
	}
	return ts.Watermark.Mul(decimal.NewFromInt(1).Add(frac))
}

func crossedAdverse(price, level decimal.Decimal, long bool) bool {
	if long {
		return price.LessThanOrEqual(level)
	}
	return price.GreaterThanOrEqual(level)
}

func crossedFavorable(price, level decimal.Decimal, long bool) bool {
	if long {
		return price.GreaterThanOrEqual(level)
	}
	return price.LessThanOrEqual(level)
}

func (m *Monitor) sweepStale() {
	m.mu.Lock()
	states := make(map[string]*symbolState, len(m.symbols))
	for sym, st := range m.symbols {
		states[sym] = st
	}
	m.mu.Unlock()

	now := time.Now()
	for sym, st := range states {
		st.mu.Lock()
		// Staleness tracks when a tick last arrived, not the tick's own
		// timestamp, so a feed whose clock lags ours does not flap stale
		// while prices keep flowing.
		if st.hasPrice && !st.stale && now.Sub(st.lastSeen) > m.staleAfter {
			st.stale = true
			m.log.Warn("symbol pricing went stale, triggers paused",
				zap.String("symbol", sym),
				zap.Time("last_tick", st.lastTS))
		}
		st.mu.Unlock()
	}
}

// LastPrice returns the latest accepted price for the symbol.
func (m *Monitor) LastPrice(symbol string) (decimal.Decimal, bool) {
	m.mu.Lock()
	st, ok := m.symbols[symbol]
	m.mu.Unlock()
	if !ok {
		return decimal.Decimal{}, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if !st.hasPrice {
		return decimal.Decimal{}, false
	}
	return st.lastPrice, true
}

// IsStale reports whether the symbol's triggers are currently paused for
// lack of fresh ticks. A symbol that has never ticked counts as stale.
func (m *Monitor) IsStale(symbol string) bool {
	m.mu.Lock()
	st, ok := m.symbols[symbol]
	m.mu.Unlock()
	if !ok {
		return true
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.stale || !st.hasPrice
}
