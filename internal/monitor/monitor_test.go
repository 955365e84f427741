package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"papertrade/internal/feed"
	"papertrade/internal/model"
	"papertrade/internal/position"
	"papertrade/internal/risk"
	"papertrade/internal/types"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

type trigger struct {
	positionID string
	price      decimal.Decimal
	reason     types.CloseReason
}

type executorSpy struct {
	mu       sync.Mutex
	triggers []trigger
}

func (e *executorSpy) TriggerClose(ctx context.Context, positionID string, triggerPrice decimal.Decimal, reason types.CloseReason) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.triggers = append(e.triggers, trigger{positionID, triggerPrice, reason})
	return nil
}

func (e *executorSpy) fired() []trigger {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]trigger, len(e.triggers))
	copy(out, e.triggers)
	return out
}

func newTestMonitor(t *testing.T) (*Monitor, *position.Ledger, *executorSpy) {
	t.Helper()
	ledger := position.NewLedger()
	exec := &executorSpy{}
	return New(ledger, exec, DefaultStaleAfter, zap.NewNop()), ledger, exec
}

func longPosition(id string) model.Position {
	entry := dec("100")
	liq := risk.LiquidationPrice(entry, 10, types.PositionSideLong)
	return model.Position{
		ID:               id,
		UserID:           "u1",
		Symbol:           "AAPL",
		AssetType:        types.AssetTypeStock,
		Side:             types.PositionSideLong,
		Leverage:         10,
		EntryPrice:       entry,
		Quantity:         dec("100"),
		Margin:           dec("1000"),
		LiquidationPrice: liq,
		Status:           types.PositionStatusOpen,
		OpenedAt:         time.Now(),
	}
}

func tickAt(price string, ts time.Time) feed.Tick {
	return feed.Tick{Symbol: "AAPL", Price: dec(price), Timestamp: ts}
}

func feedTick(m *Monitor, st *symbolState, price string, ts time.Time) {
	m.process(context.Background(), "AAPL", st, tickAt(price, ts))
}

func TestLiquidationTriggerAtThreshold(t *testing.T) {
	m, ledger, exec := newTestMonitor(t)
	ledger.Insert(longPosition("p1"))
	st := m.state("AAPL")

	// 10x long from 100 liquidates at or below 91.
	feedTick(m, st, "92", time.Now())
	assert.Empty(t, exec.fired())

	feedTick(m, st, "91", time.Now())
	fired := exec.fired()
	require.Len(t, fired, 1)
	assert.Equal(t, types.CloseReasonLiquidation, fired[0].reason)
	assert.Equal(t, "p1", fired[0].positionID)
}

func TestOneTimesLeverageNeverLiquidates(t *testing.T) {
	m, ledger, exec := newTestMonitor(t)
	p := longPosition("p1")
	p.Leverage = 1
	p.LiquidationPrice = nil
	p.Margin = dec("10000")
	ledger.Insert(p)
	st := m.state("AAPL")

	feedTick(m, st, "0.01", time.Now())
	assert.Empty(t, exec.fired())
}

func TestStopLossShortSide(t *testing.T) {
	m, ledger, exec := newTestMonitor(t)
	p := longPosition("p1")
	p.Side = types.PositionSideShort
	p.Leverage = 5
	p.EntryPrice = dec("50")
	p.Quantity = dec("100")
	p.Margin = dec("1000")
	p.LiquidationPrice = risk.LiquidationPrice(dec("50"), 5, types.PositionSideShort)
	sl := dec("55")
	p.StopLossPrice = &sl
	ledger.Insert(p)
	st := m.state("AAPL")

	feedTick(m, st, "54.99", time.Now())
	assert.Empty(t, exec.fired())

	// A short's stop-loss sits above entry and fires on the way up.
	feedTick(m, st, "55", time.Now())
	fired := exec.fired()
	require.Len(t, fired, 1)
	assert.Equal(t, types.CloseReasonStopLoss, fired[0].reason)
}

func TestTakeProfitLongSide(t *testing.T) {
	m, ledger, exec := newTestMonitor(t)
	p := longPosition("p1")
	tp := dec("110")
	p.TakeProfitPrice = &tp
	ledger.Insert(p)
	st := m.state("AAPL")

	feedTick(m, st, "109.99", time.Now())
	assert.Empty(t, exec.fired())
	feedTick(m, st, "110", time.Now())
	fired := exec.fired()
	require.Len(t, fired, 1)
	assert.Equal(t, types.CloseReasonTakeProfit, fired[0].reason)
}

func TestTrailingStopRatchetsThenFires(t *testing.T) {
	m, ledger, exec := newTestMonitor(t)
	p := longPosition("p1")
	p.LiquidationPrice = nil
	p.Leverage = 2
	p.Trailing = &model.TrailingStop{DistancePercent: dec("5"), Watermark: dec("100")}
	ledger.Insert(p)
	st := m.state("AAPL")

	now := time.Now()
	feedTick(m, st, "120", now)
	assert.Empty(t, exec.fired(), "watermark 120 puts the trigger at 114")

	feedTick(m, st, "115", now.Add(time.Second))
	assert.Empty(t, exec.fired())

	feedTick(m, st, "114", now.Add(2*time.Second))
	fired := exec.fired()
	require.Len(t, fired, 1)
	assert.Equal(t, types.CloseReasonTrailingStop, fired[0].reason)
	assert.True(t, fired[0].price.Equal(dec("114")))
}

func TestTrailingStopShortSide(t *testing.T) {
	m, ledger, exec := newTestMonitor(t)
	p := longPosition("p1")
	p.Side = types.PositionSideShort
	p.LiquidationPrice = risk.LiquidationPrice(dec("100"), 10, types.PositionSideShort)
	p.Trailing = &model.TrailingStop{DistancePercent: dec("10"), Watermark: dec("100")}
	ledger.Insert(p)
	st := m.state("AAPL")

	now := time.Now()
	feedTick(m, st, "80", now)
	assert.Empty(t, exec.fired(), "watermark 80 puts the trigger at 88")

	feedTick(m, st, "88", now.Add(time.Second))
	fired := exec.fired()
	require.Len(t, fired, 1)
	assert.Equal(t, types.CloseReasonTrailingStop, fired[0].reason)
}

func TestPriorityStopLossOverTakeProfit(t *testing.T) {
	m, ledger, exec := newTestMonitor(t)
	p := longPosition("p1")
	p.LiquidationPrice = nil
	p.Leverage = 2
	// Inverted levels so a single print satisfies both conditions.
	sl, tp := dec("100"), dec("95")
	p.StopLossPrice = &sl
	p.TakeProfitPrice = &tp
	ledger.Insert(p)
	st := m.state("AAPL")

	feedTick(m, st, "97", time.Now())
	fired := exec.fired()
	require.Len(t, fired, 1)
	assert.Equal(t, types.CloseReasonStopLoss, fired[0].reason)
}

func TestPriorityLiquidationOverStopLoss(t *testing.T) {
	m, ledger, exec := newTestMonitor(t)
	p := longPosition("p1")
	sl := dec("95")
	p.StopLossPrice = &sl
	ledger.Insert(p)
	st := m.state("AAPL")

	// 90 crosses both the stop at 95 and the liquidation price at 91.
	feedTick(m, st, "90", time.Now())
	fired := exec.fired()
	require.Len(t, fired, 1)
	assert.Equal(t, types.CloseReasonLiquidation, fired[0].reason)
}

func TestOutOfOrderTickDropped(t *testing.T) {
	m, ledger, exec := newTestMonitor(t)
	p := longPosition("p1")
	sl := dec("95")
	p.StopLossPrice = &sl
	ledger.Insert(p)
	st := m.state("AAPL")

	now := time.Now()
	feedTick(m, st, "105", now)
	assert.Empty(t, exec.fired())

	// A late print carrying an older timestamp must not trigger anything.
	feedTick(m, st, "90", now.Add(-time.Second))
	assert.Empty(t, exec.fired())

	price, ok := m.LastPrice("AAPL")
	require.True(t, ok)
	assert.True(t, price.Equal(dec("105")))
}

func TestEqualTimestampAccepted(t *testing.T) {
	m, _, _ := newTestMonitor(t)
	st := m.state("AAPL")

	now := time.Now()
	feedTick(m, st, "100", now)
	feedTick(m, st, "101", now)

	price, ok := m.LastPrice("AAPL")
	require.True(t, ok)
	assert.True(t, price.Equal(dec("101")))
}

func TestStaleness(t *testing.T) {
	m, _, _ := newTestMonitor(t)
	m.staleAfter = 10 * time.Millisecond
	st := m.state("AAPL")

	assert.True(t, m.IsStale("AAPL"), "never ticked counts as stale")
	assert.True(t, m.IsStale("UNKNOWN"))

	feedTick(m, st, "100", time.Now())
	assert.False(t, m.IsStale("AAPL"))

	time.Sleep(20 * time.Millisecond)
	m.sweepStale()
	assert.True(t, m.IsStale("AAPL"))

	// A fresh tick resumes triggering.
	feedTick(m, st, "101", time.Now())
	assert.False(t, m.IsStale("AAPL"))
}

func TestSubscribeBeforeRunStillTriggers(t *testing.T) {
	m, ledger, exec := newTestMonitor(t)
	ledger.Insert(longPosition("p1"))

	// Boot order: symbols are registered before the tick loop starts.
	m.Subscribe("AAPL")

	ctx, cancel := context.WithCancel(context.Background())
	ticks := make(chan feed.Tick, 4)
	done := make(chan struct{})
	go func() {
		m.Run(ctx, ticks)
		close(done)
	}()

	ticks <- tickAt("91", time.Now())
	require.Eventually(t, func() bool {
		return len(exec.fired()) == 1
	}, time.Second, 5*time.Millisecond, "tick for a boot-subscribed symbol must be evaluated")
	assert.Equal(t, types.CloseReasonLiquidation, exec.fired()[0].reason)

	price, ok := m.LastPrice("AAPL")
	require.True(t, ok)
	assert.True(t, price.Equal(dec("91")))

	cancel()
	<-done
}

func TestStalenessTracksArrivalNotTickClock(t *testing.T) {
	m, _, _ := newTestMonitor(t)
	m.staleAfter = 50 * time.Millisecond
	st := m.state("AAPL")

	// A lagging upstream clock must not pause triggers while ticks flow.
	feedTick(m, st, "100", time.Now().Add(-time.Hour))
	m.sweepStale()
	assert.False(t, m.IsStale("AAPL"))
}

func TestRunDispatchesPerSymbol(t *testing.T) {
	m, ledger, exec := newTestMonitor(t)
	p := longPosition("p1")
	tp := dec("110")
	p.TakeProfitPrice = &tp
	ledger.Insert(p)

	ctx, cancel := context.WithCancel(context.Background())
	ticks := make(chan feed.Tick, 4)
	done := make(chan struct{})
	go func() {
		m.Run(ctx, ticks)
		close(done)
	}()

	ticks <- tickAt("110", time.Now())
	require.Eventually(t, func() bool {
		return len(exec.fired()) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
	assert.Equal(t, types.CloseReasonTakeProfit, exec.fired()[0].reason)
}
