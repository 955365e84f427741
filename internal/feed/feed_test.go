package feed

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWSTickValidation(t *testing.T) {
	valid := wsTick{Symbol: "BTC-USD", Price: "65000.5", TimestampMS: 1700000000000}
	tick, ok := valid.toTick()
	require.True(t, ok)
	assert.Equal(t, "BTC-USD", tick.Symbol)
	assert.True(t, tick.Price.Equal(decimal.RequireFromString("65000.5")))
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), tick.Timestamp)

	for name, msg := range map[string]wsTick{
		"missing symbol":    {Price: "1", TimestampMS: 1},
		"missing price":     {Symbol: "X", TimestampMS: 1},
		"zero price":        {Symbol: "X", Price: "0", TimestampMS: 1},
		"negative price":    {Symbol: "X", Price: "-5", TimestampMS: 1},
		"malformed price":   {Symbol: "X", Price: "abc", TimestampMS: 1},
		"missing timestamp": {Symbol: "X", Price: "1"},
	} {
		t.Run(name, func(t *testing.T) {
			_, ok := msg.toTick()
			assert.False(t, ok)
		})
	}
}

func TestSimulatorEmitsConfiguredSymbols(t *testing.T) {
	symbols := []string{"AAPL", "BTC-USD"}
	sim := NewSimulator(symbols, time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan Tick, 64)
	go func() { _ = sim.Run(ctx, out) }()

	seen := make(map[string]bool)
	deadline := time.After(time.Second)
	for len(seen) < len(symbols) {
		select {
		case tick := <-out:
			assert.Contains(t, symbols, tick.Symbol)
			assert.True(t, tick.Price.GreaterThan(decimal.Zero))
			assert.False(t, tick.Timestamp.IsZero())
			seen[tick.Symbol] = true
		case <-deadline:
			t.Fatalf("missing ticks, saw %v", seen)
		}
	}
}
