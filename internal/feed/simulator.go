package feed

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Simulator generates a random-walk tick stream for a fixed symbol set.
// Demo deployments run on it instead of an upstream feed.
type Simulator struct {
	interval time.Duration
	log      *zap.Logger
	prices   map[string]float64
	rng      *rand.Rand
}

var defaultStartPrices = map[string]float64{
	"AAPL":    190,
	"TSLA":    240,
	"NVDA":    120,
	"BTC-USD": 64000,
	"ETH-USD": 3100,
	"SOL-USD": 150,
}

func NewSimulator(symbols []string, interval time.Duration, log *zap.Logger) *Simulator {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	prices := make(map[string]float64, len(symbols))
	for _, sym := range symbols {
		start, ok := defaultStartPrices[sym]
		if !ok {
			start = 100
		}
		prices[sym] = start
	}
	return &Simulator{
		interval: interval,
		log:      log,
		prices:   prices,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *Simulator) Run(ctx context.Context, out chan<- Tick) error {
	s.log.Info("simulated feed started",
		zap.Int("symbols", len(s.prices)),
		zap.Duration("interval", s.interval))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		now := time.Now().UTC()
		for sym := range s.prices {
			s.prices[sym] = s.step(s.prices[sym])
			tick := Tick{
				Symbol:    sym,
				Price:     decimal.NewFromFloat(s.prices[sym]).Round(4),
				Timestamp: now,
			}
			select {
			case out <- tick:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// step applies a small gaussian move, about 5 bps sigma per tick.
func (s *Simulator) step(price float64) float64 {
	next := price * math.Exp(s.rng.NormFloat64()*0.0005)
	if next <= 0 {
		return price
	}
	return next
}
