// Package feed is the boundary to the price feed collaborator. The engine
// only ever consumes Ticks; where they come from (an upstream websocket or
// the built-in simulator) is a deployment choice.
package feed

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type Tick struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// Source pushes ticks into out until ctx is done.
type Source interface {
	Run(ctx context.Context, out chan<- Tick) error
}
