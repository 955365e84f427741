package feed

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// WSSource consumes ticks from an upstream quote websocket. It reconnects
// with backoff; the monitor's staleness window covers the gap while the
// connection is down.
type WSSource struct {
	url string
	log *zap.Logger
}

func NewWSSource(url string, log *zap.Logger) *WSSource {
	return &WSSource{url: url, log: log}
}

type wsTick struct {
	Symbol      string `json:"symbol"`
	Price       string `json:"price"`
	TimestampMS int64  `json:"timestamp"`
}

func (s *WSSource) Run(ctx context.Context, out chan<- Tick) error {
	backoff := time.Second
	for {
		if err := s.readLoop(ctx, out); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.Warn("feed connection lost, reconnecting",
				zap.String("url", s.url),
				zap.Duration("backoff", backoff),
				zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (s *WSSource) readLoop(ctx context.Context, out chan<- Tick) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	s.log.Info("feed connected", zap.String("url", s.url))

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var msg wsTick
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.log.Debug("dropping malformed feed message", zap.Error(err))
			continue
		}
		tick, ok := msg.toTick()
		if !ok {
			continue
		}
		select {
		case out <- tick:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (m wsTick) toTick() (Tick, bool) {
	if m.Symbol == "" || m.Price == "" || m.TimestampMS <= 0 {
		return Tick{}, false
	}
	price, err := decimal.NewFromString(m.Price)
	if err != nil || price.LessThanOrEqual(decimal.Zero) {
		return Tick{}, false
	}
	return Tick{
		Symbol:    m.Symbol,
		Price:     price,
		Timestamp: time.UnixMilli(m.TimestampMS).UTC(),
	}, true
}
