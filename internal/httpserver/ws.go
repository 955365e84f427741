package httpserver

import (
	"net/http"
	"time"

	"papertrade/internal/events"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WSHandler streams engine events (ticks, position lifecycle) to clients.
// Read-only: inbound messages are drained and ignored except for close.
type WSHandler struct {
	bus      *events.Bus
	log      *zap.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(bus *events.Bus, origin string, log *zap.Logger) *WSHandler {
	return &WSHandler{
		bus: bus,
		log: log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return allowOrigin(r, origin) },
		},
	}
}

func allowOrigin(r *http.Request, allowed string) bool {
	if allowed == "" || allowed == "*" {
		return true
	}
	return r.Header.Get("Origin") == allowed
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sub := h.bus.Subscribe()
	defer h.bus.Unsubscribe(sub)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case evt, ok := <-sub:
			if !ok {
				return
			}
			if err := conn.WriteJSON(evt); err != nil {
				h.log.Debug("ws client write failed", zap.Error(err))
				return
			}
		}
	}
}
