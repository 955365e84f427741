package health

import (
	"context"
	"net/http"
	"time"

	"papertrade/internal/httputil"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Handler struct {
	pool      *pgxpool.Pool
	startedAt time.Time
}

func NewHandler(pool *pgxpool.Pool, startedAt time.Time) *Handler {
	start := startedAt.UTC()
	if start.IsZero() {
		start = time.Now().UTC()
	}
	return &Handler{pool: pool, startedAt: start}
}

type liveResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	UptimeSec int64  `json:"uptime_sec"`
}

type readyResponse struct {
	Status   string `json:"status"`
	Database dbStat `json:"database"`
}

type dbStat struct {
	Reachable bool   `json:"reachable"`
	PingMs    int64  `json:"ping_ms"`
	Error     string `json:"error,omitempty"`
}

// Live does not touch the database.
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	httputil.WriteJSON(w, http.StatusOK, liveResponse{
		Status:    "ok",
		Timestamp: now.Format(time.RFC3339),
		UptimeSec: int64(now.Sub(h.startedAt).Seconds()),
	})
}

// Ready checks the primary dependency and returns 503 when it is down.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	stat := dbStat{}
	pingCtx, cancel := context.WithTimeout(r.Context(), time.Second)
	defer cancel()
	start := time.Now()
	err := h.pool.Ping(pingCtx)
	stat.PingMs = time.Since(start).Milliseconds()
	status := "ok"
	httpStatus := http.StatusOK
	if err != nil {
		stat.Error = err.Error()
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	} else {
		stat.Reachable = true
	}
	httputil.WriteJSON(w, httpStatus, readyResponse{Status: status, Database: stat})
}
