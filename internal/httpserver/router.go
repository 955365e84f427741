package httpserver

import (
	"net/http"

	"papertrade/internal/auth"
	"papertrade/internal/balance"
	"papertrade/internal/execution"
	"papertrade/internal/health"
	"papertrade/internal/httputil"

	"github.com/go-chi/chi/v5"
)

type RouterDeps struct {
	AuthHandler    *auth.Handler
	AccountHandler *balance.Handler
	TradeHandler   *execution.Handler
	HealthHandler  *health.Handler
	AuthService    *auth.Service
	WSHandler      http.Handler
}

func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", d.HealthHandler.Ready)
	r.Get("/health/live", d.HealthHandler.Live)
	r.Get("/health/ready", d.HealthHandler.Ready)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", d.AuthHandler.Register)
			r.Post("/login", d.AuthHandler.Login)
		})
		r.Get("/ws", d.WSHandler.ServeHTTP)
		r.Get("/leverage-options", d.TradeHandler.LeverageOptions)
		r.Group(func(r chi.Router) {
			r.Use(WithAuth(d.AuthService))
			r.Get("/account", authed(d.AccountHandler.Summary))
			r.Post("/account/refill", authed(d.AccountHandler.Refill))
			r.Get("/positions", authed(d.TradeHandler.List))
			r.Post("/positions", authed(d.TradeHandler.Open))
			r.Post("/positions/{id}/close", authed(d.TradeHandler.Close))
			r.Patch("/positions/{id}/levels", authed(d.TradeHandler.UpdateLevels))
		})
	})

	return r
}

func authed(h func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := UserID(r)
		if !ok {
			httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{Error: "unauthorized"})
			return
		}
		h(w, r, userID)
	}
}
