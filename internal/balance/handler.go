package balance

import (
	"net/http"

	"papertrade/internal/httputil"

	"github.com/shopspring/decimal"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Summary(w http.ResponseWriter, r *http.Request, userID string) {
	httputil.WriteJSON(w, http.StatusOK, h.svc.Summary(userID))
}

type refillRequest struct {
	Amount string `json:"amount"`
}

type refillResponse struct {
	AppliedAmount decimal.Decimal `json:"applied_amount"`
	NewBalance    decimal.Decimal `json:"new_balance"`
}

func (h *Handler) Refill(w http.ResponseWriter, r *http.Request, userID string) {
	var req refillRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || amount.LessThanOrEqual(decimal.Zero) {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid amount"})
		return
	}
	applied, snap, err := h.svc.Refill(r.Context(), userID, amount)
	if err != nil {
		httputil.WriteJSON(w, http.StatusInternalServerError, httputil.ErrorResponse{Error: "refill failed"})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, refillResponse{AppliedAmount: applied, NewBalance: snap.CashBalance})
}
