package execution

import (
	"errors"
	"net/http"
	"strings"

	"papertrade/internal/balance"
	"papertrade/internal/httputil"
	"papertrade/internal/position"
	"papertrade/internal/risk"
	"papertrade/internal/types"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type openPositionRequest struct {
	Symbol           string `json:"symbol"`
	AssetType        string `json:"asset_type"`
	Side             string `json:"side"`
	Leverage         int64  `json:"leverage"`
	MarginAmount     string `json:"margin_amount"`
	TakeProfitPrice  string `json:"take_profit_price,omitempty"`
	StopLossPrice    string `json:"stop_loss_price,omitempty"`
	TrailingDistance string `json:"trailing_distance,omitempty"`
}

func (h *Handler) Open(w http.ResponseWriter, r *http.Request, userID string) {
	var req openPositionRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	margin, err := decimal.NewFromString(req.MarginAmount)
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid margin_amount"})
		return
	}
	tp, err := optionalDecimal(req.TakeProfitPrice)
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid take_profit_price"})
		return
	}
	sl, err := optionalDecimal(req.StopLossPrice)
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid stop_loss_price"})
		return
	}
	trailing, err := optionalDecimal(req.TrailingDistance)
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid trailing_distance"})
		return
	}
	pos, err := h.svc.OpenPosition(r.Context(), OpenRequest{
		UserID:           userID,
		Symbol:           strings.ToUpper(strings.TrimSpace(req.Symbol)),
		AssetType:        types.AssetType(req.AssetType),
		Side:             types.PositionSide(req.Side),
		Leverage:         req.Leverage,
		MarginAmount:     margin,
		TakeProfitPrice:  tp,
		StopLossPrice:    sl,
		TrailingDistance: trailing,
	})
	if err != nil {
		httputil.WriteJSON(w, statusFor(err), httputil.ErrorResponse{Error: err.Error()})
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, pos)
}

func (h *Handler) Close(w http.ResponseWriter, r *http.Request, userID string) {
	pos, err := h.svc.ClosePosition(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteJSON(w, statusFor(err), httputil.ErrorResponse{Error: err.Error()})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, pos)
}

type updateLevelsRequest struct {
	TakeProfitPrice  string `json:"take_profit_price,omitempty"`
	StopLossPrice    string `json:"stop_loss_price,omitempty"`
	TrailingDistance string `json:"trailing_distance,omitempty"`
}

func (h *Handler) UpdateLevels(w http.ResponseWriter, r *http.Request, userID string) {
	var req updateLevelsRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	tp, err := optionalDecimal(req.TakeProfitPrice)
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid take_profit_price"})
		return
	}
	sl, err := optionalDecimal(req.StopLossPrice)
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid stop_loss_price"})
		return
	}
	trailing, err := optionalDecimal(req.TrailingDistance)
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid trailing_distance"})
		return
	}
	pos, err := h.svc.UpdateOrderLevels(r.Context(), userID, chi.URLParam(r, "id"), tp, sl, trailing)
	if err != nil {
		httputil.WriteJSON(w, statusFor(err), httputil.ErrorResponse{Error: err.Error()})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, pos)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request, userID string) {
	status := types.PositionStatus(strings.ToLower(r.URL.Query().Get("status")))
	switch status {
	case "", types.PositionStatusOpen, types.PositionStatusClosed, types.PositionStatusLiquidated:
	default:
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid status filter"})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, h.svc.Positions(userID, status))
}

// LeverageOptions serves the tier table clients render leverage pickers from.
func (h *Handler) LeverageOptions(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, risk.LeverageOptions())
}

func optionalDecimal(raw string) (*decimal.Decimal, error) {
	if raw == "" {
		return nil, nil
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, position.ErrNotFound), errors.Is(err, ErrNotOwner):
		return http.StatusNotFound
	case errors.Is(err, balance.ErrInsufficientMargin):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrNoPrice), errors.Is(err, ErrStalePrice):
		return http.StatusConflict
	case errors.Is(err, position.ErrClosed):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}
