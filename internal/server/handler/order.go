package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tradeforge/indexcore/internal/domain"
	"github.com/tradeforge/indexcore/internal/service"
)

// OrderService defines the methods that the order handler requires from the
// service layer.
type OrderService interface {
	Submit(ctx context.Context, req service.SubmitRequest) (domain.ExecutionReport, error)
	Cancel(ctx context.Context, userID, pair, orderID string) error
	GetOrder(ctx context.Context, pair, orderID string) (domain.Order, error)
	ListUserOrders(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.Order, error)
}

// OrderHandler serves order-related HTTP endpoints.
type OrderHandler struct {
	orders OrderService
	logger *slog.Logger
}

// NewOrderHandler creates an OrderHandler with the given service and logger.
func NewOrderHandler(orders OrderService, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{
		orders: orders,
		logger: logHandler(logger, "orders"),
	}
}

// submitOrderRequest is the JSON body for submitting an order.
type submitOrderRequest struct {
	UserID string  `json:"user_id"`
	Pair   string  `json:"pair"`
	Side   string  `json:"side"`
	Type   string  `json:"type"`
	Price  float64 `json:"price"`
	Amount float64 `json:"amount"`
}

// listOrdersResponse wraps the list orders response.
type listOrdersResponse struct {
	Orders []domain.Order `json:"orders"`
}

// SubmitOrder places a new order from a JSON body and routes it for
// execution.
// POST /api/orders
func (h *OrderHandler) SubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req submitOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if req.UserID == "" || req.Pair == "" {
		writeError(w, http.StatusBadRequest, "user_id and pair are required")
		return
	}

	report, err := h.orders.Submit(r.Context(), service.SubmitRequest{
		UserID: req.UserID,
		Pair:   req.Pair,
		Side:   domain.OrderSide(req.Side),
		Type:   domain.OrderType(req.Type),
		Price:  req.Price,
		Amount: req.Amount,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrRateLimited):
			writeError(w, http.StatusTooManyRequests, "rate limited")
		case errors.Is(err, domain.ErrInvalidOrder), errors.Is(err, domain.ErrPriceValidation):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, domain.ErrInsufficientLiquidity):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		case errors.Is(err, domain.ErrVenueUnavailable):
			writeError(w, http.StatusServiceUnavailable, err.Error())
		default:
			h.logger.ErrorContext(r.Context(), "handler: submit order failed",
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to submit order")
		}
		return
	}

	writeJSON(w, http.StatusCreated, report)
}

// CancelOrder cancels an open order by its id.
// DELETE /api/orders/{pair}/{id}?user_id=...
func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	pair := pathParam(r, "pair")
	id := pathParam(r, "id")
	userID := r.URL.Query().Get("user_id")

	if pair == "" || id == "" {
		writeError(w, http.StatusBadRequest, "missing pair or order id")
		return
	}
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id query parameter required")
		return
	}

	if err := h.orders.Cancel(r.Context(), userID, pair, id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: cancel order failed",
			slog.String("order_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to cancel order")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled", "order_id": id})
}

// GetOrder returns a single order, checking the live book first and falling
// back to the persistent store.
// GET /api/orders/{pair}/{id}
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	pair := pathParam(r, "pair")
	id := pathParam(r, "id")
	if pair == "" || id == "" {
		writeError(w, http.StatusBadRequest, "missing pair or order id")
		return
	}

	order, err := h.orders.GetOrder(r.Context(), pair, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get order failed",
			slog.String("order_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get order")
		return
	}

	writeJSON(w, http.StatusOK, order)
}

// ListOrders returns the most recent orders for a user.
// GET /api/orders?user_id=...&limit=50&offset=0
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id query parameter required")
		return
	}

	orders, err := h.orders.ListUserOrders(r.Context(), userID, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list orders failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list orders")
		return
	}

	if orders == nil {
		orders = []domain.Order{}
	}

	writeJSON(w, http.StatusOK, listOrdersResponse{Orders: orders})
}
