package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/aryan0dhankhar/fleetdesk/internal/domain"
	"github.com/aryan0dhankhar/fleetdesk/internal/security/middleware"
	"github.com/aryan0dhankhar/fleetdesk/internal/service"
)

// TransitionRequest is the body of POST /api/orders/{id}/transitions
type TransitionRequest struct {
	Status string `json:"status"`
}

// OrderResponse is an order with its timeline rendered newest first.
type OrderResponse struct {
	*domain.Order
	Timeline []domain.TimelineEvent `json:"timeline"`
	Next     []domain.OrderStatus   `json:"next"`
}

func newOrderResponse(o *domain.Order) OrderResponse {
	return OrderResponse{Order: o, Timeline: o.TimelineNewestFirst(), Next: domain.LegalTargets(o.Status)}
}

// OrdersHandler exposes the order lifecycle engine
type OrdersHandler struct {
	orders *service.OrderService
	logger *slog.Logger
}

// NewOrdersHandler creates a new orders handler
func NewOrdersHandler(orders *service.OrderService, logger *slog.Logger) *OrdersHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OrdersHandler{orders: orders, logger: logger}
}

// Create handles POST /api/orders
func (h *OrdersHandler) Create(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromContext(r.Context())
	var in service.CreateOrderInput
	if !decodeJSON(w, r, &in) {
		return
	}
	o, err := h.orders.Create(r.Context(), p.Scope, p.IdentityID, in)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newOrderResponse(o))
}

// List handles GET /api/orders?status=&limit=
func (h *OrdersHandler) List(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromContext(r.Context())

	var filter domain.OrderFilter
	if s := r.URL.Query().Get("status"); s != "" {
		st, err := domain.ParseOrderStatus(s)
		if err != nil {
			writeError(w, h.logger, r, err)
			return
		}
		filter.Status = st
	}
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			writeMessage(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}

	orders, err := h.orders.List(r.Context(), p.Scope, filter)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	if orders == nil {
		orders = []*domain.Order{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

// Get handles GET /api/orders/{id}
func (h *OrdersHandler) Get(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromContext(r.Context())
	o, err := h.orders.Get(r.Context(), p.Scope, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderResponse(o))
}

// Transition handles POST /api/orders/{id}/transitions
func (h *OrdersHandler) Transition(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromContext(r.Context())
	var req TransitionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	// The status is parsed after the ownership check so a foreign order
	// answers 403 whatever the body says.
	o, err := h.orders.Transition(r.Context(), p.Scope, p.IdentityID, chi.URLParam(r, "id"), domain.OrderStatus(req.Status))
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderResponse(o))
}
