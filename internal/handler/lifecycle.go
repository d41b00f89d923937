package handler

import (
	"net/http"

	"github.com/aryan0dhankhar/fleetdesk/internal/domain"
)

// LifecycleHandler returns the order status graph
type LifecycleHandler struct{}

// NewLifecycleHandler creates a new lifecycle handler
func NewLifecycleHandler() *LifecycleHandler {
	return &LifecycleHandler{}
}

// ServeHTTP implements the HTTP handler for GET /api/orders/lifecycle
func (h *LifecycleHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type StatusResponse struct {
		Status   domain.OrderStatus   `json:"status"`
		Next     []domain.OrderStatus `json:"next"`
		Terminal bool                 `json:"terminal"`
	}

	statuses := make([]StatusResponse, 0, len(domain.AllStatuses()))
	for _, s := range domain.AllStatuses() {
		next := domain.LegalTargets(s)
		if next == nil {
			next = []domain.OrderStatus{}
		}
		statuses = append(statuses, StatusResponse{Status: s, Next: next, Terminal: s.IsTerminal()})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"initial":  domain.StatusPending,
		"statuses": statuses,
	})
}
