package domain

import (
	"fmt"
	"strings"
	"time"
)

// OrderStatus is the lifecycle state of a delivery order.
type OrderStatus string

const (
	StatusPending   OrderStatus = "PENDENTE"
	StatusInRoute   OrderStatus = "EM_ROTA"
	StatusDelivered OrderStatus = "ENTREGUE"
	StatusCancelled OrderStatus = "CANCELADA"
)

// transitions is the complete lifecycle graph. ENTREGUE and CANCELADA are terminal.
var transitions = map[OrderStatus][]OrderStatus{
	StatusPending:   {StatusInRoute, StatusCancelled},
	StatusInRoute:   {StatusDelivered, StatusCancelled},
	StatusDelivered: nil,
	StatusCancelled: nil,
}

// AllStatuses lists every status in lifecycle order.
func AllStatuses() []OrderStatus {
	return []OrderStatus{StatusPending, StatusInRoute, StatusDelivered, StatusCancelled}
}

// ParseOrderStatus accepts a status name in any case.
func ParseOrderStatus(s string) (OrderStatus, error) {
	st := OrderStatus(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := transitions[st]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
	return st, nil
}

// LegalTargets returns the statuses reachable from s in one step.
func LegalTargets(s OrderStatus) []OrderStatus {
	return append([]OrderStatus(nil), transitions[s]...)
}

// CanTransition reports whether from -> to is an edge of the lifecycle graph.
func CanTransition(from, to OrderStatus) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves s.
func (s OrderStatus) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// TimelineEvent records one status change of an order.
type TimelineEvent struct {
	Status OrderStatus `json:"status"`
	At     time.Time   `json:"at"`
	By     string      `json:"by,omitempty"`
}

// Order is a delivery order owned by a tenant.
// Status always equals the status of the last timeline event.
type Order struct {
	ID            string          `json:"id"`
	TenantID      string          `json:"tenantId"`
	Status        OrderStatus     `json:"status"`
	ClientID      string          `json:"clientId,omitempty"`
	DriverID      string          `json:"driverId,omitempty"`
	VehicleID     string          `json:"vehicleId,omitempty"`
	OriginID      string          `json:"originId,omitempty"`
	DestinationID string          `json:"destinationId,omitempty"`
	Description   string          `json:"description,omitempty"`
	Timeline      []TimelineEvent `json:"timeline,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// NewOrder builds a PENDENTE order whose timeline holds its creation event.
func NewOrder(id, tenantID, by string, now time.Time) *Order {
	return &Order{
		ID:        id,
		TenantID:  tenantID,
		Status:    StatusPending,
		Timeline:  []TimelineEvent{{Status: StatusPending, At: now, By: by}},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ReconstructStatus derives the current status from an append-ordered timeline.
// It returns false for an empty timeline.
func ReconstructStatus(timeline []TimelineEvent) (OrderStatus, bool) {
	if len(timeline) == 0 {
		return "", false
	}
	return timeline[len(timeline)-1].Status, true
}

// TimelineNewestFirst returns a copy of the timeline for display, latest event first.
func (o *Order) TimelineNewestFirst() []TimelineEvent {
	out := make([]TimelineEvent, len(o.Timeline))
	for i, ev := range o.Timeline {
		out[len(o.Timeline)-1-i] = ev
	}
	return out
}

// OrderFilter narrows order listings.
type OrderFilter struct {
	Status OrderStatus
	Limit  int
}
