package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aryan0dhankhar/fleetdesk/internal/domain"
	"github.com/aryan0dhankhar/fleetdesk/internal/store"
)

// OrderRepository stores orders as tenant-scoped documents whose record log
// is the status timeline. The document carries the cached status; the log
// is the source of truth.
type OrderRepository struct {
	store  store.RecordStore
	logger *slog.Logger
}

// NewOrderRepository creates a new order repository
func NewOrderRepository(s store.RecordStore, logger *slog.Logger) *OrderRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &OrderRepository{store: s, logger: logger}
}

func orderPath(scope store.Scope, id string) store.Path {
	return scope.Collection(domain.CollectionOrders).Doc(id)
}

// header strips the timeline, which lives in the record log.
func header(o *domain.Order) domain.Order {
	h := *o
	h.Timeline = nil
	return h
}

// Create stores a new order together with its first timeline event
func (r *OrderRepository) Create(ctx context.Context, scope store.Scope, o *domain.Order) error {
	if len(o.Timeline) != 1 {
		return fmt.Errorf("new order must carry exactly its creation event")
	}
	if err := r.store.Create(ctx, orderPath(scope, o.ID), header(o), o.Timeline[0]); err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}
	r.logger.Debug("order saved", slog.String("order_id", o.ID), slog.String("tenant_id", scope.TenantID()))
	return nil
}

// Get returns the order with its full timeline in append order
func (r *OrderRepository) Get(ctx context.Context, scope store.Scope, id string) (*domain.Order, error) {
	var o domain.Order
	err := r.store.Snapshot(ctx, orderPath(scope, id), &o, func(raw []byte) error {
		var ev domain.TimelineEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return fmt.Errorf("failed to unmarshal timeline event: %w", err)
		}
		o.Timeline = append(o.Timeline, ev)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// List returns the order headers of a tenant, oldest first
func (r *OrderRepository) List(ctx context.Context, scope store.Scope, filter domain.OrderFilter) ([]*domain.Order, error) {
	var out []*domain.Order
	err := r.store.List(ctx, scope.Collection(domain.CollectionOrders), func(id string, raw []byte) error {
		var o domain.Order
		if err := json.Unmarshal(raw, &o); err != nil {
			r.logger.Error("failed to unmarshal order", slog.String("order_id", id), slog.String("error", err.Error()))
			return nil
		}
		if filter.Status != "" && o.Status != filter.Status {
			return nil
		}
		out = append(out, &o)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[len(out)-filter.Limit:]
	}
	return out, nil
}

// Owner returns the tenant owning an order id
func (r *OrderRepository) Owner(ctx context.Context, id string) (string, error) {
	return r.store.Owner(ctx, domain.CollectionOrders, id)
}

// decodeTimeline turns raw record log entries into timeline events.
func decodeTimeline(log [][]byte) ([]domain.TimelineEvent, error) {
	out := make([]domain.TimelineEvent, 0, len(log))
	for _, raw := range log {
		var ev domain.TimelineEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, fmt.Errorf("failed to unmarshal timeline event: %w", err)
		}
		out = append(out, ev)
	}
	return out, nil
}

// currentStatus rebuilds the order's status from the log read inside the
// same transaction as the write that depends on it.
func currentStatus(id string, log [][]byte) (domain.OrderStatus, error) {
	timeline, err := decodeTimeline(log)
	if err != nil {
		return "", err
	}
	st, ok := domain.ReconstructStatus(timeline)
	if !ok {
		return "", fmt.Errorf("%w: order %s", domain.ErrEmptyTimeline, id)
	}
	return st, nil
}

// Transition moves the order to target and appends the event in one atomic
// write. The lifecycle edge is checked against the status rebuilt from the
// timeline, not the cached one. It returns the previous status. Illegal
// edges leave the record untouched.
func (r *OrderRepository) Transition(ctx context.Context, scope store.Scope, id string, target domain.OrderStatus, by string, at time.Time) (domain.OrderStatus, error) {
	var from domain.OrderStatus
	err := r.store.Update(ctx, orderPath(scope, id), func(cur []byte, log [][]byte) (any, any, error) {
		var o domain.Order
		if err := json.Unmarshal(cur, &o); err != nil {
			return nil, nil, fmt.Errorf("failed to unmarshal order: %w", err)
		}
		st, err := currentStatus(id, log)
		if err != nil {
			return nil, nil, err
		}
		from = st
		if !domain.CanTransition(st, target) {
			return nil, nil, fmt.Errorf("%w: %s -> %s", domain.ErrIllegalTransition, st, target)
		}
		o.Status = target
		o.UpdatedAt = at
		return o, domain.TimelineEvent{Status: target, At: at, By: by}, nil
	})
	return from, err
}

// RepairStatus rebuilds the status from the timeline inside one transaction
// and overwrites the cached status if it differs. The timeline is never
// touched. It returns the cached status found and the rebuilt one.
func (r *OrderRepository) RepairStatus(ctx context.Context, scope store.Scope, id string) (cached, actual domain.OrderStatus, err error) {
	err = r.store.Update(ctx, orderPath(scope, id), func(cur []byte, log [][]byte) (any, any, error) {
		var o domain.Order
		if err := json.Unmarshal(cur, &o); err != nil {
			return nil, nil, fmt.Errorf("failed to unmarshal order: %w", err)
		}
		st, err := currentStatus(id, log)
		if err != nil {
			return nil, nil, err
		}
		cached, actual = o.Status, st
		if o.Status == st {
			return nil, nil, nil
		}
		o.Status = st
		return o, nil, nil
	})
	return cached, actual, err
}
