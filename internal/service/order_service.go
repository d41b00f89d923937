package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aryan0dhankhar/fleetdesk/internal/domain"
	"github.com/aryan0dhankhar/fleetdesk/internal/infrastructure/events"
	"github.com/aryan0dhankhar/fleetdesk/internal/observability/metrics"
	"github.com/aryan0dhankhar/fleetdesk/internal/observability/tracing"
	"github.com/aryan0dhankhar/fleetdesk/internal/security"
	"github.com/aryan0dhankhar/fleetdesk/internal/security/audit"
	"github.com/aryan0dhankhar/fleetdesk/internal/store"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// OrderRepository is the persistence the lifecycle engine needs.
type OrderRepository interface {
	Create(ctx context.Context, scope store.Scope, o *domain.Order) error
	Get(ctx context.Context, scope store.Scope, id string) (*domain.Order, error)
	List(ctx context.Context, scope store.Scope, filter domain.OrderFilter) ([]*domain.Order, error)
	Owner(ctx context.Context, id string) (string, error)
	Transition(ctx context.Context, scope store.Scope, id string, target domain.OrderStatus, by string, at time.Time) (domain.OrderStatus, error)
	RepairStatus(ctx context.Context, scope store.Scope, id string) (cached, actual domain.OrderStatus, err error)
}

// CreateOrderInput holds the descriptive fields of a new order.
type CreateOrderInput struct {
	ClientID      string `json:"clientId"`
	DriverID      string `json:"driverId"`
	VehicleID     string `json:"vehicleId"`
	OriginID      string `json:"originId"`
	DestinationID string `json:"destinationId"`
	Description   string `json:"description"`
}

// OrderService is the order lifecycle engine.
type OrderService struct {
	orders    OrderRepository
	ownership *security.OwnershipChecker
	bus       domain.EventBus
	audit     *audit.Logger
	logger    *slog.Logger
	now       func() time.Time
}

// NewOrderService creates a new order service. bus may be nil.
func NewOrderService(orders OrderRepository, bus domain.EventBus, auditLog *audit.Logger, logger *slog.Logger) *OrderService {
	if logger == nil {
		logger = slog.Default()
	}
	if auditLog == nil {
		auditLog = audit.NewLogger(logger)
	}
	lookup := func(ctx context.Context, _ string, id string) (string, error) {
		return orders.Owner(ctx, id)
	}
	return &OrderService{
		orders:    orders,
		ownership: security.NewOwnershipChecker(lookup, logger),
		bus:       bus,
		audit:     auditLog,
		logger:    logger,
		now:       time.Now,
	}
}

// Create stores a new PENDENTE order in the tenant's namespace.
func (s *OrderService) Create(ctx context.Context, scope store.Scope, by string, in CreateOrderInput) (*domain.Order, error) {
	o := domain.NewOrder(uuid.NewString(), scope.TenantID(), by, s.now().UTC())
	o.ClientID = in.ClientID
	o.DriverID = in.DriverID
	o.VehicleID = in.VehicleID
	o.OriginID = in.OriginID
	o.DestinationID = in.DestinationID
	o.Description = in.Description

	if err := s.orders.Create(ctx, scope, o); err != nil {
		s.logger.Error("failed to create order",
			slog.String("tenant_id", scope.TenantID()),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	s.logger.Info("order created", slog.String("order_id", o.ID), slog.String("tenant_id", scope.TenantID()))
	return o, nil
}

// Get returns an order of the requesting tenant with its timeline.
func (s *OrderService) Get(ctx context.Context, scope store.Scope, id string) (*domain.Order, error) {
	if err := s.ownership.Check(ctx, scope.TenantID(), domain.CollectionOrders, id); err != nil {
		return nil, err
	}
	return s.orders.Get(ctx, scope, id)
}

// List returns the tenant's orders, oldest first.
func (s *OrderService) List(ctx context.Context, scope store.Scope, filter domain.OrderFilter) ([]*domain.Order, error) {
	return s.orders.List(ctx, scope, filter)
}

// Timeline returns the order's events newest first.
func (s *OrderService) Timeline(ctx context.Context, scope store.Scope, id string) ([]domain.TimelineEvent, error) {
	o, err := s.Get(ctx, scope, id)
	if err != nil {
		return nil, err
	}
	return o.TimelineNewestFirst(), nil
}

// Transition moves an order to target. Checks run in order: ownership
// (Forbidden), existence (NotFound), target status (InvalidStatus), lifecycle
// edge (IllegalTransition).
// On success the status change and its timeline event are one atomic write.
func (s *OrderService) Transition(ctx context.Context, scope store.Scope, by, id string, target domain.OrderStatus) (*domain.Order, error) {
	ctx, span := tracing.Start(ctx, "orders.transition",
		attribute.String("tenant_id", scope.TenantID()),
		attribute.String("order_id", id),
		attribute.String("target", string(target)),
	)
	o, err := s.transition(ctx, scope, by, id, target)
	tracing.End(span, err)
	return o, err
}

func (s *OrderService) transition(ctx context.Context, scope store.Scope, by, id string, target domain.OrderStatus) (*domain.Order, error) {
	tenantID := scope.TenantID()
	if err := s.ownership.Check(ctx, tenantID, domain.CollectionOrders, id); err != nil {
		if errors.Is(err, domain.ErrForbidden) {
			s.audit.LogTransition(ctx, tenantID, by, id, "denied", "order owned by another tenant")
			metrics.ObserveTransition("", statusLabel(target), "forbidden")
		}
		return nil, err
	}
	target, err := domain.ParseOrderStatus(string(target))
	if err != nil {
		return nil, err
	}

	at := s.now().UTC()
	from, err := s.orders.Transition(ctx, scope, id, target, by, at)
	if err != nil {
		result := "error"
		switch {
		case errors.Is(err, domain.ErrIllegalTransition):
			result = "illegal"
		case errors.Is(err, domain.ErrNotFound):
			result = "not_found"
		}
		metrics.ObserveTransition(string(from), string(target), result)
		s.audit.LogTransition(ctx, tenantID, by, id, result, err.Error())
		return nil, err
	}

	metrics.ObserveTransition(string(from), string(target), "ok")
	s.audit.LogTransition(ctx, tenantID, by, id, "success", fmt.Sprintf("%s -> %s", from, target))
	s.logger.Info("order transitioned",
		slog.String("order_id", id),
		slog.String("tenant_id", tenantID),
		slog.String("from", string(from)),
		slog.String("to", string(target)),
	)
	s.publish(ctx, domain.OrderTransitioned{OrderID: id, TenantID: tenantID, From: from, To: target, By: by, At: at})

	return s.orders.Get(ctx, scope, id)
}

// CheckConsistency rebuilds the status from the timeline and repairs the
// cached status when they disagree. Both happen in one transaction, so a
// concurrent transition can never be overwritten by a stale repair. It
// reports whether a repair happened.
func (s *OrderService) CheckConsistency(ctx context.Context, scope store.Scope, id string) (bool, error) {
	cached, actual, err := s.orders.RepairStatus(ctx, scope, id)
	if err != nil {
		if errors.Is(err, domain.ErrEmptyTimeline) {
			metrics.ObserveConsistency("empty_timeline")
		} else {
			metrics.ObserveConsistency("error")
		}
		return false, err
	}
	if cached == actual {
		metrics.ObserveConsistency("ok")
		return false, nil
	}
	metrics.ObserveConsistency("repaired")
	s.logger.Warn("order status repaired",
		slog.String("order_id", id),
		slog.String("tenant_id", scope.TenantID()),
		slog.String("cached", string(cached)),
		slog.String("timeline", string(actual)),
	)
	return true, nil
}

// statusLabel keeps unvalidated input out of metric labels.
func statusLabel(st domain.OrderStatus) string {
	if parsed, err := domain.ParseOrderStatus(string(st)); err == nil {
		return string(parsed)
	}
	return "invalid"
}

func (s *OrderService) publish(ctx context.Context, evt domain.OrderTransitioned) {
	if s.bus == nil {
		return
	}
	if err := events.PublishJSON(ctx, s.bus, domain.OrderSubject(evt.TenantID), evt); err != nil {
		metrics.ObserveEvent("order_transitioned", "error")
		s.logger.Warn("failed to publish order transition",
			slog.String("order_id", evt.OrderID),
			slog.String("error", err.Error()),
		)
		return
	}
	metrics.ObserveEvent("order_transitioned", "ok")
}
