package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/aryan0dhankhar/fleetdesk/internal/domain"
	"github.com/aryan0dhankhar/fleetdesk/internal/reliability/retry"
	"github.com/aryan0dhankhar/fleetdesk/internal/store"
)

// TenantLister enumerates the tenants to sweep.
type TenantLister interface {
	List(ctx context.Context) ([]*domain.Tenant, error)
}

// OrderChecker lists orders and repairs their cached status.
type OrderChecker interface {
	List(ctx context.Context, scope store.Scope, filter domain.OrderFilter) ([]*domain.Order, error)
	CheckConsistency(ctx context.Context, scope store.Scope, id string) (bool, error)
}

// Report summarises one sweep.
type Report struct {
	Tenants  int
	Checked  int
	Repaired int
	Failed   int
}

// ConsistencyWorker periodically rebuilds every order's status from its
// timeline and repairs the cached status when they diverge.
type ConsistencyWorker struct {
	tenants  TenantLister
	orders   OrderChecker
	logger   *slog.Logger
	interval time.Duration
	retry    *retry.Config
}

// NewConsistencyWorker creates a new consistency worker
func NewConsistencyWorker(tenants TenantLister, orders OrderChecker, logger *slog.Logger, interval time.Duration) *ConsistencyWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConsistencyWorker{
		tenants:  tenants,
		orders:   orders,
		logger:   logger,
		interval: interval,
		retry:    retry.DefaultConfig(),
	}
}

// Start runs sweeps until ctx is cancelled.
func (w *ConsistencyWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("consistency worker started", slog.Duration("interval", w.interval))

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("consistency worker stopped")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce sweeps every active tenant once.
func (w *ConsistencyWorker) RunOnce(ctx context.Context) Report {
	var rep Report

	tenants, err := w.tenants.List(ctx)
	if err != nil {
		w.logger.Error("failed to list tenants", slog.String("error", err.Error()))
		return rep
	}

	for _, t := range tenants {
		if ctx.Err() != nil {
			break
		}
		if !t.IsActive {
			continue
		}
		scope, err := store.NewScope(t.ID)
		if err != nil {
			w.logger.Warn("skipping tenant with invalid id", slog.String("tenant_id", t.ID))
			continue
		}
		rep.Tenants++
		w.sweepTenant(ctx, scope, &rep)
	}

	w.logger.Info("consistency sweep finished",
		slog.Int("tenants", rep.Tenants),
		slog.Int("checked", rep.Checked),
		slog.Int("repaired", rep.Repaired),
		slog.Int("failed", rep.Failed),
	)
	return rep
}

func (w *ConsistencyWorker) sweepTenant(ctx context.Context, scope store.Scope, rep *Report) {
	logger := w.logger.With(slog.String("tenant_id", scope.TenantID()))

	orders, err := w.orders.List(ctx, scope, domain.OrderFilter{})
	if err != nil {
		logger.Error("failed to list orders", slog.String("error", err.Error()))
		rep.Failed++
		return
	}

	for _, o := range orders {
		rep.Checked++
		repaired, err := retry.Do(ctx, w.retry, logger, "check order consistency", func(ctx context.Context) (bool, error) {
			ok, err := w.orders.CheckConsistency(ctx, scope, o.ID)
			if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrEmptyTimeline) {
				return false, retry.Permanent(err)
			}
			return ok, err
		})
		switch {
		case errors.Is(err, domain.ErrNotFound):
			// Removed between list and check.
		case err != nil:
			rep.Failed++
			logger.Error("consistency check failed", slog.String("order_id", o.ID), slog.String("error", err.Error()))
		case repaired:
			rep.Repaired++
		}
	}
}
