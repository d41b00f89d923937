package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/aryan0dhankhar/fleetdesk/internal/domain"
	"github.com/aryan0dhankhar/fleetdesk/internal/infrastructure/redis"
	"github.com/aryan0dhankhar/fleetdesk/internal/repository"
	"github.com/aryan0dhankhar/fleetdesk/internal/service"
	"github.com/aryan0dhankhar/fleetdesk/internal/store"
	"github.com/aryan0dhankhar/fleetdesk/internal/testutil"
)

type staticTenants []*domain.Tenant

func (s staticTenants) List(context.Context) ([]*domain.Tenant, error) { return s, nil }

type failingTenants struct{}

func (failingTenants) List(context.Context) ([]*domain.Tenant, error) {
	return nil, errors.New("db down")
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setup(t *testing.T) (*service.OrderService, *redis.RecordStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := redis.NewClient("redis://"+mr.Addr(), nil)
	if err != nil {
		t.Fatalf("connect redis: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	rs := redis.NewRecordStore(c)
	repo := repository.NewOrderRepository(rs, quietLogger())
	return service.NewOrderService(repo, nil, nil, quietLogger()), rs
}

func TestRunOnceRepairsDivergedOrders(t *testing.T) {
	ctx := context.Background()
	orders, rs := setup(t)
	t1, _ := store.NewScope("t1")
	t2, _ := store.NewScope("t2")

	a, _ := orders.Create(ctx, t1, "id-1", service.CreateOrderInput{})
	b, _ := orders.Create(ctx, t1, "id-1", service.CreateOrderInput{})
	_, _ = orders.Create(ctx, t2, "id-2", service.CreateOrderInput{})
	if _, err := orders.Transition(ctx, t1, "id-1", a.ID, domain.StatusInRoute); err != nil {
		t.Fatalf("transition: %v", err)
	}
	// Simulate a torn write on b's cached status.
	testutil.SetCachedStatus(t, rs, t1, b.ID, domain.StatusDelivered)

	tenants := staticTenants{
		{ID: "t1", IsActive: true},
		{ID: "t2", IsActive: true},
		{ID: "t3", IsActive: false},
	}
	w := NewConsistencyWorker(tenants, orders, quietLogger(), time.Minute)

	rep := w.RunOnce(ctx)
	if rep.Tenants != 2 || rep.Checked != 3 || rep.Repaired != 1 || rep.Failed != 0 {
		t.Fatalf("unexpected report %+v", rep)
	}

	got, _ := orders.Get(ctx, t1, b.ID)
	if got.Status != domain.StatusPending {
		t.Fatalf("expected PENDENTE after repair, got %s", got.Status)
	}

	if rep := w.RunOnce(ctx); rep.Repaired != 0 {
		t.Fatalf("second sweep must find nothing to repair, got %+v", rep)
	}
}

func TestRunOnceSurvivesTenantListFailure(t *testing.T) {
	orders, _ := setup(t)
	w := NewConsistencyWorker(failingTenants{}, orders, quietLogger(), time.Minute)
	if rep := w.RunOnce(context.Background()); rep != (Report{}) {
		t.Fatalf("expected empty report, got %+v", rep)
	}
}

func TestStartStopsOnCancel(t *testing.T) {
	orders, _ := setup(t)
	w := NewConsistencyWorker(staticTenants{}, orders, quietLogger(), 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("worker did not stop")
	}
}
