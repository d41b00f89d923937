package service

import (
	"log/slog"
	"testing"

	"github.com/aryan0dhankhar/fleetdesk/internal/repository"
	"github.com/aryan0dhankhar/fleetdesk/internal/store"
	"github.com/aryan0dhankhar/fleetdesk/internal/testutil"
)

func quietLogger() *slog.Logger { return testutil.QuietLogger() }

func scopeOf(t *testing.T, tenantID string) store.Scope { return testutil.Scope(t, tenantID) }

func newOrderService(t *testing.T) (*OrderService, *repository.OrderRepository) {
	s, repo, _ := newOrderServiceWithStore(t)
	return s, repo
}

func newOrderServiceWithStore(t *testing.T) (*OrderService, *repository.OrderRepository, store.RecordStore) {
	t.Helper()
	rs := testutil.NewRedisStore(t)
	repo := repository.NewOrderRepository(rs, quietLogger())
	return NewOrderService(repo, nil, nil, quietLogger()), repo, rs
}
