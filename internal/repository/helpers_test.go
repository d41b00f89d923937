package repository

import (
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/aryan0dhankhar/fleetdesk/internal/infrastructure/redis"
	"github.com/aryan0dhankhar/fleetdesk/internal/store"
)

func newRecordStore(t *testing.T) *redis.RecordStore {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := redis.NewClient("redis://"+mr.Addr(), nil)
	if err != nil {
		t.Fatalf("connect redis: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return redis.NewRecordStore(c)
}

func scopeOf(t *testing.T, tenantID string) store.Scope {
	t.Helper()
	s, err := store.NewScope(tenantID)
	if err != nil {
		t.Fatalf("scope: %v", err)
	}
	return s
}
