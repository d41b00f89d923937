package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aryan0dhankhar/fleetdesk/internal/domain"
	"github.com/aryan0dhankhar/fleetdesk/pkg/cache"
)

type countingClaimsStore struct {
	mu     sync.Mutex
	claims map[string]domain.Claims
	gets   int
}

func (s *countingClaimsStore) Get(_ context.Context, id string) (domain.Claims, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	c, ok := s.claims[id]
	if !ok {
		return domain.Claims{}, domain.ErrNotFound
	}
	return c, nil
}

func (s *countingClaimsStore) Assign(_ context.Context, a domain.Assignment) (domain.Claims, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.claims[a.IdentityID]; ok {
		return c, false, nil
	}
	s.claims[a.IdentityID] = a.Claims
	return a.Claims, true, nil
}

func (s *countingClaimsStore) Put(_ context.Context, id string, c domain.Claims) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.claims[id] = c
	return nil
}

func newCached(t *testing.T) (*CachedClaimsStore, *countingClaimsStore) {
	t.Helper()
	c, err := cache.New(1 << 20)
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	t.Cleanup(c.Close)
	inner := &countingClaimsStore{claims: map[string]domain.Claims{}}
	return NewCachedClaimsStore(inner, c, time.Minute, nil), inner
}

func TestCachedClaimsStoreReadThrough(t *testing.T) {
	s, inner := newCached(t)
	ctx := context.Background()
	inner.claims["u1"] = domain.Claims{TenantID: "t1", Role: domain.RoleOwner}

	for i := 0; i < 3; i++ {
		c, err := s.Get(ctx, "u1")
		if err != nil || c.TenantID != "t1" {
			t.Fatalf("get: %+v %v", c, err)
		}
	}
	if inner.gets != 1 {
		t.Fatalf("expected one backing read, got %d", inner.gets)
	}
}

func TestCachedClaimsStoreDoesNotCacheMisses(t *testing.T) {
	s, inner := newCached(t)
	ctx := context.Background()

	if _, err := s.Get(ctx, "u1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	inner.claims["u1"] = domain.Claims{TenantID: "t1", Role: domain.RoleOwner}
	if c, err := s.Get(ctx, "u1"); err != nil || c.TenantID != "t1" {
		t.Fatalf("expected fresh claims after miss, got %+v %v", c, err)
	}
}

func TestCachedClaimsStoreWritesRefreshEntry(t *testing.T) {
	s, inner := newCached(t)
	ctx := context.Background()

	if _, created, err := s.Assign(ctx, domain.Assignment{IdentityID: "u1", Claims: domain.Claims{TenantID: "t1", Role: domain.RoleOwner}}); err != nil || !created {
		t.Fatalf("assign: created=%v err=%v", created, err)
	}
	if err := s.Put(ctx, "u1", domain.Claims{TenantID: "t2", Role: domain.RoleAdmin}); err != nil {
		t.Fatalf("put: %v", err)
	}
	c, err := s.Get(ctx, "u1")
	if err != nil || c.TenantID != "t2" || c.Role != domain.RoleAdmin {
		t.Fatalf("expected overwritten claims, got %+v %v", c, err)
	}
	if inner.gets != 0 {
		t.Fatalf("expected cache to serve the read, got %d backing reads", inner.gets)
	}
}
