// Package testutil holds in-memory implementations of the domain
// repositories and helpers shared by package tests.
package testutil

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"

	"github.com/aryan0dhankhar/fleetdesk/internal/domain"
	"github.com/aryan0dhankhar/fleetdesk/internal/infrastructure/redis"
	"github.com/aryan0dhankhar/fleetdesk/internal/store"
)

// QuietLogger discards everything.
func QuietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// NewRedisStore starts a miniredis instance for the duration of t.
func NewRedisStore(t testing.TB) *redis.RecordStore {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := redis.NewClient("redis://"+mr.Addr(), nil)
	if err != nil {
		t.Fatalf("connect redis: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return redis.NewRecordStore(c)
}

// Scope builds a tenant scope or fails the test.
func Scope(t testing.TB, tenantID string) store.Scope {
	t.Helper()
	s, err := store.NewScope(tenantID)
	if err != nil {
		t.Fatalf("scope: %v", err)
	}
	return s
}

// SetCachedStatus overwrites the cached status of an order document without
// touching its timeline, leaving the two out of step.
func SetCachedStatus(t testing.TB, rs store.RecordStore, scope store.Scope, id string, status domain.OrderStatus) {
	t.Helper()
	p := scope.Collection(domain.CollectionOrders).Doc(id)
	var o domain.Order
	if err := rs.Get(context.Background(), p, &o); err != nil {
		t.Fatalf("read order %s: %v", id, err)
	}
	o.Status = status
	if err := rs.Put(context.Background(), p, o); err != nil {
		t.Fatalf("write order %s: %v", id, err)
	}
}

// Users is an in-memory domain.UserRepository.
type Users struct {
	mu      sync.Mutex
	byID    map[string]*domain.User
	byEmail map[string]*domain.User
}

func NewUsers() *Users {
	return &Users{byID: map[string]*domain.User{}, byEmail: map[string]*domain.User{}}
}

func (m *Users) Create(_ context.Context, u *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byEmail[u.Email]; ok {
		return domain.ErrConflict
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.CreatedAt = time.Now()
	u.UpdatedAt = u.CreatedAt
	m.byID[u.ID] = u
	m.byEmail[u.Email] = u
	return nil
}

func (m *Users) GetByID(_ context.Context, id string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.byID[id]; ok {
		return u, nil
	}
	return nil, domain.ErrNotFound
}

func (m *Users) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.byEmail[email]; ok {
		return u, nil
	}
	return nil, domain.ErrNotFound
}

func (m *Users) Update(_ context.Context, u *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u.UpdatedAt = time.Now()
	m.byID[u.ID] = u
	m.byEmail[u.Email] = u
	return nil
}

// Directory is an in-memory claims store and tenant repository that mirrors
// the transactional Postgres implementation. Memberships() exposes the
// membership side, whose Get signature collides with the claims store's.
type Directory struct {
	mu          sync.Mutex
	claims      map[string]domain.Claims
	tenants     map[string]*domain.Tenant
	memberships map[string]domain.Role // identity|tenant
	failWrites  error
	gate        chan struct{}

	AssignCalls atomic.Int32
	Writes      atomic.Int32
}

func NewDirectory() *Directory {
	return &Directory{
		claims:      map[string]domain.Claims{},
		tenants:     map[string]*domain.Tenant{},
		memberships: map[string]domain.Role{},
	}
}

// FailWrites makes every subsequent write return err; nil restores writes.
func (m *Directory) FailWrites(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWrites = err
}

// HoldAssign blocks Assign calls until the returned func is called.
func (m *Directory) HoldAssign() (release func()) {
	gate := make(chan struct{})
	m.mu.Lock()
	m.gate = gate
	m.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

func (m *Directory) AddTenant(id string, settings domain.TenantSettings) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tenants[id] = &domain.Tenant{ID: id, Name: id, Settings: settings, IsActive: true}
}

func (m *Directory) AddMember(identityID, tenantID string, role domain.Role) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.memberships[identityID+"|"+tenantID] = role
}

func (m *Directory) Get(_ context.Context, identityID string) (domain.Claims, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.claims[identityID]
	if !ok {
		return domain.Claims{}, domain.ErrNotFound
	}
	return c, nil
}

func (m *Directory) Assign(_ context.Context, a domain.Assignment) (domain.Claims, bool, error) {
	m.AssignCalls.Add(1)
	m.mu.Lock()
	gate := m.gate
	m.mu.Unlock()
	if gate != nil {
		<-gate
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites != nil {
		return domain.Claims{}, false, m.failWrites
	}
	if c, ok := m.claims[a.IdentityID]; ok {
		return c, false, nil
	}
	c := a.Claims
	if a.Tenant != nil {
		if _, exists := m.tenants[a.Tenant.ID]; exists {
			c.Role = a.JoinRole
		} else {
			t := *a.Tenant
			m.tenants[t.ID] = &t
		}
	}
	m.claims[a.IdentityID] = c
	m.memberships[a.IdentityID+"|"+c.TenantID] = c.Role
	m.Writes.Add(1)
	return c, true, nil
}

func (m *Directory) Put(_ context.Context, identityID string, c domain.Claims) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites != nil {
		return m.failWrites
	}
	m.claims[identityID] = c
	m.Writes.Add(1)
	return nil
}

func (m *Directory) GetByID(_ context.Context, id string) (*domain.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *Directory) UpdateSettings(_ context.Context, id string, settings domain.TenantSettings) (*domain.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	t.Settings = settings
	t.UpdatedAt = time.Now()
	cp := *t
	return &cp, nil
}

func (m *Directory) List(_ context.Context) ([]*domain.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.Tenant, 0, len(m.tenants))
	for _, t := range m.tenants {
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

// Memberships returns the membership view of the directory.
func (m *Directory) Memberships() domain.MembershipRepository {
	return membershipView{m}
}

type membershipView struct{ d *Directory }

func (v membershipView) Get(_ context.Context, identityID, tenantID string) (*domain.Membership, error) {
	v.d.mu.Lock()
	defer v.d.mu.Unlock()
	role, ok := v.d.memberships[identityID+"|"+tenantID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &domain.Membership{IdentityID: identityID, TenantID: tenantID, Role: role}, nil
}

func (v membershipView) ListEntitlements(_ context.Context, identityID string) ([]domain.Entitlement, error) {
	v.d.mu.Lock()
	defer v.d.mu.Unlock()
	var out []domain.Entitlement
	for key, role := range v.d.memberships {
		id, tenantID, _ := strings.Cut(key, "|")
		if id != identityID {
			continue
		}
		t := v.d.tenants[tenantID]
		if t == nil {
			t = &domain.Tenant{ID: tenantID, Name: tenantID}
		}
		out = append(out, domain.Entitlement{Tenant: *t, Role: role})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tenant.ID < out[j].Tenant.ID })
	return out, nil
}
