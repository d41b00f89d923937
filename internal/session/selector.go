package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/aryan0dhankhar/fleetdesk/internal/domain"
)

// Scope is the tenant context handed to guarded work.
type Scope struct {
	IdentityID string
	TenantID   string
	Role       domain.Role
	Token      string
}

// TenantLister lists the tenants a credential is entitled to.
type TenantLister interface {
	Entitlements(ctx context.Context, raw string) ([]domain.Entitlement, error)
}

// Selector pins the active tenant for a session. The selection survives
// token refreshes and is dropped when the identity changes.
type Selector struct {
	resolver *Resolver
	lister   TenantLister

	mu         sync.Mutex
	identityID string
	active     *Scope
}

// NewSelector creates a selector over resolver's session.
func NewSelector(resolver *Resolver, lister TenantLister) *Selector {
	return &Selector{resolver: resolver, lister: lister}
}

// ListEntitledTenants returns the tenants the current identity belongs to.
func (s *Selector) ListEntitledTenants(ctx context.Context) ([]domain.Entitlement, error) {
	st, err := s.ready()
	if err != nil {
		return nil, err
	}
	return s.lister.Entitlements(ctx, st.Token)
}

// Select pins tenantID. It may be called again at any time.
func (s *Selector) Select(ctx context.Context, tenantID string) (Scope, error) {
	st, err := s.ready()
	if err != nil {
		return Scope{}, err
	}
	ents, err := s.lister.Entitlements(ctx, st.Token)
	if err != nil {
		return Scope{}, err
	}
	for _, e := range ents {
		if e.Tenant.ID == tenantID {
			sc := Scope{IdentityID: st.IdentityID, TenantID: e.Tenant.ID, Role: e.Role, Token: st.Token}
			s.pin(sc)
			return sc, nil
		}
	}
	return Scope{}, fmt.Errorf("%w: not entitled to tenant %q", domain.ErrForbidden, tenantID)
}

// Active returns the pinned scope. Without a selection, a lone entitlement
// is selected implicitly, otherwise the home tenant from the claims.
func (s *Selector) Active(ctx context.Context) (Scope, error) {
	st, err := s.ready()
	if err != nil {
		return Scope{}, err
	}

	s.mu.Lock()
	if s.active != nil && s.identityID == st.IdentityID {
		sc := *s.active
		s.mu.Unlock()
		sc.Token = st.Token
		return sc, nil
	}
	s.active = nil
	s.mu.Unlock()

	sc := Scope{IdentityID: st.IdentityID, TenantID: st.TenantID, Role: st.Role, Token: st.Token}
	ents, err := s.lister.Entitlements(ctx, st.Token)
	if err != nil {
		return Scope{}, err
	}
	if len(ents) == 1 {
		sc.TenantID, sc.Role = ents[0].Tenant.ID, ents[0].Role
	}
	s.pin(sc)
	return sc, nil
}

func (s *Selector) pin(sc Scope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identityID = sc.IdentityID
	s.active = &sc
}

func (s *Selector) ready() (State, error) {
	st := s.resolver.State()
	if st.Phase != PhaseReady {
		return st, fmt.Errorf("%w: session is %s", domain.ErrUnauthorized, st.Phase)
	}
	return st, nil
}
