package session

import (
	"context"
	"errors"
	"testing"

	"github.com/aryan0dhankhar/fleetdesk/internal/domain"
)

func ent(id string, role domain.Role) domain.Entitlement {
	return domain.Entitlement{Tenant: domain.Tenant{ID: id, Name: id}, Role: role}
}

func TestSelectorImplicitSingleTenant(t *testing.T) {
	b := newFakeBackend()
	b.grant("ana", domain.Claims{TenantID: "t1", Role: domain.RoleOwner}, ent("t1", domain.RoleOwner))
	r := newResolver(t, b)
	sel := NewSelector(r, b)

	r.CredentialChanged(b.issue("ana"))
	waitSettled(t, r)

	sc, err := sel.Active(context.Background())
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if sc.TenantID != "t1" || sc.Role != domain.RoleOwner || sc.Token == "" {
		t.Fatalf("unexpected scope %+v", sc)
	}
}

func TestSelectorSwitchesTenant(t *testing.T) {
	b := newFakeBackend()
	b.grant("ana", domain.Claims{TenantID: "t1", Role: domain.RoleOwner},
		ent("t1", domain.RoleOwner), ent("t2", domain.RoleDriver))
	r := newResolver(t, b)
	sel := NewSelector(r, b)
	ctx := context.Background()

	r.CredentialChanged(b.issue("ana"))
	waitSettled(t, r)

	ents, err := sel.ListEntitledTenants(ctx)
	if err != nil || len(ents) != 2 {
		t.Fatalf("expected two entitlements, got %v (%v)", ents, err)
	}

	sc, _ := sel.Active(ctx)
	if sc.TenantID != "t1" {
		t.Fatalf("expected home tenant by default, got %s", sc.TenantID)
	}

	if _, err := sel.Select(ctx, "t2"); err != nil {
		t.Fatalf("select: %v", err)
	}
	sc, _ = sel.Active(ctx)
	if sc.TenantID != "t2" || sc.Role != domain.RoleDriver {
		t.Fatalf("selection must stick, got %+v", sc)
	}

	// Re-selectable without re-authenticating.
	if _, err := sel.Select(ctx, "t1"); err != nil {
		t.Fatalf("reselect: %v", err)
	}

	if _, err := sel.Select(ctx, "t7"); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden for foreign tenant, got %v", err)
	}
}

func TestSelectorResetsOnIdentityChange(t *testing.T) {
	b := newFakeBackend()
	b.grant("ana", domain.Claims{TenantID: "t1", Role: domain.RoleOwner},
		ent("t1", domain.RoleOwner), ent("t2", domain.RoleAdmin))
	b.grant("bob", domain.Claims{TenantID: "t5", Role: domain.RoleDriver}, ent("t5", domain.RoleDriver))
	r := newResolver(t, b)
	sel := NewSelector(r, b)
	ctx := context.Background()

	r.CredentialChanged(b.issue("ana"))
	waitSettled(t, r)
	if _, err := sel.Select(ctx, "t2"); err != nil {
		t.Fatalf("select: %v", err)
	}

	r.CredentialChanged(b.issue("bob"))
	waitSettled(t, r)
	sc, err := sel.Active(ctx)
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if sc.IdentityID != "bob" || sc.TenantID != "t5" {
		t.Fatalf("previous identity's selection leaked: %+v", sc)
	}
}

func TestSelectorRequiresReadySession(t *testing.T) {
	r := newResolver(t, newFakeBackend())
	sel := NewSelector(r, newFakeBackend())
	if _, err := sel.Active(context.Background()); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}
