package security

import (
	"context"
	"errors"
	"testing"

	"github.com/aryan0dhankhar/fleetdesk/internal/domain"
)

func TestRolePermissions(t *testing.T) {
	as := NewAuthorizationService(nil)
	cases := []struct {
		role domain.Role
		perm Permission
		want bool
	}{
		{domain.RoleOwner, PermAssignClaims, true},
		{domain.RoleAdmin, PermAssignClaims, false},
		{domain.RoleAdmin, PermManageTenant, true},
		{domain.RoleDispatcher, PermManageTenant, false},
		{domain.RoleDispatcher, PermCreateOrders, true},
		{domain.RoleDriver, PermTransitionOrders, true},
		{domain.RoleDriver, PermCreateOrders, false},
		{domain.RoleDriver, PermManageRecords, false},
		{domain.Role("ghost"), PermReadOrders, false},
	}
	for _, tc := range cases {
		if got := as.HasPermission(tc.role, tc.perm); got != tc.want {
			t.Fatalf("HasPermission(%s, %s) = %v, want %v", tc.role, tc.perm, got, tc.want)
		}
	}
	if err := as.ValidatePermission(domain.RoleDriver, PermCreateOrders); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestValidateTenantAccess(t *testing.T) {
	as := NewAuthorizationService(nil)
	if err := as.ValidateTenantAccess("t1", "t1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := as.ValidateTenantAccess("t1", "t2"); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if err := as.ValidateTenantAccess("", ""); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected empty tenant to be refused, got %v", err)
	}
}

func TestValidateRoleGrant(t *testing.T) {
	as := NewAuthorizationService(nil)
	if err := as.ValidateRoleGrant(domain.RoleAdmin, domain.RoleDispatcher); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := as.ValidateRoleGrant(domain.RoleDispatcher, domain.RoleOwner); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected escalation to be refused, got %v", err)
	}
	if err := as.ValidateRoleGrant(domain.RoleOwner, "root"); !errors.Is(err, domain.ErrInvalidClaims) {
		t.Fatalf("expected ErrInvalidClaims, got %v", err)
	}
}

func TestOwnershipChecker(t *testing.T) {
	owners := map[string]string{"orders/o1": "t1"}
	lookup := func(_ context.Context, collection, id string) (string, error) {
		if o, ok := owners[collection+"/"+id]; ok {
			return o, nil
		}
		return "", domain.ErrNotFound
	}
	c := NewOwnershipChecker(lookup, nil)
	ctx := context.Background()

	if err := c.Check(ctx, "t1", "orders", "o1"); err != nil {
		t.Fatalf("owner should pass: %v", err)
	}
	if err := c.Check(ctx, "t2", "orders", "o1"); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if err := c.Check(ctx, "t1", "orders", "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
