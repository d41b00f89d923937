package domain

import (
	"errors"
	"testing"
)

func TestClaimsValidate(t *testing.T) {
	cases := []struct {
		name   string
		claims Claims
		ok     bool
	}{
		{"complete", Claims{TenantID: "t1", Role: RoleOwner}, true},
		{"missing tenant", Claims{Role: RoleOwner}, false},
		{"missing role", Claims{TenantID: "t1"}, false},
		{"unknown role", Claims{TenantID: "t1", Role: "superuser"}, false},
	}
	for _, tc := range cases {
		err := tc.claims.Validate()
		if tc.ok && err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok && !errors.Is(err, ErrInvalidClaims) {
			t.Fatalf("%s: expected ErrInvalidClaims, got %v", tc.name, err)
		}
	}
}

func TestParseRoleAndRank(t *testing.T) {
	r, err := ParseRole("Owner")
	if err != nil || r != RoleOwner {
		t.Fatalf("got %q, %v", r, err)
	}
	if _, err := ParseRole("root"); err == nil {
		t.Fatalf("expected unknown role to fail")
	}
	if !(RoleOwner.Rank() > RoleAdmin.Rank() && RoleAdmin.Rank() > RoleDispatcher.Rank() && RoleDispatcher.Rank() > RoleDriver.Rank()) {
		t.Fatalf("unexpected role ordering")
	}
}
