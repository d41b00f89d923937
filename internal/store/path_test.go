package store

import "testing"

func TestPathLayout(t *testing.T) {
	scope, err := NewScope("t1")
	if err != nil {
		t.Fatalf("scope: %v", err)
	}
	p := scope.Collection("orders").Doc("o1")
	if got := p.String(); got != "tenants/t1/orders/o1" {
		t.Fatalf("unexpected path %q", got)
	}
	if p.TenantID() != "t1" || p.ID() != "o1" {
		t.Fatalf("unexpected path parts: %s %s", p.TenantID(), p.ID())
	}
	if got := p.LogKey(); got != "tenants/t1/orders/o1/_log" {
		t.Fatalf("unexpected log key %q", got)
	}
	if got := scope.Collection("orders").IndexKey(); got != "tenants/t1/orders/_index" {
		t.Fatalf("unexpected index key %q", got)
	}
}

func TestScopeRejectsBadTenant(t *testing.T) {
	for _, id := range []string{"", "a/b", "t*", "_hidden"} {
		if _, err := NewScope(id); err == nil {
			t.Fatalf("expected %q to be rejected", id)
		}
	}
}

func TestPathValidate(t *testing.T) {
	scope, _ := NewScope("t1")
	if err := scope.Collection("orders").Doc("o1").Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := scope.Collection("orders").Doc("../t2").Validate(); err == nil {
		t.Fatalf("expected traversal id to be rejected")
	}
	var zero Path
	if err := zero.Validate(); err == nil {
		t.Fatalf("expected zero path to be rejected")
	}
}
